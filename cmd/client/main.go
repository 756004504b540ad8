package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"liftbank/config"
	"liftbank/indicator"
	"liftbank/input"
	"liftbank/logger"
	"liftbank/pairing"
	"liftbank/session"
)

func main() {
	log := logger.GetLogger()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	self, err := pairing.LocalIdentity()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve local identity")
	}

	ind := indicator.NewLogIndicator(log, "client")

	source, err := input.NewKeyboard(cfg.NumFloors, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open keyboard")
	}
	defer source.Close()

	lamps := make([]indicator.Lamp, cfg.NumFloors)
	for i := range lamps {
		lamps[i] = indicator.NewLogLamp(log, fmt.Sprintf("call-%d", i+1))
	}

	stop := make(chan struct{})
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		<-signals
		close(stop)
	}()

	log.Info().Str("hostname", self.Hostname).Str("ip", self.IP).Msg("Client board up")

	/*
	 * Pair first: without a server there is nothing to stream to.
	 * A timed-out discovery round simply starts another.
	 */
	pairCfg := pairing.DefaultConfig(cfg.PairingPort)

	var host string
	for {
		host, err = pairing.Discover(pairCfg, self, ind, log)
		if err == nil {
			break
		}

		log.Warn().Err(err).Msg("Discovery timed out, retrying")

		select {
		case <-stop:
			return
		default:
		}
	}

	client := session.NewClient(cfg, source, ind, lamps, log)
	if err := client.Run(host, stop); err != nil {
		log.Fatal().Err(err).Msg("Session failed")
	}

	log.Info().Msg("Shutting down")
}
