package main

import (
	"os"
	"os/signal"
	"syscall"

	"liftbank/config"
	"liftbank/elevator"
	"liftbank/indicator"
	"liftbank/logger"
	"liftbank/motor"
	"liftbank/pairing"
	"liftbank/session"
)

/*
 * Stand-in for a GPIO step/dir/enable line when no motor shield is
 * attached.
 */
type simPin struct{}

func (simPin) Set(bool) {}

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

	pins := make([]motor.Pins, cfg.NumElevators)
	for i := range pins {
		pins[i] = motor.Pins{Step: simPin{}, Dir: simPin{}, Enable: simPin{}}
	}

	motors := motor.NewController(motor.Config{
		NumFloors:     cfg.NumFloors,
		StepsPerFloor: cfg.StepsPerFloor,
		AccelSteps:    cfg.AccelSteps,
		MinStepDelay:  cfg.MinStepDelay,
		MaxStepDelay:  cfg.MaxStepDelay,
	}, pins, log)

	manager := elevator.NewManager(cfg, motors, log)
	ind := indicator.NewLogIndicator(log, "server")

	stop := make(chan struct{})

	go manager.Run(stop)

	pairServer := pairing.NewServer(pairing.DefaultConfig(cfg.PairingPort), self, ind, log)
	go func() {
		if err := pairServer.Run(stop); err != nil {
			log.Error().Err(err).Msg("Pairing listener failed")
		}
	}()

	streamServer := session.NewServer(cfg, manager, ind, log)
	go func() {
		if err := streamServer.Run(stop); err != nil {
			log.Fatal().Err(err).Msg("Stream server failed")
		}
	}()

	log.Info().
		Str("hostname", self.Hostname).
		Str("ip", self.IP).
		Int("elevators", cfg.NumElevators).
		Int("floors", cfg.NumFloors).
		Msg("Server board up")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	close(stop)
	log.Info().Msg("Shutting down")
}
