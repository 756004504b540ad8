package pairing

import (
	"fmt"
	"net"
	"time"

	"liftbank/indicator"

	"github.com/rs/zerolog"
)

/*
 * Run one discovery attempt from the client board: broadcast
 * pairing requests while polling for the server's hello, then
 * confirm with a unicast paired datagram. Returns the server's
 * address, or ErrPairingTimeout once the budget is spent.
 */
func Discover(cfg Config, self Identity, ind indicator.Indicator, log *zerolog.Logger) (string, error) {
	conn, err := net.ListenPacket("udp4", ":0")

	if err != nil {
		return "", fmt.Errorf("pairing: opening socket: %w", err)
	}
	defer conn.Close()

	ind.SetMode(indicator.MODE_PAIRING)
	log.Info().Msg("Starting pairing process")

	stopBroadcast := make(chan struct{})
	defer close(stopBroadcast)

	go broadcastPairing(conn, cfg, self, stopBroadcast, log)

	for round := 0; round < cfg.PollRounds; round++ {
		roundEnd := time.Now().Add(cfg.RoundInterval)

		for time.Now().Before(roundEnd) {
			dgram, _, ok, err := pollDatagram(conn, cfg.PollStep)

			if err != nil {
				log.Error().Err(err).Msg("Error receiving pairing datagram")
				continue
			}

			if !ok || dgram.Type != TYPE_HELLO {
				continue
			}

			log.Info().Str("server", dgram.IP).Msg("Received hello from server")
			confirmPaired(conn, cfg, dgram.IP, log)

			return dgram.IP, nil
		}

		log.Debug().Int("round", round+1).Int("rounds", cfg.PollRounds).Msg("Waiting for server response")
	}

	ind.SetMode(indicator.MODE_NOT_CONNECTED)

	return "", ErrPairingTimeout
}

/*
 * Broadcast the pairing request on the well-known port, a fixed
 * number of times at a fixed interval, until told to stop.
 */
func broadcastPairing(
	conn net.PacketConn,
	cfg Config,
	self Identity,
	stop <-chan struct{},
	log *zerolog.Logger,
) {
	target := &net.UDPAddr{IP: net.ParseIP(cfg.BroadcastAddr), Port: cfg.Port}

	request := Datagram{
		Type:     TYPE_PAIRING,
		IP:       self.IP,
		Hostname: self.Hostname,
		MAC:      self.MAC,
	}

	for attempt := 0; attempt < cfg.BroadcastAttempts; attempt++ {
		if _, err := conn.WriteTo(request.ToJson(), target); err != nil {
			log.Error().Err(err).Msg("Error broadcasting pairing request")
		} else {
			log.Debug().Int("attempt", attempt+1).Int("attempts", cfg.BroadcastAttempts).Msg("Sent pairing request")
		}

		select {
		case <-stop:
			return
		case <-time.After(cfg.RoundInterval):
		}
	}
}

func confirmPaired(conn net.PacketConn, cfg Config, serverIP string, log *zerolog.Logger) {
	target := &net.UDPAddr{IP: net.ParseIP(serverIP), Port: cfg.Port}
	confirmation := Datagram{Type: TYPE_PAIRED, IP: serverIP}

	if _, err := conn.WriteTo(confirmation.ToJson(), target); err != nil {
		log.Error().Err(err).Msg("Error sending paired confirmation")
		return
	}

	log.Info().Str("server", serverIP).Msg("Sent paired confirmation")
}
