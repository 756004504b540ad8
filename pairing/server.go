package pairing

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"liftbank/indicator"

	"github.com/libp2p/go-reuseport"
	"github.com/rs/zerolog"
)

/*
 * Discovery listener on the server board. Each pairing request is
 * answered with repeated hellos, then a short wait for the client's
 * paired confirmation. Failed attempts revert the visible state but
 * the listener keeps running and accepts new attempts.
 */
type Server struct {
	cfg    Config
	self   Identity
	ind    indicator.Indicator
	log    *zerolog.Logger
	paired atomic.Bool
}

func NewServer(cfg Config, self Identity, ind indicator.Indicator, log *zerolog.Logger) *Server {
	return &Server{
		cfg:  cfg,
		self: self,
		ind:  ind,
		log:  log,
	}
}

func (s *Server) Paired() bool {
	return s.paired.Load()
}

/*
 * Bind the well-known port and serve pairing attempts until stop
 * is closed.
 */
func (s *Server) Run(stop <-chan struct{}) error {
	conn, err := reuseport.ListenPacket("udp4", fmt.Sprintf(":%d", s.cfg.Port))

	if err != nil {
		return fmt.Errorf("pairing: binding port %d: %w", s.cfg.Port, err)
	}
	defer conn.Close()

	s.ind.SetMode(indicator.MODE_PAIRING)
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting pairing process")

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		dgram, addr, ok, err := pollDatagram(conn, s.cfg.PollStep)

		if err != nil {
			s.log.Error().Err(err).Msg("Error receiving pairing datagram")
			s.ind.SetMode(indicator.MODE_NOT_CONNECTED)
			continue
		}

		if !ok || dgram.Type != TYPE_PAIRING {
			continue
		}

		s.log.Info().
			Str("client", dgram.Hostname).
			Str("addr", addr.String()).
			Msg("Received pairing request")

		s.respondToPairing(conn, addr, stop)
	}
}

/*
 * Send hello repeatedly to the requesting client, then wait for a
 * paired confirmation carrying our own address.
 */
func (s *Server) respondToPairing(conn net.PacketConn, addr net.Addr, stop <-chan struct{}) {
	hello := Datagram{
		Type:     TYPE_HELLO,
		IP:       s.self.IP,
		Hostname: s.self.Hostname,
		MAC:      s.self.MAC,
	}

	for attempt := 0; attempt < s.cfg.HelloAttempts; attempt++ {
		if _, err := conn.WriteTo(hello.ToJson(), addr); err != nil {
			s.log.Error().Err(err).Msg("Error sending hello response")
		} else {
			s.log.Debug().Str("client", addr.String()).Msg("Sent hello response")
		}

		select {
		case <-stop:
			return
		case <-time.After(s.cfg.RoundInterval):
		}
	}

	if s.waitForConfirmation(conn) {
		s.paired.Store(true)
		s.ind.SetMode(indicator.MODE_CONNECTED)
		s.log.Info().Msg("Pairing successful")
		return
	}

	s.paired.Store(false)
	s.ind.SetMode(indicator.MODE_NOT_CONNECTED)
	s.log.Warn().Msg("Pairing failed, still accepting attempts")
}

func (s *Server) waitForConfirmation(conn net.PacketConn) bool {
	for round := 0; round < s.cfg.ConfirmRounds; round++ {
		roundEnd := time.Now().Add(s.cfg.RoundInterval)

		for time.Now().Before(roundEnd) {
			dgram, _, ok, err := pollDatagram(conn, s.cfg.PollStep)

			if err != nil {
				s.log.Error().Err(err).Msg("Error waiting for paired confirmation")
				continue
			}

			if ok && dgram.Type == TYPE_PAIRED && dgram.IP == s.self.IP {
				return true
			}
		}
	}

	return false
}
