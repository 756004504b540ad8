package pairing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"liftbank/indicator"
	"liftbank/logger"
)

type fakeIndicator struct {
	mu    sync.Mutex
	modes []indicator.Mode
}

func (fi *fakeIndicator) SetMode(mode indicator.Mode) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.modes = append(fi.modes, mode)
}

func (fi *fakeIndicator) saw(mode indicator.Mode) bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, m := range fi.modes {
		if m == mode {
			return true
		}
	}
	return false
}

func testConfig(port int) Config {
	cfg := DefaultConfig(port)
	cfg.BroadcastAddr = "127.0.0.1"
	cfg.BroadcastAttempts = 3
	cfg.HelloAttempts = 2
	cfg.PollRounds = 10
	cfg.ConfirmRounds = 5
	cfg.RoundInterval = 20 * time.Millisecond
	cfg.PollStep = 5 * time.Millisecond
	return cfg
}

func TestDiscoveryEndToEnd(t *testing.T) {
	cfg := testConfig(29471)
	log := logger.GetLogger()

	serverIdentity := Identity{Hostname: "board-server", IP: "127.0.0.1", MAC: "a4cf12259774"}
	clientIdentity := Identity{Hostname: "board-client", IP: "127.0.0.1", MAC: "3c71bf5a5414"}

	serverInd := &fakeIndicator{}
	server := NewServer(cfg, serverIdentity, serverInd, log)

	stop := make(chan struct{})
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Run(stop)
	}()

	clientInd := &fakeIndicator{}
	serverIP, err := Discover(cfg, clientIdentity, clientInd, log)

	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if serverIP != "127.0.0.1" {
		t.Errorf("Discover returned server ip %q", serverIP)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !server.Paired() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !server.Paired() {
		t.Error("server never reached paired state")
	}

	close(stop)
	if err := <-serverDone; err != nil {
		t.Errorf("server Run returned %v", err)
	}

	if !serverInd.saw(indicator.MODE_CONNECTED) {
		t.Errorf("server indicator never showed connected, saw %v", serverInd.modes)
	}
	if !clientInd.saw(indicator.MODE_PAIRING) {
		t.Errorf("client indicator never showed pairing, saw %v", clientInd.modes)
	}
}

func TestDiscoverTimesOutWithoutServer(t *testing.T) {
	cfg := testConfig(29472)
	cfg.PollRounds = 3
	cfg.BroadcastAttempts = 1

	clientInd := &fakeIndicator{}
	start := time.Now()

	_, err := Discover(cfg, Identity{Hostname: "lonely", IP: "127.0.0.1"}, clientInd, logger.GetLogger())

	if !errors.Is(err, ErrPairingTimeout) {
		t.Fatalf("got %v, want ErrPairingTimeout", err)
	}

	minimum := time.Duration(cfg.PollRounds) * cfg.RoundInterval
	if elapsed := time.Since(start); elapsed < minimum {
		t.Errorf("gave up after %v, want at least %v of polling", elapsed, minimum)
	}

	if !clientInd.saw(indicator.MODE_NOT_CONNECTED) {
		t.Errorf("client indicator never showed not_connected, saw %v", clientInd.modes)
	}
}
