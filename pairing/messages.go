package pairing

import (
	"encoding/json"
	"errors"
	"time"
)

/*
 * The discovery budget ran out without a reply. The caller
 * restarts the entire discovery attempt.
 */
var ErrPairingTimeout = errors.New("pairing: timed out")

const TYPE_PAIRING = "pairing"
const TYPE_HELLO = "hello"
const TYPE_PAIRED = "paired"

const BROADCAST_ADDR = "255.255.255.255"

const BROADCAST_ATTEMPTS = 5
const HELLO_ATTEMPTS = 5
const POLL_ROUNDS = 10
const CONFIRM_ROUNDS = 5
const ROUND_INTERVAL = 1 * time.Second
const POLL_STEP = 100 * time.Millisecond

const BUFFER_SIZE = 1024

type Datagram struct {
	Type     string `json:"type"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname,omitempty"`
	MAC      string `json:"mac,omitempty"`
}

func (dgram Datagram) ToJson() []byte {
	encoded, err := json.Marshal(dgram)

	if err != nil {
		panic(err)
	}

	return encoded
}

type Config struct {
	Port          int
	BroadcastAddr string

	BroadcastAttempts int
	HelloAttempts     int
	PollRounds        int
	ConfirmRounds     int
	RoundInterval     time.Duration
	PollStep          time.Duration
}

func DefaultConfig(port int) Config {
	return Config{
		Port:              port,
		BroadcastAddr:     BROADCAST_ADDR,
		BroadcastAttempts: BROADCAST_ATTEMPTS,
		HelloAttempts:     HELLO_ATTEMPTS,
		PollRounds:        POLL_ROUNDS,
		ConfirmRounds:     CONFIRM_ROUNDS,
		RoundInterval:     ROUND_INTERVAL,
		PollStep:          POLL_STEP,
	}
}
