package config

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const NUM_ELEVATORS = 3
const NUM_FLOORS = 3
const STREAM_PORT = 80
const PAIRING_PORT = 5000

const HOLD_DURATION = 3 * time.Second
const RECONNECT_BACKOFF = 5 * time.Second
const CALL_RETRY_BACKOFF = 1 * time.Second

const STEPS_PER_FLOOR = 550
const ACCELERATION_STEPS = 50
const MIN_STEP_DELAY = 500 * time.Microsecond
const MAX_STEP_DELAY = 2000 * time.Microsecond

type Config struct {
	NumElevators int
	NumFloors    int
	StreamPort   int
	PairingPort  int

	HoldDuration     time.Duration
	ReconnectBackoff time.Duration
	CallRetryBackoff time.Duration

	StepsPerFloor int
	AccelSteps    int
	MinStepDelay  time.Duration
	MaxStepDelay  time.Duration
}

func Default() Config {
	return Config{
		NumElevators:     NUM_ELEVATORS,
		NumFloors:        NUM_FLOORS,
		StreamPort:       STREAM_PORT,
		PairingPort:      PAIRING_PORT,
		HoldDuration:     HOLD_DURATION,
		ReconnectBackoff: RECONNECT_BACKOFF,
		CallRetryBackoff: CALL_RETRY_BACKOFF,
		StepsPerFloor:    STEPS_PER_FLOOR,
		AccelSteps:       ACCELERATION_STEPS,
		MinStepDelay:     MIN_STEP_DELAY,
		MaxStepDelay:     MAX_STEP_DELAY,
	}
}

/*
 * Load configuration: defaults, then the .env file if one exists,
 * then command line flags. Last writer wins.
 */
func Load(envFile string) (Config, error) {
	cfg := Default()

	env, err := godotenv.Read(envFile)
	if err == nil {
		if err := applyEnv(&cfg, env); err != nil {
			return cfg, err
		}
	}

	flag.IntVar(&cfg.NumElevators, "elevators", cfg.NumElevators, "Number of elevator cars")
	flag.IntVar(&cfg.NumFloors, "floors", cfg.NumFloors, "Number of floors")
	flag.IntVar(&cfg.StreamPort, "sport", cfg.StreamPort, "Stream (framed connection) port")
	flag.IntVar(&cfg.PairingPort, "pport", cfg.PairingPort, "Pairing broadcast port")
	flag.Parse()

	if cfg.NumElevators < 1 || cfg.NumFloors < 2 {
		return cfg, fmt.Errorf("config: need at least 1 elevator and 2 floors")
	}

	return cfg, nil
}

func applyEnv(cfg *Config, env map[string]string) error {
	ints := map[string]*int{
		"LIFTBANK_ELEVATORS":       &cfg.NumElevators,
		"LIFTBANK_FLOORS":          &cfg.NumFloors,
		"LIFTBANK_STREAM_PORT":     &cfg.StreamPort,
		"LIFTBANK_PAIRING_PORT":    &cfg.PairingPort,
		"LIFTBANK_STEPS_PER_FLOOR": &cfg.StepsPerFloor,
		"LIFTBANK_ACCEL_STEPS":     &cfg.AccelSteps,
	}

	for key, dst := range ints {
		raw, ok := env[key]
		if !ok {
			continue
		}

		value, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("config: bad value for %s: %w", key, err)
		}
		*dst = value
	}

	durations := map[string]*time.Duration{
		"LIFTBANK_HOLD_DURATION":     &cfg.HoldDuration,
		"LIFTBANK_RECONNECT_BACKOFF": &cfg.ReconnectBackoff,
		"LIFTBANK_MIN_STEP_DELAY":    &cfg.MinStepDelay,
		"LIFTBANK_MAX_STEP_DELAY":    &cfg.MaxStepDelay,
	}

	for key, dst := range durations {
		raw, ok := env[key]
		if !ok {
			continue
		}

		value, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: bad value for %s: %w", key, err)
		}
		*dst = value
	}

	return nil
}
