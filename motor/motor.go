package motor

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

/*
 * A step sequence was aborted by a stop request. The channel's
 * recorded floor reflects only fully completed motion, so callers
 * read the reached floor back instead of assuming the target.
 */
var ErrMotionFault = errors.New("motor: motion aborted")

/*
 * Only one motion may be in flight per channel; starting a second
 * is a caller error.
 */
var ErrChannelBusy = errors.New("motor: channel busy")

const STOP_POLL_INTERVAL = 10 * time.Millisecond

/*
 * One output signal line. GPIO-backed implementations live with
 * the board wiring, not here.
 */
type Pin interface {
	Set(high bool)
}

type Pins struct {
	Step   Pin
	Dir    Pin
	Enable Pin
}

type Config struct {
	NumFloors     int
	StepsPerFloor int
	AccelSteps    int
	MinStepDelay  time.Duration
	MaxStepDelay  time.Duration
}

type channel struct {
	pins          Pins
	mu            sync.Mutex
	moving        bool
	stopRequested atomic.Bool
	floor         int
}

/*
 * Controller owns every motor channel exclusively. All channels
 * start at floor 1 with their drivers disabled.
 */
type Controller struct {
	cfg      Config
	channels []*channel
	log      *zerolog.Logger
}

func NewController(cfg Config, pins []Pins, log *zerolog.Logger) *Controller {
	channels := make([]*channel, len(pins))

	for i := range pins {
		channels[i] = &channel{pins: pins[i], floor: 1}

		/*
		 * Enable signal is active low; start disabled
		 */
		channels[i].pins.Enable.Set(true)
	}

	return &Controller{
		cfg:      cfg,
		channels: channels,
		log:      log,
	}
}

func (c *Controller) NumChannels() int {
	return len(c.channels)
}

func (c *Controller) CurrentFloor(index int) int {
	ch := c.channels[index]

	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.floor
}

func (c *Controller) Moving(index int) bool {
	ch := c.channels[index]

	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.moving
}

/*
 * Drive one channel to the target floor with the trapezoidal
 * profile. Blocks for the duration of the motion.
 */
func (c *Controller) MoveToFloor(index int, targetFloor int) error {
	if index < 0 || index >= len(c.channels) {
		return fmt.Errorf("motor: invalid channel index %d", index)
	}
	if targetFloor < 1 || targetFloor > c.cfg.NumFloors {
		return fmt.Errorf("motor: invalid floor %d", targetFloor)
	}

	ch := c.channels[index]

	ch.mu.Lock()
	if ch.moving {
		ch.mu.Unlock()
		return fmt.Errorf("%w: channel %d", ErrChannelBusy, index)
	}

	startFloor := ch.floor
	if startFloor == targetFloor {
		ch.mu.Unlock()
		return nil
	}

	ch.moving = true
	ch.mu.Unlock()

	steps := abs(targetFloor-startFloor) * c.cfg.StepsPerFloor

	c.log.Debug().
		Int("motor", index).
		Int("from", startFloor).
		Int("to", targetFloor).
		Int("steps", steps).
		Msg("Starting move")

	/*
	 * Direction bit is low for upward travel
	 */
	ch.pins.Dir.Set(targetFloor < startFloor)
	ch.pins.Enable.Set(false)

	completed := c.runProfile(ch, steps)

	ch.pins.Enable.Set(true)

	ch.mu.Lock()
	if completed {
		ch.floor = targetFloor
	}
	ch.moving = false
	ch.mu.Unlock()

	if !completed {
		c.log.Warn().Int("motor", index).Int("floor", startFloor).Msg("Move aborted by stop request")
		return fmt.Errorf("%w: channel %d stopped before floor %d", ErrMotionFault, index, targetFloor)
	}

	return nil
}

/*
 * Pulse out the step sequence. Every step yields to the scheduler
 * at least once regardless of delay magnitude, and checks for a
 * pending stop request before pulsing.
 */
func (c *Controller) runProfile(ch *channel, steps int) bool {
	for step := 0; step < steps; step++ {
		if ch.stopRequested.Load() {
			return false
		}

		ch.pins.Step.Set(true)
		c.pause(c.cfg.MinStepDelay)
		ch.pins.Step.Set(false)

		c.pause(stepDelay(c.cfg, step, steps))
	}

	return true
}

func (c *Controller) pause(delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
		return
	}

	runtime.Gosched()
}

/*
 * Request a stop and wait until the channel's motion has fully
 * wound down.
 */
func (c *Controller) Stop(index int) {
	ch := c.channels[index]

	ch.stopRequested.Store(true)

	for c.Moving(index) {
		time.Sleep(STOP_POLL_INTERVAL)
	}

	ch.stopRequested.Store(false)
}

/*
 * Per-step delay over the trapezoidal profile: linearly falling
 * from max to min across the first acceleration window, constant
 * in the middle, rising back to max across the last window.
 */
func stepDelay(cfg Config, step int, steps int) time.Duration {
	span := int64(cfg.MaxStepDelay - cfg.MinStepDelay)

	switch {
	case step < cfg.AccelSteps:
		return cfg.MaxStepDelay - time.Duration(span*int64(step)/int64(cfg.AccelSteps))

	case step > steps-cfg.AccelSteps:
		return cfg.MinStepDelay + time.Duration(span*int64(step-(steps-cfg.AccelSteps))/int64(cfg.AccelSteps))

	default:
		return cfg.MinStepDelay
	}
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
