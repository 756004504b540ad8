package elevator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"liftbank/config"
	"liftbank/motor"
	"liftbank/types"

	"github.com/rs/zerolog"
	"github.com/tiendc/go-deepcopy"
)

/*
 * Terminal until reset: the elevator hit a motion fault and will
 * not accept direct tasks until ResetAll has run.
 */
var ErrElevatorFaulted = errors.New("elevator: in error state, reset required")

/*
 * A queued destination was dropped because ResetAll cleared every
 * queue.
 */
var ErrQueueCleared = errors.New("elevator: queue cleared by reset")

const CALL_POLL_INTERVAL = 100 * time.Millisecond
const DRAIN_POLL_INTERVAL = 20 * time.Millisecond

type Status int

const (
	STATUS_IDLE Status = iota
	STATUS_MOVING
	STATUS_ERROR
)

func (s Status) String() string {
	switch s {
	case STATUS_IDLE:
		return "idle"
	case STATUS_MOVING:
		return "moving"
	case STATUS_ERROR:
		return "error"
	default:
		return "unknown"
	}
}

/*
 * Snapshot of one elevator record. Target is 0 while no move is
 * pending; floors are 1-based.
 */
type Elevator struct {
	ID     int
	Floor  int
	Target int
	Status Status
	Queue  []int
	Active bool
}

type CallResult struct {
	Elevator int
	Floor    int
	Err      error
}

type pendingCall struct {
	floor     int
	preferred int // -1 when the caller expressed no preference
	done      chan CallResult
}

type queueEntry struct {
	floor int
	done  chan error
}

type record struct {
	state    Elevator
	entries  []queueEntry
	draining bool
	inFlight bool
}

/*
 * Authoritative in-memory store of every elevator, and the
 * scheduler that mutates it. The single lock covers in-memory
 * bookkeeping only; it is never held across motion or network I/O.
 */
type Manager struct {
	cfg    config.Config
	motors *motor.Controller
	log    *zerolog.Logger

	mu        sync.Mutex
	elevators []*record
	calls     []pendingCall
}

func NewManager(cfg config.Config, motors *motor.Controller, log *zerolog.Logger) *Manager {
	if motors.NumChannels() != cfg.NumElevators {
		panic("elevator: motor channel count does not match elevator count")
	}

	elevators := make([]*record, cfg.NumElevators)
	for id := range elevators {
		elevators[id] = &record{
			state: Elevator{
				ID:     id,
				Floor:  motors.CurrentFloor(id),
				Status: STATUS_IDLE,
			},
		}
	}

	return &Manager{
		cfg:       cfg,
		motors:    motors,
		log:       log,
		elevators: elevators,
	}
}

/*
 * Continuously drain the global pending-call queue. Selection
 * happens under the lock; movement happens outside it, so one
 * elevator's multi-second move never blocks intake or queries.
 */
func (m *Manager) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		m.mu.Lock()

		if len(m.calls) == 0 {
			m.mu.Unlock()
			m.sleep(CALL_POLL_INTERVAL, stop)
			continue
		}

		call := m.calls[0]
		m.calls = m.calls[1:]

		id, idle := m.selectBestLocked(call.floor, call.preferred)

		if !idle {
			/*
			 * Rule 4 candidate is busy: re-queue instead of
			 * overflowing its queue, retry after the backoff.
			 */
			m.calls = append(m.calls, call)
			m.mu.Unlock()

			m.log.Debug().Int("floor", call.floor).Msg("No idle elevator, call re-queued")
			m.sleep(m.cfg.CallRetryBackoff, stop)
			continue
		}

		rec := m.elevators[id]

		if rec.state.Floor == call.floor {
			rec.state.Active = true
			m.mu.Unlock()

			m.log.Info().Int("elevator", id).Int("floor", call.floor).Msg("Call served in place")
			call.done <- CallResult{Elevator: id, Floor: call.floor}
			continue
		}

		rec.state.Status = STATUS_MOVING
		rec.state.Target = call.floor
		rec.inFlight = true
		m.mu.Unlock()

		m.log.Info().Int("elevator", id).Int("floor", call.floor).Msg("Call assigned")

		/*
		 * Movement happens off the drain loop so overlapping calls
		 * can be assigned while earlier moves are still in flight.
		 */
		go func(call pendingCall, id int) {
			call.done <- CallResult{Elevator: id, Floor: call.floor, Err: m.drive(id, call.floor)}
		}(call, id)
	}
}

func (m *Manager) sleep(duration time.Duration, stop <-chan struct{}) {
	select {
	case <-stop:
	case <-time.After(duration):
	}
}

/*
 * Enqueue a floor call. The result channel reports the assigned
 * elevator once the call has been fully serviced. preferred is -1
 * for no preference.
 */
func (m *Manager) SubmitCall(floor int, preferred int) (<-chan CallResult, error) {
	if floor < 1 || floor > m.cfg.NumFloors {
		return nil, fmt.Errorf("%w: floor %d out of range", types.ErrInvalidCommand, floor)
	}
	if preferred < -1 || preferred >= m.cfg.NumElevators {
		return nil, fmt.Errorf("%w: elevator %d out of range", types.ErrInvalidCommand, preferred)
	}

	done := make(chan CallResult, 1)

	m.mu.Lock()
	m.calls = append(m.calls, pendingCall{floor: floor, preferred: preferred, done: done})
	m.mu.Unlock()

	m.log.Debug().Int("floor", floor).Int("preferred", preferred).Msg("Call received")

	return done, nil
}

/*
 * Assignment priority, under the lock. Returns the chosen id and
 * whether it was idle; a busy choice (rule 4) is advisory only.
 *
 *   1. preferred elevator, if idle
 *   2. an idle elevator already at the floor
 *   3. the nearest idle elevator, lowest id on ties
 *   4. the elevator with the fewest queued destinations
 */
func (m *Manager) selectBestLocked(floor int, preferred int) (int, bool) {
	if preferred >= 0 && m.elevators[preferred].state.Status == STATUS_IDLE {
		return preferred, true
	}

	for id, rec := range m.elevators {
		if rec.state.Floor == floor && rec.state.Status == STATUS_IDLE {
			return id, true
		}
	}

	best := -1
	bestDistance := 0

	for id, rec := range m.elevators {
		if rec.state.Status != STATUS_IDLE {
			continue
		}

		distance := abs(rec.state.Floor - floor)
		if best < 0 || distance < bestDistance {
			best = id
			bestDistance = distance
		}
	}

	if best >= 0 {
		return best, true
	}

	shortest := 0
	for id, rec := range m.elevators {
		if len(rec.entries) < len(m.elevators[shortest].entries) {
			shortest = id
		}
	}

	return shortest, false
}

/*
 * Perform one floor-to-floor move and record the outcome
 * atomically. A motion fault leaves the elevator in Error with
 * the floor the motor actually reached.
 */
func (m *Manager) drive(id int, floor int) error {
	err := m.motors.MoveToFloor(id, floor)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.elevators[id]
	rec.state.Target = 0
	rec.inFlight = false

	if err != nil {
		rec.state.Status = STATUS_ERROR
		rec.state.Active = false
		rec.state.Floor = m.motors.CurrentFloor(id)

		m.log.Error().Err(err).Int("elevator", id).Msg("Motion fault")
		return fmt.Errorf("elevator %d: %w", id, err)
	}

	rec.state.Floor = floor
	rec.state.Status = STATUS_IDLE
	rec.state.Active = true

	return nil
}

/*
 * Queue a direct destination for one elevator. Destinations drain
 * strictly FIFO, one fully serviced before the next starts. The
 * result channel reports this destination's outcome.
 */
func (m *Manager) SendElevator(id int, floor int) (<-chan error, error) {
	if id < 0 || id >= m.cfg.NumElevators {
		return nil, fmt.Errorf("%w: elevator %d out of range", types.ErrInvalidCommand, id)
	}
	if floor < 1 || floor > m.cfg.NumFloors {
		return nil, fmt.Errorf("%w: floor %d out of range", types.ErrInvalidCommand, floor)
	}

	m.mu.Lock()

	rec := m.elevators[id]

	if rec.state.Status == STATUS_ERROR {
		m.mu.Unlock()
		return nil, fmt.Errorf("elevator %d: %w", id, ErrElevatorFaulted)
	}

	done := make(chan error, 1)
	rec.entries = append(rec.entries, queueEntry{floor: floor, done: done})
	rec.state.Queue = append(rec.state.Queue, floor)

	if !rec.draining {
		rec.draining = true
		go m.drainElevator(id)
	}

	m.mu.Unlock()

	m.log.Debug().Int("elevator", id).Int("floor", floor).Msg("Destination queued")

	return done, nil
}

func (m *Manager) drainElevator(id int) {
	for {
		m.mu.Lock()
		rec := m.elevators[id]

		if len(rec.entries) == 0 {
			rec.draining = false
			m.mu.Unlock()
			return
		}

		if rec.state.Status == STATUS_MOVING {
			m.mu.Unlock()
			time.Sleep(DRAIN_POLL_INTERVAL)
			continue
		}

		if rec.state.Status == STATUS_ERROR {
			orphaned := rec.entries
			rec.entries = nil
			rec.state.Queue = nil
			rec.draining = false
			m.mu.Unlock()

			for _, entry := range orphaned {
				entry.done <- fmt.Errorf("elevator %d: %w", id, ErrElevatorFaulted)
			}
			return
		}

		entry := rec.entries[0]
		rec.entries = rec.entries[1:]
		rec.state.Queue = rec.state.Queue[1:]

		if entry.floor == rec.state.Floor {
			rec.state.Active = true
			m.mu.Unlock()
			entry.done <- nil
			continue
		}

		rec.state.Status = STATUS_MOVING
		rec.state.Target = entry.floor
		rec.inFlight = true
		m.mu.Unlock()

		entry.done <- m.drive(id, entry.floor)
	}
}

/*
 * Clear the door/load flag.
 */
func (m *Manager) Deactivate(id int) error {
	if id < 0 || id >= m.cfg.NumElevators {
		return fmt.Errorf("%w: elevator %d out of range", types.ErrInvalidCommand, id)
	}

	m.mu.Lock()
	m.elevators[id].state.Active = false
	m.mu.Unlock()

	m.log.Debug().Int("elevator", id).Msg("Elevator deactivated")

	return nil
}

/*
 * Abort all motion, clear every queue and target, and force every
 * elevator back to floor 1. The only path out of Error.
 */
func (m *Manager) ResetAll() error {
	m.log.Info().Msg("Resetting all elevators")

	/*
	 * Stop every motor and wait for in-flight drives to record
	 * their outcome, so their bookkeeping cannot land after the
	 * state rebuild below. Re-stopping each round closes the
	 * window where a drained queue starts a fresh move.
	 */
	var orphaned []queueEntry

	for {
		for id := 0; id < m.cfg.NumElevators; id++ {
			m.motors.Stop(id)
		}

		m.mu.Lock()

		settled := true
		for _, rec := range m.elevators {
			if rec.inFlight {
				settled = false
				break
			}
		}

		if !settled {
			m.mu.Unlock()
			time.Sleep(DRAIN_POLL_INTERVAL)
			continue
		}

		for _, rec := range m.elevators {
			orphaned = append(orphaned, rec.entries...)
			rec.entries = nil
			rec.state.Queue = nil
			rec.state.Target = 1
			rec.state.Status = STATUS_MOVING
		}

		m.mu.Unlock()
		break
	}

	for _, entry := range orphaned {
		entry.done <- ErrQueueCleared
	}

	for id := 0; id < m.cfg.NumElevators; id++ {
		err := m.motors.MoveToFloor(id, 1)

		m.mu.Lock()
		rec := m.elevators[id]

		if err != nil {
			rec.state.Status = STATUS_ERROR
			rec.state.Active = false
			m.mu.Unlock()
			return fmt.Errorf("resetting elevator %d: %w", id, err)
		}

		rec.state.Floor = 1
		rec.state.Target = 0
		rec.state.Status = STATUS_IDLE
		rec.state.Active = false
		m.mu.Unlock()
	}

	m.log.Info().Msg("Reset complete")

	return nil
}

/*
 * Deep-copied view of every elevator record; readers never alias
 * the store's queues.
 */
func (m *Manager) Snapshot() []Elevator {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]Elevator, len(m.elevators))
	for i, rec := range m.elevators {
		states[i] = rec.state
	}

	var snapshot []Elevator
	if err := deepcopy.Copy(&snapshot, &states); err != nil {
		panic("elevator: failed to deepcopy elevator state")
	}

	return snapshot
}

func (m *Manager) ElevatorState(id int) (Elevator, error) {
	if id < 0 || id >= m.cfg.NumElevators {
		return Elevator{}, fmt.Errorf("%w: elevator %d out of range", types.ErrInvalidCommand, id)
	}

	return m.Snapshot()[id], nil
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
