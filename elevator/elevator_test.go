package elevator

import (
	"errors"
	"testing"
	"time"

	"liftbank/config"
	"liftbank/logger"
	"liftbank/motor"
	"liftbank/types"
)

type nopPin struct{}

func (nopPin) Set(bool) {}

func testManager(t *testing.T, stepDelay time.Duration, stepsPerFloor int) (*Manager, *motor.Controller) {
	t.Helper()

	cfg := config.Default()
	cfg.NumElevators = 3
	cfg.NumFloors = 3
	cfg.CallRetryBackoff = 20 * time.Millisecond

	pins := make([]motor.Pins, cfg.NumElevators)
	for i := range pins {
		pins[i] = motor.Pins{Step: nopPin{}, Dir: nopPin{}, Enable: nopPin{}}
	}

	motors := motor.NewController(motor.Config{
		NumFloors:     cfg.NumFloors,
		StepsPerFloor: stepsPerFloor,
		AccelSteps:    2,
		MinStepDelay:  stepDelay,
		MaxStepDelay:  stepDelay,
	}, pins, logger.GetLogger())

	manager := NewManager(cfg, motors, logger.GetLogger())

	stop := make(chan struct{})
	go manager.Run(stop)
	t.Cleanup(func() { close(stop) })

	return manager, motors
}

func awaitCall(t *testing.T, done <-chan CallResult) CallResult {
	t.Helper()

	select {
	case result := <-done:
		return result
	case <-time.After(5 * time.Second):
		t.Fatal("call was never serviced")
		return CallResult{}
	}
}

func awaitTask(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("task was never serviced")
		return nil
	}
}

func awaitStatus(t *testing.T, manager *Manager, id int, status Status) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if state, _ := manager.ElevatorState(id); state.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	state, _ := manager.ElevatorState(id)
	t.Fatalf("elevator %d never reached %v, stuck at %v", id, status, state.Status)
}

func TestCallDrivesElevatorToFloor(t *testing.T) {
	manager, _ := testManager(t, 0, 10)

	done, err := manager.SubmitCall(3, -1)
	if err != nil {
		t.Fatalf("SubmitCall: %v", err)
	}

	result := awaitCall(t, done)
	if result.Err != nil {
		t.Fatalf("call failed: %v", result.Err)
	}
	if result.Elevator != 0 || result.Floor != 3 {
		t.Errorf("call assigned elevator %d floor %d", result.Elevator, result.Floor)
	}

	state, _ := manager.ElevatorState(0)
	if state.Floor != 3 || state.Status != STATUS_IDLE || !state.Active {
		t.Errorf("after call: %+v", state)
	}
}

func TestCallAtCurrentFloorPicksLowestIDAndSetsActive(t *testing.T) {
	manager, _ := testManager(t, 0, 10)

	result := awaitCall(t, mustSubmit(t, manager, 1, -1))
	if result.Err != nil || result.Elevator != 0 {
		t.Fatalf("call for floor 1 assigned %d (err %v), want elevator 0", result.Elevator, result.Err)
	}

	state, _ := manager.ElevatorState(0)
	if !state.Active || state.Floor != 1 || state.Status != STATUS_IDLE {
		t.Errorf("in-place call: %+v", state)
	}
}

func TestPreferredElevatorWinsWhenIdle(t *testing.T) {
	manager, _ := testManager(t, 0, 10)

	result := awaitCall(t, mustSubmit(t, manager, 1, 2))
	if result.Err != nil || result.Elevator != 2 {
		t.Errorf("preferred call assigned %d (err %v), want elevator 2", result.Elevator, result.Err)
	}
}

func TestNearestIdleElevatorWins(t *testing.T) {
	manager, _ := testManager(t, 0, 10)

	if err := awaitTask(t, mustSend(t, manager, 1, 3)); err != nil {
		t.Fatalf("positioning task failed: %v", err)
	}

	result := awaitCall(t, mustSubmit(t, manager, 3, -1))
	if result.Err != nil || result.Elevator != 1 {
		t.Errorf("call for floor 3 assigned %d, want elevator 1 already there", result.Elevator)
	}

	result = awaitCall(t, mustSubmit(t, manager, 2, -1))
	if result.Err != nil || result.Elevator != 0 {
		t.Errorf("equidistant call assigned %d, want lowest id 0", result.Elevator)
	}
}

func TestCallRequeuedWhileAllElevatorsBusy(t *testing.T) {
	manager, _ := testManager(t, time.Millisecond, 150)

	var tasks []<-chan error
	for id := 0; id < 3; id++ {
		tasks = append(tasks, mustSend(t, manager, id, 3))
	}

	for id := 0; id < 3; id++ {
		awaitStatus(t, manager, id, STATUS_MOVING)
	}

	done := mustSubmit(t, manager, 2, -1)

	select {
	case result := <-done:
		t.Fatalf("call serviced while every elevator was busy: %+v", result)
	case <-time.After(50 * time.Millisecond):
	}

	result := awaitCall(t, done)
	if result.Err != nil {
		t.Errorf("re-queued call eventually failed: %v", result.Err)
	}

	for _, task := range tasks {
		if err := awaitTask(t, task); err != nil {
			t.Errorf("background task failed: %v", err)
		}
	}
}

func TestTaskQueueDrainsFIFO(t *testing.T) {
	manager, _ := testManager(t, 0, 10)

	first := mustSend(t, manager, 0, 3)
	second := mustSend(t, manager, 0, 2)

	if err := awaitTask(t, first); err != nil {
		t.Fatalf("first task: %v", err)
	}
	if err := awaitTask(t, second); err != nil {
		t.Fatalf("second task: %v", err)
	}

	state, _ := manager.ElevatorState(0)
	if state.Floor != 2 || len(state.Queue) != 0 || state.Status != STATUS_IDLE {
		t.Errorf("after queued tasks: %+v", state)
	}
}

func TestMotionFaultIsTerminalUntilReset(t *testing.T) {
	manager, motors := testManager(t, time.Millisecond, 300)

	task := mustSend(t, manager, 0, 3)
	awaitStatus(t, manager, 0, STATUS_MOVING)

	motors.Stop(0)

	if err := awaitTask(t, task); !errors.Is(err, motor.ErrMotionFault) {
		t.Fatalf("aborted task returned %v, want ErrMotionFault", err)
	}

	state, _ := manager.ElevatorState(0)
	if state.Status != STATUS_ERROR || state.Active || state.Floor != 1 {
		t.Errorf("after fault: %+v", state)
	}

	if _, err := manager.SendElevator(0, 2); !errors.Is(err, ErrElevatorFaulted) {
		t.Errorf("task on faulted elevator returned %v, want ErrElevatorFaulted", err)
	}

	if err := manager.ResetAll(); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}

	for id := 0; id < 3; id++ {
		state, _ := manager.ElevatorState(id)
		if state.Status != STATUS_IDLE || state.Floor != 1 || state.Active || len(state.Queue) != 0 {
			t.Errorf("after reset, elevator %d: %+v", id, state)
		}
	}

	if err := awaitTask(t, mustSend(t, manager, 0, 2)); err != nil {
		t.Errorf("task after reset failed: %v", err)
	}
}

func TestResetAllClearsQueuedDestinations(t *testing.T) {
	manager, _ := testManager(t, time.Millisecond, 300)

	inFlight := mustSend(t, manager, 0, 3)
	queued := mustSend(t, manager, 0, 2)
	awaitStatus(t, manager, 0, STATUS_MOVING)

	if err := manager.ResetAll(); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}

	if err := awaitTask(t, inFlight); err == nil {
		t.Error("in-flight task reported success across a reset")
	}
	if err := awaitTask(t, queued); err == nil {
		t.Error("queued task reported success across a reset")
	}

	state, _ := manager.ElevatorState(0)
	if state.Floor != 1 || state.Status != STATUS_IDLE || len(state.Queue) != 0 {
		t.Errorf("after reset: %+v", state)
	}
}

func TestSnapshotDoesNotAliasQueues(t *testing.T) {
	manager, _ := testManager(t, time.Millisecond, 300)

	mustSend(t, manager, 0, 3)
	queued := mustSend(t, manager, 0, 2)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if state, _ := manager.ElevatorState(0); len(state.Queue) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queued destination never became visible")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snapshot := manager.Snapshot()
	snapshot[0].Queue[0] = 99

	if state, _ := manager.ElevatorState(0); len(state.Queue) == 1 && state.Queue[0] == 99 {
		t.Error("mutating a snapshot changed the store's queue")
	}

	manager.ResetAll()
	awaitTask(t, queued)
}

func TestSubmitCallValidation(t *testing.T) {
	manager, _ := testManager(t, 0, 10)

	if _, err := manager.SubmitCall(4, -1); !errors.Is(err, types.ErrInvalidCommand) {
		t.Errorf("floor 4: got %v", err)
	}
	if _, err := manager.SubmitCall(1, 3); !errors.Is(err, types.ErrInvalidCommand) {
		t.Errorf("elevator 3: got %v", err)
	}
	if _, err := manager.SendElevator(-1, 2); !errors.Is(err, types.ErrInvalidCommand) {
		t.Errorf("elevator -1: got %v", err)
	}
}

func mustSubmit(t *testing.T, manager *Manager, floor int, preferred int) <-chan CallResult {
	t.Helper()

	done, err := manager.SubmitCall(floor, preferred)
	if err != nil {
		t.Fatalf("SubmitCall(%d, %d): %v", floor, preferred, err)
	}
	return done
}

func mustSend(t *testing.T, manager *Manager, id int, floor int) <-chan error {
	t.Helper()

	done, err := manager.SendElevator(id, floor)
	if err != nil {
		t.Fatalf("SendElevator(%d, %d): %v", id, floor, err)
	}
	return done
}
