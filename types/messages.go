package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

/*
 * A malformed or out-of-range command. Answered with an error
 * envelope on the open connection, never a disconnect.
 */
var ErrInvalidCommand = errors.New("invalid command")

const TYPE_CALL = "call"
const TYPE_TASK = "task"
const TYPE_RESET = "reset"

const STATUS_PROCESSING = "processing"
const STATUS_COMPLETED = "completed"
const STATUS_NOT_FOUND = "not_found"

const ACTION_MOVE = "move"

type CallCommand struct {
	Floor    int  `json:"floor"`
	Elevator *int `json:"elevator,omitempty"`
}

type TaskCommand struct {
	ID     int    `json:"id"`
	Motor  int    `json:"motor"`
	Floor  int    `json:"floor"`
	Action string `json:"action"`
}

type StatusCommand struct {
	TaskID int `json:"task_id"`
}

type ResetCommand struct{}

/*
 * Closed union of inbound commands. Exactly one branch is set
 * on a parsed command.
 */
type Command struct {
	Call   *CallCommand   `json:"call,omitempty"`
	Task   *TaskCommand   `json:"task,omitempty"`
	Status *StatusCommand `json:"status,omitempty"`
	Reset  *ResetCommand  `json:"reset,omitempty"`
}

/*
 * Decode one command, rejecting unrecognised shapes and
 * out-of-range floor/elevator ids as ErrInvalidCommand.
 */
func ParseCommand(raw []byte, numFloors int, numElevators int) (Command, error) {
	var cmd Command

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	branches := 0
	for _, set := range []bool{cmd.Call != nil, cmd.Task != nil, cmd.Status != nil, cmd.Reset != nil} {
		if set {
			branches++
		}
	}

	if branches != 1 {
		return Command{}, fmt.Errorf("%w: expected exactly one command, got %d", ErrInvalidCommand, branches)
	}

	switch {
	case cmd.Call != nil:
		if cmd.Call.Floor < 1 || cmd.Call.Floor > numFloors {
			return Command{}, fmt.Errorf("%w: floor %d out of range", ErrInvalidCommand, cmd.Call.Floor)
		}
		if cmd.Call.Elevator != nil && (*cmd.Call.Elevator < 0 || *cmd.Call.Elevator >= numElevators) {
			return Command{}, fmt.Errorf("%w: elevator %d out of range", ErrInvalidCommand, *cmd.Call.Elevator)
		}

	case cmd.Task != nil:
		if cmd.Task.Floor < 1 || cmd.Task.Floor > numFloors {
			return Command{}, fmt.Errorf("%w: floor %d out of range", ErrInvalidCommand, cmd.Task.Floor)
		}
		if cmd.Task.Motor < 0 || cmd.Task.Motor >= numElevators {
			return Command{}, fmt.Errorf("%w: motor %d out of range", ErrInvalidCommand, cmd.Task.Motor)
		}
		if cmd.Task.Action != ACTION_MOVE {
			return Command{}, fmt.Errorf("%w: unknown action %q", ErrInvalidCommand, cmd.Task.Action)
		}
	}

	return cmd, nil
}

type Response struct {
	Type     string `json:"type,omitempty"`
	TaskID   *int   `json:"task_id,omitempty"`
	Motor    *int   `json:"motor,omitempty"`
	Floor    *int   `json:"floor,omitempty"`
	Elevator *int   `json:"elevator,omitempty"`
	Action   string `json:"action,omitempty"`
	Status   string `json:"status,omitempty"`
}

/*
 * Outbound envelope: either a response or an error string.
 */
type Envelope struct {
	Response *Response `json:"response,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func (envelope Envelope) ToJson() []byte {
	encoded, err := json.Marshal(envelope)

	if err != nil {
		panic(err)
	}

	return encoded
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var envelope Envelope

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}

	return envelope, nil
}

func NewResponse(msgType string, floor int, elevator int, status string) Envelope {
	return Envelope{
		Response: &Response{
			Type:     msgType,
			Floor:    &floor,
			Elevator: &elevator,
			Status:   status,
		},
	}
}

func NewTaskStatus(taskID int, motor int, floor int, action string, status string) Envelope {
	return Envelope{
		Response: &Response{
			TaskID: &taskID,
			Motor:  &motor,
			Floor:  &floor,
			Action: action,
			Status: status,
		},
	}
}

func NewTaskNotFound(taskID int) Envelope {
	return Envelope{
		Response: &Response{
			TaskID: &taskID,
			Status: STATUS_NOT_FOUND,
		},
	}
}

func NewError(err error) Envelope {
	return Envelope{Error: err.Error()}
}
