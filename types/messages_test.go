package types

import (
	"errors"
	"testing"
)

func TestParseCommandAcceptsEachBranch(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"call", `{"call":{"floor":2}}`},
		{"call with preference", `{"call":{"floor":1,"elevator":2}}`},
		{"task", `{"task":{"id":4,"motor":0,"floor":3,"action":"move"}}`},
		{"status", `{"status":{"task_id":4}}`},
		{"reset", `{"reset":{}}`},
	}

	for _, tc := range cases {
		if _, err := ParseCommand([]byte(tc.raw), 3, 3); err != nil {
			t.Errorf("%s: %v", tc.name, err)
		}
	}
}

func TestParseCommandRejectsMalformedShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `pong`},
		{"unknown key", `{"ping":{}}`},
		{"extra key", `{"call":{"floor":1},"extra":true}`},
		{"two commands", `{"call":{"floor":1},"reset":{}}`},
		{"no command", `{}`},
		{"floor too high", `{"call":{"floor":4}}`},
		{"floor zero", `{"call":{"floor":0}}`},
		{"elevator out of range", `{"call":{"floor":1,"elevator":3}}`},
		{"negative motor", `{"task":{"id":1,"motor":-1,"floor":2,"action":"move"}}`},
		{"unknown action", `{"task":{"id":1,"motor":0,"floor":2,"action":"jump"}}`},
	}

	for _, tc := range cases {
		if _, err := ParseCommand([]byte(tc.raw), 3, 3); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("%s: got %v, want ErrInvalidCommand", tc.name, err)
		}
	}
}

func TestResponseEnvelopesOmitUnsetFields(t *testing.T) {
	encoded := string(NewResponse(TYPE_CALL, 2, 1, STATUS_COMPLETED).ToJson())
	if encoded != `{"response":{"type":"call","floor":2,"elevator":1,"status":"completed"}}` {
		t.Errorf("call envelope: %s", encoded)
	}

	encoded = string(NewTaskNotFound(9).ToJson())
	if encoded != `{"response":{"task_id":9,"status":"not_found"}}` {
		t.Errorf("not_found envelope: %s", encoded)
	}

	encoded = string(NewError(ErrInvalidCommand).ToJson())
	if encoded != `{"error":"invalid command"}` {
		t.Errorf("error envelope: %s", encoded)
	}
}

func TestParseEnvelopeRoundTrip(t *testing.T) {
	envelope, err := ParseEnvelope(NewTaskStatus(7, 1, 3, ACTION_MOVE, STATUS_PROCESSING).ToJson())
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}

	response := envelope.Response
	if response == nil || *response.TaskID != 7 || *response.Motor != 1 ||
		*response.Floor != 3 || response.Action != ACTION_MOVE ||
		response.Status != STATUS_PROCESSING {
		t.Errorf("round-tripped response: %+v", response)
	}
}
