package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Event type names as they appear on the wire.
const (
	TypeTerminalOutput = "TERMINAL_OUTPUT"
	TypeTerminalExit   = "TERMINAL_EXIT"
	TypeTerminalError  = "TERMINAL_ERROR"
	TypePresenceUpdate = "PRESENCE_UPDATE"
	TypeFileSaved      = "FILE_SAVED"
	TypeActivity       = "ACTIVITY"
	TypePipelineUpdate = "PIPELINE_UPDATE"
	TypeError          = "ERROR"
)

// Event is a server to client message. The set of events is closed; every
// variant lives in this file.
type Event interface {
	EventType() string
	event()
}

// EncodingBase64 marks TerminalOutput data that is not valid UTF-8.
const EncodingBase64 = "base64"

// TerminalOutput carries a chunk of shell output. Data is the text itself
// unless Encoding is EncodingBase64, in which case it holds the raw bytes
// base64 encoded.
type TerminalOutput struct {
	WorkspaceID string `json:"workspaceId"`
	SessionID   string `json:"sessionId"`
	Data        string `json:"data"`
	Encoding    string `json:"encoding,omitempty"`
}

// NewTerminalOutput builds an output event for p. Chunks that are not valid
// UTF-8 are base64 encoded so JSON marshalling cannot replace bytes.
func NewTerminalOutput(workspaceID, sessionID string, p []byte) TerminalOutput {
	ev := TerminalOutput{WorkspaceID: workspaceID, SessionID: sessionID}
	if utf8.Valid(p) {
		ev.Data = string(p)
		return ev
	}
	ev.Data = base64.StdEncoding.EncodeToString(p)
	ev.Encoding = EncodingBase64
	return ev
}

// Bytes returns the raw output bytes.
func (e TerminalOutput) Bytes() ([]byte, error) {
	if e.Encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(e.Data)
	}
	return []byte(e.Data), nil
}

// Terminal exit reasons.
const (
	ExitReasonExited = "exited"
	ExitReasonIdle   = "idle"
	ExitReasonClosed = "closed"
)

// TerminalExit reports that a shell session ended.
type TerminalExit struct {
	WorkspaceID string `json:"workspaceId"`
	SessionID   string `json:"sessionId"`
	Reason      string `json:"reason"`
}

// TerminalError is sent to a single connection when a terminal operation fails.
type TerminalError struct {
	WorkspaceID string `json:"workspaceId"`
	Message     string `json:"message"`
}

// PresenceUpdate is the participant snapshot of a room.
type PresenceUpdate struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

// FileSaved announces a saved workspace file.
type FileSaved struct {
	WorkspaceID string    `json:"workspaceId"`
	Path        string    `json:"path"`
	UserID      string    `json:"userId,omitempty"`
	Size        int       `json:"size"`
	SavedAt     time.Time `json:"savedAt"`
}

// Activity is one entry of a workspace activity feed.
type Activity struct {
	ID          int64     `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message"`
	UserID      string    `json:"userId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StepState is the status of one pipeline step.
type StepState struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// PipelineUpdate reports a pipeline state change.
type PipelineUpdate struct {
	WorkspaceID string      `json:"workspaceId"`
	PipelineID  string      `json:"pipelineId"`
	Status      string      `json:"status"`
	Steps       []StepState `json:"steps"`
}

// ErrorEvent reports a protocol level error to a client.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (TerminalOutput) EventType() string { return TypeTerminalOutput }
func (TerminalExit) EventType() string   { return TypeTerminalExit }
func (TerminalError) EventType() string  { return TypeTerminalError }
func (PresenceUpdate) EventType() string { return TypePresenceUpdate }
func (FileSaved) EventType() string      { return TypeFileSaved }
func (Activity) EventType() string       { return TypeActivity }
func (PipelineUpdate) EventType() string { return TypePipelineUpdate }
func (ErrorEvent) EventType() string     { return TypeError }

func (TerminalOutput) event() {}
func (TerminalExit) event()   {}
func (TerminalError) event()  {}
func (PresenceUpdate) event() {}
func (FileSaved) event()      {}
func (Activity) event()       {}
func (PipelineUpdate) event() {}
func (ErrorEvent) event()     {}

// Marshal encodes ev as a flat JSON object with a leading "type" field.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	typ, _ := json.Marshal(ev.EventType())

	out := make([]byte, 0, len(payload)+len(typ)+10)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	if len(payload) > 2 {
		out = append(out, ',')
		out = append(out, payload[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}
