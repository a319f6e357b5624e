package realtime

import (
	"encoding/json"
	"fmt"
)

// Client message types.
const (
	MsgJoinRoom       = "JOIN_ROOM"
	MsgLeaveRoom      = "LEAVE_ROOM"
	MsgTerminalJoin   = "TERMINAL_JOIN"
	MsgTerminalInput  = "TERMINAL_INPUT"
	MsgTerminalResize = "TERMINAL_RESIZE"
	MsgTerminalLeave  = "TERMINAL_LEAVE"
	MsgPing           = "PING"
)

// ClientMessage is an inbound frame from a client.
type ClientMessage struct {
	Type        string `json:"type"`
	Room        string `json:"room,omitempty"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Data        string `json:"data,omitempty"`
	Rows        uint16 `json:"rows,omitempty"`
	Cols        uint16 `json:"cols,omitempty"`
}

// ParseClientMessage decodes and validates a client frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid message: %w", err)
	}

	switch msg.Type {
	case MsgJoinRoom, MsgLeaveRoom:
		if msg.Room == "" {
			return msg, fmt.Errorf("%s: room is required", msg.Type)
		}
	case MsgTerminalJoin, MsgTerminalInput, MsgTerminalLeave:
		if msg.WorkspaceID == "" {
			return msg, fmt.Errorf("%s: workspaceId is required", msg.Type)
		}
	case MsgTerminalResize:
		if msg.WorkspaceID == "" {
			return msg, fmt.Errorf("%s: workspaceId is required", msg.Type)
		}
		if msg.Rows == 0 || msg.Cols == 0 {
			return msg, fmt.Errorf("%s: rows and cols are required", msg.Type)
		}
	case MsgPing:
	case "":
		return msg, fmt.Errorf("invalid message: missing type")
	default:
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}
