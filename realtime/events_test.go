package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalEnvelope(t *testing.T) {
	saved := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := Marshal(FileSaved{WorkspaceID: "ws-7", Path: "src/app.js", Size: 12, SavedAt: saved})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "FILE_SAVED", got["type"])
	assert.Equal(t, "ws-7", got["workspaceId"])
	assert.Equal(t, "src/app.js", got["path"])
	assert.Equal(t, float64(12), got["size"])
	assert.NotContains(t, got, "userId")
	assert.Equal(t, `{"type":"FILE_SAVED"`, string(data[:len(`{"type":"FILE_SAVED"`)]))
}

func TestMarshalPresence(t *testing.T) {
	data, err := Marshal(PresenceUpdate{Room: "ws-1", Users: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PRESENCE_UPDATE","room":"ws-1","users":["alice","bob"]}`, string(data))
}

func TestTerminalOutputEncoding(t *testing.T) {
	text := NewTerminalOutput("ws-1", "s1", []byte("héllo\r\n"))
	assert.Empty(t, text.Encoding)
	assert.Equal(t, "héllo\r\n", text.Data)

	raw := []byte{0xff, 0xfe, 'o', 'k', 0x1b}
	bin := NewTerminalOutput("ws-1", "s1", raw)
	assert.Equal(t, EncodingBase64, bin.Encoding)

	data, err := Marshal(bin)
	require.NoError(t, err)
	var decoded TerminalOutput
	require.NoError(t, json.Unmarshal(data, &decoded))
	got, err := decoded.Bytes()
	require.NoError(t, err)
	assert.Equal(t, raw, got, "bytes survive the JSON round trip")
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{TerminalOutput{}, TypeTerminalOutput},
		{TerminalExit{}, TypeTerminalExit},
		{TerminalError{}, TypeTerminalError},
		{PresenceUpdate{}, TypePresenceUpdate},
		{FileSaved{}, TypeFileSaved},
		{Activity{}, TypeActivity},
		{PipelineUpdate{}, TypePipelineUpdate},
		{ErrorEvent{}, TypeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.EventType())
	}
}

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"join", `{"type":"JOIN_ROOM","room":"ws-1"}`, false},
		{"join without room", `{"type":"JOIN_ROOM"}`, true},
		{"terminal join", `{"type":"TERMINAL_JOIN","workspaceId":"ws-1"}`, false},
		{"input", `{"type":"TERMINAL_INPUT","workspaceId":"ws-1","data":"ls\r"}`, false},
		{"resize", `{"type":"TERMINAL_RESIZE","workspaceId":"ws-1","rows":40,"cols":120}`, false},
		{"resize without size", `{"type":"TERMINAL_RESIZE","workspaceId":"ws-1"}`, true},
		{"ping", `{"type":"PING"}`, false},
		{"unknown", `{"type":"NOPE"}`, true},
		{"missing type", `{}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClientMessage([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
