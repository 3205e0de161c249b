package wire

import "encoding/json"

// Outbound is the closed union of client-to-agent messages. Every variant
// marshals to its full wire shape; the transport only calls Marshal and
// writes bytes.
type Outbound interface {
	Marshal() ([]byte, error)
}

// Init is sent once, immediately after socket-open.
type Init struct{}

func (Init) Marshal() ([]byte, error) {
	return json.Marshal(map[string]string{"type": "conversation_initiation_client_data"})
}

// UserAudioChunk is the only outbound message without a type tag: one
// base64-encoded PCM16LE capture frame.
type UserAudioChunk struct {
	AudioBase64 string
}

func (m UserAudioChunk) Marshal() ([]byte, error) {
	return json.Marshal(map[string]string{"user_audio_chunk": m.AudioBase64})
}

// ContextualUpdate injects out-of-band text context into the conversation.
type ContextualUpdate struct {
	Text string
}

func (m ContextualUpdate) Marshal() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"contextual_update", m.Text})
}

// ClientToolResult replies to a client_tool_call. Exactly one of Result or
// Error is set; an error-tagged reply keeps the remote from hanging on a
// failed tool.
type ClientToolResult struct {
	ToolCallID string
	Result     string
	Error      string
}

func (m ClientToolResult) Marshal() ([]byte, error) {
	return json.Marshal(struct {
		Type       string `json:"type"`
		ToolCallID string `json:"tool_call_id"`
		Result     string `json:"result,omitempty"`
		Error      string `json:"error,omitempty"`
	}{"client_tool_response", m.ToolCallID, m.Result, m.Error})
}

// Pong echoes a ping's event id after the server-specified delay.
type Pong struct {
	EventID int64
}

func (m Pong) Marshal() ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		EventID int64  `json:"event_id"`
	}{"pong", m.EventID})
}

// UserActivity signals that the user may be about to speak or interrupt.
// Sent on recording start and on unmute.
type UserActivity struct{}

func (UserActivity) Marshal() ([]byte, error) {
	return json.Marshal(map[string]string{"type": "user_activity"})
}

// ConversationEnd announces an explicit client-side disconnect before the
// socket is closed.
type ConversationEnd struct{}

func (ConversationEnd) Marshal() ([]byte, error) {
	return json.Marshal(map[string]string{"type": "conversation_end"})
}
