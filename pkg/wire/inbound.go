// Package wire defines the JSON message unions exchanged with the
// voice-agent endpoint: one closed tagged variant per inbound event type and
// one per outbound message. Parsing is a two-pass envelope decode so a
// malformed or unknown frame never takes down the read loop.
package wire

import (
	"encoding/json"

	"github.com/harunnryd/amira/pkg/errorsx"
)

type EventType string

const (
	EventMetadata                EventType = "conversation_initiation_metadata"
	EventUserTranscript          EventType = "user_transcript"
	EventAgentResponse           EventType = "agent_response"
	EventTentativeAgentResponse  EventType = "internal_tentative_agent_response"
	EventAgentResponseCorrection EventType = "agent_response_correction"
	EventAudio                   EventType = "audio"
	EventInterruption            EventType = "interruption"
	EventPing                    EventType = "ping"
	EventClientToolCall          EventType = "client_tool_call"

	// EventDisconnected is fabricated by the transport when the socket
	// closes; it never arrives on the wire.
	EventDisconnected EventType = "disconnected"

	EventUnknown EventType = "unknown"
)

// InboundEvent is the closed union of everything the agent can send.
type InboundEvent interface {
	EventType() EventType
}

type Metadata struct {
	Type  EventType     `json:"type"`
	Event MetadataEvent `json:"conversation_initiation_metadata_event"`
}

type MetadataEvent struct {
	ConversationID   string `json:"conversation_id"`
	AgentAudioFormat string `json:"agent_output_audio_format,omitempty"`
	UserAudioFormat  string `json:"user_input_audio_format,omitempty"`
}

func (Metadata) EventType() EventType { return EventMetadata }

type UserTranscript struct {
	Type  EventType           `json:"type"`
	Event UserTranscriptEvent `json:"user_transcription_event"`
}

type UserTranscriptEvent struct {
	Text string `json:"user_transcript"`
}

func (UserTranscript) EventType() EventType { return EventUserTranscript }

// AgentResponse carries the final text of an agent turn. Partial text
// arrives as TentativeAgentResponse events while the turn is in flight.
type AgentResponse struct {
	Type  EventType          `json:"type"`
	Event AgentResponseEvent `json:"agent_response_event"`
}

type AgentResponseEvent struct {
	Text string `json:"agent_response"`
}

func (AgentResponse) EventType() EventType { return EventAgentResponse }

type TentativeAgentResponse struct {
	Type  EventType                   `json:"type"`
	Event TentativeAgentResponseEvent `json:"tentative_agent_response_internal_event"`
}

type TentativeAgentResponseEvent struct {
	Text string `json:"tentative_agent_response"`
}

func (TentativeAgentResponse) EventType() EventType { return EventTentativeAgentResponse }

type AgentResponseCorrection struct {
	Type  EventType                    `json:"type"`
	Event AgentResponseCorrectionEvent `json:"agent_response_correction_event"`
}

type AgentResponseCorrectionEvent struct {
	Original  string `json:"original_agent_response"`
	Corrected string `json:"corrected_agent_response"`
}

func (AgentResponseCorrection) EventType() EventType { return EventAgentResponseCorrection }

// Audio chunks carry a monotonically increasing event id; the conversation
// layer uses it to discard chunks that predate an interruption.
type Audio struct {
	Type  EventType  `json:"type"`
	Event AudioEvent `json:"audio_event"`
}

type AudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int64  `json:"event_id"`
}

func (Audio) EventType() EventType { return EventAudio }

type Interruption struct {
	Type  EventType         `json:"type"`
	Event InterruptionEvent `json:"interruption_event"`
}

type InterruptionEvent struct {
	EventID int64  `json:"event_id"`
	Reason  string `json:"reason,omitempty"`
}

func (Interruption) EventType() EventType { return EventInterruption }

type Ping struct {
	Type  EventType `json:"type"`
	Event PingEvent `json:"ping_event"`
}

type PingEvent struct {
	EventID int64 `json:"event_id"`
	// PingMS is a server-dictated pacing hint: the pong must be sent after
	// this many milliseconds, not immediately.
	PingMS int64 `json:"ping_ms,omitempty"`
}

func (Ping) EventType() EventType { return EventPing }

type ClientToolCall struct {
	Type  EventType           `json:"type"`
	Event ClientToolCallEvent `json:"client_tool_call"`
}

type ClientToolCallEvent struct {
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (ClientToolCall) EventType() EventType { return EventClientToolCall }

// Disconnected closes the union: the transport emits exactly one when its
// read loop exits. Err is nil on a clean remote close.
type Disconnected struct {
	Reason string
	Err    error
}

func (Disconnected) EventType() EventType { return EventDisconnected }

// Unknown preserves the raw payload of an unrecognized event type so callers
// can log and move on.
type Unknown struct {
	Type EventType
	Raw  json.RawMessage
}

func (Unknown) EventType() EventType { return EventUnknown }

type envelope struct {
	Type string `json:"type"`
}

// ParseInbound decodes one wire frame into exactly one InboundEvent.
// Unrecognized types yield Unknown rather than an error.
func ParseInbound(data []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonEventParse)
	}

	var (
		ev  InboundEvent
		err error
	)
	switch EventType(env.Type) {
	case EventMetadata:
		var m Metadata
		err = json.Unmarshal(data, &m)
		ev = m
	case EventUserTranscript:
		var m UserTranscript
		err = json.Unmarshal(data, &m)
		ev = m
	case EventAgentResponse:
		var m AgentResponse
		err = json.Unmarshal(data, &m)
		ev = m
	case EventTentativeAgentResponse:
		var m TentativeAgentResponse
		err = json.Unmarshal(data, &m)
		ev = m
	case EventAgentResponseCorrection:
		var m AgentResponseCorrection
		err = json.Unmarshal(data, &m)
		ev = m
	case EventAudio:
		var m Audio
		err = json.Unmarshal(data, &m)
		ev = m
	case EventInterruption:
		var m Interruption
		err = json.Unmarshal(data, &m)
		ev = m
	case EventPing:
		var m Ping
		err = json.Unmarshal(data, &m)
		ev = m
	case EventClientToolCall:
		var m ClientToolCall
		err = json.Unmarshal(data, &m)
		ev = m
	default:
		return Unknown{Type: EventType(env.Type), Raw: append(json.RawMessage(nil), data...)}, nil
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonEventParse)
	}
	return ev, nil
}
