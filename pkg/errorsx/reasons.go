package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonMicPermissionDenied ReasonCode = "mic_permission_denied"
	ReasonMicUnavailable      ReasonCode = "mic_unavailable"

	ReasonTransportConnect ReasonCode = "transport_connect"
	ReasonTransportSend    ReasonCode = "transport_send"
	ReasonTransportClosed  ReasonCode = "transport_closed"

	ReasonEventParse      ReasonCode = "event_parse"
	ReasonAudioDecode     ReasonCode = "audio_decode"
	ReasonPlaybackStopped ReasonCode = "playback_stopped"

	ReasonToolExec    ReasonCode = "tool_exec"
	ReasonToolTimeout ReasonCode = "tool_timeout"
	ReasonToolUnknown ReasonCode = "tool_unknown"
)
