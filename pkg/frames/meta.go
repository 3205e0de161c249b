package frames

// Meta keys shared across capture, playback, and the conversation layer.
const (
	MetaConversationID = "conversation_id"
	MetaTraceID        = "trace_id"
	MetaEventID        = "event_id"
	MetaSource         = "source"
	MetaReason         = "reason"
	MetaIsFinal        = "is_final"
	MetaFormat         = "format"

	MetaToolCallID = "tool_call_id"
	MetaToolName   = "tool_name"
	MetaToolArgs   = "tool_args"
	MetaToolResult = "tool_result"
	MetaToolStatus = "tool_status"
	MetaToolError  = "tool_error"
)
