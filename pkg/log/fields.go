package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Upstream API calls
	FieldUpstream = "upstream"
	FieldURL      = "url"

	// Actor
	FieldUserID = "user_id"
	FieldRole   = "role"

	// Chat
	FieldChatID    = "chat_id"
	FieldMessageID = "message_id"
	FieldClientID  = "client_id"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
