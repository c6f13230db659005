package audit

import (
	"context"

	"github.com/odlemon/khaya-portal-sub001/pkg/log"
)

// Audit actions recorded by the console.
const (
	ActionSessionSet     = "console.session_set"
	ActionSessionCleared = "console.session_cleared"
	ActionJoinChat       = "console.join_chat"
	ActionOpenChat       = "console.open_chat"
	ActionLeaveChat      = "console.leave_chat"
	ActionSendMessage    = "console.send_message"
	ActionApprove        = "console.approve"
	ActionReject         = "console.reject"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit entry via the context logger.
func Log(ctx context.Context, action, userID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit entry with an extra detail field.
func LogWithDetail(ctx context.Context, action, userID, targetID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Str(FieldDetail, detail).
		Msg(msg)
}
