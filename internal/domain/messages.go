package domain

import "encoding/json"

// Realtime frame types sent by the console.
const (
	MsgTypeJoinChat  = "join_chat"
	MsgTypeLeaveChat = "leave_chat"
	MsgTypePing      = "ping"
)

// Realtime frame types received from the marketplace.
const (
	MsgTypeNewMessage = "new_message"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

// Frame types pushed to browser consoles.
const (
	MsgTypeState = "state"
)

// BaseMessage is the envelope shared by every realtime frame.
type BaseMessage struct {
	Type string `json:"type"`
}

// ChatRoomMessage asks the transport to join or leave a chat room.
type ChatRoomMessage struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// NewMessageEvent is pushed when a message is posted to a chat.
type NewMessageEvent struct {
	Type    string  `json:"type,omitempty"`
	ChatID  string  `json:"chat_id"`
	Message Message `json:"message"`
}

// ErrorMessage reports a transport-level failure.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage carries a store snapshot to browser consoles.
type StateMessage struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

// Error codes sent to browser consoles.
const (
	ErrCodeBadRequest = "BAD_REQUEST"
)

// NewErrorMessage builds an error frame.
func NewErrorMessage(code, message string) ErrorMessage {
	return ErrorMessage{Type: MsgTypeError, Code: code, Message: message}
}
