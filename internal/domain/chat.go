package domain

import (
	"strings"
	"time"
)

// Role is a marketplace participant role.
type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleTenant, RoleLandlord, RoleAdmin:
		return true
	}
	return false
}

// ParseRole normalises s into a Role; unknown values yield "".
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return ""
	}
	return r
}

// Participant is a member of a chat.
type Participant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
}

// LastMessage is the snapshot of a chat's newest message shown in the sidebar.
type LastMessage struct {
	MessageID  string    `json:"message_id,omitempty"`
	Content    string    `json:"content"`
	SenderRole Role      `json:"sender_role"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chat is a conversation between a tenant and a landlord, created server-side.
type Chat struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	PropertyID   string        `json:"property_id,omitempty"`
	LastMessage  *LastMessage  `json:"last_message,omitempty"`
	IsActive     bool          `json:"is_active"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Participant returns the first participant with the given role.
func (c *Chat) Participant(role Role) (Participant, bool) {
	for _, p := range c.Participants {
		if p.Role == role {
			return p, true
		}
	}
	return Participant{}, false
}

// Message is a single chat message. IsMine and IsPrivate are derived on
// the console and never sent back to the API.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderRole Role      `json:"sender_role"`
	Content    string    `json:"content"`
	VisibleTo  []Role    `json:"visible_to,omitempty"`
	TaggedRole Role      `json:"tagged_role,omitempty"`
	IsMine     bool      `json:"is_mine"`
	IsPrivate  bool      `json:"is_private"`
	CreatedAt  time.Time `json:"created_at"`
}

// Snapshot returns the sidebar snapshot for m.
func (m *Message) Snapshot() *LastMessage {
	return &LastMessage{
		MessageID:  m.ID,
		Content:    m.Content,
		SenderRole: m.SenderRole,
		CreatedAt:  m.CreatedAt,
	}
}
