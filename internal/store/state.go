package store

import (
	"time"

	"github.com/odlemon/khaya-portal-sub001/internal/domain"
)

// State is an immutable snapshot of the console's chat session. Reducers
// never modify a State in place; callers must not modify its slices.
type State struct {
	Chats    []domain.Chat    `json:"chats"`
	Current  *domain.Chat     `json:"current,omitempty"`
	Messages []domain.Message `json:"messages"`
	Loading  bool             `json:"loading"`
	Error    string           `json:"error,omitempty"`

	version uint64
}

func emptyState() State {
	return State{
		Chats:    []domain.Chat{},
		Messages: []domain.Message{},
	}
}

func withLoading(s State) State {
	s.Loading = true
	return s
}

func withError(s State, err error) State {
	s.Loading = false
	s.Error = err.Error()
	return s
}

func withChats(s State, chats []domain.Chat) State {
	if chats == nil {
		chats = []domain.Chat{}
	}
	s.Chats = chats
	s.Loading = false
	s.Error = ""
	return s
}

func withCurrent(s State, chat domain.Chat, messages []domain.Message) State {
	list := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if !hasMessage(list, m.ID) {
			list = append(list, m)
		}
	}
	s.Current = &chat
	s.Messages = list
	s.Loading = false
	s.Error = ""
	return s
}

func withoutCurrent(s State) State {
	s.Current = nil
	s.Messages = []domain.Message{}
	return s
}

// withMessage appends m to the active chat's list unless its id is
// already present or m belongs to another chat.
func withMessage(s State, m domain.Message) (State, bool) {
	if s.Current == nil || s.Current.ID != m.ChatID || hasMessage(s.Messages, m.ID) {
		return s, false
	}
	list := make([]domain.Message, len(s.Messages), len(s.Messages)+1)
	copy(list, s.Messages)
	s.Messages = append(list, m)
	return s, true
}

// withChatActivity replaces the last-message snapshot of chatID in the chat
// list and on the active chat. Repeating the current snapshot is a no-op.
func withChatActivity(s State, chatID string, last domain.LastMessage, at time.Time) (State, bool) {
	idx := -1
	for i := range s.Chats {
		if s.Chats[i].ID == chatID {
			idx = i
			break
		}
	}

	changed := false
	if idx >= 0 && advances(s.Chats[idx].LastMessage, last) {
		chats := make([]domain.Chat, len(s.Chats))
		copy(chats, s.Chats)
		c := chats[idx]
		snap := last
		c.LastMessage = &snap
		if !at.IsZero() {
			c.UpdatedAt = at
		}
		chats[idx] = c
		s.Chats = chats
		changed = true
	}

	if s.Current != nil && s.Current.ID == chatID && advances(s.Current.LastMessage, last) {
		c := *s.Current
		snap := last
		c.LastMessage = &snap
		if !at.IsZero() {
			c.UpdatedAt = at
		}
		s.Current = &c
		changed = true
	}
	return s, changed
}

// withSelf re-derives IsMine for the active chat's messages.
func withSelf(s State, selfID string) State {
	list := make([]domain.Message, len(s.Messages))
	for i, m := range s.Messages {
		m.IsMine = isMine(m, selfID)
		list[i] = m
	}
	s.Messages = list
	return s
}

func advances(prev *domain.LastMessage, next domain.LastMessage) bool {
	if prev == nil {
		return true
	}
	if next.MessageID != "" {
		return prev.MessageID != next.MessageID
	}
	return *prev != next
}

func hasMessage(list []domain.Message, id string) bool {
	for i := range list {
		if list[i].ID == id {
			return true
		}
	}
	return false
}

// isMine reports whether m was written by the viewing admin. Without a
// known self id every landlord or admin message counts as outgoing.
func isMine(m domain.Message, selfID string) bool {
	if selfID != "" {
		return m.SenderID == selfID
	}
	return m.SenderRole == domain.RoleLandlord || m.SenderRole == domain.RoleAdmin
}

func annotate(m domain.Message, chatID, selfID string) domain.Message {
	if m.ChatID == "" {
		m.ChatID = chatID
	}
	m.IsMine = isMine(m, selfID)
	m.IsPrivate = m.TaggedRole != ""
	return m
}
