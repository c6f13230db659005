// Package store keeps the console's chat session: the admin chat list, the
// open conversation and its messages. REST results and realtime pushes are
// merged into one ordered list deduplicated by message id.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/odlemon/khaya-portal-sub001/internal/client"
	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/metrics"
)

var (
	// ErrStale is returned by a load whose result was superseded by a newer
	// request or by ClearCurrentChat.
	ErrStale = errors.New("store: result superseded by a newer request")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: closed")
)

const (
	defaultPageSize = 20
	eventBuffer     = 64
)

// API is the subset of the marketplace REST API used by the store.
type API interface {
	ListChats(ctx context.Context, page, limit int) ([]domain.Chat, error)
	JoinChat(ctx context.Context, chatID string) error
	GetChat(ctx context.Context, chatID string) (*domain.Chat, []domain.Message, error)
	SendMessage(ctx context.Context, chatID, content string) (*domain.Message, error)
}

// Socket is the realtime transport: chat rooms plus a typed stream of
// new-message events.
type Socket interface {
	JoinChat(chatID string) error
	LeaveChat(chatID string) error
	Events(buffer int) (<-chan domain.NewMessageEvent, func())
}

// ActivityFunc is called after a chat's last message changed locally.
type ActivityFunc func(chatID string, last domain.LastMessage, at time.Time)

// Store is the single source of truth for the chat session. All mutations
// go through commit; readers get immutable snapshots.
type Store struct {
	api      API
	socket   Socket
	pageSize int

	mu       sync.Mutex
	state    State
	version  uint64
	gen      uint64 // LoadChatByID generation
	listGen  uint64 // LoadAllChats generation
	room     string
	selfID   string
	closed   bool
	unsub    func()
	activity ActivityFunc

	listeners map[uint64]func(State)
	nextID    uint64

	notifyMu sync.Mutex
	notified uint64
}

// New creates a store. pageSize <= 0 selects the default page size.
func New(api API, socket Socket, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Store{
		api:       api,
		socket:    socket,
		pageSize:  pageSize,
		state:     emptyState(),
		listeners: make(map[uint64]func(State)),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every committed snapshot. fn must not
// call back into the store's mutating methods.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// OnActivity sets the callback invoked when a chat's last message changes.
func (s *Store) OnActivity(fn ActivityFunc) {
	s.mu.Lock()
	s.activity = fn
	s.mu.Unlock()
}

// SetSelf records the viewing admin's user id and re-derives IsMine for
// the open conversation. An empty id falls back to the role rule.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	if s.closed || s.selfID == userID {
		s.mu.Unlock()
		return
	}
	s.selfID = userID
	snap, fns := s.commitLocked(withSelf(s.state, userID))
	s.mu.Unlock()
	s.notify(snap, fns)
}

// LoadAllChats replaces the chat list with the given page. On failure the
// error is recorded in the state, the previous list is kept and the error
// is returned.
func (s *Store) LoadAllChats(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.listGen++
	gen := s.listGen
	snap, fns := s.commitLocked(withLoading(s.state))
	s.mu.Unlock()
	s.notify(snap, fns)

	chats, err := s.api.ListChats(ctx, page, s.pageSize)

	s.mu.Lock()
	if s.closed || gen != s.listGen {
		s.mu.Unlock()
		metrics.StoreDiscards.WithLabelValues("stale").Inc()
		if err != nil {
			return err
		}
		return ErrStale
	}
	if err != nil {
		snap, fns = s.commitLocked(withError(s.state, err))
	} else {
		snap, fns = s.commitLocked(withChats(s.state, chats))
	}
	s.mu.Unlock()
	s.notify(snap, fns)

	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Int("page", page).Msg("failed to load chats")
		return err
	}
	l := log.Ctx(ctx)
	l.Debug().Int("page", page).Int("count", len(chats)).Msg("chats loaded")
	return nil
}

// JoinChat registers the admin's presence in a chat. An "already joined"
// failure counts as success. Errors are returned, never stored.
func (s *Store) JoinChat(ctx context.Context, chatID string) error {
	err := s.api.JoinChat(ctx, chatID)
	if err == nil {
		return nil
	}
	if client.IsAlreadyJoined(err) {
		l := log.Ctx(ctx)
		l.Debug().Str(log.FieldChatID, chatID).Msg("chat already joined")
		return nil
	}
	return err
}

// LoadChatByID joins chatID, fetches its detail and history and makes it
// the open conversation. Only the most recent call may commit; earlier
// calls that finish later return ErrStale.
func (s *Store) LoadChatByID(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	snap, fns := s.commitLocked(withLoading(s.state))
	s.mu.Unlock()
	s.notify(snap, fns)

	chat, messages, err := s.fetchChat(ctx, chatID)

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		metrics.StoreDiscards.WithLabelValues("stale").Inc()
		if err != nil {
			return err
		}
		return ErrStale
	}
	if err != nil {
		snap, fns = s.commitLocked(withError(s.state, err))
		s.mu.Unlock()
		s.notify(snap, fns)
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldChatID, chatID).Msg("failed to load chat")
		return err
	}

	annotated := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		annotated = append(annotated, annotate(m, chat.ID, s.selfID))
	}

	previous := s.room
	s.room = chat.ID
	if previous != "" && previous != chat.ID {
		s.leaveLocked(ctx, previous)
	}
	if previous != chat.ID {
		if err := s.socket.JoinChat(chat.ID); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldChatID, chat.ID).Msg("failed to join realtime room")
		}
	}
	snap, fns = s.commitLocked(withCurrent(s.state, *chat, annotated))
	s.mu.Unlock()
	s.notify(snap, fns)

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldChatID, chat.ID).Int("messages", len(annotated)).Msg("chat loaded")
	return nil
}

func (s *Store) fetchChat(ctx context.Context, chatID string) (*domain.Chat, []domain.Message, error) {
	if err := s.JoinChat(ctx, chatID); err != nil {
		return nil, nil, err
	}
	chat, messages, err := s.api.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	if chat.ID == "" {
		chat.ID = chatID
	}
	return chat, messages, nil
}

// SendMessage posts content to chatID. The confirmed message is appended
// unless the realtime channel delivered it first. Errors are returned and
// leave the state untouched.
func (s *Store) SendMessage(ctx context.Context, chatID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, client.ErrEmptyContent
	}

	msg, err := s.api.SendMessage(ctx, chatID, content)
	if err != nil {
		return nil, err
	}

	m := annotate(*msg, chatID, "")
	m.IsMine = true

	s.apply(ctx, m)
	return &m, nil
}

// InitSocketListeners starts consuming realtime events until ctx is done
// or the returned function is called. Further calls return the handle of
// the running listener.
func (s *Store) InitSocketListeners(ctx context.Context) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return s.unsub
	}
	if s.closed {
		return func() {}
	}

	events, cancel := s.socket.Events(eventBuffer)
	stop := make(chan struct{})
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			cancel()
			close(stop)
			s.mu.Lock()
			s.unsub = nil
			s.mu.Unlock()
		})
	}
	s.unsub = unsub

	go func() {
		defer unsub()
		for {
			select {
			case ev := <-events:
				s.handleEvent(ctx, ev)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return unsub
}

func (s *Store) handleEvent(ctx context.Context, ev domain.NewMessageEvent) {
	s.mu.Lock()
	m := annotate(ev.Message, ev.ChatID, s.selfID)
	s.mu.Unlock()
	s.apply(ctx, m)
}

// apply merges m into the open conversation and the chat list.
func (s *Store) apply(ctx context.Context, m domain.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next, appended := withMessage(s.state, m)
	if !appended && s.state.Current != nil && s.state.Current.ID == m.ChatID {
		metrics.StoreDiscards.WithLabelValues("duplicate").Inc()
	}
	next, changed := withChatActivity(next, m.ChatID, *m.Snapshot(), m.CreatedAt)
	if !appended && !changed {
		s.mu.Unlock()
		return
	}
	snap, fns := s.commitLocked(next)
	activity := s.activity
	s.mu.Unlock()
	s.notify(snap, fns)

	if appended {
		l := log.Ctx(ctx)
		l.Debug().
			Str(log.FieldChatID, m.ChatID).
			Str(log.FieldMessageID, m.ID).
			Msg("message appended")
	}
	if changed && activity != nil {
		activity(m.ChatID, *m.Snapshot(), m.CreatedAt)
	}
}

// ApplyActivity updates a chat's last-message snapshot from an activity
// event published by another console instance.
func (s *Store) ApplyActivity(chatID string, last domain.LastMessage, at time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next, changed := withChatActivity(s.state, chatID, last, at)
	if !changed {
		s.mu.Unlock()
		return
	}
	snap, fns := s.commitLocked(next)
	s.mu.Unlock()
	s.notify(snap, fns)
}

// ClearCurrentChat leaves the open conversation's realtime room and resets
// the conversation. Pending loads are discarded. Calling it with nothing
// open is a no-op.
func (s *Store) ClearCurrentChat(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	room := s.room
	s.room = ""
	if room == "" && s.state.Current == nil && !s.state.Loading {
		s.mu.Unlock()
		return
	}
	if room != "" {
		s.leaveLocked(ctx, room)
	}
	next := withoutCurrent(s.state)
	next.Loading = false
	snap, fns := s.commitLocked(next)
	s.mu.Unlock()
	s.notify(snap, fns)
}

// Close stops the realtime listener and discards every later result. It
// does not leave the open room; call ClearCurrentChat first for that.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	s.listGen++
	unsub := s.unsub
	s.listeners = make(map[uint64]func(State))
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	return nil
}

func (s *Store) leaveLocked(ctx context.Context, chatID string) {
	if err := s.socket.LeaveChat(chatID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldChatID, chatID).Msg("failed to leave realtime room")
	}
}

func (s *Store) commitLocked(next State) (State, []func(State)) {
	s.version++
	next.version = s.version
	s.state = next
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return next, fns
}

func (s *Store) notify(snap State, fns []func(State)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.version <= s.notified {
		return
	}
	s.notified = snap.version
	for _, fn := range fns {
		fn(snap)
	}
}
