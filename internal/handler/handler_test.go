package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odlemon/khaya-portal-sub001/internal/client"
	"github.com/odlemon/khaya-portal-sub001/internal/config"
	"github.com/odlemon/khaya-portal-sub001/internal/credential"
	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/internal/hub"
	"github.com/odlemon/khaya-portal-sub001/internal/store"
	"github.com/odlemon/khaya-portal-sub001/pkg/jwt"
	"github.com/odlemon/khaya-portal-sub001/pkg/middleware"
)

type fakeStore struct {
	mu      sync.Mutex
	state   store.State
	pages   []int
	loadErr error
	openErr error
	joinErr error
	sendErr error
	cleared int
}

func (f *fakeStore) Snapshot() store.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStore) LoadAllChats(_ context.Context, page int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, page)
	if f.loadErr != nil {
		return f.loadErr
	}
	f.state.Chats = []domain.Chat{{ID: "c1"}}
	return nil
}

func (f *fakeStore) JoinChat(context.Context, string) error { return f.joinErr }

func (f *fakeStore) LoadChatByID(_ context.Context, chatID string) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.state.Current = &domain.Chat{ID: chatID}
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) SendMessage(_ context.Context, chatID, content string) (*domain.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &domain.Message{ID: "m1", ChatID: chatID, Content: content, IsMine: true}, nil
}

func (f *fakeStore) ClearCurrentChat(context.Context) {
	f.mu.Lock()
	f.cleared++
	f.state.Current = nil
	f.mu.Unlock()
}

type fakeSessions struct {
	token    string
	tokenErr error
	identity *jwt.Identity
	setErr   error
	cleared  bool
}

func (f *fakeSessions) Token(context.Context) (string, error) { return f.token, f.tokenErr }

func (f *fakeSessions) Identity() *jwt.Identity { return f.identity }

func (f *fakeSessions) Set(_ context.Context, token string) (*jwt.Identity, error) {
	if f.setErr != nil {
		return nil, f.setErr
	}
	f.token = token
	return f.identity, nil
}

func (f *fakeSessions) Clear(context.Context) error {
	f.cleared = true
	return nil
}

type review struct {
	resource client.Resource
	id       string
	decision client.Decision
	reason   string
}

type fakeReviewer struct {
	calls []review
	err   error
}

func (f *fakeReviewer) Review(_ context.Context, resource client.Resource, id string, decision client.Decision, reason string) error {
	f.calls = append(f.calls, review{resource, id, decision, reason})
	return f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type fixture struct {
	router   *gin.Engine
	store    *fakeStore
	sessions *fakeSessions
	reviewer *fakeReviewer
}

func newFixture() *fixture {
	gin.SetMode(gin.TestMode)
	f := &fixture{
		store:    &fakeStore{state: store.State{Chats: []domain.Chat{}, Messages: []domain.Message{}}},
		sessions: &fakeSessions{token: "tok", identity: &jwt.Identity{UserID: "admin-1", Role: "admin"}},
		reviewer: &fakeReviewer{},
	}
	mw := middleware.NewSessionMiddleware(f.sessions, credential.ErrAuthNotReady, 5*time.Second)
	f.router = gin.New()
	NewHandler(f.store, f.sessions, f.reviewer, mw, 5*time.Second).RegisterRoutes(f.router)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestChatsRequireSession(t *testing.T) {
	f := newFixture()
	f.sessions.tokenErr = credential.ErrAuthNotReady

	w, env := f.do(t, http.MethodGet, "/api/v1/chats", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
	require.NotNil(t, env.Error)
	assert.Equal(t, "AUTH_NOT_READY", env.Error.Code)
	assert.Empty(t, f.store.pages)
}

func TestListChats(t *testing.T) {
	f := newFixture()

	w, env := f.do(t, http.MethodGet, "/api/v1/chats?page=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Equal(t, []int{3}, f.store.pages)

	var state store.State
	require.NoError(t, json.Unmarshal(env.Data, &state))
	require.Len(t, state.Chats, 1)
	assert.Equal(t, "c1", state.Chats[0].ID)

	f.do(t, http.MethodGet, "/api/v1/chats?page=0", "")
	assert.Equal(t, []int{3, 1}, f.store.pages)
}

func TestUpstreamErrors(t *testing.T) {
	f := newFixture()

	f.store.loadErr = &client.APIError{Status: http.StatusInternalServerError, Message: "boom"}
	w, env := f.do(t, http.MethodGet, "/api/v1/chats", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "boom", env.Error.Message)

	f.store.openErr = &client.APIError{Status: http.StatusNotFound, Message: "Chat not found"}
	w, env = f.do(t, http.MethodPost, "/api/v1/chats/c9/open", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Equal(t, "Chat not found", env.Error.Message)

	f.store.openErr = &client.APIError{Status: http.StatusForbidden, Message: "Forbidden"}
	w, env = f.do(t, http.MethodPost, "/api/v1/chats/c9/open", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "UPSTREAM_ERROR", env.Error.Code)

	f.store.openErr = store.ErrStale
	w, _ = f.do(t, http.MethodPost, "/api/v1/chats/c9/open", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	f.store.joinErr = errors.New("dial tcp: connection refused")
	w, _ = f.do(t, http.MethodPost, "/api/v1/chats/c9/join", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestOpenAndCloseChat(t *testing.T) {
	f := newFixture()

	w, env := f.do(t, http.MethodPost, "/api/v1/chats/c7/open", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state store.State
	require.NoError(t, json.Unmarshal(env.Data, &state))
	require.NotNil(t, state.Current)
	assert.Equal(t, "c7", state.Current.ID)

	w, _ = f.do(t, http.MethodPost, "/api/v1/chats/current/close", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.store.cleared)
	assert.Nil(t, f.store.Snapshot().Current)

	w, _ = f.do(t, http.MethodPost, "/api/v1/chats/c7/join", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSendMessage(t *testing.T) {
	f := newFixture()

	w, env := f.do(t, http.MethodPost, "/api/v1/chats/c1/messages", `{"content":"hi @tenant"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "m1", msg.ID)
	assert.True(t, msg.IsMine)

	w, _ = f.do(t, http.MethodPost, "/api/v1/chats/c1/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.store.sendErr = client.ErrEmptyContent
	w, _ = f.do(t, http.MethodPost, "/api/v1/chats/c1/messages", `{"content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMentionEndpoints(t *testing.T) {
	f := newFixture()

	w, env := f.do(t, http.MethodPost, "/api/v1/mention/analyze", `{"text":"Hello @lan"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Open    bool   `json:"open"`
		Term    string `json:"term"`
		Private bool   `json:"private"`
		Options []struct {
			Role string `json:"role"`
		} `json:"options"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Open)
	assert.Equal(t, "lan", res.Term)
	require.Len(t, res.Options, 1)
	assert.Equal(t, "landlord", res.Options[0].Role)
	assert.False(t, res.Private)

	w, env = f.do(t, http.MethodPost, "/api/v1/mention/insert", `{"text":"Hi @te","cursor":6,"role":"tenant"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var ins insertResponse
	require.NoError(t, json.Unmarshal(env.Data, &ins))
	assert.Equal(t, insertResponse{Text: "Hi @tenant ", Cursor: 11, Inserted: true}, ins)

	w, env = f.do(t, http.MethodPost, "/api/v1/mention/insert", `{"text":"@landlord hi","role":"tenant"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &ins))
	assert.False(t, ins.Inserted)
	assert.Equal(t, "@landlord hi", ins.Text)

	w, _ = f.do(t, http.MethodPost, "/api/v1/mention/insert", `{"text":"@","role":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviews(t *testing.T) {
	f := newFixture()

	w, _ := f.do(t, http.MethodPost, "/api/v1/reviews/payment-requests/p1/approve", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/reviews/documents/d1/reject", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/reviews/documents/d1/reject", `{"reason":"blurry scan"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/reviews/tenants/t1/approve", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, []review{
		{client.ResourcePaymentRequest, "p1", client.DecisionApprove, ""},
		{client.ResourceDocument, "d1", client.DecisionReject, "blurry scan"},
	}, f.reviewer.calls)
}

func TestSession(t *testing.T) {
	f := newFixture()

	w, env := f.do(t, http.MethodPut, "/api/v1/session", `{"token":"abc"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var sess sessionResponse
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, "admin-1", sess.UserID)

	w, env = f.do(t, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	sess = sessionResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, "admin-1", sess.UserID)
	assert.Equal(t, "admin", sess.Role)

	f.sessions.setErr = jwt.ErrInvalidToken
	w, _ = f.do(t, http.MethodPut, "/api/v1/session", `{"token":"garbage"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodDelete, "/api/v1/session", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, f.sessions.cleared)
	assert.Equal(t, 1, f.store.cleared)
}

func TestConsoleWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.WebSocketConfig{
		PingInterval:   time.Minute,
		PongWait:       time.Minute,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}
	h := hub.NewHub(cfg)
	go h.Run(ctx)

	st := &fakeStore{state: store.State{Chats: []domain.Chat{{ID: "c1"}}, Messages: []domain.Message{}}}
	r := gin.New()
	NewWSHandler(h, st, cfg).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/console/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readFrame := func() map[string]json.RawMessage {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var frame map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	}

	first := readFrame()
	assert.JSONEq(t, `"state"`, string(first["type"]))
	assert.Contains(t, string(first["state"]), `"c1"`)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.JSONEq(t, `"pong"`, string(readFrame()["type"]))

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.BroadcastState(store.State{Chats: []domain.Chat{{ID: "c2"}}}))
	next := readFrame()
	assert.JSONEq(t, `"state"`, string(next["type"]))
	assert.Contains(t, string(next["state"]), `"c2"`)
}

type probe bool

func (p probe) Connected() bool { return bool(p) }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler(probe(false), func() int { return 2 }).RegisterRoutes(r)

	for _, path := range []string{"/health", "/healthz"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, false, body["realtime_connected"])
		assert.Equal(t, float64(2), body["consoles"])
	}
}
