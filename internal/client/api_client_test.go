package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odlemon/khaya-portal-sub001/internal/config"
	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) { return s.token, s.err }

func newTestClient(t *testing.T, h http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewAPIClient(config.APIConfig{BaseURL: srv.URL + "/", Timeout: 5 * time.Second, PageSize: 10}, staticTokens{token: "tok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestListChats(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/chat/admin/all-chats", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get(log.HeaderRequestID))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"chats": []map[string]interface{}{
					{"id": "c1", "participants": []map[string]string{{"user_id": "t1", "role": "tenant"}}, "is_active": true},
				},
			},
		})
	})

	chats, err := c.ListChats(context.Background(), 2, 0)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)
	p, ok := chats[0].Participant(domain.RoleTenant)
	assert.True(t, ok)
	assert.Equal(t, "t1", p.UserID)
}

func TestGetChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/c1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"chat":     map[string]interface{}{"id": "c1"},
				"messages": []map[string]interface{}{{"id": "m1", "sender_role": "landlord", "content": "hi", "tagged_role": "tenant"}},
			},
		})
	})

	chat, msgs, err := c.GetChat(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", chat.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleTenant, msgs[0].TaggedRole)
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/c1/messages", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["content"])
		writeJSON(w, http.StatusCreated, map[string]interface{}{"data": map[string]interface{}{"id": "m5", "content": "hello"}})
	})

	msg, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m5", msg.ID)

	_, err = c.SendMessage(context.Background(), "c1", " ")
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = c.SendMessage(context.Background(), "a/b", "x")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
		want   string
	}{
		{name: "message field", status: http.StatusBadRequest, body: map[string]string{"message": "Already joined"}, want: "Already joined"},
		{name: "error string", status: http.StatusForbidden, body: map[string]string{"error": "forbidden"}, want: "forbidden"},
		{name: "error object", status: http.StatusNotFound, body: map[string]interface{}{"error": map[string]string{"message": "Chat not found"}}, want: "Chat not found"},
		{name: "no body", status: http.StatusBadGateway, body: nil, want: "Bad Gateway"},
		{name: "success false", status: http.StatusOK, body: map[string]interface{}{"success": false, "message": "already a member"}, want: "already a member"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			err := c.JoinChat(context.Background(), "c1")
			require.Error(t, err)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.Equal(t, "/chat/admin/join/c1", apiErr.Path)
		})
	}
}

func TestIsAlreadyJoined(t *testing.T) {
	assert.True(t, IsAlreadyJoined(&APIError{Status: 400, Message: "User ALREADY joined"}))
	assert.False(t, IsAlreadyJoined(&APIError{Status: 403, Message: "forbidden"}))
	assert.False(t, IsAlreadyJoined(nil))
	assert.True(t, IsNotFound(&APIError{Status: 404}))
}

func TestTokenErrorStopsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	sentinel := assert.AnError
	c := NewAPIClient(config.APIConfig{BaseURL: srv.URL}, staticTokens{err: sentinel})
	_, err := c.ListChats(context.Background(), 1, 1)
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, called)
}

func TestReview(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = nil
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
	ctx := context.Background()

	require.NoError(t, c.Review(ctx, ResourceEscrowTransaction, "e1", DecisionReject, "duplicate"))
	assert.Equal(t, "/admin/escrow-transactions/e1/reject", gotPath)
	assert.Equal(t, "duplicate", gotBody["reason"])

	require.NoError(t, c.Review(ctx, ResourceDocument, "d1", DecisionApprove, ""))
	assert.Equal(t, "/admin/documents/d1/approve", gotPath)

	assert.Error(t, c.Review(ctx, ResourceDocument, "d1", DecisionReject, " "))
	assert.Error(t, c.Review(ctx, Resource("tenants"), "t1", DecisionApprove, ""))
}

func TestRateLimitHonoursDeadline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]interface{}{"chats": []interface{}{}}})
	}))
	defer srv.Close()

	c := NewAPIClient(config.APIConfig{BaseURL: srv.URL, Timeout: time.Second, RateLimit: 0.01, Burst: 1}, staticTokens{token: "tok"})

	_, err := c.ListChats(context.Background(), 1, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListChats(ctx, 1, 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
