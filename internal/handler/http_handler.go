package handler

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/odlemon/khaya-portal-sub001/internal/audit"
	"github.com/odlemon/khaya-portal-sub001/internal/client"
	"github.com/odlemon/khaya-portal-sub001/internal/credential"
	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/internal/mention"
	"github.com/odlemon/khaya-portal-sub001/internal/store"
	"github.com/odlemon/khaya-portal-sub001/pkg/jwt"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/middleware"
	"github.com/odlemon/khaya-portal-sub001/pkg/response"
)

// ChatStore is the chat session the console API drives.
type ChatStore interface {
	Snapshot() store.State
	LoadAllChats(ctx context.Context, page int) error
	JoinChat(ctx context.Context, chatID string) error
	LoadChatByID(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, chatID, content string) (*domain.Message, error)
	ClearCurrentChat(ctx context.Context)
}

// SessionManager stores and clears the upstream session token.
type SessionManager interface {
	Set(ctx context.Context, token string) (*jwt.Identity, error)
	Clear(ctx context.Context) error
}

// Reviewer approves or rejects marketplace records.
type Reviewer interface {
	Review(ctx context.Context, resource client.Resource, id string, decision client.Decision, reason string) error
}

// Handler handles the console's HTTP API.
type Handler struct {
	store          ChatStore
	sessions       SessionManager
	reviewer       Reviewer
	authMiddleware *middleware.SessionMiddleware
	retryAfter     time.Duration
}

// NewHandler creates a new HTTP handler.
func NewHandler(st ChatStore, sessions SessionManager, reviewer Reviewer, authMiddleware *middleware.SessionMiddleware, retryAfter time.Duration) *Handler {
	return &Handler{
		store:          st,
		sessions:       sessions,
		reviewer:       reviewer,
		authMiddleware: authMiddleware,
		retryAfter:     retryAfter,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/session", h.authMiddleware.RequireSession(), h.GetSession)
		api.PUT("/session", h.PutSession)
		api.DELETE("/session", h.DeleteSession)

		m := api.Group("/mention")
		{
			m.POST("/analyze", h.AnalyzeMention)
			m.POST("/insert", h.InsertMention)
		}

		chats := api.Group("/chats", h.authMiddleware.RequireSession())
		{
			chats.GET("", h.ListChats)
			chats.GET("/current", h.CurrentChat)
			chats.POST("/current/close", h.CloseChat)
			chats.POST("/:id/open", h.OpenChat)
			chats.POST("/:id/join", h.JoinChat)
			chats.POST("/:id/messages", h.SendMessage)
		}

		reviews := api.Group("/reviews", h.authMiddleware.RequireSession())
		{
			reviews.POST("/:resource/:id/approve", h.Approve)
			reviews.POST("/:resource/:id/reject", h.Reject)
		}
	}
}

type putSessionRequest struct {
	Token string `json:"token" binding:"required"`
}

type sessionResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// PutSession stores the admin's upstream token.
func (h *Handler) PutSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req putSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	id, err := h.sessions.Set(ctx, req.Token)
	if err != nil {
		if errors.Is(err, jwt.ErrInvalidToken) || errors.Is(err, jwt.ErrExpiredToken) {
			response.BadRequest(c, err.Error())
			return
		}
		l.Error().Err(err).Msg("failed to store session token")
		response.InternalError(c, "failed to store session token")
		return
	}

	audit.Log(ctx, audit.ActionSessionSet, id.UserID, id.UserID, "session token stored")
	response.Success(c, sessionResponse{
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		ExpiresAt: id.ExpiresAt,
	})
}

// GetSession reports the identity of the stored token.
func (h *Handler) GetSession(c *gin.Context) {
	response.Success(c, sessionResponse{
		UserID: middleware.GetUserID(c),
		Email:  middleware.GetEmail(c),
		Role:   middleware.GetRole(c),
	})
}

// DeleteSession leaves the open chat and forgets the upstream token.
func (h *Handler) DeleteSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	h.store.ClearCurrentChat(ctx)
	if err := h.sessions.Clear(ctx); err != nil {
		l.Error().Err(err).Msg("failed to clear session token")
		response.InternalError(c, "failed to clear session token")
		return
	}

	audit.Log(ctx, audit.ActionSessionCleared, middleware.GetUserID(c), "", "session token cleared")
	response.NoContent(c)
}

type listChatsRequest struct {
	Page int `form:"page"`
}

// ListChats loads a page of the admin chat list and returns the state.
func (h *Handler) ListChats(c *gin.Context) {
	ctx := c.Request.Context()

	var req listChatsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}

	if err := h.store.LoadAllChats(ctx, req.Page); err != nil {
		h.writeError(c, err, "failed to load chats")
		return
	}
	response.Success(c, h.store.Snapshot())
}

// CurrentChat returns the state without touching the API.
func (h *Handler) CurrentChat(c *gin.Context) {
	response.Success(c, h.store.Snapshot())
}

// OpenChat makes a chat the open conversation.
func (h *Handler) OpenChat(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	if err := h.store.LoadChatByID(ctx, chatID); err != nil {
		h.writeError(c, err, "failed to load chat")
		return
	}

	audit.Log(ctx, audit.ActionOpenChat, middleware.GetUserID(c), chatID, "chat opened")
	response.Success(c, h.store.Snapshot())
}

// CloseChat leaves the open conversation.
func (h *Handler) CloseChat(c *gin.Context) {
	ctx := c.Request.Context()

	var chatID string
	if cur := h.store.Snapshot().Current; cur != nil {
		chatID = cur.ID
	}
	h.store.ClearCurrentChat(ctx)

	if chatID != "" {
		audit.Log(ctx, audit.ActionLeaveChat, middleware.GetUserID(c), chatID, "chat closed")
	}
	response.Success(c, h.store.Snapshot())
}

// JoinChat registers the admin in a chat without opening it.
func (h *Handler) JoinChat(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	if err := h.store.JoinChat(ctx, chatID); err != nil {
		h.writeError(c, err, "failed to join chat")
		return
	}

	audit.Log(ctx, audit.ActionJoinChat, middleware.GetUserID(c), chatID, "chat joined")
	response.NoContent(c)
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage posts a message to a chat.
func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.store.SendMessage(ctx, chatID, req.Content)
	if err != nil {
		h.writeError(c, err, "failed to send message")
		return
	}

	if role, ok := mention.Tagged(req.Content); ok {
		audit.LogWithDetail(ctx, audit.ActionSendMessage, middleware.GetUserID(c), chatID, "tagged:"+string(role), "message sent")
	} else {
		audit.Log(ctx, audit.ActionSendMessage, middleware.GetUserID(c), chatID, "message sent")
	}
	response.Success(c, msg)
}

type analyzeRequest struct {
	Text   string `json:"text"`
	Cursor *int   `json:"cursor"`
}

type analyzeResponse struct {
	mention.Result
	Private bool `json:"private"`
}

// AnalyzeMention reports the mention state of the composer text.
func (h *Handler) AnalyzeMention(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cursor := utf8.RuneCountInString(req.Text)
	if req.Cursor != nil {
		cursor = *req.Cursor
	}

	_, private := mention.Tagged(req.Text)
	response.Success(c, analyzeResponse{
		Result:  mention.Analyze(req.Text, cursor),
		Private: private,
	})
}

type insertRequest struct {
	Text   string `json:"text"`
	Cursor *int   `json:"cursor"`
	Role   string `json:"role" binding:"required"`
}

type insertResponse struct {
	Text     string `json:"text"`
	Cursor   int    `json:"cursor"`
	Inserted bool   `json:"inserted"`
}

// InsertMention inserts a role tag at the cursor. Requests on text that
// already has a mention return the text unchanged.
func (h *Handler) InsertMention(c *gin.Context) {
	var req insertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	role := domain.ParseRole(req.Role)
	if role != domain.RoleLandlord && role != domain.RoleTenant {
		response.BadRequest(c, "role must be landlord or tenant")
		return
	}

	cursor := utf8.RuneCountInString(req.Text)
	if req.Cursor != nil {
		cursor = *req.Cursor
	}

	text, next, ok := mention.Insert(req.Text, cursor, role)
	response.Success(c, insertResponse{Text: text, Cursor: next, Inserted: ok})
}

type reviewRequest struct {
	Reason string `json:"reason"`
}

// Approve approves a marketplace record.
func (h *Handler) Approve(c *gin.Context) {
	h.review(c, client.DecisionApprove)
}

// Reject rejects a marketplace record; a reason is required.
func (h *Handler) Reject(c *gin.Context) {
	h.review(c, client.DecisionReject)
}

func (h *Handler) review(c *gin.Context, decision client.Decision) {
	ctx := c.Request.Context()

	resource, ok := client.ParseResource(c.Param("resource"))
	if !ok {
		response.NotFound(c, "unknown resource")
		return
	}
	id := c.Param("id")

	var req reviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if decision == client.DecisionReject && req.Reason == "" {
		response.BadRequest(c, "a reason is required to reject")
		return
	}

	if err := h.reviewer.Review(ctx, resource, id, decision, req.Reason); err != nil {
		h.writeError(c, err, "failed to "+string(decision)+" "+string(resource))
		return
	}

	action := audit.ActionApprove
	if decision == client.DecisionReject {
		action = audit.ActionReject
	}
	audit.LogWithDetail(ctx, action, middleware.GetUserID(c), string(resource)+"/"+id, req.Reason, string(decision)+" recorded")
	response.NoContent(c)
}

// writeError maps store and API failures onto the response envelope.
func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	l := log.Ctx(c.Request.Context())

	switch {
	case errors.Is(err, credential.ErrAuthNotReady):
		response.AuthNotReady(c, h.retryAfter)
	case errors.Is(err, client.ErrEmptyContent), errors.Is(err, client.ErrInvalidID):
		response.BadRequest(c, err.Error())
	case errors.Is(err, store.ErrStale):
		response.Conflict(c, "superseded by a newer request")
	case errors.Is(err, store.ErrClosed):
		response.Error(c, http.StatusServiceUnavailable, response.CodeInternal, "console is shutting down")
	case client.IsNotFound(err):
		response.NotFound(c, client.MessageOf(err))
	case client.StatusOf(err) != 0:
		l.Warn().Err(err).Int(log.FieldStatus, client.StatusOf(err)).Msg(msg)
		response.Upstream(c, client.StatusOf(err), client.MessageOf(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		l.Warn().Err(err).Msg(msg)
		response.Error(c, http.StatusGatewayTimeout, response.CodeUpstream, msg)
	default:
		l.Error().Err(err).Msg(msg)
		response.Upstream(c, 0, msg)
	}
}
