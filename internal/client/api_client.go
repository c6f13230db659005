package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/odlemon/khaya-portal-sub001/internal/config"
	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/metrics"
)

// TokenSource yields the bearer token of the acting admin.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// APIClient wraps the marketplace REST API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	pageSize   int
	limiter    *rate.Limiter // nil when unlimited
	sf         singleflight.Group
}

// envelope is the marketplace response wrapper.
type envelope struct {
	Success *bool           `json:"success,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type chatListData struct {
	Chats []domain.Chat `json:"chats"`
}

type chatDetailData struct {
	Chat     domain.Chat      `json:"chat"`
	Messages []domain.Message `json:"messages"`
}

// NewAPIClient creates a client for the marketplace API.
func NewAPIClient(cfg config.APIConfig, tokens TokenSource) *APIClient {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	c := &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: metrics.NewTransport(log.NewTransport(nil, log.L(), upstreamName), upstreamName),
		},
		tokens:   tokens,
		pageSize: pageSize,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

const upstreamName = "marketplace-api"

// PageSize is the limit sent with list requests.
func (c *APIClient) PageSize() int {
	return c.pageSize
}

// ListChats fetches one page of chats visible to the admin.
func (c *APIClient) ListChats(ctx context.Context, page, limit int) ([]domain.Chat, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = c.pageSize
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var data chatListData
	if err := c.get(ctx, "/chat/admin/all-chats?"+q.Encode(), &data); err != nil {
		return nil, err
	}
	if data.Chats == nil {
		data.Chats = []domain.Chat{}
	}
	return data.Chats, nil
}

// JoinChat registers the admin's presence in a chat.
func (c *APIClient) JoinChat(ctx context.Context, chatID string) error {
	if err := validID(chatID); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/chat/admin/join/"+url.PathEscape(chatID), nil, nil)
}

// GetChat fetches a chat and its message history.
func (c *APIClient) GetChat(ctx context.Context, chatID string) (*domain.Chat, []domain.Message, error) {
	if err := validID(chatID); err != nil {
		return nil, nil, err
	}
	var data chatDetailData
	if err := c.get(ctx, "/chat/"+url.PathEscape(chatID), &data); err != nil {
		return nil, nil, err
	}
	if data.Messages == nil {
		data.Messages = []domain.Message{}
	}
	return &data.Chat, data.Messages, nil
}

// SendMessage posts content to a chat and returns the stored message.
func (c *APIClient) SendMessage(ctx context.Context, chatID, content string) (*domain.Message, error) {
	if err := validID(chatID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	var msg domain.Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, "/chat/"+url.PathEscape(chatID)+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// get performs a GET, sharing one upstream call between concurrent callers
// of the same path.
func (c *APIClient) get(ctx context.Context, path string, out interface{}) error {
	v, err, _ := c.sf.Do(path, func() (interface{}, error) {
		return c.roundTrip(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return err
	}
	return decodeData(v.(*reply), http.MethodGet, path, out)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	r, err := c.roundTrip(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeData(r, method, path, out)
}

// reply is a 2xx response whose envelope did not report a failure.
type reply struct {
	data      json.RawMessage
	decodeErr error
}

func (c *APIClient) roundTrip(ctx context.Context, method, path string, body interface{}) (*reply, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, trimQuery(path), err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, trimQuery(path), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if decodeErr == nil {
			msg = errorText(env)
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg, Method: method, Path: trimQuery(path)}
	}

	if decodeErr == nil && env.Success != nil && !*env.Success {
		msg := errorText(env)
		if msg == "" {
			msg = "request was not successful"
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg, Method: method, Path: trimQuery(path)}
	}
	return &reply{data: env.Data, decodeErr: decodeErr}, nil
}

func decodeData(r *reply, method, path string, out interface{}) error {
	if out == nil {
		return nil
	}
	if r.decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", r.decodeErr)
	}
	if len(r.data) == 0 || string(r.data) == "null" {
		return fmt.Errorf("%s %s: response has no data", method, trimQuery(path))
	}
	if err := json.Unmarshal(r.data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// errorText prefers "message", then "error" as a string or {message}.
func errorText(env envelope) string {
	if env.Message != "" {
		return env.Message
	}
	if len(env.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		return obj.Message
	}
	return ""
}

func trimQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/?#") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
