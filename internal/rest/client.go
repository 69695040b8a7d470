package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/learniverse/chatkit/internal/stats"
	"github.com/learniverse/chatkit/internal/types"
	"github.com/sony/gobreaker/v2"
)

const (
	requestTimeout  = 30 * time.Second
	maxResponseSize = 8 << 20

	breakerFailureThreshold = 5
	breakerCooldown         = 10 * time.Second
)

// Error is a failed backend call: a non-2xx status or an error envelope.
type Error struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// envelope is the backend's {status, message, data} response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client calls the chat backend over REST with bearer authentication.
// A circuit breaker makes a dead backend fail fast after consecutive
// transport failures instead of stacking up timeouts.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *log.Logger
	stats   stats.StatsProvider
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func NewClient(baseURL, token string, logger *log.Logger, sp stats.StatsProvider) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logger,
		stats:   sp,
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "learniverse-api",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("circuit breaker %q: %s -> %s", name, from, to)
		},
	})

	return c
}

// do performs one request and decodes the envelope's data into out when
// out is non-nil. Only transport-level failures count against the
// breaker; the backend's own 4xx/5xx answers pass through as errors.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response envelope: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}
	if env.Status == "error" {
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}

	return nil
}

func (c *Client) ListChats(ctx context.Context) ([]types.ChatRoom, error) {
	var rooms []types.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/chats", nil, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) GetChat(ctx context.Context, chatId string) (types.ChatRoom, error) {
	var room types.ChatRoom
	err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatId), nil, nil, &room)
	return room, err
}

func (c *Client) GetDirectChats(ctx context.Context) ([]types.ChatRoom, error) {
	var rooms []types.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/chats/direct", nil, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) GetGroupChats(ctx context.Context) ([]types.ChatRoom, error) {
	var rooms []types.ChatRoom
	if err := c.do(ctx, http.MethodGet, "/chats/group", nil, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) CreateDirectChat(ctx context.Context, recipientId string) (types.ChatRoom, error) {
	var room types.ChatRoom
	err := c.do(ctx, http.MethodPost, "/chats/direct/"+url.PathEscape(recipientId), nil, nil, &room)
	return room, err
}

func (c *Client) CreateGroupChat(ctx context.Context, name string, participantIds []string) (types.ChatRoom, error) {
	var room types.ChatRoom
	body := map[string]any{"name": name, "participantIds": participantIds}
	err := c.do(ctx, http.MethodPost, "/chats/group", nil, body, &room)
	return room, err
}

func (c *Client) GetParticipants(ctx context.Context, roomId string) ([]types.Participant, error) {
	var participants []types.Participant
	path := "/chats/" + url.PathEscape(roomId) + "/participants"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

func (c *Client) AddParticipant(ctx context.Context, roomId, userId string) error {
	path := "/chats/" + url.PathEscape(roomId) + "/add"
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{"userId": userId}, nil)
}

func (c *Client) RemoveParticipant(ctx context.Context, roomId, userId string) error {
	path := "/chats/" + url.PathEscape(roomId) + "/participants/" + url.PathEscape(userId)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) LeaveChat(ctx context.Context, chatId string) error {
	return c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatId)+"/leave", nil, nil, nil)
}

// SendMessage submits a message and returns the created message. The
// idempotency key lets the backend drop a duplicate if the caller
// retries a send whose response was lost.
func (c *Client) SendMessage(ctx context.Context, req types.SendMessageRequest) (types.Message, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return types.Message{}, fmt.Errorf("marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/send", bytes.NewReader(raw))
	if err != nil {
		return types.Message{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	var msg types.Message
	if err := c.send(httpReq, &msg); err != nil {
		c.stats.Incr(stats.MetricFetchFailures)
		return types.Message{}, err
	}
	return msg, nil
}

// History fetches one page of a room's messages, newest page first.
// cursor is opaque; empty means the most recent page.
func (c *Client) History(ctx context.Context, roomId, cursor string, size int) (types.MessagePage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if size > 0 {
		query.Set("size", strconv.Itoa(size))
	}

	var page types.MessagePage
	path := "/chats/rooms/" + url.PathEscape(roomId) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		c.stats.Incr(stats.MetricFetchFailures)
		return types.MessagePage{}, err
	}

	c.stats.Incr(stats.MetricHistoryFetches)
	return page, nil
}

func (c *Client) MarkAllRead(ctx context.Context, roomId string) error {
	query := url.Values{"chatRoomId": {roomId}}
	return c.do(ctx, http.MethodPost, "/messages/receipts/read-all", query, nil, nil)
}

func (c *Client) MarkMessageRead(ctx context.Context, messageId string) (types.MessageReceipt, error) {
	var receipt types.MessageReceipt
	path := "/messages/receipts/read/" + url.PathEscape(messageId)
	err := c.do(ctx, http.MethodPost, path, nil, nil, &receipt)
	return receipt, err
}

func (c *Client) GetMessageReceipts(ctx context.Context, messageId string) ([]types.MessageReceipt, error) {
	var receipts []types.MessageReceipt
	path := "/messages/receipts/" + url.PathEscape(messageId)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (c *Client) UnreadCount(ctx context.Context, roomId string) (int, error) {
	var data struct {
		UnreadCount int `json:"unreadCount"`
	}
	query := url.Values{"chatRoomId": {roomId}}
	if err := c.do(ctx, http.MethodGet, "/messages/receipts/unread/count", query, nil, &data); err != nil {
		return 0, err
	}
	return data.UnreadCount, nil
}
