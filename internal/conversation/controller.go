package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/learniverse/chatkit/internal/types"
	"golang.org/x/time/rate"
)

const DefaultPageSize = 20

// DefaultLoadOlderCooldown is the minimum gap between two older-history
// fetches. Scroll handlers fire far more often than the backend should
// be hit.
var DefaultLoadOlderCooldown = rate.Every(time.Second)

var ErrNoConversation = errors.New("no conversation open")

// Backend is the slice of the REST surface the controller needs.
type Backend interface {
	History(ctx context.Context, roomId, cursor string, size int) (types.MessagePage, error)
	SendMessage(ctx context.Context, req types.SendMessageRequest) (types.Message, error)
	MarkAllRead(ctx context.Context, roomId string) error
}

// Sink receives view effects. The controller decides when to scroll or
// count unread; the view decides how.
type Sink interface {
	ScrollToBottom()
	// RestoreAnchor re-positions the view at the message that was
	// topmost before older history was prepended.
	RestoreAnchor(messageId string)
	IncrementUnread()
}

// Controller owns the message window of the currently open conversation.
// All methods are safe for concurrent use; pushed messages typically
// arrive on a connection read goroutine while Open and Send come from
// the UI.
type Controller struct {
	backend Backend
	sink    Sink
	log     *log.Logger

	pageSize int
	limiter  *rate.Limiter

	mu       sync.Mutex
	epoch    int
	roomId   string
	messages []types.Message
	cursor   string
	hasMore  bool
	atBottom bool
	loading  bool
}

func NewController(backend Backend, sink Sink, logger *log.Logger, pageSize int, cooldown rate.Limit) *Controller {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if cooldown <= 0 {
		cooldown = DefaultLoadOlderCooldown
	}

	return &Controller{
		backend:  backend,
		sink:     sink,
		log:      logger,
		pageSize: pageSize,
		limiter:  rate.NewLimiter(cooldown, 1),
	}
}

// Open switches the controller to roomId: it abandons any in-flight
// work for the previous conversation, loads the newest page, marks the
// room read and scrolls to the bottom.
func (c *Controller) Open(ctx context.Context, roomId string) error {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.roomId = roomId
	c.messages = nil
	c.cursor = ""
	c.hasMore = false
	c.atBottom = true
	c.loading = false
	c.mu.Unlock()

	page, err := c.backend.History(ctx, roomId, "", c.pageSize)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", roomId, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	c.messages = page.Messages
	c.cursor = page.NextCursor
	c.hasMore = page.HasNext
	c.mu.Unlock()

	if err := c.backend.MarkAllRead(ctx, roomId); err != nil {
		c.log.Printf("mark conversation %s read: %v", roomId, err)
	}

	c.sink.ScrollToBottom()
	return nil
}

// LoadOlder fetches the next older page and prepends it, keeping the
// view anchored at the message that was topmost. Calls are dropped
// while a fetch is in flight, during the cooldown window, and once the
// first page of the conversation has been reached.
func (c *Controller) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.roomId == "" {
		c.mu.Unlock()
		return ErrNoConversation
	}
	if c.loading || !c.hasMore || !c.limiter.Allow() {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	epoch := c.epoch
	roomId := c.roomId
	cursor := c.cursor
	c.mu.Unlock()

	page, err := c.backend.History(ctx, roomId, cursor, c.pageSize)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	c.loading = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("load older messages for %s: %w", roomId, err)
	}

	merged, anchor := prependOlder(c.messages, page.Messages)
	c.messages = merged
	c.cursor = page.NextCursor
	c.hasMore = page.HasNext
	c.mu.Unlock()

	if anchor != "" {
		c.sink.RestoreAnchor(anchor)
	}
	return nil
}

// OnPush handles a message pushed over the realtime channel. Messages
// for other rooms and duplicates are dropped. When the view sits at the
// bottom the new message scrolls into view, otherwise the unread count
// grows.
func (c *Controller) OnPush(msg types.Message) {
	c.mu.Lock()
	if msg.ChatRoomId != c.roomId || c.roomId == "" {
		c.mu.Unlock()
		return
	}

	merged, added := appendNew(c.messages, msg)
	if !added {
		c.mu.Unlock()
		return
	}
	c.messages = merged
	atBottom := c.atBottom
	c.mu.Unlock()

	if atBottom {
		c.sink.ScrollToBottom()
	} else {
		c.sink.IncrementUnread()
	}
}

// Send submits a message for the open conversation and appends the
// created message. Sending always scrolls to the bottom, even if the
// user had scrolled up.
func (c *Controller) Send(ctx context.Context, req types.SendMessageRequest) (types.Message, error) {
	c.mu.Lock()
	if c.roomId == "" {
		c.mu.Unlock()
		return types.Message{}, ErrNoConversation
	}
	epoch := c.epoch
	req.ChatRoomId = c.roomId
	c.mu.Unlock()

	msg, err := c.backend.SendMessage(ctx, req)
	if err != nil {
		return types.Message{}, fmt.Errorf("send message: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return msg, nil
	}
	c.messages, _ = appendNew(c.messages, msg)
	c.atBottom = true
	c.mu.Unlock()

	c.sink.ScrollToBottom()
	return msg, nil
}

// SetAtBottom records whether the view is scrolled to the newest
// message. The view calls this from its scroll handler.
func (c *Controller) SetAtBottom(atBottom bool) {
	c.mu.Lock()
	c.atBottom = atBottom
	c.mu.Unlock()
}

// Messages returns a copy of the current window, oldest first.
func (c *Controller) Messages() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// RoomId returns the id of the open conversation, or "" when none is.
func (c *Controller) RoomId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomId
}

// HasMore reports whether older history remains to be fetched.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}
