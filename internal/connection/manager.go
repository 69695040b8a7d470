package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt"
	"github.com/learniverse/chatkit/internal/stats"
	"github.com/learniverse/chatkit/internal/stomp"
	"github.com/teris-io/shortid"
)

const (
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 5

	// Offered to the server on CONNECT; effective intervals come from
	// the CONNECTED reply.
	heartBeatOffer   = "4000,4000"
	defaultHeartBeat = 4 * time.Second
)

var (
	// ErrNotConnected is returned by Subscribe and Publish when there is
	// no established connection. There is no store-and-forward: callers
	// must retry after observing a reconnect.
	ErrNotConnected = errors.New("not connected")

	// ErrAuthenticationFailed is returned by Connect once the backend has
	// rejected the credentials, until Reset is called with a fresh token.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrConnectAborted is returned by Connect when Disconnect or Reset
	// was called while the attempt was still dialing. The freshly opened
	// transport is closed instead of installed.
	ErrConnectAborted = errors.New("connect aborted")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Config struct {
	URL                  string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// MessageHandler receives the body of a MESSAGE frame. Handlers run on
// the connection's read goroutine and must not block.
type MessageHandler func(body []byte)

type Subscription struct {
	id      string
	topic   string
	handler MessageHandler
	m       *Manager
}

func (s *Subscription) Id() string    { return s.id }
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe cancels this subscription only; other subscriptions on the
// same topic are unaffected. Safe to call after a disconnect.
func (s *Subscription) Unsubscribe() error {
	m := s.m
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if _, ok := m.subs[s.id]; !ok {
		return nil
	}
	delete(m.subs, s.id)

	if m.state == StateConnected && m.conn != nil {
		f := stomp.NewFrame(stomp.CmdUnsubscribe, [2]string{stomp.HdrId, s.id})
		if err := m.conn.WriteMessage(stomp.Marshal(f)); err != nil {
			return fmt.Errorf("write UNSUBSCRIBE: %w", err)
		}
	}

	return nil
}

type attempt struct {
	done chan struct{}
	err  error
}

// Manager owns the single authenticated realtime connection for a
// session. Consumers subscribe and publish without knowing about
// reconnection; the manager retries transport drops with a fixed delay
// up to a bounded attempt count and stops permanently on credential
// rejection until Reset.
type Manager struct {
	cfg       Config
	transport Transport
	log       *log.Logger
	stats     stats.StatsProvider

	connLock      sync.Mutex
	state         State
	conn          Conn
	token         string
	attempts      int
	authFailed    bool
	noReconnect   bool
	attempt       *attempt
	subs          map[string]*Subscription
	generation    int
	recvInterval  time.Duration
	stopHeartbeat chan struct{}
}

func NewManager(cfg Config, transport Transport, logger *log.Logger, sp stats.StatsProvider) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	return &Manager{
		cfg:       cfg,
		transport: transport,
		log:       logger,
		stats:     sp,
		subs:      make(map[string]*Subscription),
	}
}

// Connect is idempotent: connected managers resolve immediately and
// concurrent callers share a single in-flight attempt.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.connLock.Lock()
	if m.state == StateConnected {
		m.connLock.Unlock()
		return nil
	}
	if m.authFailed {
		m.connLock.Unlock()
		return ErrAuthenticationFailed
	}
	if att := m.attempt; att != nil {
		m.connLock.Unlock()
		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	att := &attempt{done: make(chan struct{})}
	m.attempt = att
	m.state = StateConnecting
	m.token = token
	gen := m.generation
	m.connLock.Unlock()

	err := m.dial(ctx, token, gen)

	m.connLock.Lock()
	m.attempt = nil
	if err != nil {
		m.stats.Incr(stats.MetricConnectFailures)
		if errors.Is(err, ErrUnauthorized) {
			m.authFailed = true
			m.log.Printf("authentication rejected, disabling reconnection: %v", err)
		}
		m.state = StateDisconnected
	}
	att.err = err
	close(att.done)
	m.connLock.Unlock()

	return err
}

func (m *Manager) dial(ctx context.Context, token string, gen int) error {
	if err := checkTokenExpiry(token); err != nil {
		return err
	}

	m.stats.Incr(stats.MetricConnectAttempts)
	conn, err := m.transport.Dial(ctx, m.cfg.URL, nil)
	if err != nil {
		return err
	}

	connect := stomp.NewFrame(stomp.CmdConnect,
		[2]string{stomp.HdrAcceptVersion, "1.2"},
		[2]string{stomp.HdrAuthorization, "Bearer " + token},
		[2]string{stomp.HdrHeartBeat, heartBeatOffer},
	)
	if err := conn.WriteMessage(stomp.Marshal(connect)); err != nil {
		conn.Close()
		return fmt.Errorf("write CONNECT: %w", err)
	}

	reply, err := awaitConnected(conn)
	if err != nil {
		conn.Close()
		return err
	}

	send, recv := defaultHeartBeat, defaultHeartBeat
	if hb, ok := reply.Headers.Get(stomp.HdrHeartBeat); ok {
		// The server's first value is what it sends, the second what it
		// expects to receive.
		if sx, sy, hbErr := stomp.ParseHeartBeat(hb); hbErr == nil {
			recv, send = sx, sy
		}
	}

	m.connLock.Lock()
	// Disconnect and Reset bump the generation; an attempt they overtook
	// must not resurrect the connection it dialed.
	if m.generation != gen || m.noReconnect {
		m.connLock.Unlock()
		conn.Close()
		return ErrConnectAborted
	}
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.generation++
	connGen := m.generation
	m.recvInterval = recv
	stop := make(chan struct{})
	m.stopHeartbeat = stop
	m.connLock.Unlock()

	m.log.Printf("connected to %s", m.cfg.URL)

	go m.readLoop(conn, connGen)
	if send > 0 {
		go m.heartbeatLoop(conn, send, stop)
	}

	return nil
}

func awaitConnected(conn Conn) (*stomp.Frame, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read CONNECTED: %w", err)
		}
		if stomp.IsHeartbeat(data) {
			continue
		}

		f, err := stomp.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse handshake frame: %w", err)
		}

		switch f.Command {
		case stomp.CmdConnected:
			return f, nil
		case stomp.CmdError:
			msg, _ := f.Headers.Get(stomp.HdrMessage)
			if msg == "" {
				msg = string(f.Body)
			}
			return nil, fmt.Errorf("connection rejected: %s", msg)
		default:
			return nil, fmt.Errorf("unexpected handshake frame %q", f.Command)
		}
	}
}

// checkTokenExpiry fails fast on an already-expired bearer token instead
// of opening a transport the server will reject. Opaque (non-JWT) tokens
// are passed through for the backend to judge.
func checkTokenExpiry(token string) error {
	claims := jwt.MapClaims{}
	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}

	if exp, ok := claims["exp"].(float64); ok && time.Now().After(time.Unix(int64(exp), 0)) {
		return fmt.Errorf("bearer token expired: %w", ErrUnauthorized)
	}

	return nil
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		m.connLock.Lock()
		recv := m.recvInterval
		stale := gen != m.generation
		m.connLock.Unlock()
		if stale {
			return
		}

		if recv > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * recv))
		}

		data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(gen, err)
			return
		}
		if stomp.IsHeartbeat(data) {
			continue
		}

		f, err := stomp.Parse(data)
		if err != nil {
			m.log.Printf("parse frame: %v", err)
			continue
		}

		switch f.Command {
		case stomp.CmdMessage:
			m.dispatch(f)
		case stomp.CmdError:
			msg, _ := f.Headers.Get(stomp.HdrMessage)
			m.log.Printf("server error frame: %s", msg)
		case stomp.CmdReceipt:
		default:
			m.log.Printf("unexpected frame %q", f.Command)
		}
	}
}

func (m *Manager) dispatch(f *stomp.Frame) {
	id, _ := f.Headers.Get(stomp.HdrSubscription)

	m.connLock.Lock()
	sub := m.subs[id]
	m.connLock.Unlock()

	if sub == nil {
		m.log.Printf("message for unknown subscription %q", id)
		return
	}

	m.stats.Incr(stats.MetricMessagesReceived)
	sub.handler(f.Body)
}

func (m *Manager) handleDrop(gen int, err error) {
	m.connLock.Lock()
	if gen != m.generation {
		m.connLock.Unlock()
		return
	}

	m.log.Printf("connection dropped: %v", err)
	m.teardownLocked()

	if m.noReconnect || m.authFailed {
		m.connLock.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.log.Printf("max reconnect attempts (%d) reached", m.cfg.MaxReconnectAttempts)
		m.connLock.Unlock()
		return
	}

	m.attempts++
	attemptNo := m.attempts
	token := m.token
	m.state = StateConnecting
	m.connLock.Unlock()

	m.stats.Incr(stats.MetricReconnects)
	m.log.Printf("reconnecting in %s (attempt %d/%d)", m.cfg.ReconnectDelay, attemptNo, m.cfg.MaxReconnectAttempts)
	go m.reconnect(token)
}

func (m *Manager) reconnect(token string) {
	timer := time.NewTimer(m.cfg.ReconnectDelay)
	defer timer.Stop()
	<-timer.C

	m.connLock.Lock()
	if m.noReconnect || m.authFailed || m.state == StateConnected {
		m.connLock.Unlock()
		return
	}
	m.connLock.Unlock()

	if err := m.Connect(context.Background(), token); err != nil {
		m.log.Printf("reconnect failed: %v", err)

		m.connLock.Lock()
		if m.noReconnect || m.authFailed || m.attempts >= m.cfg.MaxReconnectAttempts {
			if m.attempts >= m.cfg.MaxReconnectAttempts {
				m.log.Printf("max reconnect attempts (%d) reached", m.cfg.MaxReconnectAttempts)
			}
			m.connLock.Unlock()
			return
		}
		m.attempts++
		attemptNo := m.attempts
		m.state = StateConnecting
		m.connLock.Unlock()

		m.stats.Incr(stats.MetricReconnects)
		m.log.Printf("reconnecting in %s (attempt %d/%d)", m.cfg.ReconnectDelay, attemptNo, m.cfg.MaxReconnectAttempts)
		go m.reconnect(token)
	}
}

func (m *Manager) heartbeatLoop(conn Conn, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(stomp.Heartbeat); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// Disconnect tears down the transport and all subscriptions and disables
// automatic reconnection until Reset.
func (m *Manager) Disconnect() {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	m.noReconnect = true
	if m.conn != nil {
		m.conn.WriteMessage(stomp.Marshal(stomp.NewFrame(stomp.CmdDisconnect)))
	}
	m.generation++
	m.teardownLocked()
}

// Reset clears the terminal-failure and do-not-reconnect flags so a
// subsequent Connect (typically with a fresh token) proceeds normally.
func (m *Manager) Reset() {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	m.noReconnect = false
	m.authFailed = false
	m.attempts = 0
	m.generation++
	m.teardownLocked()
}

// teardownLocked closes the transport and drops all subscriptions.
// Callers hold connLock.
func (m *Manager) teardownLocked() {
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.subs = make(map[string]*Subscription)
	m.state = StateDisconnected
}

func (m *Manager) IsConnected() bool {
	m.connLock.Lock()
	defer m.connLock.Unlock()
	return m.state == StateConnected
}

func (m *Manager) State() State {
	m.connLock.Lock()
	defer m.connLock.Unlock()
	return m.state
}

// Subscribe registers handler for a topic. It fails when not connected;
// subscriptions do not survive a drop, so callers resubscribe after
// observing reconnection.
func (m *Manager) Subscribe(topic string, handler MessageHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("subscribe %q: nil handler", topic)
	}

	m.connLock.Lock()
	defer m.connLock.Unlock()

	if m.state != StateConnected || m.conn == nil {
		m.log.Printf("cannot subscribe to %q: not connected", topic)
		return nil, ErrNotConnected
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate subscription id: %w", err)
	}

	f := stomp.NewFrame(stomp.CmdSubscribe,
		[2]string{stomp.HdrId, id},
		[2]string{stomp.HdrDestination, topic},
	)
	if err := m.conn.WriteMessage(stomp.Marshal(f)); err != nil {
		return nil, fmt.Errorf("write SUBSCRIBE: %w", err)
	}

	sub := &Subscription{id: id, topic: topic, handler: handler, m: m}
	m.subs[id] = sub
	return sub, nil
}

// Publish sends payload as JSON to a destination. It fails fast when not
// connected; nothing is queued.
func (m *Manager) Publish(destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	m.connLock.Lock()
	defer m.connLock.Unlock()

	if m.state != StateConnected || m.conn == nil {
		return ErrNotConnected
	}

	f := stomp.NewFrame(stomp.CmdSend,
		[2]string{stomp.HdrDestination, destination},
		[2]string{stomp.HdrContentType, "application/json"},
	)
	f.Body = body

	if err := m.conn.WriteMessage(stomp.Marshal(f)); err != nil {
		return fmt.Errorf("write SEND: %w", err)
	}

	m.stats.Incr(stats.MetricMessagesSent)
	return nil
}
