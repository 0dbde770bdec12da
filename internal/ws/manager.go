package ws

import (
	"context"
	"errors"
	"fmt"
	"inboxsync/internal/metrics"
	"inboxsync/internal/models"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	ErrNotConnected = errors.New("push channel not connected")
	ErrClosed       = errors.New("push channel closed")
	ErrMaxAttempts  = errors.New("push channel reconnect attempts exhausted")

	errForced = errors.New("disconnect forced by server")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRetrying
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions will happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Status is a state transition reported to the handler.
type Status struct {
	State   State
	Attempt int           // reconnect attempt, 0 for the first connection
	Delay   time.Duration // wait before the next attempt, set while retrying
	Err     error         // cause of the last disconnect, if any
}

type Handler interface {
	HandleEvent(ev Event)
	HandleState(st Status)
}

type Config struct {
	URL    string
	Token  string
	UserID string

	InitialInterval  time.Duration
	MaxInterval      time.Duration
	MaxAttempts      int // 0 retries forever
	HandshakeTimeout time.Duration

	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration

	SendRate  float64 // emits per second, 0 disables throttling
	SendBurst int
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
	return c
}

type dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (wsConnection, error)
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func withDialer(d dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// Manager owns the push channel for its whole lifetime: it dials, keeps the
// connection alive, reconnects with backoff and replays join intents.
type Manager struct {
	cfg     Config
	handler Handler
	dialer  dialer
	log     *slog.Logger
	limiter *rate.Limiter
	rooms   *rooms

	mu      sync.Mutex
	current *connection
	status  Status

	closed    chan struct{}
	closeOnce sync.Once
}

func NewManager(cfg Config, handler Handler, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		handler: handler,
		log:     slog.Default(),
		limiter: rate.NewLimiter(rate.Inf, 0),
		rooms:   newRooms(),
		closed:  make(chan struct{}),
	}
	if cfg.SendRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = newGorillaDialer(cfg.HandshakeTimeout)
	}
	m.log = m.log.With("component", "ws")
	return m
}

// Status returns the latest state transition.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether the channel is live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Close ends the session. Run returns once the socket is closed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *Manager) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.InitialInterval
	eb.MaxInterval = m.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()
	if m.cfg.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(m.cfg.MaxAttempts))
	}
	return eb
}

// Run connects and keeps reconnecting until ctx is cancelled, Close is
// called, the server forces a disconnect, or the reconnect attempts run out.
// Only the last case returns an error.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := m.newBackOff()
	attempt := 0
	for {
		if ctx.Err() != nil {
			m.setStatus(Status{State: StateClosed})
			return nil
		}

		m.setStatus(Status{State: StateConnecting, Attempt: attempt})
		conn, err := m.dial(ctx)
		if err == nil {
			metrics.ConnectAttempts.WithLabelValues("ok").Inc()
			b.Reset()
			attempt = 0
			err = m.serve(ctx, conn)
			if errors.Is(err, errForced) {
				m.Close()
				m.setStatus(Status{State: StateClosed, Err: err})
				return nil
			}
		} else if ctx.Err() == nil {
			metrics.ConnectAttempts.WithLabelValues("error").Inc()
		}

		if ctx.Err() != nil {
			m.setStatus(Status{State: StateClosed})
			return nil
		}

		m.log.Warn("push channel disconnected", "error", err)
		m.setStatus(Status{State: StateDisconnected, Err: err})

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			m.setStatus(Status{State: StateFailed, Attempt: attempt, Err: err})
			return fmt.Errorf("%w after %d attempts: %v", ErrMaxAttempts, attempt, err)
		}
		attempt++
		m.setStatus(Status{State: StateRetrying, Attempt: attempt, Delay: delay, Err: err})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

func (m *Manager) dial(ctx context.Context) (wsConnection, error) {
	header := http.Header{}
	if m.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+m.cfg.Token)
	}
	return m.dialer.DialContext(ctx, m.cfg.URL, header)
}

func (m *Manager) serve(ctx context.Context, ws wsConnection) error {
	conn := newConnection(ws, m.cfg, m.dispatch)

	m.mu.Lock()
	m.current = conn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
	}()

	m.log.Info("push channel connected", "url", m.cfg.URL)
	m.setStatus(Status{State: StateConnected})

	var wg sync.WaitGroup
	wg.Go(func() { m.replayJoins(ctx, conn) })
	err := conn.Handle(ctx)
	wg.Wait()
	return err
}

func (m *Manager) replayJoins(ctx context.Context, conn *connection) {
	for _, p := range m.rooms.intents() {
		if err := m.emit(ctx, conn, EventJoinConversation, p); err != nil {
			m.log.Warn("failed to replay join", "conversation", p.ConversationID, "error", err)
			return
		}
	}
}

func (m *Manager) dispatch(f Frame) error {
	ev, err := decodeEvent(f)
	if err != nil {
		m.log.Warn("dropping push frame", "event", f.Event, "error", err)
		return nil
	}
	metrics.InboundEvents.WithLabelValues(ev.EventName()).Inc()

	switch e := ev.(type) {
	case ForceDisconnect:
		m.log.Warn("server forced disconnect", "reason", e.Reason)
		m.handler.HandleEvent(e)
		return errForced
	case ReceiveMessage:
		m.log.Debug("message received", "conversation", e.Message.ConversationID, "id", e.Message.ID)
	case ServerError:
		m.log.Error("push channel error", "message", e.Message)
	default:
		m.log.Debug("push event", "event", ev.EventName(), "payload", e)
	}
	m.handler.HandleEvent(ev)
	return nil
}

func (m *Manager) setStatus(st Status) {
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
	metrics.ConnectionState.Set(float64(st.State))
	m.handler.HandleState(st)
}

func (m *Manager) live() (*connection, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNotConnected
	}
	return m.current, nil
}

func (m *Manager) emit(ctx context.Context, conn *connection, event string, payload any) error {
	f, err := newFrame(event, payload)
	if err != nil {
		return err
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := conn.emit(ctx, f); err != nil {
		return err
	}
	metrics.OutboundEvents.WithLabelValues(event).Inc()
	return nil
}

// JoinConversation records the intent to be in the conversation room. It is
// emitted right away when the channel is live and replayed after every
// reconnect, so calling it while disconnected is safe.
func (m *Manager) JoinConversation(ctx context.Context, id models.ConversationID, userID string) error {
	if m.isClosed() {
		return ErrClosed
	}
	if !m.rooms.add(id, userID) {
		return nil
	}
	conn, err := m.live()
	if err != nil {
		// Replayed on the next connection.
		return nil
	}
	err = m.emit(ctx, conn, EventJoinConversation, roomPayload{ConversationID: id, UserID: userID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// LeaveConversation drops the join intent and tells the server when live.
func (m *Manager) LeaveConversation(ctx context.Context, id models.ConversationID) error {
	if !m.rooms.remove(id) {
		return nil
	}
	conn, err := m.live()
	if err != nil {
		return nil
	}
	err = m.emit(ctx, conn, EventLeaveConversation, roomPayload{ConversationID: id, UserID: m.cfg.UserID})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// NewTempID returns a fresh client correlation id for an outgoing message.
func NewTempID() string {
	return uuid.NewString()
}

// SendMessage emits a send intent and returns its client temp id. Sends are
// not queued: ErrNotConnected is returned when the channel is not live.
func (m *Manager) SendMessage(ctx context.Context, msg OutgoingMessage) (string, error) {
	conn, err := m.live()
	if err != nil {
		return "", err
	}
	if msg.ClientTempID == "" {
		msg.ClientTempID = NewTempID()
	}
	if msg.SenderID == "" {
		msg.SenderID = m.cfg.UserID
	}
	if msg.ContentType == "" {
		msg.ContentType = models.ContentTypeText
	}
	if err := m.emit(ctx, conn, EventSendMessage, msg); err != nil {
		return msg.ClientTempID, err
	}
	return msg.ClientTempID, nil
}
