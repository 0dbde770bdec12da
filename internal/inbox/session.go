// Package inbox ties the store, the query layer and the push connection into
// one session. Views read from the session's store; the session is the only
// owner of the connection.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"inboxsync/internal/content"
	"inboxsync/internal/metrics"
	"inboxsync/internal/models"
	"inboxsync/internal/notify"
	"inboxsync/internal/query"
	"inboxsync/internal/store"
	"inboxsync/internal/ws"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrAckTimeout marks a sent message whose echo never arrived.
var ErrAckTimeout = errors.New("no acknowledgement from server")

// Connection is the push channel as the session uses it. *ws.Manager
// implements it.
type Connection interface {
	Run(ctx context.Context) error
	Close()
	Status() ws.Status
	JoinConversation(ctx context.Context, id models.ConversationID, userID string) error
	LeaveConversation(ctx context.Context, id models.ConversationID) error
	SendMessage(ctx context.Context, msg ws.OutgoingMessage) (string, error)
}

type Config struct {
	WS     ws.Config
	UserID string
	// AckTimeout is how long a sent message may stay pending before it is
	// marked failed.
	AckTimeout      time.Duration
	PersistInterval time.Duration
	MessageLimit    int
	PageSize        int
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 15 * time.Second
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = time.Second
	}
	if c.UserID == "" {
		c.UserID = c.WS.UserID
	}
	return c
}

// Alert is raised when the server ends the session.
type Alert struct {
	Reason string
	At     time.Time
}

type Option func(*Session)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithSaver enables persisting the store while the session runs.
func WithSaver(saver store.Saver) Option {
	return func(s *Session) { s.saver = saver }
}

// WithConnection replaces the websocket connection manager, e.g. with an
// in-memory fake.
func WithConnection(newConn func(h ws.Handler) Connection) Option {
	return func(s *Session) { s.newConn = newConn }
}

type Session struct {
	cfg      Config
	store    *store.Store
	query    *query.Client
	notifier notify.Notifier
	log      *slog.Logger
	saver    store.Saver
	newConn  func(h ws.Handler) Connection

	conn    Connection
	list    *query.ConversationsQuery
	alerts  chan Alert
	refresh chan struct{}
	now     func() time.Time

	mu       sync.Mutex
	room     models.ConversationID
	messages map[models.ConversationID]*query.MessagesQuery
	wasLive  bool
}

// New builds a session over q and its store. The connection is created here
// but not dialed until Run.
func New(cfg Config, q *query.Client, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg.withDefaults(),
		store:    q.Store(),
		query:    q,
		notifier: notify.Discard{},
		log:      slog.Default(),
		alerts:   make(chan Alert, 1),
		refresh:  make(chan struct{}, 1),
		now:      time.Now,
		messages: make(map[models.ConversationID]*query.MessagesQuery),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")

	if s.newConn == nil {
		s.newConn = func(h ws.Handler) Connection {
			return ws.NewManager(s.cfg.WS, h, ws.WithLogger(s.log))
		}
	}
	s.conn = s.newConn(s)
	s.store.SetUserID(s.cfg.UserID)

	var listOpts []query.ConversationsOption
	if s.cfg.PageSize > 0 {
		listOpts = append(listOpts, query.WithPageSize(s.cfg.PageSize))
	}
	s.list = q.Conversations(listOpts...)
	return s
}

func (s *Session) Store() *store.Store {
	return s.store
}

func (s *Session) Query() *query.Client {
	return s.query
}

// Conversations is the session's list query, driven by the store's filters.
func (s *Session) Conversations() *query.ConversationsQuery {
	return s.list
}

func (s *Session) ConnectionStatus() ws.Status {
	return s.conn.Status()
}

// Alerts delivers forced disconnects. Only the latest undelivered alert is
// kept.
func (s *Session) Alerts() <-chan Alert {
	return s.alerts
}

// Close ends the push connection. Run returns once its context is done.
func (s *Session) Close() {
	s.conn.Close()
	s.list.Close()
}

// Run drives the session until ctx is done: the push connection, the list
// watcher, persistence, the pending-message sweeper and catch-up refreshes.
func (s *Session) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.conn.Run(gCtx)
		if errors.Is(err, ws.ErrMaxAttempts) {
			return fmt.Errorf("push connection: %w", err)
		}
		return nil
	})
	g.Go(func() error { return s.list.Watch(gCtx) })
	g.Go(func() error { return s.sweep(gCtx) })
	g.Go(func() error { return s.refreshLoop(gCtx) })
	if s.saver != nil {
		g.Go(func() error { return store.Persist(gCtx, s.store, s.saver, s.cfg.PersistInterval) })
	}

	return g.Wait()
}

// Select makes id the current conversation: it moves the room membership to
// it, loads its newest messages and marks it read.
func (s *Session) Select(ctx context.Context, id models.ConversationID) error {
	s.store.SetSelectedConversationID(id)

	s.mu.Lock()
	prev := s.room
	s.room = id
	s.mu.Unlock()

	if prev != 0 && prev != id {
		if err := s.conn.LeaveConversation(ctx, prev); err != nil && !errors.Is(err, ws.ErrClosed) {
			s.log.Warn("leave failed", "conversation", prev, "error", err)
		}
	}
	if err := s.conn.JoinConversation(ctx, id, s.cfg.UserID); err != nil {
		return fmt.Errorf("join conversation %d: %w", id, err)
	}
	if err := s.Messages(id).Latest(ctx); err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	return s.query.MarkRead(ctx, id)
}

// Messages returns the message query of conversation id, shared by every
// caller of the session.
func (s *Session) Messages(id models.ConversationID) *query.MessagesQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.messages[id]
	if !ok {
		q = s.query.Messages(id, s.cfg.MessageLimit)
		s.messages[id] = q
	}
	return q
}

// Send appends text as a pending message and emits it. The message is marked
// failed when the emit fails or no echo arrives within the ack timeout.
func (s *Session) Send(ctx context.Context, id models.ConversationID, text string, ct models.ContentType, attachments []string) (models.Message, error) {
	if ct == "" {
		ct = models.ContentTypeText
	}
	if !ct.Valid() {
		return models.Message{}, fmt.Errorf("content type %q: %w", ct, models.ErrInvalid)
	}
	if err := content.ValidateContent(text, len(attachments)); err != nil {
		return models.Message{}, err
	}

	m := models.Message{
		ClientTempID: ws.NewTempID(),
		Content:      text,
		ContentType:  ct,
		Attachments:  slices.Clone(attachments),
		Sender:       models.Sender{ID: s.cfg.UserID},
		CreatedAt:    s.now(),
	}
	s.store.AddPendingMessage(id, m)
	m.ConversationID = id
	m.Status = models.MessageStatusPending

	_, err := s.conn.SendMessage(ctx, ws.OutgoingMessage{
		ConversationID: id,
		Content:        text,
		SenderID:       s.cfg.UserID,
		ContentType:    ct,
		Attachments:    m.Attachments,
		ClientTempID:   m.ClientTempID,
	})
	if err != nil {
		s.store.MarkMessageFailed(id, m.ClientTempID)
		s.notifier.Error(notify.MessageFailed, err)
		m.Status = models.MessageStatusFailed
		return m, fmt.Errorf("send message: %w", err)
	}
	s.updatePending()
	return m, nil
}

// HandleEvent applies pushed events to the store.
func (s *Session) HandleEvent(ev ws.Event) {
	switch e := ev.(type) {
	case ws.ReceiveMessage:
		s.receive(e.Message)
	case ws.MessageRead:
		s.store.UpdateMessage(e.ConversationID, e.MessageID, func(m *models.Message) {
			if !slices.ContainsFunc(m.ReadBy, func(r models.Reader) bool { return r.ID == e.UserID }) {
				m.ReadBy = append(slices.Clone(m.ReadBy), models.Reader{ID: e.UserID})
			}
		})
	case ws.ForceDisconnect:
		s.notifier.Error(notify.SessionEnded, nil, e.Reason)
		s.raise(Alert{Reason: e.Reason, At: s.now()})
	case ws.ServerError:
		s.log.Warn("server error", "message", e.Message)
	case ws.ConnectionConfirmed:
		s.log.Info("connection confirmed", "user", e.UserID, "socket", e.SocketID)
	case ws.ClientValidation:
		if !e.Valid {
			s.log.Warn("client validation failed", "message", e.Message)
		}
	default:
		s.log.Debug("event", "name", ev.EventName())
	}
}

// HandleState schedules a catch-up refresh whenever the connection comes back
// after having been live, since pushes sent meanwhile were lost.
func (s *Session) HandleState(st ws.Status) {
	if st.State != ws.StateConnected {
		return
	}
	s.mu.Lock()
	reconnect := s.wasLive
	s.wasLive = true
	s.mu.Unlock()
	if reconnect {
		s.requestRefresh()
	}
}

func (s *Session) receive(m models.Message) {
	id := m.ConversationID
	outcome := s.store.ReconcileMessage(id, m)
	metrics.Reconciliations.WithLabelValues(string(outcome)).Inc()
	s.log.Debug("message received", "conversation", id, "message", m.ID, "outcome", outcome)

	switch outcome {
	case store.OutcomeConfirmed:
		s.updatePending()
	case store.OutcomeAppended:
		conv, ok := s.store.Conversation(id)
		if !ok {
			// A conversation the list has not seen yet.
			s.requestRefresh()
			return
		}
		if !s.store.Own(m) {
			s.store.IncrementUnreadCount(conv.Channel.Type, 1)
		}
	}
}

func (s *Session) raise(a Alert) {
	select {
	case s.alerts <- a:
		return
	default:
	}
	// Replace the undelivered alert.
	select {
	case <-s.alerts:
	default:
	}
	select {
	case s.alerts <- a:
	default:
	}
}

func (s *Session) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// refreshLoop loads the unread summary once, then on every refresh request
// reloads the list, the unread summary and the messages missed in the
// current room.
func (s *Session) refreshLoop(ctx context.Context) error {
	if err := s.query.Unread(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("unread summary failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.refresh:
		}

		if err := s.list.Refetch(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("list refresh failed", "error", err)
		}
		if err := s.query.RefreshUnread(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("unread refresh failed", "error", err)
		}

		s.mu.Lock()
		room := s.room
		s.mu.Unlock()
		if room != 0 {
			if err := s.Messages(room).Newer(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("message catch-up failed", "conversation", room, "error", err)
			}
		}
	}
}

// sweep fails pending messages older than the ack timeout.
func (s *Session) sweep(ctx context.Context) error {
	ticker := time.NewTicker(max(s.cfg.AckTimeout/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.store.ExpirePending(s.now().Add(-s.cfg.AckTimeout)); n > 0 {
				s.log.Warn("messages not acknowledged", "count", n)
				s.notifier.Error(notify.MessageFailed, ErrAckTimeout)
			}
			s.updatePending()
		}
	}
}

func (s *Session) updatePending() {
	n := 0
	for _, list := range s.store.Snapshot().Messages {
		for _, m := range list {
			if m.Status == models.MessageStatusPending {
				n++
			}
		}
	}
	metrics.PendingMessages.Set(float64(n))
}
