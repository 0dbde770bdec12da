// Package query fetches server data into the store. Reads go through a TTL
// query cache keyed by query key; mutations report localized notices and
// invalidate the keys they affect.
package query

import (
	"context"
	"fmt"
	"inboxsync/internal/api"
	"inboxsync/internal/metrics"
	"inboxsync/internal/models"
	"inboxsync/internal/notify"
	"inboxsync/internal/store"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

// Query key prefixes.
const (
	keyConversations = "conversations:"
	keyMessages      = "messages:"
	keyParticipants  = "participants:"
	keyTags          = "tags:"
	keyUnread        = "unread"
)

const DefaultStaleTime = 30 * time.Second

// API is the subset of the REST client the query layer uses.
type API interface {
	ListConversations(ctx context.Context, f models.ConversationFilters, page api.PageRequest) (api.ConversationPage, error)
	GetConversation(ctx context.Context, id models.ConversationID) (models.Conversation, error)
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (models.Conversation, error)
	UpdateConversation(ctx context.Context, id models.ConversationID, req api.UpdateConversationRequest) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id models.ConversationID) error
	MarkConversationRead(ctx context.Context, id models.ConversationID) error
	ListMessages(ctx context.Context, id models.ConversationID, cur api.Cursor) (api.MessagePage, error)
	ListParticipants(ctx context.Context, id models.ConversationID) ([]models.Participant, error)
	AddParticipants(ctx context.Context, id models.ConversationID, in []api.ParticipantInput) ([]models.Participant, error)
	RemoveParticipant(ctx context.Context, id models.ConversationID, participantID int64) error
	ListTags(ctx context.Context, t models.TagType) ([]models.Tag, error)
	CreateTag(ctx context.Context, req api.TagRequest) (models.Tag, error)
	UpdateTag(ctx context.Context, id int64, req api.TagRequest) (models.Tag, error)
	DeleteTag(ctx context.Context, id int64) error
	BulkDeleteTags(ctx context.Context, ids []int64) error
	AddTagsToConversation(ctx context.Context, id models.ConversationID, tagIDs []int64) ([]models.Tag, error)
	UnreadSummary(ctx context.Context) ([]models.ChannelUnread, error)
}

type State int

const (
	StateIdle State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is the observable state of one query. A failed fetch is Loaded with
// Err set; the previous data stays in the store.
type Status struct {
	State     State
	FetchedAt time.Time
	err       error
}

func (s Status) Err() error {
	return s.err
}

type Option func(*Client)

func WithStaleTime(d time.Duration) Option {
	return func(c *Client) { c.staleTime = d }
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

type Client struct {
	api       API
	store     *store.Store
	notifier  notify.Notifier
	log       *slog.Logger
	staleTime time.Duration

	cache  geche.Geche[string, any]
	keysMu sync.Mutex
	keys   map[string]struct{}

	activeMu sync.Mutex
	active   map[*ConversationsQuery]struct{}
}

// New binds the REST client and the store. ctx bounds the cache's cleanup
// goroutine.
func New(ctx context.Context, a API, st *store.Store, opts ...Option) *Client {
	c := &Client{
		api:       a,
		store:     st,
		notifier:  notify.Discard{},
		log:       slog.Default(),
		staleTime: DefaultStaleTime,
		keys:      make(map[string]struct{}),
		active:    make(map[*ConversationsQuery]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "query")
	cleanup := max(c.staleTime/2, time.Second)
	cache := geche.NewMapTTLCache[string, any](ctx, c.staleTime, cleanup)
	cache.OnEvict(func(key string, _ any) { c.forget(key) })
	c.cache = cache
	return c
}

func (c *Client) Store() *store.Store {
	return c.store
}

// fetch returns the cached value for key unless force is set, otherwise loads
// and caches it.
func fetch[T any](ctx context.Context, c *Client, kind, key string, force bool, load func(ctx context.Context) (T, error)) (T, error) {
	if !force {
		if v, err := c.cache.Get(key); err == nil {
			if t, ok := v.(T); ok {
				metrics.QueryFetches.WithLabelValues(kind, "hit").Inc()
				return t, nil
			}
		}
	}

	v, err := load(ctx)
	if err != nil {
		metrics.QueryFetches.WithLabelValues(kind, "error").Inc()
		return v, err
	}
	metrics.QueryFetches.WithLabelValues(kind, "ok").Inc()

	c.keysMu.Lock()
	c.keys[key] = struct{}{}
	c.cache.Set(key, v)
	c.keysMu.Unlock()
	return v, nil
}

// forget drops an expired key from the index unless it was set again.
func (c *Client) forget(key string) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	if _, err := c.cache.Get(key); err != nil {
		delete(c.keys, key)
	}
}

// invalidate drops every cached key starting with one of prefixes, and
// forgets keys that have already expired.
func (c *Client) invalidate(prefixes ...string) {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()

	for key := range c.keys {
		if _, err := c.cache.Get(key); err != nil {
			delete(c.keys, key)
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				_ = c.cache.Del(key)
				delete(c.keys, key)
				break
			}
		}
	}
}

// refetchConversations invalidates the list keys and reloads every active
// conversation query. Failures land on the queries' status.
func (c *Client) refetchConversations(ctx context.Context) {
	c.invalidate(keyConversations)

	c.activeMu.Lock()
	queries := make([]*ConversationsQuery, 0, len(c.active))
	for q := range c.active {
		queries = append(queries, q)
	}
	c.activeMu.Unlock()

	for _, q := range queries {
		if err := q.Refetch(ctx); err != nil {
			c.log.Warn("refetch after mutation failed", "error", err)
		}
	}
}

func (c *Client) register(q *ConversationsQuery) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	c.active[q] = struct{}{}
}

func (c *Client) unregister(q *ConversationsQuery) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	delete(c.active, q)
}

// Participants returns the conversation's participants and stores them on the
// conversation.
func (c *Client) Participants(ctx context.Context, id models.ConversationID) ([]models.Participant, error) {
	return c.participants(ctx, id, false)
}

func (c *Client) participants(ctx context.Context, id models.ConversationID, force bool) ([]models.Participant, error) {
	key := fmt.Sprintf("%s%d", keyParticipants, id)
	list, err := fetch(ctx, c, "participants", key, force, func(ctx context.Context) ([]models.Participant, error) {
		return c.api.ListParticipants(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c.store.UpdateConversation(id, func(conv *models.Conversation) {
		conv.Participants = list
	})
	return list, nil
}

// Tags returns the tags of type t, or all tags when t is empty.
func (c *Client) Tags(ctx context.Context, t models.TagType) ([]models.Tag, error) {
	return fetch(ctx, c, "tags", keyTags+string(t), false, func(ctx context.Context) ([]models.Tag, error) {
		return c.api.ListTags(ctx, t)
	})
}

// Unread loads the per-channel unread aggregates into the store, using the
// cache while it is fresh.
func (c *Client) Unread(ctx context.Context) error {
	return c.unread(ctx, false)
}

// RefreshUnread reloads the unread aggregates from the server.
func (c *Client) RefreshUnread(ctx context.Context) error {
	return c.unread(ctx, true)
}

func (c *Client) unread(ctx context.Context, force bool) error {
	list, err := fetch(ctx, c, "unread", keyUnread, force, c.api.UnreadSummary)
	if err != nil {
		return err
	}
	c.store.SetChannelsUnreadCount(list)
	return nil
}
