package query

import (
	"context"
	"fmt"
	"inboxsync/internal/api"
	"inboxsync/internal/models"
	"slices"
	"strconv"
	"sync"
	"time"
)

type ConversationsOption func(*ConversationsQuery)

// WithSingleConversation turns the list query off; only conversation id is
// fetched and upserted into the store.
func WithSingleConversation(id models.ConversationID) ConversationsOption {
	return func(q *ConversationsQuery) { q.single = id }
}

func WithPageSize(n int) ConversationsOption {
	return func(q *ConversationsQuery) { q.pageSize = n }
}

// ConversationsQuery loads the conversation list for the store's current
// filters.
type ConversationsQuery struct {
	c        *Client
	single   models.ConversationID
	pageSize int

	mu      sync.Mutex
	status  Status
	gen     uint64
	cancel  context.CancelFunc
	filters models.ConversationFilters
	page    int
	hasMore bool
}

func (c *Client) Conversations(opts ...ConversationsOption) *ConversationsQuery {
	q := &ConversationsQuery{c: c, pageSize: api.DefaultPageSize}
	for _, opt := range opts {
		opt(q)
	}
	c.register(q)
	return q
}

// Close stops refetches of q after mutations.
func (q *ConversationsQuery) Close() {
	q.c.unregister(q)
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
}

func (q *ConversationsQuery) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

func (q *ConversationsQuery) HasMore() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasMore
}

// Fetch loads page 1 for the current filters, from the cache when fresh.
func (q *ConversationsQuery) Fetch(ctx context.Context) error {
	return q.load(ctx, false)
}

// Refetch is Fetch bypassing the cache.
func (q *ConversationsQuery) Refetch(ctx context.Context) error {
	return q.load(ctx, true)
}

// begin marks a new fetch, cancelling any fetch still in flight so a slow
// answer for old filters cannot overwrite a newer one.
func (q *ConversationsQuery) begin(ctx context.Context) (context.Context, uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.gen++
	q.status = Status{State: StateLoading, FetchedAt: q.status.FetchedAt}
	return ctx, q.gen
}

// finish records the outcome; it reports false when a newer fetch started.
func (q *ConversationsQuery) finish(gen uint64, err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if gen != q.gen {
		return false
	}
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	st := Status{State: StateLoaded, FetchedAt: q.status.FetchedAt, err: err}
	if err == nil {
		st.FetchedAt = time.Now()
	}
	q.status = st
	return true
}

func (q *ConversationsQuery) load(ctx context.Context, force bool) error {
	if q.single != 0 {
		return q.loadSingle(ctx, force)
	}

	filters := q.c.store.Filters()
	ctx, gen := q.begin(ctx)

	page, err := q.fetchPage(ctx, filters, 1, force)
	if err != nil {
		if q.finish(gen, err) {
			return err
		}
		return nil
	}

	q.mu.Lock()
	current := gen == q.gen
	if current {
		q.filters = filters
		q.page = 1
		q.hasMore = page.HasMore
		// Writing while holding mu keeps a newer fetch from interleaving.
		q.c.store.SetConversations(page.Conversations)
	}
	q.mu.Unlock()

	q.finish(gen, nil)
	return nil
}

func (q *ConversationsQuery) fetchPage(ctx context.Context, f models.ConversationFilters, n int, force bool) (api.ConversationPage, error) {
	key := keyConversations + api.FilterQuery(f).Encode() + "&page=" + strconv.Itoa(n) + "&limit=" + strconv.Itoa(q.pageSize)
	return fetch(ctx, q.c, "conversations", key, force, func(ctx context.Context) (api.ConversationPage, error) {
		return q.c.api.ListConversations(ctx, f, api.PageRequest{Page: n, Limit: q.pageSize})
	})
}

func (q *ConversationsQuery) loadSingle(ctx context.Context, force bool) error {
	ctx, gen := q.begin(ctx)

	key := fmt.Sprintf("%sid=%d", keyConversations, q.single)
	conv, err := fetch(ctx, q.c, "conversation", key, force, func(ctx context.Context) (models.Conversation, error) {
		return q.c.api.GetConversation(ctx, q.single)
	})
	if err == nil {
		q.c.store.AddConversation(conv)
	}
	if q.finish(gen, err) {
		return err
	}
	return nil
}

// NextPage appends the next page of the current filters to the list. It is a
// no-op when the last page was already loaded or the filters changed since
// the last Fetch, which reloads page 1 instead.
func (q *ConversationsQuery) NextPage(ctx context.Context) error {
	if q.single != 0 {
		return nil
	}

	q.mu.Lock()
	filters, next, more := q.filters, q.page+1, q.hasMore
	loaded := q.page > 0
	q.mu.Unlock()

	if !loaded || !filters.Equal(q.c.store.Filters()) {
		return q.Fetch(ctx)
	}
	if !more {
		return nil
	}

	ctx, gen := q.begin(ctx)
	page, err := q.fetchPage(ctx, filters, next, false)
	if err != nil {
		if q.finish(gen, err) {
			return err
		}
		return nil
	}

	q.mu.Lock()
	if gen == q.gen {
		q.page = next
		q.hasMore = page.HasMore
		q.c.store.SetConversations(appendConversations(q.c.store.Conversations(), page.Conversations))
	}
	q.mu.Unlock()

	q.finish(gen, nil)
	return nil
}

// appendConversations adds page to list, replacing entries with known ids
// in place.
func appendConversations(list, page []models.Conversation) []models.Conversation {
	for _, c := range page {
		if i := slices.IndexFunc(list, func(x models.Conversation) bool { return x.ID == c.ID }); i >= 0 {
			list[i] = c
			continue
		}
		list = append(list, c)
	}
	return list
}

// Watch fetches the list and refetches page 1 whenever the store's filters
// change, until ctx is done.
func (q *ConversationsQuery) Watch(ctx context.Context) error {
	changes, unsubscribe := q.c.store.Subscribe()
	defer unsubscribe()

	last := q.c.store.Filters()
	if err := q.Fetch(ctx); err != nil {
		q.c.log.Warn("conversation list fetch failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			f := q.c.store.Filters()
			if f.Equal(last) {
				continue
			}
			last = f
			if err := q.Fetch(ctx); err != nil && ctx.Err() == nil {
				q.c.log.Warn("conversation list fetch failed", "error", err)
			}
		}
	}
}
