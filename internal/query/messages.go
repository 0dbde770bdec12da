package query

import (
	"context"
	"fmt"
	"inboxsync/internal/api"
	"inboxsync/internal/models"
	"inboxsync/internal/timeline"
	"sync"
	"time"
)

// MessagesQuery pages through one conversation's messages with cursors and
// merges every page into the store.
type MessagesQuery struct {
	c     *Client
	id    models.ConversationID
	limit int

	mu       sync.Mutex
	status   Status
	pages    int
	hasOlder bool
	hasNewer bool
}

// Messages returns the query for conversation id. A zero id gives a disabled
// query that stays Idle.
func (c *Client) Messages(id models.ConversationID, limit int) *MessagesQuery {
	if limit < 1 {
		limit = api.DefaultMessageLimit
	}
	return &MessagesQuery{c: c, id: id, limit: limit}
}

func (q *MessagesQuery) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

func (q *MessagesQuery) HasOlder() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasOlder
}

func (q *MessagesQuery) HasNewer() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasNewer
}

// Pages returns how many pages were loaded since the last Latest.
func (q *MessagesQuery) Pages() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pages
}

// Latest loads the newest page.
func (q *MessagesQuery) Latest(ctx context.Context) error {
	return q.load(ctx, api.Cursor{Limit: q.limit}, false, func(p api.MessagePage) {
		q.pages = 1
		q.hasOlder = p.HasOlder
		q.hasNewer = false
	})
}

// Older loads the page before the oldest message known to the store.
func (q *MessagesQuery) Older(ctx context.Context) error {
	oldest, ok := timeline.Oldest(q.c.store.Messages(q.id))
	if !ok {
		return q.Latest(ctx)
	}
	return q.load(ctx, api.Cursor{Before: oldest.ID, Limit: q.limit}, false, func(p api.MessagePage) {
		q.pages++
		q.hasOlder = p.HasOlder
	})
}

// Newer loads the page after the newest message known to the store, to catch
// up after the push channel was down. It always goes to the server.
func (q *MessagesQuery) Newer(ctx context.Context) error {
	newest, ok := timeline.Newest(q.c.store.Messages(q.id))
	if !ok {
		return q.Latest(ctx)
	}
	return q.load(ctx, api.Cursor{After: newest.ID, Limit: q.limit}, true, func(p api.MessagePage) {
		q.hasNewer = p.HasNewer
	})
}

// Page loads pages until n pages counted from the newest are in the store or
// there is nothing older.
func (q *MessagesQuery) Page(ctx context.Context, n int) error {
	if q.Pages() == 0 {
		if err := q.Latest(ctx); err != nil {
			return err
		}
	}
	for q.Pages() < n && q.HasOlder() {
		if err := q.Older(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (q *MessagesQuery) load(ctx context.Context, cur api.Cursor, force bool, apply func(p api.MessagePage)) error {
	if q.id == 0 {
		q.mu.Lock()
		q.status = Status{State: StateIdle}
		q.mu.Unlock()
		return nil
	}

	q.mu.Lock()
	q.status = Status{State: StateLoading, FetchedAt: q.status.FetchedAt}
	q.mu.Unlock()

	key := fmt.Sprintf("%s%d:%s:%d", keyMessages, q.id, cur, cur.Limit)
	page, err := fetch(ctx, q.c, "messages", key, force, func(ctx context.Context) (api.MessagePage, error) {
		return q.c.api.ListMessages(ctx, q.id, cur)
	})

	q.mu.Lock()
	defer q.mu.Unlock()
	if err != nil {
		q.status = Status{State: StateLoaded, FetchedAt: q.status.FetchedAt, err: err}
		return err
	}
	q.c.store.MergeMessages(q.id, page.Messages)
	apply(page)
	q.status = Status{State: StateLoaded, FetchedAt: time.Now()}
	return nil
}
