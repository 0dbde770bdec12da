package query

import (
	"context"
	"errors"
	"inboxsync/internal/api"
	"inboxsync/internal/models"
	"inboxsync/internal/notify"
	"inboxsync/internal/store"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mu            sync.Mutex
	calls         map[string]int
	errs          map[string]error
	conversations []models.Conversation
	messages      []models.Message // oldest first
	participants  []models.Participant
	unread        []models.ChannelUnread
	seenFilters   []models.ConversationFilters
	// gate, when set, blocks ListConversations for the matching search.
	gate       chan struct{}
	gateSearch string
}

func newMockAPI() *mockAPI {
	return &mockAPI{calls: make(map[string]int), errs: make(map[string]error)}
}

func (m *mockAPI) record(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	return m.errs[name]
}

func (m *mockAPI) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockAPI) fail(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[name] = err
}

func (m *mockAPI) ListConversations(ctx context.Context, f models.ConversationFilters, page api.PageRequest) (api.ConversationPage, error) {
	if err := m.record("ListConversations"); err != nil {
		return api.ConversationPage{}, err
	}
	m.mu.Lock()
	m.seenFilters = append(m.seenFilters, f)
	gate := m.gate
	gated := gate != nil && f.Search == m.gateSearch
	m.mu.Unlock()
	if gated {
		select {
		case <-gate:
		case <-ctx.Done():
			return api.ConversationPage{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.Conversation
	for _, c := range m.conversations {
		if f.Search == "" || c.Name == f.Search {
			matched = append(matched, c)
		}
	}
	start := min((page.Page-1)*page.Limit, len(matched))
	end := min(start+page.Limit, len(matched))
	return api.ConversationPage{
		Conversations: slices.Clone(matched[start:end]),
		Page:          page.Page,
		Total:         len(matched),
		HasMore:       end < len(matched),
	}, nil
}

func (m *mockAPI) GetConversation(ctx context.Context, id models.ConversationID) (models.Conversation, error) {
	if err := m.record("GetConversation"); err != nil {
		return models.Conversation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Conversation{}, &api.Error{Status: 404}
}

func (m *mockAPI) CreateConversation(ctx context.Context, req api.CreateConversationRequest) (models.Conversation, error) {
	if err := m.record("CreateConversation"); err != nil {
		return models.Conversation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := models.Conversation{ID: models.ConversationID(len(m.conversations) + 100), Name: req.Name}
	m.conversations = append(m.conversations, c)
	return c, nil
}

func (m *mockAPI) UpdateConversation(ctx context.Context, id models.ConversationID, req api.UpdateConversationRequest) (models.Conversation, error) {
	if err := m.record("UpdateConversation"); err != nil {
		return models.Conversation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.conversations {
		if m.conversations[i].ID == id {
			if req.Name != nil {
				m.conversations[i].Name = *req.Name
			}
			return m.conversations[i], nil
		}
	}
	return models.Conversation{}, &api.Error{Status: 404}
}

func (m *mockAPI) DeleteConversation(ctx context.Context, id models.ConversationID) error {
	if err := m.record("DeleteConversation"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = slices.DeleteFunc(m.conversations, func(c models.Conversation) bool { return c.ID == id })
	return nil
}

func (m *mockAPI) MarkConversationRead(ctx context.Context, id models.ConversationID) error {
	return m.record("MarkConversationRead")
}

func (m *mockAPI) ListMessages(ctx context.Context, id models.ConversationID, cur api.Cursor) (api.MessagePage, error) {
	if err := m.record("ListMessages"); err != nil {
		return api.MessagePage{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := func(mid models.MessageID) int {
		return slices.IndexFunc(m.messages, func(x models.Message) bool { return x.ID == mid })
	}
	switch {
	case cur.Before != "":
		end := idx(cur.Before)
		start := max(end-cur.Limit, 0)
		return api.MessagePage{Messages: slices.Clone(m.messages[start:end]), HasOlder: start > 0, HasNewer: true}, nil
	case cur.After != "":
		start := idx(cur.After) + 1
		end := min(start+cur.Limit, len(m.messages))
		return api.MessagePage{Messages: slices.Clone(m.messages[start:end]), HasOlder: true, HasNewer: end < len(m.messages)}, nil
	default:
		start := max(len(m.messages)-cur.Limit, 0)
		return api.MessagePage{Messages: slices.Clone(m.messages[start:]), HasOlder: start > 0}, nil
	}
}

func (m *mockAPI) ListParticipants(ctx context.Context, id models.ConversationID) ([]models.Participant, error) {
	if err := m.record("ListParticipants"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.participants), nil
}

func (m *mockAPI) AddParticipants(ctx context.Context, id models.ConversationID, in []api.ParticipantInput) ([]models.Participant, error) {
	if err := m.record("AddParticipants"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var added []models.Participant
	for _, p := range in {
		added = append(added, models.Participant{ID: int64(len(m.participants) + 1), ConversationID: id, MemberType: p.MemberType, MemberID: p.MemberID})
		m.participants = append(m.participants, added[len(added)-1])
	}
	return added, nil
}

func (m *mockAPI) RemoveParticipant(ctx context.Context, id models.ConversationID, participantID int64) error {
	return m.record("RemoveParticipant")
}

func (m *mockAPI) ListTags(ctx context.Context, t models.TagType) ([]models.Tag, error) {
	if err := m.record("ListTags"); err != nil {
		return nil, err
	}
	return []models.Tag{{ID: 1, Name: "vip", Type: t}}, nil
}

func (m *mockAPI) CreateTag(ctx context.Context, req api.TagRequest) (models.Tag, error) {
	if err := m.record("CreateTag"); err != nil {
		return models.Tag{}, err
	}
	return models.Tag{ID: 2, Name: req.Name, Type: req.Type}, nil
}

func (m *mockAPI) UpdateTag(ctx context.Context, id int64, req api.TagRequest) (models.Tag, error) {
	if err := m.record("UpdateTag"); err != nil {
		return models.Tag{}, err
	}
	return models.Tag{ID: id, Name: req.Name}, nil
}

func (m *mockAPI) DeleteTag(ctx context.Context, id int64) error {
	return m.record("DeleteTag")
}

func (m *mockAPI) BulkDeleteTags(ctx context.Context, ids []int64) error {
	return m.record("BulkDeleteTags")
}

func (m *mockAPI) AddTagsToConversation(ctx context.Context, id models.ConversationID, tagIDs []int64) ([]models.Tag, error) {
	if err := m.record("AddTagsToConversation"); err != nil {
		return nil, err
	}
	var tags []models.Tag
	for _, tid := range tagIDs {
		tags = append(tags, models.Tag{ID: tid, Name: "tag-" + strconv.FormatInt(tid, 10)})
	}
	return tags, nil
}

func (m *mockAPI) UnreadSummary(ctx context.Context) ([]models.ChannelUnread, error) {
	if err := m.record("UnreadSummary"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.unread), nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	success []notify.Key
	errors  []notify.Key
}

func (n *recordingNotifier) Success(key notify.Key, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.success = append(n.success, key)
}

func (n *recordingNotifier) Error(key notify.Key, err error, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, key)
}

func newTestClient(t *testing.T, a *mockAPI) (*Client, *store.Store, *recordingNotifier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := store.New()
	n := &recordingNotifier{}
	return New(ctx, a, st, WithNotifier(n), WithStaleTime(time.Minute)), st, n
}

func convs(n int) []models.Conversation {
	out := make([]models.Conversation, n)
	for i := range out {
		out[i] = models.Conversation{ID: models.ConversationID(i + 1), Name: "c" + strconv.Itoa(i+1)}
	}
	return out
}

func TestConversationsQuery_FetchUsesCache(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(3)
	c, st, _ := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()
	require.Equal(t, StateIdle, q.Status().State)

	require.NoError(t, q.Fetch(ctx))
	require.Equal(t, StateLoaded, q.Status().State)
	require.NoError(t, q.Status().Err())
	require.Len(t, st.Conversations(), 3)

	require.NoError(t, q.Fetch(ctx))
	require.Equal(t, 1, a.count("ListConversations"), "fresh cache entry is reused")

	require.NoError(t, q.Refetch(ctx))
	require.Equal(t, 2, a.count("ListConversations"))
}

func TestClient_ExpiredKeysAreForgotten(t *testing.T) {
	a := newMockAPI()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx, a, store.New(), WithStaleTime(10*time.Millisecond))

	_, err := c.Tags(ctx, models.TagTypeConversation)
	require.NoError(t, err)
	require.Equal(t, 1, c.indexedKeys())

	time.Sleep(20 * time.Millisecond)
	c.invalidate(keyConversations)
	require.Zero(t, c.indexedKeys())

	_, err = c.Tags(ctx, models.TagTypeConversation)
	require.NoError(t, err)
	require.Equal(t, 2, a.count("ListTags"), "expired entry is loaded again")
}

func (c *Client) indexedKeys() int {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	return len(c.keys)
}

func TestConversationsQuery_ErrorIsFlagOnLoaded(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(2)
	c, st, _ := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()
	require.NoError(t, q.Fetch(ctx))

	boom := errors.New("boom")
	a.fail("ListConversations", boom)
	require.ErrorIs(t, q.Refetch(ctx), boom)

	status := q.Status()
	require.Equal(t, StateLoaded, status.State)
	require.ErrorIs(t, status.Err(), boom)
	require.Len(t, st.Conversations(), 2, "previous data stays")
}

func TestConversationsQuery_Pagination(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(5)
	c, st, _ := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations(WithPageSize(2))
	defer q.Close()

	require.NoError(t, q.Fetch(ctx))
	require.Len(t, st.Conversations(), 2)
	require.True(t, q.HasMore())

	require.NoError(t, q.NextPage(ctx))
	require.NoError(t, q.NextPage(ctx))
	require.Len(t, st.Conversations(), 5)
	require.False(t, q.HasMore())

	require.NoError(t, q.NextPage(ctx))
	require.Equal(t, 3, a.count("ListConversations"), "no request past the last page")

	// Changing filters resets to page 1.
	st.SetConversationFilters(func(f *models.ConversationFilters) { f.Search = "c4" })
	require.NoError(t, q.NextPage(ctx))
	list := st.Conversations()
	require.Len(t, list, 1)
	require.Equal(t, "c4", list[0].Name)
}

func TestConversationsQuery_WatchRefetchesOnFilterChange(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(3)
	c, st, _ := newTestClient(t, a)

	q := c.Conversations()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Watch(ctx) }()

	require.Eventually(t, func() bool { return len(st.Conversations()) == 3 }, time.Second, 5*time.Millisecond)

	// Unrelated writes do not refetch.
	st.SetSelectedConversationID(1)
	st.IncrementUnreadCount(models.ChannelZalo, 1)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, a.count("ListConversations"))

	st.SetConversationFilters(func(f *models.ConversationFilters) { f.Search = "c2" })
	require.Eventually(t, func() bool {
		list := st.Conversations()
		return len(list) == 1 && list[0].Name == "c2"
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestConversationsQuery_StaleAnswerIsDiscarded(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(3)
	a.gate = make(chan struct{})
	a.gateSearch = "c1"
	c, st, _ := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()

	st.SetConversationFilters(func(f *models.ConversationFilters) { f.Search = "c1" })
	slow := make(chan error, 1)
	go func() { slow <- q.Fetch(ctx) }()
	require.Eventually(t, func() bool { return a.count("ListConversations") == 1 }, time.Second, time.Millisecond)

	st.SetConversationFilters(func(f *models.ConversationFilters) { f.Search = "c3" })
	require.NoError(t, q.Fetch(ctx))
	close(a.gate)
	require.NoError(t, <-slow)

	list := st.Conversations()
	require.Len(t, list, 1)
	require.Equal(t, "c3", list[0].Name)
}

func TestConversationsQuery_SingleConversation(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(3)
	c, st, _ := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations(WithSingleConversation(2))
	defer q.Close()

	require.NoError(t, q.Fetch(ctx))
	require.NoError(t, q.NextPage(ctx))
	require.Zero(t, a.count("ListConversations"))
	require.Equal(t, 1, a.count("GetConversation"))

	conv, ok := st.Conversation(2)
	require.True(t, ok)
	require.Equal(t, "c2", conv.Name)
}

func messagesFixture(n int) []models.Message {
	base := time.Unix(1_700_000_000, 0)
	out := make([]models.Message, n)
	for i := range out {
		out[i] = models.Message{
			ID:          models.MessageID("m" + strconv.Itoa(i+1)),
			Content:     "msg " + strconv.Itoa(i+1),
			ContentType: models.ContentTypeText,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestMessagesQuery_DisabledWithoutConversation(t *testing.T) {
	a := newMockAPI()
	c, _, _ := newTestClient(t, a)

	q := c.Messages(0, 10)
	require.NoError(t, q.Latest(context.Background()))
	require.Equal(t, StateIdle, q.Status().State)
	require.Zero(t, a.count("ListMessages"))
}

func TestMessagesQuery_CursorPaging(t *testing.T) {
	a := newMockAPI()
	a.messages = messagesFixture(7)
	c, st, _ := newTestClient(t, a)
	ctx := context.Background()

	q := c.Messages(1, 3)
	require.NoError(t, q.Latest(ctx))
	require.Equal(t, StateLoaded, q.Status().State)
	require.True(t, q.HasOlder())
	require.Equal(t, []models.MessageID{"m5", "m6", "m7"}, ids(st.SortedMessages(1)))

	require.NoError(t, q.Older(ctx))
	require.NoError(t, q.Older(ctx))
	require.False(t, q.HasOlder())
	require.Len(t, st.Messages(1), 7)
	require.Equal(t, 3, q.Pages())

	// Catch up on messages that arrived while away.
	a.mu.Lock()
	a.messages = append(a.messages, messagesFixture(9)[7:]...)
	a.mu.Unlock()
	require.NoError(t, q.Newer(ctx))
	require.Len(t, st.Messages(1), 9)
	require.False(t, q.HasNewer())
}

func TestMessagesQuery_PageWalksOlderCursors(t *testing.T) {
	a := newMockAPI()
	a.messages = messagesFixture(10)
	c, st, _ := newTestClient(t, a)

	q := c.Messages(1, 3)
	require.NoError(t, q.Page(context.Background(), 3))
	require.Equal(t, 3, q.Pages())
	require.Len(t, st.Messages(1), 9)

	require.NoError(t, q.Page(context.Background(), 10))
	require.Len(t, st.Messages(1), 10, "stops when nothing older is left")
}

func TestMessagesQuery_MergesWithPushedMessages(t *testing.T) {
	a := newMockAPI()
	a.messages = messagesFixture(3)
	c, st, _ := newTestClient(t, a)

	// m3 arrived over the push channel before the fetch completed.
	st.AddMessage(1, a.messages[2])

	require.NoError(t, c.Messages(1, 10).Latest(context.Background()))
	require.Len(t, st.Messages(1), 3, "no duplicates")
	require.Equal(t, []models.MessageID{"m1", "m2", "m3"}, ids(st.SortedMessages(1)))
}

func ids(list []models.Message) []models.MessageID {
	out := make([]models.MessageID, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}
