// Package store is the shared client state of the inbox: conversations, the
// current selection, per-conversation message lists, list filters and unread
// aggregates.
//
// State is published as immutable snapshots. Writers serialize on a mutex,
// copy what they change, and swap the snapshot pointer; readers load the
// pointer and never block. Values returned by Snapshot must not be modified.
package store

import (
	"inboxsync/internal/models"
	"inboxsync/internal/timeline"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// State is one published snapshot.
type State struct {
	Conversations []models.Conversation
	// SelectedConversationID is zero when nothing is selected.
	SelectedConversationID models.ConversationID
	// SelectedConversation points into Conversations, or is nil when the
	// selected id is not in the list.
	SelectedConversation *models.Conversation
	Messages             map[models.ConversationID][]models.Message
	Filters              models.ConversationFilters
	ChannelsUnreadCount  []models.ChannelUnread
	// TotalUnreadCount is always the sum of ChannelsUnreadCount.
	TotalUnreadCount int

	// Version increases with every write, PersistVersion only with writes
	// that touch persisted fields.
	Version        uint64
	PersistVersion uint64
}

type Option func(*Store)

// WithMaxMessages caps every conversation's message list. Oldest messages by
// creation time are dropped first.
func WithMaxMessages(n int) Option {
	return func(s *Store) { s.maxMessages = n }
}

// WithEchoWindow sets how far apart a pending message and an echo without a
// temp id may be and still be matched.
func WithEchoWindow(d time.Duration) Option {
	return func(s *Store) { s.echoWindow = d }
}

type Store struct {
	state atomic.Pointer[State]

	mu          sync.Mutex
	subscribers map[int]chan struct{}
	nextSub     int

	maxMessages int
	echoWindow  time.Duration

	// userID is the signed-in user; see ReconcileMessage.
	userID string

	// restored is the PersistVersion matching the last restored snapshot.
	restored atomic.Uint64
}

// SetUserID records who is signed in so their own messages pushed back by the
// server are not counted as unread.
func (s *Store) SetUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

// Own reports whether m was sent by the signed-in user.
func (s *Store) Own(m models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.own(m)
}

func (s *Store) own(m models.Message) bool {
	return s.userID != "" && m.Sender.ID == s.userID
}

func New(opts ...Option) *Store {
	s := &Store{
		subscribers: make(map[int]chan struct{}),
		maxMessages: 1000,
		echoWindow:  timeline.DefaultEchoWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(&State{
		Messages: make(map[models.ConversationID][]models.Message),
		Filters:  models.DefaultFilters(),
	})
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() *State {
	return s.state.Load()
}

// Subscribe returns a channel that receives a value after state changes.
// Notifications coalesce: a slow reader sees one pending signal, not one per
// write. The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
}

// update applies fn to a shallow copy of the current state and publishes it.
// fn must replace, not modify, any slice or map it changes.
func (s *Store) update(persisted bool, fn func(next *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.state.Load()
	fn(&next)
	derive(&next)
	next.Version++
	if persisted {
		next.PersistVersion++
	}
	s.state.Store(&next)

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func derive(st *State) {
	st.SelectedConversation = nil
	if st.SelectedConversationID != 0 {
		if i := indexOfConversation(st.Conversations, st.SelectedConversationID); i >= 0 {
			st.SelectedConversation = &st.Conversations[i]
		}
	}

	total := 0
	for _, c := range st.ChannelsUnreadCount {
		total += c.TotalUnreadMessages
	}
	st.TotalUnreadCount = total
}

func indexOfConversation(list []models.Conversation, id models.ConversationID) int {
	return slices.IndexFunc(list, func(c models.Conversation) bool { return c.ID == id })
}

// SetConversations replaces the conversation list and re-resolves the selection.
func (s *Store) SetConversations(list []models.Conversation) {
	s.update(true, func(next *State) {
		next.Conversations = cloneConversations(list)
	})
}

// AddConversation inserts c, or replaces the conversation with the same id.
func (s *Store) AddConversation(c models.Conversation) {
	s.update(true, func(next *State) {
		list := slices.Clone(next.Conversations)
		if i := indexOfConversation(list, c.ID); i >= 0 {
			list[i] = c.Clone()
		} else {
			list = append(list, c.Clone())
		}
		next.Conversations = list
	})
}

// UpdateConversation applies patch to a copy of the conversation with id.
// Unknown ids are ignored.
func (s *Store) UpdateConversation(id models.ConversationID, patch func(c *models.Conversation)) {
	s.update(true, func(next *State) {
		next.Conversations = patchConversation(next.Conversations, id, patch)
	})
}

// RemoveConversation drops the conversation, its messages, and the selection
// if it pointed at it.
func (s *Store) RemoveConversation(id models.ConversationID) {
	s.update(true, func(next *State) {
		if i := indexOfConversation(next.Conversations, id); i >= 0 {
			next.Conversations = slices.Delete(slices.Clone(next.Conversations), i, i+1)
		}
		if _, ok := next.Messages[id]; ok {
			msgs := maps.Clone(next.Messages)
			delete(msgs, id)
			next.Messages = msgs
		}
		if next.SelectedConversationID == id {
			next.SelectedConversationID = 0
		}
	})
}

func (s *Store) SetSelectedConversationID(id models.ConversationID) {
	s.update(true, func(next *State) {
		next.SelectedConversationID = id
	})
}

func (s *Store) ClearSelection() {
	s.SetSelectedConversationID(0)
}

func patchConversation(list []models.Conversation, id models.ConversationID, patch func(c *models.Conversation)) []models.Conversation {
	i := indexOfConversation(list, id)
	if i < 0 {
		return list
	}
	out := slices.Clone(list)
	c := out[i].Clone()
	patch(&c)
	c.ID = id
	out[i] = c
	return out
}

func cloneConversations(list []models.Conversation) []models.Conversation {
	if list == nil {
		return nil
	}
	out := make([]models.Conversation, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

// Selectors. Returned slices are copies and may be modified by the caller.

func (s *Store) Conversations() []models.Conversation {
	return cloneConversations(s.Snapshot().Conversations)
}

func (s *Store) Conversation(id models.ConversationID) (models.Conversation, bool) {
	st := s.Snapshot()
	i := indexOfConversation(st.Conversations, id)
	if i < 0 {
		return models.Conversation{}, false
	}
	return st.Conversations[i].Clone(), true
}

// SelectedConversation returns the selected conversation, or false when
// nothing is selected or the selected id is not in the list.
func (s *Store) SelectedConversation() (models.Conversation, bool) {
	st := s.Snapshot()
	if st.SelectedConversation == nil {
		return models.Conversation{}, false
	}
	return st.SelectedConversation.Clone(), true
}

func (s *Store) SelectedConversationID() models.ConversationID {
	return s.Snapshot().SelectedConversationID
}

// Messages returns the conversation's messages in arrival order.
func (s *Store) Messages(id models.ConversationID) []models.Message {
	return slices.Clone(s.Snapshot().Messages[id])
}

// SortedMessages returns the conversation's messages ordered by creation time,
// the order views render in regardless of how fetches and pushes interleaved.
func (s *Store) SortedMessages(id models.ConversationID) []models.Message {
	return timeline.Sorted(s.Snapshot().Messages[id])
}

func (s *Store) Filters() models.ConversationFilters {
	return s.Snapshot().Filters.Clone()
}

func (s *Store) ChannelsUnread() []models.ChannelUnread {
	return slices.Clone(s.Snapshot().ChannelsUnreadCount)
}

func (s *Store) TotalUnreadCount() int {
	return s.Snapshot().TotalUnreadCount
}
