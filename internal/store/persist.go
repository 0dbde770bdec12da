package store

import (
	"context"
	"inboxsync/internal/models"
	"log/slog"
	"slices"
	"time"
)

// PersistedState is the part of the state that survives a restart. Message
// bodies and loading flags are deliberately absent.
type PersistedState struct {
	Conversations          []models.Conversation
	SelectedConversationID models.ConversationID
	Filters                models.ConversationFilters
	ChannelsUnreadCount    []models.ChannelUnread
}

// Saver writes a persisted snapshot somewhere durable.
type Saver interface {
	SaveSnapshot(PersistedState) error
}

func (s *Store) Persisted() PersistedState {
	st := s.Snapshot()
	return PersistedState{
		Conversations:          cloneConversations(st.Conversations),
		SelectedConversationID: st.SelectedConversationID,
		Filters:                st.Filters.Clone(),
		ChannelsUnreadCount:    slices.Clone(st.ChannelsUnreadCount),
	}
}

// Restore loads a persisted snapshot, replacing the persisted fields.
func (s *Store) Restore(p PersistedState) {
	s.update(false, func(next *State) {
		next.Conversations = cloneConversations(p.Conversations)
		next.SelectedConversationID = p.SelectedConversationID
		next.Filters = p.Filters.Clone()
		if next.Filters.ReadStatus == "" {
			next.Filters.ReadStatus = models.ReadStatusAll
		}
		next.ChannelsUnreadCount = slices.Clone(p.ChannelsUnreadCount)
		s.restored.Store(next.PersistVersion)
	})
}

// Persist saves the persisted subset whenever it changes, at most once per
// interval, until ctx is done. A final save runs on the way out. Writes made
// since New or the last Restore count as changes, even those made before
// Persist started.
func Persist(ctx context.Context, s *Store, saver Saver, interval time.Duration) error {
	changes, unsubscribe := s.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	saved := s.restored.Load()
	flush := func() {
		st := s.Snapshot()
		if st.PersistVersion == saved {
			return
		}
		if err := saver.SaveSnapshot(s.Persisted()); err != nil {
			slog.Error("failed to persist state", "error", err)
			return
		}
		saved = st.PersistVersion
	}

	dirty := s.Snapshot().PersistVersion != saved
	for {
		select {
		case <-changes:
			dirty = true
		case <-ticker.C:
			if dirty {
				flush()
				dirty = false
			}
		case <-ctx.Done():
			flush()
			return nil
		}
	}
}
