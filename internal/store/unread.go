package store

import (
	"inboxsync/internal/models"
	"slices"
)

// SetConversationFilters applies patch to a copy of the current filters.
func (s *Store) SetConversationFilters(patch func(f *models.ConversationFilters)) {
	s.update(true, func(next *State) {
		f := next.Filters.Clone()
		patch(&f)
		next.Filters = f
	})
}

func (s *Store) ResetConversationFilters() {
	s.update(true, func(next *State) {
		next.Filters = models.DefaultFilters()
	})
}

// SetChannelsUnreadCount replaces the per-channel aggregates. Negative counts
// are stored as zero.
func (s *Store) SetChannelsUnreadCount(list []models.ChannelUnread) {
	s.update(true, func(next *State) {
		out := slices.Clone(list)
		for i := range out {
			out[i].TotalUnreadMessages = max(out[i].TotalUnreadMessages, 0)
		}
		next.ChannelsUnreadCount = out
	})
}

// UpdateChannelUnreadCount sets one channel's aggregate, adding the channel
// when it is not tracked yet.
func (s *Store) UpdateChannelUnreadCount(t models.ChannelType, count int) {
	s.adjustChannel(t, func(int) int { return count })
}

func (s *Store) IncrementUnreadCount(t models.ChannelType, n int) {
	s.adjustChannel(t, func(cur int) int { return cur + n })
}

// DecrementUnreadCount lowers a channel's aggregate, never below zero.
func (s *Store) DecrementUnreadCount(t models.ChannelType, n int) {
	s.adjustChannel(t, func(cur int) int { return cur - n })
}

func (s *Store) adjustChannel(t models.ChannelType, fn func(cur int) int) {
	s.update(true, func(next *State) {
		list := slices.Clone(next.ChannelsUnreadCount)
		i := slices.IndexFunc(list, func(c models.ChannelUnread) bool { return c.Type == t })
		if i < 0 {
			list = append(list, models.ChannelUnread{Type: t})
			i = len(list) - 1
		}
		list[i].TotalUnreadMessages = max(fn(list[i].TotalUnreadMessages), 0)
		next.ChannelsUnreadCount = list
	})
}

// MarkConversationAsRead zeroes the conversation's own unread counters. The
// channel aggregates are left alone; they are reconciled from the server's
// unread summary.
func (s *Store) MarkConversationAsRead(id models.ConversationID) {
	s.update(true, func(next *State) {
		next.Conversations = patchConversation(next.Conversations, id, func(c *models.Conversation) {
			c.UnreadMessagesCount = 0
			c.UnreadCount = 0
		})
	})
}
