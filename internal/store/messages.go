package store

import (
	"inboxsync/internal/models"
	"inboxsync/internal/timeline"
	"maps"
	"time"
)

// Outcome tells what ReconcileMessage did with an inbound message.
type Outcome string

const (
	OutcomeAppended  Outcome = "appended"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDuplicate Outcome = "duplicate"
)

func (s *Store) setMessageList(next *State, id models.ConversationID, list []models.Message) {
	msgs := maps.Clone(next.Messages)
	if msgs == nil {
		msgs = make(map[models.ConversationID][]models.Message)
	}
	msgs[id] = timeline.Trim(list, s.maxMessages)
	next.Messages = msgs
}

// SetMessages replaces the conversation's message list.
func (s *Store) SetMessages(id models.ConversationID, list []models.Message) {
	s.update(false, func(next *State) {
		s.setMessageList(next, id, timeline.Merge(nil, list))
	})
}

// MergeMessages folds a fetched page into the conversation's list without
// duplicating messages already present.
func (s *Store) MergeMessages(id models.ConversationID, page []models.Message) {
	s.update(false, func(next *State) {
		s.setMessageList(next, id, timeline.Merge(next.Messages[id], page))
	})
}

// AddMessage appends m, moves the conversation's latest message to it and
// counts it as unread. A message whose id or temp id is already known is
// ignored; one with neither is always appended.
func (s *Store) AddMessage(id models.ConversationID, m models.Message) {
	s.update(true, func(next *State) {
		s.appendMessage(next, id, m, true)
	})
}

func (s *Store) appendMessage(next *State, id models.ConversationID, m models.Message, unread bool) bool {
	if m.ConversationID == 0 {
		m.ConversationID = id
	}
	if timeline.Contains(next.Messages[id], m) {
		return false
	}
	s.setMessageList(next, id, timeline.AppendBounded(next.Messages[id], m, s.maxMessages))
	next.Conversations = patchConversation(next.Conversations, id, func(c *models.Conversation) {
		c.LatestMessage = m.Content
		c.LatestMessageAt = m.CreatedAt
		if unread {
			c.UnreadMessagesCount++
		}
	})
	return true
}

// AddPendingMessage appends a locally sent message awaiting its server echo.
// Own messages move the latest message but never count as unread.
func (s *Store) AddPendingMessage(id models.ConversationID, m models.Message) {
	m.ConversationID = id
	m.Status = models.MessageStatusPending
	s.update(true, func(next *State) {
		s.setMessageList(next, id, timeline.AppendBounded(next.Messages[id], m, s.maxMessages))
		next.Conversations = patchConversation(next.Conversations, id, func(c *models.Conversation) {
			c.LatestMessage = m.Content
			c.LatestMessageAt = m.CreatedAt
		})
	})
}

// ReconcileMessage records a message delivered by the server. If it confirms
// a pending local message, that entry is replaced in place; otherwise it is
// appended like AddMessage, except that the signed-in user's own messages,
// sent from another device, are not counted as unread.
func (s *Store) ReconcileMessage(id models.ConversationID, m models.Message) Outcome {
	outcome := OutcomeDuplicate
	s.update(true, func(next *State) {
		list := next.Messages[id]
		if m.ID != "" && timeline.IndexOf(list, m.Key()) >= 0 {
			return
		}
		if i := timeline.MatchPending(list, m, s.echoWindow); i >= 0 {
			confirmed := timeline.Confirm(list[i], m)
			s.setMessageList(next, id, timeline.Replace(list, i, confirmed))
			next.Conversations = patchConversation(next.Conversations, id, func(c *models.Conversation) {
				c.LatestMessage = confirmed.Content
				c.LatestMessageAt = confirmed.CreatedAt
			})
			outcome = OutcomeConfirmed
			return
		}
		if s.appendMessage(next, id, m, !s.own(m)) {
			outcome = OutcomeAppended
		}
	})
	return outcome
}

// UpdateMessage applies patch to a copy of the message with msgID.
func (s *Store) UpdateMessage(id models.ConversationID, msgID models.MessageID, patch func(m *models.Message)) {
	s.patchMessage(id, models.Message{ID: msgID}.Key(), patch)
}

// MarkMessageFailed flags a pending message, found by temp id, as failed.
func (s *Store) MarkMessageFailed(id models.ConversationID, tempID string) {
	s.patchMessage(id, models.Message{ClientTempID: tempID}.Key(), func(m *models.Message) {
		if m.Status == models.MessageStatusPending {
			m.Status = models.MessageStatusFailed
		}
	})
}

func (s *Store) patchMessage(id models.ConversationID, key string, patch func(m *models.Message)) {
	s.update(false, func(next *State) {
		list := next.Messages[id]
		i := timeline.IndexOf(list, key)
		if i < 0 {
			return
		}
		m := list[i]
		patch(&m)
		s.setMessageList(next, id, timeline.Replace(list, i, m))
	})
}

func (s *Store) RemoveMessage(id models.ConversationID, msgID models.MessageID) {
	s.update(false, func(next *State) {
		list := next.Messages[id]
		key := models.Message{ID: msgID}.Key()
		if timeline.IndexOf(list, key) < 0 {
			return
		}
		s.setMessageList(next, id, timeline.Remove(list, key))
	})
}

// ExpirePending marks every pending message created before deadline as
// failed and returns how many were marked.
func (s *Store) ExpirePending(deadline time.Time) int {
	expired := 0
	s.update(false, func(next *State) {
		for id, list := range next.Messages {
			tempIDs := timeline.Expired(list, deadline)
			if len(tempIDs) == 0 {
				continue
			}
			for _, tmp := range tempIDs {
				i := timeline.IndexOf(list, models.Message{ClientTempID: tmp}.Key())
				m := list[i]
				m.Status = models.MessageStatusFailed
				list = timeline.Replace(list, i, m)
			}
			s.setMessageList(next, id, list)
			expired += len(tempIDs)
		}
	})
	return expired
}
