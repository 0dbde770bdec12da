package query

import (
	"context"
	"fmt"
	"inboxsync/internal/api"
	"inboxsync/internal/models"
	"inboxsync/internal/notify"
)

// Mutations report success and failure through the notifier and return the
// error to the caller. Nothing applied to the store before a failure is
// rolled back.

func (c *Client) failed(key notify.Key, err error) error {
	c.notifier.Error(key, err)
	return err
}

func (c *Client) CreateConversation(ctx context.Context, req api.CreateConversationRequest) (models.Conversation, error) {
	conv, err := c.api.CreateConversation(ctx, req)
	if err != nil {
		return models.Conversation{}, c.failed(notify.RequestFailed, err)
	}
	c.store.AddConversation(conv)
	c.notifier.Success(notify.ConversationCreated, conv.Name)
	c.refetchConversations(ctx)
	return conv, nil
}

func (c *Client) UpdateConversation(ctx context.Context, id models.ConversationID, req api.UpdateConversationRequest) (models.Conversation, error) {
	conv, err := c.api.UpdateConversation(ctx, id, req)
	if err != nil {
		return models.Conversation{}, c.failed(notify.RequestFailed, err)
	}
	c.store.UpdateConversation(id, func(cur *models.Conversation) {
		cur.Name = conv.Name
		cur.AvatarURL = conv.AvatarURL
	})
	c.notifier.Success(notify.ConversationUpdated)
	c.refetchConversations(ctx)
	return conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id models.ConversationID) error {
	if err := c.api.DeleteConversation(ctx, id); err != nil {
		return c.failed(notify.RequestFailed, err)
	}
	c.store.RemoveConversation(id)
	c.invalidate(fmt.Sprintf("%s%d:", keyMessages, id), fmt.Sprintf("%s%d", keyParticipants, id))
	c.notifier.Success(notify.ConversationDeleted)
	c.refetchConversations(ctx)
	return nil
}

// MarkRead clears the conversation's unread counters right away, tells the
// server, then reloads the per-channel aggregates so they agree with it.
func (c *Client) MarkRead(ctx context.Context, id models.ConversationID) error {
	c.store.MarkConversationAsRead(id)
	if err := c.api.MarkConversationRead(ctx, id); err != nil {
		return c.failed(notify.ConversationMarkRead, err)
	}
	c.invalidate(keyConversations)
	if err := c.RefreshUnread(ctx); err != nil {
		c.notifier.Error(notify.UnreadRefreshFailed, err)
	}
	return nil
}

func (c *Client) AddParticipants(ctx context.Context, id models.ConversationID, in []api.ParticipantInput) ([]models.Participant, error) {
	added, err := c.api.AddParticipants(ctx, id, in)
	if err != nil {
		return nil, c.failed(notify.RequestFailed, err)
	}
	c.notifier.Success(notify.ParticipantsAdded, len(in))
	c.refetchParticipants(ctx, id)
	return added, nil
}

func (c *Client) RemoveParticipant(ctx context.Context, id models.ConversationID, participantID int64) error {
	if err := c.api.RemoveParticipant(ctx, id, participantID); err != nil {
		return c.failed(notify.RequestFailed, err)
	}
	c.notifier.Success(notify.ParticipantRemoved)
	c.refetchParticipants(ctx, id)
	return nil
}

func (c *Client) refetchParticipants(ctx context.Context, id models.ConversationID) {
	c.invalidate(fmt.Sprintf("%s%d", keyParticipants, id))
	if _, err := c.participants(ctx, id, true); err != nil {
		c.log.Warn("participant refetch failed", "conversation", id, "error", err)
	}
}

func (c *Client) CreateTag(ctx context.Context, req api.TagRequest) (models.Tag, error) {
	tag, err := c.api.CreateTag(ctx, req)
	if err != nil {
		return models.Tag{}, c.failed(notify.RequestFailed, err)
	}
	c.invalidate(keyTags)
	c.notifier.Success(notify.TagCreated, tag.Name)
	return tag, nil
}

// UpdateTag also refreshes conversations, which embed their tags.
func (c *Client) UpdateTag(ctx context.Context, id int64, req api.TagRequest) (models.Tag, error) {
	tag, err := c.api.UpdateTag(ctx, id, req)
	if err != nil {
		return models.Tag{}, c.failed(notify.RequestFailed, err)
	}
	c.invalidate(keyTags)
	c.notifier.Success(notify.TagUpdated)
	c.refetchConversations(ctx)
	return tag, nil
}

func (c *Client) DeleteTag(ctx context.Context, id int64) error {
	if err := c.api.DeleteTag(ctx, id); err != nil {
		return c.failed(notify.RequestFailed, err)
	}
	c.invalidate(keyTags)
	c.notifier.Success(notify.TagDeleted)
	c.refetchConversations(ctx)
	return nil
}

func (c *Client) BulkDeleteTags(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.api.BulkDeleteTags(ctx, ids); err != nil {
		return c.failed(notify.RequestFailed, err)
	}
	c.invalidate(keyTags)
	c.notifier.Success(notify.TagsDeleted, len(ids))
	c.refetchConversations(ctx)
	return nil
}

func (c *Client) AddTagsToConversation(ctx context.Context, id models.ConversationID, tagIDs []int64) ([]models.Tag, error) {
	tags, err := c.api.AddTagsToConversation(ctx, id, tagIDs)
	if err != nil {
		return nil, c.failed(notify.RequestFailed, err)
	}
	if tags != nil {
		c.store.UpdateConversation(id, func(conv *models.Conversation) {
			conv.Tags = tags
		})
	}
	c.notifier.Success(notify.TagsAdded)
	c.refetchConversations(ctx)
	return tags, nil
}
