package api

import (
	"context"
	"fmt"
	"inboxsync/internal/models"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultPageSize = 20

type PageRequest struct {
	Page  int
	Limit int
}

type ConversationPage struct {
	Conversations []models.Conversation
	Page          int
	Total         int
	HasMore       bool
}

type ParticipantInput struct {
	MemberType models.MemberType `json:"memberType"`
	MemberID   string            `json:"memberId"`
	Role       models.Role       `json:"role,omitempty"`
}

type CreateConversationRequest struct {
	Name         string             `json:"name"`
	ChannelID    int64              `json:"channelId,omitempty"`
	IsGroup      bool               `json:"isGroup"`
	Participants []ParticipantInput `json:"participants,omitempty"`
}

// UpdateConversationRequest is a partial update: nil fields are left alone.
type UpdateConversationRequest struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
}

// FilterQuery maps conversation filters onto list query parameters.
func FilterQuery(f models.ConversationFilters) url.Values {
	q := url.Values{}
	if s := strings.TrimSpace(f.Search); s != "" {
		q.Set("search", s)
	}
	if f.ChannelType != "" {
		q.Set("channelType", string(f.ChannelType))
	}
	if len(f.ParticipantIDs) > 0 {
		ids := make([]string, len(f.ParticipantIDs))
		for i, id := range f.ParticipantIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		q.Set("participantIds", strings.Join(ids, ","))
	}
	if f.TagID != 0 {
		q.Set("tagId", strconv.FormatInt(f.TagID, 10))
	}
	if f.HasPhone != nil {
		q.Set("hasPhone", strconv.FormatBool(*f.HasPhone))
	}
	if f.DateFrom != nil {
		q.Set("from", f.DateFrom.UTC().Format(time.RFC3339))
	}
	if f.DateTo != nil {
		q.Set("to", f.DateTo.UTC().Format(time.RFC3339))
	}
	if f.ReadStatus != "" && f.ReadStatus != models.ReadStatusAll {
		q.Set("readStatus", string(f.ReadStatus))
	}
	return q
}

func conversationPath(id models.ConversationID, rest ...string) string {
	return "/conversations/" + strconv.FormatInt(int64(id), 10) + strings.Join(rest, "")
}

func (c *Client) ListConversations(ctx context.Context, f models.ConversationFilters, page PageRequest) (ConversationPage, error) {
	if page.Page < 1 {
		page.Page = 1
	}
	if page.Limit < 1 {
		page.Limit = DefaultPageSize
	}
	q := FilterQuery(f)
	q.Set("page", strconv.Itoa(page.Page))
	q.Set("limit", strconv.Itoa(page.Limit))

	var list []models.Conversation
	meta, err := c.do(ctx, request{method: http.MethodGet, path: "/conversations", query: q}, &list)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}

	result := ConversationPage{
		Conversations: list,
		Page:          page.Page,
		Total:         meta.Total,
	}
	switch {
	case meta.HasMore:
		result.HasMore = true
	case meta.Total > 0:
		result.HasMore = page.Page*page.Limit < meta.Total
	default:
		// Older backends send no meta; a full page means there may be more.
		result.HasMore = len(list) == page.Limit
	}
	return result, nil
}

func (c *Client) GetConversation(ctx context.Context, id models.ConversationID) (models.Conversation, error) {
	var conv models.Conversation
	if _, err := c.do(ctx, request{method: http.MethodGet, path: conversationPath(id)}, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return conv, nil
}

func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (models.Conversation, error) {
	var conv models.Conversation
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/conversations", body: req}, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (c *Client) UpdateConversation(ctx context.Context, id models.ConversationID, req UpdateConversationRequest) (models.Conversation, error) {
	var conv models.Conversation
	if _, err := c.do(ctx, request{method: http.MethodPatch, path: conversationPath(id), body: req}, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("update conversation %d: %w", id, err)
	}
	return conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id models.ConversationID) error {
	if _, err := c.do(ctx, request{method: http.MethodDelete, path: conversationPath(id)}, nil); err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	return nil
}

func (c *Client) MarkConversationRead(ctx context.Context, id models.ConversationID) error {
	if _, err := c.do(ctx, request{method: http.MethodPost, path: conversationPath(id, "/read")}, nil); err != nil {
		return fmt.Errorf("mark conversation %d read: %w", id, err)
	}
	return nil
}

// UnreadSummary returns the per-channel unread aggregates.
func (c *Client) UnreadSummary(ctx context.Context) ([]models.ChannelUnread, error) {
	var list []models.ChannelUnread
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/conversations/unread-count"}, &list); err != nil {
		return nil, fmt.Errorf("unread summary: %w", err)
	}
	return list, nil
}
