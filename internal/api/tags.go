package api

import (
	"context"
	"fmt"
	"inboxsync/internal/models"
	"net/http"
	"net/url"
	"strconv"
)

type TagRequest struct {
	Name  string         `json:"name"`
	Color string         `json:"color,omitempty"`
	Type  models.TagType `json:"type"`
}

func tagPath(id int64) string {
	return "/tags/" + strconv.FormatInt(id, 10)
}

// ListTags returns the tags of one type, or all tags when t is empty.
func (c *Client) ListTags(ctx context.Context, t models.TagType) ([]models.Tag, error) {
	q := url.Values{}
	if t != "" {
		q.Set("type", string(t))
	}
	var list []models.Tag
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/tags", query: q}, &list); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return list, nil
}

func (c *Client) CreateTag(ctx context.Context, req TagRequest) (models.Tag, error) {
	var tag models.Tag
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/tags", body: req}, &tag); err != nil {
		return models.Tag{}, fmt.Errorf("create tag: %w", err)
	}
	return tag, nil
}

func (c *Client) UpdateTag(ctx context.Context, id int64, req TagRequest) (models.Tag, error) {
	var tag models.Tag
	if _, err := c.do(ctx, request{method: http.MethodPatch, path: tagPath(id), body: req}, &tag); err != nil {
		return models.Tag{}, fmt.Errorf("update tag %d: %w", id, err)
	}
	return tag, nil
}

func (c *Client) DeleteTag(ctx context.Context, id int64) error {
	if _, err := c.do(ctx, request{method: http.MethodDelete, path: tagPath(id)}, nil); err != nil {
		return fmt.Errorf("delete tag %d: %w", id, err)
	}
	return nil
}

func (c *Client) BulkDeleteTags(ctx context.Context, ids []int64) error {
	body := struct {
		IDs []int64 `json:"ids"`
	}{IDs: ids}
	if _, err := c.do(ctx, request{method: http.MethodPost, path: "/tags/bulk-delete", body: body}, nil); err != nil {
		return fmt.Errorf("bulk delete tags: %w", err)
	}
	return nil
}

// AddTagsToConversation returns the conversation's tags after the change.
func (c *Client) AddTagsToConversation(ctx context.Context, id models.ConversationID, tagIDs []int64) ([]models.Tag, error) {
	body := struct {
		TagIDs []int64 `json:"tagIds"`
	}{TagIDs: tagIDs}
	var list []models.Tag
	if _, err := c.do(ctx, request{method: http.MethodPost, path: conversationPath(id, "/tags"), body: body}, &list); err != nil {
		return nil, fmt.Errorf("add tags to %d: %w", id, err)
	}
	return list, nil
}
