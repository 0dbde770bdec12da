package api

import (
	"context"
	"fmt"
	"inboxsync/internal/models"
	"net/http"
	"net/url"
	"strconv"
)

const DefaultMessageLimit = 30

// Cursor selects a window of a conversation's messages. With neither Before
// nor After set the latest messages are returned.
type Cursor struct {
	Before models.MessageID
	After  models.MessageID
	Limit  int
}

func (c Cursor) String() string {
	switch {
	case c.Before != "":
		return "before=" + string(c.Before)
	case c.After != "":
		return "after=" + string(c.After)
	}
	return "latest"
}

type MessagePage struct {
	Messages []models.Message
	HasOlder bool
	HasNewer bool
}

func (c *Client) ListMessages(ctx context.Context, id models.ConversationID, cur Cursor) (MessagePage, error) {
	if cur.Limit < 1 {
		cur.Limit = DefaultMessageLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(cur.Limit))
	if cur.Before != "" {
		q.Set("before", string(cur.Before))
	}
	if cur.After != "" {
		q.Set("after", string(cur.After))
	}

	var list []models.Message
	meta, err := c.do(ctx, request{method: http.MethodGet, path: conversationPath(id, "/messages"), query: q}, &list)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages of %d: %w", id, err)
	}
	for i := range list {
		if list[i].ConversationID == 0 {
			list[i].ConversationID = id
		}
		if list[i].ContentType == "" {
			list[i].ContentType = models.ContentTypeText
		}
	}
	return MessagePage{Messages: list, HasOlder: meta.HasOlder, HasNewer: meta.HasNewer}, nil
}
