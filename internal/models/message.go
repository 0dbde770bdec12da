package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MessageID is an opaque server-assigned message identifier.
// Some endpoints send it as a number and others as a string, both decode here.
type MessageID string

func (id MessageID) String() string {
	return string(id)
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("message id %s is not an integer", n)
	}
	*id = MessageID(n.String())
	return nil
}

type ContentType string

const (
	ContentTypeText    ContentType = "text"
	ContentTypeImage   ContentType = "image"
	ContentTypeSticker ContentType = "sticker"
	ContentTypeFile    ContentType = "file"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeText, ContentTypeImage, ContentTypeSticker, ContentTypeFile:
		return true
	}
	return false
}

// MessageStatus is local delivery state, never sent by the server.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Sender identifies the author of a message (agent or customer).
type Sender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Reader is an entry of a message's read-by list.
type Reader struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Message represents a chat message.
type Message struct {
	ID             MessageID      `json:"id"`
	ClientTempID   string         `json:"clientTempId,omitempty"` // correlation id of a locally sent message
	ConversationID ConversationID `json:"conversationId,omitempty"`
	Content        string         `json:"content"`
	ContentType    ContentType    `json:"messageType"`
	Attachments    []string       `json:"attachments,omitempty"`
	Sender         Sender         `json:"sender"`
	CreatedAt      time.Time      `json:"createdAt"`
	ReadBy         []Reader       `json:"readBy,omitempty"`
	Status         MessageStatus  `json:"-"`
}

// Key returns the identity used for de-duplication: the server id when known,
// otherwise the client temp id. A message with neither has no identity and an
// empty key; it never matches another message.
func (m Message) Key() string {
	switch {
	case m.ID != "":
		return "id:" + string(m.ID)
	case m.ClientTempID != "":
		return "tmp:" + m.ClientTempID
	}
	return ""
}
