package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid value")
)

// ConversationID identifies a conversation for its whole lifetime.
type ConversationID int64

type ChannelType string

const (
	ChannelFacebook  ChannelType = "facebook"
	ChannelZalo      ChannelType = "zalo"
	ChannelInstagram ChannelType = "instagram"
	ChannelTelegram  ChannelType = "telegram"
	ChannelWhatsApp  ChannelType = "whatsapp"
	ChannelWeb       ChannelType = "web"
)

// Channel is the external messaging platform a conversation lives on.
type Channel struct {
	ID   int64       `json:"id"`
	Type ChannelType `json:"type"`
}

// Conversation represents a support conversation in the inbox.
type Conversation struct {
	ID                  ConversationID `json:"id"`
	Name                string         `json:"name"`
	AvatarURL           string         `json:"avatarUrl,omitempty"`
	Channel             Channel        `json:"channel"`
	IsGroup             bool           `json:"isGroup"`
	UnreadMessagesCount int            `json:"unreadMessagesCount"`
	UnreadCount         int            `json:"unreadCount"`
	LatestMessage       string         `json:"lastestMessage,omitempty"` // wire name is misspelled by the backend
	LatestMessageAt     time.Time      `json:"lastestMessageAt,omitzero"`
	Tags                []Tag          `json:"tags,omitempty"`
	Participants        []Participant  `json:"participants,omitempty"`
}

// Clone returns a copy that shares no slices with c.
func (c Conversation) Clone() Conversation {
	if c.Tags != nil {
		c.Tags = append([]Tag(nil), c.Tags...)
	}
	if c.Participants != nil {
		c.Participants = append([]Participant(nil), c.Participants...)
	}
	return c
}

type TagType string

const (
	TagTypeCustomer     TagType = "customer"
	TagTypeConversation TagType = "conversation"
)

type Tag struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	Type  TagType `json:"type"`
}

type MemberType string

const (
	MemberTypeCustomer MemberType = "customer"
	MemberTypeUser     MemberType = "user"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type ParticipantSettings struct {
	NotificationsEnabled bool `json:"notificationsEnabled"`
	Muted                bool `json:"muted"`
	Role                 Role `json:"role,omitempty"`
}

// Participant is a member of a conversation, either a customer or an agent.
type Participant struct {
	ID             int64               `json:"id"`
	ConversationID ConversationID      `json:"conversationId"`
	MemberType     MemberType          `json:"memberType"`
	MemberID       string              `json:"memberId"`
	Settings       ParticipantSettings `json:"settings"`
	Role           Role                `json:"role"`
}

// ChannelUnread is the unread aggregate of one channel type.
type ChannelUnread struct {
	Type                ChannelType `json:"type"`
	TotalUnreadMessages int         `json:"totalUnreadMessages"`
}
