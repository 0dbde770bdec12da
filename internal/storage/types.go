package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

// schemaVersion is bumped when record layouts change incompatibly.
const schemaVersion = 1

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBTag struct {
	ID    int64  `msgpack:"id"`
	Name  string `msgpack:"name"`
	Color string `msgpack:"color"`
	Type  string `msgpack:"type"`
}

type DBParticipant struct {
	ID                   int64  `msgpack:"id"`
	MemberType           string `msgpack:"memberType"`
	MemberID             string `msgpack:"memberId"`
	Role                 string `msgpack:"role"`
	NotificationsEnabled bool   `msgpack:"notificationsEnabled"`
	Muted                bool   `msgpack:"muted"`
	SettingsRole         string `msgpack:"settingsRole"`
}

type DBConversation struct {
	ID                  int64           `msgpack:"id"`
	Position            int             `msgpack:"position"` // index in the list, keys sort by id
	Name                string          `msgpack:"name"`
	AvatarURL           string          `msgpack:"avatarUrl"`
	ChannelID           int64           `msgpack:"channelId"`
	ChannelType         string          `msgpack:"channelType"`
	IsGroup             bool            `msgpack:"isGroup"`
	UnreadMessagesCount int             `msgpack:"unreadMessagesCount"`
	UnreadCount         int             `msgpack:"unreadCount"`
	LatestMessage       string          `msgpack:"latestMessage"`
	LatestMessageAt     int64           `msgpack:"latestMessageAt"` // Unix milliseconds, 0 when unknown
	Tags                []DBTag         `msgpack:"tags"`
	Participants        []DBParticipant `msgpack:"participants"`
}

func (c *DBConversation) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(c.ID))
	return key
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBFilters struct {
	Search         string  `msgpack:"search"`
	ChannelType    string  `msgpack:"channelType"`
	ParticipantIDs []int64 `msgpack:"participantIds"`
	TagID          int64   `msgpack:"tagId"`
	HasPhone       *bool   `msgpack:"hasPhone"`
	DateFrom       int64   `msgpack:"dateFrom"` // Unix seconds, 0 when unset
	DateTo         int64   `msgpack:"dateTo"`
	ReadStatus     string  `msgpack:"readStatus"`
}

type DBChannelUnread struct {
	Type                string `msgpack:"type"`
	TotalUnreadMessages int    `msgpack:"totalUnreadMessages"`
}

// DBState holds the scalar part of a snapshot under a single key.
type DBState struct {
	Version                int               `msgpack:"version"`
	SavedAt                int64             `msgpack:"savedAt"`
	SelectedConversationID int64             `msgpack:"selectedConversationId"`
	Filters                DBFilters         `msgpack:"filters"`
	ChannelsUnread         []DBChannelUnread `msgpack:"channelsUnread"`
}

func (s *DBState) Key() []byte {
	return keyState
}

func (s *DBState) MarshalBinary() (data []byte, err error) {
	type alias DBState
	return msgpack.Marshal((*alias)(s))
}

func (s *DBState) UnmarshalBinary(data []byte) error {
	type alias DBState
	return msgpack.Unmarshal(data, (*alias)(s))
}
