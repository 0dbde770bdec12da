package models

import (
	"slices"
	"time"
)

type ReadStatus string

const (
	ReadStatusAll    ReadStatus = "all"
	ReadStatusRead   ReadStatus = "read"
	ReadStatusUnread ReadStatus = "unread"
)

// ConversationFilters drives the conversation list query.
type ConversationFilters struct {
	Search         string      `json:"search,omitempty"`
	ChannelType    ChannelType `json:"channelType,omitempty"`
	ParticipantIDs []int64     `json:"participantIds,omitempty"`
	TagID          int64       `json:"tagId,omitempty"`
	HasPhone       *bool       `json:"hasPhone,omitempty"` // nil means "don't care"
	DateFrom       *time.Time  `json:"dateFrom,omitempty"`
	DateTo         *time.Time  `json:"dateTo,omitempty"`
	ReadStatus     ReadStatus  `json:"readStatus,omitempty"`
}

func DefaultFilters() ConversationFilters {
	return ConversationFilters{ReadStatus: ReadStatusAll}
}

// Clone returns a deep copy of f.
func (f ConversationFilters) Clone() ConversationFilters {
	if f.ParticipantIDs != nil {
		f.ParticipantIDs = slices.Clone(f.ParticipantIDs)
	}
	if f.HasPhone != nil {
		v := *f.HasPhone
		f.HasPhone = &v
	}
	if f.DateFrom != nil {
		v := *f.DateFrom
		f.DateFrom = &v
	}
	if f.DateTo != nil {
		v := *f.DateTo
		f.DateTo = &v
	}
	return f
}

func (f ConversationFilters) Equal(o ConversationFilters) bool {
	return f.Search == o.Search &&
		f.ChannelType == o.ChannelType &&
		slices.Equal(f.ParticipantIDs, o.ParticipantIDs) &&
		f.TagID == o.TagID &&
		equalPtr(f.HasPhone, o.HasPhone, func(a, b bool) bool { return a == b }) &&
		equalPtr(f.DateFrom, o.DateFrom, time.Time.Equal) &&
		equalPtr(f.DateTo, o.DateTo, time.Time.Equal) &&
		f.ReadStatus == o.ReadStatus
}

func equalPtr[T any](a, b *T, eq func(T, T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return eq(*a, *b)
}
