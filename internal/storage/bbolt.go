package storage

import (
	"errors"
	"fmt"
	"inboxsync/internal/models"
	"inboxsync/internal/store"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketState         = []byte("state")

	keyState = []byte("snapshot")
)

var ErrSchemaVersion = errors.New("snapshot schema version mismatch")

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketState); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the stored snapshot in a single transaction.
func (s *BboltStorage) SaveSnapshot(p store.PersistedState) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketConversations); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to reset conversations: %w", err)
		}
		convBucket, err := tx.CreateBucket(bucketConversations)
		if err != nil {
			return fmt.Errorf("failed to create conversations bucket: %w", err)
		}

		for i, c := range p.Conversations {
			dbConv := toDBConversation(c, i)
			data, err := dbConv.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal conversation %d: %w", c.ID, err)
			}
			if err := convBucket.Put(dbConv.Key(), data); err != nil {
				return fmt.Errorf("failed to put conversation %d: %w", c.ID, err)
			}
		}

		dbState := DBState{
			Version:                schemaVersion,
			SavedAt:                s.now().Unix(),
			SelectedConversationID: int64(p.SelectedConversationID),
			Filters:                toDBFilters(p.Filters),
		}
		for _, u := range p.ChannelsUnreadCount {
			dbState.ChannelsUnread = append(dbState.ChannelsUnread, DBChannelUnread{
				Type:                string(u.Type),
				TotalUnreadMessages: u.TotalUnreadMessages,
			})
		}
		data, err := dbState.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		return tx.Bucket(bucketState).Put(dbState.Key(), data)
	})
}

// LoadSnapshot returns the stored snapshot, or models.ErrNotFound when none
// was saved yet.
func (s *BboltStorage) LoadSnapshot() (store.PersistedState, error) {
	var p store.PersistedState
	err := s.db.View(func(tx *bbolt.Tx) error {
		stateData := tx.Bucket(bucketState).Get(keyState)
		if stateData == nil {
			return models.ErrNotFound
		}

		var dbState DBState
		if err := dbState.UnmarshalBinary(stateData); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		if dbState.Version != schemaVersion {
			return fmt.Errorf("%w: have %d, want %d", ErrSchemaVersion, dbState.Version, schemaVersion)
		}

		p.SelectedConversationID = models.ConversationID(dbState.SelectedConversationID)
		p.Filters = fromDBFilters(dbState.Filters)
		for _, u := range dbState.ChannelsUnread {
			p.ChannelsUnreadCount = append(p.ChannelsUnreadCount, models.ChannelUnread{
				Type:                models.ChannelType(u.Type),
				TotalUnreadMessages: u.TotalUnreadMessages,
			})
		}

		var convs []DBConversation
		err := tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			convs = append(convs, dbConv)
			return nil
		})
		if err != nil {
			return err
		}
		slices.SortFunc(convs, func(a, b DBConversation) int { return a.Position - b.Position })
		for _, c := range convs {
			p.Conversations = append(p.Conversations, fromDBConversation(c))
		}
		return nil
	})
	return p, err
}

// SavedAt returns when the snapshot was last written.
func (s *BboltStorage) SavedAt() (time.Time, error) {
	var savedAt time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketState).Get(keyState)
		if data == nil {
			return models.ErrNotFound
		}
		var dbState DBState
		if err := dbState.UnmarshalBinary(data); err != nil {
			return err
		}
		savedAt = time.Unix(dbState.SavedAt, 0)
		return nil
	})
	return savedAt, err
}

func toDBConversation(c models.Conversation, position int) DBConversation {
	dbConv := DBConversation{
		ID:                  int64(c.ID),
		Position:            position,
		Name:                c.Name,
		AvatarURL:           c.AvatarURL,
		ChannelID:           c.Channel.ID,
		ChannelType:         string(c.Channel.Type),
		IsGroup:             c.IsGroup,
		UnreadMessagesCount: c.UnreadMessagesCount,
		UnreadCount:         c.UnreadCount,
		LatestMessage:       c.LatestMessage,
	}
	if !c.LatestMessageAt.IsZero() {
		dbConv.LatestMessageAt = c.LatestMessageAt.UnixMilli()
	}
	for _, t := range c.Tags {
		dbConv.Tags = append(dbConv.Tags, DBTag{ID: t.ID, Name: t.Name, Color: t.Color, Type: string(t.Type)})
	}
	for _, p := range c.Participants {
		dbConv.Participants = append(dbConv.Participants, DBParticipant{
			ID:                   p.ID,
			MemberType:           string(p.MemberType),
			MemberID:             p.MemberID,
			Role:                 string(p.Role),
			NotificationsEnabled: p.Settings.NotificationsEnabled,
			Muted:                p.Settings.Muted,
			SettingsRole:         string(p.Settings.Role),
		})
	}
	return dbConv
}

func fromDBConversation(dbConv DBConversation) models.Conversation {
	c := models.Conversation{
		ID:                  models.ConversationID(dbConv.ID),
		Name:                dbConv.Name,
		AvatarURL:           dbConv.AvatarURL,
		Channel:             models.Channel{ID: dbConv.ChannelID, Type: models.ChannelType(dbConv.ChannelType)},
		IsGroup:             dbConv.IsGroup,
		UnreadMessagesCount: dbConv.UnreadMessagesCount,
		UnreadCount:         dbConv.UnreadCount,
		LatestMessage:       dbConv.LatestMessage,
	}
	if dbConv.LatestMessageAt != 0 {
		c.LatestMessageAt = time.UnixMilli(dbConv.LatestMessageAt)
	}
	for _, t := range dbConv.Tags {
		c.Tags = append(c.Tags, models.Tag{ID: t.ID, Name: t.Name, Color: t.Color, Type: models.TagType(t.Type)})
	}
	for _, p := range dbConv.Participants {
		c.Participants = append(c.Participants, models.Participant{
			ID:             p.ID,
			ConversationID: c.ID,
			MemberType:     models.MemberType(p.MemberType),
			MemberID:       p.MemberID,
			Role:           models.Role(p.Role),
			Settings: models.ParticipantSettings{
				NotificationsEnabled: p.NotificationsEnabled,
				Muted:                p.Muted,
				Role:                 models.Role(p.SettingsRole),
			},
		})
	}
	return c
}

func toDBFilters(f models.ConversationFilters) DBFilters {
	dbFilters := DBFilters{
		Search:         f.Search,
		ChannelType:    string(f.ChannelType),
		ParticipantIDs: f.ParticipantIDs,
		TagID:          f.TagID,
		HasPhone:       f.HasPhone,
		ReadStatus:     string(f.ReadStatus),
	}
	if f.DateFrom != nil {
		dbFilters.DateFrom = f.DateFrom.Unix()
	}
	if f.DateTo != nil {
		dbFilters.DateTo = f.DateTo.Unix()
	}
	return dbFilters
}

func fromDBFilters(dbFilters DBFilters) models.ConversationFilters {
	f := models.ConversationFilters{
		Search:         dbFilters.Search,
		ChannelType:    models.ChannelType(dbFilters.ChannelType),
		ParticipantIDs: dbFilters.ParticipantIDs,
		TagID:          dbFilters.TagID,
		HasPhone:       dbFilters.HasPhone,
		ReadStatus:     models.ReadStatus(dbFilters.ReadStatus),
	}
	if dbFilters.DateFrom != 0 {
		t := time.Unix(dbFilters.DateFrom, 0)
		f.DateFrom = &t
	}
	if dbFilters.DateTo != 0 {
		t := time.Unix(dbFilters.DateTo, 0)
		f.DateTo = &t
	}
	return f
}
