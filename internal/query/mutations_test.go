package query

import (
	"context"
	"errors"
	"inboxsync/internal/api"
	"inboxsync/internal/models"
	"inboxsync/internal/notify"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateConversation_RefetchesActiveQueries(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(2)
	c, st, n := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()
	require.NoError(t, q.Fetch(ctx))

	conv, err := c.CreateConversation(ctx, api.CreateConversationRequest{Name: "new"})
	require.NoError(t, err)
	require.Equal(t, "new", conv.Name)
	require.Equal(t, []notify.Key{notify.ConversationCreated}, n.success)
	require.Equal(t, 2, a.count("ListConversations"), "list refetched after create")
	require.Len(t, st.Conversations(), 3)

	// Closed queries are not refetched.
	q.Close()
	_, err = c.CreateConversation(ctx, api.CreateConversationRequest{Name: "newer"})
	require.NoError(t, err)
	require.Equal(t, 2, a.count("ListConversations"))
}

func TestMutation_FailureNotifiesAndReturnsError(t *testing.T) {
	a := newMockAPI()
	c, _, n := newTestClient(t, a)
	boom := errors.New("boom")
	a.fail("DeleteTag", boom)

	require.ErrorIs(t, c.DeleteTag(context.Background(), 1), boom)
	require.Empty(t, n.success)
	require.Equal(t, []notify.Key{notify.RequestFailed}, n.errors)
}

func TestDeleteConversation_DropsCachedMessages(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(2)
	a.messages = messagesFixture(2)
	c, st, _ := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()
	require.NoError(t, q.Fetch(ctx))
	require.NoError(t, c.Messages(1, 10).Latest(ctx))

	require.NoError(t, c.DeleteConversation(ctx, 1))
	_, ok := st.Conversation(1)
	require.False(t, ok)

	require.NoError(t, c.Messages(1, 10).Latest(ctx))
	require.Equal(t, 2, a.count("ListMessages"), "message cache invalidated")
}

func TestMarkRead_OptimisticThenRefreshesUnread(t *testing.T) {
	a := newMockAPI()
	a.conversations = []models.Conversation{
		{ID: 1, Name: "c1", Channel: models.Channel{Type: models.ChannelZalo}, UnreadMessagesCount: 4},
	}
	a.unread = []models.ChannelUnread{{Type: models.ChannelZalo, TotalUnreadMessages: 0}}
	c, st, n := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()
	require.NoError(t, q.Fetch(ctx))
	st.SetChannelsUnreadCount([]models.ChannelUnread{{Type: models.ChannelZalo, TotalUnreadMessages: 4}})

	require.NoError(t, c.MarkRead(ctx, 1))

	conv, ok := st.Conversation(1)
	require.True(t, ok)
	require.Zero(t, conv.UnreadMessagesCount)
	require.Equal(t, 1, a.count("UnreadSummary"))
	require.Equal(t, []models.ChannelUnread{{Type: models.ChannelZalo, TotalUnreadMessages: 0}}, st.ChannelsUnread())
	require.Empty(t, n.errors)
}

func TestMarkRead_Failures(t *testing.T) {
	t.Run("server rejects", func(t *testing.T) {
		a := newMockAPI()
		c, _, n := newTestClient(t, a)
		boom := errors.New("boom")
		a.fail("MarkConversationRead", boom)

		require.ErrorIs(t, c.MarkRead(context.Background(), 1), boom)
		require.Equal(t, []notify.Key{notify.ConversationMarkRead}, n.errors)
		require.Zero(t, a.count("UnreadSummary"))
	})

	t.Run("unread refresh fails", func(t *testing.T) {
		a := newMockAPI()
		c, _, n := newTestClient(t, a)
		a.fail("UnreadSummary", errors.New("down"))

		require.NoError(t, c.MarkRead(context.Background(), 1))
		require.Equal(t, []notify.Key{notify.UnreadRefreshFailed}, n.errors)
	})
}

func TestParticipantMutations_RefetchParticipants(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(1)
	c, st, n := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()
	require.NoError(t, q.Fetch(ctx))

	_, err := c.Participants(ctx, 1)
	require.NoError(t, err)

	added, err := c.AddParticipants(ctx, 1, []api.ParticipantInput{{MemberType: models.MemberTypeUser, MemberID: "agent-2"}})
	require.NoError(t, err)
	require.Len(t, added, 1)
	require.Equal(t, 2, a.count("ListParticipants"))

	conv, _ := st.Conversation(1)
	require.Len(t, conv.Participants, 1)
	require.Equal(t, "agent-2", conv.Participants[0].MemberID)

	require.NoError(t, c.RemoveParticipant(ctx, 1, added[0].ID))
	require.Equal(t, 3, a.count("ListParticipants"))
	require.Equal(t, []notify.Key{notify.ParticipantsAdded, notify.ParticipantRemoved}, n.success)
}

func TestTagMutations(t *testing.T) {
	a := newMockAPI()
	a.conversations = convs(1)
	c, st, n := newTestClient(t, a)
	ctx := context.Background()

	q := c.Conversations()
	defer q.Close()
	require.NoError(t, q.Fetch(ctx))

	_, err := c.Tags(ctx, models.TagTypeConversation)
	require.NoError(t, err)
	_, err = c.Tags(ctx, models.TagTypeConversation)
	require.NoError(t, err)
	require.Equal(t, 1, a.count("ListTags"))

	_, err = c.CreateTag(ctx, api.TagRequest{Name: "urgent", Type: models.TagTypeConversation})
	require.NoError(t, err)
	_, err = c.Tags(ctx, models.TagTypeConversation)
	require.NoError(t, err)
	require.Equal(t, 2, a.count("ListTags"), "tag cache invalidated by create")

	require.NoError(t, c.BulkDeleteTags(ctx, nil))
	require.Zero(t, a.count("BulkDeleteTags"))
	require.NoError(t, c.BulkDeleteTags(ctx, []int64{1, 2}))

	tags, err := c.AddTagsToConversation(ctx, 1, []int64{5})
	require.NoError(t, err)
	require.Len(t, tags, 1)

	require.Equal(t, []notify.Key{notify.TagCreated, notify.TagsDeleted, notify.TagsAdded}, n.success)
	// The mock server does not persist tag links, so the refetch replaces them.
	conv, _ := st.Conversation(1)
	require.Empty(t, conv.Tags)
}
