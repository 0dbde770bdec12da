package ws

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRooms(t *testing.T) {
	r := newRooms()

	require.True(t, r.add(42, "u1"))
	require.True(t, r.add(7, "u1"))
	require.False(t, r.add(42, "u1"), "repeated join is not new")
	require.True(t, r.add(42, "u2"), "different user replaces the intent")

	require.Equal(t, []roomPayload{
		{ConversationID: 42, UserID: "u2"},
		{ConversationID: 7, UserID: "u1"},
	}, r.intents())

	require.True(t, r.remove(42))
	require.False(t, r.remove(42))
	require.Equal(t, []roomPayload{{ConversationID: 7, UserID: "u1"}}, r.intents())
}
