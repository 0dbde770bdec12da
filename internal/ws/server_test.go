package ws

import (
	"context"
	"inboxsync/internal/models"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeServer plays the inbox backend: it confirms the connection, acks joins
// and echoes sent messages back as receiveMessage.
type fakeServer struct {
	token    string
	upgrader *websocket.Upgrader
}

func (s *fakeServer) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}
	defer func() { _ = ws.Close() }()

	if err := ws.WriteJSON(mustEncode(EventConnectionConfirmed, ConnectionConfirmed{UserID: "u1", SocketID: "s1"})); err != nil {
		return
	}

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}

		var reply Frame
		switch f.Event {
		case EventJoinConversation:
			var p roomPayload
			if err := jsonUnmarshal(f.Data, &p); err != nil {
				return
			}
			reply = mustEncode(EventJoinedConversation, JoinedConversation(p))
		case EventSendMessage:
			var out OutgoingMessage
			if err := jsonUnmarshal(f.Data, &out); err != nil {
				return
			}
			reply = mustEncode(EventReceiveMessage, models.Message{
				ID:             "srv-1",
				ClientTempID:   out.ClientTempID,
				ConversationID: out.ConversationID,
				Content:        out.Content,
				ContentType:    out.ContentType,
				Sender:         models.Sender{ID: out.SenderID},
				CreatedAt:      time.Now(),
			})
		default:
			continue
		}
		if err := ws.WriteJSON(reply); err != nil {
			return
		}
	}
}

func TestManager_GorillaRoundTrip(t *testing.T) {
	srv := &fakeServer{token: "secret", upgrader: &websocket.Upgrader{}}
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleConnections))
	defer ts.Close()

	cfg := testConfig()
	cfg.URL = "ws" + strings.TrimPrefix(ts.URL, "http")
	rec := newRecorder()
	m := NewManager(cfg, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	rec.waitState(t, StateConnected)
	require.Equal(t, ConnectionConfirmed{UserID: "u1", SocketID: "s1"}, <-rec.events)

	require.NoError(t, m.JoinConversation(ctx, 42, "u1"))
	require.Equal(t, JoinedConversation{ConversationID: 42, UserID: "u1"}, <-rec.events)

	tempID, err := m.SendMessage(ctx, OutgoingMessage{ConversationID: 42, Content: "hello"})
	require.NoError(t, err)

	select {
	case ev := <-rec.events:
		rm, ok := ev.(ReceiveMessage)
		require.True(t, ok)
		require.Equal(t, tempID, rm.Message.ClientTempID)
		require.Equal(t, "hello", rm.Message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("echo not received")
	}
}

func TestManager_RejectedHandshakeRetries(t *testing.T) {
	srv := &fakeServer{token: "other", upgrader: &websocket.Upgrader{}}
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleConnections))
	defer ts.Close()

	cfg := testConfig()
	cfg.URL = "ws" + strings.TrimPrefix(ts.URL, "http")
	cfg.MaxAttempts = 1
	m := NewManager(cfg, newRecorder())

	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrMaxAttempts)
	require.Contains(t, err.Error(), "401")
}
