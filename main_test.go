package main

import (
	"bytes"
	"context"
	"encoding/json"
	"inboxsync/internal/storage"
	"inboxsync/internal/ws"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves the inbox REST API under /api and the push channel on
// /socket. Sent messages are echoed back with a server id.
type fakeBackend struct {
	t        *testing.T
	upgrader websocket.Upgrader
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var data any
	switch r.URL.Path {
	case "/socket":
		b.socket(w, r)
		return
	case "/api/conversations":
		data = []map[string]any{
			{"id": 1, "name": "Alice", "channel": map[string]any{"type": "zalo"}, "unreadMessagesCount": 1},
		}
	case "/api/conversations/unread-count":
		data = []map[string]any{{"type": "zalo", "totalUnreadMessages": 1}}
	case "/api/conversations/1/read":
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func (b *fakeBackend) socket(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	for {
		var f ws.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event != ws.EventSendMessage {
			continue
		}
		var out ws.OutgoingMessage
		if err := json.Unmarshal(f.Data, &out); err != nil {
			return
		}
		echo, _ := json.Marshal(map[string]any{
			"id":             "srv-1",
			"conversationId": out.ConversationID,
			"clientTempId":   out.ClientTempID,
			"content":        out.Content,
			"messageType":    out.ContentType,
			"sender":         map[string]any{"id": out.SenderID},
			"createdAt":      time.Now().Format(time.RFC3339Nano),
		})
		if err := conn.WriteJSON(ws.Frame{Event: ws.EventReceiveMessage, Data: echo}); err != nil {
			return
		}
	}
}

func setupEnv(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(&fakeBackend{t: t})
	t.Cleanup(srv.Close)

	dbFile := filepath.Join(t.TempDir(), "state.db")
	t.Setenv("API_BASE_URL", srv.URL+"/api")
	t.Setenv("SOCKET_URL", "ws"+strings.TrimPrefix(srv.URL, "http")+"/socket")
	t.Setenv("API_TOKEN", "test-token")
	t.Setenv("USER_ID", "agent-1")
	t.Setenv("STATE_DB", dbFile)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("INBOX_CONFIG", "")
	return dbFile
}

func TestRun_ListSavesSnapshot(t *testing.T) {
	dbFile := setupEnv(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-list"}, &out))
	require.Contains(t, out.String(), "Alice")
	require.Contains(t, out.String(), "Total unread: 1")

	db, err := storage.NewBboltStorage(dbFile)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	snapshot, err := db.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, snapshot.Conversations, 1)
	require.Equal(t, "Alice", snapshot.Conversations[0].Name)
}

func TestRun_Read(t *testing.T) {
	setupEnv(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-read", "1"}, &out))
	require.Equal(t, "Conversation 1 marked as read\n", out.String())
}

func TestRun_SendOverPushChannel(t *testing.T) {
	setupEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-send", "hello from the cli", "-to", "1"}, &out))
	require.Equal(t, "Message sent to conversation 1\n", out.String())
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"session", nil, ""},
		{"list", []string{"-list"}, ""},
		{"send", []string{"-send", "hi", "-to", "3"}, ""},
		{"send without target", []string{"-send", "hi"}, "require -to"},
		{"attach without target", []string{"-attach", "a.png"}, "require -to"},
		{"two modes", []string{"-list", "-read", "2"}, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
