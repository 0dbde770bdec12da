// Package commands holds the one-shot command line actions of inboxsync.
package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"inboxsync/internal/api"
	"inboxsync/internal/content"
	"inboxsync/internal/inbox"
	"inboxsync/internal/models"
	"inboxsync/internal/notify"
	"inboxsync/internal/query"
	"inboxsync/internal/ws"
	"io"
	"os"
	"text/tabwriter"
	"time"
)

// Uploader stores attachment files. *api.Client implements it.
type Uploader interface {
	UploadAttachment(ctx context.Context, name string, r io.Reader) (api.Upload, error)
}

// List prints the first page of conversations for the store's filters.
func List(ctx context.Context, q *query.Client, w io.Writer) error {
	list := q.Conversations()
	defer list.Close()

	if err := list.Fetch(ctx); err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if err := q.Unread(ctx); err != nil {
		return fmt.Errorf("failed to load unread summary: %w", err)
	}

	st := q.Store()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tCHANNEL\tUNREAD\tNAME\tLATEST")
	for _, c := range st.Conversations() {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", c.ID, c.Channel.Type, c.UnreadMessagesCount, c.Name, content.Preview(models.Message{Content: c.LatestMessage}))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nTotal unread: %d\n", st.TotalUnreadCount())
	return err
}

// Read marks conversation id read on the server.
func Read(ctx context.Context, q *query.Client, id models.ConversationID, w io.Writer) error {
	if err := q.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("failed to mark conversation %d read: %w", id, err)
	}
	_, err := fmt.Fprintf(w, "Conversation %d marked as read\n", id)
	return err
}

// Send uploads attach when given, sends text to conversation id over the
// running session s and waits until the server confirms the message or it
// fails.
func Send(ctx context.Context, s *inbox.Session, up Uploader, id models.ConversationID, text, attach string, w io.Writer) error {
	var (
		attachments []string
		ct          = models.ContentTypeText
	)
	if attach != "" {
		upload, err := uploadFile(ctx, up, attach)
		if err != nil {
			return err
		}
		attachments = []string{upload.URL}
		ct = upload.ContentType
	}

	if err := waitConnected(ctx, s); err != nil {
		return err
	}
	m, err := s.Send(ctx, id, text, ct, attachments)
	if err != nil {
		return err
	}

	status, err := waitSettled(ctx, s, id, m.ClientTempID)
	if err != nil {
		return err
	}
	if status != models.MessageStatusSent {
		return fmt.Errorf("message %s: %w", status, inbox.ErrAckTimeout)
	}
	_, err = fmt.Fprintf(w, "Message sent to conversation %d\n", id)
	return err
}

func uploadFile(ctx context.Context, up Uploader, path string) (api.Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return api.Upload{}, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	upload, err := up.UploadAttachment(ctx, path, f)
	if err != nil {
		return api.Upload{}, fmt.Errorf("failed to upload attachment: %w", err)
	}
	return upload, nil
}

func waitConnected(ctx context.Context, s *inbox.Session) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := s.ConnectionStatus()
		if st.State == ws.StateConnected {
			return nil
		}
		if st.State.Terminal() {
			return fmt.Errorf("push channel %s: %w", st.State, ws.ErrNotConnected)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitSettled blocks until the message with tempID is no longer pending and
// returns its final status.
func waitSettled(ctx context.Context, s *inbox.Session, id models.ConversationID, tempID string) (models.MessageStatus, error) {
	changes, unsubscribe := s.Store().Subscribe()
	defer unsubscribe()

	for {
		for _, m := range s.Store().Messages(id) {
			if m.ClientTempID == tempID && m.Status != models.MessageStatusPending {
				return m.Status, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-changes:
		}
	}
}

// Follow selects conversation id and prints its messages as they arrive
// until ctx is done or the server ends the session.
func Follow(ctx context.Context, s *inbox.Session, id models.ConversationID, w io.Writer) error {
	changes, unsubscribe := s.Store().Subscribe()
	defer unsubscribe()

	if err := s.Select(ctx, id); err != nil {
		return err
	}

	printed := make(map[string]models.MessageStatus)
	for {
		for _, m := range s.Store().SortedMessages(id) {
			key := printKey(m)
			if prev, ok := printed[key]; ok && prev == m.Status {
				continue
			}
			if m.ClientTempID != "" {
				// A confirmed message changes key; forget its pending line.
				delete(printed, models.Message{ClientTempID: m.ClientTempID}.Key())
			}
			printed[key] = m.Status
			if err := printMessage(w, m); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case a := <-s.Alerts():
			return fmt.Errorf("session ended by server: %s", a.Reason)
		case <-changes:
		}
	}
}

// printKey identifies m across store updates. Messages without an id or temp
// id are told apart by time and content.
func printKey(m models.Message) string {
	if key := m.Key(); key != "" {
		return key
	}
	return fmt.Sprintf("at:%d:%s", m.CreatedAt.UnixNano(), m.Content)
}

func printMessage(w io.Writer, m models.Message) error {
	status := ""
	if m.Status == models.MessageStatusPending || m.Status == models.MessageStatusFailed {
		status = " [" + string(m.Status) + "]"
	}
	text := html.UnescapeString(content.Sanitize(m.Content))
	for _, a := range m.Attachments {
		text += " <" + a + ">"
	}
	_, err := fmt.Fprintf(w, "%s %s: %s%s\n", m.CreatedAt.Local().Format(time.DateTime), sender(m), text, status)
	return err
}

func sender(m models.Message) string {
	if m.Sender.Name != "" {
		return m.Sender.Name
	}
	if m.Sender.ID != "" {
		return m.Sender.ID
	}
	return "?"
}

// PrintNotices writes notices to w until ctx is done or notices is closed.
func PrintNotices(ctx context.Context, notices <-chan notify.Notice, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			line := n.Text
			if n.Err != nil && !errors.Is(n.Err, context.Canceled) {
				line += ": " + n.Err.Error()
			}
			_, _ = fmt.Fprintf(w, "[%s] %s\n", n.Level, line)
		}
	}
}
