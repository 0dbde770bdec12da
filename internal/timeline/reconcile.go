package timeline

import (
	"inboxsync/internal/models"
	"time"
)

// MatchPending finds the locally sent message that echo confirms.
//
// A server that echoes the client temp id is matched exactly. Otherwise the
// match is best effort: the oldest pending or failed message from the same
// sender with identical content, created within window of the echo.
// It returns -1 when nothing matches.
func MatchPending(list []models.Message, echo models.Message, window time.Duration) int {
	if echo.ClientTempID != "" {
		for i := range list {
			if list[i].ClientTempID == echo.ClientTempID && list[i].ID == "" {
				return i
			}
		}
		return -1
	}

	best := -1
	for i, m := range list {
		if m.ID != "" || !awaitingEcho(m.Status) {
			continue
		}
		if m.Sender.ID != echo.Sender.ID || m.Content != echo.Content {
			continue
		}
		if absDuration(echo.CreatedAt.Sub(m.CreatedAt)) > window {
			continue
		}
		if best < 0 || m.CreatedAt.Before(list[best].CreatedAt) {
			best = i
		}
	}
	return best
}

// Confirm merges the server echo into the pending message it matched,
// keeping the temp id so later lookups by temp id still resolve.
func Confirm(pending, echo models.Message) models.Message {
	echo.ClientTempID = pending.ClientTempID
	echo.Status = models.MessageStatusSent
	if echo.ConversationID == 0 {
		echo.ConversationID = pending.ConversationID
	}
	return echo
}

// Expired returns the temp ids of pending messages created before deadline.
func Expired(list []models.Message, deadline time.Time) []string {
	var ids []string
	for _, m := range list {
		if m.Status == models.MessageStatusPending && m.ID == "" && m.CreatedAt.Before(deadline) {
			ids = append(ids, m.ClientTempID)
		}
	}
	return ids
}

func awaitingEcho(s models.MessageStatus) bool {
	return s == models.MessageStatusPending || s == models.MessageStatusFailed
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
