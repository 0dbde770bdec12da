package ws

import (
	"inboxsync/internal/models"
	"slices"
	"sync"
)

// rooms records join intents so they survive reconnects. Every intent is
// replayed on each new connection until it is left.
type rooms struct {
	mu      sync.Mutex
	joined  map[models.ConversationID]string // conversation -> user id
	ordered []models.ConversationID
}

func newRooms() *rooms {
	return &rooms{joined: make(map[models.ConversationID]string)}
}

// add records an intent and reports whether it is new.
func (r *rooms) add(id models.ConversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.joined[id]
	r.joined[id] = userID
	if !ok {
		r.ordered = append(r.ordered, id)
	}
	return !ok || prev != userID
}

func (r *rooms) remove(id models.ConversationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.joined[id]; !ok {
		return false
	}
	delete(r.joined, id)
	r.ordered = slices.DeleteFunc(r.ordered, func(x models.ConversationID) bool { return x == id })
	return true
}

// intents returns the recorded joins in the order they were first made.
func (r *rooms) intents() []roomPayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]roomPayload, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, roomPayload{ConversationID: id, UserID: r.joined[id]})
	}
	return out
}
