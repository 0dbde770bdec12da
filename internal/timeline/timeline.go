// Package timeline holds the pure list operations behind a conversation's
// message history. Every function returns a new slice and never mutates its
// input, so callers can publish the result as part of an immutable snapshot.
package timeline

import (
	"inboxsync/internal/models"
	"slices"
	"time"
)

// DefaultEchoWindow bounds how far apart a pending message and its server echo
// may be when they are matched without a temp id.
const DefaultEchoWindow = 2 * time.Minute

// Append returns list with m added in last position.
func Append(list []models.Message, m models.Message) []models.Message {
	out := make([]models.Message, len(list), len(list)+1)
	copy(out, list)
	return append(out, m)
}

// AppendBounded appends m and trims the rest of the list so the result holds
// at most limit messages. m itself is always kept.
func AppendBounded(list []models.Message, m models.Message, limit int) []models.Message {
	if limit <= 0 {
		return Append(list, m)
	}
	if limit == 1 {
		return []models.Message{m}
	}
	return Append(Trim(list, limit-1), m)
}

// Contains reports whether a message with the same identity is already in list.
func Contains(list []models.Message, m models.Message) bool {
	return IndexOf(list, m.Key()) >= 0
}

// IndexOf returns the position of the message with key, or -1. The empty key
// of a message without identity is never found.
func IndexOf(list []models.Message, key string) int {
	if key == "" {
		return -1
	}
	for i := range list {
		if list[i].Key() == key {
			return i
		}
	}
	return -1
}

// Merge folds a fetched page into list. Entries already present are replaced
// by the fetched version, new ones are appended in page order.
func Merge(list, page []models.Message) []models.Message {
	out := slices.Clone(list)
	for _, m := range page {
		if i := IndexOf(out, m.Key()); i >= 0 {
			if m.Status == "" {
				m.Status = out[i].Status
			}
			out[i] = m
			continue
		}
		out = append(out, m)
	}
	return out
}

// Replace returns list with the element at i swapped for m.
func Replace(list []models.Message, i int, m models.Message) []models.Message {
	out := slices.Clone(list)
	out[i] = m
	return out
}

// Remove returns list without the element with the given key.
func Remove(list []models.Message, key string) []models.Message {
	i := IndexOf(list, key)
	if i < 0 {
		return list
	}
	return slices.Delete(slices.Clone(list), i, i+1)
}

// Sorted returns the messages ordered by creation time. Equal timestamps keep
// their arrival order.
func Sorted(list []models.Message) []models.Message {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// Trim keeps at most limit messages, dropping the oldest by creation time.
// A limit of zero or less disables trimming.
func Trim(list []models.Message, limit int) []models.Message {
	if limit <= 0 || len(list) <= limit {
		return list
	}
	order := make([]int, len(list))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return list[a].CreatedAt.Compare(list[b].CreatedAt)
	})
	dropped := make(map[int]bool, len(list)-limit)
	for _, i := range order[:len(list)-limit] {
		dropped[i] = true
	}
	out := make([]models.Message, 0, limit)
	for i, m := range list {
		if !dropped[i] {
			out = append(out, m)
		}
	}
	return out
}

// Oldest and Newest return the boundary messages by creation time that carry a
// server id, used as pagination cursors.
func Oldest(list []models.Message) (models.Message, bool) {
	var (
		best  models.Message
		found bool
	)
	for _, m := range list {
		if m.ID == "" {
			continue
		}
		if !found || m.CreatedAt.Before(best.CreatedAt) {
			best, found = m, true
		}
	}
	return best, found
}

func Newest(list []models.Message) (models.Message, bool) {
	var (
		best  models.Message
		found bool
	)
	for _, m := range list {
		if m.ID == "" {
			continue
		}
		if !found || m.CreatedAt.After(best.CreatedAt) {
			best, found = m, true
		}
	}
	return best, found
}
