package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"inboxsync/internal/models"
	"inboxsync/internal/storage"
	"os"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: inspect <state.db>")
		os.Exit(1)
	}

	db, err := storage.NewBboltStorage(os.Args[1])
	if err != nil {
		fmt.Printf("Error opening state: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	snapshot, err := db.LoadSnapshot()
	if errors.Is(err, models.ErrNotFound) {
		fmt.Println("No snapshot saved yet")
		return
	}
	if err != nil {
		fmt.Printf("Error loading snapshot: %v\n", err)
		os.Exit(1)
	}
	savedAt, err := db.SavedAt()
	if err != nil {
		fmt.Printf("Error loading snapshot: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"savedAt":                savedAt,
		"selectedConversationId": snapshot.SelectedConversationID,
		"filters":                snapshot.Filters,
		"channelsUnread":         snapshot.ChannelsUnreadCount,
		"conversations":          snapshot.Conversations,
	}); err != nil {
		fmt.Printf("Error encoding snapshot: %v\n", err)
		os.Exit(1)
	}
}
