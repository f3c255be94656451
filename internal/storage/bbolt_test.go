package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"roomsync/internal/models"
)

func TestCache(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "cache_test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	dbPath := filepath.Join(tmpDir, "cache.db")
	cache, err := NewBboltCache(dbPath)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer func() { _ = cache.Close() }()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	deleted := base.Add(time.Hour)

	t.Run("Messages", func(t *testing.T) {
		msgs := []models.Message{
			{
				ID: "m1", RoomID: "r1", SenderID: "alice", Content: "first",
				Type: models.MessageTypeText, CreatedAt: base,
				Reactions: []models.Reaction{{UserID: "bob", Emoji: "👍"}},
			},
			{
				ID: "m2", RoomID: "r1", SenderID: "bob", Content: "second",
				Type: models.MessageTypeText, CreatedAt: base.Add(time.Second),
				DeletedAt: &deleted,
				Receipts:  []models.ReadReceipt{{UserID: "alice", ReadAt: base.Add(time.Minute)}},
			},
			{
				ID: "m3", RoomID: "r1", SenderID: "alice", Content: "third",
				Type: models.MessageTypeCode, CreatedAt: base.Add(2 * time.Second), Pinned: true,
			},
		}
		if err := cache.SaveRoomMessages("r1", msgs); err != nil {
			t.Fatalf("SaveRoomMessages failed: %v", err)
		}

		got, err := cache.LoadRoomMessages("r1", 0)
		if err != nil {
			t.Fatalf("LoadRoomMessages failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(got))
		}
		if got[0].ID != "m1" || got[2].ID != "m3" {
			t.Errorf("order not ascending: %s..%s", got[0].ID, got[2].ID)
		}
		if !got[1].Deleted() || !got[1].DeletedAt.Equal(deleted) {
			t.Error("tombstone lost in round trip")
		}
		if len(got[0].Reactions) != 1 || got[0].Reactions[0].Emoji != "👍" {
			t.Errorf("reactions lost: %v", got[0].Reactions)
		}
		if len(got[1].Receipts) != 1 || got[1].Receipts[0].UserID != "alice" {
			t.Errorf("receipts lost: %v", got[1].Receipts)
		}
		if !got[2].Pinned || got[2].Type != models.MessageTypeCode {
			t.Errorf("flags lost: %+v", got[2])
		}
	})

	t.Run("MessagesLimit", func(t *testing.T) {
		got, err := cache.LoadRoomMessages("r1", 2)
		if err != nil {
			t.Fatalf("LoadRoomMessages failed: %v", err)
		}
		// The newest two, still ascending.
		if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m3" {
			t.Errorf("limit kept the wrong window: %+v", got)
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		if err := cache.SaveRoomMessages("r1", []models.Message{
			{ID: "m9", RoomID: "r1", SenderID: "alice", Type: models.MessageTypeText, CreatedAt: base},
		}); err != nil {
			t.Fatalf("SaveRoomMessages failed: %v", err)
		}
		got, err := cache.LoadRoomMessages("r1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "m9" {
			t.Errorf("save did not replace previous sequence: %+v", got)
		}
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		got, err := cache.LoadRoomMessages("nowhere", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("unknown room returned messages: %v", got)
		}
	})

	t.Run("Presence", func(t *testing.T) {
		records := []models.Presence{
			{UserID: "alice", Status: models.StatusOnline, LastSeen: base},
			{UserID: "bob", Status: models.StatusAway, LastSeen: base.Add(time.Minute)},
		}
		if err := cache.SavePresence(records); err != nil {
			t.Fatalf("SavePresence failed: %v", err)
		}
		got, err := cache.LoadPresence()
		if err != nil {
			t.Fatalf("LoadPresence failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 records, got %d", len(got))
		}
		for _, p := range got {
			if p.UserID == "bob" && p.Status != models.StatusAway {
				t.Errorf("bob status = %s", p.Status)
			}
		}
	})
}
