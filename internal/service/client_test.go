package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomsync/internal/models"
)

func TestListMessages(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/r42/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "2" {
			t.Errorf("limit query missing: %s", r.URL.RawQuery)
		}
		if r.Header.Get("token") != "tok" {
			t.Error("token header missing")
		}
		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "m2", RoomID: "r42", CreatedAt: now.Add(time.Second)},
			{ID: "m1", RoomID: "r42", CreatedAt: now},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil)
	page, err := c.ListMessages(context.Background(), "r42", 2, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "m2" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestListMessagesBeforeCursor(t *testing.T) {
	before := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("before")
		if got != before.Format(time.RFC3339Nano) {
			t.Errorf("before = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]models.Message{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	if _, err := c.ListMessages(context.Background(), "r42", 50, before); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestSendEchoesClientKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var draft models.Draft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			t.Fatalf("decode draft: %v", err)
		}
		_ = json.NewEncoder(w).Encode(models.Message{
			ID:        "srv-1",
			RoomID:    draft.RoomID,
			Content:   draft.Content,
			ClientKey: draft.ClientKey,
			CreatedAt: time.Now().UTC(),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	msg, err := c.Send(context.Background(), models.Draft{RoomID: "r42", Content: "hi", ClientKey: "key-1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ClientKey != "key-1" {
		t.Errorf("correlation key not echoed: %+v", msg)
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	if err := c.SoftDelete(context.Background(), "m1"); err == nil {
		t.Fatal("expected error for 502")
	}
	if _, err := c.Edit(context.Background(), "m1", "x"); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestMethodsAndPaths(t *testing.T) {
	type call struct{ method, path string }
	var got []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, call{r.Method, r.URL.Path})
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	ctx := context.Background()
	_ = c.SoftDelete(ctx, "m1")
	_ = c.SetPinned(ctx, "m1", true)
	_ = c.React(ctx, "m1", "👍")
	_ = c.Unreact(ctx, "m1", "👍")
	_ = c.MarkRead(ctx, "m1")
	_ = c.MarkRoomRead(ctx, "r42")

	want := []call{
		{"DELETE", "/api/messages/m1"},
		{"PUT", "/api/messages/m1/pin"},
		{"PUT", "/api/messages/m1/reactions/👍"},
		{"DELETE", "/api/messages/m1/reactions/👍"},
		{"POST", "/api/messages/m1/read"},
		{"POST", "/api/rooms/r42/read"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d: %v, want %v", i, got[i], want[i])
		}
	}
}
