// Package session coordinates the engine around the currently selected
// room: subscription switching, initial and backward pagination, and user
// actions. Page fetches resolving after the room changed are discarded at
// apply time instead of being cancelled, so a stale result can never write
// into the wrong room's cache.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"roomsync/internal/models"
	"roomsync/internal/outbox"
	"roomsync/internal/presence"
	"roomsync/internal/store"
	"roomsync/internal/storage"
	"roomsync/internal/view"
)

// Lister is the pagination slice of the message service.
type Lister interface {
	ListMessages(ctx context.Context, roomID string, limit int, before time.Time) ([]models.Message, error)
}

// Subscriptions is the room feed lifecycle surface of the transport.
type Subscriptions interface {
	Subscribe(ctx context.Context, roomID string) error
	Unsubscribe(roomID string)
}

// Typing publishes the local user's typing state.
type Typing interface {
	SendTyping(roomID string, typing bool) error
}

type Session struct {
	store    *store.Store
	actions  *outbox.Coordinator
	tracker  *presence.Tracker
	subs     Subscriptions
	lister   Lister
	typing   Typing
	views    *view.Cache
	cache    *storage.BboltCache
	userID   string
	pageSize int
	log      *slog.Logger

	mu      sync.Mutex
	roomID  string
	epoch   uint64
	visited map[string]struct{}
}

type Config struct {
	Store    *store.Store
	Actions  *outbox.Coordinator
	Tracker  *presence.Tracker
	Subs     Subscriptions
	Lister   Lister
	Typing   Typing
	Views    *view.Cache
	// Cache is optional; without it the session starts cold.
	Cache    *storage.BboltCache
	UserID   string
	PageSize int
	Log      *slog.Logger
}

func New(cfg Config) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Cache != nil {
		// Persisted presence seeds the tracker; entries nobody refreshes
		// age out through its TTL like any other.
		if records, err := cfg.Cache.LoadPresence(); err != nil {
			cfg.Log.Warn("presence warm failed", "error", err)
		} else {
			for _, p := range records {
				cfg.Tracker.SetPresence(p)
			}
		}
	}
	return &Session{
		store:    cfg.Store,
		actions:  cfg.Actions,
		tracker:  cfg.Tracker,
		subs:     cfg.Subs,
		lister:   cfg.Lister,
		typing:   cfg.Typing,
		views:    cfg.Views,
		cache:    cfg.Cache,
		userID:   cfg.UserID,
		pageSize: cfg.PageSize,
		log:      cfg.Log,
		visited:  make(map[string]struct{}),
	}
}

// Room returns the currently selected room, empty if none.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) current(roomID string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID == roomID && s.epoch == epoch
}

// SelectRoom switches the active room: the previous subscription is torn
// down before the new one is opened, then the newest page is fetched. A
// fetch that resolves after another switch is discarded.
func (s *Session) SelectRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	prev := s.roomID
	s.roomID = roomID
	s.epoch++
	epoch := s.epoch
	s.visited[roomID] = struct{}{}
	s.mu.Unlock()

	if prev != "" && prev != roomID {
		s.subs.Unsubscribe(prev)
	}

	if err := s.subs.Subscribe(ctx, roomID); err != nil {
		return fmt.Errorf("subscribe to %s: %w", roomID, err)
	}

	if _, loaded := s.store.OldestLoaded(roomID); !loaded {
		s.warm(roomID)
	}

	page, err := s.lister.ListMessages(ctx, roomID, s.pageSize, time.Time{})
	if err != nil {
		// Recoverable by re-selecting or paginating; never retried in a loop.
		return fmt.Errorf("load newest page for %s: %w", roomID, err)
	}
	if !s.current(roomID, epoch) {
		s.log.Debug("discarding stale page fetch", "room_id", roomID)
		return nil
	}

	s.store.ApplyNewestPage(roomID, page)
	s.views.Invalidate(view.MessagesKey(roomID))
	return nil
}

// LoadOlder fetches the page before the oldest loaded message. Results
// arriving after the room changed are discarded.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	roomID := s.roomID
	epoch := s.epoch
	s.mu.Unlock()
	if roomID == "" {
		return models.ErrNoRoom
	}
	if !s.store.HasMore(roomID) {
		return nil
	}

	before, ok := s.store.OldestLoaded(roomID)
	if !ok {
		before = time.Time{}
	}

	page, err := s.lister.ListMessages(ctx, roomID, s.pageSize, before)
	if err != nil {
		return fmt.Errorf("load older page for %s: %w", roomID, err)
	}
	if !s.current(roomID, epoch) {
		s.log.Debug("discarding stale page fetch", "room_id", roomID)
		return nil
	}

	s.store.PrependOlderPage(roomID, page)
	s.views.Invalidate(view.MessagesKey(roomID))
	return nil
}

// Send posts a message to the current room.
func (s *Session) Send(ctx context.Context, content string) (models.Message, error) {
	roomID := s.Room()
	if roomID == "" {
		return models.Message{}, models.ErrNoRoom
	}
	return s.actions.Send(ctx, models.Draft{
		RoomID:   roomID,
		SenderID: s.userID,
		Content:  content,
		Type:     models.MessageTypeText,
	})
}

func (s *Session) Edit(ctx context.Context, id, content string) (models.Message, error) {
	roomID := s.Room()
	if roomID == "" {
		return models.Message{}, models.ErrNoRoom
	}
	return s.actions.Edit(ctx, roomID, id, content)
}

func (s *Session) Delete(ctx context.Context, id string) error {
	roomID := s.Room()
	if roomID == "" {
		return models.ErrNoRoom
	}
	return s.actions.Delete(ctx, roomID, id)
}

func (s *Session) SetPinned(ctx context.Context, id string, pinned bool) error {
	roomID := s.Room()
	if roomID == "" {
		return models.ErrNoRoom
	}
	return s.actions.SetPinned(ctx, roomID, id, pinned)
}

func (s *Session) React(ctx context.Context, id, emoji string) error {
	roomID := s.Room()
	if roomID == "" {
		return models.ErrNoRoom
	}
	return s.actions.React(ctx, roomID, id, emoji)
}

func (s *Session) Unreact(ctx context.Context, id, emoji string) error {
	roomID := s.Room()
	if roomID == "" {
		return models.ErrNoRoom
	}
	return s.actions.Unreact(ctx, roomID, id, emoji)
}

func (s *Session) MarkRead(ctx context.Context, id string) error {
	roomID := s.Room()
	if roomID == "" {
		return models.ErrNoRoom
	}
	return s.actions.MarkRead(ctx, roomID, id)
}

// MarkRoomRead is best-effort, see the coordinator.
func (s *Session) MarkRoomRead(ctx context.Context) {
	roomID := s.Room()
	if roomID == "" {
		return
	}
	s.actions.MarkRoomRead(ctx, roomID)
}

// StartTyping publishes the local user's typing state for the current room.
// Call it on the keystroke debounce tick; the receiving side expires it on
// its own if no refresh follows.
func (s *Session) StartTyping() {
	roomID := s.Room()
	if roomID == "" {
		return
	}
	if err := s.typing.SendTyping(roomID, true); err != nil {
		s.log.Debug("typing signal not delivered", "room_id", roomID, "error", err)
	}
}

func (s *Session) StopTyping() {
	roomID := s.Room()
	if roomID == "" {
		return
	}
	if err := s.typing.SendTyping(roomID, false); err != nil {
		s.log.Debug("typing signal not delivered", "room_id", roomID, "error", err)
	}
}

// TypingUsers lists who is typing in the current room right now.
func (s *Session) TypingUsers() []string {
	roomID := s.Room()
	if roomID == "" {
		return nil
	}
	return s.tracker.TypingUsers(roomID)
}

// Presence lists every user with a live presence entry.
func (s *Session) Presence() []models.Presence {
	return s.tracker.All()
}

// Messages returns the current room's cached sequence.
func (s *Session) Messages() []models.Message {
	roomID := s.Room()
	if roomID == "" {
		return nil
	}
	return s.store.Messages(roomID)
}

// warm seeds the store from the local cache so the room renders before the
// first fetch lands.
func (s *Session) warm(roomID string) {
	if s.cache == nil {
		return
	}
	msgs, err := s.cache.LoadRoomMessages(roomID, s.pageSize)
	if err != nil {
		s.log.Warn("cache warm failed", "room_id", roomID, "error", err)
		return
	}
	for _, m := range msgs {
		s.store.Upsert(roomID, m)
	}
	if len(msgs) > 0 {
		s.views.Invalidate(view.MessagesKey(roomID))
	}
}

// Flush persists every room visited this session plus the live presence
// table. Unresolved placeholders are skipped, they are meaningless across
// runs.
func (s *Session) Flush() {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	rooms := make([]string, 0, len(s.visited))
	for roomID := range s.visited {
		rooms = append(rooms, roomID)
	}
	s.mu.Unlock()

	for _, roomID := range rooms {
		var msgs []models.Message
		for _, m := range s.store.Messages(roomID) {
			if strings.HasPrefix(m.ID, "temp-") {
				continue
			}
			msgs = append(msgs, m)
		}
		if err := s.cache.SaveRoomMessages(roomID, msgs); err != nil {
			s.log.Warn("cache flush failed", "room_id", roomID, "error", err)
		}
	}
	if err := s.cache.SavePresence(s.tracker.All()); err != nil {
		s.log.Warn("presence flush failed", "error", err)
	}
}
