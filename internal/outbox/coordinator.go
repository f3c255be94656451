// Package outbox is the mutation coordinator: every user action is applied
// to the message store optimistically, dispatched to the message service,
// and then either confirmed with the authoritative payload or rolled back to
// the exact pre-mutation snapshot.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"roomsync/internal/models"
	"roomsync/internal/store"
	"roomsync/internal/view"
)

// Service is the durable message backend. All calls are remote, may fail
// with a transport error, and are not atomic with the push notification
// describing the same change.
type Service interface {
	Send(ctx context.Context, draft models.Draft) (models.Message, error)
	Edit(ctx context.Context, id, content string) (models.Message, error)
	SoftDelete(ctx context.Context, id string) error
	SetPinned(ctx context.Context, id string, pinned bool) error
	React(ctx context.Context, id, emoji string) error
	Unreact(ctx context.Context, id, emoji string) error
	MarkRead(ctx context.Context, id string) error
	MarkRoomRead(ctx context.Context, roomID string) error
}

// Notifier is the slice of the view cache the coordinator needs.
type Notifier interface {
	Invalidate(key string)
}

// Coordinator applies user actions. Overlapping mutations (edit then delete
// in quick succession) resolve strictly in dispatch order; there is no
// conflict merging, the last applied wins.
type Coordinator struct {
	store  *store.Store
	svc    Service
	views  Notifier
	userID string
	log    *slog.Logger

	now    func() time.Time
	newKey func() string
}

func New(st *store.Store, svc Service, views Notifier, userID string, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:  st,
		svc:    svc,
		views:  views,
		userID: userID,
		log:    log,
		now:    time.Now,
		newKey: uuid.NewString,
	}
}

func (c *Coordinator) invalidate(roomID string) {
	if c.views != nil {
		c.views.Invalidate(view.MessagesKey(roomID))
	}
}

// Send posts a new message. The provisional copy appears in the cache
// immediately under a temp- id; the service echoes the correlation key back
// on the authoritative message, which replaces the placeholder in place.
func (c *Coordinator) Send(ctx context.Context, draft models.Draft) (models.Message, error) {
	if draft.SenderID == "" {
		draft.SenderID = c.userID
	}
	if draft.Type == "" {
		draft.Type = models.MessageTypeText
	}
	draft.ClientKey = c.newKey()

	now := c.now()
	placeholder := models.Message{
		ID:        fmt.Sprintf("temp-%d", now.UnixNano()),
		RoomID:    draft.RoomID,
		SenderID:  draft.SenderID,
		Content:   draft.Content,
		Type:      draft.Type,
		ReplyToID: draft.ReplyToID,
		ClientKey: draft.ClientKey,
		CreatedAt: now,
	}

	snap := c.store.Snapshot(draft.RoomID)
	c.store.Upsert(draft.RoomID, placeholder)
	c.invalidate(draft.RoomID)

	msg, err := c.svc.Send(ctx, draft)
	if err != nil {
		c.store.Restore(draft.RoomID, snap)
		c.invalidate(draft.RoomID)
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	// The push reconciler will see the same message again as an echo and
	// absorb it idempotently.
	msg.ClientKey = draft.ClientKey
	c.store.Upsert(draft.RoomID, msg)
	c.invalidate(draft.RoomID)
	return msg, nil
}

// Edit rewrites a message's content.
func (c *Coordinator) Edit(ctx context.Context, roomID, id, content string) (models.Message, error) {
	now := c.now()
	snap := c.store.Snapshot(roomID)
	c.store.Patch(roomID, id, models.MessagePatch{Content: &content, EditedAt: &now})
	c.invalidate(roomID)

	msg, err := c.svc.Edit(ctx, id, content)
	if err != nil {
		c.store.Restore(roomID, snap)
		c.invalidate(roomID)
		return models.Message{}, fmt.Errorf("edit message %s: %w", id, err)
	}

	c.store.Upsert(roomID, msg)
	c.invalidate(roomID)
	return msg, nil
}

// Delete soft-deletes a message. The action always round-trips: the local
// tombstone is provisional and the authoritative one arrives via push, so
// every client renders the same tombstone. The message is never removed
// from the cached sequence.
func (c *Coordinator) Delete(ctx context.Context, roomID, id string) error {
	now := c.now()
	snap := c.store.Snapshot(roomID)
	c.store.Patch(roomID, id, models.MessagePatch{DeletedAt: &now})
	c.invalidate(roomID)

	if err := c.svc.SoftDelete(ctx, id); err != nil {
		c.store.Restore(roomID, snap)
		c.invalidate(roomID)
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

// SetPinned pins or unpins a message.
func (c *Coordinator) SetPinned(ctx context.Context, roomID, id string, pinned bool) error {
	snap := c.store.Snapshot(roomID)
	c.store.Patch(roomID, id, models.MessagePatch{Pinned: &pinned})
	c.invalidate(roomID)

	if err := c.svc.SetPinned(ctx, id, pinned); err != nil {
		c.store.Restore(roomID, snap)
		c.invalidate(roomID)
		return fmt.Errorf("pin message %s: %w", id, err)
	}
	return nil
}

// React adds the user's reaction.
func (c *Coordinator) React(ctx context.Context, roomID, id, emoji string) error {
	snap := c.store.Snapshot(roomID)
	c.store.Patch(roomID, id, models.MessagePatch{
		AddReactions: []models.Reaction{{UserID: c.userID, Emoji: emoji}},
	})
	c.invalidate(roomID)

	if err := c.svc.React(ctx, id, emoji); err != nil {
		c.store.Restore(roomID, snap)
		c.invalidate(roomID)
		return fmt.Errorf("react to %s: %w", id, err)
	}
	return nil
}

// Unreact removes the user's reaction.
func (c *Coordinator) Unreact(ctx context.Context, roomID, id, emoji string) error {
	snap := c.store.Snapshot(roomID)
	c.store.Patch(roomID, id, models.MessagePatch{
		RemoveReactions: []models.Reaction{{UserID: c.userID, Emoji: emoji}},
	})
	c.invalidate(roomID)

	if err := c.svc.Unreact(ctx, id, emoji); err != nil {
		c.store.Restore(roomID, snap)
		c.invalidate(roomID)
		return fmt.Errorf("unreact to %s: %w", id, err)
	}
	return nil
}

// MarkRead records the user's read receipt on a message.
func (c *Coordinator) MarkRead(ctx context.Context, roomID, id string) error {
	now := c.now()
	snap := c.store.Snapshot(roomID)
	c.store.Patch(roomID, id, models.MessagePatch{
		AddReceipts: []models.ReadReceipt{{UserID: c.userID, ReadAt: now}},
	})
	c.invalidate(roomID)

	if err := c.svc.MarkRead(ctx, id); err != nil {
		c.store.Restore(roomID, snap)
		c.invalidate(roomID)
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return nil
}

// MarkRoomRead is best-effort. A stale unread count is low-severity and a
// retry risks duplicate server side effects, so failures are logged and
// swallowed, never retried, never surfaced.
func (c *Coordinator) MarkRoomRead(ctx context.Context, roomID string) {
	if err := c.svc.MarkRoomRead(ctx, roomID); err != nil {
		c.log.Warn("mark room read failed", "room_id", roomID, "error", err)
	}
}
