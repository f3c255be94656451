// Package reconcile merges the remote change feed into the local caches.
// Events arrive in transport order and are applied one at a time; nothing is
// buffered or reordered across message ids.
package reconcile

import (
	"log/slog"
	"time"

	"roomsync/internal/models"
	"roomsync/internal/presence"
	"roomsync/internal/store"
	"roomsync/internal/view"
)

// Notifier is the slice of the view cache the reconciler needs.
type Notifier interface {
	Invalidate(key string)
}

type Reconciler struct {
	store   *store.Store
	tracker *presence.Tracker
	views   Notifier
	log     *slog.Logger
}

func New(st *store.Store, tracker *presence.Tracker, views Notifier, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: st, tracker: tracker, views: views, log: log}
}

func (r *Reconciler) invalidate(key string) {
	if r.views != nil {
		r.views.Invalidate(key)
	}
}

// Apply merges one event. Message events for ids not cached locally are
// dropped: the gap is in not-yet-loaded history and heals on the next page
// fetch. Self-echoes of local actions are absorbed idempotently, either by
// id or by the correlation key of a still-pending placeholder.
func (r *Reconciler) Apply(ev models.Event) {
	switch ev.Kind {
	case models.EventMessageCreated:
		if ev.Message == nil {
			r.log.Warn("created event without message", "room_id", ev.RoomID)
			return
		}
		r.store.Upsert(ev.RoomID, *ev.Message)
		r.invalidate(view.MessagesKey(ev.RoomID))

	case models.EventMessageUpdated, models.EventMessageDeleted:
		if ev.Patch == nil {
			r.log.Warn("update event without patch", "room_id", ev.RoomID, "message_id", ev.MessageID)
			return
		}
		if !r.store.Patch(ev.RoomID, ev.MessageID, *ev.Patch) {
			r.log.Debug("dropping event for unknown message",
				"kind", ev.Kind, "room_id", ev.RoomID, "message_id", ev.MessageID)
			return
		}
		r.invalidate(view.MessagesKey(ev.RoomID))

	case models.EventReactionChanged:
		if ev.Reaction == nil {
			return
		}
		p := models.MessagePatch{}
		if ev.Reaction.Removed {
			p.RemoveReactions = []models.Reaction{ev.Reaction.Reaction}
		} else {
			p.AddReactions = []models.Reaction{ev.Reaction.Reaction}
		}
		if !r.store.Patch(ev.RoomID, ev.MessageID, p) {
			r.log.Debug("dropping reaction for unknown message",
				"room_id", ev.RoomID, "message_id", ev.MessageID)
			return
		}
		r.invalidate(view.MessagesKey(ev.RoomID))

	case models.EventReceiptAdded:
		if ev.Receipt == nil {
			return
		}
		if !r.store.Patch(ev.RoomID, ev.MessageID, models.MessagePatch{
			AddReceipts: []models.ReadReceipt{*ev.Receipt},
		}) {
			r.log.Debug("dropping receipt for unknown message",
				"room_id", ev.RoomID, "message_id", ev.MessageID)
			return
		}
		r.invalidate(view.MessagesKey(ev.RoomID))

	case models.EventPresenceJoined:
		r.tracker.SetPresence(models.Presence{UserID: ev.UserID, Status: models.StatusOnline, LastSeen: r.eventTime(ev)})
		r.invalidate(view.PresenceKey)

	case models.EventPresenceLeft:
		r.tracker.SetPresence(models.Presence{UserID: ev.UserID, Status: models.StatusOffline, LastSeen: r.eventTime(ev)})
		r.invalidate(view.PresenceKey)

	case models.EventPresenceChanged:
		status := ev.Status
		if status == "" {
			status = models.StatusOnline
		}
		r.tracker.SetPresence(models.Presence{UserID: ev.UserID, Status: status, LastSeen: r.eventTime(ev)})
		r.invalidate(view.PresenceKey)

	case models.EventTypingStarted:
		r.tracker.StartTyping(ev.RoomID, ev.UserID)
		r.invalidate(view.TypingKey(ev.RoomID))

	case models.EventTypingStopped:
		r.tracker.StopTyping(ev.RoomID, ev.UserID)
		r.invalidate(view.TypingKey(ev.RoomID))

	default:
		r.log.Debug("ignoring unknown event kind", "kind", ev.Kind)
	}
}

func (r *Reconciler) eventTime(ev models.Event) time.Time {
	if !ev.At.IsZero() {
		return ev.At
	}
	return time.Now()
}
