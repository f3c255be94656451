package models

import "time"

type EventKind string

const (
	EventMessageCreated  EventKind = "message.created"
	EventMessageUpdated  EventKind = "message.updated"
	EventMessageDeleted  EventKind = "message.deleted"
	EventReactionChanged EventKind = "reaction.changed"
	EventReceiptAdded    EventKind = "receipt.added"
	EventPresenceJoined  EventKind = "presence.joined"
	EventPresenceLeft    EventKind = "presence.left"
	EventPresenceChanged EventKind = "presence.changed"
	EventTypingStarted   EventKind = "typing.started"
	EventTypingStopped   EventKind = "typing.stopped"
)

// ReactionDelta is a single element change to a message's reaction set.
type ReactionDelta struct {
	Reaction
	Removed bool `json:"removed,omitempty"`
}

// Event is the tagged union delivered by the realtime transport. Which
// fields are set depends on Kind:
//
//	message.created                  Message
//	message.updated, message.deleted MessageID, Patch
//	reaction.changed                 MessageID, Reaction
//	receipt.added                    MessageID, Receipt
//	presence.*                       UserID, Status
//	typing.*                         UserID
//
// Events for a given message id are applied in the order received from the
// transport. Delivery is at-least-once: the local echo of one's own actions
// arrives here too and must be absorbed idempotently.
type Event struct {
	Kind      EventKind      `json:"kind"`
	RoomID    string         `json:"roomId,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Message   *Message       `json:"message,omitempty"`
	Patch     *MessagePatch  `json:"patch,omitempty"`
	Reaction  *ReactionDelta `json:"reaction,omitempty"`
	Receipt   *ReadReceipt   `json:"receipt,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Status    PresenceStatus `json:"status,omitempty"`
	At        time.Time      `json:"at,omitempty"`
}
