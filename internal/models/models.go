package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotConnected = errors.New("not connected")
	ErrNoRoom       = errors.New("no room selected")
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeCode   MessageType = "code"
	MessageTypePoll   MessageType = "poll"
	MessageTypeVoice  MessageType = "voice"
	MessageTypeVideo  MessageType = "video"
	MessageTypeSystem MessageType = "system"
)

// Reaction is unique per (user, emoji) on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// ReadReceipt is unique per user on a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a chat message as cached by the client. CreatedAt is immutable
// and defines the total order within a room. A message with non-nil DeletedAt
// is a tombstone: it stays in the sequence and is never physically removed.
type Message struct {
	ID       string      `json:"id"`
	RoomID   string      `json:"roomId"`
	SenderID string      `json:"senderId"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	ReplyToID string     `json:"replyToId,omitempty"`
	// ClientKey is the client-generated correlation key echoed back by the
	// message service. It ties an optimistic placeholder to its
	// authoritative counterpart, which arrives under a different id.
	ClientKey string        `json:"clientKey,omitempty"`
	EditedAt  *time.Time    `json:"editedAt,omitempty"`
	DeletedAt *time.Time    `json:"deletedAt,omitempty"`
	Pinned    bool          `json:"pinned,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Reactions []Reaction    `json:"reactions,omitempty"`
	Receipts  []ReadReceipt `json:"receipts,omitempty"`
}

func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

func (m *Message) HasReaction(r Reaction) bool {
	for _, existing := range m.Reactions {
		if existing == r {
			return true
		}
	}
	return false
}

// Draft is a message about to be sent.
type Draft struct {
	RoomID    string      `json:"roomId"`
	SenderID  string      `json:"senderId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	ReplyToID string      `json:"replyToId,omitempty"`
	ClientKey string      `json:"clientKey"`
}

// MessagePatch is a shallow field merge applied to a cached message.
// Nil pointer fields are left untouched. Reaction and receipt changes are
// element-wise: additions are unioned into the existing set and removals
// delete only the named elements, so a concurrent change from another user
// is never lost to a patch that only knows about one element.
type MessagePatch struct {
	Content         *string       `json:"content,omitempty"`
	EditedAt        *time.Time    `json:"editedAt,omitempty"`
	DeletedAt       *time.Time    `json:"deletedAt,omitempty"`
	Pinned          *bool         `json:"pinned,omitempty"`
	AddReactions    []Reaction    `json:"addReactions,omitempty"`
	RemoveReactions []Reaction    `json:"removeReactions,omitempty"`
	AddReceipts     []ReadReceipt `json:"addReceipts,omitempty"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Presence is a last-writer-wins record of a user's status.
type Presence struct {
	UserID   string         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}
