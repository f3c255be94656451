package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"roomsync/internal/models"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBMessage struct {
	ID        string        `msgpack:"id"`
	RoomID    string        `msgpack:"roomId"`
	SenderID  string        `msgpack:"senderId"`
	Content   string        `msgpack:"content"`
	Type      string        `msgpack:"type"`
	ReplyToID string        `msgpack:"replyToId,omitempty"`
	EditedAt  int64         `msgpack:"editedAt,omitempty"`
	DeletedAt int64         `msgpack:"deletedAt,omitempty"`
	Pinned    bool          `msgpack:"pinned,omitempty"`
	CreatedAt int64         `msgpack:"createdAt"`
	Reactions []DBReaction  `msgpack:"reactions,omitempty"`
	Receipts  []DBReceipt   `msgpack:"receipts,omitempty"`
}

type DBReaction struct {
	UserID string `msgpack:"userId"`
	Emoji  string `msgpack:"emoji"`
}

type DBReceipt struct {
	UserID string `msgpack:"userId"`
	ReadAt int64  `msgpack:"readAt"`
}

// Key orders messages by creation time within a room bucket, id appended to
// break ties between messages sharing a nanosecond.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBPresence struct {
	UserID   string `msgpack:"userId"`
	Status   string `msgpack:"status"`
	LastSeen int64  `msgpack:"lastSeen"`
}

func (p *DBPresence) Key() []byte {
	return []byte(p.UserID)
}

func (p *DBPresence) MarshalBinary() (data []byte, err error) {
	type alias DBPresence
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPresence) UnmarshalBinary(data []byte) error {
	type alias DBPresence
	return msgpack.Unmarshal(data, (*alias)(p))
}

func toDBMessage(m models.Message) *DBMessage {
	out := &DBMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      string(m.Type),
		ReplyToID: m.ReplyToID,
		Pinned:    m.Pinned,
		CreatedAt: m.CreatedAt.UnixNano(),
	}
	if m.EditedAt != nil {
		out.EditedAt = m.EditedAt.UnixNano()
	}
	if m.DeletedAt != nil {
		out.DeletedAt = m.DeletedAt.UnixNano()
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, DBReaction(r))
	}
	for _, rc := range m.Receipts {
		out.Receipts = append(out.Receipts, DBReceipt{UserID: rc.UserID, ReadAt: rc.ReadAt.UnixNano()})
	}
	return out
}

func (m *DBMessage) toModel() models.Message {
	out := models.Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Type:      models.MessageType(m.Type),
		ReplyToID: m.ReplyToID,
		Pinned:    m.Pinned,
		CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
	}
	if m.EditedAt != 0 {
		t := time.Unix(0, m.EditedAt).UTC()
		out.EditedAt = &t
	}
	if m.DeletedAt != 0 {
		t := time.Unix(0, m.DeletedAt).UTC()
		out.DeletedAt = &t
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, models.Reaction(r))
	}
	for _, rc := range m.Receipts {
		out.Receipts = append(out.Receipts, models.ReadReceipt{UserID: rc.UserID, ReadAt: time.Unix(0, rc.ReadAt).UTC()})
	}
	return out
}
