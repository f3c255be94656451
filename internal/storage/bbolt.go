// Package storage persists the client's page cache between runs so a room
// renders instantly on startup before the first fetch lands. It is a local
// warm cache, not the durable backend: the server remains the source of
// truth and anything stored here is overwritten by reconciliation.
package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"roomsync/internal/models"
)

var (
	bucketMessages = []byte("messages")
	bucketPresence = []byte("presence")
)

type BboltCache struct {
	db *bbolt.DB
}

func NewBboltCache(path string) (*BboltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketPresence); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltCache{db: db}, nil
}

func (s *BboltCache) Close() error {
	return s.db.Close()
}

func put(b *bbolt.Bucket, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(item.Key(), data)
}

// SaveRoomMessages replaces the cached sequence for one room.
func (s *BboltCache) SaveRoomMessages(roomID string, msgs []models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		parent := tx.Bucket(bucketMessages)
		if parent.Bucket([]byte(roomID)) != nil {
			if err := parent.DeleteBucket([]byte(roomID)); err != nil {
				return err
			}
		}
		b, err := parent.CreateBucket([]byte(roomID))
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := put(b, toDBMessage(m)); err != nil {
				return fmt.Errorf("failed to store message %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

// LoadRoomMessages returns up to limit newest cached messages for a room in
// ascending creation order. A room never saved yields an empty result.
func (s *BboltCache) LoadRoomMessages(roomID string, limit int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to decode message: %w", err)
			}
			out = append(out, dbMsg.toModel())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Cursor walked newest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SavePresence stores the last known presence records.
func (s *BboltCache) SavePresence(records []models.Presence) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPresence)
		for _, p := range records {
			dbP := &DBPresence{
				UserID:   p.UserID,
				Status:   string(p.Status),
				LastSeen: p.LastSeen.UnixNano(),
			}
			if err := put(b, dbP); err != nil {
				return fmt.Errorf("failed to store presence for %s: %w", p.UserID, err)
			}
		}
		return nil
	})
}

// LoadPresence returns all stored presence records.
func (s *BboltCache) LoadPresence() ([]models.Presence, error) {
	var out []models.Presence
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPresence)
		return b.ForEach(func(k, v []byte) error {
			var dbP DBPresence
			if err := dbP.UnmarshalBinary(v); err != nil {
				return err
			}
			out = append(out, models.Presence{
				UserID:   dbP.UserID,
				Status:   models.PresenceStatus(dbP.Status),
				LastSeen: time.Unix(0, dbP.LastSeen).UTC(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
