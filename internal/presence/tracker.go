// Package presence tracks the two kinds of short-lived peer state: who is
// typing in which room and who is online. Both maps expire on their own, so
// a peer that vanishes without an explicit stop or leave self-heals out of
// the view.
package presence

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/c-pro/geche"

	"roomsync/internal/models"
)

const (
	DefaultTypingTTL   = 5 * time.Second
	DefaultPresenceTTL = 90 * time.Second
)

type Config struct {
	TypingTTL       time.Duration
	PresenceTTL     time.Duration
	CleanupInterval time.Duration
	now             func() time.Time
}

func (c *Config) validate() {
	if c.TypingTTL == 0 {
		c.TypingTTL = DefaultTypingTTL
	}
	if c.PresenceTTL == 0 {
		c.PresenceTTL = DefaultPresenceTTL
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Tracker owns the typing and presence maps. Typing entries are keyed
// (room, user) and live TypingTTL past the last start/refresh. Presence
// entries are last-writer-wins, keyed by user, and live PresenceTTL past the
// last update or heartbeat.
type Tracker struct {
	cfg      Config
	typing   geche.Geche[string, time.Time]
	presence geche.Geche[string, models.Presence]
}

func New(ctx context.Context, cfg Config) *Tracker {
	cfg.validate()
	return &Tracker{
		cfg:      cfg,
		typing:   geche.NewMapTTLCache[string, time.Time](ctx, cfg.TypingTTL, cfg.CleanupInterval),
		presence: geche.NewMapTTLCache[string, models.Presence](ctx, cfg.PresenceTTL, cfg.CleanupInterval),
	}
}

// "|" cannot appear in ids, both sides come from uuid-like tokens.
func typingKey(roomID, userID string) string {
	return roomID + "|" + userID
}

// StartTyping inserts or refreshes the typing entry, re-arming its TTL.
func (t *Tracker) StartTyping(roomID, userID string) {
	t.typing.Set(typingKey(roomID, userID), t.cfg.now())
}

// StopTyping removes the entry ahead of its TTL.
func (t *Tracker) StopTyping(roomID, userID string) {
	_ = t.typing.Del(typingKey(roomID, userID))
}

func (t *Tracker) IsTyping(roomID, userID string) bool {
	started, err := t.typing.Get(typingKey(roomID, userID))
	if err != nil {
		return false
	}
	return t.cfg.now().Sub(started) < t.cfg.TypingTTL
}

// TypingUsers lists users currently typing in the room, sorted.
func (t *Tracker) TypingUsers(roomID string) []string {
	prefix := roomID + "|"
	now := t.cfg.now()

	var users []string
	for key, started := range t.typing.Snapshot() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if now.Sub(started) >= t.cfg.TypingTTL {
			continue
		}
		users = append(users, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(users)
	return users
}

// SetPresence records a status change. Last writer wins.
func (t *Tracker) SetPresence(p models.Presence) {
	if p.LastSeen.IsZero() {
		p.LastSeen = t.cfg.now()
	}
	t.presence.Set(p.UserID, p)
}

// Heartbeat refreshes a user's presence TTL without changing status. A
// heartbeat for an unknown user counts as coming online.
func (t *Tracker) Heartbeat(userID string) {
	p, err := t.presence.Get(userID)
	if err != nil {
		p = models.Presence{UserID: userID, Status: models.StatusOnline}
	}
	p.LastSeen = t.cfg.now()
	t.presence.Set(userID, p)
}

func (t *Tracker) GetPresence(userID string) (models.Presence, bool) {
	p, err := t.presence.Get(userID)
	if err != nil {
		return models.Presence{}, false
	}
	if t.cfg.now().Sub(p.LastSeen) >= t.cfg.PresenceTTL {
		return models.Presence{}, false
	}
	return p, true
}

// All returns every live presence record, sorted by user id.
func (t *Tracker) All() []models.Presence {
	now := t.cfg.now()
	var out []models.Presence
	for _, p := range t.presence.Snapshot() {
		if now.Sub(p.LastSeen) >= t.cfg.PresenceTTL {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
