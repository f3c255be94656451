// Package store implements the per-room message page cache. It is the single
// source of truth for message state on the client: the mutation coordinator,
// the push reconciler and the paginator all funnel their writes through one
// serial update queue per room.
package store

import (
	"sort"
	"sync"
	"time"

	"roomsync/internal/models"
)

// Page is one bucket of messages in ascending CreatedAt order. Pages are
// fetched newest-first from the service and stored oldest-first.
type Page struct {
	Messages []models.Message
}

// Snapshot captures one room's page state verbatim, sufficient to restore it
// after a failed optimistic mutation.
type Snapshot struct {
	pages   []Page
	hasMore bool
	oldest  time.Time
	loaded  bool
}

type room struct {
	q       *updateQueue
	pages   []Page
	ids     map[string]struct{}
	hasMore bool
	oldest  time.Time
	loaded  bool
}

// Store is the message cache. All operations are safe for concurrent use and
// never fail: reads on unknown rooms yield empty results, writes on unknown
// rooms create the room. Within a room, operations execute in submission
// order; operations on different rooms are independent.
type Store struct {
	pageSize int

	mu     sync.RWMutex
	rooms  map[string]*room
	closed bool
}

func New(pageSize int) *Store {
	return &Store{
		pageSize: pageSize,
		rooms:    make(map[string]*room),
	}
}

// Close drains and stops every room queue. Operations submitted afterwards
// still run, executed inline.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	rooms := make([]*room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		r.q.close()
	}
}

func (s *Store) getRoom(roomID string) *room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

func (s *Store) ensureRoom(roomID string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	r := &room{
		q:       newUpdateQueue(),
		ids:     make(map[string]struct{}),
		hasMore: true,
	}
	if s.closed {
		r.q.close()
	}
	s.rooms[roomID] = r
	return r
}

// GetPages returns a deep copy of the room's pages, oldest-first.
func (s *Store) GetPages(roomID string) []Page {
	r := s.getRoom(roomID)
	if r == nil {
		return nil
	}
	var out []Page
	r.q.do(func() {
		out = clonePages(r.pages)
	})
	return out
}

// Messages returns the room's cached messages flattened into one ascending
// sequence.
func (s *Store) Messages(roomID string) []models.Message {
	var out []models.Message
	for _, p := range s.GetPages(roomID) {
		out = append(out, p.Messages...)
	}
	return out
}

// HasMore reports whether older history may remain beyond the oldest loaded
// page. It stays true until a fetch returns fewer messages than the page
// size.
func (s *Store) HasMore(roomID string) bool {
	r := s.getRoom(roomID)
	if r == nil {
		return true
	}
	var more bool
	r.q.do(func() { more = r.hasMore })
	return more
}

// OldestLoaded returns the backward pagination cursor: the creation time of
// the oldest cached message. ok is false until a page has been loaded.
func (s *Store) OldestLoaded(roomID string) (time.Time, bool) {
	r := s.getRoom(roomID)
	if r == nil {
		return time.Time{}, false
	}
	var (
		t  time.Time
		ok bool
	)
	r.q.do(func() {
		t, ok = r.oldest, r.loaded
	})
	return t, ok
}

// Upsert inserts the message if its id is unseen, otherwise replaces the
// existing copy in place, preserving position. A message carrying the
// correlation key of a cached optimistic placeholder replaces that
// placeholder instead of being inserted alongside it.
func (s *Store) Upsert(roomID string, msg models.Message) {
	r := s.ensureRoom(roomID)
	r.q.do(func() { r.upsert(msg) })
}

// Patch shallow-merges the given fields into the message without reordering.
// It reports whether the message was present; patches for ids not cached
// locally are dropped by the caller.
func (s *Store) Patch(roomID, messageID string, p models.MessagePatch) bool {
	r := s.getRoom(roomID)
	if r == nil {
		return false
	}
	var ok bool
	r.q.do(func() { ok = r.patch(messageID, p) })
	return ok
}

// PrependOlderPage stores a page as fetched from the service, newest-first.
// The page is reversed, stripped of ids already cached and prepended as the
// new oldest bucket, making the operation idempotent under out-of-order
// arrival of concurrent pagination requests.
func (s *Store) PrependOlderPage(roomID string, fetched []models.Message) {
	r := s.ensureRoom(roomID)
	r.q.do(func() { r.prependOlderPage(fetched, s.pageSize) })
}

// ApplyNewestPage merges a freshly fetched newest page, as served on room
// select. The first load of an empty room establishes the backward cursor;
// a refresh of a room that already holds messages only upserts, so messages
// that arrived while the room was deselected land in timestamp order and
// the history cursor is untouched.
func (s *Store) ApplyNewestPage(roomID string, fetched []models.Message) {
	r := s.ensureRoom(roomID)
	r.q.do(func() { r.applyNewestPage(fetched, s.pageSize) })
}

// Snapshot deep-copies the room's state for rollback.
func (s *Store) Snapshot(roomID string) Snapshot {
	r := s.getRoom(roomID)
	if r == nil {
		return Snapshot{hasMore: true}
	}
	var snap Snapshot
	r.q.do(func() {
		snap = Snapshot{
			pages:   clonePages(r.pages),
			hasMore: r.hasMore,
			oldest:  r.oldest,
			loaded:  r.loaded,
		}
	})
	return snap
}

// Restore replaces the room's state with a previously captured snapshot.
func (s *Store) Restore(roomID string, snap Snapshot) {
	r := s.ensureRoom(roomID)
	r.q.do(func() {
		r.pages = clonePages(snap.pages)
		r.hasMore = snap.hasMore
		r.oldest = snap.oldest
		r.loaded = snap.loaded
		r.ids = make(map[string]struct{})
		for _, p := range r.pages {
			for _, m := range p.Messages {
				r.ids[m.ID] = struct{}{}
			}
		}
	})
}

// UnreadCount counts cached messages from other senders that carry no read
// receipt from the given user. Tombstones are not counted.
func (s *Store) UnreadCount(roomID, userID string) int {
	count := 0
	for _, m := range s.Messages(roomID) {
		if m.SenderID == userID || m.Deleted() {
			continue
		}
		read := false
		for _, rc := range m.Receipts {
			if rc.UserID == userID {
				read = true
				break
			}
		}
		if !read {
			count++
		}
	}
	return count
}

// room methods below run on the update queue goroutine only.

func (r *room) upsert(msg models.Message) {
	if _, seen := r.ids[msg.ID]; seen {
		r.replaceByID(msg)
		return
	}
	if msg.ClientKey != "" && r.replaceByClientKey(msg) {
		return
	}
	r.insertSorted(msg)
}

func (r *room) replaceByID(msg models.Message) {
	for pi := range r.pages {
		for mi := range r.pages[pi].Messages {
			if r.pages[pi].Messages[mi].ID == msg.ID {
				r.pages[pi].Messages[mi] = cloneMessage(msg)
				return
			}
		}
	}
}

func (r *room) replaceByClientKey(msg models.Message) bool {
	for pi := range r.pages {
		for mi := range r.pages[pi].Messages {
			existing := &r.pages[pi].Messages[mi]
			if existing.ClientKey != msg.ClientKey {
				continue
			}
			delete(r.ids, existing.ID)
			*existing = cloneMessage(msg)
			r.ids[msg.ID] = struct{}{}
			return true
		}
	}
	return false
}

func (r *room) insertSorted(msg models.Message) {
	r.ids[msg.ID] = struct{}{}
	msg = cloneMessage(msg)

	if len(r.pages) == 0 {
		r.pages = []Page{{Messages: []models.Message{msg}}}
		return
	}

	// Common case: a live message newer than everything cached goes to the
	// tail of the most recent bucket.
	for pi := len(r.pages) - 1; pi >= 0; pi-- {
		page := &r.pages[pi]
		if len(page.Messages) == 0 {
			continue
		}
		if !msg.CreatedAt.Before(page.Messages[0].CreatedAt) {
			i := sort.Search(len(page.Messages), func(j int) bool {
				return page.Messages[j].CreatedAt.After(msg.CreatedAt)
			})
			page.Messages = append(page.Messages, models.Message{})
			copy(page.Messages[i+1:], page.Messages[i:])
			page.Messages[i] = msg
			return
		}
	}

	// Older than everything cached: head of the first page.
	first := &r.pages[0]
	first.Messages = append([]models.Message{msg}, first.Messages...)
}

func (r *room) patch(messageID string, p models.MessagePatch) bool {
	for pi := range r.pages {
		for mi := range r.pages[pi].Messages {
			m := &r.pages[pi].Messages[mi]
			if m.ID != messageID {
				continue
			}
			applyPatch(m, p)
			return true
		}
	}
	return false
}

func applyPatch(m *models.Message, p models.MessagePatch) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.EditedAt != nil {
		m.EditedAt = p.EditedAt
	}
	if p.DeletedAt != nil {
		m.DeletedAt = p.DeletedAt
	}
	if p.Pinned != nil {
		m.Pinned = *p.Pinned
	}
	for _, add := range p.AddReactions {
		if !m.HasReaction(add) {
			m.Reactions = append(m.Reactions, add)
		}
	}
	for _, rem := range p.RemoveReactions {
		for i, existing := range m.Reactions {
			if existing == rem {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				break
			}
		}
	}
	for _, add := range p.AddReceipts {
		replaced := false
		for i, existing := range m.Receipts {
			if existing.UserID == add.UserID {
				m.Receipts[i] = add
				replaced = true
				break
			}
		}
		if !replaced {
			m.Receipts = append(m.Receipts, add)
		}
	}
}

func (r *room) prependOlderPage(fetched []models.Message, pageSize int) {
	r.loaded = true
	if pageSize > 0 {
		r.hasMore = len(fetched) >= pageSize
	}

	var page []models.Message
	for i := len(fetched) - 1; i >= 0; i-- {
		m := fetched[i]
		if _, seen := r.ids[m.ID]; seen {
			continue
		}
		r.ids[m.ID] = struct{}{}
		page = append(page, cloneMessage(m))
	}
	if len(page) == 0 {
		return
	}

	if r.oldest.IsZero() || page[0].CreatedAt.Before(r.oldest) {
		r.oldest = page[0].CreatedAt
	}
	r.pages = append([]Page{{Messages: page}}, r.pages...)
}

func (r *room) applyNewestPage(fetched []models.Message, pageSize int) {
	if !r.loaded && len(r.pages) == 0 {
		r.prependOlderPage(fetched, pageSize)
		return
	}

	r.loaded = true
	for i := len(fetched) - 1; i >= 0; i-- {
		r.upsert(fetched[i])
	}
	// A room seeded from the offline cache has no cursor yet; anchor it to
	// the oldest message now cached so backward pagination resumes there.
	if r.oldest.IsZero() && len(r.pages) > 0 && len(r.pages[0].Messages) > 0 {
		r.oldest = r.pages[0].Messages[0].CreatedAt
	}
}

func cloneMessage(m models.Message) models.Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = make([]models.Reaction, len(m.Reactions))
		copy(out.Reactions, m.Reactions)
	}
	if m.Receipts != nil {
		out.Receipts = make([]models.ReadReceipt, len(m.Receipts))
		copy(out.Receipts, m.Receipts)
	}
	return out
}

func clonePages(pages []Page) []Page {
	if pages == nil {
		return nil
	}
	out := make([]Page, len(pages))
	for i, p := range pages {
		msgs := make([]models.Message, len(p.Messages))
		for j, m := range p.Messages {
			msgs[j] = cloneMessage(m)
		}
		out[i].Messages = msgs
	}
	return out
}
