package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type SubState string

const (
	StateUnsubscribed SubState = "unsubscribed"
	StateSubscribing  SubState = "subscribing"
	StateSubscribed   SubState = "subscribed"
)

// Subscription is the handle for one room's event feed.
type Subscription struct {
	RoomID string
	state  SubState
	ack    chan struct{}
}

type commandSender interface {
	sendSubscribe(roomID string) error
	sendUnsubscribe(roomID string) error
}

// Manager guarantees at most one active subscription per room. Subscribing
// to a room that already has a handle tears the old one down first, so
// events are never delivered twice into the message store. After a
// transport reconnect every tracked room is re-subscribed automatically.
type Manager struct {
	sender     commandSender
	log        *slog.Logger
	ackTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewManager(client *Client, log *slog.Logger) *Manager {
	m := newManager(client, log)
	client.onAck = m.handleAck
	client.onConnect = m.resubscribeAll
	return m
}

func newManager(sender commandSender, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sender:     sender,
		log:        log,
		ackTimeout: 10 * time.Second,
		subs:       make(map[string]*Subscription),
	}
}

// Subscribe opens the room's feed and blocks until the transport
// acknowledges it.
func (m *Manager) Subscribe(ctx context.Context, roomID string) error {
	m.mu.Lock()
	if _, exists := m.subs[roomID]; exists {
		m.mu.Unlock()
		m.Unsubscribe(roomID)
		m.mu.Lock()
	}
	sub := &Subscription{RoomID: roomID, state: StateSubscribing, ack: make(chan struct{})}
	m.subs[roomID] = sub
	m.mu.Unlock()

	if err := m.sender.sendSubscribe(roomID); err != nil {
		m.drop(roomID, sub)
		return err
	}

	select {
	case <-sub.ack:
		return nil
	case <-time.After(m.ackTimeout):
		m.drop(roomID, sub)
		return errAckTimeout
	case <-ctx.Done():
		m.drop(roomID, sub)
		return ctx.Err()
	}
}

// Unsubscribe tears the room's handle down synchronously. The handle is
// gone before this returns, regardless of whether the unsubscribe command
// could be delivered.
func (m *Manager) Unsubscribe(roomID string) {
	m.mu.Lock()
	sub := m.subs[roomID]
	delete(m.subs, roomID)
	m.mu.Unlock()

	if sub == nil {
		return
	}
	if err := m.sender.sendUnsubscribe(roomID); err != nil {
		m.log.Debug("unsubscribe not delivered", "room_id", roomID, "error", err)
	}
}

// State reports the room's subscription state.
func (m *Manager) State(roomID string) SubState {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.subs[roomID]
	if sub == nil {
		return StateUnsubscribed
	}
	return sub.state
}

// Rooms lists the rooms with a live or pending handle.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]string, 0, len(m.subs))
	for id := range m.subs {
		rooms = append(rooms, id)
	}
	return rooms
}

func (m *Manager) handleAck(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := m.subs[roomID]
	if sub == nil || sub.state != StateSubscribing {
		return
	}
	sub.state = StateSubscribed
	close(sub.ack)
}

// resubscribeAll re-attaches every tracked room after the transport hands
// back a fresh connection.
func (m *Manager) resubscribeAll() {
	m.mu.Lock()
	pending := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		// A handle still waiting on its first ack keeps its channel so the
		// blocked Subscribe call observes the ack from the new connection.
		if sub.state != StateSubscribing {
			sub.state = StateSubscribing
			sub.ack = make(chan struct{})
		}
		pending = append(pending, sub)
	}
	m.mu.Unlock()

	for _, sub := range pending {
		if err := m.sender.sendSubscribe(sub.RoomID); err != nil {
			m.log.Warn("resubscribe failed", "room_id", sub.RoomID, "error", err)
		}
	}
}

// drop removes the handle only if it is still the current one; a concurrent
// Subscribe may already have replaced it.
func (m *Manager) drop(roomID string, sub *Subscription) {
	m.mu.Lock()
	if m.subs[roomID] == sub {
		delete(m.subs, roomID)
	}
	m.mu.Unlock()
}
