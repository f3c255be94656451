package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/internal/models"
)

// echoServer is a minimal realtime backend: it acks subscribes and pushes
// one created event per subscribe. dropAfterAck closes the connection right
// after the first ack to exercise the reconnect path.
func echoServer(t *testing.T, subscribes *atomic.Int32, dropFirst bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var dropped atomic.Bool

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Type != cmdSubscribe {
				continue
			}
			subscribes.Add(1)
			if err := conn.WriteJSON(envelope{Type: srvSubAck, RoomID: env.RoomID}); err != nil {
				return
			}
			if dropFirst && dropped.CompareAndSwap(false, true) {
				return
			}
			msg := models.Message{
				ID:        "m1",
				RoomID:    env.RoomID,
				SenderID:  "bob",
				Content:   "hello",
				Type:      models.MessageTypeText,
				CreatedAt: time.Now().UTC(),
			}
			ev := models.Event{Kind: models.EventMessageCreated, RoomID: env.RoomID, Message: &msg}
			if err := conn.WriteJSON(envelope{Type: srvEvent, Event: &ev}); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientDeliversEvents(t *testing.T) {
	var subscribes atomic.Int32
	srv := echoServer(t, &subscribes, false)
	defer srv.Close()

	c := NewClient(Config{URL: wsURL(srv), Token: "tok"}, nil)
	events := make(chan models.Event, 10)
	c.OnEvent(func(ev models.Event) { events <- ev })
	m := NewManager(c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitFor(t, c.Connected)

	if err := m.Subscribe(ctx, "r1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != models.EventMessageCreated || ev.Message == nil || ev.Message.ID != "m1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClientReconnectsAndReattaches(t *testing.T) {
	var subscribes atomic.Int32
	srv := echoServer(t, &subscribes, true)
	defer srv.Close()

	c := NewClient(Config{
		URL:                wsURL(srv),
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  50 * time.Millisecond,
	}, nil)
	events := make(chan models.Event, 10)
	c.OnEvent(func(ev models.Event) { events <- ev })
	m := NewManager(c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitFor(t, c.Connected)
	if err := m.Subscribe(ctx, "r1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The server dropped the connection after the first ack; the client
	// must redial and re-subscribe r1 on its own.
	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("no event after reconnect")
	}
	if subscribes.Load() < 2 {
		t.Errorf("expected a resubscribe after reconnect, saw %d subscribes", subscribes.Load())
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := NewClient(Config{URL: "ws://127.0.0.1:1"}, nil)
	if err := c.SendTyping("r1", true); err != models.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
