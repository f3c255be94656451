package outbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"roomsync/internal/models"
	"roomsync/internal/store"
)

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

var errRemote = errors.New("transport error")

// fakeService confirms or fails every call, optionally after a delay.
type fakeService struct {
	fail    bool
	delay   time.Duration
	nextID  int
	calls   []string
	markErr error
}

func (f *fakeService) record(op string) error {
	f.calls = append(f.calls, op)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return errRemote
	}
	return nil
}

func (f *fakeService) Send(ctx context.Context, draft models.Draft) (models.Message, error) {
	if err := f.record("send"); err != nil {
		return models.Message{}, err
	}
	f.nextID++
	return models.Message{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		RoomID:    draft.RoomID,
		SenderID:  draft.SenderID,
		Content:   draft.Content,
		Type:      draft.Type,
		ClientKey: draft.ClientKey,
		CreatedAt: base.Add(time.Duration(f.nextID) * time.Second),
	}, nil
}

func (f *fakeService) Edit(ctx context.Context, id, content string) (models.Message, error) {
	if err := f.record("edit"); err != nil {
		return models.Message{}, err
	}
	now := base.Add(time.Minute)
	return models.Message{ID: id, RoomID: "r42", SenderID: "me", Content: content, Type: models.MessageTypeText, EditedAt: &now, CreatedAt: base}, nil
}

func (f *fakeService) SoftDelete(ctx context.Context, id string) error { return f.record("delete") }
func (f *fakeService) SetPinned(ctx context.Context, id string, pinned bool) error {
	return f.record("pin")
}
func (f *fakeService) React(ctx context.Context, id, emoji string) error { return f.record("react") }
func (f *fakeService) Unreact(ctx context.Context, id, emoji string) error {
	return f.record("unreact")
}
func (f *fakeService) MarkRead(ctx context.Context, id string) error { return f.record("markread") }
func (f *fakeService) MarkRoomRead(ctx context.Context, roomID string) error {
	f.calls = append(f.calls, "markroomread")
	return f.markErr
}

func newTestCoordinator(svc Service) (*Coordinator, *store.Store) {
	st := store.New(50)
	c := New(st, svc, nil, "me", nil)
	c.now = func() time.Time { return base.Add(10 * time.Second) }
	n := 0
	c.newKey = func() string { n++; return fmt.Sprintf("key-%d", n) }
	return c, st
}

func seed(st *store.Store) {
	st.Upsert("r42", models.Message{ID: "m1", RoomID: "r42", SenderID: "bob", Content: "hi", Type: models.MessageTypeText, CreatedAt: base})
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	svc := &fakeService{}
	c, st := newTestCoordinator(svc)
	seed(st)

	msg, err := c.Send(context.Background(), models.Draft{RoomID: "r42", Content: "hello"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.ID != "srv-1" {
		t.Errorf("expected authoritative id, got %s", msg.ID)
	}

	got := st.Messages("r42")
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[1].ID != "srv-1" {
		t.Errorf("placeholder not replaced: %+v", got[1])
	}
	for _, m := range got {
		if strings.HasPrefix(m.ID, "temp-") {
			t.Errorf("placeholder leaked: %s", m.ID)
		}
	}
}

func TestSendFailureRollsBackExactly(t *testing.T) {
	svc := &fakeService{fail: true, delay: 20 * time.Millisecond}
	c, st := newTestCoordinator(svc)
	seed(st)

	before := st.GetPages("r42")

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), models.Draft{RoomID: "r42", Content: "hi"})
		done <- err
	}()

	// The placeholder must be visible immediately, before dispatch resolves.
	waitFor(t, func() bool {
		msgs := st.Messages("r42")
		return len(msgs) == 2 && strings.HasPrefix(msgs[1].ID, "temp-")
	})

	err := <-done
	if !errors.Is(err, errRemote) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !reflect.DeepEqual(before, st.GetPages("r42")) {
		t.Error("rollback did not restore the pre-send snapshot exactly")
	}
}

func TestEditFailureRollsBack(t *testing.T) {
	svc := &fakeService{fail: true}
	c, st := newTestCoordinator(svc)
	seed(st)
	before := st.GetPages("r42")

	if _, err := c.Edit(context.Background(), "r42", "m1", "changed"); err == nil {
		t.Fatal("expected error")
	}
	if !reflect.DeepEqual(before, st.GetPages("r42")) {
		t.Error("failed edit left the cache modified")
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	svc := &fakeService{}
	c, st := newTestCoordinator(svc)
	seed(st)

	if err := c.Delete(context.Background(), "r42", "m1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got := st.Messages("r42")
	if len(got) != 1 {
		t.Fatalf("delete removed the message from the sequence")
	}
	if !got[0].Deleted() {
		t.Error("tombstone marker not set")
	}
	if svc.calls[len(svc.calls)-1] != "delete" {
		t.Error("delete did not round-trip to the service")
	}
}

func TestDeleteFailureRestores(t *testing.T) {
	svc := &fakeService{fail: true}
	c, st := newTestCoordinator(svc)
	seed(st)

	if err := c.Delete(context.Background(), "r42", "m1"); err == nil {
		t.Fatal("expected error")
	}
	if st.Messages("r42")[0].Deleted() {
		t.Error("provisional tombstone survived rollback")
	}
}

func TestReactUnreact(t *testing.T) {
	svc := &fakeService{}
	c, st := newTestCoordinator(svc)
	seed(st)

	if err := c.React(context.Background(), "r42", "m1", "👍"); err != nil {
		t.Fatalf("react failed: %v", err)
	}
	want := models.Reaction{UserID: "me", Emoji: "👍"}
	if m := st.Messages("r42")[0]; !m.HasReaction(want) {
		t.Errorf("reaction missing: %v", m.Reactions)
	}

	if err := c.Unreact(context.Background(), "r42", "m1", "👍"); err != nil {
		t.Fatalf("unreact failed: %v", err)
	}
	if m := st.Messages("r42")[0]; m.HasReaction(want) {
		t.Errorf("reaction not removed: %v", m.Reactions)
	}
}

func TestMarkReadAddsReceipt(t *testing.T) {
	svc := &fakeService{}
	c, st := newTestCoordinator(svc)
	seed(st)

	if err := c.MarkRead(context.Background(), "r42", "m1"); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	m := st.Messages("r42")[0]
	if len(m.Receipts) != 1 || m.Receipts[0].UserID != "me" {
		t.Errorf("receipt missing: %v", m.Receipts)
	}
}

func TestMarkRoomReadSwallowsFailure(t *testing.T) {
	svc := &fakeService{markErr: errRemote}
	c, _ := newTestCoordinator(svc)

	// No error escapes and no retry happens.
	c.MarkRoomRead(context.Background(), "r42")
	count := 0
	for _, call := range svc.calls {
		if call == "markroomread" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one attempt, got %d", count)
	}
}

func TestOverlappingMutationsResolveInDispatchOrder(t *testing.T) {
	svc := &fakeService{}
	c, st := newTestCoordinator(svc)
	seed(st)

	if _, err := c.Edit(context.Background(), "r42", "m1", "edited"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(context.Background(), "r42", "m1"); err != nil {
		t.Fatal(err)
	}

	m := st.Messages("r42")[0]
	if m.Content != "edited" || !m.Deleted() {
		t.Errorf("last-applied-wins violated: %+v", m)
	}
	if !reflect.DeepEqual(svc.calls, []string{"edit", "delete"}) {
		t.Errorf("dispatch order: %v", svc.calls)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
