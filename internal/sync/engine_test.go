package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wecrm/crmchat/internal/bus"
	"github.com/wecrm/crmchat/internal/config"
	"github.com/wecrm/crmchat/internal/messages"
	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/push"
)

const messageEvent = `App\Events\MessageSent`

func testConfig() config.Push {
	return config.Push{ChannelPrefix: "chat.", MessageEvent: messageEvent}
}

type hashCreds struct{}

func (hashCreds) Hash(context.Context) (string, error) { return "h", nil }

type pageFetcher struct {
	pages map[int64][]model.Message
	calls atomic.Int32
}

func (f *pageFetcher) ChatMessages(_ context.Context, _ string, id int64, _ model.ChatType) ([]model.Message, error) {
	f.calls.Add(1)
	return f.pages[id], nil
}

type staleCounter struct{ n int }

func (s *staleCounter) MarkStale() { s.n++ }

func openStore(t *testing.T, f *pageFetcher, id int64) *messages.Store {
	t.Helper()
	s := messages.NewStore(hashCreds{}, f, nil, nil, time.UTC)
	if _, err := s.Fetch(context.Background(), id, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestHandlePushDelivers(t *testing.T) {
	f := &pageFetcher{pages: map[int64][]model.Message{
		5: {{ID: 1, CreatedAt: "2024-06-15 09:00:00"}, {ID: 3, CreatedAt: "2024-06-15 11:00:00"}},
	}}
	store := openStore(t, f, 5)
	lists := &staleCounter{}
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	e := NewEngine(testConfig(), store, lists, b, nil)
	ok := e.HandlePush(push.Event{
		Channel: "chat.5",
		Name:    "." + messageEvent,
		Data:    []byte(`{"message":{"id":2,"body":"mid","created_at":"2024-06-15 10:00:00"}}`),
	})
	if !ok {
		t.Fatal("HandlePush returned false")
	}

	got := store.Messages()
	if len(got) != 3 || got[1].ID != 2 || got[1].Body != "mid" {
		t.Errorf("messages = %+v", got)
	}
	if lists.n != 1 {
		t.Errorf("MarkStale calls = %d, want 1", lists.n)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindMessageDelivered {
			t.Errorf("kind = %s", evt.Kind)
		}
		if d := evt.Payload.(Delivery); d.ConversationID != 5 || d.Message.ID != 2 {
			t.Errorf("payload = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no message.delivered event")
	}
}

func TestHandlePushIgnores(t *testing.T) {
	f := &pageFetcher{pages: map[int64][]model.Message{5: nil}}
	store := openStore(t, f, 5)
	lists := &staleCounter{}
	e := NewEngine(testConfig(), store, lists, bus.New(), nil)

	tests := []struct {
		name  string
		evt   push.Event
		stale int
	}{
		{"other event", push.Event{Channel: "chat.5", Name: "client-typing", Data: []byte(`{}`)}, 0},
		{"bad channel", push.Event{Channel: "presence-x", Name: messageEvent, Data: []byte(`{"id":1}`)}, 0},
		{"no id", push.Event{Channel: "chat.5", Name: messageEvent, Data: []byte(`{"body":"x"}`)}, 0},
		{"not json", push.Event{Channel: "chat.5", Name: messageEvent, Data: []byte(`nope`)}, 0},
		{"other conversation", push.Event{Channel: "chat.6", Name: messageEvent, Data: []byte(`{"id":1,"created_at":"2024-06-15 10:00:00"}`)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lists.n = 0
			if e.HandlePush(tt.evt) {
				t.Error("HandlePush returned true")
			}
			if lists.n != tt.stale {
				t.Errorf("MarkStale calls = %d, want %d", lists.n, tt.stale)
			}
		})
	}
	if n := len(store.Messages()); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestDoublePushIsIdempotent(t *testing.T) {
	f := &pageFetcher{pages: map[int64][]model.Message{5: {{ID: 1, CreatedAt: "2024-06-15 09:00:00"}}}}
	store := openStore(t, f, 5)
	e := NewEngine(testConfig(), store, nil, bus.New(), nil)

	evt := push.Event{Channel: "chat.5", Name: messageEvent, Data: []byte(`{"id":2,"created_at":"2024-06-15 10:00:00"}`)}
	e.HandlePush(evt)
	e.HandlePush(evt)
	if n := len(store.Messages()); n != 2 {
		t.Errorf("len = %d, want 2", n)
	}
}

func TestEngineConsumesBus(t *testing.T) {
	f := &pageFetcher{pages: map[int64][]model.Message{5: nil}}
	store := openStore(t, f, 5)
	b := bus.New()
	delivered, unsub := b.Subscribe(bus.KindMessageDelivered, 1)
	defer unsub()

	e := NewEngine(testConfig(), store, nil, b, nil)
	e.Start(context.Background())
	defer e.Stop()

	b.Publish(bus.NewEvent(bus.KindPushEvent, push.Event{
		Channel: "chat.5", Name: messageEvent, Data: []byte(`{"id":9,"created_at":"2024-06-15 10:00:00"}`),
	}))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not deliver the bus event")
	}
	if got := store.Messages(); len(got) != 1 || got[0].ID != 9 {
		t.Errorf("messages = %+v", got)
	}
}

func TestReconcilerRefetchesAfterReconnect(t *testing.T) {
	f := &pageFetcher{pages: map[int64][]model.Message{5: {{ID: 1, CreatedAt: "2024-06-15 09:00:00"}}}}
	store := openStore(t, f, 5)
	lists := &staleCounter{}
	r := NewReconciler(store, lists, bus.New(), nil)

	f.pages[5] = append(f.pages[5], model.Message{ID: 2, CreatedAt: "2024-06-15 10:00:00"})
	if err := r.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(store.Messages()); n != 2 {
		t.Errorf("len = %d, want 2", n)
	}
	if lists.n != 1 {
		t.Errorf("MarkStale calls = %d", lists.n)
	}
}

func TestReconcilerSkipsFirstConnect(t *testing.T) {
	f := &pageFetcher{pages: map[int64][]model.Message{5: nil}}
	store := openStore(t, f, 5)
	b := bus.New()
	r := NewReconciler(store, nil, b, nil)
	r.Start(context.Background())
	defer r.Stop()

	b.Publish(bus.NewEvent(bus.KindPushConnected, "1.1"))
	b.Publish(bus.NewEvent(bus.KindPushConnected, "1.2"))

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("fetch calls = %d, want 2 (initial + one catch-up)", f.calls.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if n := f.calls.Load(); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
}
