package messages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/store"
)

type fakeCreds struct{ hash string }

func (f fakeCreds) Hash(context.Context) (string, error) {
	if f.hash == "" {
		return "", store.ErrNoCredential
	}
	return f.hash, nil
}

type pageResult struct {
	msgs []model.Message
	err  error
}

// fakeFetcher blocks each call until the test releases it, so overlapping
// fetches can be completed in any order.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	pending map[int64][]chan pageResult
	started chan int64
	instant map[int64][]model.Message
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pending: make(map[int64][]chan pageResult),
		started: make(chan int64, 16),
		instant: make(map[int64][]model.Message),
	}
}

func (f *fakeFetcher) ChatMessages(_ context.Context, _ string, chatID int64, _ model.ChatType) ([]model.Message, error) {
	f.mu.Lock()
	f.calls++
	if msgs, ok := f.instant[chatID]; ok {
		f.mu.Unlock()
		return msgs, nil
	}
	ch := make(chan pageResult, 1)
	f.pending[chatID] = append(f.pending[chatID], ch)
	f.mu.Unlock()
	f.started <- chatID
	r := <-ch
	return r.msgs, r.err
}

// release completes the n-th (0-based) call for chatID.
func (f *fakeFetcher) release(chatID int64, n int, r pageResult) {
	f.mu.Lock()
	ch := f.pending[chatID][n]
	f.mu.Unlock()
	ch <- r
}

type fakeSub struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSub) SubscribeConversation(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("sub %d", id))
	return nil
}

func (f *fakeSub) UnsubscribeConversation(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("unsub %d", id))
	return nil
}

func msg(id int64, at string) model.Message {
	return model.Message{ID: id, CreatedAt: at, Body: fmt.Sprintf("m%d", id)}
}

func ids(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newTestStore(hash string, f Fetcher) *Store {
	return NewStore(fakeCreds{hash: hash}, f, nil, nil, time.UTC)
}

func TestFetchSortsAndDedupes(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = []model.Message{
		msg(3, "2024-06-15 10:00:00"),
		msg(1, "2024-06-15 09:00:00"),
		msg(2, "2024-06-15 10:00:00"),
		{ID: 1, CreatedAt: "2024-06-15 09:00:00", Body: "edited"},
	}
	s := newTestStore("h", f)

	got, err := s.Fetch(context.Background(), 1, model.ChatPrivate)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{1, 2, 3}; !equalIDs(ids(got), want) {
		t.Errorf("ids = %v, want %v", ids(got), want)
	}
	if got[0].Body != "edited" {
		t.Errorf("duplicate id should keep the later copy, got %q", got[0].Body)
	}
	if s.Loading() {
		t.Error("Loading() true after fetch completed")
	}
	if s.Err() != "" {
		t.Errorf("Err() = %q", s.Err())
	}
}

func TestFetchMissingCredential(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = []model.Message{msg(1, "2024-06-15 09:00:00")}
	f.instant[2] = []model.Message{msg(9, "2024-06-15 09:00:00")}

	s := NewStore(&switchCreds{hash: "h"}, f, nil, nil, time.UTC)
	if _, err := s.Fetch(context.Background(), 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}
	s.creds.(*switchCreds).hash = ""

	_, err := s.Fetch(context.Background(), 2, model.ChatPrivate)
	if !errors.Is(err, store.ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if s.Err() != "hash not found in local storage" {
		t.Errorf("Err() = %q", s.Err())
	}
	if !equalIDs(ids(s.Messages()), []int64{1}) {
		t.Errorf("history changed: %v", ids(s.Messages()))
	}
	if active, _ := s.Active(); active.ID != 1 {
		t.Errorf("active = %d, want 1", active.ID)
	}
	if f.calls != 1 {
		t.Errorf("network calls = %d, want 1", f.calls)
	}
}

type switchCreds struct{ hash string }

func (c *switchCreds) Hash(context.Context) (string, error) {
	if c.hash == "" {
		return "", store.ErrNoCredential
	}
	return c.hash, nil
}

func TestFetchErrorKeepsList(t *testing.T) {
	f := newFakeFetcher()
	s := newTestStore("h", f)

	done := make(chan error, 1)
	go func() {
		_, err := s.Fetch(context.Background(), 1, model.ChatPrivate)
		done <- err
	}()
	<-f.started
	f.release(1, 0, pageResult{msgs: []model.Message{msg(1, "2024-06-15 09:00:00")}})
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	go func() {
		_, err := s.Fetch(context.Background(), 1, model.ChatPrivate)
		done <- err
	}()
	<-f.started
	if !s.Loading() {
		t.Error("Loading() false while fetch in flight")
	}
	f.release(1, 1, pageResult{err: errors.New("network down")})
	if err := <-done; err == nil {
		t.Fatal("expected error")
	}
	if s.Err() != "network down" {
		t.Errorf("Err() = %q", s.Err())
	}
	if !equalIDs(ids(s.Messages()), []int64{1}) {
		t.Errorf("list changed on failure: %v", ids(s.Messages()))
	}
}

func TestStaleFetchDiscarded(t *testing.T) {
	f := newFakeFetcher()
	s := newTestStore("h", f)

	first := make(chan error, 1)
	go func() {
		_, err := s.Fetch(context.Background(), 1, model.ChatPrivate)
		first <- err
	}()
	<-f.started
	second := make(chan error, 1)
	go func() {
		_, err := s.Fetch(context.Background(), 1, model.ChatPrivate)
		second <- err
	}()
	<-f.started

	f.release(1, 1, pageResult{msgs: []model.Message{msg(2, "2024-06-15 10:00:00")}})
	if err := <-second; err != nil {
		t.Fatal(err)
	}
	f.release(1, 0, pageResult{msgs: []model.Message{msg(1, "2024-06-15 09:00:00")}})
	if err := <-first; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("older fetch err = %v, want ErrSuperseded", err)
	}
	if !equalIDs(ids(s.Messages()), []int64{2}) {
		t.Errorf("stale page overwrote newer one: %v", ids(s.Messages()))
	}
}

func TestSwitchConversationDiscardsOldFetch(t *testing.T) {
	f := newFakeFetcher()
	f.instant[2] = []model.Message{msg(20, "2024-06-15 10:00:00")}
	s := newTestStore("h", f)

	first := make(chan error, 1)
	go func() {
		_, err := s.Fetch(context.Background(), 1, model.ChatPrivate)
		first <- err
	}()
	<-f.started

	if _, err := s.Fetch(context.Background(), 2, model.ChatProject); err != nil {
		t.Fatal(err)
	}
	f.release(1, 0, pageResult{msgs: []model.Message{msg(10, "2024-06-15 09:00:00")}})
	if err := <-first; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want ErrSuperseded", err)
	}
	if !equalIDs(ids(s.Messages()), []int64{20}) {
		t.Errorf("messages = %v, want [20]", ids(s.Messages()))
	}
}

func TestDeliverDuringFetchSurvivesCommit(t *testing.T) {
	f := newFakeFetcher()
	s := newTestStore("h", f)

	done := make(chan error, 1)
	go func() {
		_, err := s.Fetch(context.Background(), 1, model.ChatPrivate)
		done <- err
	}()
	<-f.started

	if !s.Deliver(1, msg(5, "2024-06-15 11:00:00")) {
		t.Fatal("Deliver to active conversation returned false")
	}
	f.release(1, 0, pageResult{msgs: []model.Message{msg(1, "2024-06-15 09:00:00"), msg(2, "2024-06-15 10:00:00")}})
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if want := []int64{1, 2, 5}; !equalIDs(ids(s.Messages()), want) {
		t.Errorf("ids = %v, want %v", ids(s.Messages()), want)
	}
}

func TestDeliverOrderingAndIdempotence(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = []model.Message{msg(1, "2024-06-15 09:00:00"), msg(4, "2024-06-15 12:00:00")}
	s := newTestStore("h", f)
	if _, err := s.Fetch(context.Background(), 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}

	s.Deliver(1, msg(3, "2024-06-15 11:00:00"))
	s.Deliver(1, msg(3, "2024-06-15 11:00:00"))
	s.Deliver(1, msg(2, "15.06.2024 10:00:00"))
	s.Deliver(1, msg(0, "garbage"))

	if want := []int64{0, 1, 2, 3, 4}; !equalIDs(ids(s.Messages()), want) {
		t.Errorf("ids = %v, want %v", ids(s.Messages()), want)
	}

	s.Deliver(1, model.Message{ID: 1, CreatedAt: "2024-06-15 13:00:00", Body: "moved"})
	got := s.Messages()
	if want := []int64{0, 2, 3, 4, 1}; !equalIDs(ids(got), want) {
		t.Errorf("after re-timestamp ids = %v, want %v", ids(got), want)
	}
	if got[4].Body != "moved" {
		t.Errorf("replacement body = %q", got[4].Body)
	}
}

func TestDeliverIgnoresOtherConversations(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = nil
	s := newTestStore("h", f)

	if s.Deliver(1, msg(1, "2024-06-15 09:00:00")) {
		t.Error("Deliver with no open conversation returned true")
	}
	if _, err := s.Fetch(context.Background(), 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}
	if s.Deliver(2, msg(1, "2024-06-15 09:00:00")) {
		t.Error("Deliver for another conversation returned true")
	}
	if len(s.Messages()) != 0 {
		t.Errorf("messages = %v", ids(s.Messages()))
	}
}

func TestAppendLocalAndConfirm(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = []model.Message{msg(1, "2024-06-15 09:00:00")}
	s := newTestStore("h", f)
	if _, err := s.Fetch(context.Background(), 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}

	local, err := s.AppendLocal(model.Message{Body: "draft", CreatedAt: "2024-06-15 10:00:00"})
	if err != nil {
		t.Fatal(err)
	}
	if local.ClientKey == "" || !local.Pending {
		t.Fatalf("local = %+v, want ClientKey and Pending", local)
	}
	if n := len(s.Messages()); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}

	s.Confirm(local.ClientKey, model.Message{ID: 7, Body: "draft", CreatedAt: "2024-06-15 10:00:01"})
	got := s.Messages()
	if want := []int64{1, 7}; !equalIDs(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	if got[1].Pending || got[1].ClientKey != "" {
		t.Errorf("confirmed message still pending: %+v", got[1])
	}

	// The push echo of the confirmed message must not duplicate it.
	s.Deliver(1, model.Message{ID: 7, Body: "draft", CreatedAt: "2024-06-15 10:00:01"})
	if n := len(s.Messages()); n != 2 {
		t.Errorf("len after echo = %d, want 2", n)
	}
}

func TestOpenMovesSubscription(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = nil
	f.instant[2] = nil
	sub := &fakeSub{}
	s := NewStore(fakeCreds{hash: "h"}, f, sub, nil, time.UTC)

	ctx := context.Background()
	if _, err := s.Open(ctx, 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(ctx, 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(ctx, 2, model.ChatGlobal); err != nil {
		t.Fatal(err)
	}
	s.Close()

	want := []string{"sub 1", "unsub 1", "sub 2", "unsub 2"}
	if fmt.Sprint(sub.events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", sub.events, want)
	}
	if _, open := s.Active(); open {
		t.Error("conversation still open after Close")
	}
}

func TestAppendLocalNeedsOpenConversation(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = []model.Message{msg(1, "2024-06-15 09:00:00")}
	s := newTestStore("h", f)

	if _, err := s.AppendLocal(model.Message{Body: "draft"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
	if _, err := s.Fetch(context.Background(), 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if _, err := s.AppendLocal(model.Message{Body: "draft"}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("after Close err = %v, want ErrNotOpen", err)
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("len = %d, want 0", n)
	}
}

func TestOpenWithoutCredentialKeepsSubscription(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = nil
	f.instant[2] = nil
	creds := &switchCreds{hash: "h"}
	sub := &fakeSub{}
	s := NewStore(creds, f, sub, nil, time.UTC)

	ctx := context.Background()
	if _, err := s.Open(ctx, 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}
	creds.hash = ""
	if _, err := s.Open(ctx, 2, model.ChatPrivate); !errors.Is(err, store.ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}

	active, open := s.Active()
	if !open || active.ID != 1 {
		t.Fatalf("active = %+v open=%v, want 1", active, open)
	}
	if want := []string{"sub 1"}; fmt.Sprint(sub.events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", sub.events, want)
	}
	if !s.Deliver(1, msg(3, "2024-06-15 11:00:00")) {
		t.Error("Deliver to the still-active conversation returned false")
	}
	if s.Deliver(2, msg(4, "2024-06-15 11:00:00")) {
		t.Error("Deliver to the conversation that never opened returned true")
	}
}

func TestFailedSwitchHoldsDeliveries(t *testing.T) {
	f := newFakeFetcher()
	f.instant[1] = []model.Message{msg(100, "2024-06-15 09:00:00")}
	sub := &fakeSub{}
	s := NewStore(fakeCreds{hash: "h"}, f, sub, nil, time.UTC)
	ctx := context.Background()

	if _, err := s.Open(ctx, 1, model.ChatPrivate); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Open(ctx, 2, model.ChatPrivate)
		done <- err
	}()
	<-f.started
	f.release(2, 0, pageResult{err: errors.New("boom")})
	if err := <-done; err == nil {
		t.Fatal("expected error")
	}
	if s.Err() != "boom" {
		t.Errorf("Err() = %q", s.Err())
	}
	if active, _ := s.Active(); active.ID != 2 {
		t.Fatalf("active = %d, want 2", active.ID)
	}
	if n := len(s.Messages()); n != 0 {
		t.Errorf("previous history still visible: %v", ids(s.Messages()))
	}
	if want := []string{"sub 1", "unsub 1", "sub 2"}; fmt.Sprint(sub.events) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", sub.events, want)
	}

	if !s.Deliver(2, msg(7, "2024-06-15 11:00:00")) {
		t.Fatal("Deliver to the active conversation returned false")
	}

	go func() {
		_, err := s.Fetch(ctx, 2, model.ChatPrivate)
		done <- err
	}()
	<-f.started
	f.release(2, 1, pageResult{msgs: []model.Message{msg(20, "2024-06-15 10:00:00")}})
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if want := []int64{20, 7}; !equalIDs(ids(s.Messages()), want) {
		t.Errorf("ids = %v, want %v", ids(s.Messages()), want)
	}
}
