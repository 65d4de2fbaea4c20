package chatlist

import (
	"context"
	"errors"
	"testing"

	"github.com/wecrm/crmchat/internal/model"
	"github.com/wecrm/crmchat/internal/store"
)

type creds struct{ hash string }

func (c creds) Hash(context.Context) (string, error) {
	if c.hash == "" {
		return "", store.ErrNoCredential
	}
	return c.hash, nil
}

type fetcher struct {
	buckets model.ChatBuckets
	err     error
	calls   int
}

func (f *fetcher) ChatList(context.Context, string) (model.ChatBuckets, error) {
	f.calls++
	return f.buckets, f.err
}

func assertAllBuckets(t *testing.T, b model.ChatBuckets) {
	t.Helper()
	for _, name := range model.Buckets {
		if b.Get(name) == nil {
			t.Errorf("bucket %s is nil", name)
		}
	}
}

func TestFetchNormalizesMissingBuckets(t *testing.T) {
	f := &fetcher{buckets: model.ChatBuckets{
		PrivateChats: []model.ConversationSummary{{ChatName: "Ann", UnreadCount: 2, DialogID: 1}},
	}}
	s := NewStore(creds{hash: "h"}, f, nil)

	b := s.Fetch(context.Background())
	assertAllBuckets(t, b)
	if len(b.PrivateChats) != 1 {
		t.Errorf("privateChats = %d, want 1", len(b.PrivateChats))
	}
	if s.Err() != "" {
		t.Errorf("Err() = %q", s.Err())
	}
}

func TestFetchFailureShapes(t *testing.T) {
	tests := []struct {
		name    string
		hash    string
		err     error
		wantErr string
		calls   int
	}{
		{"missing credential", "", nil, "hash not found in local storage", 0},
		{"transport", "h", errors.New("dial tcp: refused"), "dial tcp: refused", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fetcher{err: tt.err, buckets: model.ChatBuckets{
				AllChats: []model.ConversationSummary{{DialogID: 1}},
			}}
			s := NewStore(creds{hash: tt.hash}, f, nil)

			b := s.Fetch(context.Background())
			assertAllBuckets(t, b)
			for _, name := range model.Buckets {
				if n := len(b.Get(name)); n != 0 {
					t.Errorf("bucket %s has %d entries on failure", name, n)
				}
			}
			if s.Err() != tt.wantErr {
				t.Errorf("Err() = %q, want %q", s.Err(), tt.wantErr)
			}
			if f.calls != tt.calls {
				t.Errorf("calls = %d, want %d", f.calls, tt.calls)
			}
			if s.Loading() {
				t.Error("Loading() true after Fetch returned")
			}
		})
	}
}

func TestUnread(t *testing.T) {
	f := &fetcher{buckets: model.ChatBuckets{
		PrivateChats: []model.ConversationSummary{{UnreadCount: 2}, {UnreadCount: 1}},
		ProjectChats: []model.ConversationSummary{{UnreadCount: 4}},
	}}
	s := NewStore(creds{hash: "h"}, f, nil)
	s.Fetch(context.Background())

	u := s.Unread()
	if u.Buckets[model.BucketPrivate] != 3 || u.Buckets[model.BucketProject] != 4 {
		t.Errorf("buckets = %v", u.Buckets)
	}
	if u.Total != 7 {
		t.Errorf("total = %d, want 7", u.Total)
	}

	f.buckets.AllChats = []model.ConversationSummary{{UnreadCount: 3}, {UnreadCount: 4}}
	s.Fetch(context.Background())
	if u := s.Unread(); u.Total != 7 {
		t.Errorf("total with allChats = %d, want 7", u.Total)
	}
}

func TestStaleClearedByFetch(t *testing.T) {
	s := NewStore(creds{hash: "h"}, &fetcher{}, nil)
	s.MarkStale()
	if !s.Stale() {
		t.Fatal("Stale() false after MarkStale")
	}
	s.Fetch(context.Background())
	if s.Stale() {
		t.Error("Stale() true after successful fetch")
	}
}
