package subscription

import (
	"testing"

	"github.com/lumencanvas/clasp/internal/clasptype"
)

func TestFindSubscribersBasic(t *testing.T) {
	idx := New(4)
	idx.Add(clasptype.Subscription{ID: 1, SessionID: "s1", Pattern: "/mixer/**"})
	idx.Add(clasptype.Subscription{ID: 2, SessionID: "s2", Pattern: "/**"})
	idx.Add(clasptype.Subscription{ID: 3, SessionID: "s3", Pattern: "/lights/*"})

	got := idx.FindSubscribers("/mixer/master/volume", clasptype.SignalParam)
	want := map[string]bool{"s1": true, "s2": true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want keys of %v", got, want)
	}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected subscriber %s", s)
		}
	}
}

func TestFindSubscribersDedup(t *testing.T) {
	idx := New(4)
	idx.Add(clasptype.Subscription{ID: 1, SessionID: "s1", Pattern: "/mixer/**"})
	idx.Add(clasptype.Subscription{ID: 2, SessionID: "s1", Pattern: "/**"})

	got := idx.FindSubscribers("/mixer/x", clasptype.SignalParam)
	if len(got) != 1 {
		t.Fatalf("expected dedup to 1 subscriber, got %v", got)
	}
}

func TestRemoveSession(t *testing.T) {
	idx := New(4)
	idx.Add(clasptype.Subscription{ID: 1, SessionID: "s1", Pattern: "/a/**"})
	idx.Add(clasptype.Subscription{ID: 2, SessionID: "s1", Pattern: "/b/*"})
	idx.RemoveSession("s1")

	if got := idx.FindSubscribers("/a/x", clasptype.SignalParam); len(got) != 0 {
		t.Fatalf("expected no subscribers after RemoveSession, got %v", got)
	}
}

func TestTypeFilter(t *testing.T) {
	idx := New(4)
	idx.Add(clasptype.Subscription{
		ID: 1, SessionID: "s1", Pattern: "/x/*",
		TypeFilter: map[clasptype.SignalType]struct{}{clasptype.SignalEvent: {}},
	})
	if got := idx.FindSubscribers("/x/y", clasptype.SignalParam); len(got) != 0 {
		t.Fatalf("expected type filter to exclude Param, got %v", got)
	}
	if got := idx.FindSubscribers("/x/y", clasptype.SignalEvent); len(got) != 1 {
		t.Fatalf("expected type filter to admit Event, got %v", got)
	}
}
