package blade

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSubscriptionRefcountTransitions(t *testing.T) {
	s := newSubscriptionManager()

	// 0 -> 1 propagates, 1 -> 2 does not, duplicate does not.
	if !s.AddSubscriber("p", "r", "e", "a") {
		t.Error("first add did not propagate")
	}
	if s.AddSubscriber("p", "r", "e", "b") {
		t.Error("second add propagated")
	}
	if s.AddSubscriber("p", "r", "e", "a") {
		t.Error("duplicate add propagated")
	}

	// Intermediate removal does not propagate; emptying does.
	if s.RemoveSubscriber("p", "r", "e", "a") {
		t.Error("non-final remove propagated")
	}
	if !s.RemoveSubscriber("p", "r", "e", "b") {
		t.Error("final remove did not propagate")
	}

	// The record is gone: removing again is a no-op, adding starts a
	// fresh 0 -> 1 transition.
	if s.RemoveSubscriber("p", "r", "e", "b") {
		t.Error("remove on deleted record propagated")
	}
	if !s.AddSubscriber("p", "r", "e", "c") {
		t.Error("add after record deletion did not propagate")
	}
}

func TestSubscriptionKeysAreIndependent(t *testing.T) {
	s := newSubscriptionManager()
	if !s.AddSubscriber("p", "r", "e1", "a") {
		t.Error("first add on e1 did not propagate")
	}
	if !s.AddSubscriber("p", "r", "e2", "a") {
		t.Error("first add on e2 did not propagate")
	}
	if !s.AddSubscriber("p2", "r", "e1", "a") {
		t.Error("first add on (p2, r, e1) did not propagate")
	}
}

func TestSubscriptionLocalCallback(t *testing.T) {
	s := newSubscriptionManager()
	cb := EventCallbackFunc(func(*BroadcastEvent) {})

	// Installing a callback with no record is a no-op.
	s.SetLocalCallback("p", "r", "e", cb)
	if _, got := s.Subscribers("p", "r", "e"); got != nil {
		t.Error("callback installed without a record")
	}

	s.AddSubscriber("p", "r", "e", "local")
	s.SetLocalCallback("p", "r", "e", cb)
	subs, got := s.Subscribers("p", "r", "e")
	if got == nil {
		t.Error("callback not returned")
	}
	if diff := cmp.Diff([]NodeId{"local"}, subs); diff != "" {
		t.Errorf("subscribers mismatch (-want +got):\n%s", diff)
	}
}

func TestSubscriptionRemoveAllForSubscriber(t *testing.T) {
	s := newSubscriptionManager()
	s.AddSubscriber("p", "r", "e1", "a")
	s.AddSubscriber("p", "r", "e1", "b")
	s.AddSubscriber("p", "r", "e2", "a")
	s.AddSubscriber("p", "r", "e3", "b")

	emptied := s.RemoveAllForSubscriber("a")
	sort.Slice(emptied, func(i, j int) bool { return emptied[i].event < emptied[j].event })
	want := []eventKey{{"p", "r", "e2"}}
	if diff := cmp.Diff(want, emptied, cmp.AllowUnexported(eventKey{})); diff != "" {
		t.Errorf("emptied keys mismatch (-want +got):\n%s", diff)
	}

	// e1 still has b; e3 untouched.
	if subs, _ := s.Subscribers("p", "r", "e1"); len(subs) != 1 {
		t.Errorf("e1 subscribers = %v; want [b]", subs)
	}
	if subs, _ := s.Subscribers("p", "r", "e3"); len(subs) != 1 {
		t.Errorf("e3 subscribers = %v; want [b]", subs)
	}
}
