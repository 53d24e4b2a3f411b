package blade

import (
	"context"
	"encoding/json"
	"testing"
)

func decodeSubscribeParams(t *testing.T, req *Request) SubscribeParams {
	t.Helper()
	var p SubscribeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		t.Fatalf("unmarshal subscribe params: %v", err)
	}
	return p
}

// TestSubscribeRefcountPropagation: c2 and c3 subscribe
// under c1; c1 emits exactly one blade.subscribe upstream on its first
// downstream interest and exactly one remove when the last interest
// disappears, regardless of intermediate churn.
func TestSubscribeRefcountPropagation(t *testing.T) {
	ctx := context.Background()
	m := newTestHandle(t, "m", true)
	c1 := newTestHandle(t, "c1", false)
	c2 := newTestHandle(t, "c2", false)
	c3 := newTestHandle(t, "c3", false)
	_, upC1 := linkNodes(m, c1, "c1")
	linkNodes(c1, c2, "c2")
	linkNodes(c1, c3, "c3")

	noop := EventCallbackFunc(func(*BroadcastEvent) {})

	// First downstream interest: exactly one upstream subscribe.
	if err := c2.Subscribe(ctx, "p", "r", "e", noop); err != nil {
		t.Fatalf("c2 Subscribe: %v", err)
	}
	if got := upC1.sentRequests("blade.subscribe"); len(got) != 1 {
		t.Fatalf("upstream subscribes after first interest = %d; want 1", len(got))
	} else if p := decodeSubscribeParams(t, got[0]); p.Remove {
		t.Fatal("first upstream subscribe carried remove=true")
	}

	// Duplicate subscribe from the same leaf: no new emission anywhere.
	if err := c2.Subscribe(ctx, "p", "r", "e", noop); err != nil {
		t.Fatalf("c2 duplicate Subscribe: %v", err)
	}
	// A second leaf: c1 already holds an interest, nothing propagates.
	if err := c3.Subscribe(ctx, "p", "r", "e", noop); err != nil {
		t.Fatalf("c3 Subscribe: %v", err)
	}
	if got := upC1.sentRequests("blade.subscribe"); len(got) != 1 {
		t.Fatalf("upstream subscribes after duplicates = %d; want 1", len(got))
	}

	// First leaf withdraws: c1 still has c3's branch, no remove yet.
	if err := c2.Unsubscribe(ctx, "p", "r", "e"); err != nil {
		t.Fatalf("c2 Unsubscribe: %v", err)
	}
	if got := upC1.sentRequests("blade.subscribe"); len(got) != 1 {
		t.Fatalf("upstream subscribes after first withdrawal = %d; want 1", len(got))
	}

	// Last leaf withdraws: exactly one remove propagates.
	if err := c3.Unsubscribe(ctx, "p", "r", "e"); err != nil {
		t.Fatalf("c3 Unsubscribe: %v", err)
	}
	got := upC1.sentRequests("blade.subscribe")
	if len(got) != 2 {
		t.Fatalf("upstream subscribes after last withdrawal = %d; want 2", len(got))
	}
	if p := decodeSubscribeParams(t, got[1]); !p.Remove {
		t.Fatal("final upstream subscribe did not carry remove=true")
	}
	if p := decodeSubscribeParams(t, got[1]); p.Protocol != "p" || p.Realm != "r" || p.Event != "e" {
		t.Fatalf("final upstream subscribe key mismatch: %+v", p)
	}
}

func TestSubscribeWireResponseEcho(t *testing.T) {
	h := newTestHandle(t, "m", true)
	registerLoneSession(h, "s1")

	req := mustRequest(t, "blade.subscribe", SubscribeParams{Protocol: "p", Realm: "r", Event: "e"})
	resp := h.Dispatch(context.Background(), "s1", req)
	if resp == nil || resp.Error != nil {
		t.Fatalf("response = %+v; want success", resp)
	}
	var sr SubscribeResult
	if err := json.Unmarshal(resp.Result, &sr); err != nil {
		t.Fatalf("unmarshal subscribe result: %v", err)
	}
	if sr.Protocol != "p" || sr.Realm != "r" || sr.Event != "e" {
		t.Errorf("subscribe echo mismatch: %+v", sr)
	}
}

func TestSubscribeGeneratorDisconnected(t *testing.T) {
	ctx := context.Background()
	lone := newTestHandle(t, "lone", false)

	err := lone.Subscribe(ctx, "p", "r", "e", EventCallbackFunc(func(*BroadcastEvent) {}))
	if be, ok := AsError(err); !ok || be.Code != CodeDisconnected {
		t.Fatalf("Subscribe error = %v; want CodeDisconnected", err)
	}
	if subs, _ := lone.subs.Subscribers("p", "r", "e"); subs != nil {
		t.Error("failed Subscribe still mutated the subscription tree")
	}
}

// TestSubscribeTeardownPropagatesRemove: a downstream session holding the
// only interest in a key disappears; the node emits the remove its
// refcount transition requires.
func TestSubscribeTeardownPropagatesRemove(t *testing.T) {
	ctx := context.Background()
	m := newTestHandle(t, "m", true)
	c1 := newTestHandle(t, "c1", false)
	c2 := newTestHandle(t, "c2", false)
	_, upC1 := linkNodes(m, c1, "c1")
	downC2, _ := linkNodes(c1, c2, "c2")

	if err := c2.Subscribe(ctx, "p", "r", "e", EventCallbackFunc(func(*BroadcastEvent) {})); err != nil {
		t.Fatalf("c2 Subscribe: %v", err)
	}
	if got := upC1.sentRequests("blade.subscribe"); len(got) != 1 {
		t.Fatalf("upstream subscribes = %d; want 1", len(got))
	}

	c1.TeardownSession(ctx, downC2.ID())

	got := upC1.sentRequests("blade.subscribe")
	if len(got) != 2 {
		t.Fatalf("upstream subscribes after teardown = %d; want 2", len(got))
	}
	if p := decodeSubscribeParams(t, got[1]); !p.Remove {
		t.Fatal("teardown did not propagate remove=true upstream")
	}
	if subs, _ := m.subs.Subscribers("p", "r", "e"); subs != nil {
		t.Errorf("master subscribers after teardown = %v; want none", subs)
	}
}
