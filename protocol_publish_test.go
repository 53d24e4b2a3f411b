package blade

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestPublishLocateRoundTrip: master m, child c1,
// grandchild c2. c1 publishes (p, r) to m; c2 locates it through c1's
// forwarding; after c1's session toward m tears down, the controller set
// no longer contains c1.
func TestPublishLocateRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestHandle(t, "m", true)
	c1 := newTestHandle(t, "c1", false)
	c2 := newTestHandle(t, "c2", false)
	downC1, _ := linkNodes(m, c1, "c1")
	linkNodes(c1, c2, "c2")

	rec := &responseRecorder{}
	if err := c1.Publish(ctx, "p", "r", "m", false, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	resp := rec.lastResponse(t)
	if resp.Error != nil {
		t.Fatalf("publish error: %+v", resp.Error)
	}
	var pr PublishResult
	if err := json.Unmarshal(resp.Result, &pr); err != nil {
		t.Fatalf("unmarshal publish result: %v", err)
	}
	want := PublishResult{Protocol: "p", Realm: "r", RequesterNodeId: "c1", ResponderNodeId: "m"}
	if diff := cmp.Diff(want, pr); diff != "" {
		t.Errorf("publish echo mismatch (-want +got):\n%s", diff)
	}

	// Locate from the grandchild resolves through c1, which forwards it
	// to m.
	locRec := &responseRecorder{}
	if err := c2.Locate(ctx, "p", "r", "m", locRec); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	locResp := locRec.lastResponse(t)
	if locResp.Error != nil {
		t.Fatalf("locate error: %+v", locResp.Error)
	}
	var lr LocateResult
	if err := json.Unmarshal(locResp.Result, &lr); err != nil {
		t.Fatalf("unmarshal locate result: %v", err)
	}
	if diff := cmp.Diff([]NodeId{"c1"}, lr.Controllers); diff != "" {
		t.Errorf("controllers mismatch (-want +got):\n%s", diff)
	}
	if lr.Protocol != "p" || lr.Realm != "r" || lr.RequesterNodeId != "c2" || lr.ResponderNodeId != "m" {
		t.Errorf("locate echo mismatch: %+v", lr)
	}

	// c1's session toward the master goes away: the master reconciles
	// controller liveness against session liveness.
	m.TeardownSession(ctx, downC1.ID())
	if got := m.master.Controllers("p", "r"); got != nil {
		t.Errorf("controllers after teardown = %v; want nil", got)
	}
}

func TestPublishRemoveWithdrawsController(t *testing.T) {
	ctx := context.Background()
	m := newTestHandle(t, "m", true)
	c1 := newTestHandle(t, "c1", false)
	linkNodes(m, c1, "c1")

	rec := &responseRecorder{}
	if err := c1.Publish(ctx, "p", "r", "m", false, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := c1.Publish(ctx, "p", "r", "m", true, rec); err != nil {
		t.Fatalf("Publish remove: %v", err)
	}
	if got := m.master.Controllers("p", "r"); got != nil {
		t.Errorf("controllers after remove = %v; want nil", got)
	}
}

func TestPublishMultipleControllers(t *testing.T) {
	ctx := context.Background()
	m := newTestHandle(t, "m", true)
	c1 := newTestHandle(t, "c1", false)
	c2 := newTestHandle(t, "c2", false)
	linkNodes(m, c1, "c1")
	linkNodes(m, c2, "c2")

	for _, c := range []*Handle{c1, c2} {
		if err := c.Publish(ctx, "p", "r", "m", false, &responseRecorder{}); err != nil {
			t.Fatalf("Publish from %s: %v", c.LocalID(), err)
		}
	}
	got := m.master.Controllers("p", "r")
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if diff := cmp.Diff([]NodeId{"c1", "c2"}, got); diff != "" {
		t.Errorf("controllers mismatch (-want +got):\n%s", diff)
	}
}

// TestPublishMisaddressedResponder: a publish whose
// responder-nodeid names a non-Master node fails with -32602 at that node.
func TestPublishMisaddressedResponder(t *testing.T) {
	h := newTestHandle(t, "notmaster", false)
	registerLoneSession(h, "s1")

	req := mustRequest(t, "blade.publish", PublishParams{
		Protocol:        "p",
		Realm:           "r",
		RequesterNodeId: "c1",
		ResponderNodeId: "notmaster",
	})
	resp := h.Dispatch(context.Background(), "s1", req)
	if resp == nil || resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if resp.Error.Code != jsonrpcInvalidParams {
		t.Errorf("error code = %d; want %d", resp.Error.Code, jsonrpcInvalidParams)
	}
	if resp.Error.Message != "Invalid params responder-nodeid" {
		t.Errorf("error message = %q; want %q", resp.Error.Message, "Invalid params responder-nodeid")
	}
}

// TestPublishErrorRelayedThroughForwarding: the -32602 a non-Master
// responder frames survives the hop back through a forwarding node
// unchanged, instead of degrading to -32603.
func TestPublishErrorRelayedThroughForwarding(t *testing.T) {
	ctx := context.Background()
	m := newTestHandle(t, "m", true)
	c1 := newTestHandle(t, "c1", false)
	c2 := newTestHandle(t, "c2", false)
	c3 := newTestHandle(t, "c3", false)
	linkNodes(m, c1, "c1")
	linkNodes(c1, c2, "c2")
	linkNodes(c1, c3, "c3")

	// c1 learns a route to c3, so c2's misaddressed publish forwards
	// sideways instead of up.
	if err := c3.Register(ctx, "c3", false, nil); err != nil {
		t.Fatalf("c3 Register: %v", err)
	}

	rec := &responseRecorder{}
	if err := c2.Publish(ctx, "p", "r", "c3", false, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	resp := rec.lastResponse(t)
	if resp.Error == nil || resp.Error.Code != jsonrpcInvalidParams {
		t.Fatalf("relayed error = %+v; want -32602", resp.Error)
	}
	if resp.Error.Message != "Invalid params responder-nodeid" {
		t.Errorf("relayed message = %q", resp.Error.Message)
	}
}

func TestPublishGeneratorDisconnected(t *testing.T) {
	ctx := context.Background()
	lone := newTestHandle(t, "lone", false)

	rec := &responseRecorder{}
	err := lone.Publish(ctx, "p", "r", "m", false, rec)
	if be, ok := AsError(err); !ok || be.Code != CodeDisconnected {
		t.Fatalf("Publish error = %v; want CodeDisconnected", err)
	}
	if len(rec.responses) != 0 || rec.timeouts != 0 || rec.tornDown != 0 {
		t.Error("callback invoked on a synchronous generator failure")
	}
}
