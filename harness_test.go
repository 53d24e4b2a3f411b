package blade

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// newTestHandle builds a started Handle with no transport. Master nodes
// get their id from master.nodeid and own realm "r"; children get a plain
// node_id and discover nothing (upstream links are wired by linkNodes).
func newTestHandle(t *testing.T, id string, master bool) *Handle {
	t.Helper()
	cfg := &Config{}
	if master {
		cfg.Master.NodeId = id
		cfg.Master.Realms = []string{"r"}
	} else {
		cfg.NodeId = id
	}
	h, err := NewHandle(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if err := h.Startup(context.Background()); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	t.Cleanup(func() {
		if err := h.Destroy(context.Background()); err != nil {
			t.Errorf("Destroy: %v", err)
		}
	})
	return h
}

// fakeSession is an in-memory Session whose Send dispatches synchronously
// into a peer Handle, so a tree of Handles can exchange real JSON-RPC
// frames without a websocket in the middle. Each link in the tree is a
// pair of fakeSessions pointing at each other.
type fakeSession struct {
	id           SessionId
	fromUpstream bool
	peer         *Handle
	peerID       SessionId
	peerSess     *fakeSession

	mu      sync.Mutex
	sent    []*Request
	pending map[string]ResponseCallback
	closed  bool
}

func newFakeSession(id SessionId, fromUpstream bool) *fakeSession {
	return &fakeSession{id: id, fromUpstream: fromUpstream, pending: make(map[string]ResponseCallback)}
}

func (s *fakeSession) ID() SessionId      { return s.id }
func (s *fakeSession) FromUpstream() bool { return s.fromUpstream }

func (s *fakeSession) Send(ctx context.Context, req *Request, cb ResponseCallback) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return NewError(CodeSessionTornDown, "session closed")
	}
	s.sent = append(s.sent, req)
	if cb != nil {
		s.pending[string(req.ID)] = cb
	}
	peer, peerID := s.peer, s.peerID
	s.mu.Unlock()

	if peer == nil {
		return nil
	}
	if resp := peer.Dispatch(ctx, peerID, req); resp != nil {
		s.deliver(resp)
	}
	return nil
}

func (s *fakeSession) deliver(resp *Response) {
	s.mu.Lock()
	cb, ok := s.pending[string(resp.ID)]
	if ok {
		delete(s.pending, string(resp.ID))
	}
	s.mu.Unlock()
	if ok {
		cb.HandleResponse(resp)
	}
}

func (s *fakeSession) Reply(ctx context.Context, resp *Response) error {
	if s.peerSess != nil {
		s.peerSess.deliver(resp)
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]ResponseCallback)
	s.mu.Unlock()
	for _, cb := range pending {
		cb.HandleTornDown()
	}
	return nil
}

// sentRequests returns the frames sent on this session so far for method,
// or all frames when method is empty.
func (s *fakeSession) sentRequests(method string) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, req := range s.sent {
		if method == "" || req.Method == method {
			out = append(out, req)
		}
	}
	return out
}

// linkNodes wires child under parent: parent gains a downstream session
// toward child, child gains its single upstream session toward parent,
// and the child's upstream state machine is marked UP.
func linkNodes(parent, child *Handle, name string) (down, up *fakeSession) {
	down = newFakeSession(SessionId("down-"+name), false)
	up = newFakeSession(SessionId("up-"+name), true)
	down.peer, down.peerID, down.peerSess = child, up.id, up
	up.peer, up.peerID, up.peerSess = parent, down.id, down
	parent.sessions.Register(down)
	child.sessions.Register(up)
	child.upstream.MarkUp(up)
	return down, up
}

// responseRecorder is a ResponseCallback that remembers what it saw.
type responseRecorder struct {
	mu        sync.Mutex
	responses []*Response
	timeouts  int
	tornDown  int
}

func (r *responseRecorder) HandleResponse(resp *Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, resp)
}

func (r *responseRecorder) HandleTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
}

func (r *responseRecorder) HandleTornDown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tornDown++
}

func (r *responseRecorder) lastResponse(t *testing.T) *Response {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.responses) == 0 {
		t.Fatal("no response recorded")
	}
	return r.responses[len(r.responses)-1]
}
