// Package wss carries JSON-RPC 2.0 frames over a gorilla/websocket
// connection. It implements blade.Session and blade.Transport, the
// collaborator interfaces the core package consumes.
package wss

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bladerpc/blade"
)

// sendTimeout bounds how long a write to a stalled peer is allowed to
// block a sender before the session is considered dead.
const sendTimeout = 50 * time.Millisecond

// sendQueueSize is the buffered depth of a session's outbound queue.
const sendQueueSize = 256

// Session wraps one gorilla/websocket connection, framing JSON-RPC 2.0
// request/response objects and demultiplexing inbound frames between the
// core dispatcher (requests) and this session's own pending-response
// table (responses).
type Session struct {
	id           blade.SessionId
	conn         *websocket.Conn
	handle       *blade.Handle
	fromUpstream bool
	log          *slog.Logger

	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	pending   map[string]blade.ResponseCallback
	closeOnce sync.Once
}

// newSession wraps conn. fromUpstream marks whether this session is the
// single upstream link toward this node's parent.
func newSession(conn *websocket.Conn, h *blade.Handle, fromUpstream bool, log *slog.Logger) *Session {
	s := &Session{
		id:           blade.SessionId(uuid.NewString()),
		conn:         conn,
		handle:       h,
		fromUpstream: fromUpstream,
		log:          log,
		send:         make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
		pending:      make(map[string]blade.ResponseCallback),
	}
	go s.writePump()
	go s.readPump()
	return s
}

func (s *Session) ID() blade.SessionId { return s.id }
func (s *Session) FromUpstream() bool  { return s.fromUpstream }

// Send frames req and, if cb is non-nil, registers it under req.ID in
// this session's pending-response table so it is invoked exactly once:
// by the read pump on response, or by Close on teardown. This transport
// has no per-request timeout, so HandleTimeout is never invoked.
func (s *Session) Send(ctx context.Context, req *blade.Request, cb blade.ResponseCallback) error {
	if cb != nil {
		s.mu.Lock()
		s.pending[string(req.ID)] = cb
		s.mu.Unlock()
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return blade.WrapError(blade.CodeInternal, err, "marshal request")
	}
	return s.enqueue(ctx, raw)
}

// Reply frames resp and writes it without touching the pending table.
func (s *Session) Reply(ctx context.Context, resp *blade.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return blade.WrapError(blade.CodeInternal, err, "marshal response")
	}
	return s.enqueue(ctx, raw)
}

func (s *Session) enqueue(ctx context.Context, raw []byte) error {
	select {
	case s.send <- raw:
		return nil
	case <-s.done:
		return blade.NewError(blade.CodeSessionTornDown, "session closed")
	case <-ctx.Done():
		return blade.WrapError(blade.CodeTimeout, ctx.Err(), "enqueue outbound frame")
	case <-time.After(sendTimeout):
		go s.Close()
		return blade.NewError(blade.CodeInternal, "send queue full, dropping session")
	}
}

func (s *Session) writePump() {
	for {
		select {
		case raw := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.log.Warn("wss write failed", "session", s.id, "error", err)
				go s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) readPump() {
	ctx := context.Background()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug("wss read ended", "session", s.id, "error", err)
			s.Close()
			return
		}
		s.handleFrame(ctx, raw)
	}
}

// handleFrame classifies an inbound frame as a request (has "method") or
// a response (otherwise). Responses never reach the core dispatcher;
// they resolve this session's own pending table.
func (s *Session) handleFrame(ctx context.Context, raw []byte) {
	var peek struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		s.log.Debug("wss: dropping malformed frame", "session", s.id, "error", err)
		return
	}
	if peek.Method != "" {
		var req blade.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.log.Debug("wss: dropping malformed request", "session", s.id, "error", err)
			return
		}
		if resp := s.handle.Dispatch(ctx, s.id, &req); resp != nil {
			if err := s.Reply(ctx, resp); err != nil {
				s.log.Warn("wss: failed to send response", "session", s.id, "error", err)
			}
		}
		return
	}

	var resp blade.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.log.Debug("wss: dropping malformed response", "session", s.id, "error", err)
		return
	}
	s.mu.Lock()
	cb, ok := s.pending[string(resp.ID)]
	if ok {
		delete(s.pending, string(resp.ID))
	}
	s.mu.Unlock()
	if ok {
		cb.HandleResponse(&resp)
	}
}

// Close tears the underlying connection down, fails every outstanding
// pending callback with HandleTornDown, and notifies the Handle so it can
// reconcile route table, registry and subscription state. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()

		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		for _, cb := range pending {
			cb.HandleTornDown()
		}

		s.handle.TeardownSession(context.Background(), s.id)
	})
	return err
}
