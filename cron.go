package blade

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduler drives the node's periodic work: upstream
// reconnect-with-backoff attempts and a recurring refresh of the route
// table and session gauges.
type scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func newScheduler(log *slog.Logger) *scheduler {
	return &scheduler{cron: cron.New(), log: log}
}

// scheduleReconnect arranges for tryConnect to be retried periodically
// while upstream is not UP. The cron spec is evaluated every second;
// tryConnect itself is a no-op if a connection is already in flight or up,
// and NextBackoff is consulted to skip attempts before the current
// backoff has elapsed.
func (s *scheduler) scheduleReconnect(ctx context.Context, h *Handle, addr string) error {
	var lastAttempt time.Time
	_, err := s.cron.AddFunc("@every 1s", func() {
		if h.upstream.State() == UpstreamUp {
			return
		}
		if time.Since(lastAttempt) < h.upstream.NextBackoff() {
			return
		}
		lastAttempt = time.Now()
		h.upstream.tryConnect(ctx, h.transport, addr, func(sess Session) {
			h.sessions.Register(sess)
			s.log.Info("upstream connected", "addr", addr, "session", sess.ID())
		})
	})
	if err != nil {
		return WrapError(CodeInternal, err, "schedule upstream reconnect")
	}
	return nil
}

// scheduleRouteSweep arranges for a periodic refresh of the route table
// size, active session count and upstream state gauges. It does not check
// or repair the route table against the sessions' reverse sets.
func (s *scheduler) scheduleRouteSweep(h *Handle) error {
	_, err := s.cron.AddFunc("@every 1m", func() {
		size := h.routes.Len()
		h.metrics.RouteTableSize.Set(float64(size))
		h.metrics.ActiveSessions.Set(float64(h.sessions.Len()))
		h.metrics.UpstreamState.Set(float64(h.upstream.State()))
	})
	if err != nil {
		return WrapError(CodeInternal, err, "schedule route table sweep")
	}
	return nil
}

func (s *scheduler) Start() { s.cron.Start() }

func (s *scheduler) Stop() context.Context { return s.cron.Stop() }
