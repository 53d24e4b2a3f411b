package wss

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"

	"github.com/bladerpc/blade"
)

// Config configures a Transport: the HTTP listen address and TLS
// material for accepting downstream connections, mirrored from
// blade.Config's wss/tls subtrees.
type Config struct {
	Bind               string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// Transport implements blade.Transport over gorilla/websocket, wrapping
// the HTTP upgrade endpoint with gorilla/handlers access logging.
type Transport struct {
	cfg      Config
	handle   *blade.Handle
	log      *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// New builds a Transport bound to h, which Listen/Connect register newly
// established sessions onto and dispatch inbound requests through.
func New(cfg Config, h *blade.Handle, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		handle: h,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Listen starts an HTTP server accepting websocket upgrades at cfg.Bind.
// Every accepted connection becomes a downstream Session passed to
// onAccept.
func (t *Transport) Listen(ctx context.Context, onAccept func(blade.Session)) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/blade", func(w http.ResponseWriter, r *http.Request) {
		conn, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		sess := newSession(conn, t.handle, false, t.log)
		onAccept(sess)
	})

	t.server = &http.Server{
		Addr:    t.cfg.Bind,
		Handler: handlers.CombinedLoggingHandler(logWriter{t.log}, mux),
	}

	go func() {
		var err error
		if t.cfg.CertFile != "" && t.cfg.KeyFile != "" {
			err = t.server.ListenAndServeTLS(t.cfg.CertFile, t.cfg.KeyFile)
		} else {
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			t.log.Error("wss listener stopped", "error", err)
		}
	}()
	return nil
}

// Connect dials addr as the single upstream session.
func (t *Transport) Connect(ctx context.Context, addr string) (blade.Session, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if t.cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, blade.WrapError(blade.CodeDisconnected, err, "dial upstream %s", addr)
	}
	return newSession(conn, t.handle, true, t.log), nil
}

// Shutdown stops accepting new connections. Established sessions are
// closed separately by Handle.Shutdown via the session manager.
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

// logWriter adapts *slog.Logger to io.Writer for gorilla/handlers'
// access-log middleware, which wants a plain writer.
type logWriter struct{ log *slog.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Info("access", "line", string(p))
	return len(p), nil
}
