// Command bladenode runs one Blade fabric node: it loads configuration,
// wires a websocket transport, and starts the routing/dispatch runtime
// until it receives a termination signal.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bladerpc/blade"
	"github.com/bladerpc/blade/transport/wss"
)

// cli is the flag surface of the node binary, parsed with kong.
type cli struct {
	Config      string `help:"Path to the node's JSON(-with-comments) configuration file." required:""`
	LogFile     string `help:"Path to write rotated logs to. Empty means stderr."`
	MetricsBind string `help:"Address to serve Prometheus metrics on. Empty disables it." default:":9090"`
}

func main() {
	var c cli
	kong.Parse(&c)

	log := newLogger(c.LogFile)

	f, err := os.Open(c.Config)
	if err != nil {
		log.Error("failed to open config", "error", err)
		os.Exit(1)
	}
	defer f.Close()

	cfg, err := blade.LoadConfig(f)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	h, err := blade.NewHandle(cfg, nil, log)
	if err != nil {
		log.Error("failed to create handle", "error", err)
		os.Exit(1)
	}

	transport := wss.New(wss.Config{
		Bind:               cfg.WSS.Bind,
		CertFile:           cfg.WSS.Cert,
		KeyFile:            cfg.WSS.Key,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	}, h, log)
	h.SetTransport(transport)

	if err := h.Metrics().Register(prometheus.DefaultRegisterer); err != nil {
		log.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}
	if c.MetricsBind != "" {
		go serveMetrics(c.MetricsBind, log)
	}

	if err := h.Startup(ctx); err != nil {
		log.Error("failed to start node", "error", err)
		os.Exit(1)
	}
	log.Info("node started", "local_id", h.LocalID(), "is_master", h.IsMaster())

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
}

func newLogger(file string) *slog.Logger {
	if file == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	writer := &lumberjack.Logger{Filename: file, MaxSize: 100, MaxBackups: 5, MaxAge: 28}
	return slog.New(slog.NewJSONHandler(writer, nil))
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}
