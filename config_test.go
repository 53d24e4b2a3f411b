package blade

import (
	"strings"
	"testing"
	"time"
)

const testConfigDoc = `{
	// fabric identity
	"master": {
		"nodeid": "m",
		"realms": ["r", "ops"]
	},
	/* transport */
	"wss": {"bind": ":8443", "cert": "node.crt", "key": "node.key"},
	"rate_limit": {"requests_per_second": 50, "burst": 10},
	"reconnect": {"min_backoff_ms": 250, "max_backoff_ms": 5000}
}`

func TestLoadConfigStripsComments(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(testConfigDoc))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.IsMaster() {
		t.Error("IsMaster = false; want true")
	}
	if cfg.Master.NodeId != "m" {
		t.Errorf("master.nodeid = %q; want m", cfg.Master.NodeId)
	}
	if len(cfg.Master.Realms) != 2 || cfg.Master.Realms[0] != "r" {
		t.Errorf("master.realms = %v; want [r ops]", cfg.Master.Realms)
	}
	if cfg.WSS.Bind != ":8443" {
		t.Errorf("wss.bind = %q; want :8443", cfg.WSS.Bind)
	}
	if cfg.RateLimit.RequestsPerSecond != 50 || cfg.RateLimit.Burst != 10 {
		t.Errorf("rate_limit = %+v", cfg.RateLimit)
	}
	if got := cfg.reconnectPolicy(); got.MinBackoff != 250*time.Millisecond || got.MaxBackoff != 5*time.Second {
		t.Errorf("reconnect policy = %+v", got)
	}
}

func TestLoadConfigRejectsMalformedDocument(t *testing.T) {
	_, err := LoadConfig(strings.NewReader(`{"master": [`))
	if err == nil {
		t.Fatal("LoadConfig accepted a malformed document")
	}
	if be, ok := AsError(err); !ok || be.Code != CodeArgumentInvalid {
		t.Errorf("error = %v; want CodeArgumentInvalid", err)
	}
}

func TestConfigIsMasterRequiresNodeId(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`{"node_id": "c1"}`))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IsMaster() {
		t.Error("IsMaster = true for a node with no master.nodeid")
	}
}
