package blade

import (
	"encoding/json"
	"io"
	"time"

	jcr "github.com/tinode/jsonco"
)

// Config is the nested configuration document a node loads at startup.
// Parsed with github.com/tinode/jsonco: JSON with // and /* */ comments
// stripped before unmarshal, so deployment configs can be annotated.
type Config struct {
	Listen string `json:"listen"`
	NodeId string `json:"node_id"`

	Upstream struct {
		Address string `json:"address"`
		Realm   string `json:"realm"`
	} `json:"upstream"`

	Master struct {
		NodeId string   `json:"nodeid"`
		Realms []string `json:"realms"`
	} `json:"master"`

	WSS struct {
		Bind string `json:"bind"`
		Cert string `json:"cert"`
		Key  string `json:"key"`
	} `json:"wss"`

	TLS struct {
		InsecureSkipVerify bool `json:"insecure_skip_verify"`
	} `json:"tls"`

	RateLimit struct {
		RequestsPerSecond float64 `json:"requests_per_second"`
		Burst             int     `json:"burst"`
	} `json:"rate_limit"`

	Pool struct {
		MaxConcurrentDispatch int64 `json:"max_concurrent_dispatch"`
	} `json:"pool"`

	Reconnect struct {
		MinBackoffMs int `json:"min_backoff_ms"`
		MaxBackoffMs int `json:"max_backoff_ms"`
	} `json:"reconnect"`

	Log struct {
		Level     string `json:"level"`
		File      string `json:"file"`
		MaxSizeMB int    `json:"max_size_mb"`
	} `json:"log"`
}

// LoadConfig decodes a JSON-with-comments document from r, stripping //
// and /* */ comments before handing the result to encoding/json.
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := json.NewDecoder(jcr.New(r)).Decode(&cfg); err != nil {
		return nil, WrapError(CodeArgumentInvalid, err, "decode configuration")
	}
	return &cfg, nil
}

// IsMaster reports whether this configuration designates the local node
// as the fabric's Master.
func (c *Config) IsMaster() bool { return c.Master.NodeId != "" }

func (c *Config) reconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MinBackoff: time.Duration(c.Reconnect.MinBackoffMs) * time.Millisecond,
		MaxBackoff: time.Duration(c.Reconnect.MaxBackoffMs) * time.Millisecond,
	}
}

func (c *Config) rateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{RequestsPerSecond: c.RateLimit.RequestsPerSecond, Burst: c.RateLimit.Burst}
}
