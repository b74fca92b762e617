// Package config loads CLASP router configuration from environment
// variables and an optional config file, grounded on the teacher's
// go-server-3/internal/config/config.go viper setup.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for a CLASP router process.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Transport     TransportConfig     `mapstructure:"transport"`
	State         StateConfig         `mapstructure:"state"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions"`
	Federation    FederationConfig    `mapstructure:"federation"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Journal       JournalConfig       `mapstructure:"journal"`
	Guard         GuardConfig         `mapstructure:"guard"`
}

// ServerConfig contains network level settings for the listener(s).
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RouterName   string        `mapstructure:"router_name"`
}

// TransportConfig selects and tunes the wire transport(s) accepted, per
// spec.md §3's WebSocket-JSON/WebSocket-binary/raw-TCP framing options.
type TransportConfig struct {
	WebSocketPath      string `mapstructure:"websocket_path"`
	WebSocketBinary    bool   `mapstructure:"websocket_binary"`
	RawTCPAddr         string `mapstructure:"raw_tcp_addr"`
	ReadBufferSize     int    `mapstructure:"read_buffer_size"`
	WriteBufferSize    int    `mapstructure:"write_buffer_size"`
	SendChannelSize    int    `mapstructure:"send_channel_size"`
	EnableCompression  bool   `mapstructure:"enable_compression"`
}

// StateConfig tunes the sharded parameter state store.
type StateConfig struct {
	ShardCount int `mapstructure:"shard_count"`
}

// SubscriptionsConfig tunes the sharded subscription index and per-session
// caps from spec.md §5.
type SubscriptionsConfig struct {
	ShardCount                 int `mapstructure:"shard_count"`
	MaxSubscriptionsPerSession int `mapstructure:"max_per_session"`
}

// FederationConfig tunes the federation link limits of spec.md §7.
type FederationConfig struct {
	MaxPatterns            int    `mapstructure:"max_patterns"`
	MaxRevisionVectorEntries int  `mapstructure:"max_revision_vector_entries"`
	LocalNamespaces        []string `mapstructure:"local_namespaces"`
}

// AuthConfig points at the token stores backing the auth chain.
type AuthConfig struct {
	CPSKTokensPath  string `mapstructure:"cpsk_tokens_path"`
	EntityTrustRoot string `mapstructure:"entity_trust_root"`
	RequireAuth     bool   `mapstructure:"require_auth"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ListenAddr  string `mapstructure:"listen_addr"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// JournalConfig points at the NATS JetStream deployment backing REPLAY.
type JournalConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

// GuardConfig mirrors telemetry.GuardConfig for config-file exposure.
type GuardConfig struct {
	MaxSessions         int     `mapstructure:"max_sessions"`
	MaxSetsPerSec       int     `mapstructure:"max_sets_per_sec"`
	MaxSubscribesPerSec int     `mapstructure:"max_subscribes_per_sec"`
	CPURejectThreshold  float64 `mapstructure:"cpu_reject_threshold"`
	CPUPauseThreshold   float64 `mapstructure:"cpu_pause_threshold"`
	SampleInterval      time.Duration `mapstructure:"sample_interval"`
}

// Load reads configuration from environment variables (CLASP_ prefixed)
// and an optional clasp.yaml/clasp.json config file, falling back to the
// defaults below when neither supplies a value.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 90*time.Second)
	v.SetDefault("server.router_name", "clasp-router")

	v.SetDefault("transport.websocket_path", "/clasp")
	v.SetDefault("transport.websocket_binary", true)
	v.SetDefault("transport.raw_tcp_addr", "")
	v.SetDefault("transport.read_buffer_size", 16<<10)
	v.SetDefault("transport.write_buffer_size", 16<<10)
	v.SetDefault("transport.send_channel_size", 256)
	v.SetDefault("transport.enable_compression", false)

	v.SetDefault("state.shard_count", 64)

	v.SetDefault("subscriptions.shard_count", 64)
	v.SetDefault("subscriptions.max_per_session", 1000)

	v.SetDefault("federation.max_patterns", 1000)
	v.SetDefault("federation.max_revision_vector_entries", 10000)
	v.SetDefault("federation.local_namespaces", []string{})

	v.SetDefault("auth.cpsk_tokens_path", "")
	v.SetDefault("auth.entity_trust_root", "")
	v.SetDefault("auth.require_auth", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9001")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.service_name", "clasp-router")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.url", "nats://127.0.0.1:4222")
	v.SetDefault("journal.stream_name", "CLASP_JOURNAL")

	v.SetDefault("guard.max_sessions", 100000)
	v.SetDefault("guard.max_sets_per_sec", 50000)
	v.SetDefault("guard.max_subscribes_per_sec", 5000)
	v.SetDefault("guard.cpu_reject_threshold", 90.0)
	v.SetDefault("guard.cpu_pause_threshold", 80.0)
	v.SetDefault("guard.sample_interval", 2*time.Second)

	v.SetConfigName("clasp")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("CLASP")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.State.ShardCount <= 0 {
		cfg.State.ShardCount = 64
	}
	if cfg.Subscriptions.ShardCount <= 0 {
		cfg.Subscriptions.ShardCount = 64
	}
	if cfg.Transport.SendChannelSize <= 0 {
		cfg.Transport.SendChannelSize = 256
	}

	return cfg, nil
}
