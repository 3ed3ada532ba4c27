package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

const (
	defaultCallsign          = "N0CALL"
	defaultPort              = 3001
	defaultLogLevel          = "info"
	defaultHistoryCommand    = "sh/dx"
	defaultHistoryCount      = 30
	defaultSubscribeCommand  = "set/dx"
	defaultReconnectDelay    = 10 * time.Second
	defaultMaxAttempts       = 3
	defaultDialTimeout       = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultKeepaliveInterval = 120 * time.Second
	defaultRetention         = 30 * time.Minute
	defaultCleanupInterval   = 60 * time.Second
	defaultStatsInterval     = 5 * time.Minute
)

// Config holds the application configuration
type Config struct {
	Callsign          string        `mapstructure:"callsign"`
	Port              int           `mapstructure:"port"`
	LogLevel          string        `mapstructure:"log-level"`
	LogJSON           bool          `mapstructure:"log-json"`
	RawNodes          string        `mapstructure:"nodes"`
	HistoryCommand    string        `mapstructure:"history-command"`
	HistoryCount      int           `mapstructure:"history-count"`
	SubscribeCommand  string        `mapstructure:"subscribe-command"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect-delay"`
	MaxAttempts       int           `mapstructure:"max-attempts"`
	DialTimeout       time.Duration `mapstructure:"dial-timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle-timeout"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive-interval"`
	Retention         time.Duration `mapstructure:"retention"`
	CleanupInterval   time.Duration `mapstructure:"cleanup-interval"`
	StatsInterval     time.Duration `mapstructure:"stats-interval"`
	NATSURL           string        `mapstructure:"nats-url"`
	RedisAddr         string        `mapstructure:"redis-addr"`
	DBConnStr         string        `mapstructure:"db-conn-str"`
	RawLogDir         string        `mapstructure:"raw-log-dir"`

	// Nodes is parsed from RawNodes; empty means the built-in registry
	Nodes []types.Node `mapstructure:"-"`
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DXPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("callsign", defaultCallsign)
	v.SetDefault("port", defaultPort)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-json", true)
	v.SetDefault("nodes", "")
	v.SetDefault("history-command", defaultHistoryCommand)
	v.SetDefault("history-count", defaultHistoryCount)
	v.SetDefault("subscribe-command", defaultSubscribeCommand)
	v.SetDefault("reconnect-delay", defaultReconnectDelay)
	v.SetDefault("max-attempts", defaultMaxAttempts)
	v.SetDefault("dial-timeout", defaultDialTimeout)
	v.SetDefault("idle-timeout", defaultIdleTimeout)
	v.SetDefault("keepalive-interval", defaultKeepaliveInterval)
	v.SetDefault("retention", defaultRetention)
	v.SetDefault("cleanup-interval", defaultCleanupInterval)
	v.SetDefault("stats-interval", defaultStatsInterval)
	v.SetDefault("nats-url", "")
	v.SetDefault("redis-addr", "")
	v.SetDefault("db-conn-str", "")
	v.SetDefault("raw-log-dir", "")

	// Unprefixed names kept for deployments that predate the prefix
	for key, legacy := range map[string]string{
		"callsign":  "CALLSIGN",
		"port":      "PORT",
		"log-level": "LOG_LEVEL",
	} {
		if err := v.BindEnv(key, "DXPROXY_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.Callsign = strings.ToUpper(strings.TrimSpace(cfg.Callsign))

	nodes, err := ParseNodes(cfg.RawNodes)
	if err != nil {
		return nil, err
	}
	cfg.Nodes = nodes

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks ranges that would otherwise surface as runtime misbehaviour
func (c *Config) Validate() error {
	if c.Callsign == "" {
		return fmt.Errorf("callsign must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max-attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.HistoryCount < 0 {
		return fmt.Errorf("history-count must not be negative, got %d", c.HistoryCount)
	}

	durations := map[string]time.Duration{
		"reconnect-delay":    c.ReconnectDelay,
		"dial-timeout":       c.DialTimeout,
		"idle-timeout":       c.IdleTimeout,
		"keepalive-interval": c.KeepaliveInterval,
		"retention":          c.Retention,
		"cleanup-interval":   c.CleanupInterval,
		"stats-interval":     c.StatsInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	return nil
}

// ParseNodes parses a comma separated list of host:port[:label] entries
func ParseNodes(raw string) ([]types.Node, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var nodes []types.Node
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid node %q: expected host:port[:label]", entry)
		}

		port, err := strconv.Atoi(parts[1])
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid node %q: bad port %q", entry, parts[1])
		}

		label := parts[0]
		if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
			label = strings.TrimSpace(parts[2])
		}

		nodes = append(nodes, types.Node{Host: parts[0], Port: port, Label: label})
	}

	return nodes, nil
}
