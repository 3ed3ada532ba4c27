package config

import (
	"os"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DXPROXY_CALLSIGN", "DXPROXY_PORT", "DXPROXY_LOG_LEVEL", "DXPROXY_LOG_JSON",
		"DXPROXY_NODES", "DXPROXY_HISTORY_COMMAND", "DXPROXY_HISTORY_COUNT",
		"DXPROXY_SUBSCRIBE_COMMAND", "DXPROXY_RECONNECT_DELAY", "DXPROXY_MAX_ATTEMPTS",
		"DXPROXY_DIAL_TIMEOUT", "DXPROXY_IDLE_TIMEOUT", "DXPROXY_KEEPALIVE_INTERVAL",
		"DXPROXY_RETENTION", "DXPROXY_CLEANUP_INTERVAL", "DXPROXY_STATS_INTERVAL",
		"DXPROXY_NATS_URL", "DXPROXY_REDIS_ADDR", "DXPROXY_DB_CONN_STR", "DXPROXY_RAW_LOG_DIR",
		"CALLSIGN", "PORT", "LOG_LEVEL",
	} {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config.Callsign != "N0CALL" {
		t.Errorf("Expected default Callsign = N0CALL, got %s", config.Callsign)
	}
	if config.Port != 3001 {
		t.Errorf("Expected default Port = 3001, got %d", config.Port)
	}
	if config.ReconnectDelay != 10*time.Second {
		t.Errorf("Expected default ReconnectDelay = 10s, got %s", config.ReconnectDelay)
	}
	if config.MaxAttempts != 3 {
		t.Errorf("Expected default MaxAttempts = 3, got %d", config.MaxAttempts)
	}
	if config.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default IdleTimeout = 60s, got %s", config.IdleTimeout)
	}
	if config.KeepaliveInterval != 120*time.Second {
		t.Errorf("Expected default KeepaliveInterval = 120s, got %s", config.KeepaliveInterval)
	}
	if config.Retention != 30*time.Minute {
		t.Errorf("Expected default Retention = 30m, got %s", config.Retention)
	}
	if config.HistoryCommand != "sh/dx" || config.HistoryCount != 30 {
		t.Errorf("Expected default history command sh/dx 30, got %s %d", config.HistoryCommand, config.HistoryCount)
	}
	if config.SubscribeCommand != "set/dx" {
		t.Errorf("Expected default SubscribeCommand = set/dx, got %s", config.SubscribeCommand)
	}
	if config.Nodes != nil {
		t.Errorf("Expected no configured nodes, got %v", config.Nodes)
	}
	if config.NATSURL != "" || config.RedisAddr != "" || config.DBConnStr != "" || config.RawLogDir != "" {
		t.Error("Expected all sinks to be disabled by default")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DXPROXY_CALLSIGN", "w1aw")
	t.Setenv("DXPROXY_PORT", "8080")
	t.Setenv("DXPROXY_RECONNECT_DELAY", "2s")
	t.Setenv("DXPROXY_RETENTION", "15m")
	t.Setenv("DXPROXY_NODES", "a.example.org:7300:Alpha, b.example.org:7373")
	t.Setenv("DXPROXY_NATS_URL", "nats://localhost:4222")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config.Callsign != "W1AW" {
		t.Errorf("Expected Callsign = W1AW, got %s", config.Callsign)
	}
	if config.Port != 8080 {
		t.Errorf("Expected Port = 8080, got %d", config.Port)
	}
	if config.ReconnectDelay != 2*time.Second {
		t.Errorf("Expected ReconnectDelay = 2s, got %s", config.ReconnectDelay)
	}
	if config.Retention != 15*time.Minute {
		t.Errorf("Expected Retention = 15m, got %s", config.Retention)
	}
	if len(config.Nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(config.Nodes))
	}
	if config.Nodes[0].Label != "Alpha" || config.Nodes[1].Label != "b.example.org" {
		t.Errorf("Unexpected node labels: %+v", config.Nodes)
	}
	if config.NATSURL != "nats://localhost:4222" {
		t.Errorf("Expected NATSURL = nats://localhost:4222, got %s", config.NATSURL)
	}
}

func TestLoad_LegacyVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLSIGN", "k1abc")
	t.Setenv("PORT", "9000")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if config.Callsign != "K1ABC" {
		t.Errorf("Expected Callsign = K1ABC, got %s", config.Callsign)
	}
	if config.Port != 9000 {
		t.Errorf("Expected Port = 9000, got %d", config.Port)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "port out of range", key: "DXPROXY_PORT", value: "70000"},
		{name: "zero attempts", key: "DXPROXY_MAX_ATTEMPTS", value: "0"},
		{name: "negative retention", key: "DXPROXY_RETENTION", value: "-1m"},
		{name: "bad node", key: "DXPROXY_NODES", value: "missing-port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			config, err := Load()
			if err == nil {
				t.Errorf("Load() should fail for %s=%s, got %+v", tt.key, tt.value, config)
			}
		})
	}
}

func TestParseNodes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCount int
		wantErr   bool
	}{
		{name: "empty", raw: "", wantCount: 0},
		{name: "single with label", raw: "dxc.nc7j.com:7373:NC7J", wantCount: 1},
		{name: "trailing comma", raw: "a:1,b:2,", wantCount: 2},
		{name: "non numeric port", raw: "a:port", wantErr: true},
		{name: "zero port", raw: "a:0", wantErr: true},
		{name: "missing host", raw: ":7300", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := ParseNodes(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseNodes(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseNodes(%q) unexpected error: %v", tt.raw, err)
			}
			if len(nodes) != tt.wantCount {
				t.Errorf("ParseNodes(%q) returned %d nodes, want %d", tt.raw, len(nodes), tt.wantCount)
			}
		})
	}
}
