package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/iot-relay/internal/connection"
)

func TestLoad(t *testing.T) {
	yaml := `
server: relay.example.com
http_port: 9080
tcp_port: 9000
token: abc
code: 12
to: 34
time_delay: 1.5
is_tunneled: true
transport: websocket
reconnect:
  base_delay: 2s
  max_delay: 30s
archive:
  enabled: true
  database:
    host: db
    name: relay
    user: relay
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server != "relay.example.com" {
		t.Errorf("Server = %q, want %q", cfg.Server, "relay.example.com")
	}
	if cfg.HTTPPort != 9080 || cfg.TCPPort != 9000 {
		t.Errorf("ports = %d/%d, want 9080/9000", cfg.HTTPPort, cfg.TCPPort)
	}
	if cfg.Code != 12 || cfg.To != 34 {
		t.Errorf("Code/To = %d/%d, want 12/34", cfg.Code, cfg.To)
	}
	if cfg.TimeDelay != 1.5 {
		t.Errorf("TimeDelay = %v, want 1.5", cfg.TimeDelay)
	}
	if !cfg.IsTunneled {
		t.Error("IsTunneled should be true")
	}
	if cfg.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("Reconnect.BaseDelay = %v, want 2s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Archive.Database.Host != "db" {
		t.Errorf("Archive.Database.Host = %q, want db", cfg.Archive.Database.Host)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_RELAY_TOKEN", "secret123")

	yaml := `
token: ${TEST_RELAY_TOKEN}
code: 1
to: 2
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Token != "secret123" {
		t.Errorf("Token = %q, want %q", cfg.Token, "secret123")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeTempFile(t, "server: [unterminated")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("error = %v, want parse error", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "token: abc\ncode: 1\nto: 2\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Server != DefaultServer {
		t.Errorf("Server = %q, want default %q", cfg.Server, DefaultServer)
	}
	if cfg.HTTPPort != DefaultHTTPPort {
		t.Errorf("HTTPPort = %d, want default %d", cfg.HTTPPort, DefaultHTTPPort)
	}
	if cfg.TCPPort != DefaultTCPPort {
		t.Errorf("TCPPort = %d, want default %d", cfg.TCPPort, DefaultTCPPort)
	}
	if cfg.TimeDelay != DefaultTimeDelay {
		t.Errorf("TimeDelay = %v, want default %v", cfg.TimeDelay, DefaultTimeDelay)
	}
	if cfg.Transport != DefaultTransport {
		t.Errorf("Transport = %q, want default %q", cfg.Transport, DefaultTransport)
	}
	if cfg.Reconnect.MaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Reconnect.MaxDelay = %v, want default %v", cfg.Reconnect.MaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Archive.Database.Port != DefaultDBPort {
		t.Errorf("Archive.Database.Port = %d, want default %d", cfg.Archive.Database.Port, DefaultDBPort)
	}
	if cfg.Logs.Dir != DefaultLogsDir {
		t.Errorf("Logs.Dir = %q, want default %q", cfg.Logs.Dir, DefaultLogsDir)
	}
	if cfg.Health.Port != 0 {
		t.Errorf("Health.Port = %d, want 0 (disabled)", cfg.Health.Port)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "code: 1\nto: 2\n")
	_, err := LoadAndValidate(path)
	if err == nil || !strings.Contains(err.Error(), "token is required") {
		t.Errorf("error = %v, want token is required", err)
	}
}

func validConfig() Config {
	cfg := Config{Token: "abc", Code: 1, To: 2}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Token = "" },
			wantErr: "token is required",
		},
		{
			name:    "zero code",
			mutate:  func(c *Config) { c.Code = 0 },
			wantErr: "code must be >= 1, got 0",
		},
		{
			name:    "negative to",
			mutate:  func(c *Config) { c.To = -3 },
			wantErr: "to must be >= 1, got -3",
		},
		{
			name:    "bad tcp port",
			mutate:  func(c *Config) { c.TCPPort = 70000 },
			wantErr: "tcp_port must be between 1 and 65535, got 70000",
		},
		{
			name:    "negative time delay",
			mutate:  func(c *Config) { c.TimeDelay = -1 },
			wantErr: "time_delay must be > 0, got -1",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Transport = "udp" },
			wantErr: `transport must be tcp or websocket, got "udp"`,
		},
		{
			name: "reconnect max below base",
			mutate: func(c *Config) {
				c.Reconnect.BaseDelay = 10 * time.Second
				c.Reconnect.MaxDelay = time.Second
			},
			wantErr: "reconnect.max_delay (1s) cannot be less than base_delay (10s)",
		},
		{
			name:    "archive missing host",
			mutate:  func(c *Config) { c.Archive.Enabled = true },
			wantErr: "archive.database.host is required",
		},
		{
			name: "archive min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.Archive.Database = DBConfig{Host: "db", Name: "relay", User: "u", MaxConns: 2, MinConns: 5}
			},
			wantErr: "archive.database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "archive disabled skips database",
			mutate:  func(c *Config) { c.Archive.Database = DBConfig{} },
			wantErr: "",
		},
		{
			name:    "health port out of range",
			mutate:  func(c *Config) { c.Health.Port = -1 },
			wantErr: "health.port must be between 0 and 65535, got -1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestSupervisorConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server = "relay"
	cfg.TimeDelay = 0.25
	cfg.IsTunneled = true
	cfg.Debug = true
	cfg.Transport = "websocket"

	sc := cfg.SupervisorConfig()

	if sc.Manager.Server != "relay" || sc.Manager.DeviceID != 1 || sc.Manager.PeerID != 2 {
		t.Errorf("Manager = %+v", sc.Manager)
	}
	if sc.Manager.Transport != connection.TransportWebSocket {
		t.Errorf("Transport = %q, want websocket", sc.Manager.Transport)
	}
	if !sc.Manager.Tunneled || !sc.Client.Tunneled {
		t.Error("tunneled should propagate to manager and client")
	}
	if sc.Client.TimeDelay != 250*time.Millisecond {
		t.Errorf("Client.TimeDelay = %v, want 250ms", sc.Client.TimeDelay)
	}
	if !sc.Client.Debug {
		t.Error("Client.Debug should be true")
	}
	if sc.ReconnectBaseWait != DefaultReconnectBaseDelay || sc.ReconnectMaxWait != DefaultReconnectMaxDelay {
		t.Errorf("reconnect = %v/%v", sc.ReconnectBaseWait, sc.ReconnectMaxWait)
	}
	if sc.Manager.DialTimeout != connection.DefaultDialTimeout {
		t.Errorf("DialTimeout = %v, want %v", sc.Manager.DialTimeout, connection.DefaultDialTimeout)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
