package config

import (
	"os"
	"path/filepath"
	"testing"
)

// missingEnv points godotenv at a file that does not exist so tests never
// pick up a developer's .env.
func missingEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "none.env")
}

func boolPtr(v bool) *bool { return &v }

func TestParseOptions_Flags(t *testing.T) {
	opts, err := ParseOptions([]string{
		"--server", "relay.local",
		"--http-port", "9080",
		"--token", "abc",
		"--code", "3",
		"--to", "4",
		"--time-delay", "0.5",
		"--tunneled",
		"--transport", "websocket",
	}, missingEnv(t))
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}

	if opts.Server != "relay.local" || opts.HTTPPort != 9080 {
		t.Errorf("Server/HTTPPort = %q/%d", opts.Server, opts.HTTPPort)
	}
	if opts.Code != 3 || opts.To != 4 {
		t.Errorf("Code/To = %d/%d, want 3/4", opts.Code, opts.To)
	}
	if opts.TimeDelay != 0.5 {
		t.Errorf("TimeDelay = %v, want 0.5", opts.TimeDelay)
	}
	if opts.Tunneled == nil || !*opts.Tunneled {
		t.Errorf("Tunneled = %v, want true", opts.Tunneled)
	}
	if opts.Debug != nil {
		t.Errorf("Debug = %v, want unset", *opts.Debug)
	}
	if opts.Transport != "websocket" {
		t.Errorf("Transport = %q, want websocket", opts.Transport)
	}
}

func TestParseOptions_Env(t *testing.T) {
	t.Setenv("IOT_TOKEN", "from-env")
	t.Setenv("IOT_CODE", "7")
	t.Setenv("IOT_DEBUG", "true")

	opts, err := ParseOptions(nil, missingEnv(t))
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if opts.Token != "from-env" || opts.Code != 7 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Debug == nil || !*opts.Debug {
		t.Errorf("Debug = %v, want true", opts.Debug)
	}
}

func TestParseOptions_EnvFalse(t *testing.T) {
	t.Setenv("IOT_SAVE_LOGS", "false")

	opts, err := ParseOptions(nil, missingEnv(t))
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if opts.SaveLogs == nil || *opts.SaveLogs {
		t.Errorf("SaveLogs = %v, want explicit false", opts.SaveLogs)
	}
}

func TestParseOptions_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("IOT_TO=42\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// godotenv never overrides existing variables; register cleanup first.
	t.Setenv("IOT_TO", "")
	os.Unsetenv("IOT_TO")

	opts, err := ParseOptions(nil, path)
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if opts.To != 42 {
		t.Errorf("To = %d, want 42", opts.To)
	}
}

func TestParseOptions_InvalidTransport(t *testing.T) {
	if _, err := ParseOptions([]string{"--transport", "udp"}, missingEnv(t)); err == nil {
		t.Error("expected error for unknown transport choice")
	}
}

func TestResolve(t *testing.T) {
	path := writeTempFile(t, `
server: file-host
token: file-token
code: 1
to: 2
debug: true
`)

	cfg, err := Resolve(Options{
		Config: path,
		Server: "flag-host",
		To:     9,
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if cfg.Server != "flag-host" {
		t.Errorf("Server = %q, want flag override", cfg.Server)
	}
	if cfg.Token != "file-token" {
		t.Errorf("Token = %q, want file value", cfg.Token)
	}
	if cfg.To != 9 {
		t.Errorf("To = %d, want 9", cfg.To)
	}
	if !cfg.Debug {
		t.Error("Debug from file should survive an unset flag")
	}
	if cfg.TCPPort != DefaultTCPPort {
		t.Errorf("TCPPort = %d, want default", cfg.TCPPort)
	}
}

func TestResolve_NoFile(t *testing.T) {
	cfg, err := Resolve(Options{Token: "t", Code: 1, To: 2, SaveLogs: boolPtr(true)})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !cfg.SaveLogs || cfg.Logs.Dir != DefaultLogsDir {
		t.Errorf("SaveLogs/Logs.Dir = %v/%q", cfg.SaveLogs, cfg.Logs.Dir)
	}

	if _, err := Resolve(Options{Code: 1, To: 2}); err == nil {
		t.Error("expected validation error without token")
	}
	if _, err := Resolve(Options{Config: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestResolve_SwitchOverrides(t *testing.T) {
	path := writeTempFile(t, `
token: file-token
code: 1
to: 2
debug: true
is_tunneled: true
save_logs: false
`)

	tests := []struct {
		name                      string
		opts                      Options
		debug, tunneled, saveLogs bool
	}{
		{"unset keeps file", Options{}, true, true, false},
		{"explicit false turns off", Options{Debug: boolPtr(false), Tunneled: boolPtr(false)}, false, false, false},
		{"explicit true turns on", Options{SaveLogs: boolPtr(true)}, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Config = path
			cfg, err := Resolve(tt.opts)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if cfg.Debug != tt.debug || cfg.IsTunneled != tt.tunneled || cfg.SaveLogs != tt.saveLogs {
				t.Errorf("Debug/IsTunneled/SaveLogs = %v/%v/%v, want %v/%v/%v",
					cfg.Debug, cfg.IsTunneled, cfg.SaveLogs, tt.debug, tt.tunneled, tt.saveLogs)
			}
		})
	}
}
