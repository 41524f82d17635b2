package config

import (
	"time"

	"github.com/rickgao/iot-relay/internal/connection"
)

// Config is the root configuration for a device client.
type Config struct {
	Server     string  `yaml:"server"`
	HTTPPort   int     `yaml:"http_port"`
	TCPPort    int     `yaml:"tcp_port"`
	Token      string  `yaml:"token"`
	Code       int     `yaml:"code"`       // Local device id ("from")
	To         int     `yaml:"to"`         // Peer device id
	TimeDelay  float64 `yaml:"time_delay"` // Heartbeat interval in seconds
	Debug      bool    `yaml:"debug"`
	IsTunneled bool    `yaml:"is_tunneled"`
	SaveLogs   bool    `yaml:"save_logs"`
	Transport  string  `yaml:"transport"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logs      LogsConfig      `yaml:"logs"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Health    HealthConfig    `yaml:"health"`
}

// ReconnectConfig bounds the wait between session rebuilds.
type ReconnectConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// LogsConfig controls where save_logs writes.
type LogsConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"` // Rotate once a file grows past this
}

// ArchiveConfig holds the optional received-message archive.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the local status endpoint. Port 0 disables it.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// HeartbeatInterval returns TimeDelay as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.TimeDelay * float64(time.Second))
}

// ManagerConfig maps the file settings onto the connection layer.
func (c *Config) ManagerConfig() connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.Server = c.Server
	cfg.HTTPPort = c.HTTPPort
	cfg.TCPPort = c.TCPPort
	cfg.Token = c.Token
	cfg.DeviceID = c.Code
	cfg.PeerID = c.To
	cfg.Transport = connection.Transport(c.Transport)
	cfg.Tunneled = c.IsTunneled
	return cfg
}

// SupervisorConfig builds the reconnect supervisor settings.
func (c *Config) SupervisorConfig() connection.SupervisorConfig {
	return connection.SupervisorConfig{
		Manager: c.ManagerConfig(),
		Client: connection.ClientConfig{
			TimeDelay: c.HeartbeatInterval(),
			Tunneled:  c.IsTunneled,
			Debug:     c.Debug,
		},
		ReconnectBaseWait: c.Reconnect.BaseDelay,
		ReconnectMaxWait:  c.Reconnect.MaxDelay,
	}
}
