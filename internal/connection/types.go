package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrSessionClosed = errors.New("session closed")
	ErrNoSession     = errors.New("no active session")
	ErrInvalidConfig = errors.New("invalid connection config")
)

// Defaults
const (
	DefaultTimeDelay        = 3 * time.Second
	DefaultDialTimeout      = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultKeepAlive        = 15 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReconnectBase    = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
)

// Transport selects how the line stream reaches the relay.
type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "websocket"
)

// State is the lifecycle state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Traffic directions passed to a Recorder.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Recorder receives every line written to or read from the relay.
type Recorder interface {
	Record(direction string, line []byte)
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Server           string        // Relay host
	HTTPPort         int           // Subscription endpoint port
	TCPPort          int           // Line stream port (also used for the WebSocket transport)
	Token            string        // Subscription credential
	DeviceID         int           // Local device ("from")
	PeerID           int           // Remote device ("to")
	Transport        Transport     // tcp (default) or websocket
	Tunneled         bool          // Keep-alive handled below the application
	DialTimeout      time.Duration // TCP / WebSocket dial timeout
	WriteTimeout     time.Duration // Per-write deadline
	KeepAlive        time.Duration // TCP keep-alive period / WebSocket ping period when tunneled
	HandshakeTimeout time.Duration // HTTP subscribe timeout
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Server:           "localhost",
		HTTPPort:         8080,
		TCPPort:          8000,
		Transport:        TransportTCP,
		DialTimeout:      DefaultDialTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		KeepAlive:        DefaultKeepAlive,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// KeepAliveHandled reports whether the transport keeps the link alive by itself,
// making the application heartbeat redundant.
func (c ManagerConfig) KeepAliveHandled() bool {
	return c.Tunneled || c.Transport == TransportWebSocket
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.Server == "" {
		c.Server = d.Server
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = d.HTTPPort
	}
	if c.TCPPort == 0 {
		c.TCPPort = d.TCPPort
	}
	if c.Transport == "" {
		c.Transport = d.Transport
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = d.KeepAlive
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	return c
}

// ClientConfig configures a Client.
type ClientConfig struct {
	TimeDelay time.Duration // Heartbeat interval
	Tunneled  bool          // Skip the heartbeat loop entirely
	Debug     bool          // Log every line in and out
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		TimeDelay: DefaultTimeDelay,
	}
}

// SupervisorConfig configures the reconnect Supervisor.
type SupervisorConfig struct {
	Manager           ManagerConfig
	Client            ClientConfig
	ReconnectBaseWait time.Duration // Initial wait before rebuilding a session
	ReconnectMaxWait  time.Duration // Cap on the wait between attempts
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Manager:           DefaultManagerConfig(),
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: DefaultReconnectBase,
		ReconnectMaxWait:  DefaultReconnectMax,
	}
}
