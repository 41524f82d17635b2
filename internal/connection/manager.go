package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/rickgao/iot-relay/internal/handshake"
)

// Manager establishes and re-establishes relay Sessions for one device pair.
type Manager struct {
	cfg       ManagerConfig
	handshake *handshake.Client
	logger    *slog.Logger
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &Manager{
		cfg: cfg,
		handshake: handshake.NewClient(
			handshake.BaseURL(cfg.Server, cfg.HTTPPort),
			handshake.WithTimeout(cfg.HandshakeTimeout),
			handshake.WithLogger(logger),
		),
		logger: logger,
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	return m.cfg
}

// Establish performs the subscription handshake and opens the socket.
//
// A 404 from the relay is returned as a recoverable error (handshake.IsRecoverable);
// 409 and other statuses are fatal. No socket is opened unless the relay answers 201.
func (m *Manager) Establish(ctx context.Context) (*Session, error) {
	conn, err := m.open(ctx)
	if err != nil {
		return nil, err
	}

	m.logger.Info("session established",
		"from", m.cfg.DeviceID,
		"to", m.cfg.PeerID,
		"transport", m.cfg.Transport,
	)
	return newSession(m.cfg, conn), nil
}

// Reestablish replaces the socket held by s. Returns false without error when
// the relay answers 404, and an error on fatal failures.
func (m *Manager) Reestablish(ctx context.Context, s *Session) (bool, error) {
	if s.IsClosed() {
		return false, ErrSessionClosed
	}
	s.disconnect()

	conn, err := m.open(ctx)
	if err != nil {
		if handshake.IsRecoverable(err) {
			m.logger.Info("subscription not available", "from", m.cfg.DeviceID, "to", m.cfg.PeerID)
			return false, nil
		}
		return false, err
	}

	if !s.attach(conn) {
		conn.Close()
		return false, ErrSessionClosed
	}

	m.logger.Info("session reestablished", "from", m.cfg.DeviceID, "to", m.cfg.PeerID)
	return true, nil
}

// open runs the handshake, dials, and presents the blob.
func (m *Manager) open(ctx context.Context) (lineConn, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	blob, err := m.handshake.Subscribe(ctx, m.cfg.Token, m.cfg.DeviceID, m.cfg.PeerID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	// The blob is opaque; an empty one means there is nothing to present.
	if len(blob) > 0 {
		if err := conn.Write(blob); err != nil {
			conn.Close()
			return nil, fmt.Errorf("send handshake: %w", err)
		}
	}

	return conn, nil
}

func (m *Manager) dial(ctx context.Context) (lineConn, error) {
	switch m.cfg.Transport {
	case TransportWebSocket:
		return dialWebSocket(ctx, wsURL(m.cfg.Server, m.cfg.TCPPort), m.cfg)
	default:
		addr := net.JoinHostPort(m.cfg.Server, strconv.Itoa(m.cfg.TCPPort))
		return dialTCP(ctx, addr, m.cfg)
	}
}

func (m *Manager) validate() error {
	if m.cfg.DeviceID <= 0 {
		return fmt.Errorf("%w: device id must be positive, got %d", ErrInvalidConfig, m.cfg.DeviceID)
	}
	if m.cfg.PeerID <= 0 {
		return fmt.Errorf("%w: peer id must be positive, got %d", ErrInvalidConfig, m.cfg.PeerID)
	}
	if m.cfg.Token == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	switch m.cfg.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, m.cfg.Transport)
	}
	return nil
}
