package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rickgao/iot-relay/internal/handshake"
	"github.com/rickgao/iot-relay/internal/metrics"
	"github.com/rickgao/iot-relay/internal/model"
)

// Supervisor keeps a Client alive for one device pair. When a session ends
// it discards the Client and builds a new one; listeners and counters are
// shared across every Client it creates.
type Supervisor struct {
	cfg       SupervisorConfig
	manager   *Manager
	logger    *slog.Logger
	listeners *Listeners
	counters  *metrics.Counters
	opts      []ClientOption

	mu         sync.RWMutex
	current    *Client // nil when no session is active
	generation int
	closed     bool

	terminated chan struct{}
	termOnce   sync.Once
}

// NewSupervisor creates a Supervisor. opts are applied to every Client it
// builds; listeners and counters passed through opts are replaced by the
// Supervisor's own. WithOnReceive handlers join the shared set while a
// session is active.
func NewSupervisor(cfg SupervisorConfig, logger *slog.Logger, opts ...ClientOption) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = DefaultReconnectBase
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = DefaultReconnectMax
	}
	if cfg.ReconnectMaxWait < cfg.ReconnectBaseWait {
		cfg.ReconnectMaxWait = cfg.ReconnectBaseWait
	}

	return &Supervisor{
		cfg:        cfg,
		manager:    NewManager(cfg.Manager, logger),
		logger:     logger,
		listeners:  NewListeners(),
		counters:   metrics.New(),
		opts:       opts,
		terminated: make(chan struct{}),
	}
}

// Listeners returns the handler set shared by every session.
func (s *Supervisor) Listeners() *Listeners {
	return s.listeners
}

// Counters returns traffic counters aggregated across sessions.
func (s *Supervisor) Counters() *metrics.Counters {
	return s.counters
}

// Current returns the active Client, or nil between sessions.
func (s *Supervisor) Current() *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Generation returns how many Clients have been built.
func (s *Supervisor) Generation() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// IsConnected reports whether an active Client is connected.
func (s *Supervisor) IsConnected() bool {
	c := s.Current()
	return c != nil && c.IsConnected()
}

// Send delegates to the active Client. Returns ErrNoSession between sessions.
func (s *Supervisor) Send(msg model.Message) error {
	s.mu.RLock()
	closed, c := s.closed, s.current
	s.mu.RUnlock()

	if closed {
		return ErrAlreadyClosed
	}
	if c == nil {
		return ErrNoSession
	}
	return c.Send(msg)
}

// Terminate closes the active Client and stops reconnecting. Safe to call
// more than once.
func (s *Supervisor) Terminate() {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		c := s.current
		s.mu.Unlock()

		close(s.terminated)
		if c != nil {
			c.Close()
		}
		s.logger.Info("supervisor terminated")
	})
}

// Run builds sessions until Terminate is called or ctx is cancelled.
// Returns nil after Terminate and ctx.Err() on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.cfg.ReconnectBaseWait
	retry.MaxInterval = s.cfg.ReconnectMaxWait
	retry.Reset()

	// Terminate aborts a handshake in flight.
	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.terminated:
			cancel()
		case <-buildCtx.Done():
		}
	}()

	for {
		if s.isTerminated() {
			return nil
		}

		client, err := s.build(buildCtx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.isTerminated() {
				return nil
			}
			s.counters.HandshakeFailures.Add(1)
			wait := retry.NextBackOff()
			if handshake.IsRecoverable(err) {
				s.logger.Info("relay has no subscription yet, retrying", "wait", wait)
			} else {
				s.logger.Error("session build failed", "error", err, "wait", wait)
			}
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		retry.Reset()

		if !s.install(client) {
			// Terminated while the handshake was in flight.
			client.Close()
			return nil
		}

		select {
		case <-client.Done():
		case <-s.terminated:
		case <-ctx.Done():
		}

		s.clear(client)
		client.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isTerminated() {
			return nil
		}

		wait := retry.NextBackOff()
		s.logger.Info("session ended, rebuilding", "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// build creates one Client sharing the Supervisor's listeners and counters.
func (s *Supervisor) build(ctx context.Context) (*Client, error) {
	opts := make([]ClientOption, 0, len(s.opts)+3)
	opts = append(opts, WithLogger(s.logger))
	opts = append(opts, s.opts...)
	opts = append(opts,
		WithListeners(s.listeners),
		WithCounters(s.counters),
	)
	return NewClient(ctx, s.manager, s.cfg.Client, opts...)
}

// install makes c the active Client. Returns false if terminated.
func (s *Supervisor) install(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.current = c
	s.generation++
	s.logger.Info("session active", "generation", s.generation)
	return true
}

func (s *Supervisor) clear(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == c {
		s.current = nil
	}
}

func (s *Supervisor) isTerminated() bool {
	select {
	case <-s.terminated:
		return true
	default:
		return false
	}
}

// sleep waits d. Returns ctx.Err() on cancellation, nil otherwise.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-s.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
