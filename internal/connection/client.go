package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/iot-relay/internal/metrics"
	"github.com/rickgao/iot-relay/internal/model"
)

// Client runs the message protocol over one Session: a heartbeat writer and
// a read loop that acks every object before dispatching it.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	session   *Session
	listeners *Listeners
	recorder  Recorder
	counters  *metrics.Counters
	onClose   func()

	// Handlers from WithOnReceive, registered once options are applied and
	// removed when the loops exit so a shared set never accumulates them.
	onReceive  []Handler
	unregister []func()

	// State
	mu    sync.RWMutex
	state State

	// Goroutine coordination
	stop     chan struct{} // closed on disconnect or Close
	stopOnce sync.Once
	finished chan struct{} // closed when both loops have exited
	wg       sync.WaitGroup
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithListeners shares an existing listener set.
func WithListeners(l *Listeners) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.listeners = l
		}
	}
}

// WithOnReceive registers a receive handler for the life of the Client.
// It lands in whichever listener set is in effect after all options apply.
func WithOnReceive(fn Handler) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.onReceive = append(c.onReceive, fn)
		}
	}
}

// WithOnClose sets a callback invoked once by Close.
func WithOnClose(fn func()) ClientOption {
	return func(c *Client) {
		c.onClose = fn
	}
}

// WithRecorder records every line in and out.
func WithRecorder(r Recorder) ClientOption {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithCounters shares traffic counters.
func WithCounters(m *metrics.Counters) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.counters = m
		}
	}
}

// NewClient establishes a Session through mgr and starts the protocol loops.
// If the handshake or dial fails the error is returned and no Client exists.
func NewClient(ctx context.Context, mgr *Manager, cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if cfg.TimeDelay <= 0 {
		cfg.TimeDelay = DefaultTimeDelay
	}
	if mgr.Config().KeepAliveHandled() {
		cfg.Tunneled = true
	}

	c := &Client{
		cfg:       cfg,
		logger:    slog.Default(),
		listeners: NewListeners(),
		counters:  metrics.New(),
		state:     StateDisconnected,
		stop:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.setState(StateConnecting)
	session, err := mgr.Establish(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return nil, err
	}

	c.session = session
	for _, fn := range c.onReceive {
		c.unregister = append(c.unregister, c.listeners.Add(fn))
	}
	c.setState(StateConnected)
	c.counters.SessionsStarted.Add(1)

	c.wg.Add(1)
	go c.readLoop()

	if !c.cfg.Tunneled {
		c.wg.Add(1)
		go c.heartbeatLoop()
	}

	go func() {
		c.wg.Wait()
		for _, remove := range c.unregister {
			remove()
		}
		close(c.finished)
	}()

	c.logger.Debug("client started",
		"heartbeat", !c.cfg.Tunneled,
		"time_delay", c.cfg.TimeDelay,
	)

	return c, nil
}

// Session returns the underlying Session.
func (c *Client) Session() *Session {
	return c.session
}

// Listeners returns the receive handlers.
func (c *Client) Listeners() *Listeners {
	return c.listeners
}

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns current connection state.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected && c.session.IsConnected()
}

// Done is closed once the heartbeat and read loops have both exited.
func (c *Client) Done() <-chan struct{} {
	return c.finished
}

// Send writes msg as one line. When disconnected it logs and returns
// ErrNotConnected instead of attempting I/O.
func (c *Client) Send(msg model.Message) error {
	if c.isClosed() {
		return ErrAlreadyClosed
	}
	if !c.session.IsConnected() {
		c.logger.Warn("send while disconnected, dropping message")
		return ErrNotConnected
	}

	frame, err := model.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := c.write(frame); err != nil {
		if c.isClosed() {
			return ErrAlreadyClosed
		}
		c.logger.Warn("send failed", "error", err)
		c.markDisconnected()
		return err
	}

	c.counters.MessagesSent.Add(1)
	return nil
}

// Close gracefully closes the connection. Further calls are no-ops.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	err := c.session.Close()
	c.halt()

	if c.onClose != nil {
		c.onClose()
	}

	c.logger.Debug("client closed")
	return err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = s
}

func (c *Client) isClosed() bool {
	return c.State() == StateClosed
}

// halt signals both loops to stop.
func (c *Client) halt() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// markDisconnected drops the socket so the other loop unblocks and observes
// the disconnected state.
func (c *Client) markDisconnected() {
	if c.session.disconnect() {
		c.logger.Info("session disconnected")
	}
	c.setState(StateDisconnected)
	c.halt()
}

// write sends a frame and records it.
func (c *Client) write(frame []byte) error {
	if err := c.session.Write(frame); err != nil {
		return err
	}
	c.record(DirectionOut, frame)
	return nil
}

func (c *Client) record(direction string, line []byte) {
	if c.cfg.Debug {
		c.logger.Debug("relay traffic", "direction", direction, "line", string(line))
	}
	if c.recorder != nil {
		c.recorder.Record(direction, line)
	}
}

// heartbeatLoop writes a bare newline every TimeDelay.
func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TimeDelay)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		if c.isClosed() || !c.session.IsConnected() {
			return
		}

		if err := c.write(model.Heartbeat); err != nil {
			// Close() races the ticker; that is not a connection error.
			if c.isClosed() || errors.Is(err, ErrSessionClosed) {
				return
			}
			c.logger.Warn("heartbeat failed", "error", err)
			c.markDisconnected()
			return
		}
		c.counters.HeartbeatsSent.Add(1)
	}
}

// readLoop reads lines until the stream ends or fails.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		if c.isClosed() || !c.session.IsConnected() {
			return
		}

		line, err := c.session.ReadLine()
		if err != nil {
			c.handleReadError(err)
			return
		}

		c.record(DirectionIn, line)
		c.handleLine(line)
	}
}

func (c *Client) handleReadError(err error) {
	switch {
	case c.isClosed():
		c.logger.Debug("read loop stopped: client closed")
		return
	case errors.Is(err, io.EOF):
		c.logger.Info("relay closed the connection")
	case !c.session.IsConnected():
		// Another loop already detected the failure and dropped the socket.
		c.logger.Debug("read loop stopped: disconnected", "error", err)
	default:
		c.logger.Warn("read failed", "error", err)
	}
	c.markDisconnected()
}

// handleLine acks a well-formed object and then dispatches it. Acks are
// dispatched without a reply.
func (c *Client) handleLine(line []byte) {
	if model.IsHeartbeat(line) {
		c.counters.HeartbeatsRecv.Add(1)
		return
	}

	obj, err := model.ParseObject(line)
	if err != nil {
		c.counters.Malformed.Add(1)
		c.logger.Warn("dropping malformed line", "error", err, "bytes", len(line))
		return
	}

	// Acks reach the listeners but are never acked back, otherwise two
	// clients would ping-pong forever.
	if obj.IsAck() {
		c.counters.AcksReceived.Add(1)
		c.dispatch(obj)
		return
	}
	c.counters.MessagesReceived.Add(1)

	if err := c.sendAck(); err != nil {
		if !c.isClosed() {
			c.logger.Warn("ack failed", "error", err)
			c.markDisconnected()
		}
	} else {
		c.counters.AcksSent.Add(1)
	}

	c.dispatch(obj)
}

func (c *Client) sendAck() error {
	frame, err := model.Encode(model.Ack())
	if err != nil {
		return err
	}
	return c.write(frame)
}

// dispatch invokes every handler. A panicking handler is logged and skipped.
func (c *Client) dispatch(obj model.Object) {
	for _, fn := range c.listeners.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("receive handler panicked", "panic", r)
				}
			}()
			fn(obj)
		}()
	}
}
