package relaytest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSPath is the WebSocket endpoint served on the WS listener.
const WSPath = "/relay"

// Relay is an in-process relay: an HTTP subscribe endpoint plus TCP and
// WebSocket line listeners. Lines from one device are routed to the device
// it is bound to.
type Relay struct {
	logger *slog.Logger

	httpLn  net.Listener
	tcpLn   net.Listener
	wsLn    net.Listener
	httpSrv *http.Server
	wsSrv   *http.Server

	upgrader websocket.Upgrader

	mu         sync.Mutex
	pending    map[string]binding // session id → binding, consumed by the first line
	peers      map[int]*Peer      // device id → live peer
	history    map[int][]*Peer    // device id → every accepted connection
	open       map[peerConn]struct{}
	subscribes int
	accepted   int
	status     int
	echo       bool
	closed     bool
	changed    chan struct{}

	wg sync.WaitGroup
}

type binding struct {
	from  int
	to    int
	token string
}

// New creates a stopped Relay.
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		logger:  logger,
		pending: make(map[string]binding),
		peers:   make(map[int]*Peer),
		history: make(map[int][]*Peer),
		open:    make(map[peerConn]struct{}),
		changed: make(chan struct{}),
	}
}

// StartLocal starts every listener on an ephemeral loopback port.
func (r *Relay) StartLocal() error {
	return r.Start("127.0.0.1:0", "127.0.0.1:0", "127.0.0.1:0")
}

// Start opens the listeners. An empty wsAddr disables the WebSocket listener.
func (r *Relay) Start(httpAddr, tcpAddr, wsAddr string) error {
	var err error

	r.httpLn, err = net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	r.tcpLn, err = net.Listen("tcp", tcpAddr)
	if err != nil {
		r.httpLn.Close()
		return fmt.Errorf("listen tcp: %w", err)
	}
	if wsAddr != "" {
		r.wsLn, err = net.Listen("tcp", wsAddr)
		if err != nil {
			r.httpLn.Close()
			r.tcpLn.Close()
			return fmt.Errorf("listen websocket: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/subscribe", r.handleSubscribe)
	r.httpSrv = &http.Server{Handler: mux}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpSrv.Serve(r.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server error", "error", err)
		}
	}()

	r.wg.Add(1)
	go r.acceptTCP()

	if r.wsLn != nil {
		wsMux := http.NewServeMux()
		wsMux.HandleFunc(WSPath, r.handleWebSocket)
		r.wsSrv = &http.Server{Handler: wsMux}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.wsSrv.Serve(r.wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Error("websocket server error", "error", err)
			}
		}()
	}

	r.logger.Info("relay started",
		"http", r.httpLn.Addr().String(),
		"tcp", r.tcpLn.Addr().String(),
		"websocket", r.wsLn != nil,
	)
	return nil
}

// Close stops the listeners and drops every connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conns := make([]peerConn, 0, len(r.open))
	for pc := range r.open {
		conns = append(conns, pc)
	}
	r.mu.Unlock()

	if r.httpSrv != nil {
		r.httpSrv.Close()
	}
	if r.wsSrv != nil {
		r.wsSrv.Close()
	}
	if r.tcpLn != nil {
		r.tcpLn.Close()
	}
	for _, pc := range conns {
		pc.close()
	}

	r.wg.Wait()
	return nil
}

// Host returns the loopback host the listeners are bound to.
func (r *Relay) Host() string {
	host, _, _ := net.SplitHostPort(r.tcpLn.Addr().String())
	return host
}

// HTTPPort returns the subscribe endpoint port.
func (r *Relay) HTTPPort() int { return portOf(r.httpLn) }

// TCPPort returns the line stream port.
func (r *Relay) TCPPort() int { return portOf(r.tcpLn) }

// WSPort returns the WebSocket port, or 0 when disabled.
func (r *Relay) WSPort() int { return portOf(r.wsLn) }

func portOf(ln net.Listener) int {
	if ln == nil {
		return 0
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// SetStatus forces every subscribe request to answer with code.
// Zero restores normal behavior.
func (r *Relay) SetStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

// SetEcho sends lines back to the sender when its peer is not connected.
func (r *Relay) SetEcho(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.echo = on
}

// Subscribes returns how many subscribe requests were received.
func (r *Relay) Subscribes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribes
}

// Accepted returns how many raw line connections were accepted, bound or not.
func (r *Relay) Accepted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

// Connections returns how many line connections device id has opened.
func (r *Relay) Connections(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history[id])
}

// Peer returns the live connection of device id, or nil.
func (r *Relay) Peer(id int) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[id]
}

// WaitPeer blocks until device id has a live connection.
func (r *Relay) WaitPeer(ctx context.Context, id int) (*Peer, error) {
	return r.wait(ctx, func() *Peer { return r.peers[id] })
}

// WaitConnection blocks until device id has opened its n-th connection
// and returns it.
func (r *Relay) WaitConnection(ctx context.Context, id, n int) (*Peer, error) {
	return r.wait(ctx, func() *Peer {
		if h := r.history[id]; len(h) >= n {
			return h[n-1]
		}
		return nil
	})
}

func (r *Relay) wait(ctx context.Context, find func() *Peer) (*Peer, error) {
	for {
		r.mu.Lock()
		p := find()
		ch := r.changed
		r.mu.Unlock()

		if p != nil {
			return p, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// notifyLocked wakes every waiter. Callers hold r.mu.
func (r *Relay) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// handleSubscribe answers POST /subscribe?uuid=&from=&to=.
// 201 with a session id, 409 when another token holds the device, 401 on a
// missing token or bad ids. Resubscribing with the same token supersedes the
// previous connection.
func (r *Relay) handleSubscribe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := req.URL.Query()
	token := q.Get("uuid")
	from, errFrom := strconv.Atoi(q.Get("from"))
	to, errTo := strconv.Atoi(q.Get("to"))

	r.mu.Lock()
	r.subscribes++
	status := r.status
	holder := r.peers[from]
	r.mu.Unlock()

	switch {
	case status != 0:
		w.WriteHeader(status)
		return
	case token == "" || errFrom != nil || errTo != nil:
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	case holder != nil && holder.token != token:
		http.Error(w, "device already bound", http.StatusConflict)
		return
	}

	if holder != nil {
		r.logger.Debug("superseding connection", "device", from)
		holder.Drop()
	}

	sid := uuid.NewString()

	r.mu.Lock()
	r.pending[sid] = binding{from: from, to: to, token: token}
	r.mu.Unlock()

	r.logger.Debug("subscription created", "from", from, "to", to, "session", sid)

	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, sid+"\r\n")
}

func (r *Relay) acceptTCP() {
	defer r.wg.Done()

	for {
		conn, err := r.tcpLn.Accept()
		if err != nil {
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.serve(newTCPPeerConn(conn))
		}()
	}
}

func (r *Relay) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	r.serve(newWSPeerConn(conn))
}

// serve binds a connection by its first line, then routes every line after.
func (r *Relay) serve(pc peerConn) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		pc.close()
		return
	}
	r.open[pc] = struct{}{}
	r.accepted++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.open, pc)
		r.mu.Unlock()
		pc.close()
	}()

	first, err := pc.readLine()
	if err != nil {
		return
	}
	sid := strings.TrimSpace(string(first))

	r.mu.Lock()
	b, ok := r.pending[sid]
	delete(r.pending, sid)
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("unknown session id", "session", sid)
		return
	}
	p := newPeer(r, b, sid, pc)
	r.peers[b.from] = p
	r.history[b.from] = append(r.history[b.from], p)
	r.notifyLocked()
	r.mu.Unlock()

	r.logger.Debug("device connected", "device", b.from, "peer", b.to)
	defer r.detach(p)

	for {
		line, err := pc.readLine()
		if err != nil {
			return
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			p.heartbeat()
			continue
		}
		p.record(line)
		r.route(p, line)
	}
}

// route forwards a line to the sender's bound peer.
func (r *Relay) route(from *Peer, line []byte) {
	r.mu.Lock()
	target := r.peers[from.PeerID]
	echo := r.echo
	r.mu.Unlock()

	switch {
	case target != nil:
		if err := target.Send(line); err != nil {
			r.logger.Debug("forward failed", "to", from.PeerID, "error", err)
		}
	case echo:
		from.Send(line)
	}
}

// detach unregisters p and closes its connection.
func (r *Relay) detach(p *Peer) {
	r.mu.Lock()
	if r.peers[p.DeviceID] == p {
		delete(r.peers, p.DeviceID)
	}
	r.notifyLocked()
	r.mu.Unlock()

	p.finish()
}
