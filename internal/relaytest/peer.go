package relaytest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Peer is one device connection as seen by the relay.
type Peer struct {
	DeviceID  int
	PeerID    int
	SessionID string

	relay *Relay
	conn  peerConn
	token string

	writeMu sync.Mutex

	mu         sync.Mutex
	lines      [][]byte
	heartbeats int
	changed    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(r *Relay, b binding, sid string, pc peerConn) *Peer {
	return &Peer{
		DeviceID:  b.from,
		PeerID:    b.to,
		SessionID: sid,
		relay:     r,
		conn:      pc,
		token:     b.token,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Send writes one line to the device.
func (p *Peer) Send(line []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.writeLine(line)
}

// SendJSON marshals v and writes it as one line.
func (p *Peer) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Send(data)
}

// Lines returns every non-heartbeat line received so far.
func (p *Peer) Lines() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.lines))
	copy(out, p.lines)
	return out
}

// Heartbeats returns how many empty lines were received.
func (p *Peer) Heartbeats() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heartbeats
}

// WaitLines blocks until at least n lines have been received.
func (p *Peer) WaitLines(ctx context.Context, n int) ([][]byte, error) {
	for {
		p.mu.Lock()
		ok := len(p.lines) >= n
		ch := p.changed
		p.mu.Unlock()

		if ok {
			return p.Lines(), nil
		}
		select {
		case <-ch:
		case <-p.done:
			// Lines recorded before the drop still count.
			if lines := p.Lines(); len(lines) >= n {
				return lines, nil
			}
			return p.Lines(), context.Canceled
		case <-ctx.Done():
			return p.Lines(), ctx.Err()
		}
	}
}

// Drop closes the connection from the relay side.
func (p *Peer) Drop() {
	p.relay.detach(p)
}

// Done is closed once the connection is gone.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) record(line []byte) {
	p.mu.Lock()
	p.lines = append(p.lines, bytes.Clone(line))
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}

func (p *Peer) heartbeat() {
	p.mu.Lock()
	p.heartbeats++
	p.mu.Unlock()
}

func (p *Peer) finish() {
	p.closeOnce.Do(func() {
		p.conn.close()
		close(p.done)
	})
}

// peerConn is the relay side of one line connection.
type peerConn interface {
	readLine() ([]byte, error)
	writeLine(line []byte) error
	close() error
}

type tcpPeerConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTCPPeerConn(conn net.Conn) *tcpPeerConn {
	return &tcpPeerConn{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *tcpPeerConn) readLine() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (c *tcpPeerConn) writeLine(line []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	frame := make([]byte, 0, len(line)+2)
	frame = append(frame, line...)
	frame = append(frame, '\r', '\n')
	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpPeerConn) close() error {
	return c.conn.Close()
}

type wsPeerConn struct {
	conn *websocket.Conn
}

func newWSPeerConn(conn *websocket.Conn) *wsPeerConn {
	return &wsPeerConn{conn: conn}
}

func (c *wsPeerConn) readLine() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(data, "\r\n"), nil
}

func (c *wsPeerConn) writeLine(line []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, line)
}

func (c *wsPeerConn) close() error {
	return c.conn.Close()
}
