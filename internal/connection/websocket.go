package connection

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsPath is the relay endpoint for the WebSocket transport.
const wsPath = "/relay"

// wsConn carries one line per text frame. Control-frame pings keep the
// link alive, so no application heartbeat is written over it.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// wsURL builds the relay WebSocket URL.
func wsURL(host string, port int) string {
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + wsPath
}

func dialWebSocket(ctx context.Context, url string, cfg ManagerConfig) (*wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	if cfg.KeepAlive > 0 {
		go c.pingLoop(cfg.KeepAlive)
	}

	return c, nil
}

func (c *wsConn) Write(p []byte) error {
	frame := bytes.TrimRight(p, "\r\n")
	if len(frame) == 0 {
		return nil
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) ReadLine() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return bytes.TrimRight(data, "\r\n"), nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// pingLoop sends keep-alive pings until the connection closes.
func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				return
			}
		}
	}
}
