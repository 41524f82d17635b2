package connection

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// lineConn is a framed connection carrying one payload per line.
type lineConn interface {
	// Write sends one frame. Callers hold the session write lock.
	Write(p []byte) error

	// ReadLine blocks for the next line, without its terminator.
	// Returns io.EOF when the relay closes the stream cleanly.
	ReadLine() ([]byte, error)

	// Close closes the underlying socket.
	Close() error
}

// tcpConn is a plain TCP socket with a buffered line reader.
type tcpConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeTimeout time.Duration
}

func newTCPConn(conn net.Conn, writeTimeout time.Duration) *tcpConn {
	return &tcpConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
	}
}

// dialTCP opens the relay socket. Tunneled links rely on OS keep-alive,
// otherwise the application heartbeat does that job.
func dialTCP(ctx context.Context, addr string, cfg ManagerConfig) (*tcpConn, error) {
	dialer := net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: -1,
	}
	if cfg.Tunneled {
		dialer.KeepAlive = cfg.KeepAlive
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newTCPConn(conn, cfg.WriteTimeout), nil
}

func (c *tcpConn) Write(p []byte) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.conn.Write(p)
	return err
}

func (c *tcpConn) ReadLine() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		// Hand back a trailing unterminated line; EOF follows on the next call.
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimRight(line, "\r"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
