package connection

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	cfg := ManagerConfig{DeviceID: 1, PeerID: 2, Token: "secret"}
	return newSession(cfg, newTCPConn(client, time.Second)), server
}

func TestSession_WriteRead(t *testing.T) {
	s, server := pipeSession(t)

	go func() {
		io.WriteString(server, "{\"a\":1}\r\n\n")
	}()

	line, err := s.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if string(line) != `{"a":1}` {
		t.Errorf("line = %q, want {\"a\":1}", line)
	}
	line, err = s.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if len(line) != 0 {
		t.Errorf("heartbeat line = %q, want empty", line)
	}

	done := make(chan string, 1)
	go func() {
		got, _ := bufio.NewReader(server).ReadString('\n')
		done <- got
	}()
	if err := s.Write([]byte("hello\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := <-done; got != "hello\r\n" {
		t.Errorf("server got %q", got)
	}
}

func TestSession_Disconnect(t *testing.T) {
	s, _ := pipeSession(t)

	if !s.disconnect() {
		t.Error("first disconnect should report the transition")
	}
	if s.disconnect() {
		t.Error("second disconnect should be a no-op")
	}
	if s.IsConnected() {
		t.Error("IsConnected should be false")
	}
	if err := s.Write([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write = %v, want ErrNotConnected", err)
	}
	if _, err := s.ReadLine(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ReadLine = %v, want ErrNotConnected", err)
	}
}

func TestSession_DisconnectUnblocksReader(t *testing.T) {
	s, _ := pipeSession(t)

	errc := make(chan error, 1)
	go func() {
		_, err := s.ReadLine()
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.disconnect()

	select {
	case err := <-errc:
		if err == nil {
			t.Error("expected read error after disconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reader still blocked after disconnect")
	}
}

func TestSession_Close(t *testing.T) {
	s, _ := pipeSession(t)

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if !s.IsClosed() || s.IsConnected() {
		t.Error("session should be closed and disconnected")
	}
	if err := s.Write([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Write = %v, want ErrSessionClosed", err)
	}

	other, _ := net.Pipe()
	defer other.Close()
	if s.attach(newTCPConn(other, 0)) {
		t.Error("attach should fail on a closed session")
	}
}

func TestTCPConn_TrailingLine(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	c := newTCPConn(client, 0)

	go func() {
		io.WriteString(server, "{\"tail\":true}")
		server.Close()
	}()

	line, err := c.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if string(line) != `{"tail":true}` {
		t.Errorf("line = %q", line)
	}
	if _, err := c.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadLine = %v, want io.EOF", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateClosed, "closed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
