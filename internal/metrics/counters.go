package metrics

import "sync/atomic"

// Counters tracks relay traffic. Safe for concurrent use.
type Counters struct {
	HeartbeatsSent    atomic.Int64
	HeartbeatsRecv    atomic.Int64
	MessagesSent      atomic.Int64
	MessagesReceived  atomic.Int64
	AcksSent          atomic.Int64
	AcksReceived      atomic.Int64
	Malformed         atomic.Int64
	SessionsStarted   atomic.Int64
	HandshakeFailures atomic.Int64
}

// Stats is a point-in-time copy of Counters.
type Stats struct {
	HeartbeatsSent    int64 `json:"heartbeats_sent"`
	HeartbeatsRecv    int64 `json:"heartbeats_received"`
	MessagesSent      int64 `json:"messages_sent"`
	MessagesReceived  int64 `json:"messages_received"`
	AcksSent          int64 `json:"acks_sent"`
	AcksReceived      int64 `json:"acks_received"`
	Malformed         int64 `json:"malformed"`
	SessionsStarted   int64 `json:"sessions_started"`
	HandshakeFailures int64 `json:"handshake_failures"`
}

// New creates zeroed counters.
func New() *Counters {
	return &Counters{}
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		HeartbeatsSent:    c.HeartbeatsSent.Load(),
		HeartbeatsRecv:    c.HeartbeatsRecv.Load(),
		MessagesSent:      c.MessagesSent.Load(),
		MessagesReceived:  c.MessagesReceived.Load(),
		AcksSent:          c.AcksSent.Load(),
		AcksReceived:      c.AcksReceived.Load(),
		Malformed:         c.Malformed.Load(),
		SessionsStarted:   c.SessionsStarted.Load(),
		HandshakeFailures: c.HandshakeFailures.Load(),
	}
}
