// Package metrics provides in-process counters for monitoring.
//
// Key counters:
//   - Heartbeats, acks and messages per direction
//   - Malformed inbound lines
//   - Sessions started and handshake failures
package metrics
