// Package connection implements the relay device client.
//
// Components:
//   - Manager: subscription handshake, socket dial, Session (re)establishment
//   - Client: one live Session with a heartbeat loop and an ack-then-dispatch read loop
//   - Supervisor: rebuilds a Client with exponential backoff whenever one ends
//
// Reconnection discards the old Client and constructs a new one, so a Client is
// either fully connected at construction or never returned.
package connection
