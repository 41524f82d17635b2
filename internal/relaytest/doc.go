// Package relaytest provides an in-process relay for tests and local runs.
//
// The relay implements the subscribe handshake over HTTP and accepts line
// connections over TCP or WebSocket. The first line of each connection is
// the session id returned by /subscribe; every later line is recorded and
// forwarded to the bound peer device.
package relaytest
