// Package handshake implements the relay subscription call.
//
// A device subscribes with POST /subscribe?uuid={token}&from={id}&to={peer}.
// The relay answers:
//   - 201: body is an opaque blob to present as the first bytes on the socket
//   - 404: subscription not available yet (recoverable)
//   - 409: another device is already bound (fatal)
//   - anything else: invalid credentials (fatal)
package handshake
