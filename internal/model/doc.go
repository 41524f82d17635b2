// Package model defines the payloads exchanged with the relay.
//
// Wire format:
//   - One JSON object per line, terminated by CRLF
//   - A bare "\n" is a heartbeat and carries no payload
//   - Every received object is answered with {"message":"ack"}
package model
