package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AckPayload is the value of the "message" field in an acknowledgement.
const AckPayload = "ack"

var (
	// Heartbeat is the keep-alive frame: a single newline, no payload.
	Heartbeat = []byte("\n")

	lineTerminator = []byte("\r\n")
)

// ErrNotObject is returned when a line decodes to valid JSON that is not an object.
var ErrNotObject = errors.New("payload is not a JSON object")

// -----------------------------------------------------------------------------
// Wire Types
// -----------------------------------------------------------------------------

// Message is an application payload sent to the relay.
type Message struct {
	Message  any    `json:"message"`            // Free-form payload
	Metadata any    `json:"metadata,omitempty"` // Optional metadata
	SyncData any    `json:"syncData,omitempty"` // Optional sync state
	Status   string `json:"status,omitempty"`   // Optional status
}

// Object is a decoded inbound line.
type Object map[string]any

// Ack returns the acknowledgement message.
func Ack() Message {
	return Message{Message: AckPayload}
}

// Encode marshals a message into a CRLF-terminated frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(data, lineTerminator...), nil
}

// ParseObject decodes one line into an Object.
func ParseObject(line []byte) (Object, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}
	if line[0] != '{' {
		if !json.Valid(line) {
			return nil, fmt.Errorf("invalid json")
		}
		return nil, ErrNotObject
	}

	var obj Object
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// IsHeartbeat reports whether a line carries no payload.
func IsHeartbeat(line []byte) bool {
	return len(bytes.TrimSpace(line)) == 0
}

// IsAck reports whether an object is an acknowledgement.
func (o Object) IsAck() bool {
	v, ok := o["message"].(string)
	return ok && v == AckPayload && len(o) == 1
}

// -----------------------------------------------------------------------------
// Stored Types
// -----------------------------------------------------------------------------

// Received is an inbound object stamped for storage.
type Received struct {
	ID         uuid.UUID // Locally assigned message ID
	DeviceID   int       // Local device that received it
	PeerID     int       // Peer the session is bound to
	ReceivedAt time.Time // Local receive timestamp
	Payload    Object    // Decoded object
}

// NewReceived stamps an object with a fresh ID and receive time.
func NewReceived(deviceID, peerID int, payload Object) Received {
	return Received{
		ID:         uuid.New(),
		DeviceID:   deviceID,
		PeerID:     peerID,
		ReceivedAt: time.Now(),
		Payload:    payload,
	}
}
