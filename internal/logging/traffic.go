package logging

import (
	"encoding/json"
	"time"
)

// TrafficRecorder appends every relay line to a jsonl file.
type TrafficRecorder struct {
	sink *fileSink
	now  func() time.Time
}

type trafficLine struct {
	Time      string `json:"time"`
	Direction string `json:"direction"`
	Line      string `json:"line"`
}

// NewTrafficRecorder opens a traffic log under dir.
func NewTrafficRecorder(dir string, maxBytes int64) (*TrafficRecorder, error) {
	sink, err := newFileSink(dir, "traffic", maxBytes)
	if err != nil {
		return nil, err
	}
	return &TrafficRecorder{sink: sink, now: time.Now}, nil
}

// Record writes one line. Errors are dropped; traffic logging never blocks
// the connection.
func (r *TrafficRecorder) Record(direction string, line []byte) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(trafficLine{
		Time:      r.now().UTC().Format(time.RFC3339Nano),
		Direction: direction,
		Line:      string(line),
	})
	if err != nil {
		return
	}
	r.sink.Write(append(payload, '\n'))
}

// Path returns the current traffic file.
func (r *TrafficRecorder) Path() string {
	return r.sink.Path()
}

// Close closes the traffic file.
func (r *TrafficRecorder) Close() error {
	if r == nil {
		return nil
	}
	return r.sink.Close()
}
