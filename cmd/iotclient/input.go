package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"

	"github.com/rickgao/iot-relay/internal/connection"
	"github.com/rickgao/iot-relay/internal/model"
)

// sender is the part of the Supervisor the input pump needs.
type sender interface {
	Send(msg model.Message) error
}

// pumpInput sends each stdin line to the peer until EOF or ctx is done.
func pumpInput(ctx context.Context, r io.Reader, s sender, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		msg, ok := parseInput(scanner.Text())
		if !ok {
			continue
		}
		if err := s.Send(msg); err != nil {
			if errors.Is(err, connection.ErrAlreadyClosed) {
				return
			}
			logger.Warn("message not sent", "error", err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("stdin read failed", "error", err)
		return
	}
	logger.Debug("stdin closed")
}

// parseInput turns one input line into a message. A JSON object is taken
// field by field; anything else becomes the message text. Blank lines are
// skipped.
func parseInput(line string) (model.Message, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return model.Message{}, false
	}

	obj, err := model.ParseObject([]byte(line))
	if err != nil {
		return model.Message{Message: line}, true
	}

	body, ok := obj["message"]
	if !ok {
		return model.Message{Message: map[string]any(obj)}, true
	}
	msg := model.Message{
		Message:  body,
		Metadata: obj["metadata"],
		SyncData: obj["syncData"],
	}
	if status, ok := obj["status"].(string); ok {
		msg.Status = status
	}
	return msg, true
}

// printer writes each received object to w as one colored JSON line. Peer
// acks are not printed.
func printer(w io.Writer) connection.Handler {
	label := color.New(color.FgCyan, color.Bold)
	return func(obj model.Object) {
		if obj.IsAck() {
			return
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return
		}
		label.Fprint(w, "<< ")
		w.Write(append(data, '\n'))
	}
}
