package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const defaultFileMaxBytes = 10 * 1024 * 1024

// fileSink is a size-rotated append-only file set:
// {dir}/{prefix}-{session}-{part}.jsonl
type fileSink struct {
	mu         sync.Mutex
	dir        string
	prefix     string
	sessionTag string
	maxBytes   int64
	part       int
	file       *os.File
	size       int64
	closed     bool
}

func newFileSink(dir, prefix string, maxBytes int64) (*fileSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultFileMaxBytes
	}
	sink := &fileSink{
		dir:        dir,
		prefix:     prefix,
		sessionTag: time.Now().UTC().Format("20060102-150405"),
		maxBytes:   maxBytes,
	}
	if err := sink.rotateLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

// Write appends one complete line. A line is never split across files.
func (s *fileSink) Write(line []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}

	if s.file == nil {
		if err := s.rotateLocked(); err != nil {
			return 0, err
		}
	}
	if s.size > 0 && s.size+int64(len(line)) > s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	return n, err
}

// Path returns the current file.
func (s *fileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.size = 0
	return err
}

func (s *fileSink) rotateLocked() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
		s.size = 0
	}
	s.part++
	filename := fmt.Sprintf("%s-%s-%03d.jsonl", s.prefix, s.sessionTag, s.part)
	f, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	return nil
}
