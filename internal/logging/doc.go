// Package logging builds the process slog.Logger: a colored console handler
// and, when save_logs is set, size-rotated jsonl files for log records and
// relay traffic.
package logging
