// Package archive stores received relay messages in PostgreSQL.
//
// A receive listener enqueues every dispatched object into a bounded
// growable Buffer. The Writer drains it into pgx batches, flushing when a
// batch fills or on a timer, and inserts into relay_messages with
// ON CONFLICT DO NOTHING so replays are harmless.
package archive
