package archive

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/iot-relay/internal/model"
)

// ErrClosed is returned by Buffer.Wait once the buffer is closed and drained.
var ErrClosed = errors.New("archive buffer closed")

// Schema creates the archive table.
const Schema = `
CREATE TABLE IF NOT EXISTS relay_messages (
	id          UUID PRIMARY KEY,
	device_id   INTEGER     NOT NULL,
	peer_id     INTEGER     NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	payload     JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS relay_messages_device_received_idx
	ON relay_messages (device_id, received_at);
`

const insertMessage = `
	INSERT INTO relay_messages (id, device_id, peer_id, received_at, payload)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
`

// DB is the subset of *pgxpool.Pool the writer needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Max queued messages before the oldest are dropped
}

// WriterStats tracks archive activity.
type WriterStats struct {
	Inserts   int64       `json:"inserts"`
	Conflicts int64       `json:"conflicts"`
	Flushes   int64       `json:"flushes"`
	Errors    int64       `json:"errors"`
	Buffer    BufferStats `json:"buffer"`
}

// Writer batches received messages into the relay_messages table.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger
	db     DB

	// Input from the receive listener
	input *Buffer[model.Received]

	// Batching
	batch   []row
	batchMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	consumed chan struct{}

	// Metrics
	statsMu sync.Mutex
	stats   WriterStats
}

type row struct {
	ID         uuid.UUID
	DeviceID   int
	PeerID     int
	ReceivedAt time.Time
	Payload    []byte
}

// NewWriter creates a Writer.
func NewWriter(cfg WriterConfig, db DB, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	initial := cfg.BatchSize * 2
	if cfg.BufferSize > 0 && initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  NewBuffer[model.Received](initial, cfg.BufferSize),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// EnsureSchema creates the archive table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	_, err := w.db.Exec(ctx, Schema)
	return err
}

// Enqueue queues a message for the next flush. Returns false after Stop.
func (w *Writer) Enqueue(rec model.Received) bool {
	return w.input.Push(rec)
}

// Listener returns a receive handler that archives every object except acks.
func (w *Writer) Listener(deviceID, peerID int) func(model.Object) {
	return func(obj model.Object) {
		if obj.IsAck() {
			return
		}
		w.Enqueue(model.NewReceived(deviceID, peerID, obj))
	}
}

// Start begins consuming messages and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.consumed = make(chan struct{})

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued messages and performs a final flush using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	w.input.Close()
	if w.cancel == nil {
		return w.drain(ctx)
	}

	// Let the consumer empty the buffer before cancelling
	select {
	case <-w.consumed:
	case <-ctx.Done():
		w.logger.Warn("archive writer drain timed out", "queued", w.input.Len())
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	err := w.drain(ctx)
	w.logger.Info("archive writer stopped")
	return err
}

// drain moves anything left in the buffer into the batch and flushes it.
func (w *Writer) drain(ctx context.Context) error {
	for _, rec := range w.input.PopBatch(0) {
		w.add(rec)
	}
	return w.flush(ctx)
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	s := w.stats
	s.Buffer = w.input.Stats()
	return s
}

// consumeLoop moves queued messages into the current batch.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()
	defer close(w.consumed)

	for {
		if err := w.input.Wait(w.ctx); err != nil {
			return
		}
		for _, rec := range w.input.PopBatch(w.cfg.BatchSize) {
			if w.add(rec) {
				w.flush(w.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends to the batch and reports whether it is full.
func (w *Writer) add(rec model.Received) bool {
	r, err := transform(rec)
	if err != nil {
		w.logger.Warn("dropping unencodable message", "id", rec.ID, "error", err)
		w.countError()
		return false
	}

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, r)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a received message to a table row.
func transform(rec model.Received) (row, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:         rec.ID,
		DeviceID:   rec.DeviceID,
		PeerID:     rec.PeerID,
		ReceivedAt: rec.ReceivedAt.UTC(),
		Payload:    payload,
	}, nil
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("archive insert failed", "error", err, "count", len(batch))
		w.countError()
		return err
	}

	w.statsMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

func (w *Writer) countError() {
	w.statsMu.Lock()
	w.stats.Errors++
	w.statsMu.Unlock()
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMessage, r.ID, r.DeviceID, r.PeerID, r.ReceivedAt, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
