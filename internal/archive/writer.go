package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/matchline/internal/database"
	"github.com/rickgao/matchline/internal/router"
)

// Schema creates the archive table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id          TEXT PRIMARY KEY,
		sender_id   TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content     TEXT NOT NULL,
		sent_at     TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chat_messages_pair_idx
		ON chat_messages (sender_id, receiver_id, received_at)`,
}

const insertChatMessage = `
	INSERT INTO chat_messages (id, sender_id, receiver_id, content, sent_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO NOTHING
`

// EnsureSchema creates the archive table if it does not exist.
func EnsureSchema(ctx context.Context, db database.Execer) error {
	return database.ApplySchema(ctx, db, Schema...)
}

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a row waits before being written
	BufferSize    int           // Max queued rows before new messages are dropped
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// WriterMetrics tracks writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64 // Rows skipped because the id was already archived
	Flushes   int64
	Errors    int64 // Failed batches
	Dropped   int64 // Messages rejected by a full queue
}

type chatRow struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	SentAt     string
	ReceivedAt time.Time
}

// ChatWriter archives chat.message payloads. It is a router.Handler; Handle
// only enqueues, so dispatch never waits on the database.
type ChatWriter struct {
	cfg    WriterConfig
	logger *slog.Logger
	db     BatchSender
	queue  *Queue[chatRow]
	now    func() time.Time

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Serializes flushes between the loop and Stop
	flushMu sync.Mutex

	metricsMu sync.Mutex
	metrics   WriterMetrics
}

// NewChatWriter creates a writer. Zero config fields take defaults.
func NewChatWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *ChatWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &ChatWriter{
		cfg:    cfg,
		logger: logger.With("component", "archive"),
		db:     db,
		queue:  NewQueue[chatRow](min(cfg.BatchSize, cfg.BufferSize), cfg.BufferSize),
		now:    time.Now,
	}
}

// Handle enqueues chat messages and ignores every other kind.
func (w *ChatWriter) Handle(kind router.Kind, payload any) {
	msg, ok := payload.(router.ChatMessage)
	if !ok || kind != router.KindChatMessage {
		return
	}

	row := chatRow{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		SentAt:     msg.Timestamp,
		ReceivedAt: w.now().UTC(),
	}
	if !w.queue.Push(row) {
		w.metricsMu.Lock()
		w.metrics.Dropped++
		w.metricsMu.Unlock()
		w.logger.Warn("archive queue full, dropping message", "id", msg.ID)
	}
}

// Start begins the flush loop.
func (w *ChatWriter) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("chat archive started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the loop and writes whatever is still queued using ctx.
func (w *ChatWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping chat archive")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for the loop
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("chat archive stop timed out")
		return ctx.Err()
	}

	// Final flush
	w.flush(ctx, 0)
	w.logger.Info("chat archive stopped")
	return nil
}

// Stats returns current metrics.
func (w *ChatWriter) Stats() WriterMetrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

// run flushes full batches as they fill and partial ones on the ticker.
func (w *ChatWriter) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.queue.Ready():
			if w.queue.Len() >= w.cfg.BatchSize {
				w.flush(ctx, w.cfg.BatchSize)
			}
		case <-ticker.C:
			w.flush(ctx, 0)
		}
	}
}

// flush writes queued rows in BatchSize chunks. With minRows > 0 it stops
// once fewer than minRows remain.
func (w *ChatWriter) flush(ctx context.Context, minRows int) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	for {
		if minRows > 0 && w.queue.Len() < minRows {
			return
		}
		rows := w.queue.PopBatch(w.cfg.BatchSize)
		if len(rows) == 0 {
			return
		}

		start := time.Now()
		conflicts, err := w.batchInsert(ctx, rows)
		if err != nil {
			w.logger.Error("batch insert failed", "error", err, "count", len(rows))
			w.metricsMu.Lock()
			w.metrics.Errors++
			w.metricsMu.Unlock()
			return
		}

		w.metricsMu.Lock()
		w.metrics.Inserts += int64(len(rows) - conflicts)
		w.metrics.Conflicts += int64(conflicts)
		w.metrics.Flushes++
		w.metricsMu.Unlock()

		w.logger.Debug("flushed chat messages",
			"count", len(rows),
			"conflicts", conflicts,
			"duration", time.Since(start),
		)
	}
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *ChatWriter) batchInsert(ctx context.Context, rows []chatRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertChatMessage, r.ID, r.SenderID, r.ReceiverID, r.Content, r.SentAt, r.ReceivedAt)
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
