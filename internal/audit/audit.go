// Package audit records terminal prediction outcomes to Postgres for
// after-the-fact review. It is strictly an observability sink: nothing in
// the request path blocks on it, and in-flight requests are never
// persisted — only settled outcomes, which keeps the writer compatible
// with the gateway's explicit non-goal of persisting in-flight state
// across a restart.
package audit

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Outcome is one row of the audit trail: a terminal result for a single
// request, recorded after its completion handle settles.
type Outcome struct {
	RequestID  string    `db:"request_id"`
	Status     string    `db:"status"` // "ok", "overloaded", "predictor_error", "shape_error", "cancelled", "internal_error"
	Score      *float64  `db:"score"`
	ErrDetail  *string   `db:"err_detail"`
	BatchSize  int       `db:"batch_size"`
	LatencyMS  int64     `db:"latency_ms"`
	OccurredAt time.Time `db:"occurred_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS prediction_audit (
	request_id  TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	score       DOUBLE PRECISION,
	err_detail  TEXT,
	batch_size  INTEGER NOT NULL,
	latency_ms  BIGINT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
)`

const insertStmt = `
INSERT INTO prediction_audit (request_id, status, score, err_detail, batch_size, latency_ms, occurred_at)
VALUES (:request_id, :status, :score, :err_detail, :batch_size, :latency_ms, :occurred_at)
ON CONFLICT (request_id) DO NOTHING`

// Writer owns the connection pool and a bounded channel of pending
// outcomes, drained by one background goroutine so that Record never
// blocks the caller on database I/O.
type Writer struct {
	db      *sqlx.DB
	pending chan Outcome
	done    chan struct{}
}

// Open connects to Postgres, ensures the audit table exists, and starts
// the background drain loop. Callers must call Close on shutdown.
func Open(ctx context.Context, dsn string, queueDepth int) (*Writer, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}

	w := &Writer{
		db:      db,
		pending: make(chan Outcome, queueDepth),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Record enqueues an outcome for async persistence. If the internal
// buffer is full, the outcome is dropped and logged — audit durability
// is best-effort, never a reason to slow or fail a prediction request.
func (w *Writer) Record(o Outcome) {
	select {
	case w.pending <- o:
	default:
		log.Warn().Str("request_id", o.RequestID).Msg("audit: buffer full, dropping outcome")
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for o := range w.pending {
		if _, err := w.db.NamedExec(insertStmt, o); err != nil {
			log.Warn().Err(err).Str("request_id", o.RequestID).Msg("audit: write failed")
		}
	}
}

// Close stops accepting new outcomes, drains the buffer, and closes the
// connection pool.
func (w *Writer) Close() error {
	close(w.pending)
	<-w.done
	return w.db.Close()
}
