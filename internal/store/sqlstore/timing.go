package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)

// timedQuerier logs statements that take longer than threshold.
type timedQuerier struct {
	q         querier
	threshold time.Duration
}

func (s *SQLStore) timed(q querier) querier {
	return &timedQuerier{q: q, threshold: s.slowQuery}
}

func (t *timedQuerier) log(op, query string, start time.Time) {
	elapsed := time.Since(start)
	durationMs := float64(elapsed.Microseconds()) / 1000.0
	if elapsed >= t.threshold {
		slog.Warn("slow_query", "op", op, "query", firstLine(query), "duration_ms", durationMs)
		return
	}
	slog.Debug("query", "op", op, "duration_ms", durationMs)
}

func (t *timedQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := t.q.ExecContext(ctx, query, args...)
	t.log("ExecContext", query, start)
	return res, err
}

func (t *timedQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.q.QueryContext(ctx, query, args...)
	t.log("QueryContext", query, start)
	return rows, err
}

func (t *timedQuerier) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := t.q.QueryRowContext(ctx, query, args...)
	t.log("QueryRowContext", query, start)
	return row
}

func firstLine(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.IndexByte(query, '\n'); i > 0 {
		query = query[:i]
	}
	if len(query) > 120 {
		query = query[:120]
	}
	return query
}
