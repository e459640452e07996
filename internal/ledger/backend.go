package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backend is the persistence contract. Implementations are safe for
// concurrent use; reads may run while writes are queued.
type Backend interface {
	// Enqueue adds a record to the write queue. Non-blocking: when the
	// queue is full the record is dropped with a diagnostic.
	Enqueue(rec Record)

	// Flush forces pending records to storage.
	Flush(ctx context.Context) error

	// QueryTotals returns aggregate stats over the filtered set.
	QueryTotals(ctx context.Context, f Filter) (*Totals, error)

	// QueryModelBreakdown returns per-(model, provider) subtotals.
	QueryModelBreakdown(ctx context.Context, f Filter) ([]ModelBreakdown, error)

	// QueryProviderBreakdown returns per-provider subtotals.
	QueryProviderBreakdown(ctx context.Context, f Filter) ([]ProviderBreakdown, error)

	// QueryPerformance returns per-model throughput metrics.
	QueryPerformance(ctx context.Context, f Filter) ([]Performance, error)

	// QueryRecentErrors returns up to limit error rows, newest first.
	QueryRecentErrors(ctx context.Context, f Filter, limit int) ([]ErrorEntry, error)

	// QueryDaily returns per-local-day buckets with model breakdowns.
	// Offset is the client timezone offset in minutes east of UTC.
	QueryDaily(ctx context.Context, f Filter, offsetMinutes int) ([]DailyBucket, error)

	// QueryHourly returns per-local-hour buckets with model breakdowns.
	QueryHourly(ctx context.Context, f Filter, offsetMinutes int) ([]HourlyBucket, error)

	// QueryRequests returns one page of request rows plus aggregates
	// computed over the entire filtered set, not the page.
	QueryRequests(ctx context.Context, f Filter, page Page) (*RequestPage, error)

	// QueryDateRange returns the min and max data dates, excluding
	// error rows. Empty strings when no data exists.
	QueryDateRange(ctx context.Context) (string, string, error)

	// ClearErrors deletes all error rows and reports the count.
	ClearErrors(ctx context.Context) (int64, error)

	// Cleanup removes records older than the given time.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	// Start launches background workers; Stop drains and shuts down.
	Start() error
	Stop() error
}

// Config holds backend initialization parameters.
type Config struct {
	// DSN selects the engine: a filesystem path or sqlite:// URL for
	// SQLite, postgres:// for Postgres.
	DSN string

	BatchSize     int
	FlushInterval time.Duration

	// RetentionDays bounds history; 0 disables cleanup.
	RetentionDays int
}

// New creates the backend matching the DSN.
func New(cfg Config) (Backend, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	switch {
	case dsn == "":
		return nil, fmt.Errorf("ledger DSN is required")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresBackend(dsn, cfg)
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLiteBackend(strings.TrimPrefix(dsn, "sqlite://"), cfg)
	default:
		return NewSQLiteBackend(dsn, cfg)
	}
}
