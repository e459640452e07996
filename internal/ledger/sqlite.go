package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists the ledger in a single-file SQLite database.
// Writes go through the shared write queue under a single connection;
// reads run concurrently on the same handle.
type SQLiteBackend struct {
	db     *sql.DB
	queue  *writeQueue
	dbPath string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	model TEXT NOT NULL,
	provider TEXT,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	request_data TEXT,
	response_data TEXT,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
CREATE INDEX IF NOT EXISTS idx_requests_provider_model ON requests(provider, model);
CREATE INDEX IF NOT EXISTS idx_requests_cost ON requests(cost) WHERE error IS NULL;
`

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string, cfg Config) (*SQLiteBackend, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if strings.HasPrefix(dbPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids lock churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	b := &SQLiteBackend{db: db, dbPath: dbPath}
	b.queue = newWriteQueue(cfg, b.writeBatch, b.Cleanup)
	return b, nil
}

// Start launches the background write and cleanup loops.
func (b *SQLiteBackend) Start() error {
	b.queue.start()
	return nil
}

// Stop drains pending writes and closes the database.
func (b *SQLiteBackend) Stop() error {
	if b == nil {
		return nil
	}
	b.queue.stop()
	return b.db.Close()
}

// Enqueue implements Backend.
func (b *SQLiteBackend) Enqueue(rec Record) {
	if b == nil {
		return
	}
	b.queue.enqueue(rec)
}

// Flush implements Backend.
func (b *SQLiteBackend) Flush(ctx context.Context) error {
	if b == nil {
		return nil
	}
	return b.queue.flush(ctx)
}

// DBPath returns the filesystem path of the database.
func (b *SQLiteBackend) DBPath() string { return b.dbPath }

func (b *SQLiteBackend) writeBatch(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO requests (
			request_id, timestamp, model, provider,
			prompt_tokens, completion_tokens, total_tokens,
			cost, duration_ms, request_data, response_data, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		_, err := stmt.ExecContext(ctx,
			rec.RequestID,
			rec.Timestamp.Format(timeLayout),
			rec.Model,
			rec.Provider,
			rec.PromptTokens,
			rec.CompletionTokens,
			rec.TotalTokens,
			rec.Cost,
			rec.DurationMS,
			nullableText(rec.RequestData),
			nullableText(rec.ResponseData),
			nullableString(rec.Error),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// QueryTotals implements Backend.
func (b *SQLiteBackend) QueryTotals(ctx context.Context, f Filter) (*Totals, error) {
	where, args := f.whereClause(dialectSQLite)
	row := b.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
		       COALESCE(SUM(cost), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(AVG(duration_ms), 0)
		FROM requests %s
	`, where), args...)

	var t Totals
	if err := row.Scan(&t.Requests, &t.Cost, &t.PromptTokens, &t.CompletionTokens, &t.AvgDurationMS); err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	return &t, nil
}

// QueryModelBreakdown implements Backend.
func (b *SQLiteBackend) QueryModelBreakdown(ctx context.Context, f Filter) ([]ModelBreakdown, error) {
	where, args := f.whereClause(dialectSQLite)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT model, COALESCE(provider, 'unknown'),
		       COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(total_tokens), 0)
		FROM requests %s
		GROUP BY model, provider
		ORDER BY SUM(cost) DESC
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query model breakdown: %w", err)
	}
	defer rows.Close()

	var out []ModelBreakdown
	for rows.Next() {
		var m ModelBreakdown
		if err := rows.Scan(&m.Model, &m.Provider, &m.Requests, &m.Cost, &m.Tokens); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// QueryProviderBreakdown implements Backend.
func (b *SQLiteBackend) QueryProviderBreakdown(ctx context.Context, f Filter) ([]ProviderBreakdown, error) {
	where, args := f.whereClause(dialectSQLite)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(provider, 'unknown'),
		       COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(total_tokens), 0)
		FROM requests %s
		GROUP BY provider
		ORDER BY SUM(cost) DESC
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query provider breakdown: %w", err)
	}
	defer rows.Close()

	var out []ProviderBreakdown
	for rows.Next() {
		var p ProviderBreakdown
		if err := rows.Scan(&p.Provider, &p.Requests, &p.Cost, &p.Tokens); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// QueryPerformance implements Backend.
func (b *SQLiteBackend) QueryPerformance(ctx context.Context, f Filter) ([]Performance, error) {
	where, args := f.whereClause(dialectSQLite)
	conj := "WHERE"
	if where != "" {
		conj = where + " AND"
	}
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT model,
		       COUNT(*),
		       AVG(CAST(completion_tokens AS REAL) / (CAST(duration_ms AS REAL) / 1000.0)),
		       AVG(duration_ms),
		       MIN(CAST(completion_tokens AS REAL) / (CAST(duration_ms AS REAL) / 1000.0)),
		       MAX(CAST(completion_tokens AS REAL) / (CAST(duration_ms AS REAL) / 1000.0)),
		       AVG(cost)
		FROM requests
		%s completion_tokens > 0 AND duration_ms > 0
		GROUP BY model
		ORDER BY 3 DESC
	`, conj), args...)
	if err != nil {
		return nil, fmt.Errorf("query performance: %w", err)
	}
	defer rows.Close()

	var out []Performance
	for rows.Next() {
		var p Performance
		if err := rows.Scan(&p.Model, &p.Requests, &p.AvgTokensPerSec, &p.AvgDurationMS,
			&p.MinTokensPerSec, &p.MaxTokensPerSec, &p.AvgCostPerRequest); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// QueryRecentErrors implements Backend.
func (b *SQLiteBackend) QueryRecentErrors(ctx context.Context, f Filter, limit int) ([]ErrorEntry, error) {
	f.ErrorsOnly = true
	where, args := f.whereClause(dialectSQLite)
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT timestamp, model, error
		FROM requests %s
		ORDER BY timestamp DESC
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query recent errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorEntry
	for rows.Next() {
		var e ErrorEntry
		if err := rows.Scan(&e.Timestamp, &e.Model, &e.Error); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// tzModifier renders a timezone offset in minutes as a SQLite datetime
// modifier like "+05:30" or "-08:00".
func tzModifier(offsetMinutes int) string {
	sign := "+"
	if offsetMinutes < 0 {
		sign = "-"
		offsetMinutes = -offsetMinutes
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offsetMinutes/60, offsetMinutes%60)
}

// QueryDaily implements Backend. Rows group under the local calendar day
// produced by shifting each UTC timestamp by the client offset.
func (b *SQLiteBackend) QueryDaily(ctx context.Context, f Filter, offsetMinutes int) ([]DailyBucket, error) {
	where, args := f.whereClause(dialectSQLite)
	queryArgs := append([]any{tzModifier(offsetMinutes)}, args...)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DATE(timestamp, ?) AS day, COALESCE(provider, 'unknown'), model,
		       COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(total_tokens), 0)
		FROM requests %s
		GROUP BY day, provider, model
		ORDER BY day DESC
	`, where), queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	return scanDailyRows(rows)
}

// QueryHourly implements Backend.
func (b *SQLiteBackend) QueryHourly(ctx context.Context, f Filter, offsetMinutes int) ([]HourlyBucket, error) {
	where, args := f.whereClause(dialectSQLite)
	queryArgs := append([]any{tzModifier(offsetMinutes)}, args...)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT CAST(strftime('%%H', timestamp, ?) AS INTEGER) AS hour, COALESCE(provider, 'unknown'), model,
		       COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(total_tokens), 0)
		FROM requests %s
		GROUP BY hour, provider, model
		ORDER BY hour ASC
	`, where), queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("query hourly stats: %w", err)
	}
	defer rows.Close()

	return scanHourlyRows(rows)
}

// QueryRequests implements Backend.
func (b *SQLiteBackend) QueryRequests(ctx context.Context, f Filter, page Page) (*RequestPage, error) {
	where, args := f.whereClause(dialectSQLite)

	// Aggregates first, over the whole filtered set.
	row := b.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost), 0),
		       COALESCE(AVG(cost), 0)
		FROM requests %s
	`, where), args...)

	result := &RequestPage{}
	if err := row.Scan(&result.Total, &result.TotalTokens, &result.TotalCost, &result.AvgCost); err != nil {
		return nil, fmt.Errorf("query request aggregates: %w", err)
	}

	offset, limit := page.bounds()
	result.Offset = offset
	result.Limit = limit

	pageArgs := append(append([]any{}, args...), limit, offset)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT timestamp, model, COALESCE(provider, 'unknown'),
		       prompt_tokens, completion_tokens, total_tokens,
		       cost, duration_ms,
		       COALESCE(request_data, ''), COALESCE(response_data, '')
		FROM requests %s
		%s
		LIMIT ? OFFSET ?
	`, where, page.orderClause()), pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r RequestRow
		if err := rows.Scan(&r.Timestamp, &r.Model, &r.Provider,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.Cost, &r.DurationMS, &r.RequestData, &r.ResponseData); err != nil {
			return nil, err
		}
		result.Requests = append(result.Requests, r)
	}
	return result, rows.Err()
}

// QueryDateRange implements Backend.
func (b *SQLiteBackend) QueryDateRange(ctx context.Context) (string, string, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(DATE(timestamp)), ''), COALESCE(MAX(DATE(timestamp)), '')
		FROM requests
		WHERE error IS NULL
	`)
	var start, end string
	if err := row.Scan(&start, &end); err != nil {
		return "", "", fmt.Errorf("query date range: %w", err)
	}
	return start, end, nil
}

// ClearErrors implements Backend.
func (b *SQLiteBackend) ClearErrors(ctx context.Context) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM requests WHERE error IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("clear errors: %w", err)
	}
	return result.RowsAffected()
}

// Cleanup implements Backend.
func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM requests WHERE timestamp < ?`,
		before.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
