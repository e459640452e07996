package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresBackend persists the ledger in Postgres. It shares the write
// queue discipline with the SQLite backend; only the SQL differs.
type PostgresBackend struct {
	db    *sql.DB
	queue *writeQueue
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS requests (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL,
	model TEXT NOT NULL,
	provider TEXT,
	prompt_tokens BIGINT NOT NULL DEFAULT 0,
	completion_tokens BIGINT NOT NULL DEFAULT 0,
	total_tokens BIGINT NOT NULL DEFAULT 0,
	cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	request_data TEXT,
	response_data TEXT,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
CREATE INDEX IF NOT EXISTS idx_requests_provider_model ON requests(provider, model);
`

// tsLocal renders a timestamp expression shifted by the client offset.
// The offset placeholder must be bound as minutes east of UTC.
func tsLocal(offsetPlaceholder string) string {
	return fmt.Sprintf("(timestamp AT TIME ZONE 'UTC' + make_interval(mins => %s))", offsetPlaceholder)
}

// NewPostgresBackend connects to the database named by dsn.
func NewPostgresBackend(dsn string, cfg Config) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	b := &PostgresBackend{db: db}
	b.queue = newWriteQueue(cfg, b.writeBatch, b.Cleanup)
	return b, nil
}

// Start launches the background write and cleanup loops.
func (b *PostgresBackend) Start() error {
	b.queue.start()
	return nil
}

// Stop drains pending writes and closes the pool.
func (b *PostgresBackend) Stop() error {
	if b == nil {
		return nil
	}
	b.queue.stop()
	return b.db.Close()
}

// Enqueue implements Backend.
func (b *PostgresBackend) Enqueue(rec Record) {
	if b == nil {
		return
	}
	b.queue.enqueue(rec)
}

// Flush implements Backend.
func (b *PostgresBackend) Flush(ctx context.Context) error {
	if b == nil {
		return nil
	}
	return b.queue.flush(ctx)
}

func (b *PostgresBackend) writeBatch(ctx context.Context, batch []Record) error {
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		_, err := stmt.ExecContext(ctx,
			rec.RequestID,
			rec.Timestamp.UTC(),
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

// QueryTotals implements Backend.
func (b *PostgresBackend) QueryTotals(ctx context.Context, f Filter) (*Totals, error) {
	where, args := f.whereClause(dialectPostgres)
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
func (b *PostgresBackend) QueryModelBreakdown(ctx context.Context, f Filter) ([]ModelBreakdown, error) {
	where, args := f.whereClause(dialectPostgres)
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
func (b *PostgresBackend) QueryProviderBreakdown(ctx context.Context, f Filter) ([]ProviderBreakdown, error) {
	where, args := f.whereClause(dialectPostgres)
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
func (b *PostgresBackend) QueryPerformance(ctx context.Context, f Filter) ([]Performance, error) {
	where, args := f.whereClause(dialectPostgres)
	conj := "WHERE"
	if where != "" {
		conj = where + " AND"
	}
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT model,
		       COUNT(*),
		       AVG(completion_tokens::DOUBLE PRECISION / (duration_ms::DOUBLE PRECISION / 1000.0)),
		       AVG(duration_ms),
		       MIN(completion_tokens::DOUBLE PRECISION / (duration_ms::DOUBLE PRECISION / 1000.0)),
		       MAX(completion_tokens::DOUBLE PRECISION / (duration_ms::DOUBLE PRECISION / 1000.0)),
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
func (b *PostgresBackend) QueryRecentErrors(ctx context.Context, f Filter, limit int) ([]ErrorEntry, error) {
	f.ErrorsOnly = true
	where, args := f.whereClause(dialectPostgres)
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI:SS.MS'), model, error
		FROM requests %s
		ORDER BY timestamp DESC
		LIMIT $%d
	`, where, len(args)), args...)
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

// QueryDaily implements Backend.
func (b *PostgresBackend) QueryDaily(ctx context.Context, f Filter, offsetMinutes int) ([]DailyBucket, error) {
	where, args := f.whereClause(dialectPostgres)
	args = append(args, offsetMinutes)
	local := tsLocal(fmt.Sprintf("$%d", len(args)))
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT to_char(%s, 'YYYY-MM-DD') AS day, COALESCE(provider, 'unknown'), model,
		       COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(total_tokens), 0)
		FROM requests %s
		GROUP BY day, provider, model
		ORDER BY day DESC
	`, local, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	return scanDailyRows(rows)
}

// QueryHourly implements Backend.
func (b *PostgresBackend) QueryHourly(ctx context.Context, f Filter, offsetMinutes int) ([]HourlyBucket, error) {
	where, args := f.whereClause(dialectPostgres)
	args = append(args, offsetMinutes)
	local := tsLocal(fmt.Sprintf("$%d", len(args)))
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT EXTRACT(HOUR FROM %s)::INT AS hour, COALESCE(provider, 'unknown'), model,
		       COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(total_tokens), 0)
		FROM requests %s
		GROUP BY hour, provider, model
		ORDER BY hour ASC
	`, local, where), args...)
	if err != nil {
		return nil, fmt.Errorf("query hourly stats: %w", err)
	}
	defer rows.Close()

	return scanHourlyRows(rows)
}

// QueryRequests implements Backend.
func (b *PostgresBackend) QueryRequests(ctx context.Context, f Filter, page Page) (*RequestPage, error) {
	where, args := f.whereClause(dialectPostgres)

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
		SELECT to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD HH24:MI:SS.MS'), model, COALESCE(provider, 'unknown'),
		       prompt_tokens, completion_tokens, total_tokens,
		       cost, duration_ms,
		       COALESCE(request_data, ''), COALESCE(response_data, '')
		FROM requests %s
		%s
		LIMIT $%d OFFSET $%d
	`, where, page.orderClause(), len(pageArgs)-1, len(pageArgs)), pageArgs...)
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
func (b *PostgresBackend) QueryDateRange(ctx context.Context) (string, string, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT COALESCE(to_char(MIN(timestamp AT TIME ZONE 'UTC'), 'YYYY-MM-DD'), ''),
		       COALESCE(to_char(MAX(timestamp AT TIME ZONE 'UTC'), 'YYYY-MM-DD'), '')
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
func (b *PostgresBackend) ClearErrors(ctx context.Context) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM requests WHERE error IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("clear errors: %w", err)
	}
	return result.RowsAffected()
}

// Cleanup implements Backend.
func (b *PostgresBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM requests WHERE timestamp < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
