package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Filter selects ledger rows. Zero values mean "no constraint"; set
// constraints combine with AND semantics. All values are bound as query
// parameters, never interpolated into SQL.
type Filter struct {
	// Since (inclusive) and Until (exclusive) bound the UTC window.
	Since time.Time
	Until time.Time

	Provider string
	Model    string

	MinCost *float64
	MaxCost *float64

	// Search matches the model name or the serialized request/response
	// snapshots, case-blind substring.
	Search string

	// ErrorsOnly selects failure rows; by default only success rows
	// (error IS NULL) are selected. IncludeErrors selects both.
	ErrorsOnly    bool
	IncludeErrors bool
}

// dialect abstracts placeholder style between SQLite and Postgres.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// placeholder returns the n-th (1-based) bind marker.
func (d dialect) placeholder(n int) string {
	if d == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// whereClause renders the filter as a WHERE clause with bound args.
// Timestamps bind as storage-format strings for SQLite and as time.Time
// for Postgres.
func (f Filter) whereClause(d dialect) (string, []any) {
	var conds []string
	var args []any

	add := func(expr string, vals ...any) {
		for _, v := range vals {
			args = append(args, v)
			expr = strings.Replace(expr, "%p", d.placeholder(len(args)), 1)
		}
		conds = append(conds, expr)
	}

	switch {
	case f.ErrorsOnly:
		conds = append(conds, "error IS NOT NULL")
	case !f.IncludeErrors:
		conds = append(conds, "error IS NULL")
	}

	bindTime := func(t time.Time) any {
		if d == dialectPostgres {
			return t.UTC()
		}
		return t.UTC().Format(timeLayout)
	}

	if !f.Since.IsZero() {
		add("timestamp >= %p", bindTime(f.Since))
	}
	if !f.Until.IsZero() {
		add("timestamp < %p", bindTime(f.Until))
	}
	if f.Provider != "" {
		add("provider = %p", f.Provider)
	}
	if f.Model != "" {
		add("model = %p", f.Model)
	}
	if f.MinCost != nil {
		add("cost >= %p", *f.MinCost)
	}
	if f.MaxCost != nil {
		add("cost <= %p", *f.MaxCost)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		if d == dialectPostgres {
			add("(model ILIKE %p OR request_data ILIKE %p OR response_data ILIKE %p)", pattern, pattern, pattern)
		} else {
			add("(model LIKE %p OR request_data LIKE %p OR response_data LIKE %p)", pattern, pattern, pattern)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Page bounds and orders a request listing.
type Page struct {
	Offset int
	Limit  int

	// SortField is one of the sortable columns; SortDesc flips direction.
	// Defaults to timestamp descending.
	SortField string
	SortDesc  bool
}

// sortableColumns whitelists ORDER BY targets. Sorting is the one clause
// that cannot be parameter-bound, so only known column names pass through.
var sortableColumns = map[string]string{
	"timestamp":         "timestamp",
	"model":             "model",
	"provider":          "provider",
	"cost":              "cost",
	"duration_ms":       "duration_ms",
	"total_tokens":      "total_tokens",
	"prompt_tokens":     "prompt_tokens",
	"completion_tokens": "completion_tokens",
}

// orderClause renders a safe ORDER BY for the page.
func (p Page) orderClause() string {
	column, ok := sortableColumns[p.SortField]
	if !ok {
		return "ORDER BY timestamp DESC"
	}
	dir := "ASC"
	if p.SortDesc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s", column, dir)
}

// bounds returns sanitized offset and limit.
func (p Page) bounds() (int, int) {
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return offset, limit
}
