package ledger

import (
	"strings"
	"testing"
	"time"
)

func TestWhereClauseDefaultExcludesErrors(t *testing.T) {
	where, args := Filter{}.whereClause(dialectSQLite)
	if where != "WHERE error IS NULL" {
		t.Errorf("where = %q", where)
	}
	if len(args) != 0 {
		t.Errorf("args = %v", args)
	}
}

func TestWhereClauseBindsEverything(t *testing.T) {
	minCost, maxCost := 0.1, 0.9
	f := Filter{
		Since:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Until:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Provider: "openai",
		Model:    "gpt'; DROP TABLE requests; --",
		MinCost:  &minCost,
		MaxCost:  &maxCost,
		Search:   "%injection%",
	}
	where, args := f.whereClause(dialectSQLite)

	// Every value travels as a bind parameter: 2 times, provider, model,
	// 2 costs, search three ways.
	if got := strings.Count(where, "?"); got != 9 {
		t.Errorf("placeholders = %d, want 9 in %q", got, where)
	}
	if len(args) != 9 {
		t.Errorf("args = %d", len(args))
	}
	if strings.Contains(where, "DROP TABLE") {
		t.Error("filter values must never appear in SQL text")
	}
	if args[0] != "2026-03-01 00:00:00.000" {
		t.Errorf("sqlite binds timestamps as storage strings, got %v", args[0])
	}
}

func TestWhereClausePostgresPlaceholders(t *testing.T) {
	f := Filter{Provider: "openai", Model: "gpt-4o"}
	where, args := f.whereClause(dialectPostgres)
	if !strings.Contains(where, "$1") || !strings.Contains(where, "$2") {
		t.Errorf("where = %q", where)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}

func TestWhereClausePostgresBindsTime(t *testing.T) {
	f := Filter{Since: time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))}
	_, args := f.whereClause(dialectPostgres)
	ts, ok := args[0].(time.Time)
	if !ok {
		t.Fatalf("postgres binds time.Time, got %T", args[0])
	}
	if ts.Location() != time.UTC {
		t.Errorf("bound time should be UTC, got %v", ts)
	}
}

func TestOrderClauseWhitelist(t *testing.T) {
	cases := []struct {
		page Page
		want string
	}{
		{Page{}, "ORDER BY timestamp DESC"},
		{Page{SortField: "cost"}, "ORDER BY cost ASC"},
		{Page{SortField: "cost", SortDesc: true}, "ORDER BY cost DESC"},
		{Page{SortField: "1; DELETE FROM requests"}, "ORDER BY timestamp DESC"},
	}
	for _, tc := range cases {
		if got := tc.page.orderClause(); got != tc.want {
			t.Errorf("orderClause(%+v) = %q, want %q", tc.page, got, tc.want)
		}
	}
}

func TestPageBounds(t *testing.T) {
	cases := []struct {
		page       Page
		wantOffset int
		wantLimit  int
	}{
		{Page{}, 0, 50},
		{Page{Offset: -5, Limit: -1}, 0, 50},
		{Page{Offset: 10, Limit: 100}, 10, 100},
		{Page{Limit: 5000}, 0, 200},
	}
	for _, tc := range cases {
		offset, limit := tc.page.bounds()
		if offset != tc.wantOffset || limit != tc.wantLimit {
			t.Errorf("bounds(%+v) = %d,%d want %d,%d", tc.page, offset, limit, tc.wantOffset, tc.wantLimit)
		}
	}
}

func TestTzModifier(t *testing.T) {
	cases := []struct {
		offset int
		want   string
	}{
		{0, "+00:00"},
		{330, "+05:30"},
		{-480, "-08:00"},
		{840, "+14:00"},
		{-720, "-12:00"},
		{45, "+00:45"},
	}
	for _, tc := range cases {
		if got := tzModifier(tc.offset); got != tc.want {
			t.Errorf("tzModifier(%d) = %q, want %q", tc.offset, got, tc.want)
		}
	}
}
