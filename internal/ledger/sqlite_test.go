package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "ledger.db"), Config{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func put(t *testing.T, b *SQLiteBackend, recs ...Record) {
	t.Helper()
	for _, rec := range recs {
		b.Enqueue(rec)
	}
	if err := b.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(timeLayout, value)
	if err != nil {
		t.Fatal(err)
	}
	return ts.UTC()
}

func TestTotalsExcludeErrorsByDefault(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Model: "m1", Provider: "openai", PromptTokens: 100, CompletionTokens: 50, Cost: 0.01, DurationMS: 200},
		Record{Model: "m1", Provider: "openai", PromptTokens: 10, CompletionTokens: 5, Cost: 0.001, DurationMS: 100},
		Record{Model: "m1", Provider: "openai", Error: "RateLimited: slow down"},
	)

	totals, err := b.QueryTotals(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if totals.Requests != 2 {
		t.Errorf("requests = %d, want 2 (errors excluded)", totals.Requests)
	}
	if totals.PromptTokens != 110 || totals.CompletionTokens != 55 {
		t.Errorf("tokens = %d/%d", totals.PromptTokens, totals.CompletionTokens)
	}
	if totals.Cost < 0.0109 || totals.Cost > 0.0111 {
		t.Errorf("cost = %v, want ~0.011", totals.Cost)
	}

	totals, err = b.QueryTotals(context.Background(), Filter{ErrorsOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if totals.Requests != 1 {
		t.Errorf("errors-only requests = %d, want 1", totals.Requests)
	}

	totals, err = b.QueryTotals(context.Background(), Filter{IncludeErrors: true})
	if err != nil {
		t.Fatal(err)
	}
	if totals.Requests != 3 {
		t.Errorf("include-errors requests = %d, want 3", totals.Requests)
	}
}

func TestBreakdowns(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Model: "fast", Provider: "openai", TotalTokens: 100, Cost: 0.01},
		Record{Model: "fast", Provider: "openai", TotalTokens: 100, Cost: 0.01},
		Record{Model: "smart", Provider: "anthropic", TotalTokens: 500, Cost: 0.50},
	)

	models, err := b.QueryModelBreakdown(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("model rows = %d", len(models))
	}
	if models[0].Model != "smart" {
		t.Errorf("breakdown should order by cost desc, got %q first", models[0].Model)
	}
	if models[1].Requests != 2 || models[1].Tokens != 200 {
		t.Errorf("fast row = %+v", models[1])
	}

	providers, err := b.QueryProviderBreakdown(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(providers) != 2 || providers[0].Provider != "anthropic" {
		t.Errorf("provider rows = %+v", providers)
	}
}

func TestRequestPageAggregatesWholeFilteredSet(t *testing.T) {
	b := newTestBackend(t)
	var recs []Record
	for i := 0; i < 30; i++ {
		recs = append(recs, Record{
			Timestamp:   at(t, "2026-03-10 12:00:00.000").Add(time.Duration(i) * time.Minute),
			Model:       "m",
			Provider:    "openai",
			TotalTokens: 10,
			Cost:        0.001,
		})
	}
	put(t, b, recs...)

	page, err := b.QueryRequests(context.Background(), Filter{}, Page{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Requests) != 10 {
		t.Errorf("page rows = %d, want 10", len(page.Requests))
	}
	if page.Total != 30 {
		t.Errorf("total = %d, want 30 (whole filtered set)", page.Total)
	}
	if page.TotalTokens != 300 {
		t.Errorf("total tokens = %d, want 300", page.TotalTokens)
	}
	if page.TotalCost < 0.0299 || page.TotalCost > 0.0301 {
		t.Errorf("total cost = %v, want ~0.03", page.TotalCost)
	}
	// Default ordering is newest first.
	if page.Requests[0].Timestamp < page.Requests[9].Timestamp {
		t.Error("default sort should be timestamp descending")
	}

	// Second page continues the same ordering.
	page2, err := b.QueryRequests(context.Background(), Filter{}, Page{Offset: 10, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if page2.Requests[0].Timestamp >= page.Requests[9].Timestamp {
		t.Error("second page should be older than the first")
	}
	if page2.Total != 30 {
		t.Errorf("aggregates must not depend on the page, total = %d", page2.Total)
	}
}

func TestRequestPageLimitClamp(t *testing.T) {
	b := newTestBackend(t)
	put(t, b, Record{Model: "m", Provider: "openai"})

	page, err := b.QueryRequests(context.Background(), Filter{}, Page{Limit: 10000})
	if err != nil {
		t.Fatal(err)
	}
	if page.Limit != 200 {
		t.Errorf("limit = %d, want clamp at 200", page.Limit)
	}
}

func TestRequestFilterSearchAndCost(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Model: "fast", Provider: "openai", Cost: 0.001, RequestData: []byte(`{"messages":[{"content":"weather in oslo"}]}`)},
		Record{Model: "smart", Provider: "anthropic", Cost: 0.9, RequestData: []byte(`{"messages":[{"content":"write a poem"}]}`)},
	)

	page, err := b.QueryRequests(context.Background(), Filter{Search: "oslo"}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Requests[0].Model != "fast" {
		t.Errorf("search result = %+v", page.Requests)
	}

	minCost := 0.5
	page, err = b.QueryRequests(context.Background(), Filter{MinCost: &minCost}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Requests[0].Model != "smart" {
		t.Errorf("min_cost result = %+v", page.Requests)
	}

	page, err = b.QueryRequests(context.Background(), Filter{Provider: "openai"}, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || page.Requests[0].Provider != "openai" {
		t.Errorf("provider result = %+v", page.Requests)
	}
}

func TestTimeWindowBoundsAreHalfOpen(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Timestamp: at(t, "2026-03-10 11:59:59.999"), Model: "m", Provider: "p"},
		Record{Timestamp: at(t, "2026-03-10 12:00:00.000"), Model: "m", Provider: "p"},
		Record{Timestamp: at(t, "2026-03-10 13:00:00.000"), Model: "m", Provider: "p"},
	)

	totals, err := b.QueryTotals(context.Background(), Filter{
		Since: at(t, "2026-03-10 12:00:00.000"),
		Until: at(t, "2026-03-10 13:00:00.000"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if totals.Requests != 1 {
		t.Errorf("requests = %d, want 1 (since inclusive, until exclusive)", totals.Requests)
	}
}

func TestDailyBucketsShiftAcrossBoundaries(t *testing.T) {
	b := newTestBackend(t)
	// 23:00 UTC on Jan 31: next day in IST, same day in PST.
	// 20:00 UTC on Dec 31: next year in IST.
	put(t, b,
		Record{Timestamp: at(t, "2026-01-31 23:00:00.000"), Model: "m", Provider: "p", TotalTokens: 10, Cost: 0.01},
		Record{Timestamp: at(t, "2025-12-31 20:00:00.000"), Model: "m", Provider: "p", TotalTokens: 20, Cost: 0.02},
	)

	ist, err := b.QueryDaily(context.Background(), Filter{}, 330)
	if err != nil {
		t.Fatal(err)
	}
	if len(ist) != 2 {
		t.Fatalf("ist buckets = %+v", ist)
	}
	if ist[0].Date != "2026-02-01" || ist[1].Date != "2026-01-01" {
		t.Errorf("ist dates = %s, %s", ist[0].Date, ist[1].Date)
	}

	pst, err := b.QueryDaily(context.Background(), Filter{}, -480)
	if err != nil {
		t.Fatal(err)
	}
	if pst[0].Date != "2026-01-31" || pst[1].Date != "2025-12-31" {
		t.Errorf("pst dates = %s, %s", pst[0].Date, pst[1].Date)
	}

	utc, err := b.QueryDaily(context.Background(), Filter{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if utc[0].Date != "2026-01-31" || utc[1].Date != "2025-12-31" {
		t.Errorf("utc dates = %s, %s", utc[0].Date, utc[1].Date)
	}
}

func TestDailyBucketModelSlices(t *testing.T) {
	b := newTestBackend(t)
	ts := at(t, "2026-03-10 10:00:00.000")
	put(t, b,
		Record{Timestamp: ts, Model: "fast", Provider: "openai", TotalTokens: 10, Cost: 0.01},
		Record{Timestamp: ts, Model: "fast", Provider: "openai", TotalTokens: 10, Cost: 0.01},
		Record{Timestamp: ts, Model: "smart", Provider: "anthropic", TotalTokens: 50, Cost: 0.5},
	)

	buckets, err := b.QueryDaily(context.Background(), Filter{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 1 {
		t.Fatalf("buckets = %+v", buckets)
	}
	day := buckets[0]
	if day.Requests != 3 || day.TotalTokens != 70 {
		t.Errorf("day totals = %+v", day)
	}
	if len(day.ByModel) != 2 {
		t.Errorf("by_model = %+v", day.ByModel)
	}
}

func TestHourlyBucketsShiftByOffset(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Timestamp: at(t, "2026-03-10 23:30:00.000"), Model: "m", Provider: "p", Cost: 0.01},
	)

	// +05:30 puts 23:30 UTC at 05:00 local next day.
	buckets, err := b.QueryHourly(context.Background(), Filter{}, 330)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 1 || buckets[0].Hour != 5 {
		t.Errorf("ist hourly = %+v", buckets)
	}

	// -08:00 puts 23:30 UTC at 15:30 local.
	buckets, err = b.QueryHourly(context.Background(), Filter{}, -480)
	if err != nil {
		t.Fatal(err)
	}
	if len(buckets) != 1 || buckets[0].Hour != 15 {
		t.Errorf("pst hourly = %+v", buckets)
	}
}

func TestRecentErrors(t *testing.T) {
	b := newTestBackend(t)
	base := at(t, "2026-03-10 10:00:00.000")
	var recs []Record
	for i := 0; i < 15; i++ {
		recs = append(recs, Record{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Model:     "m",
			Provider:  "p",
			Error:     "Timeout: request timed out",
		})
	}
	put(t, b, recs...)

	errs, err := b.QueryRecentErrors(context.Background(), Filter{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 10 {
		t.Errorf("errors = %d, want limit 10", len(errs))
	}
	if errs[0].Timestamp < errs[9].Timestamp {
		t.Error("recent errors should be newest first")
	}
	if errs[0].Error != "Timeout: request timed out" {
		t.Errorf("error = %q", errs[0].Error)
	}
}

func TestClearErrors(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Model: "m", Provider: "p"},
		Record{Model: "m", Provider: "p", Error: "InternalError: boom"},
		Record{Model: "m", Provider: "p", Error: "InternalError: boom"},
	)

	deleted, err := b.ClearErrors(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	totals, err := b.QueryTotals(context.Background(), Filter{IncludeErrors: true})
	if err != nil {
		t.Fatal(err)
	}
	if totals.Requests != 1 {
		t.Errorf("remaining = %d, want the success row only", totals.Requests)
	}
}

func TestCleanupRemovesOldRows(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Timestamp: at(t, "2025-01-01 00:00:00.000"), Model: "m", Provider: "p"},
		Record{Timestamp: at(t, "2026-03-01 00:00:00.000"), Model: "m", Provider: "p"},
	)

	deleted, err := b.Cleanup(context.Background(), at(t, "2026-01-01 00:00:00.000"))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestDateRangeExcludesErrors(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Timestamp: at(t, "2026-02-01 10:00:00.000"), Model: "m", Provider: "p"},
		Record{Timestamp: at(t, "2026-03-05 10:00:00.000"), Model: "m", Provider: "p"},
		Record{Timestamp: at(t, "2026-03-20 10:00:00.000"), Model: "m", Provider: "p", Error: "x: y"},
	)

	start, end, err := b.QueryDateRange(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if start != "2026-02-01" || end != "2026-03-05" {
		t.Errorf("range = %s .. %s", start, end)
	}
}

func TestSortWhitelist(t *testing.T) {
	b := newTestBackend(t)
	put(t, b,
		Record{Model: "a", Provider: "p", Cost: 0.5},
		Record{Model: "b", Provider: "p", Cost: 0.1},
	)

	page, err := b.QueryRequests(context.Background(), Filter{}, Page{SortField: "cost", SortDesc: true})
	if err != nil {
		t.Fatal(err)
	}
	if page.Requests[0].Model != "a" {
		t.Errorf("cost desc should put the expensive row first, got %+v", page.Requests)
	}

	// Unknown sort fields fall back to timestamp rather than reaching SQL.
	if _, err := b.QueryRequests(context.Background(), Filter{}, Page{SortField: "cost; DROP TABLE requests"}); err != nil {
		t.Fatalf("hostile sort field should be ignored, got %v", err)
	}
	if _, err := b.QueryTotals(context.Background(), Filter{}); err != nil {
		t.Fatalf("table should survive: %v", err)
	}
}
