// Package stats turns ledger history into the reporting payloads served
// by the API: overall totals, per-model and per-provider breakdowns, and
// daily or hourly buckets in the client's local time.
package stats

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pborenstein/apantli/internal/ledger"
)

const recentErrorLimit = 10

// Overview is the combined stats payload.
type Overview struct {
	Totals       *ledger.Totals             `json:"totals"`
	ByModel      []ledger.ModelBreakdown    `json:"by_model"`
	ByProvider   []ledger.ProviderBreakdown `json:"by_provider"`
	Performance  []ledger.Performance       `json:"performance"`
	RecentErrors []ledger.ErrorEntry        `json:"recent_errors"`
}

// DateRange bounds the data available for reporting.
type DateRange struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// Service answers reporting queries against a ledger backend.
type Service struct {
	backend ledger.Backend
}

// NewService wraps a backend.
func NewService(backend ledger.Backend) *Service {
	return &Service{backend: backend}
}

func windowFilter(w Window, f ledger.Filter) ledger.Filter {
	f.Since = w.Since
	f.Until = w.Until
	return f
}

// Overview gathers totals, breakdowns, performance, and recent errors
// for the window. The component queries run concurrently.
func (s *Service) Overview(ctx context.Context, w Window, f ledger.Filter) (*Overview, error) {
	f = windowFilter(w, f)
	out := &Overview{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		totals, err := s.backend.QueryTotals(gctx, f)
		out.Totals = totals
		return err
	})
	g.Go(func() error {
		models, err := s.backend.QueryModelBreakdown(gctx, f)
		out.ByModel = models
		return err
	})
	g.Go(func() error {
		providers, err := s.backend.QueryProviderBreakdown(gctx, f)
		out.ByProvider = providers
		return err
	})
	g.Go(func() error {
		perf, err := s.backend.QueryPerformance(gctx, f)
		out.Performance = perf
		return err
	})
	g.Go(func() error {
		errs, err := s.backend.QueryRecentErrors(gctx, f, recentErrorLimit)
		out.RecentErrors = errs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if out.ByModel == nil {
		out.ByModel = []ledger.ModelBreakdown{}
	}
	if out.ByProvider == nil {
		out.ByProvider = []ledger.ProviderBreakdown{}
	}
	if out.Performance == nil {
		out.Performance = []ledger.Performance{}
	}
	if out.RecentErrors == nil {
		out.RecentErrors = []ledger.ErrorEntry{}
	}
	return out, nil
}

// Daily returns per-local-day buckets, newest first.
func (s *Service) Daily(ctx context.Context, w Window, f ledger.Filter) ([]ledger.DailyBucket, error) {
	buckets, err := s.backend.QueryDaily(ctx, windowFilter(w, f), w.OffsetMinutes)
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []ledger.DailyBucket{}
	}
	return buckets, nil
}

// Hourly returns all 24 local hours, zero-filled where no traffic fell.
func (s *Service) Hourly(ctx context.Context, w Window, f ledger.Filter) ([]ledger.HourlyBucket, error) {
	buckets, err := s.backend.QueryHourly(ctx, windowFilter(w, f), w.OffsetMinutes)
	if err != nil {
		return nil, err
	}

	filled := make([]ledger.HourlyBucket, 24)
	for h := range filled {
		filled[h] = ledger.HourlyBucket{Hour: h, ByModel: []ledger.ModelSlice{}}
	}
	for _, b := range buckets {
		if b.Hour < 0 || b.Hour > 23 {
			continue
		}
		filled[b.Hour] = b
	}
	return filled, nil
}

// DateRange reports the span of recorded data.
func (s *Service) DateRange(ctx context.Context) (*DateRange, error) {
	start, end, err := s.backend.QueryDateRange(ctx)
	if err != nil {
		return nil, err
	}
	return &DateRange{Start: start, End: end}, nil
}
