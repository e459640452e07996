// Package ledger records every completed request, successful or failed,
// and answers the usage and cost queries built on top of that history.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	log "github.com/pborenstein/apantli/internal/logging"
)

// Ledger fronts a storage backend with in-process counters. Recording
// never blocks a request and never propagates storage errors to the
// caller.
type Ledger struct {
	backend  Backend
	counters Counters
}

// Open creates the backend for cfg, starts its workers, and seeds the
// counters from persisted history.
func Open(cfg Config) (*Ledger, error) {
	backend, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Start(); err != nil {
		return nil, err
	}
	if sb, ok := backend.(*SQLiteBackend); ok {
		log.Infof("ledger: sqlite database at %s", sb.DBPath())
	}

	l := &Ledger{backend: backend}
	l.seed()
	return l, nil
}

func (l *Ledger) seed() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	totals, err := l.backend.QueryTotals(ctx, Filter{})
	if err != nil {
		log.Warnf("ledger: could not seed counters from history: %v", err)
		return
	}
	l.counters.Seed(totals.Requests, totals.PromptTokens, totals.CompletionTokens, totals.Cost)
}

// NewRequestID returns a fresh identifier for one request's record.
func NewRequestID() string {
	return uuid.NewString()
}

// Record writes one terminal outcome. Exactly one call per request; the
// record is queued for async persistence and folded into the counters.
func (l *Ledger) Record(rec Record) {
	if l == nil {
		return
	}
	if rec.RequestID == "" {
		rec.RequestID = NewRequestID()
	}
	rec.normalize()
	l.counters.Observe(rec)
	l.backend.Enqueue(rec)
}

// Backend exposes the query surface.
func (l *Ledger) Backend() Backend { return l.backend }

// Counters returns the process-lifetime totals.
func (l *Ledger) Counters() CountersSnapshot { return l.counters.Snapshot() }

// Close flushes pending records and stops the backend.
func (l *Ledger) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.backend.Flush(ctx); err != nil {
		log.Errorf("ledger: flush on shutdown failed: %v", err)
	}
	return l.backend.Stop()
}
