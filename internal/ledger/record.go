// Package ledger is the append-only usage history. Exactly one record is
// written per completed request, whatever the outcome, and writes never
// block or fail the client-visible response.
package ledger

import (
	"math"
	"time"
)

// Record is one ledger row. Token counts and cost are normalized before
// persistence: never negative, zero when unknown.
type Record struct {
	// RequestID correlates the row with diagnostics for the same request.
	RequestID string

	// Timestamp is when the request completed, always UTC.
	Timestamp time.Time

	// Model is the client-facing alias; Provider the inferred vendor.
	Model    string
	Provider string

	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64

	// Cost in dollars. Zero when pricing data is unavailable.
	Cost float64

	DurationMS int64

	// RequestData is the pre-merge client request snapshot, stored at
	// full fidelity. Secure the database at rest accordingly.
	RequestData []byte

	// ResponseData is the response document, nil for failed requests.
	ResponseData []byte

	// Error is the classified error string, empty on success and on
	// client disconnect.
	Error string
}

// Failed reports whether the record captures a classified failure.
func (r *Record) Failed() bool { return r.Error != "" }

// normalize enforces the stored-record invariants.
func (r *Record) normalize() {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	r.Timestamp = r.Timestamp.UTC()
	if r.Model == "" {
		r.Model = "unknown"
	}
	if r.Provider == "" {
		r.Provider = "unknown"
	}
	if r.PromptTokens < 0 {
		r.PromptTokens = 0
	}
	if r.CompletionTokens < 0 {
		r.CompletionTokens = 0
	}
	if r.TotalTokens < 0 {
		r.TotalTokens = 0
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}
	if r.Cost < 0 || math.IsNaN(r.Cost) || math.IsInf(r.Cost, 0) {
		r.Cost = 0
	}
	if r.DurationMS < 0 {
		r.DurationMS = 0
	}
}

// timeLayout is the storage format for SQLite timestamps. Lexicographic
// order equals chronological order, and SQLite's date functions parse it.
const timeLayout = "2006-01-02 15:04:05.000"
