package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/pborenstein/apantli/internal/apperr"
	"github.com/pborenstein/apantli/internal/executor"
	"github.com/pborenstein/apantli/internal/ledger"
	log "github.com/pborenstein/apantli/internal/logging"
	"github.com/pborenstein/apantli/internal/metrics"
	"github.com/pborenstein/apantli/internal/relay"
	"github.com/pborenstein/apantli/internal/resolver"
)

// maxRequestBody bounds inbound request size at 10 MiB.
const maxRequestBody = 10 << 20

// handleChat serves both /v1/chat/completions and /chat/completions.
// Every path out of here, success or failure, writes exactly one ledger
// record.
func (s *Server) handleChat(c *gin.Context) {
	start := time.Now()
	requestID := ledger.NewRequestID()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody+1))
	if err != nil {
		cls := apperr.Classify(apperr.Newf(apperr.KindValidation, "could not read request body: %v", err))
		s.failChat(c, requestID, nil, nil, cls, start)
		return
	}
	if len(body) > maxRequestBody {
		cls := apperr.Classify(apperr.New(apperr.KindValidation, "request body exceeds 10MB limit"))
		s.failChat(c, requestID, nil, nil, cls, start)
		return
	}

	res, err := resolver.Resolve(s.store.Snapshot(), body)
	if err != nil {
		cls := apperr.Classify(err)
		s.failChat(c, requestID, body, nil, cls, start)
		return
	}

	if res.Streaming {
		s.streamChat(c, requestID, res, start)
		return
	}

	outcome, err := s.exec.Complete(c.Request.Context(), res)
	if err != nil {
		cls := apperr.Classify(err)
		s.failChat(c, requestID, res.Snapshot, res, cls, start)
		return
	}

	s.recordSuccess(requestID, res, outcome, "success")
	c.Data(http.StatusOK, "application/json", outcome.Response)
}

// streamChat relays an upstream SSE stream and accounts whatever portion
// of it the client received.
func (s *Server) streamChat(c *gin.Context, requestID string, res *resolver.Resolved, start time.Time) {
	stream, err := s.exec.StartStream(c.Request.Context(), res)
	if err != nil {
		cls := apperr.Classify(err)
		s.failChat(c, requestID, res.Snapshot, res, cls, start)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	streamDone := metrics.StreamStarted()
	defer streamDone()

	acc := executor.NewStreamAccumulator(res, start)
	result := relay.Run(c.Request.Context(), c.Writer, stream, acc)
	outcome := acc.Finalize()

	switch result.State {
	case relay.StateFailed:
		cls := apperr.Classify(result.Err)
		log.Warnf("chat: stream for %s failed after %d chunk(s): %s", res.Alias, result.Chunks, cls.LedgerString())
		s.recordFailure(requestID, res.Snapshot, res, cls, outcome.Duration)
	case relay.StateDisconnected:
		// Neutral terminal state: the partial accumulation is priced and
		// stored with no error.
		s.recordSuccess(requestID, res, outcome, "disconnect")
	default:
		s.recordSuccess(requestID, res, outcome, "success")
	}
}

// failChat answers with the classified wire shape and records the failure.
func (s *Server) failChat(c *gin.Context, requestID string, body []byte, res *resolver.Resolved, cls apperr.Classification, start time.Time) {
	s.recordFailure(requestID, body, res, cls, time.Since(start))
	c.JSON(cls.Status, cls.Body())
}

func (s *Server) recordSuccess(requestID string, res *resolver.Resolved, outcome *executor.Outcome, metric string) {
	s.ledger.Record(ledger.Record{
		RequestID:        requestID,
		Model:            res.Alias,
		Provider:         res.Provider,
		PromptTokens:     outcome.Usage.PromptTokens,
		CompletionTokens: outcome.Usage.CompletionTokens,
		TotalTokens:      outcome.Usage.TotalTokens,
		Cost:             outcome.Cost,
		DurationMS:       outcome.Duration.Milliseconds(),
		RequestData:      res.Snapshot,
		ResponseData:     outcome.Response,
	})
	metrics.ObserveRequest(res.Provider, res.Alias, metric, outcome.Duration)
	metrics.ObserveUsage(res.Provider, res.Alias, outcome.Usage.PromptTokens, outcome.Usage.CompletionTokens, outcome.Cost)
}

func (s *Server) recordFailure(requestID string, body []byte, res *resolver.Resolved, cls apperr.Classification, elapsed time.Duration) {
	rec := ledger.Record{
		RequestID:   requestID,
		DurationMS:  elapsed.Milliseconds(),
		RequestData: body,
		Error:       cls.LedgerString(),
	}
	if res != nil {
		rec.Model = res.Alias
		rec.Provider = res.Provider
	} else if len(body) > 0 {
		rec.Model = gjson.GetBytes(body, "model").String()
	}
	if rec.Model == "" {
		rec.Model = "unknown"
	}
	if rec.Provider == "" {
		rec.Provider = "unknown"
	}
	s.ledger.Record(rec)
	metrics.ObserveRequest(rec.Provider, rec.Model, "error", elapsed)
}
