package executor

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"

	log "github.com/pborenstein/apantli/internal/logging"
	"github.com/pborenstein/apantli/internal/pricing"
	"github.com/pborenstein/apantli/internal/resolver"
	"github.com/pborenstein/apantli/internal/tokencount"
)

// Usage holds the token counters of one request. Fields are never
// negative; unknown counts are zero.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

func (u *Usage) normalize() {
	if u.PromptTokens < 0 {
		u.PromptTokens = 0
	}
	if u.CompletionTokens < 0 {
		u.CompletionTokens = 0
	}
	if u.TotalTokens <= 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// Outcome is a finalized invocation result ready for the ledger.
type Outcome struct {
	// Response is the upstream response document, nil on failure.
	Response []byte

	Usage    Usage
	Cost     float64
	Duration time.Duration
}

// finalizeOutcome extracts usage from a blocking response, reconstructing
// token counts when the provider omitted them, then prices the request.
func finalizeOutcome(res *resolver.Resolved, body []byte, elapsed time.Duration) *Outcome {
	usage := usageFromResponse(body)
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage = reconstructUsage(res.Invocation.Body, gjson.GetBytes(body, "choices.0.message.content").String())
		if usage.TotalTokens > 0 {
			log.Debugf("executor: %s response carried no usage, reconstructed %d tokens", res.Alias, usage.TotalTokens)
		}
	}
	usage.normalize()
	return &Outcome{
		Response: body,
		Usage:    usage,
		Cost:     pricing.Cost(res.Profile, usage.PromptTokens, usage.CompletionTokens),
		Duration: elapsed,
	}
}

// usageFromResponse reads the standard usage block from a response or
// chunk document.
func usageFromResponse(body []byte) Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return Usage{}
	}
	return Usage{
		PromptTokens:     u.Get("prompt_tokens").Int(),
		CompletionTokens: u.Get("completion_tokens").Int(),
		TotalTokens:      u.Get("total_tokens").Int(),
	}
}

// reconstructUsage estimates token counts from the request messages and
// accumulated completion text.
func reconstructUsage(requestBody []byte, completionText string) Usage {
	return Usage{
		PromptTokens:     tokencount.Messages(requestBody),
		CompletionTokens: tokencount.Text(completionText),
	}
}

// StreamAccumulator folds streamed chunks into a final outcome. It mirrors
// what the blocking path gets in one document: accumulated content, the
// finish reason, and whatever usage counters the terminal chunk carried.
type StreamAccumulator struct {
	res     *resolver.Resolved
	start   time.Time
	content strings.Builder
	usage   Usage
	id      string
	finish  string
	chunks  int
}

// NewStreamAccumulator starts accumulation for a resolved request.
// start is the moment the inbound request arrived, so the final duration
// covers resolution and connection setup too.
func NewStreamAccumulator(res *resolver.Resolved, start time.Time) *StreamAccumulator {
	return &StreamAccumulator{res: res, start: start}
}

// Observe folds one upstream chunk into the accumulated state.
func (a *StreamAccumulator) Observe(chunk []byte) {
	a.chunks++
	parsed := gjson.ParseBytes(chunk)
	if id := parsed.Get("id"); id.Exists() && a.id == "" {
		a.id = id.String()
	}
	if delta := parsed.Get("choices.0.delta.content"); delta.Type == gjson.String {
		a.content.WriteString(delta.String())
	}
	if fr := parsed.Get("choices.0.finish_reason"); fr.Type == gjson.String {
		a.finish = fr.String()
	}
	if u := parsed.Get("usage"); u.Exists() && u.IsObject() {
		a.usage = Usage{
			PromptTokens:     u.Get("prompt_tokens").Int(),
			CompletionTokens: u.Get("completion_tokens").Int(),
			TotalTokens:      u.Get("total_tokens").Int(),
		}
	}
}

// Chunks reports how many chunks have been observed.
func (a *StreamAccumulator) Chunks() int { return a.chunks }

// Content returns the accumulated completion text.
func (a *StreamAccumulator) Content() string { return a.content.String() }

// Finalize prices whatever has accumulated so far and returns the outcome.
// Valid at any terminal state, including mid-stream disconnect, where the
// partial accumulation is what gets accounted.
func (a *StreamAccumulator) Finalize() *Outcome {
	usage := a.usage
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 && a.content.Len() > 0 {
		usage = reconstructUsage(a.res.Invocation.Body, a.content.String())
	}
	usage.normalize()
	return &Outcome{
		Response: a.responseDoc(usage),
		Usage:    usage,
		Cost:     pricing.Cost(a.res.Profile, usage.PromptTokens, usage.CompletionTokens),
		Duration: time.Since(a.start),
	}
}

// responseDoc builds a whole-response document from the accumulated
// stream, shaped like the blocking path's response for the ledger.
func (a *StreamAccumulator) responseDoc(usage Usage) []byte {
	doc := map[string]any{
		"id":    a.id,
		"model": a.res.Profile.Model,
		"choices": []any{
			map[string]any{
				"message": map[string]any{
					"role":    "assistant",
					"content": a.content.String(),
				},
				"finish_reason": a.finish,
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		},
	}
	encoded, err := sonic.Marshal(doc)
	if err != nil {
		return nil
	}
	return encoded
}
