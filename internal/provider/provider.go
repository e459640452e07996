// Package provider abstracts upstream LLM vendors. The gateway speaks the
// OpenAI chat-completions wire format to every upstream; the provider name
// is inferred from the model identifier and selects the endpoint.
package provider

import (
	"context"
	"strings"
)

// Stream is a pull-based sequence of SSE payloads from an upstream call.
// Next returns io.EOF after the terminal [DONE] sentinel or when the
// producer is exhausted. Close is idempotent.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// Invocation is a prepared upstream call: the merged request body with
// bookkeeping fields already stripped, plus routing data that never goes
// on the wire.
type Invocation struct {
	// Body is the JSON forwarded upstream. Its "model" field holds the
	// bare upstream model name without the provider prefix.
	Body []byte

	// Provider is the inferred vendor name ("openai", "anthropic", ...).
	Provider string

	// BaseURL is the endpoint root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is the resolved credential.
	APIKey string
}

// Client invokes an upstream provider.
type Client interface {
	// Invoke performs a blocking call and returns the full response body.
	Invoke(ctx context.Context, inv Invocation) ([]byte, error)

	// InvokeStream performs a streaming call and returns a chunk sequence.
	InvokeStream(ctx context.Context, inv Invocation) (Stream, error)
}

// Infer derives the provider name from an upstream model identifier.
// A "provider/" prefix wins; otherwise well-known name patterns decide.
func Infer(model string) string {
	if model == "" {
		return "unknown"
	}
	if idx := strings.IndexByte(model, '/'); idx > 0 {
		return model[:idx]
	}
	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-"),
		strings.HasPrefix(lower, "o1-"),
		strings.HasPrefix(lower, "text-davinci"),
		strings.HasPrefix(lower, "text-curie"):
		return "openai"
	case strings.Contains(lower, "claude"):
		return "anthropic"
	case strings.HasPrefix(lower, "gemini"), strings.HasPrefix(lower, "palm"):
		return "google"
	case strings.HasPrefix(lower, "mistral"):
		return "mistral"
	case strings.HasPrefix(lower, "llama"):
		return "meta"
	default:
		return "unknown"
	}
}

// UpstreamModel strips the provider prefix from a model identifier, giving
// the name the vendor expects on the wire.
func UpstreamModel(model string) string {
	if idx := strings.IndexByte(model, '/'); idx > 0 {
		return model[idx+1:]
	}
	return model
}

// defaultBaseURLs maps providers with OpenAI-compatible endpoints to their
// public API roots. Profiles may override with base_url.
var defaultBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"mistral":    "https://api.mistral.ai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"together":   "https://api.together.xyz/v1",
	"anthropic":  "https://api.anthropic.com/v1",
	"google":     "https://generativelanguage.googleapis.com/v1beta/openai",
}

// DefaultBaseURL returns the public endpoint for a provider, if known.
func DefaultBaseURL(provider string) (string, bool) {
	url, ok := defaultBaseURLs[provider]
	return url, ok
}
