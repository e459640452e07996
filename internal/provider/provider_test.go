package provider

import "testing"

func TestInfer(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"openai/gpt-4o", "openai"},
		{"anthropic/claude-sonnet-4", "anthropic"},
		{"openrouter/meta-llama/llama-3-70b", "openrouter"},
		{"gpt-4o-mini", "openai"},
		{"o1-preview", "openai"},
		{"claude-3-haiku", "anthropic"},
		{"gemini-1.5-pro", "google"},
		{"palm-2", "google"},
		{"mistral-large", "mistral"},
		{"llama-3-8b", "meta"},
		{"something-else", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := Infer(tc.model); got != tc.want {
			t.Errorf("Infer(%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

func TestUpstreamModel(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"openai/gpt-4o", "gpt-4o"},
		{"openrouter/meta-llama/llama-3-70b", "meta-llama/llama-3-70b"},
		{"gpt-4o", "gpt-4o"},
	}
	for _, tc := range cases {
		if got := UpstreamModel(tc.model); got != tc.want {
			t.Errorf("UpstreamModel(%q) = %q, want %q", tc.model, got, tc.want)
		}
	}
}

func TestDefaultBaseURL(t *testing.T) {
	if url, ok := DefaultBaseURL("openai"); !ok || url != "https://api.openai.com/v1" {
		t.Errorf("openai base = %q, %v", url, ok)
	}
	if _, ok := DefaultBaseURL("unheard-of"); ok {
		t.Error("unknown provider should have no default base URL")
	}
}
