package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
)

func TestClassifyStatusError(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
		typ    string
		code   string
	}{
		{400, KindValidation, "invalid_request_error", "invalid_request"},
		{401, KindAuthentication, "authentication_error", "invalid_api_key"},
		{403, KindPermission, "permission_denied", "permission_denied"},
		{404, KindModelNotFound, "invalid_request_error", "model_not_found"},
		{408, KindTimeout, "timeout_error", "request_timeout"},
		{429, KindRateLimited, "rate_limit_error", "rate_limit_exceeded"},
		{500, KindUpstreamOverloaded, "service_unavailable", "service_unavailable"},
		{502, KindConnectionFailure, "connection_error", "connection_error"},
		{503, KindUpstreamOverloaded, "service_unavailable", "service_unavailable"},
		{504, KindTimeout, "timeout_error", "request_timeout"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			cls := Classify(&StatusError{StatusCode: tc.status})
			if cls.Kind != tc.kind {
				t.Errorf("kind = %v, want %v", cls.Kind, tc.kind)
			}
			if cls.Status != wireMap[tc.kind].status {
				t.Errorf("status = %d, want %d", cls.Status, wireMap[tc.kind].status)
			}
			if cls.Type != tc.typ || cls.Code != tc.code {
				t.Errorf("wire = %s/%s, want %s/%s", cls.Type, cls.Code, tc.typ, tc.code)
			}
		})
	}
}

func TestClassifyExtractsUpstreamMessage(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"openai envelope", `{"error":{"message":"rate limited hard"}}`, "rate limited hard"},
		{"bare message", `{"message":"slow down"}`, "slow down"},
		{"detail field", `{"detail":"missing scope"}`, "missing scope"},
		{"string error field", `{"error":"boom"}`, "boom"},
		{"plain text", `service melted`, "service melted"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cls := Classify(&StatusError{StatusCode: 429, Body: []byte(tc.body)})
			if cls.Message != tc.want {
				t.Errorf("message = %q, want %q", cls.Message, tc.want)
			}
		})
	}
}

func TestClassifyNetworkAndContext(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"refused", syscall.ECONNREFUSED, KindConnectionFailure},
		{"reset", syscall.ECONNRESET, KindConnectionFailure},
		{"unexpected eof", io.ErrUnexpectedEOF, KindConnectionFailure},
		{"unrecognized", errors.New("what even"), KindInternal},
		{"nil", nil, KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err).Kind; got != tc.kind {
				t.Errorf("Classify(%v).Kind = %v, want %v", tc.err, got, tc.kind)
			}
		})
	}
}

func TestClassifyPreClassifiedPassesThrough(t *testing.T) {
	err := fmt.Errorf("resolve: %w", New(KindModelNotFound, "Model 'x' not found in configuration."))
	cls := Classify(err)
	if cls.Kind != KindModelNotFound || cls.Status != 404 {
		t.Fatalf("got %v/%d", cls.Kind, cls.Status)
	}
	if cls.Message != "Model 'x' not found in configuration." {
		t.Errorf("message = %q", cls.Message)
	}
}

func TestIsClientDisconnect(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"canceled", context.Canceled, true},
		{"wrapped canceled", fmt.Errorf("write: %w", context.Canceled), true},
		{"epipe", syscall.EPIPE, true},
		{"reset", syscall.ECONNRESET, true},
		{"broken pipe text", errors.New("write tcp: broken pipe"), true},
		{"deadline", context.DeadlineExceeded, false},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsClientDisconnect(tc.err); got != tc.want {
				t.Errorf("IsClientDisconnect(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestLedgerString(t *testing.T) {
	cls := Classify(&StatusError{StatusCode: 429, Body: []byte(`{"error":{"message":"slow down"}}`)})
	if got := cls.LedgerString(); got != "RateLimited: slow down" {
		t.Errorf("LedgerString() = %q", got)
	}
}
