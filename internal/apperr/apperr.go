// Package apperr defines the closed failure taxonomy for the gateway and
// the classifier that maps raw errors onto it. Every failure a client can
// observe, and every error string the ledger stores, goes through here.
package apperr

import (
	"fmt"
)

// Kind enumerates the failure taxonomy. The set is closed: classification
// is a total function and anything unrecognised lands on KindInternal.
type Kind int

const (
	KindInternal Kind = iota
	KindModelNotFound
	KindValidation
	KindAuthentication
	KindPermission
	KindRateLimited
	KindUpstreamOverloaded
	KindConnectionFailure
	KindTimeout
)

// String returns the error name recorded in ledger rows.
func (k Kind) String() string {
	switch k {
	case KindModelNotFound:
		return "ModelNotFound"
	case KindValidation:
		return "ValidationError"
	case KindAuthentication:
		return "AuthenticationError"
	case KindPermission:
		return "PermissionError"
	case KindRateLimited:
		return "RateLimited"
	case KindUpstreamOverloaded:
		return "UpstreamOverloaded"
	case KindConnectionFailure:
		return "ConnectionFailure"
	case KindTimeout:
		return "Timeout"
	default:
		return "InternalError"
	}
}

// wireEntry is one row of the taxonomy's wire mapping.
type wireEntry struct {
	status int
	typ    string
	code   string
}

// wireMap is the total mapping from kind to HTTP-equivalent wire shape.
var wireMap = map[Kind]wireEntry{
	KindModelNotFound:      {404, "invalid_request_error", "model_not_found"},
	KindValidation:         {400, "invalid_request_error", "invalid_request"},
	KindAuthentication:     {401, "authentication_error", "invalid_api_key"},
	KindPermission:         {403, "permission_denied", "permission_denied"},
	KindRateLimited:        {429, "rate_limit_error", "rate_limit_exceeded"},
	KindUpstreamOverloaded: {503, "service_unavailable", "service_unavailable"},
	KindConnectionFailure:  {502, "connection_error", "connection_error"},
	KindTimeout:            {504, "timeout_error", "request_timeout"},
	KindInternal:           {500, "api_error", "internal_error"},
}

// Error is a classified failure. It satisfies the error interface so it can
// travel through ordinary error returns.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a classified error with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classification is the denormalized wire shape of a failure.
type Classification struct {
	Kind    Kind
	Status  int
	Type    string
	Code    string
	Message string
}

// LedgerString is the form stored in a ledger row's error column.
func (c Classification) LedgerString() string {
	return fmt.Sprintf("%s: %s", c.Kind, c.Message)
}

// Body returns the OpenAI-compatible error document.
func (c Classification) Body() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": c.Message,
			"type":    c.Type,
			"code":    c.Code,
		},
	}
}

// classify maps a kind and message to the full wire shape.
func classify(kind Kind, message string) Classification {
	w := wireMap[kind]
	return Classification{
		Kind:    kind,
		Status:  w.status,
		Type:    w.typ,
		Code:    w.code,
		Message: message,
	}
}
