package apperr

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"

	"github.com/tidwall/gjson"
)

// StatusError carries an upstream HTTP status and raw response body. The
// provider client returns these for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return "upstream status " + strconv.Itoa(e.StatusCode) + ": " + extractMessage(e.Body, e.StatusCode)
}

// Classify maps any error to the closed taxonomy. Lookup is ordered from
// most specific to least: pre-classified errors, upstream HTTP statuses,
// context and network failures, then the internal catch-all. Classify never
// panics regardless of input.
func Classify(err error) Classification {
	if err == nil {
		return classify(KindInternal, "unknown error")
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return classify(appErr.Kind, appErr.Message)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classify(kindForStatus(statusErr.StatusCode), extractMessage(statusErr.Body, statusErr.StatusCode))
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return classify(KindTimeout, "request timed out")
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return classify(KindConnectionFailure, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return classify(KindTimeout, err.Error())
		}
		return classify(KindConnectionFailure, err.Error())
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return classify(KindConnectionFailure, err.Error())
	}

	return classify(KindInternal, err.Error())
}

// kindForStatus maps an upstream HTTP status onto the taxonomy. Upstream
// 5xx responses mean the provider is unhealthy, which surfaces to clients
// as 503 rather than being echoed verbatim.
func kindForStatus(status int) Kind {
	switch {
	case status == 400:
		return KindValidation
	case status == 401:
		return KindAuthentication
	case status == 403:
		return KindPermission
	case status == 404:
		return KindModelNotFound
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindRateLimited
	case status == 502:
		return KindConnectionFailure
	case status == 504:
		return KindTimeout
	case status >= 500:
		return KindUpstreamOverloaded
	default:
		return KindInternal
	}
}

// IsClientDisconnect reports whether err is the broken-pipe class of
// failure raised when writing to a client that has gone away. Disconnects
// are a terminal state, not an application error.
func IsClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "client disconnected")
}

// extractMessage pulls a human-readable message out of an upstream error
// body. Strategy is layered: the OpenAI error envelope, then common
// top-level fields, then the raw body, then a status fallback. It must not
// itself fail, whatever the body contains.
func extractMessage(body []byte, status int) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" && gjson.Valid(trimmed) {
		parsed := gjson.Parse(trimmed)
		for _, path := range []string{"error.message", "message", "detail", "error"} {
			if v := parsed.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if trimmed != "" {
		const maxLen = 512
		if len(trimmed) > maxLen {
			trimmed = trimmed[:maxLen]
		}
		return trimmed
	}
	return "upstream returned status " + strconv.Itoa(status)
}
