// Package resilience wraps failsafe-go retry policies and gobreaker
// circuit breakers for upstream provider calls.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sony/gobreaker"

	"github.com/pborenstein/apantli/internal/apperr"
)

// RetryConfig bounds retry behavior for one upstream call.
type RetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterDelay time.Duration
}

// DefaultRetryConfig mirrors the system default of three attempts with
// exponential backoff.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:  3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
	JitterDelay: 250 * time.Millisecond,
}

// retryable reports whether an error class is worth another attempt.
// Client errors (validation, authentication, permission, not-found) are
// final; transient upstream conditions are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch apperr.Classify(err).Kind {
	case apperr.KindRateLimited,
		apperr.KindUpstreamOverloaded,
		apperr.KindConnectionFailure,
		apperr.KindTimeout:
		return true
	default:
		return false
	}
}

// NewRetryPolicy builds a failsafe retry policy from the config.
func NewRetryPolicy[R any](cfg RetryConfig) retrypolicy.RetryPolicy[R] {
	builder := retrypolicy.NewBuilder[R]().
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		HandleIf(func(_ R, err error) bool { return retryable(err) })
	if cfg.JitterDelay > 0 {
		builder = builder.WithJitter(cfg.JitterDelay)
	}
	return builder.Build()
}

// BreakerConfig configures a per-provider circuit breaker.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns breaker settings where only upstream-health
// failures count against the breaker; client errors never trip it.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker with the gateway's trip policy.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker from the config.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// A rejected prompt is the client's problem, not the provider's.
			return err == nil || !retryable(err)
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// State exposes the underlying breaker state.
func (c *CircuitBreaker) State() gobreaker.State { return c.cb.State() }

// Executor combines a retry policy with an optional breaker.
type Executor[R any] struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
}

// NewExecutor builds an executor. breakerConfig may be nil to disable the
// breaker.
func NewExecutor[R any](retryConfig RetryConfig, breakerConfig *BreakerConfig) *Executor[R] {
	var breaker *CircuitBreaker
	if breakerConfig != nil {
		breaker = NewCircuitBreaker(*breakerConfig)
	}
	return &Executor[R]{cfg: retryConfig, breaker: breaker}
}

// Execute runs fn under the retry policy (and breaker when present),
// honoring ctx cancellation between attempts.
func (e *Executor[R]) Execute(ctx context.Context, fn func() (R, error)) (R, error) {
	run := func() (R, error) {
		rp := NewRetryPolicy[R](e.cfg)
		return failsafe.With(rp).WithContext(ctx).Get(fn)
	}
	if e.breaker != nil {
		result, err := e.breaker.cb.Execute(func() (any, error) {
			return run()
		})
		if err != nil {
			var zero R
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return zero, apperr.New(apperr.KindUpstreamOverloaded, "provider temporarily unavailable (circuit open)")
			}
			return zero, err
		}
		return result.(R), nil
	}
	return run()
}

// BreakerState names the breaker's current state, or "" when no breaker
// is configured.
func (e *Executor[R]) BreakerState() string {
	if e.breaker == nil {
		return ""
	}
	return e.breaker.State().String()
}

// WithRetries returns a copy of the executor with a different retry bound.
// Used for per-model overrides without rebuilding the breaker.
func (e *Executor[R]) WithRetries(maxRetries int) *Executor[R] {
	clone := *e
	clone.cfg.MaxRetries = maxRetries
	return &clone
}
