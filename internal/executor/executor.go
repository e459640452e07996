// Package executor invokes upstream providers under bounded time and
// retry budgets and shapes the result into an accountable outcome. It
// performs no persistence; callers hand outcomes to the ledger.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/pborenstein/apantli/internal/provider"
	"github.com/pborenstein/apantli/internal/resilience"
	"github.com/pborenstein/apantli/internal/resolver"
)

// Executor runs resolved invocations against a provider client with a
// retry policy and a per-provider circuit breaker.
type Executor struct {
	client provider.Client

	mu       sync.Mutex
	blocking map[string]*resilience.Executor[[]byte]
	streams  map[string]*resilience.Executor[provider.Stream]
}

// New builds an executor over the given provider client.
func New(client provider.Client) *Executor {
	return &Executor{
		client:   client,
		blocking: make(map[string]*resilience.Executor[[]byte]),
		streams:  make(map[string]*resilience.Executor[provider.Stream]),
	}
}

func (e *Executor) blockingFor(providerName string) *resilience.Executor[[]byte] {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.blocking[providerName]
	if !ok {
		breaker := resilience.DefaultBreakerConfig(providerName)
		exec = resilience.NewExecutor[[]byte](resilience.DefaultRetryConfig, &breaker)
		e.blocking[providerName] = exec
	}
	return exec
}

func (e *Executor) streamFor(providerName string) *resilience.Executor[provider.Stream] {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.streams[providerName]
	if !ok {
		breaker := resilience.DefaultBreakerConfig(providerName + "/stream")
		exec = resilience.NewExecutor[provider.Stream](resilience.DefaultRetryConfig, &breaker)
		e.streams[providerName] = exec
	}
	return exec
}

// BreakerStates reports the state of every provider breaker seen so far,
// keyed by provider, with stream breakers under "<provider>/stream".
func (e *Executor) BreakerStates() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := make(map[string]string, len(e.blocking)+len(e.streams))
	for name, exec := range e.blocking {
		states[name] = exec.BreakerState()
	}
	for name, exec := range e.streams {
		states[name+"/stream"] = exec.BreakerState()
	}
	return states
}

// Complete performs a blocking call and returns the finalized outcome.
// The upstream call is detached from client cancellation: if the caller
// goes away mid-call the result still arrives and gets logged. The time
// budget alone bounds the call.
func (e *Executor) Complete(ctx context.Context, res *resolver.Resolved) (*Outcome, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), res.Timeout)
	defer cancel()

	exec := e.blockingFor(res.Provider).WithRetries(res.Retries)
	body, err := exec.Execute(callCtx, func() ([]byte, error) {
		return e.client.Invoke(callCtx, res.Invocation)
	})
	if err != nil {
		return nil, err
	}
	return finalizeOutcome(res, body, time.Since(start)), nil
}

// StartStream opens a streaming call. Retries apply to establishing the
// stream only; once the first chunk can be pulled the relay owns the
// lifecycle. The returned stream honors ctx for cooperative cancellation.
func (e *Executor) StartStream(ctx context.Context, res *resolver.Resolved) (provider.Stream, error) {
	callCtx, cancel := context.WithTimeout(ctx, res.Timeout)

	exec := e.streamFor(res.Provider).WithRetries(res.Retries)
	stream, err := exec.Execute(callCtx, func() (provider.Stream, error) {
		return e.client.InvokeStream(callCtx, res.Invocation)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &timedStream{Stream: stream, cancel: cancel}, nil
}

// timedStream ties the stream's timeout context to its Close.
type timedStream struct {
	provider.Stream
	cancel context.CancelFunc
}

func (t *timedStream) Close() error {
	t.cancel()
	return t.Stream.Close()
}
