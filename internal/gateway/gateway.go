// Package gateway is the single retrying wrapper around every external
// provider call the pipeline makes. It owns the retry policy, the
// transient/permanent error taxonomy, and the per-call outcome log that
// feeds batch statistics.
package gateway

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Outcome is one structured record per provider call.
type Outcome struct {
	Provider  string        `json:"provider"`
	Operation string        `json:"operation"`
	Attempts  int           `json:"attempts"`
	Latency   time.Duration `json:"latency"`
	Status    string        `json:"status"` // "ok", "exhausted", "permanent", "error"
}

// Stats aggregates outcomes per provider/operation pair.
type Stats struct {
	Calls      int           `json:"calls"`
	Failures   int           `json:"failures"`
	Retries    int           `json:"retries"`
	TotalTime  time.Duration `json:"total_time"`
	MaxLatency time.Duration `json:"max_latency"`
}

// Gateway executes provider calls with retry and timeout, and records one
// outcome per call. It is stateless apart from the outcome accumulator and
// safe for concurrent use; bounding concurrency is the caller's job.
type Gateway struct {
	policy Policy

	mu       sync.Mutex
	outcomes []Outcome
}

// New creates a Gateway with the given default policy.
func New(policy Policy) *Gateway {
	return &Gateway{policy: policy.withDefaults()}
}

// Policy returns the gateway's default policy.
func (g *Gateway) Policy() Policy { return g.policy }

// Call runs fn under the gateway's default policy.
func (g *Gateway) Call(ctx context.Context, provider, operation string, fn func(ctx context.Context) error) error {
	return g.CallWith(ctx, provider, operation, g.policy, fn)
}

// CallWith runs fn under an explicit policy: a per-attempt timeout, retries
// on transient failures with exponential backoff, and immediate propagation
// of permanent failures. One Outcome is recorded regardless of result.
func (g *Gateway) CallWith(ctx context.Context, provider, operation string, policy Policy, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	start := time.Now()

	attempts := 0
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		attempts++
		lastErr = runAttempt(ctx, policy.Timeout, fn)
		if lastErr == nil {
			g.record(provider, operation, attempts, time.Since(start), "ok")
			return nil
		}

		if ctx.Err() != nil {
			break
		}
		if IsPermanent(lastErr) {
			g.record(provider, operation, attempts, time.Since(start), "permanent")
			return lastErr
		}
		if !IsTransient(lastErr) {
			break
		}
		if attempt >= policy.MaxAttempts-1 {
			break
		}

		delay := backoff(attempt, policy)
		zap.L().Warn("gateway: retrying call",
			zap.String("provider", provider),
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.record(provider, operation, attempts, time.Since(start), "error")
			return lastErr
		case <-timer.C:
		}
	}

	status := "error"
	if IsTransient(lastErr) {
		status = "exhausted"
	}
	g.record(provider, operation, attempts, time.Since(start), status)
	return lastErr
}

// Invoke runs fn returning a value under gw's default policy. Same semantics
// as Call but preserves the successful return value.
func Invoke[T any](ctx context.Context, gw *Gateway, provider, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := gw.Call(ctx, provider, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func backoff(attempt int, p Policy) time.Duration {
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.JitterFraction > 0 {
		jitterRange := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (g *Gateway) record(provider, operation string, attempts int, latency time.Duration, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes = append(g.outcomes, Outcome{
		Provider:  provider,
		Operation: operation,
		Attempts:  attempts,
		Latency:   latency,
		Status:    status,
	})
}

// Outcomes returns a copy of the recorded call outcomes.
func (g *Gateway) Outcomes() []Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Outcome, len(g.outcomes))
	copy(out, g.outcomes)
	return out
}

// StatsByOperation aggregates outcomes keyed by "provider/operation".
func (g *Gateway) StatsByOperation() map[string]Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := make(map[string]Stats)
	for _, o := range g.outcomes {
		key := o.Provider + "/" + o.Operation
		s := stats[key]
		s.Calls++
		s.Retries += o.Attempts - 1
		s.TotalTime += o.Latency
		if o.Latency > s.MaxLatency {
			s.MaxLatency = o.Latency
		}
		if o.Status != "ok" {
			s.Failures++
		}
		stats[key] = s
	}
	return stats
}
