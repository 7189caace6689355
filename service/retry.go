package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// NoItem marks project-level work in a RetryContext (no scene index).
const NoItem = -1

// RetryConfig controls the exponential backoff applied around a single
// external call. Delay for attempt n (0-indexed) is
// min(InitialDelay * BackoffMultiplier^n, MaxDelay), jittered by ±25%.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	}
}

// RetryContext tags a retried operation for observability. Stage is one of
// the pipeline stage names; ItemIndex is the scene sequence or NoItem.
type RetryContext struct {
	Stage     string
	ItemIndex int
}

// RetryPolicy wraps one asynchronous unit of work with bounded, jittered
// retries. The policy has no opinion about what a failure means; every error
// is treated as retryable until attempts run out.
type RetryPolicy struct {
	cfg     RetryConfig
	sleep   func(time.Duration)
	randFn  func() float64
	onError func(rc RetryContext, err error)
	onRetry func(rc RetryContext, attempt, maxAttempts int, delay time.Duration, err error)
}

type RetryOption func(*RetryPolicy)

// WithSleeper overrides how backoff sleeps are performed (useful for tests).
func WithSleeper(sleep func(time.Duration)) RetryOption {
	return func(p *RetryPolicy) { p.sleep = sleep }
}

// WithRand overrides the jitter source (useful for tests).
func WithRand(randFn func() float64) RetryOption {
	return func(p *RetryPolicy) { p.randFn = randFn }
}

// WithErrorCallback installs the per-attempt error callback (logging).
func WithErrorCallback(fn func(rc RetryContext, err error)) RetryOption {
	return func(p *RetryPolicy) { p.onError = fn }
}

// WithRetryCallback installs the retry callback (caller feedback). It fires
// before each backoff sleep with the attempt that just failed, the total
// attempt budget, and the computed delay.
func WithRetryCallback(fn func(rc RetryContext, attempt, maxAttempts int, delay time.Duration, err error)) RetryOption {
	return func(p *RetryPolicy) { p.onRetry = fn }
}

func NewRetryPolicy(cfg RetryConfig, opts ...RetryOption) *RetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	p := &RetryPolicy{
		cfg:    cfg,
		sleep:  time.Sleep,
		randFn: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute runs op, retrying with backoff until it succeeds or the attempt
// budget (MaxRetries + 1 attempts) is exhausted. Context cancellation stops
// further attempts.
func (p *RetryPolicy) Execute(ctx context.Context, rc RetryContext, op func(context.Context) error) error {
	attempts := p.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted: %w", rc.Stage, err)
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.onError != nil {
			p.onError(rc, err)
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.delayFor(attempt)
		if p.onRetry != nil {
			p.onRetry(rc, attempt+1, attempts, delay, err)
		}
		p.sleep(delay)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", rc.Stage, attempts, lastErr)
}

// delayFor computes the jittered backoff delay for a 0-indexed attempt.
func (p *RetryPolicy) delayFor(attempt int) time.Duration {
	base := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.BackoffMultiplier, float64(attempt))
	if base > float64(p.cfg.MaxDelay) {
		base = float64(p.cfg.MaxDelay)
	}
	// ±25% uniform jitter
	jittered := base * (0.75 + 0.5*p.randFn())
	return time.Duration(jittered)
}
