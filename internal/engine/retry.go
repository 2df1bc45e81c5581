package engine

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"github.com/castofly/remedy/pkg/schema"
)

// RetryHook is invoked before each backoff delay with the attempt number
// (1-based), the error that triggered the retry, and the computed delay.
type RetryHook func(attempt int, err error, delay time.Duration)

// Policy bounds the retry behavior of a single Execute call.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first call.
	MaxAttempts int
	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff factor.
	Multiplier float64
	// RetryableCodes, when non-empty, replaces the default retryability
	// classification: only RemedyErrors with a listed code are retried.
	RetryableCodes []string
	// OnRetry is called before each backoff delay. Optional.
	OnRetry RetryHook
}

// DefaultPolicy returns the retry policy phases use unless configured otherwise.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Operation is the unit of work wrapped by Execute.
type Operation func(ctx context.Context) (any, error)

// Execute runs op up to p.MaxAttempts times with exponential backoff between
// attempts. A non-retryable error aborts immediately and is surfaced unchanged.
// Exhausting the attempt budget surfaces the last error. Execute holds no state
// across calls; its only side effects are the wrapped operation and the delay.
func Execute(ctx context.Context, p Policy, op Operation) (any, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !p.shouldRetry(err) {
			return nil, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delayFor(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if werr := waitForBackoff(ctx, delay); werr != nil {
			return nil, werr
		}
	}
	return nil, lastErr
}

// shouldRetry decides retryability for one failed attempt. An explicit
// RetryableCodes set matches the error's code; otherwise the default
// network-class classification applies.
func (p Policy) shouldRetry(err error) bool {
	if len(p.RetryableCodes) == 0 {
		return IsRetryableError(err)
	}
	var rerr *schema.RemedyError
	if !errors.As(err, &rerr) {
		return false
	}
	for _, code := range p.RetryableCodes {
		if rerr.Code == code {
			return true
		}
	}
	return false
}

// delayFor computes the delay between attempt k and k+1:
// min(InitialDelay * Multiplier^(k-1), MaxDelay).
func (p Policy) delayFor(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// IsRetryableError classifies whether an error should be retried by default.
// Retryable: network errors, timeouts, rate limiting, gateway-class HTTP
// failures. Non-retryable: everything else, including context cancellation
// (the pipeline is shutting down) and contract/validation errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Step timeout is retryable; cancellation means shutdown and is not.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// RemedyError checks its own code.
	var rerr *schema.RemedyError
	if errors.As(err, &rerr) {
		return rerr.IsRetryable()
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// String heuristics for transient failures surfaced as plain errors.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// waitForBackoff sleeps for the delay or returns early if the context is
// cancelled during the wait.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
