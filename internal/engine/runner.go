package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/castofly/remedy/internal/logging"
	"github.com/castofly/remedy/internal/strategy"
	"github.com/castofly/remedy/internal/streaming"
	"github.com/castofly/remedy/pkg/schema"
)

// DefaultStepTimeout bounds a single phase attempt unless configured otherwise.
const DefaultStepTimeout = 5 * time.Minute

// StepRunner wraps one phase's strategy with the uniform execution contract:
// a timeout race around the strategy call, bounded retry around the race, and
// normalization of whatever comes out into a StepResult. It never lets the
// strategy's raw error type cross its boundary.
type StepRunner struct {
	strat   strategy.Strategy
	timeout time.Duration
	policy  Policy
	hub     streaming.EventHub
	logger  *slog.Logger
}

// NewStepRunner creates a runner for the given strategy. A zero timeout falls
// back to DefaultStepTimeout; a zero-value policy falls back to DefaultPolicy.
func NewStepRunner(strat strategy.Strategy, timeout time.Duration, policy Policy, hub streaming.EventHub, logger *slog.Logger) *StepRunner {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	return &StepRunner{
		strat:   strat,
		timeout: timeout,
		policy:  policy,
		hub:     hub,
		logger:  logger,
	}
}

// Phase returns the phase this runner executes.
func (r *StepRunner) Phase() schema.Phase {
	return r.strat.Phase()
}

// Run executes the phase and normalizes the outcome. It never returns an
// error; failures are carried inside the StepResult.
func (r *StepRunner) Run(ctx context.Context, in strategy.Input) *schema.StepResult {
	phase := r.strat.Phase()
	ctx = logging.WithPhase(logging.WithSessionID(ctx, in.SessionID), string(phase))

	start := time.Now()
	attempts := 0

	policy := r.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.WarnContext(ctx, "phase attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		r.progress(ctx, in.SessionID, phase, schema.EventPhaseRetrying, "retrying after failure", nil)
	}

	r.progress(ctx, in.SessionID, phase, schema.EventPhaseStarted, "phase started", percent(0))

	out, err := Execute(ctx, policy, func(ctx context.Context) (any, error) {
		attempts++
		return r.race(ctx, in)
	})

	meta := schema.StepMeta{
		Phase:      phase,
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		stepErr := normalizeError(err)
		r.logger.ErrorContext(ctx, "phase failed",
			slog.Int("attempts", attempts),
			slog.String("code", stepErr.Code),
			slog.Bool("retryable", stepErr.Retryable),
			slog.String("error", stepErr.Message),
		)
		r.progress(ctx, in.SessionID, phase, schema.EventPhaseFailed, stepErr.Message, nil)
		return &schema.StepResult{Success: false, Error: stepErr, Meta: meta}
	}

	r.logger.InfoContext(ctx, "phase completed",
		slog.Int("attempts", attempts),
		slog.Int64("duration_ms", meta.DurationMs),
	)
	r.progress(ctx, in.SessionID, phase, schema.EventPhaseCompleted, "phase completed", percent(100))
	return &schema.StepResult{Success: true, Output: out, Meta: meta}
}

// race runs the strategy against the configured timeout. Whichever resolves
// first wins; the loser is abandoned, not cancelled. The buffered channel
// guarantees a late-arriving result is silently discarded instead of blocking
// or being reported twice.
func (r *StepRunner) race(ctx context.Context, in strategy.Input) (any, error) {
	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		out, err := r.strat.Execute(ctx, in)
		done <- outcome{out: out, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.out, o.err
	case <-timer.C:
		return nil, schema.NewErrorf(schema.ErrCodeTimeout,
			"phase %s timed out after %s", r.strat.Phase(), r.timeout).
			WithPhase(r.strat.Phase())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// progress emits an advisory observability event. Hub errors are swallowed:
// progress reporting must never affect control flow.
func (r *StepRunner) progress(ctx context.Context, sessionID string, phase schema.Phase, eventType, message string, pct *int) {
	if r.hub == nil {
		return
	}
	payload := map[string]any{
		"message":   message,
		"timestamp": time.Now().UTC(),
	}
	if pct != nil {
		payload["percent"] = *pct
	}
	if err := r.hub.Publish(ctx, streaming.StreamEvent{
		SessionID: sessionID,
		Phase:     phase,
		EventType: eventType,
		Payload:   payload,
	}); err != nil {
		r.logger.DebugContext(ctx, "progress event dropped", slog.String("error", err.Error()))
	}
}

// normalizeError converts any error surfaced by the retry layer into the
// StepError envelope the driver consumes.
func normalizeError(err error) *schema.StepError {
	var rerr *schema.RemedyError
	if errors.As(err, &rerr) {
		return &schema.StepError{
			Message:   rerr.Message,
			Code:      rerr.Code,
			Retryable: rerr.IsRetryable(),
		}
	}
	return &schema.StepError{
		Message:   err.Error(),
		Code:      schema.ErrCodeStepFailed,
		Retryable: IsRetryableError(err),
	}
}

func percent(p int) *int {
	return &p
}
