package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castofly/remedy/internal/logging"
	"github.com/castofly/remedy/internal/notify"
	"github.com/castofly/remedy/internal/session"
	"github.com/castofly/remedy/internal/strategy"
	"github.com/castofly/remedy/internal/streaming"
	"github.com/castofly/remedy/internal/tracker"
	"github.com/castofly/remedy/internal/validation"
	"github.com/castofly/remedy/pkg/schema"
)

// DefaultPollInterval is how often the intake loop queries the tracker for
// fresh items when the tracker has no push feed (and as a safety net when it
// does).
const DefaultPollInterval = 30 * time.Second

// DriverOptions wires a Driver to its collaborators.
type DriverOptions struct {
	Sessions  *session.Store
	Tracker   tracker.ItemTracker
	Runners   map[schema.Phase]*StepRunner
	Contracts *validation.ContractValidator
	Notifier  notify.Notifier
	Hub       streaming.EventHub
	Pool      *PipelinePool
	Logger    *slog.Logger

	// PollInterval for the tracker intake loop; zero means DefaultPollInterval.
	PollInterval time.Duration

	// Project is attached to every created session's context.
	Project *schema.ProjectConfig
}

// Driver owns the intake loop and drives each accepted work item through the
// fixed phase sequence. One Driver serves many concurrent pipelines; each
// pipeline handles exactly one item.
type Driver struct {
	sessions  *session.Store
	tracker   tracker.ItemTracker
	runners   map[schema.Phase]*StepRunner
	contracts *validation.ContractValidator
	notifier  notify.Notifier
	hub       streaming.EventHub
	pool      *PipelinePool
	logger    *slog.Logger

	pollInterval time.Duration
	project      *schema.ProjectConfig

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	watchCancel func()

	inflightMu sync.Mutex
	inflight   map[string]struct{} // item IDs currently in a pipeline
}

// NewDriver creates a Driver. Sessions, Tracker and Runners are required;
// everything else has a working default.
func NewDriver(opts DriverOptions) (*Driver, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("driver requires a session store")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("driver requires an item tracker")
	}
	if len(opts.Runners) == 0 {
		return nil, fmt.Errorf("driver requires phase runners")
	}
	for _, phase := range []schema.Phase{
		schema.PhaseAnalysis, schema.PhaseClassification,
		schema.PhaseImplementation, schema.PhaseReporting,
	} {
		if opts.Runners[phase] == nil {
			return nil, fmt.Errorf("driver requires a runner for phase %s", phase)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewSlogNotifier(logger)
	}
	pool := opts.Pool
	if pool == nil {
		pool = NewPipelinePool(4, logger)
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Driver{
		sessions:     opts.Sessions,
		tracker:      opts.Tracker,
		runners:      opts.Runners,
		contracts:    opts.Contracts,
		notifier:     notifier,
		hub:          opts.Hub,
		pool:         pool,
		logger:       logger,
		pollInterval: pollInterval,
		project:      opts.Project,
		inflight:     make(map[string]struct{}),
	}, nil
}

// Start launches the intake loop: a best-effort tracker subscription plus a
// polling fallback. Both feeds converge on the same per-item handler.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return fmt.Errorf("driver already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	watchCancel, err := d.tracker.Watch(loopCtx, func(wctx context.Context, item *schema.WorkItem) {
		d.intake(loopCtx, item)
	})
	if err != nil {
		d.logger.Warn("tracker subscription unavailable, relying on polling", "error", err)
		watchCancel = func() {}
	}
	d.mu.Lock()
	d.watchCancel = watchCancel
	d.mu.Unlock()

	go d.pollLoop(loopCtx)
	d.logger.Info("driver started", "poll_interval", d.pollInterval)
	return nil
}

func (d *Driver) pollLoop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Driver) poll(ctx context.Context) {
	items, err := d.tracker.ListByStatus(ctx, schema.ItemStatusNotStarted)
	if err != nil {
		d.logger.Error("intake poll failed", "error", err)
		return
	}
	for _, item := range items {
		d.intake(ctx, item)
	}
}

// intake dispatches one item into the pool. Dispatch failures other than
// shutdown are logged; a single bad item never stops intake.
func (d *Driver) intake(ctx context.Context, item *schema.WorkItem) {
	if item == nil || item.ID == "" {
		return
	}
	err := d.pool.Dispatch(ctx, func(pctx context.Context) error {
		return d.handleItem(pctx, item.ID)
	})
	if err != nil && err != ErrPoolClosed && err != context.Canceled {
		d.logger.Error("dispatch item failed", "item_id", item.ID, "error", err)
	}
}

// handleItem is the convergence point for both intake feeds. The in-flight
// set dedupes a subscription delivery racing a poll delivery of the same
// item within this process; the fresh status check below skips items someone
// else already picked up.
func (d *Driver) handleItem(ctx context.Context, itemID string) error {
	if !d.tryAcquire(itemID) {
		return nil
	}
	defer d.release(itemID)

	item, err := d.tracker.GetItem(ctx, itemID)
	if err != nil {
		d.logger.Error("fetch item failed", "item_id", itemID, "error", err)
		return err
	}
	if item.Status != schema.ItemStatusNotStarted {
		d.publish(ctx, streaming.StreamEvent{
			EventType: schema.EventItemSkipped,
			Payload:   map[string]any{"item_id": item.ID, "status": string(item.Status)},
		})
		return nil
	}

	d.publish(ctx, streaming.StreamEvent{
		EventType: schema.EventItemDetected,
		Payload:   map[string]any{"item_id": item.ID},
	})

	if err := d.Process(ctx, item); err != nil {
		d.logger.Error("pipeline failed", "item_id", item.ID, "error", err)
		return err
	}
	return nil
}

// Process drives one accepted work item through the full phase sequence.
// Any phase failure aborts the remaining phases, marks the session FAILED and
// surfaces the error; a "do not act" classification is a normal completion.
func (d *Driver) Process(ctx context.Context, item *schema.WorkItem) error {
	var overrides *schema.SessionContext
	if d.project != nil {
		overrides = &schema.SessionContext{Project: d.project}
	}
	sess := d.sessions.Create(ctx, item, overrides)

	ctx = logging.WithSessionID(ctx, sess.ID)
	ctx = logging.WithItemID(ctx, item.ID)
	logger := d.logger.With("session_id", sess.ID, "item_id", item.ID)

	d.sessions.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
	if err := d.tracker.UpdateStatus(ctx, item.ID, schema.ItemStatusInProgress); err != nil {
		logger.Warn("mark item in progress failed", "error", err)
	}
	if err := d.notifier.WorkStarted(ctx, sess.ID, item); err != nil {
		logger.Warn("work-started notification failed", "error", err)
	}

	// ANALYSIS
	out, rerr := d.runPhase(ctx, sess.ID, schema.PhaseAnalysis)
	if rerr != nil {
		return d.fail(ctx, sess.ID, item, rerr)
	}
	analysis, ok := out.(*schema.AnalysisResult)
	if !ok {
		return d.fail(ctx, sess.ID, item, phaseContractError(schema.PhaseAnalysis, out))
	}
	if d.contracts != nil {
		if err := d.contracts.ValidateAnalysis(analysis); err != nil {
			return d.fail(ctx, sess.ID, item, asRemedyError(err, schema.PhaseAnalysis))
		}
	}
	d.sessions.UpdateContext(sess.ID, &schema.SessionContext{Analysis: analysis})

	// CLASSIFICATION
	out, rerr = d.runPhase(ctx, sess.ID, schema.PhaseClassification)
	if rerr != nil {
		return d.fail(ctx, sess.ID, item, rerr)
	}
	decision, ok := out.(*schema.Decision)
	if !ok {
		return d.fail(ctx, sess.ID, item, phaseContractError(schema.PhaseClassification, out))
	}
	if d.contracts != nil {
		if err := d.contracts.ValidateDecision(decision); err != nil {
			return d.fail(ctx, sess.ID, item, asRemedyError(err, schema.PhaseClassification))
		}
	}
	d.sessions.UpdateContext(sess.ID, &schema.SessionContext{Decision: decision})

	if !decision.ShouldAct {
		return d.completeNotActionable(ctx, sess.ID, item, decision, logger)
	}

	// IMPLEMENTATION
	out, rerr = d.runPhase(ctx, sess.ID, schema.PhaseImplementation)
	if rerr != nil {
		return d.fail(ctx, sess.ID, item, rerr)
	}
	changes, ok := out.(*schema.ChangeSet)
	if !ok {
		return d.fail(ctx, sess.ID, item, phaseContractError(schema.PhaseImplementation, out))
	}
	if d.contracts != nil {
		if err := d.contracts.ValidateChanges(changes); err != nil {
			return d.fail(ctx, sess.ID, item, asRemedyError(err, schema.PhaseImplementation))
		}
	}
	d.sessions.UpdateContext(sess.ID, &schema.SessionContext{Changes: changes})

	// REPORTING
	out, rerr = d.runPhase(ctx, sess.ID, schema.PhaseReporting)
	if rerr != nil {
		return d.fail(ctx, sess.ID, item, rerr)
	}
	report, ok := out.(*schema.Report)
	if !ok {
		return d.fail(ctx, sess.ID, item, phaseContractError(schema.PhaseReporting, out))
	}
	d.sessions.UpdateContext(sess.ID, &schema.SessionContext{Report: report})

	// COMPLETION
	d.sessions.UpdatePhase(sess.ID, schema.PhaseCompletion)
	if err := d.tracker.UpdateStatus(ctx, item.ID, schema.ItemStatusDone); err != nil {
		logger.Warn("mark item done failed", "error", err)
	}
	if report.URL != "" {
		if err := d.tracker.AddComment(ctx, item.ID, "Remediation published: "+report.URL); err != nil {
			logger.Warn("report comment failed", "error", err)
		}
	}
	if err := d.notifier.Succeeded(ctx, sess.ID, item, report); err != nil {
		logger.Warn("success notification failed", "error", err)
	}
	d.sessions.Close(ctx, sess.ID, schema.SessionStatusCompleted)

	logger.Info("pipeline completed", "report_url", report.URL)
	return nil
}

// runPhase invokes one phase's runner and unwraps its step result.
func (d *Driver) runPhase(ctx context.Context, sessionID string, phase schema.Phase) (any, *schema.RemedyError) {
	sess := d.sessions.Get(sessionID)
	if sess == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q disappeared", sessionID).WithPhase(phase)
	}
	if sess.Status.IsTerminal() {
		// Usually the session timer won the race against this phase.
		return nil, schema.NewErrorf(schema.ErrCodeSessionTimeout,
			"session already %s before phase %s", sess.Status, phase).WithPhase(phase)
	}

	d.sessions.UpdatePhase(sessionID, phase)

	runner := d.runners[phase]
	result := runner.Run(ctx, strategy.Input{
		SessionID: sessionID,
		Context:   sess.Context,
	})
	if !result.Success {
		rerr := schema.NewError(schema.ErrCodeStepFailed, "phase failed without error detail").WithPhase(phase)
		if result.Error != nil {
			rerr = schema.NewError(result.Error.Code, result.Error.Message).WithPhase(phase)
		}
		return nil, rerr
	}
	return result.Output, nil
}

// completeNotActionable closes the normal "decided not to act" path.
func (d *Driver) completeNotActionable(ctx context.Context, sessionID string, item *schema.WorkItem, decision *schema.Decision, logger *slog.Logger) error {
	if err := d.tracker.UpdateStatus(ctx, item.ID, schema.ItemStatusNotActionable); err != nil {
		logger.Warn("mark item not actionable failed", "error", err)
	}
	if err := d.tracker.AddComment(ctx, item.ID, "Not actionable: "+decision.Reason); err != nil {
		logger.Warn("not-actionable comment failed", "error", err)
	}
	if err := d.notifier.NotActionable(ctx, sessionID, item, decision); err != nil {
		logger.Warn("not-actionable notification failed", "error", err)
	}
	d.sessions.Close(ctx, sessionID, schema.SessionStatusCompleted)

	logger.Info("pipeline completed without action", "reason", decision.Reason)
	return nil
}

// fail marks the session FAILED, pushes the error to the tracker and
// notifier, and propagates it so the intake loop can log it.
func (d *Driver) fail(ctx context.Context, sessionID string, item *schema.WorkItem, rerr *schema.RemedyError) error {
	d.sessions.UpdateStatus(ctx, sessionID, schema.SessionStatusFailed, rerr)

	if err := d.tracker.UpdateStatus(ctx, item.ID, schema.ItemStatusNeedsReview); err != nil {
		d.logger.Warn("mark item needs review failed", "item_id", item.ID, "error", err)
	}
	if err := d.tracker.AddComment(ctx, item.ID, "Remediation failed: "+rerr.Error()); err != nil {
		d.logger.Warn("failure comment failed", "item_id", item.ID, "error", err)
	}
	if err := d.notifier.Failed(ctx, sessionID, item, rerr); err != nil {
		d.logger.Warn("failure notification failed", "item_id", item.ID, "error", err)
	}
	return rerr
}

// Stop shuts down intake and waits for in-flight pipelines to finish.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	done := d.done
	watchCancel := d.watchCancel
	d.cancel = nil
	d.done = nil
	d.watchCancel = nil
	d.mu.Unlock()

	if watchCancel != nil {
		watchCancel()
	}
	cancel()
	<-done
	d.pool.Drain()

	d.logger.Info("driver stopped")
	return nil
}

// Stats exposes pool counters for surfacing over the operator tools.
func (d *Driver) Stats() PoolStats {
	return d.pool.Stats()
}

func (d *Driver) tryAcquire(itemID string) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if _, ok := d.inflight[itemID]; ok {
		return false
	}
	d.inflight[itemID] = struct{}{}
	return true
}

func (d *Driver) release(itemID string) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	delete(d.inflight, itemID)
}

func (d *Driver) publish(ctx context.Context, evt streaming.StreamEvent) {
	if d.hub == nil {
		return
	}
	if err := d.hub.Publish(ctx, evt); err != nil {
		d.logger.Debug("event publish failed", "event_type", evt.EventType, "error", err)
	}
}

func phaseContractError(phase schema.Phase, got any) *schema.RemedyError {
	return schema.NewErrorf(schema.ErrCodeContract,
		"phase %s produced %T, want its typed payload", phase, got).WithPhase(phase)
}

func asRemedyError(err error, phase schema.Phase) *schema.RemedyError {
	if rerr, ok := err.(*schema.RemedyError); ok {
		if rerr.Phase == "" {
			rerr.Phase = phase
		}
		return rerr
	}
	return schema.NewError(schema.ErrCodeContract, err.Error()).WithPhase(phase)
}
