package notify

import (
	"context"
	"log/slog"

	"github.com/castofly/remedy/pkg/schema"
)

// Notifier reports pipeline milestones to the outside world (chat, email,
// a dashboard). Notifications are advisory: the driver swallows their errors
// and the pipeline outcome never depends on them.
type Notifier interface {
	WorkStarted(ctx context.Context, sessionID string, item *schema.WorkItem) error
	Succeeded(ctx context.Context, sessionID string, item *schema.WorkItem, report *schema.Report) error
	NotActionable(ctx context.Context, sessionID string, item *schema.WorkItem, decision *schema.Decision) error
	Failed(ctx context.Context, sessionID string, item *schema.WorkItem, cause *schema.RemedyError) error
}

// SlogNotifier writes notifications to the structured log.
type SlogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier creates a log-backed notifier.
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) WorkStarted(ctx context.Context, sessionID string, item *schema.WorkItem) error {
	n.logger.InfoContext(ctx, "remediation started",
		"session_id", sessionID, "item_id", item.ID, "title", item.Title)
	return nil
}

func (n *SlogNotifier) Succeeded(ctx context.Context, sessionID string, item *schema.WorkItem, report *schema.Report) error {
	url := ""
	if report != nil {
		url = report.URL
	}
	n.logger.InfoContext(ctx, "remediation succeeded",
		"session_id", sessionID, "item_id", item.ID, "report_url", url)
	return nil
}

func (n *SlogNotifier) NotActionable(ctx context.Context, sessionID string, item *schema.WorkItem, decision *schema.Decision) error {
	reason := ""
	if decision != nil {
		reason = decision.Reason
	}
	n.logger.InfoContext(ctx, "item not actionable",
		"session_id", sessionID, "item_id", item.ID, "reason", reason)
	return nil
}

func (n *SlogNotifier) Failed(ctx context.Context, sessionID string, item *schema.WorkItem, cause *schema.RemedyError) error {
	msg, code := "", ""
	if cause != nil {
		msg, code = cause.Message, cause.Code
	}
	n.logger.ErrorContext(ctx, "remediation failed",
		"session_id", sessionID, "item_id", item.ID, "code", code, "error", msg)
	return nil
}

// Multi fans a notification out to several notifiers. A failing notifier is
// logged and skipped; the rest still receive the notification.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti creates a fan-out notifier.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

func (m *Multi) WorkStarted(ctx context.Context, sessionID string, item *schema.WorkItem) error {
	m.each("work_started", func(n Notifier) error { return n.WorkStarted(ctx, sessionID, item) })
	return nil
}

func (m *Multi) Succeeded(ctx context.Context, sessionID string, item *schema.WorkItem, report *schema.Report) error {
	m.each("succeeded", func(n Notifier) error { return n.Succeeded(ctx, sessionID, item, report) })
	return nil
}

func (m *Multi) NotActionable(ctx context.Context, sessionID string, item *schema.WorkItem, decision *schema.Decision) error {
	m.each("not_actionable", func(n Notifier) error { return n.NotActionable(ctx, sessionID, item, decision) })
	return nil
}

func (m *Multi) Failed(ctx context.Context, sessionID string, item *schema.WorkItem, cause *schema.RemedyError) error {
	m.each("failed", func(n Notifier) error { return n.Failed(ctx, sessionID, item, cause) })
	return nil
}

func (m *Multi) each(kind string, fn func(Notifier) error) {
	for _, n := range m.notifiers {
		if err := fn(n); err != nil {
			m.logger.Warn("notification delivery failed", "kind", kind, "error", err)
		}
	}
}

var (
	_ Notifier = (*SlogNotifier)(nil)
	_ Notifier = (*Multi)(nil)
)
