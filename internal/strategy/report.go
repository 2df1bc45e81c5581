package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/castofly/remedy/pkg/schema"
)

// Publisher pushes a drafted change set to wherever changes get reviewed
// (e.g. opens a change request) and returns the published artifact reference.
type Publisher interface {
	Publish(ctx context.Context, changes *schema.ChangeSet) (*schema.Report, error)
}

// ReportStrategy publishes the implementation's change set through the
// configured publisher.
type ReportStrategy struct {
	publisher Publisher
}

// NewReportStrategy creates a reporting strategy around the given publisher.
func NewReportStrategy(publisher Publisher) *ReportStrategy {
	return &ReportStrategy{publisher: publisher}
}

func (s *ReportStrategy) Phase() schema.Phase { return schema.PhaseReporting }

// Execute publishes the accumulated change set.
func (s *ReportStrategy) Execute(ctx context.Context, in Input) (any, error) {
	if in.Context == nil || in.Context.Changes == nil {
		return nil, schema.NewError(schema.ErrCodeContract, "reporting requires a change set").
			WithPhase(schema.PhaseReporting)
	}
	if s.publisher == nil {
		return nil, schema.NewError(schema.ErrCodePublish, "no publisher configured").
			WithPhase(schema.PhaseReporting)
	}

	report, err := s.publisher.Publish(ctx, in.Context.Changes)
	if err != nil {
		if rerr, ok := err.(*schema.RemedyError); ok {
			return nil, rerr
		}
		return nil, schema.NewErrorf(schema.ErrCodePublish, "publish change set: %s", err.Error()).
			WithCause(err).
			WithPhase(schema.PhaseReporting)
	}
	return report, nil
}

// LogPublisher is a stand-in publisher that records the change set in the log
// and fabricates a local reference. Useful for dry runs and tests.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, changes *schema.ChangeSet) (*schema.Report, error) {
	ref := fmt.Sprintf("dry-run-%s", uuid.NewString()[:8])
	p.logger.Info("dry-run publish",
		"branch", changes.Branch,
		"title", changes.Title,
		"patches", len(changes.Patches),
		"reference", ref,
	)
	return &schema.Report{
		URL:         "local://" + ref,
		Reference:   ref,
		PublishedAt: time.Now(),
	}, nil
}

var _ Strategy = (*ReportStrategy)(nil)
var _ Publisher = (*LogPublisher)(nil)
