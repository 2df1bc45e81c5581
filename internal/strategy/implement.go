package strategy

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/castofly/remedy/pkg/schema"
)

// defaultDescriptionTemplate renders the change description from the
// accumulated analysis and decision.
const defaultDescriptionTemplate = `Automated remediation for {{ .Item.ID }}: {{ .Item.Title }}

Analysis: {{ .Analysis.Summary }}
{{- if .Analysis.Component }}
Component: {{ .Analysis.Component }}
{{- end }}
Severity: {{ .Analysis.Severity }} (confidence {{ printf "%.2f" .Analysis.Confidence }})
Decision: {{ .Decision.Reason }}
{{- if .Decision.Rule }} (rule: {{ .Decision.Rule }}){{ end }}
`

// ChangeDrafter produces the actual patches for a change set. Implementations
// call out to whatever produces code changes (a model, a codemod, a script).
type ChangeDrafter interface {
	Draft(ctx context.Context, sctx *schema.SessionContext) ([]schema.Patch, error)
}

// ChangeDrafterFunc adapts a function to the ChangeDrafter interface.
type ChangeDrafterFunc func(ctx context.Context, sctx *schema.SessionContext) ([]schema.Patch, error)

func (f ChangeDrafterFunc) Draft(ctx context.Context, sctx *schema.SessionContext) ([]schema.Patch, error) {
	return f(ctx, sctx)
}

// ImplementStrategy drafts a ChangeSet from the analysis and decision. The
// branch name and description are derived here; the patches come from the
// configured drafter. No repository is mutated.
type ImplementStrategy struct {
	drafter ChangeDrafter
	tmpl    *template.Template
}

// NewImplementStrategy creates an implementation strategy around the given
// drafter.
func NewImplementStrategy(drafter ChangeDrafter) (*ImplementStrategy, error) {
	tmpl, err := template.New("description").Parse(defaultDescriptionTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse description template: %w", err)
	}
	return &ImplementStrategy{drafter: drafter, tmpl: tmpl}, nil
}

func (s *ImplementStrategy) Phase() schema.Phase { return schema.PhaseImplementation }

// Execute drafts the change set for an actionable item.
func (s *ImplementStrategy) Execute(ctx context.Context, in Input) (any, error) {
	sctx := in.Context
	if sctx == nil || sctx.Item == nil || sctx.Analysis == nil || sctx.Decision == nil {
		return nil, schema.NewError(schema.ErrCodeContract,
			"implementation requires item, analysis and decision").
			WithPhase(schema.PhaseImplementation)
	}
	if !sctx.Decision.ShouldAct {
		return nil, schema.NewError(schema.ErrCodeContract,
			"implementation invoked for a non-actionable decision").
			WithPhase(schema.PhaseImplementation)
	}

	var patches []schema.Patch
	if s.drafter != nil {
		var err error
		patches, err = s.drafter.Draft(ctx, sctx)
		if err != nil {
			return nil, err
		}
	}

	var desc strings.Builder
	if err := s.tmpl.Execute(&desc, sctx); err != nil {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "render change description").
			WithCause(err).
			WithPhase(schema.PhaseImplementation)
	}

	return &schema.ChangeSet{
		Branch:      BranchName(sctx.Item.ID),
		Title:       fmt.Sprintf("Fix: %s", sctx.Item.Title),
		Description: desc.String(),
		Patches:     patches,
	}, nil
}

// BranchName derives the working branch for an item's remediation.
func BranchName(itemID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, itemID)
	return "remedy/" + sanitized
}

var _ Strategy = (*ImplementStrategy)(nil)
