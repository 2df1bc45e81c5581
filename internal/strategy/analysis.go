package strategy

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/castofly/remedy/pkg/schema"
)

// Projection maps analysis result fields to jq expressions evaluated against
// the work item's raw tracker document.
type Projection struct {
	Summary   string `yaml:"summary" json:"summary"`
	Component string `yaml:"component" json:"component"`
	Severity  string `yaml:"severity" json:"severity"`
	Signals   string `yaml:"signals" json:"signals"`
}

// DefaultProjection works against the plain tracker document shape.
var DefaultProjection = Projection{
	Summary:   `.title // ""`,
	Component: `.component // .labels[0] // ""`,
	Severity:  `.severity // 1`,
	Signals:   `[.labels[]?] // []`,
}

// AnalysisStrategy extracts a structured analysis from a work item by running
// jq projections over its raw tracker document. Compiled programs are cached
// and reused across goroutines.
type AnalysisStrategy struct {
	projection Projection
	confidence float64

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewAnalysisStrategy creates an analysis strategy. Empty projection fields
// fall back to DefaultProjection.
func NewAnalysisStrategy(p Projection) *AnalysisStrategy {
	if p.Summary == "" {
		p.Summary = DefaultProjection.Summary
	}
	if p.Component == "" {
		p.Component = DefaultProjection.Component
	}
	if p.Severity == "" {
		p.Severity = DefaultProjection.Severity
	}
	if p.Signals == "" {
		p.Signals = DefaultProjection.Signals
	}
	return &AnalysisStrategy{
		projection: p,
		confidence: 0.75,
		cache:      make(map[string]*gojq.Code),
	}
}

func (s *AnalysisStrategy) Phase() schema.Phase { return schema.PhaseAnalysis }

// Execute projects the item document into an AnalysisResult.
func (s *AnalysisStrategy) Execute(ctx context.Context, in Input) (any, error) {
	if in.Context == nil || in.Context.Item == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "analysis requires a work item").
			WithPhase(schema.PhaseAnalysis)
	}
	item := in.Context.Item

	doc := s.itemDocument(item)

	summary, err := s.evalString(ctx, s.projection.Summary, doc)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		summary = item.Title
	}

	component, err := s.evalString(ctx, s.projection.Component, doc)
	if err != nil {
		return nil, err
	}

	severity, err := s.evalInt(ctx, s.projection.Severity, doc)
	if err != nil {
		return nil, err
	}

	signals, err := s.evalStrings(ctx, s.projection.Signals, doc)
	if err != nil {
		return nil, err
	}

	return &schema.AnalysisResult{
		Summary:    summary,
		Component:  component,
		Severity:   severity,
		Confidence: s.confidence,
		Signals:    signals,
	}, nil
}

// itemDocument builds the jq input: the tracker's raw document when present,
// otherwise a synthesized object from the item's typed fields.
func (s *AnalysisStrategy) itemDocument(item *schema.WorkItem) map[string]any {
	if len(item.Raw) > 0 {
		var doc map[string]any
		if err := json.Unmarshal(item.Raw, &doc); err == nil {
			return doc
		}
	}
	labels := make([]any, len(item.Labels))
	for i, l := range item.Labels {
		labels[i] = l
	}
	return map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"status":      string(item.Status),
		"priority":    item.Priority,
		"labels":      labels,
		"reporter":    item.Reporter,
	}
}

func (s *AnalysisStrategy) eval(ctx context.Context, expression string, doc map[string]any) (any, error) {
	code, err := s.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, doc)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if evalErr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeStepFailed,
				"jq evaluation failed for %q: %s", expression, evalErr.Error()).
				WithCause(evalErr).
				WithPhase(schema.PhaseAnalysis)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (s *AnalysisStrategy) evalString(ctx context.Context, expression string, doc map[string]any) (string, error) {
	v, err := s.eval(ctx, expression, doc)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	str, ok := v.(string)
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"projection %q produced %T, want string", expression, v).
			WithPhase(schema.PhaseAnalysis)
	}
	return str, nil
}

func (s *AnalysisStrategy) evalInt(ctx context.Context, expression string, doc map[string]any) (int, error) {
	v, err := s.eval(ctx, expression, doc)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"projection %q produced %T, want number", expression, v).
			WithPhase(schema.PhaseAnalysis)
	}
}

func (s *AnalysisStrategy) evalStrings(ctx context.Context, expression string, doc map[string]any) ([]string, error) {
	v, err := s.eval(ctx, expression, doc)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		// A single scalar signal is fine.
		if str, ok := v.(string); ok {
			return []string{str}, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"projection %q produced %T, want array", expression, v).
			WithPhase(schema.PhaseAnalysis)
	}
	out := make([]string, 0, len(list))
	for _, elem := range list {
		if str, ok := elem.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches one.
func (s *AnalysisStrategy) getOrCompile(expression string) (*gojq.Code, error) {
	s.mu.RLock()
	if code, ok := s.cache[expression]; ok {
		s.mu.RUnlock()
		return code, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := s.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err)
	}

	code, err := gojq.Compile(query,
		// Sandbox: block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err)
	}

	s.cache[expression] = code
	return code, nil
}

var _ Strategy = (*AnalysisStrategy)(nil)
