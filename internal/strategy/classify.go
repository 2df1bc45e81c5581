package strategy

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/castofly/remedy/pkg/schema"
)

// Rule is one classification rule. When its condition evaluates to true the
// rule decides whether to act, with the stated reason. Rules are evaluated in
// order; the first match wins.
type Rule struct {
	Name       string  `yaml:"name" json:"name"`
	When       string  `yaml:"when" json:"when"`
	Act        bool    `yaml:"act" json:"act"`
	Reason     string  `yaml:"reason" json:"reason"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// DefaultRules act on anything with meaningful severity and decent analysis
// confidence, and skip the rest.
var DefaultRules = []Rule{
	{
		Name:       "low-confidence",
		When:       "confidence < 0.5",
		Act:        false,
		Reason:     "analysis confidence too low for automated action",
		Confidence: 0.9,
	},
	{
		Name:       "actionable-severity",
		When:       "severity >= 2",
		Act:        true,
		Reason:     "severity above action threshold",
		Confidence: 0.8,
	},
}

// ClassifyStrategy turns an analysis into an act/skip decision by evaluating
// configured rules. Compiled rule programs are cached and reused across
// goroutines.
type ClassifyStrategy struct {
	rules []Rule

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewClassifyStrategy creates a classify strategy; nil rules fall back to
// DefaultRules.
func NewClassifyStrategy(rules []Rule) *ClassifyStrategy {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &ClassifyStrategy{
		rules: rules,
		cache: make(map[string]*vm.Program),
	}
}

func (s *ClassifyStrategy) Phase() schema.Phase { return schema.PhaseClassification }

// Execute evaluates the rules against the accumulated analysis. Without a
// matching rule the decision is to not act.
func (s *ClassifyStrategy) Execute(ctx context.Context, in Input) (any, error) {
	if in.Context == nil || in.Context.Analysis == nil {
		return nil, schema.NewError(schema.ErrCodeContract, "classification requires an analysis result").
			WithPhase(schema.PhaseClassification)
	}
	analysis := in.Context.Analysis

	env := map[string]any{
		"summary":    analysis.Summary,
		"component":  analysis.Component,
		"severity":   analysis.Severity,
		"confidence": analysis.Confidence,
		"signals":    analysis.Signals,
	}
	if in.Context.Item != nil {
		env["priority"] = in.Context.Item.Priority
		env["labels"] = in.Context.Item.Labels
	}

	for _, rule := range s.rules {
		matched, err := s.evalBool(rule.When, env)
		if err != nil {
			return nil, err
		}
		if matched {
			return &schema.Decision{
				ShouldAct:  rule.Act,
				Reason:     rule.Reason,
				Rule:       rule.Name,
				Confidence: rule.Confidence,
			}, nil
		}
	}

	return &schema.Decision{
		ShouldAct:  false,
		Reason:     "no classification rule matched",
		Confidence: 1.0,
	}, nil
}

func (s *ClassifyStrategy) evalBool(expression string, env map[string]any) (bool, error) {
	prg, err := s.getOrCompile(expression, env)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeStepFailed,
			"rule evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithPhase(schema.PhaseClassification)
	}

	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"rule %q produced %T, want bool", expression, out).
			WithPhase(schema.PhaseClassification)
	}
	return b, nil
}

// getOrCompile returns a cached compiled program or compiles and caches one.
func (s *ClassifyStrategy) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	s.mu.RLock()
	if prg, ok := s.cache[expression]; ok {
		s.mu.RUnlock()
		return prg, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := s.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rule compile error in %q: %s", expression, err.Error()).
			WithCause(err)
	}

	s.cache[expression] = prg
	return prg, nil
}

var _ Strategy = (*ClassifyStrategy)(nil)
