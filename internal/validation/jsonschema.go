package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/castofly/remedy/pkg/schema"
)

// analysisSchemaJSON constrains the analysis phase's output shape.
// Embedded as a constant to avoid filesystem dependencies.
const analysisSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://castofly.dev/schemas/analysis.json",
  "type": "object",
  "required": ["summary", "severity", "confidence"],
  "properties": {
    "summary": {
      "type": "string",
      "minLength": 1
    },
    "component": { "type": "string" },
    "severity": {
      "type": "integer",
      "minimum": 0,
      "maximum": 5
    },
    "confidence": {
      "type": "number",
      "minimum": 0,
      "maximum": 1
    },
    "signals": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": false
}`

// decisionSchemaJSON constrains the classification phase's verdict.
const decisionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://castofly.dev/schemas/decision.json",
  "type": "object",
  "required": ["should_act", "reason"],
  "properties": {
    "should_act": { "type": "boolean" },
    "reason": {
      "type": "string",
      "minLength": 1
    },
    "rule": { "type": "string" },
    "confidence": {
      "type": "number",
      "minimum": 0,
      "maximum": 1
    }
  },
  "additionalProperties": false
}`

// changesSchemaJSON constrains the implementation phase's change set.
const changesSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://castofly.dev/schemas/changes.json",
  "type": "object",
  "required": ["branch", "title"],
  "properties": {
    "branch": {
      "type": "string",
      "minLength": 1
    },
    "title": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "patches": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path", "diff"],
        "properties": {
          "path": { "type": "string", "minLength": 1 },
          "diff": { "type": "string" }
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// ContractValidator checks phase payloads against their JSON Schemas before
// the driver hands them to the next phase. It is safe for concurrent use;
// all schemas are compiled once at construction.
type ContractValidator struct {
	analysis *jsonschema.Schema
	decision *jsonschema.Schema
	changes  *jsonschema.Schema
}

// NewContractValidator compiles the embedded phase schemas.
func NewContractValidator() (*ContractValidator, error) {
	v := &ContractValidator{}
	for _, s := range []struct {
		url  string
		doc  string
		dest **jsonschema.Schema
	}{
		{"https://castofly.dev/schemas/analysis.json", analysisSchemaJSON, &v.analysis},
		{"https://castofly.dev/schemas/decision.json", decisionSchemaJSON, &v.decision},
		{"https://castofly.dev/schemas/changes.json", changesSchemaJSON, &v.changes},
	} {
		compiled, err := compile(s.url, s.doc)
		if err != nil {
			return nil, err
		}
		*s.dest = compiled
	}
	return v, nil
}

func compile(url, schemaJSON string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

// ValidateAnalysis checks an analysis result against its contract.
func (v *ContractValidator) ValidateAnalysis(a *schema.AnalysisResult) error {
	if a == nil {
		return schema.NewError(schema.ErrCodeContract, "analysis result is nil")
	}
	return validate(v.analysis, a, "analysis")
}

// ValidateDecision checks a classification decision against its contract.
func (v *ContractValidator) ValidateDecision(d *schema.Decision) error {
	if d == nil {
		return schema.NewError(schema.ErrCodeContract, "decision is nil")
	}
	return validate(v.decision, d, "decision")
}

// ValidateChanges checks an implementation change set against its contract.
func (v *ContractValidator) ValidateChanges(c *schema.ChangeSet) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeContract, "change set is nil")
	}
	return validate(v.changes, c, "changes")
}

func validate(compiled *jsonschema.Schema, payload any, label string) error {
	doc, err := toJSONValue(payload)
	if err != nil {
		return schema.NewError(schema.ErrCodeContract,
			fmt.Sprintf("failed to serialize %s payload", label)).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toContractError(err, label)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding so numeric values
// become json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toContractError converts a jsonschema.ValidationError into a RemedyError
// with the leaf violations spelled out.
func toContractError(err error, label string) *schema.RemedyError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeContract, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeContract, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeContract,
			fmt.Sprintf("%s contract: %s", label, violations[0])).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewError(schema.ErrCodeContract,
		fmt.Sprintf("%s contract violated with %d errors", label, len(violations))).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and gathers leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
