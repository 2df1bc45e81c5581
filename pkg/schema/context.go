package schema

import "time"

// ProjectConfig identifies the project a work item belongs to.
type ProjectConfig struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Repo   string `json:"repo,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// AnalysisResult is the structured output of the analysis phase.
type AnalysisResult struct {
	Summary    string   `json:"summary"`
	Component  string   `json:"component,omitempty"`
	Severity   int      `json:"severity"`
	Confidence float64  `json:"confidence"`
	Signals    []string `json:"signals,omitempty"`
}

// Decision is the classification phase's verdict on whether to act.
type Decision struct {
	ShouldAct  bool    `json:"should_act"`
	Reason     string  `json:"reason"`
	Rule       string  `json:"rule,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Patch is a single proposed file change inside a ChangeSet.
type Patch struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// ChangeSet is the implementation phase's artifact: a drafted set of changes
// ready for publication. No repository is mutated to produce it.
type ChangeSet struct {
	Branch      string  `json:"branch"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Patches     []Patch `json:"patches,omitempty"`
}

// Report references the externally published artifact (e.g. a change request).
type Report struct {
	URL         string    `json:"url"`
	Reference   string    `json:"reference,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// SessionContext is the accumulating working set threaded through phases.
// Later phases add fields; earlier fields are never erased.
type SessionContext struct {
	SessionID string          `json:"session_id"`
	Item      *WorkItem       `json:"item,omitempty"`
	Project   *ProjectConfig  `json:"project,omitempty"`
	Analysis  *AnalysisResult `json:"analysis,omitempty"`
	Decision  *Decision       `json:"decision,omitempty"`
	Changes   *ChangeSet      `json:"changes,omitempty"`
	Report    *Report         `json:"report,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Merge shallow-merges non-nil fields of other into the context.
// Timestamps are managed by the session store, not here.
func (c *SessionContext) Merge(other *SessionContext) {
	if other == nil {
		return
	}
	if other.Item != nil {
		c.Item = other.Item
	}
	if other.Project != nil {
		c.Project = other.Project
	}
	if other.Analysis != nil {
		c.Analysis = other.Analysis
	}
	if other.Decision != nil {
		c.Decision = other.Decision
	}
	if other.Changes != nil {
		c.Changes = other.Changes
	}
	if other.Report != nil {
		c.Report = other.Report
	}
}
