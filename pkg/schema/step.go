package schema

// StepError is the normalized error descriptor carried by a failed StepResult.
// It never exposes a collaborator's raw error type across the runner boundary.
type StepError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// StepMeta carries execution metadata for one step runner invocation.
type StepMeta struct {
	Phase      Phase `json:"phase"`
	Attempts   int   `json:"attempts"`
	DurationMs int64 `json:"duration_ms"`
}

// StepResult is the only shape a phase may return to the driver.
type StepResult struct {
	Success bool       `json:"success"`
	Output  any        `json:"output,omitempty"`
	Error   *StepError `json:"error,omitempty"`
	Meta    StepMeta   `json:"meta"`
}
