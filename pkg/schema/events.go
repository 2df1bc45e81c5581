package schema

// Event type constants emitted on the streaming hub.
const (
	EventSessionCreated   = "session_created"
	EventSessionRunning   = "session_running"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
	EventSessionTimedOut  = "session_timed_out"
	EventSessionSwept     = "session_swept"

	EventPhaseStarted   = "phase_started"
	EventPhaseProgress  = "phase_progress"
	EventPhaseCompleted = "phase_completed"
	EventPhaseFailed    = "phase_failed"
	EventPhaseRetrying  = "phase_retrying"

	EventItemDetected = "item_detected"
	EventItemSkipped  = "item_skipped"
)

// SessionStatus represents the lifecycle state of a remediation session.
type SessionStatus string

const (
	SessionStatusCreated   SessionStatus = "created"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusTimeout   SessionStatus = "timeout"
)

// IsTerminal reports whether the status is absorbing: no transition leaves it.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusTimeout
}

// Phase is one stage of the fixed remediation pipeline.
type Phase string

const (
	PhaseDetection      Phase = "detection"
	PhaseAnalysis       Phase = "analysis"
	PhaseClassification Phase = "classification"
	PhaseImplementation Phase = "implementation"
	PhaseReporting      Phase = "reporting"
	PhaseCompletion     Phase = "completion"
)

// PipelinePhases is the fixed phase order driven by the orchestrator.
// Detection happens before a session exists; completion closes it.
var PipelinePhases = []Phase{
	PhaseAnalysis,
	PhaseClassification,
	PhaseImplementation,
	PhaseReporting,
	PhaseCompletion,
}
