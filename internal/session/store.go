package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castofly/remedy/internal/streaming"
	"github.com/castofly/remedy/pkg/schema"
)

// DefaultSessionTimeout bounds total wall-clock time for one remediation run.
const DefaultSessionTimeout = 30 * time.Minute

// Store is the in-memory session registry. It owns status transitions, phase
// history, per-session timeout timers, and retention sweeps. All session
// mutation goes through its methods.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timers   map[string]*time.Timer

	timeout time.Duration
	hub     streaming.EventHub
	logger  *slog.Logger
}

// NewStore creates a session store with the given per-session timeout.
// A zero timeout falls back to DefaultSessionTimeout.
func NewStore(timeout time.Duration, hub streaming.EventHub, logger *slog.Logger) *Store {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		timers:   make(map[string]*time.Timer),
		timeout:  timeout,
		hub:      hub,
		logger:   logger,
	}
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("rs-%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// Create allocates a session for the given work item, arms its timeout timer,
// and returns a copy of the new session.
func (s *Store) Create(ctx context.Context, item *schema.WorkItem, overrides *schema.SessionContext) *Session {
	now := time.Now()
	sess := &Session{
		ID:        newSessionID(now),
		Status:    schema.SessionStatusCreated,
		StartedAt: now,
	}
	if item != nil {
		sess.ItemID = item.ID
	}

	sctx := &schema.SessionContext{
		SessionID: sess.ID,
		Item:      item,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if overrides != nil {
		sctx.Merge(overrides)
		sctx.SessionID = sess.ID
	}
	if sctx.Project != nil {
		sess.ProjectID = sctx.Project.ID
	}
	sess.Context = sctx

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.timers[sess.ID] = time.AfterFunc(s.timeout, func() { s.fireTimeout(sess.ID) })
	out := sess.clone()
	s.mu.Unlock()

	s.publish(ctx, streaming.StreamEvent{
		SessionID: sess.ID,
		EventType: schema.EventSessionCreated,
		Payload:   map[string]any{"item_id": sess.ItemID},
	})
	return out
}

// Get returns a copy of the session, or nil if unknown.
func (s *Store) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return sess.clone()
}

// UpdateStatus transitions a session's status. Terminal statuses stamp the
// completion time and disarm the timeout timer. Updating an unknown session
// or attempting an invalid transition logs a warning and does nothing;
// callers must not depend on this failing loudly.
func (s *Store) UpdateStatus(ctx context.Context, id string, to schema.SessionStatus, serr *schema.RemedyError) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("status update for unknown session", "session_id", id, "status", to)
		return
	}
	if !isValidTransition(sess.Status, to) {
		from := sess.Status
		s.mu.Unlock()
		s.logger.Warn("invalid session transition ignored",
			"session_id", id, "from", from, "to", to)
		return
	}

	sess.Status = to
	if serr != nil {
		sess.Err = serr
	}
	if to.IsTerminal() {
		now := time.Now()
		sess.CompletedAt = &now
		s.disarmLocked(id)
	}
	s.mu.Unlock()

	if evt := statusEvent(to); evt != "" {
		payload := map[string]any{}
		if serr != nil {
			payload["error"] = serr.Message
			payload["code"] = string(serr.Code)
		}
		s.publish(ctx, streaming.StreamEvent{SessionID: id, EventType: evt, Payload: payload})
	}
}

// UpdatePhase sets the current phase and appends it to the history.
// Repeated reports of the same phase are idempotent; history never shrinks.
func (s *Store) UpdatePhase(id string, phase schema.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		s.logger.Warn("phase update for unknown session", "session_id", id, "phase", phase)
		return
	}
	sess.CurrentPhase = phase
	if n := len(sess.Phases); n == 0 || sess.Phases[n-1] != phase {
		sess.Phases = append(sess.Phases, phase)
	}
}

// UpdateContext shallow-merges partial into the session's context and
// refreshes its updated timestamp.
func (s *Store) UpdateContext(id string, partial *schema.SessionContext) {
	if partial == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		s.logger.Warn("context update for unknown session", "session_id", id)
		return
	}
	if sess.Context == nil {
		sess.Context = &schema.SessionContext{SessionID: id, CreatedAt: time.Now()}
	}
	sess.Context.Merge(partial)
	sess.Context.UpdatedAt = time.Now()
}

// Close marks a session terminal, defaulting to COMPLETED. Sessions are never
// removed here; Cleanup is the only deletion path.
func (s *Store) Close(ctx context.Context, id string, status schema.SessionStatus) {
	if status == "" {
		status = schema.SessionStatusCompleted
	}
	s.UpdateStatus(ctx, id, status, nil)
}

// Cleanup removes sessions that finished more than maxAge ago with status
// COMPLETED or FAILED. Timed-out sessions are kept for manual inspection.
// Returns the number of swept sessions.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	var swept []string
	for id, sess := range s.sessions {
		if sess.Status != schema.SessionStatusCompleted && sess.Status != schema.SessionStatusFailed {
			continue
		}
		if sess.CompletedAt == nil || sess.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		s.disarmLocked(id)
		swept = append(swept, id)
	}
	s.mu.Unlock()

	for _, id := range swept {
		s.publish(ctx, streaming.StreamEvent{SessionID: id, EventType: schema.EventSessionSwept})
	}
	if len(swept) > 0 {
		s.logger.Info("swept terminal sessions", "count", len(swept), "max_age", maxAge)
	}
	return len(swept)
}

// Active returns copies of all sessions in CREATED or RUNNING status.
func (s *Store) Active() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, sess := range s.sessions {
		if !sess.Status.IsTerminal() {
			out = append(out, sess.clone())
		}
	}
	return out
}

// ByProject returns copies of all sessions for the given project id.
func (s *Store) ByProject(projectID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.ProjectID == projectID {
			out = append(out, sess.clone())
		}
	}
	return out
}

// CountByStatus returns session counts keyed by status.
func (s *Store) CountByStatus() map[schema.SessionStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[schema.SessionStatus]int)
	for _, sess := range s.sessions {
		out[sess.Status]++
	}
	return out
}

// Len returns the total number of retained sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// fireTimeout is the timer callback: if the session is still non-terminal,
// force it to TIMEOUT. This bounds total pipeline latency even when a step
// never resolves.
func (s *Store) fireTimeout(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	sess.Status = schema.SessionStatusTimeout
	now := time.Now()
	sess.CompletedAt = &now
	sess.Err = schema.NewError(schema.ErrCodeSessionTimeout, "session exceeded its time budget")
	s.disarmLocked(id)
	s.mu.Unlock()

	s.logger.Warn("session timed out", "session_id", id, "timeout", s.timeout)
	s.publish(context.Background(), streaming.StreamEvent{
		SessionID: id,
		EventType: schema.EventSessionTimedOut,
		Payload:   map[string]any{"timeout": s.timeout.String()},
	})
}

func (s *Store) disarmLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Store) publish(ctx context.Context, evt streaming.StreamEvent) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, evt); err != nil {
		s.logger.Debug("event publish failed", "event_type", evt.EventType, "error", err)
	}
}
