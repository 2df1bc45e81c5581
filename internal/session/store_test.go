package session

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castofly/remedy/internal/streaming"
	"github.com/castofly/remedy/pkg/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testItem(id string) *schema.WorkItem {
	return &schema.WorkItem{ID: id, Title: "broken widget", Status: schema.ItemStatusNotStarted}
}

func TestStore_CreateArmsSession(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())

	sess := s.Create(context.Background(), testItem("item-1"), nil)

	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "item-1", sess.ItemID)
	assert.Equal(t, schema.SessionStatusCreated, sess.Status)
	assert.Nil(t, sess.CompletedAt)
	require.NotNil(t, sess.Context)
	assert.Equal(t, sess.ID, sess.Context.SessionID)
	assert.Equal(t, "item-1", sess.Context.Item.ID)
}

func TestStore_CreateWithOverrides(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())

	sess := s.Create(context.Background(), testItem("item-1"), &schema.SessionContext{
		Project: &schema.ProjectConfig{ID: "proj-9", Repo: "r"},
	})

	assert.Equal(t, "proj-9", sess.ProjectID)
	assert.Equal(t, "proj-9", sess.Context.Project.ID)
}

func TestStore_SessionIDsUnique(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := s.Create(context.Background(), testItem("i"), nil).ID
		require.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
}

func TestStore_StatusLifecycle(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	sess := s.Create(ctx, testItem("item-1"), nil)

	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
	got := s.Get(sess.ID)
	assert.Equal(t, schema.SessionStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt, "non-terminal status must not stamp completion")

	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusCompleted, nil)
	got = s.Get(sess.ID)
	assert.Equal(t, schema.SessionStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestStore_TerminalIsAbsorbing(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	sess := s.Create(ctx, testItem("item-1"), nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusFailed,
		schema.NewError(schema.ErrCodeStepFailed, "analysis blew up"))

	first := s.Get(sess.ID)
	require.NotNil(t, first.CompletedAt)

	// Any further transition is ignored.
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusCompleted, nil)

	got := s.Get(sess.ID)
	assert.Equal(t, schema.SessionStatusFailed, got.Status)
	assert.Equal(t, first.CompletedAt.UnixNano(), got.CompletedAt.UnixNano())
	require.NotNil(t, got.Err)
	assert.Equal(t, schema.ErrCodeStepFailed, got.Err.Code)
}

func TestStore_CompletedAtIffTerminal_RandomSequences(t *testing.T) {
	statuses := []schema.SessionStatus{
		schema.SessionStatusCreated,
		schema.SessionStatusRunning,
		schema.SessionStatusCompleted,
		schema.SessionStatusFailed,
		schema.SessionStatusTimeout,
	}
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for trial := 0; trial < 50; trial++ {
		s := NewStore(time.Minute, nil, testLogger())
		sess := s.Create(ctx, testItem("item-1"), nil)

		for i := 0; i < 10; i++ {
			s.UpdateStatus(ctx, sess.ID, statuses[rng.Intn(len(statuses))], nil)
			got := s.Get(sess.ID)
			if got.Status.IsTerminal() {
				assert.NotNil(t, got.CompletedAt, "terminal status %s without completion time", got.Status)
			} else {
				assert.Nil(t, got.CompletedAt, "non-terminal status %s with completion time", got.Status)
			}
		}
	}
}

func TestStore_UnknownSessionIsNoOp(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	// None of these may panic or create state.
	s.UpdateStatus(ctx, "nope", schema.SessionStatusRunning, nil)
	s.UpdatePhase("nope", schema.PhaseAnalysis)
	s.UpdateContext("nope", &schema.SessionContext{})
	s.Close(ctx, "nope", "")

	assert.Nil(t, s.Get("nope"))
	assert.Equal(t, 0, s.Len())
}

func TestStore_UpdatePhaseIdempotent(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	sess := s.Create(context.Background(), testItem("item-1"), nil)

	s.UpdatePhase(sess.ID, schema.PhaseAnalysis)
	s.UpdatePhase(sess.ID, schema.PhaseAnalysis)
	s.UpdatePhase(sess.ID, schema.PhaseClassification)
	s.UpdatePhase(sess.ID, schema.PhaseClassification)

	got := s.Get(sess.ID)
	assert.Equal(t, []schema.Phase{schema.PhaseAnalysis, schema.PhaseClassification}, got.Phases)
	assert.Equal(t, schema.PhaseClassification, got.CurrentPhase)
}

func TestStore_UpdateContextMerges(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	sess := s.Create(context.Background(), testItem("item-1"), nil)

	s.UpdateContext(sess.ID, &schema.SessionContext{
		Analysis: &schema.AnalysisResult{Summary: "widget cracked", Severity: 3},
	})
	s.UpdateContext(sess.ID, &schema.SessionContext{
		Decision: &schema.Decision{ShouldAct: true, Reason: "severity"},
	})

	got := s.Get(sess.ID)
	require.NotNil(t, got.Context.Analysis)
	require.NotNil(t, got.Context.Decision)
	assert.Equal(t, "widget cracked", got.Context.Analysis.Summary, "earlier fields survive later merges")
	assert.Equal(t, "item-1", got.Context.Item.ID)
}

func TestStore_CloseDefaultsToCompleted(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	sess := s.Create(ctx, testItem("item-1"), nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
	s.Close(ctx, sess.ID, "")

	got := s.Get(sess.ID)
	assert.Equal(t, schema.SessionStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, s.Len(), "close never removes the session")
}

func TestStore_SessionTimeoutWhileRunning(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.EventFilter{
		EventTypes: []string{schema.EventSessionTimedOut},
	})
	require.NoError(t, err)
	defer cancel()

	s := NewStore(30*time.Millisecond, hub, testLogger())
	ctx := context.Background()

	sess := s.Create(ctx, testItem("item-1"), nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)

	select {
	case evt := <-ch:
		assert.Equal(t, sess.ID, evt.SessionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session timeout event")
	}

	got := s.Get(sess.ID)
	assert.Equal(t, schema.SessionStatusTimeout, got.Status)
	require.NotNil(t, got.Err)
	assert.Equal(t, schema.ErrCodeSessionTimeout, got.Err.Code)
	assert.NotNil(t, got.CompletedAt)
}

func TestStore_TimeoutBeforeRunning(t *testing.T) {
	s := NewStore(20*time.Millisecond, nil, testLogger())
	sess := s.Create(context.Background(), testItem("item-1"), nil)

	// Never marked RUNNING; the timer must still force TIMEOUT.
	assert.Eventually(t, func() bool {
		return s.Get(sess.ID).Status == schema.SessionStatusTimeout
	}, time.Second, 5*time.Millisecond)
}

func TestStore_TimerDisarmedOnClose(t *testing.T) {
	s := NewStore(40*time.Millisecond, nil, testLogger())
	ctx := context.Background()

	sess := s.Create(ctx, testItem("item-1"), nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
	s.Close(ctx, sess.ID, "")

	time.Sleep(80 * time.Millisecond)

	got := s.Get(sess.ID)
	assert.Equal(t, schema.SessionStatusCompleted, got.Status, "disarmed timer must not flip a closed session")
}

func TestStore_CleanupSweepsOnlyOldCompletedOrFailed(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	mk := func(status schema.SessionStatus) string {
		sess := s.Create(ctx, testItem("i"), nil)
		if status != schema.SessionStatusCreated {
			s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
		}
		if status.IsTerminal() {
			s.UpdateStatus(ctx, sess.ID, status, nil)
		}
		return sess.ID
	}

	completed := mk(schema.SessionStatusCompleted)
	failed := mk(schema.SessionStatusFailed)
	timedOut := mk(schema.SessionStatusTimeout)
	running := mk(schema.SessionStatusRunning)

	// All completion times are "now"; a zero maxAge makes them all old enough.
	swept := s.Cleanup(ctx, 0)

	assert.Equal(t, 2, swept)
	assert.Nil(t, s.Get(completed))
	assert.Nil(t, s.Get(failed))
	assert.NotNil(t, s.Get(timedOut), "timed-out sessions are kept for inspection")
	assert.NotNil(t, s.Get(running))
}

func TestStore_CleanupRespectsMaxAge(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	sess := s.Create(ctx, testItem("i"), nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusRunning, nil)
	s.UpdateStatus(ctx, sess.ID, schema.SessionStatusCompleted, nil)

	assert.Equal(t, 0, s.Cleanup(ctx, time.Hour), "fresh terminal sessions survive")
	assert.NotNil(t, s.Get(sess.ID))
}

func TestStore_Queries(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	a := s.Create(ctx, testItem("a"), &schema.SessionContext{Project: &schema.ProjectConfig{ID: "p1"}})
	b := s.Create(ctx, testItem("b"), &schema.SessionContext{Project: &schema.ProjectConfig{ID: "p1"}})
	c := s.Create(ctx, testItem("c"), &schema.SessionContext{Project: &schema.ProjectConfig{ID: "p2"}})

	s.UpdateStatus(ctx, a.ID, schema.SessionStatusRunning, nil)
	s.UpdateStatus(ctx, b.ID, schema.SessionStatusRunning, nil)
	s.UpdateStatus(ctx, b.ID, schema.SessionStatusFailed, nil)
	_ = c

	active := s.Active()
	assert.Len(t, active, 2) // a (running) + c (created)

	assert.Len(t, s.ByProject("p1"), 2)
	assert.Len(t, s.ByProject("p2"), 1)

	counts := s.CountByStatus()
	assert.Equal(t, 1, counts[schema.SessionStatusRunning])
	assert.Equal(t, 1, counts[schema.SessionStatusFailed])
	assert.Equal(t, 1, counts[schema.SessionStatusCreated])
}

func TestStore_QueriesReturnCopies(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	sess := s.Create(context.Background(), testItem("a"), nil)

	got := s.Get(sess.ID)
	got.Status = schema.SessionStatusFailed
	got.Phases = append(got.Phases, schema.PhaseReporting)

	fresh := s.Get(sess.ID)
	assert.Equal(t, schema.SessionStatusCreated, fresh.Status)
	assert.Empty(t, fresh.Phases)
}
