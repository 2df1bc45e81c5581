package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castofly/remedy/pkg/schema"
)

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())

	_, err := NewSweeper(s, "not a cron line", time.Hour, testLogger())
	assert.Error(t, err)
}

func TestSweeper_SweepRemovesOldTerminal(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())
	ctx := context.Background()

	done := s.Create(ctx, testItem("a"), nil)
	s.UpdateStatus(ctx, done.ID, schema.SessionStatusRunning, nil)
	s.UpdateStatus(ctx, done.ID, schema.SessionStatusCompleted, nil)

	live := s.Create(ctx, testItem("b"), nil)

	sw, err := NewSweeper(s, "*/5 * * * *", 0, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, sw.Sweep(ctx))
	assert.Nil(t, s.Get(done.ID))
	assert.NotNil(t, s.Get(live.ID))
}

func TestSweeper_StartStop(t *testing.T) {
	s := NewStore(time.Minute, nil, testLogger())

	sw, err := NewSweeper(s, "0 3 * * *", time.Hour, testLogger())
	require.NoError(t, err)

	require.NoError(t, sw.Start(context.Background()))
	assert.Error(t, sw.Start(context.Background()), "double start must be rejected")
	require.NoError(t, sw.Stop())
	require.NoError(t, sw.Stop(), "stop is idempotent")

	// Restart after stop works.
	require.NoError(t, sw.Start(context.Background()))
	require.NoError(t, sw.Stop())
}
