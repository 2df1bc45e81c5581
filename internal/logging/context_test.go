package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, SessionID(ctx))
	assert.Empty(t, ItemID(ctx))
	assert.Empty(t, Phase(ctx))

	ctx = WithSessionID(ctx, "rs-1")
	ctx = WithItemID(ctx, "BUG-42")
	ctx = WithPhase(ctx, "analysis")

	assert.Equal(t, "rs-1", SessionID(ctx))
	assert.Equal(t, "BUG-42", ItemID(ctx))
	assert.Equal(t, "analysis", Phase(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithPhase(WithItemID(WithSessionID(context.Background(), "rs-9"), "BUG-7"), "reporting")
	logger.InfoContext(ctx, "publishing change request")

	out := buf.String()
	assert.Contains(t, out, "session_id=rs-9")
	assert.Contains(t, out, "item_id=BUG-7")
	assert.Contains(t, out, "phase=reporting")
}

func TestCorrelationHandler_EmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	out := buf.String()
	require.Contains(t, out, "no correlation")
	assert.NotContains(t, out, "session_id")
	assert.NotContains(t, out, "item_id")
	assert.NotContains(t, out, "phase=")
}
