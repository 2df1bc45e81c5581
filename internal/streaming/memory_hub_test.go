package streaming

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castofly/remedy/pkg/schema"
)

func phaseEvent(session string, phase schema.Phase, eventType string) StreamEvent {
	return StreamEvent{SessionID: session, Phase: phase, EventType: eventType}
}

// drain collects everything currently buffered on ch without blocking.
func drain(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	ev := StreamEvent{
		SessionID: "rs-1",
		Phase:     schema.PhaseAnalysis,
		EventType: schema.EventPhaseCompleted,
		Payload:   map[string]any{"severity": 3},
	}
	require.NoError(t, hub.Publish(ctx, ev))

	select {
	case got := <-ch:
		assert.Equal(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestFilterMatching(t *testing.T) {
	tests := []struct {
		name   string
		filter EventFilter
		want   []string
	}{
		{
			name:   "unfiltered receives everything",
			filter: EventFilter{},
			want:   []string{"a1", "a2", "b1"},
		},
		{
			name:   "by session",
			filter: EventFilter{SessionID: "rs-a"},
			want:   []string{"a1", "a2"},
		},
		{
			name:   "by phase",
			filter: EventFilter{Phase: schema.PhaseClassification},
			want:   []string{"a2"},
		},
		{
			name:   "by event type",
			filter: EventFilter{EventTypes: []string{schema.EventPhaseFailed}},
			want:   []string{"b1"},
		},
		{
			name: "session and phase are ANDed",
			filter: EventFilter{
				SessionID: "rs-a",
				Phase:     schema.PhaseAnalysis,
			},
			want: []string{"a1"},
		},
		{
			name: "conjunction with no match",
			filter: EventFilter{
				SessionID: "rs-b",
				Phase:     schema.PhaseClassification,
			},
			want: nil,
		},
	}

	events := []struct {
		tag string
		ev  StreamEvent
	}{
		{"a1", phaseEvent("rs-a", schema.PhaseAnalysis, schema.EventPhaseCompleted)},
		{"a2", phaseEvent("rs-a", schema.PhaseClassification, schema.EventPhaseCompleted)},
		{"b1", phaseEvent("rs-b", schema.PhaseAnalysis, schema.EventPhaseFailed)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewMemoryHub()
			ctx := context.Background()

			ch, cancel, err := hub.Subscribe(ctx, tt.filter)
			require.NoError(t, err)
			defer cancel()

			for _, e := range events {
				ev := e.ev
				ev.Payload = e.tag
				require.NoError(t, hub.Publish(ctx, ev))
			}

			var got []string
			for _, ev := range drain(ch) {
				got = append(got, ev.Payload.(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	total := subscriptionBuffer + 16
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			_ = hub.Publish(ctx, phaseEvent("rs-1", schema.PhaseAnalysis, schema.EventPhaseProgress))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}

	assert.Len(t, drain(ch), subscriptionBuffer, "overflow must be dropped")
}

func TestCancelStopsDeliveryAndClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	assert.Equal(t, 0, hub.Subscribers())

	require.NoError(t, hub.Publish(ctx, phaseEvent("rs-1", schema.PhaseAnalysis, schema.EventPhaseStarted)))

	_, open := <-ch
	assert.False(t, open, "channel must be closed after cancel")

	// Second cancel is a no-op, not a double close.
	cancel()
}

func TestIndependentSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	chA, cancelA, err := hub.Subscribe(ctx, EventFilter{SessionID: "rs-a"})
	require.NoError(t, err)
	defer cancelA()

	chB, cancelB, err := hub.Subscribe(ctx, EventFilter{SessionID: "rs-b"})
	require.NoError(t, err)

	cancelB()

	require.NoError(t, hub.Publish(ctx, phaseEvent("rs-a", schema.PhaseReporting, schema.EventPhaseCompleted)))
	require.NoError(t, hub.Publish(ctx, phaseEvent("rs-b", schema.PhaseReporting, schema.EventPhaseCompleted)))

	assert.Len(t, drain(chA), 1, "live subscriber still receives")
	assert.Empty(t, drain(chB), "cancelled subscriber receives nothing")
}

func TestCancelledContextRejected(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)

	err = hub.Publish(ctx, phaseEvent("rs-1", schema.PhaseAnalysis, schema.EventPhaseStarted))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	const publishers = 32

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "rs-1"})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := phaseEvent("rs-1", schema.PhaseAnalysis, schema.EventPhaseProgress)
			ev.Payload = fmt.Sprintf("p%d", i)
			_ = hub.Publish(ctx, ev)
		}(i)
	}
	wg.Wait()

	assert.Len(t, drain(ch), publishers, "buffer is large enough, nothing may drop")
}
