package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiji/eventing"
	"shiji/tracing"
)

func TestTracingEventStore_InjectsTraceIDs(t *testing.T) {
	es, _ := newTestStore(t, DefaultConfig())
	traced := NewTracingEventStore(es)

	ctx := tracing.WithCorrelationID(context.Background(), "cor-1")
	ctx = tracing.WithCausationID(ctx, "cmd-1")

	require.NoError(t, traced.AppendEvents(ctx, depositEvents("acc-1", 0, 1)))

	stream, err := traced.ReadEvents(ctx, "acc-1")
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 2)
	for _, evt := range events {
		assert.Equal(t, "cor-1", evt.Metadata[tracing.MetadataCorrelationID])
		assert.Equal(t, "cmd-1", evt.Metadata[tracing.MetadataCausationID])
	}
}

func TestTracingEventStore_DoesNotOverrideExistingKeys(t *testing.T) {
	es, _ := newTestStore(t, DefaultConfig())
	traced := NewTracingEventStore(es)

	ctx := tracing.WithCorrelationID(context.Background(), "cor-ambient")
	evt := eventing.NewDomainEvent("acc-1", 0, &amountDeposited{Amount: 1},
		map[string]any{tracing.MetadataCorrelationID: "cor-original"})

	require.NoError(t, traced.AppendEvents(ctx, []*eventing.DomainEvent{evt}))

	stream, err := traced.ReadEvents(ctx, "acc-1")
	require.NoError(t, err)
	events := drain(t, stream)

	require.Len(t, events, 1)
	assert.Equal(t, "cor-original", events[0].Metadata[tracing.MetadataCorrelationID])
}

func TestTracingEventStore_NoTraceContextIsNoop(t *testing.T) {
	es, _ := newTestStore(t, DefaultConfig())
	traced := NewTracingEventStore(es)
	ctx := context.Background()

	require.NoError(t, traced.AppendEvents(ctx, depositEvents("acc-1", 0, 0)))
	require.NoError(t, traced.AppendSnapshot(ctx,
		eventing.NewDomainEvent("acc-1", 0, &accountState{Balance: 0}, nil)))

	stream, err := traced.ReadEvents(ctx, "acc-1")
	require.NoError(t, err)
	events := drain(t, stream)
	require.Len(t, events, 1)
	_, hasCor := events[0].Metadata[tracing.MetadataCorrelationID]
	assert.False(t, hasCor)
}
