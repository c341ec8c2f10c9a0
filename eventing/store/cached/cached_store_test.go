package cached

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiji/eventing"
	"shiji/eventing/store"
)

// countingStore 统计回源次数的内存存储包装
type countingStore struct {
	*store.MemoryEventEntryStore
	snapshotLoads atomic.Int64
}

func (c *countingStore) LoadLastSnapshot(ctx context.Context, aggregateID string) (*eventing.StoredEventEntry, error) {
	c.snapshotLoads.Add(1)
	return c.MemoryEventEntryStore.LoadLastSnapshot(ctx, aggregateID)
}

func entry(aggregateID string, seq uint64) *eventing.StoredEventEntry {
	return &eventing.StoredEventEntry{
		EventID:        fmt.Sprintf("%s-%d", aggregateID, seq),
		AggregateID:    aggregateID,
		SequenceNumber: seq,
	}
}

func newFixture(t *testing.T) (*CachedEntryStore, *countingStore) {
	t.Helper()
	inner := &countingStore{MemoryEventEntryStore: store.NewMemoryEventEntryStore()}
	return New(inner, DefaultConfig()), inner
}

func TestCachedStore_SnapshotLookupIsCached(t *testing.T) {
	s, inner := newFixture(t)
	ctx := context.Background()

	require.NoError(t, s.PersistSnapshot(ctx, entry("A", 5)))

	for i := 0; i < 3; i++ {
		got, err := s.LoadLastSnapshot(ctx, "A")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, uint64(5), got.SequenceNumber)
	}

	// 仅第一次回源
	assert.Equal(t, int64(1), inner.snapshotLoads.Load())
	assert.Equal(t, int64(2), s.Stats().Hits)
}

func TestCachedStore_PersistSnapshotInvalidates(t *testing.T) {
	s, inner := newFixture(t)
	ctx := context.Background()

	require.NoError(t, s.PersistSnapshot(ctx, entry("A", 5)))
	_, err := s.LoadLastSnapshot(ctx, "A")
	require.NoError(t, err)

	require.NoError(t, s.PersistSnapshot(ctx, entry("A", 9)))

	got, err := s.LoadLastSnapshot(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(9), got.SequenceNumber)
	assert.Equal(t, int64(2), inner.snapshotLoads.Load())
}

func TestCachedStore_MissWithoutSnapshotIsNotCached(t *testing.T) {
	s, inner := newFixture(t)
	ctx := context.Background()

	got, err := s.LoadLastSnapshot(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	// 空结果不缓存：快照随时可能出现
	_, err = s.LoadLastSnapshot(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inner.snapshotLoads.Load())
}

func TestCachedStore_EventPathsPassThrough(t *testing.T) {
	s, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, s.PersistEvent(ctx, entry("A", 0)))
	require.NoError(t, s.PersistEvent(ctx, entry("A", 1)))
	require.ErrorIs(t, s.PersistEvent(ctx, entry("A", 1)), store.ErrDuplicateEntry)

	cursor, err := s.FetchAggregateStream(ctx, "A", 0, 10)
	require.NoError(t, err)
	defer cursor.Close()
	var count int
	for {
		e, err := cursor.Next(ctx)
		require.NoError(t, err)
		if e == nil {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}
