package syncstate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairstats/internal/kv"
	"pairstats/internal/testutil"
)

type countingOracle struct {
	height atomic.Int64
	calls  atomic.Int64
	err    error
}

func (o *countingOracle) LastIrreversibleHeight(_ context.Context, _ uint32) (int64, error) {
	o.calls.Add(1)
	if o.err != nil {
		return 0, o.err
	}
	return o.height.Load(), nil
}

func TestLastIrreversibleHeight_Caches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	oracle := &countingOracle{}
	oracle.height.Store(500)
	tr := New(testutil.NopLogger{}, oracle, kv.NewMemory(), time.Minute)

	for i := 0; i < 5; i++ {
		h, err := tr.LastIrreversibleHeight(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(500), h)
	}
	assert.Equal(t, int64(1), oracle.calls.Load(), "hits inside the TTL are served from cache")
}

func TestLastIrreversibleHeight_CacheExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	oracle := &countingOracle{}
	oracle.height.Store(500)
	tr := New(testutil.NopLogger{}, oracle, kv.NewMemory(), 20*time.Millisecond)

	_, err := tr.LastIrreversibleHeight(ctx, 1)
	require.NoError(t, err)

	oracle.height.Store(510)
	time.Sleep(30 * time.Millisecond)

	h, err := tr.LastIrreversibleHeight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(510), h)
	assert.Equal(t, int64(2), oracle.calls.Load())
}

func TestLastIrreversibleHeight_OracleFailure(t *testing.T) {
	t.Parallel()

	oracle := &countingOracle{err: errors.New("indexer down")}
	tr := New(testutil.NopLogger{}, oracle, kv.NewMemory(), time.Minute)

	_, err := tr.LastIrreversibleHeight(context.Background(), 1)
	assert.ErrorContains(t, err, "indexer down")
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := New(testutil.NopLogger{}, &countingOracle{}, kv.NewMemory(), time.Minute)

	_, found, err := tr.LastProcessedHeight(ctx, 1, "ingest")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tr.SetLastProcessedHeight(ctx, 1, "ingest", 12345))

	h, found, err := tr.LastProcessedHeight(ctx, 1, "ingest")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(12345), h)

	// checkpoints are per worker
	_, found, err = tr.LastProcessedHeight(ctx, 1, "backfill")
	require.NoError(t, err)
	assert.False(t, found)
}
