package service

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairstats/internal/config"
	"pairstats/internal/metrics"
	"pairstats/internal/testutil"
)

func newTestRefresher(f *fixture, cfg config.RefreshConfig) *Refresher {
	r := NewRefresher(testutil.NopLogger{}, f.svc, cfg)
	r.now = f.clock.Now
	return r
}

func TestSweep_DecaysStalePair(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.registerPair(t)

	require.NoError(t, f.svc.ProcessPairEvent(ctx, swapEvent("0xt1", 50, "5")))

	agg, err := f.svc.Pairs().Get(ctx, 1, "WETH-USDC")
	require.NoError(t, err)
	require.True(t, agg.Volume24h.Equal(testutil.Dec("5")))

	// no events arrive; a day later the bucket is out of the 24h window
	f.clock.Advance(26 * time.Hour)

	r := newTestRefresher(f, config.RefreshConfig{StaleAfter: time.Hour})
	defer r.pool.StopAndWait()
	require.NoError(t, r.Sweep(ctx))

	agg, err = f.svc.Pairs().Get(ctx, 1, "WETH-USDC")
	require.NoError(t, err)
	assert.True(t, agg.Volume24h.IsZero(), "stale volume must decay, got %s", agg.Volume24h)
	assert.True(t, agg.VolumePercentChange24h.Equal(testutil.Dec("-100")), "got %s", agg.VolumePercentChange24h)
}

// not parallel: asserts on the shared refresh counter
func TestSweep_SkipsFreshPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerPair(t)

	// bucket written within the staleness horizon
	ev := swapEvent("0xt1", 50, "5")
	ev.BlockTime = f.clock.Now().Add(-10 * time.Minute)
	require.NoError(t, f.svc.ProcessPairEvent(ctx, ev))

	before := promtest.ToFloat64(metrics.RollupRefreshes)

	r := newTestRefresher(f, config.RefreshConfig{StaleAfter: time.Hour})
	defer r.pool.StopAndWait()
	require.NoError(t, r.Sweep(ctx))

	assert.Equal(t, before, promtest.ToFloat64(metrics.RollupRefreshes), "fresh pair must not be refreshed")
}

func TestSweep_SkipsPairWithoutBuckets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.registerPair(t) // indexed, no events yet

	r := newTestRefresher(f, config.RefreshConfig{StaleAfter: time.Hour})
	defer r.pool.StopAndWait()
	assert.NoError(t, r.Sweep(ctx))
}

func TestSweep_EmptyIndex(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := newTestRefresher(f, config.RefreshConfig{})
	defer r.pool.StopAndWait()
	assert.NoError(t, r.Sweep(context.Background()))
}

func TestNewRefresher_Defaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := NewRefresher(testutil.NopLogger{}, f.svc, config.RefreshConfig{})
	defer r.pool.StopAndWait()

	assert.Equal(t, "@every 10m", r.spec)
	assert.Equal(t, time.Hour, r.staleAfter)
}

func TestRefresherStartStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := NewRefresher(testutil.NopLogger{}, f.svc, config.RefreshConfig{CronSpec: "@every 1h"})
	require.NoError(t, r.Start())
	r.Stop()
}

func TestRefresherStart_BadSpec(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := NewRefresher(testutil.NopLogger{}, f.svc, config.RefreshConfig{CronSpec: "not a cron spec"})
	defer r.pool.StopAndWait()
	assert.Error(t, r.Start())
}
