package pair

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairstats/internal/domain"
	"pairstats/internal/kv"
	"pairstats/internal/pricing"
	"pairstats/internal/snapshot"
	"pairstats/internal/testutil"
)

var testNow = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

type fixture struct {
	actors *Actors
	snaps  *snapshot.Actors
	store  kv.Store
	usd    *pricing.FixedSource
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	store := kv.NewMemory()
	snaps := snapshot.NewActors(testutil.NopLogger{}, store, 16, time.Minute)

	usd := pricing.NewFixedSource()
	usd.Set(1, "WETH", testutil.Dec("2"))
	usd.Set(1, "USDC", testutil.Dec("1"))

	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	return &fixture{
		actors: NewActors(testutil.NopLogger{}, store, snaps, usd, opts),
		snaps:  snaps,
		store:  store,
		usd:    usd,
	}
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	err := f.actors.Register(context.Background(), 1, "WETH-USDC", "WETH", "USDC", testutil.Dec("0.003"))
	require.NoError(t, err)
}

func TestRegister_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.register(t)
	require.NoError(t, f.actors.Register(ctx, 1, "WETH-USDC", "OTHER", "OTHER", decimal.Zero))

	agg, err := f.actors.Get(ctx, 1, "WETH-USDC")
	require.NoError(t, err)
	assert.Equal(t, "WETH", agg.Token0, "second registration must not overwrite")
	assert.Equal(t, "USDC", agg.Token1)
}

func TestMutationsRequireKnownPair(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "nope", testutil.Dec("1"), testutil.Dec("1"), testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.actors.ApplyTradeUpdate(ctx, 1, "nope", domain.SideBuy, testutil.Dec("1"), testutil.Dec("1"), testNow, 0, false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = f.actors.ApplySupplyUpdate(ctx, 1, "nope", testutil.Dec("1"), domain.KindMint, false, testNow)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.actors.Get(ctx, 1, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDeleted_RefusesFurtherMutation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.register(t)
	require.NoError(t, f.actors.MarkDeleted(ctx, 1, "WETH-USDC"))

	_, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), testNow)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyPriceUpdate_Scenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	agg, snap, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), testNow)
	require.NoError(t, err)
	assert.True(t, agg.Price.Equal(testutil.Dec("10")), "price = reserve1/reserve0")
	assert.True(t, agg.PriceUSD.Equal(testutil.Dec("10")), "price * usd(token1)")
	// tvl = usd0*r0 + usd1*r1 = 2*100 + 1*1000
	assert.True(t, agg.TVL.Equal(testutil.Dec("1200")))
	assert.True(t, agg.ValueLocked0.Equal(testutil.Dec("100")))
	assert.True(t, agg.ValueLocked1.Equal(testutil.Dec("1000")))

	agg, snap, err = f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("200"), testutil.Dec("2200"), testNow)
	require.NoError(t, err)
	assert.True(t, agg.Price.Equal(testutil.Dec("11")))
	assert.True(t, agg.TVL.Equal(testutil.Dec("2600")))

	assert.True(t, snap.PriceHigh.Equal(testutil.Dec("11")))
	assert.True(t, snap.PriceLow.Equal(testutil.Dec("10")))
	assert.True(t, agg.PriceHigh24h.Equal(testutil.Dec("11")))
	assert.True(t, agg.PriceLow24h.Equal(testutil.Dec("10")))
}

func TestApplyPriceUpdate_ZeroReserveGuard(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	agg, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", decimal.Zero, testutil.Dec("1000"), testNow)
	require.NoError(t, err)
	assert.True(t, agg.Price.IsZero(), "empty reserve0 must not divide")
	assert.True(t, agg.TVL.Equal(testutil.Dec("1000")))
}

func TestApplyPriceUpdate_StaleBucketKeepsPointInTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	_, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), testNow)
	require.NoError(t, err)

	// a late observation for an earlier hour lands in its own bucket but
	// must not roll the live price back
	stale := testNow.Add(-3 * time.Hour)
	agg, snap, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("500"), stale)
	require.NoError(t, err)

	assert.True(t, agg.Price.Equal(testutil.Dec("10")), "live price unchanged")
	assert.True(t, snap.Price.Equal(testutil.Dec("5")), "stale bucket recorded")
	assert.Equal(t, domain.HourBucket(stale), snap.Timestamp)
}

func TestApplyTradeUpdate_RevertSymmetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	agg, snap, err := f.actors.ApplyTradeUpdate(ctx, 1, "WETH-USDC", domain.SideBuy, testutil.Dec("10"), testutil.Dec("100"), testNow, 7, false)
	require.NoError(t, err)
	assert.True(t, agg.Volume24h.Equal(testutil.Dec("10")))
	assert.True(t, agg.TradeValue24h.Equal(testutil.Dec("100")))
	assert.Equal(t, int64(1), agg.TradeCount24h)
	assert.Equal(t, int64(7), snap.TradeAddressCount24h)

	agg, snap, err = f.actors.ApplyTradeUpdate(ctx, 1, "WETH-USDC", domain.SideBuy, testutil.Dec("10"), testutil.Dec("100"), testNow, 0, true)
	require.NoError(t, err)
	assert.True(t, agg.Volume24h.IsZero(), "revert nets the flows out")
	assert.True(t, agg.TradeValue24h.IsZero())
	assert.Equal(t, int64(0), agg.TradeCount24h)
	assert.True(t, snap.Volume.IsZero())
	assert.Equal(t, int64(0), snap.TradeCount)
}

func TestApplySupplyUpdate_MintBurnRevert(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	agg, _, err := f.actors.ApplySupplyUpdate(ctx, 1, "WETH-USDC", testutil.Dec("50000"), domain.KindMint, false, testNow)
	require.NoError(t, err)
	assert.True(t, agg.TotalSupply.Equal(testutil.Dec("50000")))

	agg, _, err = f.actors.ApplySupplyUpdate(ctx, 1, "WETH-USDC", testutil.Dec("5000"), domain.KindBurn, false, testNow)
	require.NoError(t, err)
	assert.True(t, agg.TotalSupply.Equal(testutil.Dec("45000")))

	// reverting the burn restores the supply
	agg, _, err = f.actors.ApplySupplyUpdate(ctx, 1, "WETH-USDC", testutil.Dec("5000"), domain.KindBurn, true, testNow)
	require.NoError(t, err)
	assert.True(t, agg.TotalSupply.Equal(testutil.Dec("50000")))
}

func TestApplySupplyUpdate_StaleBucketFoldsIntoLatest(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	_, _, err := f.actors.ApplySupplyUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), domain.KindMint, false, testNow)
	require.NoError(t, err)
	latest := domain.HourBucket(testNow)

	stale := testNow.Add(-2 * time.Hour)
	agg, snap, err := f.actors.ApplySupplyUpdate(ctx, 1, "WETH-USDC", testutil.Dec("40"), domain.KindMint, false, stale)
	require.NoError(t, err)

	assert.Equal(t, latest, snap.Timestamp, "delta folded into the latest bucket")
	assert.True(t, agg.TotalSupply.Equal(testutil.Dec("140")))

	// the stale hour never got its own bucket
	_, found, err := f.snaps.Get(ctx, 1, "WETH-USDC", domain.HourBucket(stale))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWindowBoundedWithFIFOEviction(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{WindowSize: 5})
	ctx := context.Background()
	f.register(t)

	for i := 7; i >= 0; i-- {
		ts := testNow.Add(-time.Duration(i) * time.Hour)
		_, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), ts)
		require.NoError(t, err)
	}

	agg, err := f.actors.Get(ctx, 1, "WETH-USDC")
	require.NoError(t, err)
	require.Len(t, agg.Window, 5)

	// newest first, strictly descending
	for i := 1; i < len(agg.Window); i++ {
		assert.Greater(t, agg.Window[i-1], agg.Window[i])
	}
	assert.Equal(t, domain.HourBucket(testNow), agg.Window[0])
	assert.Equal(t, domain.HourBucket(testNow.Add(-4*time.Hour)), agg.Window[4])
}

func TestRollups_24hPartition(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	// oldest to newest: beyond 48h, previous-24h, live
	old := testNow.Add(-50 * time.Hour)
	prev := testNow.Add(-30 * time.Hour)
	live := testNow.Add(-1 * time.Hour)

	_, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("500"), old)
	require.NoError(t, err)

	_, _, err = f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("800"), prev)
	require.NoError(t, err)
	_, _, err = f.actors.ApplyTradeUpdate(ctx, 1, "WETH-USDC", domain.SideSell, testutil.Dec("7"), testutil.Dec("56"), prev, 0, false)
	require.NoError(t, err)

	_, _, err = f.actors.ApplyTradeUpdate(ctx, 1, "WETH-USDC", domain.SideBuy, testutil.Dec("10"), testutil.Dec("110"), live, 0, false)
	require.NoError(t, err)
	agg, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1100"), live)
	require.NoError(t, err)

	assert.True(t, agg.Volume24h.Equal(testutil.Dec("10")), "only the live bucket counts")
	assert.True(t, agg.TradeValue24h.Equal(testutil.Dec("110")))
	assert.Equal(t, int64(1), agg.TradeCount24h)

	// volume change compares against the previous-24h sum (7)
	wantVol := percentChange(testutil.Dec("10"), testutil.Dec("7"))
	assert.True(t, agg.VolumePercentChange24h.Equal(wantVol))

	// price change compares against the reference bucket (price 8)
	wantPrice := percentChange(testutil.Dec("11"), testutil.Dec("8"))
	assert.True(t, agg.PricePercentChange24h.Equal(wantPrice))

	wantTVL := percentChange(agg.TVL, testutil.Dec("1000")) // old TVL at prev: 2*100+1*800
	assert.True(t, agg.TVLPercentChange24h.Equal(wantTVL))
}

func TestRollups_NoReferenceBucketGuards(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	agg, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), testNow)
	require.NoError(t, err)

	assert.True(t, agg.PricePercentChange24h.IsZero())
	assert.True(t, agg.TVLPercentChange24h.IsZero())
	assert.True(t, agg.VolumePercentChange24h.IsZero())
}

func TestRefreshRollups_DecaysStaleWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	_, _, err := f.actors.ApplyTradeUpdate(ctx, 1, "WETH-USDC", domain.SideBuy, testutil.Dec("10"), testutil.Dec("100"), testNow, 0, false)
	require.NoError(t, err)

	// 25h later the trade has aged out of the 24h window
	agg, err := f.actors.RefreshRollups(ctx, 1, "WETH-USDC", testNow.Add(25*time.Hour), 0, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, agg.Volume24h.IsZero())
	assert.Equal(t, int64(0), agg.TradeCount24h)
	// the bucket is now the previous-24h reference, so the change is -100%
	assert.True(t, agg.VolumePercentChange24h.Equal(testutil.Dec("-100")))
}

func TestRefreshRollups_ExternalOverwrites(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	agg, err := f.actors.RefreshRollups(ctx, 1, "WETH-USDC", testNow, 42, testutil.Dec("9000"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), agg.TradeAddressCount24h)
	assert.True(t, agg.TotalSupply.Equal(testutil.Dec("9000")))

	// zero values leave the previous figures alone
	agg, err = f.actors.RefreshRollups(ctx, 1, "WETH-USDC", testNow, 0, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(42), agg.TradeAddressCount24h)
	assert.True(t, agg.TotalSupply.Equal(testutil.Dec("9000")))
}

func TestRefreshRollups_ZeroTVLFeeGuard(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	_, _, err := f.actors.ApplyTradeUpdate(ctx, 1, "WETH-USDC", domain.SideBuy, testutil.Dec("10"), testutil.Dec("100"), testNow, 0, false)
	require.NoError(t, err)

	agg, err := f.actors.Get(ctx, 1, "WETH-USDC")
	require.NoError(t, err)
	assert.True(t, agg.TVL.IsZero())
	assert.True(t, agg.FeePercent7d.IsZero(), "no TVL, no fee yield")
}

func TestAlignPrice24h(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	h0 := testNow.Add(-2 * time.Hour)
	h1 := testNow.Add(-1 * time.Hour)
	_, _, err := f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), h0)
	require.NoError(t, err)
	_, _, err = f.actors.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), h1)
	require.NoError(t, err)

	agg, err := f.actors.AlignPrice24h(ctx, 1, "WETH-USDC", []ReserveEvent{
		{Reserve0: testutil.Dec("100"), Reserve1: testutil.Dec("900"), Timestamp: h0},
		{Reserve0: testutil.Dec("100"), Reserve1: testutil.Dec("1500"), Timestamp: h0.Add(10 * time.Minute)},
		{Reserve0: testutil.Dec("100"), Reserve1: testutil.Dec("1200"), Timestamp: h1},
	})
	require.NoError(t, err)

	// the last event of the greatest bucket drives the live state
	assert.True(t, agg.Price.Equal(testutil.Dec("12")))

	s0, found, err := f.snaps.Get(ctx, 1, "WETH-USDC", domain.HourBucket(h0))
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, s0.Price.Equal(testutil.Dec("15")), "last event of the batch wins inside the bucket")
	assert.True(t, s0.PriceHigh.Equal(testutil.Dec("15")))
	assert.True(t, s0.PriceLow.Equal(testutil.Dec("9")))
}

func TestAlignPrice24h_MissingBucketFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	_, err := f.actors.AlignPrice24h(ctx, 1, "WETH-USDC", []ReserveEvent{
		{Reserve0: testutil.Dec("100"), Reserve1: testutil.Dec("1000"), Timestamp: testNow},
	})
	assert.ErrorIs(t, err, snapshot.ErrNotFound, "alignment never creates buckets")
}

func TestAlignPrice24h_EmptyBatchReadsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t)

	agg, err := f.actors.AlignPrice24h(ctx, 1, "WETH-USDC", nil)
	require.NoError(t, err)
	assert.Equal(t, "WETH-USDC", agg.ID)
}

func TestRehydrationAfterRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := kv.NewMemory()
	snaps := snapshot.NewActors(testutil.NopLogger{}, store, 16, time.Minute)
	usd := pricing.NewFixedSource()
	usd.Set(1, "WETH", testutil.Dec("2"))
	usd.Set(1, "USDC", testutil.Dec("1"))
	now := func() time.Time { return testNow }

	a := NewActors(testutil.NopLogger{}, store, snaps, usd, Options{Now: now})
	require.NoError(t, a.Register(ctx, 1, "WETH-USDC", "WETH", "USDC", testutil.Dec("0.003")))
	_, _, err := a.ApplyPriceUpdate(ctx, 1, "WETH-USDC", testutil.Dec("100"), testutil.Dec("1000"), testNow)
	require.NoError(t, err)
	_, _, err = a.ApplyTradeUpdate(ctx, 1, "WETH-USDC", domain.SideBuy, testutil.Dec("5"), testutil.Dec("50"), testNow, 0, false)
	require.NoError(t, err)

	// new actor set over the same store: snapshot cache is cold, the
	// rollups must still compute from persisted buckets
	b := NewActors(testutil.NopLogger{}, store, snapshot.NewActors(testutil.NopLogger{}, store, 16, time.Minute), usd, Options{Now: now})
	agg, err := b.RefreshRollups(ctx, 1, "WETH-USDC", testNow, 0, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, agg.Price.Equal(testutil.Dec("10")))
	assert.True(t, agg.Volume24h.Equal(testutil.Dec("5")))
	assert.Equal(t, int64(1), agg.TradeCount24h)
}
