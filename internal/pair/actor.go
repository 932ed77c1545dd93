package pair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/actor"
	"pairstats/internal/domain"
	"pairstats/internal/kv"
	"pairstats/internal/metrics"
	"pairstats/internal/pricing"
	"pairstats/internal/snapshot"
)

var ErrNotFound = errors.New("trade pair not found")

// One actor per trade pair. Owns the point-in-time aggregate, the bounded
// window of hourly bucket keys and a cache of their snapshot values. This is
// the only component ingestion code calls directly.
type state struct {
	inited bool
	agg    domain.TradePairAggregate
	cache  map[int64]domain.HourlySnapshot
}

type Actors struct {
	log        logger.Logger
	store      kv.Store
	snaps      *snapshot.Actors
	usd        pricing.USDSource
	windowSize int
	now        func() time.Time
	reg        *actor.Registry[state]
}

type Options struct {
	WindowSize int
	QueueSize  int
	IdleAfter  time.Duration
	Now        func() time.Time // test hook
}

func NewActors(log logger.Logger, store kv.Store, snaps *snapshot.Actors, usd pricing.USDSource, opts Options) *Actors {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	a := &Actors{
		log:        log,
		store:      store,
		snaps:      snaps,
		usd:        usd,
		windowSize: opts.WindowSize,
		now:        opts.Now,
	}
	a.reg = actor.NewRegistry[state](log, "pair", opts.QueueSize, opts.IdleAfter, a.load)
	return a
}

func (a *Actors) load(ctx context.Context, key string) (*state, error) {
	raw, found, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("rehydrate pair %s: %w", key, err)
	}

	st := &state{cache: make(map[int64]domain.HourlySnapshot, DefaultWindowSize)}
	if !found {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st.agg); err != nil {
		return nil, fmt.Errorf("decode pair %s: %w", key, err)
	}
	st.inited = true
	return st, nil
}

func (a *Actors) persist(ctx context.Context, st *state) error {
	raw, err := json.Marshal(&st.agg)
	if err != nil {
		return fmt.Errorf("encode pair %s: %w", st.agg.ID, err)
	}
	return a.store.Put(ctx, domain.AggregateKey(st.agg.ChainID, st.agg.ID), raw)
}

// Register makes a pair known to the aggregator. Idempotent; called by the
// ingestion layer when it first sights a pair.
func (a *Actors) Register(ctx context.Context, chainID uint32, pairID, token0, token1 string, feeRate decimal.Decimal) error {
	return a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if st.inited {
			return nil
		}

		st.agg = domain.TradePairAggregate{
			ID:      pairID,
			ChainID: chainID,
			Token0:  token0,
			Token1:  token1,
			FeeRate: feeRate,
		}
		st.inited = true
		return a.persist(ctx, st)
	})
}

// MarkDeleted flags a logically deleted pair; all further mutation is refused
func (a *Actors) MarkDeleted(ctx context.Context, chainID uint32, pairID string) error {
	return a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if !st.inited {
			return ErrNotFound
		}
		st.agg.Deleted = true
		return a.persist(ctx, st)
	})
}

// Get returns the current point-in-time aggregate
func (a *Actors) Get(ctx context.Context, chainID uint32, pairID string) (*domain.TradePairAggregate, error) {
	var out domain.TradePairAggregate
	err := a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(_ context.Context, st *state) error {
		if !st.inited {
			return ErrNotFound
		}
		out = st.agg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLatestSnapshot returns the most recent hourly bucket, if any
func (a *Actors) GetLatestSnapshot(ctx context.Context, chainID uint32, pairID string) (*domain.HourlySnapshot, error) {
	var out *domain.HourlySnapshot
	err := a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if !st.inited {
			return ErrNotFound
		}
		latest, ok := st.latestBucket()
		if !ok {
			return ErrNotFound
		}
		s, err := a.getSnap(ctx, st, latest)
		if err != nil {
			return err
		}
		if s == nil {
			return ErrNotFound
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyPriceUpdate ingests a reserve sync: recomputes price and TVL, routes
// the delta to the hour bucket and refreshes the point-in-time fields unless
// the touched bucket is older than the pair's latest (a stale update must not
// override fresher live state).
func (a *Actors) ApplyPriceUpdate(ctx context.Context, chainID uint32, pairID string, reserve0, reserve1 decimal.Decimal, blockTime time.Time) (*domain.TradePairAggregate, *domain.HourlySnapshot, error) {
	var agg domain.TradePairAggregate
	var snap *domain.HourlySnapshot

	err := a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if !st.inited || st.agg.Deleted {
			return ErrNotFound
		}

		price := decimal.Zero
		if reserve0.IsPositive() {
			price = reserve1.Div(reserve0)
		}

		usd0 := a.lookupUSD(ctx, chainID, st.agg.Token0)
		usd1 := a.lookupUSD(ctx, chainID, st.agg.Token1)

		priceUSD := price.Mul(usd1)
		tvl := usd0.Mul(reserve0).Add(usd1.Mul(reserve1))

		bucket := domain.HourBucket(blockTime)
		latestBefore, hadLatest := st.latestBucket()

		s, err := a.applyToBucket(ctx, st, domain.SnapshotUpdate{
			Timestamp:    bucket,
			Price:        price,
			PriceUSD:     priceUSD,
			TVL:          tvl,
			ValueLocked0: reserve0,
			ValueLocked1: reserve1,
		})
		if err != nil {
			return err
		}

		if !hadLatest || bucket >= latestBefore {
			st.agg.Price = price
			st.agg.PriceUSD = priceUSD
			st.agg.TVL = tvl
			st.agg.ValueLocked0 = reserve0
			st.agg.ValueLocked1 = reserve1
		}

		if err := a.recomputeRollups(ctx, st, a.now()); err != nil {
			return err
		}
		if err := a.persist(ctx, st); err != nil {
			return err
		}
		agg, snap = st.agg, s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &agg, snap, nil
}

// ApplyTradeUpdate ingests one swap. isRevert inverts every flow delta so a
// compensated trade nets the bucket back to its pre-trade values.
func (a *Actors) ApplyTradeUpdate(ctx context.Context, chainID uint32, pairID string, side domain.Side, amount0, amount1 decimal.Decimal, blockTime time.Time, tradeAddressCount24h int64, isRevert bool) (*domain.TradePairAggregate, *domain.HourlySnapshot, error) {
	var agg domain.TradePairAggregate
	var snap *domain.HourlySnapshot

	err := a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if !st.inited || st.agg.Deleted {
			return ErrNotFound
		}

		volume := amount0
		tradeValue := amount1
		count := int64(1)
		if isRevert {
			volume = volume.Neg()
			tradeValue = tradeValue.Neg()
			count = -1
		}

		s, err := a.applyToBucket(ctx, st, domain.SnapshotUpdate{
			Timestamp:            domain.HourBucket(blockTime),
			Volume:               volume,
			TradeValue:           tradeValue,
			TradeCount:           count,
			TradeAddressCount24h: tradeAddressCount24h,
		})
		if err != nil {
			return err
		}

		if tradeAddressCount24h > 0 {
			st.agg.TradeAddressCount24h = tradeAddressCount24h
		}

		if err := a.recomputeRollups(ctx, st, a.now()); err != nil {
			return err
		}
		if err := a.persist(ctx, st); err != nil {
			return err
		}
		agg, snap = st.agg, s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &agg, snap, nil
}

// ApplySupplyUpdate ingests a liquidity mint or burn. The delta is negated
// for burns and negated again for reverts (mint+revert = burn and vice
// versa). When the touched bucket is older than the cached latest, the delta
// is folded into the latest bucket instead and TotalSupply is refreshed from
// there, so the running total stays consistent across out-of-order events.
func (a *Actors) ApplySupplyUpdate(ctx context.Context, chainID uint32, pairID string, lpAmount decimal.Decimal, kind domain.EventKind, isRevert bool, blockTime time.Time) (*domain.TradePairAggregate, *domain.HourlySnapshot, error) {
	var agg domain.TradePairAggregate
	var snap *domain.HourlySnapshot

	err := a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if !st.inited || st.agg.Deleted {
			return ErrNotFound
		}

		delta := lpAmount
		if kind == domain.KindBurn {
			delta = delta.Neg()
		}
		if isRevert {
			delta = delta.Neg()
		}

		bucket := domain.HourBucket(blockTime)
		latest, hadLatest := st.latestBucket()

		var s *domain.HourlySnapshot
		var err error
		if hadLatest && bucket < latest {
			s, err = a.snaps.AccumulateTotalSupply(ctx, chainID, pairID, latest, delta)
			if err != nil {
				return err
			}
			st.cache[latest] = *s
		} else {
			s, err = a.applyToBucket(ctx, st, domain.SnapshotUpdate{
				Timestamp:        bucket,
				TotalSupplyDelta: delta,
			})
			if err != nil {
				return err
			}
		}

		st.agg.TotalSupply = s.TotalSupply

		if err := a.recomputeRollups(ctx, st, a.now()); err != nil {
			return err
		}
		if err := a.persist(ctx, st); err != nil {
			return err
		}
		agg, snap = st.agg, s
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &agg, snap, nil
}

// One reserve observation inside an alignment batch
type ReserveEvent struct {
	Reserve0  decimal.Decimal
	Reserve1  decimal.Decimal
	Timestamp time.Time
}

// AlignPrice24h repairs a time range from a batch of reserve events without
// replaying them individually: events are grouped per hour bucket, each
// bucket is aligned once with the batch-wide high/low, and the greatest
// touched bucket becomes the new point-in-time state.
func (a *Actors) AlignPrice24h(ctx context.Context, chainID uint32, pairID string, events []ReserveEvent) (*domain.TradePairAggregate, error) {
	if len(events) == 0 {
		return a.Get(ctx, chainID, pairID)
	}

	var agg domain.TradePairAggregate
	err := a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if !st.inited || st.agg.Deleted {
			return ErrNotFound
		}

		usd0 := a.lookupUSD(ctx, chainID, st.agg.Token0)
		usd1 := a.lookupUSD(ctx, chainID, st.agg.Token1)

		groups := groupByBucket(events)

		buckets := make([]int64, 0, len(groups))
		for b := range groups {
			buckets = append(buckets, b)
		}
		sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

		var last *domain.HourlySnapshot
		for _, b := range buckets {
			upd := buildAlignUpdate(b, groups[b], usd0, usd1)

			s, err := a.snaps.Align(ctx, chainID, pairID, upd)
			if err != nil {
				return fmt.Errorf("align bucket %d: %w", b, err)
			}

			if _, cached := st.cache[b]; cached || containsBucket(st.agg.Window, b) {
				st.cache[b] = *s
			}
			last = s
		}

		// greatest aligned bucket drives the point-in-time state
		st.agg.Price = last.Price
		st.agg.PriceUSD = last.PriceUSD
		st.agg.TVL = last.TVL
		st.agg.ValueLocked0 = last.ValueLocked0
		st.agg.ValueLocked1 = last.ValueLocked1

		if err := a.recomputeRollups(ctx, st, a.now()); err != nil {
			return err
		}
		if err := a.persist(ctx, st); err != nil {
			return err
		}
		agg = st.agg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// RefreshRollups is the periodic full recompute: it re-derives every 24h/7d
// field from the cached window as of the given instant. tradeAddressCount24h
// and totalSupply refresh externally sourced figures when supplied (>0 /
// nonzero).
func (a *Actors) RefreshRollups(ctx context.Context, chainID uint32, pairID string, asOf time.Time, tradeAddressCount24h int64, totalSupply decimal.Decimal) (*domain.TradePairAggregate, error) {
	var agg domain.TradePairAggregate
	err := a.reg.Do(ctx, domain.AggregateKey(chainID, pairID), func(ctx context.Context, st *state) error {
		if !st.inited || st.agg.Deleted {
			return ErrNotFound
		}

		if tradeAddressCount24h > 0 {
			st.agg.TradeAddressCount24h = tradeAddressCount24h
		}
		if !totalSupply.IsZero() {
			st.agg.TotalSupply = totalSupply
		}

		if err := a.recomputeRollups(ctx, st, asOf); err != nil {
			return err
		}
		if err := a.persist(ctx, st); err != nil {
			return err
		}
		agg = st.agg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// applyToBucket routes one update through the snapshot actor and maintains
// the window and its cache
func (a *Actors) applyToBucket(ctx context.Context, st *state, upd domain.SnapshotUpdate) (*domain.HourlySnapshot, error) {
	var prevLatest *domain.HourlySnapshot
	if latest, ok := st.latestBucket(); ok {
		p, err := a.getSnap(ctx, st, latest)
		if err != nil {
			return nil, err
		}
		prevLatest = p
	}

	s, err := a.snaps.AddOrUpdate(ctx, st.agg.ChainID, st.agg.ID, upd, prevLatest)
	if err != nil {
		return nil, err
	}

	a.insertBucket(st, upd.Timestamp)
	st.cache[upd.Timestamp] = *s
	return s, nil
}

func (a *Actors) lookupUSD(ctx context.Context, chainID uint32, symbol string) decimal.Decimal {
	p, err := a.usd.TokenUSDPrice(ctx, chainID, symbol)
	if err != nil {
		// degraded input: the leg computes as 0, ingestion keeps going
		a.log.Warnf("usd lookup failed for %d:%s, degrading to 0: %v", chainID, symbol, err)
		metrics.USDLookupDegraded.Inc()
		return decimal.Zero
	}
	return p
}

func groupByBucket(events []ReserveEvent) map[int64][]ReserveEvent {
	groups := make(map[int64][]ReserveEvent)
	for _, ev := range events {
		b := domain.HourBucket(ev.Timestamp)
		groups[b] = append(groups[b], ev)
	}
	return groups
}

func buildAlignUpdate(bucket int64, events []ReserveEvent, usd0, usd1 decimal.Decimal) domain.SnapshotUpdate {
	var lastAt time.Time
	var last ReserveEvent
	var high, low, highUSD, lowUSD decimal.Decimal

	for _, ev := range events {
		price := decimal.Zero
		if ev.Reserve0.IsPositive() {
			price = ev.Reserve1.Div(ev.Reserve0)
		}
		priceUSD := price.Mul(usd1)

		if high.IsZero() || price.GreaterThan(high) {
			high = price
		}
		if low.IsZero() || (!price.IsZero() && price.LessThan(low)) {
			low = price
		}
		if highUSD.IsZero() || priceUSD.GreaterThan(highUSD) {
			highUSD = priceUSD
		}
		if lowUSD.IsZero() || (!priceUSD.IsZero() && priceUSD.LessThan(lowUSD)) {
			lowUSD = priceUSD
		}

		if lastAt.IsZero() || ev.Timestamp.After(lastAt) {
			lastAt = ev.Timestamp
			last = ev
		}
	}

	price := decimal.Zero
	if last.Reserve0.IsPositive() {
		price = last.Reserve1.Div(last.Reserve0)
	}
	priceUSD := price.Mul(usd1)
	tvl := usd0.Mul(last.Reserve0).Add(usd1.Mul(last.Reserve1))

	return domain.SnapshotUpdate{
		Timestamp:    bucket,
		Price:        price,
		PriceUSD:     priceUSD,
		TVL:          tvl,
		ValueLocked0: last.Reserve0,
		ValueLocked1: last.Reserve1,
		PriceHigh:    high,
		PriceLow:     low,
		PriceHighUSD: highUSD,
		PriceLowUSD:  lowUSD,
	}
}

func containsBucket(window []int64, bucket int64) bool {
	for _, b := range window {
		if b == bucket {
			return true
		}
	}
	return false
}
