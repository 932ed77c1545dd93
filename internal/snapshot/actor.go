package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/actor"
	"pairstats/internal/domain"
	"pairstats/internal/kv"
)

var ErrNotFound = errors.New("snapshot bucket not found")

// One actor per (chain, pair, hour bucket). Created lazily on first write,
// state persisted after every mutation.
type state struct {
	inited bool
	snap   domain.HourlySnapshot
}

type Actors struct {
	log   logger.Logger
	store kv.Store
	reg   *actor.Registry[state]
}

func NewActors(log logger.Logger, store kv.Store, queueSize int, idleAfter time.Duration) *Actors {
	a := &Actors{log: log, store: store}
	a.reg = actor.NewRegistry[state](log, "snapshot", queueSize, idleAfter, a.load)
	return a
}

func (a *Actors) load(ctx context.Context, key string) (*state, error) {
	raw, found, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("rehydrate snapshot %s: %w", key, err)
	}
	if !found {
		return &state{}, nil
	}

	var st state
	if err := json.Unmarshal(raw, &st.snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	st.inited = true
	return &st, nil
}

func (a *Actors) persist(ctx context.Context, key string, st *state) error {
	raw, err := json.Marshal(&st.snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	return a.store.Put(ctx, key, raw)
}

// AddOrUpdate applies one live-ingestion delta to the bucket. prevLatest is
// the pair's latest bucket before this call (nil when the pair has no buckets
// yet); it supplies continuity fields when a new bucket opens, so a quiet
// hour does not report zero price/TVL.
func (a *Actors) AddOrUpdate(ctx context.Context, chainID uint32, pairID string, upd domain.SnapshotUpdate, prevLatest *domain.HourlySnapshot) (*domain.HourlySnapshot, error) {
	key := domain.SnapshotKey(chainID, pairID, upd.Timestamp)

	var out domain.HourlySnapshot
	err := a.reg.Do(ctx, key, func(ctx context.Context, st *state) error {
		if !st.inited {
			if prevLatest != nil && prevLatest.Timestamp != upd.Timestamp {
				st.snap = openBucket(chainID, pairID, upd, prevLatest)
			} else {
				st.snap = initBucket(chainID, pairID, upd)
			}
			st.inited = true
		} else {
			merge(&st.snap, upd)
		}

		if err := a.persist(ctx, key, st); err != nil {
			return err
		}
		out = st.snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Align applies merge semantics to an existing bucket; unlike AddOrUpdate it
// is used for retroactive batch corrections and fails when the bucket was
// never initialized.
func (a *Actors) Align(ctx context.Context, chainID uint32, pairID string, upd domain.SnapshotUpdate) (*domain.HourlySnapshot, error) {
	key := domain.SnapshotKey(chainID, pairID, upd.Timestamp)

	var out domain.HourlySnapshot
	err := a.reg.Do(ctx, key, func(ctx context.Context, st *state) error {
		if !st.inited {
			return ErrNotFound
		}

		merge(&st.snap, upd)

		if err := a.persist(ctx, key, st); err != nil {
			return err
		}
		out = st.snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AccumulateTotalSupply adds delta to TotalSupply only. Used when a supply
// event lands in a bucket older than the pair's latest: the delta is folded
// into the latest bucket instead, keeping the running total consistent.
func (a *Actors) AccumulateTotalSupply(ctx context.Context, chainID uint32, pairID string, bucket int64, delta decimal.Decimal) (*domain.HourlySnapshot, error) {
	key := domain.SnapshotKey(chainID, pairID, bucket)

	var out domain.HourlySnapshot
	err := a.reg.Do(ctx, key, func(ctx context.Context, st *state) error {
		if !st.inited {
			return ErrNotFound
		}

		st.snap.TotalSupply = st.snap.TotalSupply.Add(delta)

		if err := a.persist(ctx, key, st); err != nil {
			return err
		}
		out = st.snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns the bucket's current state without mutating it
func (a *Actors) Get(ctx context.Context, chainID uint32, pairID string, bucket int64) (*domain.HourlySnapshot, bool, error) {
	key := domain.SnapshotKey(chainID, pairID, bucket)

	var out domain.HourlySnapshot
	var ok bool
	err := a.reg.Do(ctx, key, func(_ context.Context, st *state) error {
		if st.inited {
			out = st.snap
			ok = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &out, true, nil
}

// first write ever for the pair: the bucket is built from the update alone
func initBucket(chainID uint32, pairID string, upd domain.SnapshotUpdate) domain.HourlySnapshot {
	return domain.HourlySnapshot{
		ChainID:   chainID,
		PairID:    pairID,
		Timestamp: upd.Timestamp,

		Volume:     upd.Volume,
		TradeValue: upd.TradeValue,
		TradeCount: upd.TradeCount,

		// no prior bucket: the running total starts at the update's own delta
		TotalSupply: upd.TotalSupplyDelta,

		Price:        upd.Price,
		PriceUSD:     upd.PriceUSD,
		TVL:          upd.TVL,
		ValueLocked0: upd.ValueLocked0,
		ValueLocked1: upd.ValueLocked1,

		PriceHigh:    upd.Price,
		PriceLow:     upd.Price,
		PriceHighUSD: upd.PriceUSD,
		PriceLowUSD:  upd.PriceUSD,

		TradeAddressCount24h: upd.TradeAddressCount24h,
	}
}

// first write in a new hour while an older bucket exists: continuity fields
// the update did not set are carried forward from the previous bucket
func openBucket(chainID uint32, pairID string, upd domain.SnapshotUpdate, prev *domain.HourlySnapshot) domain.HourlySnapshot {
	price := upd.Price
	if price.IsZero() {
		price = prev.Price
	}
	priceUSD := upd.PriceUSD
	if priceUSD.IsZero() {
		priceUSD = prev.PriceUSD
	}
	tvl := upd.TVL
	if tvl.IsZero() {
		tvl = prev.TVL
	}
	vl0 := upd.ValueLocked0
	if vl0.IsZero() {
		vl0 = prev.ValueLocked0
	}
	vl1 := upd.ValueLocked1
	if vl1.IsZero() {
		vl1 = prev.ValueLocked1
	}
	addrCount := upd.TradeAddressCount24h
	if addrCount <= 0 {
		addrCount = prev.TradeAddressCount24h
	}

	return domain.HourlySnapshot{
		ChainID:   chainID,
		PairID:    pairID,
		Timestamp: upd.Timestamp,

		Volume:     upd.Volume,
		TradeValue: upd.TradeValue,
		TradeCount: upd.TradeCount,

		TotalSupply: prev.TotalSupply.Add(upd.TotalSupplyDelta),

		Price:        price,
		PriceUSD:     priceUSD,
		TVL:          tvl,
		ValueLocked0: vl0,
		ValueLocked1: vl1,

		PriceHigh:    price,
		PriceLow:     price,
		PriceHighUSD: priceUSD,
		PriceLowUSD:  priceUSD,

		TradeAddressCount24h: addrCount,
	}
}

// same-bucket merge: flows add, extremals stretch, point-in-time fields
// overwrite only when the update actually set them
func merge(s *domain.HourlySnapshot, upd domain.SnapshotUpdate) {
	s.Volume = s.Volume.Add(upd.Volume)
	s.TradeValue = s.TradeValue.Add(upd.TradeValue)
	s.TradeCount += upd.TradeCount
	s.TotalSupply = s.TotalSupply.Add(upd.TotalSupplyDelta)

	if !upd.Price.IsZero() {
		s.Price = upd.Price
		s.PriceHigh = decimal.Max(s.PriceHigh, upd.Price)
		// an unset (zero) low must not become the floor
		if s.PriceLow.IsZero() {
			s.PriceLow = upd.Price
		} else {
			s.PriceLow = decimal.Min(s.PriceLow, upd.Price)
		}
	}
	if !upd.PriceUSD.IsZero() {
		s.PriceUSD = upd.PriceUSD
		s.PriceHighUSD = decimal.Max(s.PriceHighUSD, upd.PriceUSD)
		if s.PriceLowUSD.IsZero() {
			s.PriceLowUSD = upd.PriceUSD
		} else {
			s.PriceLowUSD = decimal.Min(s.PriceLowUSD, upd.PriceUSD)
		}
	}

	// batch alignment carries precomputed extremals
	if !upd.PriceHigh.IsZero() {
		s.PriceHigh = decimal.Max(s.PriceHigh, upd.PriceHigh)
	}
	if !upd.PriceLow.IsZero() {
		if s.PriceLow.IsZero() {
			s.PriceLow = upd.PriceLow
		} else {
			s.PriceLow = decimal.Min(s.PriceLow, upd.PriceLow)
		}
	}
	if !upd.PriceHighUSD.IsZero() {
		s.PriceHighUSD = decimal.Max(s.PriceHighUSD, upd.PriceHighUSD)
	}
	if !upd.PriceLowUSD.IsZero() {
		if s.PriceLowUSD.IsZero() {
			s.PriceLowUSD = upd.PriceLowUSD
		} else {
			s.PriceLowUSD = decimal.Min(s.PriceLowUSD, upd.PriceLowUSD)
		}
	}

	if !upd.TVL.IsZero() {
		s.TVL = upd.TVL
	}
	if !upd.ValueLocked0.IsZero() {
		s.ValueLocked0 = upd.ValueLocked0
	}
	if !upd.ValueLocked1.IsZero() {
		s.ValueLocked1 = upd.ValueLocked1
	}
	if upd.TradeAddressCount24h > 0 {
		s.TradeAddressCount24h = upd.TradeAddressCount24h
	}
}
