package pair

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pairstats/internal/domain"
)

var (
	hundred   = decimal.NewFromInt(100)
	feeAnnual = decimal.NewFromInt(365 * 100)
	sevenDays = decimal.NewFromInt(7)
)

// recomputeRollups re-derives every 24h/7d field from the cached window.
// The window is ordered descending, so the scans below are prefix scans.
func (a *Actors) recomputeRollups(ctx context.Context, st *state, asOf time.Time) error {
	cut24 := asOf.Add(-24 * time.Hour).UnixMilli()
	cut48 := asOf.Add(-48 * time.Hour).UnixMilli()
	cut7d := asOf.Add(-7 * 24 * time.Hour).UnixMilli()

	var (
		volume24    decimal.Decimal
		tradeValue  decimal.Decimal
		tradeCount  int64
		prevVolume  decimal.Decimal
		volume7d    decimal.Decimal
		refBucket   *domain.HourlySnapshot // most recent previous-24h bucket
		olderBucket *domain.HourlySnapshot // newest bucket older than the full 48h window
	)

	// seed high/low with the current price so a pair with a single bucket
	// does not report Low=0
	high := st.agg.Price
	low := st.agg.Price
	highUSD := st.agg.PriceUSD
	lowUSD := st.agg.PriceUSD

	for _, ts := range st.agg.Window {
		s, err := a.getSnap(ctx, st, ts)
		if err != nil {
			return err
		}
		if s == nil {
			continue
		}

		if ts >= cut7d {
			volume7d = volume7d.Add(s.Volume)
		}

		switch {
		case ts >= cut24:
			volume24 = volume24.Add(s.Volume)
			tradeValue = tradeValue.Add(s.TradeValue)
			tradeCount += s.TradeCount

			if s.PriceHigh.GreaterThan(high) {
				high = s.PriceHigh
			}
			if !s.PriceLow.IsZero() && (low.IsZero() || s.PriceLow.LessThan(low)) {
				low = s.PriceLow
			}
			if s.PriceHighUSD.GreaterThan(highUSD) {
				highUSD = s.PriceHighUSD
			}
			if !s.PriceLowUSD.IsZero() && (lowUSD.IsZero() || s.PriceLowUSD.LessThan(lowUSD)) {
				lowUSD = s.PriceLowUSD
			}

		case ts >= cut48:
			if refBucket == nil {
				cp := *s
				refBucket = &cp
			}
			prevVolume = prevVolume.Add(s.Volume)

		default:
			if olderBucket == nil {
				cp := *s
				olderBucket = &cp
			}
		}
	}

	st.agg.Volume24h = volume24
	st.agg.TradeValue24h = tradeValue
	st.agg.TradeCount24h = tradeCount
	st.agg.PriceHigh24h = high
	st.agg.PriceLow24h = low
	st.agg.PriceHigh24hUSD = highUSD
	st.agg.PriceLow24hUSD = lowUSD

	// the reference for percent changes is the most recent previous-24h
	// bucket, falling back to the newest bucket beyond the window
	ref := refBucket
	if ref == nil {
		ref = olderBucket
	}

	if ref != nil {
		st.agg.PricePercentChange24h = percentChange(st.agg.Price, ref.Price)
		st.agg.TVLPercentChange24h = percentChange(st.agg.TVL, ref.TVL)
	} else {
		st.agg.PricePercentChange24h = decimal.Zero
		st.agg.TVLPercentChange24h = decimal.Zero
	}
	st.agg.VolumePercentChange24h = percentChange(volume24, prevVolume)

	// FeePercent7d = vol7d * priceUSD * feeRate * 365 * 100 / (TVL * 7)
	if st.agg.TVL.IsZero() {
		st.agg.FeePercent7d = decimal.Zero
	} else {
		st.agg.FeePercent7d = volume7d.
			Mul(st.agg.PriceUSD).
			Mul(st.agg.FeeRate).
			Mul(feeAnnual).
			Div(st.agg.TVL.Mul(sevenDays))
	}

	return nil
}

// percentChange guards a zero denominator to 0 rather than producing Inf/NaN
func percentChange(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred)
}
