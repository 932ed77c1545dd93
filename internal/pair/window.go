package pair

import (
	"context"
	"fmt"

	"pairstats/internal/domain"
)

// DefaultWindowSize keeps the trailing 7 days of hourly buckets
const DefaultWindowSize = 168

// insertBucket keeps agg.Window ordered descending by timestamp with FIFO
// eviction of the oldest key once the capacity is exceeded.
func (a *Actors) insertBucket(st *state, bucket int64) {
	w := st.agg.Window

	// fast path: buckets normally arrive in order
	if len(w) > 0 && w[0] == bucket {
		return
	}

	pos := 0
	for pos < len(w) && w[pos] > bucket {
		pos++
	}
	if pos < len(w) && w[pos] == bucket {
		return
	}

	w = append(w, 0)
	copy(w[pos+1:], w[pos:])
	w[pos] = bucket

	if len(w) > a.windowSize {
		evicted := w[len(w)-1]
		w = w[:len(w)-1]
		delete(st.cache, evicted)
	}

	st.agg.Window = w
}

func (st *state) latestBucket() (int64, bool) {
	if len(st.agg.Window) == 0 {
		return 0, false
	}
	return st.agg.Window[0], true
}

// getSnap serves the cached window; misses (after rehydration) fall back to
// the snapshot actor.
func (a *Actors) getSnap(ctx context.Context, st *state, bucket int64) (*domain.HourlySnapshot, error) {
	if s, ok := st.cache[bucket]; ok {
		cp := s
		return &cp, nil
	}

	s, found, err := a.snaps.Get(ctx, st.agg.ChainID, st.agg.ID, bucket)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot bucket %d: %w", bucket, err)
	}
	if !found {
		return nil, nil
	}

	st.cache[bucket] = *s
	return s, nil
}
