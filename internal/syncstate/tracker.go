package syncstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/domain"
	"pairstats/internal/kv"
	"pairstats/internal/upstream"
)

// Tracker exposes the finalized height per chain (read through the external
// finality oracle with a short cache) and the per-worker local checkpoint.
type Tracker struct {
	log    logger.Logger
	oracle upstream.FinalityOracle
	store  kv.Store
	ttl    time.Duration

	mu     sync.Mutex
	cached map[uint32]cachedHeight
}

type cachedHeight struct {
	height int64
	at     time.Time
}

type checkpoint struct {
	Height int64 `json:"height"`
}

func New(log logger.Logger, oracle upstream.FinalityOracle, store kv.Store, cacheTTL time.Duration) *Tracker {
	if cacheTTL <= 0 {
		cacheTTL = 3 * time.Second
	}
	return &Tracker{
		log:    log,
		oracle: oracle,
		store:  store,
		ttl:    cacheTTL,
		cached: make(map[uint32]cachedHeight),
	}
}

func (t *Tracker) LastIrreversibleHeight(ctx context.Context, chainID uint32) (int64, error) {
	t.mu.Lock()
	if c, ok := t.cached[chainID]; ok && time.Since(c.at) < t.ttl {
		t.mu.Unlock()
		return c.height, nil
	}
	t.mu.Unlock()

	h, err := t.oracle.LastIrreversibleHeight(ctx, chainID)
	if err != nil {
		return 0, fmt.Errorf("finality oracle chain %d: %w", chainID, err)
	}

	t.mu.Lock()
	t.cached[chainID] = cachedHeight{height: h, at: time.Now()}
	t.mu.Unlock()

	return h, nil
}

func (t *Tracker) LastProcessedHeight(ctx context.Context, chainID uint32, worker string) (int64, bool, error) {
	raw, found, err := t.store.Get(ctx, domain.CheckpointKey(chainID, worker))
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}

	var cp checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return 0, false, fmt.Errorf("decode checkpoint %d/%s: %w", chainID, worker, err)
	}
	return cp.Height, true, nil
}

func (t *Tracker) SetLastProcessedHeight(ctx context.Context, chainID uint32, worker string, height int64) error {
	raw, err := json.Marshal(checkpoint{Height: height})
	if err != nil {
		return err
	}
	return t.store.Put(ctx, domain.CheckpointKey(chainID, worker), raw)
}
