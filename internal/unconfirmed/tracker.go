package unconfirmed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/actor"
	"pairstats/internal/domain"
	"pairstats/internal/kv"
)

// Per (chain, eventType) record of transactions applied before finality.
// Append-only; entries leave only when the caller removes them after they
// are confirmed or compensated.
type state struct {
	txs []domain.UnconfirmedTx
}

type Tracker struct {
	log   logger.Logger
	store kv.Store
	reg   *actor.Registry[state]
}

func NewTracker(log logger.Logger, store kv.Store, queueSize int, idleAfter time.Duration) *Tracker {
	t := &Tracker{log: log, store: store}
	t.reg = actor.NewRegistry[state](log, "unconfirmed", queueSize, idleAfter, t.load)
	return t
}

func (t *Tracker) load(ctx context.Context, key string) (*state, error) {
	raw, found, err := t.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("rehydrate unconfirmed %s: %w", key, err)
	}
	st := &state{}
	if !found {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st.txs); err != nil {
		return nil, fmt.Errorf("decode unconfirmed %s: %w", key, err)
	}
	return st, nil
}

func (t *Tracker) persist(ctx context.Context, key string, st *state) error {
	raw, err := json.Marshal(st.txs)
	if err != nil {
		return err
	}
	return t.store.Put(ctx, key, raw)
}

// Register records one applied-before-finality transaction. Duplicates are
// harmless: the reconciler works on sets.
func (t *Tracker) Register(ctx context.Context, chainID uint32, kind domain.EventKind, blockHeight int64, txHash string) error {
	key := domain.UnconfirmedKey(chainID, kind)
	return t.reg.Do(ctx, key, func(ctx context.Context, st *state) error {
		st.txs = append(st.txs, domain.UnconfirmedTx{BlockHeight: blockHeight, TxHash: txHash})
		return t.persist(ctx, key, st)
	})
}

// MinUnconfirmedHeight is the lower bound for reconciliation queries.
// ok=false when nothing is tracked.
func (t *Tracker) MinUnconfirmedHeight(ctx context.Context, chainID uint32, kind domain.EventKind) (int64, bool, error) {
	var min int64
	var ok bool
	err := t.reg.Do(ctx, domain.UnconfirmedKey(chainID, kind), func(_ context.Context, st *state) error {
		for _, tx := range st.txs {
			if !ok || tx.BlockHeight < min {
				min = tx.BlockHeight
				ok = true
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return min, ok, nil
}

// Query returns the recorded pairs with height in [minHeight, maxHeight]
func (t *Tracker) Query(ctx context.Context, chainID uint32, kind domain.EventKind, minHeight, maxHeight int64) ([]domain.UnconfirmedTx, error) {
	var out []domain.UnconfirmedTx
	err := t.reg.Do(ctx, domain.UnconfirmedKey(chainID, kind), func(_ context.Context, st *state) error {
		for _, tx := range st.txs {
			if tx.BlockHeight >= minHeight && tx.BlockHeight <= maxHeight {
				out = append(out, tx)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Remove drops the given hashes; called once a transaction is confirmed or
// its compensating event has been applied
func (t *Tracker) Remove(ctx context.Context, chainID uint32, kind domain.EventKind, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}

	drop := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		drop[h] = struct{}{}
	}

	key := domain.UnconfirmedKey(chainID, kind)
	return t.reg.Do(ctx, key, func(ctx context.Context, st *state) error {
		kept := st.txs[:0]
		for _, tx := range st.txs {
			if _, gone := drop[tx.TxHash]; !gone {
				kept = append(kept, tx)
			}
		}
		st.txs = kept
		return t.persist(ctx, key, st)
	})
}
