package reconcile

import (
	"context"
	"fmt"

	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/domain"
	"pairstats/internal/syncstate"
	"pairstats/internal/unconfirmed"
	"pairstats/internal/upstream"
)

// Stateless diffing protocol: transactions we applied before finality that
// the upstream's confirmed set no longer contains must be compensated.
// Upstream failures propagate to the caller, which owns retry policy.
type Reconciler struct {
	log       logger.Logger
	sync      *syncstate.Tracker
	tracker   *unconfirmed.Tracker
	confirmed upstream.ConfirmedTxSource
	pageSize  int
}

func New(log logger.Logger, sync *syncstate.Tracker, tracker *unconfirmed.Tracker, confirmed upstream.ConfirmedTxSource, pageSize int) *Reconciler {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Reconciler{
		log:       log,
		sync:      sync,
		tracker:   tracker,
		confirmed: confirmed,
		pageSize:  pageSize,
	}
}

// TransactionsToRevert returns the hashes whose originating block failed to
// reach finality. The caller replays each as an isRevert event and removes
// it from the tracker once compensated; hashes found confirmed are simply
// dropped by the caller.
func (r *Reconciler) TransactionsToRevert(ctx context.Context, chainID uint32, kind domain.EventKind) ([]string, error) {
	confirmedHeight, err := r.sync.LastIrreversibleHeight(ctx, chainID)
	if err != nil {
		return nil, err
	}

	minHeight, ok, err := r.tracker.MinUnconfirmedHeight(ctx, chainID, kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	pending, err := r.tracker.Query(ctx, chainID, kind, minHeight, confirmedHeight)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	confirmedSet, err := r.collectConfirmed(ctx, chainID, kind, minHeight, confirmedHeight)
	if err != nil {
		return nil, err
	}

	var toRevert []string
	seen := make(map[string]struct{}, len(pending))
	for _, tx := range pending {
		if _, dup := seen[tx.TxHash]; dup {
			continue
		}
		seen[tx.TxHash] = struct{}{}

		if _, ok := confirmedSet[tx.TxHash]; !ok {
			toRevert = append(toRevert, tx.TxHash)
		}
	}

	if len(toRevert) > 0 {
		r.log.Infof("reconcile chain=%d kind=%s: %d of %d unconfirmed txs missing from confirmed set",
			chainID, kind, len(toRevert), len(pending))
	}
	return toRevert, nil
}

// collectConfirmed pages through the upstream source over
// [fromHeight, toHeight]. The source is eventually consistent and pages are
// re-anchored at the running max height, so rows sharing that height may be
// split across pages: when a page's max height equals the cursor, only the
// skip count advances; when the max height moves, the skip count resets to
// the rows seen at the new height.
func (r *Reconciler) collectConfirmed(ctx context.Context, chainID uint32, kind domain.EventKind, fromHeight, toHeight int64) (map[string]struct{}, error) {
	confirmed := make(map[string]struct{})

	cursor := fromHeight
	skip := 0

	for {
		page, err := r.confirmed.QueryConfirmedTransactions(ctx, chainID, kind, cursor, toHeight, skip, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("confirmed tx query chain=%d kind=%s from=%d: %w", chainID, kind, cursor, err)
		}
		if len(page) == 0 {
			return confirmed, nil
		}

		for _, tx := range page {
			confirmed[tx.TxHash] = struct{}{}
		}

		maxHeight := page[len(page)-1].BlockHeight
		atMax := 0
		for i := len(page) - 1; i >= 0 && page[i].BlockHeight == maxHeight; i-- {
			atMax++
		}

		if maxHeight == cursor {
			skip += atMax
		} else {
			cursor = maxHeight
			skip = atMax
		}
	}
}
