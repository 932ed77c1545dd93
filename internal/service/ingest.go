package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pairstats/internal/domain"
	"pairstats/internal/metrics"
	"pairstats/internal/pair"
	"pairstats/internal/stores/clickhouse"
)

// ProcessPairEvent runs one event through the full pipeline. Actor failures
// propagate to the caller; broadcast and history writes are best effort.
func (s *Service) ProcessPairEvent(ctx context.Context, ev *domain.PairEvent) error {
	start := time.Now()

	id := ev.EventID
	if id == "" {
		id = domain.MakeEventID(ev.ChainID, ev.TxHash, ev.LogIndex)
	}
	if ev.Removed {
		// a compensation replay must not collide with the original sighting
		id += ":removed"
	}

	dup, err := s.deduper.IsDuplicate(ctx, id)
	if err != nil {
		return fmt.Errorf("dedup check failed for %s: %w", id, err)
	}
	if dup {
		s.log.Debugf("duplicate event ignored: %s", id)
		metrics.EventsDuplicate.Inc()
		return nil
	}

	agg, snap, err := s.apply(ctx, ev)
	if err != nil {
		// the id stays unmarked, so the caller's retry is not a duplicate
		if errors.Is(err, pair.ErrNotFound) {
			s.log.Warnf("event %s targets unknown or deleted pair %d:%s", id, ev.ChainID, ev.PairID)
			return err
		}
		return fmt.Errorf("apply failed for %s: %w", id, err)
	}
	metrics.EventsApplied.WithLabelValues(string(ev.Kind)).Inc()

	if err := s.deduper.MarkSeen(ctx, id); err != nil {
		// not fatal: worst case the event is reapplied after a restart
		s.log.Errorf("failed to mark event %s seen: %v", id, err)
	}

	if err := s.index.Touch(ctx, ev.ChainID, ev.PairID); err != nil {
		s.log.Errorf("failed to index pair %d:%s: %v", ev.ChainID, ev.PairID, err)
	}

	// events above the finality frontier may still be reorged away
	if !ev.Removed && ev.BlockNumber > 0 {
		irr, err := s.heights.LastIrreversibleHeight(ctx, ev.ChainID)
		if err != nil {
			s.log.Warnf("finality height unavailable for chain %d: %v", ev.ChainID, err)
		} else if ev.BlockNumber > irr {
			// not fatal past the dedupe mark: a retry would be dropped anyway
			if err := s.unconf.Register(ctx, ev.ChainID, ev.Kind, ev.BlockNumber, ev.TxHash); err != nil {
				s.log.Errorf("failed to track unconfirmed %s: %v", ev.TxHash, err)
			}
		}
	}

	if s.broadcaster != nil && agg != nil {
		patch := &domain.StatsPatch{
			Topic:       domain.PatchTopic(ev.ChainID, ev.PairID),
			ChainID:     ev.ChainID,
			PairID:      ev.PairID,
			GeneratedAt: time.Now().UTC(),
			Aggregate:   agg,
			Snapshot:    snap,
		}
		if err := s.broadcaster.Publish(ctx, patch.Topic, patch); err != nil {
			// subscribers catch up on the next patch
			s.log.Errorf("failed to broadcast patch for %s: %v", patch.Topic, err)
		}
	}

	if s.history != nil && snap != nil {
		if err := s.history.Enqueue(clickhouse.RowFromSnapshot(snap)); err != nil {
			s.log.Errorf("failed to enqueue history row for %d:%s: %v", ev.ChainID, ev.PairID, err)
		}
	}

	metrics.ApplyDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())
	s.log.Debugf("event processed: %s (pair=%s kind=%s removed=%v)", id, ev.PairID, ev.Kind, ev.Removed)
	return nil
}

func (s *Service) apply(ctx context.Context, ev *domain.PairEvent) (*domain.TradePairAggregate, *domain.HourlySnapshot, error) {
	switch ev.Kind {
	case domain.KindSync:
		return s.pairs.ApplyPriceUpdate(ctx, ev.ChainID, ev.PairID, ev.Reserve0, ev.Reserve1, ev.BlockTime)
	case domain.KindSwap:
		return s.pairs.ApplyTradeUpdate(ctx, ev.ChainID, ev.PairID, ev.Side, ev.Amount0, ev.Amount1, ev.BlockTime, ev.TradeAddressCount24h, ev.Removed)
	case domain.KindMint, domain.KindBurn:
		return s.pairs.ApplySupplyUpdate(ctx, ev.ChainID, ev.PairID, ev.LPAmount, ev.Kind, ev.Removed, ev.BlockTime)
	default:
		return nil, nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// RegisterPair creates the aggregate for a newly listed pair. Idempotent.
func (s *Service) RegisterPair(ctx context.Context, chainID uint32, pairID, token0, token1 string, feeRate decimal.Decimal) error {
	if err := s.pairs.Register(ctx, chainID, pairID, token0, token1, feeRate); err != nil {
		return fmt.Errorf("register pair %d:%s: %w", chainID, pairID, err)
	}
	return s.index.Touch(ctx, chainID, pairID)
}

// DeletePair logically removes the pair; later events for it are rejected.
func (s *Service) DeletePair(ctx context.Context, chainID uint32, pairID string) error {
	return s.pairs.MarkDeleted(ctx, chainID, pairID)
}

// AlignPairPrices replays a batch of reserve observations through the
// bucketed alignment path, used when a backfill re-reads history.
func (s *Service) AlignPairPrices(ctx context.Context, chainID uint32, pairID string, events []pair.ReserveEvent) (*domain.TradePairAggregate, error) {
	return s.pairs.AlignPrice24h(ctx, chainID, pairID, events)
}

// ReconcileChain finds unconfirmed transactions the upstream no longer
// reports as confirmed and replays them through the supplied callback, which
// is expected to re-emit their events with Removed set. Hashes whose replay
// fails stay tracked and are retried on the next cycle. Transactions that
// did confirm are dropped from the tracker.
func (s *Service) ReconcileChain(ctx context.Context, chainID uint32, kind domain.EventKind, replay func(ctx context.Context, txHash string) error) error {
	orphaned, err := s.reconciler.TransactionsToRevert(ctx, chainID, kind)
	if err != nil {
		return fmt.Errorf("reconcile chain %d/%s: %w", chainID, kind, err)
	}

	if err := s.pruneConfirmed(ctx, chainID, kind, orphaned); err != nil {
		s.log.Errorf("failed to prune confirmed txs for %d/%s: %v", chainID, kind, err)
	}

	if len(orphaned) == 0 {
		return nil
	}
	metrics.RevertsDetected.Add(float64(len(orphaned)))

	done := make([]string, 0, len(orphaned))
	for _, hash := range orphaned {
		if err := replay(ctx, hash); err != nil {
			s.log.Errorf("revert replay failed for %s: %v", hash, err)
			continue
		}
		done = append(done, hash)
	}
	if len(done) == 0 {
		return nil
	}
	return s.unconf.Remove(ctx, chainID, kind, done...)
}

// pruneConfirmed drops tracked txs at or below the finality frontier that
// were not orphaned: they made it into the canonical chain.
func (s *Service) pruneConfirmed(ctx context.Context, chainID uint32, kind domain.EventKind, orphaned []string) error {
	irr, err := s.heights.LastIrreversibleHeight(ctx, chainID)
	if err != nil {
		return err
	}

	pending, err := s.unconf.Query(ctx, chainID, kind, 0, irr)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	orphanSet := make(map[string]struct{}, len(orphaned))
	for _, h := range orphaned {
		orphanSet[h] = struct{}{}
	}

	confirmed := make([]string, 0, len(pending))
	for _, tx := range pending {
		if _, ok := orphanSet[tx.TxHash]; !ok {
			confirmed = append(confirmed, tx.TxHash)
		}
	}
	if len(confirmed) == 0 {
		return nil
	}
	return s.unconf.Remove(ctx, chainID, kind, confirmed...)
}
