package service

import (
	"context"
	"fmt"
	"strings"

	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/dedupe"
	"pairstats/internal/pubsub"
	"pairstats/internal/reconcile"
	"pairstats/internal/snapshot"
	"pairstats/internal/stores/clickhouse"
	"pairstats/internal/syncstate"
	"pairstats/internal/unconfirmed"

	"pairstats/internal/pair"
)

// Single orchestration point for pair events:
// dedupe → pair actor → unconfirmed tracking → broadcast → history.
// Called from consumers, HTTP, CLI and the refresh scheduler.
type Service struct {
	log         logger.Logger
	pairs       *pair.Actors
	snaps       *snapshot.Actors
	deduper     dedupe.Deduper
	heights     *syncstate.Tracker
	unconf      *unconfirmed.Tracker
	reconciler  *reconcile.Reconciler
	broadcaster pubsub.Broadcaster // optional
	history     *clickhouse.Writer // optional
	index       *PairIndex
}

func New(
	log logger.Logger,
	pairs *pair.Actors,
	snaps *snapshot.Actors,
	deduper dedupe.Deduper,
	heights *syncstate.Tracker,
	unconf *unconfirmed.Tracker,
	reconciler *reconcile.Reconciler,
	broadcaster pubsub.Broadcaster,
	history *clickhouse.Writer,
	index *PairIndex,
) *Service {
	return &Service{
		log:         log,
		pairs:       pairs,
		snaps:       snaps,
		deduper:     deduper,
		heights:     heights,
		unconf:      unconf,
		reconciler:  reconciler,
		broadcaster: broadcaster,
		history:     history,
		index:       index,
	}
}

func (s *Service) Pairs() *pair.Actors         { return s.pairs }
func (s *Service) Snapshots() *snapshot.Actors { return s.snaps }

// CheckDependency pings every optional backend; used by /readiness.
func (s *Service) CheckDependency(ctx context.Context) error {
	var failed []string

	if s.deduper != nil {
		if err := s.deduper.Health(ctx); err != nil {
			failed = append(failed, fmt.Sprintf("dedupe: %v", err))
		}
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Health(ctx); err != nil {
			failed = append(failed, fmt.Sprintf("nats: %v", err))
		}
	}
	if s.history != nil {
		if err := s.history.Health(ctx); err != nil {
			failed = append(failed, fmt.Sprintf("clickhouse: %v", err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("dependency check failed: %s", strings.Join(failed, "; "))
	}
	return nil
}
