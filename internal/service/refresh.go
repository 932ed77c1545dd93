package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/config"
	"pairstats/internal/domain"
	"pairstats/internal/metrics"
	"pairstats/internal/pair"
)

// Refresher periodically recomputes rollups for pairs that stopped
// receiving events, so their 24h/7d numbers decay as buckets age out
// instead of freezing at the last write.
type Refresher struct {
	log        logger.Logger
	svc        *Service
	staleAfter time.Duration
	spec       string
	now        func() time.Time

	cron *cron.Cron
	pool pond.Pool
}

func NewRefresher(log logger.Logger, svc *Service, cfg config.RefreshConfig) *Refresher {
	spec := cfg.CronSpec
	if spec == "" {
		spec = "@every 10m"
	}
	stale := cfg.StaleAfter
	if stale <= 0 {
		stale = time.Hour
	}
	workers := cfg.MaxParallel
	if workers <= 0 {
		workers = 8
	}

	return &Refresher{
		log:        log,
		svc:        svc,
		staleAfter: stale,
		spec:       spec,
		now:        time.Now,
		cron:       cron.New(),
		pool:       pond.NewPool(workers),
	}
}

func (r *Refresher) Start() error {
	_, err := r.cron.AddFunc(r.spec, func() {
		if err := r.Sweep(context.Background()); err != nil {
			r.log.Errorf("rollup sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule rollup sweep %q: %w", r.spec, err)
	}
	r.cron.Start()
	return nil
}

func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.pool.StopAndWait()
}

// Sweep walks every indexed pair and refreshes the stale ones in parallel.
func (r *Refresher) Sweep(ctx context.Context) error {
	chains, err := r.svc.index.Chains(ctx)
	if err != nil {
		return fmt.Errorf("list chains: %w", err)
	}

	group := r.pool.NewGroupContext(ctx)
	for _, chainID := range chains {
		ids, err := r.svc.index.Pairs(ctx, chainID)
		if err != nil {
			return fmt.Errorf("list pairs for chain %d: %w", chainID, err)
		}
		for _, pairID := range ids {
			chainID, pairID := chainID, pairID
			group.Submit(func() {
				if err := r.refreshOne(ctx, chainID, pairID); err != nil {
					r.log.Errorf("refresh %d:%s failed: %v", chainID, pairID, err)
				}
			})
		}
	}

	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	return nil
}

func (r *Refresher) refreshOne(ctx context.Context, chainID uint32, pairID string) error {
	latest, err := r.svc.pairs.GetLatestSnapshot(ctx, chainID, pairID)
	if err != nil {
		if errors.Is(err, pair.ErrNotFound) {
			return nil // never wrote a bucket, nothing to decay
		}
		return err
	}

	if r.now().Sub(domain.BucketTime(latest.Timestamp)) < r.staleAfter {
		return nil
	}

	if _, err := r.svc.pairs.RefreshRollups(ctx, chainID, pairID, r.now(), 0, decimal.Zero); err != nil {
		if errors.Is(err, pair.ErrNotFound) {
			return nil
		}
		return err
	}
	metrics.RollupRefreshes.Inc()
	return nil
}
