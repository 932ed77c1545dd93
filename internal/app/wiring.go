package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	apihttp "pairstats/internal/api/http"
	"pairstats/internal/api/http/mw"
	"pairstats/internal/config"
	"pairstats/internal/dedupe"
	"pairstats/internal/kv"
	"pairstats/internal/metrics"
	"pairstats/internal/pair"
	"pairstats/internal/pricing"
	natsps "pairstats/internal/pubsub/nats"
	"pairstats/internal/reconcile"
	"pairstats/internal/security"
	"pairstats/internal/service"
	"pairstats/internal/snapshot"
	"pairstats/internal/stores/clickhouse"
	"pairstats/internal/stores/redis"
	"pairstats/internal/syncstate"
	"pairstats/internal/unconfirmed"
	"pairstats/internal/upstream"
)

type Container struct {
	app *App

	// infra
	redis *redis.Client
	ch    *clickhouse.Conn
	nc    *natsps.Client

	svc       *service.Service
	refresher *service.Refresher
	httpSrv   *apihttp.Server

	profiler *pyroscope.Profiler

	cleanupF func()
}

func (c *Container) Start() error {
	return c.app.Start()
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown failed: %w", err)
	}
	if c.cleanupF != nil {
		c.cleanupF()
	}
	return nil
}

func (c *Container) Service() *service.Service { return c.svc }

// Build wires the full dependency graph from config.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("successfully initialized logger")

	profiler, err := metrics.InitPProf(&cfg.Metrics.Pyroscope, cfg.App.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("pyroscope init failed: %w", err)
	}
	if profiler != nil {
		lg.Infof("successfully initialized pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	rdb, err := redis.New(ctx, &cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis init failed: %w", err)
	}
	lg.Infof("successfully initialized redis client, addr=%s", cfg.Stores.Redis.Addr)

	store := kv.NewRedis(rdb.Client, cfg.Stores.Redis.Prefix)

	deduper, err := dedupe.NewRedisDeduper(lg, &cfg.Dedupe, rdb)
	if err != nil {
		return nil, nil, fmt.Errorf("deduper init failed: %w", err)
	}
	lg.Infof("successfully initialized deduper, prefix=%s", cfg.Dedupe.Prefix)

	ch, err := clickhouse.New(ctx, &cfg.Stores.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse init failed: %w", err)
	}
	dsn := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
	lg.Infof("successfully initialized clickhouse client, url=%s", dsn[0])

	chWriter := clickhouse.NewWriter(lg, cfg.Stores.ClickHouse, ch.Native)
	lg.Info("successfully initialized clickhouse writer")

	natsCl, err := natsps.New(lg, &cfg.PubSub.NATS)
	if err != nil {
		return nil, nil, fmt.Errorf("nats init failed: %w", err)
	}
	lg.Infof("successfully initialized nats client, url=%s", cfg.PubSub.NATS.URL)

	// actor layer
	snaps := snapshot.NewActors(lg, store, cfg.Actors.QueueSize, cfg.Actors.IdleAfter)
	usd := pricing.NewFixedSource()
	pairs := pair.NewActors(lg, store, snaps, usd, pair.Options{
		WindowSize: cfg.Actors.WindowSize,
		QueueSize:  cfg.Actors.QueueSize,
		IdleAfter:  cfg.Actors.IdleAfter,
	})

	// upstream is the in-memory stub until an indexer client is plugged in
	chainSource := upstream.NewStatic()
	heights := syncstate.New(lg, chainSource, store, cfg.Reconcile.FinalityCacheTTL)
	unconf := unconfirmed.NewTracker(lg, store, cfg.Actors.QueueSize, cfg.Actors.IdleAfter)
	reconciler := reconcile.New(lg, heights, unconf, chainSource, cfg.Reconcile.PageSize)

	index := service.NewPairIndex(store)
	svc := service.New(lg, pairs, snaps, deduper, heights, unconf, reconciler, natsCl, chWriter, index)
	refresher := service.NewRefresher(lg, svc, cfg.Refresh)
	lg.Info("successfully initialized service layer")

	// http layer
	var jwtMW *mw.JWTMiddleware
	var verifier *security.RS256Verifier
	if cfg.Security.JWT.Enabled {
		verifier, err = security.NewRS256Verifier(&cfg.Security.JWT)
		if err != nil {
			return nil, nil, fmt.Errorf("jwt verifier init failed: %w", err)
		}
		jwtMW = mw.NewJWT(verifier)
		lg.Info("successfully initialized jwt verifier")
	}

	var corsMW *mw.CORSMiddleware
	if cfg.API.HTTP.CORS.Enabled {
		corsMW = mw.NewCORS(&cfg.API.HTTP.CORS)
	}

	rateMW := mw.NewRateLimit(rdb.Client, mw.RateLimitConfig{
		ByIP:     mw.RateBucket{RefillPerSec: cfg.RateLimit.RefillPerSec, Burst: cfg.RateLimit.Burst},
		ByJWT:    mw.RateBucket{RefillPerSec: cfg.RateLimit.RefillPerSec, Burst: cfg.RateLimit.Burst},
		Verifier: verifier,
	})

	api := apihttp.NewAPI(lg, svc)
	router := apihttp.BuildRouter(api, mw.NewLogging(lg), mw.NewGzip(0, lg), rateMW, jwtMW, corsMW)
	httpSrv := apihttp.NewServer(lg, &cfg.API.HTTP, router)
	lg.Info("successfully initialized http server")

	c := &Container{
		app:       NewApp(lg, httpSrv, refresher),
		redis:     rdb,
		ch:        ch,
		nc:        natsCl,
		svc:       svc,
		refresher: refresher,
		httpSrv:   httpSrv,
		profiler:  profiler,
	}

	c.cleanupF = func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err := c.profiler.Stop(); err != nil {
				lg.Errorf("failed to stop profiler: %v", err)
			}
		}
		if err := chWriter.Close(ctxClean); err != nil {
			lg.Errorf("failed to close clickhouse writer: %v", err)
		}
		if err := ch.Close(); err != nil {
			lg.Errorf("failed to close clickhouse client: %v", err)
		}
		if err := natsCl.Close(); err != nil {
			lg.Errorf("failed to close nats client: %v", err)
		}
		if err := rdb.Close(); err != nil {
			lg.Errorf("failed to close redis client: %v", err)
		}

		lg.Info("successfully cleaned up dependencies")
	}

	lg.Info("successfully initialized wiring")
	return c, c.cleanupF, nil
}
