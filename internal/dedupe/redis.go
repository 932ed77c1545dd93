package dedupe

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/config"
	rdb "pairstats/internal/stores/redis"
)

// Cluster-wide dedupe via Redis keys with a TTL
type RedisDedupe struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(log logger.Logger, cfg *config.DedupeConfig, rdb *rdb.Client) (*RedisDedupe, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis deduper")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis deduper")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dedupe:"
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &RedisDedupe{
		log:    log,
		rdb:    rdb,
		ttl:    ttl,
		prefix: prefix,
	}, nil
}

func (d *RedisDedupe) IsDuplicate(ctx context.Context, id string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.prefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("redis Exists: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDedupe) MarkSeen(ctx context.Context, id string) error {
	if err := d.rdb.Set(ctx, d.prefix+id, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("redis Set: %w", err)
	}
	return nil
}

func (d *RedisDedupe) Health(ctx context.Context) error {
	return d.rdb.Ping(ctx).Err()
}
