package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	raw := `
app:
  instance_id: "agg-1"
  shutdown_timeout: 15s
logging:
  level: "debug"
  format: "json"
security:
  jwt:
    enabled: true
    alg: "RS256"
    public_key_path: "/etc/keys/jwt.pem"
    audience: "pairstats"
    issuer: "sso"
    leeway: 30s
actors:
  queue_size: 256
  idle_after: 5m
  window_size: 168
refresh:
  cron_spec: "@every 10m"
  stale_after: 1h
  max_parallel: 4
reconcile:
  page_size: 500
  finality_cache_ttl: 3s
dedupe:
  ttl: 1h
  prefix: "dedupe:"
stores:
  redis:
    addr: "localhost:6379"
    db: 2
    prefix: "pairstats:"
  clickhouse:
    dsn: "clickhouse://localhost:9000/stats"
    writer:
      batch_max_rows: 2000
      batch_max_interval: 300ms
pubsub:
  nats:
    url: "nats://localhost:4222"
    broadcast_prefix: "stats"
api:
  http:
    addr: ":8080"
    read_timeout: 10s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agg-1", cfg.App.InstanceID)
	assert.Equal(t, 15*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.True(t, cfg.Security.JWT.Enabled)
	assert.Equal(t, "pairstats", cfg.Security.JWT.Audience)
	assert.Equal(t, 30*time.Second, cfg.Security.JWT.Leeway)

	assert.Equal(t, 168, cfg.Actors.WindowSize)
	assert.Equal(t, time.Hour, cfg.Refresh.StaleAfter)
	assert.Equal(t, 500, cfg.Reconcile.PageSize)

	assert.Equal(t, 2, cfg.Stores.Redis.DB)
	assert.Equal(t, 2000, cfg.Stores.ClickHouse.Writer.BatchMaxRows)
	assert.Equal(t, 300*time.Millisecond, cfg.Stores.ClickHouse.Writer.BatchMaxInterval)

	assert.Equal(t, "nats://localhost:4222", cfg.PubSub.NATS.URL)
	assert.Equal(t, "stats", cfg.PubSub.NATS.BroadcastPrefix)
	assert.Equal(t, ":8080", cfg.API.HTTP.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
