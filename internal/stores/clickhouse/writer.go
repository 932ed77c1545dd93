package clickhouse

import (
	"context"
	"errors"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"

	"pairstats/internal/config"
	"pairstats/internal/domain"
)

// One row per touched hourly bucket; the history table is what downstream
// querying reads instead of this service's hot state.
type SnapshotRow struct {
	BucketTime           time.Time
	ChainID              uint32
	PairID               string
	Volume               string // Decimal(38,18), sent as string
	TradeValue           string
	TradeCount           int64
	TotalSupply          string
	Price                string
	PriceUSD             string
	TVL                  string
	ValueLocked0         string
	ValueLocked1         string
	PriceHigh            string
	PriceLow             string
	PriceHighUSD         string
	PriceLowUSD          string
	TradeAddressCount24h int64
	UpdatedAt            time.Time
}

func RowFromSnapshot(s *domain.HourlySnapshot) SnapshotRow {
	return SnapshotRow{
		BucketTime:           domain.BucketTime(s.Timestamp),
		ChainID:              s.ChainID,
		PairID:               s.PairID,
		Volume:               s.Volume.String(),
		TradeValue:           s.TradeValue.String(),
		TradeCount:           s.TradeCount,
		TotalSupply:          s.TotalSupply.String(),
		Price:                s.Price.String(),
		PriceUSD:             s.PriceUSD.String(),
		TVL:                  s.TVL.String(),
		ValueLocked0:         s.ValueLocked0.String(),
		ValueLocked1:         s.ValueLocked1.String(),
		PriceHigh:            s.PriceHigh.String(),
		PriceLow:             s.PriceLow.String(),
		PriceHighUSD:         s.PriceHighUSD.String(),
		PriceLowUSD:          s.PriceLowUSD.String(),
		TradeAddressCount24h: s.TradeAddressCount24h,
		UpdatedAt:            time.Now().UTC(),
	}
}

type Writer struct {
	log logger.Logger

	conn ch.Conn
	cfg  config.ClickHouseConfig

	inCh      chan SnapshotRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, cfg config.ClickHouseConfig, conn ch.Conn) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 1000
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = 200 * time.Millisecond
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		cfg:      cfg,
		inCh:     make(chan SnapshotRow, 8192),
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

func (w *Writer) Enqueue(row SnapshotRow) error {
	select {
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return errors.New("clickhouse writer closed")
	}
}

func (w *Writer) Health(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
		close(w.inCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]SnapshotRow, 0, w.cfg.Writer.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Errorf("Failed insert [%d] rows by batch to clickhouse, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}

			batch = append(batch, row)
			if len(batch) >= w.cfg.Writer.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) insertBatch(ctx context.Context, rows []SnapshotRow) error {
	backoff := w.cfg.Writer.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= w.cfg.Writer.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}

		if lastErr = w.sendBatch(ctx, rows); lastErr == nil {
			return nil
		}
	}

	return lastErr
}

func (w *Writer) sendBatch(ctx context.Context, rows []SnapshotRow) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO pair_snapshots (
			bucket_time,
			chain_id,
			pair_id,
			volume,
			trade_value,
			trade_count,
			total_supply,
			price,
			price_usd,
			tvl,
			value_locked0,
			value_locked1,
			price_high,
			price_low,
			price_high_usd,
			price_low_usd,
			trade_address_count_24h,
			updated_at
		)
	`)
	if err != nil {
		return err
	}

	for i := range rows {
		r := &rows[i]
		if err = batch.Append(
			r.BucketTime,
			r.ChainID,
			r.PairID,
			r.Volume,
			r.TradeValue,
			r.TradeCount,
			r.TotalSupply,
			r.Price,
			r.PriceUSD,
			r.TVL,
			r.ValueLocked0,
			r.ValueLocked1,
			r.PriceHigh,
			r.PriceLow,
			r.PriceHighUSD,
			r.PriceLowUSD,
			r.TradeAddressCount24h,
			r.UpdatedAt,
		); err != nil {
			_ = batch.Abort()
			return err
		}
	}

	return batch.Send()
}
