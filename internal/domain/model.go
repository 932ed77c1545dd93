package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind of upstream DEX event applied to a trade pair
type EventKind string

const (
	KindSync EventKind = "sync" // reserve update
	KindSwap EventKind = "swap"
	KindMint EventKind = "mint" // liquidity add
	KindBurn EventKind = "burn" // liquidity remove
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Raw pair event from the ingestion stream
type PairEvent struct {
	Kind        EventKind `json:"kind"`
	ChainID     uint32    `json:"chain_id"`
	PairID      string    `json:"pair_id"`
	TxHash      string    `json:"tx_hash"` // 0x-prefixed 66 chars
	LogIndex    uint32    `json:"log_index"`
	EventID     string    `json:"event_id"` // chain:tx_hash:log_index(canon)
	BlockNumber int64     `json:"block_number"`
	BlockTime   time.Time `json:"block_time"` // RFC3339/UTC

	// sync payload
	Reserve0 decimal.Decimal `json:"reserve0,omitempty"`
	Reserve1 decimal.Decimal `json:"reserve1,omitempty"`

	// swap payload
	Side                 Side            `json:"side,omitempty"` // buy|sell
	Amount0              decimal.Decimal `json:"amount0,omitempty"`
	Amount1              decimal.Decimal `json:"amount1,omitempty"`
	TradeAddressCount24h int64           `json:"trade_address_count_24h,omitempty"`

	// mint/burn payload
	LPAmount decimal.Decimal `json:"lp_amount,omitempty"`

	// reorg compensation flag; a removed event is replayed with inverted deltas
	Removed bool `json:"removed"`
}

// Point-in-time aggregate for one trade pair. The 24h/7d fields are derived
// from the snapshot window only; ingestion never writes them directly.
type TradePairAggregate struct {
	ID       string          `json:"id"`
	ChainID  uint32          `json:"chain_id"`
	Token0   string          `json:"token0"` // symbol
	Token1   string          `json:"token1"`
	FeeRate  decimal.Decimal `json:"fee_rate"`
	Deleted  bool            `json:"deleted"` // logically deleted pairs refuse mutation

	Price        decimal.Decimal `json:"price"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	TVL          decimal.Decimal `json:"tvl"`
	ValueLocked0 decimal.Decimal `json:"value_locked0"`
	ValueLocked1 decimal.Decimal `json:"value_locked1"`
	TotalSupply  decimal.Decimal `json:"total_supply"`

	Volume24h            decimal.Decimal `json:"volume_24h"`
	TradeValue24h        decimal.Decimal `json:"trade_value_24h"`
	TradeCount24h        int64           `json:"trade_count_24h"`
	TradeAddressCount24h int64           `json:"trade_address_count_24h"`

	PriceHigh24h    decimal.Decimal `json:"price_high_24h"`
	PriceLow24h     decimal.Decimal `json:"price_low_24h"`
	PriceHigh24hUSD decimal.Decimal `json:"price_high_24h_usd"`
	PriceLow24hUSD  decimal.Decimal `json:"price_low_24h_usd"`

	PricePercentChange24h  decimal.Decimal `json:"price_percent_change_24h"`
	TVLPercentChange24h    decimal.Decimal `json:"tvl_percent_change_24h"`
	VolumePercentChange24h decimal.Decimal `json:"volume_percent_change_24h"`
	FeePercent7d           decimal.Decimal `json:"fee_percent_7d"`

	// bucket keys of cached hourly snapshots, newest-first, max 168 (7d)
	Window []int64 `json:"window"`
}

// Hourly accumulation record for one pair. Key = floor(block time, 1h).
type HourlySnapshot struct {
	ChainID   uint32 `json:"chain_id"`
	PairID    string `json:"pair_id"`
	Timestamp int64  `json:"timestamp"` // bucket start, epoch millis UTC

	// flow fields, additive (signed so reverts net out)
	Volume     decimal.Decimal `json:"volume"`
	TradeValue decimal.Decimal `json:"trade_value"`
	TradeCount int64           `json:"trade_count"`

	// cumulative running total; updates carry a delta
	TotalSupply decimal.Decimal `json:"total_supply"`

	// point-in-time, last-value-wins
	Price        decimal.Decimal `json:"price"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	TVL          decimal.Decimal `json:"tvl"`
	ValueLocked0 decimal.Decimal `json:"value_locked0"`
	ValueLocked1 decimal.Decimal `json:"value_locked1"`

	// extremal
	PriceHigh    decimal.Decimal `json:"price_high"`
	PriceLow     decimal.Decimal `json:"price_low"`
	PriceHighUSD decimal.Decimal `json:"price_high_usd"`
	PriceLowUSD  decimal.Decimal `json:"price_low_usd"`

	TradeAddressCount24h int64 `json:"trade_address_count_24h"`
}

// Per-event delta routed into one hour bucket. Zero decimal means "not set"
// for the last-value-wins fields.
type SnapshotUpdate struct {
	Timestamp int64 // target bucket, epoch millis

	Volume     decimal.Decimal
	TradeValue decimal.Decimal
	TradeCount int64

	TotalSupplyDelta decimal.Decimal

	Price        decimal.Decimal
	PriceUSD     decimal.Decimal
	TVL          decimal.Decimal
	ValueLocked0 decimal.Decimal
	ValueLocked1 decimal.Decimal

	// explicit extremals for batch alignment; zero means "derive from Price"
	PriceHigh    decimal.Decimal
	PriceLow     decimal.Decimal
	PriceHighUSD decimal.Decimal
	PriceLowUSD  decimal.Decimal

	TradeAddressCount24h int64
}

// Transaction applied before finality; kept until confirmed or compensated
type UnconfirmedTx struct {
	BlockHeight int64  `json:"block_height"`
	TxHash      string `json:"tx_hash"`
}

// Patch for WS/cluster fan-out after a successful apply
type StatsPatch struct {
	Topic       string              `json:"topic"` // "pairs.<chain>.<pair>"
	ChainID     uint32              `json:"chain_id"`
	PairID      string              `json:"pair_id"`
	GeneratedAt time.Time           `json:"ts"`
	Aggregate   *TradePairAggregate `json:"aggregate"`
	Snapshot    *HourlySnapshot     `json:"snapshot,omitempty"`
}
