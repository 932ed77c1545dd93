package upstream

import (
	"context"

	"pairstats/internal/domain"
)

// Contracts for the external chain-data collaborators. Implementations live
// with the indexer client, not here; this core only consumes them.

type FinalityOracle interface {
	// highest block height guaranteed not to be reorganized further
	LastIrreversibleHeight(ctx context.Context, chainID uint32) (int64, error)
}

type ConfirmedTx struct {
	BlockHeight int64  `json:"block_height"`
	TxHash      string `json:"tx_hash"`
}

type ConfirmedTxSource interface {
	// Paginated, ascending by block height. skip/limit page through rows
	// within [fromHeight, toHeight].
	QueryConfirmedTransactions(ctx context.Context, chainID uint32, kind domain.EventKind, fromHeight, toHeight int64, skip, limit int) ([]ConfirmedTx, error)
}
