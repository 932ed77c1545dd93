package upstream

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pairstats/internal/domain"
)

// Static is an in-memory implementation of both upstream contracts, for
// local runs and tests. Real deployments inject the indexer client instead.
type Static struct {
	mu        sync.RWMutex
	heights   map[uint32]int64
	confirmed map[string][]ConfirmedTx
}

func NewStatic() *Static {
	return &Static{
		heights:   make(map[uint32]int64),
		confirmed: make(map[string][]ConfirmedTx),
	}
}

func (s *Static) SetIrreversibleHeight(chainID uint32, height int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heights[chainID] = height
}

func (s *Static) AddConfirmed(chainID uint32, kind domain.EventKind, txs ...ConfirmedTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := staticKey(chainID, kind)
	rows := append(s.confirmed[key], txs...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].BlockHeight < rows[j].BlockHeight })
	s.confirmed[key] = rows
}

func (s *Static) LastIrreversibleHeight(_ context.Context, chainID uint32) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heights[chainID], nil
}

func (s *Static) QueryConfirmedTransactions(_ context.Context, chainID uint32, kind domain.EventKind, fromHeight, toHeight int64, skip, limit int) ([]ConfirmedTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var window []ConfirmedTx
	for _, tx := range s.confirmed[staticKey(chainID, kind)] {
		if tx.BlockHeight >= fromHeight && tx.BlockHeight <= toHeight {
			window = append(window, tx)
		}
	}
	if skip >= len(window) {
		return nil, nil
	}
	window = window[skip:]
	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	return window, nil
}

func staticKey(chainID uint32, kind domain.EventKind) string {
	return fmt.Sprintf("%d:%s", chainID, kind)
}
