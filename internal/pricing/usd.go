package pricing

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Best-effort USD quote per token symbol. A failed or unknown lookup is not
// an error for callers: they degrade the leg to 0 and keep going.
type USDSource interface {
	TokenUSDPrice(ctx context.Context, chainID uint32, symbol string) (decimal.Decimal, error)
}

// Static table, for dev and tests
type FixedSource struct {
	mu     sync.RWMutex
	quotes map[string]decimal.Decimal // "<chain>:<symbol>"
}

func NewFixedSource() *FixedSource {
	return &FixedSource{quotes: make(map[string]decimal.Decimal)}
}

func (f *FixedSource) Set(chainID uint32, symbol string, price decimal.Decimal) {
	f.mu.Lock()
	f.quotes[fixedKey(chainID, symbol)] = price
	f.mu.Unlock()
}

func (f *FixedSource) TokenUSDPrice(_ context.Context, chainID uint32, symbol string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.quotes[fixedKey(chainID, symbol)]
	if !ok {
		return decimal.Zero, nil
	}
	return p, nil
}

func fixedKey(chainID uint32, symbol string) string {
	return fmt.Sprintf("%d:%s", chainID, symbol)
}
