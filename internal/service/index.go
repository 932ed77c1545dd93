package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"pairstats/internal/domain"
	"pairstats/internal/kv"
)

const chainsIndexKey = "pairs:chains"

// PairIndex tracks which pairs exist per chain so the refresh sweep knows
// what to walk. Maintained on first touch, persisted in KV, loaded lazily.
type PairIndex struct {
	store kv.Store

	mu     sync.Mutex
	chains map[uint32]map[string]struct{}
	loaded map[uint32]bool
}

func NewPairIndex(store kv.Store) *PairIndex {
	return &PairIndex{
		store:  store,
		chains: make(map[uint32]map[string]struct{}),
		loaded: make(map[uint32]bool),
	}
}

// Touch records the pair; a no-op when it is already indexed.
func (p *PairIndex) Touch(ctx context.Context, chainID uint32, pairID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(ctx, chainID); err != nil {
		return err
	}

	set := p.chains[chainID]
	if set == nil {
		set = make(map[string]struct{})
		p.chains[chainID] = set
		if err := p.persistChains(ctx); err != nil {
			return err
		}
	}
	if _, ok := set[pairID]; ok {
		return nil
	}
	set[pairID] = struct{}{}
	return p.persistChain(ctx, chainID)
}

func (p *PairIndex) Pairs(ctx context.Context, chainID uint32) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureLoaded(ctx, chainID); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(p.chains[chainID]))
	for id := range p.chains[chainID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (p *PairIndex) Chains(ctx context.Context) ([]uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadChains(ctx); err != nil {
		return nil, err
	}

	out := make([]uint32, 0, len(p.chains))
	for id := range p.chains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// callers hold p.mu

func (p *PairIndex) ensureLoaded(ctx context.Context, chainID uint32) error {
	if p.loaded[chainID] {
		return nil
	}

	b, found, err := p.store.Get(ctx, domain.PairIndexKey(chainID))
	if err != nil {
		return fmt.Errorf("load pair index for chain %d: %w", chainID, err)
	}
	set := make(map[string]struct{})
	if found {
		var ids []string
		if err := json.Unmarshal(b, &ids); err != nil {
			return fmt.Errorf("decode pair index for chain %d: %w", chainID, err)
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	if existing, ok := p.chains[chainID]; ok {
		for id := range existing {
			set[id] = struct{}{}
		}
	}
	p.chains[chainID] = set
	p.loaded[chainID] = true
	return nil
}

func (p *PairIndex) loadChains(ctx context.Context) error {
	b, found, err := p.store.Get(ctx, chainsIndexKey)
	if err != nil {
		return fmt.Errorf("load chain index: %w", err)
	}
	if !found {
		return nil
	}
	var ids []uint32
	if err := json.Unmarshal(b, &ids); err != nil {
		return fmt.Errorf("decode chain index: %w", err)
	}
	for _, id := range ids {
		if _, ok := p.chains[id]; !ok {
			p.chains[id] = make(map[string]struct{})
		}
	}
	return nil
}

func (p *PairIndex) persistChain(ctx context.Context, chainID uint32) error {
	ids := make([]string, 0, len(p.chains[chainID]))
	for id := range p.chains[chainID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, domain.PairIndexKey(chainID), b)
}

func (p *PairIndex) persistChains(ctx context.Context) error {
	ids := make([]uint32, 0, len(p.chains))
	for id := range p.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	b, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, chainsIndexKey, b)
}
