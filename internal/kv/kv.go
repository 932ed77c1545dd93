package kv

import "context"

// Opaque key-value persistence used by the actors. State is written
// synchronously at the end of every mutating turn and rehydrated lazily
// on first access, so the contract is deliberately small.
type Store interface {
	// found=false is not an error: the entity was never persisted
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
