package actor

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"gitlab.com/nevasik7/alerting/logger"
)

/*
	Single-writer per-key executor. One goroutine owns one key's state and
	drains a bounded mailbox, so turns for a key run strictly in order while
	different keys run in parallel. Replaces intra-key locking entirely.
*/

// Rehydrates state for a key on first access (or after idle eviction).
// Must return a usable zero state when nothing was persisted yet.
type LoadFunc[S any] func(ctx context.Context, key string) (*S, error)

type turn[S any] struct {
	ctx  context.Context
	fn   func(ctx context.Context, st *S) error
	done chan error
}

type mailbox[S any] struct {
	key     string
	inbox   chan turn[S]
	mu      sync.Mutex
	closed  bool
	sending int // enqueuers past the closed check but not yet delivered
}

type Registry[S any] struct {
	log       logger.Logger
	name      string
	queueSize int
	idleAfter time.Duration
	load      LoadFunc[S]
	boxes     *xsync.Map[string, *mailbox[S]]
}

func NewRegistry[S any](log logger.Logger, name string, queueSize int, idleAfter time.Duration, load LoadFunc[S]) *Registry[S] {
	if queueSize <= 0 {
		queueSize = 64
	}
	if idleAfter <= 0 {
		idleAfter = 10 * time.Minute
	}

	return &Registry[S]{
		log:       log,
		name:      name,
		queueSize: queueSize,
		idleAfter: idleAfter,
		load:      load,
		boxes:     xsync.NewMap[string, *mailbox[S]](),
	}
}

// Do runs fn against the key's state as one exclusive turn and waits for the
// result. fn must persist any mutation before returning; when fn fails its
// in-memory state is discarded and the next turn rehydrates from the store.
func (r *Registry[S]) Do(ctx context.Context, key string, fn func(ctx context.Context, st *S) error) error {
	t := turn[S]{ctx: ctx, fn: fn, done: make(chan error, 1)}

	for {
		mb, loaded := r.boxes.LoadOrCompute(key, func() (*mailbox[S], bool) {
			return &mailbox[S]{key: key, inbox: make(chan turn[S], r.queueSize)}, false
		})
		if !loaded {
			r.log.Debugf("actor %s/%s spawned", r.name, key)
			go mb.run(r)
		}

		if mb.enqueue(t) {
			break
		}
		// lost the race with idle eviction -> look the key up again
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		// the turn may still execute; done is buffered so the runner never blocks
		return ctx.Err()
	}
}

// Live reports how many mailboxes are currently resident
func (r *Registry[S]) Live() int {
	return r.boxes.Size()
}

func (m *mailbox[S]) enqueue(t turn[S]) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.sending++
	m.mu.Unlock()

	// bounded queue: blocks when full. The send must happen outside the
	// mutex so the runner's idle branch can still acquire it; the nonzero
	// sending count keeps the runner from closing under a pending send.
	m.inbox <- t

	m.mu.Lock()
	m.sending--
	m.mu.Unlock()
	return true
}

func (m *mailbox[S]) run(r *Registry[S]) {
	var st *S

	idle := time.NewTimer(r.idleAfter)
	defer idle.Stop()

	for {
		select {
		case t := <-m.inbox:
			if st == nil {
				loaded, err := r.load(t.ctx, m.key)
				if err != nil {
					t.done <- err
					continue // retry the load on the next turn
				}
				st = loaded
			}
			err := t.fn(t.ctx, st)
			if err != nil {
				// a failed turn may have mutated state it never persisted;
				// drop it so the next turn rehydrates from the store
				st = nil
			}
			t.done <- err

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.idleAfter)

		case <-idle.C:
			m.mu.Lock()
			if m.sending == 0 && len(m.inbox) == 0 {
				m.closed = true
				r.boxes.Compute(m.key, func(old *mailbox[S], ok bool) (*mailbox[S], xsync.ComputeOp) {
					if ok && old == m {
						return nil, xsync.DeleteOp
					}
					return old, xsync.CancelOp
				})
				m.mu.Unlock()
				r.log.Debugf("actor %s/%s evicted after idle", r.name, m.key)
				return
			}
			m.mu.Unlock()
			idle.Reset(r.idleAfter)
		}
	}
}
