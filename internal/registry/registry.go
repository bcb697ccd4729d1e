// Package registry maps canonical pair keys to pools, each guarded by its
// own lock.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"swapCore/internal/amm"
	"swapCore/internal/ident"
)

var (
	ErrPoolExists   = errors.New("pool already exists")
	ErrPoolNotFound = errors.New("pool not found")
)

type entry struct {
	mu   sync.Mutex
	pool amm.Pool
}

// Registry holds every pool known to the process.
type Registry struct {
	mu    sync.RWMutex
	pools map[common.Hash]*entry
}

func New() *Registry {
	return &Registry{pools: make(map[common.Hash]*entry)}
}

// Create registers an initialized pool under its key.
func (r *Registry) Create(pool amm.Pool) error {
	if err := pool.Validate(); err != nil {
		return fmt.Errorf("register pool %s: %w", pool.PoolKey.Hex(), err)
	}
	key, err := ident.PoolKey(pool.AssetA, pool.AssetB)
	if err != nil {
		return err
	}
	if key != pool.PoolKey {
		return fmt.Errorf("register pool %s: key does not match assets", pool.PoolKey.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[key]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, key.Hex())
	}
	r.pools[key] = &entry{pool: pool}
	return nil
}

// Load replaces the registry contents with pools.
func (r *Registry) Load(pools []amm.Pool) error {
	next := New()
	for _, pool := range pools {
		if err := next.Create(pool); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.pools = next.pools
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the pool stored under key.
func (r *Registry) Get(key common.Hash) (amm.Pool, error) {
	e, err := r.entry(key)
	if err != nil {
		return amm.Pool{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool, nil
}

// Lookup finds the pool for a pair, in either order.
func (r *Registry) Lookup(a, b common.Address) (amm.Pool, error) {
	key, err := ident.PoolKey(a, b)
	if err != nil {
		return amm.Pool{}, err
	}
	return r.Get(key)
}

// With runs fn with exclusive access to the pool under key. If fn returns an
// error the pool is restored to its value before the call.
func (r *Registry) With(ctx context.Context, key common.Hash, fn func(*amm.Pool) error) error {
	e, err := r.entry(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	prior := e.pool
	if err := fn(&e.pool); err != nil {
		e.pool = prior
		return err
	}
	return nil
}

// List returns copies of all pools ordered by key.
func (r *Registry) List() []amm.Pool {
	r.mu.RLock()
	keys := make([]common.Hash, 0, len(r.pools))
	entries := make(map[common.Hash]*entry, len(r.pools))
	for key, e := range r.pools {
		keys = append(keys, key)
		entries[key] = e
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].Bytes(), keys[j].Bytes()) < 0
	})

	out := make([]amm.Pool, 0, len(keys))
	for _, key := range keys {
		e := entries[key]
		e.mu.Lock()
		out = append(out, e.pool)
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

func (r *Registry) entry(key common.Hash) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.pools[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, key.Hex())
	}
	return e, nil
}
