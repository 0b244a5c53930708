package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrComputePanicked is returned to every caller of GetOrCompute when the
// compute function panicked.
var ErrComputePanicked = errors.New("cache compute panicked")

// call is the shared pending handle for one in-flight computation.
// val and err are written once, before done is closed.
type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// flightGroup is the per-key registry of in-flight computations. It is
// separate from the entry map so compute never runs under the map lock.
type flightGroup[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

func (g *flightGroup[K, V]) len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// GetOrCompute returns the live value for key, or runs compute to produce
// it. Concurrent misses on the same key share one compute call. A failed
// compute is not cached and releases the key so the next call retries.
//
// Every caller, including the one that started the computation, stops
// waiting when its own ctx is done. The computation keeps running for the
// others: compute gets the starting caller's ctx values without its
// cancellation.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, compute func(ctx context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	c.flight.mu.Lock()
	if pending, ok := c.flight.calls[key]; ok {
		c.flight.mu.Unlock()
		return c.wait(ctx, pending)
	}

	// A computation may have finished between the miss above and taking
	// the registry lock; its result is already stored.
	if value, ok := c.lookup(key); ok {
		c.flight.mu.Unlock()
		c.hits.Add(1)
		c.metrics.recordHit()
		return value, nil
	}

	pending := &call[V]{done: make(chan struct{})}
	c.flight.calls[key] = pending
	c.flight.mu.Unlock()

	go c.execute(context.WithoutCancel(ctx), key, pending, compute)

	return c.wait(ctx, pending)
}

// execute runs compute, stores a successful result and releases the key
func (c *Cache[K, V]) execute(ctx context.Context, key K, pending *call[V], compute func(ctx context.Context) (V, error)) {
	pending.val, pending.err = c.runCompute(ctx, compute)

	if pending.err == nil {
		c.Put(key, pending.val)
	}

	c.flight.mu.Lock()
	delete(c.flight.calls, key)
	c.flight.mu.Unlock()
	close(pending.done)
}

func (c *Cache[K, V]) wait(ctx context.Context, pending *call[V]) (V, error) {
	select {
	case <-pending.done:
		return pending.val, pending.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) runCompute(ctx context.Context, compute func(ctx context.Context) (V, error)) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value = zero
			err = fmt.Errorf("%w: %v", ErrComputePanicked, r)
		}
	}()
	return compute(ctx)
}
