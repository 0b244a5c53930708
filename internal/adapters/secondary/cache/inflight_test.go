package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
)

func TestGetOrCompute_Hit(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())
	c.Put("k", "cached")

	value, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		t.Fatal("compute must not run on a hit")
		return "", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "cached", value)
}

func TestGetOrCompute_StoresResult(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())

	value, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "computed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "computed", value)

	stored, found := c.Get("k")
	assert.True(t, found)
	assert.Equal(t, "computed", stored)
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	c, _ := newTestCache[int](t, entities.DefaultCacheConfig())

	const callers = 50
	var computeCalls atomic.Int32
	release := make(chan struct{})

	compute := func(context.Context) (int, error) {
		computeCalls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), "shared", compute)
		}(i)
	}

	require.Eventually(t, func() bool {
		return c.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), computeCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
	assert.Equal(t, 0, c.Stats().InFlight)
}

func TestGetOrCompute_DistinctKeysRunIndependently(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())

	release := make(chan struct{})
	started := make(chan string, 2)

	compute := func(key string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) {
			started <- key
			<-release
			return key, nil
		}
	}

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _ = c.GetOrCompute(context.Background(), key, compute(key))
		}(key)
	}

	// Both computations run at the same time.
	<-started
	<-started
	assert.Equal(t, 2, c.Stats().InFlight)

	close(release)
	wg.Wait()
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
}

func TestGetOrCompute_ErrorIsNotCached(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())
	errBackend := errors.New("backend unavailable")

	var computeCalls atomic.Int32
	compute := func(context.Context) (string, error) {
		if computeCalls.Add(1) == 1 {
			return "", errBackend
		}
		return "ok", nil
	}

	_, err := c.GetOrCompute(context.Background(), "k", compute)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, 0, c.Stats().InFlight, "failed computation releases the key")

	value, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, int32(2), computeCalls.Load())
}

func TestGetOrCompute_ErrorSharedWithWaiters(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())
	errBackend := errors.New("backend unavailable")
	release := make(chan struct{})

	compute := func(context.Context) (string, error) {
		<-release
		return "", errBackend
	}

	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(context.Background(), "k", compute)
		leaderErr <- err
	}()

	require.Eventually(t, func() bool {
		return c.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
			return "waiter must not compute", nil
		})
		waiterErr <- err
	}()

	// Give the waiter a moment to attach to the pending call.
	time.Sleep(10 * time.Millisecond)
	close(release)

	assert.ErrorIs(t, <-leaderErr, errBackend)
	assert.ErrorIs(t, <-waiterErr, errBackend)
}

func TestGetOrCompute_Panic(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())

	_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrComputePanicked)
	assert.Contains(t, err.Error(), "boom")

	_, found := c.Get("k")
	assert.False(t, found)
	assert.Equal(t, 0, c.Stats().InFlight)

	value, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
}

func TestGetOrCompute_WaiterContextCancelled(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())
	release := make(chan struct{})

	leaderDone := make(chan string, 1)
	go func() {
		value, _ := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
			<-release
			return "slow", nil
		})
		leaderDone <- value
	}()

	require.Eventually(t, func() bool {
		return c.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetOrCompute(ctx, "k", func(context.Context) (string, error) {
		return "waiter must not compute", nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.Equal(t, "slow", <-leaderDone, "the leader is unaffected by a waiter leaving")

	value, found := c.Get("k")
	assert.True(t, found)
	assert.Equal(t, "slow", value)
}

func TestGetOrCompute_StarterCancelledComputationContinues(t *testing.T) {
	c, _ := newTestCache[string](t, entities.DefaultCacheConfig())
	release := make(chan struct{})
	computeCtxErr := make(chan error, 1)

	starterCtx, cancelStarter := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(starterCtx, "k", func(ctx context.Context) (string, error) {
			<-release
			computeCtxErr <- ctx.Err()
			return "shared", nil
		})
		starterErr <- err
	}()

	require.Eventually(t, func() bool {
		return c.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	waiterResult := make(chan string, 1)
	go func() {
		value, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
			return "waiter must not compute", nil
		})
		assert.NoError(t, err)
		waiterResult <- value
	}()

	cancelStarter()
	assert.ErrorIs(t, <-starterErr, context.Canceled)

	close(release)
	assert.Equal(t, "shared", <-waiterResult)
	assert.NoError(t, <-computeCtxErr, "compute does not see the starter's cancellation")

	value, found := c.Get("k")
	assert.True(t, found)
	assert.Equal(t, "shared", value)
	assert.Equal(t, 0, c.Stats().InFlight)
}

func TestGetOrCompute_Disabled(t *testing.T) {
	config := entities.DefaultCacheConfig()
	config.Enabled = false
	c, _ := newTestCache[int](t, config)

	var computeCalls atomic.Int32
	compute := func(context.Context) (int, error) {
		return int(computeCalls.Add(1)), nil
	}

	first, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second, "a disabled cache never serves stored values")
	assert.Equal(t, 0, c.Stats().Size)
}

func TestGetOrCompute_DisabledStillDeduplicates(t *testing.T) {
	config := entities.DefaultCacheConfig()
	config.Enabled = false
	c, _ := newTestCache[int](t, config)

	var computeCalls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrCompute(context.Background(), "k", func(context.Context) (int, error) {
				computeCalls.Add(1)
				<-release
				return 1, nil
			})
		}()
	}

	require.Eventually(t, func() bool {
		return c.Stats().InFlight == 1
	}, time.Second, time.Millisecond)

	// Let the remaining goroutines attach before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	// Latecomers that arrive after the first call completes compute again,
	// so only an upper bound holds.
	assert.GreaterOrEqual(t, computeCalls.Load(), int32(1))
	assert.Less(t, computeCalls.Load(), int32(10))
}
