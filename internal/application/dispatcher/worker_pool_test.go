package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	limits := map[string]int{"researcher": 2, "reviewer": 1}
	pool := NewWorkerPool(limits)
	require.NotNil(t, pool)

	limits["researcher"] = 10
	assert.Equal(t, 2, pool.GetMax("researcher"), "pool must copy its config")
	assert.Equal(t, 1, pool.GetMax("reviewer"))
	assert.Equal(t, 0, pool.GetMax("planner"), "unconfigured kinds are unlimited")
}

func current(pool *WorkerPool, kind string) int {
	return pool.GetStats()[kind].Current
}

func TestWorkerPool_Unlimited(t *testing.T) {
	pool := NewWorkerPool(map[string]int{"tester": 0})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Acquire(ctx, "tester"))
	}
	assert.Equal(t, 50, current(pool, "tester"))
}

func TestWorkerPool_ReleaseNeverGoesNegative(t *testing.T) {
	pool := NewWorkerPool(nil)
	pool.Release("x")
	assert.Equal(t, 0, current(pool, "x"))
}

func TestWorkerPool_AcquireBlocksUntilRelease(t *testing.T) {
	pool := NewWorkerPool(map[string]int{"k": 1})
	require.NoError(t, pool.Acquire(context.Background(), "k"))

	acquired := make(chan struct{})
	go func() {
		_ = pool.Acquire(context.Background(), "k")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while the slot is taken")
	case <-time.After(20 * time.Millisecond):
	}

	pool.Release("k")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}
	pool.Release("k")
}

func TestWorkerPool_AcquireHonorsContext(t *testing.T) {
	pool := NewWorkerPool(map[string]int{"k": 1})
	require.NoError(t, pool.Acquire(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Acquire(ctx, "k"))
	pool.Release("k")
}

func TestWorkerPool_ConcurrentLimit(t *testing.T) {
	pool := NewWorkerPool(map[string]int{"k": 3})
	var running, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, pool.Acquire(context.Background(), "k"))
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			pool.Release("k")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak), 3)
	assert.Equal(t, 0, current(pool, "k"))
}

func TestWorkerPool_GetStats(t *testing.T) {
	pool := NewWorkerPool(map[string]int{"a": 4, "b": 0})
	require.NoError(t, pool.Acquire(context.Background(), "a"))
	require.NoError(t, pool.Acquire(context.Background(), "planner"))

	stats := pool.GetStats()
	assert.Equal(t, KindStats{Kind: "a", Current: 1, Max: 4}, stats["a"])
	assert.Equal(t, KindStats{Kind: "b", Current: 0, Max: 0}, stats["b"])
	assert.Equal(t, KindStats{Kind: "planner", Current: 1, Max: 0}, stats["planner"], "running unlimited kinds are reported too")

	pool.Release("a")
	assert.Equal(t, 0, current(pool, "a"))
}
