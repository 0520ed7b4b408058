package dispatcher

import (
	"context"
	"fmt"
	"sync"
)

// WorkerPool manages per-kind concurrency limits
// It tracks how many workers of each kind run at once; a limit of 0 means unlimited
type WorkerPool struct {
	maxPerKind map[string]int // kind -> max concurrent workers allowed
	current    map[string]int // kind -> current number of running workers
	changed    chan struct{}  // closed and replaced on every release
	mu         sync.Mutex
}

// NewWorkerPool creates a pool with the given limits
func NewWorkerPool(limits map[string]int) *WorkerPool {
	pool := &WorkerPool{
		maxPerKind: make(map[string]int),
		current:    make(map[string]int),
		changed:    make(chan struct{}),
	}

	// Copy config to avoid external modifications
	for kind, max := range limits {
		pool.maxPerKind[kind] = max
	}

	return pool
}

// Acquire blocks until a slot for kind is free or ctx is done
func (p *WorkerPool) Acquire(ctx context.Context, kind string) error {
	for {
		p.mu.Lock()
		if p.available(kind) {
			p.current[kind]++
			p.mu.Unlock()
			return nil
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s slot: %w", kind, ctx.Err())
		}
	}
}

// Release releases a slot for the specified kind
func (p *WorkerPool) Release(kind string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current[kind] > 0 {
		p.current[kind]--
	}
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *WorkerPool) available(kind string) bool {
	max := p.maxPerKind[kind]
	return max <= 0 || p.current[kind] < max
}

// GetMax returns the limit of a kind; 0 means unlimited
func (p *WorkerPool) GetMax(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.maxPerKind[kind]
}

// GetStats returns usage for every configured or currently running kind
func (p *WorkerPool) GetStats() map[string]KindStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]KindStats)
	for kind, max := range p.maxPerKind {
		stats[kind] = KindStats{Kind: kind, Current: p.current[kind], Max: max}
	}
	for kind, n := range p.current {
		if _, ok := stats[kind]; !ok {
			stats[kind] = KindStats{Kind: kind, Current: n}
		}
	}

	return stats
}

// KindStats represents usage statistics for a single worker kind
type KindStats struct {
	Kind    string `json:"kind"`
	Current int    `json:"current"`
	Max     int    `json:"max"`
}
