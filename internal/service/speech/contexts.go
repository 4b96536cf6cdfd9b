package speech

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zhouzirui/z-voice/backend/internal/metrics"
)

// DefaultMaxContexts is Murf's concurrent context limit per API key.
const DefaultMaxContexts = 5

// ContextLimiter caps the number of live synthesis contexts process-wide.
type ContextLimiter struct {
	sem     *semaphore.Weighted
	max     int
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]time.Time
}

// NewContextLimiter 创建上下文限流器。
func NewContextLimiter(max int, m *metrics.Metrics) *ContextLimiter {
	if max <= 0 {
		max = DefaultMaxContexts
	}
	return &ContextLimiter{
		sem:     semaphore.NewWeighted(int64(max)),
		max:     max,
		metrics: m,
		active:  make(map[string]time.Time),
	}
}

// Acquire blocks until a context slot is free or ctx ends. The returned
// release func must be called exactly once; extra calls are ignored.
func (l *ContextLimiter) Acquire(ctx context.Context, contextID string) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a synthesis context slot: %w", err)
	}

	l.mu.Lock()
	l.active[contextID] = time.Now()
	l.mu.Unlock()
	l.metrics.ContextOpened()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.active, contextID)
			l.mu.Unlock()
			l.metrics.ContextClosed()
			l.sem.Release(1)
		})
	}, nil
}

// Active lists live context ids.
func (l *ContextLimiter) Active() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Max returns the configured cap.
func (l *ContextLimiter) Max() int {
	return l.max
}
