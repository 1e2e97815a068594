package inject

import (
	"context"
	"sync"

	"github.com/lawnbot/motioncore/faults"
)

// Persister records persistence requests in the order they were made.
type Persister struct {
	mu       sync.Mutex
	Order    []string
	Counters []map[faults.Kind]int

	SaveErrorCountersFunc func(ctx context.Context, counters map[faults.Kind]int) error
	SaveStatsFunc         func(ctx context.Context) error
}

// SaveErrorCounters records the counters.
func (p *Persister) SaveErrorCounters(ctx context.Context, counters map[faults.Kind]int) error {
	p.mu.Lock()
	p.Order = append(p.Order, "counters")
	p.Counters = append(p.Counters, counters)
	p.mu.Unlock()
	if p.SaveErrorCountersFunc == nil {
		return nil
	}
	return p.SaveErrorCountersFunc(ctx, counters)
}

// SaveStats records the call.
func (p *Persister) SaveStats(ctx context.Context) error {
	p.mu.Lock()
	p.Order = append(p.Order, "stats")
	p.mu.Unlock()
	if p.SaveStatsFunc == nil {
		return nil
	}
	return p.SaveStatsFunc(ctx)
}

// Calls returns the recorded call order.
func (p *Persister) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Order...)
}
