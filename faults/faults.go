// Package faults tallies detected anomalies and implements the odometry plausibility monitor.
package faults

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Kind identifies a fault counter.
type Kind int

// Fault kinds.
const (
	BatteryLow Kind = iota
	TrackingLost
	OdometryLeft
	OdometryRight
	MowSense
	MotorStuck
)

// Kinds lists every fault kind in counter order.
var Kinds = []Kind{BatteryLow, TrackingLost, OdometryLeft, OdometryRight, MowSense, MotorStuck}

func (k Kind) String() string {
	switch k {
	case BatteryLow:
		return "battery_low"
	case TrackingLost:
		return "tracking_lost"
	case OdometryLeft:
		return "odometry_left"
	case OdometryRight:
		return "odometry_right"
	case MowSense:
		return "mow_sense"
	case MotorStuck:
		return "motor_stuck"
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// Persister stores counters and usage statistics across power cycles.
type Persister interface {
	SaveErrorCounters(ctx context.Context, counters map[Kind]int) error
	SaveStats(ctx context.Context) error
}

// Counters is the per-kind fault tally of a session. Counts only grow until Reset.
type Counters struct {
	mu     sync.Mutex
	counts map[Kind]int
}

// NewCounters returns an empty tally.
func NewCounters() *Counters {
	return &Counters{counts: map[Kind]int{}}
}

// Add increments the counter of kind and returns the new count.
func (c *Counters) Add(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[kind]++
	return c.counts[kind]
}

// Count returns the counter of kind.
func (c *Counters) Count(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

// Snapshot returns a copy of all nonzero counters.
func (c *Counters) Snapshot() map[Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Kind]int, len(c.counts))
	for k, v := range c.counts {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// Reset clears every counter. Only an explicit operator action should call this.
func (c *Counters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = map[Kind]int{}
}

// String renders the nonzero counters in kind order.
func (c *Counters) String() string {
	snap := c.Snapshot()
	keys := make([]Kind, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	s := ""
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%s=%d", k, snap[k])
	}
	return s
}
