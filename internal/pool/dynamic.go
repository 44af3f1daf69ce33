package pool

import (
	"context"
	"time"
)

// DynamicSizerConfig tunes the optional dynamic-sizing policy.
type DynamicSizerConfig struct {
	Min, Max int
	// Interval between resize decisions.
	Interval time.Duration
	// GrowThreshold/ShrinkThreshold are high-water-mark fractions of a
	// single channel's assumed capacity (1.0 == fully saturated) that
	// trigger growing or shrinking the pool by one channel.
	GrowThreshold, ShrinkThreshold float64
}

func (c DynamicSizerConfig) withDefaults() DynamicSizerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Max <= 0 {
		c.Max = 10
	}
	if c.Min <= 0 {
		c.Min = 1
	}
	if c.GrowThreshold <= 0 {
		c.GrowThreshold = 0.8
	}
	if c.ShrinkThreshold <= 0 {
		c.ShrinkThreshold = 0.2
	}
	return c
}

// assumedCapacity is the per-channel concurrent-RPC count a DynamicSizer
// treats as "fully loaded" absent a better signal from the transport layer.
const assumedCapacity = 100

// DynamicSizer periodically inspects the pool's high-water marks and grows
// or shrinks the ring by one channel at a time, talking to Pool only
// through AppendChannel/RemoveChannelAtEnd/DrainAndResetMaxActive — it never
// touches slot internals directly.
type DynamicSizer struct {
	pool   *Pool
	dial   func() (Channel, error)
	config DynamicSizerConfig
}

// NewDynamicSizer builds a sizer for pool.
func NewDynamicSizer(p *Pool, dial func() (Channel, error), cfg DynamicSizerConfig) *DynamicSizer {
	return &DynamicSizer{pool: p, dial: dial, config: cfg.withDefaults()}
}

// Run evaluates the resize policy every Interval until ctx is cancelled.
func (d *DynamicSizer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.evaluate()
		}
	}
}

func (d *DynamicSizer) evaluate() {
	marks := d.pool.DrainAndResetMaxActive()
	if len(marks) == 0 {
		return
	}

	var max int64
	for _, m := range marks {
		if m > max {
			max = m
		}
	}
	load := float64(max) / float64(assumedCapacity)

	size := d.pool.Size()
	switch {
	case load >= d.config.GrowThreshold && size < d.config.Max:
		d.pool.AppendChannel(d.dial)
	case load <= d.config.ShrinkThreshold && size > d.config.Min:
		d.pool.RemoveChannelAtEnd()
	}
}
