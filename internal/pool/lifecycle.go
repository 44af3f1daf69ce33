package pool

import (
	"context"
	"math/rand"
	"time"
)

// LifecycleConfig tunes the background channel refresh. Zero
// values fall back to the documented defaults.
type LifecycleConfig struct {
	// MinAge/MaxAge bound the jittered interval between a channel's dial
	// and its scheduled refresh. Defaults: 2100s / 2700s.
	MinAge, MaxAge time.Duration
	// Grace bounds how long Manager waits for a replaced channel's
	// in-flight count to reach zero before force-closing it. Default: 600s.
	Grace time.Duration
}

func (c LifecycleConfig) withDefaults() LifecycleConfig {
	if c.MinAge <= 0 {
		c.MinAge = 2100 * time.Second
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 2700 * time.Second
	}
	if c.Grace <= 0 {
		c.Grace = 600 * time.Second
	}
	return c
}

func (c LifecycleConfig) jitteredAge() time.Duration {
	span := c.MaxAge - c.MinAge
	if span <= 0 {
		return c.MinAge
	}
	return c.MinAge + time.Duration(rand.Int63n(int64(span)))
}

// Manager runs the Channel Lifecycle Manager: it periodically refreshes
// each pool slot on its own jittered schedule (so slots don't all expire in
// lockstep) and waits out a grace period before closing the replaced
// channel, the way an AgentMonitor.Run drives a ticker loop against a
// background context.
type Manager struct {
	pool   *Pool
	dial   func() (Channel, error)
	config LifecycleConfig
}

// NewManager builds a Manager for pool, dialing fresh channels with dial.
func NewManager(p *Pool, dial func() (Channel, error), cfg LifecycleConfig) *Manager {
	return &Manager{pool: p, dial: dial, config: cfg.withDefaults()}
}

// Run starts one refresh goroutine per slot; all exit when ctx is
// cancelled. PreWarm, if non-nil, is called against each freshly dialed
// channel's stub before it is installed.
func (m *Manager) Run(ctx context.Context, preWarm func(stub any)) {
	for i := range m.pool.slots {
		go m.runSlot(ctx, i, preWarm)
	}
}

func (m *Manager) runSlot(ctx context.Context, index int, preWarm func(stub any)) {
	for {
		timer := time.NewTimer(m.config.jitteredAge())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		old, err := m.pool.Replace(index, func() (Channel, error) {
			ch, err := m.dial()
			if err != nil {
				return nil, err
			}
			if preWarm != nil {
				preWarm(m.pool.factory(ch))
			}
			return ch, nil
		})
		if err != nil || old == nil {
			continue
		}
		m.graceClose(ctx, old)
	}
}

// graceClose closes old once its observed in-flight count hits zero, or
// once the grace period elapses, whichever comes first.
func (m *Manager) graceClose(ctx context.Context, old *replaced) {
	deadline := time.NewTimer(m.config.Grace)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			old.Close()
			return
		case <-deadline.C:
			old.Close()
			return
		case <-poll.C:
			if old.InFlight() == 0 {
				old.Close()
				return
			}
		}
	}
}
