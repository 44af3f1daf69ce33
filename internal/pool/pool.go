// Package pool implements the Channel Pool: a fixed-size ring of
// transport channels, round-robin dispatch, and atomic single-slot
// replacement so a channel can be refreshed without disrupting callers
// mid-flight. Grounded on a coop.Client-style field/Option shape,
// generalized from one HTTP client to N pooled gRPC channels.
package pool

import (
	"sync"
	"sync/atomic"
)

// Channel is the narrow lifecycle surface the pool needs from a transport
// channel (satisfied by *grpc.ClientConn; kept as an interface so this
// package never imports grpc directly).
type Channel interface {
	Close() error
}

// StubFactory binds a Channel to a Stub-shaped value. Declared generically
// here (any in, any out) so this package stays transport-agnostic; the root
// package supplies rpc.StubFactory.
type StubFactory func(ch Channel) any

// generation is one incarnation of a slot's channel. Next()/Release() bind
// to a specific generation rather than to the slot itself, so a replaced
// channel's in-flight count keeps draining independently of calls already
// being routed to its successor.
type generation struct {
	ch        Channel
	stub      any
	inFlight  int64 // atomic
	highWater int64 // atomic
}

// slot holds the current generation for one pool position.
type slot struct {
	cur atomic.Pointer[generation]
}

// Pool is a ring of channels, normally fixed-size but resizable by a
// DynamicSizer. Every method is safe for concurrent use.
type Pool struct {
	factory StubFactory
	mu      sync.RWMutex // guards slots during Append/RemoveAtEnd
	slots   []*slot
	next    uint64 // atomic round-robin cursor
}

// New builds a Pool of size channels, each produced by dial(). A size below
// 1 is raised to 1.
func New(size int, factory StubFactory, dial func() (Channel, error)) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{factory: factory, slots: make([]*slot, size)}
	for i := range p.slots {
		ch, err := dial()
		if err != nil {
			p.Close()
			return nil, err
		}
		s := &slot{}
		s.cur.Store(&generation{ch: ch, stub: factory(ch)})
		p.slots[i] = s
	}
	return p, nil
}

// Size returns the current number of channels in the pool.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

// Lease is a handle returned by Next; callers must call Release exactly
// once with it.
type Lease struct {
	index int
	gen   *generation
}

// Next returns the stub for the next channel in round-robin order and a
// Lease to release when the call finishes.
func (p *Pool) Next() (stub any, lease Lease) {
	p.mu.RLock()
	n := atomic.AddUint64(&p.next, 1) - 1
	idx := int(n % uint64(len(p.slots)))
	s := p.slots[idx]
	p.mu.RUnlock()

	g := s.cur.Load()

	cur := atomic.AddInt64(&g.inFlight, 1)
	for {
		hw := atomic.LoadInt64(&g.highWater)
		if cur <= hw || atomic.CompareAndSwapInt64(&g.highWater, hw, cur) {
			break
		}
	}
	return g.stub, Lease{index: idx, gen: g}
}

// Release decrements the in-flight count the Lease was taken against.
func (p *Pool) Release(lease Lease) { atomic.AddInt64(&lease.gen.inFlight, -1) }

// InFlight returns the current slot's in-flight count for its live
// generation (used by callers that don't hold a specific generation
// handle, e.g. diagnostics).
func (p *Pool) InFlight(index int) int64 {
	p.mu.RLock()
	s := p.slots[index]
	p.mu.RUnlock()
	return atomic.LoadInt64(&s.cur.Load().inFlight)
}

// HighWater returns the maximum in-flight count ever observed on slot i's
// current generation.
func (p *Pool) HighWater(index int) int64 {
	p.mu.RLock()
	s := p.slots[index]
	p.mu.RUnlock()
	return atomic.LoadInt64(&s.cur.Load().highWater)
}

// replaced is the old generation returned by Replace, exposing just enough
// surface for the lifecycle manager to drain and close it.
type replaced struct {
	ch       Channel
	inFlight *int64
}

// Close closes the replaced channel; valid once, typically after InFlight
// reaches zero or a grace period elapses.
func (r *replaced) Close() error { return r.ch.Close() }

// InFlight reports calls still outstanding against the replaced generation.
func (r *replaced) InFlight() int64 { return atomic.LoadInt64(r.inFlight) }

// Replace atomically swaps slot index's channel for a freshly dialed one,
// without affecting any other slot or any Next/Release call already bound
// to the old generation. It returns a handle to the old generation so the
// caller (the lifecycle manager) can drain and close it on its own
// schedule.
func (p *Pool) Replace(index int, dial func() (Channel, error)) (old *replaced, err error) {
	p.mu.RLock()
	s := p.slots[index]
	p.mu.RUnlock()
	newCh, err := dial()
	if err != nil {
		return nil, err
	}
	newGen := &generation{ch: newCh, stub: p.factory(newCh)}
	oldGen := s.cur.Swap(newGen)
	if oldGen == nil {
		return nil, nil
	}
	return &replaced{ch: oldGen.ch, inFlight: &oldGen.inFlight}, nil
}

// AppendChannel dials one more channel and adds it to the ring. Used by a
// DynamicSizer to grow the pool under sustained load.
func (p *Pool) AppendChannel(dial func() (Channel, error)) error {
	ch, err := dial()
	if err != nil {
		return err
	}
	s := &slot{}
	s.cur.Store(&generation{ch: ch, stub: p.factory(ch)})

	p.mu.Lock()
	p.slots = append(p.slots, s)
	p.mu.Unlock()
	return nil
}

// RemoveChannelAtEnd drops the last slot in the ring and closes its
// channel, provided doing so would not shrink the pool below one channel.
// It reports whether a slot was removed.
func (p *Pool) RemoveChannelAtEnd() bool {
	p.mu.Lock()
	if len(p.slots) <= 1 {
		p.mu.Unlock()
		return false
	}
	last := p.slots[len(p.slots)-1]
	p.slots = p.slots[:len(p.slots)-1]
	p.mu.Unlock()

	if g := last.cur.Load(); g != nil && g.ch != nil {
		g.ch.Close()
	}
	return true
}

// DrainAndResetMaxActive zeroes every slot's high-water mark and returns the
// values it observed, letting a DynamicSizer make a resize decision over a
// fresh window rather than one contaminated by a past traffic spike.
func (p *Pool) DrainAndResetMaxActive() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int64, len(p.slots))
	for i, s := range p.slots {
		g := s.cur.Load()
		out[i] = atomic.SwapInt64(&g.highWater, 0)
	}
	return out
}

// Stubs returns a snapshot of every slot's current stub, in slot order.
// For callers that need to act against every channel at once rather than
// a single round-robin pick — e.g. pre-warming a newly registered instance
// on every channel already in the pool.
func (p *Pool) Stubs() []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]any, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.cur.Load().stub
	}
	return out
}

// Close closes every slot's current channel. It does not wait for
// in-flight calls to finish — callers that need a grace period should drive
// Replace per-slot during shutdown instead.
func (p *Pool) Close() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var firstErr error
	for _, s := range p.slots {
		if s == nil {
			continue
		}
		if g := s.cur.Load(); g != nil && g.ch != nil {
			if err := g.ch.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
