package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerRefreshesSlotOnSchedule(t *testing.T) {
	p, err := New(1, identityFactory, dialFake)
	require.NoError(t, err)

	before, beforeLease := p.Next()
	p.Release(beforeLease)

	m := NewManager(p, dialFake, LifecycleConfig{MinAge: time.Millisecond, MaxAge: 2 * time.Millisecond, Grace: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx, nil)

	require.Eventually(t, func() bool {
		after, _ := p.Next()
		return after != before
	}, time.Second, time.Millisecond)
}

func TestManagerPreWarmsReplacementBeforeInstall(t *testing.T) {
	p, err := New(1, identityFactory, dialFake)
	require.NoError(t, err)

	var preWarmed atomic.Int64
	m := NewManager(p, dialFake, LifecycleConfig{MinAge: time.Millisecond, MaxAge: 2 * time.Millisecond, Grace: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Run(ctx, func(stub any) { preWarmed.Add(1) })

	require.Eventually(t, func() bool { return preWarmed.Load() > 0 }, time.Second, time.Millisecond)
}

func TestGraceCloseForceClosesAfterGraceElapsesWithLeaseOutstanding(t *testing.T) {
	p, err := New(1, identityFactory, dialFake)
	require.NoError(t, err)

	_, lease := p.Next() // held for the whole test; the slot never reaches zero in-flight
	defer p.Release(lease)

	m := NewManager(p, dialFake, LifecycleConfig{MinAge: time.Millisecond, MaxAge: 2 * time.Millisecond, Grace: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old, err := p.Replace(0, dialFake)
	require.NoError(t, err)
	require.NotNil(t, old)

	fc := old.ch.(*fakeChannel)
	require.False(t, fc.closed)

	m.graceClose(ctx, old)
	require.True(t, fc.closed, "graceClose must force-close once the grace period elapses")
}
