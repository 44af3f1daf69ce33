// Package flowcontrol implements the Flow Controller: admission
// of mutation entries bounded by both an outstanding-entry-count budget and
// an outstanding-byte budget, backed by two golang.org/x/sync/semaphore.Weighted
// instances so admit/release get cooperative suspension and FIFO wake-up
// for free instead of a hand-rolled condition variable.
package flowcontrol

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Entry is the minimal view of a mutation entry the controller needs: its
// contribution to the byte budget. The root package's MutationEntry
// satisfies this via MutationEntry.ByteSize.
type Entry interface {
	ByteSize() int
}

// Controller bounds concurrent in-flight mutation work by outstanding
// entry count and outstanding bytes.
type Controller struct {
	maxEntries int64
	maxBytes   int64
	entries    *semaphore.Weighted
	bytes      *semaphore.Weighted
}

// New builds a Controller. maxEntries/maxBytes <= 0 means unbounded on that
// axis (the semaphore is sized to 1<<62).
func New(maxEntries, maxBytes int64) *Controller {
	if maxEntries <= 0 {
		maxEntries = 1 << 62
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 62
	}
	return &Controller{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		entries:    semaphore.NewWeighted(maxEntries),
		bytes:      semaphore.NewWeighted(maxBytes),
	}
}

// Admit partitions entries into one or more disjoint sub-batches that
// together cover every input, each respecting the caps at the time it is
// yielded, and calls yield once per sub-batch. It blocks (cooperatively)
// until each sub-batch's capacity is available.
//
// A single entry whose byte size exceeds the byte cap is admitted alone —
// the cap is a soft ceiling in that degenerate case — acquired
// via semaphore.Weighted.Acquire with a weight equal to the cap itself
// rather than the oversized value, since Acquire rejects any weight larger
// than the semaphore's total.
func (c *Controller) Admit(ctx context.Context, entries []Entry, yield func(batch []Entry) error) error {
	i := 0
	for i < len(entries) {
		batch, nextI, err := c.acquireOneBatch(ctx, entries, i)
		if err != nil {
			return err
		}
		if err := yield(batch); err != nil {
			c.release(batch)
			return err
		}
		i = nextI
	}
	return nil
}

// acquireOneBatch grows a batch starting at entries[i] until adding the
// next entry would exceed either cap, then acquires both semaphores for
// the whole batch in one shot.
func (c *Controller) acquireOneBatch(ctx context.Context, entries []Entry, i int) ([]Entry, int, error) {
	first := entries[i]
	firstBytes := int64(first.ByteSize())

	if firstBytes > c.maxBytes {
		if err := c.entries.Acquire(ctx, 1); err != nil {
			return nil, i, err
		}
		if err := c.bytes.Acquire(ctx, c.maxBytes); err != nil {
			c.entries.Release(1)
			return nil, i, err
		}
		return []Entry{first}, i + 1, nil
	}

	batch := []Entry{first}
	n := int64(1)
	b := firstBytes
	j := i + 1
	for j < len(entries) {
		nb := int64(entries[j].ByteSize())
		if nb > c.maxBytes || n+1 > c.maxEntries || b+nb > c.maxBytes {
			break
		}
		batch = append(batch, entries[j])
		n++
		b += nb
		j++
	}

	if err := c.entries.Acquire(ctx, n); err != nil {
		return nil, i, err
	}
	if err := c.bytes.Acquire(ctx, b); err != nil {
		c.entries.Release(n)
		return nil, i, err
	}
	return batch, j, nil
}

// Release returns the capacity consumed by batch and wakes any waiters
// whose request now fits.
func (c *Controller) Release(batch []Entry) { c.release(batch) }

func (c *Controller) release(batch []Entry) {
	var n, b int64
	for _, e := range batch {
		n++
		eb := int64(e.ByteSize())
		if eb > c.maxBytes {
			eb = c.maxBytes
		}
		b += eb
	}
	c.entries.Release(n)
	c.bytes.Release(b)
}
