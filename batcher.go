package tablestore

import (
	"context"
	"time"

	"github.com/coldriver/tablestore/internal/batcher"
)

// BatcherOption configures a Batcher at construction time.
type BatcherOption func(*batcher.Config)

// WithFlushInterval sets the background flush period (default 1s).
func WithFlushInterval(d time.Duration) BatcherOption {
	return func(c *batcher.Config) { c.FlushEvery = d }
}

// WithFlushAtCount sets the entry-count flush trigger (default 100).
func WithFlushAtCount(n int) BatcherOption {
	return func(c *batcher.Config) { c.FlushAtCount = n }
}

// WithFlushAtBytes sets the buffered-byte flush trigger (disabled by default).
func WithFlushAtBytes(n int) BatcherOption {
	return func(c *batcher.Config) { c.FlushAtBytes = n }
}

// WithMaxInflight bounds the Flow Controller's admission budget: at most
// maxEntries outstanding entries and maxBytes outstanding bytes across all
// in-flight sub-batches.
func WithMaxInflight(maxEntries, maxBytes int64) BatcherOption {
	return func(c *batcher.Config) { c.MaxInflightEntries, c.MaxInflightBytes = maxEntries, maxBytes }
}

// WithMaxBuffered bounds how many entries/bytes Append may hold in the
// buffered-but-not-yet-flushed state before it suspends the caller
// (default 10x FlushAtCount / 10x FlushAtBytes).
func WithMaxBuffered(maxEntries, maxBytes int64) BatcherOption {
	return func(c *batcher.Config) { c.MaxBufferedEntries, c.MaxBufferedBytes = maxEntries, maxBytes }
}

// WithMaxInflightFlushes bounds how many sub-batch flushes run concurrently
// (default 4).
func WithMaxInflightFlushes(n int) BatcherOption {
	return func(c *batcher.Config) { c.MaxInflightFlushes = n }
}

// WithErrorQueueCap bounds the terminal-failure FIFO queue (default 100).
func WithErrorQueueCap(n int) BatcherOption {
	return func(c *batcher.Config) { c.ErrorQueueCap = n }
}

// Batcher is a background-flushing, bounded append-only sink for mutations
// against a single table. Construct with Table.NewBatcher.
type Batcher struct {
	inner       *batcher.Batcher
	deadlineErr error // set at construction if t's deadlines were misconfigured
}

// NewBatcher builds a Batcher bound to t, applying t's operation/attempt
// timeouts and mutate retryable set unless overridden by opts.
func (t *Table) NewBatcher(opts ...BatcherOption) *Batcher {
	cfg := batcher.Config{
		TableName:        t.name,
		AppProfileID:     t.appProfileID,
		OperationTimeout: t.operationTimeout,
		AttemptTimeout:   t.attemptTimeout,
		Classify:         classifyMutate(t.mutateRetryableSet),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Batcher{inner: batcher.New(t.client.stub(), cfg), deadlineErr: t.checkDeadlines()}
}

// Append enqueues entry; once the buffer reaches a configured trigger it
// signals the background flusher rather than flushing synchronously.
func (b *Batcher) Append(ctx context.Context, entry MutationEntry) error {
	if b.deadlineErr != nil {
		return b.deadlineErr
	}
	return b.inner.Append(ctx, batcher.NewEntry(entry.RowKey, entry.wireMutations(), entry.IsIdempotent(), entry.ByteSize()))
}

// Flush submits the current buffer and waits for it to terminate.
func (b *Batcher) Flush(ctx context.Context) error { return b.inner.Flush(ctx) }

// Close flushes remaining entries, waits for in-flight work, then refuses
// further Appends.
func (b *Batcher) Close(ctx context.Context) error { return b.inner.Close(ctx) }

// Errors returns a snapshot of entries that failed terminally, bounded by
// the configured error-queue cap.
func (b *Batcher) Errors() []TerminalFailure {
	raw := b.inner.Errors()
	out := make([]TerminalFailure, len(raw))
	for i, f := range raw {
		out[i] = TerminalFailure{RowKey: f.Entry.RowKey, Err: f.Err}
	}
	return out
}

// TerminalFailure is one entry's terminal error as reported by Errors.
type TerminalFailure struct {
	RowKey []byte
	Err    error
}

// Stats reports a point-in-time snapshot of the batcher's internal state.
func (b *Batcher) Stats() Stats {
	s := b.inner.Stats()
	return Stats{
		Buffered:     s.Buffered,
		ErrorsQueued: s.ErrorsQueued,
		TotalFlushed: s.TotalFlushed,
		TotalFailed:  s.TotalFailed,
	}
}

// Stats is a snapshot of a Batcher's internal counters.
type Stats struct {
	Buffered     int
	ErrorsQueued int
	TotalFlushed int64
	TotalFailed  int64
}
