// Package batcher implements the Mutation Batcher: a
// background-flushing, bounded append-only sink over the Flow Controller
// and Bulk Mutation Driver. Grounded on an attach.go-style use of
// sync.WaitGroup to join concurrent sub-tasks, generalized here to join
// concurrent sub-batch flushes via golang.org/x/sync/errgroup so a failing
// sub-batch doesn't abandon its siblings mid-flush.
package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coldriver/tablestore/internal/flowcontrol"
	"github.com/coldriver/tablestore/internal/mutate"
	"github.com/coldriver/tablestore/internal/retry"
	"github.com/coldriver/tablestore/internal/rpc"
)

// Entry is one row's worth of mutations as the batcher sees it.
type Entry struct {
	RowKey     []byte
	Mutations  []rpc.Mutation
	Idempotent bool
	bytes      int
}

// ByteSize satisfies flowcontrol.Entry.
func (e Entry) ByteSize() int { return e.bytes }

// NewEntry builds an Entry, precomputing its byte size for the flow
// controller's budget.
func NewEntry(rowKey []byte, muts []rpc.Mutation, idempotent bool, byteSize int) Entry {
	return Entry{RowKey: rowKey, Mutations: muts, Idempotent: idempotent, bytes: byteSize}
}

// Config tunes a Batcher.
type Config struct {
	FlushEvery         time.Duration
	FlushAtCount       int
	FlushAtBytes       int
	MaxInflightEntries int64
	MaxInflightBytes   int64
	MaxInflightFlushes int // bounded concurrency for sub-batch dispatch

	// MaxBufferedEntries/MaxBufferedBytes bound the buffered-but-not-yet-
	// flushed state: Append suspends once either is reached, until a flush
	// frees capacity. <= 0 means unbounded on that axis.
	MaxBufferedEntries int64
	MaxBufferedBytes   int64

	TableName        string
	AppProfileID     string
	OperationTimeout time.Duration
	AttemptTimeout   time.Duration
	Classify         mutate.Classifier

	// ErrorQueueCap bounds the errors queue.
	ErrorQueueCap int
}

func (c Config) withDefaults() Config {
	if c.FlushEvery <= 0 {
		c.FlushEvery = time.Second
	}
	if c.FlushAtCount <= 0 {
		c.FlushAtCount = 100
	}
	if c.MaxInflightFlushes <= 0 {
		c.MaxInflightFlushes = 4
	}
	if c.ErrorQueueCap <= 0 {
		c.ErrorQueueCap = 100
	}
	if c.MaxBufferedEntries <= 0 {
		c.MaxBufferedEntries = int64(c.FlushAtCount) * 10
	}
	if c.MaxBufferedBytes <= 0 && c.FlushAtBytes > 0 {
		c.MaxBufferedBytes = int64(c.FlushAtBytes) * 10
	}
	return c
}

// TerminalFailure is one entry's terminal error, recorded into the errors
// queue for inspection.
type TerminalFailure struct {
	Entry Entry
	Err   error
}

// Stats is a point-in-time observability snapshot of buffer depth,
// error-queue depth, and flush totals. InflightBatch is not populated by
// Stats and is always 0.
type Stats struct {
	Buffered      int
	InflightBatch int
	ErrorsQueued  int
	TotalFlushed  int64
	TotalFailed   int64
}

// Batcher is a user-facing append-only sink that turns a stream of entries
// into periodic bulk submissions. FlushAtCount, FlushAtBytes, and
// FlushEvery can be re-armed live via ApplyThresholds — every other
// Config field is fixed for the Batcher's lifetime.
type Batcher struct {
	cfg  Config
	stub      rpc.Stub
	flow      *flowcontrol.Controller
	bufBudget *flowcontrol.Controller // bounds the buffered-but-unflushed state

	flushAtCount atomic.Int64
	flushAtBytes atomic.Int64
	flushEvery   atomic.Int64 // time.Duration, nanoseconds

	mu       sync.Mutex
	buf      []Entry
	bufBytes int
	closed   bool
	errs     []TerminalFailure

	totalFlushed int64
	totalFailed  int64

	flushSignal   chan struct{}
	resetTicker   chan time.Duration
	closeOnce     sync.Once
	stopTicker    context.CancelFunc
	wg            sync.WaitGroup
}

// New builds a Batcher. stub is the transport the Bulk Mutation Driver
// submits through.
func New(stub rpc.Stub, cfg Config) *Batcher {
	cfg = cfg.withDefaults()
	b := &Batcher{
		cfg:         cfg,
		stub:        stub,
		flow:        flowcontrol.New(cfg.MaxInflightEntries, cfg.MaxInflightBytes),
		bufBudget:   flowcontrol.New(cfg.MaxBufferedEntries, cfg.MaxBufferedBytes),
		flushSignal: make(chan struct{}, 1),
		resetTicker: make(chan time.Duration, 1),
	}
	b.flushAtCount.Store(int64(cfg.FlushAtCount))
	b.flushAtBytes.Store(int64(cfg.FlushAtBytes))
	b.flushEvery.Store(int64(cfg.FlushEvery))

	ctx, cancel := context.WithCancel(context.Background())
	b.stopTicker = cancel
	b.wg.Add(1)
	go b.backgroundFlusher(ctx)
	return b
}

// ApplyThresholds re-arms the buffer's count/byte flush triggers and the
// background flush interval without restarting the Batcher. A zero value
// leaves the corresponding threshold unchanged; pass the current value
// (from Thresholds) to leave a field alone explicitly.
func (b *Batcher) ApplyThresholds(flushAtCount, flushAtBytes int, flushEvery time.Duration) {
	if flushAtCount > 0 {
		b.flushAtCount.Store(int64(flushAtCount))
	}
	if flushAtBytes > 0 {
		b.flushAtBytes.Store(int64(flushAtBytes))
	}
	if flushEvery > 0 {
		b.flushEvery.Store(int64(flushEvery))
		select {
		case b.resetTicker <- flushEvery:
		default:
		}
	}
}

// Thresholds returns the Batcher's current live flush triggers.
func (b *Batcher) Thresholds() (flushAtCount, flushAtBytes int, flushEvery time.Duration) {
	return int(b.flushAtCount.Load()), int(b.flushAtBytes.Load()), time.Duration(b.flushEvery.Load())
}

// ErrBatcherClosed is returned by Append after Close.
type ErrBatcherClosed struct{}

func (*ErrBatcherClosed) Error() string { return "batcher: closed" }

// ErrEntryTooLarge is returned by Append when entry alone exceeds the hard
// byte cap.
type ErrEntryTooLarge struct{ Size, Cap int }

func (e *ErrEntryTooLarge) Error() string { return "batcher: entry exceeds hard byte cap" }

// hardByteCap is the absolute per-entry ceiling Append enforces, distinct
// from FlushAtBytes (a soft flush trigger). It is 8x the current
// FlushAtBytes when that is set, and 16 MiB when FlushAtBytes is unset,
// mirroring the generous slack the legacy Bigtable client leaves between
// its flush threshold and its hard per-request cap.
func (b *Batcher) hardByteCap() int {
	if n := int(b.flushAtBytes.Load()); n > 0 {
		return n * 8
	}
	return 1 << 24
}

// Append adds entry to the buffer and, if the buffer has reached its
// count/byte trigger, signals the background flusher; it does not flush
// synchronously. It suspends (respecting
// ctx) while the buffered-but-not-yet-flushed state is at its configured
// capacity, until a flush frees room.
func (b *Batcher) Append(ctx context.Context, e Entry) error {
	if e.bytes > b.hardByteCap() {
		return &ErrEntryTooLarge{Size: e.bytes, Cap: b.hardByteCap()}
	}

	err := b.bufBudget.Admit(ctx, []flowcontrol.Entry{e}, func(admitted []flowcontrol.Entry) error {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return &ErrBatcherClosed{}
		}
		b.buf = append(b.buf, e)
		b.bufBytes += e.bytes
		b.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	atCount, atBytes := int(b.flushAtCount.Load()), int(b.flushAtBytes.Load())
	trigger := (atCount > 0 && len(b.buf) >= atCount) || (atBytes > 0 && b.bufBytes >= atBytes)
	b.mu.Unlock()

	if trigger {
		select {
		case b.flushSignal <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush moves the current buffer into an in-flight flush and waits for it
// to complete. Concurrent Appends are not blocked while the flush runs.
func (b *Batcher) Flush(ctx context.Context) error {
	batch := b.takeBuffer()
	if len(batch) == 0 {
		return nil
	}
	return b.submit(ctx, batch)
}

func (b *Batcher) takeBuffer() []Entry {
	b.mu.Lock()
	batch := b.buf
	b.buf = nil
	b.bufBytes = 0
	b.mu.Unlock()

	if len(batch) > 0 {
		freed := make([]flowcontrol.Entry, len(batch))
		for i, e := range batch {
			freed[i] = e
		}
		b.bufBudget.Release(freed)
	}
	return batch
}

// Close flushes remaining entries, waits for in-flight work, then refuses
// further Appends.
func (b *Batcher) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		err = b.Flush(ctx)
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		b.stopTicker()
		b.wg.Wait()
	})
	return err
}

// Errors returns a snapshot of the bounded FIFO terminal-failure queue.
func (b *Batcher) Errors() []TerminalFailure {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TerminalFailure, len(b.errs))
	copy(out, b.errs)
	return out
}

// Stats reports a point-in-time snapshot of the batcher's internal state.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Buffered:     len(b.buf),
		ErrorsQueued: len(b.errs),
		TotalFlushed: b.totalFlushed,
		TotalFailed:  b.totalFailed,
	}
}

func (b *Batcher) recordFailure(f TerminalFailure) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, f)
	if len(b.errs) > b.cfg.ErrorQueueCap {
		b.errs = b.errs[len(b.errs)-b.cfg.ErrorQueueCap:]
	}
	b.totalFailed++
}

// submit runs the flush pipeline: Flow Controller partitions batch into
// admitted sub-batches, each dispatched via the Bulk Mutation Driver
// concurrently up to MaxInflightFlushes.
func (b *Batcher) submit(ctx context.Context, batch []Entry) error {
	flowEntries := make([]flowcontrol.Entry, len(batch))
	for i, e := range batch {
		flowEntries[i] = e
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.MaxInflightFlushes)

	err := b.flow.Admit(ctx, flowEntries, func(admitted []flowcontrol.Entry) error {
		sub := make([]Entry, len(admitted))
		for i, fe := range admitted {
			sub[i] = fe.(Entry)
		}
		g.Go(func() error {
			defer b.flow.Release(admitted)
			b.dispatch(gctx, sub)
			return nil
		})
		return nil
	})
	waitErr := g.Wait()
	if err != nil {
		return err
	}
	return waitErr
}

func (b *Batcher) dispatch(ctx context.Context, sub []Entry) {
	entries := make([]mutate.Entry, len(sub))
	for i, e := range sub {
		entries[i] = mutate.Entry{RowKey: e.RowKey, Mutations: e.Mutations, Idempotent: e.Idempotent}
	}

	driver := &mutate.Driver{Stub: b.stub, Classify: b.cfg.Classify}
	deadlines := retry.NewDeadlines(b.cfg.OperationTimeout, b.cfg.AttemptTimeout)
	bo := retry.NewFullJitter()

	outcomes := driver.Run(ctx, b.cfg.TableName, b.cfg.AppProfileID, entries, deadlines, bo, nil)
	for _, o := range outcomes {
		if o.Err != nil {
			b.recordFailure(TerminalFailure{Entry: sub[o.Index], Err: o.Err})
		} else {
			b.mu.Lock()
			b.totalFlushed++
			b.mu.Unlock()
		}
	}
}

// backgroundFlusher fires a flush on FlushEvery, or immediately when Append
// signals a count/byte trigger. ApplyThresholds can retune the interval
// live via resetTicker.
func (b *Batcher) backgroundFlusher(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(time.Duration(b.flushEvery.Load()))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-b.resetTicker:
			ticker.Reset(d)
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.flushSignal:
			b.Flush(ctx)
		}
	}
}
