// Package readdriver implements the retryable streaming read:
// it drives internal/chunkreader.Assembler across repeated attempts,
// revising the outgoing request around the last-yielded row key (the
// "watermark") each time the stream breaks, and stops once the operation
// deadline or row limit is exhausted. Grounded on a DoltStore.withRetry-style
// retry loop but driven by hand instead of backoff.Retry, since each
// attempt must mutate the request and recheck two layered deadlines rather
// than simply re-run the same closure.
package readdriver

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coldriver/tablestore/internal/chunkreader"
	"github.com/coldriver/tablestore/internal/metrics"
	"github.com/coldriver/tablestore/internal/retry"
	"github.com/coldriver/tablestore/internal/rpc"
)

// Row is the driver's output unit — the same shape as the public
// tablestore.Row, but kept internal so this package has no dependency on
// the root package (it is the root package's dependency, not the reverse).
type Row struct {
	Key   []byte
	Cells []chunkreader.Cell
}

// RowSet is the minimal view of tablestore.RowSet the driver needs: wire
// conversion plus the watermark rewrite applied on each retry.
type RowSet interface {
	Keys() [][]byte
	Ranges() []rpc.RowRangeWire
	RetainAfter(watermark []byte) RowSet
	Valid() bool
}

// Params configures one read operation. TableName/AppProfileID/Filter are
// forwarded verbatim to every attempt; Rows is revised between attempts.
//
// RowLimit/HasLimit follow tablestore.Query.Limit: HasLimit false means
// unlimited; HasLimit true with RowLimit == 0 means the literal boundary
// case "read zero rows".
type Params struct {
	TableName    string
	AppProfileID string
	Filter       []byte
	Rows         RowSet
	RowLimit     int64
	HasLimit     bool
	RetryableSet map[RetryKind]bool
	Deadlines    retry.Deadlines

	// IdleTimeout, if positive, aborts an attempt that has produced no row
	// for that long. Zero disables the watchdog.
	IdleTimeout time.Duration
}

// RetryKind is the subset of classification the driver needs to decide
// whether to revise-and-retry or surface a terminal error. The root
// package's Kind enum maps onto this one-for-one; kept separate so this
// package has no dependency on root-level error types.
type RetryKind int

const (
	RetryNone RetryKind = iota
	RetryTransient
	RetryRateLimit
	RetryIdleTimeout
)

// Classifier turns a terminal stream error into a RetryKind plus whether it
// is retryable at all.
type Classifier func(err error) (kind RetryKind, retryable bool)

// Emit is called once per fully-assembled row, in order. Returning a
// non-nil error aborts the read (e.g. an early Stop() from ReadStream)
// without counting against the retry budget.
type Emit func(Row) error

// Driver runs one read operation end to end.
type Driver struct {
	Stub     rpc.Stub
	Classify Classifier

	// Recorder, if non-nil, observes the operation's attempt lifecycle.
	Recorder *metrics.Recorder
}

// Run executes the read, calling emit for each row, honoring p.RowLimit and
// the layered deadlines. bo supplies the wait between retries.
//
// It returns the list of every attempt's terminal error (empty on a clean
// single-attempt read) and the final terminal error, which is one of: nil
// (clean end of stream), errDeadline (operation deadline exceeded),
// errCallerAbort (emit returned an error), ctx.Err() (ctx ended while
// waiting out a backoff), or the last attempt's non-retryable cause.
func (d *Driver) Run(ctx context.Context, p Params, bo backoff.BackOff, emit Emit) (attempts []error, err error) {
	if d.Recorder != nil {
		defer func() {
			status := "ok"
			switch {
			case err == errCallerAbort:
				status = "aborted"
			case err != nil && IsDeadlineExceeded(err):
				status = "deadline_exceeded"
			case err != nil:
				status = "error"
			}
			d.Recorder.End(status)
		}()
	}

	if p.HasLimit && p.RowLimit == 0 {
		return nil, nil
	}

	rows := p.Rows
	limit := p.RowLimit
	var watermark []byte

	for {
		if p.Deadlines.Expired() {
			return attempts, errDeadline
		}
		if !rows.Valid() {
			return attempts, nil
		}
		if p.HasLimit && limit <= 0 {
			return attempts, nil
		}

		if d.Recorder != nil {
			d.Recorder.StartAttempt()
		}
		attemptCtx, cancel := p.Deadlines.AttemptContext(ctx)
		attemptErr := d.runAttempt(attemptCtx, p, rows, limit, &watermark, &limit, emit)
		cancel()
		if d.Recorder != nil {
			status := "ok"
			if attemptErr != nil {
				status = "error"
			}
			d.Recorder.EndAttempt(status)
		}

		if attemptErr == nil {
			return attempts, nil
		}
		if attemptErr == errCallerAbort {
			return attempts, attemptErr
		}
		attempts = append(attempts, attemptErr)

		kind, retryable := d.Classify(attemptErr)
		if !retryable || !p.RetryableSet[kind] {
			return attempts, attemptErr
		}

		rows = rows.RetainAfter(watermark)

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, ctx.Err()
		case <-timer.C:
		}
	}
}

// runAttempt drives a single ReadRows call, updating *watermark and
// *remainingLimit as rows commit so the caller can revise the next
// attempt's request.
func (d *Driver) runAttempt(ctx context.Context, p Params, rows RowSet, limit int64, watermark *[]byte, remainingLimit *int64, emit Emit) error {
	req := &rpc.ReadRowsRequest{
		TableName:    p.TableName,
		AppProfileID: p.AppProfileID,
		RowKeys:      rows.Keys(),
		RowRanges:    rows.Ranges(),
		Filter:       p.Filter,
		RowsLimit:    limit,
	}

	call, err := d.Stub.ReadRows(ctx, req)
	if err != nil {
		return err
	}

	asm := chunkreader.New(limit)
	if p.IdleTimeout <= 0 {
		err = d.drain(call, asm, watermark, remainingLimit, emit)
	} else {
		err = d.drainWithIdleTimeout(call, asm, watermark, remainingLimit, emit, p.IdleTimeout)
	}
	if d.Recorder != nil {
		trailer := call.Trailer()
		clusterID, zoneID := metrics.ParseResponseParams(trailer.ResponseParams)
		d.Recorder.RecordMetadata(clusterID, zoneID)
		d.Recorder.ObserveServerTiming(trailer.ServerTiming)
	}
	return err
}

// drain reads the stream to completion with no idle watchdog.
func (d *Driver) drain(call rpc.ReadRowsCall, asm *chunkreader.Assembler, watermark *[]byte, remainingLimit *int64, emit Emit) error {
	first := true
	for {
		resp, err := call.Recv()
		if err == io.EOF {
			return asm.Close()
		}
		if err != nil {
			return err
		}
		if first {
			if d.Recorder != nil {
				d.Recorder.AttemptFirstResponse()
			}
			first = false
		}
		if err := applyChunks(resp, asm, watermark, remainingLimit, emit); err != nil {
			return err
		}
	}
}

type recvResult struct {
	resp *rpc.ReadRowsResponse
	err  error
}

// drainWithIdleTimeout reads the stream off of a background goroutine so a
// gap with no row committed for idle can abort the attempt without waiting
// on a transport-level read to unblock. The goroutine started on the final
// iteration is left to exit on its own once the caller cancels the attempt
// context; Recv is expected to return promptly once that happens.
func (d *Driver) drainWithIdleTimeout(call rpc.ReadRowsCall, asm *chunkreader.Assembler, watermark *[]byte, remainingLimit *int64, emit Emit, idle time.Duration) error {
	results := make(chan recvResult, 1)
	startRecv := func() {
		go func() {
			resp, err := call.Recv()
			results <- recvResult{resp: resp, err: err}
		}()
	}
	startRecv()

	timer := time.NewTimer(idle)
	defer timer.Stop()

	first := true
	for {
		select {
		case <-timer.C:
			return errIdleTimeout
		case r := <-results:
			if r.err == io.EOF {
				return asm.Close()
			}
			if r.err != nil {
				return r.err
			}
			if first {
				if d.Recorder != nil {
					d.Recorder.AttemptFirstResponse()
				}
				first = false
			}
			committed := false
			rowEmit := func(row Row) error {
				committed = true
				return emit(row)
			}
			if err := applyChunks(r.resp, asm, watermark, remainingLimit, rowEmit); err != nil {
				return err
			}
			if committed {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(idle)
			}
			startRecv()
		}
	}
}

func applyChunks(resp *rpc.ReadRowsResponse, asm *chunkreader.Assembler, watermark *[]byte, remainingLimit *int64, emit Emit) error {
	for _, c := range resp.Chunks {
		row, err := asm.Process(c)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		if len(*watermark) > 0 && bytes.Compare(row.Key, *watermark) <= 0 {
			continue
		}
		*watermark = row.Key
		if *remainingLimit > 0 {
			*remainingLimit--
		}
		if emitErr := emit(Row{Key: row.Key, Cells: row.Cells}); emitErr != nil {
			return errCallerAbort
		}
	}
	// A server-sent last-scanned-row-key advances the watermark past rows
	// the server skipped (e.g. filtered out entirely) without emitting one,
	// so a retry's RetainAfter doesn't re-request them.
	if len(resp.LastScannedRowKey) > 0 {
		*watermark = resp.LastScannedRowKey
	}
	return nil
}

var errDeadline = &deadlineErr{}
var errCallerAbort = &callerAbortErr{}
var errIdleTimeout = &idleTimeoutErr{}

type deadlineErr struct{}

func (*deadlineErr) Error() string { return "readdriver: operation deadline exceeded" }

type callerAbortErr struct{}

func (*callerAbortErr) Error() string { return "readdriver: caller aborted the read" }

type idleTimeoutErr struct{}

func (*idleTimeoutErr) Error() string { return "readdriver: no row received within the idle timeout" }

// IsDeadlineExceeded reports whether err is the operation-deadline sentinel.
func IsDeadlineExceeded(err error) bool { _, ok := err.(*deadlineErr); return ok }

// IsCallerAbort reports whether err is the caller-abort sentinel.
func IsCallerAbort(err error) bool { _, ok := err.(*callerAbortErr); return ok }

// IsIdleTimeout reports whether err is the idle-timeout sentinel.
func IsIdleTimeout(err error) bool { _, ok := err.(*idleTimeoutErr); return ok }
