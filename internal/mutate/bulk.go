// Package mutate implements the Bulk Mutation Driver: per-entry
// live/terminal state tracked across attempts, idempotency-gated retry, and
// exactly-once terminal callbacks. Grounded on the same hand-driven retry
// shape as internal/readdriver (itself in the style of a DoltStore.withRetry
// loop), generalized from a single operation to N independently-terminating
// entries per attempt.
package mutate

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coldriver/tablestore/internal/metrics"
	"github.com/coldriver/tablestore/internal/retry"
	"github.com/coldriver/tablestore/internal/rpc"
)

// Entry is one row's mutations as the driver sees it.
type Entry struct {
	RowKey      []byte
	Mutations   []rpc.Mutation
	Idempotent  bool
}

// RetryKind mirrors readdriver.RetryKind — kept as its own type so this
// package has no dependency on the root package's error taxonomy.
type RetryKind int

const (
	RetryNone RetryKind = iota
	RetryTransient
	RetryRateLimit
)

// Classifier turns a terminal cause into a RetryKind plus whether it is
// retryable under the caller's retryable set.
type Classifier func(err error) (kind RetryKind, retryable bool)

// Outcome is one entry's final disposition.
type Outcome struct {
	Index int
	Err   error // nil on success; otherwise the terminal cause
}

// OnTerminal is invoked exactly once per entry, when it leaves the live
// set.
type OnTerminal func(index int, entry Entry, err error)

// Driver runs one bulk-mutation operation end to end.
type Driver struct {
	Stub     rpc.Stub
	Classify Classifier

	// Recorder, if non-nil, observes the operation's attempt lifecycle.
	Recorder *metrics.Recorder
}

// Run submits entries, retrying idempotent survivors until every entry
// terminates or the operation deadline elapses. It returns one Outcome per
// input entry, in input order.
func (d *Driver) Run(ctx context.Context, tableName, appProfileID string, entries []Entry, deadlines retry.Deadlines, bo backoff.BackOff, onTerminal OnTerminal) (outcomes []Outcome) {
	if d.Recorder != nil {
		defer func() {
			status := "ok"
			for _, o := range outcomes {
				if o.Err != nil {
					status = "error"
					break
				}
			}
			d.Recorder.End(status)
		}()
	}

	live := make([]*Entry, len(entries))
	for i := range entries {
		e := entries[i]
		live[i] = &e
	}
	errs := make([][]error, len(entries))
	outcomes = make([]Outcome, len(entries))
	done := make([]bool, len(entries))

	finalize := func(i int, err error) {
		if done[i] {
			return
		}
		done[i] = true
		live[i] = nil
		outcomes[i] = Outcome{Index: i, Err: err}
		if onTerminal != nil {
			onTerminal(i, entries[i], err)
		}
	}

	for {
		if allDone(done) {
			return outcomes
		}
		if deadlines.Expired() {
			cause := &DeadlineExceededError{}
			for i, e := range live {
				if e != nil {
					finalize(i, cause)
				}
			}
			return outcomes
		}

		if d.Recorder != nil {
			d.Recorder.StartAttempt()
		}
		attemptCtx, cancel := deadlines.AttemptContext(ctx)
		incomplete := d.runAttempt(attemptCtx, tableName, appProfileID, live, errs, finalize)
		cancel()
		if d.Recorder != nil {
			status := "ok"
			if incomplete != nil {
				status = "error"
			}
			d.Recorder.EndAttempt(status)
		}

		if incomplete == nil {
			// incomplete is nil only when no entry is left live: every
			// entry of the attempt was resolved via finalize. A
			// whole-attempt error always comes back as a non-nil outcome.
			continue
		}
		if !incomplete.retry {
			for i, e := range live {
				if e != nil {
					finalize(i, incomplete.err)
				}
			}
			return outcomes
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-ctx.Done():
			for i, e := range live {
				if e != nil {
					finalize(i, ctx.Err())
				}
			}
			timer.Stop()
			return outcomes
		case <-timer.C:
		}
	}
}

func allDone(done []bool) bool {
	for _, d := range done {
		if !d {
			return false
		}
	}
	return true
}

type attemptOutcome struct {
	retry bool
	err   error
}

// runAttempt sends one sub-request covering every currently-live entry and
// applies the per-attempt algorithm. It returns nil when no entry is left
// live after the attempt, or a non-nil *attemptOutcome when at least one
// entry is still live or the attempt ended in a whole-attempt error; the
// outcome's retry flag tells the caller whether to retry the operation.
func (d *Driver) runAttempt(ctx context.Context, tableName, appProfileID string, live []*Entry, errs [][]error, finalize func(int, error)) *attemptOutcome {
	var subEntries []rpc.MutateRowsEntry
	subToGlobal := map[int]int{}
	for i, e := range live {
		if e == nil {
			continue
		}
		subToGlobal[len(subEntries)] = i
		subEntries = append(subEntries, rpc.MutateRowsEntry{SubIndex: len(subEntries), RowKey: e.RowKey, Mutations: e.Mutations})
	}
	if len(subEntries) == 0 {
		return nil
	}

	call, err := d.Stub.MutateRows(ctx, &rpc.MutateRowsRequest{TableName: tableName, AppProfileID: appProfileID, Entries: subEntries})
	if err != nil {
		return d.applyWholeAttemptError(live, errs, err, finalize)
	}

	for {
		results, err := call.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return d.applyWholeAttemptError(live, errs, err, finalize)
		}
		for _, r := range results {
			gi, ok := subToGlobal[r.SubIndex]
			if !ok {
				continue
			}
			d.applyEntryResult(gi, live, errs, r, finalize)
		}
	}

	if d.Recorder != nil {
		trailer := call.Trailer()
		clusterID, zoneID := metrics.ParseResponseParams(trailer.ResponseParams)
		d.Recorder.RecordMetadata(clusterID, zoneID)
		d.Recorder.ObserveServerTiming(trailer.ServerTiming)
	}

	stillLive := false
	for _, e := range live {
		if e != nil {
			stillLive = true
			break
		}
	}
	if !stillLive {
		return nil
	}
	return &attemptOutcome{retry: true}
}

func (d *Driver) applyEntryResult(gi int, live []*Entry, errs [][]error, r rpc.MutateRowsResult, finalize func(int, error)) {
	if r.Code == rpc.CodeOK {
		errs[gi] = nil
		finalize(gi, nil)
		return
	}
	cause := &EntryRPCError{Code: r.Code, Message: r.Message}
	kind, retryable := d.Classify(cause)
	_ = kind
	if retryable && live[gi].Idempotent {
		errs[gi] = append(errs[gi], cause)
		return
	}
	errs[gi] = append(errs[gi], cause)
	finalize(gi, latestErr(errs[gi]))
}

// applyWholeAttemptError handles an error covering the entire attempt (as
// opposed to a per-entry result): on a retryable whole-attempt error,
// idempotent live entries observe it and stay live;
// non-idempotent live entries terminate immediately with it. On a
// non-retryable whole-attempt error, every live entry terminates with it.
func (d *Driver) applyWholeAttemptError(live []*Entry, errs [][]error, err error, finalize func(int, error)) *attemptOutcome {
	kind, retryable := d.Classify(err)
	_ = kind

	if !retryable {
		for i, e := range live {
			if e != nil {
				finalize(i, err)
			}
		}
		return &attemptOutcome{retry: false, err: err}
	}

	anyIdempotentLive := false
	for i, e := range live {
		if e == nil {
			continue
		}
		if e.Idempotent {
			errs[i] = append(errs[i], err)
			anyIdempotentLive = true
		} else {
			finalize(i, err)
		}
	}
	if !anyIdempotentLive {
		return &attemptOutcome{retry: false, err: err}
	}
	return &attemptOutcome{retry: true}
}

func latestErr(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[len(errs)-1]
}

// DeadlineExceededError is the terminal cause applied to every still-live
// entry once the operation deadline elapses.
type DeadlineExceededError struct{}

func (*DeadlineExceededError) Error() string { return "mutate: operation deadline exceeded" }

// EntryRPCError is the terminal cause for a single entry's server-reported
// failure.
type EntryRPCError struct {
	Code    rpc.Code
	Message string
}

func (e *EntryRPCError) Error() string { return e.Message }
