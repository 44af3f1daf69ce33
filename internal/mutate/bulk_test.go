package mutate

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldriver/tablestore/internal/retry"
	"github.com/coldriver/tablestore/internal/rpc"
)

// fakeMutateRowsCall replays a fixed slice of results then io.EOF.
type fakeMutateRowsCall struct {
	results []rpc.MutateRowsResult
	sent    bool
	err     error
}

func (c *fakeMutateRowsCall) Recv() ([]rpc.MutateRowsResult, error) {
	if c.sent {
		return nil, io.EOF
	}
	c.sent = true
	if c.err != nil {
		return nil, c.err
	}
	return c.results, nil
}

func (c *fakeMutateRowsCall) Trailer() rpc.Trailer { return rpc.Trailer{} }

// fakeStub drives a scripted sequence of attempts; each call to MutateRows
// consumes the next scripted response.
type fakeStub struct {
	rpc.Stub
	attempts []func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error)
	calls    int
}

func (s *fakeStub) MutateRows(ctx context.Context, req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
	i := s.calls
	s.calls++
	if i >= len(s.attempts) {
		return &fakeMutateRowsCall{}, nil
	}
	return s.attempts[i](req)
}

func retryableClassifier(err error) (RetryKind, bool) {
	var rpcErr *EntryRPCError
	if errors.As(err, &rpcErr) {
		return RetryTransient, rpcErr.Code == rpc.CodeUnavailable
	}
	return RetryTransient, true // whole-attempt errors in these tests are always retryable transport errors
}

func noBackoff() *retry.FullJitter {
	return &retry.FullJitter{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond}
}

func TestDriverRunAllSucceedInOneAttempt(t *testing.T) {
	stub := &fakeStub{attempts: []func(*rpc.MutateRowsRequest) (rpc.MutateRowsCall, error){
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			return &fakeMutateRowsCall{results: []rpc.MutateRowsResult{
				{SubIndex: 0, Code: rpc.CodeOK}, {SubIndex: 1, Code: rpc.CodeOK},
			}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: retryableClassifier}
	entries := []Entry{{RowKey: []byte("a"), Idempotent: true}, {RowKey: []byte("b"), Idempotent: true}}

	outcomes := d.Run(context.Background(), "t", "p", entries, retry.NewDeadlines(0, 0), noBackoff(), nil)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}
	require.Equal(t, 1, stub.calls)
}

func TestDriverRunIdempotentEntryRetriesUntilSuccess(t *testing.T) {
	stub := &fakeStub{attempts: []func(*rpc.MutateRowsRequest) (rpc.MutateRowsCall, error){
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			require.Len(t, req.Entries, 2)
			return &fakeMutateRowsCall{results: []rpc.MutateRowsResult{
				{SubIndex: 0, Code: rpc.CodeOK},
				{SubIndex: 1, Code: rpc.CodeUnavailable, Message: "try again"},
			}}, nil
		},
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			require.Len(t, req.Entries, 1, "only the surviving entry should be resubmitted")
			return &fakeMutateRowsCall{results: []rpc.MutateRowsResult{{SubIndex: 0, Code: rpc.CodeOK}}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: retryableClassifier}
	entries := []Entry{{RowKey: []byte("a"), Idempotent: true}, {RowKey: []byte("b"), Idempotent: true}}

	outcomes := d.Run(context.Background(), "t", "p", entries, retry.NewDeadlines(0, 0), noBackoff(), nil)
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)
	require.Equal(t, 2, stub.calls)
}

func TestDriverRunNonIdempotentEntryNeverRetried(t *testing.T) {
	stub := &fakeStub{attempts: []func(*rpc.MutateRowsRequest) (rpc.MutateRowsCall, error){
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			return &fakeMutateRowsCall{results: []rpc.MutateRowsResult{
				{SubIndex: 0, Code: rpc.CodeUnavailable, Message: "try again"},
			}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: retryableClassifier}
	entries := []Entry{{RowKey: []byte("a"), Idempotent: false}}

	var terminal []int
	outcomes := d.Run(context.Background(), "t", "p", entries, retry.NewDeadlines(0, 0), noBackoff(),
		func(i int, e Entry, err error) { terminal = append(terminal, i) })

	require.Len(t, outcomes, 1)
	require.Error(t, outcomes[0].Err)
	require.Equal(t, []int{0}, terminal)
	require.Equal(t, 1, stub.calls, "a non-idempotent entry must never be retried")
}

func TestDriverRunWholeAttemptErrorSplitsIdempotentFromNonIdempotent(t *testing.T) {
	stub := &fakeStub{attempts: []func(*rpc.MutateRowsRequest) (rpc.MutateRowsCall, error){
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			return nil, errors.New("transport reset")
		},
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			require.Len(t, req.Entries, 1, "only the idempotent survivor should be resubmitted")
			return &fakeMutateRowsCall{results: []rpc.MutateRowsResult{{SubIndex: 0, Code: rpc.CodeOK}}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: retryableClassifier}
	entries := []Entry{{RowKey: []byte("idem"), Idempotent: true}, {RowKey: []byte("non-idem"), Idempotent: false}}

	outcomes := d.Run(context.Background(), "t", "p", entries, retry.NewDeadlines(0, 0), noBackoff(), nil)
	require.NoError(t, outcomes[0].Err)
	require.Error(t, outcomes[1].Err, "non-idempotent entry must terminate on the retryable whole-attempt error")
}

func TestDriverRunAllNonIdempotentOnRetryableWholeAttemptErrorStopsImmediately(t *testing.T) {
	stub := &fakeStub{attempts: []func(*rpc.MutateRowsRequest) (rpc.MutateRowsCall, error){
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			return nil, errors.New("transport reset")
		},
	}}
	d := &Driver{Stub: stub, Classify: retryableClassifier}
	entries := []Entry{{RowKey: []byte("a"), Idempotent: false}, {RowKey: []byte("b"), Idempotent: false}}

	outcomes := d.Run(context.Background(), "t", "p", entries, retry.NewDeadlines(0, 0), noBackoff(), nil)
	for _, o := range outcomes {
		require.Error(t, o.Err)
	}
	require.Equal(t, 1, stub.calls, "no idempotent survivor means no retry")
}

func TestDriverRunDeadlineExceededFinalizesRemainingLiveEntries(t *testing.T) {
	stub := &fakeStub{attempts: []func(*rpc.MutateRowsRequest) (rpc.MutateRowsCall, error){
		func(req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
			return &fakeMutateRowsCall{results: []rpc.MutateRowsResult{
				{SubIndex: 0, Code: rpc.CodeUnavailable, Message: "try again"},
			}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: retryableClassifier}
	entries := []Entry{{RowKey: []byte("a"), Idempotent: true}}

	deadlines := retry.NewDeadlines(time.Millisecond, 0)
	time.Sleep(5 * time.Millisecond)

	outcomes := d.Run(context.Background(), "t", "p", entries, deadlines, noBackoff(), nil)
	require.Len(t, outcomes, 1)
	require.IsType(t, &DeadlineExceededError{}, outcomes[0].Err)
}
