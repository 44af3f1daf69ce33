package readdriver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldriver/tablestore/internal/retry"
	"github.com/coldriver/tablestore/internal/rpc"
)

// fakeRowSet is a minimal RowSet backed by an explicit key list.
type fakeRowSet struct{ keys [][]byte }

func (r fakeRowSet) Keys() [][]byte          { return r.keys }
func (r fakeRowSet) Ranges() []rpc.RowRangeWire { return nil }
func (r fakeRowSet) Valid() bool             { return len(r.keys) > 0 }

func (r fakeRowSet) RetainAfter(watermark []byte) RowSet {
	if len(watermark) == 0 {
		return r
	}
	var kept [][]byte
	for _, k := range r.keys {
		if bytes.Compare(k, watermark) > 0 {
			kept = append(kept, k)
		}
	}
	return fakeRowSet{keys: kept}
}

func cellChunk(rowKey []byte, qualifier []byte, value []byte, commit bool) rpc.Chunk {
	return rpc.Chunk{
		HasRowKey: rowKey != nil, RowKey: rowKey,
		HasFamily: rowKey != nil, Family: "cf",
		HasQualifier: true, Qualifier: qualifier,
		Value: value, CommitRow: commit,
	}
}

type fakeReadRowsCall struct {
	resps []*rpc.ReadRowsResponse
	err   error
	i     int
}

func (c *fakeReadRowsCall) Recv() (*rpc.ReadRowsResponse, error) {
	if c.i >= len(c.resps) {
		if c.err != nil {
			return nil, c.err
		}
		return nil, io.EOF
	}
	r := c.resps[c.i]
	c.i++
	return r, nil
}

func (c *fakeReadRowsCall) Trailer() rpc.Trailer { return rpc.Trailer{} }

type fakeReadStub struct {
	rpc.Stub
	attempts []func(req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error)
	calls    int
}

func (s *fakeReadStub) ReadRows(ctx context.Context, req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
	i := s.calls
	s.calls++
	return s.attempts[i](req)
}

func alwaysRetryable(err error) (RetryKind, bool) { return RetryTransient, true }

func noBackoff() retryBackoff { return retryBackoff{} }

// retryBackoff is a zero-wait backoff.BackOff for tests that don't care
// about timing.
type retryBackoff struct{}

func (retryBackoff) NextBackOff() time.Duration { return time.Millisecond }
func (retryBackoff) Reset()                     {}

func TestRunEmitsRowsInOrderOnASingleAttempt(t *testing.T) {
	stub := &fakeReadStub{attempts: []func(*rpc.ReadRowsRequest) (rpc.ReadRowsCall, error){
		func(req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
			return &fakeReadRowsCall{resps: []*rpc.ReadRowsResponse{
				{Chunks: []rpc.Chunk{cellChunk([]byte("a"), []byte("q"), []byte("1"), true)}},
				{Chunks: []rpc.Chunk{cellChunk([]byte("b"), []byte("q"), []byte("2"), true)}},
			}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: alwaysRetryable}

	var got []string
	_, err := d.Run(context.Background(), Params{
		Rows:      fakeRowSet{keys: [][]byte{[]byte("a"), []byte("b")}},
		Deadlines: retry.NewDeadlines(0, 0),
	}, noBackoff(), func(r Row) error {
		got = append(got, string(r.Key))
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)
	require.Equal(t, 1, stub.calls)
}

func TestRunZeroLimitReturnsWithoutAnRPC(t *testing.T) {
	stub := &fakeReadStub{}
	d := &Driver{Stub: stub, Classify: alwaysRetryable}

	_, err := d.Run(context.Background(), Params{
		Rows:      fakeRowSet{keys: [][]byte{[]byte("a")}},
		HasLimit:  true,
		RowLimit:  0,
		Deadlines: retry.NewDeadlines(0, 0),
	}, noBackoff(), func(r Row) error { t.Fatal("emit should never be called"); return nil })

	require.NoError(t, err)
	require.Zero(t, stub.calls)
}

func TestRunResumesAfterMidStreamAtWatermark(t *testing.T) {
	stub := &fakeReadStub{attempts: []func(*rpc.ReadRowsRequest) (rpc.ReadRowsCall, error){
		func(req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
			require.ElementsMatch(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, req.RowKeys)
			return &fakeReadRowsCall{
				resps: []*rpc.ReadRowsResponse{{Chunks: []rpc.Chunk{cellChunk([]byte("a"), []byte("q"), []byte("1"), true)}}},
				err:   errors.New("mid-stream reset"),
			}, nil
		},
		func(req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
			require.ElementsMatch(t, [][]byte{[]byte("b"), []byte("c")}, req.RowKeys, "retained keys must exclude the emitted watermark")
			return &fakeReadRowsCall{resps: []*rpc.ReadRowsResponse{
				{Chunks: []rpc.Chunk{cellChunk([]byte("b"), []byte("q"), []byte("2"), true)}},
				{Chunks: []rpc.Chunk{cellChunk([]byte("c"), []byte("q"), []byte("3"), true)}},
			}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: alwaysRetryable}

	var got []string
	_, err := d.Run(context.Background(), Params{
		Rows:         fakeRowSet{keys: [][]byte{[]byte("a"), []byte("b"), []byte("c")}},
		RetryableSet: map[RetryKind]bool{RetryTransient: true},
		Deadlines:    retry.NewDeadlines(0, 0),
	}, noBackoff(), func(r Row) error {
		got = append(got, string(r.Key))
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Equal(t, 2, stub.calls)
}

func TestRunCallerAbortStopsWithoutRetrying(t *testing.T) {
	stub := &fakeReadStub{attempts: []func(*rpc.ReadRowsRequest) (rpc.ReadRowsCall, error){
		func(req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
			return &fakeReadRowsCall{resps: []*rpc.ReadRowsResponse{
				{Chunks: []rpc.Chunk{cellChunk([]byte("a"), []byte("q"), []byte("1"), true)}},
				{Chunks: []rpc.Chunk{cellChunk([]byte("b"), []byte("q"), []byte("2"), true)}},
			}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: alwaysRetryable}

	stopAfter := errors.New("stop")
	_, err := d.Run(context.Background(), Params{
		Rows:      fakeRowSet{keys: [][]byte{[]byte("a"), []byte("b")}},
		Deadlines: retry.NewDeadlines(0, 0),
	}, noBackoff(), func(r Row) error {
		if string(r.Key) == "a" {
			return stopAfter
		}
		return nil
	})

	require.True(t, IsCallerAbort(err))
	require.Equal(t, 1, stub.calls)
}

// slowReadRowsCall blocks on the first Recv past an idle gap, then delivers
// one row.
type slowReadRowsCall struct {
	delay time.Duration
	resp  *rpc.ReadRowsResponse
	sent  bool
}

func (c *slowReadRowsCall) Recv() (*rpc.ReadRowsResponse, error) {
	if c.sent {
		return nil, io.EOF
	}
	c.sent = true
	time.Sleep(c.delay)
	return c.resp, nil
}

func (c *slowReadRowsCall) Trailer() rpc.Trailer { return rpc.Trailer{} }

func TestRunIdleTimeoutAbortsAnAttemptWithNoRows(t *testing.T) {
	stub := &fakeReadStub{attempts: []func(*rpc.ReadRowsRequest) (rpc.ReadRowsCall, error){
		func(req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
			return &slowReadRowsCall{delay: 50 * time.Millisecond}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: func(err error) (RetryKind, bool) {
		if IsIdleTimeout(err) {
			return RetryIdleTimeout, false
		}
		return RetryTransient, true
	}}

	_, err := d.Run(context.Background(), Params{
		Rows:        fakeRowSet{keys: [][]byte{[]byte("a")}},
		Deadlines:   retry.NewDeadlines(0, 0),
		IdleTimeout: 5 * time.Millisecond,
	}, noBackoff(), func(r Row) error { return nil })

	require.True(t, IsIdleTimeout(err))
}

func TestRunIdleTimeoutResetsAfterEachRow(t *testing.T) {
	stub := &fakeReadStub{attempts: []func(*rpc.ReadRowsRequest) (rpc.ReadRowsCall, error){
		func(req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
			return &fakeReadRowsCall{resps: []*rpc.ReadRowsResponse{
				{Chunks: []rpc.Chunk{cellChunk([]byte("a"), []byte("q"), []byte("1"), true)}},
				{Chunks: []rpc.Chunk{cellChunk([]byte("b"), []byte("q"), []byte("2"), true)}},
			}}, nil
		},
	}}
	d := &Driver{Stub: stub, Classify: alwaysRetryable}

	var got []string
	_, err := d.Run(context.Background(), Params{
		Rows:        fakeRowSet{keys: [][]byte{[]byte("a"), []byte("b")}},
		Deadlines:   retry.NewDeadlines(0, 0),
		IdleTimeout: time.Second,
	}, noBackoff(), func(r Row) error {
		got = append(got, string(r.Key))
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestRunDeadlineExceededBeforeFirstAttempt(t *testing.T) {
	stub := &fakeReadStub{}
	d := &Driver{Stub: stub, Classify: alwaysRetryable}

	deadlines := retry.NewDeadlines(time.Millisecond, 0)
	time.Sleep(5 * time.Millisecond)

	_, err := d.Run(context.Background(), Params{
		Rows:      fakeRowSet{keys: [][]byte{[]byte("a")}},
		Deadlines: deadlines,
	}, noBackoff(), func(r Row) error { return nil })

	require.True(t, IsDeadlineExceeded(err))
	require.Zero(t, stub.calls)
}
