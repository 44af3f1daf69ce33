package batcher

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldriver/tablestore/internal/mutate"
	"github.com/coldriver/tablestore/internal/rpc"
)

type fakeMutateRowsCall struct {
	results []rpc.MutateRowsResult
	sent    bool
}

func (c *fakeMutateRowsCall) Recv() ([]rpc.MutateRowsResult, error) {
	if c.sent {
		return nil, io.EOF
	}
	c.sent = true
	return c.results, nil
}

func (c *fakeMutateRowsCall) Trailer() rpc.Trailer { return rpc.Trailer{} }

// fakeStub reports every entry OK, unless its row key is listed in fail.
type fakeStub struct {
	rpc.Stub
	fail  map[string]bool
	calls int
}

func (s *fakeStub) MutateRows(ctx context.Context, req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
	s.calls++
	results := make([]rpc.MutateRowsResult, len(req.Entries))
	for i, e := range req.Entries {
		if s.fail[string(e.RowKey)] {
			results[i] = rpc.MutateRowsResult{SubIndex: e.SubIndex, Code: rpc.CodePermissionDenied, Message: "denied"}
		} else {
			results[i] = rpc.MutateRowsResult{SubIndex: e.SubIndex, Code: rpc.CodeOK}
		}
	}
	return &fakeMutateRowsCall{results: results}, nil
}

func neverRetryable(err error) (mutate.RetryKind, bool) { return mutate.RetryNone, false }

func newTestBatcher(stub rpc.Stub, cfg Config) *Batcher {
	cfg.Classify = neverRetryable
	return New(stub, cfg)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAppendTriggersFlushAtCount(t *testing.T) {
	stub := &fakeStub{}
	b := newTestBatcher(stub, Config{FlushAtCount: 2, FlushEvery: time.Hour})
	defer b.Close(context.Background())

	require.NoError(t, b.Append(context.Background(), NewEntry([]byte("a"), nil, true, 1)))
	require.NoError(t, b.Append(context.Background(), NewEntry([]byte("b"), nil, true, 1)))

	waitFor(t, time.Second, func() bool { return b.Stats().TotalFlushed == 2 })
}

func TestAppendRejectsEntryOverHardByteCap(t *testing.T) {
	stub := &fakeStub{}
	b := newTestBatcher(stub, Config{FlushAtBytes: 10, FlushEvery: time.Hour})
	defer b.Close(context.Background())

	err := b.Append(context.Background(), NewEntry([]byte("a"), nil, true, 1000))
	require.Error(t, err)
	require.IsType(t, &ErrEntryTooLarge{}, err)
}

func TestErrorsQueueIsBoundedFIFO(t *testing.T) {
	stub := &fakeStub{fail: map[string]bool{"a": true, "b": true, "c": true}}
	b := newTestBatcher(stub, Config{FlushEvery: time.Hour, ErrorQueueCap: 2})
	defer b.Close(context.Background())

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, b.Append(context.Background(), NewEntry([]byte(k), nil, true, 1)))
	}
	require.NoError(t, b.Flush(context.Background()))

	errs := b.Errors()
	require.Len(t, errs, 2)
	require.Equal(t, "b", string(errs[0].Entry.RowKey))
	require.Equal(t, "c", string(errs[1].Entry.RowKey))
}

func TestApplyThresholdsLiveReloadChangesFlushAtCount(t *testing.T) {
	stub := &fakeStub{}
	b := newTestBatcher(stub, Config{FlushAtCount: 100, FlushEvery: time.Hour})
	defer b.Close(context.Background())

	require.NoError(t, b.Append(context.Background(), NewEntry([]byte("a"), nil, true, 1)))
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, b.Stats().TotalFlushed, "flush trigger of 100 should not have fired yet")

	b.ApplyThresholds(1, 0, 0)
	count, _, _ := b.Thresholds()
	require.Equal(t, 1, count)

	require.NoError(t, b.Append(context.Background(), NewEntry([]byte("b"), nil, true, 1)))
	waitFor(t, time.Second, func() bool { return b.Stats().TotalFlushed >= 1 })
}

func TestCloseFlushesRemainingEntries(t *testing.T) {
	stub := &fakeStub{}
	b := newTestBatcher(stub, Config{FlushAtCount: 100, FlushEvery: time.Hour})

	require.NoError(t, b.Append(context.Background(), NewEntry([]byte("a"), nil, true, 1)))
	require.NoError(t, b.Close(context.Background()))
	require.Equal(t, int64(1), b.Stats().TotalFlushed)

	err := b.Append(context.Background(), NewEntry([]byte("b"), nil, true, 1))
	require.IsType(t, &ErrBatcherClosed{}, err)
}
