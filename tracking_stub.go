package tablestore

import (
	"context"
	"time"

	"github.com/coldriver/tablestore/internal/pool"
	"github.com/coldriver/tablestore/internal/rpc"
)

// trackingStub wraps a pooled channel's stub so each RPC's lifetime is
// reflected in the pool's per-channel in-flight count. Unary calls release on return; streaming calls release
// when the stream reaches a terminal Recv (EOF or error) — callers that
// abandon a stream without draining it leak the lease, the same caveat the
// legacy stub-caching clients carry.
type trackingStub struct {
	inner rpc.Stub
	p     *pool.Pool
	lease pool.Lease
}

func (s *trackingStub) ReadRows(ctx context.Context, req *rpc.ReadRowsRequest) (rpc.ReadRowsCall, error) {
	call, err := s.inner.ReadRows(ctx, req)
	if err != nil {
		s.p.Release(s.lease)
		return nil, err
	}
	return &trackingReadRowsCall{ReadRowsCall: call, release: s.releaseOnce()}, nil
}

func (s *trackingStub) MutateRow(ctx context.Context, req *rpc.MutateRowRequest) (*rpc.MutateRowResponse, error) {
	defer s.p.Release(s.lease)
	return s.inner.MutateRow(ctx, req)
}

func (s *trackingStub) MutateRows(ctx context.Context, req *rpc.MutateRowsRequest) (rpc.MutateRowsCall, error) {
	call, err := s.inner.MutateRows(ctx, req)
	if err != nil {
		s.p.Release(s.lease)
		return nil, err
	}
	return &trackingMutateRowsCall{MutateRowsCall: call, release: s.releaseOnce()}, nil
}

func (s *trackingStub) SampleRowKeys(ctx context.Context, req *rpc.SampleRowKeysRequest) (rpc.SampleRowKeysCall, error) {
	call, err := s.inner.SampleRowKeys(ctx, req)
	if err != nil {
		s.p.Release(s.lease)
		return nil, err
	}
	return &trackingSampleRowKeysCall{SampleRowKeysCall: call, release: s.releaseOnce()}, nil
}

func (s *trackingStub) CheckAndMutateRow(ctx context.Context, req *rpc.CheckAndMutateRowRequest) (*rpc.CheckAndMutateRowResponse, error) {
	defer s.p.Release(s.lease)
	return s.inner.CheckAndMutateRow(ctx, req)
}

func (s *trackingStub) ReadModifyWriteRow(ctx context.Context, req *rpc.ReadModifyWriteRowRequest) (*rpc.ReadModifyWriteRowResponse, error) {
	defer s.p.Release(s.lease)
	return s.inner.ReadModifyWriteRow(ctx, req)
}

func (s *trackingStub) PingAndWarm(ctx context.Context, req *rpc.PingAndWarmRequest, deadline time.Duration) error {
	defer s.p.Release(s.lease)
	return s.inner.PingAndWarm(ctx, req, deadline)
}

// releaseOnce returns a release func that decrements the lease at most
// once, guarding against Recv being called again on a stream that already
// reached EOF or an error.
func (s *trackingStub) releaseOnce() func() {
	var done bool
	return func() {
		if done {
			return
		}
		done = true
		s.p.Release(s.lease)
	}
}

type trackingReadRowsCall struct {
	rpc.ReadRowsCall
	release func()
}

func (c *trackingReadRowsCall) Recv() (*rpc.ReadRowsResponse, error) {
	resp, err := c.ReadRowsCall.Recv()
	if err != nil {
		c.release()
	}
	return resp, err
}

type trackingMutateRowsCall struct {
	rpc.MutateRowsCall
	release func()
}

func (c *trackingMutateRowsCall) Recv() ([]rpc.MutateRowsResult, error) {
	results, err := c.MutateRowsCall.Recv()
	if err != nil {
		c.release()
	}
	return results, err
}

type trackingSampleRowKeysCall struct {
	rpc.SampleRowKeysCall
	release func()
}

func (c *trackingSampleRowKeysCall) Recv() (*rpc.SampleRowKeysResponse, error) {
	resp, err := c.SampleRowKeysCall.Recv()
	if err != nil {
		c.release()
	}
	return resp, err
}

var _ rpc.Stub = (*trackingStub)(nil)
