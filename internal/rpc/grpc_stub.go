package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// jsonSubtype is the call content-subtype under which the grpc stub below
// marshals requests. Production stubs generated from the service's proto
// definitions would use the protobuf codec instead; this module never owns
// that definition (see package doc), so it registers a plain JSON codec
// good enough to drive a real *grpc.ClientConn end to end.
const jsonSubtype = "tablestore-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error  { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                        { return jsonSubtype }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// grpcStub adapts a single *grpc.ClientConn to Stub using generic grpc
// calls. It is the default StubFactory's product; see NewGRPCStubFactory.
type grpcStub struct {
	conn *grpc.ClientConn
}

// NewGRPCStubFactory returns a StubFactory that binds Stub to a live
// *grpc.ClientConn, the shape the Channel Pool manages.
func NewGRPCStubFactory() StubFactory {
	return func(channel any) Stub {
		conn, ok := channel.(*grpc.ClientConn)
		if !ok {
			panic(fmt.Sprintf("rpc: NewGRPCStubFactory requires a *grpc.ClientConn, got %T", channel))
		}
		return &grpcStub{conn: conn}
	}
}

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(jsonSubtype)}
}

// withRoutingParams attaches the x-goog-request-params header every
// data-plane RPC must carry so the service can route the call without
// parsing the request body.
func withRoutingParams(ctx context.Context, tableName, appProfileID string) context.Context {
	params := "table_name=" + tableName
	if appProfileID != "" {
		params += ",app_profile_id=" + appProfileID
	}
	return metadata.AppendToOutgoingContext(ctx, "x-goog-request-params", params)
}

func (s *grpcStub) ReadRows(ctx context.Context, req *ReadRowsRequest) (ReadRowsCall, error) {
	ctx = withRoutingParams(ctx, req.TableName, req.AppProfileID)
	stream, err := s.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/tablestore.v2.Bigtable/ReadRows", callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &grpcReadRowsCall{stream: stream}, nil
}

type grpcReadRowsCall struct {
	stream grpc.ClientStream
}

func (c *grpcReadRowsCall) Recv() (*ReadRowsResponse, error) {
	resp := &ReadRowsResponse{}
	if err := c.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *grpcReadRowsCall) Trailer() Trailer {
	md := c.stream.Trailer()
	return trailerFromMD(md)
}

func trailerFromMD(md metadata.MD) Trailer {
	var t Trailer
	if vs := md.Get("x-goog-ext-41114-bin"); len(vs) > 0 {
		t.ResponseParams = []byte(vs[0])
	}
	if vs := md.Get("server-timing"); len(vs) > 0 {
		t.ServerTiming = vs[0]
	}
	return t
}

func (s *grpcStub) MutateRow(ctx context.Context, req *MutateRowRequest) (*MutateRowResponse, error) {
	ctx = withRoutingParams(ctx, req.TableName, req.AppProfileID)
	resp := &MutateRowResponse{}
	if err := s.conn.Invoke(ctx, "/tablestore.v2.Bigtable/MutateRow", req, resp, callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcStub) MutateRows(ctx context.Context, req *MutateRowsRequest) (MutateRowsCall, error) {
	ctx = withRoutingParams(ctx, req.TableName, req.AppProfileID)
	stream, err := s.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/tablestore.v2.Bigtable/MutateRows", callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &grpcMutateRowsCall{stream: stream}, nil
}

type grpcMutateRowsCall struct {
	stream grpc.ClientStream
}

func (c *grpcMutateRowsCall) Recv() ([]MutateRowsResult, error) {
	var results []MutateRowsResult
	if err := c.stream.RecvMsg(&results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *grpcMutateRowsCall) Trailer() Trailer {
	return trailerFromMD(c.stream.Trailer())
}

func (s *grpcStub) SampleRowKeys(ctx context.Context, req *SampleRowKeysRequest) (SampleRowKeysCall, error) {
	ctx = withRoutingParams(ctx, req.TableName, req.AppProfileID)
	stream, err := s.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, "/tablestore.v2.Bigtable/SampleRowKeys", callOpts()...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &grpcSampleRowKeysCall{stream: stream}, nil
}

type grpcSampleRowKeysCall struct {
	stream grpc.ClientStream
}

func (c *grpcSampleRowKeysCall) Recv() (*SampleRowKeysResponse, error) {
	resp := &SampleRowKeysResponse{}
	if err := c.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcStub) CheckAndMutateRow(ctx context.Context, req *CheckAndMutateRowRequest) (*CheckAndMutateRowResponse, error) {
	ctx = withRoutingParams(ctx, req.TableName, req.AppProfileID)
	resp := &CheckAndMutateRowResponse{}
	if err := s.conn.Invoke(ctx, "/tablestore.v2.Bigtable/CheckAndMutateRow", req, resp, callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcStub) ReadModifyWriteRow(ctx context.Context, req *ReadModifyWriteRowRequest) (*ReadModifyWriteRowResponse, error) {
	ctx = withRoutingParams(ctx, req.TableName, req.AppProfileID)
	resp := &ReadModifyWriteRowResponse{}
	if err := s.conn.Invoke(ctx, "/tablestore.v2.Bigtable/ReadModifyWriteRow", req, resp, callOpts()...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcStub) PingAndWarm(ctx context.Context, req *PingAndWarmRequest, deadline time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "x-goog-request-params", "name="+req.InstanceName)
	resp := &struct{}{}
	err := s.conn.Invoke(ctx, "/tablestore.v2.Bigtable/PingAndWarm", req, resp, callOpts()...)
	if err != nil && status.Code(err) == codes.Unimplemented {
		// Some emulator/test backends don't implement warm-up; tolerate it.
		return nil
	}
	return err
}

// GRPCCodeOf maps a grpc status code observed on the wire to rpc.Code, the
// form the classifier in errors.go consumes without a grpc import.
func GRPCCodeOf(err error) Code {
	switch status.Code(err) {
	case codes.OK:
		return CodeOK
	case codes.Canceled:
		return CodeCancelled
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.DeadlineExceeded:
		return CodeDeadlineExceeded
	case codes.NotFound:
		return CodeNotFound
	case codes.FailedPrecondition:
		return CodeFailedPrecondition
	case codes.Aborted:
		return CodeAborted
	case codes.OutOfRange:
		return CodeOutOfRange
	case codes.Unavailable:
		return CodeUnavailable
	case codes.ResourceExhausted:
		return CodeResourceExhausted
	case codes.PermissionDenied:
		return CodePermissionDenied
	default:
		return CodeUnknown
	}
}

var _ io.Closer = (*grpc.ClientConn)(nil)
