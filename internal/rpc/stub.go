// Package rpc names the wire surface the core depends on without owning it.
//
// The generated service stubs for a wide-column table service are an
// external collaborator (see the module's non-goals): this package never
// marshals the real wire format. It defines the narrow interface the core
// calls through — Stub — and a StubFactory that binds one to a live
// *grpc.ClientConn, the way a generated <Service>Client constructor would.
package rpc

import (
	"context"
	"time"
)

// Cell is the wire-level tuple carried by a single mutation or read result.
type Cell struct {
	RowKey    []byte
	Family    string
	Qualifier []byte
	TimestampMicros int64
	Labels    []string
	Value     []byte
}

// Chunk is a fragment of the ReadRows response stream.
type Chunk struct {
	HasRowKey  bool
	RowKey     []byte
	HasFamily  bool
	Family     string
	HasQualifier bool
	Qualifier  []byte
	HasTimestamp bool
	TimestampMicros int64
	Labels     []string
	Value      []byte
	ValueSize  int32
	CommitRow  bool
	ResetRow   bool
}

// ReadRowsRequest is the per-attempt request sent to ReadRows.
type ReadRowsRequest struct {
	TableName    string
	AppProfileID string
	RowKeys      [][]byte
	RowRanges    []RowRangeWire
	Filter       []byte // opaque, serialized filter; the core never inspects it
	RowsLimit    int64
}

// RowRangeWire mirrors a RowRange's half-open/closed endpoint pair on the wire.
type RowRangeWire struct {
	StartKey       []byte
	StartInclusive bool
	StartUnbounded bool
	EndKey         []byte
	EndInclusive   bool
	EndUnbounded   bool
}

// ReadRowsResponse carries one batch of chunks plus optional out-of-band fields.
type ReadRowsResponse struct {
	Chunks            []Chunk
	LastScannedRowKey []byte
}

// ReadRowsCall is the server-stream handle returned by Stub.ReadRows.
type ReadRowsCall interface {
	// Recv returns io.EOF when the stream completes normally.
	Recv() (*ReadRowsResponse, error)
	Trailer() Trailer
}

// Trailer is the subset of response trailer metadata the Metrics Recorder reads.
type Trailer struct {
	ResponseParams []byte // binary ResponseParams-shaped payload (cluster/zone)
	ServerTiming   string // "...gfet4t7; dur=<ms>..."
}

// MutateRowRequest is a single unary row mutation.
type MutateRowRequest struct {
	TableName    string
	AppProfileID string
	RowKey       []byte
	Mutations    []Mutation
}

// Mutation is one logical change within a mutation entry.
type Mutation struct {
	SetCell          *SetCell
	DeleteFromColumn *DeleteFromColumn
	DeleteFromFamily *DeleteFromFamily
	DeleteFromRow    bool
}

type SetCell struct {
	Family          string
	Qualifier       []byte
	TimestampMicros int64 // ServerTime sentinel means "let the server choose"
	Value           []byte
}

type DeleteFromColumn struct {
	Family               string
	Qualifier            []byte
	StartTimestampMicros int64
	EndTimestampMicros   int64
}

type DeleteFromFamily struct {
	Family string
}

// MutateRowResponse is the unary response to MutateRow.
type MutateRowResponse struct{}

// MutateRowsRequest carries the sub-batch of entries for one attempt.
type MutateRowsRequest struct {
	TableName    string
	AppProfileID string
	Entries      []MutateRowsEntry
}

// MutateRowsEntry is one row's mutations plus the sub-index the caller used
// to build the request; Stub implementations echo SubIndex back on results.
type MutateRowsEntry struct {
	SubIndex  int
	RowKey    []byte
	Mutations []Mutation
}

// MutateRowsResult is the per-entry outcome reported by the server.
type MutateRowsResult struct {
	SubIndex int
	Code     Code
	Message  string
}

// MutateRowsCall is the server-stream handle returned by Stub.MutateRows.
type MutateRowsCall interface {
	Recv() ([]MutateRowsResult, error)
	Trailer() Trailer
}

// SampleRowKeysRequest/-Response/-Call back SampleRowKeys.
type SampleRowKeysRequest struct {
	TableName    string
	AppProfileID string
}

type SampleRowKeysResponse struct {
	RowKey      []byte
	OffsetBytes int64
}

type SampleRowKeysCall interface {
	Recv() (*SampleRowKeysResponse, error)
}

// CheckAndMutateRowRequest/-Response back CheckAndMutateRow.
type CheckAndMutateRowRequest struct {
	TableName       string
	AppProfileID    string
	RowKey          []byte
	PredicateFilter []byte
	TrueMutations   []Mutation
	FalseMutations  []Mutation
}

type CheckAndMutateRowResponse struct {
	PredicateMatched bool
}

// ReadModifyWriteRowRequest/-Response back ReadModifyWriteRow.
type ReadModifyWriteRowRequest struct {
	TableName    string
	AppProfileID string
	RowKey       []byte
	Rules        []ReadModifyWriteRule
}

type ReadModifyWriteRule struct {
	Family          string
	Qualifier       []byte
	AppendValue     []byte
	IncrementAmount int64
	IsIncrement     bool
}

type ReadModifyWriteRowResponse struct {
	Row []Cell
}

// PingAndWarmRequest names the instance to pre-warm.
type PingAndWarmRequest struct {
	InstanceName string
}

// Stub is the narrow RPC surface the core drives. A real implementation is
// generated from the service's proto definitions; Stub exists so the core
// never imports that generated package directly.
type Stub interface {
	ReadRows(ctx context.Context, req *ReadRowsRequest) (ReadRowsCall, error)
	MutateRow(ctx context.Context, req *MutateRowRequest) (*MutateRowResponse, error)
	MutateRows(ctx context.Context, req *MutateRowsRequest) (MutateRowsCall, error)
	SampleRowKeys(ctx context.Context, req *SampleRowKeysRequest) (SampleRowKeysCall, error)
	CheckAndMutateRow(ctx context.Context, req *CheckAndMutateRowRequest) (*CheckAndMutateRowResponse, error)
	ReadModifyWriteRow(ctx context.Context, req *ReadModifyWriteRowRequest) (*ReadModifyWriteRowResponse, error)
	PingAndWarm(ctx context.Context, req *PingAndWarmRequest, deadline time.Duration) error
}

// Code mirrors the subset of grpc/codes.Code values the core classifies on.
// Kept as its own type (rather than importing codes.Code into every caller)
// so unit tests can construct results without a grpc dependency.
type Code int

const (
	CodeOK Code = iota
	CodeCancelled
	CodeUnknown
	CodeInvalidArgument
	CodeDeadlineExceeded
	CodeNotFound
	CodeFailedPrecondition
	CodeAborted
	CodeOutOfRange
	CodeUnavailable
	CodeResourceExhausted
	CodePermissionDenied
)

// StubFactory builds a Stub bound to a single long-lived channel. The
// Channel Pool owns one factory call's result per tracked channel and
// invalidates it (calls the factory again) whenever the channel is replaced.
type StubFactory func(channel any) Stub
