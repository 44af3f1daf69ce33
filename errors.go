package tablestore

import (
	"fmt"
	"strings"

	"github.com/coldriver/tablestore/internal/rpc"
)

// Kind classifies an error the way the retry drivers and callers need to
// reason about it. It is deliberately not a wrapped grpc status: callers
// test Kind with Is, not type assertion on a transport type.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientTransport
	KindRateLimit
	KindNonRetryableApp
	KindCancelled
	KindInvalidChunk
	KindDeadlineExceededOperation
	KindIdleTimeout
	KindBatcherClosed
)

func (k Kind) String() string {
	switch k {
	case KindTransientTransport:
		return "transient-transport"
	case KindRateLimit:
		return "rate-limit"
	case KindNonRetryableApp:
		return "non-retryable-app"
	case KindCancelled:
		return "cancelled"
	case KindInvalidChunk:
		return "invalid-chunk"
	case KindDeadlineExceededOperation:
		return "deadline-exceeded-operation"
	case KindIdleTimeout:
		return "idle-timeout"
	case KindBatcherClosed:
		return "batcher-closed"
	default:
		return "unknown"
	}
}

// ClassifiedError pairs a transport-agnostic Kind with its cause.
type ClassifiedError struct {
	Kind  Kind
	Cause error
}

func (e *ClassifiedError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// Classify maps a transport-level code to a Kind. Every data-plane RPC
// result passes through this before the retry drivers look at it.
func Classify(code rpc.Code, err error) Kind {
	switch code {
	case rpc.CodeDeadlineExceeded, rpc.CodeUnavailable, rpc.CodeAborted:
		return KindTransientTransport
	case rpc.CodeResourceExhausted:
		return KindRateLimit
	case rpc.CodeNotFound, rpc.CodePermissionDenied, rpc.CodeFailedPrecondition,
		rpc.CodeInvalidArgument, rpc.CodeOutOfRange:
		return KindNonRetryableApp
	case rpc.CodeCancelled:
		return KindCancelled
	default:
		return KindUnknown
	}
}

// RetryableSet is the set of Kinds a caller has opted to retry for a given
// operation.
type RetryableSet map[Kind]bool

// DefaultReadRetryableSet retries transient transport errors and rate limits,
// the conservative default for reads.
func DefaultReadRetryableSet() RetryableSet {
	return RetryableSet{KindTransientTransport: true, KindRateLimit: true}
}

// DefaultMutateRetryableSet retries only transient transport errors; rate
// limiting is not retried for mutations unless the caller opts in.
func DefaultMutateRetryableSet() RetryableSet {
	return RetryableSet{KindTransientTransport: true}
}

func (s RetryableSet) allows(k Kind) bool { return s != nil && s[k] }

// InvalidChunkError is raised by the Row Assembler on any protocol
// violation. It is never retryable.
type InvalidChunkError struct {
	Reason string
}

func (e *InvalidChunkError) Error() string { return "tablestore: invalid chunk: " + e.Reason }

// DeadlineExceededOperationError wraps every attempt's terminal cause once
// the operation deadline elapses.
type DeadlineExceededOperationError struct {
	Attempts []error
}

func (e *DeadlineExceededOperationError) Error() string {
	return fmt.Sprintf("tablestore: operation deadline exceeded after %d attempt(s): %s",
		len(e.Attempts), joinErrs(e.Attempts))
}

func (e *DeadlineExceededOperationError) Unwrap() []error { return e.Attempts }

// IdleTimeoutError is returned by ReadStream when an attempt produced no row
// within the Query's idle timeout and the retry budget gave up trying again.
type IdleTimeoutError struct {
	Attempts []error
}

func (e *IdleTimeoutError) Error() string {
	return fmt.Sprintf("tablestore: idle timeout after %d attempt(s): %s",
		len(e.Attempts), joinErrs(e.Attempts))
}

func (e *IdleTimeoutError) Unwrap() []error { return e.Attempts }

// EntryFailure is one member of a MutationGroupError.
type EntryFailure struct {
	Index int
	Entry MutationEntry
	Cause error // either a single error or *RetryGroupError
}

// RetryGroupError aggregates every attempt's error for a single entry that
// was retried across multiple attempts before finally terminating.
type RetryGroupError struct {
	Attempts []error
}

func (e *RetryGroupError) Error() string {
	return fmt.Sprintf("tablestore: %d retry attempt(s) failed: %s", len(e.Attempts), joinErrs(e.Attempts))
}

func (e *RetryGroupError) Unwrap() []error { return e.Attempts }

// MutationGroupError is returned by ExecuteMutations when any entry failed
// to terminate successfully.
type MutationGroupError struct {
	TotalEntries int
	Failures     []EntryFailure
}

func (e *MutationGroupError) Error() string {
	return fmt.Sprintf("tablestore: %d of %d mutation entries failed, latest: %s",
		len(e.Failures), e.TotalEntries, e.latest())
}

func (e *MutationGroupError) latest() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1].Cause
}

// ShardFailure is one member of a ShardedReadGroupError.
type ShardFailure struct {
	ShardIndex int
	Query      Query
	Cause      error
}

// ShardedReadGroupError is returned by ReadSharded when one or more shard
// queries failed.
type ShardedReadGroupError struct {
	TotalShards int
	Failures    []ShardFailure
}

func (e *ShardedReadGroupError) Error() string {
	return fmt.Sprintf("tablestore: %d of %d sharded reads failed", len(e.Failures), e.TotalShards)
}

// BatcherClosedError is returned by Append after Close.
type BatcherClosedError struct{}

func (e *BatcherClosedError) Error() string { return "tablestore: batcher is closed" }

// ConfigError reports a rejected configuration combination, e.g.
// attempt_deadline > operation_deadline.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "tablestore: invalid configuration: " + e.Reason }

func joinErrs(errs []error) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
