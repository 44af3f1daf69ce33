package tablestore

import (
	"time"

	"github.com/coldriver/tablestore/internal/rpc"
)

// Timestamp is microseconds since the Unix epoch.
type Timestamp int64

// ServerTime tells the server to substitute its own wall-clock timestamp.
// A mutation carrying it is, by definition, not idempotent.
const ServerTime Timestamp = -1

// Time converts a time.Time to a Timestamp.
func Time(t time.Time) Timestamp { return Timestamp(t.UnixNano() / 1e3) }

// Mutation is a single-row set of changes, built up with Set/DeleteX calls
// the way the legacy client's Mutation type is, then attached to a
// MutationEntry for use with ExecuteMutations or a Batcher.
type Mutation struct {
	ops []rpc.Mutation
}

// NewMutation returns an empty Mutation.
func NewMutation() *Mutation { return &Mutation{} }

func (m *Mutation) Set(family string, qualifier []byte, ts Timestamp, value []byte) *Mutation {
	m.ops = append(m.ops, rpc.Mutation{SetCell: &rpc.SetCell{
		Family: family, Qualifier: qualifier, TimestampMicros: int64(ts), Value: value,
	}})
	return m
}

func (m *Mutation) DeleteCellsInColumn(family string, qualifier []byte) *Mutation {
	m.ops = append(m.ops, rpc.Mutation{DeleteFromColumn: &rpc.DeleteFromColumn{
		Family: family, Qualifier: qualifier,
	}})
	return m
}

func (m *Mutation) DeleteCellsInFamily(family string) *Mutation {
	m.ops = append(m.ops, rpc.Mutation{DeleteFromFamily: &rpc.DeleteFromFamily{Family: family}})
	return m
}

func (m *Mutation) DeleteRow() *Mutation {
	m.ops = append(m.ops, rpc.Mutation{DeleteFromRow: true})
	return m
}

// isIdempotent reports whether every op in m carries an explicit timestamp;
// a ServerTime sentinel makes the mutation unsafe to retry blindly.
func (m *Mutation) isIdempotent() bool {
	for _, op := range m.ops {
		if op.SetCell != nil && op.SetCell.TimestampMicros == int64(ServerTime) {
			return false
		}
	}
	return true
}

// MutationEntry is one row's worth of mutations, as submitted to
// ExecuteMutations or appended to a Batcher.
type MutationEntry struct {
	RowKey    []byte
	Mutations []*Mutation
}

// NewMutationEntry builds an entry; it must carry at least one Mutation.
func NewMutationEntry(rowKey []byte, muts ...*Mutation) MutationEntry {
	return MutationEntry{RowKey: rowKey, Mutations: muts}
}

// IsIdempotent reports whether every mutation within the entry is
// idempotent — an entry that is not may never be retried.
func (e MutationEntry) IsIdempotent() bool {
	for _, m := range e.Mutations {
		if !m.isIdempotent() {
			return false
		}
	}
	return true
}

// wireMutations flattens every Mutation's ops for the wire request.
func (e MutationEntry) wireMutations() []rpc.Mutation {
	var out []rpc.Mutation
	for _, m := range e.Mutations {
		out = append(out, m.ops...)
	}
	return out
}

// ByteSize approximates the serialized size used by the Flow Controller's
// byte budget.
func (e MutationEntry) ByteSize() int {
	n := len(e.RowKey)
	for _, m := range e.Mutations {
		for _, op := range m.ops {
			n += 16 // fixed overhead per op: tags, oneof discriminants, timestamp
			if op.SetCell != nil {
				n += len(op.SetCell.Family) + len(op.SetCell.Qualifier) + len(op.SetCell.Value)
			}
			if op.DeleteFromColumn != nil {
				n += len(op.DeleteFromColumn.Family) + len(op.DeleteFromColumn.Qualifier)
			}
			if op.DeleteFromFamily != nil {
				n += len(op.DeleteFromFamily.Family)
			}
		}
	}
	return n
}

// ReadModifyWrite is a set of non-idempotent, server-applied rules
// (append/increment) for ApplyReadModifyWrite.
type ReadModifyWrite struct {
	ops []rpc.ReadModifyWriteRule
}

func NewReadModifyWrite() *ReadModifyWrite { return &ReadModifyWrite{} }

func (m *ReadModifyWrite) AppendValue(family string, qualifier, v []byte) *ReadModifyWrite {
	m.ops = append(m.ops, rpc.ReadModifyWriteRule{Family: family, Qualifier: qualifier, AppendValue: v})
	return m
}

func (m *ReadModifyWrite) Increment(family string, qualifier []byte, delta int64) *ReadModifyWrite {
	m.ops = append(m.ops, rpc.ReadModifyWriteRule{
		Family: family, Qualifier: qualifier, IncrementAmount: delta, IsIncrement: true,
	})
	return m
}
