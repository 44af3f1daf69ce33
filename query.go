package tablestore

import "time"

// Query describes a read: the row set, an optional filter, and an optional
// row limit. Filters are modeled as an opaque pre-serialized blob — building
// filter expressions is left to a separate value-object package.
//
// Limit has no unlimited-by-zero shortcut: a Query built with NewQuery has
// no limit at all, and WithLimit(0) is a literal, meaningful zero. hasLimit
// tracks which of those two states a Query is in.
type Query struct {
	Rows        RowSet
	Filter      []byte
	limit       int64
	hasLimit    bool
	idleTimeout time.Duration
}

// NewQuery builds a Query over the given row set, with no row limit.
func NewQuery(rows RowSet) Query { return Query{Rows: rows} }

// WithFilter attaches a pre-serialized filter to the query.
func (q Query) WithFilter(f []byte) Query { q.Filter = f; return q }

// WithLimit attaches a row limit, including the literal zero.
func (q Query) WithLimit(n int64) Query { q.limit, q.hasLimit = n, true; return q }

// Limit returns the configured limit and whether one was set at all.
func (q Query) Limit() (n int64, ok bool) { return q.limit, q.hasLimit }

// WithIdleTimeout aborts the read's current attempt if no row commits for d.
// An idle attempt is classified as KindIdleTimeout and retried according to
// the table's read RetryableSet, same as any other attempt failure.
func (q Query) WithIdleTimeout(d time.Duration) Query { q.idleTimeout = d; return q }

// IdleTimeout returns the configured idle timeout, zero if none was set.
func (q Query) IdleTimeout() time.Duration { return q.idleTimeout }
