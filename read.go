package tablestore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/coldriver/tablestore/internal/metrics"
	"github.com/coldriver/tablestore/internal/readdriver"
	"github.com/coldriver/tablestore/internal/retry"
	"github.com/coldriver/tablestore/internal/rpc"
)

// rowSetAdapter satisfies internal/readdriver.RowSet over the public RowSet,
// kept here (not in rowset.go) since it is the seam between the two
// packages rather than a property of RowSet itself.
type rowSetAdapter struct{ s RowSet }

func (a rowSetAdapter) Keys() [][]byte {
	keys, _ := buildWireRowSet(a.s)
	return keys
}

func (a rowSetAdapter) Ranges() []rpc.RowRangeWire {
	_, ranges := buildWireRowSet(a.s)
	return ranges
}

func (a rowSetAdapter) RetainAfter(watermark []byte) readdriver.RowSet {
	return rowSetAdapter{a.s.retainAfter(watermark)}
}

func (a rowSetAdapter) Valid() bool { return a.s.valid() }

func classify(retryable RetryableSet) readdriver.Classifier {
	return func(err error) (readdriver.RetryKind, bool) {
		if readdriver.IsIdleTimeout(err) {
			return readdriver.RetryIdleTimeout, retryable.allows(KindIdleTimeout)
		}
		code := rpc.GRPCCodeOf(err)
		kind := Classify(code, err)
		switch kind {
		case KindTransientTransport:
			return readdriver.RetryTransient, retryable.allows(KindTransientTransport)
		case KindRateLimit:
			return readdriver.RetryRateLimit, retryable.allows(KindRateLimit)
		default:
			return readdriver.RetryNone, false
		}
	}
}

// ReadStream runs q against the table and calls emit once per row, in row
// key order, until the stream completes, emit returns an error, the read's
// retry budget is exhausted, a non-retryable error occurs, or ctx ends. It
// blocks until one of those things happens.
func (t *Table) ReadStream(ctx context.Context, q Query, emit func(Row) error) (err error) {
	limit, hasLimit := q.Limit()
	ctx, span := t.startSpan(ctx, "tablestore.ReadStream", attribute.Bool("tablestore.has_limit", hasLimit))
	defer func() { endSpan(span, err) }()

	if err := t.checkDeadlines(); err != nil {
		return err
	}

	recorder := metrics.New("tablestore.ReadStream", true, t.client.logger, t.client.handlers...)
	d := &readdriver.Driver{Stub: t.client.stub(), Classify: classify(t.readRetryableSet), Recorder: recorder}

	params := readdriver.Params{
		TableName:    t.name,
		AppProfileID: t.appProfileID,
		Filter:       q.Filter,
		Rows:         rowSetAdapter{q.Rows},
		RowLimit:     limit,
		HasLimit:     hasLimit,
		RetryableSet: map[readdriver.RetryKind]bool{
			readdriver.RetryTransient:   true,
			readdriver.RetryRateLimit:   t.readRetryableSet.allows(KindRateLimit),
			readdriver.RetryIdleTimeout: t.readRetryableSet.allows(KindIdleTimeout),
		},
		Deadlines:   retry.NewDeadlines(t.operationTimeout, t.attemptTimeout),
		IdleTimeout: q.IdleTimeout(),
	}

	bo := retry.NewFullJitter()
	attempts, err := d.Run(ctx, params, bo, func(r readdriver.Row) error {
		return emit(convertRow(r))
	})

	switch {
	case err == nil:
		return nil
	case readdriver.IsCallerAbort(err):
		return nil
	case readdriver.IsDeadlineExceeded(err):
		return &DeadlineExceededOperationError{Attempts: attempts}
	case readdriver.IsIdleTimeout(err):
		return &IdleTimeoutError{Attempts: attempts}
	default:
		return err
	}
}

func convertRow(r readdriver.Row) Row {
	cells := make([]Cell, len(r.Cells))
	for i, c := range r.Cells {
		cells[i] = Cell{
			Family: c.Family, Qualifier: c.Qualifier, TimestampMicros: c.TimestampMicros,
			Labels: c.Labels, Value: c.Value,
		}
	}
	return Row{Key: r.Key, Cells: cells}
}

// ReadAll materializes ReadStream's output into a slice. Prefer ReadStream
// for large scans — ReadAll holds every row in memory at once.
func (t *Table) ReadAll(ctx context.Context, q Query) ([]Row, error) {
	var rows []Row
	err := t.ReadStream(ctx, q, func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

// ReadRow reads a single row by key. It returns (Row{}, false, nil) if the
// row does not exist.
func (t *Table) ReadRow(ctx context.Context, key []byte) (Row, bool, error) {
	q := NewQuery(SingleRow(key)).WithLimit(1)
	var found *Row
	err := t.ReadStream(ctx, q, func(r Row) error {
		row := r
		found = &row
		return nil
	})
	if err != nil {
		return Row{}, false, err
	}
	if found == nil {
		return Row{}, false, nil
	}
	return *found, true, nil
}

// RowExists reports whether key has at least one cell. It is a full
// ReadRow: the row's cell values are transferred and then discarded.
func (t *Table) RowExists(ctx context.Context, key []byte) (bool, error) {
	_, found, err := t.ReadRow(ctx, key)
	return found, err
}

// ReadSharded runs several independent queries concurrently (bounded
// concurrency 10) and returns their rows in shard order. A partial failure
// is surfaced as a *ShardedReadGroupError listing every failed shard; rows
// from shards that succeeded are still returned.
func (t *Table) ReadSharded(ctx context.Context, queries []Query) ([]Row, error) {
	results := readdriver.RunSharded(ctx, len(queries), func(ctx context.Context, i int) ([]readdriver.Row, error) {
		var rows []readdriver.Row
		q := queries[i]
		limit, hasLimit := q.Limit()
		recorder := metrics.New("tablestore.ReadSharded", true, t.client.logger, t.client.handlers...)
		d := &readdriver.Driver{Stub: t.client.stub(), Classify: classify(t.readRetryableSet), Recorder: recorder}
		params := readdriver.Params{
			TableName: t.name, AppProfileID: t.appProfileID, Filter: q.Filter,
			Rows: rowSetAdapter{q.Rows}, RowLimit: limit, HasLimit: hasLimit,
			RetryableSet: map[readdriver.RetryKind]bool{
				readdriver.RetryTransient:   true,
				readdriver.RetryRateLimit:   t.readRetryableSet.allows(KindRateLimit),
				readdriver.RetryIdleTimeout: t.readRetryableSet.allows(KindIdleTimeout),
			},
			Deadlines:   retry.NewDeadlines(t.operationTimeout, t.attemptTimeout),
			IdleTimeout: q.IdleTimeout(),
		}
		_, err := d.Run(ctx, params, retry.NewFullJitter(), func(r readdriver.Row) error {
			rows = append(rows, r)
			return nil
		})
		return rows, err
	})

	var out []Row
	var failures []ShardFailure
	for _, res := range results {
		for _, r := range res.Rows {
			out = append(out, convertRow(r))
		}
		if res.Err != nil {
			failures = append(failures, ShardFailure{ShardIndex: res.Index, Query: queries[res.Index], Cause: res.Err})
		}
	}
	if len(failures) > 0 {
		return out, &ShardedReadGroupError{TotalShards: len(queries), Failures: failures}
	}
	return out, nil
}
