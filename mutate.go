package tablestore

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/coldriver/tablestore/internal/metrics"
	"github.com/coldriver/tablestore/internal/mutate"
	"github.com/coldriver/tablestore/internal/retry"
	"github.com/coldriver/tablestore/internal/rpc"
)

func classifyMutate(retryable RetryableSet) mutate.Classifier {
	return func(err error) (mutate.RetryKind, bool) {
		code := codeOf(err)
		kind := Classify(code, err)
		switch kind {
		case KindTransientTransport:
			return mutate.RetryTransient, retryable.allows(KindTransientTransport)
		case KindRateLimit:
			return mutate.RetryRateLimit, retryable.allows(KindRateLimit)
		default:
			return mutate.RetryNone, false
		}
	}
}

// codeOf extracts an rpc.Code from err, covering both grpc-status errors
// and the driver's own sentinel types.
func codeOf(err error) rpc.Code {
	if ee, ok := err.(*mutate.EntryRPCError); ok {
		return ee.Code
	}
	return rpc.GRPCCodeOf(err)
}

// ExecuteMutations submits entries and blocks until every entry terminates.
// onTerminal, if non-nil, is called exactly once per entry as
// it leaves the live set. It returns nil iff every entry succeeded;
// otherwise a *MutationGroupError listing the per-entry failures.
func (t *Table) ExecuteMutations(ctx context.Context, entries []MutationEntry, onTerminal func(MutationEntry, error)) (err error) {
	ctx, span := t.startSpan(ctx, "tablestore.ExecuteMutations", attribute.Int("tablestore.entry_count", len(entries)))
	defer func() { endSpan(span, err) }()

	if err := t.checkDeadlines(); err != nil {
		return err
	}

	driverEntries := make([]mutate.Entry, len(entries))
	for i, e := range entries {
		driverEntries[i] = mutate.Entry{RowKey: e.RowKey, Mutations: e.wireMutations(), Idempotent: e.IsIdempotent()}
	}

	recorder := metrics.New("tablestore.ExecuteMutations", false, t.client.logger, t.client.handlers...)
	driver := &mutate.Driver{Stub: t.client.stub(), Classify: classifyMutate(t.mutateRetryableSet), Recorder: recorder}
	deadlines := retry.NewDeadlines(t.operationTimeout, t.attemptTimeout)
	bo := retry.NewFullJitter()

	outcomes := driver.Run(ctx, t.name, t.appProfileID, driverEntries, deadlines, bo, func(i int, _ mutate.Entry, err error) {
		if onTerminal != nil {
			onTerminal(entries[i], err)
		}
	})

	var failures []EntryFailure
	for _, o := range outcomes {
		if o.Err != nil {
			failures = append(failures, EntryFailure{Index: o.Index, Entry: entries[o.Index], Cause: o.Err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &MutationGroupError{TotalEntries: len(entries), Failures: failures}
}

// CheckAndMutateRow applies trueMuts if predicateFilter matches key,
// otherwise falseMuts. It returns whether the predicate matched.
func (t *Table) CheckAndMutateRow(ctx context.Context, key []byte, predicateFilter []byte, trueMuts, falseMuts []*Mutation) (bool, error) {
	var trueWire, falseWire []rpc.Mutation
	for _, m := range trueMuts {
		trueWire = append(trueWire, m.ops...)
	}
	for _, m := range falseMuts {
		falseWire = append(falseWire, m.ops...)
	}
	resp, err := t.client.stub().CheckAndMutateRow(ctx, &rpc.CheckAndMutateRowRequest{
		TableName: t.name, AppProfileID: t.appProfileID, RowKey: key,
		PredicateFilter: predicateFilter, TrueMutations: trueWire, FalseMutations: falseWire,
	})
	if err != nil {
		return false, err
	}
	return resp.PredicateMatched, nil
}

// ApplyReadModifyWrite applies rmw's append/increment rules to key's row
// and returns the resulting cells.
func (t *Table) ApplyReadModifyWrite(ctx context.Context, key []byte, rmw *ReadModifyWrite) ([]Cell, error) {
	resp, err := t.client.stub().ReadModifyWriteRow(ctx, &rpc.ReadModifyWriteRowRequest{
		TableName: t.name, AppProfileID: t.appProfileID, RowKey: key, Rules: rmw.ops,
	})
	if err != nil {
		return nil, err
	}
	cells := make([]Cell, len(resp.Row))
	for i, c := range resp.Row {
		cells[i] = Cell{Family: c.Family, Qualifier: c.Qualifier, TimestampMicros: c.TimestampMicros, Labels: c.Labels, Value: c.Value}
	}
	return cells, nil
}
