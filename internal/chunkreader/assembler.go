// Package chunkreader assembles a stream of wire chunks into logical rows.
// An Assembler holds the in-progress row state and advances it one chunk
// at a time through Process, returning a row when one commits; it does no
// I/O, which keeps it testable in isolation from any transport.
package chunkreader

import (
	"bytes"
	"fmt"

	"github.com/coldriver/tablestore/internal/rpc"
)

type state int

const (
	awaitingNewRow state = iota
	awaitingNewCell
	awaitingCellValue
)

// Row is the assembler's output unit; the caller (readdriver) converts it
// to the public tablestore.Row once emitted.
type Row struct {
	Key   []byte
	Cells []Cell
}

type Cell struct {
	Family          string
	Qualifier       []byte
	TimestampMicros int64
	Labels          []string
	Value           []byte
}

// InvalidChunkError reports a chunk-stream contract violation.
type InvalidChunkError struct{ Reason string }

func (e *InvalidChunkError) Error() string { return "invalid chunk: " + e.Reason }

func invalid(format string, args ...any) error {
	return &InvalidChunkError{Reason: fmt.Sprintf(format, args...)}
}

// Assembler turns a sequence of chunks into rows. It is single-use per read
// attempt: discard it and build a new one on retry.
type Assembler struct {
	st state

	rowKey       []byte
	family       string
	haveFamily   bool
	qualifier    []byte
	timestamp    int64
	labels       []string
	value        []byte
	cells        []Cell
	rowLimit     int64
	unbounded    bool
	rowsEmitted  int64
}

// New creates an Assembler. rowLimit <= 0 means no limit is enforced.
func New(rowLimit int64) *Assembler {
	return &Assembler{st: awaitingNewRow, rowLimit: rowLimit, unbounded: rowLimit <= 0}
}

// Terminal reports whether the assembler is awaiting a new row, i.e. no
// partial row is buffered.
func (a *Assembler) Terminal() bool { return a.st == awaitingNewRow }

// Process feeds one chunk through the state machine. It returns a non-nil
// *Row exactly when the chunk commits a row.
func (a *Assembler) Process(c rpc.Chunk) (*Row, error) {
	if c.ResetRow {
		return a.processReset(c)
	}

	switch a.st {
	case awaitingNewRow:
		return a.processNewRow(c)
	case awaitingNewCell:
		return a.processNewCell(c)
	case awaitingCellValue:
		return a.processCellValue(c)
	}
	panic("chunkreader: unreachable state")
}

func (a *Assembler) processReset(c rpc.Chunk) (*Row, error) {
	if a.st == awaitingNewRow {
		return nil, invalid("reset_row not permitted between rows")
	}
	if c.HasRowKey || c.HasFamily || c.HasQualifier || c.HasTimestamp ||
		len(c.Labels) > 0 || len(c.Value) > 0 || c.CommitRow {
		return nil, invalid("reset_row chunk carries other fields")
	}
	a.resetPartialRow()
	a.st = awaitingNewRow
	return nil, nil
}

func (a *Assembler) resetPartialRow() {
	a.rowKey = nil
	a.family = ""
	a.haveFamily = false
	a.qualifier = nil
	a.timestamp = 0
	a.labels = nil
	a.value = nil
	a.cells = nil
}

func (a *Assembler) processNewRow(c rpc.Chunk) (*Row, error) {
	if !c.HasRowKey || len(c.RowKey) == 0 {
		return nil, invalid("first chunk of a row must carry a row key")
	}
	a.rowKey = append([]byte(nil), c.RowKey...)
	a.cells = nil
	a.haveFamily = false
	a.st = awaitingNewCell
	return a.processNewCell(c)
}

func (a *Assembler) processNewCell(c rpc.Chunk) (*Row, error) {
	if c.HasRowKey && len(c.RowKey) > 0 && !bytes.Equal(c.RowKey, a.rowKey) {
		return nil, invalid("row key changed mid-row: got %q, in-progress %q", c.RowKey, a.rowKey)
	}
	if c.HasFamily {
		a.family = c.Family
		a.haveFamily = true
	}
	if !a.haveFamily {
		return nil, invalid("cell has no family (carried or inherited)")
	}
	if !c.HasQualifier {
		return nil, invalid("cell has no qualifier")
	}
	a.qualifier = append([]byte(nil), c.Qualifier...)
	a.timestamp = c.TimestampMicros
	a.labels = append([]string(nil), c.Labels...)
	a.value = append([]byte(nil), c.Value...)

	if c.ValueSize > 0 {
		a.st = awaitingCellValue
		if c.CommitRow {
			return nil, invalid("commit_row set while a cell value split is open")
		}
		return nil, nil
	}
	return a.finalizeCell(c.CommitRow)
}

func (a *Assembler) processCellValue(c rpc.Chunk) (*Row, error) {
	if c.HasRowKey || c.HasFamily || c.HasQualifier || c.HasTimestamp || len(c.Labels) > 0 {
		return nil, invalid("value-fragment chunk changed family/qualifier/timestamp/labels")
	}
	if c.CommitRow && c.ValueSize > 0 {
		return nil, invalid("commit_row set while a cell value split is open")
	}
	a.value = append(a.value, c.Value...)
	if c.ValueSize > 0 {
		return nil, nil
	}
	return a.finalizeCell(c.CommitRow)
}

func (a *Assembler) finalizeCell(commitRow bool) (*Row, error) {
	a.cells = append(a.cells, Cell{
		Family:          a.family,
		Qualifier:       a.qualifier,
		TimestampMicros: a.timestamp,
		Labels:          a.labels,
		Value:           a.value,
	})
	a.st = awaitingNewCell

	if !commitRow {
		return nil, nil
	}

	if !a.unbounded {
		a.rowLimit--
		if a.rowLimit < 0 {
			return nil, invalid("row_limit exceeded")
		}
	}
	a.rowsEmitted++

	row := &Row{Key: a.rowKey, Cells: a.cells}
	a.resetPartialRow()
	a.st = awaitingNewRow
	return row, nil
}

// Close validates end-of-stream: the assembler must be back at
// awaitingNewRow, otherwise a row was left partially assembled.
func (a *Assembler) Close() error {
	if !a.Terminal() {
		return invalid("stream ended with a row in progress")
	}
	return nil
}
