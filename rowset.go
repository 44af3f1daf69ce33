package tablestore

import (
	"fmt"

	"github.com/coldriver/tablestore/internal/rpc"
)

// RowSet is a set of rows to read: a RowList, a RowRange, or a RowRangeList.
// Grounded on the same interface shape as the legacy Go Bigtable client
// (cloud.google.com/go/bigtable's RowSet), narrowed to the single retain
// operation the Read Driver needs when it rewrites a request around a
// watermark after a retryable mid-stream error.
type RowSet interface {
	// keys returns the explicit keys in this set, if it is (or contains) a RowList.
	keys() [][]byte
	// ranges returns the RowRanges in this set, if any.
	ranges() []RowRange

	// retainAfter drops anything at or before watermark (an exclusive cut)
	// and returns the resulting set, which may be empty.
	retainAfter(watermark []byte) RowSet

	valid() bool
}

// RowList is an explicit sequence of row keys.
type RowList [][]byte

func (r RowList) keys() [][]byte    { return r }
func (r RowList) ranges() []RowRange { return nil }

func (r RowList) retainAfter(watermark []byte) RowSet {
	if len(watermark) == 0 {
		return r
	}
	var kept RowList
	for _, k := range r {
		if bytesGreater(k, watermark) {
			kept = append(kept, k)
		}
	}
	return kept
}

func (r RowList) valid() bool { return len(r) > 0 }

// rangeBound distinguishes inclusive, exclusive, and unbounded endpoints.
type rangeBound int

const (
	boundUnbounded rangeBound = iota
	boundOpen
	boundClosed
)

// RowRange is a half-open or closed interval of row keys.
type RowRange struct {
	startBound rangeBound
	start      []byte
	endBound   rangeBound
	end        []byte
}

// NewClosedOpenRange returns [start, end).
func NewClosedOpenRange(start, end []byte) RowRange {
	return RowRange{startBound: boundClosed, start: start, endBound: boundOpen, end: end}
}

// NewClosedRange returns [start, end].
func NewClosedRange(start, end []byte) RowRange {
	return RowRange{startBound: boundClosed, start: start, endBound: boundClosed, end: end}
}

// InfiniteRange returns [start, ∞).
func InfiniteRange(start []byte) RowRange {
	return RowRange{startBound: boundClosed, start: start, endBound: boundUnbounded}
}

func (r RowRange) keys() [][]byte     { return nil }
func (r RowRange) ranges() []RowRange { return []RowRange{r} }

// retainAfter rewrites the range for a retry past watermark: drop it if
// its end is at or before watermark, otherwise move its start to open just
// past watermark.
func (r RowRange) retainAfter(watermark []byte) RowSet {
	if len(watermark) == 0 {
		return r
	}
	if r.endBound != boundUnbounded && bytesLE(r.end, watermark) {
		return RowRangeList(nil) // fully consumed
	}
	if r.startBound == boundUnbounded || bytesLE(r.start, watermark) {
		return RowRange{
			startBound: boundOpen,
			start:      watermark,
			endBound:   r.endBound,
			end:        r.end,
		}
	}
	return r
}

func (r RowRange) valid() bool {
	if r.startBound == boundUnbounded || r.endBound == boundUnbounded {
		return true
	}
	if r.startBound == boundOpen || r.endBound == boundOpen {
		return bytesLess(r.start, r.end)
	}
	return bytesLE(r.start, r.end)
}

func (r RowRange) String() string {
	return fmt.Sprintf("range(%v,%v)", r.start, r.end)
}

// RowRangeList is the union of several ranges.
type RowRangeList []RowRange

func (r RowRangeList) keys() [][]byte     { return nil }
func (r RowRangeList) ranges() []RowRange { return []RowRange(r) }

func (r RowRangeList) retainAfter(watermark []byte) RowSet {
	if len(watermark) == 0 {
		return r
	}
	var kept RowRangeList
	for _, rr := range r {
		if retained := rr.retainAfter(watermark); retained.valid() {
			kept = append(kept, retained.(RowRange))
		}
	}
	return kept
}

func (r RowRangeList) valid() bool {
	for _, rr := range r {
		if rr.valid() {
			return true
		}
	}
	return false
}

// SingleRow returns a RowSet containing exactly one key.
func SingleRow(key []byte) RowSet { return RowList{key} }

func bytesLess(a, b []byte) bool    { return compareBytes(a, b) < 0 }
func bytesLE(a, b []byte) bool      { return compareBytes(a, b) <= 0 }
func bytesGreater(a, b []byte) bool { return compareBytes(a, b) > 0 }

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

// buildWireRowSet converts a RowSet into the wire representation the rpc
// package expects.
func buildWireRowSet(s RowSet) ([][]byte, []rpc.RowRangeWire) {
	ranges := s.ranges()
	out := make([]rpc.RowRangeWire, len(ranges))
	for i, r := range ranges {
		w := rpc.RowRangeWire{}
		switch r.startBound {
		case boundOpen:
			w.StartKey, w.StartInclusive = r.start, false
		case boundClosed:
			w.StartKey, w.StartInclusive = r.start, true
		case boundUnbounded:
			w.StartUnbounded = true
		}
		switch r.endBound {
		case boundOpen:
			w.EndKey, w.EndInclusive = r.end, false
		case boundClosed:
			w.EndKey, w.EndInclusive = r.end, true
		case boundUnbounded:
			w.EndUnbounded = true
		}
		out[i] = w
	}
	return s.keys(), out
}
