package tablestore

// Cell is a single versioned value within a row. Immutable once emitted by
// the Row Assembler.
type Cell struct {
	Family          string
	Qualifier       []byte
	TimestampMicros int64
	Labels          []string
	Value           []byte
}

// Row is a row key plus its cells in native order: family lex-asc,
// qualifier lex-asc, timestamp desc. The assembler
// guarantees this order on emission; nothing downstream re-sorts it.
type Row struct {
	Key   []byte
	Cells []Cell
}
