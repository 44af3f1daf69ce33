package chunkreader

import (
	"testing"

	"github.com/coldriver/tablestore/internal/rpc"
)

func TestAssemblerSimpleTwoRowRead(t *testing.T) {
	a := New(0)
	chunks := []rpc.Chunk{
		{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v"), CommitRow: true},
		{HasRowKey: true, RowKey: []byte("r2"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v"), CommitRow: true},
	}

	var rows []*Row
	for _, c := range chunks {
		row, err := a.Process(c)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if string(rows[0].Key) != "r1" || string(rows[1].Key) != "r2" {
		t.Fatalf("unexpected row keys: %q, %q", rows[0].Key, rows[1].Key)
	}
	for _, r := range rows {
		if len(r.Cells) != 1 {
			t.Fatalf("row %q: got %d cells, want 1", r.Key, len(r.Cells))
		}
	}
}

func TestAssemblerSplitCellValue(t *testing.T) {
	a := New(0)
	chunks := []rpc.Chunk{
		{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("he"), ValueSize: 5},
		{Value: []byte("llo"), ValueSize: 0, CommitRow: true},
	}
	var row *Row
	for _, c := range chunks {
		r, err := a.Process(c)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if r != nil {
			row = r
		}
	}
	if row == nil {
		t.Fatal("expected a committed row")
	}
	if string(row.Cells[0].Value) != "hello" {
		t.Fatalf("value = %q, want hello", row.Cells[0].Value)
	}
}

func TestAssemblerResetRowDiscardsPartial(t *testing.T) {
	a := New(0)
	if _, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v")}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := a.Process(rpc.Chunk{ResetRow: true}); err != nil {
		t.Fatalf("reset Process: %v", err)
	}
	if !a.Terminal() {
		t.Fatal("expected terminal state after reset")
	}
	row, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r2"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v2"), CommitRow: true})
	if err != nil {
		t.Fatalf("Process after reset: %v", err)
	}
	if string(row.Key) != "r2" {
		t.Fatalf("row key = %q, want r2", row.Key)
	}
}

func TestAssemblerInvalidChunks(t *testing.T) {
	tests := []struct {
		name   string
		build  func() error
	}{
		{
			name: "commit_row while awaiting cell value",
			build: func() error {
				a := New(0)
				if _, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("a"), ValueSize: 3}); err != nil {
					return err
				}
				_, err := a.Process(rpc.Chunk{Value: []byte("bc"), ValueSize: 3, CommitRow: true})
				return err
			},
		},
		{
			name: "reset chunk carrying other fields",
			build: func() error {
				a := New(0)
				if _, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v")}); err != nil {
					return err
				}
				_, err := a.Process(rpc.Chunk{ResetRow: true, HasFamily: true, Family: "f"})
				return err
			},
		},
		{
			name: "reset between rows",
			build: func() error {
				a := New(0)
				_, err := a.Process(rpc.Chunk{ResetRow: true})
				return err
			},
		},
		{
			name: "stream ends mid row",
			build: func() error {
				a := New(0)
				if _, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v")}); err != nil {
					return err
				}
				return a.Close()
			},
		},
		{
			name: "value fragment changes family",
			build: func() error {
				a := New(0)
				if _, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("a"), ValueSize: 3}); err != nil {
					return err
				}
				_, err := a.Process(rpc.Chunk{HasFamily: true, Family: "g", Value: []byte("bc")})
				return err
			},
		},
		{
			name: "row_limit exceeded",
			build: func() error {
				a := New(1)
				if _, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r1"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v"), CommitRow: true}); err != nil {
					return err
				}
				_, err := a.Process(rpc.Chunk{HasRowKey: true, RowKey: []byte("r2"), HasFamily: true, Family: "f", HasQualifier: true, Qualifier: []byte("q"), Value: []byte("v"), CommitRow: true})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			if err == nil {
				t.Fatal("expected an error")
			}
			if _, ok := err.(*InvalidChunkError); !ok {
				t.Fatalf("got %T, want *InvalidChunkError", err)
			}
		})
	}
}
