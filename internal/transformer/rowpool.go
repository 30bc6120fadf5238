// Package transformer turns raw input rows into typed trips.
// This file defines the pooled Row the reader fills and the loader consumes.
package transformer

import "sync"

// Row is a pooled positional row aligned to Columns.
//
// V[i] is the raw string of column i, or nil when the input file has no such
// column. The consumer calls Free once it no longer reads r.V.
type Row struct {
	V    []any
	Line int // 1-based record number in the input file, header included
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and every element nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Text returns column i as a string and whether the column was present.
func (r *Row) Text(i int) (string, bool) {
	if i < 0 || i >= len(r.V) || r.V[i] == nil {
		return "", false
	}
	s, ok := r.V[i].(string)
	return s, ok
}
