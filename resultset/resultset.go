// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package resultset is the in-memory row store produced by materializing a
// backend cursor, together with the typed accessors reading from it.
//
// A ResultSet has a current row. Navigation moves it and the accessors
// (GetInt, GetString, GetTime, ...) read a column of that row, converting
// the stored cell to the requested Go type. Columns are addressed with At
// for a 0-based index or Named for a case-insensitive name.
package resultset

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/classify"
	"golang.org/x/text/cases"
)

const (
	// MaxLobLength is the declared length reported for large objects whose
	// length the backend does not know.
	MaxLobLength int64 = 1<<32 - 1
	// DefaultNumberLength is the precision assumed for numeric columns
	// declared without one.
	DefaultNumberLength int64 = 38
)

var errHelper = rc.ErrorHelper{Component: "resultset"}

// Column describes one column of a result set.
type Column struct {
	Name string
	// TypeName is the backend's type name, as reported by the driver.
	TypeName string
	Type     rc.CanonicalType
	// Length is the declared length in bytes, or the precision of numeric
	// columns.
	Length int64
	// Scale is the number of decimal places.
	Scale int64
}

// Ref selects a column either by 0-based index or by name.
type Ref struct {
	index  int
	name   string
	byName bool
}

// At selects the column at index i.
func At(i int) Ref { return Ref{index: i} }

// Named selects the first column whose name matches name, ignoring case.
func Named(name string) Ref { return Ref{name: name, byName: true} }

func (r Ref) String() string {
	if r.byName {
		return strconv.Quote(r.name)
	}
	return "#" + strconv.Itoa(r.index)
}

// cacheMeta is shared between a result set and all of its views.
type cacheMeta struct {
	mu         sync.Mutex
	expiration time.Time
	reuse      atomic.Int64
}

// ResultSet is a fully materialized set of rows.
//
// A ResultSet is not safe for concurrent use. Use View to obtain an
// independent cursor over the same rows for another goroutine.
type ResultSet struct {
	columns []Column
	folded  []string
	rows    []Row
	pos     int

	hitRowLimit    bool
	hitMemoryLimit bool
	writable       bool

	fs   rc.FileSystem
	meta *cacheMeta
}

// Option configures a ResultSet.
type Option func(*ResultSet)

// WithWritable allows UpdateValue, InsertRow and DeleteRow.
func WithWritable() Option {
	return func(rs *ResultSet) { rs.writable = true }
}

// WithFileSystem sets the file system used to read and delete file cells.
func WithFileSystem(fs rc.FileSystem) Option {
	return func(rs *ResultSet) {
		if fs != nil {
			rs.fs = fs
		}
	}
}

// WithLimits records that materialization stopped at the row cap or ran low
// on memory.
func WithLimits(hitRowLimit, hitMemoryLimit bool) Option {
	return func(rs *ResultSet) {
		rs.hitRowLimit = hitRowLimit
		rs.hitMemoryLimit = hitMemoryLimit
	}
}

// New builds a result set over rows, positioned on the first row. Columns
// with a backend type name but no canonical type are classified. Every row
// must have exactly one cell per column.
func New(columns []Column, rows []Row, opts ...Option) (*ResultSet, error) {
	cols := make([]Column, len(columns))
	copy(cols, columns)
	folder := cases.Fold()
	folded := make([]string, len(cols))
	for i := range cols {
		if cols[i].Type == rc.TypeNull && cols[i].TypeName != "" {
			cols[i].Type = classify.Classify(cols[i].TypeName)
		}
		folded[i] = folder.String(cols[i].Name)
	}

	for i, r := range rows {
		if len(r) != len(cols) {
			return nil, errHelper.Errorf(rc.StatusInvalidArgument,
				"row %d has %d cells, expected %d", i, len(r), len(cols))
		}
	}

	rs := &ResultSet{
		columns: cols,
		folded:  folded,
		rows:    rows,
		pos:     -1,
		fs:      rc.OSFileSystem{},
		meta:    &cacheMeta{},
	}
	for _, o := range opts {
		o(rs)
	}
	rs.First()
	return rs, nil
}

// FromValues builds a result set from plain Go values, one slice per row.
func FromValues(columns []Column, values [][]any, opts ...Option) (*ResultSet, error) {
	rows := make([]Row, len(values))
	for i, vals := range values {
		row := make(Row, len(vals))
		for j, v := range vals {
			row[j] = FromValue(v)
		}
		rows[i] = row
	}
	return New(columns, rows, opts...)
}

// Columns returns a copy of the column descriptors.
func (rs *ResultSet) Columns() []Column {
	out := make([]Column, len(rs.columns))
	copy(out, rs.columns)
	return out
}

func (rs *ResultSet) NumColumns() int { return len(rs.columns) }

// Column returns the descriptor of the referenced column.
func (rs *ResultSet) Column(ref Ref) (Column, error) {
	idx, err := rs.ColumnIndex(ref)
	if err != nil {
		return Column{}, err
	}
	return rs.columns[idx], nil
}

// FindColumn returns the index of the first column named name, ignoring
// case, or -1.
func (rs *ResultSet) FindColumn(name string) int {
	key := cases.Fold().String(name)
	for i, f := range rs.folded {
		if f == key {
			return i
		}
	}
	return -1
}

// ColumnIndex resolves ref to a column index.
func (rs *ResultSet) ColumnIndex(ref Ref) (int, error) {
	if ref.byName {
		if idx := rs.FindColumn(ref.name); idx >= 0 {
			return idx, nil
		}
		return -1, errHelper.Errorf(rc.StatusInvalidColumn, "no column named %q", ref.name)
	}
	if ref.index < 0 || ref.index >= len(rs.columns) {
		return -1, errHelper.Errorf(rc.StatusInvalidColumn,
			"column index %d out of range [0, %d)", ref.index, len(rs.columns))
	}
	return ref.index, nil
}

// Size is the number of rows.
func (rs *ResultSet) Size() int { return len(rs.rows) }

// Position is the 0-based index of the current row, or -1 when there is
// none.
func (rs *ResultSet) Position() int { return rs.pos }

// First moves to the first row and reports whether there is one.
func (rs *ResultSet) First() bool {
	if len(rs.rows) == 0 {
		rs.pos = -1
		return false
	}
	rs.pos = 0
	return true
}

// Last moves to the last row and reports whether there is one.
func (rs *ResultSet) Last() bool {
	if len(rs.rows) == 0 {
		rs.pos = -1
		return false
	}
	rs.pos = len(rs.rows) - 1
	return true
}

// Next advances to the following row. It returns false, leaving the
// position unchanged, on the last row.
func (rs *ResultSet) Next() bool {
	if rs.pos+1 >= len(rs.rows) {
		return false
	}
	rs.pos++
	return true
}

// Previous moves back one row. It returns false, leaving the position
// unchanged, on the first row.
func (rs *ResultSet) Previous() bool {
	if rs.pos <= 0 {
		return false
	}
	rs.pos--
	return true
}

// SetPosition moves to row i.
func (rs *ResultSet) SetPosition(i int) error {
	if len(rs.rows) == 0 {
		return errHelper.Errorf(rc.StatusNoData, "result set has no rows")
	}
	if i < 0 || i >= len(rs.rows) {
		return errHelper.Errorf(rc.StatusInvalidArgument,
			"position %d out of range [0, %d)", i, len(rs.rows))
	}
	rs.pos = i
	return nil
}

// Row returns row i. The returned cells must not be modified.
func (rs *ResultSet) Row(i int) (Row, error) {
	if i < 0 || i >= len(rs.rows) {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument,
			"row %d out of range [0, %d)", i, len(rs.rows))
	}
	return rs.rows[i], nil
}

// Cell returns the raw cell of the referenced column in the current row.
func (rs *ResultSet) Cell(ref Ref) (Cell, error) {
	_, cell, err := rs.lookup(ref)
	return cell, err
}

func (rs *ResultSet) HitRowLimit() bool { return rs.hitRowLimit }

func (rs *ResultSet) HitMemoryLimit() bool { return rs.hitMemoryLimit }

func (rs *ResultSet) Writable() bool { return rs.writable }

// Expiration returns the time after which a cached result set is stale.
// ok is false when no expiration is set.
func (rs *ResultSet) Expiration() (t time.Time, ok bool) {
	rs.meta.mu.Lock()
	defer rs.meta.mu.Unlock()
	return rs.meta.expiration, !rs.meta.expiration.IsZero()
}

// SetExpiration sets or, with the zero time, clears the expiration.
func (rs *ResultSet) SetExpiration(t time.Time) {
	rs.meta.mu.Lock()
	defer rs.meta.mu.Unlock()
	rs.meta.expiration = t
}

// Expired reports whether an expiration is set and now is past it.
func (rs *ResultSet) Expired(now time.Time) bool {
	exp, ok := rs.Expiration()
	return ok && now.After(exp)
}

// ReuseCount is the number of times a cached result set was handed out.
func (rs *ResultSet) ReuseCount() int64 { return rs.meta.reuse.Load() }

// IncrementReuse adds one to the reuse counter and returns the new value.
func (rs *ResultSet) IncrementReuse() int64 { return rs.meta.reuse.Add(1) }

// View returns an independent cursor over the same rows, positioned on the
// first row. Views share expiration and reuse counters and are read-only.
func (rs *ResultSet) View() *ResultSet {
	rows := rs.rows
	if rs.writable {
		rows = make([]Row, len(rs.rows))
		copy(rows, rs.rows)
	}
	v := &ResultSet{
		columns:        rs.columns,
		folded:         rs.folded,
		rows:           rows,
		pos:            -1,
		hitRowLimit:    rs.hitRowLimit,
		hitMemoryLimit: rs.hitMemoryLimit,
		fs:             rs.fs,
		meta:           rs.meta,
	}
	v.First()
	return v
}

func (rs *ResultSet) current() (Row, error) {
	if len(rs.rows) == 0 {
		return nil, errHelper.Errorf(rc.StatusNoData, "result set has no rows")
	}
	if rs.pos < 0 || rs.pos >= len(rs.rows) {
		return nil, errHelper.Errorf(rc.StatusNoData, "no current row")
	}
	return rs.rows[rs.pos], nil
}

func (rs *ResultSet) lookup(ref Ref) (int, Cell, error) {
	row, err := rs.current()
	if err != nil {
		return -1, Cell{}, err
	}
	idx, err := rs.ColumnIndex(ref)
	if err != nil {
		return -1, Cell{}, err
	}
	return idx, row[idx], nil
}
