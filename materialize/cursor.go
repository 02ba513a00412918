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

package materialize

import (
	"database/sql"

	rc "github.com/apache/arrow-adbc/go/resultcache"
)

// ColumnInfo is the metadata a backend reports for one cursor column,
// mirroring *sql.ColumnType.
type ColumnInfo struct {
	Name             string
	DatabaseTypeName string
	// Length is the declared length, 0 when unknown.
	Length    int64
	Precision int64
	Scale     int64
}

// Cursor is an open backend result.
type Cursor interface {
	// Columns describes the result columns.
	Columns() ([]ColumnInfo, error)
	// Next advances to the next row.
	Next() bool
	// Values returns the current row, one value per column.
	Values() ([]any, error)
	// Err returns the error, if any, that ended iteration.
	Err() error
	Close() error
}

type sqlCursor struct {
	rows *sql.Rows
	n    int
}

// FromSQL adapts a database/sql result.
func FromSQL(rows *sql.Rows) Cursor {
	return &sqlCursor{rows: rows}
}

func (c *sqlCursor) Columns() ([]ColumnInfo, error) {
	types, err := c.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make([]ColumnInfo, len(types))
	for i, ct := range types {
		out[i] = ColumnInfo{
			Name:             ct.Name(),
			DatabaseTypeName: ct.DatabaseTypeName(),
		}
		if l, ok := ct.Length(); ok {
			out[i].Length = l
		}
		if p, s, ok := ct.DecimalSize(); ok {
			out[i].Precision = p
			out[i].Scale = s
		}
	}
	c.n = len(types)
	return out, nil
}

func (c *sqlCursor) Next() bool { return c.rows.Next() }

func (c *sqlCursor) Values() ([]any, error) {
	if c.n == 0 {
		cols, err := c.rows.Columns()
		if err != nil {
			return nil, err
		}
		c.n = len(cols)
	}
	vals := make([]any, c.n)
	ptrs := make([]any, c.n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func (c *sqlCursor) Err() error { return c.rows.Err() }

func (c *sqlCursor) Close() error { return c.rows.Close() }

type dataCursor struct {
	cols   []ColumnInfo
	rows   [][]any
	pos    int
	closed bool
}

// FromData serves rows held in memory.
func FromData(columns []ColumnInfo, rows [][]any) Cursor {
	return &dataCursor{cols: columns, rows: rows}
}

func (c *dataCursor) Columns() ([]ColumnInfo, error) {
	out := make([]ColumnInfo, len(c.cols))
	copy(out, c.cols)
	return out, nil
}

func (c *dataCursor) Next() bool {
	if c.closed || c.pos >= len(c.rows) {
		return false
	}
	c.pos++
	return true
}

func (c *dataCursor) Values() ([]any, error) {
	if c.pos == 0 || c.closed {
		return nil, errHelper.Errorf(rc.StatusInvalidState, "no current row")
	}
	row := c.rows[c.pos-1]
	if len(row) != len(c.cols) {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "row %d has %d values, expected %d",
			c.pos-1, len(row), len(c.cols))
	}
	out := make([]any, len(row))
	copy(out, row)
	return out, nil
}

func (c *dataCursor) Err() error { return nil }

func (c *dataCursor) Close() error {
	c.closed = true
	return nil
}
