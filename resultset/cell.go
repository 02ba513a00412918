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

package resultset

import (
	"database/sql/driver"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// CellKind identifies which representation a Cell holds.
type CellKind uint8

const (
	KindNull    CellKind = iota // null
	KindScalar                  // scalar
	KindBytes                   // bytes
	KindChars                   // chars
	KindFile                    // file
	KindHandle                  // handle
	KindFailure                 // failure
)

func (k CellKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindBytes:
		return "bytes"
	case KindChars:
		return "chars"
	case KindFile:
		return "file"
	case KindHandle:
		return "handle"
	case KindFailure:
		return "failure"
	}
	return fmt.Sprintf("CellKind(%d)", uint8(k))
}

// Cell is a single materialized value. The zero Cell is null.
//
// A Failure cell carries the error captured while decoding the value; it is
// only returned to the caller when the cell is read.
type Cell struct {
	kind    CellKind
	scalar  any
	bytes   []byte
	chars   []rune
	path    string
	managed bool
	err     error
}

// Null returns a null cell.
func Null() Cell { return Cell{} }

// Scalar wraps a number, text, boolean, temporal or other inline value.
// A nil value yields a null cell.
func Scalar(v any) Cell {
	if v == nil {
		return Cell{}
	}
	return Cell{kind: KindScalar, scalar: v}
}

// Bytes wraps a byte sequence read from a large object.
func Bytes(b []byte) Cell {
	if b == nil {
		return Cell{}
	}
	return Cell{kind: KindBytes, bytes: b}
}

// Chars wraps a character sequence read from a large object.
func Chars(r []rune) Cell {
	if r == nil {
		return Cell{}
	}
	return Cell{kind: KindChars, chars: r}
}

// File references a file holding the value. A managed file is deleted by
// whoever created it; DeleteGeneratedFiles only removes unmanaged files.
func File(path string, managed bool) Cell {
	return Cell{kind: KindFile, path: path, managed: managed}
}

// Handle keeps an opaque driver-side large object handle.
func Handle(h any) Cell {
	if h == nil {
		return Cell{}
	}
	return Cell{kind: KindHandle, scalar: h}
}

// Failure defers err until the cell is read.
func Failure(err error) Cell {
	return Cell{kind: KindFailure, err: err}
}

// FromValue wraps a driver value into the matching cell.
func FromValue(v any) Cell {
	switch v := v.(type) {
	case nil:
		return Cell{}
	case Cell:
		return v
	case *apd.Decimal:
		if v == nil {
			return Cell{}
		}
		return Scalar(v)
	case apd.Decimal:
		return Scalar(new(apd.Decimal).Set(&v))
	case []byte:
		if v == nil {
			return Cell{}
		}
		return Scalar(v)
	case driver.Valuer:
		val, err := v.Value()
		if err != nil {
			return Failure(err)
		}
		if val == nil {
			return Cell{}
		}
		if _, ok := val.(driver.Valuer); ok {
			return Scalar(val)
		}
		return FromValue(val)
	}
	return Scalar(v)
}

func (c Cell) Kind() CellKind { return c.kind }

func (c Cell) IsNull() bool { return c.kind == KindNull }

// Err returns the deferred error of a Failure cell.
func (c Cell) Err() error { return c.err }

// Path returns the file of a File cell.
func (c Cell) Path() string { return c.path }

// Managed reports whether a File cell is deleted by its creator.
func (c Cell) Managed() bool { return c.managed }

// Value returns the cell contents as a plain Go value: the scalar or handle,
// the byte or rune slice, or the file path. Null and Failure cells return
// nil.
func (c Cell) Value() any {
	switch c.kind {
	case KindScalar, KindHandle:
		return c.scalar
	case KindBytes:
		return c.bytes
	case KindChars:
		return c.chars
	case KindFile:
		return c.path
	}
	return nil
}

func (c Cell) String() string {
	switch c.kind {
	case KindNull:
		return "NULL"
	case KindFailure:
		return "!" + c.err.Error()
	case KindChars:
		return string(c.chars)
	case KindBytes:
		return string(c.bytes)
	}
	return fmt.Sprint(c.Value())
}

// Row is a fixed-width sequence of cells aligned with the result set
// columns.
type Row []Cell
