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

package binding

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/materialize"
	"github.com/cockroachdb/apd/v3"
)

// Statement is a prepared call on the backend. Parameter indexes are
// 0-based.
type Statement interface {
	SetString(i int, v string) error
	// SetNumber receives a Go integer, float, *apd.Decimal or json.Number.
	SetNumber(i int, v any) error
	SetBool(i int, v bool) error
	// SetTime binds v as t, one of the temporal canonical types.
	SetTime(i int, v time.Time, t rc.CanonicalType) error
	SetBytes(i int, v []byte) error
	// SetLob binds a stream as a large object of type t.
	SetLob(i int, r io.Reader, t rc.CanonicalType) error
	// SetIndexedArray binds a slice of scalars as a procedural indexed
	// array.
	SetIndexedArray(i int, values any, typeName string) error
	SetRecord(i int, records []Record, typeName string) error
	// SetObject binds an opaque or structured value of a named backend
	// type.
	SetObject(i int, v any, typeName string) error
	SetNull(i int, t rc.CanonicalType, typeName string) error

	RegisterOut(i int, spec OutSpec) error

	Query(ctx context.Context) (materialize.Cursor, error)
	Exec(ctx context.Context) (int64, error)
	// Out reads output parameter i after Exec. Cursor outputs are
	// returned as a materialize.Cursor or *sql.Rows.
	Out(i int) (any, error)

	Close() error
}

// Preparer prepares calls.
type Preparer interface {
	Prepare(ctx context.Context, query string, callable bool) (Statement, error)
}

var oraCode = regexp.MustCompile(`ORA-(\d{5})`)

// VendorCode extracts the backend error number from err: the VendorCode
// of a wrapped Error or an ORA-nnnnn marker in the message.
func VendorCode(err error) int32 {
	if err == nil {
		return 0
	}
	var e rc.Error
	if errors.As(err, &e) && e.VendorCode != 0 {
		return e.VendorCode
	}
	if m := oraCode.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.ParseInt(m[1], 10, 32)
		return int32(code)
	}
	return 0
}

func bindErr(err error, i int, what string) error {
	if err == nil {
		return nil
	}
	wrapped := errHelper.Wrap(err, rc.StatusBinding, "binding parameter %d as %s", i, what).(rc.Error)
	if wrapped.VendorCode == 0 {
		wrapped.VendorCode = VendorCode(err)
	}
	return wrapped
}

// Bind checks that every slot is set, then binds inputs and registers
// outputs on stmt.
func Bind(ctx context.Context, ps *ParameterSet, stmt Statement) error {
	if err := ps.CheckSet(); err != nil {
		return err
	}
	for i, s := range ps.slots {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.Out || s.Value != nil {
			if err := bindValue(stmt, i, s); err != nil {
				return err
			}
		}
		if s.Out {
			if err := stmt.RegisterOut(i, s.OutSpec); err != nil {
				return bindErr(err, i, "output "+s.OutSpec.Type.String())
			}
		}
	}
	return nil
}

func temporalOr(t, def rc.CanonicalType) rc.CanonicalType {
	if t.IsTemporal() {
		return t
	}
	return def
}

func lobOr(t, def rc.CanonicalType) rc.CanonicalType {
	if t.IsLargeObject() {
		return t
	}
	return def
}

func bindValue(stmt Statement, i int, s Slot) error {
	v := s.Value
	if v == nil {
		if s.Type == rc.TypeNull {
			return bindErr(stmt.SetNull(i, rc.TypeText, ""), i, "null")
		}
		return bindErr(stmt.SetNull(i, s.Type, s.TypeName), i, "null "+s.Type.String())
	}

	switch s.Type {
	case rc.TypeObject, rc.TypeXMLDocument, rc.TypeGeometry:
		return bindErr(stmt.SetObject(i, v, s.TypeName), i, s.Type.String())
	}

	switch v := v.(type) {
	case string:
		if s.Type.IsLargeObject() {
			return bindErr(stmt.SetLob(i, strings.NewReader(v), s.Type), i, s.Type.String())
		}
		return bindErr(stmt.SetString(i, v), i, "text")
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return bindErr(stmt.SetNumber(i, v), i, "number")
	case *apd.Decimal:
		return bindErr(stmt.SetNumber(i, v), i, "number")
	case apd.Decimal:
		return bindErr(stmt.SetNumber(i, new(apd.Decimal).Set(&v)), i, "number")
	case bool:
		return bindErr(stmt.SetBool(i, v), i, "boolean")
	case time.Time:
		t := temporalOr(s.Type, rc.TypeTimestamp)
		return bindErr(stmt.SetTime(i, v, t), i, t.String())
	case []byte:
		if s.Type.IsLargeObject() {
			return bindErr(stmt.SetLob(i, bytes.NewReader(v), s.Type), i, s.Type.String())
		}
		return bindErr(stmt.SetBytes(i, v), i, "binary")
	case io.Reader:
		t := lobOr(s.Type, rc.TypeLargeBinary)
		return bindErr(stmt.SetLob(i, v, t), i, t.String())
	case Record:
		return bindErr(stmt.SetRecord(i, []Record{v}, recordType(s.TypeName, v)), i, "record")
	case []Record:
		name := s.TypeName
		if name == "" && len(v) > 0 {
			name = v[0].TypeName
		}
		return bindErr(stmt.SetRecord(i, v, name), i, "record array")
	case driver.Valuer:
		val, err := v.Value()
		if err != nil {
			return bindErr(err, i, "value")
		}
		if _, nested := val.(driver.Valuer); nested {
			break
		}
		s.Value = val
		return bindValue(stmt, i, s)
	}

	if isScalarSlice(v) {
		return bindErr(stmt.SetIndexedArray(i, v, s.TypeName), i, "indexed array")
	}
	if s.TypeName != "" {
		return bindErr(stmt.SetObject(i, v, s.TypeName), i, s.TypeName)
	}
	return errHelper.Errorf(rc.StatusBinding, "cannot bind parameter %d: unsupported value of type %T", i, v)
}

func recordType(declared string, r Record) string {
	if declared != "" {
		return declared
	}
	return r.TypeName
}

// Backend conditions that denote an empty or absent cursor.
var absentCursorCodes = map[int32]bool{
	1001:  true, // invalid cursor
	1002:  true, // fetch out of sequence
	24338: true, // statement handle not executed
}

// IsAbsentCursor reports whether err means an output cursor was never
// opened or is already exhausted.
func IsAbsentCursor(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	return absentCursorCodes[VendorCode(err)]
}

// Unload reads every output parameter of ps from stmt. Cursor outputs are
// materialized with mat, up to maxRows rows. Absent or empty cursors
// become nil outputs.
func Unload(ctx context.Context, ps *ParameterSet, stmt Statement, mat *materialize.Materializer, maxRows int) error {
	for i, s := range ps.slots {
		if !s.Out {
			continue
		}
		v, err := stmt.Out(i)
		if err != nil {
			if IsAbsentCursor(err) {
				ps.setOutput(i, nil)
				continue
			}
			return bindErr(err, i, "output "+s.OutSpec.Type.String())
		}

		var cur materialize.Cursor
		switch v := v.(type) {
		case materialize.Cursor:
			cur = v
		case *sql.Rows:
			if v != nil {
				cur = materialize.FromSQL(v)
			}
		}
		if cur == nil {
			if isNilCursor(v) {
				v = nil
			}
			ps.setOutput(i, v)
			continue
		}

		rs, err := mat.Materialize(ctx, cur, maxRows)
		if err != nil {
			if IsAbsentCursor(err) {
				ps.setOutput(i, nil)
				continue
			}
			return errHelper.Wrap(err, rc.StatusOf(err), "unloading cursor parameter %d", i)
		}
		ps.setOutput(i, rs)
	}
	return nil
}

func isNilCursor(v any) bool {
	if r, ok := v.(*sql.Rows); ok {
		return r == nil
	}
	return false
}
