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

// Package export writes materialized result sets out as Arrow records,
// JSON and CSV.
//
// Values are read through the typed accessors, so every export sees the
// same coercions an application would. Columns of structured types
// (nested cursors, collections, objects, records and geometries) are
// left out.
package export

import (
	"strconv"
	"strings"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var errHelper = rc.ErrorHelper{Component: "export"}

// DefaultBatchSize is the number of rows per record of NewRecordReader.
const DefaultBatchSize = 1024

const maxDecimalPrecision = 38

func exportable(t rc.CanonicalType) bool {
	switch t {
	case rc.TypeTable, rc.TypeArray, rc.TypeObject, rc.TypeProceduralIndexedArray,
		rc.TypeProceduralRecord, rc.TypeNestedResultSet, rc.TypeRefCursor, rc.TypeGeometry:
		return false
	}
	return true
}

// columns returns the indexes of the exportable columns.
func columns(rs *resultset.ResultSet) []int {
	var out []int
	for i, c := range rs.Columns() {
		if exportable(c.Type) {
			out = append(out, i)
		}
	}
	return out
}

var integerTypeNames = map[string]struct{}{
	"INT": {}, "INTEGER": {}, "BIGINT": {}, "SMALLINT": {}, "TINYINT": {},
	"MEDIUMINT": {}, "INT2": {}, "INT4": {}, "INT8": {}, "PLS_INTEGER": {},
	"BINARY_INTEGER": {},
}

func isIntegerName(name string) bool {
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	_, ok := integerTypeNames[strings.ToUpper(strings.TrimSpace(name))]
	return ok
}

// ArrowType is the Arrow type a column is exported as.
func ArrowType(c resultset.Column) arrow.DataType {
	switch c.Type {
	case rc.TypeNumber:
		switch {
		case c.Scale > 0:
			prec := c.Length
			if prec <= 0 || prec > maxDecimalPrecision {
				prec = maxDecimalPrecision
			}
			if c.Scale > prec {
				prec = min(c.Scale, maxDecimalPrecision)
			}
			return &arrow.Decimal128Type{Precision: int32(prec), Scale: int32(min(c.Scale, prec))}
		case isIntegerName(c.TypeName):
			return arrow.PrimitiveTypes.Int64
		default:
			return arrow.PrimitiveTypes.Float64
		}
	case rc.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case rc.TypeDate:
		return arrow.FixedWidthTypes.Date32
	case rc.TypeTimestamp, rc.TypeTimestampWithZone, rc.TypeTimestampLocalZone:
		return arrow.FixedWidthTypes.Timestamp_us
	case rc.TypeIntervalDaySecond:
		return arrow.FixedWidthTypes.Duration_us
	case rc.TypeBinary, rc.TypeLongBinary, rc.TypeLargeBinary, rc.TypeLargeFileRef:
		return arrow.BinaryTypes.Binary
	}
	return arrow.BinaryTypes.String
}

// Schema describes the exportable columns of rs. Field metadata keeps the
// backend type name and canonical type.
func Schema(rs *resultset.ResultSet) *arrow.Schema {
	cols := rs.Columns()
	idx := columns(rs)
	fields := make([]arrow.Field, len(idx))
	for i, ci := range idx {
		c := cols[ci]
		fields[i] = arrow.Field{
			Name:     c.Name,
			Type:     ArrowType(c),
			Nullable: true,
			Metadata: arrow.NewMetadata(
				[]string{"resultcache.type_name", "resultcache.canonical_type", "resultcache.length"},
				[]string{c.TypeName, c.Type.String(), strconv.FormatInt(c.Length, 10)}),
		}
	}
	return arrow.NewSchema(fields, nil)
}

// appendValue appends the current row's value of column ci to b.
func appendValue(b array.Builder, rs *resultset.ResultSet, ci int) error {
	ref := resultset.At(ci)
	cell, err := rs.Cell(ref)
	if err != nil {
		return err
	}
	if cell.IsNull() {
		b.AppendNull()
		return nil
	}

	switch b := b.(type) {
	case *array.Int64Builder:
		v, err := rs.GetLong(ref)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.Float64Builder:
		v, err := rs.GetDouble(ref)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.Decimal128Builder:
		d, err := rs.GetDecimal(ref)
		if err != nil {
			return err
		}
		if d == nil {
			b.AppendNull()
			return nil
		}
		dt := b.Type().(*arrow.Decimal128Type)
		n, err := decimal128.FromString(d.Text('f'), dt.Precision, dt.Scale)
		if err != nil {
			return errHelper.Wrap(err, rc.StatusInvalidCast, "column %d", ci)
		}
		b.Append(n)
	case *array.BooleanBuilder:
		v, err := rs.GetBoolean(ref)
		if err != nil {
			return err
		}
		b.Append(v)
	case *array.Date32Builder:
		v, err := rs.GetTime(ref)
		if err != nil {
			return err
		}
		if !v.Valid {
			b.AppendNull()
			return nil
		}
		b.Append(arrow.Date32FromTime(v.Time))
	case *array.TimestampBuilder:
		v, err := rs.GetTime(ref)
		if err != nil {
			return err
		}
		if !v.Valid {
			b.AppendNull()
			return nil
		}
		ts, err := arrow.TimestampFromTime(v.Time, arrow.Microsecond)
		if err != nil {
			return errHelper.Wrap(err, rc.StatusInvalidCast, "column %d", ci)
		}
		b.Append(ts)
	case *array.DurationBuilder:
		v, err := rs.GetDuration(ref)
		if err != nil {
			return err
		}
		if !v.Valid {
			b.AppendNull()
			return nil
		}
		b.Append(arrow.Duration(v.V.Microseconds()))
	case *array.BinaryBuilder:
		v, err := rs.GetBytes(ref)
		if err != nil {
			return err
		}
		if v == nil {
			b.AppendNull()
			return nil
		}
		b.Append(v)
	case *array.StringBuilder:
		v, err := rs.GetString(ref)
		if err != nil {
			return err
		}
		if !v.Valid {
			b.AppendNull()
			return nil
		}
		b.Append(v.String)
	default:
		return errHelper.Errorf(rc.StatusNotImplemented, "no export for %s", b.Type())
	}
	return nil
}

// buildRecords reads rs in batches of batchSize rows. The caller releases
// the records.
func buildRecords(mem memory.Allocator, rs *resultset.ResultSet, schema *arrow.Schema, batchSize int) (recs []arrow.Record, err error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	idx := columns(rs)
	bldr := array.NewRecordBuilder(mem, schema)
	defer bldr.Release()
	defer func() {
		if err != nil {
			for _, r := range recs {
				r.Release()
			}
			recs = nil
		}
	}()

	view := rs.View()
	n := 0
	for ok := view.First(); ok; ok = view.Next() {
		for fi, ci := range idx {
			if err := appendValue(bldr.Field(fi), view, ci); err != nil {
				return recs, errHelper.Wrap(err, rc.StatusOf(err), "row %d", view.Position())
			}
		}
		n++
		if n == batchSize {
			recs = append(recs, bldr.NewRecord())
			n = 0
		}
	}
	if n > 0 || len(recs) == 0 {
		recs = append(recs, bldr.NewRecord())
	}
	return recs, nil
}

// ToRecord copies every row of rs into a single record. The caller
// releases it.
func ToRecord(mem memory.Allocator, rs *resultset.ResultSet) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	recs, err := buildRecords(mem, rs, Schema(rs), rs.Size()+1)
	if err != nil {
		return nil, err
	}
	return recs[0], nil
}

// NewRecordReader serves the rows of rs as records of at most batchSize
// rows.
func NewRecordReader(mem memory.Allocator, rs *resultset.ResultSet, batchSize int) (array.RecordReader, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema := Schema(rs)
	recs, err := buildRecords(mem, rs, schema, batchSize)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	return array.NewRecordReader(schema, recs)
}
