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
	"database/sql"
	"io"
	"math"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/cockroachdb/apd/v3"
	"golang.org/x/exp/constraints"
)

// Accessors come in two flavors. The primitive ones (GetByte, GetShort,
// GetInt, GetLong, GetFloat, GetDouble, GetBoolean) cannot represent
// absence and fail with StatusNullExtraction on a null cell. All others
// return a null value instead.
//
// Every accessor fails with StatusNoData when the result set is empty,
// StatusInvalidColumn when ref does not resolve, the deferred error of a
// cell that could not be decoded, and StatusInvalidCast when the column
// type cannot be converted or the value does not fit the target.

func primitiveSigned[T constraints.Signed](rs *ResultSet, ref Ref, targetName string) (T, error) {
	src, err := rs.read(ref, targetInt, targetName)
	if err != nil {
		return 0, err
	}
	if src.null {
		return 0, src.nullErr(targetName)
	}
	v, err := src.toInt64(targetName)
	if err != nil {
		return 0, err
	}
	return narrow[T](src, v, targetName)
}

func (rs *ResultSet) GetByte(ref Ref) (int8, error) {
	return primitiveSigned[int8](rs, ref, "int8")
}

func (rs *ResultSet) GetShort(ref Ref) (int16, error) {
	return primitiveSigned[int16](rs, ref, "int16")
}

func (rs *ResultSet) GetInt(ref Ref) (int32, error) {
	return primitiveSigned[int32](rs, ref, "int32")
}

func (rs *ResultSet) GetLong(ref Ref) (int64, error) {
	return primitiveSigned[int64](rs, ref, "int64")
}

func (rs *ResultSet) GetDouble(ref Ref) (float64, error) {
	src, err := rs.read(ref, targetFloat, "float64")
	if err != nil {
		return 0, err
	}
	if src.null {
		return 0, src.nullErr("float64")
	}
	return src.toFloat64("float64")
}

func (rs *ResultSet) GetFloat(ref Ref) (float32, error) {
	src, err := rs.read(ref, targetFloat, "float32")
	if err != nil {
		return 0, err
	}
	if src.null {
		return 0, src.nullErr("float32")
	}
	f, err := src.toFloat64("float32")
	if err != nil {
		return 0, err
	}
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
		return 0, src.valueErr("float32", f)
	}
	return float32(f), nil
}

func (rs *ResultSet) GetBoolean(ref Ref) (bool, error) {
	src, err := rs.read(ref, targetBool, "bool")
	if err != nil {
		return false, err
	}
	if src.null {
		return false, src.nullErr("bool")
	}
	return src.toBool("bool")
}

func (rs *ResultSet) GetNullInt16(ref Ref) (sql.NullInt16, error) {
	src, err := rs.read(ref, targetInt, "int16")
	if err != nil || src.null {
		return sql.NullInt16{}, err
	}
	v, err := src.toInt64("int16")
	if err != nil {
		return sql.NullInt16{}, err
	}
	n, err := narrow[int16](src, v, "int16")
	if err != nil {
		return sql.NullInt16{}, err
	}
	return sql.NullInt16{Int16: n, Valid: true}, nil
}

func (rs *ResultSet) GetNullInt32(ref Ref) (sql.NullInt32, error) {
	src, err := rs.read(ref, targetInt, "int32")
	if err != nil || src.null {
		return sql.NullInt32{}, err
	}
	v, err := src.toInt64("int32")
	if err != nil {
		return sql.NullInt32{}, err
	}
	n, err := narrow[int32](src, v, "int32")
	if err != nil {
		return sql.NullInt32{}, err
	}
	return sql.NullInt32{Int32: n, Valid: true}, nil
}

func (rs *ResultSet) GetNullInt64(ref Ref) (sql.NullInt64, error) {
	src, err := rs.read(ref, targetInt, "int64")
	if err != nil || src.null {
		return sql.NullInt64{}, err
	}
	v, err := src.toInt64("int64")
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: v, Valid: true}, nil
}

func (rs *ResultSet) GetNullFloat64(ref Ref) (sql.NullFloat64, error) {
	src, err := rs.read(ref, targetFloat, "float64")
	if err != nil || src.null {
		return sql.NullFloat64{}, err
	}
	v, err := src.toFloat64("float64")
	if err != nil {
		return sql.NullFloat64{}, err
	}
	return sql.NullFloat64{Float64: v, Valid: true}, nil
}

func (rs *ResultSet) GetNullBool(ref Ref) (sql.NullBool, error) {
	src, err := rs.read(ref, targetBool, "bool")
	if err != nil || src.null {
		return sql.NullBool{}, err
	}
	v, err := src.toBool("bool")
	if err != nil {
		return sql.NullBool{}, err
	}
	return sql.NullBool{Bool: v, Valid: true}, nil
}

// GetDecimal returns an exact decimal, or nil for a null cell.
func (rs *ResultSet) GetDecimal(ref Ref) (*apd.Decimal, error) {
	src, err := rs.read(ref, targetDecimal, "decimal")
	if err != nil || src.null {
		return nil, err
	}
	return src.toDecimal("decimal")
}

// GetString formats the cell as text. Large objects yield their file path,
// or their bytes or characters as a string.
func (rs *ResultSet) GetString(ref Ref) (sql.NullString, error) {
	src, err := rs.read(ref, targetString, "string")
	if err != nil || src.null {
		return sql.NullString{}, err
	}
	s, err := src.toString("string")
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: s, Valid: true}, nil
}

// GetTime normalizes the four temporal shapes, and parseable text, to a
// time.Time.
func (rs *ResultSet) GetTime(ref Ref) (sql.NullTime, error) {
	src, err := rs.read(ref, targetTime, "time")
	if err != nil || src.null {
		return sql.NullTime{}, err
	}
	t, err := src.toTime("time")
	if err != nil {
		return sql.NullTime{}, err
	}
	return sql.NullTime{Time: t, Valid: true}, nil
}

func (rs *ResultSet) GetDuration(ref Ref) (sql.Null[time.Duration], error) {
	src, err := rs.read(ref, targetDuration, "duration")
	if err != nil || src.null {
		return sql.Null[time.Duration]{}, err
	}
	d, err := src.toDuration("duration")
	if err != nil {
		return sql.Null[time.Duration]{}, err
	}
	return sql.Null[time.Duration]{V: d, Valid: true}, nil
}

// GetBytes returns the raw bytes of the cell. File cells are read from
// disk.
func (rs *ResultSet) GetBytes(ref Ref) ([]byte, error) {
	src, err := rs.read(ref, targetBytes, "[]byte")
	if err != nil || src.null {
		return nil, err
	}
	return src.toBytes("[]byte")
}

func (rs *ResultSet) GetChars(ref Ref) ([]rune, error) {
	src, err := rs.read(ref, targetChars, "[]rune")
	if err != nil || src.null {
		return nil, err
	}
	return src.toChars("[]rune")
}

// GetReader streams the cell. The caller must close the returned reader.
func (rs *ResultSet) GetReader(ref Ref) (io.ReadCloser, error) {
	src, err := rs.read(ref, targetReader, "reader")
	if err != nil || src.null {
		return nil, err
	}
	return src.toReader("reader")
}

// GetFilePath returns the file holding an offloaded large object.
func (rs *ResultSet) GetFilePath(ref Ref) (sql.NullString, error) {
	src, err := rs.read(ref, targetFilePath, "file path")
	if err != nil || src.null {
		return sql.NullString{}, err
	}
	p, err := src.toFilePath("file path")
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: p, Valid: true}, nil
}

// GetObject returns the stored value without conversion. Character large
// objects are returned as strings.
func (rs *ResultSet) GetObject(ref Ref) (any, error) {
	src, err := rs.read(ref, targetObject, "object")
	if err != nil || src.null {
		return nil, err
	}
	return src.toObject(), nil
}

// SaveFile copies an offloaded large object to dst.
func (rs *ResultSet) SaveFile(ref Ref, dst string) error {
	src, err := rs.read(ref, targetFilePath, "file path")
	if err != nil {
		return err
	}
	if src.null || src.cell.kind != KindFile {
		return src.castErr("file path")
	}
	if err := rs.fs.CopyFile(dst, src.cell.path); err != nil {
		return errHelper.Wrap(err, rc.StatusIO, "copying column %q to %s", src.col.Name, dst)
	}
	return nil
}
