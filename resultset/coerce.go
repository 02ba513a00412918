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
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/cockroachdb/apd/v3"
	"golang.org/x/exp/constraints"
)

type target uint8

const (
	targetInt target = iota
	targetFloat
	targetDecimal
	targetString
	targetBool
	targetTime
	targetBytes
	targetChars
	targetReader
	targetFilePath
	targetDuration
	targetObject
)

type targetSet uint16

func setOf(ts ...target) targetSet {
	var s targetSet
	for _, t := range ts {
		s |= 1 << t
	}
	return s
}

func (s targetSet) has(t target) bool { return s&(1<<t) != 0 }

// allowed is the single compatibility table shared by every accessor.
// TypeNull and TypeOther columns are resolved per cell by dynamicType.
var allowed = [rc.NumCanonicalTypes]targetSet{
	rc.TypeText: setOf(targetInt, targetFloat, targetDecimal, targetString, targetBool,
		targetTime, targetBytes, targetChars, targetReader, targetDuration, targetObject),
	rc.TypeNumber: setOf(targetInt, targetFloat, targetDecimal, targetString, targetBool, targetObject),

	rc.TypeDate:               setOf(targetString, targetTime, targetObject),
	rc.TypeTimestamp:          setOf(targetString, targetTime, targetObject),
	rc.TypeTimestampWithZone:  setOf(targetString, targetTime, targetObject),
	rc.TypeTimestampLocalZone: setOf(targetString, targetTime, targetObject),

	rc.TypeLongText:     setOf(targetString, targetBytes, targetChars, targetReader, targetFilePath, targetObject),
	rc.TypeLargeText:    setOf(targetString, targetBytes, targetChars, targetReader, targetFilePath, targetObject),
	rc.TypeLongBinary:   setOf(targetString, targetBytes, targetReader, targetFilePath, targetObject),
	rc.TypeLargeBinary:  setOf(targetString, targetBytes, targetReader, targetFilePath, targetObject),
	rc.TypeLargeFileRef: setOf(targetString, targetBytes, targetReader, targetFilePath, targetObject),
	rc.TypeBinary:       setOf(targetString, targetBytes, targetReader, targetObject),

	rc.TypeBoolean: setOf(targetBool, targetInt, targetString, targetObject),
	rc.TypeRowID:   setOf(targetString, targetObject),

	rc.TypeIntervalYearMonth: setOf(targetString, targetObject),
	rc.TypeIntervalDaySecond: setOf(targetString, targetDuration, targetObject),

	rc.TypeXMLDocument: setOf(targetString, targetChars, targetReader, targetObject),
	rc.TypeGeometry:    setOf(targetBytes, targetObject),

	rc.TypeRefCursor:              setOf(targetObject),
	rc.TypeNestedResultSet:        setOf(targetObject),
	rc.TypeObject:                 setOf(targetObject),
	rc.TypeTable:                  setOf(targetObject),
	rc.TypeArray:                  setOf(targetObject),
	rc.TypeProceduralIndexedArray: setOf(targetObject),
	rc.TypeProceduralRecord:       setOf(targetObject),
}

// dynamicType derives a canonical type from the Go value of a cell in a
// column whose backend type is unknown.
func dynamicType(c Cell) rc.CanonicalType {
	switch c.kind {
	case KindBytes:
		return rc.TypeLargeBinary
	case KindChars:
		return rc.TypeLargeText
	case KindFile:
		return rc.TypeLargeFileRef
	case KindHandle:
		return rc.TypeObject
	}
	switch c.scalar.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, *apd.Decimal, json.Number:
		return rc.TypeNumber
	case string:
		return rc.TypeText
	case bool:
		return rc.TypeBoolean
	case time.Time:
		return rc.TypeTimestamp
	case time.Duration:
		return rc.TypeIntervalDaySecond
	case []byte:
		return rc.TypeBinary
	}
	return rc.TypeObject
}

// isNullCell treats a zero-length encoding of a zone-aware temporal value
// as null.
func isNullCell(ct rc.CanonicalType, c Cell) bool {
	if c.kind == KindNull {
		return true
	}
	if !ct.IsZoned() || c.kind != KindScalar {
		return false
	}
	switch v := c.scalar.(type) {
	case []byte:
		return len(v) == 0
	case string:
		return len(v) == 0
	}
	return false
}

// source is a cell that passed the row, column and compatibility checks.
type source struct {
	col  Column
	ct   rc.CanonicalType
	cell Cell
	null bool
	fs   rc.FileSystem
}

func (rs *ResultSet) read(ref Ref, t target, targetName string) (source, error) {
	idx, cell, err := rs.lookup(ref)
	if err != nil {
		return source{}, err
	}
	src := source{col: rs.columns[idx], ct: rs.columns[idx].Type, cell: cell, fs: rs.fs}
	if cell.kind == KindFailure {
		return src, cell.err
	}
	if isNullCell(src.ct, cell) {
		src.null = true
		return src, nil
	}
	if src.ct == rc.TypeNull || src.ct == rc.TypeOther {
		src.ct = dynamicType(cell)
	}
	if !allowed[src.ct].has(t) {
		return src, src.castErr(targetName)
	}
	return src, nil
}

func (s source) castErr(targetName string) error {
	return errHelper.Errorf(rc.StatusInvalidCast,
		"cannot convert column %q of type %s to %s", s.col.Name, s.ct, targetName)
}

func (s source) valueErr(targetName string, v any) error {
	return errHelper.Errorf(rc.StatusInvalidCast,
		"value %v of column %q (%s) does not fit %s", v, s.col.Name, s.ct, targetName)
}

func (s source) nullErr(targetName string) error {
	return errHelper.Errorf(rc.StatusNullExtraction,
		"column %q is null, cannot extract %s", s.col.Name, targetName)
}

func (s source) toInt64(targetName string) (int64, error) {
	switch v := s.cell.Value().(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint64:
		return uintToInt(s, v, targetName)
	case uint:
		return uintToInt(s, uint64(v), targetName)
	case uint32:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case float64:
		return s.floatToInt(v, targetName)
	case float32:
		return s.floatToInt(float64(v), targetName)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case *apd.Decimal:
		return s.decimalToInt(v, targetName)
	case json.Number:
		return s.textToInt(string(v), targetName)
	case string:
		return s.textToInt(v, targetName)
	case []byte:
		return s.textToInt(string(v), targetName)
	}
	return 0, s.castErr(targetName)
}

func uintToInt(s source, v uint64, targetName string) (int64, error) {
	if v > math.MaxInt64 {
		return 0, s.valueErr(targetName, v)
	}
	return int64(v), nil
}

func (s source) floatToInt(v float64, targetName string) (int64, error) {
	if math.IsNaN(v) || v >= math.MaxInt64 || v < math.MinInt64 {
		return 0, s.valueErr(targetName, v)
	}
	return int64(math.Trunc(v)), nil
}

func (s source) decimalToInt(d *apd.Decimal, targetName string) (int64, error) {
	ctx := apd.BaseContext.WithPrecision(1024)
	ctx.Rounding = apd.RoundDown
	var whole apd.Decimal
	if _, err := ctx.RoundToIntegralValue(&whole, d); err != nil {
		return 0, s.valueErr(targetName, d)
	}
	i, err := whole.Int64()
	if err != nil {
		return 0, s.valueErr(targetName, d)
	}
	return i, nil
}

func (s source) textToInt(text, targetName string) (int64, error) {
	text = strings.TrimSpace(text)
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return i, nil
	}
	d, _, err := apd.NewFromString(text)
	if err != nil {
		return 0, s.valueErr(targetName, strconv.Quote(text))
	}
	return s.decimalToInt(d, targetName)
}

// narrow range-checks v against T before converting.
func narrow[T constraints.Signed](s source, v int64, targetName string) (T, error) {
	n := T(v)
	if int64(n) != v {
		return 0, s.valueErr(targetName, v)
	}
	return n, nil
}

func (s source) toFloat64(targetName string) (float64, error) {
	switch v := s.cell.Value().(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case *apd.Decimal:
		f, err := v.Float64()
		if err != nil {
			return 0, s.valueErr(targetName, v)
		}
		return f, nil
	case json.Number:
		return s.textToFloat(string(v), targetName)
	case string:
		return s.textToFloat(v, targetName)
	case []byte:
		return s.textToFloat(string(v), targetName)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	i, err := s.toInt64(targetName)
	if err != nil {
		return 0, err
	}
	return float64(i), nil
}

func (s source) textToFloat(text, targetName string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, s.valueErr(targetName, strconv.Quote(text))
	}
	return f, nil
}

func (s source) toDecimal(targetName string) (*apd.Decimal, error) {
	switch v := s.cell.Value().(type) {
	case *apd.Decimal:
		return new(apd.Decimal).Set(v), nil
	case float64:
		d, err := new(apd.Decimal).SetFloat64(v)
		if err != nil {
			return nil, s.valueErr(targetName, v)
		}
		return d, nil
	case float32:
		d, err := new(apd.Decimal).SetFloat64(float64(v))
		if err != nil {
			return nil, s.valueErr(targetName, v)
		}
		return d, nil
	case uint64:
		d, _, err := apd.NewFromString(strconv.FormatUint(v, 10))
		if err != nil {
			return nil, s.valueErr(targetName, v)
		}
		return d, nil
	case json.Number:
		return s.textToDecimal(string(v), targetName)
	case string:
		return s.textToDecimal(v, targetName)
	case []byte:
		return s.textToDecimal(string(v), targetName)
	}
	i, err := s.toInt64(targetName)
	if err != nil {
		return nil, err
	}
	return apd.New(i, 0), nil
}

func (s source) textToDecimal(text, targetName string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return nil, s.valueErr(targetName, strconv.Quote(text))
	}
	return d, nil
}

var (
	trueTokens  = map[string]struct{}{"Y": {}, "T": {}, "1": {}, "YES": {}, "TRUE": {}}
	falseTokens = map[string]struct{}{"N": {}, "F": {}, "0": {}, "NO": {}, "FALSE": {}}
)

// parseBoolToken reads the fixed positive and negative tokens. Anything
// else is false.
func parseBoolToken(text string) bool {
	token := strings.ToUpper(strings.TrimSpace(text))
	if _, ok := trueTokens[token]; ok {
		return true
	}
	if _, ok := falseTokens[token]; ok {
		return false
	}
	return false
}

func (s source) toBool(targetName string) (bool, error) {
	switch v := s.cell.Value().(type) {
	case bool:
		return v, nil
	case string:
		return parseBoolToken(v), nil
	case []byte:
		return parseBoolToken(string(v)), nil
	case json.Number:
		return parseBoolToken(string(v)), nil
	case *apd.Decimal:
		return !v.IsZero(), nil
	case float64:
		return v != 0, nil
	case float32:
		return v != 0, nil
	}
	i, err := s.toInt64(targetName)
	if err != nil {
		return false, err
	}
	return i != 0, nil
}

const (
	dateLayout      = "2006-01-02 15:04:05"
	timestampLayout = "2006-01-02 15:04:05.999999999"
	zonedLayout     = "2006-01-02 15:04:05.999999999 -07:00"
)

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	zonedLayout,
	// time.Time.String, which database/sql drivers use to store bound times
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	timestampLayout,
	"2006-01-02",
}

func formatTime(ct rc.CanonicalType, t time.Time) string {
	switch ct {
	case rc.TypeDate:
		return t.Format(dateLayout)
	case rc.TypeTimestampWithZone, rc.TypeTimestampLocalZone:
		return t.Format(zonedLayout)
	}
	return t.Format(timestampLayout)
}

func formatFloat(f float64, bitSize int) string {
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'g', -1, bitSize)
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}

func (s source) toString(targetName string) (string, error) {
	switch s.cell.kind {
	case KindBytes:
		return string(s.cell.bytes), nil
	case KindChars:
		return string(s.cell.chars), nil
	case KindFile:
		return s.cell.path, nil
	}

	switch v := s.cell.scalar.(type) {
	case string:
		return v, nil
	case []byte:
		if s.ct == rc.TypeBinary || s.ct == rc.TypeGeometry {
			return strings.ToUpper(hex.EncodeToString(v)), nil
		}
		return string(v), nil
	case time.Time:
		return formatTime(s.ct, v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return formatFloat(v, 64), nil
	case float32:
		return formatFloat(float64(v), 32), nil
	case *apd.Decimal:
		return v.Text('f'), nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return "", s.castErr(targetName)
	}
	return fmt.Sprint(s.cell.scalar), nil
}

func (s source) toTime(targetName string) (time.Time, error) {
	var text string
	switch v := s.cell.Value().(type) {
	case time.Time:
		return v, nil
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return time.Time{}, s.castErr(targetName)
	}
	text = strings.TrimSpace(text)
	if i := strings.Index(text, " m="); i > 0 {
		text = text[:i]
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	return time.Time{}, s.valueErr(targetName, strconv.Quote(text))
}

func (s source) readFile() ([]byte, error) {
	f, err := s.fs.Open(s.cell.path)
	if err != nil {
		return nil, errHelper.Wrap(err, rc.StatusIO, "reading column %q", s.col.Name)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errHelper.Wrap(err, rc.StatusIO, "reading column %q", s.col.Name)
	}
	return data, nil
}

func (s source) toBytes(targetName string) ([]byte, error) {
	switch s.cell.kind {
	case KindBytes:
		return s.cell.bytes, nil
	case KindChars:
		return []byte(string(s.cell.chars)), nil
	case KindFile:
		return s.readFile()
	}
	switch v := s.cell.scalar.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, s.castErr(targetName)
}

func (s source) toChars(targetName string) ([]rune, error) {
	switch s.cell.kind {
	case KindChars:
		return s.cell.chars, nil
	case KindBytes:
		return []rune(string(s.cell.bytes)), nil
	case KindFile:
		data, err := s.readFile()
		if err != nil {
			return nil, err
		}
		return []rune(string(data)), nil
	}
	switch v := s.cell.scalar.(type) {
	case string:
		return []rune(v), nil
	case []byte:
		return []rune(string(v)), nil
	}
	return nil, s.castErr(targetName)
}

func (s source) toReader(targetName string) (io.ReadCloser, error) {
	switch s.cell.kind {
	case KindBytes:
		return io.NopCloser(bytes.NewReader(s.cell.bytes)), nil
	case KindChars:
		return io.NopCloser(strings.NewReader(string(s.cell.chars))), nil
	case KindFile:
		f, err := s.fs.Open(s.cell.path)
		if err != nil {
			return nil, errHelper.Wrap(err, rc.StatusIO, "opening column %q", s.col.Name)
		}
		return f, nil
	}
	switch v := s.cell.scalar.(type) {
	case io.ReadCloser:
		return v, nil
	case io.Reader:
		return io.NopCloser(v), nil
	case string:
		return io.NopCloser(strings.NewReader(v)), nil
	case []byte:
		return io.NopCloser(bytes.NewReader(v)), nil
	}
	return nil, s.castErr(targetName)
}

func (s source) toFilePath(targetName string) (string, error) {
	if s.cell.kind == KindFile {
		return s.cell.path, nil
	}
	if v, ok := s.cell.scalar.(string); ok && s.ct == rc.TypeLargeFileRef {
		return v, nil
	}
	return "", s.castErr(targetName)
}

func (s source) toDuration(targetName string) (time.Duration, error) {
	switch v := s.cell.Value().(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, s.valueErr(targetName, strconv.Quote(v))
		}
		return d, nil
	}
	return 0, s.castErr(targetName)
}

func (s source) toObject() any {
	if s.cell.kind == KindChars {
		return string(s.cell.chars)
	}
	return s.cell.Value()
}
