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

package export

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"io"
	"strconv"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	jsoniter "github.com/json-iterator/go"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

type textOptions struct {
	newlineDelimited bool
	limit            int
	delimiter        rune
	useCRLF          bool
	header           bool
	nullValue        string
}

type Option func(*textOptions)

// WithNewlineDelimited writes one JSON object per line instead of an
// array.
func WithNewlineDelimited(enabled bool) Option {
	return func(o *textOptions) { o.newlineDelimited = enabled }
}

// WithLimit stops after n rows; n < 0 means all rows.
func WithLimit(n int) Option {
	return func(o *textOptions) { o.limit = n }
}

func WithDelimiter(r rune) Option {
	return func(o *textOptions) { o.delimiter = r }
}

func WithCRLF(enabled bool) Option {
	return func(o *textOptions) { o.useCRLF = enabled }
}

func WithHeader(enabled bool) Option {
	return func(o *textOptions) { o.header = enabled }
}

// WithNullValue sets the CSV text of null cells, empty by default.
func WithNullValue(s string) Option {
	return func(o *textOptions) { o.nullValue = s }
}

func newTextOptions(opts []Option) textOptions {
	o := textOptions{limit: -1, delimiter: ',', header: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// jsonValue is the JSON representation of the current row's value of
// column ci: numbers keep their exact digits, times use RFC 3339, binary
// is base64 and intervals are Go duration strings.
func jsonValue(rs *resultset.ResultSet, c resultset.Column, ci int) (any, error) {
	ref := resultset.At(ci)
	cell, err := rs.Cell(ref)
	if err != nil {
		return nil, err
	}
	if cell.IsNull() {
		return nil, nil
	}
	switch c.Type {
	case rc.TypeNumber:
		d, err := rs.GetDecimal(ref)
		if err != nil || d == nil {
			return nil, err
		}
		return json.Number(d.Text('f')), nil
	case rc.TypeBoolean:
		return rs.GetBoolean(ref)
	case rc.TypeDate, rc.TypeTimestamp, rc.TypeTimestampWithZone, rc.TypeTimestampLocalZone:
		t, err := rs.GetTime(ref)
		if err != nil || !t.Valid {
			return nil, err
		}
		return t.Time.Format(time.RFC3339Nano), nil
	case rc.TypeIntervalDaySecond:
		d, err := rs.GetDuration(ref)
		if err != nil || !d.Valid {
			return nil, err
		}
		return d.V.String(), nil
	case rc.TypeBinary, rc.TypeLongBinary, rc.TypeLargeBinary, rc.TypeLargeFileRef:
		return rs.GetBytes(ref)
	}
	s, err := rs.GetString(ref)
	if err != nil || !s.Valid {
		return nil, err
	}
	return s.String, nil
}

// WriteJSON writes rs as an array of objects keyed by column name, or as
// newline-delimited objects. Duplicate column names keep the last value.
func WriteJSON(w io.Writer, rs *resultset.ResultSet, opts ...Option) error {
	o := newTextOptions(opts)
	cols := rs.Columns()
	idx := columns(rs)

	stream := jsonStd.BorrowStream(w)
	defer jsonStd.ReturnStream(stream)

	if !o.newlineDelimited {
		stream.WriteArrayStart()
	}
	view := rs.View()
	n := 0
	for ok := view.First(); ok && (o.limit < 0 || n < o.limit); ok = view.Next() {
		if n > 0 && !o.newlineDelimited {
			stream.WriteMore()
		}
		stream.WriteObjectStart()
		for k, ci := range idx {
			v, err := jsonValue(view, cols[ci], ci)
			if err != nil {
				return errHelper.Wrap(err, rc.StatusOf(err), "row %d", view.Position())
			}
			if k > 0 {
				stream.WriteMore()
			}
			stream.WriteObjectField(cols[ci].Name)
			stream.WriteVal(v)
		}
		stream.WriteObjectEnd()
		if o.newlineDelimited {
			stream.WriteRaw("\n")
		}
		if stream.Error != nil {
			return errHelper.Wrap(stream.Error, rc.StatusIO, "writing JSON")
		}
		n++
	}
	if !o.newlineDelimited {
		stream.WriteArrayEnd()
		stream.WriteRaw("\n")
	}
	if err := stream.Flush(); err != nil {
		return errHelper.Wrap(err, rc.StatusIO, "writing JSON")
	}
	return nil
}

func csvValue(rs *resultset.ResultSet, c resultset.Column, ci int, null string) (string, error) {
	v, err := jsonValue(rs, c, ci)
	if err != nil {
		return "", err
	}
	switch v := v.(type) {
	case nil:
		return null, nil
	case string:
		return v, nil
	case json.Number:
		return string(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case []byte:
		return hex.EncodeToString(v), nil
	}
	return "", errHelper.Errorf(rc.StatusNotImplemented, "no CSV form for %T", v)
}

// WriteCSV writes rs with a header line of column names. Binary values
// are hex encoded.
func WriteCSV(w io.Writer, rs *resultset.ResultSet, opts ...Option) error {
	o := newTextOptions(opts)
	cols := rs.Columns()
	idx := columns(rs)

	cw := csv.NewWriter(w)
	if o.delimiter != 0 {
		cw.Comma = o.delimiter
	}
	cw.UseCRLF = o.useCRLF

	record := make([]string, len(idx))
	if o.header {
		for k, ci := range idx {
			record[k] = cols[ci].Name
		}
		if err := cw.Write(record); err != nil {
			return errHelper.Wrap(err, rc.StatusIO, "writing CSV header")
		}
	}

	view := rs.View()
	n := 0
	for ok := view.First(); ok && (o.limit < 0 || n < o.limit); ok = view.Next() {
		for k, ci := range idx {
			s, err := csvValue(view, cols[ci], ci, o.nullValue)
			if err != nil {
				return errHelper.Wrap(err, rc.StatusOf(err), "row %d", view.Position())
			}
			record[k] = s
		}
		if err := cw.Write(record); err != nil {
			return errHelper.Wrap(err, rc.StatusIO, "writing CSV")
		}
		n++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errHelper.Wrap(err, rc.StatusIO, "writing CSV")
	}
	return nil
}
