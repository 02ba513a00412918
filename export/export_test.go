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

package export_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/export"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var born = time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
var seen = time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.UTC)

func sample(t *testing.T) *resultset.ResultSet {
	t.Helper()
	cols := []resultset.Column{
		{Name: "ID", TypeName: "INTEGER"},
		{Name: "PRICE", TypeName: "NUMBER", Length: 10, Scale: 2},
		{Name: "RATIO", TypeName: "BINARY_DOUBLE"},
		{Name: "NAME", TypeName: "VARCHAR2"},
		{Name: "ACTIVE", TypeName: "BOOLEAN"},
		{Name: "BORN", TypeName: "DATE"},
		{Name: "SEEN", TypeName: "TIMESTAMP"},
		{Name: "RAW", TypeName: "RAW"},
		{Name: "KIDS", TypeName: "REF CURSOR"},
	}
	rs, err := resultset.FromValues(cols, [][]any{
		{int64(1), "12.50", 0.25, "ada", true, born, seen, []byte{0xca, 0xfe}, nil},
		{int64(2), nil, nil, "bob, jr", false, nil, nil, nil, nil},
	})
	require.NoError(t, err)
	return rs
}

func TestSchema(t *testing.T) {
	s := export.Schema(sample(t))
	require.Equal(t, 8, s.NumFields(), "the cursor column is left out")

	want := []arrow.DataType{
		arrow.PrimitiveTypes.Int64,
		&arrow.Decimal128Type{Precision: 10, Scale: 2},
		arrow.PrimitiveTypes.Float64,
		arrow.BinaryTypes.String,
		arrow.FixedWidthTypes.Boolean,
		arrow.FixedWidthTypes.Date32,
		arrow.FixedWidthTypes.Timestamp_us,
		arrow.BinaryTypes.Binary,
	}
	for i, dt := range want {
		assert.Truef(t, arrow.TypeEqual(dt, s.Field(i).Type), "field %d: %s", i, s.Field(i).Type)
	}
	tn, ok := s.Field(1).Metadata.GetValue("resultcache.type_name")
	assert.True(t, ok)
	assert.Equal(t, "NUMBER", tn)
}

func TestToRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rs := sample(t)
	require.True(t, rs.Last())
	rec, err := export.ToRecord(mem, rs)
	require.NoError(t, err)
	defer rec.Release()

	assert.EqualValues(t, 2, rec.NumRows())
	assert.Equal(t, 1, rs.Position(), "the caller's cursor does not move")

	assert.Equal(t, int64(1), rec.Column(0).(*array.Int64).Value(0))
	assert.Equal(t, "12.50", rec.Column(1).(*array.Decimal128).Value(0).ToString(2))
	assert.True(t, rec.Column(1).IsNull(1))
	assert.Equal(t, 0.25, rec.Column(2).(*array.Float64).Value(0))
	assert.Equal(t, "bob, jr", rec.Column(3).(*array.String).Value(1))
	assert.True(t, rec.Column(4).(*array.Boolean).Value(0))
	assert.Equal(t, arrow.Date32FromTime(born), rec.Column(5).(*array.Date32).Value(0))
	assert.True(t, seen.Equal(rec.Column(6).(*array.Timestamp).Value(0).ToTime(arrow.Microsecond)))
	assert.Equal(t, []byte{0xca, 0xfe}, rec.Column(7).(*array.Binary).Value(0))
	assert.True(t, rec.Column(7).IsNull(1))
}

func TestRecordReaderBatches(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	values := make([][]any, 25)
	for i := range values {
		values[i] = []any{int64(i)}
	}
	rs, err := resultset.FromValues([]resultset.Column{{Name: "N", TypeName: "BIGINT"}}, values)
	require.NoError(t, err)

	rdr, err := export.NewRecordReader(mem, rs, 10)
	require.NoError(t, err)
	defer rdr.Release()

	var sizes []int64
	for rdr.Next() {
		sizes = append(sizes, rdr.Record().NumRows())
	}
	require.NoError(t, rdr.Err())
	assert.Equal(t, []int64{10, 10, 5}, sizes)
}

func TestToRecordDeferredFailure(t *testing.T) {
	rs, err := resultset.New(
		[]resultset.Column{{Name: "X", TypeName: "VARCHAR2"}},
		[]resultset.Row{{resultset.Failure(errors.New("decode failed"))}})
	require.NoError(t, err)

	_, err = export.ToRecord(memory.DefaultAllocator, rs)
	assert.ErrorContains(t, err, "decode failed")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteJSON(&buf, sample(t)))
	assert.JSONEq(t, `[
		{"ID": 1, "PRICE": 12.50, "RATIO": 0.25, "NAME": "ada", "ACTIVE": true,
		 "BORN": "1990-05-17T00:00:00Z", "SEEN": "2024-01-02T03:04:05.6Z", "RAW": "yv4="},
		{"ID": 2, "PRICE": null, "RATIO": null, "NAME": "bob, jr", "ACTIVE": false,
		 "BORN": null, "SEEN": null, "RAW": null}
	]`, buf.String())

	buf.Reset()
	require.NoError(t, export.WriteJSON(&buf, sample(t), export.WithNewlineDelimited(true), export.WithLimit(1)))
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), `"PRICE":12.50`)
}

func TestWriteJSONEmpty(t *testing.T) {
	rs, err := resultset.New([]resultset.Column{{Name: "X", Type: rc.TypeText}}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, export.WriteJSON(&buf, rs))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, sample(t), export.WithNullValue("NULL")))
	assert.Equal(t,
		"ID,PRICE,RATIO,NAME,ACTIVE,BORN,SEEN,RAW\n"+
			"1,12.50,0.25,ada,true,1990-05-17T00:00:00Z,2024-01-02T03:04:05.6Z,cafe\n"+
			"2,NULL,NULL,\"bob, jr\",false,NULL,NULL,NULL\n",
		buf.String())

	buf.Reset()
	require.NoError(t, export.WriteCSV(&buf, sample(t),
		export.WithHeader(false), export.WithDelimiter(';'), export.WithLimit(1)))
	assert.Equal(t, "1;12.50;0.25;ada;true;1990-05-17T00:00:00Z;2024-01-02T03:04:05.6Z;cafe\n", buf.String())
}
