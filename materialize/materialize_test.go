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

package materialize_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/lob"
	"github.com/apache/arrow-adbc/go/resultcache/materialize"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	_ "modernc.org/sqlite"
)

type fixedWatcher struct{ free, threshold float64 }

func (w fixedWatcher) FreeMemoryPercent() float64 { return w.free }
func (w fixedWatcher) SafetyThreshold() float64   { return w.threshold }

// failingCursor yields its rows then fails instead of ending.
type failingCursor struct {
	materialize.Cursor
	err error
}

func (c *failingCursor) Err() error { return c.err }

type closeTracker struct {
	materialize.Cursor
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return c.Cursor.Close()
}

func intRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	return rows
}

var idColumn = []materialize.ColumnInfo{{Name: "ID", DatabaseTypeName: "NUMBER"}}

func TestDescribe(t *testing.T) {
	cols := materialize.Describe([]materialize.ColumnInfo{
		{Name: "N", DatabaseTypeName: "NUMBER"},
		{Name: "P", DatabaseTypeName: "NUMBER(10,2)", Precision: 10, Scale: 2},
		{Name: "C", DatabaseTypeName: "CLOB"},
		{Name: "V", DatabaseTypeName: "VARCHAR2", Length: 30},
		{Name: "X", DatabaseTypeName: "MYSTERY"},
	})
	require.Len(t, cols, 5)

	assert.Equal(t, rc.TypeNumber, cols[0].Type)
	assert.EqualValues(t, 38, cols[0].Length)
	assert.EqualValues(t, 10, cols[1].Length)
	assert.EqualValues(t, 2, cols[1].Scale)
	assert.Equal(t, rc.TypeLargeText, cols[2].Type)
	assert.EqualValues(t, resultset.MaxLobLength, cols[2].Length)
	assert.EqualValues(t, 30, cols[3].Length)
	assert.Equal(t, rc.TypeOther, cols[4].Type)
	assert.Equal(t, "MYSTERY", cols[4].TypeName)
}

func TestMaterializeRowLimit(t *testing.T) {
	m, err := materialize.New()
	require.NoError(t, err)

	cur := &closeTracker{Cursor: materialize.FromData(idColumn, intRows(2500))}
	rs, err := m.Materialize(context.Background(), cur, 2000)
	require.NoError(t, err)

	assert.Equal(t, 2000, rs.Size())
	assert.True(t, rs.HitRowLimit())
	assert.False(t, rs.HitMemoryLimit())
	assert.Equal(t, 0, rs.Position())
	assert.True(t, cur.closed)

	require.NoError(t, rs.SetPosition(1999))
	v, err := rs.GetLong(resultset.Named("id"))
	require.NoError(t, err)
	assert.EqualValues(t, 1999, v)
}

func TestMaterializeExactlyAtLimit(t *testing.T) {
	m, err := materialize.New()
	require.NoError(t, err)

	rs, err := m.Materialize(context.Background(), materialize.FromData(idColumn, intRows(10)), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, rs.Size())
	assert.False(t, rs.HitRowLimit(), "no row left behind the cap")

	rs, err = m.Materialize(context.Background(), materialize.FromData(idColumn, intRows(10)), 0)
	require.NoError(t, err)
	assert.Equal(t, 10, rs.Size())
	assert.False(t, rs.HitRowLimit())
}

func TestMaterializeEmpty(t *testing.T) {
	m, err := materialize.New()
	require.NoError(t, err)

	rs, err := m.Materialize(context.Background(), materialize.FromData(idColumn, nil), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Size())
	assert.Equal(t, -1, rs.Position())

	_, err = rs.GetLong(resultset.At(0))
	assert.True(t, rc.IsStatus(err, rc.StatusNoData))
}

func TestMaterializeMemoryPressure(t *testing.T) {
	low := fixedWatcher{free: 5, threshold: 10}
	m, err := materialize.New(materialize.WithMemoryWatcher(low), materialize.WithMemoryCheck(20, 10))
	require.NoError(t, err)

	rs, err := m.Materialize(context.Background(), materialize.FromData(idColumn, intRows(50)), 0)
	require.NoError(t, err)
	assert.True(t, rs.HitMemoryLimit())
	assert.Equal(t, 50, rs.Size(), "memory pressure degrades without stopping")

	// below the check threshold the watcher is never consulted
	rs, err = m.Materialize(context.Background(), materialize.FromData(idColumn, intRows(20)), 0)
	require.NoError(t, err)
	assert.False(t, rs.HitMemoryLimit())

	healthy := fixedWatcher{free: 60, threshold: 10}
	m, err = materialize.New(materialize.WithMemoryWatcher(healthy), materialize.WithMemoryCheck(20, 10))
	require.NoError(t, err)
	rs, err = m.Materialize(context.Background(), materialize.FromData(idColumn, intRows(50)), 0)
	require.NoError(t, err)
	assert.False(t, rs.HitMemoryLimit())
}

func TestMaterializeDeferredFailures(t *testing.T) {
	m, err := materialize.New()
	require.NoError(t, err)

	cols := []materialize.ColumnInfo{
		{Name: "ID", DatabaseTypeName: "NUMBER"},
		{Name: "NESTED", DatabaseTypeName: "TABLE"},
		{Name: "ITEMS", DatabaseTypeName: "VARRAY"},
		{Name: "PLSQL_FLAG", DatabaseTypeName: "PL/SQL BOOLEAN"},
		{Name: "FLAG", DatabaseTypeName: "BOOLEAN"},
	}
	rows := [][]any{{int64(1), []any{1, 2}, "opaque", true, true}}
	rs, err := m.Materialize(context.Background(), materialize.FromData(cols, rows), 0)
	require.NoError(t, err)

	id, err := rs.GetLong(resultset.Named("ID"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	_, err = rs.GetObject(resultset.Named("NESTED"))
	assert.True(t, rc.IsStatus(err, rc.StatusUnsupportedType))
	assert.Contains(t, err.Error(), "NESTED")

	_, err = rs.GetString(resultset.Named("ITEMS"))
	assert.True(t, rc.IsStatus(err, rc.StatusUnsupportedType))

	_, err = rs.GetBoolean(resultset.Named("PLSQL_FLAG"))
	assert.True(t, rc.IsStatus(err, rc.StatusUnsupportedType))

	flag, err := rs.GetBoolean(resultset.Named("FLAG"))
	require.NoError(t, err)
	assert.True(t, flag)
}

func TestMaterializeLargeObjects(t *testing.T) {
	off, err := lob.NewOffloader(lob.WithPolicy(lob.PolicyChars), lob.WithChunkSize(8))
	require.NoError(t, err)
	m, err := materialize.New(materialize.WithOffloader(off))
	require.NoError(t, err)

	cols := []materialize.ColumnInfo{
		{Name: "DOC", DatabaseTypeName: "CLOB"},
		{Name: "IMG", DatabaseTypeName: "BLOB"},
	}
	rows := [][]any{
		{strings.NewReader("a long text value"), []byte{1, 2, 3}},
		{nil, nil},
		{42, "x"},
	}
	rs, err := m.Materialize(context.Background(), materialize.FromData(cols, rows), 0)
	require.NoError(t, err)

	cell, err := rs.Cell(resultset.Named("doc"))
	require.NoError(t, err)
	assert.Equal(t, resultset.KindChars, cell.Kind())
	cell, err = rs.Cell(resultset.Named("img"))
	require.NoError(t, err)
	assert.Equal(t, resultset.KindBytes, cell.Kind(), "binary columns never decode to characters")

	str, err := rs.GetString(resultset.Named("doc"))
	require.NoError(t, err)
	assert.Equal(t, "a long text value", str.String)

	require.True(t, rs.Next())
	str, err = rs.GetString(resultset.Named("doc"))
	require.NoError(t, err)
	assert.False(t, str.Valid)

	require.True(t, rs.Next())
	_, err = rs.GetString(resultset.Named("doc"))
	assert.True(t, rc.IsStatus(err, rc.StatusOffload))
}

func TestMaterializeFileOffloadAbortRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	off, err := lob.NewOffloader(lob.WithPolicy(lob.PolicyFile), lob.WithTempDir(dir))
	require.NoError(t, err)
	m, err := materialize.New(materialize.WithOffloader(off))
	require.NoError(t, err)

	cols := []materialize.ColumnInfo{{Name: "DOC", DatabaseTypeName: "BLOB"}}
	rows := [][]any{{[]byte("one")}, {[]byte("two")}}
	boom := errors.New("ORA-03113: end-of-file on communication channel")

	cur := &failingCursor{Cursor: materialize.FromData(cols, rows), err: boom}
	_, err = m.Materialize(context.Background(), cur, 0)
	require.Error(t, err)
	assert.True(t, rc.IsStatus(err, rc.StatusIO))
	assert.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMaterializeWidthMismatch(t *testing.T) {
	m, err := materialize.New()
	require.NoError(t, err)

	_, err = m.Materialize(context.Background(), materialize.FromData(idColumn, [][]any{{1, 2}}), 0)
	assert.True(t, rc.IsStatus(err, rc.StatusIO))
}

func TestMaterializeCancelled(t *testing.T) {
	m, err := materialize.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Materialize(ctx, materialize.FromData(idColumn, intRows(3)), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaterializeNestedCursor(t *testing.T) {
	m, err := materialize.New()
	require.NoError(t, err)

	inner := materialize.FromData(idColumn, intRows(3))
	cols := []materialize.ColumnInfo{{Name: "RC", DatabaseTypeName: "REF CURSOR"}}
	rs, err := m.Materialize(context.Background(), materialize.FromData(cols, [][]any{{inner}}), 0)
	require.NoError(t, err)

	obj, err := rs.GetObject(resultset.At(0))
	require.NoError(t, err)
	nested, ok := obj.(*resultset.ResultSet)
	require.True(t, ok)
	assert.Equal(t, 3, nested.Size())
}

func TestMaterializeSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	m, err := materialize.New(materialize.WithTracer(tp.Tracer("test")))
	require.NoError(t, err)

	_, err = m.Materialize(context.Background(), materialize.FromData(idColumn, intRows(5)), 2)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Materialize", spans[0].Name())
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.EqualValues(t, 2, attrs["resultcache.rows"])
	assert.Equal(t, true, attrs["resultcache.hit_row_limit"])
}

func TestMaterializeSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE docs (id INTEGER, title TEXT, body CLOB, price REAL)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO docs VALUES (1, 'first', 'body one', 9.5), (2, 'second', NULL, NULL)`)
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, `SELECT id, title, body, price FROM docs ORDER BY id`)
	require.NoError(t, err)

	m, err := materialize.New()
	require.NoError(t, err)
	rs, err := m.Rows(ctx, rows, 0)
	require.NoError(t, err)
	require.Equal(t, 2, rs.Size())

	cols := rs.Columns()
	assert.Equal(t, rc.TypeNumber, cols[0].Type)
	assert.Equal(t, rc.TypeText, cols[1].Type)
	assert.Equal(t, rc.TypeLargeText, cols[2].Type)

	id, err := rs.GetInt(resultset.Named("ID"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	body, err := rs.GetString(resultset.Named("body"))
	require.NoError(t, err)
	assert.Equal(t, "body one", body.String)
	price, err := rs.GetDouble(resultset.Named("price"))
	require.NoError(t, err)
	assert.InDelta(t, 9.5, price, 1e-9)

	require.True(t, rs.Next())
	body, err = rs.GetString(resultset.Named("body"))
	require.NoError(t, err)
	assert.False(t, body.Valid)
	_, err = rs.GetDouble(resultset.Named("price"))
	assert.True(t, rc.IsStatus(err, rc.StatusNullExtraction))

	_, err = m.Rows(ctx, nil, 0)
	assert.True(t, rc.IsStatus(err, rc.StatusInvalidArgument))
}

func TestFromDataValues(t *testing.T) {
	cur := materialize.FromData(idColumn, [][]any{{int64(1)}})
	_, err := cur.Values()
	assert.True(t, rc.IsStatus(err, rc.StatusInvalidState))
	require.True(t, cur.Next())
	vals, err := cur.Values()
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, vals)
	assert.False(t, cur.Next())
	require.NoError(t, cur.Close())
	assert.NoError(t, cur.Err())
}
