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

// Package materialize drains a backend cursor into a resultset.ResultSet.
//
// Columns are classified once, large objects are streamed through a
// lob.Offloader, and values the engine cannot represent are stored as
// deferred failures so that one bad cell never aborts the fetch.
package materialize

import (
	"context"
	"database/sql"
	"log/slog"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/classify"
	"github.com/apache/arrow-adbc/go/resultcache/lob"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMemoryCheckAfter is the row count after which the memory
	// watcher is consulted.
	DefaultMemoryCheckAfter = 2000
	// DefaultMemoryCheckEvery is the row interval between two memory checks.
	DefaultMemoryCheckEvery = 100
)

var errHelper = rc.ErrorHelper{Component: "materialize"}

// unsupported canonical types cannot be extracted from a row; their cells
// hold a deferred failure.
var unsupported = map[rc.CanonicalType]bool{
	rc.TypeTable:                  true,
	rc.TypeArray:                  true,
	rc.TypeObject:                 true,
	rc.TypeProceduralIndexedArray: true,
	rc.TypeProceduralRecord:       true,
	rc.TypeNestedResultSet:        true,
	rc.TypeRefCursor:              true,
}

// Materializer builds result sets from cursors. It is safe for concurrent
// use as long as its Offloader is.
type Materializer struct {
	offloader  *lob.Offloader
	watcher    rc.MemoryWatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	checkAfter int
	checkEvery int
}

type Option func(*Materializer)

func WithOffloader(o *lob.Offloader) Option {
	return func(m *Materializer) { m.offloader = o }
}

func WithMemoryWatcher(w rc.MemoryWatcher) Option {
	return func(m *Materializer) { m.watcher = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Materializer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(m *Materializer) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithMemoryCheck changes when the memory watcher is consulted: every
// `every` rows once more than `after` rows were read.
func WithMemoryCheck(after, every int) Option {
	return func(m *Materializer) {
		if after >= 0 {
			m.checkAfter = after
		}
		if every > 0 {
			m.checkEvery = every
		}
	}
}

// New builds a Materializer. Without WithOffloader large objects are read
// into byte buffers.
func New(opts ...Option) (*Materializer, error) {
	m := &Materializer{
		logger:     rc.NilLogger(),
		tracer:     rc.NilTracer(),
		checkAfter: DefaultMemoryCheckAfter,
		checkEvery: DefaultMemoryCheckEvery,
	}
	for _, o := range opts {
		o(m)
	}
	if m.offloader == nil {
		off, err := lob.NewOffloader(lob.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
		m.offloader = off
	}
	return m, nil
}

func (m *Materializer) Offloader() *lob.Offloader { return m.offloader }

// Describe turns cursor metadata into column descriptors. Numeric columns
// without a declared length get DefaultNumberLength and large objects of
// unknown length get MaxLobLength.
func Describe(infos []ColumnInfo) []resultset.Column {
	cols := make([]resultset.Column, len(infos))
	for i, info := range infos {
		ct := classify.Classify(info.DatabaseTypeName)
		length := info.Length
		switch {
		case ct == rc.TypeNumber:
			if length == 0 {
				length = info.Precision
			}
			if length == 0 {
				length = resultset.DefaultNumberLength
			}
		case ct.IsLargeObject():
			if length <= 0 {
				length = resultset.MaxLobLength
			}
		}
		cols[i] = resultset.Column{
			Name:     info.Name,
			TypeName: info.DatabaseTypeName,
			Type:     ct,
			Length:   length,
			Scale:    info.Scale,
		}
	}
	return cols
}

// Materialize reads up to maxRows rows from cur (all rows when maxRows is
// zero or negative) and closes it.
//
// Past the first few thousand rows the memory watcher is polled; when free
// memory reaches the safety threshold the result is flagged with
// HitMemoryLimit but reading continues. When the row cap is reached, the
// cursor is probed once more to set HitRowLimit. Read errors abort the
// whole operation and remove any file already generated.
func (m *Materializer) Materialize(ctx context.Context, cur Cursor, maxRows int) (rs *resultset.ResultSet, err error) {
	ctx, span := m.tracer.Start(ctx, "Materialize")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer func() {
		if cerr := cur.Close(); cerr != nil {
			m.logger.Warn("failed to close cursor", "error", cerr)
		}
	}()

	infos, err := cur.Columns()
	if err != nil {
		return nil, errHelper.Wrap(err, rc.StatusIO, "reading column metadata")
	}
	cols := Describe(infos)

	var (
		rows           []resultset.Row
		hitMemoryLimit bool
	)
	for maxRows <= 0 || len(rows) < maxRows {
		if err := ctx.Err(); err != nil {
			return nil, m.abort(ctx, cols, rows, errHelper.Wrap(err, rc.StatusIO, "materialization interrupted after %d rows", len(rows)))
		}
		if !cur.Next() {
			break
		}
		vals, err := cur.Values()
		if err != nil {
			return nil, m.abort(ctx, cols, rows, errHelper.Wrap(err, rc.StatusIO, "reading row %d", len(rows)))
		}
		if len(vals) != len(cols) {
			return nil, m.abort(ctx, cols, rows, errHelper.Errorf(rc.StatusIO,
				"row %d has %d values, expected %d", len(rows), len(vals), len(cols)))
		}

		row := make(resultset.Row, len(cols))
		for i, v := range vals {
			row[i] = m.decode(ctx, cols[i], v, maxRows)
		}
		rows = append(rows, row)

		n := len(rows)
		if !hitMemoryLimit && n > m.checkAfter && n%m.checkEvery == 0 && !rc.MemorySafe(m.watcher) {
			hitMemoryLimit = true
			m.logger.Warn("free memory at or below the safety threshold, result set will be flagged",
				"rows", n,
				"free_percent", m.watcher.FreeMemoryPercent(),
				"threshold", m.watcher.SafetyThreshold())
		}
	}
	if err := cur.Err(); err != nil {
		return nil, m.abort(ctx, cols, rows, errHelper.Wrap(err, rc.StatusIO, "reading row %d", len(rows)))
	}

	hitRowLimit := maxRows > 0 && len(rows) >= maxRows && probe(cur)

	rs, err = resultset.New(cols, rows,
		resultset.WithLimits(hitRowLimit, hitMemoryLimit),
		resultset.WithFileSystem(m.offloader.FileSystem()))
	if err != nil {
		return nil, m.abort(ctx, cols, rows, err)
	}

	span.SetAttributes(
		attribute.Int("resultcache.rows", rs.Size()),
		attribute.Int("resultcache.columns", len(cols)),
		attribute.Bool("resultcache.hit_row_limit", hitRowLimit),
		attribute.Bool("resultcache.hit_memory_limit", hitMemoryLimit),
	)
	return rs, nil
}

// probe reports whether cur has another row. Failures and panics count as
// no more rows.
func probe(cur Cursor) (more bool) {
	defer func() {
		if r := recover(); r != nil {
			more = false
		}
	}()
	return cur.Next()
}

func (m *Materializer) abort(ctx context.Context, cols []resultset.Column, rows []resultset.Row, cause error) error {
	partial, err := resultset.New(cols, rows, resultset.WithFileSystem(m.offloader.FileSystem()))
	if err != nil {
		return cause
	}
	if err := partial.DeleteGeneratedFiles(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("failed to remove files of an aborted materialization", "error", err)
	}
	return cause
}

func (m *Materializer) decode(ctx context.Context, col resultset.Column, v any, maxRows int) resultset.Cell {
	if v == nil {
		return resultset.Null()
	}

	switch {
	case col.Type.IsLargeObject():
		src, err := lob.Source(v)
		if err != nil {
			return resultset.Failure(errHelper.Wrap(err, rc.StatusOffload, "column %q", col.Name))
		}
		policy := m.offloader.Policy()
		if policy == lob.PolicyChars && !col.Type.IsCharacterData() {
			policy = lob.PolicyBytes
		}
		cell, err := m.offloader.OffloadAs(ctx, src, policy, col.Length, col.TypeName)
		if err != nil {
			return resultset.Failure(err)
		}
		return cell
	case col.Type == rc.TypeRefCursor || col.Type == rc.TypeNestedResultSet:
		if nested := asCursor(v); nested != nil {
			rs, err := m.Materialize(ctx, nested, maxRows)
			if err != nil {
				return resultset.Failure(err)
			}
			return resultset.Scalar(rs)
		}
	}

	if unsupported[col.Type] || (col.Type == rc.TypeBoolean && classify.Procedural(col.TypeName)) {
		return resultset.Failure(errHelper.Errorf(rc.StatusUnsupportedType,
			"column %q has unsupported type %s (%s)", col.Name, col.TypeName, col.Type))
	}
	return resultset.FromValue(v)
}

func asCursor(v any) Cursor {
	switch v := v.(type) {
	case Cursor:
		return v
	case *sql.Rows:
		return FromSQL(v)
	}
	return nil
}

// Rows materializes a database/sql result.
func (m *Materializer) Rows(ctx context.Context, rows *sql.Rows, maxRows int) (*resultset.ResultSet, error) {
	if rows == nil {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "nil rows")
	}
	return m.Materialize(ctx, FromSQL(rows), maxRows)
}
