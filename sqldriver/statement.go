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

package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/materialize"
	"github.com/cockroachdb/apd/v3"
)

var errHelper = rc.ErrorHelper{Component: "sqldriver"}

// Conn is a database/sql handle statements are prepared on: a *sql.DB,
// *sql.Conn or *sql.Tx.
type Conn interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Dialect adapts bound values to the conventions of one database/sql
// driver.
type Dialect interface {
	// LobArg is the argument binding data as a large object of type t.
	LobArg(data []byte, t rc.CanonicalType) any
	// OutArg is the argument passed for an output parameter. in holds the
	// input value of an in/out parameter. read returns the output after
	// the statement ran.
	OutArg(spec binding.OutSpec, in any, isIn bool) (arg any, read func(context.Context) (any, error))
}

// StandardDialect passes large objects as strings or byte slices and
// output parameters as sql.Out.
type StandardDialect struct{}

func (StandardDialect) LobArg(data []byte, t rc.CanonicalType) any {
	if t.IsCharacterData() {
		return string(data)
	}
	return data
}

func (StandardDialect) OutArg(_ binding.OutSpec, in any, isIn bool) (any, func(context.Context) (any, error)) {
	dest := new(any)
	*dest = in
	return sql.Out{Dest: dest, In: isIn}, func(context.Context) (any, error) { return *dest, nil }
}

// Preparer prepares binding statements on a database/sql handle.
type Preparer struct {
	conn    Conn
	dialect Dialect
}

func NewPreparer(conn Conn) *Preparer {
	return NewDialectPreparer(conn, StandardDialect{})
}

func NewDialectPreparer(conn Conn, d Dialect) *Preparer {
	if d == nil {
		d = StandardDialect{}
	}
	return &Preparer{conn: conn, dialect: d}
}

// Prepare implements binding.Preparer. Calls are prepared like any other
// statement; output parameters are passed as the dialect's out arguments.
func (p *Preparer) Prepare(ctx context.Context, query string, _ bool) (binding.Statement, error) {
	stmt, err := p.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, errHelper.Wrap(err, rc.StatusIO, "preparing statement")
	}
	return NewStatement(stmt, p.dialect), nil
}

type outParam struct {
	spec binding.OutSpec
	read func(context.Context) (any, error)
}

// Statement is a binding.Statement over a *sql.Stmt.
type Statement struct {
	stmt    *sql.Stmt
	dialect Dialect
	args    []any
	set     []bool
	outs    map[int]*outParam
	ctx     context.Context
}

// NewStatement wraps stmt; a nil dialect means StandardDialect. stmt may
// be nil for statements that are only bound.
func NewStatement(stmt *sql.Stmt, d Dialect) *Statement {
	if d == nil {
		d = StandardDialect{}
	}
	return &Statement{stmt: stmt, dialect: d, ctx: context.Background()}
}

func (s *Statement) arg(i int, v any) error {
	if i < 0 {
		return errHelper.Errorf(rc.StatusInvalidArgument, "invalid parameter index %d", i)
	}
	for len(s.args) <= i {
		s.args = append(s.args, nil)
		s.set = append(s.set, false)
	}
	s.args[i] = v
	s.set[i] = true
	return nil
}

func (s *Statement) SetString(i int, v string) error { return s.arg(i, v) }

// SetNumber binds integers as int64 and floats as float64. Values that do
// not fit either are bound as their exact decimal text.
func (s *Statement) SetNumber(i int, v any) error {
	switch v := v.(type) {
	case int:
		return s.arg(i, int64(v))
	case int8:
		return s.arg(i, int64(v))
	case int16:
		return s.arg(i, int64(v))
	case int32:
		return s.arg(i, int64(v))
	case int64:
		return s.arg(i, v)
	case uint:
		return s.SetNumber(i, uint64(v))
	case uint8:
		return s.arg(i, int64(v))
	case uint16:
		return s.arg(i, int64(v))
	case uint32:
		return s.arg(i, int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return s.arg(i, strconv.FormatUint(v, 10))
		}
		return s.arg(i, int64(v))
	case float32:
		return s.arg(i, float64(v))
	case float64:
		return s.arg(i, v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return s.arg(i, n)
		}
		return s.arg(i, v.String())
	case *apd.Decimal:
		if v == nil {
			return s.arg(i, nil)
		}
		if v.Exponent >= 0 {
			if n, err := v.Int64(); err == nil {
				return s.arg(i, n)
			}
		}
		return s.arg(i, v.Text('f'))
	}
	return errHelper.Errorf(rc.StatusInvalidArgument, "parameter %d: %T is not a number", i, v)
}

func (s *Statement) SetBool(i int, v bool) error { return s.arg(i, v) }

func (s *Statement) SetTime(i int, v time.Time, _ rc.CanonicalType) error { return s.arg(i, v) }

func (s *Statement) SetBytes(i int, v []byte) error { return s.arg(i, v) }

// SetLob drains r and binds its content through the dialect.
func (s *Statement) SetLob(i int, r io.Reader, t rc.CanonicalType) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return errHelper.Wrap(err, rc.StatusIO, "reading large object parameter %d", i)
	}
	return s.arg(i, s.dialect.LobArg(b, t))
}

func (s *Statement) SetIndexedArray(i int, _ any, typeName string) error {
	return errHelper.Errorf(rc.StatusNotImplemented, "parameter %d: indexed arrays of %s are not supported by database/sql", i, typeName)
}

func (s *Statement) SetRecord(i int, _ []binding.Record, typeName string) error {
	return errHelper.Errorf(rc.StatusNotImplemented, "parameter %d: records of %s are not supported by database/sql", i, typeName)
}

// SetObject binds values the driver can convert itself.
func (s *Statement) SetObject(i int, v any, typeName string) error {
	switch v.(type) {
	case driver.Valuer, sql.NamedArg:
		return s.arg(i, v)
	}
	return errHelper.Errorf(rc.StatusNotImplemented, "parameter %d: cannot bind %T as %s", i, v, typeName)
}

func (s *Statement) SetNull(i int, _ rc.CanonicalType, _ string) error { return s.arg(i, nil) }

// RegisterOut declares parameter i an output. A value bound to the same
// index makes it an in/out parameter.
func (s *Statement) RegisterOut(i int, spec binding.OutSpec) error {
	if i < 0 {
		return errHelper.Errorf(rc.StatusInvalidArgument, "invalid parameter index %d", i)
	}
	if s.outs == nil {
		s.outs = make(map[int]*outParam)
	}
	s.outs[i] = &outParam{spec: spec}
	return nil
}

func (s *Statement) values(ctx context.Context) []any {
	s.ctx = ctx
	n := len(s.args)
	for i := range s.outs {
		n = max(n, i+1)
	}
	out := make([]any, n)
	for i := range out {
		var in any
		var isSet bool
		if i < len(s.args) {
			in, isSet = s.args[i], s.set[i]
		}
		if p, ok := s.outs[i]; ok {
			out[i], p.read = s.dialect.OutArg(p.spec, in, isSet)
			continue
		}
		out[i] = in
	}
	return out
}

func (s *Statement) Query(ctx context.Context) (materialize.Cursor, error) {
	rows, err := s.stmt.QueryContext(ctx, s.values(ctx)...)
	if err != nil {
		return nil, err
	}
	return materialize.FromSQL(rows), nil
}

// Exec returns the affected row count, or -1 when the driver does not
// report one.
func (s *Statement) Exec(ctx context.Context) (int64, error) {
	res, err := s.stmt.ExecContext(ctx, s.values(ctx)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

func (s *Statement) Out(i int) (any, error) {
	p, ok := s.outs[i]
	if !ok {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "parameter %d is not an output", i)
	}
	if p.read == nil {
		return nil, errHelper.Errorf(rc.StatusInvalidState, "output parameter %d read before execution", i)
	}
	return p.read(s.ctx)
}

func (s *Statement) Close() error {
	if s.stmt == nil {
		return nil
	}
	return s.stmt.Close()
}
