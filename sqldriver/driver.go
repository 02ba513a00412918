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
	"io"
	"reflect"
	"strings"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/client"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
)

func parseConnectStr(str string) (ret map[string]string, err error) {
	ret = make(map[string]string)
	for _, kv := range strings.Split(str, ";") {
		if strings.TrimSpace(kv) == "" {
			continue
		}
		parsed := strings.SplitN(kv, "=", 2)
		if len(parsed) != 2 {
			return nil, errHelper.Errorf(rc.StatusInvalidArgument, "invalid format for connection string")
		}

		ret[strings.TrimSpace(parsed[0])] = strings.TrimSpace(parsed[1])
	}
	return
}

type connector struct {
	client *client.Client
	drv    Driver
}

// Connect returns a connection sharing the connector's client, and with
// it the result caches.
func (c *connector) Connect(context.Context) (driver.Conn, error) {
	return &conn{client: c.client}, nil
}

// Driver returns the underlying Driver of the connector,
// mainly to maintain compatibility with the Driver method on sql.DB
func (c *connector) Driver() driver.Driver { return c.drv }

// Close closes the client, emptying its caches.
//
// By implementing the io.Closer interface, sql.DB will correctly call
// Close on the connector when sql.DB.Close is called.
func (c *connector) Close() error {
	return c.client.Close()
}

// Driver serves cached, materialized results of a backend through
// database/sql.
type Driver struct {
	Preparer binding.Preparer
	Options  []client.Option
}

// Open returns a new connection to the database. The name
// should be semi-colon separated key-value pairs of the form:
// key=value;key2=value2;.....
//
// A connection opened this way owns its client and caches. sql.Open
// uses OpenConnector instead, sharing one client across the pool.
func (d Driver) Open(name string) (driver.Conn, error) {
	c, err := d.OpenConnector(name)
	if err != nil {
		return nil, err
	}
	return &conn{client: c.(*connector).client, owned: true}, nil
}

// OpenConnector expects the same format as driver.Open
func (d Driver) OpenConnector(name string) (driver.Connector, error) {
	opts, err := parseConnectStr(name)
	if err != nil {
		return nil, err
	}

	cl, err := client.New(d.Preparer, opts, d.Options...)
	if err != nil {
		return nil, err
	}

	return &connector{client: cl, drv: d}, nil
}

// conn is a connection to a database. It is not used concurrently by
// multiple goroutines.
type conn struct {
	client *client.Client
	owned  bool
}

// Close closes the client when the connection owns it. Pooled connections
// leave it to the connector.
func (c *conn) Close() error {
	if c.owned {
		return c.client.Close()
	}
	return nil
}

// CheckNamedValue passes every argument through unchanged, leaving
// conversion to the parameter binder.
func (c *conn) CheckNamedValue(nv *driver.NamedValue) error {
	if nv.Name != "" {
		return errHelper.Errorf(rc.StatusNotImplemented, "named parameter %s: only positional parameters are supported", nv.Name)
	}
	return nil
}

// params builds a parameter set from args. sql.Out arguments make the set
// callable and are registered as outputs.
func params(args []driver.NamedValue) (*binding.ParameterSet, error) {
	callable := false
	for _, a := range args {
		if _, ok := a.Value.(sql.Out); ok {
			callable = true
		}
	}
	ps := binding.New(len(args), callable)
	for i, a := range args {
		out, ok := a.Value.(sql.Out)
		if !ok {
			if err := ps.Set(i, a.Value); err != nil {
				return nil, err
			}
			continue
		}
		if out.In {
			if err := ps.Set(i, reflect.ValueOf(out.Dest).Elem().Interface()); err != nil {
				return nil, err
			}
		}
		spec := binding.OutSpec{Type: rc.TypeOther}
		if _, ok := out.Dest.(**resultset.ResultSet); ok {
			spec.Type = rc.TypeRefCursor
		}
		if err := ps.RegisterOut(i, spec); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// assignOutputs copies output values into their sql.Out destinations.
func assignOutputs(ps *binding.ParameterSet, args []driver.NamedValue) error {
	for i, a := range args {
		out, ok := a.Value.(sql.Out)
		if !ok {
			continue
		}
		v, err := ps.Output(i)
		if err != nil {
			return err
		}
		if err := assign(out.Dest, v); err != nil {
			return errHelper.Wrap(err, rc.StatusInvalidCast, "output parameter %d", i)
		}
	}
	return nil
}

func assign(dest, v any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return errHelper.Errorf(rc.StatusInvalidArgument, "destination %T is not a pointer", dest)
	}
	elem := dv.Elem()
	if v == nil {
		elem.SetZero()
		return nil
	}
	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(elem.Type()):
		elem.Set(sv)
	case sv.Type().ConvertibleTo(elem.Type()):
		elem.Set(sv.Convert(elem.Type()))
	default:
		return errHelper.Errorf(rc.StatusInvalidCast, "cannot store %T in %T", v, dest)
	}
	return nil
}

func (c *conn) Query(query string, values []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(values))
}

// QueryContext serves the statement from the client's cache.
func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	ps, err := params(args)
	if err != nil {
		return nil, err
	}
	rs, err := c.client.Query(ctx, query, ps)
	if err != nil {
		return nil, err
	}
	return newRows(rs), nil
}

func (c *conn) Exec(query string, values []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(values))
}

// ExecContext runs an update, or a stored procedure call when query is a
// call or any argument is an sql.Out.
func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ps, err := params(args)
	if err != nil {
		return nil, err
	}
	if ps.Callable() || binding.ClassifyVerb(query) == binding.VerbCall {
		if !ps.Callable() {
			ps = binding.New(len(args), true)
			for i, a := range args {
				if err := ps.Set(i, a.Value); err != nil {
					return nil, err
				}
			}
		}
		if err := c.client.Call(ctx, query, ps); err != nil {
			return nil, err
		}
		return driver.RowsAffected(0), assignOutputs(ps, args)
	}

	n, err := c.client.Exec(ctx, query, ps)
	if err != nil {
		return nil, err
	}
	return result(n), nil
}

// result reports n affected rows; a negative n means unknown.
type result int64

func (r result) LastInsertId() (int64, error) {
	return 0, errHelper.Errorf(rc.StatusNotImplemented, "LastInsertId is not supported")
}

func (r result) RowsAffected() (int64, error) {
	if r < 0 {
		return 0, errHelper.Errorf(rc.StatusNotImplemented, "the backend did not report an affected row count")
	}
	return int64(r), nil
}

func named(values []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(values))
	for i, value := range values {
		out[i] = driver.NamedValue{
			// nb: Name field is optional
			Ordinal: i + 1,
			Value:   value,
		}
	}
	return out
}

// Begin exists to fulfill the Conn interface, but will return an error.
//
// Deprecated
func (c *conn) Begin() (driver.Tx, error) {
	return nil, errHelper.Errorf(rc.StatusNotImplemented, "transactions are not supported")
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return c.Begin()
}

// Prepare returns a prepared statement, bound to this connection.
func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext returns a statement bound to this connection. Nothing is
// sent to the backend until the statement runs.
func (c *conn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	return &stmt{conn: c, query: query, numInput: binding.CountPlaceholders(query)}, nil
}

type stmt struct {
	conn     *conn
	query    string
	numInput int
}

func (s *stmt) Close() error { return nil }

// NumInput returns -1 when the placeholder count is unknown, leaving the
// check to the binder.
func (s *stmt) NumInput() int {
	if s.numInput == 0 {
		return -1
	}
	return s.numInput
}

func (s *stmt) CheckNamedValue(nv *driver.NamedValue) error {
	return s.conn.CheckNamedValue(nv)
}

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), named(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), named(args))
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

// rows iterates a view of a cached result.
type rows struct {
	rs      *resultset.ResultSet
	started bool
}

func newRows(rs *resultset.ResultSet) *rows {
	return &rows{rs: rs.View()}
}

func (r *rows) Columns() (out []string) {
	cols := r.rs.Columns()
	out = make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return
}

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if !r.started {
		r.started = true
		if r.rs.Size() == 0 {
			return io.EOF
		}
	} else if !r.rs.Next() {
		return io.EOF
	}

	cols := r.rs.Columns()
	for i := range dest {
		v, err := value(r.rs, cols[i], i)
		if err != nil {
			return err
		}
		dest[i] = v
	}
	return nil
}

// value reads column i of the current row as a driver value. Decimals
// that are not integers are passed as their exact text.
func value(rs *resultset.ResultSet, c resultset.Column, i int) (driver.Value, error) {
	ref := resultset.At(i)
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
		if d.Exponent >= 0 {
			if n, err := d.Int64(); err == nil {
				return n, nil
			}
		}
		return d.Text('f'), nil
	case rc.TypeBoolean:
		return rs.GetBoolean(ref)
	case rc.TypeDate, rc.TypeTimestamp, rc.TypeTimestampWithZone, rc.TypeTimestampLocalZone:
		t, err := rs.GetTime(ref)
		if err != nil || !t.Valid {
			return nil, err
		}
		return t.Time, nil
	case rc.TypeIntervalDaySecond:
		d, err := rs.GetDuration(ref)
		if err != nil || !d.Valid {
			return nil, err
		}
		return int64(d.V), nil
	case rc.TypeBinary, rc.TypeLongBinary, rc.TypeLargeBinary, rc.TypeLargeFileRef:
		return rs.GetBytes(ref)
	case rc.TypeText, rc.TypeLongText, rc.TypeLargeText, rc.TypeRowID, rc.TypeXMLDocument,
		rc.TypeIntervalYearMonth:
		s, err := rs.GetString(ref)
		if err != nil || !s.Valid {
			return nil, err
		}
		return s.String, nil
	}
	return rs.GetObject(ref)
}

func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	return r.rs.Columns()[index].TypeName
}

func (r *rows) ColumnTypeNullable(int) (nullable, ok bool) {
	return true, true
}

func (r *rows) ColumnTypeLength(index int) (length int64, ok bool) {
	c := r.rs.Columns()[index]
	switch c.Type {
	case rc.TypeText, rc.TypeBinary, rc.TypeLongText, rc.TypeLongBinary,
		rc.TypeLargeText, rc.TypeLargeBinary:
		return c.Length, c.Length > 0
	}
	return 0, false
}

func (r *rows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	c := r.rs.Columns()[index]
	if c.Type != rc.TypeNumber {
		return 0, 0, false
	}
	return c.Length, c.Scale, true
}

var (
	typeInt64    = reflect.TypeOf(int64(0))
	typeString   = reflect.TypeOf("")
	typeBool     = reflect.TypeOf(false)
	typeTime     = reflect.TypeOf(time.Time{})
	typeBytes    = reflect.TypeOf([]byte(nil))
	typeResult   = reflect.TypeOf((*resultset.ResultSet)(nil))
	typeAnything = reflect.TypeOf((*any)(nil)).Elem()
)

func (r *rows) ColumnTypeScanType(index int) reflect.Type {
	c := r.rs.Columns()[index]
	switch c.Type {
	case rc.TypeNumber:
		if c.Scale > 0 {
			return typeString
		}
		return typeAnything
	case rc.TypeBoolean:
		return typeBool
	case rc.TypeDate, rc.TypeTimestamp, rc.TypeTimestampWithZone, rc.TypeTimestampLocalZone:
		return typeTime
	case rc.TypeIntervalDaySecond:
		return typeInt64
	case rc.TypeBinary, rc.TypeLongBinary, rc.TypeLargeBinary, rc.TypeLargeFileRef:
		return typeBytes
	case rc.TypeText, rc.TypeLongText, rc.TypeLargeText, rc.TypeRowID, rc.TypeXMLDocument,
		rc.TypeIntervalYearMonth:
		return typeString
	case rc.TypeRefCursor, rc.TypeNestedResultSet:
		return typeResult
	}
	return typeAnything
}
