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

package call_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/call"
	"github.com/apache/arrow-adbc/go/resultcache/materialize"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fakeStatement records bound values and serves canned results.
type fakeStatement struct {
	owner  *fakePreparer
	values map[int]any
	outs   map[int]binding.OutSpec
	closed bool
}

func (s *fakeStatement) set(i int, v any) error {
	s.values[i] = v
	return nil
}

func (s *fakeStatement) SetString(i int, v string) error { return s.set(i, v) }
func (s *fakeStatement) SetNumber(i int, v any) error    { return s.set(i, v) }
func (s *fakeStatement) SetBool(i int, v bool) error     { return s.set(i, v) }
func (s *fakeStatement) SetTime(i int, v time.Time, _ rc.CanonicalType) error {
	return s.set(i, v)
}
func (s *fakeStatement) SetBytes(i int, v []byte) error { return s.set(i, v) }
func (s *fakeStatement) SetLob(i int, r io.Reader, _ rc.CanonicalType) error {
	return s.set(i, r)
}
func (s *fakeStatement) SetIndexedArray(i int, v any, _ string) error { return s.set(i, v) }
func (s *fakeStatement) SetRecord(i int, v []binding.Record, _ string) error {
	return s.set(i, v)
}
func (s *fakeStatement) SetObject(i int, v any, _ string) error { return s.set(i, v) }
func (s *fakeStatement) SetNull(i int, _ rc.CanonicalType, _ string) error {
	return s.set(i, nil)
}
func (s *fakeStatement) RegisterOut(i int, spec binding.OutSpec) error {
	s.outs[i] = spec
	return nil
}

func (s *fakeStatement) Query(context.Context) (materialize.Cursor, error) {
	if err := s.owner.nextFailure(); err != nil {
		return nil, err
	}
	return materialize.FromData(s.owner.cols, s.owner.rows), nil
}

func (s *fakeStatement) Exec(context.Context) (int64, error) {
	if err := s.owner.nextFailure(); err != nil {
		return 0, err
	}
	return int64(len(s.values)), nil
}

func (s *fakeStatement) Out(i int) (any, error) {
	if _, ok := s.outs[i]; !ok {
		return nil, errors.New("not an output")
	}
	if s.outs[i].Type == rc.TypeRefCursor {
		return materialize.FromData(s.owner.cols, s.owner.rows), nil
	}
	return s.values[i], nil
}

func (s *fakeStatement) Close() error {
	s.closed = true
	return nil
}

type fakePreparer struct {
	cols     []materialize.ColumnInfo
	rows     [][]any
	failures []error
	prepared []*fakeStatement
	queries  []string
}

func (p *fakePreparer) nextFailure() error {
	if len(p.failures) == 0 {
		return nil
	}
	err := p.failures[0]
	p.failures = p.failures[1:]
	return err
}

func (p *fakePreparer) Prepare(_ context.Context, query string, _ bool) (binding.Statement, error) {
	p.queries = append(p.queries, query)
	stmt := &fakeStatement{owner: p, values: map[int]any{}, outs: map[int]binding.OutSpec{}}
	p.prepared = append(p.prepared, stmt)
	return stmt, nil
}

type ExecutorSuite struct {
	suite.Suite

	prep     *fakePreparer
	recorder *tracetest.SpanRecorder
	exec     *call.Executor
}

func (s *ExecutorSuite) SetupTest() {
	s.prep = &fakePreparer{
		cols: []materialize.ColumnInfo{{Name: "ID", DatabaseTypeName: "NUMBER"}, {Name: "NAME", DatabaseTypeName: "VARCHAR2"}},
		rows: [][]any{{int64(1), "one"}, {int64(2), "two"}, {int64(3), "three"}},
	}
	s.recorder = tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.recorder))

	var err error
	s.exec, err = call.NewExecutor(s.prep, nil, call.WithTracer(tp.Tracer("call")))
	s.Require().NoError(err)
}

func (s *ExecutorSuite) TestQuery() {
	rs, err := s.exec.Query(context.Background(), "SELECT id, name FROM t WHERE id > ?", binding.Of(int64(0)), 2)
	s.Require().NoError(err)
	s.Equal(2, rs.Size())
	s.True(rs.HitRowLimit())

	name, err := rs.GetString(resultset.Named("name"))
	s.NoError(err)
	s.Equal("one", name.String)

	s.Require().Len(s.prep.prepared, 1)
	s.True(s.prep.prepared[0].closed)
	s.Equal(int64(0), s.prep.prepared[0].values[0])

	var names []string
	for _, sp := range s.recorder.Ended() {
		names = append(names, sp.Name())
	}
	s.Contains(names, "Query")
	s.Contains(names, "Materialize")
}

func (s *ExecutorSuite) TestRetryOnce() {
	s.prep.failures = []error{errors.New("ORA-04068: existing state of packages has been discarded")}

	rs, err := s.exec.Query(context.Background(), "SELECT id, name FROM t", nil, 0)
	s.Require().NoError(err)
	s.Equal(3, rs.Size())
	s.Len(s.prep.prepared, 2, "the statement is prepared again")
	for _, st := range s.prep.prepared {
		s.True(st.closed)
	}

	var retried bool
	for _, sp := range s.recorder.Ended() {
		for _, ev := range sp.Events() {
			retried = retried || ev.Name == "retry"
		}
	}
	s.True(retried)
}

func (s *ExecutorSuite) TestSecondFailureJoinsBoth() {
	first := errors.New("ORA-04068: existing state of packages has been discarded")
	second := errors.New("ORA-04061: existing state of package body has been invalidated")
	s.prep.failures = []error{first, second}

	_, err := s.exec.Exec(context.Background(), "UPDATE t SET a = 1", nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "ORA-04068")
	s.Contains(err.Error(), "retry failed")
	s.Contains(err.Error(), "ORA-04061")
	s.ErrorIs(err, first)
	s.ErrorIs(err, second)
	s.EqualValues(4061, binding.VendorCode(err))
	s.Len(s.prep.prepared, 2, "no third attempt")
}

func (s *ExecutorSuite) TestMissingParametersAreNotRetried() {
	ps := binding.New(2, false)
	s.Require().NoError(ps.Set(0, "x"))

	_, err := s.exec.Query(context.Background(), "SELECT * FROM t WHERE a = ? AND b = ?", ps, 0)
	s.True(rc.IsStatus(err, rc.StatusBinding))
	s.Empty(s.prep.prepared)

	_, err = s.exec.Query(context.Background(), "SELECT * FROM t WHERE a = ? AND b = ?", binding.Of("x"), 0)
	s.True(rc.IsStatus(err, rc.StatusBinding))
	s.Contains(err.Error(), "2 placeholders")
	s.Empty(s.prep.prepared)
}

func (s *ExecutorSuite) TestExec() {
	n, err := s.exec.Exec(context.Background(), "INSERT INTO t VALUES (?, ?)", binding.Of(int64(4), "four"))
	s.NoError(err)
	s.EqualValues(2, n)
}

func (s *ExecutorSuite) TestCall() {
	ps := binding.New(3, true)
	s.Require().NoError(ps.Set(0, int64(7)))
	s.Require().NoError(ps.RegisterOut(0, binding.OutSpec{Type: rc.TypeNumber}))
	s.Require().NoError(ps.Set(1, "in"))
	s.Require().NoError(ps.RegisterOut(2, binding.OutSpec{Type: rc.TypeRefCursor}))

	s.Require().NoError(s.exec.Call(context.Background(), "BEGIN pkg.proc(:a, :b, :c); END;", ps, 0))

	v, err := ps.Output(0)
	s.NoError(err)
	s.Equal(int64(7), v)

	v, err = ps.Output(2)
	s.NoError(err)
	rs, ok := v.(*resultset.ResultSet)
	s.Require().True(ok)
	s.Equal(3, rs.Size())

	err = s.exec.Call(context.Background(), "BEGIN pkg.proc; END;", binding.Of(), 0)
	s.True(rc.IsStatus(err, rc.StatusInvalidArgument))
}

func (s *ExecutorSuite) TestCancelledContextIsNotRetried() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.exec.Query(ctx, "SELECT id FROM t", nil, 0)
	s.Error(err)
	s.LessOrEqual(len(s.prep.prepared), 1)
}

func TestExecutor(t *testing.T) {
	suite.Run(t, new(ExecutorSuite))
}

func TestNewExecutorValidation(t *testing.T) {
	_, err := call.NewExecutor(nil, nil)
	assert.True(t, rc.IsStatus(err, rc.StatusInvalidArgument))

	e, err := call.NewExecutor(&fakePreparer{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, e.Materializer())
}
