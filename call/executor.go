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

// Package call runs statements and stored procedure calls: prepare, bind,
// execute, then materialize the cursor or unload the output parameters.
//
// A call that fails at the backend is prepared, bound and executed once
// more before giving up.
package call

import (
	"context"
	"errors"
	"log/slog"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/materialize"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errHelper = rc.ErrorHelper{Component: "call"}

type Executor struct {
	preparer binding.Preparer
	mat      *materialize.Materializer
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewExecutor builds an Executor. A nil materializer gets the defaults of
// materialize.New.
func NewExecutor(p binding.Preparer, mat *materialize.Materializer, opts ...Option) (*Executor, error) {
	if p == nil {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "nil preparer")
	}
	e := &Executor{
		preparer: p,
		mat:      mat,
		logger:   rc.NilLogger(),
		tracer:   rc.NilTracer(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.mat == nil {
		m, err := materialize.New(materialize.WithLogger(e.logger), materialize.WithTracer(e.tracer))
		if err != nil {
			return nil, err
		}
		e.mat = m
	}
	return e, nil
}

func (e *Executor) Materializer() *materialize.Materializer { return e.mat }

// Query executes a row-returning statement and materializes up to maxRows
// rows. A nil ps means no parameters.
func (e *Executor) Query(ctx context.Context, query string, ps *binding.ParameterSet, maxRows int) (*resultset.ResultSet, error) {
	var rs *resultset.ResultSet
	err := e.run(ctx, "Query", query, false, ps, func(ctx context.Context, stmt binding.Statement) error {
		cur, err := stmt.Query(ctx)
		if err != nil {
			return err
		}
		if cur == nil {
			return errHelper.Errorf(rc.StatusIO, "statement returned no cursor")
		}
		rs, err = e.mat.Materialize(ctx, cur, maxRows)
		return err
	})
	return rs, err
}

// Call executes a stored procedure call and unloads its output parameters
// into ps. Cursor outputs are materialized up to maxRows rows.
func (e *Executor) Call(ctx context.Context, query string, ps *binding.ParameterSet, maxRows int) error {
	return e.run(ctx, "Call", query, true, ps, func(ctx context.Context, stmt binding.Statement) error {
		if _, err := stmt.Exec(ctx); err != nil {
			return err
		}
		return binding.Unload(ctx, ps, stmt, e.mat, maxRows)
	})
}

// Exec executes a statement that returns no rows and reports the number
// of affected rows.
func (e *Executor) Exec(ctx context.Context, query string, ps *binding.ParameterSet) (int64, error) {
	var n int64
	err := e.run(ctx, "Exec", query, false, ps, func(ctx context.Context, stmt binding.Statement) (err error) {
		n, err = stmt.Exec(ctx)
		return err
	})
	return n, err
}

func (e *Executor) run(ctx context.Context, op, query string, callable bool, ps *binding.ParameterSet,
	execute func(context.Context, binding.Statement) error) (err error) {
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(rc.SpanAttributes(query)...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if ps == nil {
		ps = binding.New(0, callable)
	}
	if callable && !ps.Callable() {
		return errHelper.Errorf(rc.StatusInvalidArgument, "stored procedure call with a non-callable parameter set")
	}
	if n := binding.CountPlaceholders(query); n > ps.Len() {
		return errHelper.Errorf(rc.StatusBinding, "statement has %d placeholders but only %d parameters", n, ps.Len())
	}
	if err := ps.CheckSet(); err != nil {
		return err
	}

	first := e.attempt(ctx, query, callable, ps, execute)
	if first == nil {
		return nil
	}
	if ctx.Err() != nil {
		return first
	}

	e.logger.Debug("call failed, preparing it again", "op", op, "error", first)
	span.AddEvent("retry", trace.WithAttributes(attribute.String("error", first.Error())))
	second := e.attempt(ctx, query, callable, ps, execute)
	if second == nil {
		return nil
	}
	return retryErr(first, second)
}

func (e *Executor) attempt(ctx context.Context, query string, callable bool, ps *binding.ParameterSet,
	execute func(context.Context, binding.Statement) error) (err error) {
	stmt, err := e.preparer.Prepare(ctx, query, callable)
	if err != nil {
		return errHelper.Wrap(err, statusOr(err, rc.StatusIO), "prepare")
	}
	defer func() {
		if cerr := stmt.Close(); cerr != nil {
			e.logger.Warn("failed to close statement", "error", cerr)
		}
	}()

	if err := binding.Bind(ctx, ps, stmt); err != nil {
		return err
	}
	if err := execute(ctx, stmt); err != nil {
		return errHelper.Wrap(err, statusOr(err, rc.StatusIO), "execute")
	}
	return nil
}

func statusOr(err error, def rc.Status) rc.Status {
	if code := rc.StatusOf(err); code != rc.StatusUnknown {
		return code
	}
	return def
}

// retryErr reports both failures of a retried call.
func retryErr(first, second error) error {
	out := rc.Error{
		Code: statusOr(second, rc.StatusIO),
		Msg:  "[call] " + first.Error() + "; retry failed: " + second.Error(),
		Err:  errors.Join(first, second),
	}
	out.VendorCode = binding.VendorCode(second)
	var inner rc.Error
	if errors.As(second, &inner) {
		out.SqlState = inner.SqlState
	}
	return out
}
