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

package resultcache

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Logging is a component that supports logging information to an
// application-supplied log sink. A nil logger discards output.
type Logging interface {
	SetLogger(*slog.Logger)
}

// OTelTracing is a component that supports instrumentation of
// [OpenTelemetry tracing].
//
// [OpenTelemetry tracing]: https://opentelemetry.io/docs/concepts/signals/traces/
type OTelTracing interface {
	// Sets the tracer used for new spans. A nil tracer disables tracing.
	SetTracer(trace.Tracer)
	// Starts a new span and returns a [trace.Span] which can be used to
	// set the status and add attributes.
	StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// MemoryWatcher reports process-wide memory telemetry.
type MemoryWatcher interface {
	// FreeMemoryPercent is the share of the memory budget still available,
	// between 0 and 100.
	FreeMemoryPercent() float64
	// SafetyThreshold is the free percentage at or below which the engine
	// stops growing in-memory state.
	SafetyThreshold() float64
}

// MemorySafe reports whether w allows more memory to be used. A nil watcher
// is always safe.
func MemorySafe(w MemoryWatcher) bool {
	if w == nil {
		return true
	}
	return w.FreeMemoryPercent() > w.SafetyThreshold()
}

// TempFile is a freshly created, uniquely named file.
type TempFile interface {
	io.WriteCloser
	Name() string
}

// FileSystem is the set of file primitives the engine needs.
type FileSystem interface {
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error
	// CopyFile copies the contents of src into dst, replacing dst.
	CopyFile(dst, src string) error
	// CreateTemp creates a new file in dir whose name starts with prefix and
	// ends with suffix.
	CreateTemp(dir, prefix, suffix string) (TempFile, error)
	// Open opens the named file for reading.
	Open(path string) (io.ReadCloser, error)
	// Remove deletes the named file.
	Remove(path string) error
}

// NilLogger returns a logger that discards everything.
func NilLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NilTracer returns a tracer whose spans are never recorded.
func NilTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("")
}

// SpanAttributes returns the attributes common to every span describing a
// call on statement text query.
func SpanAttributes(query string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.query.text", query),
	}
}
