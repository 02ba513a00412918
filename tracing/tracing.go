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

// Package tracing builds the OpenTelemetry tracer handed to the client.
// The exporter is chosen by name, by default from the OTEL_TRACES_EXPORTER
// environment variable.
package tracing

import (
	"context"
	"errors"
	"os"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Namespace names the instrumentation scope and the service.
	Namespace = "apache.arrow.resultcache"

	EnvTracesExporter = "OTEL_TRACES_EXPORTER"

	ExporterNone    = "none"
	ExporterOtlp    = "otlp"
	ExporterConsole = "console"
	ExporterFile    = "file"
)

var errHelper = rc.ErrorHelper{Component: "tracing"}

// Config selects and configures the exporter.
type Config struct {
	// Exporter is one of the Exporter* names. EnvTracesExporter is read
	// when empty.
	Exporter string
	// Version is recorded as the instrumentation version.
	Version string
	// FileOptions configure the rotating files of ExporterFile.
	FileOptions []logging.WriterOption
}

// Provider owns the tracer and its exporters.
type Provider struct {
	tracer   trace.Tracer
	shutdown []func(context.Context) error
}

// Tracer is the tracer to pass to client.WithTracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes pending spans and releases the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// New creates the provider named by cfg. With no exporter configured the
// global tracer is used.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	name := cfg.Exporter
	if name == "" {
		name = os.Getenv(EnvTracesExporter)
	}

	p := &Provider{}
	var (
		exporters []sdktrace.SpanExporter
		file      *logging.RotatingFileWriter
	)
	switch name {
	case "":
		p.tracer = otel.Tracer(Namespace)
		return p, nil
	case ExporterNone:
		p.tracer = rc.NilTracer()
		return p, nil
	case ExporterConsole:
		exp, err := stdouttrace.New()
		if err != nil {
			return nil, errHelper.Wrap(err, rc.StatusConfiguration, "creating console exporter")
		}
		exporters = append(exporters, exp)
	case ExporterOtlp:
		exps, err := newOtlpExporters(ctx)
		if err != nil {
			return nil, errHelper.Wrap(err, rc.StatusConfiguration, "creating otlp exporters")
		}
		exporters = exps
	case ExporterFile:
		var err error
		file, err = logging.NewRotatingFileWriter(append([]logging.WriterOption{
			logging.WithPrefix(Namespace), logging.WithExtension(".jsonl"),
		}, cfg.FileOptions...)...)
		if err != nil {
			return nil, errHelper.Wrap(err, rc.StatusIO, "opening trace folder")
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(file))
		if err != nil {
			return nil, errHelper.Wrap(err, rc.StatusConfiguration, "creating file exporter")
		}
		exporters = append(exporters, exp)
	default:
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "unknown traces exporter '%s'", name)
	}

	tp, err := newTracerProvider(exporters...)
	if err != nil {
		return nil, err
	}
	p.shutdown = append(p.shutdown, tp.Shutdown)
	if file != nil {
		// after the provider has flushed
		p.shutdown = append(p.shutdown, func(context.Context) error { return file.Close() })
	}
	p.tracer = tp.Tracer(Namespace,
		trace.WithInstrumentationVersion(cfg.Version),
		trace.WithSchemaURL(semconv.SchemaURL))
	return p, nil
}

// newOtlpExporters are configured through the standard OTEL_EXPORTER_OTLP_*
// environment variables.
func newOtlpExporters(ctx context.Context) ([]sdktrace.SpanExporter, error) {
	grpcExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
		}))
	if err != nil {
		return nil, err
	}
	httpExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: 5 * time.Second,
			MaxInterval:     30 * time.Second,
		}))
	if err != nil {
		return nil, err
	}
	return []sdktrace.SpanExporter{grpcExporter, httpExporter}, nil
}

func newTracerProvider(exporters ...sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	own := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(Namespace))
	res, err := resource.Merge(resource.Default(), own)
	if err != nil {
		if !errors.Is(err, resource.ErrSchemaURLConflict) {
			return nil, err
		}
		res = own
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, exp := range exporters {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
