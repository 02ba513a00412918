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

// rcquery runs one statement through a caching client and writes the
// materialized rows to stdout.
//
//	rcquery -backend sqlite -dsn my.db -o cache.seconds=60 -repeat 3 \
//	    -format csv "SELECT * FROM t WHERE id > ?" 10
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/client"
	"github.com/apache/arrow-adbc/go/resultcache/driver/oracle"
	"github.com/apache/arrow-adbc/go/resultcache/export"
	"github.com/apache/arrow-adbc/go/resultcache/logging"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/apache/arrow-adbc/go/resultcache/sqldriver"
	"github.com/apache/arrow-adbc/go/resultcache/tracing"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	_ "modernc.org/sqlite"
)

type optionFlags map[string]string

func (o optionFlags) String() string {
	parts := make([]string, 0, len(o))
	for k, v := range o {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (o optionFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("option %q is not key=value", s)
	}
	o[strings.TrimSpace(k)] = strings.TrimSpace(v)
	return nil
}

// parameter binds integers and decimals as numbers, everything else as
// text.
func parameter(s string) any {
	if s == "NULL" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func openBackend(backend, dsn string, opts map[string]string) (*sql.DB, binding.Preparer, map[string]string, error) {
	switch backend {
	case "sqlite":
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, sqldriver.NewPreparer(db), opts, nil
	case "oracle":
		if dsn != "" {
			opts[oracle.OptionKeyURL] = dsn
		}
		url, rest, err := oracle.ParseOptions(opts)
		if err != nil {
			return nil, nil, nil, err
		}
		db, err := oracle.Open(url)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, oracle.NewPreparer(db), rest, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown backend %q", backend)
}

func write(w io.Writer, format string, rs *resultset.ResultSet, limit int) error {
	switch format {
	case "json":
		return export.WriteJSON(w, rs, export.WithLimit(limit))
	case "ndjson":
		return export.WriteJSON(w, rs, export.WithLimit(limit), export.WithNewlineDelimited(true))
	case "csv":
		return export.WriteCSV(w, rs, export.WithLimit(limit), export.WithHeader(true))
	case "arrow":
		rdr, err := export.NewRecordReader(memory.DefaultAllocator, rs, 1024)
		if err != nil {
			return err
		}
		defer rdr.Release()

		wr := ipc.NewWriter(w, ipc.WithSchema(rdr.Schema()))
		for rdr.Next() {
			if err := wr.Write(rdr.Record()); err != nil {
				return err
			}
		}
		if err := rdr.Err(); err != nil {
			return err
		}
		return wr.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

func main() {
	opts := optionFlags{}
	var (
		backend = flag.String("backend", "sqlite", "backend: sqlite or oracle")
		dsn     = flag.String("dsn", "", "database file (sqlite) or connection URL (oracle)")
		format  = flag.String("format", "json", "output format: json, ndjson, csv or arrow")
		limit   = flag.Int("limit", -1, "rows to write, negative for all")
		repeat  = flag.Int("repeat", 1, "number of times to run the query")
		timeout = flag.Duration("timeout", time.Minute, "timeout of each execution")
		logDir  = flag.String("log-dir", "", "write a rotating text log to this folder")
		debug   = flag.Bool("debug", false, "log debug messages")
		traces  = flag.String("traces", "", "traces exporter: none, console, otlp or file (default $OTEL_TRACES_EXPORTER)")
	)
	flag.Var(opts, "o", "client option as key=value, may be repeated")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: rcquery [flags] <sql> [parameters...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	db, prep, clientOpts, err := openBackend(*backend, *dsn, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	var options []client.Option
	if *logDir != "" {
		tl, err := logging.OpenTextLog(logging.LogConfig{Debug: *debug, Folder: *logDir, Prefix: "rcquery"})
		if err != nil {
			log.Fatal(err)
		}
		defer tl.Close()
		options = append(options, client.WithSink(tl))
	}

	var fileOpts []logging.WriterOption
	if *logDir != "" {
		fileOpts = append(fileOpts, logging.WithFolder(*logDir))
	}
	tp, err := tracing.New(context.Background(), tracing.Config{Exporter: *traces, FileOptions: fileOpts})
	if err != nil {
		log.Fatal(err)
	}
	defer tp.Shutdown(context.Background())
	options = append(options, client.WithTracer(tp.Tracer()))

	c, err := client.New(prep, clientOpts, options...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	query := flag.Arg(0)
	values := make([]any, 0, flag.NArg()-1)
	for _, a := range flag.Args()[1:] {
		values = append(values, parameter(a))
	}

	for i := 0; i < *repeat; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		start := time.Now()
		res, err := c.Execute(ctx, query, binding.Of(values...))
		cancel()
		if err != nil {
			log.Fatal(err)
		}
		if res.Rows == nil {
			fmt.Fprintf(os.Stderr, "%s: %d rows affected in %s\n", res.Verb, res.RowsAffected, time.Since(start))
			continue
		}
		fmt.Fprintf(os.Stderr, "run %d: %d rows in %s, reused %d times\n",
			i+1, res.Rows.Size(), time.Since(start), res.Rows.ReuseCount())
		if i == *repeat-1 {
			if err := write(os.Stdout, *format, res.Rows, *limit); err != nil {
				log.Fatal(err)
			}
		}
	}
}
