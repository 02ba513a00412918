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

// Package client is the entry point of the engine. A Client runs
// statements and stored procedure calls through a binding.Preparer,
// materializes their results, and keeps one result cache per statement
// text.
//
// Clients are configured with string options, the keys of which are
// defined in the resultcache package:
//
//	c, err := client.New(preparer, map[string]string{
//		resultcache.OptionKeyCacheSeconds: "60",
//		resultcache.OptionKeyQueryRows:    "5000",
//	})
package client

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/call"
	"github.com/apache/arrow-adbc/go/resultcache/lob"
	"github.com/apache/arrow-adbc/go/resultcache/logging"
	"github.com/apache/arrow-adbc/go/resultcache/materialize"
	"github.com/apache/arrow-adbc/go/resultcache/memwatch"
	"github.com/apache/arrow-adbc/go/resultcache/querycache"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/bluele/gcache"
	"go.opentelemetry.io/otel/trace"
)

var errHelper = rc.ErrorHelper{Component: "client"}

// thresholdSetter is implemented by watchers whose threshold can change.
type thresholdSetter interface {
	SetSafetyThreshold(percent float64) error
}

type settings struct {
	cacheSeconds int
	cacheRows    int
	queryRows    int
	lobPolicy    lob.Policy
	lobTempDir   string
	chunkSize    int
	deleteOnExit bool
}

func defaultSettings() settings {
	return settings{
		lobPolicy:    lob.PolicyBytes,
		lobTempDir:   os.TempDir(),
		chunkSize:    rc.DefaultChunkSize,
		deleteOnExit: true,
	}
}

// Client is safe for concurrent use.
type Client struct {
	preparer binding.Preparer
	watcher  rc.MemoryWatcher
	fs       rc.FileSystem
	clock    gcache.Clock
	logger   *slog.Logger
	tracer   trace.Tracer

	mu         sync.Mutex
	cfg        settings
	exec       *call.Executor
	offloaders []*lob.Offloader
	caches     map[string]*querycache.Cache
	closed     bool
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSink routes the client's log records to sink.
func WithSink(sink logging.Sink) Option {
	return func(c *Client) {
		if sink != nil {
			c.logger = slog.New(logging.NewHandler(sink))
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithMemoryWatcher replaces the runtime memory watcher.
func WithMemoryWatcher(w rc.MemoryWatcher) Option {
	return func(c *Client) { c.watcher = w }
}

func WithFileSystem(fs rc.FileSystem) Option {
	return func(c *Client) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// WithClock sets the clock of the result caches.
func WithClock(clock gcache.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New creates a client over p and applies opts. Caching is disabled
// unless resultcache.OptionKeyCacheSeconds is set.
func New(p binding.Preparer, opts map[string]string, options ...Option) (*Client, error) {
	if p == nil {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "nil preparer")
	}
	c := &Client{
		preparer: p,
		fs:       rc.OSFileSystem{},
		clock:    gcache.NewRealClock(),
		logger:   rc.NilLogger(),
		tracer:   rc.NilTracer(),
		cfg:      defaultSettings(),
		caches:   make(map[string]*querycache.Cache),
	}
	for _, o := range options {
		o(c)
	}
	if c.watcher == nil {
		w, err := memwatch.NewRuntime()
		if err != nil {
			return nil, err
		}
		c.watcher = w
	}

	cfg := c.cfg
	for k, v := range opts {
		if err := cfg.set(k, v); err != nil {
			return nil, err
		}
		if k == rc.OptionKeyMemoryThreshold {
			if err := c.setThreshold(v); err != nil {
				return nil, err
			}
		}
	}
	if err := c.rebuild(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

func parseInt(key, value string, min int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < min {
		return 0, errHelper.Errorf(rc.StatusInvalidArgument, "invalid value '%s' for option %s", value, key)
	}
	return n, nil
}

// set validates and stores one option.
func (s *settings) set(key, value string) (err error) {
	switch key {
	case rc.OptionKeyCacheSeconds:
		s.cacheSeconds, err = parseInt(key, value, rc.UnlimitedCacheSeconds)
	case rc.OptionKeyCacheRows:
		s.cacheRows, err = parseInt(key, value, 0)
	case rc.OptionKeyQueryRows:
		s.queryRows, err = parseInt(key, value, 0)
	case rc.OptionKeyLobPolicy:
		s.lobPolicy, err = lob.ParsePolicy(value)
	case rc.OptionKeyLobTempDir:
		s.lobTempDir = value
	case rc.OptionKeyLobChunkSize:
		s.chunkSize, err = parseInt(key, value, 1)
	case rc.OptionKeyLobDeleteOnExit:
		switch value {
		case rc.OptionValueEnabled:
			s.deleteOnExit = true
		case rc.OptionValueDisabled:
			s.deleteOnExit = false
		default:
			err = errHelper.Errorf(rc.StatusInvalidArgument, "invalid value '%s' for option %s", value, key)
		}
	case rc.OptionKeyMemoryThreshold:
		var f float64
		if f, err = strconv.ParseFloat(value, 64); err != nil || f < 0 || f > 100 {
			err = errHelper.Errorf(rc.StatusInvalidArgument, "invalid value '%s' for option %s", value, key)
		}
	default:
		err = errHelper.Errorf(rc.StatusNotImplemented, "unknown option %s", key)
	}
	return
}

func (s settings) get(key string) (string, error) {
	switch key {
	case rc.OptionKeyCacheSeconds:
		return strconv.Itoa(s.cacheSeconds), nil
	case rc.OptionKeyCacheRows:
		return strconv.Itoa(s.cacheRows), nil
	case rc.OptionKeyQueryRows:
		return strconv.Itoa(s.queryRows), nil
	case rc.OptionKeyLobPolicy:
		return s.lobPolicy.String(), nil
	case rc.OptionKeyLobTempDir:
		return s.lobTempDir, nil
	case rc.OptionKeyLobChunkSize:
		return strconv.Itoa(s.chunkSize), nil
	case rc.OptionKeyLobDeleteOnExit:
		return strconv.FormatBool(s.deleteOnExit), nil
	}
	return "", errHelper.Errorf(rc.StatusNotFound, "unknown option %s", key)
}

func (c *Client) setThreshold(value string) error {
	ts, ok := c.watcher.(thresholdSetter)
	if !ok {
		return errHelper.Errorf(rc.StatusInvalidState, "the memory watcher has a fixed threshold")
	}
	f, _ := strconv.ParseFloat(value, 64)
	return ts.SetSafetyThreshold(f)
}

func (c *Client) rebuild(cfg settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuildLocked(cfg)
}

// rebuildLocked replaces the offloader and executor for cfg. Earlier
// offloaders stay open until Close, since results they produced may
// still be in use.
func (c *Client) rebuildLocked(cfg settings) error {
	off, err := lob.NewOffloader(
		lob.WithPolicy(cfg.lobPolicy),
		lob.WithTempDir(cfg.lobTempDir),
		lob.WithChunkSize(cfg.chunkSize),
		lob.WithDeleteOnExit(cfg.deleteOnExit),
		lob.WithFileSystem(c.fs),
		lob.WithLogger(c.logger),
	)
	if err != nil {
		return err
	}
	mat, err := materialize.New(
		materialize.WithOffloader(off),
		materialize.WithMemoryWatcher(c.watcher),
		materialize.WithLogger(c.logger),
		materialize.WithTracer(c.tracer),
	)
	if err != nil {
		return errors.Join(err, off.Close())
	}
	exec, err := call.NewExecutor(c.preparer, mat, call.WithLogger(c.logger), call.WithTracer(c.tracer))
	if err != nil {
		return errors.Join(err, off.Close())
	}
	c.cfg = cfg
	c.exec = exec
	c.offloaders = append(c.offloaders, off)
	return nil
}

// SetOption changes one option. Cache options apply to existing caches
// too; large object options apply to results materialized afterwards.
func (c *Client) SetOption(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errHelper.Errorf(rc.StatusInvalidState, "client is closed")
	}

	cfg := c.cfg
	if err := cfg.set(key, value); err != nil {
		return err
	}
	switch key {
	case rc.OptionKeyCacheSeconds, rc.OptionKeyCacheRows, rc.OptionKeyQueryRows:
		for _, qc := range c.caches {
			if err := qc.SetOption(key, value); err != nil {
				return err
			}
		}
		c.cfg = cfg
		return nil
	case rc.OptionKeyMemoryThreshold:
		return c.setThreshold(value)
	}
	return c.rebuildLocked(cfg)
}

func (c *Client) SetOptions(opts map[string]string) error {
	for k, v := range opts {
		if err := c.SetOption(k, v); err != nil {
			return err
		}
	}
	return nil
}

// GetOption returns the current value of an option.
func (c *Client) GetOption(key string) (string, error) {
	if key == rc.OptionKeyMemoryThreshold {
		return strconv.FormatFloat(c.watcher.SafetyThreshold(), 'f', -1, 64), nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.get(key)
}

// state returns the executor and, for cacheable statements, the cache of
// query.
func (c *Client) state(query string, cached bool) (*call.Executor, *querycache.Cache, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, errHelper.Errorf(rc.StatusInvalidState, "client is closed")
	}
	if !cached {
		return c.exec, nil, nil
	}
	if qc, ok := c.caches[query]; ok {
		return c.exec, qc, nil
	}

	qc, err := querycache.New(func(ctx context.Context, ps *binding.ParameterSet, maxRows int) (*resultset.ResultSet, error) {
		c.mu.Lock()
		exec := c.exec
		c.mu.Unlock()
		return exec.Query(ctx, query, ps, maxRows)
	},
		querycache.WithClock(c.clock),
		querycache.WithMemoryWatcher(c.watcher),
		querycache.WithLogger(c.logger.With("statement", query)),
		querycache.WithTracer(c.tracer),
		querycache.WithCacheSeconds(c.cfg.cacheSeconds),
		querycache.WithCacheRows(c.cfg.cacheRows),
		querycache.WithQueryRows(c.cfg.queryRows),
	)
	if err != nil {
		return nil, nil, err
	}
	c.caches[query] = qc
	return c.exec, qc, nil
}

// Query runs a row-returning statement, through the statement's result
// cache. A nil ps means no parameters.
func (c *Client) Query(ctx context.Context, query string, ps *binding.ParameterSet) (*resultset.ResultSet, error) {
	_, qc, err := c.state(query, true)
	if err != nil {
		return nil, err
	}
	return qc.Execute(ctx, ps)
}

// Exec runs a statement that returns no rows and reports the affected row
// count.
func (c *Client) Exec(ctx context.Context, query string, ps *binding.ParameterSet) (int64, error) {
	exec, _, err := c.state(query, false)
	if err != nil {
		return 0, err
	}
	return exec.Exec(ctx, query, ps)
}

// Call runs a stored procedure call. Output parameters are read back into
// ps; cursor outputs are materialized up to the query row limit.
func (c *Client) Call(ctx context.Context, query string, ps *binding.ParameterSet) error {
	exec, _, err := c.state(query, false)
	if err != nil {
		return err
	}
	c.mu.Lock()
	maxRows := c.cfg.queryRows
	c.mu.Unlock()
	return exec.Call(ctx, query, ps, maxRows)
}

// Result is the outcome of Execute. Rows is set for row-returning
// statements, RowsAffected for the others.
type Result struct {
	Verb         binding.Verb
	Rows         *resultset.ResultSet
	RowsAffected int64
}

// Execute classifies query by its leading verb and runs it as a query,
// a stored procedure call or an update.
func (c *Client) Execute(ctx context.Context, query string, ps *binding.ParameterSet) (Result, error) {
	res := Result{Verb: binding.ClassifyVerb(query)}
	var err error
	switch {
	case res.Verb.ReturnsRows():
		res.Rows, err = c.Query(ctx, query, ps)
	case res.Verb == binding.VerbCall:
		err = c.Call(ctx, query, ps)
	default:
		res.RowsAffected, err = c.Exec(ctx, query, ps)
	}
	return res, err
}

func (c *Client) cacheList() []*querycache.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*querycache.Cache, 0, len(c.caches))
	for _, qc := range c.caches {
		out = append(out, qc)
	}
	return out
}

// sweep runs purge over every cache, sharing one time budget.
func (c *Client) sweep(budget time.Duration, purge func(*querycache.Cache, time.Duration) int) int {
	start := time.Now()
	total := 0
	for _, qc := range c.cacheList() {
		remaining := time.Duration(0)
		if budget > 0 {
			if remaining = budget - time.Since(start); remaining <= 0 {
				c.logger.Info("cache sweep stopped early", "removed", total)
				break
			}
		}
		total += purge(qc, remaining)
	}
	return total
}

// PurgeExpired removes expired entries from every cache within budget
// (no limit when budget <= 0) and reports how many were removed.
func (c *Client) PurgeExpired(budget time.Duration) int {
	return c.sweep(budget, func(qc *querycache.Cache, b time.Duration) int {
		return qc.PurgeExpired(b)
	})
}

// PurgeUnderused removes entries reused fewer than minReuses times.
func (c *Client) PurgeUnderused(minReuses int64, budget time.Duration) int {
	return c.sweep(budget, func(qc *querycache.Cache, b time.Duration) int {
		return qc.PurgeUnderused(minReuses, b)
	})
}

// ClearCache empties every cache.
func (c *Client) ClearCache() {
	for _, qc := range c.cacheList() {
		qc.Clear()
	}
}

// CacheLen is the number of cached results over all statements.
func (c *Client) CacheLen() int {
	n := 0
	for _, qc := range c.cacheList() {
		n += qc.Len()
	}
	return n
}

// Close empties the caches, deleting the files of cached results, and
// removes the delete-on-exit files of every offloader.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	caches := c.caches
	offloaders := c.offloaders
	c.caches = nil
	c.offloaders = nil
	c.mu.Unlock()

	for _, qc := range caches {
		qc.Clear()
	}
	var errs []error
	for _, off := range offloaders {
		errs = append(errs, off.Close())
	}
	return errors.Join(errs...)
}
