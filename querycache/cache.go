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

// Package querycache keeps materialized results keyed by the signature of
// the parameters they were produced with.
//
// An entry lives until its time to live runs out, the cache is cleared, or
// a purge sweep removes it. Removing an entry leaves the files its result
// generated in place: views handed out earlier may still read them, and
// their cleanup belongs to the offloader or an explicit
// DeleteGeneratedFiles. Callers always receive an independent view of a
// cached result, so concurrent readers never share a cursor position.
package querycache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/bluele/gcache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var errHelper = rc.ErrorHelper{Component: "querycache"}

// RunFunc produces a fresh result for ps, reading at most maxRows rows
// (all rows when maxRows <= 0). It is the only path to the backend.
type RunFunc func(ctx context.Context, ps *binding.ParameterSet, maxRows int) (*resultset.ResultSet, error)

// Cache is safe for concurrent use.
type Cache struct {
	run     RunFunc
	clock   gcache.Clock
	watcher rc.MemoryWatcher
	logger  *slog.Logger
	tracer  trace.Tracer

	// mu makes lookup-then-return and capacity-check-then-insert atomic.
	mu        sync.Mutex
	store     gcache.Cache
	seconds   int
	capacity  int
	queryRows int

	flight singleflight.Group
}

type Option func(*Cache)

// WithClock replaces the wall clock, for tests.
func WithClock(clock gcache.Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func WithMemoryWatcher(w rc.MemoryWatcher) Option {
	return func(c *Cache) { c.watcher = w }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Cache) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithCacheSeconds sets the initial time to live, see SetCacheSeconds.
func WithCacheSeconds(n int) Option {
	return func(c *Cache) { c.seconds = n }
}

// WithCacheRows sets the initial capacity, see SetCacheRows.
func WithCacheRows(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// WithQueryRows sets the initial row cap, see SetQueryRows.
func WithQueryRows(n int) Option {
	return func(c *Cache) { c.queryRows = n }
}

// New creates a cache in front of run. Caching is disabled until a time
// to live is configured.
func New(run RunFunc, opts ...Option) (*Cache, error) {
	if run == nil {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "nil run function")
	}
	c := &Cache{
		run:    run,
		clock:  gcache.NewRealClock(),
		logger: rc.NilLogger(),
		tracer: rc.NilTracer(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.seconds < rc.UnlimitedCacheSeconds {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "invalid cache seconds %d", c.seconds)
	}
	c.store = gcache.New(0).Simple().
		Clock(c.clock).
		EvictedFunc(c.evicted).
		PurgeVisitorFunc(c.evicted).
		Build()
	return c, nil
}

func (c *Cache) evicted(key, value any) {
	rs, ok := value.(*resultset.ResultSet)
	if !ok {
		return
	}
	c.logger.Debug("removed cached result", "signature", key,
		"rows", rs.Size(), "files", len(rs.GeneratedFiles()))
}

// SetCacheSeconds sets the time to live of new entries: -1 keeps them
// until purged, 0 disables caching, a positive value is a number of
// seconds. Existing entries keep their expiration.
func (c *Cache) SetCacheSeconds(n int) error {
	if n < rc.UnlimitedCacheSeconds {
		return errHelper.Errorf(rc.StatusInvalidArgument, "invalid cache seconds %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seconds = n
	return nil
}

// SetCacheRows bounds the number of distinct signatures kept; n <= 0
// means no bound.
func (c *Cache) SetCacheRows(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = n
}

// SetQueryRows bounds the rows materialized per call; n <= 0 means no
// bound.
func (c *Cache) SetQueryRows(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryRows = n
}

func (c *Cache) CacheSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seconds
}

func (c *Cache) CacheRows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *Cache) QueryRows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryRows
}

// SetOption applies one of the cache option keys.
func (c *Cache) SetOption(key, value string) error {
	n, err := strconv.Atoi(value)
	switch key {
	case rc.OptionKeyCacheSeconds, rc.OptionKeyCacheRows, rc.OptionKeyQueryRows:
		if err != nil {
			return errHelper.Errorf(rc.StatusInvalidArgument, "invalid value '%s' for option %s", value, key)
		}
	default:
		return errHelper.Errorf(rc.StatusNotImplemented, "unknown option %s", key)
	}
	switch key {
	case rc.OptionKeyCacheSeconds:
		return c.SetCacheSeconds(n)
	case rc.OptionKeyCacheRows:
		c.SetCacheRows(n)
	case rc.OptionKeyQueryRows:
		c.SetQueryRows(n)
	}
	return nil
}

func (c *Cache) SetOptions(opts map[string]string) error {
	for k, v := range opts {
		if err := c.SetOption(k, v); err != nil {
			return err
		}
	}
	return nil
}

// lookup returns the live entry for sig. An expired entry is removed.
// c.mu must be held.
func (c *Cache) lookup(sig string) (*resultset.ResultSet, bool) {
	v, err := c.store.GetIFPresent(sig)
	if err != nil {
		return nil, false
	}
	rs := v.(*resultset.ResultSet)
	if rs.Expired(c.clock.Now()) {
		c.store.Remove(sig)
		return nil, false
	}
	return rs, true
}

// Execute returns the result for ps, from the cache when a live entry
// exists, otherwise by running the call. Results that may be cached are
// stored before being returned.
func (c *Cache) Execute(ctx context.Context, ps *binding.ParameterSet) (*resultset.ResultSet, error) {
	if ps == nil {
		ps = binding.New(0, false)
	}
	sig := ps.Signature()
	ctx, span := c.tracer.Start(ctx, "QueryCache.Execute")
	defer span.End()

	c.mu.Lock()
	enabled := c.seconds != 0
	if enabled {
		if rs, ok := c.lookup(sig); ok {
			n := rs.IncrementReuse()
			c.mu.Unlock()
			span.SetAttributes(attribute.Bool("resultcache.cache_hit", true), attribute.Int64("resultcache.reuse", n))
			return rs.View(), nil
		}
	}
	maxRows := c.queryRows
	c.mu.Unlock()
	span.SetAttributes(attribute.Bool("resultcache.cache_hit", false))

	if !enabled {
		return c.run(ctx, ps, maxRows)
	}

	v, err, _ := c.flight.Do(sig, func() (any, error) {
		c.mu.Lock()
		if rs, ok := c.lookup(sig); ok {
			rs.IncrementReuse()
			c.mu.Unlock()
			return rs, nil
		}
		c.mu.Unlock()

		rs, err := c.run(ctx, ps, maxRows)
		if err != nil {
			return nil, err
		}
		c.insert(sig, rs)
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*resultset.ResultSet).View(), nil
}

// insert stores rs unless caching was disabled meanwhile, the cache is
// full or memory is short.
func (c *Cache) insert(sig string, rs *resultset.ResultSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.seconds == 0:
		return
	case c.capacity > 0 && c.store.Len(false) >= c.capacity:
		c.logger.Debug("result not cached: cache is full", "entries", c.capacity)
		return
	case !rc.MemorySafe(c.watcher):
		c.logger.Debug("result not cached: free memory at or below the safety threshold",
			"free_percent", c.watcher.FreeMemoryPercent(), "threshold", c.watcher.SafetyThreshold())
		return
	}

	rs.IncrementReuse()
	var err error
	if c.seconds > 0 {
		ttl := time.Duration(c.seconds) * time.Second
		rs.SetExpiration(c.clock.Now().Add(ttl))
		err = c.store.SetWithExpire(sig, rs, ttl)
	} else {
		err = c.store.Set(sig, rs)
	}
	if err != nil {
		c.logger.Debug("result not cached", "error", err)
	}
}

// Len is the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	return c.store.Len(false)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

var errBudget = errors.New("time budget exhausted")

// sweep removes the entries matching drop, stopping once budget has
// elapsed (budget <= 0 means no limit). Entries are visited in no
// particular order.
func (c *Cache) sweep(name string, budget time.Duration, drop func(*resultset.ResultSet, time.Time) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	now := c.clock.Now()
	removed := 0
	for key, v := range c.store.GetALL(false) {
		if budget > 0 && time.Since(start) > budget {
			c.logger.Info("cache sweep stopped early", "sweep", name, "removed", removed, "error", errBudget)
			break
		}
		rs, ok := v.(*resultset.ResultSet)
		if !ok || !drop(rs, now) {
			continue
		}
		if c.store.Remove(key) {
			removed++
		}
	}
	return removed
}

// PurgeExpired removes the expired entries within budget and reports how
// many were removed.
func (c *Cache) PurgeExpired(budget time.Duration) int {
	return c.sweep("expired", budget, func(rs *resultset.ResultSet, now time.Time) bool {
		return rs.Expired(now)
	})
}

// PurgeUnderused removes the entries reused fewer than minReuses times
// within budget and reports how many were removed.
func (c *Cache) PurgeUnderused(minReuses int64, budget time.Duration) int {
	return c.sweep("underused", budget, func(rs *resultset.ResultSet, _ time.Time) bool {
		return rs.ReuseCount() < minReuses
	})
}
