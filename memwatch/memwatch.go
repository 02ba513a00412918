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

// Package memwatch provides implementations of resultcache.MemoryWatcher.
package memwatch

import (
	"math"
	"runtime/metrics"
	"sync"
	"sync/atomic"

	rc "github.com/apache/arrow-adbc/go/resultcache"
)

var errHelper = rc.ErrorHelper{Component: "memwatch"}

const (
	metricHeapObjects = "/memory/classes/heap/objects:bytes"
	metricTotal       = "/memory/classes/total:bytes"
	metricMemLimit    = "/gc/gomemlimit:bytes"
)

// usage is a sample of live heap bytes and the budget they count against.
type usage struct {
	used, budget uint64
}

// Runtime reports free memory relative to a budget: the configured limit,
// else the runtime's soft memory limit (GOMEMLIMIT), else the memory the
// runtime has mapped from the operating system.
type Runtime struct {
	limit     uint64
	threshold atomic.Uint64

	mu      sync.Mutex
	samples []metrics.Sample
	read    func() usage
}

type Option func(*Runtime)

// WithLimit sets the memory budget in bytes.
func WithLimit(bytes uint64) Option {
	return func(r *Runtime) { r.limit = bytes }
}

func WithSafetyThreshold(percent float64) Option {
	return func(r *Runtime) { r.threshold.Store(math.Float64bits(percent)) }
}

func NewRuntime(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		samples: []metrics.Sample{
			{Name: metricHeapObjects},
			{Name: metricTotal},
			{Name: metricMemLimit},
		},
	}
	r.threshold.Store(math.Float64bits(rc.DefaultMemoryThreshold))
	r.read = r.sample
	for _, o := range opts {
		o(r)
	}
	if err := checkThreshold(r.SafetyThreshold()); err != nil {
		return nil, err
	}
	return r, nil
}

func checkThreshold(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return errHelper.Errorf(rc.StatusInvalidArgument, "memory threshold must be between 0 and 100, got %v", percent)
	}
	return nil
}

func (r *Runtime) sample() usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	metrics.Read(r.samples)

	value := func(s metrics.Sample) uint64 {
		if s.Value.Kind() != metrics.KindUint64 {
			return 0
		}
		return s.Value.Uint64()
	}
	u := usage{used: value(r.samples[0])}
	switch lim := value(r.samples[2]); {
	case r.limit > 0:
		u.budget = r.limit
	case lim > 0 && lim != math.MaxInt64:
		u.budget = lim
	default:
		u.budget = value(r.samples[1])
	}
	return u
}

// FreeMemoryPercent is the share of the budget not taken by live heap
// objects. It reports 100 when no budget can be determined.
func (r *Runtime) FreeMemoryPercent() float64 {
	u := r.read()
	if u.budget == 0 {
		return 100
	}
	if u.used >= u.budget {
		return 0
	}
	return float64(u.budget-u.used) * 100 / float64(u.budget)
}

func (r *Runtime) SafetyThreshold() float64 {
	return math.Float64frombits(r.threshold.Load())
}

// SetSafetyThreshold changes the free percentage at or below which memory
// is reported unsafe.
func (r *Runtime) SetSafetyThreshold(percent float64) error {
	if err := checkThreshold(percent); err != nil {
		return err
	}
	r.threshold.Store(math.Float64bits(percent))
	return nil
}

// Fixed always reports the same values.
type Fixed struct {
	Free      float64
	Threshold float64
}

func (f Fixed) FreeMemoryPercent() float64 { return f.Free }
func (f Fixed) SafetyThreshold() float64   { return f.Threshold }

var (
	_ rc.MemoryWatcher = (*Runtime)(nil)
	_ rc.MemoryWatcher = Fixed{}
)
