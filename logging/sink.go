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

// Package logging connects the engine's *slog.Logger plumbing to leveled
// message sinks.
//
// A Sink receives plain messages through five verbs. NewHandler turns a
// Sink into a slog.Handler so it can back the loggers every component
// accepts, and SlogSink goes the other way. TextLog is a Sink writing to
// rotating files in a folder.
package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// LevelFatal is the slog level of fatal errors.
const LevelFatal = slog.Level(12)

const (
	// AttrForceAck marks a record that the user must acknowledge.
	AttrForceAck = "log.force_ack"
	// AttrForcePersist marks a record that must reach durable storage
	// before the call returns.
	AttrForcePersist = "log.force_persist"
)

// Sink consumes leveled messages.
type Sink interface {
	Debug(msg string, forceAck, forcePersist bool)
	Info(msg string, forceAck, forcePersist bool)
	Warning(msg string, forceAck, forcePersist bool)
	Error(msg string, forceAck, forcePersist bool)
	Fatal(msg string, forceAck, forcePersist bool)

	// SetDebug turns debug messages on or off.
	SetDebug(enabled bool)
	DebugEnabled() bool
	// Flush pushes buffered messages to the destination.
	Flush() error
	// Destination describes where messages go.
	Destination() string
}

// LogConfig is passed explicitly to the sinks that need it.
type LogConfig struct {
	// Debug enables debug messages.
	Debug bool
	// TimeLayout formats timestamps; time.RFC3339Nano when empty.
	TimeLayout string
	// Folder receives log files. The user config directory is used when
	// empty.
	Folder string
	// Prefix starts every log file name.
	Prefix string
	// FileSizeMaxKb and FileCountMax bound each file and the number of
	// files kept.
	FileSizeMaxKb int64
	FileCountMax  int
}

func (c LogConfig) timeLayout() string {
	if c.TimeLayout == "" {
		return time.RFC3339Nano
	}
	return c.TimeLayout
}

// SlogSink forwards messages to a *slog.Logger.
type SlogSink struct {
	logger *slog.Logger
	debug  atomic.Bool
}

func NewSlogSink(logger *slog.Logger, cfg LogConfig) *SlogSink {
	s := &SlogSink{logger: logger}
	s.debug.Store(cfg.Debug)
	return s
}

func (s *SlogSink) log(level slog.Level, msg string, forceAck, forcePersist bool) {
	var attrs []slog.Attr
	if forceAck {
		attrs = append(attrs, slog.Bool(AttrForceAck, true))
	}
	if forcePersist {
		attrs = append(attrs, slog.Bool(AttrForcePersist, true))
	}
	s.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func (s *SlogSink) Debug(msg string, forceAck, forcePersist bool) {
	if s.debug.Load() {
		s.log(slog.LevelDebug, msg, forceAck, forcePersist)
	}
}

func (s *SlogSink) Info(msg string, forceAck, forcePersist bool) {
	s.log(slog.LevelInfo, msg, forceAck, forcePersist)
}

func (s *SlogSink) Warning(msg string, forceAck, forcePersist bool) {
	s.log(slog.LevelWarn, msg, forceAck, forcePersist)
}

func (s *SlogSink) Error(msg string, forceAck, forcePersist bool) {
	s.log(slog.LevelError, msg, forceAck, forcePersist)
}

func (s *SlogSink) Fatal(msg string, forceAck, forcePersist bool) {
	s.log(LevelFatal, msg, forceAck, forcePersist)
}

func (s *SlogSink) SetDebug(enabled bool) { s.debug.Store(enabled) }
func (s *SlogSink) DebugEnabled() bool    { return s.debug.Load() }
func (s *SlogSink) Flush() error          { return nil }
func (s *SlogSink) Destination() string   { return "slog" }

// handler adapts a Sink to slog.Handler.
type handler struct {
	sink Sink
	// pre holds the attributes added with WithAttrs, already formatted.
	pre          string
	groups       []string
	forceAck     bool
	forcePersist bool
}

// NewHandler returns a slog.Handler writing to sink. Attributes are
// appended to the message as key=value pairs, except AttrForceAck and
// AttrForcePersist which set the matching sink flags.
func NewHandler(sink Sink) slog.Handler {
	return &handler{sink: sink}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || h.sink.DebugEnabled()
}

// format writes a as " key=value" pairs qualified by prefix, and records
// the force flags instead of writing them.
func (h *handler) format(b *strings.Builder, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	switch a.Key {
	case AttrForceAck:
		h.forceAck = v.Kind() == slog.KindBool && v.Bool()
		return
	case AttrForcePersist:
		h.forcePersist = v.Kind() == slog.KindBool && v.Bool()
		return
	}
	key := a.Key
	switch {
	case key == "" && v.Kind() != slog.KindGroup:
		return
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			h.format(b, key, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(v.String())
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	// work on a copy so the flags of one record do not leak into the next
	rec := *h
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.pre)
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		rec.format(&b, prefix, a)
		return true
	})

	msg := b.String()
	ack, persist := rec.forceAck, rec.forcePersist
	switch {
	case r.Level >= LevelFatal:
		h.sink.Fatal(msg, ack, persist)
	case r.Level >= slog.LevelError:
		h.sink.Error(msg, ack, persist)
	case r.Level >= slog.LevelWarn:
		h.sink.Warning(msg, ack, persist)
	case r.Level >= slog.LevelInfo:
		h.sink.Info(msg, ack, persist)
	default:
		h.sink.Debug(msg, ack, persist)
	}
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	var b strings.Builder
	b.WriteString(h.pre)
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		out.format(&b, prefix, a)
	}
	out.pre = b.String()
	return &out
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.groups = append(append([]string(nil), h.groups...), name)
	return &out
}
