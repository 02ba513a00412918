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

package logging

import (
	"bufio"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
)

var errHelper = rc.ErrorHelper{Component: "logging"}

// TextLog writes one line per message to rotating files:
//
//	<time> <LEVEL> [ACK] <message>
//
// Lines are buffered until Flush, Close, or a message with forceAck or
// forcePersist set. The owner must call Close.
type TextLog struct {
	layout string
	debug  atomic.Bool
	now    func() time.Time

	mu     sync.Mutex
	w      *RotatingFileWriter
	buf    *bufio.Writer
	closed bool
}

// OpenTextLog creates the folder of cfg if needed and returns an open log.
func OpenTextLog(cfg LogConfig) (*TextLog, error) {
	w, err := NewRotatingFileWriter(
		WithFolder(cfg.Folder),
		WithPrefix(cfg.Prefix),
		WithFileSizeMaxKb(cfg.FileSizeMaxKb),
		WithFileCountMax(cfg.FileCountMax),
	)
	if err != nil {
		return nil, errHelper.Wrap(err, rc.StatusIO, "opening log folder '%s'", cfg.Folder)
	}
	t := &TextLog{
		layout: cfg.timeLayout(),
		now:    time.Now,
		w:      w,
		buf:    bufio.NewWriter(w),
	}
	t.debug.Store(cfg.Debug)
	return t, nil
}

func (t *TextLog) write(level, msg string, forceAck, forcePersist bool) {
	var b strings.Builder
	b.WriteString(t.now().Format(t.layout))
	b.WriteByte(' ')
	b.WriteString(level)
	if forceAck {
		b.WriteString(" [ACK]")
	}
	b.WriteByte(' ')
	b.WriteString(strings.ReplaceAll(msg, "\n", "\n\t"))
	b.WriteByte('\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	// a sink has nowhere to report its own failures
	_, _ = t.buf.WriteString(b.String())
	if forceAck || forcePersist {
		_ = t.flushLocked(forcePersist)
	}
}

func (t *TextLog) flushLocked(durable bool) error {
	if err := t.buf.Flush(); err != nil {
		return err
	}
	if durable {
		return t.w.Sync()
	}
	return nil
}

func (t *TextLog) Debug(msg string, forceAck, forcePersist bool) {
	if t.debug.Load() {
		t.write("DEBUG", msg, forceAck, forcePersist)
	}
}

func (t *TextLog) Info(msg string, forceAck, forcePersist bool) {
	t.write("INFO", msg, forceAck, forcePersist)
}

func (t *TextLog) Warning(msg string, forceAck, forcePersist bool) {
	t.write("WARNING", msg, forceAck, forcePersist)
}

func (t *TextLog) Error(msg string, forceAck, forcePersist bool) {
	t.write("ERROR", msg, forceAck, forcePersist)
}

// Fatal messages are always persisted.
func (t *TextLog) Fatal(msg string, forceAck, _ bool) {
	t.write("FATAL", msg, forceAck, true)
}

func (t *TextLog) SetDebug(enabled bool) { t.debug.Store(enabled) }

func (t *TextLog) DebugEnabled() bool { return t.debug.Load() }

func (t *TextLog) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return t.flushLocked(true)
}

// Destination is the path of the current file, or the folder before the
// first message was written.
func (t *TextLog) Destination() string {
	if name := t.w.Name(); name != "" {
		return name
	}
	return t.w.Folder()
}

// Close flushes and closes the current file. Messages logged afterwards
// are dropped.
func (t *TextLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.flushLocked(false)
	if cerr := t.w.Close(); err == nil {
		err = cerr
	}
	return err
}

var (
	_ Sink = (*TextLog)(nil)
	_ Sink = (*SlogSink)(nil)
)
