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
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
	debug bool
}

func (m *mockSink) Debug(msg string, ack, persist bool)   { m.Called(msg, ack, persist) }
func (m *mockSink) Info(msg string, ack, persist bool)    { m.Called(msg, ack, persist) }
func (m *mockSink) Warning(msg string, ack, persist bool) { m.Called(msg, ack, persist) }
func (m *mockSink) Error(msg string, ack, persist bool)   { m.Called(msg, ack, persist) }
func (m *mockSink) Fatal(msg string, ack, persist bool)   { m.Called(msg, ack, persist) }
func (m *mockSink) SetDebug(enabled bool)                 { m.debug = enabled }
func (m *mockSink) DebugEnabled() bool                    { return m.debug }
func (m *mockSink) Flush() error                          { return nil }
func (m *mockSink) Destination() string                   { return "mock" }

func TestHandlerLevels(t *testing.T) {
	sink := &mockSink{}
	sink.On("Info", "started", false, false).Once()
	sink.On("Warning", "slow", false, false).Once()
	sink.On("Error", "failed", false, false).Once()
	sink.On("Fatal", "gone", false, true).Once()

	logger := slog.New(NewHandler(sink))
	logger.Debug("dropped while debug is off")
	logger.Info("started")
	logger.Warn("slow")
	logger.Error("failed")
	logger.Log(context.Background(), LevelFatal, "gone", AttrForcePersist, true)
	sink.AssertExpectations(t)

	sink.SetDebug(true)
	sink.On("Debug", "now visible", false, false).Once()
	logger.Debug("now visible")
	sink.AssertExpectations(t)
}

func TestHandlerAttributes(t *testing.T) {
	sink := &mockSink{}
	sink.On("Info", "cached signature=abc rows=3", false, false).Once()
	sink.On("Warning", "low memory component=cache mem.free=5 mem.threshold=10", true, false).Once()

	logger := slog.New(NewHandler(sink))
	logger.Info("cached", "signature", "abc", "rows", 3)
	logger.With("component", "cache").WithGroup("mem").
		Warn("low memory", "free", 5, "threshold", 10, AttrForceAck, true)
	sink.AssertExpectations(t)
}

func TestHandlerFlagsDoNotLeak(t *testing.T) {
	sink := &mockSink{}
	sink.On("Error", "first", true, true).Once()
	sink.On("Error", "second", false, false).Once()

	logger := slog.New(NewHandler(sink))
	logger.Error("first", AttrForceAck, true, AttrForcePersist, true)
	logger.Error("second")
	sink.AssertExpectations(t)
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger, LogConfig{})

	sink.Debug("hidden", false, false)
	assert.Empty(t, buf.String())

	sink.SetDebug(true)
	assert.True(t, sink.DebugEnabled())
	sink.Debug("shown", false, false)
	sink.Warning("careful", true, false)
	sink.Fatal("over", false, true)

	out := buf.String()
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "level=WARN msg=careful "+AttrForceAck+"=true")
	assert.Contains(t, out, "level=ERROR+4 msg=over "+AttrForcePersist+"=true")
	assert.NoError(t, sink.Flush())
	assert.Equal(t, "slog", sink.Destination())
}

func TestRotatingFileWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotatingFileWriter(
		WithFolder(dir),
		WithPrefix("rot"),
		WithFileSizeMaxKb(1),
		WithFileCountMax(3),
	)
	require.NoError(t, err)

	const line = "my string\n"
	for range 1000 {
		n, err := w.Write([]byte(line))
		require.NoError(t, err)
		require.Equal(t, len(line), n)
	}
	require.NoError(t, w.Close())

	files, err := filepath.Glob(filepath.Join(dir, "rot-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)
	assert.LessOrEqual(t, len(files), 3)

	require.NoError(t, w.Clear())
	files, _ = filepath.Glob(filepath.Join(dir, "rot-*.log"))
	assert.Empty(t, files)
}

func TestRotatingFileWriterReusesLastFile(t *testing.T) {
	dir := t.TempDir()
	open := func() *RotatingFileWriter {
		w, err := NewRotatingFileWriter(WithFolder(dir), WithExtension(".txt"))
		require.NoError(t, err)
		return w
	}

	w1 := open()
	_, err := w1.Write([]byte("one\n"))
	require.NoError(t, err)
	info1, err := w1.Stat()
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	_, err = w1.Stat()
	assert.ErrorIs(t, err, errNoFile)

	w2 := open()
	_, err = w2.Write([]byte("two\n"))
	require.NoError(t, err)
	info2, err := w2.Stat()
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	assert.Equal(t, info1.Name(), info2.Name())
	data, err := os.ReadFile(filepath.Join(dir, info2.Name()))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestTextLog(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenTextLog(LogConfig{Folder: dir, Prefix: "app", TimeLayout: time.DateTime})
	require.NoError(t, err)
	log.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	assert.Equal(t, dir, log.Destination())
	assert.False(t, log.DebugEnabled())

	log.Debug("hidden", false, false)
	log.Info("hello", false, false)
	log.Warning("two\nlines", true, false)
	require.NoError(t, log.Flush())
	assert.True(t, strings.HasPrefix(filepath.Base(log.Destination()), "app-"))

	log.SetDebug(true)
	log.Debug("visible", false, false)
	log.Error("bad", false, false)
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	log.Info("after close", false, false)

	data, err := os.ReadFile(filepath.Join(dir, mustSingleFile(t, dir)))
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"2024-03-01 12:00:00 INFO hello",
		"2024-03-01 12:00:00 WARNING [ACK] two",
		"\tlines",
		"2024-03-01 12:00:00 DEBUG visible",
		"2024-03-01 12:00:00 ERROR bad",
		"",
	}, "\n"), string(data))
}

func TestTextLogAsSlogBackend(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenTextLog(LogConfig{Folder: dir, Prefix: "slog", TimeLayout: "15:04"})
	require.NoError(t, err)
	defer log.Close()
	log.now = func() time.Time { return time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC) }

	logger := slog.New(NewHandler(log))
	logger.Warn("result not cached", "entries", 10, AttrForcePersist, true)

	data, err := os.ReadFile(log.Destination())
	require.NoError(t, err)
	assert.Equal(t, "08:30 WARNING result not cached entries=10\n", string(data))
}

func mustSingleFile(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0].Name()
}
