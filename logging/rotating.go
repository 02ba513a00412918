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
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultLogNamePrefix = "resultcache"
	defaultFileSizeMaxKb = int64(1024)
	defaultFileCountMax  = 10
	defaultLogFileExt    = ".log"
)

var errNoFile = errors.New("no log file is open")

type writerConfig struct {
	folder    string
	prefix    string
	ext       string
	sizeMaxKb int64
	countMax  int
}

// WriterOption configures a RotatingFileWriter.
type WriterOption func(*writerConfig)

// WithFolder sets the folder that receives the files.
func WithFolder(folder string) WriterOption {
	return func(cfg *writerConfig) { cfg.folder = folder }
}

// WithPrefix sets the start of every file name.
func WithPrefix(prefix string) WriterOption {
	return func(cfg *writerConfig) { cfg.prefix = prefix }
}

// WithExtension sets the file name extension, ".log" by default.
func WithExtension(ext string) WriterOption {
	return func(cfg *writerConfig) { cfg.ext = ext }
}

// WithFileSizeMaxKb sets the size at which a new file is started.
func WithFileSizeMaxKb(kb int64) WriterOption {
	return func(cfg *writerConfig) { cfg.sizeMaxKb = kb }
}

// WithFileCountMax sets the number of files kept in the folder.
func WithFileCountMax(n int) WriterOption {
	return func(cfg *writerConfig) { cfg.countMax = n }
}

func defaultFolder() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "resultcache", "logs"), nil
}

func newWriterConfig(options ...WriterOption) (cfg writerConfig, err error) {
	cfg = writerConfig{
		prefix:    defaultLogNamePrefix,
		ext:       defaultLogFileExt,
		sizeMaxKb: defaultFileSizeMaxKb,
		countMax:  defaultFileCountMax,
	}
	for _, opt := range options {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.folder) == "" {
		if cfg.folder, err = defaultFolder(); err != nil {
			return
		}
	}
	if strings.TrimSpace(cfg.prefix) == "" {
		cfg.prefix = defaultLogNamePrefix
	}
	if cfg.ext == "" {
		cfg.ext = defaultLogFileExt
	}
	if cfg.sizeMaxKb <= 0 {
		cfg.sizeMaxKb = defaultFileSizeMaxKb
	}
	if cfg.countMax <= 0 {
		cfg.countMax = defaultFileCountMax
	}

	if err = os.MkdirAll(cfg.folder, 0o755); err != nil {
		return
	}
	// make sure the folder is writable before the first message arrives
	probe, err := os.CreateTemp(cfg.folder, cfg.prefix)
	if err != nil {
		return
	}
	defer func() {
		_ = probe.Close()
		_ = os.Remove(probe.Name())
	}()
	_, err = probe.WriteString("probe")
	return
}

// RotatingFileWriter appends to files named
// "<prefix>-<UTC timestamp><ext>" in a folder. Once the current file
// reaches the size limit a new one is started, and the oldest files past
// the count limit are removed. It is safe for concurrent use.
type RotatingFileWriter struct {
	cfg writerConfig

	mu      sync.Mutex
	current *os.File
}

func NewRotatingFileWriter(options ...WriterOption) (*RotatingFileWriter, error) {
	cfg, err := newWriterConfig(options...)
	if err != nil {
		return nil, err
	}
	return &RotatingFileWriter{cfg: cfg}, nil
}

func (w *RotatingFileWriter) Folder() string { return w.cfg.folder }

func (w *RotatingFileWriter) Prefix() string { return w.cfg.prefix }

// Name is the path of the current file, empty when none is open.
func (w *RotatingFileWriter) Name() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return ""
	}
	return w.current.Name()
}

func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateIfFull(); err != nil {
		return 0, err
	}
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	return w.current.Write(p)
}

// Sync commits the current file to stable storage.
func (w *RotatingFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	return w.current.Sync()
}

func (w *RotatingFileWriter) Stat() (fs.FileInfo, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil, errNoFile
	}
	return w.current.Stat()
}

func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}

// Clear closes the current file and removes every file of the writer.
func (w *RotatingFileWriter) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		if err := w.current.Close(); err != nil {
			return err
		}
		w.current = nil
	}
	files, err := w.files()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

func (w *RotatingFileWriter) maxBytes() int64 { return w.cfg.sizeMaxKb * 1024 }

// files lists the writer's files, oldest first.
func (w *RotatingFileWriter) files() ([]string, error) {
	return filepath.Glob(filepath.Join(w.cfg.folder, w.cfg.prefix+"-*"+w.cfg.ext))
}

func (w *RotatingFileWriter) rotateIfFull() error {
	if w.current == nil {
		return nil
	}
	info, err := w.current.Stat()
	if err != nil {
		return err
	}
	if info.Size() < w.maxBytes() {
		return nil
	}
	if err := w.current.Close(); err != nil {
		return err
	}
	w.current = nil
	return w.prune()
}

// prune keeps the newest countMax-1 files, leaving room for the next one.
func (w *RotatingFileWriter) prune() error {
	files, err := w.files()
	if err != nil {
		return nil
	}
	excess := len(files) - (w.cfg.countMax - 1)
	for i := 0; i < excess; i++ {
		if err := os.Remove(files[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *RotatingFileWriter) ensureOpen() error {
	if w.current != nil {
		return nil
	}
	// reuse the newest file while it has room
	if files, err := w.files(); err == nil && len(files) > 0 {
		last := files[len(files)-1]
		if info, err := os.Stat(last); err == nil && info.Size() < w.maxBytes() {
			if f, err := os.OpenFile(last, os.O_APPEND|os.O_WRONLY, 0o666); err == nil {
				w.current = f
				return nil
			}
		}
	}

	stamp := time.Now().UTC().Format("2006-01-02-15-04-05.000000000")
	name := filepath.Join(w.cfg.folder, w.cfg.prefix+"-"+stamp+w.cfg.ext)
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return err
	}
	w.current = f
	return nil
}
