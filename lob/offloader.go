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

// Package lob streams large objects out of the backend into temporary
// files or in-memory buffers.
package lob

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
)

// Policy selects where an offloaded large object ends up.
type Policy uint8

const (
	// PolicyFile writes the object to a uniquely named temporary file.
	PolicyFile Policy = iota
	// PolicyBytes keeps the object as a byte slice.
	PolicyBytes
	// PolicyChars decodes the object as UTF-8 and keeps it as runes.
	PolicyChars
	// PolicyNative keeps the driver's handle without reading it.
	PolicyNative
)

func (p Policy) String() string {
	switch p {
	case PolicyFile:
		return rc.OptionValueLobPolicyFile
	case PolicyBytes:
		return rc.OptionValueLobPolicyBytes
	case PolicyChars:
		return rc.OptionValueLobPolicyChars
	case PolicyNative:
		return rc.OptionValueLobPolicyNative
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

var errHelper = rc.ErrorHelper{Component: "lob"}

// ParsePolicy reads one of the OptionValueLobPolicy values.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case rc.OptionValueLobPolicyFile:
		return PolicyFile, nil
	case rc.OptionValueLobPolicyBytes:
		return PolicyBytes, nil
	case rc.OptionValueLobPolicyChars:
		return PolicyChars, nil
	case rc.OptionValueLobPolicyNative:
		return PolicyNative, nil
	}
	return 0, errHelper.Errorf(rc.StatusInvalidArgument, "invalid large object policy '%s'", s)
}

// Offloader drains large object streams according to a Policy. Files it
// creates with delete-on-exit enabled are removed by Close.
type Offloader struct {
	fs           rc.FileSystem
	policy       Policy
	tempDir      string
	prefix       string
	suffix       string
	chunkSize    int
	deleteOnExit bool
	logger       *slog.Logger

	mu       sync.Mutex
	dirReady bool
	owned    []string
}

type Option func(*Offloader)

// WithPolicy sets the policy used by Offload. The default is PolicyBytes.
func WithPolicy(p Policy) Option {
	return func(o *Offloader) { o.policy = p }
}

// WithTempDir sets the directory for PolicyFile. It is created on first
// use.
func WithTempDir(dir string) Option {
	return func(o *Offloader) { o.tempDir = dir }
}

// WithFilePattern sets the prefix and suffix of generated file names.
func WithFilePattern(prefix, suffix string) Option {
	return func(o *Offloader) {
		o.prefix = prefix
		o.suffix = suffix
	}
}

// WithChunkSize sets the read size, in bytes.
func WithChunkSize(n int) Option {
	return func(o *Offloader) { o.chunkSize = n }
}

// WithDeleteOnExit makes Close remove the generated files.
func WithDeleteOnExit(enabled bool) Option {
	return func(o *Offloader) { o.deleteOnExit = enabled }
}

func WithFileSystem(fs rc.FileSystem) Option {
	return func(o *Offloader) {
		if fs != nil {
			o.fs = fs
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Offloader) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOffloader builds an Offloader. A file policy without a temporary
// directory is a configuration error.
func NewOffloader(opts ...Option) (*Offloader, error) {
	o := &Offloader{
		fs:        rc.OSFileSystem{},
		policy:    PolicyBytes,
		prefix:    "lob_",
		suffix:    ".tmp",
		chunkSize: rc.DefaultChunkSize,
		logger:    rc.NilLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.chunkSize <= 0 {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "chunk size must be positive, got %d", o.chunkSize)
	}
	if o.policy == PolicyFile && o.tempDir == "" {
		return nil, errHelper.Errorf(rc.StatusConfiguration, "file policy requires a temporary directory")
	}
	return o, nil
}

func (o *Offloader) Policy() Policy { return o.policy }

func (o *Offloader) FileSystem() rc.FileSystem { return o.fs }

// Offload drains src with the configured policy.
func (o *Offloader) Offload(ctx context.Context, src io.Reader, sizeHint int64, typeName string) (resultset.Cell, error) {
	return o.OffloadAs(ctx, src, o.policy, sizeHint, typeName)
}

// OffloadAs drains src with policy p. A nil src yields a null cell. On
// failure nothing is kept: partial buffers are dropped and partial files
// removed, and a single StatusOffload error names typeName and the
// destination.
func (o *Offloader) OffloadAs(ctx context.Context, src io.Reader, p Policy, sizeHint int64, typeName string) (resultset.Cell, error) {
	if src == nil {
		return resultset.Null(), nil
	}
	switch p {
	case PolicyNative:
		return resultset.Handle(src), nil
	case PolicyBytes:
		b, err := o.readBytes(ctx, src, sizeHint)
		if err != nil {
			return resultset.Null(), o.offloadErr(err, typeName, "byte buffer")
		}
		return resultset.Bytes(b), nil
	case PolicyChars:
		r, err := o.readChars(ctx, src, sizeHint)
		if err != nil {
			return resultset.Null(), o.offloadErr(err, typeName, "character buffer")
		}
		return resultset.Chars(r), nil
	case PolicyFile:
		return o.writeFile(ctx, src, typeName)
	}
	return resultset.Null(), errHelper.Errorf(rc.StatusInvalidArgument, "unknown policy %s", p)
}

func (o *Offloader) offloadErr(err error, typeName, dest string) error {
	return errHelper.Wrap(err, rc.StatusOffload, "failed to offload %s to %s", typeName, dest)
}

func (o *Offloader) readBytes(ctx context.Context, src io.Reader, sizeHint int64) ([]byte, error) {
	out := make([]byte, 0, initialCap(sizeHint, o.chunkSize))
	buf := make([]byte, o.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := src.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (o *Offloader) readChars(ctx context.Context, src io.Reader, sizeHint int64) ([]rune, error) {
	rdr := bufio.NewReaderSize(src, o.chunkSize)
	out := make([]rune, 0, initialCap(sizeHint, o.chunkSize))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := 0; i < o.chunkSize; i++ {
			r, _, err := rdr.ReadRune()
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
}

const maxInitialCap = 1 << 20

func initialCap(sizeHint int64, chunk int) int {
	if sizeHint <= 0 {
		return chunk
	}
	if sizeHint > maxInitialCap {
		return maxInitialCap
	}
	return int(sizeHint)
}

func (o *Offloader) ensureDir() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dirReady {
		return nil
	}
	if err := o.fs.MkdirAll(o.tempDir); err != nil {
		return err
	}
	o.dirReady = true
	return nil
}

func (o *Offloader) writeFile(ctx context.Context, src io.Reader, typeName string) (resultset.Cell, error) {
	if o.tempDir == "" {
		return resultset.Null(), errHelper.Errorf(rc.StatusConfiguration,
			"cannot offload %s: no temporary directory configured", typeName)
	}
	dest := "file in " + o.tempDir
	if err := o.ensureDir(); err != nil {
		return resultset.Null(), o.offloadErr(err, typeName, dest)
	}

	f, err := o.fs.CreateTemp(o.tempDir, o.prefix, o.suffix)
	if err != nil {
		return resultset.Null(), o.offloadErr(err, typeName, dest)
	}
	name := f.Name()

	err = o.copyChunks(ctx, f, src)
	err = errors.Join(err, f.Close())
	if err != nil {
		if rmErr := o.fs.Remove(name); rmErr != nil {
			o.logger.Warn("failed to remove partial large object file", "path", name, "error", rmErr)
		}
		return resultset.Null(), o.offloadErr(err, typeName, "file "+name)
	}

	if o.deleteOnExit {
		o.mu.Lock()
		o.owned = append(o.owned, name)
		o.mu.Unlock()
	}
	o.logger.Debug("offloaded large object", "type", typeName, "path", name)
	return resultset.File(name, o.deleteOnExit), nil
}

func (o *Offloader) copyChunks(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, o.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Files lists the delete-on-exit files created so far.
func (o *Offloader) Files() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.owned))
	copy(out, o.owned)
	return out
}

// Close removes every delete-on-exit file. It is safe to call more than
// once.
func (o *Offloader) Close() error {
	o.mu.Lock()
	owned := o.owned
	o.owned = nil
	o.mu.Unlock()

	var errs []error
	for _, p := range owned {
		if err := o.fs.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(owned) > 0 {
		o.logger.Debug("removed offloaded files", "count", len(owned)-len(errs))
	}
	return errors.Join(errs...)
}

// Source adapts a driver value holding a large object into a reader. nil
// and SQL NULL yield a nil reader.
func Source(v any) (io.Reader, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return v, nil
	case []byte:
		if v == nil {
			return nil, nil
		}
		return bytes.NewReader(v), nil
	case sql.RawBytes:
		if v == nil {
			return nil, nil
		}
		return bytes.NewReader(v), nil
	case string:
		return strings.NewReader(v), nil
	case *string:
		if v == nil {
			return nil, nil
		}
		return strings.NewReader(*v), nil
	case driver.Valuer:
		val, err := v.Value()
		if err != nil {
			return nil, err
		}
		if _, ok := val.(driver.Valuer); ok {
			break
		}
		return Source(val)
	}
	return nil, errHelper.Errorf(rc.StatusUnsupportedType, "cannot stream a large object from %T", v)
}
