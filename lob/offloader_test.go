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

package lob_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/lob"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	for _, p := range []lob.Policy{lob.PolicyFile, lob.PolicyBytes, lob.PolicyChars, lob.PolicyNative} {
		got, err := lob.ParsePolicy(strings.ToUpper(p.String()))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := lob.ParsePolicy("tape")
	assert.True(t, rc.IsStatus(err, rc.StatusInvalidArgument))
}

func TestNewOffloaderValidation(t *testing.T) {
	_, err := lob.NewOffloader(lob.WithPolicy(lob.PolicyFile))
	assert.True(t, rc.IsStatus(err, rc.StatusConfiguration))

	_, err = lob.NewOffloader(lob.WithChunkSize(0))
	assert.True(t, rc.IsStatus(err, rc.StatusInvalidArgument))

	o, err := lob.NewOffloader()
	require.NoError(t, err)
	assert.Equal(t, lob.PolicyBytes, o.Policy())

	// a per-call file policy still needs a directory
	_, err = o.OffloadAs(context.Background(), strings.NewReader("x"), lob.PolicyFile, 1, "BLOB")
	assert.True(t, rc.IsStatus(err, rc.StatusConfiguration))
}

func TestNilSourceIsNull(t *testing.T) {
	o, err := lob.NewOffloader()
	require.NoError(t, err)
	for _, p := range []lob.Policy{lob.PolicyBytes, lob.PolicyChars, lob.PolicyNative} {
		cell, err := o.OffloadAs(context.Background(), nil, p, 0, "CLOB")
		require.NoError(t, err)
		assert.True(t, cell.IsNull())
	}
}

func TestOffloadBytes(t *testing.T) {
	o, err := lob.NewOffloader(lob.WithChunkSize(3))
	require.NoError(t, err)

	cell, err := o.Offload(context.Background(), strings.NewReader("hello large world"), 17, "BLOB")
	require.NoError(t, err)
	assert.Equal(t, resultset.KindBytes, cell.Kind())
	assert.Equal(t, []byte("hello large world"), cell.Value())

	cell, err = o.Offload(context.Background(), strings.NewReader(""), 0, "BLOB")
	require.NoError(t, err)
	assert.Equal(t, resultset.KindBytes, cell.Kind(), "an empty stream is not null")
}

func TestOffloadChars(t *testing.T) {
	o, err := lob.NewOffloader(lob.WithChunkSize(2), lob.WithPolicy(lob.PolicyChars))
	require.NoError(t, err)

	text := "naïve café ☕"
	cell, err := o.Offload(context.Background(), iotest.OneByteReader(strings.NewReader(text)), 0, "CLOB")
	require.NoError(t, err)
	assert.Equal(t, resultset.KindChars, cell.Kind())
	assert.Equal(t, []rune(text), cell.Value())
}

func TestOffloadNative(t *testing.T) {
	o, err := lob.NewOffloader(lob.WithPolicy(lob.PolicyNative))
	require.NoError(t, err)

	src := strings.NewReader("untouched")
	cell, err := o.Offload(context.Background(), src, 0, "BLOB")
	require.NoError(t, err)
	assert.Equal(t, resultset.KindHandle, cell.Kind())
	assert.Same(t, src, cell.Value())
	assert.Equal(t, 9, src.Len(), "native handles are not read")
}

func TestOffloadFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spill")
	o, err := lob.NewOffloader(
		lob.WithPolicy(lob.PolicyFile),
		lob.WithTempDir(dir),
		lob.WithFilePattern("doc_", ".bin"),
		lob.WithChunkSize(4),
	)
	require.NoError(t, err)

	cell, err := o.Offload(context.Background(), strings.NewReader("file payload"), 0, "BLOB")
	require.NoError(t, err)
	require.Equal(t, resultset.KindFile, cell.Kind())
	assert.False(t, cell.Managed())
	assert.Equal(t, dir, filepath.Dir(cell.Path()))
	assert.True(t, strings.HasPrefix(filepath.Base(cell.Path()), "doc_"))
	assert.True(t, strings.HasSuffix(cell.Path(), ".bin"))

	data, err := os.ReadFile(cell.Path())
	require.NoError(t, err)
	assert.Equal(t, "file payload", string(data))

	// not delete-on-exit: Close leaves it alone
	require.NoError(t, o.Close())
	_, err = os.Stat(cell.Path())
	assert.NoError(t, err)
}

func TestOffloadFileDeleteOnExit(t *testing.T) {
	dir := t.TempDir()
	o, err := lob.NewOffloader(lob.WithPolicy(lob.PolicyFile), lob.WithTempDir(dir), lob.WithDeleteOnExit(true))
	require.NoError(t, err)

	var paths []string
	for i := 0; i < 3; i++ {
		cell, err := o.Offload(context.Background(), strings.NewReader("x"), 1, "CLOB")
		require.NoError(t, err)
		assert.True(t, cell.Managed())
		paths = append(paths, cell.Path())
	}
	assert.ElementsMatch(t, paths, o.Files())

	require.NoError(t, o.Close())
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err))
	}
	assert.Empty(t, o.Files())
	assert.NoError(t, o.Close())
}

func TestOffloadFailureDiscardsPartialOutput(t *testing.T) {
	boom := errors.New("connection reset")
	failing := func() io.Reader {
		return io.MultiReader(strings.NewReader("partial data"), iotest.ErrReader(boom))
	}

	dir := t.TempDir()
	o, err := lob.NewOffloader(lob.WithPolicy(lob.PolicyFile), lob.WithTempDir(dir), lob.WithChunkSize(4))
	require.NoError(t, err)

	cell, err := o.Offload(context.Background(), failing(), 0, "BLOB")
	require.Error(t, err)
	assert.True(t, cell.IsNull())
	assert.True(t, rc.IsStatus(err, rc.StatusOffload))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "BLOB")
	assert.Contains(t, err.Error(), "file ")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file must be removed")

	for _, p := range []lob.Policy{lob.PolicyBytes, lob.PolicyChars} {
		cell, err := o.OffloadAs(context.Background(), failing(), p, 0, "CLOB")
		assert.True(t, rc.IsStatus(err, rc.StatusOffload))
		assert.Contains(t, err.Error(), "buffer")
		assert.True(t, cell.IsNull())
	}
}

func TestOffloadCancelled(t *testing.T) {
	o, err := lob.NewOffloader()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = o.Offload(ctx, strings.NewReader("data"), 0, "BLOB")
	assert.True(t, rc.IsStatus(err, rc.StatusOffload))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSource(t *testing.T) {
	r, err := lob.Source(nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = lob.Source([]byte(nil))
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = lob.Source(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, r)

	for _, v := range []any{"abc", []byte("abc"), sql.RawBytes("abc"), sql.NullString{String: "abc", Valid: true}} {
		r, err = lob.Source(v)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "abc", string(data))
	}

	_, err = lob.Source(42)
	assert.True(t, rc.IsStatus(err, rc.StatusUnsupportedType))
}
