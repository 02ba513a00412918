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

package resultcache_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-adbc/go/resultcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem(t *testing.T) {
	var fs resultcache.OSFileSystem
	dir := filepath.Join(t.TempDir(), "nested", "lob")
	require.NoError(t, fs.MkdirAll(dir))

	f1, err := fs.CreateTemp(dir, "lob_", ".tmp")
	require.NoError(t, err)
	f2, err := fs.CreateTemp(dir, "lob_", ".tmp")
	require.NoError(t, err)
	assert.NotEqual(t, f1.Name(), f2.Name())
	assert.True(t, strings.HasPrefix(filepath.Base(f1.Name()), "lob_"))
	assert.True(t, strings.HasSuffix(f1.Name(), ".tmp"))

	_, err = f1.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f1.Close())
	require.NoError(t, f2.Close())

	dst := filepath.Join(dir, "copy.bin")
	require.NoError(t, fs.CopyFile(dst, f1.Name()))

	rdr, err := fs.Open(dst)
	require.NoError(t, err)
	data, err := io.ReadAll(rdr)
	require.NoError(t, err)
	require.NoError(t, rdr.Close())
	assert.Equal(t, "payload", string(data))

	require.NoError(t, fs.Remove(dst))
	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
	// removing twice is not an error
	assert.NoError(t, fs.Remove(dst))
}

func TestCopyFileLeavesDestinationOnFailure(t *testing.T) {
	var fs resultcache.OSFileSystem
	dir := t.TempDir()
	dst := filepath.Join(dir, "saved.bin")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o600))

	// reading a directory fails part way through the copy
	src := filepath.Join(dir, "not-a-file")
	require.NoError(t, os.Mkdir(src, 0o755))
	assert.Error(t, fs.CopyFile(dst, src))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary file is left behind")

	other := filepath.Join(dir, "other.bin")
	require.NoError(t, os.WriteFile(other, []byte("new"), 0o600))
	require.NoError(t, fs.CopyFile(dst, other))
	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
