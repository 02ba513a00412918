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

package resultcache

// Canonical option values
const (
	OptionValueEnabled  = "true"
	OptionValueDisabled = "false"

	// Cache lifetime in seconds: -1 keeps entries forever, 0 disables
	// caching, a positive value is a time to live.
	OptionKeyCacheSeconds = "resultcache.cache.seconds"
	// Maximum number of distinct call signatures kept per statement.
	OptionKeyCacheRows = "resultcache.cache.rows"
	// Maximum number of rows materialized per call.
	OptionKeyQueryRows = "resultcache.query.rows"

	// Destination of large objects, one of the OptionValueLobPolicy values.
	OptionKeyLobPolicy         = "resultcache.lob.policy"
	OptionValueLobPolicyFile   = "file"
	OptionValueLobPolicyBytes  = "bytes"
	OptionValueLobPolicyChars  = "chars"
	OptionValueLobPolicyNative = "native"
	// Directory for offloaded large objects.
	OptionKeyLobTempDir = "resultcache.lob.temp_dir"
	// Read chunk size in bytes (or characters for character streams).
	OptionKeyLobChunkSize = "resultcache.lob.chunk_size"
	// Whether offloaded files are removed when the owner is closed.
	OptionKeyLobDeleteOnExit = "resultcache.lob.delete_on_exit"

	// Free memory percentage at or below which results stop being cached
	// and large materializations are flagged.
	OptionKeyMemoryThreshold = "resultcache.memory.threshold"
)

// Defaults
const (
	DefaultChunkSize       = 4096
	DefaultMemoryThreshold = 10.0
	// UnlimitedCacheSeconds keeps cache entries until they are purged.
	UnlimitedCacheSeconds = -1
)
