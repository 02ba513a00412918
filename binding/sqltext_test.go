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

package binding_test

import (
	"testing"

	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/stretchr/testify/assert"
)

func TestCountPlaceholders(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"SELECT 1 FROM dual", 0},
		{"SELECT * FROM t WHERE a = ? AND b = ?", 2},
		{"SELECT '?' FROM t WHERE a = ?", 1},
		{"SELECT 'it''s ?' FROM t WHERE a = ?", 1},
		{`SELECT "odd?col" FROM t`, 0},
		{"SELECT a -- why?\nFROM t WHERE b = ?", 1},
		{"SELECT /* ? :x */ a FROM t WHERE b = :x", 1},
		{"UPDATE t SET a = :a, b = :b WHERE id = :a", 2},
		{"SELECT * FROM t WHERE a = :1 AND b = :2", 2},
		{"SELECT * FROM t WHERE a = $1 AND b = $2 OR c = $1", 2},
		{"SELECT a::text FROM t WHERE b = $1", 1},
		{"BEGIN x := :in_val; END;", 1},
		{"SELECT '12:30' FROM t", 0},
		{"SELECT 'unterminated ?", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, binding.CountPlaceholders(tt.query))
		})
	}
}

func TestClassifyVerb(t *testing.T) {
	tests := []struct {
		query string
		want  binding.Verb
	}{
		{"select * from t", binding.VerbSelect},
		{"  -- leading\n/* block */ SELECT 1", binding.VerbSelect},
		{"(SELECT 1) UNION (SELECT 2)", binding.VerbSelect},
		{"WITH x AS (SELECT 1) SELECT * FROM x", binding.VerbSelect},
		{"insert into t values (?)", binding.VerbInsert},
		{"UPDATE t SET a = 1", binding.VerbUpdate},
		{"DELETE FROM t", binding.VerbDelete},
		{"MERGE INTO t USING s ON (1=1)", binding.VerbMerge},
		{"{call pkg.proc(?, ?)}", binding.VerbCall},
		{"{? = call pkg.fn(?)}", binding.VerbCall},
		{"BEGIN pkg.proc(:a); END;", binding.VerbCall},
		{"CALL proc()", binding.VerbCall},
		{"CREATE TABLE t (a INT)", binding.VerbDDL},
		{"truncate table t", binding.VerbDDL},
		{"PRAGMA foreign_keys", binding.VerbOther},
		{"", binding.VerbOther},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, binding.ClassifyVerb(tt.query))
		})
	}
	assert.True(t, binding.VerbSelect.ReturnsRows())
	assert.False(t, binding.VerbCall.ReturnsRows())
	assert.Equal(t, "MERGE", binding.VerbMerge.String())
}
