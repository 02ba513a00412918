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

package validation_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/sqldriver"
	"github.com/apache/arrow-adbc/go/resultcache/validation"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"
)

type sqliteQuirks struct {
	db *sql.DB
}

func (q *sqliteQuirks) SetupBackend(t *testing.T) binding.Preparer {
	var err error
	q.db, err = sql.Open("sqlite", filepath.Join(t.TempDir(), "validation.db"))
	require.NoError(t, err)
	return sqldriver.NewPreparer(q.db)
}

func (q *sqliteQuirks) TearDownBackend(t *testing.T, _ binding.Preparer) {
	require.NoError(t, q.db.Close())
}

func (q *sqliteQuirks) ClientOptions() map[string]string { return nil }
func (q *sqliteQuirks) BindParameter(int) string         { return "?" }
func (q *sqliteQuirks) DoublingCall() string             { return "" }

func (q *sqliteQuirks) CreateSampleTable(ctx context.Context, tableName string, rows []validation.SampleRow) error {
	if _, err := q.db.ExecContext(ctx,
		`CREATE TABLE `+tableName+` (id INTEGER PRIMARY KEY, name TEXT, payload BLOB)`); err != nil {
		return err
	}
	for _, r := range rows {
		var payload any
		if r.Payload != nil {
			payload = r.Payload
		}
		if _, err := q.db.ExecContext(ctx, `INSERT INTO `+tableName+` VALUES (?, ?, ?)`,
			r.ID, r.Name, payload); err != nil {
			return err
		}
	}
	return nil
}

func (q *sqliteQuirks) DropTable(ctx context.Context, tableName string) error {
	_, err := q.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableName)
	return err
}

func TestSQLite(t *testing.T) {
	q := &sqliteQuirks{}
	suite.Run(t, &validation.ClientTests{Quirks: q})
	suite.Run(t, &validation.QueryTests{Quirks: q})
}
