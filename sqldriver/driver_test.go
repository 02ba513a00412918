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

package sqldriver_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/sqldriver"
	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"
)

type DriverSuite struct {
	suite.Suite

	backend *sql.DB
	cached  *sql.DB
}

func (s *DriverSuite) SetupTest() {
	var err error
	s.backend, err = sql.Open("sqlite", filepath.Join(s.T().TempDir(), "items.db"))
	s.Require().NoError(err)

	_, err = s.backend.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, price NUMERIC, data BLOB)`)
	s.Require().NoError(err)
	for i := 1; i <= 3; i++ {
		_, err = s.backend.Exec(`INSERT INTO items VALUES (?, ?, ?, ?)`, i, fmt.Sprintf("item %d", i), i*10, []byte{byte(i)})
		s.Require().NoError(err)
	}

	drv := sqldriver.Driver{Preparer: sqldriver.NewPreparer(s.backend)}
	connector, err := drv.OpenConnector(rc.OptionKeyCacheSeconds + "=60;" + rc.OptionKeyQueryRows + "=100")
	s.Require().NoError(err)
	s.cached = sql.OpenDB(connector)
}

func (s *DriverSuite) TearDownTest() {
	s.NoError(s.cached.Close())
	s.NoError(s.backend.Close())
}

func (s *DriverSuite) names(query string, args ...any) []string {
	rows, err := s.cached.Query(query, args...)
	s.Require().NoError(err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		s.Require().NoError(rows.Scan(&name))
		out = append(out, name)
	}
	s.Require().NoError(rows.Err())
	return out
}

func (s *DriverSuite) TestQueryIsCached() {
	const q = `SELECT name FROM items WHERE id >= ? ORDER BY id`
	s.Equal([]string{"item 2", "item 3"}, s.names(q, 2))

	_, err := s.backend.Exec(`UPDATE items SET name = 'changed'`)
	s.Require().NoError(err)

	s.Equal([]string{"item 2", "item 3"}, s.names(q, 2), "served from the cache")
	s.Equal([]string{"changed"}, s.names(q, 3), "other arguments miss the cache")
}

func (s *DriverSuite) TestScanTypes() {
	rows, err := s.cached.Query(`SELECT id, name, price, data FROM items WHERE id = ?`, 1)
	s.Require().NoError(err)
	defer rows.Close()

	types, err := rows.ColumnTypes()
	s.Require().NoError(err)
	s.Require().Len(types, 4)
	s.Equal("INTEGER", types[0].DatabaseTypeName())
	s.Equal("TEXT", types[1].DatabaseTypeName())
	nullable, ok := types[1].Nullable()
	s.True(ok)
	s.True(nullable)

	s.Require().True(rows.Next())
	var (
		id    int64
		name  string
		price float64
		data  []byte
	)
	s.Require().NoError(rows.Scan(&id, &name, &price, &data))
	s.Equal(int64(1), id)
	s.Equal("item 1", name)
	s.Equal(10.0, price)
	s.Equal([]byte{1}, data)
	s.False(rows.Next())
}

func (s *DriverSuite) TestEmptyResult() {
	s.Empty(s.names(`SELECT name FROM items WHERE id > ?`, 100))
}

func (s *DriverSuite) TestExec() {
	res, err := s.cached.Exec(`UPDATE items SET name = ? WHERE id <= ?`, "cheap", 2)
	s.Require().NoError(err)
	n, err := res.RowsAffected()
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	var name string
	s.Require().NoError(s.backend.QueryRow(`SELECT name FROM items WHERE id = 1`).Scan(&name))
	s.Equal("cheap", name)
}

func (s *DriverSuite) TestPrepared() {
	stmt, err := s.cached.Prepare(`SELECT name FROM items WHERE id = ?`)
	s.Require().NoError(err)
	defer stmt.Close()

	var name string
	s.Require().NoError(stmt.QueryRow(3).Scan(&name))
	s.Equal("item 3", name)
}

func (s *DriverSuite) TestNamedArgumentsRejected() {
	_, err := s.cached.Query(`SELECT name FROM items WHERE id = ?`, sql.Named("id", 1))
	s.Error(err)
}

func (s *DriverSuite) TestBeginNotSupported() {
	_, err := s.cached.Begin()
	s.Error(err)
}

func (s *DriverSuite) TestNullArgument() {
	s.Empty(s.names(`SELECT name FROM items WHERE id = ? OR name = ?`, nil, "x"))
}

func (s *DriverSuite) TestStatementBindsDecimals() {
	p := sqldriver.NewPreparer(s.backend)
	stmt, err := p.Prepare(context.Background(), `SELECT name FROM items WHERE id = ?`, false)
	s.Require().NoError(err)
	defer stmt.Close()

	ps := binding.Of(json.Number("2"))
	s.Require().NoError(binding.Bind(context.Background(), ps, stmt))
	cur, err := stmt.Query(context.Background())
	s.Require().NoError(err)
	defer cur.Close()

	s.Require().True(cur.Next())
	vals, err := cur.Values()
	s.Require().NoError(err)
	s.Equal("item 2", vals[0])
}

func TestDriver(t *testing.T) {
	suite.Run(t, new(DriverSuite))
}
