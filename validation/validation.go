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

// Package validation is a backend-agnostic test suite intended to aid in
// backend development. It provides a series of utilities and defined
// tests that can be used to validate a binding.Preparer, together with
// the client above it, follows the correct and expected behavior.
package validation

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/client"
	"github.com/apache/arrow-adbc/go/resultcache/resultset"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// CheckedClose closes c and fails the test on error.
func CheckedClose(t *testing.T, c io.Closer) {
	require.NoError(t, c.Close())
}

// SampleRow is one row of the sample table: (ID, NAME, PAYLOAD).
type SampleRow struct {
	ID      int64
	Name    string
	Payload []byte
}

type BackendQuirks interface {
	// Called in SetupTest to initialize anything needed for testing
	SetupBackend(*testing.T) binding.Preparer
	// Called in TearDownTest to clean up anything necessary in between tests
	TearDownBackend(*testing.T, binding.Preparer)
	// Return the list of key/value pairs of options to pass when
	// calling client.New
	ClientOptions() map[string]string
	// Return the SQL to reference the bind parameter for a given index
	BindParameter(index int) string
	// Create a table with an integer ID, a character NAME and a binary
	// large object PAYLOAD column
	CreateSampleTable(ctx context.Context, tableName string, rows []SampleRow) error
	DropTable(ctx context.Context, tableName string) error
	// Return the call text of a procedure with an integer input and an
	// integer output holding twice the input, or "" when the backend has
	// no stored procedures
	DoublingCall() string
}

func sampleRows() []SampleRow {
	return []SampleRow{
		{ID: 1, Name: "alpha", Payload: []byte("one")},
		{ID: 2, Name: "beta", Payload: []byte("two")},
		{ID: 3, Name: "gamma", Payload: nil},
	}
}

type ClientTests struct {
	suite.Suite

	Quirks   BackendQuirks
	Preparer binding.Preparer
}

func (c *ClientTests) SetupTest() {
	c.Preparer = c.Quirks.SetupBackend(c.T())
}

func (c *ClientTests) TearDownTest() {
	c.Quirks.TearDownBackend(c.T(), c.Preparer)
	c.Preparer = nil
}

func (c *ClientTests) TestNewClient() {
	cl, err := client.New(c.Preparer, c.Quirks.ClientOptions())
	c.Require().NoError(err)
	defer CheckedClose(c.T(), cl)
	c.NotNil(cl)
}

func (c *ClientTests) TestCloseTwice() {
	cl, err := client.New(c.Preparer, c.Quirks.ClientOptions())
	c.Require().NoError(err)
	c.NoError(cl.Close())
	c.NoError(cl.Close())

	_, err = cl.Query(context.Background(), "SELECT 1", nil)
	c.True(rc.IsStatus(err, rc.StatusInvalidState))
}

func (c *ClientTests) TestUnknownOption() {
	opts := c.Quirks.ClientOptions()
	cl, err := client.New(c.Preparer, opts)
	c.Require().NoError(err)
	defer CheckedClose(c.T(), cl)

	err = cl.SetOption("resultcache.no_such_option", "1")
	c.True(rc.IsStatus(err, rc.StatusNotImplemented))
}

type QueryTests struct {
	suite.Suite

	Quirks   BackendQuirks
	Preparer binding.Preparer
	Client   *client.Client

	ctx   context.Context
	table string
}

func (s *QueryTests) SetupTest() {
	s.ctx = context.Background()
	s.Preparer = s.Quirks.SetupBackend(s.T())

	opts := map[string]string{rc.OptionKeyLobTempDir: s.T().TempDir()}
	for k, v := range s.Quirks.ClientOptions() {
		opts[k] = v
	}
	var err error
	s.Client, err = client.New(s.Preparer, opts)
	s.Require().NoError(err)

	s.table = "validation_sample"
	s.Require().NoError(s.Quirks.DropTable(s.ctx, s.table))
	s.Require().NoError(s.Quirks.CreateSampleTable(s.ctx, s.table, sampleRows()))
}

func (s *QueryTests) TearDownTest() {
	s.NoError(s.Quirks.DropTable(s.ctx, s.table))
	s.NoError(s.Client.Close())
	s.Quirks.TearDownBackend(s.T(), s.Preparer)
	s.Client, s.Preparer = nil, nil
}

func (s *QueryTests) selectByID() string {
	return fmt.Sprintf("SELECT id, name, payload FROM %s WHERE id >= %s ORDER BY id",
		s.table, s.Quirks.BindParameter(0))
}

func (s *QueryTests) TestSelectNoParams() {
	rs, err := s.Client.Query(s.ctx, "SELECT id FROM "+s.table+" ORDER BY id", nil)
	s.Require().NoError(err)
	s.Equal(3, rs.Size())
	s.Equal(0, rs.Position())

	var ids []int64
	for ok := rs.First(); ok; ok = rs.Next() {
		id, err := rs.GetLong(resultset.At(0))
		s.Require().NoError(err)
		ids = append(ids, id)
	}
	s.Equal([]int64{1, 2, 3}, ids)
}

func (s *QueryTests) TestSelectWithParams() {
	rs, err := s.Client.Query(s.ctx, s.selectByID(), binding.Of(int64(2)))
	s.Require().NoError(err)
	s.Require().Equal(2, rs.Size())

	name, err := rs.GetString(resultset.Named("name"))
	s.Require().NoError(err)
	s.Equal("beta", name.String)

	s.Require().True(rs.Next())
	payload, err := rs.GetBytes(resultset.Named("payload"))
	s.Require().NoError(err)
	s.Nil(payload)
	cell, err := rs.Cell(resultset.Named("payload"))
	s.Require().NoError(err)
	s.True(cell.IsNull())
}

func (s *QueryTests) TestUnsetParameter() {
	_, err := s.Client.Query(s.ctx, s.selectByID(), binding.New(1, false))
	s.True(rc.IsStatus(err, rc.StatusBinding))
}

func (s *QueryTests) TestRowLimit() {
	s.Require().NoError(s.Client.SetOption(rc.OptionKeyQueryRows, "2"))
	rs, err := s.Client.Query(s.ctx, s.selectByID(), binding.Of(int64(0)))
	s.Require().NoError(err)
	s.Equal(2, rs.Size())
	s.True(rs.HitRowLimit())
}

func (s *QueryTests) TestLargeObjectPolicies() {
	for _, policy := range []string{rc.OptionValueLobPolicyBytes, rc.OptionValueLobPolicyFile} {
		s.Run(policy, func() {
			s.Require().NoError(s.Client.SetOption(rc.OptionKeyLobPolicy, policy))
			rs, err := s.Client.Query(s.ctx, s.selectByID(), binding.Of(int64(1)))
			s.Require().NoError(err)

			payload, err := rs.GetBytes(resultset.Named("payload"))
			s.Require().NoError(err)
			s.Equal([]byte("one"), payload)

			path, err := rs.GetFilePath(resultset.Named("payload"))
			if policy == rc.OptionValueLobPolicyBytes {
				s.True(rc.IsStatus(err, rc.StatusInvalidCast))
				return
			}
			s.Require().NoError(err)
			s.Require().True(path.Valid)
			_, err = os.Stat(path.String)
			s.NoError(err)
		})
	}
}

func (s *QueryTests) TestCacheHit() {
	s.Require().NoError(s.Client.SetOption(rc.OptionKeyCacheSeconds, "60"))
	first, err := s.Client.Query(s.ctx, s.selectByID(), binding.Of(int64(1)))
	s.Require().NoError(err)

	_, err = s.Client.Exec(s.ctx, fmt.Sprintf("DELETE FROM %s WHERE id = %s", s.table, s.Quirks.BindParameter(0)),
		binding.Of(int64(3)))
	s.Require().NoError(err)

	second, err := s.Client.Query(s.ctx, s.selectByID(), binding.Of(int64(1)))
	s.Require().NoError(err)
	s.Equal(first.Size(), second.Size())
	s.EqualValues(2, second.ReuseCount())

	s.Client.ClearCache()
	third, err := s.Client.Query(s.ctx, s.selectByID(), binding.Of(int64(1)))
	s.Require().NoError(err)
	s.Equal(2, third.Size())
}

func (s *QueryTests) TestExecRowsAffected() {
	n, err := s.Client.Exec(s.ctx,
		fmt.Sprintf("UPDATE %s SET name = %s WHERE id <= %s", s.table, s.Quirks.BindParameter(0), s.Quirks.BindParameter(1)),
		binding.Of("renamed", int64(2)))
	s.Require().NoError(err)
	s.EqualValues(2, n)

	res, err := s.Client.Execute(s.ctx, "SELECT name FROM "+s.table+" WHERE name = "+s.Quirks.BindParameter(0),
		binding.Of("renamed"))
	s.Require().NoError(err)
	s.Equal(binding.VerbSelect, res.Verb)
	s.Equal(2, res.Rows.Size())
}

func (s *QueryTests) TestCall() {
	call := s.Quirks.DoublingCall()
	if call == "" {
		s.T().SkipNow()
	}
	ps := binding.New(2, true)
	s.Require().NoError(ps.Set(0, int64(21)))
	s.Require().NoError(ps.RegisterOut(1, binding.OutSpec{Type: rc.TypeNumber}))
	s.Require().NoError(s.Client.Call(s.ctx, call, ps))

	out, err := ps.Output(1)
	s.Require().NoError(err)
	s.EqualValues(42, out)
}
