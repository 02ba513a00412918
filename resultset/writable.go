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

package resultset

import (
	"context"
	"sync"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"golang.org/x/sync/errgroup"
)

func (rs *ResultSet) checkWritable(op string) error {
	if !rs.writable {
		return errHelper.Errorf(rc.StatusInvalidState, "%s on a read-only result set", op)
	}
	return nil
}

// UpdateValue replaces the referenced cell of the current row.
func (rs *ResultSet) UpdateValue(ref Ref, v any) error {
	if err := rs.checkWritable("UpdateValue"); err != nil {
		return err
	}
	idx, _, err := rs.lookup(ref)
	if err != nil {
		return err
	}
	rs.rows[rs.pos][idx] = FromValue(v)
	return nil
}

// InsertRow appends a row and makes it current.
func (rs *ResultSet) InsertRow(values ...any) error {
	if err := rs.checkWritable("InsertRow"); err != nil {
		return err
	}
	if len(values) != len(rs.columns) {
		return errHelper.Errorf(rc.StatusInvalidArgument,
			"InsertRow got %d values, expected %d", len(values), len(rs.columns))
	}
	row := make(Row, len(values))
	for i, v := range values {
		row[i] = FromValue(v)
	}
	rs.rows = append(rs.rows, row)
	rs.pos = len(rs.rows) - 1
	return nil
}

// DeleteRow removes the current row. The following row, or the new last
// row, becomes current.
func (rs *ResultSet) DeleteRow() error {
	if err := rs.checkWritable("DeleteRow"); err != nil {
		return err
	}
	if _, err := rs.current(); err != nil {
		return err
	}
	rs.rows = append(rs.rows[:rs.pos], rs.rows[rs.pos+1:]...)
	if rs.pos >= len(rs.rows) {
		rs.pos = len(rs.rows) - 1
	}
	return nil
}

const maxConcurrentDeletes = 8

// GeneratedFiles lists the unmanaged files referenced by the result set.
func (rs *ResultSet) GeneratedFiles() []string {
	var out []string
	for _, row := range rs.rows {
		for _, c := range row {
			if c.kind == KindFile && !c.managed {
				out = append(out, c.path)
			}
		}
	}
	return out
}

// DeleteGeneratedFiles removes every unmanaged file referenced by the
// result set. Cells whose file was removed become null in this result set
// only, so calling it again is harmless; other views keep their rows
// untouched.
func (rs *ResultSet) DeleteGeneratedFiles(ctx context.Context) error {
	type job struct {
		row, col int
		path     string
	}
	var jobs []job
	for i, row := range rs.rows {
		for j, c := range row {
			if c.kind == KindFile && !c.managed {
				jobs = append(jobs, job{i, j, c.path})
			}
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		removed []job
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDeletes)
	for _, jb := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := rs.fs.Remove(jb.path); err != nil {
				return errHelper.Wrap(err, rc.StatusIO, "removing %s", jb.path)
			}
			mu.Lock()
			removed = append(removed, jb)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	if len(removed) == 0 {
		return err
	}
	rows := make([]Row, len(rs.rows))
	copy(rows, rs.rows)
	copied := make(map[int]bool, len(removed))
	for _, jb := range removed {
		if !copied[jb.row] {
			rows[jb.row] = append(Row(nil), rows[jb.row]...)
			copied[jb.row] = true
		}
		rows[jb.row][jb.col] = Cell{}
	}
	rs.rows = rows
	return err
}
