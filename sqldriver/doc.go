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

// Package sqldriver connects the engine to the standard golang
// database/sql package, described here: https://go.dev/src/database/sql/doc.txt
//
// It works in both directions. A Preparer runs parameter binding and
// result materialization against any *sql.DB, so every database/sql
// driver can serve as a backend. Driver exposes a client, with its result
// caches, as a database/sql driver of its own:
//
//	backend, _ := sql.Open("sqlite", "file:app.db")
//	drv := sqldriver.Driver{Preparer: sqldriver.NewPreparer(backend)}
//	connector, _ := drv.OpenConnector("resultcache.cache.seconds=60")
//	db := sql.OpenDB(connector)
//
// The connection string is a list of semi-colon separated key=value
// pairs using the option keys of the resultcache package. Stored procedure
// calls run through Exec; sql.Out arguments receive the output
// parameters. Transactions are not supported.
package sqldriver
