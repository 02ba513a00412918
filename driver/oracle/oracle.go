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

// Package oracle is the Oracle backend, built on the pure Go go-ora
// driver. Character large objects are bound as CLOBs, character outputs
// are sized, and REF CURSOR outputs come back as cursors the engine
// materializes.
package oracle

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/apache/arrow-adbc/go/resultcache/binding"
	"github.com/apache/arrow-adbc/go/resultcache/sqldriver"
	go_ora "github.com/sijms/go-ora/v2"
)

// DriverName is the database/sql name go-ora registers.
const DriverName = "oracle"

// DefaultOutSize is the buffer size of character outputs with no declared
// maximum length, the PL/SQL VARCHAR2 limit.
const DefaultOutSize = 32767

const (
	OptionKeyServer   = "oracle.server"
	OptionKeyPort     = "oracle.port"
	OptionKeyService  = "oracle.service"
	OptionKeyUser     = "oracle.user"
	OptionKeyPassword = "oracle.password"
	// OptionKeyURL is a complete go-ora connection URL. It takes
	// precedence over the other keys.
	OptionKeyURL = "oracle.url"
)

var errHelper = rc.ErrorHelper{Component: "oracle"}

// Config locates a database.
type Config struct {
	Server   string
	Port     int
	Service  string
	User     string
	Password string
	// URLOptions are go-ora connection options, such as "SSL" or
	// "TIMEOUT".
	URLOptions map[string]string
}

// DSN is the go-ora connection URL of c.
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = 1521
	}
	return go_ora.BuildUrl(c.Server, port, c.Service, c.User, c.Password, c.URLOptions)
}

// ParseOptions splits the oracle.* keys out of opts into a connection URL,
// returning the remaining options.
func ParseOptions(opts map[string]string) (url string, rest map[string]string, err error) {
	var cfg Config
	rest = make(map[string]string, len(opts))
	for k, v := range opts {
		switch k {
		case OptionKeyURL:
			url = v
		case OptionKeyServer:
			cfg.Server = v
		case OptionKeyPort:
			if cfg.Port, err = strconv.Atoi(v); err != nil || cfg.Port <= 0 {
				return "", nil, errHelper.Errorf(rc.StatusInvalidArgument, "invalid value '%s' for option %s", v, k)
			}
		case OptionKeyService:
			cfg.Service = v
		case OptionKeyUser:
			cfg.User = v
		case OptionKeyPassword:
			cfg.Password = v
		default:
			rest[k] = v
		}
	}
	if url != "" {
		return url, rest, nil
	}
	if cfg.Server == "" || cfg.Service == "" {
		return "", nil, errHelper.Errorf(rc.StatusConfiguration, "%s and %s are required", OptionKeyServer, OptionKeyService)
	}
	return cfg.DSN(), rest, nil
}

// Open opens a connection pool for dsn.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, errHelper.Wrap(err, rc.StatusConfiguration, "opening database")
	}
	return db, nil
}

// Dialect binds values the way go-ora expects them.
type Dialect struct {
	// DB opens REF CURSOR outputs.
	DB *sql.DB
}

// LobArg binds character data as a CLOB and everything else as bytes.
func (d Dialect) LobArg(data []byte, t rc.CanonicalType) any {
	if t.IsCharacterData() {
		return go_ora.Clob{String: string(data), Valid: true}
	}
	return data
}

func outSize(spec binding.OutSpec) int {
	if spec.MaxLength > 0 {
		return spec.MaxLength
	}
	return DefaultOutSize
}

// OutArg chooses a typed destination per output type. REF CURSOR outputs
// are read back as *sql.Rows.
func (d Dialect) OutArg(spec binding.OutSpec, in any, isIn bool) (any, func(context.Context) (any, error)) {
	switch spec.Type {
	case rc.TypeRefCursor, rc.TypeNestedResultSet:
		cur := new(go_ora.RefCursor)
		return sql.Out{Dest: cur}, func(ctx context.Context) (any, error) {
			if d.DB == nil {
				return nil, errHelper.Errorf(rc.StatusInvalidState, "no database to open the cursor on")
			}
			return go_ora.WrapRefCursor(ctx, d.DB, cur)
		}
	case rc.TypeText, rc.TypeRowID, rc.TypeLongText, rc.TypeIntervalYearMonth,
		rc.TypeIntervalDaySecond:
		dest := new(sql.NullString)
		if s, ok := in.(string); ok {
			*dest = sql.NullString{String: s, Valid: true}
		}
		return go_ora.Out{Dest: dest, Size: outSize(spec), In: isIn}, nullable(func() (any, bool) {
			return dest.String, dest.Valid
		})
	case rc.TypeLargeText:
		dest := new(go_ora.Clob)
		if s, ok := in.(string); ok {
			*dest = go_ora.Clob{String: s, Valid: true}
		}
		return go_ora.Out{Dest: dest, Size: outSize(spec), In: isIn}, nullable(func() (any, bool) {
			return dest.String, dest.Valid
		})
	case rc.TypeNumber:
		dest := new(sql.NullFloat64)
		switch v := in.(type) {
		case int64:
			*dest = sql.NullFloat64{Float64: float64(v), Valid: true}
		case float64:
			*dest = sql.NullFloat64{Float64: v, Valid: true}
		}
		return go_ora.Out{Dest: dest, In: isIn}, nullable(func() (any, bool) {
			return dest.Float64, dest.Valid
		})
	case rc.TypeDate, rc.TypeTimestamp, rc.TypeTimestampWithZone, rc.TypeTimestampLocalZone:
		dest := new(sql.NullTime)
		if t, ok := in.(time.Time); ok {
			*dest = sql.NullTime{Time: t, Valid: true}
		}
		return go_ora.Out{Dest: dest, In: isIn}, nullable(func() (any, bool) {
			return dest.Time, dest.Valid
		})
	case rc.TypeBinary, rc.TypeLongBinary, rc.TypeLargeBinary:
		dest := new([]byte)
		if b, ok := in.([]byte); ok {
			*dest = b
		}
		return go_ora.Out{Dest: dest, Size: outSize(spec), In: isIn}, func(context.Context) (any, error) {
			if *dest == nil {
				return nil, nil
			}
			return *dest, nil
		}
	}
	return sqldriver.StandardDialect{}.OutArg(spec, in, isIn)
}

func nullable(get func() (any, bool)) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		v, ok := get()
		if !ok {
			return nil, nil
		}
		return v, nil
	}
}

// NewPreparer prepares statements on db with the go-ora dialect.
func NewPreparer(db *sql.DB) *sqldriver.Preparer {
	return sqldriver.NewDialectPreparer(db, Dialect{DB: db})
}
