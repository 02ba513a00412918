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

// Package classify maps backend type names onto canonical types.
//
// Classify is total: names it does not recognize map to TypeOther and an
// empty name maps to TypeNull, so callers always get a usable column schema,
// even for backend types introduced after this table was written.
package classify

import (
	"slices"
	"strings"

	rc "github.com/apache/arrow-adbc/go/resultcache"
)

var exact = map[string]rc.CanonicalType{
	"NULL": rc.TypeNull,

	"VARCHAR2":          rc.TypeText,
	"NVARCHAR2":         rc.TypeText,
	"VARCHAR":           rc.TypeText,
	"NVARCHAR":          rc.TypeText,
	"CHAR":              rc.TypeText,
	"NCHAR":             rc.TypeText,
	"CHARACTER":         rc.TypeText,
	"CHARACTER VARYING": rc.TypeText,
	"BPCHAR":            rc.TypeText,
	"TEXT":              rc.TypeText,
	"STRING":            rc.TypeText,
	"CITEXT":            rc.TypeText,
	"NAME":              rc.TypeText,
	"UUID":              rc.TypeText,
	"JSON":              rc.TypeText,
	"JSONB":             rc.TypeText,

	"NUMBER":           rc.TypeNumber,
	"NUMERIC":          rc.TypeNumber,
	"DECIMAL":          rc.TypeNumber,
	"DEC":              rc.TypeNumber,
	"INTEGER":          rc.TypeNumber,
	"INT":              rc.TypeNumber,
	"SMALLINT":         rc.TypeNumber,
	"BIGINT":           rc.TypeNumber,
	"TINYINT":          rc.TypeNumber,
	"MEDIUMINT":        rc.TypeNumber,
	"INT2":             rc.TypeNumber,
	"INT4":             rc.TypeNumber,
	"INT8":             rc.TypeNumber,
	"SERIAL":           rc.TypeNumber,
	"BIGSERIAL":        rc.TypeNumber,
	"FLOAT":            rc.TypeNumber,
	"FLOAT4":           rc.TypeNumber,
	"FLOAT8":           rc.TypeNumber,
	"REAL":             rc.TypeNumber,
	"DOUBLE":           rc.TypeNumber,
	"DOUBLE PRECISION": rc.TypeNumber,
	"BINARY_FLOAT":     rc.TypeNumber,
	"BINARY_DOUBLE":    rc.TypeNumber,
	"IBFLOAT":          rc.TypeNumber,
	"IBDOUBLE":         rc.TypeNumber,
	"PLS_INTEGER":      rc.TypeNumber,
	"BINARY_INTEGER":   rc.TypeNumber,
	"SIMPLE_INTEGER":   rc.TypeNumber,
	"NATURAL":          rc.TypeNumber,
	"POSITIVE":         rc.TypeNumber,
	"MONEY":            rc.TypeNumber,

	"DATE": rc.TypeDate,

	"TIMESTAMP":                      rc.TypeTimestamp,
	"DATETIME":                       rc.TypeTimestamp,
	"TIMESTAMP WITHOUT TIME ZONE":    rc.TypeTimestamp,
	"TIMESTAMPDTY":                   rc.TypeTimestamp,
	"TIMESTAMP WITH TIME ZONE":       rc.TypeTimestampWithZone,
	"TIMESTAMPTZ":                    rc.TypeTimestampWithZone,
	"TIMESTAMPTZ_DTY":                rc.TypeTimestampWithZone,
	"TIMESTAMP WITH LOCAL TIME ZONE": rc.TypeTimestampLocalZone,
	"TIMESTAMPLTZ":                   rc.TypeTimestampLocalZone,
	"TIMESTAMPLTZ_DTY":               rc.TypeTimestampLocalZone,

	"LONG":           rc.TypeLongText,
	"LONG VARCHAR":   rc.TypeLongText,
	"LONG RAW":       rc.TypeLongBinary,
	"LONGRAW":        rc.TypeLongBinary,
	"LONG VARBINARY": rc.TypeLongBinary,

	"RAW":       rc.TypeBinary,
	"BINARY":    rc.TypeBinary,
	"VARBINARY": rc.TypeBinary,
	"BYTEA":     rc.TypeBinary,

	"CLOB":           rc.TypeLargeText,
	"NCLOB":          rc.TypeLargeText,
	"MEDIUMTEXT":     rc.TypeLargeText,
	"LONGTEXT":       rc.TypeLargeText,
	"OCICLOBLOCATOR": rc.TypeLargeText,
	"BLOB":           rc.TypeLargeBinary,
	"MEDIUMBLOB":     rc.TypeLargeBinary,
	"LONGBLOB":       rc.TypeLargeBinary,
	"OCIBLOBLOCATOR": rc.TypeLargeBinary,
	"BFILE":          rc.TypeLargeFileRef,
	"OCIFILELOCATOR": rc.TypeLargeFileRef,

	"REF CURSOR":    rc.TypeRefCursor,
	"REFCURSOR":     rc.TypeRefCursor,
	"SYS_REFCURSOR": rc.TypeRefCursor,
	"RESULT SET":    rc.TypeNestedResultSet,
	"RESULTSET":     rc.TypeNestedResultSet,
	"CURSOR":        rc.TypeNestedResultSet,

	"BOOLEAN":        rc.TypeBoolean,
	"BOOL":           rc.TypeBoolean,
	"BIT":            rc.TypeBoolean,
	"PL/SQL BOOLEAN": rc.TypeBoolean,

	"ROWID":  rc.TypeRowID,
	"UROWID": rc.TypeRowID,

	"OBJECT": rc.TypeObject,
	"STRUCT": rc.TypeObject,
	"ADT":    rc.TypeObject,

	"TABLE":        rc.TypeTable,
	"NESTED TABLE": rc.TypeTable,

	"ARRAY":         rc.TypeArray,
	"VARRAY":        rc.TypeArray,
	"VARYING ARRAY": rc.TypeArray,

	"INTERVAL YEAR TO MONTH": rc.TypeIntervalYearMonth,
	"INTERVALYM":             rc.TypeIntervalYearMonth,
	"INTERVALYM_DTY":         rc.TypeIntervalYearMonth,
	"INTERVAL DAY TO SECOND": rc.TypeIntervalDaySecond,
	"INTERVALDS":             rc.TypeIntervalDaySecond,
	"INTERVALDS_DTY":         rc.TypeIntervalDaySecond,
	"INTERVAL":               rc.TypeIntervalDaySecond,

	"PL/SQL INDEXED ARRAY": rc.TypeProceduralIndexedArray,
	"PL/SQL INDEXED TABLE": rc.TypeProceduralIndexedArray,
	"PL/SQL TABLE":         rc.TypeProceduralIndexedArray,
	"INDEX BY TABLE":       rc.TypeProceduralIndexedArray,
	"PL/SQL RECORD":        rc.TypeProceduralRecord,
	"RECORD":               rc.TypeProceduralRecord,

	"XMLTYPE":     rc.TypeXMLDocument,
	"SYS.XMLTYPE": rc.TypeXMLDocument,
	"XML":         rc.TypeXMLDocument,

	"SDO_GEOMETRY":       rc.TypeGeometry,
	"MDSYS.SDO_GEOMETRY": rc.TypeGeometry,
	"GEOMETRY":           rc.TypeGeometry,
	"GEOGRAPHY":          rc.TypeGeometry,
}

// Classify maps a backend type name to its canonical type.
func Classify(typeName string) rc.CanonicalType {
	name := Normalize(typeName)
	if name == "" {
		return rc.TypeNull
	}
	if t, ok := exact[name]; ok {
		return t
	}

	switch {
	case strings.HasSuffix(name, "TO MONTH"):
		return rc.TypeIntervalYearMonth
	case strings.HasPrefix(name, "INTERVAL DAY"), strings.HasSuffix(name, "TO SECOND"):
		return rc.TypeIntervalDaySecond
	case strings.HasPrefix(name, "TIMESTAMP"):
		switch {
		case strings.HasSuffix(name, "WITH LOCAL TIME ZONE"):
			return rc.TypeTimestampLocalZone
		case strings.HasSuffix(name, "WITH TIME ZONE"):
			return rc.TypeTimestampWithZone
		}
		return rc.TypeTimestamp
	case strings.HasSuffix(name, "[]"), strings.HasPrefix(name, "_"):
		// postgres array types
		return rc.TypeArray
	}
	return rc.TypeOther
}

// Normalize upper-cases typeName, drops any parenthesized parameter lists
// and collapses whitespace, so "timestamp(6)  with time zone" and
// "TIMESTAMP WITH TIME ZONE" compare equal.
func Normalize(typeName string) string {
	var b strings.Builder
	b.Grow(len(typeName))
	depth := 0
	for _, r := range typeName {
		switch {
		case r == '(':
			depth++
			b.WriteByte(' ')
		case r == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(strings.ToUpper(b.String())), " ")
}

// Procedural reports whether typeName names a type that only exists inside
// stored procedure code, such as PL/SQL BOOLEAN. Rows cannot carry such
// values even when their canonical type is a plain scalar.
func Procedural(typeName string) bool {
	return strings.HasPrefix(Normalize(typeName), "PL/SQL ")
}

// Known returns every exact type name in the classification table, sorted.
func Known() []string {
	out := make([]string, 0, len(exact))
	for k := range exact {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
