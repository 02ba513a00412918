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

import "strconv"

// CanonicalType is the small internal type tag every backend column is
// classified into, independent of the backend's own type name. A column's
// CanonicalType is derived once and never changes.
type CanonicalType uint8

const (
	TypeNull CanonicalType = iota // NULL
	TypeText                      // TEXT
	TypeNumber                    // NUMBER
	TypeDate                      // DATE
	TypeTimestamp                 // TIMESTAMP
	TypeTimestampWithZone         // TIMESTAMP WITH TIME ZONE
	TypeTimestampLocalZone        // TIMESTAMP WITH LOCAL TIME ZONE
	TypeLongText                  // LONG
	TypeLongBinary                // LONG RAW
	TypeBinary                    // RAW
	TypeLargeText                 // CLOB
	TypeLargeBinary               // BLOB
	TypeLargeFileRef              // BFILE
	TypeRefCursor                 // REF CURSOR
	TypeNestedResultSet           // RESULT SET
	TypeBoolean                   // BOOLEAN
	TypeRowID                     // ROWID
	TypeObject                    // OBJECT
	TypeTable                     // TABLE
	TypeArray                     // ARRAY
	TypeIntervalYearMonth         // INTERVAL YEAR TO MONTH
	TypeIntervalDaySecond         // INTERVAL DAY TO SECOND
	TypeProceduralIndexedArray    // PL/SQL INDEXED ARRAY
	TypeProceduralRecord          // PL/SQL RECORD
	TypeXMLDocument               // XMLTYPE
	TypeGeometry                  // GEOMETRY
	TypeOther                     // OTHER
)

var canonicalTypeNames = [...]string{
	TypeNull:                   "NULL",
	TypeText:                   "TEXT",
	TypeNumber:                 "NUMBER",
	TypeDate:                   "DATE",
	TypeTimestamp:              "TIMESTAMP",
	TypeTimestampWithZone:      "TIMESTAMP WITH TIME ZONE",
	TypeTimestampLocalZone:     "TIMESTAMP WITH LOCAL TIME ZONE",
	TypeLongText:               "LONG",
	TypeLongBinary:             "LONG RAW",
	TypeBinary:                 "RAW",
	TypeLargeText:              "CLOB",
	TypeLargeBinary:            "BLOB",
	TypeLargeFileRef:           "BFILE",
	TypeRefCursor:              "REF CURSOR",
	TypeNestedResultSet:        "RESULT SET",
	TypeBoolean:                "BOOLEAN",
	TypeRowID:                  "ROWID",
	TypeObject:                 "OBJECT",
	TypeTable:                  "TABLE",
	TypeArray:                  "ARRAY",
	TypeIntervalYearMonth:      "INTERVAL YEAR TO MONTH",
	TypeIntervalDaySecond:      "INTERVAL DAY TO SECOND",
	TypeProceduralIndexedArray: "PL/SQL INDEXED ARRAY",
	TypeProceduralRecord:       "PL/SQL RECORD",
	TypeXMLDocument:            "XMLTYPE",
	TypeGeometry:               "GEOMETRY",
	TypeOther:                  "OTHER",
}

// NumCanonicalTypes is the number of defined canonical types.
const NumCanonicalTypes = int(TypeOther) + 1

func (t CanonicalType) String() string {
	if int(t) < len(canonicalTypeNames) {
		return canonicalTypeNames[t]
	}
	return "CanonicalType(" + strconv.Itoa(int(t)) + ")"
}

// IsTemporal reports whether t is one of the four date/time shapes.
func (t CanonicalType) IsTemporal() bool {
	switch t {
	case TypeDate, TypeTimestamp, TypeTimestampWithZone, TypeTimestampLocalZone:
		return true
	}
	return false
}

// IsZoned reports whether values of t carry time zone information.
func (t CanonicalType) IsZoned() bool {
	return t == TypeTimestampWithZone || t == TypeTimestampLocalZone
}

// IsLargeObject reports whether values of t are streamed rather than read
// inline.
func (t CanonicalType) IsLargeObject() bool {
	switch t {
	case TypeLongText, TypeLongBinary, TypeLargeText, TypeLargeBinary, TypeLargeFileRef:
		return true
	}
	return false
}

// IsCharacterData reports whether large values of t are character rather
// than byte streams.
func (t CanonicalType) IsCharacterData() bool {
	return t == TypeLongText || t == TypeLargeText
}
