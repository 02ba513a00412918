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

// Package resultcache holds the shared vocabulary of the result
// materialization engine: the canonical column type tags, the error
// taxonomy, the narrow contracts of the external collaborators (memory
// telemetry and file-system primitives) and the canonical option keys.
//
// The engine itself is split into subpackages:
//
//   - classify maps backend type names onto CanonicalType
//   - lob streams large objects into files or buffers
//   - resultset is the in-memory row store and its typed accessors
//   - materialize drains a backend cursor into a resultset
//   - binding maps application values onto a call interface
//   - querycache keeps materialized results keyed by call signature
//   - call and client tie the pieces together
package resultcache

import (
	"errors"
	"fmt"
	"strconv"
)

// Error is the detailed error for an operation
type Error struct {
	// Msg is a string representing a human readable error message
	Msg string
	// Code is the status representing this error
	Code Status
	// VendorCode is a backend-specific error code, if applicable. Binding
	// failures keep the backend's own code here.
	VendorCode int32
	// SqlState is a SQLSTATE error code, if provided, as defined
	// by the SQL:2003 standard. If not set, it will be "\0\0\0\0\0"
	SqlState [5]byte
	// Err is the underlying cause, if any.
	Err error
}

func (e Error) Error() string {
	if e.SqlState[0] != 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Msg, string(e.SqlState[:]))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e Error) Unwrap() error { return e.Err }

// Status represents an error code for operations that may fail
type Status uint8

const (
	// No Error
	StatusOK Status = iota // OK
	// An unknown error occurred.
	StatusUnknown // Unknown
	// The operation is not implemented or supported, including unknown
	// option keys.
	StatusNotImplemented // Not Implemented
	// A requested resource was not found, such as an option that was
	// never set.
	StatusNotFound // Not Found
	// The arguments are invalid, likely a programming error.
	StatusInvalidArgument // Invalid Argument
	// The preconditions for the operation are not met, for instance
	// modifying a read-only result set.
	StatusInvalidState // Invalid State
	// An I/O error occurred while reading from the backend.
	StatusIO // I/O
	// The result set has no rows.
	StatusNoData // No Data
	// A column index or name could not be resolved.
	StatusInvalidColumn // Invalid Column
	// A value is present but cannot be converted to the requested type,
	// including numeric overflow.
	StatusInvalidCast // Invalid Cast
	// A primitive accessor was used on a null cell.
	StatusNullExtraction // Null Extraction
	// The canonical type has no accessor support.
	StatusUnsupportedType // Unsupported Type
	// The call interface rejected a parameter or output registration.
	StatusBinding // Binding
	// Streaming a large object failed.
	StatusOffload // Offload
	// The engine is misconfigured, for instance a file policy without a
	// temporary directory.
	StatusConfiguration // Configuration
)

var statusNames = [...]string{
	StatusOK:              "OK",
	StatusUnknown:         "Unknown",
	StatusNotImplemented:  "Not Implemented",
	StatusNotFound:        "Not Found",
	StatusInvalidArgument: "Invalid Argument",
	StatusInvalidState:    "Invalid State",
	StatusIO:              "I/O",
	StatusNoData:          "No Data",
	StatusInvalidColumn:   "Invalid Column",
	StatusInvalidCast:     "Invalid Cast",
	StatusNullExtraction:  "Null Extraction",
	StatusUnsupportedType: "Unsupported Type",
	StatusBinding:         "Binding",
	StatusOffload:         "Offload",
	StatusConfiguration:   "Configuration",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// StatusOf returns the status carried by err, StatusOK for a nil error and
// StatusUnknown for errors that do not wrap an Error.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return StatusUnknown
}

// IsStatus reports whether err wraps an Error with the given code.
func IsStatus(err error, code Status) bool {
	return err != nil && StatusOf(err) == code
}

// ErrorHelper builds errors prefixed with the name of the component that
// raised them.
type ErrorHelper struct {
	Component string
}

func (helper ErrorHelper) format(message string, args ...any) string {
	msg := fmt.Sprintf(message, args...)
	if helper.Component == "" {
		return msg
	}
	return fmt.Sprintf("[%s] %s", helper.Component, msg)
}

func (helper ErrorHelper) Errorf(code Status, message string, format ...any) error {
	return Error{
		Code: code,
		Msg:  helper.format(message, format...),
	}
}

// Wrap attaches err as the cause of a new Error. Vendor code and SQLSTATE of
// a wrapped Error are carried over.
func (helper ErrorHelper) Wrap(err error, code Status, message string, format ...any) error {
	if err == nil {
		return nil
	}
	out := Error{
		Code: code,
		Msg:  helper.format(message, format...) + ": " + err.Error(),
		Err:  err,
	}
	var inner Error
	if errors.As(err, &inner) {
		out.VendorCode = inner.VendorCode
		out.SqlState = inner.SqlState
	}
	return out
}
