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

// Package binding maps application values onto the parameter slots of a
// prepared call and reads output parameters back after execution.
package binding

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"
	"reflect"
	"strconv"
	"strings"
	"time"

	rc "github.com/apache/arrow-adbc/go/resultcache"
	"github.com/cockroachdb/apd/v3"
)

var errHelper = rc.ErrorHelper{Component: "binding"}

// Record is a procedural record value: an ordered list of field values
// of a backend record type.
type Record struct {
	TypeName string
	Fields   []any
}

// OutSpec declares an output parameter.
type OutSpec struct {
	// Type is the declared canonical type of the output.
	Type rc.CanonicalType
	// TypeName is the backend-side type name. Array and object outputs
	// require it.
	TypeName string
	// ElementType, MaxCount and MaxLength describe a procedural indexed
	// array output. MaxCount and MaxLength are required for that type.
	ElementType rc.CanonicalType
	MaxCount    int
	MaxLength   int
}

func (o OutSpec) validate(i int) error {
	switch o.Type {
	case rc.TypeArray, rc.TypeTable:
		if strings.TrimSpace(o.TypeName) == "" {
			return errHelper.Errorf(rc.StatusBinding, "output parameter %d of type %s requires an array type name", i, o.Type)
		}
	case rc.TypeObject, rc.TypeProceduralRecord, rc.TypeXMLDocument, rc.TypeGeometry:
		if strings.TrimSpace(o.TypeName) == "" {
			return errHelper.Errorf(rc.StatusBinding, "output parameter %d of type %s requires a type name", i, o.Type)
		}
	case rc.TypeProceduralIndexedArray:
		if o.MaxCount <= 0 || o.MaxLength <= 0 {
			return errHelper.Errorf(rc.StatusBinding,
				"output parameter %d of type %s requires a positive maximum element count and length, got %d and %d",
				i, o.Type, o.MaxCount, o.MaxLength)
		}
	}
	return nil
}

// Slot is one call placeholder.
type Slot struct {
	// Value is the input value.
	Value any
	// Type is the declared canonical type, TypeNull when undeclared.
	Type rc.CanonicalType
	// TypeName is the backend-side type name of user-defined types.
	TypeName string
	// Out marks a registered output parameter.
	Out     bool
	OutSpec OutSpec
	// Result is the output value read by Unload.
	Result any
}

// ParameterSet is a fixed arena of slots sized at construction, with a
// bitset recording which slots were set. Slots are 0-based. A
// ParameterSet is not safe for concurrent use.
type ParameterSet struct {
	slots    []Slot
	set      []uint64
	callable bool
}

// New creates a set of n slots. Only callable sets accept output
// registrations.
func New(n int, callable bool) *ParameterSet {
	if n < 0 {
		n = 0
	}
	return &ParameterSet{
		slots:    make([]Slot, n),
		set:      make([]uint64, (n+63)/64),
		callable: callable,
	}
}

// Of builds an input set from positional values.
func Of(values ...any) *ParameterSet {
	ps := New(len(values), false)
	for i, v := range values {
		ps.slots[i].Value = v
		ps.mark(i)
	}
	return ps
}

func (ps *ParameterSet) Len() int { return len(ps.slots) }

func (ps *ParameterSet) Callable() bool { return ps.callable }

func (ps *ParameterSet) mark(i int) { ps.set[i/64] |= 1 << (uint(i) % 64) }

// IsSet reports whether slot i holds a value or an output registration.
func (ps *ParameterSet) IsSet(i int) bool {
	if i < 0 || i >= len(ps.slots) {
		return false
	}
	return ps.set[i/64]&(1<<(uint(i)%64)) != 0
}

// NumSet is the number of set slots.
func (ps *ParameterSet) NumSet() int {
	n := 0
	for _, w := range ps.set {
		n += bits.OnesCount64(w)
	}
	return n
}

func (ps *ParameterSet) check(i int) error {
	if i < 0 || i >= len(ps.slots) {
		return errHelper.Errorf(rc.StatusInvalidArgument, "parameter index %d out of range [0, %d)", i, len(ps.slots))
	}
	return nil
}

// Set stores an input value with no declared type.
func (ps *ParameterSet) Set(i int, v any) error {
	return ps.SetTyped(i, v, rc.TypeNull, "")
}

// SetTyped stores an input value with a declared type and optional
// backend type name.
func (ps *ParameterSet) SetTyped(i int, v any, t rc.CanonicalType, typeName string) error {
	if err := ps.check(i); err != nil {
		return err
	}
	s := &ps.slots[i]
	s.Value, s.Type, s.TypeName = v, t, typeName
	ps.mark(i)
	return nil
}

// SetNull stores a typed null.
func (ps *ParameterSet) SetNull(i int, t rc.CanonicalType) error {
	return ps.SetTyped(i, nil, t, "")
}

// RegisterOut declares slot i as an output parameter. A value already set
// on the slot makes it an in/out parameter.
func (ps *ParameterSet) RegisterOut(i int, spec OutSpec) error {
	if err := ps.check(i); err != nil {
		return err
	}
	if !ps.callable {
		return errHelper.Errorf(rc.StatusInvalidState, "output parameter %d registered on a non-callable statement", i)
	}
	if err := spec.validate(i); err != nil {
		return err
	}
	s := &ps.slots[i]
	s.Out, s.OutSpec = true, spec
	if s.Type == rc.TypeNull {
		s.Type, s.TypeName = spec.Type, spec.TypeName
	}
	ps.mark(i)
	return nil
}

// Slot returns a copy of slot i.
func (ps *ParameterSet) Slot(i int) (Slot, error) {
	if err := ps.check(i); err != nil {
		return Slot{}, err
	}
	return ps.slots[i], nil
}

// Output returns the value unloaded into output slot i.
func (ps *ParameterSet) Output(i int) (any, error) {
	if err := ps.check(i); err != nil {
		return nil, err
	}
	if !ps.slots[i].Out {
		return nil, errHelper.Errorf(rc.StatusInvalidArgument, "parameter %d is not an output parameter", i)
	}
	return ps.slots[i].Result, nil
}

func (ps *ParameterSet) setOutput(i int, v any) { ps.slots[i].Result = v }

// CheckSet fails when a slot was neither set nor registered as an output.
func (ps *ParameterSet) CheckSet() error {
	var missing []string
	for i := range ps.slots {
		if !ps.IsSet(i) {
			missing = append(missing, strconv.Itoa(i))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errHelper.Errorf(rc.StatusBinding, "parameters not set: %s", strings.Join(missing, ", "))
}

// Clear unsets every slot, keeping the arena.
func (ps *ParameterSet) Clear() {
	clear(ps.slots)
	clear(ps.set)
}

// Signature encodes the declared type and value of every slot, in order.
// Equal signatures denote calls that return the same result.
func (ps *ParameterSet) Signature() string {
	var b strings.Builder
	for i, s := range ps.slots {
		if !ps.IsSet(i) {
			b.WriteString("?|")
			continue
		}
		typ := s.Type
		if typ == rc.TypeNull {
			typ = inferType(s.Value)
		}
		if s.Out {
			b.WriteString("OUT ")
		}
		b.WriteString(typ.String())
		if s.TypeName != "" {
			b.WriteByte(' ')
			b.WriteString(s.TypeName)
		}
		if s.Out && s.Value == nil {
			b.WriteByte('|')
			continue
		}
		v := stringify(s.Value)
		fmt.Fprintf(&b, "(%d):%s|", len(v), v)
	}
	return b.String()
}

// inferType is the canonical type an undeclared value binds as.
func inferType(v any) rc.CanonicalType {
	switch v := v.(type) {
	case nil:
		return rc.TypeText
	case string:
		return rc.TypeText
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, *apd.Decimal, apd.Decimal, json.Number:
		return rc.TypeNumber
	case bool:
		return rc.TypeBoolean
	case time.Time:
		return rc.TypeTimestamp
	case time.Duration:
		return rc.TypeIntervalDaySecond
	case []byte:
		return rc.TypeBinary
	case Record, []Record:
		return rc.TypeProceduralRecord
	case driver.Valuer:
		if val, err := v.Value(); err == nil {
			if _, nested := val.(driver.Valuer); !nested {
				return inferType(val)
			}
		}
		return rc.TypeOther
	}
	if isScalarSlice(v) {
		return rc.TypeProceduralIndexedArray
	}
	return rc.TypeOther
}

func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case []byte:
		return hex.EncodeToString(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case *apd.Decimal:
		if v == nil {
			return "NULL"
		}
		return v.String()
	case apd.Decimal:
		return v.String()
	case Record:
		return v.TypeName + stringify(v.Fields)
	case []Record:
		parts := make([]string, len(v))
		for i, r := range v {
			parts[i] = stringify(r)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = stringify(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case driver.Valuer:
		val, err := v.Value()
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		if _, nested := val.(driver.Valuer); nested {
			return fmt.Sprintf("%v", val)
		}
		return stringify(val)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", v)
}

// isScalarSlice reports whether v is a slice, other than []byte, whose
// elements are not themselves slices, maps or structs.
func isScalarSlice(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return false
	}
	switch rv.Type().Elem().Kind() {
	case reflect.Slice, reflect.Map, reflect.Struct, reflect.Func, reflect.Chan:
		return rv.Type().Elem() == reflect.TypeOf(time.Time{})
	}
	return true
}
