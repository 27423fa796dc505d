package lens

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a DynamicValue.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueInt32
	ValueInt64
	ValueFloat32
	ValueFloat64
	ValueReference
	ValueAggregate
)

const nullValueString = "NULL"

// DynamicValue is a type erased value captured from, or produced for, an intercepted call.
type DynamicValue struct {
	kind ValueKind
	bits uint64         // scalar payload, floats stored as IEEE bits
	box  any            // reference value, copied aggregate, or the original Go scalar for display
	name string         // type name for aggregates built from descriptors only
	flds []DynamicValue // fields of a descriptor only aggregate, the single element of an array
	rep  int            // array length, flds[0] stands for every element
}

// Null returns the null value.
func Null() DynamicValue {
	return DynamicValue{}
}

func Int32Value(v int32) DynamicValue {
	return DynamicValue{kind: ValueInt32, bits: uint64(int64(v))}
}

func Int64Value(v int64) DynamicValue {
	return DynamicValue{kind: ValueInt64, bits: uint64(v)}
}

func Float32Value(v float32) DynamicValue {
	return DynamicValue{kind: ValueFloat32, bits: uint64(math.Float32bits(v))}
}

func Float64Value(v float64) DynamicValue {
	return DynamicValue{kind: ValueFloat64, bits: math.Float64bits(v)}
}

// ReferenceValue wraps a reference value without copying it, nil values become Null.
func ReferenceValue(v any) DynamicValue {
	if isNilValue(v) {
		return Null()
	}
	return DynamicValue{kind: ValueReference, box: v}
}

// AggregateValue boxes a struct or array. Boxing copies the value, so later writes to the
// caller's variable are not observed.
func AggregateValue(v any) DynamicValue {
	if v == nil {
		return Null()
	}
	return DynamicValue{kind: ValueAggregate, box: v}
}

// scalarValue keeps the canonical numeric bits alongside the original Go value, so named scalar types
// (enums with a String method, bools) keep their natural text form.
func scalarValue(kind ValueKind, bits uint64, orig any) DynamicValue {
	return DynamicValue{kind: kind, bits: bits, box: orig}
}

// fieldsAggregate builds an aggregate from already synthesized fields, used when no Go type is available.
func fieldsAggregate(name string, fields []DynamicValue) DynamicValue {
	return DynamicValue{kind: ValueAggregate, name: name, flds: fields}
}

// arrayAggregate builds a descriptor only array whose n elements all equal elem, held once.
func arrayAggregate(name string, elem DynamicValue, n int) DynamicValue {
	if n == 0 {
		return DynamicValue{kind: ValueAggregate, name: name}
	}
	return DynamicValue{kind: ValueAggregate, name: name, flds: []DynamicValue{elem}, rep: n}
}

// Kind reports the held variant.
func (v DynamicValue) Kind() ValueKind {
	return v.kind
}

// IsNull reports whether the value is the null variant.
func (v DynamicValue) IsNull() bool {
	return v.kind == ValueNull
}

// Int32 returns the value if it holds an int32.
func (v DynamicValue) Int32() (int32, bool) {
	return int32(int64(v.bits)), v.kind == ValueInt32
}

// Int64 returns the value if it holds an int64.
func (v DynamicValue) Int64() (int64, bool) {
	return int64(v.bits), v.kind == ValueInt64
}

// Float32 returns the value if it holds a float32.
func (v DynamicValue) Float32() (float32, bool) {
	return math.Float32frombits(uint32(v.bits)), v.kind == ValueFloat32
}

// Float64 returns the value if it holds a float64.
func (v DynamicValue) Float64() (float64, bool) {
	return math.Float64frombits(v.bits), v.kind == ValueFloat64
}

// Fields returns the members of an aggregate that was synthesized from a descriptor. For arrays the
// shared element is returned once, see ArrayLen.
func (v DynamicValue) Fields() []DynamicValue {
	return v.flds
}

// ArrayLen returns the element count of an array synthesized from a descriptor, 0 otherwise.
func (v DynamicValue) ArrayLen() int {
	return v.rep
}

// Interface returns the held value as a Go value, nil for Null.
func (v DynamicValue) Interface() any {
	if v.box != nil {
		return v.box
	}
	switch v.kind {
	case ValueInt32:
		i, _ := v.Int32()
		return i
	case ValueInt64:
		i, _ := v.Int64()
		return i
	case ValueFloat32:
		f, _ := v.Float32()
		return f
	case ValueFloat64:
		f, _ := v.Float64()
		return f
	case ValueAggregate:
		if v.rep > 0 {
			out := make([]any, v.rep)
			for i := range out {
				out[i] = v.flds[0].Interface()
			}
			return out
		}
		out := make([]any, len(v.flds))
		for i, f := range v.flds {
			out[i] = f.Interface()
		}
		return out
	default:
		return nil
	}
}

// String provides a deterministic text form for logging and comparison.
func (v DynamicValue) String() string {
	if v.box != nil {
		return stringifyBoxed(v.box)
	}
	switch v.kind {
	case ValueInt32, ValueInt64:
		return strconv.FormatInt(int64(v.bits), 10)
	case ValueFloat32:
		f, _ := v.Float32()
		return strconv.FormatFloat(float64(f), 'g', -1, 32)
	case ValueFloat64:
		f, _ := v.Float64()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case ValueAggregate:
		if v.rep > 0 {
			elem := v.flds[0].String()
			var sb strings.Builder
			sb.Grow(v.rep * (len(elem) + 1))
			for i := 0; i < v.rep; i++ {
				if i > 0 {
					sb.WriteByte(',')
				}
				sb.WriteString(elem)
			}
			return sb.String()
		}
		parts := make([]string, len(v.flds))
		for i, f := range v.flds {
			parts[i] = f.String()
		}
		return strings.Join(parts, ",")
	default:
		return nullValueString
	}
}

// TypeName returns the Go type name of the held value, or the descriptor name for synthesized aggregates.
func (v DynamicValue) TypeName() string {
	if v.box != nil {
		return reflect.TypeOf(v.box).String()
	}
	switch v.kind {
	case ValueNull:
		return nullValueString
	case ValueInt32:
		return "int32"
	case ValueInt64:
		return "int64"
	case ValueFloat32:
		return "float32"
	case ValueFloat64:
		return "float64"
	}
	return v.name
}

// Equal reports structural equality.
func (v DynamicValue) Equal(o DynamicValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case ValueNull:
		return true
	case ValueInt32, ValueInt64, ValueFloat32, ValueFloat64:
		return v.bits == o.bits
	}
	if v.box != nil || o.box != nil {
		return reflect.DeepEqual(v.box, o.box)
	} else if v.name != o.name || v.rep != o.rep || len(v.flds) != len(o.flds) {
		return false
	}
	for i := range v.flds {
		if !v.flds[i].Equal(o.flds[i]) {
			return false
		}
	}
	return true
}

func stringifyBoxed(b any) string {
	if isNilValue(b) {
		return nullValueString
	} else if s, ok := b.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(b)
}

// isNilValue reports nil interfaces as well as typed nils of nillable kinds.
func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
