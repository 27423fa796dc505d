package lens

import (
	"fmt"
	"reflect"
)

// SynthesizeDefault produces the canonical zero value for td. By-reference slots resolve to their
// pointee first. Kinds outside the supported set fail with ErrUnsupportedType.
func SynthesizeDefault(td TypeDescriptor) (DynamicValue, error) {
	td = td.Deref()
	switch td.Kind {
	case KindReference:
		return Null(), nil
	case KindValueAggregate:
		if td.GoType != nil {
			return AggregateValue(reflect.Zero(td.GoType).Interface()), nil
		} else if td.IsArray() {
			elem, err := SynthesizeDefault(*td.Elem)
			if err != nil {
				return Null(), fmt.Errorf("%s element: %w", td.Name, err)
			}
			return arrayAggregate(td.Name, elem, td.ArrayLen), nil
		}
		fields := make([]DynamicValue, len(td.Fields))
		for i, f := range td.Fields {
			fv, err := SynthesizeDefault(f.Type)
			if err != nil {
				return Null(), fmt.Errorf("%s.%s: %w", td.Name, f.Name, err)
			}
			fields[i] = fv
		}
		return fieldsAggregate(td.Name, fields), nil
	case KindFloat32:
		return Float32Value(0), nil
	case KindFloat64:
		return Float64Value(0), nil
	case KindInt64:
		return Int64Value(0), nil
	case KindInt32:
		return Int32Value(0), nil
	default:
		return Null(), fmt.Errorf("%w: %q has kind %s", ErrUnsupportedType, td.Name, td.Kind)
	}
}

// SynthesizeResults produces a default for each declared result of fd.
func SynthesizeResults(fd *FunctionDescriptor) ([]DynamicValue, error) {
	out := make([]DynamicValue, len(fd.Results))
	for i, r := range fd.Results {
		v, err := SynthesizeDefault(r)
		if err != nil {
			return nil, fmt.Errorf("%s result %d: %w", fd.Ident(), i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Materialize converts v into a Go value of type t. Null becomes the zero value of t.
func Materialize(v DynamicValue, t reflect.Type) (reflect.Value, error) {
	switch v.kind {
	case ValueNull:
		return reflect.Zero(t), nil
	case ValueInt32, ValueInt64:
		bits := v.bits
		switch {
		case t.Kind() == reflect.Bool:
			return reflect.ValueOf(bits != 0).Convert(t), nil
		case isIntegerKind(t.Kind()):
			return reflect.ValueOf(int64(bits)).Convert(t), nil
		}
	case ValueFloat32:
		if f, _ := v.Float32(); isFloatKind(t.Kind()) {
			return reflect.ValueOf(f).Convert(t), nil
		}
	case ValueFloat64:
		if f, _ := v.Float64(); isFloatKind(t.Kind()) {
			return reflect.ValueOf(f).Convert(t), nil
		}
	case ValueReference, ValueAggregate:
		if v.box != nil {
			rv := reflect.ValueOf(v.box)
			if rv.Type().AssignableTo(t) {
				out := reflect.New(t).Elem()
				out.Set(rv)
				return out, nil
			} else if rv.Type().ConvertibleTo(t) {
				return rv.Convert(t), nil
			}
		} else if t.Kind() == reflect.Array && t.Len() == v.rep && len(v.flds) == min(v.rep, 1) {
			out := reflect.New(t).Elem()
			if v.rep == 0 {
				return out, nil
			}
			ev, err := Materialize(v.flds[0], t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			for i := 0; i < v.rep; i++ {
				out.Index(i).Set(ev)
			}
			return out, nil
		} else if t.Kind() == reflect.Struct && v.rep == 0 && t.NumField() == len(v.flds) {
			out := reflect.New(t).Elem()
			for i, f := range v.flds {
				if !out.Field(i).CanSet() {
					continue // unexported fields stay zero, matching the synthesized default
				}
				fv, err := Materialize(f, t.Field(i).Type)
				if err != nil {
					return reflect.Value{}, err
				}
				out.Field(i).Set(fv)
			}
			return out, nil
		}
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot materialize %s as %s", ErrUnsupportedType, v.TypeName(), t)
}

func isIntegerKind(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Int64) || (k >= reflect.Uint && k <= reflect.Uintptr)
}

func isFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
