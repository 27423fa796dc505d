package lens

import (
	"fmt"
	"math"
	"reflect"
)

// CallSnapshot is the point in time view of an intercepted call handed to a Hook.
type CallSnapshot struct {
	// Function is shared and must not be modified.
	Function *FunctionDescriptor
	// Receiver is the unconverted receiver, nil for static calls.
	Receiver any
	// Args holds one captured value per declared parameter.
	Args []DynamicValue
}

// ReceiverTypeName returns the receiver's runtime type name (without package or pointer decoration),
// or NULL for static calls.
func (s CallSnapshot) ReceiverTypeName() string {
	if s.Receiver == nil {
		return nullValueString
	}
	t := reflect.TypeOf(s.Receiver)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

// ArgStrings stringifies each captured argument.
func (s CallSnapshot) ArgStrings() []string {
	out := make([]string, len(s.Args))
	for i, a := range s.Args {
		out[i] = a.String()
	}
	return out
}

// BuildSnapshot captures the pre-call state of an invocation of fd. rawArgs must hold one value per
// declared parameter, values supplied for out parameters are ignored.
func BuildSnapshot(fd *FunctionDescriptor, receiver any, rawArgs []any) (CallSnapshot, error) {
	if len(rawArgs) != len(fd.Parameters) {
		return CallSnapshot{}, fmt.Errorf("%w: %s expects %d, got %d",
			ErrArgumentCountMismatch, fd.Ident(), len(fd.Parameters), len(rawArgs))
	}
	recv, err := checkReceiver(fd, receiver)
	if err != nil {
		return CallSnapshot{}, err
	}

	args := make([]DynamicValue, len(rawArgs))
	for i, p := range fd.Parameters {
		if args[i], err = captureParameter(p, rawArgs[i]); err != nil {
			return CallSnapshot{}, fmt.Errorf("%s parameter %d: %w", fd.Ident(), i, err)
		}
	}
	return CallSnapshot{Function: fd, Receiver: recv, Args: args}, nil
}

// BuildSnapshotValues is BuildSnapshot for reflected arguments, as received by a reflect.MakeFunc gate.
// An invalid receiver value represents a static call.
func BuildSnapshotValues(fd *FunctionDescriptor, receiver reflect.Value, args []reflect.Value) (CallSnapshot, error) {
	var recv any
	if receiver.IsValid() && receiver.CanInterface() {
		recv = receiver.Interface()
	}
	raw := make([]any, len(args))
	for i, a := range args {
		if a.IsValid() && a.CanInterface() {
			raw[i] = a.Interface()
		}
	}
	return BuildSnapshot(fd, recv, raw)
}

func checkReceiver(fd *FunctionDescriptor, receiver any) (any, error) {
	if fd.Static {
		return nil, nil
	} else if isNilValue(receiver) {
		return nil, fmt.Errorf("%w: %s called without a receiver", ErrInvalidCallState, fd.Ident())
	}
	return receiver, nil
}

func captureParameter(p ParameterDescriptor, raw any) (DynamicValue, error) {
	td := p.Type
	switch p.Direction {
	case DirOut:
		return Null(), nil // not computed at call entry
	case DirInOut:
		if isNilValue(raw) {
			return Null(), nil
		}
		if rv := reflect.ValueOf(raw); rv.Kind() == reflect.Pointer {
			raw = rv.Elem().Interface()
		}
		td = td.Deref()
	}
	return captureValue(td, raw)
}

// captureValue converts raw into the DynamicValue variant selected by the descriptor kind.
func captureValue(td TypeDescriptor, raw any) (DynamicValue, error) {
	if raw == nil {
		return Null(), nil
	}
	switch td.Kind {
	case KindReference:
		return ReferenceValue(raw), nil
	case KindValueAggregate:
		return AggregateValue(raw), nil // boxed into an interface, already a private copy
	case KindInt32, KindInt64:
		bits, ok := integerBits(reflect.ValueOf(raw))
		if !ok {
			return Null(), fmt.Errorf("%w: %T is not an integer", ErrUnsupportedType, raw)
		}
		if td.Kind == KindInt32 {
			return scalarValue(ValueInt32, uint64(int64(int32(bits))), raw), nil
		}
		return scalarValue(ValueInt64, bits, raw), nil
	case KindFloat32, KindFloat64:
		rv := reflect.ValueOf(raw)
		if !rv.CanFloat() {
			return Null(), fmt.Errorf("%w: %T is not a float", ErrUnsupportedType, raw)
		}
		if td.Kind == KindFloat32 {
			return scalarValue(ValueFloat32, uint64(math.Float32bits(float32(rv.Float()))), raw), nil
		}
		return scalarValue(ValueFloat64, math.Float64bits(rv.Float()), raw), nil
	default:
		return Null(), fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, td.Name, td.Kind)
	}
}

func integerBits(rv reflect.Value) (uint64, bool) {
	switch {
	case rv.CanInt():
		return uint64(rv.Int()), true
	case rv.CanUint():
		return rv.Uint(), true
	case rv.Kind() == reflect.Bool:
		if rv.Bool() {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
