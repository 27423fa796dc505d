package lens

import (
	"reflect"
)

// TypeKind classifies a type by how its values are captured and defaulted.
type TypeKind uint8

const (
	// KindInvalid is the zero kind, never produced by resolution.
	KindInvalid TypeKind = iota
	// KindReference covers pointer-like types whose default is nil.
	KindReference
	// KindValueAggregate covers structs and arrays, copied by value and zeroed field by field.
	KindValueAggregate
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
)

func (k TypeKind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindValueAggregate:
		return "aggregate"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	default:
		return "invalid"
	}
}

// Direction describes how a parameter value flows across the call.
type Direction uint8

const (
	DirIn Direction = iota
	DirOut
	DirInOut
)

func (d Direction) String() string {
	switch d {
	case DirOut:
		return "out"
	case DirInOut:
		return "inout"
	default:
		return "in"
	}
}

// TypeDescriptor identifies a data type and its capture kind.
type TypeDescriptor struct {
	// Name is the display name of the type.
	Name string `json:"name"`
	// Kind determines capture and default behavior.
	Kind TypeKind `json:"kind"`
	// ByRef marks a by-reference slot (output parameter), the value type is held in Elem.
	ByRef bool `json:"byRef,omitempty"`
	// Elem is the pointee descriptor when ByRef is set, or the element descriptor of an array.
	Elem *TypeDescriptor `json:"elem,omitempty"`
	// ArrayLen is the element count of an array, described once through Elem.
	ArrayLen int `json:"arrayLen,omitempty"`
	// Fields lists struct members in declaration order.
	Fields []FieldDescriptor `json:"fields,omitempty"`
	// GoType is the reflected type when resolved at runtime, nil for source resolved descriptors.
	GoType reflect.Type `json:"-"`
}

// FieldDescriptor is a single member of an aggregate.
type FieldDescriptor struct {
	Name string         `json:"name"`
	Type TypeDescriptor `json:"type"`
}

// IsArray reports whether td describes a fixed length array.
func (td TypeDescriptor) IsArray() bool {
	return !td.ByRef && td.Elem != nil && td.Kind == KindValueAggregate
}

// Deref returns the pointee descriptor for by-reference slots, otherwise the descriptor itself.
func (td TypeDescriptor) Deref() TypeDescriptor {
	if td.ByRef && td.Elem != nil {
		return *td.Elem
	}
	return td
}

// ParameterDescriptor describes a single declared parameter, the receiver is never included.
type ParameterDescriptor struct {
	// Index is the 0-based position.
	Index int `json:"index"`
	// Name is the declared name, may be empty.
	Name string `json:"name,omitempty"`
	// Type is the parameter type, ByRef for out and inout parameters.
	Type TypeDescriptor `json:"type"`
	// Direction is the data flow direction.
	Direction Direction `json:"direction"`
}

// FunctionDescriptor is the resolved, immutable shape of an intercepted function.
type FunctionDescriptor struct {
	// Scope is the package path.
	Scope string `json:"scope"`
	// Receiver is the receiver type expression for methods (for example "*TestMethods2").
	Receiver string `json:"receiver,omitempty"`
	// Name is the short function name.
	Name string `json:"name"`
	// Static is false for methods invoked on a receiver.
	Static bool `json:"static"`
	// Parameters in declaration order.
	Parameters []ParameterDescriptor `json:"parameters"`
	// Results in declaration order.
	Results []TypeDescriptor `json:"results,omitempty"`
	// Variadic reports whether the final parameter is variadic.
	Variadic bool `json:"variadic,omitempty"`
}

// Ident returns the fully qualified identifier.
func (fd *FunctionDescriptor) Ident() string {
	return makeFunctionIdentStr(fd.Scope, fd.Receiver, fd.Name)
}

// ShortIdent returns the identifier without the package path.
func (fd *FunctionDescriptor) ShortIdent() string {
	return shortIdent(fd.Ident())
}

// Return provides the first declared result. Functions without results report a reference
// descriptor so a skipped call has nothing meaningful to produce.
func (fd *FunctionDescriptor) Return() TypeDescriptor {
	if len(fd.Results) == 0 {
		return TypeDescriptor{Name: "void", Kind: KindReference}
	}
	return fd.Results[0]
}

func makeFunctionIdentStr(pkg, receiverType, funcName string) string {
	if receiverType != "" {
		return pkg + ":" + receiverType + "." + funcName
	} else {
		return pkg + ":" + funcName
	}
}
