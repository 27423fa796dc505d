package lens

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"
)

// ResolveOption adjusts how a Go function value is described.
type ResolveOption func(*resolveConfig)

type resolveConfig struct {
	method     bool
	out, inout []int
	names      []string
	scope      string
	name       string
}

// Method marks the first parameter of the function as the receiver, used with method expressions such
// as (*T).Method.
func Method() ResolveOption {
	return func(c *resolveConfig) { c.method = true }
}

// OutParams marks output-only parameters by index (receiver excluded). Each must be a pointer.
func OutParams(idx ...int) ResolveOption {
	return func(c *resolveConfig) { c.out = append(c.out, idx...) }
}

// InOutParams marks by-reference parameters that are both read and written. Each must be a pointer.
func InOutParams(idx ...int) ResolveOption {
	return func(c *resolveConfig) { c.inout = append(c.inout, idx...) }
}

// ParamNames sets display names for the parameters in order.
func ParamNames(names ...string) ResolveOption {
	return func(c *resolveConfig) { c.names = names }
}

// Named overrides the identity derived from the runtime symbol, useful for closures. Empty values keep
// the derived part.
func Named(scope, name string) ResolveOption {
	return func(c *resolveConfig) {
		c.scope = scope
		c.name = name
	}
}

// key provides a stable fingerprint used to cache descriptors per option set.
func (c *resolveConfig) key() string {
	var sb strings.Builder
	if c.method {
		sb.WriteString("m")
	}
	writeInts := func(prefix string, vals []int) {
		sorted := slices.Clone(vals)
		slices.Sort(sorted)
		sb.WriteString(prefix)
		for _, v := range sorted {
			sb.WriteString(strconv.Itoa(v))
			sb.WriteByte(',')
		}
	}
	writeInts("|o", c.out)
	writeInts("|io", c.inout)
	sb.WriteString("|n" + strings.Join(c.names, ","))
	sb.WriteString("|s" + c.scope + "." + c.name)
	return sb.String()
}

// ResolveType describes a Go type.
func ResolveType(t reflect.Type) TypeDescriptor {
	td := TypeDescriptor{Name: t.String(), Kind: kindOf(t), GoType: t}
	switch t.Kind() {
	case reflect.Array:
		elem := ResolveType(t.Elem())
		td.Elem, td.ArrayLen = &elem, t.Len()
	case reflect.Struct:
		td.Fields = make([]FieldDescriptor, t.NumField())
		for i := range td.Fields {
			sf := t.Field(i)
			// structs can't contain themselves by value, references are not descended
			td.Fields[i] = FieldDescriptor{Name: sf.Name, Type: ResolveType(sf.Type)}
		}
	}
	return td
}

func kindOf(t reflect.Type) TypeKind {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return KindInt32
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return KindInt64
	case reflect.Float32:
		return KindFloat32
	case reflect.Float64:
		return KindFloat64
	case reflect.Struct, reflect.Array, reflect.Complex64, reflect.Complex128:
		return KindValueAggregate
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.String, reflect.UnsafePointer:
		return KindReference
	default:
		return KindInvalid
	}
}

// byRefType describes a pointer parameter used as an output slot.
func byRefType(t reflect.Type) TypeDescriptor {
	elem := ResolveType(t.Elem())
	return TypeDescriptor{Name: t.String(), Kind: KindReference, ByRef: true, Elem: &elem, GoType: t}
}

// ResolveFunction describes the Go function value fn. The result is not cached, see DescriptorCache.
func ResolveFunction(fn any, opts ...ResolveOption) (*FunctionDescriptor, error) {
	var cfg resolveConfig
	for _, o := range opts {
		o(&cfg)
	}
	return resolveFunction(fn, &cfg)
}

func resolveFunction(fn any, cfg *resolveConfig) (*FunctionDescriptor, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %T is not a function", ErrUnsupportedType, fn)
	} else if rv.IsNil() {
		return nil, errors.New("nil function")
	}
	ft := rv.Type()

	fd := &FunctionDescriptor{Static: !cfg.method, Variadic: ft.IsVariadic()}
	if rf := runtime.FuncForPC(rv.Pointer()); rf != nil {
		fd.Scope, fd.Receiver, fd.Name = splitSymbolName(rf.Name(), cfg.method)
	}
	if cfg.scope != "" {
		fd.Scope = cfg.scope
	}
	if cfg.name != "" {
		fd.Name = cfg.name
	}

	start := 0
	if cfg.method {
		if ft.NumIn() == 0 {
			return nil, fmt.Errorf("%w: method %s has no receiver parameter", ErrInvalidCallState, fd.Ident())
		}
		start = 1
		if fd.Receiver == "" {
			fd.Receiver = ft.In(0).String()
		}
	}

	paramCount := ft.NumIn() - start
	directions := make([]Direction, paramCount)
	for _, set := range []struct {
		idx []int
		dir Direction
	}{{cfg.out, DirOut}, {cfg.inout, DirInOut}} {
		for _, i := range set.idx {
			if i < 0 || i >= paramCount {
				return nil, fmt.Errorf("%s: %s parameter index %d out of range", fd.Ident(), set.dir, i)
			} else if ft.In(i+start).Kind() != reflect.Pointer {
				return nil, fmt.Errorf("%w: %s parameter %d of %s must be a pointer",
					ErrUnsupportedType, set.dir, i, fd.Ident())
			}
			directions[i] = set.dir
		}
	}

	fd.Parameters = make([]ParameterDescriptor, paramCount)
	for i := range fd.Parameters {
		t := ft.In(i + start)
		p := ParameterDescriptor{Index: i, Direction: directions[i]}
		if i < len(cfg.names) {
			p.Name = cfg.names[i]
		}
		if p.Direction == DirIn {
			p.Type = ResolveType(t)
		} else {
			p.Type = byRefType(t)
		}
		fd.Parameters[i] = p
	}
	fd.Results = make([]TypeDescriptor, ft.NumOut())
	for i := range fd.Results {
		fd.Results[i] = ResolveType(ft.Out(i))
	}
	return fd, nil
}

// splitSymbolName breaks a runtime symbol such as "example.com/pkg.(*T).Method" into its package path,
// receiver expression and function name.
func splitSymbolName(symbol string, method bool) (scope, receiver, name string) {
	symbol = strings.TrimSuffix(symbol, "-fm") // bound method value wrapper
	slash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[slash+1:], ".")
	if dot < 0 {
		return "", "", symbol
	}
	dot += slash + 1
	scope, rest := symbol[:dot], symbol[dot+1:]
	if !method {
		return scope, "", rest
	}
	last := strings.LastIndex(rest, ".")
	if last < 0 {
		return scope, "", rest
	}
	receiver = rest[:last]
	if strings.HasPrefix(receiver, "(") && strings.HasSuffix(receiver, ")") {
		receiver = receiver[1 : len(receiver)-1]
	}
	return scope, receiver, rest[last+1:]
}
