package lens

import (
	"errors"
	"fmt"
	"log"
	"reflect"
)

// Wrap returns a function with the same signature as fn which consults hook before every call. When
// the hook vetoes, the original is not invoked, results are synthesized defaults and each output
// parameter's pointee is reset to its default.
func Wrap[F any](fn F, hook Hook, opts ...ResolveOption) (F, error) {
	wrapped, err := Intercept(fn, hook, opts...)
	if err != nil {
		var zero F
		return zero, err
	}
	return wrapped.(F), nil
}

// Intercept is the untyped form of Wrap.
func Intercept(fn any, hook Hook, opts ...ResolveOption) (any, error) {
	fd, err := ResolveFunctionCached(fn, opts...)
	if err != nil {
		return nil, err
	}
	orig := reflect.ValueOf(fn)
	ft := orig.Type()

	// defaults never change, synthesize once so unsupported results fail here rather than mid call
	skipResults, err := synthesizeResultValues(fd, ft)
	if err != nil {
		return nil, err
	}
	outDefaults, err := synthesizeOutValues(fd)
	if err != nil {
		return nil, err
	}

	argStart := 0
	if !fd.Static {
		argStart = 1
	}
	return reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		var recv reflect.Value
		if !fd.Static {
			recv = in[0]
		}
		args := in[argStart:]
		snap, err := BuildSnapshotValues(fd, recv, args)
		if err != nil {
			panic(&GateError{Function: fd.Ident(), Err: err})
		}

		if hook.invoke(snap) {
			if ft.IsVariadic() {
				return orig.CallSlice(in)
			}
			return orig.Call(in)
		}

		if debugGate {
			log.Printf("gate skipped %s", fd.Ident())
		}
		for i, def := range outDefaults {
			if def.IsValid() && !args[i].IsNil() {
				args[i].Elem().Set(def)
			}
		}
		return skipResults
	}).Interface(), nil
}

func synthesizeResultValues(fd *FunctionDescriptor, ft reflect.Type) ([]reflect.Value, error) {
	defaults, err := SynthesizeResults(fd)
	if err != nil {
		return nil, err
	}
	out := make([]reflect.Value, len(defaults))
	for i, d := range defaults {
		if out[i], err = Materialize(d, ft.Out(i)); err != nil {
			return nil, fmt.Errorf("%s result %d: %w", fd.Ident(), i, err)
		}
	}
	return out, nil
}

// synthesizeOutValues returns a default per parameter, left invalid for parameters which are not outputs.
func synthesizeOutValues(fd *FunctionDescriptor) ([]reflect.Value, error) {
	out := make([]reflect.Value, len(fd.Parameters))
	var errs []error
	for i, p := range fd.Parameters {
		if p.Direction != DirOut {
			continue
		}
		elem := p.Type.Deref()
		if elem.GoType == nil {
			errs = append(errs, fmt.Errorf("%w: out parameter %d of %s has no Go type", ErrUnsupportedType, i, fd.Ident()))
			continue
		}
		def, err := SynthesizeDefault(elem)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out[i], err = Materialize(def, elem.GoType); err != nil {
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}
