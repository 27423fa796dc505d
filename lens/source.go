package lens

import (
	"errors"
	"fmt"
	"go/ast"
	"go/types"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
)

const (
	outDirective   = "//lens:out"
	inoutDirective = "//lens:inout"
	skipDirective  = "//lens:skip"
)

// SourceFunction is a function descriptor resolved from source along with its declaration location.
type SourceFunction struct {
	Descriptor *FunctionDescriptor `json:"descriptor"`
	FilePath   string              `json:"file"`
	Line       int                 `json:"line"`
	// Callers is populated by ResolveCallers.
	Callers []string `json:"callers,omitempty"`
}

// ResolveSourceFunctions loads the packages matching patterns (default "./...") under dir and describes
// every declared function and method. Parameter directions come from doc directives:
//
//	//lens:out s
//	//lens:inout a,b
//
// Functions marked with //lens:skip and package init functions are left out.
func ResolveSourceFunctions(dir string, patterns ...string) ([]SourceFunction, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	cfg := &packages.Config{
		Dir:  dir,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(pkgs) > 0 {
		return nil, errors.New("packages contain errors")
	}

	results := make([][]SourceFunction, len(pkgs))
	eg := ErrGroupLimitCPU()
	for i, pkg := range pkgs {
		eg.Go(func() (err error) {
			results[i], err = resolvePackageFunctions(pkg)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := slices.Concat(results...)
	slices.SortFunc(out, func(a, b SourceFunction) int {
		return strings.Compare(a.Descriptor.Ident(), b.Descriptor.Ident())
	})
	return out, nil
}

func resolvePackageFunctions(pkg *packages.Package) ([]SourceFunction, error) {
	var out []SourceFunction
	for _, file := range pkg.Syntax {
		if IsGeneratedFile(pkg.Fset.Position(file.Pos()).Filename) {
			continue
		}
		for _, decl := range file.Decls {
			funcDecl, ok := decl.(*ast.FuncDecl)
			if !ok || funcDecl.Name.Name == "_" || hasLensDirective(funcDecl, skipDirective) {
				continue
			} else if funcDecl.Recv == nil && funcDecl.Name.Name == "init" {
				continue
			}
			fn, ok := pkg.TypesInfo.Defs[funcDecl.Name].(*types.Func)
			if !ok {
				continue
			}
			fd, err := describeFuncDecl(pkg.PkgPath, funcDecl, fn.Type().(*types.Signature))
			if err != nil {
				return nil, err
			}
			pos := pkg.Fset.Position(funcDecl.Pos())
			out = append(out, SourceFunction{Descriptor: fd, FilePath: pos.Filename, Line: pos.Line})
		}
	}
	return out, nil
}

func describeFuncDecl(pkgPath string, funcDecl *ast.FuncDecl, sig *types.Signature) (*FunctionDescriptor, error) {
	fd := &FunctionDescriptor{
		Scope:    pkgPath,
		Name:     funcDecl.Name.Name,
		Static:   true,
		Variadic: sig.Variadic(),
	}
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		// types.ExprString renders "*MyType", "T[K]", etc
		fd.Receiver = types.ExprString(funcDecl.Recv.List[0].Type)
		fd.Static = false
	}

	directions := directiveDirections(funcDecl)
	params := sig.Params()
	for name := range directions {
		if !signatureHasParam(params, name) {
			return nil, fmt.Errorf("%w: directive on %s names %q", ErrUnknownParameter, fd.Ident(), name)
		}
	}
	fd.Parameters = make([]ParameterDescriptor, params.Len())
	for i := range fd.Parameters {
		v := params.At(i)
		p := ParameterDescriptor{Index: i, Name: v.Name(), Direction: directions[v.Name()]}
		if p.Direction == DirIn {
			p.Type = describeGoType(v.Type())
		} else if ptr, ok := v.Type().Underlying().(*types.Pointer); ok {
			elem := describeGoType(ptr.Elem())
			p.Type = TypeDescriptor{Name: v.Type().String(), Kind: KindReference, ByRef: true, Elem: &elem}
		} else {
			return nil, fmt.Errorf("%w: %s parameter %s of %s must be a pointer",
				ErrUnsupportedType, p.Direction, v.Name(), fd.Ident())
		}
		fd.Parameters[i] = p
	}
	results := sig.Results()
	fd.Results = make([]TypeDescriptor, results.Len())
	for i := range fd.Results {
		fd.Results[i] = describeGoType(results.At(i).Type())
	}
	return fd, nil
}

func hasLensDirective(funcDecl *ast.FuncDecl, directive string) bool {
	if funcDecl.Doc == nil {
		return false
	}
	for _, c := range funcDecl.Doc.List {
		if _, ok := directiveArgs(c.Text, directive); ok {
			return true
		}
	}
	return false
}

// directiveArgs reports whether comment is the directive, either bare or followed by a space or tab, and
// returns the text after it.
func directiveArgs(comment, directive string) (string, bool) {
	rest, ok := strings.CutPrefix(comment, directive)
	if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
		return "", false
	}
	return rest, true
}

func signatureHasParam(params *types.Tuple, name string) bool {
	for i := 0; i < params.Len(); i++ {
		if params.At(i).Name() == name {
			return true
		}
	}
	return false
}

// directiveDirections maps parameter names listed in out / inout directives to their direction.
func directiveDirections(funcDecl *ast.FuncDecl) map[string]Direction {
	dirs := make(map[string]Direction)
	if funcDecl.Doc == nil {
		return dirs
	}
	for _, c := range funcDecl.Doc.List {
		var dir Direction
		rest, ok := directiveArgs(c.Text, outDirective)
		if ok {
			dir = DirOut
		} else if rest, ok = directiveArgs(c.Text, inoutDirective); ok {
			dir = DirInOut
		} else {
			continue
		}
		for _, name := range strings.Split(rest, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dirs[name] = dir
			}
		}
	}
	return dirs
}

// describeGoType maps a go/types type onto the same kind table as ResolveType.
func describeGoType(t types.Type) TypeDescriptor {
	td := TypeDescriptor{Name: t.String()}
	if _, ok := t.(*types.TypeParam); ok {
		return td // generic parameters have no fixed kind, left invalid so defaults fail explicitly
	}
	switch u := t.Underlying().(type) {
	case *types.Basic:
		td.Kind = basicKind(u)
	case *types.Struct:
		td.Kind = KindValueAggregate
		td.Fields = make([]FieldDescriptor, u.NumFields())
		for i := range td.Fields {
			f := u.Field(i)
			td.Fields[i] = FieldDescriptor{Name: f.Name(), Type: describeGoType(f.Type())}
		}
	case *types.Array:
		td.Kind = KindValueAggregate
		elem := describeGoType(u.Elem())
		td.Elem, td.ArrayLen = &elem, int(u.Len())
	case *types.Pointer, *types.Slice, *types.Map, *types.Chan, *types.Signature, *types.Interface:
		td.Kind = KindReference
	}
	return td
}

func basicKind(b *types.Basic) TypeKind {
	switch b.Kind() {
	case types.Bool, types.Int8, types.Int16, types.Int32, types.Uint8, types.Uint16,
		types.UntypedBool, types.UntypedRune:
		return KindInt32
	case types.Int, types.Int64, types.Uint, types.Uint32, types.Uint64, types.Uintptr, types.UntypedInt:
		return KindInt64
	case types.Float32:
		return KindFloat32
	case types.Float64, types.UntypedFloat:
		return KindFloat64
	case types.Complex64, types.Complex128, types.UntypedComplex:
		return KindValueAggregate
	case types.String, types.UnsafePointer, types.UntypedString, types.UntypedNil:
		return KindReference
	default:
		return KindInvalid
	}
}
