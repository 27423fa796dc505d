package lens

import (
	"errors"
	"fmt"
	"go/ast"
	"go/types"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

// IsGeneratedFile returns true if the filename follows known patterns for generated go files.
func IsGeneratedFile(filename string) bool {
	suffixes := []string{".pb.go", ".pb.gw.go", "_grpc.pb.go", "_mock.go", "_gen.go", ".gen.go"}
	for _, s := range suffixes {
		if strings.HasSuffix(filename, s) {
			return true
		}
	}
	return false
}

// ResolveCallers sets the Callers of each function to the identifiers of the project functions that
// call it directly, using a class hierarchy call graph of the packages under dir. Interface calls
// are attributed to every implementation.
func ResolveCallers(dir string, funcs []SourceFunction, patterns ...string) error {
	cg, err := loadProjectPackageCallGraph(dir, patterns)
	if err != nil {
		return err
	} else if cg == nil {
		return nil
	}

	nodesByIdent := make(map[string]*callgraph.Node, len(cg.Nodes))
	for fn, node := range cg.Nodes {
		if ident, ok := makeSSAFunctionIdent(fn); ok {
			nodesByIdent[ident] = node
		}
	}

	for i := range funcs {
		node := nodesByIdent[funcs[i].Descriptor.Ident()]
		if node == nil {
			continue
		}
		var callers []string
		for _, edge := range node.In {
			caller := edge.Caller.Func
			if caller == nil || caller == node.Func {
				continue
			}
			ident, ok := makeSSAFunctionIdent(caller)
			if !ok {
				continue
			} else if contained, err := fileWithinDir(filePathForSSAFunc(caller), dir); err != nil || !contained {
				continue
			} else if !slices.Contains(callers, ident) {
				callers = append(callers, ident)
			}
		}
		slices.Sort(callers)
		funcs[i].Callers = callers
	}
	return nil
}

func loadProjectPackageCallGraph(projectDir string, patterns []string) (*callgraph.Graph, error) {
	cfg := &packages.Config{
		Dir: projectDir,
		Mode: packages.NeedFiles | packages.NeedSyntax | packages.NeedName |
			packages.NeedImports | packages.NeedDeps | packages.NeedTypes | packages.NeedTypesInfo,
	}
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(pkgs) > 0 {
		return nil, errors.New("project packages contain errors")
	} else if len(pkgs) == 0 {
		return nil, nil
	}

	prog := ssa.NewProgram(pkgs[0].Fset, 0)

	created := make(map[*types.Package]*ssa.Package)
	// create an ssa.Package for pkg, plus all its imports
	var createAll func(*packages.Package)
	createAll = func(p *packages.Package) {
		if p.Types == nil || p.TypesInfo == nil {
			return // no type info, no SSA
		} else if _, ok := created[p.Types]; ok {
			return
		}
		created[p.Types] = prog.CreatePackage(p.Types, p.Syntax, p.TypesInfo, false)
		for _, imp := range p.Imports {
			createAll(imp)
		}
	}
	for _, p := range pkgs {
		createAll(p)
	}
	prog.Build()

	return cha.CallGraph(prog), nil
}

// filePathForSSAFunc attempts to retrieve the file path of the function's position.
func filePathForSSAFunc(fn *ssa.Function) string {
	if fn == nil || fn.Pos() == 0 {
		return ""
	}
	return fn.Prog.Fset.Position(fn.Pos()).Filename
}

// makeSSAFunctionIdent creates the FunctionDescriptor.Ident form for a declared SSA function, closures
// and synthetic wrappers are not supported.
func makeSSAFunctionIdent(fn *ssa.Function) (string, bool) {
	if fn == nil || fn.Package() == nil || fn.Package().Pkg == nil {
		return "", false
	}
	funcDecl, ok := fn.Syntax().(*ast.FuncDecl)
	if !ok {
		return "", false
	}
	return MakeFunctionIdent(fn.Package().Pkg.Path(), funcDecl), true
}

// MakeFunctionIdent creates a normalized key with package and receiver type.
func MakeFunctionIdent(pkgName string, funcDecl *ast.FuncDecl) string {
	var recv string
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		// types.ExprString will render "*MyType", "pkg.Type", "[][]T", etc
		recv = types.ExprString(funcDecl.Recv.List[0].Type)
	}
	return makeFunctionIdentStr(pkgName, recv, funcDecl.Name.Name)
}

// fileWithinDir returns true if the provided filePath is within the given directory.
func fileWithinDir(filePath, dirPath string) (bool, error) {
	if filePath == "" {
		return false, nil
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return false, err
	}
	absDir, err := filepath.Abs(dirPath)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(filepath.Clean(absDir), filepath.Clean(absFile))
	if err != nil {
		return false, fmt.Errorf("relative path failed: %w", err)
	}
	// outside the directory when rel escapes with ".."
	return rel != ".." && !strings.HasPrefix(filepath.ToSlash(rel), "../"), nil
}
