package lens

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/ast/astutil"
)

const (
	// LensModulePath is the module required by projects with injected gates.
	LensModulePath = "github.com/PatchLens/go-call-lens"
	// LensImportPath is the import path injected gates reference.
	LensImportPath = LensModulePath + "/lens"

	lensImportName      = "lens"
	gateVarPrefix       = "lensGate_"
	syntheticArgPrefix  = "lensArg"
	syntheticRecvName   = "lensRecv"
	literalNil          = "nil"
	backupFileSuffix    = ".bkp"
	gateEnterFuncName   = "GateEnter"
	resolveGateFuncName = "MustResolveFunction"
	gateDescriptorType  = "FunctionDescriptor"
)

var astFileLock = newDefaultStripedMutex()

// GateInjector rewrites Go source so that selected functions consult the process wide gate hook
// (see SetGateHook) before their body runs. Edits are held in memory until Commit, and Restore puts
// the original files back.
type GateInjector struct {
	cleanupLock    sync.Mutex
	cleanupActions []func() error
	fileNodeMap    sync.Map
	commitLock     sync.Mutex
	commitActions  map[string]func(*bytes.Buffer) error
}

// Restore restores the modified files to their original state.
func (m *GateInjector) Restore() (result []error) {
	m.cleanupLock.Lock()
	defer m.cleanupLock.Unlock()
	for _, f := range m.cleanupActions {
		if err := f(); err != nil {
			result = append(result, err)
		}
	}
	m.cleanupActions = m.cleanupActions[:0] // clear completed actions
	return
}

func (m *GateInjector) addCleanupAction(f func() error) {
	m.cleanupLock.Lock()
	defer m.cleanupLock.Unlock()
	m.cleanupActions = append(m.cleanupActions, f)
}

type parsedFile struct {
	fset *token.FileSet
	file *ast.File
}

// loadParsedFileNode provides the currently parsed file.
// fileLock must be held before invoking, and until fileNode changes are done.
func (m *GateInjector) loadParsedFileNode(filepath string) (*token.FileSet, *ast.File, error) {
	file, ok := m.fileNodeMap.Load(filepath)
	if ok {
		pf := file.(*parsedFile)
		return pf.fset, pf.file, nil
	}

	fset := token.NewFileSet()
	fileNode, err := parser.ParseFile(fset, filepath, nil, parser.ParseComments)
	if err != nil {
		return nil, nil, fmt.Errorf("ast parse failure %s: %w", filepath, err)
	}
	m.fileNodeMap.Store(filepath, &parsedFile{
		fset: fset,
		file: fileNode,
	})

	m.commitLock.Lock()
	defer m.commitLock.Unlock()
	if m.commitActions == nil {
		m.commitActions = make(map[string]func(*bytes.Buffer) error)
	}
	m.commitActions[filepath] = func(buf *bytes.Buffer) error {
		buf.Reset()
		if err := format.Node(buf, fset, fileNode); err != nil {
			return fmt.Errorf("ast format failure %s: %w", filepath, err)
		} else if err := m.backupOrigFile(filepath); err != nil {
			return err
		} else if err := os.WriteFile(filepath, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("ast write failure %s: %w", filepath, err)
		}
		return nil
	}
	return fset, fileNode, nil
}

// CommitFile writes pending edits for a single file.
func (m *GateInjector) CommitFile(filepath string) error {
	lock := astFileLock.Lock(filepath)
	defer lock.Unlock()

	m.commitLock.Lock()
	defer m.commitLock.Unlock()
	if action, ok := m.commitActions[filepath]; ok {
		delete(m.commitActions, filepath)
		m.fileNodeMap.Delete(filepath)
		var buf bytes.Buffer
		return action(&buf)
	}
	return nil
}

// Commit flushes all pending edits to disk.
func (m *GateInjector) Commit() error {
	writeCount := runtime.NumCPU()
	bufChan := make(chan *bytes.Buffer, writeCount)
	for i := 0; i < writeCount; i++ {
		bufChan <- bytes.NewBuffer(nil)
	}
	var errGroup errgroup.Group
	m.commitLock.Lock()
	defer m.commitLock.Unlock()
	for _, action := range m.commitActions {
		buf := <-bufChan
		errGroup.Go(func() error {
			defer func() {
				bufChan <- buf
			}()
			return action(buf)
		})
	}
	if err := errGroup.Wait(); err != nil {
		return err
	}
	m.commitActions = nil // set to nil to allow GC
	m.fileNodeMap.Clear()
	return nil
}

func (m *GateInjector) backupOrigFile(filepath string) error {
	bkpFile := filepath + backupFileSuffix
	if !FileExists(bkpFile) {
		if err := CopyFile(filepath, bkpFile); err != nil {
			return fmt.Errorf("ast backup failure: %w", err)
		}
		m.addCleanupAction(func() error {
			return replaceFile(bkpFile, filepath)
		})
	}
	return nil
}

// InjectGate prepends a gate to the function described by sf:
//
//	if !lens.GateEnter(lensGate_T_Name, recv, a, b) {
//		*out = 0 // each output parameter
//		return <zero values>
//	}
//
// The descriptor variable is resolved in an init function of the same file. Injecting an already gated
// function is a no-op.
func (m *GateInjector) InjectGate(sf SourceFunction) error {
	fd := sf.Descriptor
	lock := astFileLock.Lock(sf.FilePath)
	defer lock.Unlock()

	fset, fileNode, err := m.loadParsedFileNode(sf.FilePath)
	if err != nil {
		return err
	}
	target := findFuncDecl(fileNode, fd.Receiver, fd.Name)
	if target == nil {
		return fmt.Errorf("function %s not found in %s", fd.Ident(), sf.FilePath)
	} else if target.Body == nil {
		return fmt.Errorf("%w: %s in %s", ErrNoFunctionBody, fd.Ident(), sf.FilePath)
	} else if isGenericFuncDecl(target) {
		return fmt.Errorf("%w: generic function %s can not be gated", ErrUnsupportedType, fd.Ident())
	} else if len(target.Body.List) > 0 && isGateStmt(target.Body.List[0]) {
		return nil // already injected
	}

	recvExpr, params, renameParams := nameFuncParams(target)
	if len(params) != len(fd.Parameters) {
		return fmt.Errorf("%w: %s declares %d parameters, descriptor has %d",
			ErrArgumentCountMismatch, fd.Ident(), len(params), len(fd.Parameters))
	}

	var buf bytes.Buffer
	gateVar := gateVarName(fd)
	gateBody, err := buildGateSkipBody(&buf, target, fd, params)
	if err != nil {
		return fmt.Errorf("%s: %w", fd.Ident(), err)
	}
	renameParams()
	gateArgs := []ast.Expr{ast.NewIdent(gateVar), recvExpr}
	for _, p := range params {
		gateArgs = append(gateArgs, ast.NewIdent(p.name.Name))
	}
	gate := &ast.IfStmt{
		Cond: &ast.UnaryExpr{Op: token.NOT, X: &ast.CallExpr{
			Fun:  lensSelector(gateEnterFuncName),
			Args: gateArgs,
		}},
		Body: &ast.BlockStmt{List: gateBody},
	}
	target.Body.List = append([]ast.Stmt{gate}, target.Body.List...)

	fileNode.Decls = append(fileNode.Decls, buildGateDecls(gateVar, fd, params, fileNode.Name.Name == "main")...)
	astutil.AddNamedImport(fset, fileNode, lensImportName, LensImportPath)
	return nil
}

func findFuncDecl(f *ast.File, receiver, name string) *ast.FuncDecl {
	for _, decl := range f.Decls {
		d, ok := decl.(*ast.FuncDecl)
		if !ok || d.Name.Name != name {
			continue
		}
		var recv string
		if d.Recv != nil && len(d.Recv.List) > 0 {
			recv = exprString(d.Recv.List[0].Type)
		}
		if recv == receiver {
			return d
		}
	}
	return nil
}

func exprString(e ast.Expr) string {
	var buf bytes.Buffer
	_ = format.Node(&buf, token.NewFileSet(), e)
	return buf.String()
}

func isGenericFuncDecl(d *ast.FuncDecl) bool {
	if d.Type.TypeParams != nil && len(d.Type.TypeParams.List) > 0 {
		return true
	} else if d.Recv == nil || len(d.Recv.List) == 0 {
		return false
	}
	recv := d.Recv.List[0].Type
	if star, ok := recv.(*ast.StarExpr); ok {
		recv = star.X
	}
	switch recv.(type) {
	case *ast.IndexExpr, *ast.IndexListExpr:
		return true
	}
	return false
}

func isGateStmt(stmt ast.Stmt) bool {
	ifStmt, ok := stmt.(*ast.IfStmt)
	if !ok {
		return false
	}
	not, ok := ifStmt.Cond.(*ast.UnaryExpr)
	if !ok || not.Op != token.NOT {
		return false
	}
	call, ok := not.X.(*ast.CallExpr)
	if !ok {
		return false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	return ok && sel.Sel.Name == gateEnterFuncName && len(call.Args) > 0 &&
		strings.HasPrefix(exprString(call.Args[0]), gateVarPrefix)
}

type gateParam struct {
	name *ast.Ident
	typ  ast.Expr
}

// nameFuncParams picks synthetic names for unnamed or blank parameters and receivers so the gate can
// reference them. It returns the receiver expression (nil literal for functions), the flattened params and
// a rename func that writes the picked names into the declaration. The declaration is untouched until
// rename is called.
func nameFuncParams(d *ast.FuncDecl) (ast.Expr, []gateParam, func()) {
	var renames []func()
	recvExpr := ast.Expr(ast.NewIdent(literalNil))
	if d.Recv != nil && len(d.Recv.List) > 0 {
		field := d.Recv.List[0]
		if len(field.Names) == 0 || field.Names[0].Name == "_" {
			renames = append(renames, func() {
				if len(field.Names) == 0 {
					field.Names = []*ast.Ident{ast.NewIdent(syntheticRecvName)}
				} else {
					field.Names[0] = ast.NewIdent(syntheticRecvName)
				}
			})
			recvExpr = ast.NewIdent(syntheticRecvName)
		} else {
			recvExpr = ast.NewIdent(field.Names[0].Name)
		}
	}

	var params []gateParam
	if d.Type.Params != nil {
		for _, field := range d.Type.Params.List {
			if len(field.Names) == 0 {
				name := ast.NewIdent(syntheticArgPrefix + strconv.Itoa(len(params)))
				renames = append(renames, func() { field.Names = []*ast.Ident{name} })
				params = append(params, gateParam{name: name, typ: field.Type})
				continue
			}
			for i, n := range field.Names {
				if n.Name == "_" {
					n = ast.NewIdent(syntheticArgPrefix + strconv.Itoa(len(params)))
					renames = append(renames, func() { field.Names[i] = n })
				}
				params = append(params, gateParam{name: n, typ: field.Type})
			}
		}
	}
	return recvExpr, params, func() {
		for _, r := range renames {
			r()
		}
	}
}

// buildGateSkipBody produces the statements run when the hook vetoes: output pointees are reset and the
// function returns zero values (a bare return for named results, which are still zero at entry).
func buildGateSkipBody(buf *bytes.Buffer, d *ast.FuncDecl, fd *FunctionDescriptor, params []gateParam) ([]ast.Stmt, error) {
	var stmts []ast.Stmt
	for i, p := range fd.Parameters {
		if p.Direction != DirOut {
			continue
		}
		star, ok := params[i].typ.(*ast.StarExpr)
		if !ok {
			return nil, fmt.Errorf("%w: out parameter %s is not a pointer", ErrUnsupportedType, params[i].name.Name)
		}
		zero, err := zeroValueExpr(buf, star.X)
		if err != nil {
			return nil, err
		}
		// if p != nil { *p = zero }
		stmts = append(stmts, &ast.IfStmt{
			Cond: &ast.BinaryExpr{X: ast.NewIdent(params[i].name.Name), Op: token.NEQ, Y: ast.NewIdent(literalNil)},
			Body: &ast.BlockStmt{List: []ast.Stmt{&ast.AssignStmt{
				Lhs: []ast.Expr{&ast.StarExpr{X: ast.NewIdent(params[i].name.Name)}},
				Tok: token.ASSIGN,
				Rhs: []ast.Expr{zero},
			}}},
		})
	}

	ret := &ast.ReturnStmt{}
	if results := d.Type.Results; results != nil && len(results.List) > 0 && len(results.List[0].Names) == 0 {
		for _, field := range results.List {
			zero, err := zeroValueExpr(buf, field.Type)
			if err != nil {
				return nil, err
			}
			ret.Results = append(ret.Results, zero)
		}
	}
	return append(stmts, ret), nil
}

func gateVarName(fd *FunctionDescriptor) string {
	recv := strings.TrimPrefix(fd.Receiver, "*")
	if recv == "" {
		return gateVarPrefix + fd.Name
	}
	return gateVarPrefix + recv + "_" + fd.Name
}

func lensSelector(name string) *ast.SelectorExpr {
	return &ast.SelectorExpr{X: ast.NewIdent(lensImportName), Sel: ast.NewIdent(name)}
}

// buildGateDecls declares the descriptor variable and resolves it from an init function. A package level
// initializer would reference the function whose body reads the variable, an initialization cycle.
// Runtime symbols of main packages are named "main", so their scope is pinned to the import path.
func buildGateDecls(gateVar string, fd *FunctionDescriptor, params []gateParam, mainPkg bool) []ast.Decl {
	varDecl := &ast.GenDecl{Tok: token.VAR, Specs: []ast.Spec{&ast.ValueSpec{
		Names: []*ast.Ident{ast.NewIdent(gateVar)},
		Type:  &ast.StarExpr{X: lensSelector(gateDescriptorType)},
	}}}

	var fnExpr ast.Expr = ast.NewIdent(fd.Name)
	if fd.Receiver != "" {
		var recvType ast.Expr = ast.NewIdent(strings.TrimPrefix(fd.Receiver, "*"))
		if strings.HasPrefix(fd.Receiver, "*") {
			recvType = &ast.ParenExpr{X: &ast.StarExpr{X: recvType}}
		}
		fnExpr = &ast.SelectorExpr{X: recvType, Sel: ast.NewIdent(fd.Name)}
	}

	resolveArgs := []ast.Expr{fnExpr}
	if !fd.Static {
		resolveArgs = append(resolveArgs, &ast.CallExpr{Fun: lensSelector("Method")})
	}
	var outIdx, inoutIdx, names []ast.Expr
	for i, p := range fd.Parameters {
		names = append(names, &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(params[i].name.Name)})
		switch p.Direction {
		case DirOut:
			outIdx = append(outIdx, &ast.BasicLit{Kind: token.INT, Value: strconv.Itoa(i)})
		case DirInOut:
			inoutIdx = append(inoutIdx, &ast.BasicLit{Kind: token.INT, Value: strconv.Itoa(i)})
		}
	}
	if len(outIdx) > 0 {
		resolveArgs = append(resolveArgs, &ast.CallExpr{Fun: lensSelector("OutParams"), Args: outIdx})
	}
	if len(inoutIdx) > 0 {
		resolveArgs = append(resolveArgs, &ast.CallExpr{Fun: lensSelector("InOutParams"), Args: inoutIdx})
	}
	if len(names) > 0 {
		resolveArgs = append(resolveArgs, &ast.CallExpr{Fun: lensSelector("ParamNames"), Args: names})
	}
	if mainPkg && fd.Scope != "" {
		resolveArgs = append(resolveArgs, &ast.CallExpr{Fun: lensSelector("Named"), Args: []ast.Expr{
			&ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(fd.Scope)},
			&ast.BasicLit{Kind: token.STRING, Value: `""`},
		}})
	}

	initDecl := &ast.FuncDecl{
		Name: ast.NewIdent("init"),
		Type: &ast.FuncType{Params: &ast.FieldList{}},
		Body: &ast.BlockStmt{List: []ast.Stmt{&ast.AssignStmt{
			Lhs: []ast.Expr{ast.NewIdent(gateVar)},
			Tok: token.ASSIGN,
			Rhs: []ast.Expr{&ast.CallExpr{Fun: lensSelector(resolveGateFuncName), Args: resolveArgs}},
		}}},
	}
	return []ast.Decl{varDecl, initDecl}
}

// zeroValueExpr builds the zero value expression for a declared type.
func zeroValueExpr(buf *bytes.Buffer, typ ast.Expr) (ast.Expr, error) {
	switch t := typ.(type) {
	case *ast.Ident:
		switch t.Name {
		case "int", "int8", "int16", "int32", "int64",
			"uint", "uint8", "uint16", "uint32", "uint64", "uintptr",
			"float32", "float64", "complex64", "complex128", "byte", "rune":
			return &ast.BasicLit{Kind: token.INT, Value: "0"}, nil
		case "bool":
			return ast.NewIdent("false"), nil
		case "string":
			return &ast.BasicLit{Kind: token.STRING, Value: `""`}, nil
		case "error", "any":
			return ast.NewIdent(literalNil), nil
		}
	case *ast.StarExpr, *ast.MapType, *ast.ChanType, *ast.FuncType, *ast.InterfaceType:
		return ast.NewIdent(literalNil), nil
	case *ast.ArrayType:
		if t.Len == nil { // slice
			return ast.NewIdent(literalNil), nil
		}
	case *ast.Ellipsis:
		return nil, errors.New("variadic type has no zero value expression")
	}

	// named, qualified, generic instance, array or struct types: *new(T) is valid for all of them
	clonedType, err := cloneExprNoPos(buf, typ)
	if err != nil {
		return nil, err
	}
	return &ast.StarExpr{X: &ast.CallExpr{
		Fun:  ast.NewIdent("new"),
		Args: []ast.Expr{clonedType},
	}}, nil
}

// cloneExprNoPos is a helper to clone an AST, dropping positions.
func cloneExprNoPos(buf *bytes.Buffer, e ast.Node) (ast.Expr, error) {
	buf.Reset()
	err := format.Node(buf, token.NewFileSet(), e)
	if err != nil {
		return nil, err
	}
	return parser.ParseExprFrom(token.NewFileSet(), "", buf.Bytes(), 0)
}
