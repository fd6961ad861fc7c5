package codegen

import (
	"errors"
	"fmt"

	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/emitter"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/util"
)

// InitRoutine names the routine that sets up static storage. The entry
// point calls it before anything else.
const InitRoutine = "__init"

// ErrCompiler is returned when code generation hit an internal fault.
var ErrCompiler = errors.New("compiler error")

type loopState struct {
	exit *ir.Label
}

type Context struct {
	cfg   *config.Config
	diag  *util.Diagnostics
	files []string
	stack *symbols.Stack
	prog  *ir.Program

	staticCount int
	initEm      *emitter.Emitter

	em         *emitter.Emitter
	routine    *symbols.Symbol
	retVal     *ir.Local
	loops      []loopState
	inlineArgs map[*symbols.Symbol]*ast.Node

	// RoutineStats records optimizer results per routine for verbose output.
	RoutineStats map[string]RoutineStats
}

type RoutineStats struct {
	Emitted   int
	Live      int
	Deleted   int
	Rewritten int
	// Temporaries counts scratch slots never released; nonzero is a leak.
	Temporaries int
}

func NewContext(cfg *config.Config, diag *util.Diagnostics) *Context {
	return &Context{cfg: cfg, diag: diag, RoutineStats: make(map[string]RoutineStats)}
}

// SetSourceFiles names the files tokens refer to, for source markers.
func (ctx *Context) SetSourceFiles(names []string) { ctx.files = names }

func (ctx *Context) fileName(tok token.Token) string {
	if tok.FileIndex >= 0 && tok.FileIndex < len(ctx.files) { return ctx.files[tok.FileIndex] }
	return ""
}

// GenerateProgram lowers a whole program. User errors are reported to the
// diagnostics sink and do not stop generation. An internal fault stops it
// and is returned as ErrCompiler, or re-raised when dev-diagnostics is on.
func (ctx *Context) GenerateProgram(root *ast.Node) (prog *ir.Program, err error) {
	defer func() {
		r := recover()
		if r == nil { return }
		if ctx.cfg.IsFeatureEnabled(config.FeatDevDiagnostics) { panic(r) }
		tok := root.Tok
		if ie, ok := r.(*util.InternalError); ok && ie.Tok.Line > 0 { tok = ie.Tok }
		ctx.diag.Error(tok, "Internal compiler error; rerun with -Fdev-diagnostics for details.")
		prog, err = nil, fmt.Errorf("%w: %v", ErrCompiler, r)
	}()

	util.Assert(root != nil && root.Type == ast.Program, "program root expected")
	d := root.Data.(ast.ProgramNode)
	ctx.prog = &ir.Program{Name: d.Name}
	ctx.stack = symbols.NewStack(d.Globals)
	ctx.initEm = emitter.New(InitRoutine, nil, ir.TypeNone)

	ctx.em = ctx.initEm
	ctx.generateSymbols(d.Globals, true)
	ctx.em = nil

	for _, unit := range d.Units {
		if unit == nil { continue }
		util.Assert(unit.Type == ast.Procedure, "unexpected top-level %s node", unit.Type)
		ctx.codegenProcedure(unit)
	}

	ctx.initEm.Return()
	ctx.finishRoutine(ctx.initEm)
	return ctx.prog, nil
}

func (ctx *Context) finishRoutine(em *emitter.Emitter) *ir.Routine {
	r := em.Finish()
	ctx.prog.Routines = append(ctx.prog.Routines, r)
	ctx.RoutineStats[r.Name] = RoutineStats{Emitted: em.Len(), Live: len(r.Live()), Deleted: em.Stats.Deleted, Rewritten: em.Stats.Rewritten,
		Temporaries: em.TemporariesInUse()}
	return r
}

func (ctx *Context) newStaticName(owner, name string) string {
	ctx.staticCount++
	return fmt.Sprintf("%s$%s$%d", owner, name, ctx.staticCount)
}

func (ctx *Context) methodRef(s *symbols.Symbol) *ir.MethodRef {
	params := make([]ir.Type, len(s.Parameters))
	for i, p := range s.Parameters {
		util.Assert(p != nil, "parameter %d of '%s' is nil", i, s.Name)
		ctx.applyArrayLayout(p)
		params[i] = symbols.ParameterType(p)
	}
	ret := ir.TypeNone
	if s.Class == symbols.ClassFunction || s.Class == symbols.ClassInline { ret = s.Type().MachineType() }
	return &ir.MethodRef{Name: s.Name, Params: params, Return: ret}
}

// generateSymbols assigns back-end storage to every symbol of a scope and
// emits the initialization that storage needs. Global and static storage
// is initialized by the init routine, locals at routine entry.
func (ctx *Context) generateSymbols(scope *symbols.Collection, global bool) {
	for _, s := range scope.Symbols() {
		if s.Handle != nil { continue }
		switch s.Class {
		case symbols.ClassLabel:
			if !global { s.SetHandle(&symbols.LabelHandle{Label: ctx.em.NewNamedLabel("L_" + s.Name)}) }
		case symbols.ClassCommon:
			ctx.generateCommon(s)
		case symbols.ClassFunction, symbols.ClassSubroutine, symbols.ClassProgram:
			if s.IsParameter() {
				ctx.diag.Error(s.Tok, "Procedure argument '%s' is not supported.", s.Name)
				continue
			}
			s.SetHandle(&symbols.MethodHandle{Method: ctx.methodRef(s)})
		case symbols.ClassVariable:
			if s.IsConstant() || s.IsParameter() || s.IsInCommon() { continue }
			ctx.applyArrayLayout(s)
			t := symbols.SystemTypeFor(s)
			if global || s.IsStatic() {
				name := s.Name
				if !global { name = ctx.newStaticName(ctx.routine.Name, s.Name) }
				f := ctx.prog.AddStatic(&ir.FieldRef{Owner: ctx.prog.Name, Name: name, Type: t})
				s.SetHandle(&symbols.StaticHandle{Field: f})
				ctx.withEmitter(ctx.initEm, func() { ctx.initializeStorage(s) })
			} else {
				s.SetHandle(&symbols.LocalHandle{Local: ctx.em.NewLocal(t, s.Name)})
				ctx.initializeStorage(s)
			}
		}
	}
}

func (ctx *Context) generateCommon(block *symbols.Symbol) {
	fields := make([]*ir.FieldRef, len(block.Members))
	for i, m := range block.Members {
		util.Assert(m != nil, "common block '%s' has a nil member %d", block.Name, i)
		ctx.applyArrayLayout(m)
		fields[i] = ctx.prog.AddStatic(&ir.FieldRef{Owner: block.Name, Name: fmt.Sprintf("%s_%d", block.Name, i), Type: symbols.SystemTypeFor(m)})
	}
	block.SetHandle(&symbols.CommonHandle{Fields: fields})
	ctx.withEmitter(ctx.initEm, func() {
		for _, m := range block.Members {
			ctx.initializeStorage(m)
		}
	})
}

func (ctx *Context) withEmitter(em *emitter.Emitter, fn func()) {
	saved := ctx.em
	ctx.em = em
	defer func() { ctx.em = saved }()
	fn()
}

// initializeStorage allocates arrays and fixed strings and stores any
// declared initial value.
func (ctx *Context) initializeStorage(s *symbols.Symbol) {
	if s.IsArray() {
		ctx.computeDimensionSizes(s)
		ctx.allocateArray(s)
		ctx.storeSymbol(s)
		return
	}
	if s.Type() == symbols.TypeFixedChar {
		ctx.em.LoadInteger(int32(s.FullType.Width))
		ctx.em.CreateObject(runtime.FixedStringNew)
		ctx.storeSymbol(s)
		if !s.Value.IsNone() {
			ctx.loadSymbol(s)
			ctx.em.LoadString(s.Value.AsString())
			ctx.em.Call(runtime.FixedStringSet)
		}
		return
	}
	if !s.Value.IsNone() {
		ctx.em.LoadValue(s.Value, s.Type().Kind())
		ctx.storeSymbol(s)
	}
}

// computeDimensionSizes caches the extent of each dynamic dimension in a
// local at routine entry, so later element accesses reuse it.
func (ctx *Context) computeDimensionSizes(s *symbols.Symbol) {
	for _, d := range s.Dimensions {
		if !d.IsDynamic() || d.SizeCache != nil { continue }
		if ctx.em == ctx.initEm {
			ctx.diag.Error(s.Tok, "Static array '%s' must have constant bounds.", s.Name)
			return
		}
		ctx.emitDimensionSize(d)
		d.SizeCache = ctx.em.NewLocal(ir.TypeInt32, "")
		ctx.em.StoreLocal(d.SizeCache)
	}
}

func (ctx *Context) codegenProcedure(node *ast.Node) {
	d := node.Data.(ast.ProcedureNode)
	sym := d.Symbol
	util.Assert(sym != nil, "procedure without a symbol")
	if sym.Handle == nil { sym.SetHandle(&symbols.MethodHandle{Method: ctx.methodRef(sym)}) }
	ref := sym.Method()

	params := make([]ir.Param, len(sym.Parameters))
	for i, p := range sym.Parameters {
		util.Assert(p != nil, "parameter %d of '%s' is nil", i, sym.Name)
		params[i] = ir.Param{Name: p.Name, Type: ref.Params[i]}
	}

	ctx.em = emitter.New(sym.Name, params, ref.Return)
	ctx.em.Debug = ctx.cfg.IsFeatureEnabled(config.FeatDebugInfo)
	ctx.routine, ctx.retVal, ctx.loops = sym, nil, nil
	entry := sym.Is(symbols.ModEntryPoint) || sym.Class == symbols.ClassProgram

	locals := d.Locals
	if locals == nil { locals = symbols.NewCollection(ctx.cfg.IsFeatureEnabled(config.FeatCaseSensitive)) }
	ctx.stack.Push(locals)
	defer ctx.stack.Pop()

	for i, p := range sym.Parameters {
		if p.Handle == nil { p.SetHandle(&symbols.ParamHandle{Index: i}) }
	}

	if entry { ctx.em.Call(&ir.MethodRef{Name: InitRoutine, Return: ir.TypeNone}) }
	catch := entry && ctx.cfg.IsFeatureEnabled(config.FeatRuntimeCatch)
	if catch { ctx.em.SetupTryBlock() }

	if sym.Class == symbols.ClassFunction { ctx.retVal = ctx.returnValueSlot(sym, locals) }
	for _, p := range sym.Parameters {
		if p.IsArray() { ctx.computeDimensionSizes(p) }
	}
	ctx.generateSymbols(locals, false)
	ctx.generateStatementFunctions(locals)

	ctx.codegenStmt(d.Body)
	if !ctx.em.IsTerminated() { ctx.emitReturn() }

	if catch {
		ctx.em.AddDefaultCatch()
		ctx.em.Call(runtime.ReportException)
		ctx.em.CloseTryBlock()
		ctx.em.Return()
	}

	r := ctx.finishRoutine(ctx.em)
	r.Exported = sym.Is(symbols.ModExported)
	r.EntryPoint = entry
	ctx.em, ctx.routine = nil, nil
	ctx.warnUnused(locals, sym)
}

// returnValueSlot binds the function's result variable, creating one when
// the declarations carry none.
func (ctx *Context) returnValueSlot(fn *symbols.Symbol, locals *symbols.Collection) *ir.Local {
	rv := locals.Get(fn.Name)
	if rv == nil || rv == fn || rv.Class != symbols.ClassVariable {
		rv = locals.Add(&symbols.Symbol{Name: fn.Name, FullType: fn.FullType, Class: symbols.ClassVariable,
			Modifier: symbols.ModRetVal, Referenced: true, Tok: fn.Tok})
	}
	rv.Modifier |= symbols.ModRetVal
	rv.SetHandle(&symbols.LocalHandle{Local: ctx.em.NewLocal(fn.Type().MachineType(), fn.Name)})
	ctx.initializeStorage(rv)
	return rv.Local()
}

func (ctx *Context) emitReturn() {
	if ctx.retVal != nil { ctx.em.LoadLocal(ctx.retVal) }
	ctx.em.Return()
}

func (ctx *Context) warnUnused(locals *symbols.Collection, routine *symbols.Symbol) {
	for _, s := range locals.Symbols() {
		if !s.HasStorage() || s.IsParameter() || s.IsReferenced() || s.Is(symbols.ModRetVal) || s.IsInCommon() { continue }
		ctx.diag.Warn(config.WarnUnusedVariable, s.Tok, "Variable '%s' in '%s' is declared but never used.", s.Name, routine.Name)
	}
}
