package codegen

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/vm"
)

var tok = token.Token{Line: 1, Column: 1}

func variable(name string, t symbols.SymType) *symbols.Symbol {
	return &symbols.Symbol{Name: name, FullType: symbols.NewFullType(t), Class: symbols.ClassVariable, Referenced: true, Tok: tok}
}

func param(name string, t symbols.SymType) *symbols.Symbol {
	s := variable(name, t)
	s.Scope = symbols.ScopeParameter
	return s
}

func function(name string, t symbols.SymType, params ...*symbols.Symbol) *symbols.Symbol {
	return &symbols.Symbol{Name: name, FullType: symbols.NewFullType(t), Class: symbols.ClassFunction, Parameters: params, Tok: tok}
}

func subroutine(name string, params ...*symbols.Symbol) *symbols.Symbol {
	return &symbols.Symbol{Name: name, Class: symbols.ClassSubroutine, Parameters: params, Tok: tok}
}

func program(name string) *symbols.Symbol {
	return &symbols.Symbol{Name: name, Class: symbols.ClassProgram, Tok: tok}
}

func scope(syms ...*symbols.Symbol) *symbols.Collection {
	c := symbols.NewCollection(false)
	for _, s := range syms {
		c.Add(s)
	}
	return c
}

func id(s *symbols.Symbol, indexes ...*ast.Node) *ast.Node { return ast.NewIdent(tok, s, indexes...) }
func num(v int32) *ast.Node                                { return ast.NewInt(tok, v) }
func bin(op token.Type, l, r *ast.Node) *ast.Node          { return ast.NewBinaryOp(tok, op, l, r) }
func set(target, value *ast.Node) *ast.Node                { return ast.NewAssign(tok, target, value) }
func block(stmts ...*ast.Node) *ast.Node                   { return ast.NewBlock(tok, stmts) }

func proc(sym *symbols.Symbol, locals *symbols.Collection, stmts ...*ast.Node) *ast.Node {
	return ast.NewProcedure(tok, sym, locals, block(stmts...))
}

func newConfig(adjust ...func(*config.Config)) *config.Config {
	cfg := config.NewConfig()
	for _, fn := range adjust {
		fn(cfg)
	}
	return cfg
}

func generate(t *testing.T, cfg *config.Config, globals *symbols.Collection, units ...*ast.Node) (*ir.Program, *util.Diagnostics) {
	t.Helper()
	if globals == nil { globals = scope() }
	diag := util.NewDiagnostics(cfg)
	ctx := NewContext(cfg, diag)
	prog, err := ctx.GenerateProgram(ast.NewProgram(tok, "T", globals, units))
	if err != nil { t.Fatalf("GenerateProgram: %v", err) }
	return prog, diag
}

func mustCompile(t *testing.T, cfg *config.Config, globals *symbols.Collection, units ...*ast.Node) *ir.Program {
	t.Helper()
	prog, diag := generate(t, cfg, globals, units...)
	if diag.ErrorCount() > 0 {
		var buf bytes.Buffer
		diag.Print(&buf)
		t.Fatalf("unexpected errors:\n%s", buf.String())
	}
	return prog
}

func hasMessage(diag *util.Diagnostics, text string) bool {
	for _, m := range diag.Messages() {
		if strings.Contains(m.Text, text) { return true }
	}
	return false
}

func call(t *testing.T, prog *ir.Program, name string, args ...vm.Value) vm.Value {
	t.Helper()
	got, err := vm.New(prog).Call(name, args...)
	if err != nil { t.Fatalf("%s%v: %v", name, args, err) }
	return got
}

func liveCode(r *ir.Routine) []string {
	var out []string
	for _, instr := range r.Live() {
		out = append(out, instr.String())
	}
	return out
}

// sumLoop builds ISUM(N) = sum of I for I = first..N step.
func sumLoop(first int32, step *ast.Node) *ast.Node {
	n := param("N", symbols.TypeInteger)
	fn := function("ISUM", symbols.TypeInteger, n)
	res := variable("ISUM", symbols.TypeInteger)
	i := variable("I", symbols.TypeInteger)
	return proc(fn, scope(res, i),
		set(id(res), num(0)),
		ast.NewForLoop(tok, id(i), num(first), id(n), step, block(
			set(id(res), bin(token.Plus, id(res), id(i))),
		)),
	)
}

func TestCountedLoop(t *testing.T) {
	prog := mustCompile(t, newConfig(), nil, sumLoop(1, nil))
	for n, want := range map[int32]int32{10: 55, 1: 1, 0: 0, -4: 0} {
		if got := call(t, prog, "ISUM", n); got != want { t.Errorf("ISUM(%d) = %v, want %d", n, got, want) }
	}
}

func TestCountedLoopNegativeStep(t *testing.T) {
	n := param("N", symbols.TypeInteger)
	fn := function("COUNT", symbols.TypeInteger, n)
	res := variable("COUNT", symbols.TypeInteger)
	i := variable("I", symbols.TypeInteger)
	unit := proc(fn, scope(res, i),
		set(id(res), num(0)),
		ast.NewForLoop(tok, id(i), num(10), num(1), num(-2), block(
			set(id(res), bin(token.Plus, id(res), num(1))),
		)),
	)
	prog := mustCompile(t, newConfig(), nil, unit)
	if got := call(t, prog, "COUNT", int32(0)); got != int32(5) { t.Fatalf("DO I=10,1,-2 ran %v times, want 5", got) }
}

func TestZeroTripLoop(t *testing.T) {
	fn := function("K", symbols.TypeInteger)
	res := variable("K", symbols.TypeInteger)
	i := variable("I", symbols.TypeInteger)
	unit := proc(fn, scope(res, i),
		set(id(res), num(0)),
		ast.NewForLoop(tok, id(i), num(5), num(1), nil, block(
			set(id(res), bin(token.Plus, id(res), num(1))),
		)),
		set(id(res), bin(token.Plus, id(res), id(i))),
	)
	prog, diag := generate(t, newConfig(), nil, unit)
	if !hasMessage(diag, "never executed") { t.Fatal("a constant zero-trip loop should be reported") }
	if got := call(t, prog, "K"); got != int32(5) { t.Fatalf("K = %v, want the start value 5 and no iterations", got) }
}

func TestZeroStepIsAnError(t *testing.T) {
	i := variable("I", symbols.TypeInteger)
	unit := proc(subroutine("S"), scope(i), ast.NewForLoop(tok, id(i), num(1), num(3), num(0), block()))
	_, diag := generate(t, newConfig(), nil, unit)
	if !hasMessage(diag, "step must not be zero") { t.Fatal("a zero step must be rejected") }
}

// relation builds R(A, B) returning 1 when A op B holds and 0 otherwise.
func relation(op token.Type, t symbols.SymType) *ast.Node {
	a, b := param("A", t), param("B", t)
	fn := function("R", symbols.TypeInteger, a, b)
	res := variable("R", symbols.TypeInteger)
	return proc(fn, scope(res),
		ast.NewConditional(tok, []ast.ConditionalArm{
			{Cond: bin(op, id(a), id(b)), Body: block(set(id(res), num(1)))},
			{Body: block(set(id(res), num(0)))},
		}),
	)
}

func TestRelationalOperators(t *testing.T) {
	tests := []struct {
		op   token.Type
		a, b int32
		want int32
	}{
		{token.Eq, 3, 3, 1}, {token.Eq, 3, 4, 0},
		{token.Ne, 3, 3, 0}, {token.Ne, 3, 4, 1},
		{token.Lt, 3, 4, 1}, {token.Lt, 4, 4, 0},
		{token.Le, 4, 4, 1}, {token.Le, 5, 4, 0},
		{token.Gt, 5, 4, 1}, {token.Gt, 4, 4, 0},
		{token.Ge, 4, 4, 1}, {token.Ge, 3, 4, 0},
	}
	for _, tt := range tests {
		prog := mustCompile(t, newConfig(), nil, relation(tt.op, symbols.TypeInteger))
		if got := call(t, prog, "R", tt.a, tt.b); got != tt.want {
			t.Errorf("%d %s %d = %v, want %d", tt.a, tt.op, tt.b, got, tt.want)
		}
	}
}

func TestStringComparisonIgnoresTrailingBlanks(t *testing.T) {
	eq := mustCompile(t, newConfig(), nil, relation(token.Eq, symbols.TypeChar))
	ne := mustCompile(t, newConfig(), nil, relation(token.Ne, symbols.TypeChar))
	for _, tt := range []struct {
		a, b string
		equal bool
	}{{"ab", "ab  ", true}, {"ab", "ac", false}, {"", "   ", true}} {
		want := map[bool]int32{true: 1, false: 0}
		if got := call(t, eq, "R", tt.a, tt.b); got != want[tt.equal] { t.Errorf("%q == %q gave %v", tt.a, tt.b, got) }
		if got := call(t, ne, "R", tt.a, tt.b); got != want[!tt.equal] { t.Errorf("%q != %q gave %v", tt.a, tt.b, got) }
	}
}

func TestNotEqualFusesIntoBranch(t *testing.T) {
	prog := mustCompile(t, newConfig(), nil, relation(token.Ne, symbols.TypeInteger))
	code := liveCode(prog.FindRoutine("R"))
	for _, line := range code {
		if strings.HasPrefix(line, "xor") { t.Fatalf("negation should fold into the branch:\n%s", strings.Join(code, "\n")) }
	}
}

func TestDivisionByZero(t *testing.T) {
	x, y := param("X", symbols.TypeDouble), param("Y", symbols.TypeDouble)
	fdiv := proc(function("FDIV", symbols.TypeDouble, x, y), scope(), ast.NewReturn(tok, bin(token.Slash, id(x), id(y))))
	i, j := param("I", symbols.TypeInteger), param("J", symbols.TypeInteger)
	idiv := proc(function("IDIV", symbols.TypeInteger, i, j), scope(), ast.NewReturn(tok, bin(token.Slash, id(i), id(j))))
	prog := mustCompile(t, newConfig(), nil, fdiv, idiv)

	if got := call(t, prog, "FDIV", 7.0, 2.0); got != 3.5 { t.Fatalf("FDIV(7,2) = %v", got) }
	if _, err := vm.New(prog).Call("FDIV", 1.0, 0.0); !errors.Is(err, vm.ErrDivideByZero) { t.Fatalf("FDIV(1,0): %v, want ErrDivideByZero", err) }
	if got := call(t, prog, "IDIV", int32(7), int32(2)); got != int32(3) { t.Fatalf("IDIV(7,2) = %v", got) }
	if _, err := vm.New(prog).Call("IDIV", int32(1), int32(0)); !errors.Is(err, vm.ErrIntegerDivide) { t.Fatalf("IDIV(1,0): %v, want ErrIntegerDivide", err) }
}

func TestUnreferencedStoreIsSkipped(t *testing.T) {
	build := func(withStore bool) *ast.Node {
		x := variable("X", symbols.TypeInteger)
		x.Referenced = false
		var stmts []*ast.Node
		if withStore { stmts = append(stmts, set(id(x), num(5))) }
		return proc(subroutine("S"), scope(x), stmts...)
	}
	cfg := newConfig()
	diag := util.NewDiagnostics(cfg)
	with := NewContext(cfg, diag)
	if _, err := with.GenerateProgram(ast.NewProgram(tok, "T", scope(), []*ast.Node{build(true)})); err != nil { t.Fatal(err) }
	without := NewContext(cfg, util.NewDiagnostics(cfg))
	if _, err := without.GenerateProgram(ast.NewProgram(tok, "T", scope(), []*ast.Node{build(false)})); err != nil { t.Fatal(err) }

	if diff := cmp.Diff(without.RoutineStats["S"], with.RoutineStats["S"]); diff != "" {
		t.Fatalf("a store to an unreferenced variable must emit nothing (-want +got):\n%s", diff)
	}
	if !hasMessage(diag, "never used") { t.Fatal("the unreferenced variable should be reported") }
}

// grid builds GET(I, J) over a local A(3,4) that holds 10*row+column at
// each element.
func grid() *ast.Node {
	i, j := param("I", symbols.TypeInteger), param("J", symbols.TypeInteger)
	fn := function("GET", symbols.TypeInteger, i, j)
	res := variable("GET", symbols.TypeInteger)
	a := variable("A", symbols.TypeInteger)
	a.Dimensions = []*symbols.Dimension{
		symbols.NewDimension(nil, ast.Bound(num(3))),
		symbols.NewDimension(nil, ast.Bound(num(4))),
	}
	r, c := variable("R", symbols.TypeInteger), variable("C", symbols.TypeInteger)
	return proc(fn, scope(res, a, r, c),
		ast.NewForLoop(tok, id(r), num(1), num(3), nil, block(
			ast.NewForLoop(tok, id(c), num(1), num(4), nil, block(
				set(id(a, id(r), id(c)), bin(token.Plus, bin(token.Star, id(r), num(10)), id(c))),
			)),
		)),
		set(id(a, num(2), num(3)), num(-23)),
		set(id(res), id(a, id(i), id(j))),
	)
}

func TestArrayLayouts(t *testing.T) {
	for _, boundsObjects := range []bool{false, true} {
		cfg := newConfig(func(c *config.Config) { c.SetFeature(config.FeatBoundsObjects, boundsObjects) })
		prog := mustCompile(t, cfg, nil, grid())
		for _, tt := range []struct{ i, j, want int32 }{{1, 1, 11}, {3, 4, 34}, {2, 1, 21}, {1, 3, 13}, {2, 3, -23}} {
			if got := call(t, prog, "GET", tt.i, tt.j); got != tt.want {
				t.Errorf("bounds objects %v: GET(%d,%d) = %v, want %d", boundsObjects, tt.i, tt.j, got, tt.want)
			}
		}
	}
}

func TestFlatOffsetFolding(t *testing.T) {
	cfg := newConfig(func(c *config.Config) { c.SetFeature(config.FeatBoundsObjects, false) })
	code := liveCode(mustCompile(t, cfg, nil, grid()).FindRoutine("GET"))
	// A(2,3) in a 3x4 column-major array is element (2-1) + (3-1)*3.
	want := []string{"ldc.i4 7", "ldc.i4 -23", "stelem int32"}
	for i := 0; i+len(want) <= len(code); i++ {
		if cmp.Equal(want, code[i:i+len(want)]) { return }
	}
	t.Fatalf("constant subscripts should fold to one offset:\n%s", strings.Join(code, "\n"))
}

func TestBoundsObjectsCheckEachDimension(t *testing.T) {
	prog := mustCompile(t, newConfig(), nil, grid())
	if _, err := vm.New(prog).Call("GET", int32(4), int32(1)); !errors.Is(err, vm.ErrBounds) { t.Fatalf("GET(4,1): %v, want ErrBounds", err) }
}

// statementFunction builds F(X) = X*X + 1 and G(N) = F(N) + F(2).
func statementFunction() *ast.Node {
	x := param("X", symbols.TypeInteger)
	f := &symbols.Symbol{Name: "F", FullType: symbols.NewFullType(symbols.TypeInteger), Class: symbols.ClassInline,
		Parameters: []*symbols.Symbol{x}, Tok: tok}
	f.Definition = bin(token.Plus, bin(token.Star, id(x), id(x)), num(1))

	n := param("N", symbols.TypeInteger)
	g := function("G", symbols.TypeInteger, n)
	res := variable("G", symbols.TypeInteger)
	return proc(g, scope(res, f),
		set(id(res), bin(token.Plus, ast.NewCall(tok, f, []*ast.Node{id(n)}), ast.NewCall(tok, f, []*ast.Node{num(2)}))),
	)
}

func TestStatementFunctions(t *testing.T) {
	for _, inline := range []bool{true, false} {
		cfg := newConfig(func(c *config.Config) { c.SetFeature(config.FeatInline, inline) })
		prog := mustCompile(t, cfg, nil, statementFunction())
		if got := call(t, prog, "G", int32(3)); got != int32(15) { t.Errorf("inline %v: G(3) = %v, want 15", inline, got) }
		if hasRoutine := prog.FindRoutine("G.F") != nil; hasRoutine == inline {
			t.Errorf("inline %v: private routine present = %v", inline, hasRoutine)
		}
	}
}

func TestByReferenceArgument(t *testing.T) {
	k := param("K", symbols.TypeInteger)
	k.Linkage = symbols.LinkByReference
	bump := subroutine("BUMP", k)
	bumpUnit := proc(bump, scope(), set(id(k), bin(token.Plus, id(k), num(1))))

	fn := function("TWICE", symbols.TypeInteger)
	res := variable("TWICE", symbols.TypeInteger)
	v := variable("V", symbols.TypeInteger)
	twice := proc(fn, scope(res, v),
		set(id(v), num(40)),
		ast.NewCallStmt(tok, bump, []*ast.Node{id(v)}),
		ast.NewCallStmt(tok, bump, []*ast.Node{id(v)}),
		ast.NewCallStmt(tok, bump, []*ast.Node{bin(token.Plus, id(v), num(100))}),
		set(id(res), id(v)),
	)
	prog := mustCompile(t, newConfig(), scope(bump), bumpUnit, twice)
	if got := call(t, prog, "TWICE"); got != int32(42) { t.Fatalf("TWICE = %v, want 42 (the expression argument is a copy)", got) }
}

func TestCommonBlockSharedAcrossRoutines(t *testing.T) {
	v := variable("V", symbols.TypeInteger)
	blk := &symbols.Symbol{Name: "BLK", Class: symbols.ClassCommon, Members: []*symbols.Symbol{v}, Tok: tok}
	v.Common, v.CommonIndex = blk, 0

	setv := subroutine("SETV")
	main := program("MAIN")
	units := []*ast.Node{
		proc(setv, scope(), set(id(v), num(9))),
		proc(main, scope(),
			ast.NewCallStmt(tok, setv, nil),
			ast.NewWrite(tok, nil, []*ast.Node{id(v), ast.NewString(tok, "done")}, nil),
		),
	}
	prog := mustCompile(t, newConfig(), scope(blk, setv), units...)

	var out bytes.Buffer
	m := vm.New(prog)
	m.Stdout = &out
	if err := m.Run(); err != nil { t.Fatalf("Run: %v", err) }
	if diff := cmp.Diff("9 done\n", out.String()); diff != "" { t.Fatalf("output mismatch (-want +got):\n%s", diff) }
	if m.Static("BLK", "BLK_0") != int32(9) { t.Fatalf("common member = %v", m.Static("BLK", "BLK_0")) }
}

func TestGlobalInitialValues(t *testing.T) {
	g := variable("LIMIT", symbols.TypeInteger)
	g.Value = ast.NewInt(tok, 12).Value()
	fn := function("GETLIM", symbols.TypeInteger)
	res := variable("GETLIM", symbols.TypeInteger)
	prog := mustCompile(t, newConfig(), scope(g), proc(fn, scope(res), set(id(res), id(g))))
	if got := call(t, prog, "GETLIM"); got != int32(12) { t.Fatalf("GETLIM = %v, want 12 from the init routine", got) }
}

func TestStopSetsExitCode(t *testing.T) {
	prog := mustCompile(t, newConfig(), nil, proc(program("MAIN"), scope(), ast.NewStop(tok, num(4))))
	m := vm.New(prog)
	if err := m.Run(); err != nil { t.Fatalf("Run: %v", err) }
	if m.ExitCode != 4 { t.Fatalf("exit code = %d, want 4", m.ExitCode) }
}

func TestRuntimeCatchReportsErrors(t *testing.T) {
	x, y := variable("X", symbols.TypeDouble), variable("Y", symbols.TypeDouble)
	unit := proc(program("MAIN"), scope(x, y), set(id(x), bin(token.Slash, ast.NewDouble(tok, 1), id(y))))

	prog := mustCompile(t, newConfig(), nil, unit)
	m := vm.New(prog)
	m.Stderr = &bytes.Buffer{}
	if err := m.Run(); err != nil { t.Fatalf("Run: %v", err) }
	if len(m.Reported) != 1 || !errors.Is(m.Reported[0], vm.ErrDivideByZero) { t.Fatalf("reported = %v", m.Reported) }
}

func TestRuntimeCatchDisabled(t *testing.T) {
	x, y := variable("X", symbols.TypeDouble), variable("Y", symbols.TypeDouble)
	unit := proc(program("MAIN"), scope(x, y), set(id(x), bin(token.Slash, ast.NewDouble(tok, 1), id(y))))
	cfg := newConfig(func(c *config.Config) { c.SetFeature(config.FeatRuntimeCatch, false) })
	if err := vm.New(mustCompile(t, cfg, nil, unit)).Run(); !errors.Is(err, vm.ErrDivideByZero) { t.Fatalf("Run: %v, want ErrDivideByZero", err) }
}

func TestReadErrorLabel(t *testing.T) {
	n := variable("N", symbols.TypeInteger)
	lbl := &symbols.Symbol{Name: "100", Class: symbols.ClassLabel, Tok: tok}
	fn := function("RD", symbols.TypeInteger)
	res := variable("RD", symbols.TypeInteger)
	unit := proc(fn, scope(res, n, lbl),
		ast.NewRead(tok, nil, []*ast.Node{id(n)}, lbl),
		set(id(res), id(n)),
		ast.NewReturn(tok, nil),
		ast.NewLabel(tok, lbl),
		set(id(res), num(-1)),
	)
	prog := mustCompile(t, newConfig(), nil, unit)
	for input, want := range map[string]int32{"17\n": 17, "abc\n": -1} {
		m := vm.New(prog)
		m.SetInput(strings.NewReader(input))
		got, err := m.Call("RD")
		if err != nil || got != want { t.Errorf("RD with %q = %v, %v; want %d", input, got, err, want) }
	}
}

func TestWhileAndBreak(t *testing.T) {
	n := param("N", symbols.TypeInteger)
	fn := function("HALVE", symbols.TypeInteger, n)
	res := variable("HALVE", symbols.TypeInteger)
	v := variable("V", symbols.TypeInteger)
	unit := proc(fn, scope(res, v),
		set(id(v), id(n)),
		set(id(res), num(0)),
		ast.NewWhileLoop(tok, bin(token.Gt, id(v), num(1)), block(
			set(id(v), bin(token.Slash, id(v), num(2))),
			set(id(res), bin(token.Plus, id(res), num(1))),
			ast.NewBreak(tok, bin(token.Ge, id(res), num(5))),
		)),
	)
	prog := mustCompile(t, newConfig(), nil, unit)
	for in, want := range map[int32]int32{1: 0, 8: 3, 1000: 5} {
		if got := call(t, prog, "HALVE", in); got != want { t.Errorf("HALVE(%d) = %v, want %d", in, got, want) }
	}
}

func TestRepeatLoop(t *testing.T) {
	fn := function("RPT", symbols.TypeInteger)
	res := variable("RPT", symbols.TypeInteger)
	unit := proc(fn, scope(res),
		set(id(res), num(1)),
		ast.NewRepeatLoop(tok, block(set(id(res), bin(token.Star, id(res), num(3)))), bin(token.Gt, id(res), num(50))),
	)
	if got := call(t, mustCompile(t, newConfig(), nil, unit), "RPT"); got != int32(81) { t.Fatalf("RPT = %v, want 81", got) }
}

func TestComputedGoto(t *testing.T) {
	k := param("K", symbols.TypeInteger)
	fn := function("PICK", symbols.TypeInteger, k)
	res := variable("PICK", symbols.TypeInteger)
	l1 := &symbols.Symbol{Name: "10", Class: symbols.ClassLabel, Tok: tok}
	l2 := &symbols.Symbol{Name: "20", Class: symbols.ClassLabel, Tok: tok}
	unit := proc(fn, scope(res, l1, l2),
		set(id(res), num(0)),
		ast.NewComputedGoto(tok, []*symbols.Symbol{l1, l2}, id(k)),
		ast.NewReturn(tok, nil),
		ast.NewLabel(tok, l1),
		set(id(res), num(100)),
		ast.NewReturn(tok, nil),
		ast.NewLabel(tok, l2),
		set(id(res), num(200)),
	)
	prog := mustCompile(t, newConfig(), nil, unit)
	for in, want := range map[int32]int32{1: 100, 2: 200, 3: 0, 0: 0} {
		if got := call(t, prog, "PICK", in); got != want { t.Errorf("PICK(%d) = %v, want %d", in, got, want) }
	}
}

func TestFixedStrings(t *testing.T) {
	s := &symbols.Symbol{Name: "S", FullType: symbols.FixedChar(5), Class: symbols.ClassVariable, Referenced: true, Tok: tok}
	fn := function("FS", symbols.TypeChar)
	res := variable("FS", symbols.TypeChar)
	unit := proc(fn, scope(res, s),
		set(id(s), ast.NewString(tok, "abcdefgh")),
		set(ast.NewSubstring(tok, s, num(2), num(3)), ast.NewString(tok, "XY")),
		set(id(res), bin(token.Concat, ast.NewSubstring(tok, s, num(1), num(4)), ast.NewString(tok, "!"))),
	)
	prog, diag := generate(t, newConfig(), nil, unit)
	if !hasMessage(diag, "truncated to 5 characters") { t.Error("the truncating constant should be reported") }
	if got := call(t, prog, "FS"); got != "aXYd!" { t.Fatalf("FS = %q, want %q", got, "aXYd!") }
}

func TestIntrinsics(t *testing.T) {
	x := param("X", symbols.TypeDouble)
	fn := function("H", symbols.TypeInteger, x)
	res := variable("H", symbols.TypeInteger)
	intrinsic := func(name string, t symbols.SymType) *symbols.Symbol {
		return &symbols.Symbol{Name: name, FullType: symbols.NewFullType(t), Class: symbols.ClassIntrinsic, Tok: tok}
	}
	abs, flr := intrinsic("ABS", symbols.TypeDouble), intrinsic("FLOOR", symbols.TypeInteger)
	unit := proc(fn, scope(res),
		set(id(res), ast.NewCall(tok, flr, []*ast.Node{ast.NewCall(tok, abs, []*ast.Node{id(x)})})),
	)
	prog := mustCompile(t, newConfig(), nil, unit)
	for in, want := range map[float64]int32{-2.5: 2, 3.75: 3, 0: 0} {
		if got := call(t, prog, "H", in); got != want { t.Errorf("H(%v) = %v, want %d", in, got, want) }
	}
}

func TestInternalFaultBecomesErrCompiler(t *testing.T) {
	bad := proc(subroutine("S"), scope(), num(1))
	cfg := newConfig()
	diag := util.NewDiagnostics(cfg)
	_, err := NewContext(cfg, diag).GenerateProgram(ast.NewProgram(tok, "T", scope(), []*ast.Node{bad}))
	if !errors.Is(err, ErrCompiler) { t.Fatalf("err = %v, want ErrCompiler", err) }
	if diag.ErrorCount() != 1 { t.Fatalf("errors = %d, want one generic report", diag.ErrorCount()) }

	cfg.SetFeature(config.FeatDevDiagnostics, true)
	defer func() {
		if _, ok := recover().(*util.InternalError); !ok { t.Fatal("dev-diagnostics should re-raise the internal error") }
	}()
	NewContext(cfg, util.NewDiagnostics(cfg)).GenerateProgram(ast.NewProgram(tok, "T", scope(), []*ast.Node{proc(subroutine("S"), scope(), num(1))}))
}

func TestDebugInfoMarkers(t *testing.T) {
	unit := func() *ast.Node {
		x := variable("X", symbols.TypeInteger)
		line3 := token.Token{Line: 3, Column: 7}
		return proc(subroutine("S"), scope(x), set(id(x), num(1)), ast.NewAssign(line3, id(x), num(2)))
	}
	markers := func(cfg *config.Config) []string {
		ctx := NewContext(cfg, util.NewDiagnostics(cfg))
		ctx.SetSourceFiles([]string{"a.f"})
		prog, err := ctx.GenerateProgram(ast.NewProgram(tok, "T", scope(), []*ast.Node{unit()}))
		if err != nil { t.Fatal(err) }
		var out []string
		for _, instr := range prog.FindRoutine("S").Live() {
			if instr.Op == ir.OpMarker { out = append(out, instr.String()) }
		}
		return out
	}

	if got := markers(newConfig()); len(got) != 0 { t.Fatalf("markers without debug-info: %v", got) }
	got := markers(newConfig(func(c *config.Config) { c.SetFeature(config.FeatDebugInfo, true) }))
	if diff := cmp.Diff([]string{".line a.f:1", ".line a.f:3"}, got); diff != "" { t.Fatalf("markers (-want +got):\n%s", diff) }
}

func TestLoopBoundsAreEvaluatedOnce(t *testing.T) {
	n := param("N", symbols.TypeInteger)
	fn := function("SNAP", symbols.TypeInteger, n)
	res := variable("SNAP", symbols.TypeInteger)
	last, step, i := variable("M", symbols.TypeInteger), variable("S", symbols.TypeInteger), variable("I", symbols.TypeInteger)
	unit := proc(fn, scope(res, last, step, i),
		set(id(last), id(n)),
		set(id(step), num(1)),
		set(id(res), num(0)),
		ast.NewForLoop(tok, id(i), num(1), id(last), id(step), block(
			set(id(res), bin(token.Plus, id(res), num(1))),
			set(id(last), bin(token.Plus, id(last), num(1))),
			set(id(step), bin(token.Plus, id(step), num(1))),
		)),
	)
	prog := mustCompile(t, newConfig(), nil, unit)
	for in, want := range map[int32]int32{0: 0, 1: 1, 5: 5, 12: 12} {
		if got := call(t, prog, "SNAP", in); got != want { t.Errorf("SNAP(%d) = %v, want %d", in, got, want) }
	}
}

func TestIntegerDivisionFloors(t *testing.T) {
	a, b := param("A", symbols.TypeInteger), param("B", symbols.TypeInteger)
	fn := function("IQ", symbols.TypeInteger, a, b)
	res := variable("IQ", symbols.TypeInteger)
	prog := mustCompile(t, newConfig(), nil, proc(fn, scope(res), set(id(res), bin(token.IDivide, id(a), id(b)))))
	for _, tt := range []struct{ a, b, want int32 }{{-7, 2, -4}, {7, 2, 3}, {7, -2, -4}, {-8, 2, -4}, {6, 3, 2}} {
		if got := call(t, prog, "IQ", tt.a, tt.b); got != tt.want { t.Errorf("%d \\ %d = %v, want %d", tt.a, tt.b, got, tt.want) }
	}
}

func TestMerge(t *testing.T) {
	s := &symbols.Symbol{Name: "S", FullType: symbols.FixedChar(3), Class: symbols.ClassVariable, Referenced: true, Tok: tok}
	fn := function("MG", symbols.TypeChar)
	res := variable("MG", symbols.TypeChar)
	unit := proc(fn, scope(res, s),
		set(id(s), ast.NewString(tok, "ab")),
		set(id(res), bin(token.Merge, id(s), ast.NewString(tok, "xy"))),
	)
	if got := call(t, mustCompile(t, newConfig(), nil, unit), "MG"); got != "ab xy" { t.Fatalf("MG = %q, want %q", got, "ab xy") }
}

func TestMultipleTargets(t *testing.T) {
	n := param("N", symbols.TypeInteger)
	fn := function("BOTH", symbols.TypeInteger, n)
	res := variable("BOTH", symbols.TypeInteger)
	a, b := variable("A", symbols.TypeInteger), variable("B", symbols.TypeInteger)
	unit := proc(fn, scope(res, a, b),
		ast.NewAssignment(tok, []*ast.Node{id(a), id(b)}, []*ast.Node{bin(token.Star, id(n), num(2))}),
		set(id(res), bin(token.Plus, bin(token.Star, id(a), num(100)), id(b))),
	)
	prog := mustCompile(t, newConfig(), nil, unit)
	if got := call(t, prog, "BOTH", int32(3)); got != int32(606) { t.Fatalf("A = B = 3*2 gave %v, want 606", got) }

	pairRes := variable("PAIR", symbols.TypeInteger)
	a, b = variable("A", symbols.TypeInteger), variable("B", symbols.TypeInteger)
	pair := proc(function("PAIR", symbols.TypeInteger), scope(pairRes, a, b),
		ast.NewAssignment(tok, []*ast.Node{id(a), id(b)}, []*ast.Node{num(1), num(2)}),
		set(id(pairRes), bin(token.Plus, bin(token.Star, id(a), num(10)), id(b))),
	)
	if got := call(t, mustCompile(t, newConfig(), nil, pair), "PAIR"); got != int32(12) { t.Fatalf("PAIR = %v, want 12", got) }
}

// sections builds DBL(B), doubling a three-element array, and SEC(K),
// which passes the sections A(2) and A(4) of A = 1..6 to DBL.
func sections() (*symbols.Symbol, []*ast.Node) {
	b := param("B", symbols.TypeInteger)
	b.Dimensions = []*symbols.Dimension{symbols.NewDimension(nil, ast.Bound(num(3)))}
	j := variable("J", symbols.TypeInteger)
	dbl := subroutine("DBL", b)
	dblUnit := proc(dbl, scope(j),
		ast.NewForLoop(tok, id(j), num(1), num(3), nil, block(
			set(id(b, id(j)), bin(token.Star, id(b, id(j)), num(2))),
		)),
	)

	k := param("K", symbols.TypeInteger)
	fn := function("SEC", symbols.TypeInteger, k)
	res := variable("SEC", symbols.TypeInteger)
	a := variable("A", symbols.TypeInteger)
	a.Dimensions = []*symbols.Dimension{symbols.NewDimension(nil, ast.Bound(num(6)))}
	i := variable("I", symbols.TypeInteger)
	secUnit := proc(fn, scope(res, a, i),
		ast.NewForLoop(tok, id(i), num(1), num(6), nil, block(set(id(a, id(i)), id(i)))),
		ast.NewCallStmt(tok, dbl, []*ast.Node{id(a, num(2))}),
		ast.NewCallStmt(tok, dbl, []*ast.Node{id(a, num(4))}),
		set(id(res), id(a, id(k))),
	)
	return dbl, []*ast.Node{dblUnit, secUnit}
}

func TestArraySectionArgument(t *testing.T) {
	dbl, units := sections()
	cfg := newConfig()
	diag := util.NewDiagnostics(cfg)
	ctx := NewContext(cfg, diag)
	prog, err := ctx.GenerateProgram(ast.NewProgram(tok, "T", scope(dbl), units))
	if err != nil || diag.ErrorCount() > 0 { t.Fatalf("GenerateProgram: %v, %d errors", err, diag.ErrorCount()) }

	for k, want := range []int32{1, 4, 6, 16, 10, 12} {
		if got := call(t, prog, "SEC", int32(k+1)); got != want { t.Errorf("A(%d) = %v, want %d", k+1, got, want) }
	}
	if n := ctx.RoutineStats["SEC"].Temporaries; n != 0 { t.Fatalf("%d section temporaries left in use", n) }
}

func TestCharacterArraySubstring(t *testing.T) {
	c := &symbols.Symbol{Name: "C", FullType: symbols.FixedChar(4), Class: symbols.ClassVariable, Referenced: true, Tok: tok,
		Dimensions: []*symbols.Dimension{symbols.NewDimension(nil, ast.Bound(num(3)))}}
	fn := function("CS", symbols.TypeChar)
	res := variable("CS", symbols.TypeChar)
	unit := proc(fn, scope(res, c),
		set(id(c, num(2)), ast.NewString(tok, "abcd")),
		set(ast.NewSubstring(tok, c, num(2), num(3), num(2)), ast.NewString(tok, "XY")),
		set(id(res), bin(token.Concat, ast.NewSubstring(tok, c, num(1), num(3), num(2)), ast.NewSubstring(tok, c, num(1), num(2), num(1)))),
	)
	if got := call(t, mustCompile(t, newConfig(), nil, unit), "CS"); got != "aXY  " { t.Fatalf("CS = %q, want %q", got, "aXY  ") }

	whole := proc(subroutine("W"), scope(c), set(ast.NewSubstring(tok, c, num(1), num(2)), ast.NewString(tok, "Z")))
	if _, diag := generate(t, newConfig(), nil, whole); !hasMessage(diag, "needs a subscript") { t.Fatal("a substring of a whole array must be rejected") }
}
