// Package astjson decodes the JSON interchange form of a typed program
// into the ast and symbols models used by code generation.
package astjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

// Version is the interchange version written by the current front end.
const Version = "1.1.0"

// Supported is the range of interchange versions this decoder reads.
const Supported = ">= 1.0.0, < 2.0.0"

var ErrVersion = errors.New("unsupported interchange version")

// Document is a decoded interchange file.
type Document struct {
	Version *semver.Version
	Root    *ast.Node
	Globals *symbols.Collection
	Files   []util.SourceFileRecord
}

// --- wire form ---

type position struct {
	File int `json:"file"`
	Line int `json:"line"`
	Col  int `json:"col"`
}

func (p position) tok() token.Token {
	return token.Token{FileIndex: p.File, Line: p.Line, Column: p.Col}
}

type wireDocument struct {
	Version string       `json:"version"`
	Files   []wireFile   `json:"files"`
	Program *wireProgram `json:"program"`
}

type wireFile struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

type wireProgram struct {
	position
	Name    string        `json:"name"`
	Globals []*wireSymbol `json:"globals"`
	Units   []*wireUnit   `json:"units"`
}

type wireSymbol struct {
	position
	Name       string        `json:"name"`
	Type       string        `json:"type"`
	Width      int           `json:"width"`
	Class      string        `json:"class"`
	Scope      string        `json:"scope"`
	ByRef      bool          `json:"byref"`
	Unused     bool          `json:"unused"`
	Modifiers  []string      `json:"modifiers"`
	Dims       []wireDim     `json:"dims"`
	Params     []*wireSymbol `json:"params"`
	Members    []*wireSymbol `json:"members"`
	Value      *wireNode     `json:"value"`
	Definition *wireNode     `json:"definition"`
}

type wireDim struct {
	Lower *wireNode `json:"lower"`
	Upper *wireNode `json:"upper"`
}

type wireUnit struct {
	position
	Symbol string        `json:"symbol"`
	Locals []*wireSymbol `json:"locals"`
	Body   []*wireNode   `json:"body"`
}

type wireArm struct {
	Cond *wireNode   `json:"cond"`
	Body []*wireNode `json:"body"`
}

type wireSubstring struct {
	Start *wireNode `json:"start"`
	End   *wireNode `json:"end"`
}

// wireNode carries every statement and expression kind; Kind selects
// which fields are meaningful.
type wireNode struct {
	position
	Kind string `json:"kind"`

	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	Name      string         `json:"name"`
	Op        string         `json:"op"`
	Left      *wireNode      `json:"left"`
	Right     *wireNode      `json:"right"`
	Expr      *wireNode      `json:"expr"`
	Args      []*wireNode    `json:"args"`
	Indexes   []*wireNode    `json:"indexes"`
	Substring *wireSubstring `json:"substring"`

	Targets []*wireNode `json:"targets"`
	Values  []*wireNode `json:"values"`
	Var     *wireNode   `json:"var"`
	Start   *wireNode   `json:"start"`
	End     *wireNode   `json:"end"`
	Step    *wireNode   `json:"step"`
	Cond    *wireNode   `json:"cond"`
	Until   *wireNode   `json:"until"`
	Body    []*wireNode `json:"body"`
	Arms    []wireArm   `json:"arms"`
	Code    *wireNode   `json:"code"`
	Label   string      `json:"label"`
	Labels  []string    `json:"labels"`
	Unit    *wireNode   `json:"unit"`
	Items   []*wireNode `json:"items"`
	Err     string      `json:"err"`
}

var classNames = map[string]symbols.SymClass{
	"program": symbols.ClassProgram, "variable": symbols.ClassVariable, "common": symbols.ClassCommon,
	"function": symbols.ClassFunction, "subroutine": symbols.ClassSubroutine, "label": symbols.ClassLabel,
	"intrinsic": symbols.ClassIntrinsic, "inline": symbols.ClassInline,
}

var scopeNames = map[string]symbols.SymScope{
	"": symbols.ScopeLocal, "local": symbols.ScopeLocal, "parameter": symbols.ScopeParameter, "constant": symbols.ScopeConstant,
}

var modifierNames = map[string]symbols.SymModifier{
	"external": symbols.ModExternal, "static": symbols.ModStatic, "retval": symbols.ModRetVal, "fixed": symbols.ModFixed,
	"flat-array": symbols.ModFlatArray, "entry-point": symbols.ModEntryPoint, "exported": symbols.ModExported,
}

// --- decoding ---

// ReadFile decodes the interchange file at path.
func ReadFile(path string, caseSensitive bool) (*Document, error) {
	f, err := os.Open(path)
	if err != nil { return nil, err }
	defer f.Close()
	doc, err := Decode(f, caseSensitive)
	if err != nil { return nil, fmt.Errorf("%s: %w", path, err) }
	return doc, nil
}

// Decode reads one interchange document. Symbol names are resolved
// innermost scope first: unit locals, the unit's formals, common block
// members and finally the globals.
func Decode(r io.Reader, caseSensitive bool) (*Document, error) {
	var wd wireDocument
	if err := json.NewDecoder(r).Decode(&wd); err != nil { return nil, fmt.Errorf("malformed interchange: %w", err) }

	v, err := checkVersion(wd.Version)
	if err != nil { return nil, err }
	if wd.Program == nil { return nil, errors.New("interchange has no program") }

	d := &decoder{caseSensitive: caseSensitive}
	root, globals, err := d.program(wd.Program)
	if err != nil { return nil, err }

	doc := &Document{Version: v, Root: root, Globals: globals}
	for _, f := range wd.Files {
		doc.Files = append(doc.Files, util.SourceFileRecord{Name: f.Name, Content: []rune(f.Source)})
	}
	return doc, nil
}

func checkVersion(s string) (*semver.Version, error) {
	if s == "" { return nil, fmt.Errorf("%w: version is missing", ErrVersion) }
	v, err := semver.NewVersion(s)
	if err != nil { return nil, fmt.Errorf("%w: %v", ErrVersion, err) }
	c, err := semver.NewConstraint(Supported)
	if err != nil { return nil, err }
	if !c.Check(v) { return nil, fmt.Errorf("%w: %s is outside %s", ErrVersion, v, Supported) }
	return v, nil
}

type decoder struct {
	caseSensitive bool
	stack         *symbols.Stack
}

func (d *decoder) collection() *symbols.Collection { return symbols.NewCollection(d.caseSensitive) }

func (d *decoder) program(wp *wireProgram) (*ast.Node, *symbols.Collection, error) {
	globals := d.collection()
	members := d.collection()
	declared := make([]*symbols.Symbol, len(wp.Globals))
	for i, ws := range wp.Globals {
		s, err := d.declare(ws)
		if err != nil { return nil, nil, err }
		declared[i] = globals.Add(s)
		for _, m := range s.Members {
			members.Add(m)
		}
	}

	d.stack = symbols.NewStack(globals)
	d.stack.Push(members)
	for i, ws := range wp.Globals {
		if err := d.complete(ws, declared[i]); err != nil { return nil, nil, err }
	}

	units := make([]*ast.Node, 0, len(wp.Units))
	for _, wu := range wp.Units {
		u, err := d.unit(wu, globals)
		if err != nil { return nil, nil, err }
		units = append(units, u)
	}
	return ast.NewProgram(wp.tok(), wp.Name, globals, units), globals, nil
}

// declare builds a symbol and its nested formals and members. Bounds,
// values and definitions may name other symbols and are filled in by
// complete once every scope exists.
func (d *decoder) declare(ws *wireSymbol) (*symbols.Symbol, error) {
	s := &symbols.Symbol{Name: ws.Name, Referenced: !ws.Unused, Tok: ws.tok()}
	if ws.Name == "" { return nil, fmt.Errorf("%d:%d: symbol without a name", ws.Line, ws.Col) }

	t := symbols.TypeNone
	if ws.Type != "" {
		var ok bool
		if t, ok = symbols.TypeFromName(ws.Type); !ok { return nil, fmt.Errorf("symbol '%s': unknown type '%s'", ws.Name, ws.Type) }
	}
	s.FullType = symbols.FullType{Type: t, Width: ws.Width}

	class, ok := classNames[ws.Class]
	if ws.Class == "" { class, ok = symbols.ClassVariable, true }
	if !ok { return nil, fmt.Errorf("symbol '%s': unknown class '%s'", ws.Name, ws.Class) }
	s.Class = class

	if s.Scope, ok = scopeNames[ws.Scope]; !ok { return nil, fmt.Errorf("symbol '%s': unknown scope '%s'", ws.Name, ws.Scope) }
	if ws.ByRef { s.Linkage = symbols.LinkByReference }
	for _, m := range ws.Modifiers {
		mod, ok := modifierNames[m]
		if !ok { return nil, fmt.Errorf("symbol '%s': unknown modifier '%s'", ws.Name, m) }
		s.Modifier |= mod
	}

	for _, wp := range ws.Params {
		p, err := d.declare(wp)
		if err != nil { return nil, err }
		if p.Class == symbols.ClassVariable && wp.Scope == "" { p.Scope = symbols.ScopeParameter }
		s.Parameters = append(s.Parameters, p)
	}
	for i, wm := range ws.Members {
		m, err := d.declare(wm)
		if err != nil { return nil, err }
		m.Common, m.CommonIndex = s, i
		s.Members = append(s.Members, m)
	}
	return s, nil
}

func (d *decoder) complete(ws *wireSymbol, s *symbols.Symbol) error {
	for _, wd := range ws.Dims {
		var lower, upper symbols.Expr
		if wd.Lower != nil {
			n, err := d.expr(wd.Lower)
			if err != nil { return err }
			lower = n
		}
		if wd.Upper != nil {
			n, err := d.expr(wd.Upper)
			if err != nil { return err }
			upper = n
		}
		s.Dimensions = append(s.Dimensions, symbols.NewDimension(lower, upper))
	}
	if ws.Value != nil {
		v, err := literal(ws.Value)
		if err != nil { return fmt.Errorf("symbol '%s': %w", s.Name, err) }
		s.Value = v
	}
	for i, wm := range ws.Members {
		if err := d.complete(wm, s.Members[i]); err != nil { return err }
	}
	if len(ws.Params) == 0 && ws.Definition == nil { return nil }

	formals := d.collection()
	for _, p := range s.Parameters {
		formals.Add(p)
	}
	d.stack.Push(formals)
	defer d.stack.Pop()
	for i, wp := range ws.Params {
		if err := d.complete(wp, s.Parameters[i]); err != nil { return err }
	}
	if ws.Definition != nil {
		def, err := d.expr(ws.Definition)
		if err != nil { return fmt.Errorf("statement function '%s': %w", s.Name, err) }
		s.Definition = def
	}
	return nil
}

func (d *decoder) unit(wu *wireUnit, globals *symbols.Collection) (*ast.Node, error) {
	sym := globals.Get(wu.Symbol)
	if sym == nil || !sym.IsMethod() { return nil, fmt.Errorf("%d:%d: unit '%s' is not a declared routine", wu.Line, wu.Col, wu.Symbol) }

	formals := d.collection()
	for _, p := range sym.Parameters {
		formals.Add(p)
	}
	locals := d.collection()
	declared := make([]*symbols.Symbol, len(wu.Locals))
	for i, ws := range wu.Locals {
		s, err := d.declare(ws)
		if err != nil { return nil, err }
		declared[i] = locals.Add(s)
	}

	d.stack.Push(formals)
	d.stack.Push(locals)
	defer func() {
		d.stack.Pop()
		d.stack.Pop()
	}()
	for i, ws := range wu.Locals {
		if err := d.complete(ws, declared[i]); err != nil { return nil, err }
	}

	body, err := d.block(wu.tok(), wu.Body)
	if err != nil { return nil, fmt.Errorf("unit '%s': %w", sym.Name, err) }
	return ast.NewProcedure(wu.tok(), sym, locals, body), nil
}

func (d *decoder) resolve(n *wireNode, name string) (*symbols.Symbol, error) {
	if s, ok := d.stack.Resolve(name); ok { return s, nil }
	return nil, fmt.Errorf("%d:%d: undefined symbol '%s'", n.Line, n.Col, name)
}

// resolveCallee prefers a callable symbol: inside a function the result
// variable shadows the function's own name.
func (d *decoder) resolveCallee(n *wireNode) (*symbols.Symbol, error) {
	s, err := d.resolve(n, n.Name)
	if err != nil { return nil, err }
	if !s.IsMethod() && !s.IsParameter() {
		if g := d.stack.Global().Get(n.Name); g != nil && g.IsMethod() { return g, nil }
		return nil, fmt.Errorf("%d:%d: '%s' is not callable", n.Line, n.Col, n.Name)
	}
	return s, nil
}

func (d *decoder) nodes(ws []*wireNode, decode func(*wireNode) (*ast.Node, error)) ([]*ast.Node, error) {
	out := make([]*ast.Node, 0, len(ws))
	for _, w := range ws {
		n, err := decode(w)
		if err != nil { return nil, err }
		out = append(out, n)
	}
	return out, nil
}

// optional decodes an expression that may be absent.
func (d *decoder) optional(w *wireNode) (*ast.Node, error) {
	if w == nil { return nil, nil }
	return d.expr(w)
}

func (d *decoder) operator(n *wireNode) (token.Type, error) {
	op, ok := token.OperatorMap[n.Op]
	if !ok { return token.Invalid, fmt.Errorf("%d:%d: unknown operator '%s'", n.Line, n.Col, n.Op) }
	return op, nil
}

func (d *decoder) expr(n *wireNode) (*ast.Node, error) {
	tok := n.tok()
	switch n.Kind {
	case "literal":
		v, err := literal(n)
		if err != nil { return nil, fmt.Errorf("%d:%d: %w", n.Line, n.Col, err) }
		return ast.NewNumber(tok, v), nil

	case "ident":
		s, err := d.resolve(n, n.Name)
		if err != nil { return nil, err }
		indexes, err := d.nodes(n.Indexes, d.expr)
		if err != nil { return nil, err }
		if n.Substring != nil {
			start, err := d.optional(n.Substring.Start)
			if err != nil { return nil, err }
			end, err := d.optional(n.Substring.End)
			if err != nil { return nil, err }
			return ast.NewSubstring(tok, s, start, end, indexes...), nil
		}
		return ast.NewIdent(tok, s, indexes...), nil

	case "binary":
		op, err := d.operator(n)
		if err != nil { return nil, err }
		if n.Left == nil || n.Right == nil { return nil, fmt.Errorf("%d:%d: binary '%s' needs two operands", n.Line, n.Col, n.Op) }
		l, err := d.expr(n.Left)
		if err != nil { return nil, err }
		r, err := d.expr(n.Right)
		if err != nil { return nil, err }
		tok.Type = op
		return ast.NewBinaryOp(tok, op, l, r), nil

	case "unary":
		op, err := d.operator(n)
		if err != nil { return nil, err }
		if n.Expr == nil { return nil, fmt.Errorf("%d:%d: unary '%s' needs an operand", n.Line, n.Col, n.Op) }
		x, err := d.expr(n.Expr)
		if err != nil { return nil, err }
		tok.Type = op
		return ast.NewUnaryOp(tok, op, x), nil

	case "call":
		s, err := d.resolveCallee(n)
		if err != nil { return nil, err }
		args, err := d.nodes(n.Args, d.expr)
		if err != nil { return nil, err }
		return ast.NewCall(tok, s, args), nil
	}
	return nil, fmt.Errorf("%d:%d: '%s' is not an expression", n.Line, n.Col, n.Kind)
}

func (d *decoder) block(tok token.Token, ws []*wireNode) (*ast.Node, error) {
	stmts, err := d.nodes(ws, d.stmt)
	if err != nil { return nil, err }
	return ast.NewBlock(tok, stmts), nil
}

func (d *decoder) labels(n *wireNode, names []string) ([]*symbols.Symbol, error) {
	out := make([]*symbols.Symbol, len(names))
	for i, name := range names {
		s, err := d.resolve(n, name)
		if err != nil { return nil, err }
		if !s.IsLabel() { return nil, fmt.Errorf("%d:%d: '%s' is not a label", n.Line, n.Col, name) }
		out[i] = s
	}
	return out, nil
}

func (d *decoder) stmt(n *wireNode) (*ast.Node, error) {
	tok := n.tok()
	switch n.Kind {
	case "block":
		return d.block(tok, n.Body)

	case "assign":
		if len(n.Targets) == 0 || len(n.Values) == 0 { return nil, fmt.Errorf("%d:%d: assignment needs a target and a value", n.Line, n.Col) }
		targets, err := d.nodes(n.Targets, d.expr)
		if err != nil { return nil, err }
		values, err := d.nodes(n.Values, d.expr)
		if err != nil { return nil, err }
		return ast.NewAssignment(tok, targets, values), nil

	case "for":
		if n.Var == nil || n.Start == nil || n.End == nil { return nil, fmt.Errorf("%d:%d: counted loop needs a variable and bounds", n.Line, n.Col) }
		v, err := d.expr(n.Var)
		if err != nil { return nil, err }
		start, err := d.expr(n.Start)
		if err != nil { return nil, err }
		end, err := d.expr(n.End)
		if err != nil { return nil, err }
		step, err := d.optional(n.Step)
		if err != nil { return nil, err }
		body, err := d.block(tok, n.Body)
		if err != nil { return nil, err }
		return ast.NewForLoop(tok, v, start, end, step, body), nil

	case "while":
		if n.Cond == nil { return nil, fmt.Errorf("%d:%d: while loop needs a condition", n.Line, n.Col) }
		cond, err := d.expr(n.Cond)
		if err != nil { return nil, err }
		body, err := d.block(tok, n.Body)
		if err != nil { return nil, err }
		return ast.NewWhileLoop(tok, cond, body), nil

	case "repeat":
		if n.Until == nil { return nil, fmt.Errorf("%d:%d: repeat loop needs an until condition", n.Line, n.Col) }
		body, err := d.block(tok, n.Body)
		if err != nil { return nil, err }
		until, err := d.expr(n.Until)
		if err != nil { return nil, err }
		return ast.NewRepeatLoop(tok, body, until), nil

	case "break":
		cond, err := d.optional(n.Cond)
		if err != nil { return nil, err }
		return ast.NewBreak(tok, cond), nil

	case "if":
		arms := make([]ast.ConditionalArm, len(n.Arms))
		for i, a := range n.Arms {
			cond, err := d.optional(a.Cond)
			if err != nil { return nil, err }
			body, err := d.block(tok, a.Body)
			if err != nil { return nil, err }
			arms[i] = ast.ConditionalArm{Cond: cond, Body: body}
		}
		return ast.NewConditional(tok, arms), nil

	case "return":
		x, err := d.optional(n.Expr)
		if err != nil { return nil, err }
		return ast.NewReturn(tok, x), nil

	case "stop":
		code, err := d.optional(n.Code)
		if err != nil { return nil, err }
		return ast.NewStop(tok, code), nil

	case "goto":
		targets, err := d.labels(n, []string{n.Label})
		if err != nil { return nil, err }
		return ast.NewGoto(tok, targets[0]), nil

	case "computed-goto":
		if n.Expr == nil { return nil, fmt.Errorf("%d:%d: computed goto needs a selector", n.Line, n.Col) }
		targets, err := d.labels(n, n.Labels)
		if err != nil { return nil, err }
		x, err := d.expr(n.Expr)
		if err != nil { return nil, err }
		return ast.NewComputedGoto(tok, targets, x), nil

	case "label":
		targets, err := d.labels(n, []string{n.Name})
		if err != nil { return nil, err }
		return ast.NewLabel(tok, targets[0]), nil

	case "read", "write":
		unit, err := d.optional(n.Unit)
		if err != nil { return nil, err }
		items, err := d.nodes(n.Items, d.expr)
		if err != nil { return nil, err }
		var errLabel *symbols.Symbol
		if n.Err != "" {
			l, err := d.labels(n, []string{n.Err})
			if err != nil { return nil, err }
			errLabel = l[0]
		}
		if n.Kind == "read" { return ast.NewRead(tok, unit, items, errLabel), nil }
		return ast.NewWrite(tok, unit, items, errLabel), nil

	case "call":
		s, err := d.resolveCallee(n)
		if err != nil { return nil, err }
		args, err := d.nodes(n.Args, d.expr)
		if err != nil { return nil, err }
		return ast.NewCallStmt(tok, s, args), nil
	}
	return nil, fmt.Errorf("%d:%d: unknown statement kind '%s'", n.Line, n.Col, n.Kind)
}

// literal decodes a typed constant: {"type": "integer", "value": 3}.
// Complex values are written as a two element array.
func literal(n *wireNode) (variant.Variant, error) {
	if len(n.Value) == 0 { return variant.Variant{}, fmt.Errorf("literal of type '%s' has no value", n.Type) }
	switch n.Type {
	case "integer":
		var v int32
		if err := json.Unmarshal(n.Value, &v); err != nil { return variant.Variant{}, fmt.Errorf("integer literal: %w", err) }
		return variant.FromInt(v), nil
	case "real":
		var v float32
		if err := json.Unmarshal(n.Value, &v); err != nil { return variant.Variant{}, fmt.Errorf("real literal: %w", err) }
		return variant.FromFloat32(v), nil
	case "double":
		var v float64
		if err := json.Unmarshal(n.Value, &v); err != nil { return variant.Variant{}, fmt.Errorf("double literal: %w", err) }
		return variant.FromFloat64(v), nil
	case "complex":
		var v [2]float64
		if err := json.Unmarshal(n.Value, &v); err != nil { return variant.Variant{}, fmt.Errorf("complex literal: %w", err) }
		return variant.FromComplex(complex(v[0], v[1])), nil
	case "logical":
		var v bool
		if err := json.Unmarshal(n.Value, &v); err != nil { return variant.Variant{}, fmt.Errorf("logical literal: %w", err) }
		return variant.FromBool(v), nil
	case "char", "character":
		var v string
		if err := json.Unmarshal(n.Value, &v); err != nil { return variant.Variant{}, fmt.Errorf("character literal: %w", err) }
		return variant.FromString(v), nil
	}
	return variant.Variant{}, fmt.Errorf("unknown literal type '%s'", n.Type)
}
