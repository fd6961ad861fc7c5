package astjson

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/codegen"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
	"github.com/xplshn/gfc/pkg/vm"
)

const sumProgram = `{
  "version": "1.1.0",
  "files": [{"name": "sum.f", "source": "      PROGRAM SUM\n"}],
  "program": {
    "name": "SUM",
    "globals": [
      {"name": "ISUM", "type": "integer", "class": "function", "params": [{"name": "N", "type": "integer"}]},
      {"name": "MAIN", "class": "program"}
    ],
    "units": [
      {"symbol": "ISUM", "line": 3,
       "locals": [{"name": "ISUM", "type": "integer"}, {"name": "I", "type": "integer"}],
       "body": [
         {"kind": "assign", "targets": [{"kind": "ident", "name": "ISUM"}], "values": [{"kind": "literal", "type": "integer", "value": 0}]},
         {"kind": "for", "var": {"kind": "ident", "name": "I"},
          "start": {"kind": "literal", "type": "integer", "value": 1}, "end": {"kind": "ident", "name": "N"},
          "body": [{"kind": "assign", "targets": [{"kind": "ident", "name": "isum"}],
                    "values": [{"kind": "binary", "op": "add", "left": {"kind": "ident", "name": "ISUM"}, "right": {"kind": "ident", "name": "I"}}]}]}
       ]},
      {"symbol": "MAIN",
       "body": [{"kind": "write", "items": [{"kind": "call", "name": "ISUM", "args": [{"kind": "literal", "type": "integer", "value": 10}]}]}]}
    ]
  }
}`

func decode(t *testing.T, src string) *Document {
	t.Helper()
	doc, err := Decode(strings.NewReader(src), false)
	if err != nil { t.Fatalf("Decode: %v", err) }
	return doc
}

func TestDecodeAndRun(t *testing.T) {
	doc := decode(t, sumProgram)
	if doc.Version.String() != "1.1.0" { t.Fatalf("version = %s", doc.Version) }
	if len(doc.Files) != 1 || doc.Files[0].Name != "sum.f" { t.Fatalf("files = %+v", doc.Files) }

	cfg := config.NewConfig()
	diag := util.NewDiagnostics(cfg)
	diag.SetSourceFiles(doc.Files)
	prog, err := codegen.NewContext(cfg, diag).GenerateProgram(doc.Root)
	if err != nil || diag.ErrorCount() > 0 {
		var buf bytes.Buffer
		diag.Print(&buf)
		t.Fatalf("GenerateProgram: %v\n%s", err, buf.String())
	}

	var out bytes.Buffer
	m := vm.New(prog)
	m.Stdout = &out
	if err := m.Run(); err != nil { t.Fatalf("Run: %v", err) }
	if diff := cmp.Diff("55\n", out.String()); diff != "" { t.Fatalf("output (-want +got):\n%s", diff) }
}

func TestResultVariableShadowsFunction(t *testing.T) {
	doc := decode(t, sumProgram)
	units := doc.Root.Data.(ast.ProgramNode).Units
	isum := units[0].Data.(ast.ProcedureNode)
	target := isum.Body.Data.(ast.BlockNode).Stmts[0].Data.(ast.AssignmentNode).Targets[0]
	if s := target.Symbol(); s.Class != symbols.ClassVariable { t.Fatalf("ISUM inside its body resolved to class %d", s.Class) }

	write := units[1].Data.(ast.ProcedureNode).Body.Data.(ast.BlockNode).Stmts[0]
	callee := write.Data.(ast.IONode).Items[0].Symbol()
	if callee.Class != symbols.ClassFunction || callee.Parameters[0].Scope != symbols.ScopeParameter {
		t.Fatalf("call resolved to %+v", callee)
	}
}

func TestVersionGate(t *testing.T) {
	for _, v := range []string{"", "2.0.0", "0.9.1", "not-a-version"} {
		src := strings.Replace(sumProgram, `"1.1.0"`, `"`+v+`"`, 1)
		if _, err := Decode(strings.NewReader(src), false); !errors.Is(err, ErrVersion) { t.Errorf("version %q: err = %v, want ErrVersion", v, err) }
	}
	for _, v := range []string{"1.0.0", "1.9.3"} {
		src := strings.Replace(sumProgram, `"1.1.0"`, `"`+v+`"`, 1)
		if _, err := Decode(strings.NewReader(src), false); err != nil { t.Errorf("version %q: %v", v, err) }
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name, find, replace, want string
	}{
		{"undefined", `"right": {"kind": "ident", "name": "I"}`, `"right": {"kind": "ident", "name": "J"}`, "undefined symbol 'J'"},
		{"operator", `"op": "add"`, `"op": "plus"`, "unknown operator 'plus'"},
		{"kind", `"kind": "write"`, `"kind": "print"`, "unknown statement kind 'print'"},
		{"type", `"type": "integer", "class": "function"`, `"type": "int", "class": "function"`, "unknown type 'int'"},
		{"literal", `"value": 10}`, `"value": "ten"}`, "integer literal"},
		{"unit", `{"symbol": "MAIN",`, `{"symbol": "I",`, "is not a declared routine"},
	}
	for _, tt := range tests {
		src := strings.Replace(sumProgram, tt.find, tt.replace, 1)
		if src == sumProgram { t.Fatalf("%s: pattern %q not found", tt.name, tt.find) }
		_, err := Decode(strings.NewReader(src), false)
		if err == nil || !strings.Contains(err.Error(), tt.want) { t.Errorf("%s: err = %v, want %q", tt.name, err, tt.want) }
	}
}

func TestCaseSensitiveResolution(t *testing.T) {
	if _, err := Decode(strings.NewReader(sumProgram), true); err == nil || !strings.Contains(err.Error(), "'isum'") {
		t.Fatalf("err = %v, want 'isum' to be undefined", err)
	}
}

const declarations = `{
  "version": "1.0.0",
  "program": {
    "name": "D",
    "globals": [
      {"name": "BLK", "class": "common", "members": [{"name": "V", "type": "integer"}, {"name": "W", "type": "double"}]},
      {"name": "K", "type": "integer", "scope": "constant", "value": {"type": "integer", "value": 4}},
      {"name": "FILL", "class": "subroutine",
       "params": [{"name": "N", "type": "integer"},
                  {"name": "A", "type": "real", "byref": true, "dims": [{"upper": {"kind": "ident", "name": "N"}}]}]},
      {"name": "MAIN", "class": "program", "modifiers": ["entry-point"]}
    ],
    "units": [
      {"symbol": "MAIN",
       "locals": [
         {"name": "G", "type": "integer", "unused": true, "dims": [{"lower": {"kind": "literal", "type": "integer", "value": 0}, "upper": {"kind": "ident", "name": "K"}}]},
         {"name": "SQ", "type": "integer", "class": "inline", "params": [{"name": "X", "type": "integer"}],
          "definition": {"kind": "binary", "op": "mul", "left": {"kind": "ident", "name": "X"}, "right": {"kind": "ident", "name": "X"}}},
         {"name": "S", "type": "character", "width": 8},
         {"name": "10", "class": "label"},
         {"name": "20", "class": "label"}
       ],
       "body": [
         {"kind": "label", "name": "10"},
         {"kind": "assign", "targets": [{"kind": "ident", "name": "V"}], "values": [{"kind": "call", "name": "SQ", "args": [{"kind": "ident", "name": "K"}]}]},
         {"kind": "assign", "targets": [{"kind": "ident", "name": "S", "substring": {"start": {"kind": "literal", "type": "integer", "value": 2}}}],
          "values": [{"kind": "literal", "type": "character", "value": "xy"}]},
         {"kind": "computed-goto", "labels": ["10", "20"], "expr": {"kind": "ident", "name": "V"}},
         {"kind": "label", "name": "20"},
         {"kind": "if", "arms": [
           {"cond": {"kind": "binary", "op": "gt", "left": {"kind": "ident", "name": "W"}, "right": {"kind": "literal", "type": "double", "value": 1.5}},
            "body": [{"kind": "stop", "code": {"kind": "literal", "type": "integer", "value": 2}}]},
           {"body": [{"kind": "goto", "label": "10"}]}
         ]}
       ]}
    ]
  }
}`

func TestDeclarations(t *testing.T) {
	doc := decode(t, declarations)
	blk := doc.Globals.Get("BLK")
	if len(blk.Members) != 2 || blk.Members[1].Common != blk || blk.Members[1].CommonIndex != 1 { t.Fatalf("common members = %+v", blk.Members) }
	if k := doc.Globals.Get("K"); !k.IsConstant() || !variant.Equal(k.Value, variant.FromInt(4)) { t.Fatalf("K = %+v", k) }

	fill := doc.Globals.Get("FILL")
	a := fill.Parameters[1]
	if !a.IsByRef() || !a.IsParameter() || a.Rank() != 1 { t.Fatalf("A = %+v", a) }
	if a.Dimensions[0].Lower != nil || !a.Dimensions[0].IsDynamic() { t.Fatal("A(N) should default its lower bound and be dynamic") }
	if !doc.Globals.Get("MAIN").Is(symbols.ModEntryPoint) { t.Fatal("MAIN should carry the entry-point modifier") }

	main := doc.Root.Data.(ast.ProgramNode).Units[0].Data.(ast.ProcedureNode)
	g := main.Locals.Get("G")
	if size, ok := g.Dimensions[0].Size(); !ok || size != 5 || g.IsReferenced() { t.Fatalf("G(0:K): size %d %v, referenced %v", size, ok, g.IsReferenced()) }
	if s := main.Locals.Get("S"); s.FullType != symbols.FixedChar(8) { t.Fatalf("S type = %+v", s.FullType) }
	sq := main.Locals.Get("SQ")
	if sq.Definition == nil || sq.Parameters[0].Scope != symbols.ScopeParameter { t.Fatalf("SQ = %+v", sq) }

	var kinds []ast.NodeType
	for _, s := range main.Body.Data.(ast.BlockNode).Stmts {
		kinds = append(kinds, s.Type)
	}
	want := []ast.NodeType{ast.Label, ast.Assignment, ast.Assignment, ast.ComputedGoto, ast.Label, ast.Conditional}
	if diff := cmp.Diff(want, kinds); diff != "" { t.Fatalf("statement kinds (-want +got):\n%s", diff) }
}

func TestLiterals(t *testing.T) {
	tests := []struct {
		typ, value string
		want       variant.Variant
	}{
		{"integer", "-7", variant.FromInt(-7)},
		{"real", "0.5", variant.FromFloat32(0.5)},
		{"double", "2.25", variant.FromFloat64(2.25)},
		{"complex", "[1, -2]", variant.FromComplex(complex(1, -2))},
		{"logical", "true", variant.FromBool(true)},
		{"character", `"abc"`, variant.FromString("abc")},
	}
	for _, tt := range tests {
		got, err := literal(&wireNode{Type: tt.typ, Value: []byte(tt.value)})
		if err != nil {
			t.Errorf("%s %s: %v", tt.typ, tt.value, err)
			continue
		}
		if got.Tag() != tt.want.Tag() || !variant.Equal(got, tt.want) { t.Errorf("%s %s = %v, want %v", tt.typ, tt.value, got, tt.want) }
	}
	if _, err := literal(&wireNode{Type: "integer"}); err == nil { t.Error("a literal without a value should be rejected") }
}

func TestSubstringOfElement(t *testing.T) {
	doc := decode(t, `{
  "version": "1.1.0",
  "program": {
    "name": "T",
    "globals": [{"name": "S", "class": "subroutine"}],
    "units": [
      {"symbol": "S",
       "locals": [{"name": "C", "type": "character", "width": 4, "dims": [{"upper": {"kind": "literal", "type": "integer", "value": 3}}]}],
       "body": [
         {"kind": "assign",
          "targets": [{"kind": "ident", "name": "C", "indexes": [{"kind": "literal", "type": "integer", "value": 2}],
                       "substring": {"start": {"kind": "literal", "type": "integer", "value": 1}, "end": {"kind": "literal", "type": "integer", "value": 2}}}],
          "values": [{"kind": "literal", "type": "character", "value": "xy"}]}
       ]}
    ]
  }
}`)
	unit := doc.Root.Data.(ast.ProgramNode).Units[0].Data.(ast.ProcedureNode)
	assign := unit.Body.Data.(ast.BlockNode).Stmts[0].Data.(ast.AssignmentNode)
	target := assign.Targets[0].Data.(ast.IdentNode)
	if target.Substring == nil || len(target.Indexes) != 1 || target.Indexes[0].Value().AsInt() != 2 {
		t.Fatalf("C(2)(1:2) decoded as %+v", target)
	}
}
