package symbols

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

type constExpr struct{ v variant.Variant }

func (c constExpr) IsConstant() bool         { return true }
func (c constExpr) Value() variant.Variant { return c.v }

type dynExpr struct{}

func (dynExpr) IsConstant() bool         { return false }
func (dynExpr) Value() variant.Variant { return variant.Variant{} }

func ci(n int32) Expr { return constExpr{variant.FromInt(n)} }

func TestLargestTypeTable(t *testing.T) {
	tests := []struct {
		a, b, want SymType
	}{
		{TypeInteger, TypeInteger, TypeInteger},
		{TypeInteger, TypeFloat, TypeFloat},
		{TypeFloat, TypeInteger, TypeFloat},
		{TypeInteger, TypeDouble, TypeDouble},
		{TypeDouble, TypeInteger, TypeDouble},
		{TypeFloat, TypeDouble, TypeDouble},
		{TypeDouble, TypeFloat, TypeDouble},
		{TypeFloat, TypeComplex, TypeComplex},
		{TypeComplex, TypeFloat, TypeComplex},
		{TypeDouble, TypeComplex, TypeDouble},
		{TypeComplex, TypeDouble, TypeComplex},
		{TypeInteger, TypeComplex, TypeComplex},
	}
	for _, tt := range tests {
		if got := LargestType(tt.a, tt.b); got != tt.want {
			t.Errorf("LargestType(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsValueType(t *testing.T) {
	for _, vt := range []SymType{TypeBoolean, TypeChar, TypeDouble, TypeFloat, TypeInteger, TypeComplex} {
		if !vt.IsValueType() { t.Errorf("%s should be a value type", vt) }
	}
	if TypeFixedChar.IsValueType() { t.Error("fixed character must not be a value type") }
	arr := &Symbol{Name: "A", FullType: NewFullType(TypeInteger), Class: ClassVariable, Dimensions: []*Dimension{NewDimension(nil, ci(10))}}
	if arr.IsValueType() { t.Error("array symbol must not be a value type") }
}

func TestDimensionSize(t *testing.T) {
	d := NewDimension(ci(-2), ci(5))
	if n, ok := d.Size(); !ok || n != 8 { t.Fatalf("Size() = %d, %v; want 8, true", n, ok) }
	d = NewDimension(nil, ci(4))
	if n, ok := d.Size(); !ok || n != 4 { t.Fatalf("default lower bound: Size() = %d, %v", n, ok) }
	d = NewDimension(nil, dynExpr{})
	if !d.IsDynamic() { t.Fatal("dimension with a run-time upper bound should be dynamic") }
}

func TestSystemTypeFor(t *testing.T) {
	dims2 := []*Dimension{NewDimension(nil, ci(3)), NewDimension(nil, ci(4))}
	tests := []struct {
		name string
		sym  *Symbol
		want ir.Type
	}{
		{"scalar", &Symbol{FullType: NewFullType(TypeDouble), Class: ClassVariable}, ir.TypeFloat64},
		{"vector", &Symbol{FullType: NewFullType(TypeInteger), Class: ClassVariable, Dimensions: dims2[:1]}, ir.VectorOf(ir.KindInt32)},
		{"array", &Symbol{FullType: NewFullType(TypeFloat), Class: ClassVariable, Dimensions: dims2}, ir.ArrayOf(ir.KindFloat32, 2)},
		{"flat", &Symbol{FullType: NewFullType(TypeFloat), Class: ClassVariable, Dimensions: dims2, Modifier: ModFlatArray}, ir.VectorOf(ir.KindFloat32)},
		{"external", &Symbol{FullType: NewFullType(TypeInteger), Class: ClassFunction, Modifier: ModExternal}, ir.TypeFunc},
		{"function", &Symbol{FullType: NewFullType(TypeInteger), Class: ClassFunction}, ir.TypeFunc},
		{"subroutine", &Symbol{Class: ClassSubroutine}, ir.TypeFunc},
		{"statement function", &Symbol{FullType: NewFullType(TypeDouble), Class: ClassInline}, ir.TypeFunc},
		{"fixed", &Symbol{FullType: FixedChar(8), Class: ClassVariable}, ir.TypeFixedString},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SystemTypeFor(tt.sym)); diff != "" {
			t.Errorf("%s: SystemTypeFor mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func TestCollectionCaseAndReplace(t *testing.T) {
	c := NewCollection(false)
	first := c.Add(&Symbol{Name: "Alpha"})
	c.Add(&Symbol{Name: "beta"})
	second := c.Add(&Symbol{Name: "ALPHA"})
	if c.Get("alpha") != second || c.Get("alpha") == first { t.Fatal("last write should win for case-insensitive names") }
	if c.Len() != 2 { t.Fatalf("Len() = %d, want 2", c.Len()) }

	cs := NewCollection(true)
	cs.Add(&Symbol{Name: "x"})
	if cs.Get("X") != nil { t.Fatal("case-sensitive collection matched a different case") }
}

func TestStackResolveAndPop(t *testing.T) {
	global := NewCollection(false)
	g := global.Add(&Symbol{Name: "N"})
	st := NewStack(global)
	local := NewCollection(false)
	l := local.Add(&Symbol{Name: "n"})
	st.Push(local)
	if s, ok := st.Resolve("N"); !ok || s != l { t.Fatal("resolution should start at the innermost scope") }
	st.Pop()
	if s, ok := st.Resolve("n"); !ok || s != g { t.Fatal("global symbol not found after pop") }

	defer func() {
		r := recover()
		if _, ok := r.(*util.InternalError); !ok { t.Fatalf("popping the global scope should raise an internal error, got %v", r) }
	}()
	st.Pop()
}

func TestHandleAccessors(t *testing.T) {
	s := &Symbol{Name: "I", FullType: NewFullType(TypeInteger), Class: ClassVariable}
	loc := &ir.Local{Index: 3, Type: ir.TypeInt32}
	s.SetHandle(&LocalHandle{Local: loc})
	if s.Local() != loc { t.Fatal("Local() did not return the assigned slot") }

	defer func() {
		if recover() == nil { t.Fatal("Field() on a local symbol should panic") }
	}()
	s.Field()
}

func TestCommonRedirect(t *testing.T) {
	block := &Symbol{Name: "BLK", Class: ClassCommon}
	f0 := &ir.FieldRef{Owner: "BLK", Name: "BLK_0", Type: ir.TypeInt32}
	f1 := &ir.FieldRef{Owner: "BLK", Name: "BLK_1", Type: ir.TypeFloat64}
	block.SetHandle(&CommonHandle{Fields: []*ir.FieldRef{f0, f1}})
	member := &Symbol{Name: "D", FullType: NewFullType(TypeDouble), Class: ClassVariable, Common: block, CommonIndex: 1}
	if !member.IsStaticStorage() || member.StorageField() != f1 { t.Fatal("common member should resolve to its block's field") }
}

func TestDump(t *testing.T) {
	c := NewCollection(false)
	c.Add(&Symbol{Name: "M", FullType: NewFullType(TypeInteger), Class: ClassVariable,
		Dimensions: []*Dimension{NewDimension(nil, ci(2)), NewDimension(nil, dynExpr{})}})
	var buf bytes.Buffer
	c.Dump(&buf)
	if !strings.Contains(buf.String(), "(2,*)") { t.Fatalf("dump %q missing dimension summary", buf.String()) }
}
