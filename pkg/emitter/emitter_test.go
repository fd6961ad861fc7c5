package emitter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/variant"
)

func listing(code []*ir.Instruction) []string {
	var out []string
	for _, instr := range code {
		if !instr.Deleted { out = append(out, instr.String()) }
	}
	return out
}

func TestTemporaryPool(t *testing.T) {
	e := New("T", nil, ir.TypeNone)
	a := e.GetTemporary(ir.TypeInt32)
	b := e.GetTemporary(ir.TypeInt32)
	if a == b { t.Fatal("two live temporaries must not share a slot") }
	e.ReleaseTemporary(a)
	if c := e.GetTemporary(ir.TypeInt32); c != a { t.Fatalf("released slot %d should be reused, got %d", a.Index, c.Index) }
	if d := e.GetTemporary(ir.TypeFloat64); d == a || d == b { t.Fatal("a slot of another type must not be reused") }
	if e.TemporariesInUse() != 3 { t.Fatalf("in use = %d, want 3", e.TemporariesInUse()) }
}

func TestReleaseTwicePanics(t *testing.T) {
	e := New("T", nil, ir.TypeNone)
	a := e.GetTemporary(ir.TypeInt32)
	e.ReleaseTemporary(a)
	defer func() {
		if recover() == nil { t.Fatal("double release should panic") }
	}()
	e.ReleaseTemporary(a)
}

func TestCaptureDefersEmission(t *testing.T) {
	e := New("T", nil, ir.TypeNone)
	e.LoadInteger(1)
	tail := e.Capture(func() {
		e.LoadInteger(2)
		e.Pop()
	})
	e.Pop()
	e.EmitAll(tail)
	want := []string{"ldc.i4 1", "pop", "ldc.i4 2", "pop"}
	if diff := cmp.Diff(want, listing(e.Code())); diff != "" { t.Fatalf("capture mismatch (-want +got):\n%s", diff) }
}

func TestIsTerminated(t *testing.T) {
	e := New("T", nil, ir.TypeNone)
	if e.IsTerminated() { t.Fatal("an empty routine falls through") }
	l := e.NewLabel()
	e.Branch(l)
	if !e.IsTerminated() { t.Fatal("br never falls through") }
	e.MarkLabel(l)
	if e.IsTerminated() { t.Fatal("a label can be reached") }
	e.Return()
	if !e.IsTerminated() { t.Fatal("ret never falls through") }
}

func TestConvert(t *testing.T) {
	tests := []struct {
		from, to ir.Type
		want     []string
	}{
		{ir.TypeInt32, ir.TypeInt32, nil},
		{ir.TypeFloat64, ir.TypeInt32, []string{"conv.i4"}},
		{ir.TypeInt32, ir.TypeFloat32, []string{"conv.r4"}},
		{ir.TypeInt32, ir.TypeBool, []string{"ldc.i4 0", "ceq", "ldc.i4 1", "xor", "conv.u1"}},
		{ir.TypeFixedString, ir.TypeString, []string{"call string FixedString::ToString(fixedstring)"}},
		{ir.TypeFloat64, ir.TypeComplex, []string{"ldc.r8 0", "newobj complex Complex::.ctor(float64, float64)"}},
	}
	for _, tt := range tests {
		e := New("T", nil, ir.TypeNone)
		e.Convert(tt.from, tt.to)
		if diff := cmp.Diff(tt.want, listing(e.Code())); diff != "" { t.Errorf("%s -> %s (-want +got):\n%s", tt.from, tt.to, diff) }
	}
}

func TestConvertUnsupportedPanics(t *testing.T) {
	defer func() {
		if recover() == nil { t.Fatal("converting a vector to a number should be a fault") }
	}()
	New("T", nil, ir.TypeNone).Convert(ir.VectorOf(ir.KindInt32), ir.TypeInt32)
}

func TestLoadValue(t *testing.T) {
	e := New("T", nil, ir.TypeNone)
	e.LoadValue(variant.FromInt(3), ir.KindFloat64)
	e.LoadValue(variant.FromBool(true), ir.KindBool)
	e.LoadValue(variant.FromString("hi"), ir.KindFixedString)
	want := []string{"ldc.r8 3", "ldc.i4 1", `ldstr "hi"`, "call fixedstring FixedString::FromString(string)"}
	if diff := cmp.Diff(want, listing(e.Code())); diff != "" { t.Fatalf("LoadValue mismatch (-want +got):\n%s", diff) }
}

func TestFinishOptimizes(t *testing.T) {
	e := New("T", nil, ir.TypeInt32)
	l := e.NewLocal(ir.TypeInt32, "X")
	e.LoadInteger(7)
	e.StoreLocal(l)
	e.LoadLocal(l)
	e.Return()
	r := e.Finish()
	if diff := cmp.Diff([]string{"ldc.i4 7", "ret"}, listing(r.Code)); diff != "" { t.Fatalf("optimized body (-want +got):\n%s", diff) }
	if e.Stats.Deleted != 2 { t.Fatalf("deleted = %d, want 2", e.Stats.Deleted) }

	defer func() {
		if recover() == nil { t.Fatal("emitting after Finish should panic") }
	}()
	e.Return()
}
