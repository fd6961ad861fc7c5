// Package emitter accumulates the instructions of one routine and manages
// its local slots.
package emitter

import (
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/optimizer"
	"github.com/xplshn/gfc/pkg/runtime"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

// Temporary is one pooled scratch slot.
type Temporary struct {
	Local *ir.Local
	InUse bool
}

type Emitter struct {
	routine    *ir.Routine
	code       []*ir.Instruction
	captures   [][]*ir.Instruction
	temps      []*Temporary
	labelCount int
	finished   bool

	// Debug enables source-position markers.
	Debug bool
	// Stats holds what the optimizer changed once Finish has run.
	Stats optimizer.Stats
}

func New(name string, params []ir.Param, ret ir.Type) *Emitter {
	return &Emitter{routine: &ir.Routine{Name: name, Params: params, Return: ret}}
}

func (e *Emitter) Routine() *ir.Routine { return e.routine }

// Code returns the instructions emitted so far, deleted ones included.
func (e *Emitter) Code() []*ir.Instruction { return e.code }

// Len returns the number of instructions in the main buffer.
func (e *Emitter) Len() int { return len(e.code) }

func (e *Emitter) add(instr *ir.Instruction) *ir.Instruction {
	util.Assert(!e.finished, "emission into finished routine '%s'", e.routine.Name)
	if n := len(e.captures); n > 0 {
		e.captures[n-1] = append(e.captures[n-1], instr)
	} else {
		e.code = append(e.code, instr)
	}
	return instr
}

func (e *Emitter) Emit(op ir.Op) *ir.Instruction { return e.add(&ir.Instruction{Op: op}) }

func (e *Emitter) EmitOperand(op ir.Op, operand ir.Operand) *ir.Instruction {
	return e.add(&ir.Instruction{Op: op, Operand: operand})
}

// Capture runs fn with emission redirected to a side buffer and returns
// what it produced, for emission later with EmitAll.
func (e *Emitter) Capture(fn func()) []*ir.Instruction {
	e.captures = append(e.captures, nil)
	fn()
	n := len(e.captures) - 1
	out := e.captures[n]
	e.captures = e.captures[:n]
	return out
}

func (e *Emitter) EmitAll(code []*ir.Instruction) {
	for _, instr := range code {
		e.add(instr)
	}
}

// IsTerminated reports whether the last live instruction in the current
// buffer never falls through.
func (e *Emitter) IsTerminated() bool {
	buf := e.code
	if n := len(e.captures); n > 0 { buf = e.captures[n-1] }
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i].Deleted || buf[i].Op == ir.OpMarker { continue }
		switch buf[i].Op {
		case ir.OpBr, ir.OpRet, ir.OpThrow: return true
		}
		return false
	}
	return false
}

// --- locals and temporaries ---

// NewLocal allocates a named slot that lives for the whole routine.
func (e *Emitter) NewLocal(t ir.Type, name string) *ir.Local {
	l := &ir.Local{Index: len(e.routine.Locals), Type: t, Name: name}
	e.routine.Locals = append(e.routine.Locals, l)
	return l
}

// GetTemporary returns a free slot of type t, allocating one when none is free.
func (e *Emitter) GetTemporary(t ir.Type) *ir.Local {
	for _, tmp := range e.temps {
		if !tmp.InUse && tmp.Local.Type == t {
			tmp.InUse = true
			return tmp.Local
		}
	}
	tmp := &Temporary{Local: e.NewLocal(t, ""), InUse: true}
	e.temps = append(e.temps, tmp)
	return tmp.Local
}

// ReleaseTemporary returns l to the pool.
func (e *Emitter) ReleaseTemporary(l *ir.Local) {
	for _, tmp := range e.temps {
		if tmp.Local == l {
			util.Assert(tmp.InUse, "temporary %d released twice", l.Index)
			tmp.InUse = false
			return
		}
	}
	panic(util.Internalf("local %d is not a temporary", l.Index))
}

// TemporariesInUse counts slots not yet released.
func (e *Emitter) TemporariesInUse() int {
	n := 0
	for _, tmp := range e.temps {
		if tmp.InUse { n++ }
	}
	return n
}

// --- labels and markers ---

func (e *Emitter) NewLabel() *ir.Label {
	e.labelCount++
	return &ir.Label{ID: e.labelCount}
}

func (e *Emitter) NewNamedLabel(name string) *ir.Label {
	e.labelCount++
	return &ir.Label{ID: e.labelCount, Name: name}
}

func (e *Emitter) MarkLabel(l *ir.Label) { e.EmitOperand(ir.OpLabel, l) }

func (e *Emitter) MarkLine(file string, line int) {
	if e.Debug && line > 0 { e.EmitOperand(ir.OpMarker, &ir.Marker{File: file, Line: line}) }
}

// --- constants ---

func (e *Emitter) LoadInteger(v int32)     { e.EmitOperand(ir.OpLdcI4, &ir.Int{Value: v}) }
func (e *Emitter) LoadFloat32(v float32)   { e.EmitOperand(ir.OpLdcR4, &ir.Float32{Value: v}) }
func (e *Emitter) LoadFloat64(v float64)   { e.EmitOperand(ir.OpLdcR8, &ir.Float64{Value: v}) }
func (e *Emitter) LoadString(v string)     { e.EmitOperand(ir.OpLdStr, &ir.Str{Value: v}) }
func (e *Emitter) LoadNull()               { e.Emit(ir.OpLdNull) }
func (e *Emitter) LoadBoolean(v bool) {
	if v { e.LoadInteger(1) } else { e.LoadInteger(0) }
}

// LoadValue pushes v converted to kind k and returns the kind pushed.
func (e *Emitter) LoadValue(v variant.Variant, k ir.Kind) ir.Kind {
	switch k {
	case ir.KindInt32: e.LoadInteger(v.AsInt())
	case ir.KindBool: e.LoadBoolean(v.AsBool())
	case ir.KindFloat32: e.LoadFloat32(v.AsFloat32())
	case ir.KindFloat64: e.LoadFloat64(v.AsFloat64())
	case ir.KindComplex:
		c := v.AsComplex()
		e.LoadFloat64(real(c))
		e.LoadFloat64(imag(c))
		e.CreateObject(runtime.ComplexNew)
	case ir.KindString: e.LoadString(v.AsString())
	case ir.KindFixedString:
		e.LoadString(v.AsString())
		e.Call(runtime.FixedStringFromStr)
	default:
		panic(util.Internalf("cannot load constant %s as %s", v, ir.Type{Kind: k}))
	}
	return k
}

// --- storage ---

func (e *Emitter) LoadLocal(l *ir.Local)          { e.EmitOperand(ir.OpLdLoc, l) }
func (e *Emitter) StoreLocal(l *ir.Local)         { e.EmitOperand(ir.OpStLoc, l) }
func (e *Emitter) LoadLocalAddress(l *ir.Local)   { e.EmitOperand(ir.OpLdLocA, l) }
func (e *Emitter) LoadParameter(i int)            { e.EmitOperand(ir.OpLdArg, &ir.Int{Value: int32(i)}) }
func (e *Emitter) StoreParameter(i int)           { e.EmitOperand(ir.OpStArg, &ir.Int{Value: int32(i)}) }
func (e *Emitter) LoadParameterAddress(i int)     { e.EmitOperand(ir.OpLdArgA, &ir.Int{Value: int32(i)}) }
func (e *Emitter) LoadStatic(f *ir.FieldRef)      { e.EmitOperand(ir.OpLdSFld, f) }
func (e *Emitter) StoreStatic(f *ir.FieldRef)     { e.EmitOperand(ir.OpStSFld, f) }
func (e *Emitter) LoadStaticAddress(f *ir.FieldRef) { e.EmitOperand(ir.OpLdSFldA, f) }
func (e *Emitter) LoadIndirect(t ir.Type)         { e.EmitOperand(ir.OpLdInd, &ir.TypeRef{Type: t}) }
func (e *Emitter) StoreIndirect(t ir.Type)        { e.EmitOperand(ir.OpStInd, &ir.TypeRef{Type: t}) }
func (e *Emitter) LoadElement(t ir.Type)          { e.EmitOperand(ir.OpLdElem, &ir.TypeRef{Type: t}) }
func (e *Emitter) StoreElement(t ir.Type)         { e.EmitOperand(ir.OpStElem, &ir.TypeRef{Type: t}) }
func (e *Emitter) LoadElementAddress(t ir.Type)   { e.EmitOperand(ir.OpLdElemA, &ir.TypeRef{Type: t}) }
func (e *Emitter) LoadLength()                    { e.Emit(ir.OpLdLen) }
func (e *Emitter) CreateVector(elem ir.Type)      { e.EmitOperand(ir.OpNewArr, &ir.TypeRef{Type: elem}) }
func (e *Emitter) CreateObject(ctor *ir.MethodRef) { e.EmitOperand(ir.OpNewObj, ctor) }

// --- arithmetic and logic ---

func (e *Emitter) Add()            { e.Emit(ir.OpAdd) }
func (e *Emitter) Sub()            { e.Emit(ir.OpSub) }
func (e *Emitter) Mul()            { e.Emit(ir.OpMul) }
func (e *Emitter) Div()            { e.Emit(ir.OpDiv) }
func (e *Emitter) Rem()            { e.Emit(ir.OpRem) }
func (e *Emitter) Neg()            { e.Emit(ir.OpNeg) }
func (e *Emitter) And()            { e.Emit(ir.OpAnd) }
func (e *Emitter) Or()             { e.Emit(ir.OpOr) }
func (e *Emitter) Xor()            { e.Emit(ir.OpXor) }
func (e *Emitter) Not()            { e.Emit(ir.OpNot) }
func (e *Emitter) CompareEqual()   { e.Emit(ir.OpCeq) }
func (e *Emitter) CompareGreater() { e.Emit(ir.OpCgt) }
func (e *Emitter) CompareLess()    { e.Emit(ir.OpClt) }
func (e *Emitter) Dup()            { e.Emit(ir.OpDup) }
func (e *Emitter) Pop()            { e.Emit(ir.OpPop) }
func (e *Emitter) Throw()          { e.Emit(ir.OpThrow) }
func (e *Emitter) Return()         { e.Emit(ir.OpRet) }

// Negate flips the boolean on top of the stack with xor against true.
// The peephole pass recognizes this shape when it feeds a branch.
func (e *Emitter) Negate() {
	e.LoadInteger(1)
	e.Xor()
	e.Emit(ir.OpConvU1)
}

// --- control flow ---

func (e *Emitter) Branch(l *ir.Label)             { e.EmitOperand(ir.OpBr, l) }
func (e *Emitter) BranchIfTrue(l *ir.Label)       { e.EmitOperand(ir.OpBrTrue, l) }
func (e *Emitter) BranchIfFalse(l *ir.Label)      { e.EmitOperand(ir.OpBrFalse, l) }
func (e *Emitter) BranchOn(op ir.Op, l *ir.Label) {
	util.Assert(op.IsBranch(), "%s is not a branch", op)
	e.EmitOperand(op, l)
}
func (e *Emitter) Switch(labels []*ir.Label) { e.EmitOperand(ir.OpSwitch, &ir.LabelArray{Labels: labels}) }
func (e *Emitter) Call(m *ir.MethodRef)      { e.EmitOperand(ir.OpCall, m) }

// --- exception regions ---

func (e *Emitter) SetupTryBlock() { e.Emit(ir.OpTry) }

// AddCatchBlock opens the handler; a non-nil err receives the error.
func (e *Emitter) AddCatchBlock(err *ir.Local) { e.EmitOperand(ir.OpCatch, &ir.Catch{Err: err}) }
func (e *Emitter) CloseTryBlock()             { e.Emit(ir.OpEndCatch) }

// AddDefaultCatch opens the top-level handler that reports and ends the program.
func (e *Emitter) AddDefaultCatch() { e.Emit(ir.OpDefaultCatch) }

// --- conversions ---

// Convert emits what turns a value of type from into one of type to.
func (e *Emitter) Convert(from, to ir.Type) {
	if from == to { return }
	switch to.Kind {
	case ir.KindInt32:
		switch from.Kind {
		case ir.KindFloat32, ir.KindFloat64, ir.KindBool: e.Emit(ir.OpConvI4)
		case ir.KindComplex:
			e.Call(runtime.ComplexReal)
			e.Emit(ir.OpConvI4)
		case ir.KindString: e.Call(runtime.Method(runtime.OwnerConvert, "ToInt32", ir.TypeString))
		case ir.KindFixedString:
			e.Call(runtime.FixedStringToString)
			e.Call(runtime.Method(runtime.OwnerConvert, "ToInt32", ir.TypeString))
		default: e.badConvert(from, to)
		}
	case ir.KindFloat32:
		switch from.Kind {
		case ir.KindInt32, ir.KindFloat64, ir.KindBool: e.Emit(ir.OpConvR4)
		case ir.KindComplex:
			e.Call(runtime.ComplexReal)
			e.Emit(ir.OpConvR4)
		default: e.badConvert(from, to)
		}
	case ir.KindFloat64:
		switch from.Kind {
		case ir.KindInt32, ir.KindFloat32, ir.KindBool: e.Emit(ir.OpConvR8)
		case ir.KindComplex: e.Call(runtime.ComplexReal)
		case ir.KindString: e.Call(runtime.Method(runtime.OwnerConvert, "ToDouble", ir.TypeString))
		default: e.badConvert(from, to)
		}
	case ir.KindComplex:
		switch from.Kind {
		case ir.KindInt32, ir.KindFloat32, ir.KindBool: e.Emit(ir.OpConvR8)
		case ir.KindFloat64:
		default: e.badConvert(from, to)
		}
		e.LoadFloat64(0)
		e.CreateObject(runtime.ComplexNew)
	case ir.KindBool:
		switch from.Kind {
		case ir.KindInt32:
			e.LoadInteger(0)
			e.CompareEqual()
			e.Negate()
		case ir.KindFloat32, ir.KindFloat64:
			e.Emit(ir.OpConvR8)
			e.LoadFloat64(0)
			e.CompareEqual()
			e.Negate()
		default: e.badConvert(from, to)
		}
	case ir.KindString:
		switch from.Kind {
		case ir.KindFixedString: e.Call(runtime.FixedStringToString)
		case ir.KindInt32, ir.KindFloat32, ir.KindFloat64, ir.KindBool: e.Call(runtime.ToString(from))
		default: e.badConvert(from, to)
		}
	case ir.KindFixedString:
		switch from.Kind {
		case ir.KindString: e.Call(runtime.FixedStringFromStr)
		case ir.KindInt32, ir.KindFloat32, ir.KindFloat64, ir.KindBool:
			e.Call(runtime.ToString(from))
			e.Call(runtime.FixedStringFromStr)
		default: e.badConvert(from, to)
		}
	case ir.KindObject, ir.KindNone:
	default:
		e.badConvert(from, to)
	}
}

func (e *Emitter) badConvert(from, to ir.Type) {
	panic(util.Internalf("no conversion from %s to %s", from, to))
}

// Finish optimizes the buffer and returns the completed routine. No
// instruction may be emitted afterwards.
func (e *Emitter) Finish() *ir.Routine {
	util.Assert(len(e.captures) == 0, "routine '%s' finished inside a capture", e.routine.Name)
	e.Stats = optimizer.Optimize(e.code)
	e.routine.Code = e.code
	e.finished = true
	return e.routine
}
