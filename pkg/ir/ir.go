package ir

import (
	"fmt"
	"strconv"
	"strings"
)

type Op int

const (
	OpNop Op = iota
	OpLdcI4
	OpLdcR4
	OpLdcR8
	OpLdStr
	OpLdNull
	OpLdLoc
	OpStLoc
	OpLdLocA
	OpLdArg
	OpStArg
	OpLdArgA
	OpLdSFld
	OpStSFld
	OpLdSFldA
	OpLdInd
	OpStInd
	OpLdElem
	OpStElem
	OpLdElemA
	OpLdLen
	OpNewArr
	OpNewObj
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg
	OpAnd
	OpOr
	OpXor
	OpNot
	OpCeq
	OpCgt
	OpClt
	OpConvI4
	OpConvR4
	OpConvR8
	OpConvU1
	OpBr
	OpBrTrue
	OpBrFalse
	OpBeq
	OpBne
	OpBlt
	OpBle
	OpBgt
	OpBge
	OpSwitch
	OpCall
	OpRet
	OpDup
	OpPop
	OpThrow
	OpLabel
	OpMarker
	OpTry
	OpCatch
	OpEndCatch
	OpDefaultCatch
	opCount
)

var opNames = [opCount]string{
	OpNop: "nop", OpLdcI4: "ldc.i4", OpLdcR4: "ldc.r4", OpLdcR8: "ldc.r8", OpLdStr: "ldstr", OpLdNull: "ldnull",
	OpLdLoc: "ldloc", OpStLoc: "stloc", OpLdLocA: "ldloca", OpLdArg: "ldarg", OpStArg: "starg", OpLdArgA: "ldarga",
	OpLdSFld: "ldsfld", OpStSFld: "stsfld", OpLdSFldA: "ldsflda", OpLdInd: "ldind", OpStInd: "stind",
	OpLdElem: "ldelem", OpStElem: "stelem", OpLdElemA: "ldelema", OpLdLen: "ldlen", OpNewArr: "newarr", OpNewObj: "newobj",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem", OpNeg: "neg",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not", OpCeq: "ceq", OpCgt: "cgt", OpClt: "clt",
	OpConvI4: "conv.i4", OpConvR4: "conv.r4", OpConvR8: "conv.r8", OpConvU1: "conv.u1",
	OpBr: "br", OpBrTrue: "brtrue", OpBrFalse: "brfalse", OpBeq: "beq", OpBne: "bne.un", OpBlt: "blt",
	OpBle: "ble", OpBgt: "bgt", OpBge: "bge", OpSwitch: "switch", OpCall: "call", OpRet: "ret",
	OpDup: "dup", OpPop: "pop", OpThrow: "throw", OpLabel: ".label", OpMarker: ".line",
	OpTry: ".try", OpCatch: ".catch", OpEndCatch: ".endcatch", OpDefaultCatch: ".defaultcatch",
}

func (op Op) String() string {
	if op >= 0 && op < opCount { return opNames[op] }
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// IsBranch reports whether op transfers control to a label operand.
func (op Op) IsBranch() bool { return op >= OpBr && op <= OpBge }

// IsConditionalBranch reports whether op is a branch that may fall through.
func (op Op) IsConditionalBranch() bool { return op > OpBr && op <= OpBge }

// IsPseudo reports whether op marks a position rather than executing.
func (op Op) IsPseudo() bool { return op >= OpLabel }

type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt32
	KindFloat32
	KindFloat64
	KindComplex
	KindString
	KindFixedString
	KindObject
	KindVector
	KindArray
	KindByRef
	KindFunc
)

var kindNames = map[Kind]string{
	KindNone: "void", KindBool: "bool", KindInt32: "int32", KindFloat32: "float32", KindFloat64: "float64",
	KindComplex: "complex", KindString: "string", KindFixedString: "fixedstring", KindObject: "object",
	KindVector: "vector", KindArray: "array", KindByRef: "byref", KindFunc: "func",
}

// Type is a machine-level type. Vector, Array and ByRef carry an element
// kind; Array carries its rank.
type Type struct {
	Kind Kind
	Elem Kind
	Rank int
}

var (
	TypeNone        = Type{Kind: KindNone}
	TypeBool        = Type{Kind: KindBool}
	TypeInt32       = Type{Kind: KindInt32}
	TypeFloat32     = Type{Kind: KindFloat32}
	TypeFloat64     = Type{Kind: KindFloat64}
	TypeComplex     = Type{Kind: KindComplex}
	TypeString      = Type{Kind: KindString}
	TypeFixedString = Type{Kind: KindFixedString}
	TypeObject      = Type{Kind: KindObject}
	TypeFunc        = Type{Kind: KindFunc}
)

func VectorOf(elem Kind) Type         { return Type{Kind: KindVector, Elem: elem, Rank: 1} }
func ArrayOf(elem Kind, rank int) Type { return Type{Kind: KindArray, Elem: elem, Rank: rank} }
func RefTo(elem Kind) Type            { return Type{Kind: KindByRef, Elem: elem} }

// ElemType returns the element type of a vector, array or reference.
func (t Type) ElemType() Type { return Type{Kind: t.Elem} }

// IsScalar reports whether values of t fit a single stack slot by value.
func (t Type) IsScalar() bool { return t.Kind >= KindBool && t.Kind <= KindString }

func (t Type) String() string {
	switch t.Kind {
	case KindVector: return kindNames[t.Elem] + "[]"
	case KindArray: return kindNames[t.Elem] + "[" + strings.Repeat(",", t.Rank-1) + "]"
	case KindByRef: return kindNames[t.Elem] + "&"
	}
	return kindNames[t.Kind]
}

type Operand interface {
	isOperand()
	String() string
}

type Int struct{ Value int32 }
type Float32 struct{ Value float32 }
type Float64 struct{ Value float64 }
type Str struct{ Value string }
type Label struct{ ID int; Name string }
type LabelArray struct{ Labels []*Label }
type TypeRef struct{ Type Type }

// Local is a routine-local storage slot.
type Local struct {
	Index int
	Type  Type
	Name  string
}

// FieldRef names static storage owned by the program.
type FieldRef struct {
	Owner string
	Name  string
	Type  Type
}

// MethodRef names a callee: a routine of the program (Owner empty) or a
// runtime support method. Ctor marks an object constructor used by newobj.
type MethodRef struct {
	Owner  string
	Name   string
	Params []Type
	Return Type
	Ctor   bool
}

// Marker is a source position recorded for debug information.
type Marker struct {
	File string
	Line int
}

// Catch opens a handler; Err, when set, receives the caught error.
type Catch struct{ Err *Local }

func (*Int) isOperand()        {}
func (*Float32) isOperand()    {}
func (*Float64) isOperand()    {}
func (*Str) isOperand()        {}
func (*Label) isOperand()      {}
func (*LabelArray) isOperand() {}
func (*TypeRef) isOperand()    {}
func (*Local) isOperand()      {}
func (*FieldRef) isOperand()   {}
func (*MethodRef) isOperand()  {}
func (*Marker) isOperand()     {}
func (*Catch) isOperand()      {}

func (o *Int) String() string     { return strconv.FormatInt(int64(o.Value), 10) }
func (o *Float32) String() string { return strconv.FormatFloat(float64(o.Value), 'g', -1, 32) }
func (o *Float64) String() string { return strconv.FormatFloat(o.Value, 'g', -1, 64) }
func (o *Str) String() string     { return strconv.Quote(o.Value) }
func (o *Label) String() string {
	if o.Name != "" { return o.Name }
	return fmt.Sprintf("L%d", o.ID)
}
func (o *LabelArray) String() string {
	names := make([]string, len(o.Labels))
	for i, l := range o.Labels {
		names[i] = l.String()
	}
	return "(" + strings.Join(names, ", ") + ")"
}
func (o *TypeRef) String() string { return o.Type.String() }
func (o *Local) String() string {
	if o.Name != "" { return fmt.Sprintf("%d (%s)", o.Index, o.Name) }
	return strconv.Itoa(o.Index)
}
func (o *FieldRef) String() string { return o.Type.String() + " " + o.Owner + "::" + o.Name }
func (o *MethodRef) String() string {
	params := make([]string, len(o.Params))
	for i, p := range o.Params {
		params[i] = p.String()
	}
	name := o.Name
	if o.Owner != "" { name = o.Owner + "::" + o.Name }
	if o.Ctor { name = o.Owner + "::.ctor" }
	return fmt.Sprintf("%s %s(%s)", o.Return, name, strings.Join(params, ", "))
}
func (o *Marker) String() string { return fmt.Sprintf("%s:%d", o.File, o.Line) }
func (o *Catch) String() string {
	if o.Err != nil { return "err -> " + o.Err.String() }
	return ""
}

// Instruction is one target instruction. A deleted instruction stays in its
// slot so that positions remain stable; materialization skips it.
type Instruction struct {
	Op      Op
	Operand Operand
	Deleted bool
}

func (i *Instruction) String() string {
	if i.Operand == nil { return i.Op.String() }
	if i.Op == OpLabel { return i.Operand.String() + ":" }
	return i.Op.String() + " " + i.Operand.String()
}

// Target returns the label operand of a branch or label definition.
func (i *Instruction) Target() *Label {
	l, _ := i.Operand.(*Label)
	return l
}

// LocalOperand returns the local operand of ldloc/stloc/ldloca.
func (i *Instruction) LocalOperand() *Local {
	l, _ := i.Operand.(*Local)
	return l
}

// IntOperand returns the integer operand and whether one is present.
func (i *Instruction) IntOperand() (int32, bool) {
	if n, ok := i.Operand.(*Int); ok { return n.Value, true }
	return 0, false
}

// SameStorage reports whether a and b address the same local, argument or
// static field.
func SameStorage(a, b Operand) bool {
	switch x := a.(type) {
	case *Local:
		y, ok := b.(*Local)
		return ok && x.Index == y.Index
	case *Int:
		y, ok := b.(*Int)
		return ok && x.Value == y.Value
	case *FieldRef:
		y, ok := b.(*FieldRef)
		return ok && (x == y || (x.Owner == y.Owner && x.Name == y.Name))
	}
	return false
}

type Param struct {
	Name string
	Type Type
}

// Routine is one materializable method body.
type Routine struct {
	Name       string
	Params     []Param
	Return     Type
	Locals     []*Local
	Code       []*Instruction
	Exported   bool
	EntryPoint bool
}

// Live returns the instructions that are not marked deleted.
func (r *Routine) Live() []*Instruction {
	out := make([]*Instruction, 0, len(r.Code))
	for _, instr := range r.Code {
		if !instr.Deleted { out = append(out, instr) }
	}
	return out
}

func (r *Routine) Ref() *MethodRef {
	params := make([]Type, len(r.Params))
	for i, p := range r.Params {
		params[i] = p.Type
	}
	return &MethodRef{Name: r.Name, Params: params, Return: r.Return}
}

type Program struct {
	Name     string
	Routines []*Routine
	Statics  []*FieldRef
}

func (p *Program) FindRoutine(name string) *Routine {
	for _, r := range p.Routines {
		if strings.EqualFold(r.Name, name) { return r }
	}
	return nil
}

func (p *Program) AddStatic(f *FieldRef) *FieldRef {
	for _, s := range p.Statics {
		if s.Owner == f.Owner && s.Name == f.Name { return s }
	}
	p.Statics = append(p.Statics, f)
	return f
}

// EntryPoint returns the routine marked as program entry, if any.
func (p *Program) EntryPoint() *Routine {
	for _, r := range p.Routines {
		if r.EntryPoint { return r }
	}
	return nil
}
