package symbols

import (
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/variant"
)

type SymClass int

const (
	ClassProgram SymClass = iota
	ClassVariable
	ClassCommon
	ClassFunction
	ClassSubroutine
	ClassLabel
	ClassIntrinsic
	ClassInline
)

type SymScope int

const (
	ScopeLocal SymScope = iota
	ScopeParameter
	ScopeConstant
)

type SymLinkage int

const (
	LinkByValue SymLinkage = iota
	LinkByReference
)

type SymModifier uint

const (
	ModExternal SymModifier = 1 << iota
	ModStatic
	ModRetVal
	ModFixed
	ModFlatArray
	ModEntryPoint
	ModExported
)

// Expr is the view of an AST expression that declarations need: array
// bounds and statement function bodies.
type Expr interface {
	IsConstant() bool
	Value() variant.Variant
}

// Dimension is one array axis. A nil Lower means the default lower bound 1.
type Dimension struct {
	Lower Expr
	Upper Expr

	// SizeCache holds the size of a dynamic dimension once it has been
	// computed at routine entry.
	SizeCache *ir.Local
}

func NewDimension(lower, upper Expr) *Dimension { return &Dimension{Lower: lower, Upper: upper} }

func (d *Dimension) LowerBound() (int32, bool) {
	if d.Lower == nil { return 1, true }
	if d.Lower.IsConstant() { return d.Lower.Value().AsInt(), true }
	return 0, false
}

func (d *Dimension) UpperBound() (int32, bool) {
	if d.Upper != nil && d.Upper.IsConstant() { return d.Upper.Value().AsInt(), true }
	return 0, false
}

// Size returns upper-lower+1 when both bounds are constant.
func (d *Dimension) Size() (int32, bool) {
	lo, ok1 := d.LowerBound()
	hi, ok2 := d.UpperBound()
	if !ok1 || !ok2 { return 0, false }
	return hi - lo + 1, true
}

func (d *Dimension) IsDynamic() bool {
	_, ok := d.Size()
	return !ok
}

// Symbol is one declared name.
type Symbol struct {
	Name        string
	FullType    FullType
	Class       SymClass
	Scope       SymScope
	Linkage     SymLinkage
	Modifier    SymModifier
	Dimensions  []*Dimension
	Parameters  []*Symbol
	Common      *Symbol
	CommonIndex int
	Value       variant.Variant
	Referenced  bool
	Tok         token.Token

	// Members lists the member symbols of a common block, in order.
	Members []*Symbol

	// Definition is the body expression of an Inline statement function.
	Definition Expr

	// Handle is assigned by code generation exactly once.
	Handle Handle
}

func (s *Symbol) Type() SymType          { return s.FullType.Type }
func (s *Symbol) Is(m SymModifier) bool  { return s.Modifier&m != 0 }
func (s *Symbol) IsArray() bool          { return len(s.Dimensions) > 0 }
func (s *Symbol) IsParameter() bool      { return s.Scope == ScopeParameter }
func (s *Symbol) IsConstant() bool       { return s.Scope == ScopeConstant }
func (s *Symbol) IsLocal() bool          { return s.Scope == ScopeLocal }
func (s *Symbol) IsStatic() bool         { return s.Is(ModStatic) }
func (s *Symbol) IsInCommon() bool       { return s.Common != nil }
func (s *Symbol) IsByRef() bool          { return s.Linkage == LinkByReference }
func (s *Symbol) IsFlatArray() bool      { return s.Is(ModFlatArray) }
func (s *Symbol) IsExternal() bool       { return s.Is(ModExternal) }
func (s *Symbol) IsReferenced() bool     { return s.Referenced }
func (s *Symbol) Rank() int              { return len(s.Dimensions) }
func (s *Symbol) IsLabel() bool          { return s.Class == ClassLabel }

// IsMethod reports whether the symbol names something callable.
func (s *Symbol) IsMethod() bool {
	switch s.Class {
	case ClassFunction, ClassSubroutine, ClassIntrinsic, ClassInline, ClassProgram: return true
	}
	return false
}

// IsValueType reports whether the symbol's storage holds its value
// directly: scalars of a value type that are not arrays.
func (s *Symbol) IsValueType() bool { return !s.IsArray() && s.FullType.IsValueType() }

// HasStorage reports whether the symbol needs a slot, field or parameter.
func (s *Symbol) HasStorage() bool { return s.Class == ClassVariable && s.Scope != ScopeConstant }

// ArraySize returns the total element count when every dimension is constant.
func (s *Symbol) ArraySize() (int32, bool) {
	if !s.IsArray() { return 0, false }
	total := int32(1)
	for _, d := range s.Dimensions {
		n, ok := d.Size()
		if !ok { return 0, false }
		total *= n
	}
	return total, true
}

// UsesArrayObject reports whether element access goes through the runtime
// multi-dimensional array object rather than a flat vector.
func (s *Symbol) UsesArrayObject() bool { return s.Rank() >= 2 && !s.IsFlatArray() }

// SystemTypeFor maps a symbol to the machine type of its storage.
func SystemTypeFor(s *Symbol) ir.Type {
	if s.IsArray() {
		elem := s.Type().Kind()
		if s.IsFlatArray() || s.Rank() == 1 { return ir.VectorOf(elem) }
		return ir.ArrayOf(elem, s.Rank())
	}
	if s.IsMethod() { return ir.TypeFunc }
	return s.Type().MachineType()
}

// ParameterType is the machine type of the symbol when passed as a
// formal parameter: by-reference value types travel as references.
func ParameterType(s *Symbol) ir.Type {
	t := SystemTypeFor(s)
	if s.IsByRef() && s.IsValueType() && t.IsScalar() { return ir.RefTo(t.Kind) }
	return t
}

// Handle is the back-end storage assigned to a symbol. The concrete type
// follows from the symbol's class and scope.
type Handle interface{ handle() }

type LocalHandle struct{ Local *ir.Local }
type ParamHandle struct{ Index int }
type StaticHandle struct{ Field *ir.FieldRef }
type LabelHandle struct{ Label *ir.Label }
type MethodHandle struct{ Method *ir.MethodRef }
type CommonHandle struct{ Fields []*ir.FieldRef }

func (*LocalHandle) handle()  {}
func (*ParamHandle) handle()  {}
func (*StaticHandle) handle() {}
func (*LabelHandle) handle()  {}
func (*MethodHandle) handle() {}
func (*CommonHandle) handle() {}

// SetHandle assigns the back-end handle. Assigning twice is a fault.
func (s *Symbol) SetHandle(h Handle) {
	util.Assert(s.Handle == nil, "symbol '%s' already has a back-end handle", s.Name)
	s.Handle = h
}

func (s *Symbol) Local() *ir.Local {
	h, ok := s.Handle.(*LocalHandle)
	if !ok { panic(util.InternalAt(s.Tok, "symbol '%s' has no local slot", s.Name)) }
	return h.Local
}

func (s *Symbol) ParamIndex() int {
	h, ok := s.Handle.(*ParamHandle)
	if !ok { panic(util.InternalAt(s.Tok, "symbol '%s' is not a bound parameter", s.Name)) }
	return h.Index
}

func (s *Symbol) Field() *ir.FieldRef {
	h, ok := s.Handle.(*StaticHandle)
	if !ok { panic(util.InternalAt(s.Tok, "symbol '%s' has no static storage", s.Name)) }
	return h.Field
}

func (s *Symbol) Label() *ir.Label {
	h, ok := s.Handle.(*LabelHandle)
	if !ok { panic(util.InternalAt(s.Tok, "symbol '%s' is not a bound label", s.Name)) }
	return h.Label
}

func (s *Symbol) Method() *ir.MethodRef {
	h, ok := s.Handle.(*MethodHandle)
	if !ok { panic(util.InternalAt(s.Tok, "symbol '%s' is not a bound routine", s.Name)) }
	return h.Method
}

// CommonField returns the static field backing member index of a common
// block symbol.
func (s *Symbol) CommonField(index int) *ir.FieldRef {
	h, ok := s.Handle.(*CommonHandle)
	if !ok || index < 0 || index >= len(h.Fields) {
		panic(util.InternalAt(s.Tok, "common block '%s' has no member %d", s.Name, index))
	}
	return h.Fields[index]
}

// IsStaticStorage reports whether accesses go through a static field,
// either directly or via a common block.
func (s *Symbol) IsStaticStorage() bool {
	if s.IsInCommon() { return true }
	_, ok := s.Handle.(*StaticHandle)
	return ok
}

// StorageField returns the static field holding the symbol, redirecting
// common members through their block.
func (s *Symbol) StorageField() *ir.FieldRef {
	if s.IsInCommon() { return s.Common.CommonField(s.CommonIndex) }
	return s.Field()
}
