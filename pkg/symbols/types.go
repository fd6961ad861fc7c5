package symbols

import (
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/variant"
)

// SymType is the base type of a declared name or expression.
type SymType int

const (
	TypeNone SymType = iota
	TypeInteger
	TypeFloat
	TypeDouble
	TypeComplex
	TypeBoolean
	TypeChar
	TypeFixedChar
	TypeLabel
	TypeGeneric
)

var typeNames = map[SymType]string{
	TypeNone: "none", TypeInteger: "integer", TypeFloat: "real", TypeDouble: "double",
	TypeComplex: "complex", TypeBoolean: "logical", TypeChar: "char", TypeFixedChar: "character",
	TypeLabel: "label", TypeGeneric: "generic",
}

func (t SymType) String() string {
	if s, ok := typeNames[t]; ok { return s }
	return "unknown"
}

// TypeFromName maps an interchange type name to a SymType.
func TypeFromName(name string) (SymType, bool) {
	for t, s := range typeNames {
		if s == name { return t, true }
	}
	return TypeNone, false
}

func (t SymType) IsNumber() bool { return t == TypeInteger || t == TypeFloat || t == TypeDouble || t == TypeComplex }
func (t SymType) IsCharacter() bool { return t == TypeChar || t == TypeFixedChar }

// IsValueType reports whether values of t live directly in locals and on
// the evaluation stack. Fixed-width strings are reference objects.
func (t SymType) IsValueType() bool {
	switch t {
	case TypeBoolean, TypeChar, TypeDouble, TypeFloat, TypeInteger, TypeComplex, TypeLabel: return true
	}
	return false
}

// FullType is a base type plus the declared width of fixed strings.
type FullType struct {
	Type  SymType
	Width int
}

func NewFullType(t SymType) FullType { return FullType{Type: t} }
func FixedChar(width int) FullType  { return FullType{Type: TypeFixedChar, Width: width} }

func (f FullType) IsValueType() bool { return f.Type.IsValueType() }

// LargestType returns the promoted type of a binary expression. This is
// not a lattice: Complex against Double resolves to whichever is on the
// left, and callers rely on exactly that.
func LargestType(a, b SymType) SymType {
	if a == TypeInteger { return b }
	if a == TypeFloat {
		if b == TypeInteger { return a }
		return b
	}
	return a
}

// Kind maps a base type to its machine kind.
func (t SymType) Kind() ir.Kind {
	switch t {
	case TypeInteger, TypeLabel: return ir.KindInt32
	case TypeFloat: return ir.KindFloat32
	case TypeDouble: return ir.KindFloat64
	case TypeComplex: return ir.KindComplex
	case TypeBoolean: return ir.KindBool
	case TypeChar: return ir.KindString
	case TypeFixedChar: return ir.KindFixedString
	case TypeGeneric: return ir.KindObject
	}
	return ir.KindNone
}

// MachineType maps a base type to its scalar machine type.
func (t SymType) MachineType() ir.Type { return ir.Type{Kind: t.Kind()} }

// TypeForTag maps a constant's tag to the SymType that holds it.
func TypeForTag(tag variant.Tag) SymType {
	switch tag {
	case variant.Boolean: return TypeBoolean
	case variant.Integer: return TypeInteger
	case variant.Float32: return TypeFloat
	case variant.Float64: return TypeDouble
	case variant.Complex: return TypeComplex
	case variant.String: return TypeChar
	}
	return TypeNone
}

// TagForType is the inverse of TypeForTag; fixed strings fold as strings.
func TagForType(t SymType) variant.Tag {
	switch t {
	case TypeBoolean: return variant.Boolean
	case TypeInteger, TypeLabel: return variant.Integer
	case TypeFloat: return variant.Float32
	case TypeDouble: return variant.Float64
	case TypeComplex: return variant.Complex
	case TypeChar, TypeFixedChar: return variant.String
	}
	return variant.None
}
