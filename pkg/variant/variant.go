// Package variant implements the compile-time value model used for constant
// folding and immediate loads.
package variant

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
)

type Tag int

const (
	None Tag = iota
	Boolean
	Integer
	Float32
	Float64
	Complex
	String
)

func (t Tag) String() string {
	switch t {
	case Boolean: return "boolean"
	case Integer: return "integer"
	case Float32: return "float32"
	case Float64: return "float64"
	case Complex: return "complex"
	case String: return "string"
	default: return "none"
	}
}

var (
	ErrDivideByZero = errors.New("division by zero")
	ErrUnsupported  = errors.New("operation not supported for operand types")
)

// Variant is an immutable tagged value. The zero Variant has tag None.
type Variant struct {
	tag Tag
	b   bool
	i   int32
	f32 float32
	f64 float64
	c   complex128
	s   string
}

func FromBool(v bool) Variant         { return Variant{tag: Boolean, b: v} }
func FromInt(v int32) Variant         { return Variant{tag: Integer, i: v} }
func FromFloat32(v float32) Variant   { return Variant{tag: Float32, f32: v} }
func FromFloat64(v float64) Variant   { return Variant{tag: Float64, f64: v} }
func FromComplex(v complex128) Variant { return Variant{tag: Complex, c: v} }
func FromString(v string) Variant     { return Variant{tag: String, s: v} }

func (v Variant) Tag() Tag       { return v.tag }
func (v Variant) IsNone() bool   { return v.tag == None }
func (v Variant) IsNumber() bool { return v.tag >= Integer && v.tag <= Complex }

// Largest returns the promoted tag of a binary operation on a and b. The
// table is intentionally asymmetric: Integer yields to anything, Float32
// yields to anything but Integer, and every other left operand wins.
func Largest(a, b Tag) Tag {
	if a == Integer { return b }
	if a == Float32 {
		if b == Integer { return a }
		return b
	}
	return a
}

func (v Variant) AsBool() bool {
	switch v.tag {
	case Boolean: return v.b
	case Integer: return v.i != 0
	case Float32: return v.f32 != 0
	case Float64: return v.f64 != 0
	case Complex: return v.c != 0
	case String: return v.s != ""
	}
	return false
}

func (v Variant) AsInt() int32 {
	switch v.tag {
	case Boolean:
		if v.b { return 1 }
		return 0
	case Integer: return v.i
	case Float32: return int32(v.f32)
	case Float64: return int32(v.f64)
	case Complex: return int32(real(v.c))
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 32)
		if err != nil { return 0 }
		return int32(n)
	}
	return 0
}

func (v Variant) AsFloat32() float32 {
	switch v.tag {
	case Float32: return v.f32
	case Float64: return float32(v.f64)
	case Complex: return float32(real(v.c))
	}
	return float32(v.AsFloat64())
}

func (v Variant) AsFloat64() float64 {
	switch v.tag {
	case Boolean, Integer: return float64(v.AsInt())
	case Float32: return float64(v.f32)
	case Float64: return v.f64
	case Complex: return real(v.c)
	case String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil { return 0 }
		return f
	}
	return 0
}

func (v Variant) AsComplex() complex128 {
	if v.tag == Complex { return v.c }
	return complex(v.AsFloat64(), 0)
}

func (v Variant) AsString() string {
	switch v.tag {
	case String: return v.s
	case Boolean:
		if v.b { return "T" }
		return "F"
	case Integer: return strconv.FormatInt(int64(v.i), 10)
	case Float32: return strconv.FormatFloat(float64(v.f32), 'G', -1, 32)
	case Float64: return strconv.FormatFloat(v.f64, 'G', -1, 64)
	case Complex: return fmt.Sprintf("(%s,%s)", strconv.FormatFloat(real(v.c), 'G', -1, 64), strconv.FormatFloat(imag(v.c), 'G', -1, 64))
	}
	return ""
}

func (v Variant) String() string {
	if v.tag == String { return strconv.Quote(v.s) }
	if v.tag == None { return "<none>" }
	return v.AsString()
}

// Convert returns v re-expressed with the given tag. Setting a new type
// always replaces the whole value.
func (v Variant) Convert(t Tag) Variant {
	if v.tag == t { return v }
	switch t {
	case Boolean: return FromBool(v.AsBool())
	case Integer: return FromInt(v.AsInt())
	case Float32: return FromFloat32(v.AsFloat32())
	case Float64: return FromFloat64(v.AsFloat64())
	case Complex: return FromComplex(v.AsComplex())
	case String: return FromString(v.AsString())
	}
	return Variant{}
}

// IsZero reports whether v is the zero of its type.
func (v Variant) IsZero() bool { return !v.AsBool() }

func arith(a, b Variant) Tag {
	if a.tag == Complex || b.tag == Complex { return Complex }
	return Largest(a.tag, b.tag)
}

func Add(a, b Variant) (Variant, error) {
	if a.tag == String && b.tag == String { return FromString(a.s + b.s), nil }
	switch t := arith(a, b); t {
	case Integer: return FromInt(a.AsInt() + b.AsInt()), nil
	case Float32: return FromFloat32(a.AsFloat32() + b.AsFloat32()), nil
	case Float64: return FromFloat64(a.AsFloat64() + b.AsFloat64()), nil
	case Complex: return FromComplex(a.AsComplex() + b.AsComplex()), nil
	}
	return Variant{}, ErrUnsupported
}

func Sub(a, b Variant) (Variant, error) {
	switch t := arith(a, b); t {
	case Integer: return FromInt(a.AsInt() - b.AsInt()), nil
	case Float32: return FromFloat32(a.AsFloat32() - b.AsFloat32()), nil
	case Float64: return FromFloat64(a.AsFloat64() - b.AsFloat64()), nil
	case Complex: return FromComplex(a.AsComplex() - b.AsComplex()), nil
	}
	return Variant{}, ErrUnsupported
}

func Mul(a, b Variant) (Variant, error) {
	switch t := arith(a, b); t {
	case Integer: return FromInt(a.AsInt() * b.AsInt()), nil
	case Float32: return FromFloat32(a.AsFloat32() * b.AsFloat32()), nil
	case Float64: return FromFloat64(a.AsFloat64() * b.AsFloat64()), nil
	case Complex: return FromComplex(a.AsComplex() * b.AsComplex()), nil
	}
	return Variant{}, ErrUnsupported
}

// Div divides a by b. Integer division truncates toward zero like the
// machine instruction; floating division by zero is reported rather than
// folded to an infinity.
func Div(a, b Variant) (Variant, error) {
	if b.IsZero() { return Variant{}, ErrDivideByZero }
	switch t := arith(a, b); t {
	case Integer: return FromInt(a.AsInt() / b.AsInt()), nil
	case Float32: return FromFloat32(a.AsFloat32() / b.AsFloat32()), nil
	case Float64: return FromFloat64(a.AsFloat64() / b.AsFloat64()), nil
	case Complex: return FromComplex(a.AsComplex() / b.AsComplex()), nil
	}
	return Variant{}, ErrUnsupported
}

// IDiv divides rounding toward negative infinity.
func IDiv(a, b Variant) (Variant, error) {
	if a.tag == Complex || b.tag == Complex { return Variant{}, ErrUnsupported }
	if b.IsZero() { return Variant{}, ErrDivideByZero }
	return FromInt(int32(math.Floor(a.AsFloat64() / b.AsFloat64()))), nil
}

func Mod(a, b Variant) (Variant, error) {
	if a.tag == Complex || b.tag == Complex { return Variant{}, ErrUnsupported }
	if b.IsZero() { return Variant{}, ErrDivideByZero }
	switch t := arith(a, b); t {
	case Integer: return FromInt(a.AsInt() % b.AsInt()), nil
	case Float32: return FromFloat32(float32(math.Mod(float64(a.AsFloat32()), float64(b.AsFloat32())))), nil
	case Float64: return FromFloat64(math.Mod(a.AsFloat64(), b.AsFloat64())), nil
	}
	return Variant{}, ErrUnsupported
}

// Pow always widens to Float64, or Complex when either side is complex.
func Pow(a, b Variant) (Variant, error) {
	if a.tag == Complex || b.tag == Complex { return FromComplex(cmplx.Pow(a.AsComplex(), b.AsComplex())), nil }
	if !a.IsNumber() || !b.IsNumber() { return Variant{}, ErrUnsupported }
	return FromFloat64(math.Pow(a.AsFloat64(), b.AsFloat64())), nil
}

func Neg(a Variant) (Variant, error) {
	switch a.tag {
	case Integer: return FromInt(-a.i), nil
	case Float32: return FromFloat32(-a.f32), nil
	case Float64: return FromFloat64(-a.f64), nil
	case Complex: return FromComplex(-a.c), nil
	}
	return Variant{}, ErrUnsupported
}

// Compare returns -1, 0 or 1. Strings compare with trailing blanks ignored,
// matching fixed-width string semantics.
func Compare(a, b Variant) (int, error) {
	if a.tag == String || b.tag == String {
		if a.tag != b.tag { return 0, ErrUnsupported }
		return strings.Compare(strings.TrimRight(a.s, " "), strings.TrimRight(b.s, " ")), nil
	}
	if a.tag == Complex || b.tag == Complex {
		if a.AsComplex() == b.AsComplex() { return 0, nil }
		return 0, ErrUnsupported
	}
	if a.tag == Boolean && b.tag == Boolean {
		return int(a.AsInt() - b.AsInt()), nil
	}
	switch t := Largest(a.tag, b.tag); t {
	case Integer:
		x, y := a.AsInt(), b.AsInt()
		return cmp3(x < y, x > y), nil
	case Float32:
		x, y := a.AsFloat32(), b.AsFloat32()
		return cmp3(x < y, x > y), nil
	default:
		x, y := a.AsFloat64(), b.AsFloat64()
		return cmp3(x < y, x > y), nil
	}
}

func cmp3(lt, gt bool) int {
	if lt { return -1 }
	if gt { return 1 }
	return 0
}

func Equal(a, b Variant) bool {
	if a.tag == Complex || b.tag == Complex { return a.AsComplex() == b.AsComplex() }
	c, err := Compare(a, b)
	return err == nil && c == 0
}
