package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/gfc/pkg/ir"
)

// Value is one evaluation stack entry: int32 (integers and booleans),
// float32, float64, complex128, string, *FixedString, *Vector, *Array,
// Ref or nil.
type Value = interface{}

// Ref addresses one storage cell.
type Ref struct{ p *Value }

func (r Ref) Load() Value   { return *r.p }
func (r Ref) Store(v Value) { *r.p = v }

// FixedString is a blank-padded string of constant width.
type FixedString struct{ b []byte }

func NewFixedString(width int) *FixedString {
	if width < 0 { width = 0 }
	return &FixedString{b: []byte(strings.Repeat(" ", width))}
}

func (f *FixedString) Width() int      { return len(f.b) }
func (f *FixedString) String() string  { return string(f.b) }
func (f *FixedString) Trimmed() string { return strings.TrimRight(string(f.b), " ") }

// Set copies s in, truncating or padding with blanks.
func (f *FixedString) Set(s string) {
	for i := range f.b {
		if i < len(s) { f.b[i] = s[i] } else { f.b[i] = ' ' }
	}
}

// SetRange replaces characters [start,end) with s, padded or truncated to
// the range.
func (f *FixedString) SetRange(s string, start, end int) error {
	if end < 0 { end = len(f.b) }
	if start < 0 || end > len(f.b) || start > end { return fmt.Errorf("%w: substring (%d:%d) of width %d", ErrBounds, start+1, end, len(f.b)) }
	for i := start; i < end; i++ {
		if j := i - start; j < len(s) { f.b[i] = s[j] } else { f.b[i] = ' ' }
	}
	return nil
}

func (f *FixedString) Substring(start, end int) (string, error) {
	if end < 0 { end = len(f.b) }
	if start < 0 || end > len(f.b) || start > end { return "", fmt.Errorf("%w: substring (%d:%d) of width %d", ErrBounds, start+1, end, len(f.b)) }
	return string(f.b[start:end]), nil
}

func (f *FixedString) IsEmpty() bool { return f.Trimmed() == "" }

// Vector is a zero-based one-dimensional array.
type Vector struct {
	Elem  ir.Kind
	Elems []Value
}

func NewVector(elem ir.Kind, n int) *Vector {
	v := &Vector{Elem: elem, Elems: make([]Value, n)}
	for i := range v.Elems {
		v.Elems[i] = zero(elem)
	}
	return v
}

func (v *Vector) cell(i int32) (*Value, error) {
	if i < 0 || int(i) >= len(v.Elems) { return nil, fmt.Errorf("%w: index %d of %d", ErrBounds, i, len(v.Elems)) }
	return &v.Elems[i], nil
}

// Array is a bounds-checked multi-dimensional array stored column-major.
type Array struct {
	Elem ir.Kind
	Dims []int
	Data []Value
}

func NewArray(elem ir.Kind, dims []int) (*Array, error) {
	total := 1
	for _, d := range dims {
		if d < 0 { return nil, fmt.Errorf("%w: negative extent %d", ErrBounds, d) }
		total *= d
	}
	a := &Array{Elem: elem, Dims: dims, Data: make([]Value, total)}
	for i := range a.Data {
		a.Data[i] = zero(elem)
	}
	return a, nil
}

// cell locates the element at zero-based offsets, one per dimension.
func (a *Array) cell(offsets []int32) (*Value, error) {
	if len(offsets) != len(a.Dims) { return nil, fmt.Errorf("%w: rank %d accessed with %d subscripts", ErrInvalidProgram, len(a.Dims), len(offsets)) }
	flat, stride := 0, 1
	for i, o := range offsets {
		if o < 0 || int(o) >= a.Dims[i] { return nil, fmt.Errorf("%w: subscript %d of dimension %d is outside 1..%d", ErrBounds, o+1, i+1, a.Dims[i]) }
		flat += int(o) * stride
		stride *= a.Dims[i]
	}
	return &a.Data[flat], nil
}

func zero(k ir.Kind) Value {
	switch k {
	case ir.KindInt32, ir.KindBool: return int32(0)
	case ir.KindFloat32: return float32(0)
	case ir.KindFloat64: return float64(0)
	case ir.KindComplex: return complex128(0)
	case ir.KindString: return ""
	}
	return nil
}

func boolValue(b bool) Value {
	if b { return int32(1) }
	return int32(0)
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case int32: return x != 0
	case float32: return x != 0
	case float64: return x != 0
	case nil: return false
	}
	return true
}

// Format renders a value the way list-directed output does.
func Format(v Value) string {
	switch x := v.(type) {
	case int32: return strconv.FormatInt(int64(x), 10)
	case float32: return strconv.FormatFloat(float64(x), 'G', -1, 32)
	case float64: return strconv.FormatFloat(x, 'G', -1, 64)
	case complex128: return fmt.Sprintf("(%s,%s)", strconv.FormatFloat(real(x), 'G', -1, 64), strconv.FormatFloat(imag(x), 'G', -1, 64))
	case string: return x
	case *FixedString: return x.String()
	case nil: return ""
	}
	return fmt.Sprint(v)
}

func formatBool(v Value) string {
	if truthy(v) { return "T" }
	return "F"
}
