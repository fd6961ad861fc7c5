// Package runtime catalogues the support methods generated code calls.
// Their implementations live outside the compiler; pkg/vm provides an
// in-process rendition for execution in tests.
package runtime

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/util"
)

const (
	OwnerFixedString = "FixedString"
	OwnerString      = "String"
	OwnerIntrinsics  = "Intrinsics"
	OwnerComplex     = "Complex"
	OwnerArray       = "Array"
	OwnerIO          = "IO"
	OwnerRuntime     = "Runtime"
	OwnerConvert     = "Convert"
)

// catalogue is shared by every compilation in the process; lazily
// registered array accessors make it grow during code generation.
var (
	mu        sync.RWMutex
	catalogue = make(map[string]*ir.MethodRef)
)

func key(owner, name string, params []ir.Type) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.String()
	}
	return owner + "." + name + "(" + strings.Join(parts, ",") + ")"
}

// register adds m unless a method with the same key exists, and returns
// the registered one.
func register(m *ir.MethodRef) *ir.MethodRef {
	k := key(m.Owner, m.Name, m.Params)
	mu.Lock()
	defer mu.Unlock()
	if prev, ok := catalogue[k]; ok { return prev }
	catalogue[k] = m
	return m
}

func define(owner, name string, ret ir.Type, params ...ir.Type) *ir.MethodRef {
	return register(&ir.MethodRef{Owner: owner, Name: name, Params: params, Return: ret})
}

func defineCtor(owner string, ret ir.Type, params ...ir.Type) *ir.MethodRef {
	return register(&ir.MethodRef{Owner: owner, Name: ".ctor", Params: params, Return: ret, Ctor: true})
}

func lookup(k string) (*ir.MethodRef, bool) {
	mu.RLock()
	defer mu.RUnlock()
	m, ok := catalogue[k]
	return m, ok
}

// Method looks up a support method by owner, name and exact parameter
// types. A missing method is a compiler fault.
func Method(owner, name string, params ...ir.Type) *ir.MethodRef {
	if m, ok := lookup(key(owner, name, params)); ok { return m }
	panic(util.Internalf("runtime method %s not found", key(owner, name, params)))
}

var (
	i4  = ir.TypeInt32
	r4  = ir.TypeFloat32
	r8  = ir.TypeFloat64
	cx  = ir.TypeComplex
	bl  = ir.TypeBool
	str = ir.TypeString
	fix = ir.TypeFixedString
	obj = ir.TypeObject
	nov = ir.TypeNone
)

var (
	FixedStringNew       = defineCtor(OwnerFixedString, fix, i4)
	FixedStringSet       = define(OwnerFixedString, "Set", nov, fix, str)
	FixedStringSetFixed  = define(OwnerFixedString, "Set", nov, fix, fix)
	FixedStringSetSub    = define(OwnerFixedString, "SetSubstring", nov, fix, str, i4, i4)
	FixedStringSubstring = define(OwnerFixedString, "Substring", str, fix, i4, i4)
	FixedStringFromStr   = define(OwnerFixedString, "FromString", fix, str)
	FixedStringToString  = define(OwnerFixedString, "ToString", str, fix)
	FixedStringMerge     = define(OwnerFixedString, "Merge", fix, fix, fix)
	FixedStringCompare   = define(OwnerFixedString, "Compare", i4, fix, fix)
	FixedStringIsEmpty   = define(OwnerFixedString, "IsEmpty", bl, fix)
	FixedStringFill      = define(OwnerFixedString, "Fill", nov, obj, i4)

	StringConcat    = define(OwnerString, "Concat", str, str, str)
	StringCompare   = define(OwnerString, "Compare", i4, str, str)
	StringSubstring = define(OwnerString, "Substring", str, str, i4, i4)

	Pow        = define(OwnerIntrinsics, "Pow", r8, r8, r8)
	Floor      = define(OwnerIntrinsics, "Floor", r8, r8)
	Sqrt       = define(OwnerIntrinsics, "Sqrt", r8, r8)
	IsInfinity = define(OwnerIntrinsics, "IsInfinity", bl, r8)

	ComplexNew  = defineCtor(OwnerComplex, cx, r8, r8)
	ComplexAdd  = define(OwnerComplex, "Add", cx, cx, cx)
	ComplexSub  = define(OwnerComplex, "Subtract", cx, cx, cx)
	ComplexMul  = define(OwnerComplex, "Multiply", cx, cx, cx)
	ComplexDiv  = define(OwnerComplex, "Divide", cx, cx, cx)
	ComplexNeg  = define(OwnerComplex, "Negate", cx, cx)
	ComplexPow  = define(OwnerComplex, "Pow", cx, cx, cx)
	ComplexEq   = define(OwnerComplex, "Equals", bl, cx, cx)
	ComplexReal = define(OwnerComplex, "Real", r8, cx)

	ArrayCopy = define(OwnerArray, "Copy", nov, obj, i4, obj, i4, i4)

	IOBeginWrite = define(OwnerIO, "BeginWrite", nov, i4)
	IOEndWrite   = define(OwnerIO, "EndWrite", nov)
	IOBeginRead  = define(OwnerIO, "BeginRead", nov, i4)
	IOEndRead    = define(OwnerIO, "EndRead", nov)
	IOWriteArray = define(OwnerIO, "WriteArray", nov, obj)
	IOReadArray  = define(OwnerIO, "ReadArray", nov, obj)

	DivideByZero    = define(OwnerRuntime, "DivideByZero", nov)
	Stop            = define(OwnerRuntime, "Stop", nov, i4)
	ReportException = define(OwnerRuntime, "ReportException", nov, obj)
)

func init() {
	for _, t := range []ir.Type{i4, r4, r8, cx, bl, str, fix} {
		define(OwnerIO, "Write", nov, t)
	}
	for _, t := range []ir.Type{i4, r4, r8, cx, bl, str} {
		define(OwnerIO, "Read"+readSuffix(t.Kind), t)
	}
	scalars := []ir.Type{i4, r4, r8, bl, str}
	for _, from := range scalars {
		define(OwnerConvert, "ToString", str, from)
	}
	define(OwnerConvert, "ToInt32", i4, str)
	define(OwnerConvert, "ToDouble", r8, str)
}

func readSuffix(k ir.Kind) string {
	switch k {
	case ir.KindInt32: return "Integer"
	case ir.KindFloat32: return "Float"
	case ir.KindFloat64: return "Double"
	case ir.KindComplex: return "Complex"
	case ir.KindBool: return "Logical"
	}
	return "String"
}

// IOWrite returns the writer for one list item of type t.
func IOWrite(t ir.Type) *ir.MethodRef { return Method(OwnerIO, "Write", t) }

// IORead returns the reader producing one value of type t. Fixed strings
// are read as strings and then set.
func IORead(t ir.Type) *ir.MethodRef {
	if t.Kind == ir.KindFixedString { t = str }
	return Method(OwnerIO, "Read"+readSuffix(t.Kind))
}

// ToString converts a scalar to a variable-length string.
func ToString(from ir.Type) *ir.MethodRef { return Method(OwnerConvert, "ToString", from) }

// Multi-dimensional array accessors are registered lazily per element
// kind and rank.

func rankParams(rank int) []ir.Type {
	ps := make([]ir.Type, rank)
	for i := range ps {
		ps[i] = i4
	}
	return ps
}

func lazy(owner, name string, ret ir.Type, ctor bool, params []ir.Type) *ir.MethodRef {
	if m, ok := lookup(key(owner, name, params)); ok { return m }
	if ctor { return defineCtor(owner, ret, params...) }
	return define(owner, name, ret, params...)
}

func arrayOwner(t ir.Type) string { return fmt.Sprintf("%s%s", OwnerArray, t) }

// ArrayNew constructs a rank-n bounds-checked array from its extents.
func ArrayNew(t ir.Type) *ir.MethodRef { return lazy(arrayOwner(t), ".ctor", t, true, rankParams(t.Rank)) }

// ArrayGet loads the element at zero-based offsets, one per dimension.
func ArrayGet(t ir.Type) *ir.MethodRef {
	return lazy(arrayOwner(t), "Get", t.ElemType(), false, append([]ir.Type{t}, rankParams(t.Rank)...))
}

// ArraySet stores the value on top of the stack at the given offsets.
func ArraySet(t ir.Type) *ir.MethodRef {
	return lazy(arrayOwner(t), "Set", nov, false, append(append([]ir.Type{t}, rankParams(t.Rank)...), t.ElemType()))
}

// ArrayAddress yields a reference to the element at the given offsets.
func ArrayAddress(t ir.Type) *ir.MethodRef {
	return lazy(arrayOwner(t), "Address", ir.RefTo(t.Elem), false, append([]ir.Type{t}, rankParams(t.Rank)...))
}
