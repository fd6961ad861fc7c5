package codegen

import (
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/symbols"
)

// loadSymbol pushes the value held by s. By-reference parameters of value
// type are dereferenced; arrays and fixed strings push their object.
func (ctx *Context) loadSymbol(s *symbols.Symbol) {
	switch {
	case s.IsStaticStorage():
		ctx.em.LoadStatic(s.StorageField())
	case s.IsParameter():
		ctx.em.LoadParameter(s.ParamIndex())
		if s.IsByRef() && s.IsValueType() { ctx.em.LoadIndirect(s.Type().MachineType()) }
	default:
		ctx.em.LoadLocal(s.Local())
	}
}

// storeSymbol pops the top of the stack into s. A by-reference parameter
// cannot be stored this way; see storeThrough.
func (ctx *Context) storeSymbol(s *symbols.Symbol) {
	switch {
	case s.IsStaticStorage():
		ctx.em.StoreStatic(s.StorageField())
	case s.IsParameter():
		ctx.em.StoreParameter(s.ParamIndex())
	default:
		ctx.em.StoreLocal(s.Local())
	}
}

// loadSymbolAddress pushes a reference to the storage of s. A by-reference
// parameter already holds one and is forwarded as is.
func (ctx *Context) loadSymbolAddress(s *symbols.Symbol) {
	switch {
	case s.IsStaticStorage():
		ctx.em.LoadStaticAddress(s.StorageField())
	case s.IsParameter():
		if s.IsByRef() {
			ctx.em.LoadParameter(s.ParamIndex())
		} else {
			ctx.em.LoadParameterAddress(s.ParamIndex())
		}
	default:
		ctx.em.LoadLocalAddress(s.Local())
	}
}

// storeValue stores a value-type result into s, with emitValue producing
// the value converted to the symbol's type. By-reference parameters get
// the pointer loaded first and an indirect store.
func (ctx *Context) storeValue(s *symbols.Symbol, emitValue func(want symbols.SymType)) {
	if s.IsParameter() && s.IsByRef() && !s.IsStaticStorage() {
		ctx.em.LoadParameter(s.ParamIndex())
		emitValue(s.Type())
		ctx.em.StoreIndirect(s.Type().MachineType())
		return
	}
	emitValue(s.Type())
	ctx.storeSymbol(s)
}

func machine(t symbols.SymType) ir.Type { return t.MachineType() }
