package codegen

import (
	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
	"github.com/xplshn/gfc/pkg/symbols"
)

// Units used when a READ or WRITE names none.
const (
	DefaultReadUnit  = 5
	DefaultWriteUnit = 6
)

// withErrorLabel runs transfer inside a try region whose handler jumps to
// the statement's ERR= label.
func (ctx *Context) withErrorLabel(node *ast.Node, label *symbols.Symbol, transfer func()) {
	if label == nil {
		transfer()
		return
	}
	target := ctx.labelOf(node, label)
	err := ctx.em.GetTemporary(ir.TypeObject)
	ctx.em.SetupTryBlock()
	transfer()
	ctx.em.AddCatchBlock(err)
	ctx.em.Branch(target)
	ctx.em.CloseTryBlock()
	ctx.em.ReleaseTemporary(err)
}

func (ctx *Context) emitUnit(unit *ast.Node, def int32) {
	if unit == nil {
		ctx.em.LoadInteger(def)
		return
	}
	ctx.codegenExpr(unit, symbols.TypeInteger)
}

func (ctx *Context) codegenWrite(node *ast.Node) {
	d := node.Data.(ast.IONode)
	ctx.withErrorLabel(node, d.ErrLabel, func() {
		ctx.emitUnit(d.Unit, DefaultWriteUnit)
		ctx.em.Call(runtime.IOBeginWrite)
		for _, item := range d.Items {
			if a := wholeArray(item); a != nil {
				ctx.loadSymbol(a)
				ctx.em.Call(runtime.IOWriteArray)
				continue
			}
			t := ctx.codegenExpr(item, symbols.TypeNone)
			ctx.em.Call(runtime.IOWrite(machine(t)))
		}
		ctx.em.Call(runtime.IOEndWrite)
	})
}

func (ctx *Context) codegenRead(node *ast.Node) {
	d := node.Data.(ast.IONode)
	ctx.withErrorLabel(node, d.ErrLabel, func() {
		ctx.emitUnit(d.Unit, DefaultReadUnit)
		ctx.em.Call(runtime.IOBeginRead)
		for _, item := range d.Items {
			ctx.readItem(item)
		}
		ctx.em.Call(runtime.IOEndRead)
	})
}

func (ctx *Context) readItem(item *ast.Node) {
	if item.Type != ast.Ident {
		ctx.diag.Error(item.Tok, "Only variables can be read into.")
		return
	}
	d := item.Data.(ast.IdentNode)
	s := d.Symbol
	if s.IsConstant() || !s.HasStorage() {
		ctx.diag.Error(item.Tok, "Cannot read into '%s'.", s.Name)
		return
	}
	read := func(want symbols.SymType) { ctx.em.Call(runtime.IORead(machine(want))) }

	switch {
	case d.Substring != nil:
		if s.Type() != symbols.TypeFixedChar {
			ctx.diag.Error(item.Tok, "Substring read needs a fixed-width character variable.")
			return
		}
		if !ctx.loadSubstringBase(item, s, d.Indexes) { return }
		read(symbols.TypeChar)
		ctx.emitSubstringRange(s, d.Substring)
		ctx.em.Call(runtime.FixedStringSetSub)
	case s.IsArray() && len(d.Indexes) == 0:
		ctx.loadSymbol(s)
		ctx.em.Call(runtime.IOReadArray)
	case s.Type() == symbols.TypeFixedChar:
		if len(d.Indexes) > 0 {
			ctx.emitElementLoad(item, s, d.Indexes)
		} else {
			ctx.loadSymbol(s)
		}
		read(symbols.TypeChar)
		ctx.em.Call(runtime.FixedStringSet)
	case len(d.Indexes) > 0:
		ctx.emitElementStore(item, s, d.Indexes, read)
	default:
		ctx.storeValue(s, read)
	}
}
