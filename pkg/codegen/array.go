package codegen

import (
	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/util"
)

func exprNode(e symbols.Expr) *ast.Node {
	n, ok := e.(*ast.Node)
	util.Assert(ok && n != nil, "bound expression is not an AST node")
	return n
}

// applyArrayLayout flattens every multi-dimensional array when bounds
// objects are disabled.
func (ctx *Context) applyArrayLayout(s *symbols.Symbol) {
	if s.Rank() >= 2 && !ctx.cfg.IsFeatureEnabled(config.FeatBoundsObjects) { s.Modifier |= symbols.ModFlatArray }
}

// emitDimensionSize pushes upper-lower+1 for d, from the constant, the
// entry-time cache, or by evaluating the bounds.
func (ctx *Context) emitDimensionSize(d *symbols.Dimension) {
	if n, ok := d.Size(); ok {
		ctx.em.LoadInteger(n)
		return
	}
	if d.SizeCache != nil {
		ctx.em.LoadLocal(d.SizeCache)
		return
	}
	util.Assert(d.Upper != nil, "dimension without an upper bound")
	ctx.codegenExpr(exprNode(d.Upper), symbols.TypeInteger)
	if d.Lower == nil {
		ctx.em.LoadInteger(1)
	} else {
		ctx.codegenExpr(exprNode(d.Lower), symbols.TypeInteger)
	}
	ctx.em.Sub()
	ctx.em.LoadInteger(1)
	ctx.em.Add()
}

// emitSizeProduct pushes the element count spanned by dims.
func (ctx *Context) emitSizeProduct(dims []*symbols.Dimension) {
	product, constant := int32(1), true
	for _, d := range dims {
		n, ok := d.Size()
		if !ok {
			constant = false
			break
		}
		product *= n
	}
	if constant {
		ctx.em.LoadInteger(product)
		return
	}
	for i, d := range dims {
		ctx.emitDimensionSize(d)
		if i > 0 { ctx.em.Mul() }
	}
}

// emitDimensionOffset pushes the zero-based offset index-lower along d.
func (ctx *Context) emitDimensionOffset(d *symbols.Dimension, index *ast.Node) {
	lo, constLo := d.LowerBound()
	if constLo && index.IsConstant() {
		ctx.em.LoadInteger(index.Value().AsInt() - lo)
		return
	}
	ctx.codegenExpr(index, symbols.TypeInteger)
	switch {
	case !constLo:
		ctx.codegenExpr(exprNode(d.Lower), symbols.TypeInteger)
		ctx.em.Sub()
	case lo != 0:
		ctx.em.LoadInteger(lo)
		ctx.em.Sub()
	}
}

// constantFlatOffset folds the flat offset when every index, lower bound
// and contributing extent is known.
func constantFlatOffset(s *symbols.Symbol, indexes []*ast.Node) (int32, bool) {
	offset, stride := int32(0), int32(1)
	for i, idx := range indexes {
		d := s.Dimensions[i]
		lo, ok := d.LowerBound()
		if !ok || !idx.IsConstant() { return 0, false }
		offset += (idx.Value().AsInt() - lo) * stride
		if i < len(indexes)-1 {
			n, ok := d.Size()
			if !ok { return 0, false }
			stride *= n
		}
	}
	return offset, true
}

// emitFlatOffset pushes the column-major offset of an element: the offset
// along each dimension scaled by the extents of the dimensions before it.
func (ctx *Context) emitFlatOffset(s *symbols.Symbol, indexes []*ast.Node) {
	if off, ok := constantFlatOffset(s, indexes); ok {
		ctx.em.LoadInteger(off)
		return
	}
	for i, idx := range indexes {
		ctx.emitDimensionOffset(s.Dimensions[i], idx)
		if i > 0 {
			ctx.emitSizeProduct(s.Dimensions[:i])
			ctx.em.Mul()
			ctx.em.Add()
		}
	}
}

func (ctx *Context) checkRank(s *symbols.Symbol, node *ast.Node, indexes []*ast.Node) bool {
	if len(indexes) == s.Rank() { return true }
	ctx.diag.Error(node.Tok, "Array '%s' has rank %d but %d subscripts were given.", s.Name, s.Rank(), len(indexes))
	return false
}

// emitIndexing pushes the array and its subscripts: one offset per
// dimension for a bounds object, a single flat offset for a vector.
func (ctx *Context) emitIndexing(s *symbols.Symbol, indexes []*ast.Node) {
	ctx.loadSymbol(s)
	if s.UsesArrayObject() {
		for i, idx := range indexes {
			ctx.emitDimensionOffset(s.Dimensions[i], idx)
		}
		return
	}
	ctx.emitFlatOffset(s, indexes)
}

func (ctx *Context) emitElementLoad(node *ast.Node, s *symbols.Symbol, indexes []*ast.Node) symbols.SymType {
	if !ctx.checkRank(s, node, indexes) {
		ctx.em.LoadValue(zeroOf(s.Type()), s.Type().Kind())
		return s.Type()
	}
	ctx.emitIndexing(s, indexes)
	if s.UsesArrayObject() {
		ctx.em.Call(runtime.ArrayGet(symbols.SystemTypeFor(s)))
	} else {
		ctx.em.LoadElement(machine(s.Type()))
	}
	return s.Type()
}

func (ctx *Context) emitElementAddress(node *ast.Node, s *symbols.Symbol, indexes []*ast.Node) {
	if !ctx.checkRank(s, node, indexes) {
		ctx.em.LoadNull()
		return
	}
	ctx.emitIndexing(s, indexes)
	if s.UsesArrayObject() {
		ctx.em.Call(runtime.ArrayAddress(symbols.SystemTypeFor(s)))
	} else {
		ctx.em.LoadElementAddress(machine(s.Type()))
	}
}

func (ctx *Context) emitElementStore(node *ast.Node, s *symbols.Symbol, indexes []*ast.Node, emitValue func(want symbols.SymType)) {
	if !ctx.checkRank(s, node, indexes) { return }
	ctx.emitIndexing(s, indexes)
	emitValue(s.Type())
	if s.UsesArrayObject() {
		ctx.em.Call(runtime.ArraySet(symbols.SystemTypeFor(s)))
	} else {
		ctx.em.StoreElement(machine(s.Type()))
	}
}

// allocateArray pushes a new array sized from the declared dimensions.
// Fixed string elements are created at their declared width.
func (ctx *Context) allocateArray(s *symbols.Symbol) {
	t := symbols.SystemTypeFor(s)
	if t.Kind == ir.KindArray {
		for _, d := range s.Dimensions {
			ctx.emitDimensionSize(d)
		}
		ctx.em.CreateObject(runtime.ArrayNew(t))
	} else {
		ctx.emitSizeProduct(s.Dimensions)
		ctx.em.CreateVector(t.ElemType())
	}
	if s.Type() == symbols.TypeFixedChar {
		ctx.em.Dup()
		ctx.em.LoadInteger(int32(s.FullType.Width))
		ctx.em.Call(runtime.FixedStringFill)
	}
}
