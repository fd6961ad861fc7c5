package ast

import (
	"testing"

	"github.com/xplshn/gfc/pkg/symbols"
	"github.com/xplshn/gfc/pkg/token"
	"github.com/xplshn/gfc/pkg/variant"
)

var tok = token.Token{Line: 1, Column: 1}

func TestBinaryOpResultTypes(t *testing.T) {
	i, d := NewInt(tok, 2), NewDouble(tok, 1.5)
	tests := []struct {
		op   token.Type
		l, r *Node
		want symbols.SymType
	}{
		{token.Plus, i, d, symbols.TypeDouble},
		{token.Plus, d, i, symbols.TypeDouble},
		{token.Lt, i, d, symbols.TypeBoolean},
		{token.Exp, i, i, symbols.TypeDouble},
		{token.And, NewBool(tok, true), NewBool(tok, false), symbols.TypeBoolean},
	}
	for _, tt := range tests {
		if got := NewBinaryOp(tok, tt.op, tt.l, tt.r).Typ.Type; got != tt.want {
			t.Errorf("%s: type = %s, want %s", tt.op, got, tt.want)
		}
	}
}

func TestFoldConstants(t *testing.T) {
	expr := NewBinaryOp(tok, token.Star, NewInt(tok, 6), NewBinaryOp(tok, token.Minus, NewInt(tok, 10), NewInt(tok, 3)))
	folded := FoldConstants(expr, nil)
	if !folded.IsConstant() || folded.Value().AsInt() != 42 { t.Fatalf("folded value = %v, want 42", folded.Value()) }

	idiv := FoldConstants(NewBinaryOp(tok, token.IDivide, NewInt(tok, -7), NewInt(tok, 2)), nil)
	if idiv.Value().AsInt() != -4 { t.Fatalf("-7 // 2 = %d, want -4", idiv.Value().AsInt()) }

	rel := FoldConstants(NewBinaryOp(tok, token.Ne, NewString(tok, "ab "), NewString(tok, "ab")), nil)
	if !rel.IsConstantFalse() { t.Fatal("strings differing only in trailing blanks should compare equal") }
}

func TestFoldLeavesDivideByZero(t *testing.T) {
	div := NewBinaryOp(tok, token.Slash, NewDouble(tok, 1), NewDouble(tok, 0))
	if FoldConstants(div, nil) != div { t.Fatal("division by a zero constant must be left for the run-time check") }
}

func TestConstantIdentifier(t *testing.T) {
	pi := &symbols.Symbol{Name: "N", FullType: symbols.NewFullType(symbols.TypeInteger), Class: symbols.ClassVariable,
		Scope: symbols.ScopeConstant, Value: variant.FromInt(4)}
	v := &symbols.Symbol{Name: "V", FullType: symbols.NewFullType(symbols.TypeInteger), Class: symbols.ClassVariable}
	if !NewIdent(tok, pi).IsConstant() { t.Fatal("named constant should be constant") }
	if NewIdent(tok, v).IsConstant() { t.Fatal("variable should not be constant") }
	if Bound(nil) != nil { t.Fatal("an absent bound must be a nil interface") }
}
