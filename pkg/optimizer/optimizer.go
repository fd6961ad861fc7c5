// Package optimizer implements the peephole passes run over a routine's
// instruction buffer before materialization.
package optimizer

import "github.com/xplshn/gfc/pkg/ir"

// Stats counts what one Optimize call changed.
type Stats struct {
	Deleted   int
	Rewritten int
}

// Optimize runs every pass once, in order, over code. Instructions are
// flagged deleted or rewritten in place and never moved, so every window
// below is a run of consecutive positions whose instructions are all live.
// A label occupies a position of its own, which keeps windows from
// spanning a branch target.
func Optimize(code []*ir.Instruction) Stats {
	var s Stats
	removeDeadBranches(code, &s)
	fuseCompareBranches(code, &s)
	fuseNotBranches(code, &s)
	storeLoadToDup(code, &s)
	removeReturnTails(code, &s)
	return s
}

// window returns the n instructions starting at i when all exist and are live.
func window(code []*ir.Instruction, i, n int) []*ir.Instruction {
	if i < 0 || i+n > len(code) { return nil }
	w := code[i : i+n]
	for _, instr := range w {
		if instr.Deleted { return nil }
	}
	return w
}

func del(instr *ir.Instruction, s *Stats) {
	instr.Deleted = true
	s.Deleted++
}

func isConst(instr *ir.Instruction, v int32) bool {
	n, ok := instr.IntOperand()
	return instr.Op == ir.OpLdcI4 && ok && n == v
}

// removeDeadBranches deletes "br L" when the next instruction defines L.
func removeDeadBranches(code []*ir.Instruction, s *Stats) {
	for i := range code {
		w := window(code, i, 2)
		if w == nil || w[0].Op != ir.OpBr || w[1].Op != ir.OpLabel { continue }
		if w[0].Target() == w[1].Target() { del(w[0], s) }
	}
}

// fuseCompareBranches folds a negated equality feeding brfalse into beq,
// and a zero test feeding brfalse into brtrue.
func fuseCompareBranches(code []*ir.Instruction, s *Stats) {
	for i := range code {
		w := window(code, i, 5)
		if w == nil || w[3].Op != ir.OpConvU1 || w[4].Op != ir.OpBrFalse { continue }
		switch {
		case w[0].Op == ir.OpCeq && isConst(w[1], 1) && w[2].Op == ir.OpXor:
			w[4].Op = ir.OpBeq
		case w[0].Op == ir.OpConvI4 && isConst(w[1], 0) && w[2].Op == ir.OpCeq:
			w[4].Op = ir.OpBrTrue
		default:
			continue
		}
		for _, instr := range w[:4] {
			del(instr, s)
		}
		s.Rewritten++
	}
}

// fuseNotBranches turns "not; brfalse L" into "brtrue L".
func fuseNotBranches(code []*ir.Instruction, s *Stats) {
	for i := range code {
		w := window(code, i, 2)
		if w == nil || w[0].Op != ir.OpNot || w[1].Op != ir.OpBrFalse { continue }
		del(w[0], s)
		w[1].Op = ir.OpBrTrue
		s.Rewritten++
	}
}

func isStore(op ir.Op) bool { return op == ir.OpStLoc || op == ir.OpStSFld }

func loadFor(store ir.Op) ir.Op {
	if store == ir.OpStLoc { return ir.OpLdLoc }
	return ir.OpLdSFld
}

// storeLoadToDup rewrites "st x; ld x" as "dup; st x" wherever it occurs.
// Scanning resumes at the rewritten store so a chain of loads collapses
// completely. A pair followed by ret is left for removeReturnTails.
func storeLoadToDup(code []*ir.Instruction, s *Stats) {
	for i := 0; i < len(code); i++ {
		w := window(code, i, 2)
		if w == nil || !isStore(w[0].Op) || w[1].Op != loadFor(w[0].Op) { continue }
		if !ir.SameStorage(w[0].Operand, w[1].Operand) { continue }
		if next := window(code, i+2, 1); next != nil && next[0].Op == ir.OpRet { continue }
		w[1].Op, w[1].Operand = w[0].Op, w[0].Operand
		w[0].Op, w[0].Operand = ir.OpDup, nil
		s.Rewritten++
	}
}

// removeReturnTails deletes "stloc n; ldloc n" directly before ret, and a
// ret directly before a catch handler, which supplies its own exit.
func removeReturnTails(code []*ir.Instruction, s *Stats) {
	for i := range code {
		if w := window(code, i, 3); w != nil && w[0].Op == ir.OpStLoc && w[1].Op == ir.OpLdLoc && w[2].Op == ir.OpRet &&
			ir.SameStorage(w[0].Operand, w[1].Operand) {
			del(w[0], s)
			del(w[1], s)
			continue
		}
		if w := window(code, i, 2); w != nil && w[0].Op == ir.OpRet && (w[1].Op == ir.OpCatch || w[1].Op == ir.OpDefaultCatch) {
			del(w[0], s)
		}
	}
}
