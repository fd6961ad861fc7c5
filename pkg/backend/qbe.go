package backend

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
)

// qbeBackend lowers the scalar subset of the stack machine to QBE IL.
// Every evaluation stack depth maps to one QBE temporary per base type;
// QBE accepts the resulting non-SSA input and builds SSA itself.
type qbeBackend struct {
	out     *strings.Builder
	prog    *ir.Program
	strs    map[string]string
	routine *ir.Routine
	word    byte

	stack     []byte
	atLabel   map[*ir.Label][]byte
	dead      bool
	needBlock bool
	tmp       int
	err       error
}

// NewQBE returns the backend that compiles programs through QBE.
func NewQBE() Backend { return &qbeBackend{} }

// GenerateIR returns the QBE IL for prog. Programs that use strings
// beyond literals, arrays, complex values or references are rejected.
func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	var body strings.Builder
	b.out, b.prog, b.strs, b.err = &body, prog, make(map[string]string), nil
	b.word = 'l'
	if cfg != nil && len(cfg.WordType) == 1 { b.word = cfg.WordType[0] }

	for _, r := range prog.Routines {
		b.genRoutine(r)
		if b.err != nil { return "", b.err }
	}

	var sb strings.Builder
	for _, f := range prog.Statics {
		t, ok := b.baseType(f.Type)
		if !ok { return "", fmt.Errorf("qbe: static '%s' has unsupported type %s", f.Name, f.Type) }
		fmt.Fprintf(&sb, "data $%s = { %c 0 }\n", fieldSymbol(f), t)
	}
	for _, s := range slices.Sorted(maps.Keys(b.strs)) {
		fmt.Fprintf(&sb, "data $%s = { b %s, b 0 }\n", b.strs[s], strconv.Quote(s))
	}
	sb.WriteString(body.String())
	return sb.String(), nil
}

// baseType maps a machine type to its QBE base type. Strings are pointers
// and take the target's word type.
func (b *qbeBackend) baseType(t ir.Type) (byte, bool) {
	switch t.Kind {
	case ir.KindInt32, ir.KindBool: return 'w', true
	case ir.KindFloat32: return 's', true
	case ir.KindFloat64: return 'd', true
	case ir.KindString: return b.word, true
	}
	return 0, false
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') { return r }
		return '_'
	}, name)
}

func fieldSymbol(f *ir.FieldRef) string { return sanitize(f.Owner + "_" + f.Name) }

func (b *qbeBackend) fail(format string, args ...interface{}) {
	if b.err == nil { b.err = fmt.Errorf("qbe: routine '%s': %s", b.routine.Name, fmt.Sprintf(format, args...)) }
}

func (b *qbeBackend) stringLabel(s string) string {
	if l, ok := b.strs[s]; ok { return l }
	l := fmt.Sprintf("str_%016x", xxhash.Sum64String(s))
	b.strs[s] = l
	return l
}

// --- evaluation stack ---

func slot(depth int, t byte) string { return fmt.Sprintf("%%s%d%c", depth, t) }

func (b *qbeBackend) push(t byte) string {
	b.stack = append(b.stack, t)
	return slot(len(b.stack)-1, t)
}

func (b *qbeBackend) pop() (string, byte) {
	if len(b.stack) == 0 {
		b.fail("evaluation stack underflow")
		return "0", 'w'
	}
	t := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	return slot(len(b.stack), t), t
}

func (b *qbeBackend) top() byte {
	if len(b.stack) == 0 { return 'w' }
	return b.stack[len(b.stack)-1]
}

func (b *qbeBackend) remember(l *ir.Label) {
	if _, ok := b.atLabel[l]; !ok { b.atLabel[l] = append([]byte(nil), b.stack...) }
}

func (b *qbeBackend) fresh(prefix string) string {
	b.tmp++
	return fmt.Sprintf("%s%d", prefix, b.tmp)
}

func (b *qbeBackend) emit(format string, args ...interface{}) {
	if b.needBlock {
		fmt.Fprintf(b.out, "@%s\n", b.fresh("d"))
		b.needBlock = false
	}
	fmt.Fprintf(b.out, "\t"+format+"\n", args...)
}

func (b *qbeBackend) terminate() {
	b.dead, b.needBlock = true, true
}

func label(l *ir.Label) string { return "@" + sanitize(l.String()) }

// --- routines ---

func (b *qbeBackend) genRoutine(r *ir.Routine) {
	b.routine, b.stack, b.atLabel, b.dead, b.needBlock = r, nil, make(map[*ir.Label][]byte), false, false

	ret := ""
	if r.EntryPoint {
		ret = "w "
	} else if r.Return.Kind != ir.KindNone {
		t, ok := b.baseType(r.Return)
		if !ok {
			b.fail("unsupported return type %s", r.Return)
			return
		}
		ret = string(t) + " "
	}
	name := sanitize(r.Name)
	if r.EntryPoint { name = "main" }

	params := make([]string, len(r.Params))
	for i, p := range r.Params {
		t, ok := b.baseType(p.Type)
		if !ok {
			b.fail("parameter '%s' has unsupported type %s", p.Name, p.Type)
			return
		}
		params[i] = fmt.Sprintf("%c %%p%d", t, i)
	}
	export := ""
	if r.Exported || r.EntryPoint { export = "export " }
	fmt.Fprintf(b.out, "\n%sfunction %s$%s(%s) {\n@start\n", export, ret, name, strings.Join(params, ", "))

	for _, l := range r.Locals {
		t, ok := b.baseType(l.Type)
		if !ok {
			b.fail("local %d has unsupported type %s", l.Index, l.Type)
			return
		}
		zero := "0"
		if t == 's' { zero = "s_0" } else if t == 'd' { zero = "d_0" }
		b.emit("%%l%d =%c copy %s", l.Index, t, zero)
	}

	skipping := 0
	for _, instr := range r.Live() {
		if skipping > 0 {
			switch instr.Op {
			case ir.OpTry: skipping++
			case ir.OpEndCatch: skipping--
			}
			continue
		}
		if instr.Op == ir.OpCatch || instr.Op == ir.OpDefaultCatch {
			skipping = 1
			continue
		}
		b.genInstr(instr)
		if b.err != nil { return }
	}
	if !b.dead { b.genReturn() }
	b.out.WriteString("}\n")
}

func (b *qbeBackend) genReturn() {
	switch {
	case b.routine.EntryPoint:
		b.emit("ret 0")
	case b.routine.Return.Kind == ir.KindNone:
		b.emit("ret")
	default:
		v, _ := b.pop()
		b.emit("ret %s", v)
	}
	b.terminate()
}

func floatLit(t byte, v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) { return "" }
	return fmt.Sprintf("%c_%s", t, strconv.FormatFloat(v, 'g', -1, 64))
}

var arith = map[ir.Op]string{ir.OpAdd: "add", ir.OpSub: "sub", ir.OpMul: "mul", ir.OpDiv: "div", ir.OpRem: "rem", ir.OpAnd: "and", ir.OpOr: "or", ir.OpXor: "xor"}

// compareOp returns the QBE comparison for a relation on operands of type t.
func compareOp(rel string, t byte) string {
	if t == 's' || t == 'd' { return "c" + rel + string(t) }
	if rel == "eq" || rel == "ne" { return "c" + rel + string(t) }
	return "cs" + rel + string(t)
}

var branchRelations = map[ir.Op]string{ir.OpBeq: "eq", ir.OpBne: "ne", ir.OpBlt: "lt", ir.OpBle: "le", ir.OpBgt: "gt", ir.OpBge: "ge"}

func (b *qbeBackend) genInstr(instr *ir.Instruction) {
	if instr.Op == ir.OpLabel {
		l := instr.Target()
		if b.dead {
			b.stack = append([]byte(nil), b.atLabel[l]...)
		} else {
			b.remember(l)
		}
		fmt.Fprintf(b.out, "%s\n", label(l))
		b.dead, b.needBlock = false, false
		return
	}
	if b.dead && instr.Op != ir.OpMarker && instr.Op != ir.OpTry && instr.Op != ir.OpEndCatch {
		b.dead = false
	}

	switch instr.Op {
	case ir.OpNop, ir.OpTry, ir.OpEndCatch:
	case ir.OpMarker:
		fmt.Fprintf(b.out, "# %s\n", instr.Operand)

	case ir.OpLdcI4:
		v, _ := instr.IntOperand()
		b.emit("%s =w copy %d", b.push('w'), v)
	case ir.OpLdcR4:
		lit := floatLit('s', float64(instr.Operand.(*ir.Float32).Value))
		if lit == "" { b.fail("non-finite constant") }
		b.emit("%s =s copy %s", b.push('s'), lit)
	case ir.OpLdcR8:
		lit := floatLit('d', instr.Operand.(*ir.Float64).Value)
		if lit == "" { b.fail("non-finite constant") }
		b.emit("%s =d copy %s", b.push('d'), lit)
	case ir.OpLdStr:
		b.emit("%s =%c copy $%s", b.push(b.word), b.word, b.stringLabel(instr.Operand.(*ir.Str).Value))
	case ir.OpLdNull:
		b.emit("%s =%c copy 0", b.push(b.word), b.word)

	case ir.OpLdLoc:
		l := instr.LocalOperand()
		t, _ := b.baseType(l.Type)
		b.emit("%s =%c copy %%l%d", b.push(t), t, l.Index)
	case ir.OpStLoc:
		l := instr.LocalOperand()
		v, t := b.pop()
		b.emit("%%l%d =%c copy %s", l.Index, t, v)
	case ir.OpLdArg:
		i, _ := instr.IntOperand()
		t, _ := b.baseType(b.routine.Params[i].Type)
		b.emit("%s =%c copy %%p%d", b.push(t), t, i)
	case ir.OpStArg:
		i, _ := instr.IntOperand()
		v, t := b.pop()
		b.emit("%%p%d =%c copy %s", i, t, v)
	case ir.OpLdSFld:
		f := instr.Operand.(*ir.FieldRef)
		t, _ := b.baseType(f.Type)
		b.emit("%s =%c load%c $%s", b.push(t), t, t, fieldSymbol(f))
	case ir.OpStSFld:
		f := instr.Operand.(*ir.FieldRef)
		v, t := b.pop()
		b.emit("store%c %s, $%s", t, v, fieldSymbol(f))

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem, ir.OpAnd, ir.OpOr, ir.OpXor:
		y, _ := b.pop()
		x, t := b.pop()
		b.emit("%s =%c %s %s, %s", b.push(t), t, arith[instr.Op], x, y)
	case ir.OpNeg:
		x, t := b.pop()
		b.emit("%s =%c neg %s", b.push(t), t, x)
	case ir.OpNot:
		x, _ := b.pop()
		b.emit("%s =w ceqw %s, 0", b.push('w'), x)
	case ir.OpCeq, ir.OpCgt, ir.OpClt:
		rel := map[ir.Op]string{ir.OpCeq: "eq", ir.OpCgt: "gt", ir.OpClt: "lt"}[instr.Op]
		y, _ := b.pop()
		x, t := b.pop()
		b.emit("%s =w %s %s, %s", b.push('w'), compareOp(rel, t), x, y)

	case ir.OpConvI4, ir.OpConvR4, ir.OpConvR8, ir.OpConvU1:
		b.genConvert(instr.Op)

	case ir.OpBr:
		b.remember(instr.Target())
		b.emit("jmp %s", label(instr.Target()))
		b.terminate()
	case ir.OpBrTrue, ir.OpBrFalse:
		c, _ := b.pop()
		b.remember(instr.Target())
		next := b.fresh("f")
		if instr.Op == ir.OpBrTrue {
			b.emit("jnz %s, %s, @%s", c, label(instr.Target()), next)
		} else {
			b.emit("jnz %s, @%s, %s", c, next, label(instr.Target()))
		}
		fmt.Fprintf(b.out, "@%s\n", next)
	case ir.OpBeq, ir.OpBne, ir.OpBlt, ir.OpBle, ir.OpBgt, ir.OpBge:
		y, _ := b.pop()
		x, t := b.pop()
		b.remember(instr.Target())
		c, next := "%"+b.fresh("c"), b.fresh("f")
		b.emit("%s =w %s %s, %s", c, compareOp(branchRelations[instr.Op], t), x, y)
		b.emit("jnz %s, %s, @%s", c, label(instr.Target()), next)
		fmt.Fprintf(b.out, "@%s\n", next)
	case ir.OpSwitch:
		idx, _ := b.pop()
		for i, l := range instr.Operand.(*ir.LabelArray).Labels {
			b.remember(l)
			c, next := "%"+b.fresh("c"), b.fresh("f")
			b.emit("%s =w ceqw %s, %d", c, idx, i)
			b.emit("jnz %s, %s, @%s", c, label(l), next)
			fmt.Fprintf(b.out, "@%s\n", next)
		}

	case ir.OpCall:
		b.genCall(instr.Operand.(*ir.MethodRef))
	case ir.OpRet:
		b.genReturn()
	case ir.OpDup:
		t := b.top()
		x := slot(len(b.stack)-1, t)
		b.emit("%s =%c copy %s", b.push(t), t, x)
	case ir.OpPop:
		b.pop()

	default:
		b.fail("instruction '%s' is not supported", instr.Op)
	}
}

func (b *qbeBackend) genConvert(op ir.Op) {
	x, from := b.pop()
	switch op {
	case ir.OpConvI4:
		switch from {
		case 's': b.emit("%s =w stosi %s", b.push('w'), x)
		case 'd': b.emit("%s =w dtosi %s", b.push('w'), x)
		default: b.emit("%s =w copy %s", b.push('w'), x)
		}
	case ir.OpConvR4:
		switch from {
		case 'w': b.emit("%s =s swtof %s", b.push('s'), x)
		case 'd': b.emit("%s =s truncd %s", b.push('s'), x)
		default: b.emit("%s =s copy %s", b.push('s'), x)
		}
	case ir.OpConvR8:
		switch from {
		case 'w': b.emit("%s =d swtof %s", b.push('d'), x)
		case 's': b.emit("%s =d exts %s", b.push('d'), x)
		default: b.emit("%s =d copy %s", b.push('d'), x)
		}
	case ir.OpConvU1:
		b.emit("%s =w extub %s", b.push('w'), x)
	}
}

// popArgs pops n call arguments and returns them in call order.
func (b *qbeBackend) popArgs(n int) []string {
	args := make([]string, n)
	for i := n - 1; i >= 0; i-- {
		v, t := b.pop()
		args[i] = fmt.Sprintf("%c %s", t, v)
	}
	return args
}

func (b *qbeBackend) printf(format string, args ...string) {
	all := append([]string{string(b.word) + " $" + b.stringLabel(format), "..."}, args...)
	b.emit("call $printf(%s)", strings.Join(all, ", "))
}

func (b *qbeBackend) genCall(m *ir.MethodRef) {
	if m.Owner == "" {
		args := b.popArgs(len(m.Params))
		name := sanitize(m.Name)
		if m.Return.Kind == ir.KindNone {
			b.emit("call $%s(%s)", name, strings.Join(args, ", "))
			return
		}
		t, ok := b.baseType(m.Return)
		if !ok {
			b.fail("call to '%s' returns unsupported type %s", m.Name, m.Return)
			return
		}
		b.emit("%s =%c call $%s(%s)", b.push(t), t, name, strings.Join(args, ", "))
		return
	}

	switch m {
	case runtime.Floor, runtime.Sqrt, runtime.Pow:
		args := b.popArgs(len(m.Params))
		b.emit("%s =d call $%s(%s)", b.push('d'), strings.ToLower(m.Name), strings.Join(args, ", "))
	case runtime.IsInfinity:
		x, _ := b.pop()
		d := "%" + b.fresh("t")
		b.emit("%s =d sub %s, %s", d, x, x)
		b.emit("%s =w cuod %s, %s", b.push('w'), d, d)
	case runtime.Stop:
		code, _ := b.pop()
		b.emit("call $exit(w %s)", code)
	case runtime.DivideByZero:
		b.emit("call $abort()")
	case runtime.IOBeginWrite:
		b.pop()
	case runtime.IOEndWrite:
		b.printf("\n")
	default:
		if m.Owner == runtime.OwnerIO && m.Name == "Write" && len(m.Params) == 1 {
			v, t := b.pop()
			switch m.Params[0].Kind {
			case ir.KindInt32, ir.KindBool: b.printf(" %d", "w "+v)
			case ir.KindFloat64: b.printf(" %g", "d "+v)
			case ir.KindFloat32:
				d := "%" + b.fresh("t")
				b.emit("%s =d exts %s", d, v)
				b.printf(" %g", "d "+d)
			case ir.KindString: b.printf(" %s", fmt.Sprintf("%c %s", t, v))
			default: b.fail("cannot write values of type %s", m.Params[0])
			}
			return
		}
		b.fail("runtime method %s is not supported", m)
	}
}
