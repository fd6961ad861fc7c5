// Package vm executes generated programs in-process. It implements the
// instruction set and the runtime support methods, so that the behavior
// of generated code can be checked without an external toolchain.
package vm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/xplshn/gfc/pkg/ir"
)

var (
	ErrDivideByZero   = errors.New("floating-point division by zero")
	ErrIntegerDivide  = errors.New("integer division by zero")
	ErrBounds         = errors.New("index out of bounds")
	ErrIO             = errors.New("i/o error")
	ErrInvalidProgram = errors.New("invalid program")
	ErrStepLimit      = errors.New("step limit exceeded")
)

// StopError ends the program with an exit code. Handlers do not catch it.
type StopError struct{ Code int32 }

func (e *StopError) Error() string { return fmt.Sprintf("stop %d", e.Code) }

// DefaultStepLimit bounds the instructions one Run or Call may execute.
const DefaultStepLimit = 50_000_000

type Machine struct {
	Stdout io.Writer
	Stderr io.Writer
	// StepLimit caps executed instructions; zero means DefaultStepLimit.
	StepLimit int
	// ExitCode is set by a STOP reached during Run.
	ExitCode int32
	// Reported collects the errors passed to the default handler.
	Reported []error

	prog     *ir.Program
	statics  map[string]*Value
	compiled map[*ir.Routine]*compiled
	steps    int
	inited   bool

	in      *bufio.Reader
	pending []string
	line    []string
}

// New prepares prog for execution with zeroed static storage.
func New(prog *ir.Program) *Machine {
	m := &Machine{
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		prog:     prog,
		statics:  make(map[string]*Value),
		compiled: make(map[*ir.Routine]*compiled),
		in:       bufio.NewReader(os.Stdin),
	}
	for _, f := range prog.Statics {
		v := zero(f.Type.Kind)
		m.statics[staticKey(f)] = &v
	}
	return m
}

// SetInput replaces the reader READ statements consume.
func (m *Machine) SetInput(r io.Reader) {
	m.in = bufio.NewReader(r)
	m.pending = nil
}

func staticKey(f *ir.FieldRef) string { return f.Owner + "::" + f.Name }

// Static returns the current value of a static field.
func (m *Machine) Static(owner, name string) Value {
	if p, ok := m.statics[owner+"::"+name]; ok { return *p }
	return nil
}

// Run executes the program's entry point. A STOP ends it normally and sets
// ExitCode.
func (m *Machine) Run() error {
	entry := m.prog.EntryPoint()
	if entry == nil { return fmt.Errorf("%w: program '%s' has no entry point", ErrInvalidProgram, m.prog.Name) }
	m.steps = 0
	_, err := m.invoke(entry, nil)
	var stop *StopError
	if errors.As(err, &stop) {
		m.ExitCode = stop.Code
		return nil
	}
	return err
}

// Call runs one routine by name, initializing static storage first if the
// program has not done so yet.
func (m *Machine) Call(name string, args ...Value) (Value, error) {
	r := m.prog.FindRoutine(name)
	if r == nil { return nil, fmt.Errorf("%w: no routine '%s'", ErrInvalidProgram, name) }
	if len(args) != len(r.Params) { return nil, fmt.Errorf("%w: '%s' takes %d arguments, got %d", ErrInvalidProgram, name, len(r.Params), len(args)) }
	m.steps = 0
	if !m.inited && !strings.EqualFold(name, initRoutine) {
		if init := m.prog.FindRoutine(initRoutine); init != nil {
			if _, err := m.invoke(init, nil); err != nil { return nil, err }
		}
	}
	return m.invoke(r, args)
}

const initRoutine = "__init"

// NewRef returns a reference to a fresh cell holding v, for passing
// by-reference arguments to Call.
func NewRef(v Value) Ref { return Ref{p: &v} }

type region struct {
	try, handler, end int
	catch            *ir.Catch
}

type compiled struct {
	r       *ir.Routine
	code    []*ir.Instruction
	labels  map[*ir.Label]int
	regions []region
	skip    map[int]int
}

func (m *Machine) compile(r *ir.Routine) (*compiled, error) {
	if c, ok := m.compiled[r]; ok { return c, nil }
	c := &compiled{r: r, code: r.Live(), labels: make(map[*ir.Label]int), skip: make(map[int]int)}
	var open []region
	for i, instr := range c.code {
		switch instr.Op {
		case ir.OpLabel:
			c.labels[instr.Target()] = i
		case ir.OpTry:
			open = append(open, region{try: i, handler: -1})
		case ir.OpCatch, ir.OpDefaultCatch:
			if len(open) == 0 || open[len(open)-1].handler >= 0 { return nil, fmt.Errorf("%w: unmatched %s in '%s'", ErrInvalidProgram, instr.Op, r.Name) }
			open[len(open)-1].handler = i
			if cat, ok := instr.Operand.(*ir.Catch); ok { open[len(open)-1].catch = cat }
		case ir.OpEndCatch:
			if len(open) == 0 || open[len(open)-1].handler < 0 { return nil, fmt.Errorf("%w: unmatched .endcatch in '%s'", ErrInvalidProgram, r.Name) }
			reg := open[len(open)-1]
			open = open[:len(open)-1]
			reg.end = i
			c.regions = append(c.regions, reg)
			c.skip[reg.handler] = i
		}
	}
	if len(open) > 0 { return nil, fmt.Errorf("%w: unterminated .try in '%s'", ErrInvalidProgram, r.Name) }
	m.compiled[r] = c
	return c, nil
}

// handlerFor finds the innermost region whose protected body holds pc.
func (c *compiled) handlerFor(pc int) (region, bool) {
	best, found := region{}, false
	for _, reg := range c.regions {
		if pc > reg.try && pc < reg.handler && (!found || reg.try > best.try) {
			best, found = reg, true
		}
	}
	return best, found
}

func catchable(err error) bool {
	var stop *StopError
	return !errors.As(err, &stop) && !errors.Is(err, ErrInvalidProgram) && !errors.Is(err, ErrStepLimit)
}

type frame struct {
	c      *compiled
	args   []Value
	locals []Value
	stack  []Value
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 { return nil, fmt.Errorf("%w: stack underflow in '%s'", ErrInvalidProgram, f.c.r.Name) }
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popN(n int) ([]Value, error) {
	if len(f.stack) < n { return nil, fmt.Errorf("%w: stack underflow in '%s'", ErrInvalidProgram, f.c.r.Name) }
	vs := append([]Value(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return vs, nil
}

func (m *Machine) invoke(r *ir.Routine, args []Value) (Value, error) {
	c, err := m.compile(r)
	if err != nil { return nil, err }
	if strings.EqualFold(r.Name, initRoutine) { m.inited = true }
	f := &frame{c: c, args: append([]Value(nil), args...), locals: make([]Value, len(r.Locals))}
	for i, l := range r.Locals {
		f.locals[i] = zero(l.Type.Kind)
	}

	limit := m.StepLimit
	if limit <= 0 { limit = DefaultStepLimit }
	pc := 0
	for {
		if pc >= len(c.code) {
			if r.Return.Kind != ir.KindNone { return nil, fmt.Errorf("%w: '%s' ran off its end", ErrInvalidProgram, r.Name) }
			return nil, nil
		}
		m.steps++
		if m.steps > limit { return nil, ErrStepLimit }

		next, ret, done, err := m.step(f, pc)
		if err != nil {
			reg, ok := c.handlerFor(pc)
			if !ok || !catchable(err) { return nil, err }
			f.stack = f.stack[:0]
			switch {
			case c.code[reg.handler].Op == ir.OpDefaultCatch:
				f.push(err)
			case reg.catch != nil && reg.catch.Err != nil:
				f.locals[reg.catch.Err.Index] = err
			}
			pc = reg.handler + 1
			continue
		}
		if done { return ret, nil }
		pc = next
	}
}

func (m *Machine) jump(f *frame, l *ir.Label) (int, error) {
	if pc, ok := f.c.labels[l]; ok { return pc, nil }
	return 0, fmt.Errorf("%w: undefined label %s in '%s'", ErrInvalidProgram, l, f.c.r.Name)
}

func (m *Machine) step(f *frame, pc int) (next int, ret Value, done bool, err error) {
	instr := f.c.code[pc]
	next = pc + 1
	switch instr.Op {
	case ir.OpNop, ir.OpLabel, ir.OpMarker, ir.OpTry, ir.OpEndCatch:
	case ir.OpCatch, ir.OpDefaultCatch:
		// normal flow reaching a handler leaves the region
		next = f.c.skip[pc] + 1

	case ir.OpLdcI4:
		f.push(instr.Operand.(*ir.Int).Value)
	case ir.OpLdcR4:
		f.push(instr.Operand.(*ir.Float32).Value)
	case ir.OpLdcR8:
		f.push(instr.Operand.(*ir.Float64).Value)
	case ir.OpLdStr:
		f.push(instr.Operand.(*ir.Str).Value)
	case ir.OpLdNull:
		f.push(nil)

	case ir.OpLdLoc:
		f.push(f.locals[instr.LocalOperand().Index])
	case ir.OpStLoc:
		var v Value
		if v, err = f.pop(); err == nil { f.locals[instr.LocalOperand().Index] = v }
	case ir.OpLdLocA:
		f.push(Ref{p: &f.locals[instr.LocalOperand().Index]})
	case ir.OpLdArg, ir.OpStArg, ir.OpLdArgA:
		i, _ := instr.IntOperand()
		if int(i) >= len(f.args) { return 0, nil, false, fmt.Errorf("%w: argument %d out of range", ErrInvalidProgram, i) }
		switch instr.Op {
		case ir.OpLdArg:
			f.push(f.args[i])
		case ir.OpLdArgA:
			f.push(Ref{p: &f.args[i]})
		default:
			var v Value
			if v, err = f.pop(); err == nil { f.args[i] = v }
		}
	case ir.OpLdSFld, ir.OpStSFld, ir.OpLdSFldA:
		fld := instr.Operand.(*ir.FieldRef)
		cell, ok := m.statics[staticKey(fld)]
		if !ok {
			v := zero(fld.Type.Kind)
			cell = &v
			m.statics[staticKey(fld)] = cell
		}
		switch instr.Op {
		case ir.OpLdSFld:
			f.push(*cell)
		case ir.OpLdSFldA:
			f.push(Ref{p: cell})
		default:
			var v Value
			if v, err = f.pop(); err == nil { *cell = v }
		}
	case ir.OpLdInd:
		var v Value
		if v, err = f.pop(); err != nil { break }
		ref, ok := v.(Ref)
		if !ok { return 0, nil, false, fmt.Errorf("%w: ldind on %T", ErrInvalidProgram, v) }
		f.push(ref.Load())
	case ir.OpStInd:
		var vs []Value
		if vs, err = f.popN(2); err != nil { break }
		ref, ok := vs[0].(Ref)
		if !ok { return 0, nil, false, fmt.Errorf("%w: stind on %T", ErrInvalidProgram, vs[0]) }
		ref.Store(vs[1])

	case ir.OpLdElem, ir.OpLdElemA:
		var vs []Value
		if vs, err = f.popN(2); err != nil { break }
		var cell *Value
		if cell, err = vectorCell(vs[0], vs[1]); err != nil { break }
		if instr.Op == ir.OpLdElem { f.push(*cell) } else { f.push(Ref{p: cell}) }
	case ir.OpStElem:
		var vs []Value
		if vs, err = f.popN(3); err != nil { break }
		var cell *Value
		if cell, err = vectorCell(vs[0], vs[1]); err == nil { *cell = vs[2] }
	case ir.OpLdLen:
		var v Value
		if v, err = f.pop(); err != nil { break }
		vec, ok := v.(*Vector)
		if !ok { return 0, nil, false, fmt.Errorf("%w: ldlen on %T", ErrInvalidProgram, v) }
		f.push(int32(len(vec.Elems)))
	case ir.OpNewArr:
		var v Value
		if v, err = f.pop(); err != nil { break }
		n, _ := v.(int32)
		if n < 0 { return 0, nil, false, fmt.Errorf("%w: negative vector size %d", ErrBounds, n) }
		f.push(NewVector(instr.Operand.(*ir.TypeRef).Type.Kind, int(n)))
	case ir.OpNewObj:
		ctor := instr.Operand.(*ir.MethodRef)
		var args []Value
		if args, err = f.popN(len(ctor.Params)); err != nil { break }
		var v Value
		if v, err = m.callRuntime(ctor, args); err == nil { f.push(v) }

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem, ir.OpAnd, ir.OpOr, ir.OpXor:
		var vs []Value
		if vs, err = f.popN(2); err != nil { break }
		var v Value
		if v, err = arith(instr.Op, vs[0], vs[1]); err == nil { f.push(v) }
	case ir.OpCeq, ir.OpCgt, ir.OpClt:
		var vs []Value
		if vs, err = f.popN(2); err != nil { break }
		var b bool
		if b, err = compare(instr.Op, vs[0], vs[1]); err == nil { f.push(boolValue(b)) }
	case ir.OpNeg, ir.OpNot, ir.OpConvI4, ir.OpConvR4, ir.OpConvR8, ir.OpConvU1:
		var v Value
		if v, err = f.pop(); err != nil { break }
		if v, err = unary(instr.Op, v); err == nil { f.push(v) }

	case ir.OpBr:
		next, err = m.jump(f, instr.Target())
	case ir.OpBrTrue, ir.OpBrFalse:
		var v Value
		if v, err = f.pop(); err != nil { break }
		if truthy(v) == (instr.Op == ir.OpBrTrue) { next, err = m.jump(f, instr.Target()) }
	case ir.OpBeq, ir.OpBne, ir.OpBlt, ir.OpBle, ir.OpBgt, ir.OpBge:
		var vs []Value
		if vs, err = f.popN(2); err != nil { break }
		var taken bool
		if taken, err = branchTaken(instr.Op, vs[0], vs[1]); err == nil && taken { next, err = m.jump(f, instr.Target()) }
	case ir.OpSwitch:
		var v Value
		if v, err = f.pop(); err != nil { break }
		labels := instr.Operand.(*ir.LabelArray).Labels
		if i, ok := v.(int32); ok && i >= 0 && int(i) < len(labels) { next, err = m.jump(f, labels[i]) }

	case ir.OpCall:
		err = m.call(f, instr.Operand.(*ir.MethodRef))
	case ir.OpRet:
		if f.c.r.Return.Kind == ir.KindNone { return 0, nil, true, nil }
		var v Value
		if v, err = f.pop(); err != nil { break }
		return 0, v, true, nil
	case ir.OpDup:
		if len(f.stack) == 0 { return 0, nil, false, fmt.Errorf("%w: dup on empty stack", ErrInvalidProgram) }
		f.push(f.stack[len(f.stack)-1])
	case ir.OpPop:
		_, err = f.pop()
	case ir.OpThrow:
		var v Value
		if v, err = f.pop(); err != nil { break }
		if e, ok := v.(error); ok { return 0, nil, false, e }
		return 0, nil, false, fmt.Errorf("%w: thrown %s", ErrIO, Format(v))
	default:
		err = fmt.Errorf("%w: unknown instruction %s", ErrInvalidProgram, instr.Op)
	}
	return next, nil, false, err
}

func (m *Machine) call(f *frame, ref *ir.MethodRef) error {
	args, err := f.popN(len(ref.Params))
	if err != nil { return err }
	var v Value
	if ref.Owner == "" {
		r := m.prog.FindRoutine(ref.Name)
		if r == nil { return fmt.Errorf("%w: call to undefined routine '%s'", ErrInvalidProgram, ref.Name) }
		v, err = m.invoke(r, args)
	} else {
		v, err = m.callRuntime(ref, args)
	}
	if err != nil { return err }
	if ref.Return.Kind != ir.KindNone { f.push(v) }
	return nil
}

func vectorCell(obj, index Value) (*Value, error) {
	vec, ok := obj.(*Vector)
	if !ok { return nil, fmt.Errorf("%w: element access on %T", ErrInvalidProgram, obj) }
	i, ok := index.(int32)
	if !ok { return nil, fmt.Errorf("%w: index of type %T", ErrInvalidProgram, index) }
	return vec.cell(i)
}

func arith(op ir.Op, a, b Value) (Value, error) {
	switch x := a.(type) {
	case int32:
		y, ok := b.(int32)
		if !ok { break }
		switch op {
		case ir.OpAdd: return x + y, nil
		case ir.OpSub: return x - y, nil
		case ir.OpMul: return x * y, nil
		case ir.OpDiv, ir.OpRem:
			if y == 0 { return nil, ErrIntegerDivide }
			if op == ir.OpDiv { return x / y, nil }
			return x % y, nil
		case ir.OpAnd: return x & y, nil
		case ir.OpOr: return x | y, nil
		case ir.OpXor: return x ^ y, nil
		}
	case float32:
		y, ok := b.(float32)
		if !ok { break }
		switch op {
		case ir.OpAdd: return x + y, nil
		case ir.OpSub: return x - y, nil
		case ir.OpMul: return x * y, nil
		case ir.OpDiv: return x / y, nil
		case ir.OpRem: return float32(math.Mod(float64(x), float64(y))), nil
		}
	case float64:
		y, ok := b.(float64)
		if !ok { break }
		switch op {
		case ir.OpAdd: return x + y, nil
		case ir.OpSub: return x - y, nil
		case ir.OpMul: return x * y, nil
		case ir.OpDiv: return x / y, nil
		case ir.OpRem: return math.Mod(x, y), nil
		}
	case string:
		y, ok := b.(string)
		if ok && op == ir.OpAdd { return x + y, nil }
	}
	return nil, fmt.Errorf("%w: %s on %T and %T", ErrInvalidProgram, op, a, b)
}

func compare(op ir.Op, a, b Value) (bool, error) {
	if op == ir.OpCeq { return a == b, nil }
	c, err := order(a, b)
	if err != nil { return false, err }
	if op == ir.OpCgt { return c > 0, nil }
	return c < 0, nil
}

// order compares two numbers of the same type, with NaN ordered nowhere.
func order(a, b Value) (int, error) {
	var x, y float64
	switch av := a.(type) {
	case int32:
		bv, ok := b.(int32)
		if !ok { return 0, fmt.Errorf("%w: compare %T with %T", ErrInvalidProgram, a, b) }
		switch {
		case av < bv: return -1, nil
		case av > bv: return 1, nil
		}
		return 0, nil
	case float32:
		bv, ok := b.(float32)
		if !ok { return 0, fmt.Errorf("%w: compare %T with %T", ErrInvalidProgram, a, b) }
		x, y = float64(av), float64(bv)
	case float64:
		bv, ok := b.(float64)
		if !ok { return 0, fmt.Errorf("%w: compare %T with %T", ErrInvalidProgram, a, b) }
		x, y = av, bv
	default:
		return 0, fmt.Errorf("%w: compare %T", ErrInvalidProgram, a)
	}
	switch {
	case x < y: return -1, nil
	case x > y: return 1, nil
	}
	return 0, nil
}

func branchTaken(op ir.Op, a, b Value) (bool, error) {
	switch op {
	case ir.OpBeq, ir.OpBne:
		eq, err := compare(ir.OpCeq, a, b)
		return eq == (op == ir.OpBeq), err
	}
	c, err := order(a, b)
	if err != nil { return false, err }
	switch op {
	case ir.OpBlt: return c < 0, nil
	case ir.OpBle: return c <= 0, nil
	case ir.OpBgt: return c > 0, nil
	}
	return c >= 0, nil
}

func unary(op ir.Op, v Value) (Value, error) {
	switch op {
	case ir.OpNeg:
		switch x := v.(type) {
		case int32: return -x, nil
		case float32: return -x, nil
		case float64: return -x, nil
		}
	case ir.OpNot:
		if x, ok := v.(int32); ok { return boolValue(x == 0), nil }
	case ir.OpConvI4:
		switch x := v.(type) {
		case int32: return x, nil
		case float32: return int32(x), nil
		case float64: return int32(x), nil
		}
	case ir.OpConvR4:
		switch x := v.(type) {
		case int32: return float32(x), nil
		case float32: return x, nil
		case float64: return float32(x), nil
		}
	case ir.OpConvR8:
		switch x := v.(type) {
		case int32: return float64(x), nil
		case float32: return float64(x), nil
		case float64: return x, nil
		}
	case ir.OpConvU1:
		if x, ok := v.(int32); ok { return x & 0xff, nil }
	}
	return nil, fmt.Errorf("%w: %s on %T", ErrInvalidProgram, op, v)
}
