package vm

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
	"unicode"

	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/runtime"
)

// callRuntime executes a support method from the runtime catalogue.
func (m *Machine) callRuntime(ref *ir.MethodRef, args []Value) (Value, error) {
	switch ref.Owner {
	case runtime.OwnerFixedString: return fixedStringMethod(ref, args)
	case runtime.OwnerString: return stringMethod(ref, args)
	case runtime.OwnerIntrinsics: return intrinsic(ref, args)
	case runtime.OwnerComplex: return complexMethod(ref, args)
	case runtime.OwnerIO: return m.ioMethod(ref, args)
	case runtime.OwnerRuntime: return m.runtimeMethod(ref, args)
	case runtime.OwnerConvert: return convertMethod(ref, args)
	case runtime.OwnerArray:
		if ref.Name == "Copy" { return nil, arrayCopy(args) }
	default:
		if strings.HasPrefix(ref.Owner, runtime.OwnerArray) { return arrayMethod(ref, args) }
	}
	return nil, unknownMethod(ref)
}

func unknownMethod(ref *ir.MethodRef) error {
	return fmt.Errorf("%w: no runtime method %s", ErrInvalidProgram, ref)
}

func argError(ref *ir.MethodRef, args []Value) error {
	return fmt.Errorf("%w: bad arguments to %s: %v", ErrInvalidProgram, ref, args)
}

func asFixed(v Value) (*FixedString, bool) {
	f, ok := v.(*FixedString)
	return f, ok && f != nil
}

func asInt(v Value) int32 {
	i, _ := v.(int32)
	return i
}

func asString(v Value) string {
	switch x := v.(type) {
	case string: return x
	case *FixedString: return x.String()
	}
	return ""
}

// compareBlankPadded orders two strings as if the shorter one were padded
// with blanks.
func compareBlankPadded(a, b string) int32 {
	return int32(cmp.Compare(strings.TrimRight(a, " "), strings.TrimRight(b, " ")))
}

func fixedStringMethod(ref *ir.MethodRef, args []Value) (Value, error) {
	if ref.Ctor {
		return NewFixedString(int(asInt(args[0]))), nil
	}
	fs, ok := asFixed(args[0])
	if !ok && ref.Name != "FromString" && ref.Name != "Fill" { return nil, argError(ref, args) }
	switch ref.Name {
	case "Set":
		fs.Set(asString(args[1]))
		return nil, nil
	case "SetSubstring":
		return nil, fs.SetRange(asString(args[1]), int(asInt(args[2])), int(asInt(args[3])))
	case "Substring":
		return fs.Substring(int(asInt(args[1])), int(asInt(args[2])))
	case "FromString":
		s := asString(args[0])
		f := NewFixedString(len(s))
		f.Set(s)
		return f, nil
	case "ToString":
		return fs.String(), nil
	case "Merge":
		other, ok := asFixed(args[1])
		if !ok { return nil, argError(ref, args) }
		s := fs.String() + other.String()
		f := NewFixedString(len(s))
		f.Set(s)
		return f, nil
	case "Compare":
		return compareBlankPadded(fs.String(), asString(args[1])), nil
	case "IsEmpty":
		return boolValue(fs.IsEmpty()), nil
	case "Fill":
		width := int(asInt(args[1]))
		var cells []Value
		switch obj := args[0].(type) {
		case *Vector: cells = obj.Elems
		case *Array: cells = obj.Data
		default: return nil, argError(ref, args)
		}
		for i := range cells {
			cells[i] = NewFixedString(width)
		}
		return nil, nil
	}
	return nil, unknownMethod(ref)
}

func stringMethod(ref *ir.MethodRef, args []Value) (Value, error) {
	switch ref.Name {
	case "Concat": return asString(args[0]) + asString(args[1]), nil
	case "Compare": return compareBlankPadded(asString(args[0]), asString(args[1])), nil
	case "Substring":
		s := asString(args[0])
		start, end := int(asInt(args[1])), int(asInt(args[2]))
		if end < 0 { end = len(s) }
		if start < 0 || end > len(s) || start > end { return nil, fmt.Errorf("%w: substring (%d:%d) of length %d", ErrBounds, start+1, end, len(s)) }
		return s[start:end], nil
	}
	return nil, unknownMethod(ref)
}

func intrinsic(ref *ir.MethodRef, args []Value) (Value, error) {
	x, _ := args[0].(float64)
	switch ref.Name {
	case "Pow":
		y, _ := args[1].(float64)
		return math.Pow(x, y), nil
	case "Floor": return math.Floor(x), nil
	case "Sqrt": return math.Sqrt(x), nil
	case "IsInfinity": return boolValue(math.IsInf(x, 0)), nil
	}
	return nil, unknownMethod(ref)
}

func complexMethod(ref *ir.MethodRef, args []Value) (Value, error) {
	if ref.Ctor {
		re, _ := args[0].(float64)
		im, _ := args[1].(float64)
		return complex(re, im), nil
	}
	a, _ := args[0].(complex128)
	var b complex128
	if len(args) > 1 { b, _ = args[1].(complex128) }
	switch ref.Name {
	case "Add": return a + b, nil
	case "Subtract": return a - b, nil
	case "Multiply": return a * b, nil
	case "Divide":
		if b == 0 { return nil, ErrDivideByZero }
		return a / b, nil
	case "Negate": return -a, nil
	case "Pow": return cmplx.Pow(a, b), nil
	case "Equals": return boolValue(a == b), nil
	case "Real": return real(a), nil
	}
	return nil, unknownMethod(ref)
}

func convertMethod(ref *ir.MethodRef, args []Value) (Value, error) {
	switch ref.Name {
	case "ToString":
		if ref.Params[0].Kind == ir.KindBool { return formatBool(args[0]), nil }
		return Format(args[0]), nil
	case "ToInt32":
		s := strings.TrimSpace(asString(args[0]))
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil { return nil, fmt.Errorf("%w: '%s' is not an integer", ErrIO, s) }
		return int32(n), nil
	case "ToDouble":
		s := strings.TrimSpace(asString(args[0]))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil { return nil, fmt.Errorf("%w: '%s' is not a number", ErrIO, s) }
		return f, nil
	}
	return nil, unknownMethod(ref)
}

func (m *Machine) runtimeMethod(ref *ir.MethodRef, args []Value) (Value, error) {
	switch ref.Name {
	case "DivideByZero": return nil, ErrDivideByZero
	case "Stop": return nil, &StopError{Code: asInt(args[0])}
	case "ReportException":
		err, ok := args[0].(error)
		if !ok { err = fmt.Errorf("%v", args[0]) }
		m.Reported = append(m.Reported, err)
		fmt.Fprintf(m.Stderr, "Runtime error: %v\n", err)
		return nil, nil
	}
	return nil, unknownMethod(ref)
}

func arrayCells(obj Value) ([]Value, bool) {
	switch x := obj.(type) {
	case *Vector: return x.Elems, true
	case *Array: return x.Data, true
	}
	return nil, false
}

// arrayCopy moves n elements from src[srcOff:] to dst[dstOff:].
func arrayCopy(args []Value) error {
	src, ok1 := arrayCells(args[0])
	dst, ok2 := arrayCells(args[2])
	if !ok1 || !ok2 { return fmt.Errorf("%w: array copy between %T and %T", ErrInvalidProgram, args[0], args[2]) }
	so, do, n := int(asInt(args[1])), int(asInt(args[3])), int(asInt(args[4]))
	if so < 0 || do < 0 || n < 0 || so+n > len(src) || do+n > len(dst) {
		return fmt.Errorf("%w: copy of %d elements from %d of %d to %d of %d", ErrBounds, n, so, len(src), do, len(dst))
	}
	copy(dst[do:do+n], src[so:so+n])
	return nil
}

func arrayMethod(ref *ir.MethodRef, args []Value) (Value, error) {
	if ref.Ctor {
		dims := make([]int, len(args))
		for i, a := range args {
			dims[i] = int(asInt(a))
		}
		return NewArray(ref.Return.Elem, dims)
	}
	a, ok := args[0].(*Array)
	if !ok { return nil, argError(ref, args) }
	rank := len(a.Dims)
	if len(args) < 1+rank { return nil, argError(ref, args) }
	offsets := make([]int32, rank)
	for i := range offsets {
		offsets[i] = asInt(args[1+i])
	}
	cell, err := a.cell(offsets)
	if err != nil { return nil, err }
	switch ref.Name {
	case "Get": return *cell, nil
	case "Set":
		*cell = args[1+rank]
		return nil, nil
	case "Address": return Ref{p: cell}, nil
	}
	return nil, unknownMethod(ref)
}

func (m *Machine) ioMethod(ref *ir.MethodRef, args []Value) (Value, error) {
	switch ref.Name {
	case "BeginWrite":
		m.line = m.line[:0]
		return nil, nil
	case "Write":
		if ref.Params[0].Kind == ir.KindBool {
			m.line = append(m.line, formatBool(args[0]))
		} else {
			m.line = append(m.line, Format(args[0]))
		}
		return nil, nil
	case "WriteArray":
		cells, ok := arrayCells(args[0])
		if !ok { return nil, argError(ref, args) }
		for _, c := range cells {
			m.line = append(m.line, Format(c))
		}
		return nil, nil
	case "EndWrite":
		_, err := fmt.Fprintln(m.Stdout, strings.Join(m.line, " "))
		m.line = m.line[:0]
		if err != nil { return nil, fmt.Errorf("%w: %v", ErrIO, err) }
		return nil, nil
	case "BeginRead":
		return nil, m.fillLine()
	case "EndRead":
		m.pending = nil
		return nil, nil
	case "ReadArray":
		var cells []Value
		var elem ir.Kind
		switch obj := args[0].(type) {
		case *Vector: cells, elem = obj.Elems, obj.Elem
		case *Array: cells, elem = obj.Data, obj.Elem
		default: return nil, argError(ref, args)
		}
		for i := range cells {
			if fs, ok := asFixed(cells[i]); ok {
				tok, err := m.nextToken()
				if err != nil { return nil, err }
				fs.Set(tok)
				continue
			}
			v, err := m.readValue(elem)
			if err != nil { return nil, err }
			cells[i] = v
		}
		return nil, nil
	}
	if strings.HasPrefix(ref.Name, "Read") { return m.readValue(ref.Return.Kind) }
	return nil, unknownMethod(ref)
}

// fillLine loads the next input record into the pending token queue.
func (m *Machine) fillLine() error {
	line, err := m.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") { return fmt.Errorf("%w: %v", ErrIO, err) }
	m.pending = strings.FieldsFunc(line, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	return nil
}

func (m *Machine) nextToken() (string, error) {
	for len(m.pending) == 0 {
		if err := m.fillLine(); err != nil { return "", err }
	}
	tok := m.pending[0]
	m.pending = m.pending[1:]
	return tok, nil
}

func (m *Machine) readValue(k ir.Kind) (Value, error) {
	tok, err := m.nextToken()
	if err != nil { return nil, err }
	bad := func() error { return fmt.Errorf("%w: cannot read '%s' as %s", ErrIO, tok, ir.Type{Kind: k}) }
	switch k {
	case ir.KindInt32:
		n, err := strconv.ParseInt(tok, 10, 32)
		if err != nil { return nil, bad() }
		return int32(n), nil
	case ir.KindFloat32:
		f, err := strconv.ParseFloat(normalizeExponent(tok), 32)
		if err != nil { return nil, bad() }
		return float32(f), nil
	case ir.KindFloat64:
		f, err := strconv.ParseFloat(normalizeExponent(tok), 64)
		if err != nil { return nil, bad() }
		return f, nil
	case ir.KindComplex:
		c, err := strconv.ParseComplex(tok, 128)
		if err != nil { return nil, bad() }
		return c, nil
	case ir.KindBool:
		switch strings.ToUpper(strings.Trim(tok, ".")) {
		case "T", "TRUE": return int32(1), nil
		case "F", "FALSE": return int32(0), nil
		}
		return nil, bad()
	}
	return tok, nil
}

// normalizeExponent accepts D as an exponent letter.
func normalizeExponent(s string) string {
	return strings.NewReplacer("d", "e", "D", "e").Replace(s)
}
