package symbols

import (
	"fmt"
	"io"
	"strings"

	"github.com/xplshn/gfc/pkg/util"
)

// Collection is one scope: a name to Symbol mapping. Adding a name that is
// already present replaces the earlier symbol.
type Collection struct {
	CaseSensitive bool
	byName        map[string]*Symbol
	order         []string
}

func NewCollection(caseSensitive bool) *Collection {
	return &Collection{CaseSensitive: caseSensitive, byName: make(map[string]*Symbol)}
}

func (c *Collection) key(name string) string {
	if c.CaseSensitive { return name }
	return strings.ToUpper(name)
}

func (c *Collection) Add(s *Symbol) *Symbol {
	k := c.key(s.Name)
	if _, exists := c.byName[k]; !exists { c.order = append(c.order, k) }
	c.byName[k] = s
	return s
}

func (c *Collection) Get(name string) *Symbol { return c.byName[c.key(name)] }

func (c *Collection) Len() int { return len(c.order) }

// Symbols returns the scope's symbols in first-declaration order.
func (c *Collection) Symbols() []*Symbol {
	out := make([]*Symbol, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byName[k])
	}
	return out
}

// Dump writes one line per symbol, used by the driver's -dump-symbols flag.
func (c *Collection) Dump(w io.Writer) {
	for _, s := range c.Symbols() {
		fmt.Fprintf(w, "%-16s %-10s", s.Name, s.FullType.Type)
		if s.FullType.Width > 0 { fmt.Fprintf(w, "*%d", s.FullType.Width) }
		for i, d := range s.Dimensions {
			if i == 0 { fmt.Fprint(w, "(") } else { fmt.Fprint(w, ",") }
			if size, ok := d.Size(); ok { fmt.Fprintf(w, "%d", size) } else { fmt.Fprint(w, "*") }
			if i == len(s.Dimensions)-1 { fmt.Fprint(w, ")") }
		}
		fmt.Fprintf(w, " class=%d scope=%d", s.Class, s.Scope)
		if s.IsByRef() { fmt.Fprint(w, " byref") }
		if s.IsStatic() { fmt.Fprint(w, " static") }
		if s.IsInCommon() { fmt.Fprintf(w, " common=%s[%d]", s.Common.Name, s.CommonIndex) }
		fmt.Fprintln(w)
	}
}

// Stack is the chain of active scopes. The bottom scope is the global one
// and is never popped.
type Stack struct {
	scopes []*Collection
}

func NewStack(global *Collection) *Stack { return &Stack{scopes: []*Collection{global}} }

func (s *Stack) Push(c *Collection) { s.scopes = append(s.scopes, c) }

func (s *Stack) Pop() *Collection {
	util.Assert(len(s.scopes) > 1, "attempt to pop the global symbol scope")
	top := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	return top
}

func (s *Stack) Top() *Collection    { return s.scopes[len(s.scopes)-1] }
func (s *Stack) Global() *Collection { return s.scopes[0] }
func (s *Stack) Depth() int          { return len(s.scopes) }

// Resolve looks name up starting at the innermost scope.
func (s *Stack) Resolve(name string) (*Symbol, bool) {
	for i := len(s.scopes) - 1; i >= 0; i-- {
		if sym := s.scopes[i].Get(name); sym != nil { return sym, true }
	}
	return nil, false
}
