// Package cli is a small flag parser with grouped -X<name>/-Xno-<name>
// switches and a help page that wraps to the terminal width.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const indentUnit = "    "

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

// boolValue treats an empty argument as true, so "--flag" sets it.
type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil { return fmt.Errorf("invalid boolean value '%s': %w", s, err) }
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil { return fmt.Errorf("invalid integer value '%s'", s) }
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }
func (v *intValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

// FlagGroupEntry is one switchable name of a group. Enabled is set by
// -<Prefix><Name> and Disabled by -<Prefix>no-<Name>.
type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Enabled  *bool
	Disabled *bool
}

type FlagGroup struct {
	Name        string
	Description string
	GroupType   string
	Header      string
	Flags       []FlagGroupEntry
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	groups     []FlagGroup
	args       []string
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{name: name, flags: make(map[string]*Flag), shorthands: make(map[string]*Flag)}
}

func (f *FlagSet) Args() []string           { return f.args }
func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage, expectedType string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), expectedType)
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, "", expectedType)
}

// Var registers a flag. Redefining a name or shorthand is a programming
// error and panics.
func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" { panic("flag name cannot be empty") }
	if _, ok := f.flags[name]; ok { panic(fmt.Sprintf("flag redefined: %s", name)) }
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = flag
	if shorthand == "" { return }
	if _, ok := f.shorthands[shorthand]; ok { panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand)) }
	f.shorthands[shorthand] = flag
}

// AddFlagGroup defines the enable and disable switches of every entry and
// lists them under one heading of the help page.
func (f *FlagSet) AddFlagGroup(name, description, groupType, header string, entries []FlagGroupEntry) {
	for _, e := range entries {
		if e.Enabled != nil { f.Bool(e.Enabled, e.Prefix+e.Name, "", *e.Enabled, e.Usage) }
		if e.Disabled != nil { f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'") }
	}
	f.groups = append(f.groups, FlagGroup{Name: name, Description: description, GroupType: groupType, Header: header, Flags: entries})
}

// Parse accepts --name, --name=value, --name value, -name (single dash
// long form, used by group switches), -x, -xvalue and -x value. A bare
// "--" ends flag parsing.
func (f *FlagSet) Parse(arguments []string) error {
	f.args = nil
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		if arg == "--" {
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		}
		if len(arg) < 2 || arg[0] != '-' {
			f.args = append(f.args, arg)
			continue
		}

		dashes := "-"
		body := arg[1:]
		if strings.HasPrefix(arg, "--") { dashes, body = "--", arg[2:] }
		name, value, hasValue := strings.Cut(body, "=")
		if name == "" { return fmt.Errorf("empty flag name") }

		flag, ok := f.flags[name]
		if !ok && dashes == "-" {
			if err := f.parseShorthand(arg, arguments, &i); err != nil { return err }
			continue
		}
		if !ok { return fmt.Errorf("unknown flag: %s%s", dashes, name) }

		switch {
		case hasValue:
			if err := flag.Value.Set(value); err != nil { return fmt.Errorf("%s%s: %w", dashes, name, err) }
		case flag.isBool():
			flag.Value.Set("")
		default:
			if i+1 >= len(arguments) { return fmt.Errorf("flag needs an argument: %s%s", dashes, name) }
			i++
			if err := flag.Value.Set(arguments[i]); err != nil { return fmt.Errorf("%s%s: %w", dashes, name, err) }
		}
	}
	return nil
}

func (f *FlagSet) parseShorthand(arg string, arguments []string, i *int) error {
	short := arg[1:2]
	flag, ok := f.shorthands[short]
	if !ok { return fmt.Errorf("unknown flag: %s", arg) }
	if flag.isBool() {
		if len(arg) > 2 { return fmt.Errorf("unknown flag: %s", arg) }
		return flag.Value.Set("")
	}
	value := arg[2:]
	if value == "" {
		if *i+1 >= len(arguments) { return fmt.Errorf("flag needs an argument: -%s", short) }
		*i++
		value = arguments[*i]
	}
	if err := flag.Value.Set(value); err != nil { return fmt.Errorf("-%s: %w", short, err) }
	return nil
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error

	Stdout io.Writer
	Stderr io.Writer
	// Width overrides the detected terminal width of Stdout.
	Width int
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name), Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run parses arguments and invokes Action with the positional ones. On a
// parse error the short usage page goes to Stderr.
func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintf(a.Stderr, "%s: %v\n", a.Name, err)
		a.WriteUsage(a.Stderr)
		return err
	}
	if help {
		a.WriteHelp(a.Stdout)
		return nil
	}
	if a.Action == nil { return nil }
	return a.Action(a.FlagSet.Args())
}

func (a *App) width() int {
	if a.Width > 0 { return a.Width }
	if f, ok := a.Stdout.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil { return max(w, 40) }
	}
	return 80
}

// options returns the plain flags, without group switches, by name.
func (a *App) options() []*Flag {
	grouped := make(map[string]bool)
	for _, g := range a.FlagSet.groups {
		for _, e := range g.Flags {
			grouped[e.Prefix+e.Name], grouped[e.Prefix+"no-"+e.Name] = true, true
		}
	}
	var out []*Flag
	for name, flag := range a.FlagSet.flags {
		if !grouped[name] { out = append(out, flag) }
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func flagLabel(f *Flag) string {
	arg := ""
	if !f.isBool() && f.ExpectedType != "" { arg = " <" + f.ExpectedType + ">" }
	if f.Shorthand != "" { return "-" + f.Shorthand + ", --" + f.Name + arg }
	return "--" + f.Name + arg
}

func defaultNote(f *Flag) string {
	if f.isBool() || f.DefValue == "" { return "" }
	return "|" + f.DefValue + "|"
}

// table renders two-column rows with the usage text wrapped so that no
// line runs past the terminal width.
type table struct {
	w     io.Writer
	left  int
	width int
}

func (t *table) row(label, usage, note string) {
	room := max(t.width-len(indentUnit)*2-t.left-1, 20)
	lines := wrapText(usage, room)
	if len(lines) == 0 { lines = []string{""} }
	if note != "" {
		last := len(lines) - 1
		if len(lines[last])+len(note)+2 <= room {
			lines[last] += "  " + note
		} else {
			lines = append(lines, note)
		}
	}
	fmt.Fprintf(t.w, "%s%-*s %s\n", indentUnit+indentUnit, t.left, label, lines[0])
	pad := strings.Repeat(" ", len(indentUnit)*2+t.left+1)
	for _, l := range lines[1:] {
		fmt.Fprintf(t.w, "%s%s\n", pad, l)
	}
}

func (a *App) newTable(w io.Writer) *table {
	t := &table{w: w, width: a.width()}
	for _, f := range a.options() {
		t.left = max(t.left, len(flagLabel(f)))
	}
	for _, g := range a.FlagSet.groups {
		for _, e := range g.Flags {
			t.left = max(t.left, len(e.Name), len(e.Prefix)+len(g.GroupType)+6)
		}
	}
	return t
}

// WriteUsage writes the short usage page.
func (a *App) WriteUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s %s\n\n%sOptions\n", a.Name, a.Synopsis, indentUnit)
	t := a.newTable(w)
	for _, f := range a.options() {
		t.row(flagLabel(f), f.Usage, defaultNote(f))
	}
	fmt.Fprintf(w, "\nRun '%s --help' for all available options and flags.\n", a.Name)
}

// WriteHelp writes the full help page including every flag group.
func (a *App) WriteHelp(w io.Writer) {
	if len(a.Authors) > 0 { fmt.Fprintf(w, "\n%sCopyright (c): %s and contributors\n", indentUnit, strings.Join(a.Authors, ", ")) }
	if a.Repository != "" { fmt.Fprintf(w, "%sFor more details refer to %s\n", indentUnit, a.Repository) }
	if a.Synopsis != "" { fmt.Fprintf(w, "\n%sSynopsis\n%s%s %s\n", indentUnit, indentUnit+indentUnit, a.Name, a.Synopsis) }
	if a.Description != "" {
		fmt.Fprintf(w, "\n%sDescription\n", indentUnit)
		for _, l := range wrapText(a.Description, a.width()-len(indentUnit)*2) {
			fmt.Fprintf(w, "%s%s\n", indentUnit+indentUnit, l)
		}
	}

	t := a.newTable(w)
	fmt.Fprintf(w, "\n%sOptions\n", indentUnit)
	for _, f := range a.options() {
		t.row(flagLabel(f), f.Usage, defaultNote(f))
	}

	groups := append([]FlagGroup(nil), a.FlagSet.groups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, g := range groups {
		if len(g.Flags) == 0 { continue }
		kind := g.GroupType
		if kind == "" { kind = "flag" }
		prefix := g.Flags[0].Prefix
		fmt.Fprintf(w, "\n%s%s\n", indentUnit, g.Name)
		t.row("-"+prefix+"<"+kind+">", "Enable a specific "+kind, "")
		t.row("-"+prefix+"no-<"+kind+">", "Disable a specific "+kind, "")
		if g.Header != "" { fmt.Fprintf(w, "%s%s\n", indentUnit, g.Header) }

		entries := append([]FlagGroupEntry(nil), g.Flags...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
		for _, e := range entries {
			state := "|-|"
			if e.Enabled != nil && *e.Enabled && (e.Disabled == nil || !*e.Disabled) { state = "|x|" }
			t.row(e.Name, e.Usage, state)
		}
	}
}

func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 { return nil }
	if width <= 0 { return []string{strings.Join(words, " ")} }

	var lines []string
	line := words[0]
	for _, word := range words[1:] {
		if len(line)+1+len(word) > width {
			lines = append(lines, line)
			line = word
			continue
		}
		line += " " + word
	}
	return append(lines, line)
}
