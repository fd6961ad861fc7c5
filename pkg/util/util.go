package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/token"
)

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Message is one reported diagnostic.
type Message struct {
	Severity Severity
	Tok      token.Token
	Text     string
	Warning  config.Warning
}

// Diagnostics accumulates user-facing errors and warnings. Reporting never
// aborts; the driver inspects ErrorCount once the whole unit is processed.
type Diagnostics struct {
	cfg      *config.Config
	files    []SourceFileRecord
	messages []Message
	errors   int
	warnings int
}

func NewDiagnostics(cfg *config.Config) *Diagnostics { return &Diagnostics{cfg: cfg} }

// SetSourceFiles stores the source code for all input files for rich error messages
func (d *Diagnostics) SetSourceFiles(files []SourceFileRecord) { d.files = files }

func (d *Diagnostics) Error(tok token.Token, format string, args ...interface{}) {
	d.messages = append(d.messages, Message{Severity: SeverityError, Tok: tok, Text: fmt.Sprintf(format, args...)})
	d.errors++
}

func (d *Diagnostics) Warn(wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if d.cfg != nil && !d.cfg.ShouldReport(wt) { return }
	d.messages = append(d.messages, Message{Severity: SeverityWarning, Tok: tok, Text: fmt.Sprintf(format, args...), Warning: wt})
	d.warnings++
}

func (d *Diagnostics) ErrorCount() int     { return d.errors }
func (d *Diagnostics) WarningCount() int   { return d.warnings }
func (d *Diagnostics) Messages() []Message { return d.messages }

func (d *Diagnostics) Reset() {
	d.messages, d.errors, d.warnings = nil, 0, 0
}

// findFileAndLine converts a token to a file-specific location
func (d *Diagnostics) findFileAndLine(tok token.Token) (filename string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(d.files) {
		return "unknown", tok.Line, tok.Column
	}
	return d.files[tok.FileIndex].Name, tok.Line, tok.Column
}

// printErrorLine prints the source line and a caret indicating the error position
func (d *Diagnostics) printErrorLine(w io.Writer, tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(d.files) || tok.Line == 0 { return }

	content := d.files[tok.FileIndex].Content
	if len(content) == 0 { return }
	lineNum := tok.Line
	lineStart := 0
	for i, r := range content {
		if lineNum <= 1 { break }
		if r == '\n' {
			lineNum--
			lineStart = i + 1
		}
	}

	lineEnd := len(content)
	for i := lineStart; i < len(content); i++ {
		if content[i] == '\n' {
			lineEnd = i
			break
		}
	}

	fmt.Fprintf(w, "  %s\n", string(content[lineStart:lineEnd]))

	col := tok.Column
	if col < 1 { col = 1 }
	fmt.Fprintf(w, "  %s\033[32m^", strings.Repeat(" ", col-1))
	if tok.Len > 1 {
		fmt.Fprintf(w, "%s", strings.Repeat("~", tok.Len-1))
	}
	fmt.Fprintln(w, "\033[0m")
}

// Print writes every message in report order.
func (d *Diagnostics) Print(w io.Writer) {
	for _, m := range d.messages {
		filename, line, col := d.findFileAndLine(m.Tok)
		switch m.Severity {
		case SeverityError:
			fmt.Fprintf(w, "%s:%d:%d: \033[31merror:\033[0m %s\n", filename, line, col, m.Text)
		case SeverityWarning:
			name := ""
			if d.cfg != nil { name = d.cfg.Warnings[m.Warning].Name }
			fmt.Fprintf(w, "%s:%d:%d: \033[33mwarning:\033[0m %s [-W%s]\n", filename, line, col, m.Text, name)
		}
		d.printErrorLine(w, m.Tok)
	}
}

// InternalError is a compiler invariant violation. It is raised with panic
// and only recovered by the top-level driver.
type InternalError struct {
	Tok  token.Token
	Text string
}

func (e *InternalError) Error() string {
	if e.Tok.Line > 0 { return fmt.Sprintf("internal compiler error at line %d: %s", e.Tok.Line, e.Text) }
	return "internal compiler error: " + e.Text
}

func Internalf(format string, args ...interface{}) *InternalError {
	return &InternalError{Text: fmt.Sprintf(format, args...)}
}

func InternalAt(tok token.Token, format string, args ...interface{}) *InternalError {
	return &InternalError{Tok: tok, Text: fmt.Sprintf(format, args...)}
}

// Assert panics with an InternalError when cond is false.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond { panic(Internalf(format, args...)) }
}
