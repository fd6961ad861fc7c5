package util

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/token"
)

func TestDiagnosticsPrint(t *testing.T) {
	cfg := config.NewConfig()
	d := NewDiagnostics(cfg)
	d.SetSourceFiles([]SourceFileRecord{{Name: "a.f", Content: []rune("      X = 1\n      Y = X / 0\n")}})
	d.Error(token.Token{Line: 2, Column: 11, Len: 5}, "division by %s", "zero")
	d.Warn(config.WarnUnusedVariable, token.Token{Line: 1, Column: 7}, "'%s' is never used", "X")

	var buf bytes.Buffer
	d.Print(&buf)
	out := buf.String()
	for _, want := range []string{
		"a.f:2:11: \033[31merror:\033[0m division by zero\n",
		"        Y = X / 0\n",
		"            \033[32m^~~~~\033[0m\n",
		"a.f:1:7: \033[33mwarning:\033[0m 'X' is never used [-Wunused]\n",
	} {
		if !strings.Contains(out, want) { t.Errorf("output lacks %q:\n%s", want, out) }
	}
	if d.ErrorCount() != 1 || d.WarningCount() != 1 { t.Fatalf("counts = %d, %d", d.ErrorCount(), d.WarningCount()) }

	d.Reset()
	if len(d.Messages()) != 0 || d.ErrorCount() != 0 { t.Fatal("Reset should clear everything") }
}

func TestWarningFilter(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnUnusedVariable, false)
	d := NewDiagnostics(cfg)
	d.Warn(config.WarnUnusedVariable, token.Token{}, "off")
	d.Warn(config.WarnImplicitConversion, token.Token{}, "below level")
	if d.WarningCount() != 0 { t.Fatalf("filtered warnings were recorded: %v", d.Messages()) }
}

func TestUnknownFile(t *testing.T) {
	d := NewDiagnostics(nil)
	d.Error(token.Token{FileIndex: 3, Line: 4, Column: 2}, "bad")
	var buf bytes.Buffer
	d.Print(&buf)
	if !strings.HasPrefix(buf.String(), "unknown:4:2: ") { t.Fatalf("output = %q", buf.String()) }
}

func TestAssert(t *testing.T) {
	defer func() {
		r := recover()
		var ie *InternalError
		if err, ok := r.(error); !ok || !errors.As(err, &ie) || ie.Text != "slot 3 reused" { t.Fatalf("recovered %v", r) }
	}()
	Assert(true, "never")
	Assert(false, "slot %d reused", 3)
}
