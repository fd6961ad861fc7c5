//go:build windows

package backend

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
)

// Generate falls back to a qbe binary on PATH where libqbe is unavailable.
func (b *qbeBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	if _, err := exec.LookPath("qbe"); err != nil { return nil, fmt.Errorf("qbe not found in PATH: %w", err) }

	qbeIR, err := b.GenerateIR(prog, cfg)
	if err != nil { return nil, err }

	in, err := os.CreateTemp("", "gfc-qbe-*.ssa")
	if err != nil { return nil, err }
	defer os.Remove(in.Name())
	if _, err := in.WriteString(qbeIR); err != nil {
		in.Close()
		return nil, err
	}
	in.Close()

	var asmBuf, stderr bytes.Buffer
	cmd := exec.Command("qbe", "-t", cfg.QbeTarget, in.Name())
	cmd.Stdout, cmd.Stderr = &asmBuf, &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\n%s: %w", qbeIR, stderr.String(), err)
	}
	return &asmBuf, nil
}
