package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/gfc/pkg/astjson"
	"github.com/xplshn/gfc/pkg/backend"
	"github.com/xplshn/gfc/pkg/codegen"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/vm"
)

// Execution is what one program did when generated and run on the
// reference machine. It is also the golden file format.
type Execution struct {
	Stdout      string            `json:"stdout"`
	ExitCode    int32             `json:"exitCode"`
	Error       string            `json:"error,omitempty"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
	Reported    []string          `json:"reported,omitempty"`
	Checksums   map[string]string `json:"checksums,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

type FileTestResult struct {
	File    string     `json:"file"`
	Status  string     `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string     `json:"message,omitempty"`
	Diff    string     `json:"diff,omitempty"`
	Golden  *Execution `json:"golden,omitempty"`
	Target  *Execution `json:"target,omitempty"`
}

// runSettings holds the knobs that affect generated code and execution.
type runSettings struct {
	features  []string
	stepLimit int
}

func (s runSettings) config() *config.Config {
	cfg := config.NewConfig()
	cfg.ProcessFlags(s.features)
	return cfg
}

// goldenPath returns the hidden golden file that sits next to a program.
func goldenPath(dir, file string) string {
	name := "." + filepath.Base(file) + ".golden"
	if dir != "" { return filepath.Join(dir, name) }
	return filepath.Join(filepath.Dir(file), name)
}

// inputFor returns the program's standard input: file.in when it exists.
func inputFor(file string) io.Reader {
	data, err := os.ReadFile(strings.TrimSuffix(file, filepath.Ext(file)) + ".in")
	if err != nil { return strings.NewReader("") }
	return bytes.NewReader(data)
}

// hashFile computes the xxhash of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil { return "", err }
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil { return "", err }
	return fmt.Sprintf("%x", h.Sum64()), nil
}

// execute generates file and runs it. A program that fails to generate
// is still a valid outcome: its diagnostics become the result.
func execute(file string, stdin io.Reader, s runSettings) (*Execution, error) {
	cfg := s.config()
	doc, err := astjson.ReadFile(file, cfg.IsFeatureEnabled(config.FeatCaseSensitive))
	if err != nil { return nil, err }

	start := time.Now()
	diag := util.NewDiagnostics(cfg)
	prog, genErr := codegen.NewContext(cfg, diag).GenerateProgram(doc.Root)
	exec := &Execution{}
	for _, m := range diag.Messages() {
		exec.Diagnostics = append(exec.Diagnostics, fmt.Sprintf("%d:%d: %s", m.Tok.Line, m.Tok.Column, m.Text))
	}
	if genErr != nil || diag.ErrorCount() > 0 {
		exec.Error = "code generation failed"
		if genErr != nil { exec.Error = genErr.Error() }
		exec.Duration = time.Since(start)
		return exec, nil
	}

	exec.Checksums = make(map[string]string, len(prog.Routines))
	for _, r := range prog.Routines {
		exec.Checksums[r.Name] = fmt.Sprintf("%016x", backend.BodyChecksum(r))
	}

	var stdout, stderr bytes.Buffer
	m := vm.New(prog)
	m.Stdout, m.Stderr = &stdout, &stderr
	m.SetInput(stdin)
	if s.stepLimit > 0 { m.StepLimit = s.stepLimit }
	if err := m.Run(); err != nil { exec.Error = err.Error() }
	exec.Duration = time.Since(start)
	exec.Stdout, exec.ExitCode = stdout.String(), m.ExitCode
	for _, r := range m.Reported {
		exec.Reported = append(exec.Reported, r.Error())
	}
	return exec, nil
}

// compare checks a run against its golden record. Output, exit code,
// errors and diagnostics must match; changed routine checksums only
// annotate a pass.
func compare(file string, golden, target *Execution, ignored []string) *FileTestResult {
	res := &FileTestResult{File: file, Golden: golden, Target: target}
	type observable struct {
		Stdout      string
		ExitCode    int32
		Error       string
		Diagnostics []string
		Reported    []string
	}
	view := func(e *Execution) observable {
		return observable{filterOutput(e.Stdout, ignored), e.ExitCode, e.Error, e.Diagnostics, e.Reported}
	}
	if diff := cmp.Diff(view(golden), view(target)); diff != "" {
		res.Status, res.Message, res.Diff = "FAIL", "Behavior differs from the golden record", diff
		return res
	}

	changed := 0
	for name, sum := range target.Checksums {
		if golden.Checksums[name] != sum { changed++ }
	}
	res.Status, res.Message = "PASS", "Output matches"
	if changed > 0 { res.Message = fmt.Sprintf("Output matches; code changed in %d routine(s)", changed) }
	return res
}

func testFile(file, goldenDir string, s runSettings, ignored []string, readGolden func(string) (*Execution, error)) *FileTestResult {
	golden, err := readGolden(goldenPath(goldenDir, file))
	if errors.Is(err, os.ErrNotExist) { return &FileTestResult{File: file, Status: "SKIP", Message: "No golden record; run with --generate-golden"} }
	if err != nil { return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()} }

	target, err := execute(file, inputFor(file), s)
	if err != nil { return &FileTestResult{File: file, Status: "ERROR", Message: err.Error(), Golden: golden} }
	return compare(file, golden, target, ignored)
}

func filterOutput(output string, ignored []string) string {
	if len(ignored) == 0 { return output }
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		drop := false
		for _, sub := range ignored {
			if sub != "" && strings.Contains(line, sub) {
				drop = true
				break
			}
		}
		if !drop { kept = append(kept, line) }
	}
	return strings.Join(kept, "\n")
}
