package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const echoProgram = `{
  "version": "1.0.0",
  "program": {
    "name": "ECHO",
    "globals": [{"name": "MAIN", "class": "program"}],
    "units": [
      {"symbol": "MAIN", "locals": [{"name": "N", "type": "integer"}],
       "body": [
         {"kind": "read", "items": [{"kind": "ident", "name": "N"}]},
         {"kind": "write", "items": [{"kind": "binary", "op": "mul", "left": {"kind": "ident", "name": "N"}, "right": {"kind": "literal", "type": "integer", "value": 2}}]}
       ]}
    ]
  }
}`

func writeProgram(t *testing.T, dir string) string {
	t.Helper()
	file := filepath.Join(dir, "echo.json")
	if err := os.WriteFile(file, []byte(echoProgram), 0o644); err != nil { t.Fatal(err) }
	if err := os.WriteFile(filepath.Join(dir, "echo.in"), []byte("21\n"), 0o644); err != nil { t.Fatal(err) }
	return file
}

func TestExecuteUsesInputFile(t *testing.T) {
	file := writeProgram(t, t.TempDir())
	exec, err := execute(file, inputFor(file), runSettings{})
	if err != nil { t.Fatal(err) }
	if exec.Stdout != "42\n" || exec.Error != "" { t.Fatalf("stdout = %q, error = %q", exec.Stdout, exec.Error) }
	if _, ok := exec.Checksums["MAIN"]; !ok { t.Fatalf("checksums = %v", exec.Checksums) }
}

func TestCompare(t *testing.T) {
	file := writeProgram(t, t.TempDir())
	golden, err := execute(file, inputFor(file), runSettings{})
	if err != nil { t.Fatal(err) }

	same := *golden
	if r := compare(file, golden, &same, nil); r.Status != "PASS" || r.Message != "Output matches" { t.Fatalf("identical run: %+v", r) }

	changed := *golden
	changed.Checksums = map[string]string{"MAIN": "0"}
	if r := compare(file, golden, &changed, nil); r.Status != "PASS" || !strings.Contains(r.Message, "1 routine") { t.Fatalf("code change: %+v", r) }

	wrong := *golden
	wrong.Stdout = "43\n"
	if r := compare(file, golden, &wrong, nil); r.Status != "FAIL" || !strings.Contains(r.Diff, "43") { t.Fatalf("wrong output: %+v", r) }
	if r := compare(file, golden, &wrong, []string{"4"}); r.Status != "PASS" { t.Fatalf("ignored line: %+v", r) }
}

func TestTestFileWithoutGolden(t *testing.T) {
	dir := t.TempDir()
	file := writeProgram(t, dir)
	if r := testFile(file, "", runSettings{}, nil, readGolden); r.Status != "SKIP" { t.Fatalf("no golden: %+v", r) }
	if got := goldenPath("", file); got != filepath.Join(dir, ".echo.json.golden") { t.Fatalf("golden path = %s", got) }
}

func TestFilterOutput(t *testing.T) {
	if got := filterOutput("a\ntime 3ms\nb", []string{"time"}); got != "a\nb" { t.Fatalf("filtered = %q", got) }
}
