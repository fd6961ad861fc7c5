package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/xplshn/gfc/pkg/ast"
	"github.com/xplshn/gfc/pkg/astjson"
	"github.com/xplshn/gfc/pkg/backend"
	"github.com/xplshn/gfc/pkg/cli"
	"github.com/xplshn/gfc/pkg/codegen"
	"github.com/xplshn/gfc/pkg/config"
	"github.com/xplshn/gfc/pkg/ir"
	"github.com/xplshn/gfc/pkg/util"
	"github.com/xplshn/gfc/pkg/vm"
)

var errFailed = errors.New("compilation failed")

type options struct {
	output      string
	backendName string
	target      string
	warnLevel   int
	verbose     bool
	dumpIR      bool
	dumpSymbols bool
	run         bool
	watch       bool
	wall        bool
	pedantic    bool
}

// irDumper is implemented by backends that have a textual intermediate
// form of their own.
type irDumper interface {
	GenerateIR(prog *ir.Program, cfg *config.Config) (string, error)
}

func main() {
	app := cli.NewApp("gfc")
	app.Synopsis = "[options] <program.json>"
	app.Description = "Code generator for typed Fortran-family programs. Reads the JSON AST written by the front end and produces an instruction listing, or native assembly through QBE."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/gfc>"

	var opts options
	fs := app.FlagSet
	fs.String(&opts.output, "output", "o", "", "Place the output into <file>; '-' writes to stdout.", "file")
	fs.String(&opts.backendName, "backend", "b", "listing", "Select the output backend (listing, qbe).", "backend")
	fs.String(&opts.target, "target", "t", "", "Set the QBE target ABI.", "target")
	fs.Int(&opts.warnLevel, "warn-level", "", 2, "Report warnings up to this level (0-4).", "level")
	fs.Bool(&opts.verbose, "verbose", "v", false, "Print per-routine optimizer statistics.")
	fs.Bool(&opts.dumpIR, "dump-ir", "d", false, "Print the backend's intermediate form and exit.")
	fs.Bool(&opts.dumpSymbols, "dump-symbols", "", false, "Print every symbol table before generating code.")
	fs.Bool(&opts.run, "run", "r", false, "Execute the generated program instead of writing output.")
	fs.Bool(&opts.watch, "watch", "w", false, "Regenerate whenever the input file changes.")
	fs.Bool(&opts.wall, "Wall", "", false, "Enable all warnings except pedantic.")
	fs.Bool(&opts.pedantic, "pedantic", "", false, "Issue all warnings regardless of level.")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	exitCode := 0
	app.Action = func(inputs []string) error {
		if len(inputs) != 1 {
			fmt.Fprintf(os.Stderr, "gfc: expected one input file, got %d\n", len(inputs))
			return errFailed
		}
		if opts.wall { cfg.ProcessFlags([]string{"Wall"}) }
		if opts.pedantic { cfg.SetWarning(config.WarnPedantic, true) }
		cfg.ApplyFlagGroups(warningFlags, featureFlags)
		if err := cfg.SetWarnLevel(opts.warnLevel); err != nil {
			fmt.Fprintf(os.Stderr, "gfc: %v\n", err)
			return errFailed
		}
		if strings.EqualFold(opts.backendName, "qbe") { cfg.SetTarget(runtime.GOOS, runtime.GOARCH, opts.target) }

		d := &driver{cfg: cfg, opts: opts, input: inputs[0]}
		if !opts.watch {
			code, err := d.build()
			exitCode = code
			return err
		}
		d.build()
		return d.watchInput()
	}

	if err := app.Run(os.Args[1:]); err != nil { os.Exit(1) }
	os.Exit(exitCode)
}

type driver struct {
	cfg   *config.Config
	opts  options
	input string
}

func (d *driver) progress(format string, args ...interface{}) {
	if d.opts.output == "-" || d.opts.run { return }
	fmt.Printf(format+"\n", args...)
}

// build runs one load, generate and materialize cycle. The returned code
// is the program's exit code under --run.
func (d *driver) build() (int, error) {
	d.progress("Loading AST...")
	doc, err := astjson.ReadFile(d.input, d.cfg.IsFeatureEnabled(config.FeatCaseSensitive))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gfc: %v\n", err)
		return 1, errFailed
	}

	if d.opts.dumpSymbols { dumpSymbols(os.Stdout, doc) }

	d.progress("Generating code...")
	diag := util.NewDiagnostics(d.cfg)
	diag.SetSourceFiles(doc.Files)
	ctx := codegen.NewContext(d.cfg, diag)
	names := make([]string, len(doc.Files))
	for i, f := range doc.Files {
		names[i] = f.Name
	}
	ctx.SetSourceFiles(names)

	prog, genErr := ctx.GenerateProgram(doc.Root)
	diag.Print(os.Stderr)
	if genErr != nil || diag.ErrorCount() > 0 {
		fmt.Fprintf(os.Stderr, "gfc: %d error(s), %d warning(s)\n", diag.ErrorCount(), diag.WarningCount())
		return 1, errFailed
	}
	if d.opts.verbose { printStats(os.Stdout, ctx.RoutineStats) }

	if d.opts.run { return d.execute(prog) }
	if err := d.materialize(prog); err != nil {
		fmt.Fprintf(os.Stderr, "gfc: %v\n", err)
		return 1, errFailed
	}
	d.progress("Done!")
	return 0, nil
}

func (d *driver) execute(prog *ir.Program) (int, error) {
	m := vm.New(prog)
	m.SetInput(os.Stdin)
	if err := m.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "gfc: %s: %v\n", prog.Name, err)
		return 1, errFailed
	}
	if len(m.Reported) > 0 { return 1, nil }
	return int(m.ExitCode), nil
}

func (d *driver) materialize(prog *ir.Program) error {
	be, err := backend.Select(d.opts.backendName)
	if err != nil { return err }

	if d.opts.dumpIR {
		if dumper, ok := be.(irDumper); ok {
			text, err := dumper.GenerateIR(prog, d.cfg)
			if err != nil { return err }
			fmt.Print(text)
			return nil
		}
	}

	d.progress("Materializing with '%s' backend...", d.opts.backendName)
	out, err := be.Generate(prog, d.cfg)
	if err != nil { return fmt.Errorf("backend code generation failed: %w", err) }
	if d.opts.dumpIR || d.opts.output == "-" {
		_, err := os.Stdout.Write(out.Bytes())
		return err
	}

	path := d.opts.output
	if path == "" {
		ext := ".il"
		if strings.EqualFold(d.opts.backendName, "qbe") { ext = ".s" }
		path = strings.TrimSuffix(d.input, filepath.Ext(d.input)) + ext
	}
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil { return fmt.Errorf("writing output: %w", err) }
	d.progress("Wrote '%s'", path)
	return nil
}

// watchInput rebuilds on every write to the input until interrupted. The
// directory is watched so that editors which replace the file by rename
// are still seen.
func (d *driver) watchInput() error {
	w, err := fsnotify.NewWatcher()
	if err != nil { return fmt.Errorf("watch: %w", err) }
	defer w.Close()
	if err := w.Add(filepath.Dir(d.input)); err != nil { return fmt.Errorf("watch: %w", err) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	target := filepath.Clean(d.input)
	fmt.Printf("Watching '%s' for changes...\n", d.input)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok { return nil }
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) { continue }
			fmt.Println("----------------------")
			d.build()
		case err, ok := <-w.Errors:
			if !ok { return nil }
			fmt.Fprintf(os.Stderr, "gfc: watch: %v\n", err)
		}
	}
}

func dumpSymbols(w io.Writer, doc *astjson.Document) {
	fmt.Fprintln(w, "globals:")
	doc.Globals.Dump(w)
	for _, u := range doc.Root.Data.(ast.ProgramNode).Units {
		p := u.Data.(ast.ProcedureNode)
		fmt.Fprintf(w, "%s:\n", p.Symbol.Name)
		p.Locals.Dump(w)
	}
}

func printStats(w io.Writer, stats map[string]codegen.RoutineStats) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(w, "%-24s emitted %5d  live %5d  deleted %4d  rewritten %4d\n", name, s.Emitted, s.Live, s.Deleted, s.Rewritten)
	}
}
