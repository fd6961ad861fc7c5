// gtest runs a directory of interchange programs through code generation
// and the reference machine, and compares each run with its golden record.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	generateGolden = flag.String("generate-golden", "", "Write the golden record for the given program.")
	testFiles      = flag.String("test-files", "tests/*.json", "Glob pattern(s) for programs to test (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	goldenDir      = flag.String("dir", "", "Directory to store/read golden records (defaults to the program's dir).")
	features       = flag.String("features", "", "Feature and warning switches for code generation, e.g. 'Fno-inline Wall'.")
	stepLimit      = flag.Int("steps", 0, "Instruction budget per program run (0 keeps the machine default).")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Print durations of passing tests.")
	ignoreLines    = flag.String("ignore-lines", "", "Comma-separated substrings to ignore during output comparison.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	settings := runSettings{features: strings.Fields(*features), stepLimit: *stepLimit}
	if *generateGolden != "" {
		writeGolden(*generateGolden, settings)
		return
	}

	files, err := expandGlobPatterns(*testFiles)
	if err != nil { log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err) }
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return
	}

	results := runSuite(files, settings)
	printSummary(results)
	writeJSONReport(results)
	for _, r := range results {
		if r.Status == "FAIL" || r.Status == "ERROR" { os.Exit(1) }
	}
}

func readGolden(path string) (*Execution, error) {
	data, err := os.ReadFile(path)
	if err != nil { return nil, err }
	var e Execution
	if err := json.Unmarshal(data, &e); err != nil { return nil, fmt.Errorf("could not parse golden record %s: %w", path, err) }
	return &e, nil
}

func writeGolden(file string, s runSettings) {
	exec, err := execute(file, inputFor(file), s)
	if err != nil { log.Fatalf("%s[ERROR]%s %s: %v\n", cRed, cNone, file, err) }
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil { log.Fatalf("%s[ERROR]%s Failed to marshal golden record: %v\n", cRed, cNone, err) }

	path := goldenPath(*goldenDir, file)
	if *goldenDir != "" {
		if err := os.MkdirAll(*goldenDir, 0o755); err != nil { log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err) }
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { log.Fatalf("%s[ERROR]%s Failed to write %s: %v\n", cRed, cNone, path, err) }
	log.Printf("%s[SUCCESS]%s Golden record created at %s\n", cGreen, cNone, path)
}

// runSuite tests files on a pool of workers. Files whose content hashes
// equal an earlier file are skipped.
func runSuite(files []string, s runSettings) []*FileTestResult {
	skip := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skip[f] = true
	}
	var ignored []string
	if *ignoreLines != "" { ignored = strings.Split(*ignoreLines, ",") }

	tasks := make(chan string, len(files))
	results := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < max(*jobs, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				results <- testFile(file, *goldenDir, s, ignored, readGolden)
			}
		}()
	}

	seen := make(map[string]string)
	for _, file := range files {
		if skip[file] || skip[filepath.Base(file)] {
			results <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		hash, err := hashFile(file)
		if err != nil {
			results <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file for hashing: %v", err)}
			continue
		}
		if original, ok := seen[hash]; ok {
			results <- &FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", original)}
			continue
		}
		seen[hash] = file
		tasks <- file
	}
	close(tasks)
	wg.Wait()
	close(results)

	var all []*FileTestResult
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].File < all[j].File })
	return all
}

func printSummary(results []*FileTestResult) {
	counts := make(map[string]int)
	var total time.Duration
	for _, r := range results {
		counts[r.Status]++
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, r.File, cNone)
		switch r.Status {
		case "PASS":
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, r.Message)
			if *verbose && r.Target != nil { fmt.Printf("  [%s | golden %s]\n", r.Target.Duration, r.Golden.Duration) }
		case "FAIL":
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, r.Message)
			fmt.Print(formatDiff(r.Diff))
		case "SKIP":
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, r.Message)
		case "ERROR":
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, r.Message)
		}
		if r.Target != nil { total += r.Target.Duration }
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total (%s)\n",
		cBold, cNone, cGreen, counts["PASS"], cNone, cRed, counts["FAIL"], cNone, cYellow, counts["SKIP"], cNone,
		cRed, counts["ERROR"], cNone, len(results), total.Round(time.Microsecond))
}

func formatDiff(diff string) string {
	if diff == "" { return "" }
	var sb strings.Builder
	sb.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		color := cNone
		switch trimmed := strings.TrimSpace(line); {
		case strings.HasPrefix(trimmed, "-"): color = cRed
		case strings.HasPrefix(trimmed, "+"): color = cGreen
		}
		fmt.Fprintf(&sb, "%s    %s%s\n", color, line, cNone)
	}
	return sb.String()
}

func writeJSONReport(results []*FileTestResult) {
	byFile := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		byFile[r.File] = r
	}
	data, err := json.MarshalIndent(byFile, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return
	}
	path := *outputJSON
	if *goldenDir != "" { path = filepath.Join(*goldenDir, *outputJSON) }
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, path, err)
		return
	}
	fmt.Printf("Full test report saved to %s\n", path)
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var all []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil { return nil, fmt.Errorf("bad pattern %s: %w", pattern, err) }
		for _, file := range files {
			abs, err := filepath.Abs(file)
			if err != nil || seen[abs] { continue }
			if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
				all = append(all, abs)
				seen[abs] = true
			}
		}
	}
	return all, nil
}
