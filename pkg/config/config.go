package config

import (
	"fmt"
	"os"
	"strings"

	"modernc.org/libqbe"
)

type Feature int

const (
	FeatDebugInfo Feature = iota
	FeatInline
	FeatDevDiagnostics
	FeatRuntimeCatch
	FeatBoundsObjects
	FeatCaseSensitive
	FeatCount
)

type Warning int

const (
	WarnUnusedVariable Warning = iota
	WarnConstantCondition
	WarnEmptyLoop
	WarnTruncation
	WarnImplicitConversion
	WarnUnreachableCode
	WarnPedantic
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

// warningLevels gives the minimum warning level at which each warning is
// reported. Level 0 silences everything.
var warningLevels = map[Warning]int{
	WarnUnusedVariable:     2,
	WarnConstantCondition:  3,
	WarnEmptyLoop:          2,
	WarnTruncation:         1,
	WarnImplicitConversion: 4,
	WarnUnreachableCode:    2,
	WarnPedantic:           4,
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	WarnLevel  int
	QbeTarget  string
	WordType   string
}

func NewConfig() *Config {
	cfg := &Config{
		Features:   make(map[Feature]Info),
		Warnings:   make(map[Warning]Info),
		FeatureMap: make(map[string]Feature),
		WarningMap: make(map[string]Warning),
		WarnLevel:  2,
		WordType:   "l",
	}

	features := map[Feature]Info{
		FeatDebugInfo:      {"debug-info", false, "Interleave source-position markers with generated instructions."},
		FeatInline:         {"inline", true, "Expand statement functions at their call sites."},
		FeatDevDiagnostics: {"dev-diagnostics", false, "Let internal compiler faults propagate instead of reporting a generic error."},
		FeatRuntimeCatch:   {"runtime-catch", true, "Wrap the program entry in a default top-level exception handler."},
		FeatBoundsObjects:  {"bounds-objects", true, "Represent arrays of rank 2 or more as bounds-checked runtime objects."},
		FeatCaseSensitive:  {"case-sensitive", false, "Compare symbol names case-sensitively."},
	}

	warnings := map[Warning]Info{
		WarnUnusedVariable:     {"unused", true, "Warn about variables that are declared but never referenced."},
		WarnConstantCondition:  {"constant-condition", true, "Warn about loop and branch conditions that are compile-time constants."},
		WarnEmptyLoop:          {"empty-loop", true, "Warn about counted loops whose iteration count is zero."},
		WarnTruncation:         {"truncation", true, "Warn when a constant is narrowed by assignment."},
		WarnImplicitConversion: {"implicit-conversion", false, "Warn about every implicit type conversion."},
		WarnUnreachableCode:    {"unreachable-code", true, "Warn about statements that follow an unconditional transfer."},
		WarnPedantic:           {"pedantic", false, "Issue all warnings regardless of level."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget configures the QBE target and the base type of its pointers.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) {
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		fmt.Fprintf(os.Stderr, "gfc: info: no target specified, defaulting to host target '%s'\n", c.QbeTarget)
	} else {
		c.QbeTarget = qbeTarget
	}

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordType = "l"
	case "arm", "rv32":
		c.WordType = "w"
	default:
		fmt.Fprintf(os.Stderr, "gfc: warning: unrecognized or unsupported QBE target '%s'.\n", c.QbeTarget)
		fmt.Fprintf(os.Stderr, "gfc: warning: defaulting to 64-bit properties.\n")
		c.WordType = "l"
	}
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ShouldReport reports whether wt is enabled and passes the warning level.
func (c *Config) ShouldReport(wt Warning) bool {
	if !c.IsWarningEnabled(wt) { return false }
	if c.IsWarningEnabled(WarnPedantic) { return true }
	return c.WarnLevel >= warningLevels[wt]
}

func (c *Config) SetWarnLevel(level int) error {
	if level < 0 || level > 4 {
		return fmt.Errorf("warning level %d out of range 0-4", level)
	}
	c.WarnLevel = level
	return nil
}

func (c *Config) applyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			if i != WarnPedantic {
				c.SetWarning(i, enable)
			}
		}
		return
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
		}
	} else {
		if f, ok := c.FeatureMap[name]; ok {
			c.SetFeature(f, enable)
		}
	}
}

// ProcessFlags applies -W/-F flags; -Wall and -Wno-all go first so that
// specific flags override them.
func (c *Config) ProcessFlags(flags []string) {
	for _, f := range flags {
		if f == "Wall" || f == "Wno-all" {
			c.applyFlag("-" + f)
		}
	}
	for _, f := range flags {
		if f != "Wall" && f != "Wno-all" {
			c.applyFlag("-" + f)
		}
	}
}
