package config

import "github.com/xplshn/gfc/pkg/cli"

// SetupFlagGroups registers -W<name>/-Wno-<name> and -F<name>/-Fno-<name>
// for every warning and feature. The returned slices are indexed by
// Warning and Feature respectively.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) (warnings, features []cli.FlagGroupEntry) {
	warnings = make([]cli.FlagGroupEntry, WarnCount)
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		enabled, disabled := info.Enabled, false
		warnings[i] = cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Enabled: &enabled, Disabled: &disabled}
	}
	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings", "warning", "Available Warning Flags:", warnings)

	features = make([]cli.FlagGroupEntry, FeatCount)
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		enabled, disabled := info.Enabled, false
		features[i] = cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Enabled: &enabled, Disabled: &disabled}
	}
	fs.AddFlagGroup("Feature Flags", "Enable or disable specific features", "feature", "Available feature flags:", features)

	return warnings, features
}

// ApplyFlagGroups copies parsed group flags into the configuration. A
// -Xno-<name> switch wins over -X<name>.
func (c *Config) ApplyFlagGroups(warnings, features []cli.FlagGroupEntry) {
	for i, entry := range warnings {
		if entry.Enabled != nil && *entry.Enabled { c.SetWarning(Warning(i), true) }
		if entry.Disabled != nil && *entry.Disabled { c.SetWarning(Warning(i), false) }
	}
	for i, entry := range features {
		if entry.Enabled != nil && *entry.Enabled { c.SetFeature(Feature(i), true) }
		if entry.Disabled != nil && *entry.Disabled { c.SetFeature(Feature(i), false) }
	}
}
