// SPDX-License-Identifier: Apache-2.0

// Package config defines the typed configuration the engine consumes. The
// engine itself never reads a configuration file (spec.md §1's "YAML
// configuration loading" Non-goal): cmd/ populates Profile and GlobalConfig
// from command-line flags and PGEVODB_-prefixed environment variables (via
// viper) and hands them to pkg/orchestrator. No configuration file is read
// anywhere in this module.
package config

// Profile is one `profiles.<name>` entry of the global configuration file
// (spec §6 "External interfaces").
type Profile struct {
	DSN    string `json:"dsn" yaml:"dsn"`
	Schema string `json:"schema" yaml:"schema"`
	// StateSchema holds schema_migrations, distinct from Schema (the
	// schema migration scripts themselves operate against), grounded on
	// the teacher's separate --schema/--pgroll-schema flags.
	StateSchema string `json:"state_schema" yaml:"state_schema"`
	AppEnv      string `json:"app_env" yaml:"app_env"`
	ConfirmProd bool   `json:"confirm_prod" yaml:"confirm_prod"`
}

// GlobalConfig is the `global` section of the configuration file, shared
// across every profile.
type GlobalConfig struct {
	MigrationsDir string   `json:"migrations_dir" yaml:"migrations_dir"`
	LogDir        string   `json:"log_dir" yaml:"log_dir"`
	LockKey       int64    `json:"lock_key" yaml:"lock_key"`
	TimeoutSec    int      `json:"timeout_sec" yaml:"timeout_sec"`
	AllowTags     []string `json:"allow_tags" yaml:"allow_tags"`
	Interactive   bool     `json:"interactive" yaml:"interactive"`
}

// Config is the whole parsed configuration file: a set of named profiles,
// which one is active by default, and the shared global section.
type Config struct {
	DefaultProfile string             `json:"default_profile" yaml:"default_profile"`
	Profiles       map[string]Profile `json:"profiles" yaml:"profiles"`
	Global         GlobalConfig       `json:"global" yaml:"global"`
}

// Profile looks up name, falling back to DefaultProfile when name is empty.
// It reports false if the resulting name has no matching entry.
func (c Config) Profile(name string) (Profile, bool) {
	if name == "" {
		name = c.DefaultProfile
	}
	p, ok := c.Profiles[name]
	return p, ok
}
