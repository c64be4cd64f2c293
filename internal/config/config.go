// Package config loads the kernel's runtime configuration from flags,
// environment variables, and an optional TOML file, using viper as the
// layered source and afero as the filesystem abstraction so config
// loading is unit-testable against an in-memory filesystem.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/premath-kernel/issuekernel/internal/instruction"
	"github.com/premath-kernel/issuekernel/internal/projection"
)

// EnvPrefix namespaces every environment variable this package reads,
// e.g. PREMATH_ISSUES_PATH.
const EnvPrefix = "PREMATH"

// FileName is the TOML config file name read from RepoRoot itself,
// alongside flag/env overrides; parent directories are not searched.
const FileName = "premath.toml"

// Config is the fully-resolved set of knobs every core operation needs.
type Config struct {
	IssuesPath      string             `mapstructure:"issues_path" toml:"issues_path"`
	RepoRoot        string             `mapstructure:"repo_root" toml:"repo_root"`
	MutationPolicy  instruction.Policy `mapstructure:"mutation_policy" toml:"mutation_policy"`
	QueryBackend    projection.Backend `mapstructure:"query_backend" toml:"query_backend"`
	ProjectionPath  string             `mapstructure:"projection_path" toml:"projection_path"`
}

func defaults() Config {
	return Config{
		IssuesPath:     ".premath/issues.jsonl",
		RepoRoot:       ".",
		MutationPolicy: instruction.PolicyOpen,
		QueryBackend:   projection.BackendJSONL,
		ProjectionPath: ".premath/issues.projection.json",
	}
}

// Load resolves a Config from, in ascending priority: built-in defaults,
// FileName under repoRoot (read through fs, parsed with BurntSushi/toml
// via viper's toml support), PREMATH_-prefixed environment variables,
// and finally any value already bound onto v by the caller (typically
// cobra flags bound with v.BindPFlag before Load runs).
func Load(fs afero.Fs, repoRoot string, v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	cfg := defaults()
	cfg.RepoRoot = repoRoot
	v.SetDefault("issues_path", cfg.IssuesPath)
	v.SetDefault("repo_root", cfg.RepoRoot)
	v.SetDefault("mutation_policy", string(cfg.MutationPolicy))
	v.SetDefault("query_backend", string(cfg.QueryBackend))
	v.SetDefault("projection_path", cfg.ProjectionPath)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := FileName
	if repoRoot != "" {
		path = repoRoot + "/" + FileName
	}
	if raw, err := afero.ReadFile(fs, path); err == nil {
		var fileValues map[string]any
		if _, err := toml.Decode(string(raw), &fileValues); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		if err := v.MergeConfigMap(fileValues); err != nil {
			return Config{}, fmt.Errorf("config: merging %s: %w", path, err)
		}
	}

	var resolved Config
	if err := v.Unmarshal(&resolved); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if resolved.RepoRoot == "" {
		resolved.RepoRoot = repoRoot
	}
	return resolved, nil
}
