package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/premath-kernel/issuekernel/internal/config"
	"github.com/premath-kernel/issuekernel/internal/instruction"
	"github.com/premath-kernel/issuekernel/internal/projection"
	"github.com/premath-kernel/issuekernel/internal/telemetry"
	"github.com/premath-kernel/issuekernel/internal/transport"
)

// telemetryProvider is process-wide: every mutating subcommand shares
// the one stdouttrace/stdoutmetric stream, written to stderr so it
// never interleaves with the JSON envelope on stdout. initTelemetry
// lazily builds it once per process and is safe to call from every
// actionParams call.
var (
	telemetryOnce     sync.Once
	telemetryProvider *telemetry.Provider
)

func initTelemetry() *telemetry.Provider {
	telemetryOnce.Do(func() {
		p, err := telemetry.New(os.Stderr)
		if err != nil {
			// Telemetry is ambient, not load-bearing; fall back to a
			// discarding Provider rather than fail the command.
			p, _ = telemetry.Noop()
		}
		telemetryProvider = p
	})
	return telemetryProvider
}

// newProjectionCache builds the projection.Cache for cfg's configured
// backend and paths.
func newProjectionCache(cfg config.Config) *projection.Cache {
	return projection.New(afero.NewOsFs(), cfg.ProjectionPath, cfg.IssuesPath, cfg.QueryBackend)
}

// resolvedConfig loads internal/config.Config for the current process,
// folding in whichever persistent flags the user actually set on top of
// the file/env/default layers.
func resolvedConfig() (config.Config, error) {
	v := viper.New()
	fs := afero.NewOsFs()
	cfg, err := config.Load(fs, flagRepoRoot, v)
	if err != nil {
		return config.Config{}, err
	}
	if flagIssuesPath != "" {
		cfg.IssuesPath = flagIssuesPath
	}
	if flagProjectionPath != "" {
		cfg.ProjectionPath = flagProjectionPath
	}
	if flagMutationPolicy != "" {
		policy, err := instruction.ParsePolicy(flagMutationPolicy)
		if err != nil {
			return config.Config{}, err
		}
		cfg.MutationPolicy = policy
	}
	if flagQueryBackend != "" {
		switch flagQueryBackend {
		case string(projection.BackendJSONL):
			cfg.QueryBackend = projection.BackendJSONL
		case string(projection.BackendSurreal):
			cfg.QueryBackend = projection.BackendSurreal
		default:
			return config.Config{}, fmt.Errorf("invalid query-backend %q", flagQueryBackend)
		}
	}
	return cfg, nil
}

// actionParams builds the internal/transport.ActionParams shared by
// every mutating subcommand.
func actionParams(cfg config.Config) transport.ActionParams {
	return transport.ActionParams{
		Fs: afero.NewOsFs(), IssuesPath: cfg.IssuesPath, RepoRoot: cfg.RepoRoot,
		MutationPolicy: cfg.MutationPolicy, InstructionID: flagInstructionID,
		Telemetry: initTelemetry(),
	}
}
