// Command premath is a thin cobra wrapper over the issue-memory kernel:
// every subcommand marshals flags into the core's request structs,
// dispatches through internal/transport (or internal/issuestore,
// internal/coherence, internal/doctrine directly for the non-mutating
// surfaces), and prints the resulting JSON envelope to stdout.
//
// Argument-parsing ergonomics stop there: exit-code mapping is the only
// non-testable surface in the tree, kept to this one switch so cobra's
// own RunE error path handles anything else.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	err := rootCmd.Execute()
	if telemetryProvider != nil {
		telemetryProvider.Shutdown(context.Background())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// exitCode is set by printEnvelope from the last dispatched envelope's
// result field, then read by main after cobra's Execute returns.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "premath",
	Short: "Doctrine-gated issue memory and transport kernel",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagIssuesPath, "issues-path", "", "path to the issue log (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagRepoRoot, "repo-root", ".", "repository root (for instruction witnesses and artifacts/)")
	rootCmd.PersistentFlags().StringVar(&flagMutationPolicy, "mutation-policy", "", "open | instruction-linked (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagQueryBackend, "query-backend", "", "jsonl | surreal (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagProjectionPath, "projection-path", "", "path to the projection cache file (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagInstructionID, "instruction-id", "", "instruction witness id authorizing this mutation")

	rootCmd.AddCommand(issueCmd, depCmd, transportCmd, coherenceCmd, instructionCmd, initCmd)
}

var (
	flagIssuesPath     string
	flagRepoRoot       string
	flagMutationPolicy string
	flagQueryBackend   string
	flagProjectionPath string
	flagInstructionID  string
)

// printEnvelope marshals v (an envelope struct from internal/transport,
// internal/coherence, internal/doctrine, or internal/graphview) to
// stdout as JSON and derives the process exit code from its "result"
// field when present: 0 for "accepted" (or no result field at all, for
// the read-only views), 2 for "rejected".
func printEnvelope(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	fmt.Println(string(raw))

	var probe struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Result == "rejected" {
		exitCode = 2
	}
	return nil
}
