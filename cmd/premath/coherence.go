package main

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/premath-kernel/issuekernel/internal/coherence"
)

var coherenceCmd = &cobra.Command{Use: "coherence", Short: "Coherence contract evaluation"}

var flagContractPath string

func init() {
	coherenceCheckCmd.Flags().StringVar(&flagContractPath, "contract-path", ".premath/coherence_contract.json", "path to the coherence contract document, resolved against --repo-root")
	coherenceCmd.AddCommand(coherenceCheckCmd)
}

var coherenceCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the coherence contract and evaluate the fourteen obligations against it",
	Long: `Load the coherence contract document at --contract-path, read every
repository surface it names (capability manifests, README/conformance
doc capability sections, the task-runner TOML, the CI-closure doc, the
doctrine site graph, overlay docs, and the vector-fixture manifests and
case artifacts), and evaluate the fourteen coherence obligations
against the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		witness, err := coherence.RunCoherenceCheck(context.Background(), afero.NewOsFs(), flagRepoRoot, flagContractPath)
		if err != nil {
			return err
		}
		return printEnvelope(witness)
	},
}
