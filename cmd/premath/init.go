package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/premath-kernel/issuekernel/internal/issuestore"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a fresh issue memory: issue log, lock file, and witness directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		fs := afero.NewOsFs()
		if err := issuestore.Init(fs, cfg.IssuesPath, cfg.RepoRoot); err != nil {
			return err
		}
		return printEnvelope(struct {
			Result     string `json:"result"`
			IssuesPath string `json:"issuesPath"`
			RepoRoot   string `json:"repoRoot"`
		}{Result: "accepted", IssuesPath: cfg.IssuesPath, RepoRoot: cfg.RepoRoot})
	},
}
