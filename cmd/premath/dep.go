package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/premath-kernel/issuekernel/internal/issuestore"
	"github.com/premath-kernel/issuekernel/internal/mutation"
	"github.com/premath-kernel/issuekernel/internal/transport"
	"github.com/premath-kernel/issuekernel/internal/types"
)

var depCmd = &cobra.Command{Use: "dep", Short: "Dependency edge operations"}

func init() {
	depCmd.AddCommand(depAddCmd, depRemoveCmd, depReplaceCmd, depDiagnosticsCmd)

	for _, c := range []*cobra.Command{depAddCmd, depRemoveCmd} {
		c.Flags().String("issue", "", "dependent issue id")
		c.Flags().String("depends-on", "", "issue id this one depends on")
		c.Flags().String("type", "", "dependency type")
	}
	depAddCmd.Flags().String("created-by", "", "creator token recorded on the edge")

	depReplaceCmd.Flags().String("issue", "", "dependent issue id")
	depReplaceCmd.Flags().String("depends-on", "", "issue id this one depends on")
	depReplaceCmd.Flags().String("old-type", "", "existing dependency type")
	depReplaceCmd.Flags().String("new-type", "", "replacement dependency type")
	depReplaceCmd.Flags().String("created-by", "", "creator token recorded on the edge")

	depDiagnosticsCmd.Flags().String("issue", "", "limit diagnostics to this issue's dependencies (all issues if empty)")
}

func parseDepType(raw string) (types.DepType, error) {
	t, ok := types.ParseDepType(raw)
	if !ok {
		return "", fmt.Errorf("invalid dependency type %q", raw)
	}
	return t, nil
}

var depAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a dependency edge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		issue, _ := cmd.Flags().GetString("issue")
		dependsOn, _ := cmd.Flags().GetString("depends-on")
		typeRaw, _ := cmd.Flags().GetString("type")
		createdBy, _ := cmd.Flags().GetString("created-by")
		depType, err := parseDepType(typeRaw)
		if err != nil {
			return err
		}
		p := transport.DepAddParams{
			ActionParams: actionParams(cfg), IssueID: issue, DependsOnID: dependsOn, Type: depType, CreatedBy: createdBy,
		}
		return printEnvelope(transport.DepAdd(p, time.Now()))
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a dependency edge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		issue, _ := cmd.Flags().GetString("issue")
		dependsOn, _ := cmd.Flags().GetString("depends-on")
		typeRaw, _ := cmd.Flags().GetString("type")
		depType, err := parseDepType(typeRaw)
		if err != nil {
			return err
		}
		p := transport.DepRemoveParams{ActionParams: actionParams(cfg), IssueID: issue, DependsOnID: dependsOn, Type: depType}
		return printEnvelope(transport.DepRemove(p, time.Now()))
	},
}

var depReplaceCmd = &cobra.Command{
	Use:   "replace",
	Short: "Replace a dependency edge's type",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		issue, _ := cmd.Flags().GetString("issue")
		dependsOn, _ := cmd.Flags().GetString("depends-on")
		oldTypeRaw, _ := cmd.Flags().GetString("old-type")
		newTypeRaw, _ := cmd.Flags().GetString("new-type")
		createdBy, _ := cmd.Flags().GetString("created-by")
		oldType, err := parseDepType(oldTypeRaw)
		if err != nil {
			return err
		}
		newType, err := parseDepType(newTypeRaw)
		if err != nil {
			return err
		}
		p := transport.DepReplaceParams{
			ActionParams: actionParams(cfg), IssueID: issue, DependsOnID: dependsOn,
			OldType: oldType, NewType: newType, CreatedBy: createdBy,
		}
		return printEnvelope(transport.DepReplace(p, time.Now()))
	},
}

var depDiagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "List dependency edges and unresolved blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		issue, _ := cmd.Flags().GetString("issue")
		guard := mutation.New(actionParams(cfg).Fs, cfg.IssuesPath)
		var out struct {
			Dependencies []types.Dependency `json:"dependencies"`
		}
		if err := guard.View(func(store *issuestore.Store) error {
			if issue != "" {
				out.Dependencies = store.DependenciesOf(issue)
			} else {
				out.Dependencies = store.Dependencies()
			}
			return nil
		}); err != nil {
			return err
		}
		return printEnvelope(out)
	},
}
