package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/premath-kernel/issuekernel/internal/graphview"
	"github.com/premath-kernel/issuekernel/internal/issuestore"
	"github.com/premath-kernel/issuekernel/internal/mutation"
	"github.com/premath-kernel/issuekernel/internal/transport"
	"github.com/premath-kernel/issuekernel/internal/types"
)

var issueCmd = &cobra.Command{Use: "issue", Short: "Issue lifecycle and query operations"}

func init() {
	issueCmd.AddCommand(
		issueAddCmd, issueClaimCmd, issueClaimNextCmd, issueLeaseRenewCmd, issueLeaseReleaseCmd,
		issueDiscoverCmd, issueUpdateCmd, issueReadyCmd, issueListCmd, issueBlockedCmd, issueCheckCmd,
		issueBackendStatusCmd, issueLeaseProjectionCmd,
	)

	issueAddCmd.Flags().String("id", "", "issue id")
	issueAddCmd.Flags().String("title", "", "issue title")
	issueAddCmd.Flags().String("description", "", "issue description")
	issueAddCmd.Flags().Int("priority", 2, "issue priority")
	issueAddCmd.Flags().String("type", "", "issue type (task, bug, feature, epic, chore, refactor, spike, discovery)")

	issueClaimCmd.Flags().String("id", "", "issue id")
	issueClaimCmd.Flags().String("assignee", "", "claiming assignee")
	issueClaimCmd.Flags().String("lease-id", "", "explicit lease id")
	issueClaimCmd.Flags().Int64("lease-ttl-seconds", 0, "lease TTL in seconds")
	issueClaimCmd.Flags().String("lease-expires-at", "", "RFC3339 timestamp or informal duration (\"in 2 hours\")")

	issueClaimNextCmd.Flags().String("assignee", "", "claiming assignee")
	issueClaimNextCmd.Flags().String("lease-id", "", "explicit lease id")
	issueClaimNextCmd.Flags().Int64("lease-ttl-seconds", 0, "lease TTL in seconds")

	issueLeaseRenewCmd.Flags().String("id", "", "issue id")
	issueLeaseRenewCmd.Flags().String("assignee", "", "current assignee")
	issueLeaseRenewCmd.Flags().String("lease-id", "", "current lease id")
	issueLeaseRenewCmd.Flags().Int64("lease-ttl-seconds", 0, "lease TTL in seconds")
	issueLeaseRenewCmd.Flags().String("lease-expires-at", "", "RFC3339 timestamp or informal duration (\"in 2 hours\")")

	issueLeaseReleaseCmd.Flags().String("id", "", "issue id")
	issueLeaseReleaseCmd.Flags().String("expected-assignee", "", "expected current assignee")
	issueLeaseReleaseCmd.Flags().String("expected-lease-id", "", "expected current lease id")

	issueDiscoverCmd.Flags().String("id", "", "new issue id")
	issueDiscoverCmd.Flags().String("title", "", "new issue title")
	issueDiscoverCmd.Flags().String("description", "", "new issue description")
	issueDiscoverCmd.Flags().String("discovered-from", "", "issue id this was discovered while working on")
	issueDiscoverCmd.Flags().Int("priority", 2, "issue priority")

	issueUpdateCmd.Flags().String("id", "", "issue id")
	issueUpdateCmd.Flags().String("title", "", "new title")
	issueUpdateCmd.Flags().String("description", "", "new description")
	issueUpdateCmd.Flags().String("notes", "", "new notes")
	issueUpdateCmd.Flags().String("status", "", "new status (open, in_progress, blocked, closed)")
	issueUpdateCmd.Flags().Int("priority", 0, "new priority (0 means leave unchanged)")
	issueUpdateCmd.Flags().String("assignee", "", "new assignee")
	issueUpdateCmd.Flags().String("owner", "", "new owner")

	issueCheckCmd.Flags().Int("note-warn-threshold", graphview.DefaultNoteWarnThreshold, "note length, in bytes, above which check warns")
}

func changedFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func changedIntFlag(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

func changedInt64Flag(cmd *cobra.Command, name string) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt64(name)
	return &v
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetInt("priority")
		issueTypeRaw, _ := cmd.Flags().GetString("type")

		p := transport.AddParams{
			ActionParams: actionParams(cfg), IssueID: id, Title: title, Description: description,
			Priority: &priority,
		}
		if issueTypeRaw != "" {
			kind, ok := types.ParseIssueKind(issueTypeRaw)
			if !ok {
				return fmt.Errorf("invalid type %q", issueTypeRaw)
			}
			p.IssueType = &kind
		}
		return printEnvelope(transport.Add(p, time.Now()))
	},
}

var issueClaimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Claim an issue's lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		assignee, _ := cmd.Flags().GetString("assignee")
		leaseID := changedFlag(cmd, "lease-id")
		leaseTTL := changedInt64Flag(cmd, "lease-ttl-seconds")
		expiresRaw, _ := cmd.Flags().GetString("lease-expires-at")
		var expiresAt *string
		if expiresRaw != "" {
			resolved, err := resolveLeaseExpiresAt(expiresRaw)
			if err != nil {
				return err
			}
			expiresAt = &resolved
		}

		p := transport.ClaimParams{
			ActionParams: actionParams(cfg), IssueID: id, Assignee: assignee,
			LeaseID: leaseID, LeaseTTLSeconds: leaseTTL, LeaseExpiresAt: expiresAt,
		}
		return printEnvelope(transport.Claim(p, time.Now()))
	},
}

var issueClaimNextCmd = &cobra.Command{
	Use:   "claim-next",
	Short: "Claim the highest-priority ready issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		assignee, _ := cmd.Flags().GetString("assignee")
		leaseID := changedFlag(cmd, "lease-id")
		leaseTTL := changedInt64Flag(cmd, "lease-ttl-seconds")

		p := transport.ClaimNextParams{
			ActionParams: actionParams(cfg), Assignee: assignee, LeaseID: leaseID, LeaseTTLSeconds: leaseTTL,
		}
		return printEnvelope(transport.ClaimNext(p, time.Now()))
	},
}

var issueLeaseRenewCmd = &cobra.Command{
	Use:   "lease-renew",
	Short: "Renew an issue's lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		assignee, _ := cmd.Flags().GetString("assignee")
		leaseID, _ := cmd.Flags().GetString("lease-id")
		leaseTTL := changedInt64Flag(cmd, "lease-ttl-seconds")
		expiresRaw, _ := cmd.Flags().GetString("lease-expires-at")
		var expiresAt *string
		if expiresRaw != "" {
			resolved, err := resolveLeaseExpiresAt(expiresRaw)
			if err != nil {
				return err
			}
			expiresAt = &resolved
		}

		p := transport.RenewParams{
			ActionParams: actionParams(cfg), IssueID: id, Assignee: assignee, LeaseID: leaseID,
			LeaseTTLSeconds: leaseTTL, LeaseExpiresAt: expiresAt,
		}
		return printEnvelope(transport.Renew(p, time.Now()))
	},
}

var issueLeaseReleaseCmd = &cobra.Command{
	Use:   "lease-release",
	Short: "Release an issue's lease",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		p := transport.ReleaseParams{
			ActionParams: actionParams(cfg), IssueID: id,
			ExpectedAssignee: changedFlag(cmd, "expected-assignee"), ExpectedLeaseID: changedFlag(cmd, "expected-lease-id"),
		}
		return printEnvelope(transport.Release(p, time.Now()))
	},
}

var issueDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Record a new issue discovered while working on another",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		discoveredFrom, _ := cmd.Flags().GetString("discovered-from")
		priority, _ := cmd.Flags().GetInt("priority")

		p := transport.DiscoverParams{
			ActionParams: actionParams(cfg), IssueID: id, Title: title, Description: description,
			DiscoveredFrom: discoveredFrom, Priority: &priority,
		}
		return printEnvelope(transport.Discover(p, time.Now()))
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update an issue's mutable fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")

		p := transport.UpdateParams{
			ActionParams: actionParams(cfg), IssueID: id,
			Title: changedFlag(cmd, "title"), Description: changedFlag(cmd, "description"),
			Notes: changedFlag(cmd, "notes"), Assignee: changedFlag(cmd, "assignee"), Owner: changedFlag(cmd, "owner"),
			Priority: changedIntFlag(cmd, "priority"),
		}
		if statusRaw := changedFlag(cmd, "status"); statusRaw != nil {
			status := types.Status(*statusRaw)
			switch status {
			case types.StatusOpen, types.StatusInProgress, types.StatusBlocked, types.StatusClosed:
				p.Status = &status
			default:
				return fmt.Errorf("invalid status %q", *statusRaw)
			}
		}
		return printEnvelope(transport.Update(p, time.Now()))
	},
}

var issueReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List ready (unblocked, non-closed) issue ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		guard := mutation.New(actionParams(cfg).Fs, cfg.IssuesPath)
		var out []string
		if err := guard.View(func(store *issuestore.Store) error {
			out = graphview.ReadyOpenIssueIDs(store)
			return nil
		}); err != nil {
			return err
		}
		return printEnvelope(struct {
			ReadyIssueIDs []string `json:"readyIssueIds"`
		}{out})
	},
}

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		guard := mutation.New(actionParams(cfg).Fs, cfg.IssuesPath)
		var issues []*types.Issue
		if err := guard.View(func(store *issuestore.Store) error {
			issues = store.Issues()
			return nil
		}); err != nil {
			return err
		}
		return printEnvelope(struct {
			Issues []*types.Issue `json:"issues"`
		}{issues})
	},
}

var issueBlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List issues with unresolved blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		guard := mutation.New(actionParams(cfg).Fs, cfg.IssuesPath)
		var blocked []graphview.BlockedItem
		if err := guard.View(func(store *issuestore.Store) error {
			blocked = graphview.BlockedIssues(store)
			return nil
		}); err != nil {
			return err
		}
		return printEnvelope(struct {
			Blocked []graphview.BlockedItem `json:"blocked"`
		}{blocked})
	},
}

var issueCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the structural issue-graph health check",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		noteWarnThreshold, _ := cmd.Flags().GetInt("note-warn-threshold")
		guard := mutation.New(actionParams(cfg).Fs, cfg.IssuesPath)
		var report graphview.CheckReport
		if err := guard.View(func(store *issuestore.Store) error {
			report = graphview.CheckIssueGraph(store, noteWarnThreshold)
			return nil
		}); err != nil {
			return err
		}
		return printEnvelope(report)
	},
}

var issueBackendStatusCmd = &cobra.Command{
	Use:   "backend-status",
	Short: "Report the query backend's projection freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		guard := mutation.New(actionParams(cfg).Fs, cfg.IssuesPath)
		var status struct {
			Backend string `json:"backend"`
			QueryProjection struct {
				State                       string `json:"state"`
				SnapshotRefMatchesAuthority bool   `json:"snapshotRefMatchesAuthority"`
			} `json:"queryProjection"`
		}
		status.Backend = string(cfg.QueryBackend)
		if err := guard.View(func(store *issuestore.Store) error {
			cache := newProjectionCache(cfg)
			freshness := cache.IsFresh(store)
			status.QueryProjection.State = freshness.State
			status.QueryProjection.SnapshotRefMatchesAuthority = freshness.SnapshotRefMatchesAuthority
			return nil
		}); err != nil {
			return err
		}
		return printEnvelope(status)
	},
}

var issueLeaseProjectionCmd = &cobra.Command{
	Use:   "lease-projection",
	Short: "Report the fleet-wide lease projection (stale/contended leases)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return err
		}
		guard := mutation.New(actionParams(cfg).Fs, cfg.IssuesPath)
		var projection any
		if err := guard.View(func(store *issuestore.Store) error {
			projection = graphview.LeaseProjection(store, time.Now())
			return nil
		}); err != nil {
			return err
		}
		return printEnvelope(projection)
	},
}
