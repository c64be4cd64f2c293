// Package graphview computes read-only views over an issuestore.Store:
// the ready-to-work set, the blocked set with its unresolved blockers, and
// a structural health check, plus the fleet-wide lease projection reused
// by every tool that surfaces lease state.
package graphview

import (
	"sort"
	"time"

	"github.com/premath-kernel/issuekernel/internal/issuestore"
	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/lease"
	"github.com/premath-kernel/issuekernel/internal/types"
)

// DefaultNoteWarnThreshold is the note length, in bytes, above which
// CheckIssueGraph emits a warning rather than staying silent.
const DefaultNoteWarnThreshold = 4000

// ReadyOpenIssueIDs returns the ids of every non-closed issue with no
// unresolved blocking dependency, sorted for determinism.
func ReadyOpenIssueIDs(store *issuestore.Store) []string {
	var out []string
	for _, issue := range store.Issues() {
		if issue.Status == types.StatusClosed {
			continue
		}
		if len(UnresolvedBlockersOf(store, issue.ID)) == 0 {
			out = append(out, issue.ID)
		}
	}
	sort.Strings(out)
	return out
}

// UnresolvedBlockersOf returns the blocking dependency edges of id whose
// blocker is missing or not closed.
func UnresolvedBlockersOf(store *issuestore.Store, id string) []types.Dependency {
	var out []types.Dependency
	for _, dep := range store.BlockingDependenciesOf(id) {
		blocker := store.Issue(dep.DependsOnID)
		if blocker == nil || blocker.Status != types.StatusClosed {
			out = append(out, dep)
		}
	}
	return out
}

// BlockedItem is one blocked issue and its unresolved blockers, the shape
// the issue.blocked view renders.
type BlockedItem struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Status   types.Status    `json:"status"`
	Priority int             `json:"priority"`
	Blockers []BlockedByItem `json:"blockers"`
}

// BlockedByItem is one unresolved blocking edge.
type BlockedByItem struct {
	IssueID        string        `json:"issueId"`
	DependsOnID    string        `json:"dependsOnId"`
	Type           types.DepType `json:"type"`
	CreatedBy      string        `json:"createdBy"`
	BlockerStatus  *types.Status `json:"blockerStatus"`
	BlockerMissing bool          `json:"blockerMissing"`
}

// BlockedIssues returns every non-closed issue that has at least one
// unresolved blocking dependency.
func BlockedIssues(store *issuestore.Store) []BlockedItem {
	var out []BlockedItem
	for _, issue := range store.Issues() {
		if issue.Status == types.StatusClosed {
			continue
		}
		unresolved := UnresolvedBlockersOf(store, issue.ID)
		if len(unresolved) == 0 {
			continue
		}
		blockers := make([]BlockedByItem, 0, len(unresolved))
		for _, dep := range unresolved {
			blocker := store.Issue(dep.DependsOnID)
			var status *types.Status
			if blocker != nil {
				s := blocker.Status
				status = &s
			}
			blockers = append(blockers, BlockedByItem{
				IssueID:        dep.IssueID,
				DependsOnID:    dep.DependsOnID,
				Type:           dep.Type,
				CreatedBy:      dep.CreatedBy,
				BlockerStatus:  status,
				BlockerMissing: blocker == nil,
			})
		}
		out = append(out, BlockedItem{
			ID: issue.ID, Title: issue.Title, Status: issue.Status, Priority: issue.Priority,
			Blockers: blockers,
		})
	}
	return out
}

// CheckReport is the structural health report over an issue graph.
type CheckReport struct {
	CheckKind      string   `json:"checkKind"`
	Result         string   `json:"result"`
	FailureClasses []string `json:"failureClasses"`
	WarningClasses []string `json:"warningClasses"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	Summary        string   `json:"summary"`
}

// CheckIssueGraph runs every structural check over store: "blocks" cycles
// (a hard failure), dependency edges pointing at a missing issue (a hard
// failure), and soft warnings for empty titles and notes longer than
// noteWarnThreshold bytes.
func CheckIssueGraph(store *issuestore.Store, noteWarnThreshold int) CheckReport {
	report := CheckReport{CheckKind: "issue.graph", Result: "ok"}
	failureClassSeen := map[string]bool{}
	warningClassSeen := map[string]bool{}

	addError := func(class kerrors.FailureClass, message string) {
		if !failureClassSeen[string(class)] {
			failureClassSeen[string(class)] = true
			report.FailureClasses = append(report.FailureClasses, string(class))
		}
		report.Errors = append(report.Errors, message)
	}
	addWarning := func(class kerrors.FailureClass, message string) {
		if !warningClassSeen[string(class)] {
			warningClassSeen[string(class)] = true
			report.WarningClasses = append(report.WarningClasses, string(class))
		}
		report.Warnings = append(report.Warnings, message)
	}

	if cycle := store.FindAnyDependencyCycleInScope(issuestore.ScopeActive); cycle != nil {
		addError(kerrors.GraphDependencyCycle, "dependency cycle detected: "+joinCycle(cycle))
	}

	for _, dep := range store.Dependencies() {
		if store.Issue(dep.DependsOnID) == nil {
			addError(kerrors.GraphDanglingDependency, "dependency references missing issue: "+dep.IssueID+" -> "+dep.DependsOnID)
		}
		if store.Issue(dep.IssueID) == nil {
			addError(kerrors.GraphDanglingDependency, "dependency originates from missing issue: "+dep.IssueID+" -> "+dep.DependsOnID)
		}
	}

	if noteWarnThreshold <= 0 {
		noteWarnThreshold = DefaultNoteWarnThreshold
	}
	for _, issue := range store.Issues() {
		if issue.Title == "" {
			addWarning(kerrors.GraphEmptyTitle, "issue has an empty title: "+issue.ID)
		}
		if len(issue.Notes) > noteWarnThreshold {
			addWarning(kerrors.GraphLongNote, "issue notes exceed warn threshold: "+issue.ID)
		}
	}

	switch {
	case len(report.Errors) > 0:
		report.Result = "fail"
	case len(report.Warnings) > 0:
		report.Result = "warn"
	}
	report.Summary = summarize(store.Len(), len(report.Errors), len(report.Warnings))
	return report
}

func joinCycle(cycle []string) string {
	out := cycle[0]
	for _, id := range cycle[1:] {
		out += " -> " + id
	}
	return out
}

func summarize(issueCount, errorCount, warningCount int) string {
	switch {
	case errorCount > 0:
		return "issue graph check failed"
	case warningCount > 0:
		return "issue graph check passed with warnings"
	default:
		if issueCount == 0 {
			return "issue graph is empty"
		}
		return "issue graph check passed"
	}
}

// LeaseProjection recomputes the fleet-wide lease projection over store,
// delegating the stale/contended classification to internal/lease.
func LeaseProjection(store *issuestore.Store, now time.Time) lease.Projection {
	return lease.Compute(store, now)
}
