package transport

import (
	"time"

	"github.com/spf13/afero"

	"github.com/premath-kernel/issuekernel/internal/graphview"
	"github.com/premath-kernel/issuekernel/internal/instruction"
	"github.com/premath-kernel/issuekernel/internal/issuestore"
	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/lease"
	"github.com/premath-kernel/issuekernel/internal/mutation"
	"github.com/premath-kernel/issuekernel/internal/telemetry"
	"github.com/premath-kernel/issuekernel/internal/types"
	"github.com/premath-kernel/issuekernel/internal/witness"
)

// LeaseInfo is the rendered view of an issue's lease for a lease-action
// envelope.
type LeaseInfo struct {
	LeaseID    string  `json:"leaseId"`
	Owner      string  `json:"owner"`
	AcquiredAt string  `json:"acquiredAt"`
	ExpiresAt  string  `json:"expiresAt"`
	RenewedAt  *string `json:"renewedAt,omitempty"`
	State      string  `json:"state"`
}

// IssueSummary is the rendered view of an issue for a lease-action
// envelope.
type IssueSummary struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Status    types.Status  `json:"status"`
	Priority  int           `json:"priority"`
	IssueType types.IssueKind `json:"issueType"`
	Assignee  string        `json:"assignee"`
	Owner     string        `json:"owner"`
	Lease     *LeaseInfo    `json:"lease,omitempty"`
}

func issueSummary(issue *types.Issue, now time.Time) IssueSummary {
	var leaseInfo *LeaseInfo
	if issue.Lease != nil {
		var renewed *string
		if issue.Lease.RenewedAt != nil {
			s := issue.Lease.RenewedAt.Format(time.RFC3339)
			renewed = &s
		}
		leaseInfo = &LeaseInfo{
			LeaseID: issue.Lease.LeaseID, Owner: issue.Lease.Owner,
			AcquiredAt: issue.Lease.AcquiredAt.Format(time.RFC3339),
			ExpiresAt:  issue.Lease.ExpiresAt.Format(time.RFC3339),
			RenewedAt:  renewed, State: string(issue.LeaseStateAt(now)),
		}
	}
	return IssueSummary{
		ID: issue.ID, Title: issue.Title, Status: issue.Status, Priority: issue.Priority,
		IssueType: issue.IssueType, Assignee: issue.Assignee, Owner: issue.Owner, Lease: leaseInfo,
	}
}

// LeaseActionEnvelope is the result of dispatching one of the four lease
// actions (issue.claim, issue.claim_next, issue.lease_renew,
// issue.lease_release).
type LeaseActionEnvelope struct {
	Schema          int                 `json:"schema"`
	Action          string              `json:"action"`
	Result          string              `json:"result"`
	FailureClasses  []string            `json:"failureClasses"`
	IssuesPath      string              `json:"issuesPath"`
	WorldBinding    WorldRouteBinding   `json:"worldBinding"`
	Changed         *bool               `json:"changed,omitempty"`
	Issue           *IssueSummary       `json:"issue,omitempty"`
	LeaseProjection *lease.Projection   `json:"leaseProjection,omitempty"`
	Diagnostic      *string             `json:"diagnostic,omitempty"`
}

func acceptedEnvelope(action, issuesPath string, issue *IssueSummary, changed bool, proj lease.Projection) LeaseActionEnvelope {
	binding, _ := WorldBindingForAction(action)
	return LeaseActionEnvelope{
		Schema: 1, Action: action, Result: "accepted", FailureClasses: []string{}, IssuesPath: issuesPath,
		WorldBinding: binding, Changed: &changed, Issue: issue, LeaseProjection: &proj,
	}
}

func rejectedEnvelope(action, issuesPath string, failureClass kerrors.FailureClass, diagnostic string) LeaseActionEnvelope {
	binding, _ := WorldBindingForAction(action)
	return LeaseActionEnvelope{
		Schema: 1, Action: action, Result: "rejected", FailureClasses: []string{string(failureClass)},
		IssuesPath: issuesPath, WorldBinding: binding, Diagnostic: &diagnostic,
	}
}

func failureClassOf(err error, fallback kerrors.FailureClass) kerrors.FailureClass {
	if class, ok := kerrors.ClassOf(err); ok {
		return class
	}
	return fallback
}

// ActionParams is the context every lease-action dispatch shares: where
// the issue log lives, the mutation policy gating it, and (when that
// policy is instruction-linked) the instruction that authorizes it.
// Telemetry is optional; a nil Provider disables mutation-span and
// dispatch-metric recording entirely.
type ActionParams struct {
	Fs             afero.Fs
	IssuesPath     string
	RepoRoot       string
	MutationPolicy instruction.Policy
	InstructionID  string
	Telemetry      *telemetry.Provider
}

// guardFor builds the mutation.Guard dispatching action should use,
// wired to p's telemetry provider (if any).
func guardFor(p ActionParams, action string) *mutation.Guard {
	return mutation.New(p.Fs, p.IssuesPath).WithTelemetry(p.Telemetry, action, actionIDFor(action))
}

func resolveInstruction(p ActionParams, action instruction.Action) (*instruction.WitnessLink, error) {
	return instruction.Resolve(p.RepoRoot, p.MutationPolicy, p.InstructionID, action)
}

func buildAndAttachWitness(p ActionParams, action, issueID string, now time.Time, issue *types.Issue, link *instruction.WitnessLink) error {
	var instructionView any
	if link != nil {
		instructionView = link.ToJSON()
	}
	doc := witness.Build(witness.Params{
		Now: now, Action: action, IssueID: issueID, IssuesPath: p.IssuesPath, RepoRoot: p.RepoRoot,
		MutationPolicy: string(p.MutationPolicy), QueryBackend: "jsonl", Instruction: instructionView,
	}, witness.DefaultProvider())
	return witness.Attach(issue, doc)
}

// ClaimParams parameterizes issue.claim.
type ClaimParams struct {
	ActionParams
	IssueID         string
	Assignee        string
	LeaseID         *string
	LeaseTTLSeconds *int64
	LeaseExpiresAt  *string
}

// Claim dispatches issue.claim: resolve the instruction witness (if
// required), lock-guard the claim against the issue's current lease
// state, attach a write witness on change, and return the resulting
// envelope.
func Claim(p ClaimParams, now time.Time) LeaseActionEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionIssueClaim)
	if err != nil {
		return rejectedEnvelope(ActionIssueClaim, p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}

	guard := guardFor(p.ActionParams, ActionIssueClaim)
	store, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		issue := s.IssueMut(p.IssueID)
		if issue == nil {
			return false, kerrors.Newf(kerrors.LeaseNotFound, "issue not found: %s", p.IssueID)
		}
		result, err := lease.Claim(issue, lease.ClaimRequest{
			Assignee: p.Assignee, RawLeaseID: p.LeaseID, LeaseTTLSeconds: p.LeaseTTLSeconds, LeaseExpiresAt: p.LeaseExpiresAt,
		}, now)
		if err != nil {
			return false, err
		}
		if result.Changed {
			if err := buildAndAttachWitness(p.ActionParams, ActionIssueClaim, p.IssueID, now, issue, link); err != nil {
				return false, err
			}
		}
		return result.Changed, nil
	})
	if err != nil {
		return rejectedEnvelope(ActionIssueClaim, p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	summary := issueSummary(store.Issue(p.IssueID), now)
	return acceptedEnvelope(ActionIssueClaim, p.IssuesPath, &summary, changed, graphview.LeaseProjection(store, now))
}

// ClaimNextParams parameterizes issue.claim_next.
type ClaimNextParams struct {
	ActionParams
	Assignee        string
	LeaseID         *string
	LeaseTTLSeconds *int64
}

// ClaimNext dispatches issue.claim_next: pick the highest-priority ready
// issue (lowest priority number, ties broken by id) and claim it on
// Assignee's behalf. If no issue is ready, it is accepted with no issue
// and changed=false.
func ClaimNext(p ClaimNextParams, now time.Time) LeaseActionEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionIssueClaim)
	if err != nil {
		return rejectedEnvelope(ActionIssueClaimNext, p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}
	if p.Assignee == "" {
		return rejectedEnvelope(ActionIssueClaimNext, p.IssuesPath, kerrors.LeaseInvalidAssignee, "assignee is required")
	}

	guard := guardFor(p.ActionParams, ActionIssueClaimNext)
	var claimedID string
	store, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		candidate := nextReadyIssueID(s)
		if candidate == "" {
			return false, nil
		}
		issue := s.IssueMut(candidate)
		result, err := lease.Claim(issue, lease.ClaimRequest{
			Assignee: p.Assignee, RawLeaseID: p.LeaseID, LeaseTTLSeconds: p.LeaseTTLSeconds,
		}, now)
		if err != nil {
			return false, err
		}
		if result.Changed {
			if err := buildAndAttachWitness(p.ActionParams, ActionIssueClaimNext, candidate, now, issue, link); err != nil {
				return false, err
			}
			claimedID = candidate
		}
		return result.Changed, nil
	})
	if err != nil {
		return rejectedEnvelope(ActionIssueClaimNext, p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	var summary *IssueSummary
	if claimedID != "" {
		s := issueSummary(store.Issue(claimedID), now)
		summary = &s
	}
	return acceptedEnvelope(ActionIssueClaimNext, p.IssuesPath, summary, changed, graphview.LeaseProjection(store, now))
}

// nextReadyIssueID picks the ready issue with the lowest priority number
// (most urgent), breaking ties by id for determinism.
func nextReadyIssueID(store *issuestore.Store) string {
	best := ""
	bestPriority := 0
	for _, id := range graphview.ReadyOpenIssueIDs(store) {
		issue := store.Issue(id)
		if best == "" || issue.Priority < bestPriority {
			best = id
			bestPriority = issue.Priority
		}
	}
	return best
}

// RenewParams parameterizes issue.lease_renew.
type RenewParams struct {
	ActionParams
	IssueID         string
	Assignee        string
	LeaseID         string
	LeaseTTLSeconds *int64
	LeaseExpiresAt  *string
}

// Renew dispatches issue.lease_renew.
func Renew(p RenewParams, now time.Time) LeaseActionEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionIssueLeaseRenew)
	if err != nil {
		return rejectedEnvelope(ActionIssueLeaseRenew, p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}

	guard := guardFor(p.ActionParams, ActionIssueLeaseRenew)
	store, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		issue := s.IssueMut(p.IssueID)
		if issue == nil {
			return false, kerrors.Newf(kerrors.LeaseNotFound, "issue not found: %s", p.IssueID)
		}
		result, err := lease.Renew(issue, lease.RenewRequest{
			Assignee: p.Assignee, LeaseID: p.LeaseID, LeaseTTLSeconds: p.LeaseTTLSeconds, LeaseExpiresAt: p.LeaseExpiresAt,
		}, now)
		if err != nil {
			return false, err
		}
		if result.Changed {
			if err := buildAndAttachWitness(p.ActionParams, ActionIssueLeaseRenew, p.IssueID, now, issue, link); err != nil {
				return false, err
			}
		}
		return result.Changed, nil
	})
	if err != nil {
		return rejectedEnvelope(ActionIssueLeaseRenew, p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	summary := issueSummary(store.Issue(p.IssueID), now)
	return acceptedEnvelope(ActionIssueLeaseRenew, p.IssuesPath, &summary, changed, graphview.LeaseProjection(store, now))
}

// ReleaseParams parameterizes issue.lease_release.
type ReleaseParams struct {
	ActionParams
	IssueID          string
	ExpectedAssignee *string
	ExpectedLeaseID  *string
}

// Release dispatches issue.lease_release.
func Release(p ReleaseParams, now time.Time) LeaseActionEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionIssueLeaseRelease)
	if err != nil {
		return rejectedEnvelope(ActionIssueLeaseRelease, p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}

	guard := guardFor(p.ActionParams, ActionIssueLeaseRelease)
	store, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		issue := s.IssueMut(p.IssueID)
		if issue == nil {
			return false, kerrors.Newf(kerrors.LeaseNotFound, "issue not found: %s", p.IssueID)
		}
		result, err := lease.Release(issue, lease.ReleaseRequest{
			ExpectedAssignee: p.ExpectedAssignee, ExpectedLeaseID: p.ExpectedLeaseID,
		}, now)
		if err != nil {
			return false, err
		}
		if result.Changed {
			if err := buildAndAttachWitness(p.ActionParams, ActionIssueLeaseRelease, p.IssueID, now, issue, link); err != nil {
				return false, err
			}
		}
		return result.Changed, nil
	})
	if err != nil {
		return rejectedEnvelope(ActionIssueLeaseRelease, p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	summary := issueSummary(store.Issue(p.IssueID), now)
	return acceptedEnvelope(ActionIssueLeaseRelease, p.IssuesPath, &summary, changed, graphview.LeaseProjection(store, now))
}
