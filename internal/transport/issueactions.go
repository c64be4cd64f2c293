package transport

import (
	"time"

	"github.com/premath-kernel/issuekernel/internal/instruction"
	"github.com/premath-kernel/issuekernel/internal/issuestore"
	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/types"
)

// DependencySummary is the rendered view of one dependency edge for a
// mutation envelope.
type DependencySummary struct {
	IssueID     string        `json:"issueId"`
	DependsOnID string        `json:"dependsOnId"`
	Type        types.DepType `json:"type"`
	CreatedBy   string        `json:"createdBy"`
}

// MutationEnvelope is the result of dispatching a non-lease mutation
// action (issue.add, issue.discover, issue.update, dep.add, dep.remove,
// dep.replace).
type MutationEnvelope struct {
	Schema         int                `json:"schema"`
	Action         string             `json:"action"`
	Result         string             `json:"result"`
	FailureClasses []string           `json:"failureClasses"`
	IssuesPath     string             `json:"issuesPath"`
	WorldBinding   WorldRouteBinding  `json:"worldBinding"`
	Changed        *bool              `json:"changed,omitempty"`
	Issue          *IssueSummary      `json:"issue,omitempty"`
	Dependency     *DependencySummary `json:"dependency,omitempty"`
	Diagnostic     *string            `json:"diagnostic,omitempty"`
}

func acceptedMutation(action, issuesPath string, changed bool, issue *IssueSummary, dep *DependencySummary) MutationEnvelope {
	binding, _ := WorldBindingForAction(action)
	return MutationEnvelope{
		Schema: 1, Action: action, Result: "accepted", FailureClasses: []string{}, IssuesPath: issuesPath,
		WorldBinding: binding, Changed: &changed, Issue: issue, Dependency: dep,
	}
}

func rejectedMutation(action, issuesPath string, failureClass kerrors.FailureClass, diagnostic string) MutationEnvelope {
	binding, _ := WorldBindingForAction(action)
	return MutationEnvelope{
		Schema: 1, Action: action, Result: "rejected", FailureClasses: []string{string(failureClass)},
		IssuesPath: issuesPath, WorldBinding: binding, Diagnostic: &diagnostic,
	}
}

// AddParams parameterizes issue.add.
type AddParams struct {
	ActionParams
	IssueID     string
	Title       string
	Description string
	Priority    *int
	IssueType   *types.IssueKind
}

// Add dispatches issue.add: inserts a new issue (or, idempotently, does
// nothing if one with IssueID already exists) and attaches a write
// witness on change.
func Add(p AddParams, now time.Time) MutationEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionIssueAdd)
	if err != nil {
		return rejectedMutation(string(instruction.ActionIssueAdd), p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}
	if p.IssueID == "" || p.Title == "" {
		return rejectedMutation(string(instruction.ActionIssueAdd), p.IssuesPath, kerrors.LeaseInvalidPayload, "id and title are required")
	}

	guard := guardFor(p.ActionParams, string(instruction.ActionIssueAdd))
	store, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		if s.Issue(p.IssueID) != nil {
			return false, nil
		}
		issue := types.NewIssue(p.IssueID, p.Title)
		issue.Description = p.Description
		if p.Priority != nil {
			issue.Priority = *p.Priority
		}
		if p.IssueType != nil {
			issue.IssueType = *p.IssueType
		}
		issue.TouchUpdatedAt(now)
		s.UpsertIssue(issue)
		if err := buildAndAttachWitness(p.ActionParams, string(instruction.ActionIssueAdd), p.IssueID, now, issue, link); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return rejectedMutation(string(instruction.ActionIssueAdd), p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	summary := issueSummary(store.Issue(p.IssueID), now)
	return acceptedMutation(string(instruction.ActionIssueAdd), p.IssuesPath, changed, &summary, nil)
}

// DiscoverParams parameterizes issue.discover: creating a new issue
// while recording a discovered-from edge back to the issue being worked
// when it was found.
type DiscoverParams struct {
	ActionParams
	IssueID         string
	Title           string
	Description     string
	DiscoveredFrom  string
	Priority        *int
	IssueType       *types.IssueKind
}

// Discover dispatches issue.discover.
func Discover(p DiscoverParams, now time.Time) MutationEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionIssueDiscover)
	if err != nil {
		return rejectedMutation(string(instruction.ActionIssueDiscover), p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}
	if p.IssueID == "" || p.Title == "" || p.DiscoveredFrom == "" {
		return rejectedMutation(string(instruction.ActionIssueDiscover), p.IssuesPath, kerrors.LeaseInvalidPayload, "id, title, and discoveredFrom are required")
	}

	guard := guardFor(p.ActionParams, string(instruction.ActionIssueDiscover))
	store, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		if s.Issue(p.DiscoveredFrom) == nil {
			return false, kerrors.Newf(kerrors.LeaseNotFound, "issue not found: %s", p.DiscoveredFrom)
		}
		if s.Issue(p.IssueID) != nil {
			return false, nil
		}
		issue := types.NewIssue(p.IssueID, p.Title)
		issue.Description = p.Description
		if p.Priority != nil {
			issue.Priority = *p.Priority
		}
		if p.IssueType != nil {
			issue.IssueType = *p.IssueType
		}
		issue.TouchUpdatedAt(now)
		s.UpsertIssue(issue)
		if err := s.AddDependency(p.IssueID, p.DiscoveredFrom, types.DepDiscoveredFrom, "issue.discover"); err != nil {
			return false, err
		}
		if err := buildAndAttachWitness(p.ActionParams, string(instruction.ActionIssueDiscover), p.IssueID, now, issue, link); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return rejectedMutation(string(instruction.ActionIssueDiscover), p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	summary := issueSummary(store.Issue(p.IssueID), now)
	return acceptedMutation(string(instruction.ActionIssueDiscover), p.IssuesPath, changed, &summary, nil)
}

// UpdateParams parameterizes issue.update: every pointer field left nil
// leaves that field unchanged.
type UpdateParams struct {
	ActionParams
	IssueID     string
	Title       *string
	Description *string
	Notes       *string
	Status      *types.Status
	Priority    *int
	Assignee    *string
	Owner       *string
}

// Update dispatches issue.update.
func Update(p UpdateParams, now time.Time) MutationEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionIssueUpdate)
	if err != nil {
		return rejectedMutation(string(instruction.ActionIssueUpdate), p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}

	guard := guardFor(p.ActionParams, string(instruction.ActionIssueUpdate))
	store, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		issue := s.IssueMut(p.IssueID)
		if issue == nil {
			return false, kerrors.Newf(kerrors.LeaseNotFound, "issue not found: %s", p.IssueID)
		}
		changed := false
		setString := func(field *string, value *string) {
			if value != nil && *field != *value {
				*field = *value
				changed = true
			}
		}
		setString(&issue.Title, p.Title)
		setString(&issue.Description, p.Description)
		setString(&issue.Notes, p.Notes)
		setString(&issue.Assignee, p.Assignee)
		setString(&issue.Owner, p.Owner)
		if p.Status != nil && issue.Status != *p.Status {
			issue.Status = *p.Status
			changed = true
		}
		if p.Priority != nil && issue.Priority != *p.Priority {
			issue.Priority = *p.Priority
			changed = true
		}
		if !changed {
			return false, nil
		}
		issue.TouchUpdatedAt(now)
		if err := buildAndAttachWitness(p.ActionParams, string(instruction.ActionIssueUpdate), p.IssueID, now, issue, link); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return rejectedMutation(string(instruction.ActionIssueUpdate), p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	summary := issueSummary(store.Issue(p.IssueID), now)
	return acceptedMutation(string(instruction.ActionIssueUpdate), p.IssuesPath, changed, &summary, nil)
}

// DepAddParams parameterizes dep.add.
type DepAddParams struct {
	ActionParams
	IssueID     string
	DependsOnID string
	Type        types.DepType
	CreatedBy   string
}

// DepAdd dispatches dep.add.
func DepAdd(p DepAddParams, now time.Time) MutationEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionDepAdd)
	if err != nil {
		return rejectedMutation(string(instruction.ActionDepAdd), p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}

	guard := guardFor(p.ActionParams, string(instruction.ActionDepAdd))
	_, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		before := len(s.Dependencies())
		if err := s.AddDependency(p.IssueID, p.DependsOnID, p.Type, p.CreatedBy); err != nil {
			return false, err
		}
		added := len(s.Dependencies()) > before
		if added {
			issue := s.IssueMut(p.IssueID)
			if err := buildAndAttachWitness(p.ActionParams, string(instruction.ActionDepAdd), p.IssueID, now, issue, link); err != nil {
				return false, err
			}
		}
		return added, nil
	})
	if err != nil {
		return rejectedMutation(string(instruction.ActionDepAdd), p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	dep := &DependencySummary{IssueID: p.IssueID, DependsOnID: p.DependsOnID, Type: p.Type, CreatedBy: p.CreatedBy}
	return acceptedMutation(string(instruction.ActionDepAdd), p.IssuesPath, changed, nil, dep)
}

// DepRemoveParams parameterizes dep.remove.
type DepRemoveParams struct {
	ActionParams
	IssueID     string
	DependsOnID string
	Type        types.DepType
}

// DepRemove dispatches dep.remove.
func DepRemove(p DepRemoveParams, now time.Time) MutationEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionDepRemove)
	if err != nil {
		return rejectedMutation(string(instruction.ActionDepRemove), p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}

	guard := guardFor(p.ActionParams, string(instruction.ActionDepRemove))
	_, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		removed := s.RemoveDependency(p.IssueID, p.DependsOnID, p.Type)
		if removed {
			issue := s.IssueMut(p.IssueID)
			if issue != nil {
				if err := buildAndAttachWitness(p.ActionParams, string(instruction.ActionDepRemove), p.IssueID, now, issue, link); err != nil {
					return false, err
				}
			}
		}
		return removed, nil
	})
	if err != nil {
		return rejectedMutation(string(instruction.ActionDepRemove), p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	dep := &DependencySummary{IssueID: p.IssueID, DependsOnID: p.DependsOnID, Type: p.Type}
	return acceptedMutation(string(instruction.ActionDepRemove), p.IssuesPath, changed, nil, dep)
}

// DepReplaceParams parameterizes dep.replace.
type DepReplaceParams struct {
	ActionParams
	IssueID     string
	DependsOnID string
	OldType     types.DepType
	NewType     types.DepType
	CreatedBy   string
}

// DepReplace dispatches dep.replace.
func DepReplace(p DepReplaceParams, now time.Time) MutationEnvelope {
	link, err := resolveInstruction(p.ActionParams, instruction.ActionDepReplace)
	if err != nil {
		return rejectedMutation(string(instruction.ActionDepReplace), p.IssuesPath, failureClassOf(err, kerrors.LeaseInvalidPayload), err.Error())
	}

	guard := guardFor(p.ActionParams, string(instruction.ActionDepReplace))
	_, changed, err := guard.Mutate(func(s *issuestore.Store) (bool, error) {
		if err := s.ReplaceDependency(p.IssueID, p.DependsOnID, p.OldType, p.NewType, p.CreatedBy); err != nil {
			return false, err
		}
		issue := s.IssueMut(p.IssueID)
		if issue != nil {
			if err := buildAndAttachWitness(p.ActionParams, string(instruction.ActionDepReplace), p.IssueID, now, issue, link); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return rejectedMutation(string(instruction.ActionDepReplace), p.IssuesPath, failureClassOf(err, kerrors.LeaseMutationStoreIO), err.Error())
	}

	dep := &DependencySummary{IssueID: p.IssueID, DependsOnID: p.DependsOnID, Type: p.NewType, CreatedBy: p.CreatedBy}
	return acceptedMutation(string(instruction.ActionDepReplace), p.IssuesPath, changed, nil, dep)
}
