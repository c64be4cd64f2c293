// Package transport implements the eight-action dispatch surface that
// sits in front of the lease state machine and the fiber lifecycle: a
// static action registry (one row per action, each carrying its world
// route binding), a self-check over that registry's structural integrity,
// and the synthetic fiber.spawn/join/cancel envelopes.
package transport

import (
	"sort"
	"strings"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/semdigest"
)

// ProfileID identifies this dispatch surface's semantic-digest namespace.
const ProfileID = "transport.issue_lease.v1"

// Action ids, one per dispatchable action.
const (
	ActionIssueClaim        = "issue.claim"
	ActionIssueClaimNext    = "issue.claim_next"
	ActionIssueLeaseRenew   = "issue.lease_renew"
	ActionIssueLeaseRelease = "issue.lease_release"
	ActionWorldRouteBinding = "world.route_binding"
	ActionFiberSpawn        = "fiber.spawn"
	ActionFiberJoin         = "fiber.join"
	ActionFiberCancel       = "fiber.cancel"
)

const (
	worldIDLease     = "world.lease.v1"
	routeFamilyLease = "route.issue_claim_lease"
	morphismRowLease = "wm.control.lease.mutation"

	worldIDTransport     = "world.transport.v1"
	routeFamilyTransport = "route.transport.dispatch"
	morphismRowTransport = "wm.control.transport.dispatch"

	worldIDFiber     = "world.fiber.v1"
	routeFamilyFiber = "route.fiber.lifecycle"
	morphismRowFiber = "wm.control.fiber.lifecycle"
)

var requiredMorphismsLease = []string{"dm.identity", "dm.profile.execution", "dm.commitment.attest"}
var requiredMorphismsTransport = []string{"dm.identity", "dm.transport.world"}
var requiredMorphismsFiber = []string{"dm.identity", "dm.profile.execution", "dm.transport.world"}

// ActionSpec is the static, typed row this dispatch surface carries for
// one action.
type ActionSpec struct {
	ActionID           string
	Action             string
	OperationID        string
	RouteFamilyID      string
	WorldID            string
	MorphismRowID      string
	RequiredMorphisms  []string
}

// actionIDFor renders the dotted action name into the transport.action.*
// identifier form used throughout envelopes and digests.
func actionIDFor(action string) string {
	return "transport.action." + strings.ReplaceAll(action, ".", "_")
}

// Specs is the canonical, order-stable action registry.
var Specs = []ActionSpec{
	{ActionID: actionIDFor(ActionIssueClaim), Action: ActionIssueClaim, OperationID: "op/mcp.issue_claim",
		RouteFamilyID: routeFamilyLease, WorldID: worldIDLease, MorphismRowID: morphismRowLease, RequiredMorphisms: requiredMorphismsLease},
	{ActionID: actionIDFor(ActionIssueClaimNext), Action: ActionIssueClaimNext, OperationID: "op/transport.issue_claim_next",
		RouteFamilyID: routeFamilyLease, WorldID: worldIDLease, MorphismRowID: morphismRowLease, RequiredMorphisms: requiredMorphismsLease},
	{ActionID: actionIDFor(ActionIssueLeaseRenew), Action: ActionIssueLeaseRenew, OperationID: "op/mcp.issue_lease_renew",
		RouteFamilyID: routeFamilyLease, WorldID: worldIDLease, MorphismRowID: morphismRowLease, RequiredMorphisms: requiredMorphismsLease},
	{ActionID: actionIDFor(ActionIssueLeaseRelease), Action: ActionIssueLeaseRelease, OperationID: "op/mcp.issue_lease_release",
		RouteFamilyID: routeFamilyLease, WorldID: worldIDLease, MorphismRowID: morphismRowLease, RequiredMorphisms: requiredMorphismsLease},
	{ActionID: actionIDFor(ActionWorldRouteBinding), Action: ActionWorldRouteBinding, OperationID: "op/transport.world_route_binding",
		RouteFamilyID: routeFamilyTransport, WorldID: worldIDTransport, MorphismRowID: morphismRowTransport, RequiredMorphisms: requiredMorphismsTransport},
	{ActionID: actionIDFor(ActionFiberSpawn), Action: ActionFiberSpawn, OperationID: "op/transport.fiber_spawn",
		RouteFamilyID: routeFamilyFiber, WorldID: worldIDFiber, MorphismRowID: morphismRowFiber, RequiredMorphisms: requiredMorphismsFiber},
	{ActionID: actionIDFor(ActionFiberJoin), Action: ActionFiberJoin, OperationID: "op/transport.fiber_join",
		RouteFamilyID: routeFamilyFiber, WorldID: worldIDFiber, MorphismRowID: morphismRowFiber, RequiredMorphisms: requiredMorphismsFiber},
	{ActionID: actionIDFor(ActionFiberCancel), Action: ActionFiberCancel, OperationID: "op/transport.fiber_cancel",
		RouteFamilyID: routeFamilyFiber, WorldID: worldIDFiber, MorphismRowID: morphismRowFiber, RequiredMorphisms: requiredMorphismsFiber},
}

// WorldRouteBinding is the (operationId, routeFamilyId, worldId,
// morphismRowId) tuple an accepted dispatch carries.
type WorldRouteBinding struct {
	OperationID   string `json:"operationId"`
	RouteFamilyID string `json:"routeFamilyId"`
	WorldID       string `json:"worldId"`
	MorphismRowID string `json:"morphismRowId"`
}

func specFor(action string) (ActionSpec, bool) {
	for _, s := range Specs {
		if s.Action == action {
			return s, true
		}
	}
	return ActionSpec{}, false
}

// WorldBindingForAction returns the world route binding for action, or
// false if action isn't registered.
func WorldBindingForAction(action string) (WorldRouteBinding, bool) {
	spec, ok := specFor(action)
	if !ok {
		return WorldRouteBinding{}, false
	}
	return WorldRouteBinding{
		OperationID:   spec.OperationID,
		RouteFamilyID: spec.RouteFamilyID,
		WorldID:       spec.WorldID,
		MorphismRowID: spec.MorphismRowID,
	}, true
}

func actionRowDigest(spec ActionSpec) string {
	material := append([]string{ProfileID, spec.ActionID, spec.Action, spec.OperationID, spec.RouteFamilyID, spec.WorldID, spec.MorphismRowID}, spec.RequiredMorphisms...)
	return semdigest.DigestStrings(semdigest.PrefixTransport, material...)
}

// ActionRegistryRow is one row of the rendered action registry, digest
// included.
type ActionRegistryRow struct {
	Action        string `json:"action"`
	ActionID      string `json:"actionId"`
	OperationID   string `json:"operationId"`
	RouteFamilyID string `json:"routeFamilyId"`
	WorldID       string `json:"worldId"`
	MorphismRowID string `json:"morphismRowId"`
	SemanticDigest string `json:"semanticDigest"`
}

func rowFor(spec ActionSpec) ActionRegistryRow {
	return ActionRegistryRow{
		Action: spec.Action, ActionID: spec.ActionID, OperationID: spec.OperationID,
		RouteFamilyID: spec.RouteFamilyID, WorldID: spec.WorldID, MorphismRowID: spec.MorphismRowID,
		SemanticDigest: actionRowDigest(spec),
	}
}

// ActionRegistryRows renders the canonical registry.
func ActionRegistryRows() []ActionRegistryRow {
	out := make([]ActionRegistryRow, 0, len(Specs))
	for _, spec := range Specs {
		out = append(out, rowFor(spec))
	}
	return out
}

// CheckIssue is one structural defect found in a rendered action
// registry.
type CheckIssue struct {
	FailureClass string `json:"failureClass"`
	Path         string `json:"path"`
	Message      string `json:"message"`
}

// CheckReport is the result of checking a rendered action registry
// against the canonical one.
type CheckReport struct {
	Schema         int                 `json:"schema"`
	CheckKind      string              `json:"checkKind"`
	RegistryKind   string              `json:"registryKind"`
	ProfileID      string              `json:"profileId"`
	Result         string              `json:"result"`
	FailureClasses []string            `json:"failureClasses"`
	Issues         []CheckIssue        `json:"issues"`
	ActionCount    int                 `json:"actionCount"`
	Actions        []ActionRegistryRow `json:"actions"`
	SemanticDigest string              `json:"semanticDigest"`
}

// ValidateRegistry checks rows for empty fields, duplicate actions/action
// ids, missing required actions, and digest mismatches against the
// canonical registry.
func ValidateRegistry(rows []ActionRegistryRow) []CheckIssue {
	var issues []CheckIssue
	seenActions := map[string]bool{}
	seenActionIDs := map[string]bool{}
	present := map[string]bool{}
	canonical := map[string]ActionRegistryRow{}
	for _, spec := range Specs {
		canonical[spec.Action] = rowFor(spec)
	}

	for _, row := range rows {
		present[row.Action] = true

		if strings.TrimSpace(row.Action) == "" || strings.TrimSpace(row.ActionID) == "" ||
			strings.TrimSpace(row.OperationID) == "" || strings.TrimSpace(row.RouteFamilyID) == "" ||
			strings.TrimSpace(row.WorldID) == "" || strings.TrimSpace(row.MorphismRowID) == "" ||
			strings.TrimSpace(row.SemanticDigest) == "" {
			issues = append(issues, CheckIssue{
				FailureClass: string(kerrors.TransportRegistryEmptyField),
				Path:         "actions/" + row.Action,
				Message:      "action row must provide non-empty typed fields",
			})
		}

		if seenActions[row.Action] {
			issues = append(issues, CheckIssue{
				FailureClass: string(kerrors.TransportRegistryDuplicateAction),
				Path:         "actions/" + row.Action,
				Message:      "duplicate action row",
			})
		}
		seenActions[row.Action] = true

		if seenActionIDs[row.ActionID] {
			issues = append(issues, CheckIssue{
				FailureClass: string(kerrors.TransportRegistryDuplicateActionID),
				Path:         "actions/" + row.ActionID,
				Message:      "duplicate actionId row",
			})
		}
		seenActionIDs[row.ActionID] = true

		if expected, ok := canonical[row.Action]; ok && row.SemanticDigest != expected.SemanticDigest {
			issues = append(issues, CheckIssue{
				FailureClass: string(kerrors.TransportRegistryDigestMismatch),
				Path:         "actions/" + row.Action + "/semanticDigest",
				Message:      "semanticDigest mismatch (expected=" + expected.SemanticDigest + ", got=" + row.SemanticDigest + ")",
			})
		}
	}

	for action := range canonical {
		if !present[action] {
			issues = append(issues, CheckIssue{
				FailureClass: string(kerrors.TransportRegistryMissingAction),
				Path:         "actions",
				Message:      "missing required action row: " + action,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].FailureClass != issues[j].FailureClass {
			return issues[i].FailureClass < issues[j].FailureClass
		}
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Message < issues[j].Message
	})
	return issues
}

func checkDigest(result string, failureClasses []string, actions []ActionRegistryRow) string {
	material := []string{"premath.transport_check.v1", ProfileID, result}
	material = append(material, failureClasses...)
	for _, a := range actions {
		material = append(material, a.Action, a.ActionID, a.SemanticDigest)
	}
	return semdigest.DigestStrings(semdigest.PrefixTransport, material...)
}

// Check runs ValidateRegistry against the canonical registry rendering
// and reports the outcome, matching the shape every transport_check tool
// call returns.
func Check() CheckReport {
	actions := ActionRegistryRows()
	issues := ValidateRegistry(actions)

	classSeen := map[string]bool{}
	var failureClasses []string
	for _, issue := range issues {
		if !classSeen[issue.FailureClass] {
			classSeen[issue.FailureClass] = true
			failureClasses = append(failureClasses, issue.FailureClass)
		}
	}
	result := "ok"
	if len(issues) > 0 {
		result = "fail"
	}

	return CheckReport{
		Schema: 1, CheckKind: "premath.transport_check.v1", RegistryKind: "premath.transport_action_registry.v1",
		ProfileID: ProfileID, Result: result, FailureClasses: failureClasses, Issues: issues,
		ActionCount: len(actions), Actions: actions,
		SemanticDigest: checkDigest(result, failureClasses, actions),
	}
}
