// Package doctrine validates a control-plane contract document against
// the canonical world-descent route-family/binding shape, and derives the
// concrete route bindings a runtime orchestrator or a world-registry
// check needs from it. Every violation is reported as a
// DoctrineValidationIssue carrying a path and a failure class, rather
// than failing fast on the first problem — so a single invocation
// surfaces the whole set of contract defects at once.
package doctrine

import (
	"sort"
	"strings"
)

// Failure classes returned by contract validation.
const (
	FailureWorldRouteIdentityMissing  = "world_route_identity_missing"
	FailureWorldDescentDataMissing    = "world_descent_data_missing"
	FailureKcirHandoffIdentityMissing = "kcir_handoff_identity_missing"
)

// ContractID is the only value worldDescentContract.contractId is allowed
// to carry.
const ContractID = "doctrine.world_descent.v1"

const controlPlaneContractPathPrefix = "controlPlaneContract"

// defaultRouteFamilies are the seven canonical route families every
// control-plane contract must require.
var defaultRouteFamilies = []string{
	"route.gate_execution",
	"route.instruction_execution",
	"route.required_decision_attestation",
	"route.fiber.lifecycle",
	"route.issue_claim_lease",
	"route.session_projection",
	"route.transport.dispatch",
}

// defaultActionBindings maps a route family to the host action ids whose
// operationId must be bound into that family.
var defaultActionBindings = map[string][]string{
	"route.instruction_execution": {"instruction.run"},
	"route.required_decision_attestation": {
		"required.witness_verify", "required.witness_decide",
	},
	"route.fiber.lifecycle": {"fiber.spawn", "fiber.join", "fiber.cancel"},
	"route.issue_claim_lease": {
		"issue.claim_next", "issue.claim", "issue.lease_renew", "issue.lease_release", "issue.discover",
	},
}

// defaultStaticBindings maps a route family directly to operation ids
// (bypassing the host-action indirection defaultActionBindings uses).
var defaultStaticBindings = map[string][]string{
	"route.transport.dispatch": {"op/transport.world_route_binding"},
}

// ValidationIssue names one contract defect.
type ValidationIssue struct {
	FailureClass string `json:"failureClass"`
	Path         string `json:"path"`
	Message      string `json:"message"`
}

// RequiredRouteBinding is a route family and the operation ids it must
// route.
type RequiredRouteBinding struct {
	RouteFamilyID string   `json:"routeFamilyId"`
	OperationIDs  []string `json:"operationIds"`
}

// DerivedRequirements is the set of route families and bindings a runtime
// orchestrator or world-registry check must satisfy.
type DerivedRequirements struct {
	Families []string               `json:"families"`
	Bindings []RequiredRouteBinding `json:"bindings"`
}

// ContractProjection is the canonical shape a control-plane contract's
// worldDescentContract section is checked against.
type ContractProjection struct {
	ContractID                      string              `json:"contractId"`
	RequiredRouteFamilies           []string            `json:"requiredRouteFamilies"`
	RequiredActionRouteBindings     map[string][]string `json:"requiredActionRouteBindings"`
	RequiredStaticOperationBindings map[string][]string `json:"requiredStaticOperationBindings"`
	FailureClasses                  map[string]string   `json:"failureClasses"`
}

type config struct {
	requiredFamilies        map[string]bool
	requiredActionBindings  map[string]map[string]bool
	requiredStaticBindings  map[string]map[string]bool
}

func defaultConfig() config {
	families := map[string]bool{}
	for _, f := range defaultRouteFamilies {
		families[f] = true
	}
	actionBindings := map[string]map[string]bool{}
	for family, actions := range defaultActionBindings {
		set := map[string]bool{}
		for _, a := range actions {
			set[a] = true
		}
		actionBindings[family] = set
	}
	staticBindings := map[string]map[string]bool{}
	for family, ops := range defaultStaticBindings {
		set := map[string]bool{}
		for _, op := range ops {
			set[op] = true
		}
		staticBindings[family] = set
	}
	return config{requiredFamilies: families, requiredActionBindings: actionBindings, requiredStaticBindings: staticBindings}
}

type deriveMode int

const (
	modeRuntimeOrchestration deriveMode = iota
	modeWorldRegistryCheck
)

// DeriveForRuntimeOrchestration derives the route families/bindings a live
// runtime orchestrator must satisfy, additionally folding in whatever
// runtimeRouteBindings.requiredOperationRoutes the contract itself names
// under route.gate_execution.
func DeriveForRuntimeOrchestration(controlPlaneContract any) (DerivedRequirements, []ValidationIssue) {
	return derive(controlPlaneContract, modeRuntimeOrchestration)
}

// DeriveForWorldRegistryCheck derives the same route families/bindings for
// a static world-registry check, which does not fold in runtime gate
// operation ids.
func DeriveForWorldRegistryCheck(controlPlaneContract any) (DerivedRequirements, []ValidationIssue) {
	return derive(controlPlaneContract, modeWorldRegistryCheck)
}

// ValidateContractProjection validates controlPlaneContract's
// worldDescentContract section against the canonical projection, returning
// every issue found alongside the canonical projection itself (useful for
// diffing against what the contract actually declared).
func ValidateContractProjection(controlPlaneContract any) (ContractProjection, []ValidationIssue) {
	cfg := defaultConfig()
	var issues []ValidationIssue

	contractObj, ok := controlPlaneContract.(map[string]any)
	if !ok {
		issues = append(issues, issueWithFailure(controlPlaneContractPathPrefix, FailureWorldDescentDataMissing, "must be an object"))
		return projectContract(cfg), issues
	}

	issues = append(issues, parseContract(contractObj, &cfg)...)
	return projectContract(cfg), issues
}

func derive(controlPlaneContract any, mode deriveMode) (DerivedRequirements, []ValidationIssue) {
	var issues []ValidationIssue
	cfg := defaultConfig()

	contractObj, ok := controlPlaneContract.(map[string]any)
	if !ok {
		routeBindings := emptyBindingsFor(cfg.requiredFamilies)
		mergeStaticBindings(routeBindings, cfg.requiredStaticBindings)
		issues = append(issues, issueWithFailure(controlPlaneContractPathPrefix, FailureWorldDescentDataMissing, "must be an object"))
		return DerivedRequirements{
			Families: sortedKeys(cfg.requiredFamilies),
			Bindings: routeBindingsToRows(routeBindings),
		}, issues
	}

	issues = append(issues, parseContract(contractObj, &cfg)...)

	routeFamilies := cloneSet(cfg.requiredFamilies)
	routeBindings := emptyBindingsFor(routeFamilies)
	mergeStaticBindings(routeBindings, cfg.requiredStaticBindings)
	for family := range cfg.requiredStaticBindings {
		routeFamilies[family] = true
	}

	if mode == modeRuntimeOrchestration {
		entry := routeBindings["route.gate_execution"]
		if entry == nil {
			entry = map[string]bool{}
			routeBindings["route.gate_execution"] = entry
		}
		for _, opID := range parseRuntimeRouteOperationIDs(controlPlaneContract) {
			entry[opID] = true
		}
		routeFamilies["route.gate_execution"] = true
	}

	hostActionSurfaceRaw, ok := contractObj["hostActionSurface"]
	if !ok {
		issues = append(issues, issueWithFailure(controlPlaneContractPathPrefix+".hostActionSurface", FailureWorldDescentDataMissing, "missing required object"))
		return DerivedRequirements{Families: sortedKeys(routeFamilies), Bindings: routeBindingsToRows(routeBindings)}, issues
	}
	hostActionSurface, ok := hostActionSurfaceRaw.(map[string]any)
	if !ok {
		issues = append(issues, issueWithFailure(controlPlaneContractPathPrefix+".hostActionSurface", FailureWorldDescentDataMissing, "must be an object"))
		return DerivedRequirements{Families: sortedKeys(routeFamilies), Bindings: routeBindingsToRows(routeBindings)}, issues
	}

	requiredActionsRaw, ok := hostActionSurface["requiredActions"]
	if !ok {
		issues = append(issues, issueWithFailure(controlPlaneContractPathPrefix+".hostActionSurface.requiredActions", FailureWorldDescentDataMissing, "missing required object"))
		return DerivedRequirements{Families: sortedKeys(routeFamilies), Bindings: routeBindingsToRows(routeBindings)}, issues
	}
	requiredActions, ok := requiredActionsRaw.(map[string]any)
	if !ok {
		issues = append(issues, issueWithFailure(controlPlaneContractPathPrefix+".hostActionSurface.requiredActions", FailureWorldDescentDataMissing, "must be an object"))
		return DerivedRequirements{Families: sortedKeys(routeFamilies), Bindings: routeBindingsToRows(routeBindings)}, issues
	}

	for _, pair := range sortedBindingIteration(cfg.requiredActionBindings) {
		family, hostActionIDs := pair.family, pair.hostActionIDs
		routeFamilies[family] = true
		entry := routeBindings[family]
		if entry == nil {
			entry = map[string]bool{}
			routeBindings[family] = entry
		}
		for _, hostActionID := range hostActionIDs {
			path := controlPlaneContractPathPrefix + ".hostActionSurface.requiredActions." + hostActionID
			actionRowRaw, ok := requiredActions[hostActionID]
			if !ok {
				issues = append(issues, issueWithFailure(path, FailureWorldDescentDataMissing, "missing required host-action row"))
				continue
			}
			actionRow, ok := actionRowRaw.(map[string]any)
			if !ok {
				issues = append(issues, issueWithFailure(path, FailureWorldDescentDataMissing, "must be an object"))
				continue
			}
			operationID := nonEmptyString(actionRow["operationId"])
			if operationID == "" {
				issues = append(issues, issueWithFailure(path+".operationId", FailureWorldRouteIdentityMissing, "must be a non-empty string"))
				continue
			}
			entry[operationID] = true
		}
	}

	return DerivedRequirements{Families: sortedKeys(routeFamilies), Bindings: routeBindingsToRows(routeBindings)}, issues
}

func parseContract(contractObj map[string]any, cfg *config) []ValidationIssue {
	var issues []ValidationIssue

	worldDescentRaw, ok := contractObj["worldDescentContract"]
	if !ok {
		return append(issues, issueWithFailure(controlPlaneContractPathPrefix+".worldDescentContract", FailureWorldDescentDataMissing, "missing required object"))
	}
	worldDescentObj, ok := worldDescentRaw.(map[string]any)
	if !ok {
		return append(issues, issueWithFailure(controlPlaneContractPathPrefix+".worldDescentContract", FailureWorldDescentDataMissing, "must be an object"))
	}

	if nonEmptyString(worldDescentObj["contractId"]) != ContractID {
		issues = append(issues, issueWithFailure(controlPlaneContractPathPrefix+".worldDescentContract.contractId", FailureWorldDescentDataMissing, "must equal "+ContractID))
	}

	failureClassesPath := controlPlaneContractPathPrefix + ".worldDescentContract.failureClasses"
	failureClassesRaw, ok := worldDescentObj["failureClasses"].(map[string]any)
	if !ok {
		issues = append(issues, issueWithFailure(failureClassesPath, FailureWorldDescentDataMissing, "must be an object"))
	} else {
		expected := expectedFailureClasses(*cfg)
		for _, key := range []string{"identityMissing", "descentDataMissing", "kcirHandoffIdentityMissing"} {
			path := failureClassesPath + "." + key
			value := nonEmptyString(failureClassesRaw[key])
			if value == "" {
				issues = append(issues, issueWithFailure(path, FailureWorldDescentDataMissing, "must be a non-empty string"))
				continue
			}
			if expectedValue, ok := expected[key]; ok && value != expectedValue {
				issues = append(issues, issueWithFailure(path, FailureWorldDescentDataMissing, "must equal "+expectedValue))
			}
		}
		for key := range failureClassesRaw {
			if key != "identityMissing" && key != "descentDataMissing" && key != "kcirHandoffIdentityMissing" {
				issues = append(issues, issueWithFailure(failureClassesPath, FailureWorldDescentDataMissing,
					"must include only identityMissing, descentDataMissing, and kcirHandoffIdentityMissing"))
				break
			}
		}
	}

	routeFamiliesPath := controlPlaneContractPathPrefix + ".worldDescentContract.requiredRouteFamilies"
	if arr, ok := worldDescentObj["requiredRouteFamilies"].([]any); ok {
		parsed := stringSetFromAny(arr)
		if len(parsed) == 0 {
			issues = append(issues, issueWithFailure(routeFamiliesPath, FailureWorldDescentDataMissing, "must be a non-empty list"))
		} else if !setsEqual(parsed, cfg.requiredFamilies) {
			issues = append(issues, issueWithFailure(routeFamiliesPath, FailureWorldDescentDataMissing, "must match canonical route-family set"))
		}
	} else {
		issues = append(issues, issueWithFailure(routeFamiliesPath, FailureWorldDescentDataMissing, "must be a non-empty list"))
	}

	issues = append(issues, parseBindingMap(worldDescentObj, "requiredActionRouteBindings", cfg.requiredFamilies, cfg.requiredActionBindings)...)
	issues = append(issues, parseBindingMap(worldDescentObj, "requiredStaticOperationBindings", cfg.requiredFamilies, cfg.requiredStaticBindings)...)

	return issues
}

// parseBindingMap validates a {routeFamilyId: [operationId, ...]} map
// against an expected canonical binding set, sharing the route-family
// membership and non-empty-list checks between the action and static
// binding sections.
func parseBindingMap(worldDescentObj map[string]any, field string, requiredFamilies map[string]bool, expected map[string]map[string]bool) []ValidationIssue {
	path := controlPlaneContractPathPrefix + ".worldDescentContract." + field
	var issues []ValidationIssue

	raw, ok := worldDescentObj[field].(map[string]any)
	if !ok {
		return append(issues, issueWithFailure(path, FailureWorldDescentDataMissing, "must be an object"))
	}

	parsedBindings := map[string]map[string]bool{}
	for routeFamilyIDRaw, valueRaw := range raw {
		routeFamilyID := strings.TrimSpace(routeFamilyIDRaw)
		entryPath := path
		if routeFamilyID == "" {
			entryPath = path + ".<routeFamilyId>"
			issues = append(issues, issueWithFailure(entryPath, FailureWorldDescentDataMissing, "route family id must be non-empty"))
			continue
		}
		entryPath = path + "." + routeFamilyID

		arr, ok := valueRaw.([]any)
		if !ok {
			issues = append(issues, issueWithFailure(entryPath, FailureWorldDescentDataMissing, "must be a non-empty list"))
			continue
		}
		parsed := stringSetFromAny(arr)
		if len(parsed) == 0 {
			issues = append(issues, issueWithFailure(entryPath, FailureWorldDescentDataMissing, "must be a non-empty list"))
			continue
		}
		if !requiredFamilies[routeFamilyID] {
			issues = append(issues, issueWithFailure(entryPath, FailureWorldDescentDataMissing, "must reference requiredRouteFamilies"))
			continue
		}
		parsedBindings[routeFamilyID] = parsed
	}

	if !bindingsEqual(parsedBindings, expected) {
		issues = append(issues, issueWithFailure(path, FailureWorldDescentDataMissing, "must match canonical route-family bindings"))
	}
	return issues
}

func projectContract(cfg config) ContractProjection {
	actionBindings := map[string][]string{}
	for family, set := range cfg.requiredActionBindings {
		actionBindings[family] = sortedKeys(set)
	}
	staticBindings := map[string][]string{}
	for family, set := range cfg.requiredStaticBindings {
		staticBindings[family] = sortedKeys(set)
	}
	return ContractProjection{
		ContractID:                      ContractID,
		RequiredRouteFamilies:           sortedKeys(cfg.requiredFamilies),
		RequiredActionRouteBindings:     actionBindings,
		RequiredStaticOperationBindings: staticBindings,
		FailureClasses:                  expectedFailureClasses(cfg),
	}
}

func expectedFailureClasses(cfg config) map[string]string {
	_ = cfg
	return map[string]string{
		"identityMissing":            FailureWorldRouteIdentityMissing,
		"descentDataMissing":         FailureWorldDescentDataMissing,
		"kcirHandoffIdentityMissing": FailureKcirHandoffIdentityMissing,
	}
}

func parseRuntimeRouteOperationIDs(controlPlaneContract any) []string {
	contractObj, ok := controlPlaneContract.(map[string]any)
	if !ok {
		return nil
	}
	runtimeRouteBindings, ok := contractObj["runtimeRouteBindings"].(map[string]any)
	if !ok {
		return nil
	}
	requiredOperationRoutes, ok := runtimeRouteBindings["requiredOperationRoutes"].(map[string]any)
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	for _, routeRaw := range requiredOperationRoutes {
		route, ok := routeRaw.(map[string]any)
		if !ok {
			continue
		}
		if opID := nonEmptyString(route["operationId"]); opID != "" {
			seen[opID] = true
		}
	}
	return sortedKeys(seen)
}

func routeBindingsToRows(rows map[string]map[string]bool) []RequiredRouteBinding {
	out := make([]RequiredRouteBinding, 0, len(rows))
	for family, ops := range rows {
		out = append(out, RequiredRouteBinding{RouteFamilyID: family, OperationIDs: sortedKeys(ops)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteFamilyID < out[j].RouteFamilyID })
	return out
}

func issueWithFailure(path string, failureClass, message string) ValidationIssue {
	return ValidationIssue{FailureClass: failureClass, Path: path, Message: message}
}

func nonEmptyString(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	trimmed := strings.TrimSpace(s)
	return trimmed
}

func stringSetFromAny(arr []any) map[string]bool {
	out := map[string]bool{}
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			out[trimmed] = true
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func cloneSet(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out
}

func emptyBindingsFor(families map[string]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(families))
	for f := range families {
		out[f] = map[string]bool{}
	}
	return out
}

func mergeStaticBindings(dest map[string]map[string]bool, staticBindings map[string]map[string]bool) {
	for family, ops := range staticBindings {
		entry := dest[family]
		if entry == nil {
			entry = map[string]bool{}
			dest[family] = entry
		}
		for op := range ops {
			entry[op] = true
		}
	}
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func bindingsEqual(a, b map[string]map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for family, set := range a {
		other, ok := b[family]
		if !ok || !setsEqual(set, other) {
			return false
		}
	}
	return true
}

// sortedBindingIteration returns (family, sorted host action ids) pairs in
// family-sorted order, matching the default action-binding iteration used
// by derive.
func sortedBindingIteration(bindings map[string]map[string]bool) []bindingPair {
	families := make([]string, 0, len(bindings))
	for family := range bindings {
		families = append(families, family)
	}
	sort.Strings(families)
	out := make([]bindingPair, 0, len(families))
	for _, family := range families {
		out = append(out, bindingPair{family: family, hostActionIDs: sortedKeys(bindings[family])})
	}
	return out
}

type bindingPair struct {
	family        string
	hostActionIDs []string
}
