package doctrine

import "testing"

func validContract() map[string]any {
	return map[string]any{
		"hostActionSurface": map[string]any{
			"requiredActions": map[string]any{
				"instruction.run":            map[string]any{"operationId": "op/instruction.run"},
				"required.witness_verify":    map[string]any{"operationId": "op/required.witness_verify"},
				"required.witness_decide":    map[string]any{"operationId": "op/required.witness_decide"},
				"fiber.spawn":                map[string]any{"operationId": "op/fiber.spawn"},
				"fiber.join":                 map[string]any{"operationId": "op/fiber.join"},
				"fiber.cancel":               map[string]any{"operationId": "op/fiber.cancel"},
				"issue.claim_next":           map[string]any{"operationId": "op/issue.claim_next"},
				"issue.claim":                map[string]any{"operationId": "op/issue.claim"},
				"issue.lease_renew":          map[string]any{"operationId": "op/issue.lease_renew"},
				"issue.lease_release":        map[string]any{"operationId": "op/issue.lease_release"},
				"issue.discover":             map[string]any{"operationId": "op/issue.discover"},
			},
		},
		"worldDescentContract": map[string]any{
			"contractId": ContractID,
			"failureClasses": map[string]any{
				"identityMissing":            FailureWorldRouteIdentityMissing,
				"descentDataMissing":         FailureWorldDescentDataMissing,
				"kcirHandoffIdentityMissing": FailureKcirHandoffIdentityMissing,
			},
			"requiredRouteFamilies": toAnySlice(defaultRouteFamilies),
			"requiredActionRouteBindings": map[string]any{
				"route.instruction_execution": []any{"instruction.run"},
				"route.required_decision_attestation": []any{
					"required.witness_verify", "required.witness_decide",
				},
				"route.fiber.lifecycle": []any{"fiber.spawn", "fiber.join", "fiber.cancel"},
				"route.issue_claim_lease": []any{
					"issue.claim_next", "issue.claim", "issue.lease_renew", "issue.lease_release", "issue.discover",
				},
			},
			"requiredStaticOperationBindings": map[string]any{
				"route.transport.dispatch": []any{"op/transport.world_route_binding"},
			},
		},
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func TestValidateContractProjectionAcceptsWellFormedContract(t *testing.T) {
	_, issues := ValidateContractProjection(validContract())
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidateContractProjectionRejectsNonObject(t *testing.T) {
	_, issues := ValidateContractProjection("not an object")
	if len(issues) != 1 || issues[0].FailureClass != FailureWorldDescentDataMissing {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestValidateContractProjectionRejectsMissingWorldDescentContract(t *testing.T) {
	_, issues := ValidateContractProjection(map[string]any{})
	found := false
	for _, iss := range issues {
		if iss.Path == "controlPlaneContract.worldDescentContract" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing-worldDescentContract issue, got %+v", issues)
	}
}

func TestValidateContractProjectionRejectsWrongContractID(t *testing.T) {
	contract := validContract()
	wd := contract["worldDescentContract"].(map[string]any)
	wd["contractId"] = "wrong.id"
	_, issues := ValidateContractProjection(contract)
	found := false
	for _, iss := range issues {
		if iss.Path == "controlPlaneContract.worldDescentContract.contractId" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a contractId mismatch issue, got %+v", issues)
	}
}

func TestValidateContractProjectionRejectsUnexpectedFailureClassKey(t *testing.T) {
	contract := validContract()
	wd := contract["worldDescentContract"].(map[string]any)
	fc := wd["failureClasses"].(map[string]any)
	fc["extraneous"] = "something"
	_, issues := ValidateContractProjection(contract)
	if len(issues) == 0 {
		t.Error("expected an issue for an unexpected failureClasses key")
	}
}

func TestDeriveForRuntimeOrchestrationFoldsInGateExecution(t *testing.T) {
	contract := validContract()
	contract["runtimeRouteBindings"] = map[string]any{
		"requiredOperationRoutes": map[string]any{
			"r1": map[string]any{"operationId": "op/gate.exec.a"},
		},
	}
	derived, issues := DeriveForRuntimeOrchestration(contract)
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
	var gateBinding *RequiredRouteBinding
	for i := range derived.Bindings {
		if derived.Bindings[i].RouteFamilyID == "route.gate_execution" {
			gateBinding = &derived.Bindings[i]
		}
	}
	if gateBinding == nil {
		t.Fatal("expected route.gate_execution binding to be present")
	}
	if len(gateBinding.OperationIDs) != 1 || gateBinding.OperationIDs[0] != "op/gate.exec.a" {
		t.Errorf("gate binding operationIds = %+v", gateBinding.OperationIDs)
	}
}

func TestDeriveForWorldRegistryCheckDoesNotFoldInGateExecution(t *testing.T) {
	contract := validContract()
	contract["runtimeRouteBindings"] = map[string]any{
		"requiredOperationRoutes": map[string]any{
			"r1": map[string]any{"operationId": "op/gate.exec.a"},
		},
	}
	derived, _ := DeriveForWorldRegistryCheck(contract)
	for _, b := range derived.Bindings {
		if b.RouteFamilyID == "route.gate_execution" && len(b.OperationIDs) != 0 {
			t.Errorf("expected route.gate_execution to stay empty under world-registry derivation, got %+v", b.OperationIDs)
		}
	}
}

func TestDeriveReportsMissingHostActionSurface(t *testing.T) {
	contract := validContract()
	delete(contract, "hostActionSurface")
	_, issues := DeriveForWorldRegistryCheck(contract)
	found := false
	for _, iss := range issues {
		if iss.Path == "controlPlaneContract.hostActionSurface" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing hostActionSurface issue, got %+v", issues)
	}
}

func TestDeriveReportsMissingOperationID(t *testing.T) {
	contract := validContract()
	actions := contract["hostActionSurface"].(map[string]any)["requiredActions"].(map[string]any)
	actions["instruction.run"] = map[string]any{}
	_, issues := DeriveForWorldRegistryCheck(contract)
	found := false
	for _, iss := range issues {
		if iss.FailureClass == FailureWorldRouteIdentityMissing {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a world_route_identity_missing issue, got %+v", issues)
	}
}

func TestDeriveStaticBindingsAlwaysIncluded(t *testing.T) {
	derived, _ := DeriveForWorldRegistryCheck(validContract())
	found := false
	for _, b := range derived.Bindings {
		if b.RouteFamilyID == "route.transport.dispatch" {
			found = true
			if len(b.OperationIDs) != 1 || b.OperationIDs[0] != "op/transport.world_route_binding" {
				t.Errorf("static binding operationIds = %+v", b.OperationIDs)
			}
		}
	}
	if !found {
		t.Error("expected route.transport.dispatch static binding to be present")
	}
}
