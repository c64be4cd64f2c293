package transport

import "testing"

func TestWorldBindingForActionKnownAction(t *testing.T) {
	binding, ok := WorldBindingForAction(ActionIssueClaim)
	if !ok {
		t.Fatal("expected ActionIssueClaim to be registered")
	}
	if binding.OperationID != "op/mcp.issue_claim" {
		t.Errorf("OperationID = %q", binding.OperationID)
	}
	if binding.RouteFamilyID != "route.issue_claim_lease" {
		t.Errorf("RouteFamilyID = %q", binding.RouteFamilyID)
	}
}

func TestWorldBindingForActionUnknownAction(t *testing.T) {
	_, ok := WorldBindingForAction("bogus.action")
	if ok {
		t.Error("expected unknown action to report ok=false")
	}
}

func TestActionRegistryRowsCoverAllSpecs(t *testing.T) {
	rows := ActionRegistryRows()
	if len(rows) != len(Specs) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(Specs))
	}
	for _, row := range rows {
		if row.SemanticDigest == "" {
			t.Errorf("row %q missing SemanticDigest", row.Action)
		}
	}
}

func TestValidateRegistryAcceptsCanonicalRendering(t *testing.T) {
	issues := ValidateRegistry(ActionRegistryRows())
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidateRegistryDetectsMissingAction(t *testing.T) {
	rows := ActionRegistryRows()
	trimmed := rows[1:]
	issues := ValidateRegistry(trimmed)
	found := false
	for _, iss := range issues {
		if iss.FailureClass == "transport_registry_missing_action" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a missing-action issue, got %+v", issues)
	}
}

func TestValidateRegistryDetectsDuplicateAction(t *testing.T) {
	rows := ActionRegistryRows()
	rows = append(rows, rows[0])
	issues := ValidateRegistry(rows)
	found := false
	for _, iss := range issues {
		if iss.FailureClass == "transport_registry_duplicate_action" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a duplicate-action issue, got %+v", issues)
	}
}

func TestValidateRegistryDetectsDigestMismatch(t *testing.T) {
	rows := ActionRegistryRows()
	rows[0].SemanticDigest = "sem1_tampered"
	issues := ValidateRegistry(rows)
	found := false
	for _, iss := range issues {
		if iss.FailureClass == "transport_registry_digest_mismatch" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a digest-mismatch issue, got %+v", issues)
	}
}

func TestValidateRegistryDetectsEmptyField(t *testing.T) {
	rows := ActionRegistryRows()
	rows[0].OperationID = ""
	issues := ValidateRegistry(rows)
	found := false
	for _, iss := range issues {
		if iss.FailureClass == "transport_registry_empty_field" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an empty-field issue, got %+v", issues)
	}
}

func TestCheckReportsOkForCanonicalRegistry(t *testing.T) {
	report := Check()
	if report.Result != "ok" {
		t.Errorf("Result = %q, want ok; issues=%+v", report.Result, report.Issues)
	}
	if report.ActionCount != len(Specs) {
		t.Errorf("ActionCount = %d, want %d", report.ActionCount, len(Specs))
	}
	if report.SemanticDigest == "" {
		t.Error("expected a non-empty SemanticDigest")
	}
}

func TestCheckDigestStableAcrossCalls(t *testing.T) {
	first := Check()
	second := Check()
	if first.SemanticDigest != second.SemanticDigest {
		t.Errorf("Check() digest not stable: %q vs %q", first.SemanticDigest, second.SemanticDigest)
	}
}
