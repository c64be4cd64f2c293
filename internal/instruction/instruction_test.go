package instruction

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeWitness(t *testing.T, repoRoot, instructionID string, fields map[string]any) {
	t.Helper()
	dir := filepath.Join(repoRoot, "artifacts", "ciwitness")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, instructionID+".json"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("open"); err != nil || p != PolicyOpen {
		t.Errorf("ParsePolicy(open) = %v, %v", p, err)
	}
	if p, err := ParsePolicy("instruction-linked"); err != nil || p != PolicyInstructionLinked {
		t.Errorf("ParsePolicy(instruction-linked) = %v, %v", p, err)
	}
	if _, err := ParsePolicy("bogus"); err == nil {
		t.Error("expected error for invalid policy string")
	}
}

func TestActionRequiredCapabilityClaim(t *testing.T) {
	got := ActionIssueLeaseRenew.RequiredCapabilityClaim()
	want := "capabilities.change_morphisms.issue_lease_renew"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadRejectsMissingWitness(t *testing.T) {
	repoRoot := t.TempDir()
	_, err := Load(repoRoot, "abc")
	if err == nil {
		t.Fatal("expected error for missing witness file")
	}
}

func TestLoadRejectsIDMismatch(t *testing.T) {
	repoRoot := t.TempDir()
	writeWitness(t, repoRoot, "abc", map[string]any{"instructionId": "xyz", "verdictClass": "accepted"})
	_, err := Load(repoRoot, "abc")
	if err == nil {
		t.Fatal("expected error for instructionId mismatch")
	}
}

func TestLoadRejectsNonAcceptedVerdict(t *testing.T) {
	repoRoot := t.TempDir()
	writeWitness(t, repoRoot, "abc", map[string]any{"instructionId": "abc", "verdictClass": "rejected"})
	_, err := Load(repoRoot, "abc")
	if err == nil {
		t.Fatal("expected error for a non-accepted verdict")
	}
}

func TestLoadAcceptsValidWitness(t *testing.T) {
	repoRoot := t.TempDir()
	digest := "pol1_4ba916ce38da5c5607eb7f41d963294b34b644deb1fa6d55e133b072ca001b39"
	writeWitness(t, repoRoot, "abc", map[string]any{
		"instructionId":    "abc",
		"verdictClass":     "accepted",
		"policyDigest":     digest,
		"capabilityClaims": []string{BaseCapabilityClaim, "capabilities.change_morphisms.issue_add"},
	})

	link, err := Load(repoRoot, "abc")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if link.InstructionID != "abc" {
		t.Errorf("InstructionID = %q", link.InstructionID)
	}
	if link.PolicyDigest == nil || *link.PolicyDigest != digest {
		t.Errorf("PolicyDigest = %v", link.PolicyDigest)
	}
}

func TestEnforceScopeNoopUnderOpenPolicy(t *testing.T) {
	if err := EnforceScope(PolicyOpen, nil, ActionIssueAdd); err != nil {
		t.Errorf("EnforceScope under PolicyOpen should never fail, got %v", err)
	}
}

func TestEnforceScopeRequiresPolicyDigest(t *testing.T) {
	link := &WitnessLink{InstructionID: "abc"}
	if err := EnforceScope(PolicyInstructionLinked, link, ActionIssueAdd); err == nil {
		t.Error("expected error for missing policyDigest")
	}
}

func TestEnforceScopeRejectsUnknownPolicyDigest(t *testing.T) {
	bogus := "pol1_bogus"
	link := &WitnessLink{InstructionID: "abc", PolicyDigest: &bogus}
	if err := EnforceScope(PolicyInstructionLinked, link, ActionIssueAdd); err == nil {
		t.Error("expected error for unrecognized policyDigest")
	}
}

func TestEnforceScopeRequiresBaseAndActionClaims(t *testing.T) {
	digest := PolicyDigestCIV1
	link := &WitnessLink{InstructionID: "abc", PolicyDigest: &digest, CapabilityClaims: []string{BaseCapabilityClaim}}
	if err := EnforceScope(PolicyInstructionLinked, link, ActionIssueAdd); err == nil {
		t.Error("expected error for missing action-specific capability claim")
	}

	link.CapabilityClaims = append(link.CapabilityClaims, ActionIssueAdd.RequiredCapabilityClaim())
	if err := EnforceScope(PolicyInstructionLinked, link, ActionIssueAdd); err != nil {
		t.Errorf("expected success with both claims present, got %v", err)
	}
}

func TestEnforceScopeAcceptsWildcardClaim(t *testing.T) {
	digest := PolicyDigestTestV1
	link := &WitnessLink{InstructionID: "abc", PolicyDigest: &digest, CapabilityClaims: []string{BaseCapabilityClaim, AllCapabilityClaim}}
	if err := EnforceScope(PolicyInstructionLinked, link, ActionDepRemove); err != nil {
		t.Errorf("expected wildcard claim to authorize any action, got %v", err)
	}
}

func TestResolveOpenPolicyWithNoInstructionID(t *testing.T) {
	link, err := Resolve(t.TempDir(), PolicyOpen, "", ActionIssueAdd)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if link != nil {
		t.Errorf("expected nil link, got %+v", link)
	}
}

func TestResolveInstructionLinkedRequiresID(t *testing.T) {
	_, err := Resolve(t.TempDir(), PolicyInstructionLinked, "", ActionIssueAdd)
	if err == nil {
		t.Error("expected error when instruction-linked policy has no instruction id")
	}
}

func TestResolveInstructionLinkedHappyPath(t *testing.T) {
	repoRoot := t.TempDir()
	writeWitness(t, repoRoot, "abc", map[string]any{
		"instructionId": "abc",
		"verdictClass":  "accepted",
		"policyDigest":  PolicyDigestCIV1,
		"capabilityClaims": []string{
			BaseCapabilityClaim, ActionIssueClaim.RequiredCapabilityClaim(),
		},
	})

	link, err := Resolve(repoRoot, PolicyInstructionLinked, "abc", ActionIssueClaim)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if link.InstructionID != "abc" {
		t.Errorf("InstructionID = %q", link.InstructionID)
	}
}
