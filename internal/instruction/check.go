package instruction

import (
	"encoding/json"
	"fmt"
)

// Envelope is the instruction envelope's required shape: a normalizer
// identity, a policy digest, and the set of checks this instruction asks
// the doctrine-gated pipeline to run.
type Envelope struct {
	NormalizerID     string   `json:"normalizerId"`
	PolicyDigest     string   `json:"policyDigest"`
	RequestedChecks  []string `json:"requestedChecks"`
	CapabilityClaims []string `json:"capabilityClaims,omitempty"`
}

// CheckedEnvelope is the normalized result of a successful CheckEnvelope
// call, suitable for rendering back to a caller as proof the envelope is
// well-formed.
type CheckedEnvelope struct {
	NormalizerID     string   `json:"normalizerId"`
	PolicyDigest     string   `json:"policyDigest"`
	RequestedChecks  []string `json:"requestedChecks"`
	CapabilityClaims []string `json:"capabilityClaims"`
}

// CheckEnvelope validates an instruction envelope's shape without running
// anything: normalizerId and policyDigest must both be present,
// policyDigest must be one of the accepted policy digests, and every
// entry in requestedChecks must be a non-empty, policy-allowlisted check
// name — the literal checks this module's own instruction witnesses ever
// name.
func CheckEnvelope(raw []byte) (*CheckedEnvelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("instruction_envelope_invalid_json: %w", err)
	}

	if envelope.NormalizerID == "" {
		return nil, fmt.Errorf("instruction_envelope_invalid: missing normalizerId")
	}
	if envelope.PolicyDigest == "" {
		return nil, fmt.Errorf("instruction_envelope_invalid: missing policyDigest")
	}
	if !policyDigestAllowed(envelope.PolicyDigest) {
		return nil, fmt.Errorf("instruction_envelope_invalid: policyDigest %q is not policy-allowlisted", envelope.PolicyDigest)
	}
	if len(envelope.RequestedChecks) == 0 {
		return nil, fmt.Errorf("instruction_envelope_invalid: requestedChecks must be non-empty")
	}
	for _, check := range envelope.RequestedChecks {
		if check == "" {
			return nil, fmt.Errorf("instruction_envelope_invalid: requestedChecks entries must be non-empty")
		}
		if !requestedCheckAllowlisted(check) {
			return nil, fmt.Errorf("instruction_envelope_invalid: requestedChecks entry %q is not policy-allowlisted", check)
		}
	}

	return &CheckedEnvelope{
		NormalizerID:     envelope.NormalizerID,
		PolicyDigest:     envelope.PolicyDigest,
		RequestedChecks:  envelope.RequestedChecks,
		CapabilityClaims: nonNil(envelope.CapabilityClaims),
	}, nil
}

// allowlistedRequestedChecks are the only check names a doctrine-gated
// instruction may request; this mirrors the closed check vocabulary the
// CI/test instruction witnesses in this module are themselves produced
// against.
var allowlistedRequestedChecks = map[string]bool{
	"coherence.contract":     true,
	"transport.registry":     true,
	"doctrine.world_descent": true,
	"issue.graph":            true,
}

func requestedCheckAllowlisted(check string) bool {
	return allowlistedRequestedChecks[check]
}
