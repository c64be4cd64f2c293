// Package instruction implements the instruction-witness gate: under the
// "instruction-linked" mutation policy, every mutating action must name
// an accepted CI/test instruction witness carrying the right policy
// digest and capability claims before the mutation guard will let it
// through.
package instruction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
)

// Policy selects how mutations are gated.
type Policy string

const (
	// PolicyOpen lets any mutation through regardless of instruction_id.
	PolicyOpen Policy = "open"
	// PolicyInstructionLinked requires every mutation to resolve to an
	// accepted instruction witness scoped for that action.
	PolicyInstructionLinked Policy = "instruction-linked"
)

// ParsePolicy parses the CLI/config string form of Policy.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.TrimSpace(raw) {
	case string(PolicyOpen):
		return PolicyOpen, nil
	case string(PolicyInstructionLinked):
		return PolicyInstructionLinked, nil
	default:
		return "", fmt.Errorf("invalid mutation_policy %q (expected %q or %q)", raw, PolicyOpen, PolicyInstructionLinked)
	}
}

// Action is one of the nine mutation actions that can be instruction-
// gated. Read/list/check operations are never gated.
type Action string

const (
	ActionIssueAdd          Action = "issue.add"
	ActionIssueClaim        Action = "issue.claim"
	ActionIssueLeaseRenew   Action = "issue.lease_renew"
	ActionIssueLeaseRelease Action = "issue.lease_release"
	ActionIssueDiscover     Action = "issue.discover"
	ActionIssueUpdate       Action = "issue.update"
	ActionDepAdd            Action = "dep.add"
	ActionDepRemove         Action = "dep.remove"
	ActionDepReplace        Action = "dep.replace"
)

// RequiredCapabilityClaim returns the per-action capability claim an
// instruction witness must carry (in addition to the base claim) to
// authorize this action, e.g. "issue.lease_renew" requires
// "capabilities.change_morphisms.issue_lease_renew".
func (a Action) RequiredCapabilityClaim() string {
	return "capabilities.change_morphisms." + strings.ReplaceAll(string(a), ".", "_")
}

// BaseCapabilityClaim is the claim every instruction-gated mutation
// requires regardless of which action it performs.
const BaseCapabilityClaim = "capabilities.change_morphisms"

// AllCapabilityClaim is a wildcard claim that authorizes every action.
const AllCapabilityClaim = "capabilities.change_morphisms.all"

// Accepted policy digests: only instruction witnesses produced under one
// of these policies are eligible to authorize a mutation.
const (
	PolicyDigestCIV1   = "pol1_4ba916ce38da5c5607eb7f41d963294b34b644deb1fa6d55e133b072ca001b39"
	PolicyDigestTestV1 = "pol1_1ab3e7f398a472c2cf0f3fbd7ead7ece7bd74e836cbde924f1e33f02895d18ab"
)

func policyDigestAllowed(digest string) bool {
	return digest == PolicyDigestCIV1 || digest == PolicyDigestTestV1
}

// WitnessLink is the resolved, validated view of an instruction witness
// file, scoped down to the fields a mutation needs to check.
type WitnessLink struct {
	InstructionID      string   `json:"instructionId"`
	WitnessPath        string   `json:"-"`
	InstructionDigest  *string  `json:"instructionDigest,omitempty"`
	PolicyDigest       *string  `json:"policyDigest,omitempty"`
	CapabilityClaims   []string `json:"capabilityClaims"`
	RequiredChecks     []string `json:"requiredChecks"`
	ExecutedChecks     []string `json:"executedChecks"`
}

// ToJSON renders the link the way it is embedded into a write witness.
func (w *WitnessLink) ToJSON() map[string]any {
	if w == nil {
		return nil
	}
	return map[string]any{
		"instructionId":      w.InstructionID,
		"witnessPath":        w.WitnessPath,
		"instructionDigest":  w.InstructionDigest,
		"policyDigest":       w.PolicyDigest,
		"capabilityClaims":   w.CapabilityClaims,
		"requiredChecks":     w.RequiredChecks,
		"executedChecks":     w.ExecutedChecks,
	}
}

type witnessFile struct {
	InstructionID     string   `json:"instructionId"`
	VerdictClass      string   `json:"verdictClass"`
	InstructionDigest *string  `json:"instructionDigest"`
	PolicyDigest      *string  `json:"policyDigest"`
	CapabilityClaims  []string `json:"capabilityClaims"`
	RequiredChecks    []string `json:"requiredChecks"`
	ExecutedChecks    []string `json:"executedChecks"`
}

// Load reads and validates the instruction witness for instructionID
// under <repoRoot>/artifacts/ciwitness/<instructionID>.json: it must
// exist, its instructionId must match the requested id, and its
// verdictClass must be "accepted".
func Load(repoRoot, instructionID string) (*WitnessLink, error) {
	witnessPath := filepath.Join(repoRoot, "artifacts", "ciwitness", instructionID+".json")

	raw, err := os.ReadFile(witnessPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("instruction witness not found: %s", witnessPath)
		}
		return nil, fmt.Errorf("failed to read %s: %w", witnessPath, err)
	}

	var parsed witnessFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse instruction witness %s: %w", witnessPath, err)
	}

	if parsed.InstructionID == "" {
		return nil, fmt.Errorf("instruction witness missing `instructionId`: %s", witnessPath)
	}
	if parsed.InstructionID != instructionID {
		return nil, fmt.Errorf("instruction witness id mismatch (expected `%s`, got `%s`)", instructionID, parsed.InstructionID)
	}
	if parsed.VerdictClass != "accepted" {
		verdict := parsed.VerdictClass
		if verdict == "" {
			verdict = "missing"
		}
		return nil, fmt.Errorf("instruction witness is not accepted for `%s` (verdictClass=%s)", instructionID, verdict)
	}

	return &WitnessLink{
		InstructionID:     instructionID,
		WitnessPath:       witnessPath,
		InstructionDigest: parsed.InstructionDigest,
		PolicyDigest:      parsed.PolicyDigest,
		CapabilityClaims:  nonNil(parsed.CapabilityClaims),
		RequiredChecks:    nonNil(parsed.RequiredChecks),
		ExecutedChecks:    nonNil(parsed.ExecutedChecks),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// EnforceScope checks that link authorizes action under policy. Under
// PolicyOpen this is always a no-op; under PolicyInstructionLinked it
// requires an accepted policy digest plus both the base and
// action-specific capability claims (or the wildcard claim).
func EnforceScope(policy Policy, link *WitnessLink, action Action) error {
	if policy != PolicyInstructionLinked {
		return nil
	}

	if link.PolicyDigest == nil {
		return fmt.Errorf("instruction witness `%s` missing `policyDigest` required for mutation policy scope", link.InstructionID)
	}
	if !policyDigestAllowed(*link.PolicyDigest) {
		return fmt.Errorf("instruction policyDigest `%s` is not scoped for mutation action `%s`", *link.PolicyDigest, action)
	}

	if !containsString(link.CapabilityClaims, BaseCapabilityClaim) {
		return fmt.Errorf("instruction `%s` missing required capability claim `%s` for mutation action `%s`", link.InstructionID, BaseCapabilityClaim, action)
	}

	actionClaim := action.RequiredCapabilityClaim()
	if !containsString(link.CapabilityClaims, actionClaim) && !containsString(link.CapabilityClaims, AllCapabilityClaim) {
		return fmt.Errorf("instruction `%s` missing required action capability claim `%s` for mutation action `%s`", link.InstructionID, actionClaim, action)
	}

	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// Resolve loads and scope-checks the instruction witness named by
// instructionID (if any) for action under policy. A policy of
// PolicyInstructionLinked with an empty instructionID is itself rejected:
// that policy requires every mutation to name one.
func Resolve(repoRoot string, policy Policy, instructionID string, action Action) (*WitnessLink, error) {
	trimmed := strings.TrimSpace(instructionID)
	if trimmed == "" {
		if policy == PolicyInstructionLinked {
			return nil, kerrors.New(kerrors.LeaseInvalidPayload,
				"mutation policy `instruction-linked` requires `instruction_id` on mutation tools")
		}
		return nil, nil
	}

	link, err := Load(repoRoot, trimmed)
	if err != nil {
		return nil, err
	}
	if err := EnforceScope(policy, link, action); err != nil {
		return nil, err
	}
	return link, nil
}
