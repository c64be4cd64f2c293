package coherence

import (
	"context"

	"github.com/spf13/afero"
)

// WitnessObligationResult is the per-obligation wire shape of a
// CoherenceWitness: {id, result, failureClasses, details}.
type WitnessObligationResult struct {
	ID             string   `json:"id"`
	Result         string   `json:"result"` // "accepted" | "rejected"
	FailureClasses []string `json:"failureClasses"`
	Details        []string `json:"details"`
}

// CoherenceWitness is the deterministic aggregate emitted by
// RunCoherenceCheck: every obligation's accept/reject verdict, the
// aggregate failure-class set, and the contract digest.
type CoherenceWitness struct {
	Obligations    []WitnessObligationResult `json:"obligations"`
	Accepted       bool                      `json:"accepted"`
	FailureClasses []string                  `json:"failureClasses"`
	ContractDigest string                    `json:"contractDigest"`
}

// RunCoherenceCheck loads the coherence contract at contractPath
// (resolved against repoRoot when relative) together with every
// repository surface it references — capability manifests, README and
// conformance doc capability sections, the task-runner TOML, the
// CI-closure doc, the doctrine site graph, overlay docs, and the
// vector-fixture manifests and case artifacts under repoRoot — and
// evaluates the fourteen obligations against it, returning the
// resulting witness.
func RunCoherenceCheck(ctx context.Context, fs afero.Fs, repoRoot, contractPath string) (CoherenceWitness, error) {
	contract, err := Load(fs, repoRoot, contractPath)
	if err != nil {
		return CoherenceWitness{}, err
	}
	report, err := Evaluate(ctx, contract)
	if err != nil {
		return CoherenceWitness{}, err
	}
	return toWitness(report), nil
}

func toWitness(r Report) CoherenceWitness {
	obligations := make([]WitnessObligationResult, len(r.Results))
	for i, res := range r.Results {
		result := "accepted"
		if !res.Accepted() {
			result = "rejected"
		}
		obligations[i] = WitnessObligationResult{
			ID: res.Obligation, Result: result,
			FailureClasses: res.FailureClasses, Details: res.Details,
		}
	}
	return CoherenceWitness{
		Obligations: obligations, Accepted: r.Accepted,
		FailureClasses: r.FailureClasses, ContractDigest: r.ContractDigest,
	}
}
