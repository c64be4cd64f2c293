// Package coherence implements the fixed fourteen-obligation consistency
// checker over a project's coherence contract: a single document
// describing every cross-referenced set (capabilities, gates, doctrine
// site operations, overlay docs) and the vector fixtures that pin each
// obligation's expected verdict on a set of golden and adversarial
// cases.
//
// Obligations run concurrently via golang.org/x/sync/errgroup, one
// goroutine per obligation, but their results are always collected back
// into the fixed order below before the aggregate digest is computed —
// so the digest and the ordered report never depend on goroutine
// scheduling.
package coherence

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/semdigest"
)

// ObligationOrder is the fixed evaluation and reporting order; Evaluate
// always returns Results in this order regardless of how goroutines
// complete.
var ObligationOrder = []string{
	"scope_noncontradiction",
	"capability_parity",
	"gate_chain_parity",
	"operation_reachability",
	"overlay_traceability",
	"transport_functoriality",
	"span_square_commutation",
	"coverage_base_change",
	"coverage_transitivity",
	"glue_or_witness_contractibility",
	"cwf_substitution_identity",
	"cwf_substitution_composition",
	"cwf_comprehension_beta",
	"cwf_comprehension_eta",
}

// ObligationResult is one obligation's verdict.
type ObligationResult struct {
	Obligation     string   `json:"obligation"`
	FailureClasses []string `json:"failureClasses"`
	Details        []string `json:"details"`
}

// Accepted reports whether the obligation raised no failure classes.
func (r ObligationResult) Accepted() bool { return len(r.FailureClasses) == 0 }

// VectorCase is one fixture vector for a vector-driven obligation
// (transport_functoriality, span_square_commutation, coverage_*, glue,
// cwf_*): it pins the expected outcome for a concrete case.
type VectorCase struct {
	ID               string   `json:"id"`
	ScenarioID       string   `json:"semanticScenarioId"`
	Profile          string   `json:"profile"`
	Polarity         string   `json:"polarity"` // "golden" | "adversarial"
	Expected         string   `json:"expect"`   // "accepted" | "rejected"
	ExpectedFailures []string `json:"expectedFailureClasses"`
	// CasePath, relative to repoRoot, names the on-disk case artifact
	// (`{"result", "failureClasses"}`) Load re-derives Derived /
	// DerivedFailures from. Empty when the case is constructed directly
	// in-memory (e.g. in tests) rather than loaded from a manifest file.
	CasePath        string   `json:"casePath,omitempty"`
	Derived         string   `json:"-"` // filled in by Load's case re-derivation
	DerivedFailures []string `json:"-"`
}

// VectorManifest is one obligation's fixture manifest: schema=1,
// status=executable, and the vectors it enumerates.
type VectorManifest struct {
	Obligation string       `json:"obligation"`
	Schema     int          `json:"schema"`
	Status     string       `json:"status"`
	Vectors    []VectorCase `json:"vectors"`
}

// Contract is the full input document Evaluate consumes: every
// cross-referenced set the fourteen obligations compare against each
// other, plus the vector manifests for the vector-driven obligations.
type Contract struct {
	// scope_noncontradiction inputs: internal consistency of the
	// contract descriptor itself, no repository surface needed.
	InformativeClausesPresent       bool `json:"informativeClausesPresent"`
	ConditionalCapabilityDocPairsOK bool `json:"conditionalCapabilityDocPairsOk"`
	ProfileOverlayClaimsMatch       bool `json:"profileOverlayClaimsMatch"`
	BidirObligationParity           bool `json:"bidirObligationParity"`

	// capability_parity inputs: the same capability set as seen from
	// four independent sources; all four must be set-equal.
	ExecutableCapabilities  []string `json:"executableCapabilities"`
	ManifestCapabilities    []string `json:"manifestCapabilities"`
	ReadmeCapabilities      []string `json:"readmeCapabilities"`
	ConformanceCapabilities []string `json:"conformanceCapabilities"`

	// gate_chain_parity inputs.
	BaselineTasksFromRunner []string          `json:"baselineTasksFromRunner"`
	BaselineTasksFromCIDoc  []string          `json:"baselineTasksFromCiDoc"`
	ProjectedCheckOrder     []string          `json:"projectedCheckOrder"`
	ProjectedSetInDoc       []string          `json:"projectedSetInDoc"`
	GateChainContract       GateChainContract `json:"gateChainContract"`

	// operation_reachability inputs: a doctrine site graph (adjacency by
	// node id) plus cover-part edges, a declared root, the expected
	// operation node set, and which of those nodes have a file on disk.
	SiteEdges              map[string][]string `json:"siteEdges"`
	CoverPartEdges         map[string][]string `json:"coverPartEdges"`
	DeclaredRoot           string              `json:"declaredRoot"`
	ExpectedOperationNodes []string            `json:"expectedOperationNodes"`
	OperationNodeOnDisk    map[string]bool     `json:"operationNodeOnDisk"`

	// overlay_traceability inputs.
	DeclaredOverlayDocs     []string        `json:"declaredOverlayDocs"`
	OverlayDocsOnDisk       map[string]bool `json:"overlayDocsOnDisk"`
	OverlaysInSpecIndex     []string        `json:"overlaysInSpecIndex"`
	OverlaysInProfileReadme []string        `json:"overlaysInProfileReadme"`

	// Vector-driven obligations: one manifest per obligation name.
	VectorManifests map[string]VectorManifest `json:"vectorManifests"`
}

// GateChainContract captures the control-plane-contract fields
// gate_chain_parity cross-checks beyond the plain baseline/projected set
// equalities.
type GateChainContract struct {
	SchemaLifecycleOK         bool `json:"schemaLifecycleOk"`
	EvidenceStage1ParityOK    bool `json:"evidenceStage1ParityOk"`
	EvidenceStage1RollbackOK  bool `json:"evidenceStage1RollbackOk"`
	EvidenceStage2AuthorityOK bool `json:"evidenceStage2AuthorityOk"`
	EvidenceFactorizationOK   bool `json:"evidenceFactorizationOk"`
	LaneRegistryOK            bool `json:"laneRegistryOk"`
	WorkerLaneAuthorityOK     bool `json:"workerLaneAuthorityOk"`
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func evalScopeNoncontradiction(c Contract) ObligationResult {
	r := ObligationResult{Obligation: "scope_noncontradiction"}
	if !c.InformativeClausesPresent {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("scope_noncontradiction", "informative_clause_missing")))
	}
	if !c.ConditionalCapabilityDocPairsOK {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("scope_noncontradiction", "conditional_capability_doc_pair_mismatch")))
	}
	if !c.ProfileOverlayClaimsMatch {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("scope_noncontradiction", "profile_overlay_claim_mismatch")))
	}
	if !c.BidirObligationParity {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("scope_noncontradiction", "bidir_obligation_parity_mismatch")))
	}
	return r
}

func evalCapabilityParity(c Contract) ObligationResult {
	r := ObligationResult{Obligation: "capability_parity"}
	sets := [][]string{c.ExecutableCapabilities, c.ManifestCapabilities, c.ReadmeCapabilities, c.ConformanceCapabilities}
	for i := 1; i < len(sets); i++ {
		if !stringSetEqual(sets[0], sets[i]) {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("capability_parity", "set_mismatch")))
			r.Details = append(r.Details, "capability set disagreement at source index "+string(rune('0'+i)))
			break
		}
	}
	return r
}

func evalGateChainParity(c Contract) ObligationResult {
	r := ObligationResult{Obligation: "gate_chain_parity"}
	if !stringSetEqual(c.BaselineTasksFromRunner, c.BaselineTasksFromCIDoc) {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("gate_chain_parity", "baseline_set_mismatch")))
	}
	if !stringSetEqual(c.ProjectedCheckOrder, c.ProjectedSetInDoc) {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("gate_chain_parity", "projected_set_mismatch")))
	}
	g := c.GateChainContract
	for name, ok := range map[string]bool{
		"schema_lifecycle": g.SchemaLifecycleOK, "evidence_stage1_parity": g.EvidenceStage1ParityOK,
		"evidence_stage1_rollback": g.EvidenceStage1RollbackOK, "evidence_stage2_authority": g.EvidenceStage2AuthorityOK,
		"evidence_factorization": g.EvidenceFactorizationOK, "lane_registry": g.LaneRegistryOK,
		"worker_lane_authority": g.WorkerLaneAuthorityOK,
	} {
		if !ok {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("gate_chain_parity", name+"_invalid")))
		}
	}
	sort.Strings(r.FailureClasses)
	return r
}

func evalOperationReachability(c Contract) ObligationResult {
	r := ObligationResult{Obligation: "operation_reachability"}
	reached := map[string]bool{}
	var visit func(string)
	visit = func(node string) {
		if reached[node] {
			return
		}
		reached[node] = true
		for _, next := range c.SiteEdges[node] {
			visit(next)
		}
		for _, next := range c.CoverPartEdges[node] {
			visit(next)
		}
	}
	if c.DeclaredRoot != "" {
		visit(c.DeclaredRoot)
	}
	missing := make([]string, 0)
	for _, op := range c.ExpectedOperationNodes {
		if !reached[op] {
			missing = append(missing, op)
			continue
		}
		if !c.OperationNodeOnDisk[op] {
			missing = append(missing, op)
		}
	}
	sort.Strings(missing)
	for _, op := range missing {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("operation_reachability", "unreachable_or_missing")))
		r.Details = append(r.Details, op)
	}
	return r
}

func evalOverlayTraceability(c Contract) ObligationResult {
	r := ObligationResult{Obligation: "overlay_traceability"}
	for _, doc := range c.DeclaredOverlayDocs {
		if !c.OverlayDocsOnDisk[doc] {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("overlay_traceability", "doc_missing")))
			r.Details = append(r.Details, doc)
			continue
		}
		inIndex := contains(c.OverlaysInSpecIndex, doc)
		inReadme := contains(c.OverlaysInProfileReadme, doc)
		if !inIndex || !inReadme {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass("overlay_traceability", "not_referenced")))
			r.Details = append(r.Details, doc)
		}
	}
	return r
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// vectorObligations lists the obligations whose verdict is driven purely
// by re-deriving each fixture vector's actual (result, failureClasses)
// and comparing bitwise against the pinned expectation, plus checking
// the required polarity/invariance coverage shape.
var vectorObligations = []string{
	"transport_functoriality", "span_square_commutation", "coverage_base_change",
	"coverage_transitivity", "glue_or_witness_contractibility",
	"cwf_substitution_identity", "cwf_substitution_composition",
	"cwf_comprehension_beta", "cwf_comprehension_eta",
}

func evalVectorObligation(obligation string, c Contract) ObligationResult {
	r := ObligationResult{Obligation: obligation}
	manifest, ok := c.VectorManifests[obligation]
	if !ok || manifest.Schema != 1 || manifest.Status != "executable" {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass(obligation, "manifest_unavailable")))
		return r
	}
	hasGolden, hasAdversarial, hasAccepted, hasRejected := false, false, false, false
	byScenario := map[string][]VectorCase{}
	for _, v := range manifest.Vectors {
		switch v.Polarity {
		case "golden":
			hasGolden = true
		case "adversarial":
			hasAdversarial = true
		}
		switch v.Expected {
		case "accepted":
			hasAccepted = true
		case "rejected":
			hasRejected = true
		}
		if v.Derived != v.Expected || !stringSetEqual(v.DerivedFailures, v.ExpectedFailures) {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass(obligation, "vector_mismatch")))
			r.Details = append(r.Details, v.ID)
		}
		if v.ScenarioID != "" {
			byScenario[v.ScenarioID] = append(byScenario[v.ScenarioID], v)
		}
	}
	if !hasGolden || !hasAdversarial {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass(obligation, "polarity_coverage_incomplete")))
	}
	if !hasAccepted || !hasRejected {
		r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass(obligation, "outcome_coverage_incomplete")))
	}
	for scenario, group := range byScenario {
		if len(group) != 2 {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass(obligation, "invariance_pair_malformed")))
			r.Details = append(r.Details, scenario)
			continue
		}
		if group[0].Profile == group[1].Profile {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass(obligation, "invariance_pair_malformed")))
			r.Details = append(r.Details, scenario)
			continue
		}
		if group[0].Expected != group[1].Expected || !stringSetEqual(group[0].ExpectedFailures, group[1].ExpectedFailures) {
			r.FailureClasses = append(r.FailureClasses, string(kerrors.CoherenceClass(obligation, "invariance_result_mismatch")))
			r.Details = append(r.Details, scenario)
		}
	}
	sort.Strings(r.FailureClasses)
	return r
}

// Report is the full coherence run output: every obligation's result in
// ObligationOrder, plus the aggregate contract digest.
type Report struct {
	Results        []ObligationResult `json:"results"`
	Accepted       bool               `json:"accepted"`
	FailureClasses []string           `json:"failureClasses"`
	ContractDigest string             `json:"contractDigest"`
}

// Evaluate runs all fourteen obligations concurrently over c via
// errgroup, then reassembles the results in ObligationOrder before
// computing the aggregate cohctr1_ digest, so the report never depends
// on which goroutine finished first.
func Evaluate(ctx context.Context, c Contract) (Report, error) {
	results := make([]ObligationResult, len(ObligationOrder))
	g, _ := errgroup.WithContext(ctx)
	for i, obligation := range ObligationOrder {
		i, obligation := i, obligation
		g.Go(func() error {
			results[i] = evaluateOne(obligation, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{Results: results, Accepted: true}
	for _, r := range results {
		if !r.Accepted() {
			report.Accepted = false
			report.FailureClasses = append(report.FailureClasses, r.FailureClasses...)
		}
	}
	digest, err := semdigest.Digest(semdigest.PrefixContract, c)
	if err != nil {
		return Report{}, err
	}
	report.ContractDigest = digest
	return report, nil
}

func evaluateOne(obligation string, c Contract) ObligationResult {
	switch obligation {
	case "scope_noncontradiction":
		return evalScopeNoncontradiction(c)
	case "capability_parity":
		return evalCapabilityParity(c)
	case "gate_chain_parity":
		return evalGateChainParity(c)
	case "operation_reachability":
		return evalOperationReachability(c)
	case "overlay_traceability":
		return evalOverlayTraceability(c)
	default:
		return evalVectorObligation(obligation, c)
	}
}
