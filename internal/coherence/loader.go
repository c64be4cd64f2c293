package coherence

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
)

// contractFile is the on-disk shape of the document at contractPath: the
// scope_noncontradiction clauses are carried inline (they check the
// contract's own internal consistency), while the other obligations
// name the repository surface files Load reads and cross-checks against.
type contractFile struct {
	Schema                int                   `json:"schema"`
	ScopeNoncontradiction  scopeNoncontradiction `json:"scopeNoncontradiction"`
	CapabilityParity       capabilityParitySpec  `json:"capabilityParity"`
	GateChainParity        gateChainParitySpec   `json:"gateChainParity"`
	OperationReachability  operationReachSpec    `json:"operationReachability"`
	OverlayTraceability    overlayTraceSpec      `json:"overlayTraceability"`
	VectorManifestPaths    map[string]string     `json:"vectorManifestPaths"`
}

type scopeNoncontradiction struct {
	InformativeClauses                       []string `json:"informativeClauses"`
	ConditionalCapabilityDocPairsSpecIndex    []string `json:"conditionalCapabilityDocPairsSpecIndex"`
	ConditionalCapabilityDocPairsInformative  []string `json:"conditionalCapabilityDocPairsInformative"`
	ProfileOverlayClaimsRegistry              []string `json:"profileOverlayClaimsRegistry"`
	ProfileOverlayClaimsConformance           []string `json:"profileOverlayClaimsConformance"`
	BidirObligationsSpec                      []string `json:"bidirObligationsSpec"`
	BidirObligationsCheckerRegistry           []string `json:"bidirObligationsCheckerRegistry"`
	BidirObligationsRequiredList              []string `json:"bidirObligationsRequiredList"`
}

type capabilityParitySpec struct {
	ExecutablePath      string `json:"executableCapabilitiesPath"`
	ManifestPath        string `json:"manifestCapabilitiesPath"`
	ReadmePath          string `json:"readmePath"`
	ReadmeHeading       string `json:"readmeHeading"`
	ConformancePath     string `json:"conformancePath"`
	ConformanceHeading  string `json:"conformanceHeading"`
}

type gateChainParitySpec struct {
	TaskRunnerTOMLPath       string `json:"taskRunnerTomlPath"`
	CIClosureDocPath         string `json:"ciClosureDocPath"`
	ControlPlaneContractPath string `json:"controlPlaneContractPath"`
}

type operationReachSpec struct {
	SiteGraphPath              string `json:"siteGraphPath"`
	ExpectedOperationNodesPath string `json:"expectedOperationNodesPath"`
}

type overlayTraceSpec struct {
	DeclaredOverlayDocsPath string `json:"declaredOverlayDocsPath"`
	SpecIndexPath           string `json:"specIndexPath"`
	ProfileReadmePath       string `json:"profileReadmePath"`
}

type capabilityListDoc struct {
	Capabilities []string `json:"capabilities"`
}

type siteGraphDoc struct {
	Root           string              `json:"root"`
	Edges          map[string][]string `json:"edges"`
	CoverPartEdges map[string][]string `json:"coverPartEdges"`
}

type operationNodeEntry struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type ciClosureDoc struct {
	BaselineTasks []string `json:"baselineTasks"`
	ProjectedSet  []string `json:"projectedSet"`
}

type controlPlaneContractDoc struct {
	SchemaLifecycle struct {
		Stages         []string `json:"stages"`
		ExpectedStages []string `json:"expectedStages"`
	} `json:"schemaLifecycle"`
	EvidenceStage1 struct {
		ParitySet           []string `json:"paritySet"`
		ExpectedParitySet    []string `json:"expectedParitySet"`
		RollbackSet          []string `json:"rollbackSet"`
		ExpectedRollbackSet  []string `json:"expectedRollbackSet"`
	} `json:"evidenceStage1"`
	EvidenceStage2 struct {
		AliasRole                  string   `json:"aliasRole"`
		ActiveEpoch                int      `json:"activeEpoch"`
		SupportUntilEpoch          int      `json:"supportUntilEpoch"`
		RolloverEpoch              int      `json:"rolloverEpoch"`
		KernelObligations          []string `json:"kernelObligations"`
		CanonicalKernelObligations []string `json:"canonicalKernelObligations"`
	} `json:"evidenceStage2"`
	EvidenceFactorization struct {
		Routes        []string `json:"routes"`
		PullbackRoute string   `json:"pullbackRoute"`
	} `json:"evidenceFactorization"`
	LaneRegistry struct {
		Lanes                      []string `json:"lanes"`
		CheckerCoreOnlyObligations []string `json:"checkerCoreOnlyObligations"`
		CwfObligations             []string `json:"cwfObligations"`
	} `json:"laneRegistry"`
	WorkerLaneAuthority struct {
		DefaultMode                string            `json:"defaultMode"`
		AllowedModes                []string          `json:"allowedModes"`
		RouteCapabilities           map[string]string `json:"routeCapabilities"`
		CanonicalRouteCapabilities  map[string]string `json:"canonicalRouteCapabilities"`
		ActiveEpoch                 int               `json:"activeEpoch"`
		Overrides                  []struct {
			Epoch int `json:"epoch"`
		} `json:"overrides"`
	} `json:"workerLaneAuthority"`
}

type caseArtifact struct {
	Result         string   `json:"result"`
	FailureClasses []string `json:"failureClasses"`
}

// Load reads the coherence contract document at contractPath (resolved
// against repoRoot when relative), together with every repository
// surface it names, and assembles the Contract Evaluate consumes:
// capability sets from the manifest/README/conformance doc, baseline
// and projected task sets from the task-runner TOML and CI-closure doc,
// the control-plane contract's gate-chain fields, the doctrine site
// graph and expected-operation on-disk check, overlay-doc presence and
// cross-referencing, and every vector obligation's manifest plus each
// vector case's re-derived result from its case artifact.
func Load(fs afero.Fs, repoRoot, contractPath string) (Contract, error) {
	cf, err := readJSON[contractFile](fs, resolvePath(repoRoot, contractPath))
	if err != nil {
		return Contract{}, kerrors.Wrap(kerrors.CoherenceContractLoadIO, err)
	}

	c := Contract{
		InformativeClausesPresent: len(cf.ScopeNoncontradiction.InformativeClauses) > 0,
		ConditionalCapabilityDocPairsOK: stringSetEqual(
			cf.ScopeNoncontradiction.ConditionalCapabilityDocPairsSpecIndex,
			cf.ScopeNoncontradiction.ConditionalCapabilityDocPairsInformative,
		),
		ProfileOverlayClaimsMatch: stringSetEqual(
			cf.ScopeNoncontradiction.ProfileOverlayClaimsRegistry,
			cf.ScopeNoncontradiction.ProfileOverlayClaimsConformance,
		),
		BidirObligationParity: stringSetEqual(
			cf.ScopeNoncontradiction.BidirObligationsSpec,
			cf.ScopeNoncontradiction.BidirObligationsCheckerRegistry,
		) && stringSetEqual(
			cf.ScopeNoncontradiction.BidirObligationsSpec,
			cf.ScopeNoncontradiction.BidirObligationsRequiredList,
		),
	}

	if err := loadCapabilityParity(fs, repoRoot, cf.CapabilityParity, &c); err != nil {
		return Contract{}, err
	}
	if err := loadGateChainParity(fs, repoRoot, cf.GateChainParity, &c); err != nil {
		return Contract{}, err
	}
	if err := loadOperationReachability(fs, repoRoot, cf.OperationReachability, &c); err != nil {
		return Contract{}, err
	}
	if err := loadOverlayTraceability(fs, repoRoot, cf.OverlayTraceability, &c); err != nil {
		return Contract{}, err
	}
	if err := loadVectorManifests(fs, repoRoot, cf.VectorManifestPaths, &c); err != nil {
		return Contract{}, err
	}
	return c, nil
}

func loadCapabilityParity(fs afero.Fs, repoRoot string, spec capabilityParitySpec, c *Contract) error {
	executable, err := readJSON[capabilityListDoc](fs, resolvePath(repoRoot, spec.ExecutablePath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	manifest, err := readJSON[capabilityListDoc](fs, resolvePath(repoRoot, spec.ManifestPath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	readme, err := readMarkdownBullets(fs, resolvePath(repoRoot, spec.ReadmePath), spec.ReadmeHeading)
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	conformance, err := readMarkdownBullets(fs, resolvePath(repoRoot, spec.ConformancePath), spec.ConformanceHeading)
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	c.ExecutableCapabilities = executable.Capabilities
	c.ManifestCapabilities = manifest.Capabilities
	c.ReadmeCapabilities = readme
	c.ConformanceCapabilities = conformance
	return nil
}

func loadGateChainParity(fs afero.Fs, repoRoot string, spec gateChainParitySpec, c *Contract) error {
	tasks, err := readTaskRunnerTaskNames(fs, resolvePath(repoRoot, spec.TaskRunnerTOMLPath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	closure, err := readJSON[ciClosureDoc](fs, resolvePath(repoRoot, spec.CIClosureDocPath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	plane, err := readJSON[controlPlaneContractDoc](fs, resolvePath(repoRoot, spec.ControlPlaneContractPath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}

	c.BaselineTasksFromRunner = tasks
	c.BaselineTasksFromCIDoc = closure.BaselineTasks
	// The projected check order is, by construction, the fixed
	// evaluation order this package runs obligations in.
	c.ProjectedCheckOrder = append([]string(nil), ObligationOrder...)
	c.ProjectedSetInDoc = closure.ProjectedSet
	c.GateChainContract = deriveGateChainContract(plane)
	return nil
}

func deriveGateChainContract(p controlPlaneContractDoc) GateChainContract {
	evStage2OK := p.EvidenceStage2.AliasRole == "projection_only" &&
		p.EvidenceStage2.ActiveEpoch <= p.EvidenceStage2.SupportUntilEpoch &&
		p.EvidenceStage2.SupportUntilEpoch <= p.EvidenceStage2.RolloverEpoch &&
		stringSetEqual(p.EvidenceStage2.KernelObligations, p.EvidenceStage2.CanonicalKernelObligations)

	evFactorizationOK := len(p.EvidenceFactorization.Routes) == 1 &&
		p.EvidenceFactorization.PullbackRoute == "span_square_commutation"

	laneRegistryOK := len(p.LaneRegistry.Lanes) == 4 && !hasDuplicate(p.LaneRegistry.Lanes) &&
		stringSetEqual(p.LaneRegistry.CheckerCoreOnlyObligations, p.LaneRegistry.CwfObligations)

	workerLaneOK := p.WorkerLaneAuthority.DefaultMode == "instruction-linked" &&
		contains(p.WorkerLaneAuthority.AllowedModes, "instruction-linked") &&
		contains(p.WorkerLaneAuthority.AllowedModes, "human-override") &&
		routeCapabilitiesMatch(p.WorkerLaneAuthority.RouteCapabilities, p.WorkerLaneAuthority.CanonicalRouteCapabilities) &&
		overridesWithinRunway(p.WorkerLaneAuthority.Overrides, p.WorkerLaneAuthority.ActiveEpoch, 12)

	return GateChainContract{
		SchemaLifecycleOK:         stringSetEqual(p.SchemaLifecycle.Stages, p.SchemaLifecycle.ExpectedStages),
		EvidenceStage1ParityOK:    stringSetEqual(p.EvidenceStage1.ParitySet, p.EvidenceStage1.ExpectedParitySet),
		EvidenceStage1RollbackOK: stringSetEqual(p.EvidenceStage1.RollbackSet, p.EvidenceStage1.ExpectedRollbackSet),
		EvidenceStage2AuthorityOK: evStage2OK,
		EvidenceFactorizationOK:   evFactorizationOK,
		LaneRegistryOK:            laneRegistryOK,
		WorkerLaneAuthorityOK:     workerLaneOK,
	}
}

func routeCapabilitiesMatch(actual, canonical map[string]string) bool {
	if len(actual) != len(canonical) {
		return false
	}
	for route, wantCapability := range canonical {
		if actual[route] != wantCapability {
			return false
		}
	}
	return true
}

func overridesWithinRunway(overrides []struct {
	Epoch int `json:"epoch"`
}, activeEpoch, runwayMonths int) bool {
	for _, o := range overrides {
		diff := o.Epoch - activeEpoch
		if diff < 0 {
			diff = -diff
		}
		if diff > runwayMonths {
			return false
		}
	}
	return true
}

func hasDuplicate(items []string) bool {
	seen := make(map[string]bool, len(items))
	for _, i := range items {
		if seen[i] {
			return true
		}
		seen[i] = true
	}
	return false
}

func loadOperationReachability(fs afero.Fs, repoRoot string, spec operationReachSpec, c *Contract) error {
	graph, err := readJSON[siteGraphDoc](fs, resolvePath(repoRoot, spec.SiteGraphPath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	entries, err := readJSON[[]operationNodeEntry](fs, resolvePath(repoRoot, spec.ExpectedOperationNodesPath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}

	c.SiteEdges = graph.Edges
	c.CoverPartEdges = graph.CoverPartEdges
	c.DeclaredRoot = graph.Root
	c.ExpectedOperationNodes = make([]string, 0, len(entries))
	c.OperationNodeOnDisk = make(map[string]bool, len(entries))
	for _, e := range entries {
		c.ExpectedOperationNodes = append(c.ExpectedOperationNodes, e.ID)
		c.OperationNodeOnDisk[e.ID] = fileExists(fs, resolvePath(repoRoot, e.Path))
	}
	return nil
}

func loadOverlayTraceability(fs afero.Fs, repoRoot string, spec overlayTraceSpec, c *Contract) error {
	var docs []string
	if spec.DeclaredOverlayDocsPath != "" {
		var err error
		docs, err = readJSON[[]string](fs, resolvePath(repoRoot, spec.DeclaredOverlayDocsPath))
		if err != nil {
			return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
		}
	}
	specIndex, err := readFileText(fs, resolvePath(repoRoot, spec.SpecIndexPath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}
	profileReadme, err := readFileText(fs, resolvePath(repoRoot, spec.ProfileReadmePath))
	if err != nil {
		return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
	}

	c.DeclaredOverlayDocs = docs
	c.OverlayDocsOnDisk = make(map[string]bool, len(docs))
	c.OverlaysInSpecIndex = nil
	c.OverlaysInProfileReadme = nil
	for _, doc := range docs {
		c.OverlayDocsOnDisk[doc] = fileExists(fs, resolvePath(repoRoot, doc))
		if strings.Contains(specIndex, doc) {
			c.OverlaysInSpecIndex = append(c.OverlaysInSpecIndex, doc)
		}
		if strings.Contains(profileReadme, doc) {
			c.OverlaysInProfileReadme = append(c.OverlaysInProfileReadme, doc)
		}
	}
	return nil
}

func loadVectorManifests(fs afero.Fs, repoRoot string, paths map[string]string, c *Contract) error {
	manifests := make(map[string]VectorManifest, len(paths))
	for obligation, path := range paths {
		manifest, err := readJSON[VectorManifest](fs, resolvePath(repoRoot, path))
		if err != nil {
			return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
		}
		for i, v := range manifest.Vectors {
			if v.CasePath == "" {
				continue
			}
			artifact, err := readJSON[caseArtifact](fs, resolvePath(repoRoot, v.CasePath))
			if err != nil {
				return kerrors.Wrap(kerrors.CoherenceSurfaceLoadIO, err)
			}
			manifest.Vectors[i].Derived = artifact.Result
			manifest.Vectors[i].DerivedFailures = artifact.FailureClasses
		}
		manifests[obligation] = manifest
	}
	c.VectorManifests = manifests
	return nil
}

func resolvePath(repoRoot, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repoRoot, p)
}

func fileExists(fs afero.Fs, path string) bool {
	if path == "" {
		return false
	}
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}

func readFileText(fs afero.Fs, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func readJSON[T any](fs afero.Fs, path string) (T, error) {
	var out T
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return out, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parsing %s: %w", path, err)
	}
	return out, nil
}

func readTaskRunnerTaskNames(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc map[string]any
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	tasks, _ := doc["tasks"].(map[string]any)
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

var markdownBullet = regexp.MustCompile("^[-*]\\s+`?([a-zA-Z0-9_.:-]+)`?")

// readMarkdownBullets scans a markdown document for bullet items under
// the named heading (matched case-insensitively, ignoring leading `#`s)
// and returns the bulleted tokens, e.g. a "## Capabilities" section
// listing one capability id per line.
func readMarkdownBullets(fs afero.Fs, path, heading string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var caps []string
	inSection := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			inSection = strings.EqualFold(title, heading)
			continue
		}
		if !inSection {
			continue
		}
		if m := markdownBullet.FindStringSubmatch(trimmed); m != nil {
			caps = append(caps, m[1])
		}
	}
	return caps, nil
}
