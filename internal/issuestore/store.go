// Package issuestore implements the ordered, deduplicated issue + edge
// collection and its JSONL persistence. Storage I/O goes through an
// injected afero.Fs so the store can be exercised against an in-memory
// filesystem in tests and against the real disk in production.
package issuestore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/premath-kernel/issuekernel/internal/kerrors"
	"github.com/premath-kernel/issuekernel/internal/semdigest"
	"github.com/premath-kernel/issuekernel/internal/types"
)

// Scope selects which edges participate in cycle detection.
type Scope int

const (
	// ScopeActive excludes closed issues and discovered-from edges.
	ScopeActive Scope = iota
	// ScopeFull includes every issue and edge.
	ScopeFull
)

// Store is an in-memory mapping from issue id to Issue, insertion-order
// preserved, plus the dependency edge set.
type Store struct {
	order []string
	byID  map[string]*types.Issue
	deps  []types.Dependency
	// reverse indexes dependsOnId -> issue ids that depend on it.
	reverse map[string][]int
}

// New returns an empty store.
func New() *Store {
	return &Store{byID: make(map[string]*types.Issue), reverse: make(map[string][]int)}
}

// Issue returns the issue with id, or nil if absent.
func (s *Store) Issue(id string) *types.Issue {
	return s.byID[id]
}

// IssueMut returns a mutable pointer to the issue with id, or nil. Callers
// inside a mutation-guard transform mutate this pointer directly.
func (s *Store) IssueMut(id string) *types.Issue {
	return s.byID[id]
}

// Issues returns every issue in insertion order.
func (s *Store) Issues() []*types.Issue {
	out := make([]*types.Issue, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// UpsertIssue inserts issue, or replaces the existing entry in place
// (preserving its position in insertion order) if an issue with the same
// id already exists.
func (s *Store) UpsertIssue(issue *types.Issue) {
	if _, exists := s.byID[issue.ID]; !exists {
		s.order = append(s.order, issue.ID)
	}
	s.byID[issue.ID] = issue
}

// Len returns the number of issues in the store.
func (s *Store) Len() int { return len(s.order) }

// Dependencies returns every dependency edge, in insertion order.
func (s *Store) Dependencies() []types.Dependency {
	out := make([]types.Dependency, len(s.deps))
	copy(out, s.deps)
	return out
}

// BlockingDependenciesOf returns the dependency edges from issue id whose
// type participates in blocking/readiness computation.
func (s *Store) BlockingDependenciesOf(id string) []types.Dependency {
	var out []types.Dependency
	for _, d := range s.deps {
		if d.IssueID == id && types.IsBlockingDepType(d.Type) {
			out = append(out, d)
		}
	}
	return out
}

// DependenciesOf returns every dependency edge originating from issue id,
// regardless of type.
func (s *Store) DependenciesOf(id string) []types.Dependency {
	var out []types.Dependency
	for _, d := range s.deps {
		if d.IssueID == id {
			out = append(out, d)
		}
	}
	return out
}

// DependentsOf returns every dependency edge pointing at dependsOnID, via
// the reverse index.
func (s *Store) DependentsOf(dependsOnID string) []types.Dependency {
	var out []types.Dependency
	for _, idx := range s.reverse[dependsOnID] {
		out = append(out, s.deps[idx])
	}
	return out
}

// AddDependency adds (issueId, dependsOnId, depType, createdBy) idempotently.
// Both issues must already exist. Adding a "blocks" edge that would close a
// cycle in Active scope is rejected with a dependency_cycle diagnostic.
func (s *Store) AddDependency(issueID, dependsOnID string, depType types.DepType, createdBy string) error {
	if s.Issue(issueID) == nil {
		return kerrors.Newf(kerrors.LeaseInvalidPayload, "issue not found: %s", issueID)
	}
	if s.Issue(dependsOnID) == nil {
		return kerrors.Newf(kerrors.LeaseInvalidPayload, "issue not found: %s", dependsOnID)
	}

	for _, d := range s.deps {
		if d.IssueID == issueID && d.DependsOnID == dependsOnID && d.Type == depType {
			return nil // idempotent
		}
	}

	candidate := types.Dependency{IssueID: issueID, DependsOnID: dependsOnID, Type: depType, CreatedBy: createdBy}
	if depType == types.DepBlocks {
		probe := s.cloneDeps()
		probe = append(probe, candidate)
		if cycleExistsAmong(probe, s.byID, ScopeActive) {
			return fmt.Errorf("dependency cycle detected: adding %s blocks %s would close a cycle", issueID, dependsOnID)
		}
	}

	s.appendDependency(candidate)
	return nil
}

func (s *Store) appendDependency(d types.Dependency) {
	idx := len(s.deps)
	s.deps = append(s.deps, d)
	s.reverse[d.DependsOnID] = append(s.reverse[d.DependsOnID], idx)
}

// RemoveDependency removes the first matching edge, if any. Returns
// whether anything changed.
func (s *Store) RemoveDependency(issueID, dependsOnID string, depType types.DepType) bool {
	for i, d := range s.deps {
		if d.IssueID == issueID && d.DependsOnID == dependsOnID && d.Type == depType {
			s.deps = append(s.deps[:i], s.deps[i+1:]...)
			s.rebuildReverseIndex()
			return true
		}
	}
	return false
}

// ReplaceDependency atomically swaps an existing edge's type (or
// createdBy) for a new one with the same endpoints, honoring the same
// cycle check as AddDependency when the new type is "blocks".
func (s *Store) ReplaceDependency(issueID, dependsOnID string, oldType, newType types.DepType, createdBy string) error {
	found := -1
	for i, d := range s.deps {
		if d.IssueID == issueID && d.DependsOnID == dependsOnID && d.Type == oldType {
			found = i
			break
		}
	}
	if found == -1 {
		return kerrors.Newf(kerrors.LeaseInvalidPayload, "dependency not found: %s -> %s (%s)", issueID, dependsOnID, oldType)
	}

	if newType == types.DepBlocks {
		probe := s.cloneDeps()
		probe[found] = types.Dependency{IssueID: issueID, DependsOnID: dependsOnID, Type: newType, CreatedBy: createdBy}
		if cycleExistsAmong(probe, s.byID, ScopeActive) {
			return fmt.Errorf("dependency cycle detected: replacing %s -> %s with blocks would close a cycle", issueID, dependsOnID)
		}
	}

	s.deps[found] = types.Dependency{IssueID: issueID, DependsOnID: dependsOnID, Type: newType, CreatedBy: createdBy}
	s.rebuildReverseIndex()
	return nil
}

func (s *Store) cloneDeps() []types.Dependency {
	out := make([]types.Dependency, len(s.deps))
	copy(out, s.deps)
	return out
}

func (s *Store) rebuildReverseIndex() {
	s.reverse = make(map[string][]int, len(s.deps))
	for i, d := range s.deps {
		s.reverse[d.DependsOnID] = append(s.reverse[d.DependsOnID], i)
	}
}

// Clone returns a deep copy of the store, used by the mutation guard to
// hand a snapshot back to the caller after a transform commits.
func (s *Store) Clone() *Store {
	clone := New()
	for _, id := range s.order {
		clone.UpsertIssue(s.byID[id].Clone())
	}
	clone.deps = s.cloneDeps()
	clone.rebuildReverseIndex()
	return clone
}

// FindAnyDependencyCycleInScope returns one cycle's issue ids (in cycle
// order) if the "blocks" subgraph contains a cycle within scope, or nil if
// acyclic.
func (s *Store) FindAnyDependencyCycleInScope(scope Scope) []string {
	return findCycle(s.deps, s.byID, scope)
}

func cycleExistsAmong(deps []types.Dependency, byID map[string]*types.Issue, scope Scope) bool {
	return findCycle(deps, byID, scope) != nil
}

// findCycle runs iterative DFS (bounded explicit stack, not recursion, so
// stack depth never tracks input size regardless of how large a cycle is)
// over the "blocks" edges restricted to scope, returning the first cycle
// found in issue-id order for determinism.
func findCycle(deps []types.Dependency, byID map[string]*types.Issue, scope Scope) []string {
	adj := make(map[string][]string)
	ids := make([]string, 0, len(byID))
	for id, issue := range byID {
		if scope == ScopeActive && issue.Status == types.StatusClosed {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	inScope := make(map[string]bool, len(ids))
	for _, id := range ids {
		inScope[id] = true
	}

	for _, d := range deps {
		if d.Type != types.DepBlocks {
			continue
		}
		if scope == ScopeActive && d.Type == types.DepDiscoveredFrom {
			continue // unreachable given the Type check above; kept for clarity of scope rule
		}
		if !inScope[d.IssueID] || !inScope[d.DependsOnID] {
			continue
		}
		adj[d.IssueID] = append(adj[d.IssueID], d.DependsOnID)
	}
	for k := range adj {
		sort.Strings(adj[k])
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))

	type frame struct {
		id      string
		nextIdx int
	}

	for _, start := range ids {
		if color[start] != white {
			continue
		}
		stack := []frame{{id: start}}
		path := []string{start}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.nextIdx < len(adj[top.id]) {
				next := adj[top.id][top.nextIdx]
				top.nextIdx++
				switch color[next] {
				case white:
					color[next] = gray
					stack = append(stack, frame{id: next})
					path = append(path, next)
				case gray:
					// found a cycle; trim path to the repeated node
					for i, id := range path {
						if id == next {
							cyc := append([]string{}, path[i:]...)
							cyc = append(cyc, next)
							return cyc
						}
					}
				case black:
					// already fully explored, no cycle through here
				}
				continue
			}
			color[top.id] = black
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}
	return nil
}

// SnapshotRef is a deterministic content hash of the sorted
// (id, monotonic fields) projection, used for projection-cache freshness
// checks.
func (s *Store) SnapshotRef() string {
	type tuple struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Priority  int    `json:"priority"`
		Assignee  string `json:"assignee"`
		UpdatedAt string `json:"updatedAt"`
		Lease     string `json:"lease"`
	}
	tuples := make([]tuple, 0, len(s.order))
	for _, id := range s.order {
		issue := s.byID[id]
		leaseRepr := ""
		if issue.Lease != nil {
			leaseRepr = fmt.Sprintf("%s|%s|%s|%s", issue.Lease.LeaseID, issue.Lease.Owner,
				issue.Lease.AcquiredAt.UTC().Format(time.RFC3339Nano), issue.Lease.ExpiresAt.UTC().Format(time.RFC3339Nano))
		}
		tuples = append(tuples, tuple{
			ID: issue.ID, Status: string(issue.Status), Priority: issue.Priority,
			Assignee: issue.Assignee, UpdatedAt: issue.UpdatedAt.UTC().Format(time.RFC3339Nano),
			Lease: leaseRepr,
		})
	}
	sort.Slice(tuples, func(i, j int) bool { return tuples[i].ID < tuples[j].ID })
	return semdigest.MustDigest(semdigest.PrefixSemantic, tuples)
}

// issueKeyOrder is the deterministic key order used when serializing an
// Issue to a JSONL line, so on-disk diffs stay byte-stable across writes
// regardless of Go map iteration order.
var issueKeyOrder = []string{
	"id", "title", "description", "notes", "status", "priority", "issueType",
	"assignee", "owner", "lease", "metadata", "updatedAt",
}

func marshalIssueOrdered(issue *types.Issue) ([]byte, error) {
	raw, err := json.Marshal(issue)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, key := range issueKeyOrder {
		val, ok := m[key]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		keyBytes, _ := json.Marshal(key)
		buf.Write(keyBytes)
		buf.WriteByte(':')
		buf.Write(val)
		delete(m, key)
	}
	// any unexpected residual key (future struct fields) still gets
	// emitted, sorted, so nothing is silently dropped.
	residual := make([]string, 0, len(m))
	for k := range m {
		residual = append(residual, k)
	}
	sort.Strings(residual)
	for _, k := range residual {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		keyBytes, _ := json.Marshal(k)
		buf.Write(keyBytes)
		buf.WriteByte(':')
		buf.Write(m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Load reads a newline-delimited issue log from fs at path. Empty lines
// are tolerated. A missing file is not an error condition distinguished
// here; callers that require the file to exist should stat it first.
func Load(fs afero.Fs, path string) (*Store, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
	}
	defer f.Close()

	store := New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var issue types.Issue
		if err := json.Unmarshal(line, &issue); err != nil {
			return nil, kerrors.Newf(kerrors.LeaseMutationStoreIO, "failed to parse issue at line %d of %s: %v", lineNum, path, err)
		}
		store.UpsertIssue(&issue)
	}
	if err := scanner.Err(); err != nil {
		return nil, kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
	}
	return store, nil
}

// Exists reports whether path is present on fs.
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// Save serializes store to path atomically: write to a temp file in the
// same directory, then rename over the destination, so readers never
// observe a partial write.
func Save(fs afero.Fs, path string, store *Store) error {
	var buf bytes.Buffer
	for _, issue := range store.Issues() {
		line, err := marshalIssueOrdered(issue)
		if err != nil {
			return kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, buf.Bytes(), 0o644); err != nil {
		return kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
	}
	return nil
}

// Init bootstraps a fresh issue memory at path on fs: creates an empty
// issue log (if absent), its sibling advisory lock file, and the
// artifacts/ciwitness witness directory relative to repoRoot, so the
// very first mutation and the first instruction-witness lookup both
// find the directories they expect instead of erroring on ENOENT.
// Already-present paths are left untouched.
func Init(fs afero.Fs, path, repoRoot string) error {
	if !Exists(fs, path) {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
			}
		}
		if err := Save(fs, path, New()); err != nil {
			return err
		}
	}

	lockPath := path + ".lock"
	if !Exists(fs, lockPath) {
		if err := afero.WriteFile(fs, lockPath, nil, 0o644); err != nil {
			return kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
		}
	}

	witnessDir := filepath.Join(repoRoot, "artifacts", "ciwitness")
	if err := fs.MkdirAll(witnessDir, 0o755); err != nil {
		return kerrors.Wrap(kerrors.LeaseMutationStoreIO, err)
	}
	return nil
}
