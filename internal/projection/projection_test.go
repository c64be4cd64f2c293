package projection

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"

	"github.com/premath-kernel/issuekernel/internal/issuestore"
	"github.com/premath-kernel/issuekernel/internal/types"
)

func buildStore() *issuestore.Store {
	s := issuestore.New()
	s.UpsertIssue(types.NewIssue("b", "B"))
	s.UpsertIssue(types.NewIssue("a", "A"))
	return s
}

func TestBuildPayloadSortsRowsByID(t *testing.T) {
	payload := BuildPayload(buildStore(), "issues.jsonl", 1000)
	if payload.IssueCount != 2 {
		t.Fatalf("IssueCount = %d, want 2", payload.IssueCount)
	}
	if payload.Issues[0].ID != "a" || payload.Issues[1].ID != "b" {
		t.Errorf("rows not sorted by id: %+v", payload.Issues)
	}
	if payload.Kind != PayloadKind {
		t.Errorf("Kind = %q", payload.Kind)
	}
	if payload.SourceSnapshotRef == "" {
		t.Error("expected a non-empty SourceSnapshotRef")
	}
}

func TestIsFreshUnderJSONLBackendIsAlwaysFresh(t *testing.T) {
	c := New(afero.NewMemMapFs(), "cache.json", "issues.jsonl", BackendJSONL)
	status := c.IsFresh(buildStore())
	if status.State != "fresh" {
		t.Errorf("State = %q, want fresh", status.State)
	}
}

func TestIsFreshUnderSurrealBackendAbsentCache(t *testing.T) {
	c := New(afero.NewMemMapFs(), "cache.json", "issues.jsonl", BackendSurreal)
	status := c.IsFresh(buildStore())
	if status.State != "absent" {
		t.Errorf("State = %q, want absent", status.State)
	}
}

func TestRefreshThenIsFreshReportsFresh(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := buildStore()
	c := New(fs, "cache.json", "issues.jsonl", BackendSurreal)
	if err := c.Refresh(store, 1000); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	status := c.IsFresh(store)
	if status.State != "fresh" {
		t.Errorf("State = %q, want fresh", status.State)
	}
}

func TestIsFreshDetectsDriftAfterStoreMutation(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := buildStore()
	c := New(fs, "cache.json", "issues.jsonl", BackendSurreal)
	if err := c.Refresh(store, 1000); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	store.UpsertIssue(types.NewIssue("c", "C"))
	status := c.IsFresh(store)
	if status.State != "stale" {
		t.Errorf("State = %q, want stale after mutation", status.State)
	}
}

func TestIsFreshDetectsMismatchedSourcePath(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := buildStore()
	c := New(fs, "cache.json", "issues.jsonl", BackendSurreal)
	if err := c.Refresh(store, 1000); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	other := New(fs, "cache.json", "other.jsonl", BackendSurreal)
	status := other.IsFresh(store)
	if status.State != "stale" {
		t.Errorf("State = %q, want stale for a mismatched sourceIssuesPath", status.State)
	}
}

func TestReadPayloadReturnsFalseOnUnreadableFile(t *testing.T) {
	c := New(afero.NewMemMapFs(), "cache.json", "issues.jsonl", BackendSurreal)
	_, ok := c.ReadPayload()
	if ok {
		t.Error("expected ReadPayload to report false for a missing cache file")
	}
}

func TestReadPayloadReturnsFalseOnMalformedJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "cache.json", []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(fs, "cache.json", "issues.jsonl", BackendSurreal)
	_, ok := c.ReadPayload()
	if ok {
		t.Error("expected ReadPayload to report false for malformed JSON")
	}
}

func TestRefreshIsNoopUnderJSONLBackend(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(fs, "cache.json", "issues.jsonl", BackendJSONL)
	if err := c.Refresh(buildStore(), 1000); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, ok := c.ReadPayload(); ok {
		t.Error("expected no cache file to be written under the jsonl backend")
	}
}

func TestRefreshIfStaleRebuildsOnlyWhenNeeded(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := buildStore()
	c := New(fs, "cache.json", "issues.jsonl", BackendSurreal)

	status, err := c.RefreshIfStale(store, 1000)
	if err != nil {
		t.Fatalf("RefreshIfStale() error = %v", err)
	}
	if status.State != "fresh" {
		t.Errorf("State = %q, want fresh", status.State)
	}
	payload, ok := c.ReadPayload()
	if !ok {
		t.Fatal("expected a cache file to have been written")
	}
	if payload.GeneratedAtUnixMs != 1000 {
		t.Errorf("GeneratedAtUnixMs = %d, want 1000", payload.GeneratedAtUnixMs)
	}

	status, err = c.RefreshIfStale(store, 2000)
	if err != nil {
		t.Fatalf("RefreshIfStale() error = %v", err)
	}
	if status.State != "fresh" {
		t.Errorf("State = %q, want fresh", status.State)
	}
	payload, _ = c.ReadPayload()
	if payload.GeneratedAtUnixMs != 1000 {
		t.Errorf("expected cache to remain unwritten (stamp 1000) since it was already fresh, got %d", payload.GeneratedAtUnixMs)
	}
}

func TestHasFreshHintTracksLastRefresh(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := buildStore()
	c := New(fs, "cache.json", "issues.jsonl", BackendSurreal)
	if c.HasFreshHint(store) {
		t.Error("expected no fresh hint before any Refresh")
	}
	if err := c.Refresh(store, 1000); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !c.HasFreshHint(store) {
		t.Error("expected a fresh hint immediately after Refresh")
	}
	store.UpsertIssue(types.NewIssue("z", "Z"))
	if c.HasFreshHint(store) {
		t.Error("expected the fresh hint to no longer match after the store mutated")
	}
}

func TestPayloadRoundtripsThroughJSON(t *testing.T) {
	payload := BuildPayload(buildStore(), "issues.jsonl", 42)
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded Payload
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.IssueCount != payload.IssueCount {
		t.Errorf("IssueCount = %d, want %d", decoded.IssueCount, payload.IssueCount)
	}
}
