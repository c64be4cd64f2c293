// Package projection implements the optional secondary read cache over
// an issuestore.Store: a flat JSON document that downstream read tools
// may consult instead of re-parsing the authority, refreshed whenever it
// drifts from the authority's snapshot ref.
//
// The backend name "surreal" is inherited from the product this system
// was distilled from, where the secondary index lived in SurrealDB. No
// SurrealDB driver is wired here: the payload this package reads and
// writes is a flat JSON document, not a database connection, and an
// actual SurrealDB client would have nothing to talk to.
package projection

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/premath-kernel/issuekernel/internal/issuestore"
)

// Backend selects whether queries are ever allowed to consult the cache.
type Backend string

const (
	// BackendJSONL means every query reads the authority directly; no
	// cache file is consulted or written.
	BackendJSONL Backend = "jsonl"
	// BackendSurreal means queries prefer the cache file, falling back
	// to the authority and refreshing the cache whenever it's stale.
	BackendSurreal Backend = "surreal"
)

// PayloadKind is the literal "kind" discriminator carried inside the
// cache document.
const PayloadKind = "premath.surreal.issue_projection.v0"

// IssueRow is one issue's projected fields inside a Payload.
type IssueRow struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Status    string      `json:"status"`
	Priority  int         `json:"priority"`
	IssueType string      `json:"issueType"`
	Assignee  string      `json:"assignee"`
	Owner     string      `json:"owner"`
	UpdatedAt string      `json:"updatedAt"`
}

// Payload is the on-disk shape of the projection cache document.
type Payload struct {
	Schema            int        `json:"schema"`
	Kind              string     `json:"kind"`
	SourceIssuesPath  string     `json:"sourceIssuesPath"`
	SourceSnapshotRef string     `json:"sourceSnapshotRef"`
	GeneratedAtUnixMs int64      `json:"generatedAtUnixMs"`
	IssueCount        int        `json:"issueCount"`
	Issues            []IssueRow `json:"issues"`
}

// BuildPayload projects store into the cache document shape, stamped
// against issuesPath and nowUnixMs.
func BuildPayload(store *issuestore.Store, issuesPath string, nowUnixMs int64) Payload {
	issues := store.Issues()
	rows := make([]IssueRow, 0, len(issues))
	for _, issue := range issues {
		rows = append(rows, IssueRow{
			ID: issue.ID, Title: issue.Title, Status: string(issue.Status),
			Priority: issue.Priority, IssueType: string(issue.IssueType),
			Assignee: issue.Assignee, Owner: issue.Owner,
			UpdatedAt: issue.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return Payload{
		Schema: 1, Kind: PayloadKind, SourceIssuesPath: issuesPath,
		SourceSnapshotRef: store.SnapshotRef(), GeneratedAtUnixMs: nowUnixMs,
		IssueCount: len(rows), Issues: rows,
	}
}

// Status is the decoded freshness verdict for the query backend, the
// shape surfaced to callers that need to know whether they read the
// cache or fell back to the authority.
type Status struct {
	State                  string `json:"state"` // "fresh" | "stale" | "absent" (absent also covers an unparsable cache file)
	SnapshotRefMatchesAuthority bool `json:"snapshotRefMatchesAuthority"`
}

// Cache manages one projection cache file for one authority issuesPath.
// Its in-memory "last known fresh" hint, written by Refresh and cleared by
// an optional fsnotify watcher, is guarded by a mutex; IsFresh takes no
// lock and reads only the disk.
type Cache struct {
	fs         afero.Fs
	cachePath  string
	issuesPath string
	backend    Backend

	mu            sync.Mutex
	lastFreshRef  string
	watcherActive bool
	watcher       *fsnotify.Watcher
}

// New constructs a Cache. backend controls whether IsFresh and Refresh
// ever touch the cache file; with BackendJSONL IsFresh always reports
// fresh and Refresh writes nothing. ReadPayload reads the file under
// either backend.
func New(fs afero.Fs, cachePath, issuesPath string, backend Backend) *Cache {
	return &Cache{fs: fs, cachePath: cachePath, issuesPath: issuesPath, backend: backend}
}

// ReadPayload decodes the cache file, returning (nil, false) if it's
// absent or fails to parse. A parse failure is advisory, never an error:
// callers fall back to rebuilding from the authority.
func (c *Cache) ReadPayload() (*Payload, bool) {
	raw, err := afero.ReadFile(c.fs, c.cachePath)
	if err != nil {
		return nil, false
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &p, true
}

// IsFresh re-derives freshness from disk: the cache must exist, decode,
// name the same sourceIssuesPath, and carry a sourceSnapshotRef equal to
// the authority's current snapshot ref. The in-memory watcher hint never
// substitutes for this: it is exposed only through HasFreshHint, and
// IsFresh itself always checks disk.
func (c *Cache) IsFresh(store *issuestore.Store) Status {
	if c.backend != BackendSurreal {
		return Status{State: "fresh", SnapshotRefMatchesAuthority: true}
	}
	payload, ok := c.ReadPayload()
	if !ok {
		return Status{State: "absent"}
	}
	if payload.SourceIssuesPath != c.issuesPath {
		return Status{State: "stale"}
	}
	authorityRef := store.SnapshotRef()
	if payload.SourceSnapshotRef == "" || payload.SourceSnapshotRef != authorityRef {
		return Status{State: "stale"}
	}
	return Status{State: "fresh", SnapshotRefMatchesAuthority: true}
}

// Refresh unconditionally rewrites the cache file from store (nothing
// under BackendJSONL) and records the written snapshot ref as the fresh
// hint. It takes no lock on the authority, and the mutation guard does
// not call it after a commit.
func (c *Cache) Refresh(store *issuestore.Store, nowUnixMs int64) error {
	if c.backend != BackendSurreal {
		return nil
	}
	payload := BuildPayload(store, c.issuesPath, nowUnixMs)
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := afero.WriteFile(c.fs, c.cachePath, raw, 0o644); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastFreshRef = payload.SourceSnapshotRef
	c.mu.Unlock()
	return nil
}

// RefreshIfStale loads the cache, and rewrites it from store only when
// IsFresh reports anything other than "fresh".
func (c *Cache) RefreshIfStale(store *issuestore.Store, nowUnixMs int64) (Status, error) {
	status := c.IsFresh(store)
	if status.State == "fresh" {
		return status, nil
	}
	if err := c.Refresh(store, nowUnixMs); err != nil {
		return status, err
	}
	return Status{State: "fresh", SnapshotRefMatchesAuthority: true}, nil
}

// WatchAuthority starts a best-effort fsnotify watch on the authority
// file so a long-lived process (an MCP server serving many tool calls)
// can invalidate its in-memory "last known fresh" hint as soon as
// something else mutates the file, instead of waiting for the next
// query to notice via IsFresh's disk read. It never returns an error to
// the caller for inability to watch: hosts without inotify (or any
// other fsnotify backend) simply never benefit from the hint, and
// IsFresh's disk-truth check still behaves correctly without it.
func (c *Cache) WatchAuthority(authorityPath string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	if err := w.Add(authorityPath); err != nil {
		w.Close()
		return
	}
	c.mu.Lock()
	c.watcher = w
	c.watcherActive = true
	c.mu.Unlock()
	go func() {
		for range w.Events {
			c.mu.Lock()
			c.lastFreshRef = ""
			c.mu.Unlock()
		}
	}()
}

// Close stops the fsnotify watcher, if one was started.
func (c *Cache) Close() error {
	c.mu.Lock()
	w := c.watcher
	c.watcherActive = false
	c.watcher = nil
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

// HasFreshHint reports the in-memory "last known fresh" flag set by the
// most recent Refresh and not yet invalidated by WatchAuthority. It is
// purely an optimization hint for callers deciding whether to skip a
// disk stat; IsFresh is always the source of truth.
func (c *Cache) HasFreshHint(store *issuestore.Store) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFreshRef != "" && c.lastFreshRef == store.SnapshotRef()
}
