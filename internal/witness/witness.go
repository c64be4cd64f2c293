package witness

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/premath-kernel/issuekernel/internal/types"
)

// MetadataKey is the reserved issue-metadata key every write witness is
// attached under.
const MetadataKey = "premathWriteWitness"

// LegacyMetadataKey preserves whatever non-object value previously
// occupied an issue's metadata field when a witness is attached to it.
const LegacyMetadataKey = "legacyMetadata"

// Params describes the context a write witness is built from.
type Params struct {
	Now            time.Time
	Action         string
	IssueID        string
	IssuesPath     string
	RepoRoot       string
	MutationPolicy string
	QueryBackend   string
	// Instruction, when non-nil, is embedded verbatim under "instruction" —
	// callers pass the already-rendered JSON view of the resolved
	// instruction witness link, or nil when the mutation was unlinked.
	Instruction any
}

// Build constructs the witness document for a single mutation, including
// a best-effort jj snapshot of repoRoot obtained through provider.
func Build(p Params, provider SnapshotProvider) map[string]any {
	witnessID := fmt.Sprintf("bdw1_%d", p.Now.UnixNano())

	var jjSnapshot any
	if provider != nil {
		if snap, ok := provider.Snapshot(p.RepoRoot); ok {
			jjSnapshot = map[string]any{
				"repoRoot": snap.RepoRoot,
				"changeId": snap.ChangeID,
				"status":   snap.Status,
			}
		}
	}

	return map[string]any{
		"schema":           1,
		"witnessKind":      "bd.issue.write.v1",
		"witnessId":        witnessID,
		"action":           p.Action,
		"issueId":          p.IssueID,
		"issuesPath":       p.IssuesPath,
		"recordedAtUnixMs": p.Now.UnixNano() / int64(time.Millisecond),
		"repoRoot":         p.RepoRoot,
		"mutationPolicy":   p.MutationPolicy,
		"queryBackend":     p.QueryBackend,
		"instruction":      p.Instruction,
		"jjSnapshot":       jjSnapshot,
	}
}

// Attach merges witness into issue's metadata under MetadataKey. If the
// issue's existing metadata is not a JSON object, it is preserved under
// LegacyMetadataKey rather than discarded.
func Attach(issue *types.Issue, witnessDoc map[string]any) error {
	metadata := map[string]any{}

	if len(issue.Metadata) > 0 {
		var asObject map[string]any
		if err := json.Unmarshal(issue.Metadata, &asObject); err == nil && asObject != nil {
			metadata = asObject
		} else {
			var legacy any
			if err := json.Unmarshal(issue.Metadata, &legacy); err != nil {
				return fmt.Errorf("witness: failed to parse existing issue metadata: %w", err)
			}
			metadata[LegacyMetadataKey] = legacy
		}
	}

	metadata[MetadataKey] = witnessDoc

	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("witness: failed to marshal issue metadata: %w", err)
	}
	issue.Metadata = raw
	return nil
}
