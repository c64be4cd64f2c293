// Package witness builds and attaches the write witness every successful
// mutation embeds in an issue's metadata, including a best-effort
// snapshot of the enclosing Jujutsu (jj) working copy when one is
// present.
package witness

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"strings"
)

// JjSnapshot captures a jj workspace's identity at a point in time.
type JjSnapshot struct {
	RepoRoot string `json:"repoRoot"`
	ChangeID string `json:"changeId"`
	Status   string `json:"status"`
}

// SnapshotProvider resolves a best-effort jj snapshot for repoRoot. It
// never returns an error: callers that can't find jj, or whose repoRoot
// isn't a jj workspace, simply omit the snapshot from the write witness.
type SnapshotProvider interface {
	Snapshot(repoRoot string) (JjSnapshot, bool)
}

// shellJjProvider shells out to the jj CLI: `jj root` to discover the
// workspace, then `jj log`/`jj status` scoped to that root.
type shellJjProvider struct{}

// DefaultProvider shells out to the `jj` binary on PATH.
func DefaultProvider() SnapshotProvider { return shellJjProvider{} }

func (shellJjProvider) Snapshot(repoRoot string) (JjSnapshot, bool) {
	root, ok := runJJ(repoRoot, "root")
	if !ok {
		return JjSnapshot{}, false
	}
	root = firstNonEmptyLine(root)
	if root == "" {
		return JjSnapshot{}, false
	}
	root = filepath.Clean(root)

	changeIDRaw, ok := runJJ(root, "log", "-r", "@", "--no-graph", "-T", `change_id ++ "\n"`)
	if !ok {
		return JjSnapshot{}, false
	}
	changeID := firstNonEmptyLine(changeIDRaw)
	if changeID == "" {
		return JjSnapshot{}, false
	}

	status, ok := runJJ(root, "status")
	if !ok {
		return JjSnapshot{}, false
	}

	return JjSnapshot{RepoRoot: root, ChangeID: changeID, Status: status}, true
}

func runJJ(cwd string, args ...string) (string, bool) {
	cmd := exec.Command("jj", args...)
	cmd.Dir = cwd
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", false
	}
	return stdout.String(), true
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
