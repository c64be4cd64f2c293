//go:build scripttests

package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

// TestScripts runs the golden-transcript scripts under testdata/*.txt
// against a real premath binary: each script is a sequence of premath
// invocations and expected stdout fragments, run end to end against a
// real temp directory rather than in-process against the internal
// packages directly.
func TestScripts(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("scripttest scripts use sh -c, skipping on Windows")
	}

	binDir := t.TempDir()
	exe := filepath.Join(binDir, "premath")
	build := exec.Command("go", "build", "-o", exe, ".")
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("building premath: %v\n%s", err, out)
	}

	timeout := 10 * time.Second
	engine := script.NewEngine()
	engine.Cmds["premath"] = script.Program(exe, nil, timeout)

	env := []string{"PATH=" + binDir + ":" + os.Getenv("PATH")}
	scripttest.Test(t, context.Background(), engine, env, "testdata/*.txt")
}
