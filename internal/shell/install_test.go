package shell

import (
	"os"
	"strings"
	"testing"
)

func TestInstallWritesHook(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if IsInstalled("zsh") {
		t.Fatal("hook reported installed before Install")
	}

	path, sourceLine, err := Install("zsh")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if sourceLine != "source "+path {
		t.Errorf("sourceLine = %q", sourceLine)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading hook: %v", err)
	}
	// The hook must append to the failure log the report flow reads.
	if !strings.Contains(string(data), "failures.log") {
		t.Error("hook does not write the failure log")
	}
	if !IsInstalled("zsh") {
		t.Error("hook not reported installed after Install")
	}
}

func TestInstallRejectsUnknownShell(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, _, err := Install("fish"); err == nil {
		t.Fatal("expected error for unsupported shell")
	}
}
