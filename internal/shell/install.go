// Package shell handles shell plugin installation and failure log reading.
// The plugin records commands that exit non-zero so they can be attached to
// bug reports as reproduction context.
package shell

import (
	"fmt"
	"os"
	"path/filepath"
)

// PluginPath returns where the failure-logging hook for the given shell is
// written.
func PluginPath(shell string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	name := "bugrelay.plugin." + shell
	return filepath.Join(home, ".config", "bugrelay", name), nil
}

// Install writes the failure-logging hook for the given shell and returns
// the plugin path plus the line to add to the shell's rc file. The hook
// feeds the failure log that ReadFailureLog attaches to bug reports.
func Install(shell string) (path, sourceLine string, err error) {
	path, err = PluginPath(shell)
	if err != nil {
		return "", "", err
	}
	content, ok := pluginSource(shell)
	if !ok {
		return "", "", fmt.Errorf("unsupported shell for plugin: %s (supported: zsh, bash)", shell)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", "", fmt.Errorf("writing plugin file: %w", err)
	}
	return path, "source " + path, nil
}

func pluginSource(shell string) (string, bool) {
	switch shell {
	case "zsh":
		return ZshPlugin, true
	case "bash":
		return BashPlugin, true
	}
	return "", false
}

// IsInstalled reports whether the hook file exists on disk.
func IsInstalled(shell string) bool {
	path, err := PluginPath(shell)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// RCFile returns the conventional rc file for the shell, for display.
func RCFile(shell string) string {
	switch shell {
	case "zsh":
		return "~/.zshrc"
	case "bash":
		return "~/.bashrc"
	default:
		return "~/." + shell + "rc"
	}
}
