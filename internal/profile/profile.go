// Package profile manages the user's persistent reporter profile.
// The profile is stored at ~/.config/bugrelay/profile.json and is created
// once via the interactive setup flow, then used to prefill bug reports.
package profile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Profile holds user-level preferences set during first-run setup.
type Profile struct {
	Name             string   `json:"name"`
	Email            string   `json:"email"`              // prefills the report form
	DefaultTags      []string `json:"default_tags"`       // attached to every report
	ReportShellFails bool     `json:"report_shell_fails"` // install shell failure hook
	Shell            string   `json:"shell"`              // "zsh" | "bash" | ""
}

// profilePath returns the path to the profile file.
func profilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bugrelay", "profile.json"), nil
}

// ConfigDir returns the bugrelay config directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bugrelay"), nil
}

// Exists reports whether a profile file is present on disk.
func Exists() bool {
	p, err := profilePath()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the profile from disk. Returns an error if the file is missing or malformed.
func Load() (*Profile, error) {
	p, err := profilePath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("profile not found — run 'bugrelay setup' to configure: %w", err)
	}
	var prof Profile
	if err := json.Unmarshal(data, &prof); err != nil {
		return nil, fmt.Errorf("malformed profile at %s: %w", p, err)
	}
	return &prof, nil
}

// Save writes the profile to disk, creating the config directory if needed.
func Save(prof *Profile) error {
	p, err := profilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(prof, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// RunSetup runs the interactive setup wizard and saves the resulting profile.
// If existing is non-nil, it is used as the default for each prompt (edit mode).
func RunSetup(existing *Profile) (*Profile, error) {
	r := bufio.NewReader(os.Stdin)

	ask := func(prompt, defaultVal string) (string, error) {
		if defaultVal != "" {
			fmt.Printf("%s [%s]: ", prompt, defaultVal)
		} else {
			fmt.Printf("%s: ", prompt)
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return defaultVal, nil
		}
		return line, nil
	}

	askBool := func(prompt string, defaultVal bool) (bool, error) {
		def := "n"
		if defaultVal {
			def = "y"
		}
		ans, err := ask(prompt+" (y/n)", def)
		if err != nil {
			return false, err
		}
		return strings.ToLower(ans) == "y" || strings.ToLower(ans) == "yes", nil
	}

	prof := &Profile{
		ReportShellFails: false,
	}
	if existing != nil {
		*prof = *existing
	}

	fmt.Println()
	fmt.Println("  ┌─────────────────────────────────┐")
	fmt.Println("  │   bugrelay — first-time setup   │")
	fmt.Println("  └─────────────────────────────────┘")
	fmt.Println()

	var err error

	prof.Name, err = ask("  Your name (shown on reports)", prof.Name)
	if err != nil {
		return nil, err
	}

	prof.Email, err = ask("  Contact email (prefills the report form)", prof.Email)
	if err != nil {
		return nil, err
	}

	tags, err := ask("  Default report tags (comma-separated)", strings.Join(prof.DefaultTags, ","))
	if err != nil {
		return nil, err
	}
	prof.DefaultTags = splitTags(tags)

	prof.ReportShellFails, err = askBool("  Report failing shell commands via shell hook", prof.ReportShellFails)
	if err != nil {
		return nil, err
	}

	if prof.ReportShellFails {
		shell, err := ask("  Shell (zsh/bash)", detectShell())
		if err != nil {
			return nil, err
		}
		prof.Shell = shell
	} else {
		prof.Shell = ""
	}

	fmt.Println()
	return prof, nil
}

// splitTags parses a comma-separated tag list, discarding empties.
func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// detectShell returns the base name of the current shell.
func detectShell() string {
	shell := filepath.Base(os.Getenv("SHELL"))
	if shell == "zsh" || shell == "bash" {
		return shell
	}
	return "zsh"
}
