package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configurable bugrelay CLI settings.
type Config struct {
	APIURL       string   `json:"api_url"`
	ProjectID    int64    `json:"project_id"`
	StateDir     string   `json:"state_dir"`     // override session state location
	IgnoreURLs   []string `json:"ignore_urls"`   // regexps excluded from network capture
	IgnoreErrors []string `json:"ignore_errors"` // substrings suppressing matching errors
	SampleRate   float64  `json:"sample_rate"`   // 0 means keep all
	Debug        bool     `json:"debug"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		SampleRate:   1.0,
		IgnoreURLs:   []string{},
		IgnoreErrors: []string{},
	}
}

// LoadGlobal reads ~/.config/bugrelay/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".config", "bugrelay", "config.json")
	return loadFile(path, true)
}

// LoadProject reads .bugrelayrc in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".bugrelayrc", false)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()

	// Apply global values over defaults.
	if global != nil {
		if global.APIURL != "" {
			result.APIURL = global.APIURL
		}
		if global.ProjectID != 0 {
			result.ProjectID = global.ProjectID
		}
		if global.StateDir != "" {
			result.StateDir = global.StateDir
		}
		if len(global.IgnoreURLs) > 0 {
			result.IgnoreURLs = global.IgnoreURLs
		}
		if len(global.IgnoreErrors) > 0 {
			result.IgnoreErrors = global.IgnoreErrors
		}
		if global.SampleRate != 0 {
			result.SampleRate = global.SampleRate
		}
		if global.Debug {
			result.Debug = true
		}
	}

	// Apply project values over global.
	if project != nil {
		if project.APIURL != "" {
			result.APIURL = project.APIURL
		}
		if project.ProjectID != 0 {
			result.ProjectID = project.ProjectID
		}
		if project.StateDir != "" {
			result.StateDir = project.StateDir
		}
		if len(project.IgnoreURLs) > 0 {
			result.IgnoreURLs = project.IgnoreURLs
		}
		if len(project.IgnoreErrors) > 0 {
			result.IgnoreErrors = project.IgnoreErrors
		}
		if project.SampleRate != 0 {
			result.SampleRate = project.SampleRate
		}
		if project.Debug {
			result.Debug = true
		}
	}

	return result
}

// ApplyEnv overlays BUGRELAY_API_URL and BUGRELAY_PROJECT_ID on top of cfg,
// for CI and container environments that cannot ship config files.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("BUGRELAY_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("BUGRELAY_PROJECT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ProjectID = id
		}
	}
	return cfg
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
