package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fmarek/bugrelay"
	"github.com/fmarek/bugrelay/internal/config"
	"github.com/fmarek/bugrelay/internal/profile"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// activeProfile holds the loaded user profile.
var activeProfile *profile.Profile

var flagDebug bool

var rootCmd = &cobra.Command{
	Use:   "bugrelay",
	Short: "Capture errors and telemetry from your terminal sessions and report bugs upstream",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup check for the setup command itself.
		if cmd.Name() == "setup" {
			return nil
		}

		// First-run: profile missing → run setup wizard automatically.
		// Only do this when stdin is an interactive terminal.
		if !profile.Exists() {
			if term.IsTerminal(os.Stdin.Fd()) {
				fmt.Println()
				fmt.Println("  Welcome to bugrelay! Looks like this is your first time.")
				if err := runSetup(true); err != nil {
					return err
				}
			}
			// Non-interactive (tests, pipes): continue with defaults, no profile required.
		}

		// Load profile (optional — may not exist in non-interactive environments).
		if profile.Exists() {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("loading profile: %w", err)
			}
			activeProfile = p
		}

		// Load and merge config files, then environment overrides.
		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.ApplyEnv(config.Merge(global, project))
		if flagDebug {
			cfg.Debug = true
		}

		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// GetProfile returns the active user profile.
func GetProfile() *profile.Profile {
	return activeProfile
}

// newTracker builds and initializes a tracker from the merged configuration.
func newTracker() (*bugrelay.Tracker, error) {
	if cfg.APIURL == "" || cfg.ProjectID == 0 {
		return nil, fmt.Errorf("api_url and project_id must be set (config file, .bugrelayrc, or BUGRELAY_* env)")
	}
	t, err := bugrelay.New(bugrelay.Config{
		ProjectID:    cfg.ProjectID,
		APIURL:       cfg.APIURL,
		StateDir:     cfg.StateDir,
		IgnoreURLs:   cfg.IgnoreURLs,
		IgnoreErrors: cfg.IgnoreErrors,
		SampleRate:   cfg.SampleRate,
		Debug:        cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	if err := t.Initialize(); err != nil {
		return nil, err
	}
	return t, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable diagnostic logging")
}
