// Package cli implements the waverunner command-line interface.
package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	repoFlag     string
	stateDirFlag string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "waverunner",
	Short: "Parallel wave orchestrator for decomposed issue tasks",
	Long: `waverunner drives the tasks of a decomposed issue through their
implement and spec-check phases in parallel waves.

Each wave reserves a set of eligible tasks, runs one worker process per
task in an isolated git worktree, verifies the results, and serially
merges the passing branches back into the canonical branch. All state
lives in plain JSON files, so a killed orchestrator resumes exactly
where it stopped.

Quick start:
  waverunner run        Drive waves until the issue is done
  waverunner status     Show tasks and the active wave
  waverunner repair     Recover tasks orphaned by a crash
  waverunner history    List finished waves`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", ".", "repository root")
	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "canonical state directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRepairCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initViper() {
	viper.SetEnvPrefix("WAVERUNNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	_ = viper.BindPFlag("state-dir", rootCmd.PersistentFlags().Lookup("state-dir"))
}

func newLogger(level, format string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	if verbose {
		lv = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lv}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
