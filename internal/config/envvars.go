package config

import (
	"os"
	"strconv"
)

// Environment variable names recognized on top of the config files.
const (
	EnvStateDir        = "WAVERUNNER_STATE_DIR"
	EnvRepoPath        = "WAVERUNNER_REPO_PATH"
	EnvCanonicalBranch = "WAVERUNNER_CANONICAL_BRANCH"
	EnvRunnerBin       = "WAVERUNNER_RUNNER_BIN"
	EnvWorkflow        = "WAVERUNNER_WORKFLOW"
	EnvProvider        = "WAVERUNNER_PROVIDER"
	EnvWorkflowsDir    = "WAVERUNNER_WORKFLOWS_DIR"
	EnvPromptsDir      = "WAVERUNNER_PROMPTS_DIR"
	EnvLogLevel        = "WAVERUNNER_LOG_LEVEL"
	EnvLogFormat       = "WAVERUNNER_LOG_FORMAT"
	EnvHistoryEnabled  = "WAVERUNNER_HISTORY_ENABLED"
)

func applyEnvVars(cfg *Config) {
	setString := func(env string, dst *string) {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
	setString(EnvStateDir, &cfg.StateDir)
	setString(EnvRepoPath, &cfg.RepoPath)
	setString(EnvCanonicalBranch, &cfg.CanonicalBranch)
	setString(EnvRunnerBin, &cfg.Runner.Bin)
	setString(EnvWorkflow, &cfg.Runner.Workflow)
	setString(EnvProvider, &cfg.Runner.Provider)
	setString(EnvWorkflowsDir, &cfg.Runner.WorkflowsDir)
	setString(EnvPromptsDir, &cfg.Runner.PromptsDir)
	setString(EnvLogLevel, &cfg.Log.Level)
	setString(EnvLogFormat, &cfg.Log.Format)

	if v, ok := os.LookupEnv(EnvHistoryEnabled); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HistoryEnabled = b
		}
	}
}
