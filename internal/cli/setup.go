package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/randalmurphal/waverunner/internal/config"
	"github.com/randalmurphal/waverunner/internal/events"
	"github.com/randalmurphal/waverunner/internal/git"
	"github.com/randalmurphal/waverunner/internal/history"
	"github.com/randalmurphal/waverunner/internal/sandbox"
	"github.com/randalmurphal/waverunner/internal/store"
	"github.com/randalmurphal/waverunner/internal/wave"
)

// app bundles everything a command needs after config load.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	git     *git.Git
	engine  *wave.Engine
	events  *events.MemoryPublisher
	history *history.DB
}

func (a *app) close() {
	if a.history != nil {
		_ = a.history.Close()
	}
	a.events.Close()
}

// setup loads config and wires the engine. The --repo and --state-dir flags
// (and their WAVERUNNER_ env twins via viper) override the config file.
func setup() (*app, error) {
	repo := repoFlag
	if v := viper.GetString("repo"); v != "" && v != "." {
		repo = v
	}
	repo, err := filepath.Abs(repo)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}

	cfg, err := config.Load(repo)
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("state-dir"); v != "" {
		cfg.StateDir = v
	}
	if stateDirFlag != "" {
		cfg.StateDir = stateDirFlag
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	st := store.New(cfg.StateDir)
	g := git.New(cfg.RepoPath, nil)

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		git:    g,
		events: events.NewMemoryPublisher(),
	}

	var recorder wave.Recorder
	if cfg.HistoryEnabled {
		db, err := history.Open(st.HistoryDBPath())
		if err != nil {
			logger.Warn("wave history disabled", "error", err)
		} else {
			a.history = db
			recorder = db
		}
	}

	a.engine = wave.NewEngine(wave.Config{
		Store:           st,
		Sandboxes:       sandbox.NewManager(st, g, logger),
		Git:             g,
		Logger:          logger,
		Publisher:       a.events,
		Recorder:        recorder,
		RunnerBin:       cfg.Runner.Bin,
		Workflow:        cfg.Runner.Workflow,
		Provider:        cfg.Runner.Provider,
		WorkflowsDir:    cfg.Runner.WorkflowsDir,
		PromptsDir:      cfg.Runner.PromptsDir,
		CanonicalBranch: cfg.CanonicalBranch,
	})
	return a, nil
}
