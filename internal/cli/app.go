package cli

import (
	"log/slog"

	"github.com/bidstack/marketsync/internal/config"
	"github.com/bidstack/marketsync/internal/engine"
	"github.com/bidstack/marketsync/internal/plan"
	"github.com/bidstack/marketsync/internal/remote"
	"github.com/bidstack/marketsync/internal/store"
)

// app bundles everything a command needs: the opened store, the wired
// engine, and the resolved plan.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	plan   *plan.Plan
}

// openApp opens the store and wires the engine per config. The caller
// must call close.
func openApp(opts *RootOptions, f *OutputFormatter) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(opts, cfg, f.ErrWriter); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	syncPlan, err := resolvePlan(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	collab, err := resolveCollaborators(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	eng := engine.New(st, collab, syncPlan,
		engine.WithInterval(cfg.Sync.Interval),
		engine.WithTimeout(cfg.Sync.Timeout),
		engine.WithLogger(slog.Default()),
	)

	return &app{cfg: cfg, store: st, engine: eng, plan: syncPlan}, nil
}

// close releases the store. Cleanup on the engine (which also closes the
// store) is used instead by the long-running daemon path.
func (a *app) close() error {
	return a.store.Close()
}

func resolvePlan(cfg *config.Config) (*plan.Plan, error) {
	if cfg.Sync.PlanPath == "" {
		p := plan.Default()
		p.BatchSize = cfg.Sync.BatchSize
		return p, nil
	}
	p, err := plan.Load(cfg.Sync.PlanPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load sync plan", err)
	}
	return p, nil
}

func resolveCollaborators(cfg *config.Config) (*remote.Collaborators, error) {
	if cfg.Remote.BaseURL == "" {
		// Loopback remote: lets the store and queue be exercised locally
		// without a marketplace endpoint.
		collab, _, _, _ := remote.NewFakeCollaborators()
		return collab, nil
	}
	collab, err := remote.NewHTTPCollaborators(
		cfg.Remote.BaseURL, cfg.Remote.AccountID, cfg.Remote.Token, nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to wire remote", err)
	}
	return collab, nil
}
