package main

import (
	"fmt"
	"time"

	"github.com/axiomme/axiomme/internal/config"
	"github.com/axiomme/axiomme/internal/drr"
	"github.com/axiomme/axiomme/internal/embedder"
	"github.com/axiomme/axiomme/internal/hybridindex"
	"github.com/axiomme/axiomme/internal/logging"
	"github.com/axiomme/axiomme/internal/om"
	"github.com/axiomme/axiomme/internal/outboxworker"
	"github.com/axiomme/axiomme/internal/scopedfs"
	"github.com/axiomme/axiomme/internal/session"
	"github.com/axiomme/axiomme/internal/store"
	"github.com/axiomme/axiomme/pkg/types"
)

// app bundles the wired components a subcommand needs. Built fresh per
// invocation from the resolved config; closed by the caller via
// Store.Close when done.
type app struct {
	cfg       *config.Config
	log       logging.Logger
	st        *store.Store
	fs        *scopedfs.FS
	idx       *hybridindex.Index
	emb       embedder.Embedder
	pipeline  *om.Pipeline
	drr       *drr.Engine
	observer  *om.Observer
	reflector *om.Reflector
}

func newApp(cfg *config.Config) (*app, error) {
	log := logging.New("axiomme")

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	st, err := store.Open(cfg.GetDataDir(), log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fs, err := scopedfs.New(cfg.GetDataDir())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open scoped fs: %w", err)
	}

	if err := embedder.ConfigureRuntime(embedder.Runtime{
		Variant:  cfg.Embedder.Kind,
		Endpoint: cfg.Embedder.Endpoint,
		Model:    cfg.Embedder.Model,
	}); err != nil {
		st.Close()
		return nil, fmt.Errorf("configure embedder runtime: %w", err)
	}
	emb, err := embedder.New(embedder.CurrentRuntime())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	idx := hybridindex.New(st, emb)

	resolved, err := resolveOmConfig(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("resolve om config: %w", err)
	}

	pipeline := om.NewPipeline(st, resolved.Observation, resolved.Reflection)

	observer := om.NewObserver(st, om.ObserverMode(cfg.Observation.Mode), cfg.Observation.Endpoint, cfg.Observation.Model, false, 50)
	reflector := om.NewReflector(st, om.ReflectorMode(cfg.Reflection.Mode), cfg.Reflection.Endpoint, cfg.Reflection.Model, false)

	drrCfg := drr.Config{
		Alpha:                cfg.DRR.Alpha,
		GlobalTopK:           cfg.DRR.GlobalTopK,
		MaxConvergenceRounds: cfg.DRR.MaxConvergenceRounds,
		MaxDepth:             cfg.DRR.MaxDepth,
		MaxNodes:             cfg.DRR.MaxNodes,
	}
	engine := drr.New(idx, st, drrCfg)

	return &app{
		cfg:       cfg,
		log:       log,
		st:        st,
		fs:        fs,
		idx:       idx,
		emb:       emb,
		pipeline:  pipeline,
		drr:       engine,
		observer:  observer,
		reflector: reflector,
	}, nil
}

func (a *app) close() {
	a.st.Close()
}

func resolveOmConfig(cfg *config.Config) (*om.ResolvedConfig, error) {
	var obsIn om.ObservationConfigInput
	if cfg.Observation.MaxTokensPerBatch > 0 {
		v := cfg.Observation.MaxTokensPerBatch
		obsIn.MaxTokensPerBatch = &v
	}
	if cfg.Observation.BufferActivation > 0 {
		v := cfg.Observation.BufferActivation
		obsIn.BufferActivation = &v
	}
	if cfg.Observation.BufferDisabled {
		obsIn.BufferTokens = &om.BufferTokensInput{Disabled: true}
	}
	if cfg.Observation.MessageTokensBase > 0 {
		v := cfg.Observation.MessageTokensBase
		obsIn.MessageTokens = &v
	}

	var reflIn om.ReflectionConfigInput
	if cfg.Reflection.ObservationTokens > 0 {
		v := cfg.Reflection.ObservationTokens
		reflIn.ObservationTokens = &v
	}
	if cfg.Reflection.BufferActivation > 0 {
		v := cfg.Reflection.BufferActivation
		reflIn.BufferActivation = &v
	}
	if cfg.Reflection.BlockAfter > 0 {
		v := cfg.Reflection.BlockAfter
		reflIn.BlockAfter = &v
	}

	return om.ResolveConfig(types.ScopeSession, cfg.Observation.ShareTokenBudget, obsIn, reflIn)
}

func (a *app) newWorker() *outboxworker.Worker {
	interval := time.Duration(a.cfg.Outbox.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return outboxworker.New(a.st, a.observer, a.reflector, a.log, interval, a.cfg.Outbox.BatchSize, func() int {
		return a.cfg.Reflection.ObservationTokens
	})
}

func (a *app) newSession(scope types.Scope, sessionID, threadID, resourceID string) *session.Session {
	return session.New(a.st, a.pipeline, scope, sessionID, threadID, resourceID)
}
