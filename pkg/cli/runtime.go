package cli

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/app"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/embedding"
	"github.com/m-mizutani/mnemo/pkg/service/policy"
	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
	"github.com/m-mizutani/mnemo/pkg/service/vectorindex"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/usecase/orchestrator"
	"github.com/m-mizutani/mnemo/pkg/usecase/relevance"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// snapshotRefresh is how often a running session reloads the snapshot file
const snapshotRefresh = 30 * time.Second

// runtime is the wired engine shared by every command. Apps are created before flags are
// parsed, so they read the store and snapshot through it.
type runtime struct {
	cfg *config

	kv       interfaces.KV
	store    *memory.Store
	embedder *embedding.Client
	index    *vectorindex.Index
	registry *app.Registry
	orch     *orchestrator.Orchestrator
}

func newRuntime(cfg *config) *runtime {
	rt := &runtime{cfg: cfg}
	rt.registry = app.New([]app.App{
		app.NewWeather(rt.snapshot),
		app.NewCalendar(),
		app.NewNotes(rt),
	})
	return rt
}

// flags returns everything the engine needs plus the app flags
func (rt *runtime) flags() []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(rt.cfg)...)
	flags = append(flags, embeddingFlags(rt.cfg)...)
	flags = append(flags, contextFlags(rt.cfg)...)
	flags = append(flags, rt.registry.Flags()...)
	return flags
}

func (rt *runtime) snapshot() *model.ContextSnapshot {
	if rt.orch == nil {
		return nil
	}
	return rt.orch.Snapshot()
}

// GetMarkedMemories lets the notes app read the store once it exists
func (rt *runtime) GetMarkedMemories(ctx context.Context) []*model.Memory {
	if rt.store == nil {
		return nil
	}
	return rt.store.GetMarkedMemories(ctx)
}

// open wires storage, embedding, index, apps and the orchestrator
func (rt *runtime) open(ctx context.Context) error {
	cfg := rt.cfg

	kv, err := cfg.newKV(ctx)
	if err != nil {
		return err
	}
	rt.kv = kv

	rt.store = memory.New(kv)
	if err := rt.store.Init(ctx); err != nil {
		return goerr.Wrap(err, "failed to initialize memory store")
	}

	provider, err := cfg.newEmbedder(ctx)
	if err != nil {
		return err
	}
	rt.embedder, err = embedding.New(provider, embedding.WithConfig(cfg.embeddingConfig()))
	if err != nil {
		return goerr.Wrap(err, "failed to create embedding client")
	}

	rt.index, err = vectorindex.New(rt.embedder, rt.store, vectorindex.WithBaseContext(ctx))
	if err != nil {
		return goerr.Wrap(err, "failed to create vector index")
	}
	rt.store.SetIndexer(rt.index)
	if err := rt.index.Load(ctx); err != nil {
		return goerr.Wrap(err, "failed to load vector index")
	}

	var preOpts []preprocess.Option
	if cfg.dictionaryPath != "" {
		dict, err := preprocess.LoadDictionary(cfg.dictionaryPath)
		if err != nil {
			return err
		}
		preOpts = append(preOpts, preprocess.WithDictionary(dict))
	}
	pre := preprocess.New(preOpts...)

	if err := rt.registry.Init(ctx); err != nil {
		return err
	}

	engineOpts := []relevance.Option{
		relevance.WithApps(rt.registry),
		relevance.WithThreshold(cfg.threshold),
	}
	// hash vectors only capture shared words, so intents are scored by keywords alone
	_, hashed := provider.(*adapter.HashEmbedder)
	if !hashed {
		rt.registry.SetScorer(rt.embedder)
		engineOpts = append(engineOpts, relevance.WithScorer(rt.embedder))
	}
	if cfg.policyDir != "" {
		pol, err := policy.New(ctx, cfg.policyDir)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, relevance.WithPolicy(pol))
	}

	snapshot, err := cfg.loadSnapshot()
	if err != nil {
		return err
	}

	rt.orch = orchestrator.New(pre, rt.store, relevance.New(pre, engineOpts...),
		orchestrator.WithRetriever(rt.index),
		orchestrator.WithScorer(rt.embedder),
		orchestrator.WithSnapshot(snapshot),
	)

	if !hashed {
		go func() {
			if err := rt.embedder.InitializeIntentEmbeddings(ctx); err != nil {
				logging.From(ctx).Warn("intent embeddings are not ready", "error", err)
			}
		}()
	}

	logging.From(ctx).Debug("runtime ready",
		"backend", cfg.backend,
		"apps", rt.registry.Names(),
		"memories", rt.index.Count())
	return nil
}

// watchSnapshot keeps the orchestrator snapshot fresh until ctx is done
func (rt *runtime) watchSnapshot(ctx context.Context) {
	updates := make(chan *model.ContextSnapshot)
	go func() {
		defer close(updates)
		ticker := time.NewTicker(snapshotRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s, err := rt.cfg.loadSnapshot()
				if err != nil {
					logging.From(ctx).Warn("failed to reload snapshot", "error", err)
					continue
				}
				select {
				case updates <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	go rt.orch.Watch(ctx, updates)
}

// Close waits for background indexing and releases the backend
func (rt *runtime) Close() {
	if rt.index != nil {
		rt.index.Wait()
	}
	if rt.embedder != nil {
		rt.embedder.Close()
	}
	if rt.kv != nil {
		if err := rt.kv.Close(); err != nil {
			logging.Default().Warn("failed to close backend", "error", err)
		}
	}
}

// loadSnapshot reads --snapshot, or describes only the local time when none is given
func (cfg *config) loadSnapshot() (*model.ContextSnapshot, error) {
	now := time.Now()
	if cfg.snapshotPath == "" {
		return &model.ContextSnapshot{
			Time: model.TimeContext{Now: now, Timezone: localZone()},
		}, nil
	}

	s, err := model.LoadSnapshot(cfg.snapshotPath)
	if err != nil {
		return nil, err
	}
	if s.Time.Now.IsZero() {
		s.Time.Now = now
	}
	if s.Time.Timezone == "" {
		s.Time.Timezone = localZone()
	}
	return s, nil
}

func localZone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	name := time.Local.String()
	if name == "Local" {
		return ""
	}
	return name
}
