package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/keep/internal/adapters/driven/ai"
	"github.com/custodia-labs/keep/internal/adapters/driven/config/file"
	fetcher "github.com/custodia-labs/keep/internal/adapters/driven/fetcher/file"
	"github.com/custodia-labs/keep/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/keep/internal/adapters/driven/storage/pgvector"
	"github.com/custodia-labs/keep/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/keep/internal/adapters/driven/system"
	"github.com/custodia-labs/keep/internal/adapters/driving/cli"
	"github.com/custodia-labs/keep/internal/core/domain"
	"github.com/custodia-labs/keep/internal/core/ports/driven"
	"github.com/custodia-labs/keep/internal/core/services"
	"github.com/custodia-labs/keep/internal/logger"
	"github.com/custodia-labs/keep/internal/normalisers"
	"github.com/custodia-labs/keep/internal/postprocessors"
)

// app owns everything opened for one invocation.
type app struct {
	dir      string
	settings *services.SettingsService

	store     *sqlite.Store
	vectors   driven.VectorIndex
	keeper    *services.Keeper
	processor *services.Processor

	// unavailable is set when the keeper could not be built. Settings
	// still work so that a broken configuration can be repaired.
	unavailable error
}

// open loads the configuration in dir and builds the keeper. Only a
// configuration that cannot be read is fatal.
func open(ctx context.Context, dir string) (*app, error) {
	configStore, err := file.NewConfigStore(dir)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	registry := ai.NewRegistry()

	a := &app{
		dir:      dir,
		settings: services.NewSettingsService(configStore, ai.NewConfigValidator(registry),
			services.WithStorePath(dir)),
	}

	cfg, err := a.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := a.build(ctx, cfg, registry); err != nil {
		logger.Debug("Keeper unavailable: %v", err)
		a.unavailable = err
		if cerr := a.Close(); cerr != nil {
			logger.Warn("Closing store: %v", cerr)
		}
	}
	return a, nil
}

func (a *app) build(ctx context.Context, cfg *domain.KeeperConfig, registry *ai.Registry) error {
	store, err := sqlite.NewStore(a.dir, sqlite.Options{BusyTimeout: cfg.BusyTimeout})
	if err != nil {
		return err
	}
	a.store = store

	vectors, err := openVectors(ctx, a.dir, cfg)
	if err != nil {
		return err
	}
	a.vectors = vectors

	sectioners := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(sectioners)
	chain, err := sectioners.BuildChain(cfg.Analysis.Sectioners, cfg.Analysis.Options)
	if err != nil {
		return fmt.Errorf("analysis: %w", err)
	}

	locker := system.NewFileLocker(a.dir)
	prompts := file.NewPromptStore(a.dir)

	opts := []services.KeeperOption{
		services.WithProviders(newProviderPool(cfg, registry, prompts, locker)),
		services.WithFetcher(fetcher.New(normalisers.Default())),
		services.WithPrompts(prompts),
	}
	if chain.Len() > 0 {
		opts = append(opts, services.WithSectioner(chain))
	}

	a.keeper = services.NewKeeper(*cfg, store.DocumentStore(), vectors, store.PendingQueue(), opts...)
	a.processor = services.NewProcessor(a.keeper, locker, watchPending)
	return nil
}

func openVectors(ctx context.Context, dir string, cfg *domain.KeeperConfig) (driven.VectorIndex, error) {
	switch cfg.Vector.Backend {
	case domain.VectorBackendPgvector:
		if cfg.Vector.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: vector.database_url is required for pgvector", domain.ErrInvalidInput)
		}
		idx, err := pgvector.New(ctx, cfg.Vector.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case domain.VectorBackendMemory:
		return memory.NewVectorIndex(), nil
	default:
		idx, err := sqlite.NewVectorIndex(dir, sqlite.Options{BusyTimeout: cfg.BusyTimeout})
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
}

func newProviderPool(cfg *domain.KeeperConfig, registry *ai.Registry,
	prompts driven.PromptStore, locker driven.Locker) *services.ProviderPool {
	pool := services.ProviderPoolConfig{
		EmbeddingLocal:  cfg.Embedding.Provider.IsLocal(),
		SummarizerLocal: cfg.Summarizer.Provider.IsLocal(),
		Models:          cfg.Models,
		Locker:          locker,
		Memory:          system.HostMemory{},
		Bulk: func(e driven.EmbeddingProvider) driven.EmbeddingProvider {
			return ai.WithRateLimit(e, cfg.Processor.EmbedRate)
		},
	}
	if cfg.Embedding.IsConfigured() {
		settings := cfg.Embedding
		pool.Embedding = func(context.Context) (driven.EmbeddingProvider, error) {
			return registry.CreateEmbedding(settings)
		}
	}
	if cfg.Summarizer.IsConfigured() {
		settings := cfg.Summarizer
		pool.Summarizer = func(context.Context) (driven.SummarizationProvider, error) {
			return registry.CreateSummarizer(settings, prompts)
		}
	}
	return services.NewProviderPool(pool)
}

// watchPending adapts system.WatchFile. A typed nil must not escape as a
// non-nil interface.
func watchPending(path string) (driven.ChangeNotifier, error) {
	n, err := system.WatchFile(path, system.DefaultDebounce)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (a *app) services() cli.Services {
	s := cli.Services{
		Settings:    a.settings,
		Unavailable: a.unavailable,
	}
	if a.keeper != nil {
		s.Keeper = a.keeper
		s.Processor = a.processor
		s.SpawnProcessor = func() error { return spawnProcessor(a.dir) }
	}
	return s
}

// Close releases providers and stores. Safe to call more than once.
func (a *app) Close() error {
	var errs []error
	if a.keeper != nil {
		errs = append(errs, a.keeper.Close())
		a.keeper, a.processor = nil, nil
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
		a.vectors = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	return errors.Join(errs...)
}
