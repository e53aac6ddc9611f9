package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/rollout"
	"github.com/kirillkom/docqa/internal/core/usecase"
	"github.com/kirillkom/docqa/internal/infrastructure/cache/semantic"
	natsevents "github.com/kirillkom/docqa/internal/infrastructure/events/nats"
	"github.com/kirillkom/docqa/internal/infrastructure/index/memory"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/docqa/internal/infrastructure/llm/tiered"
	"github.com/kirillkom/docqa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docqa/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/docqa/internal/infrastructure/rerank/crossencoder"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
	"github.com/kirillkom/docqa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/docqa/internal/observability/metrics"
)

type App struct {
	Config config.Config

	QueryUC     *usecase.QueryUseCase
	Rollout     *rollout.Controller
	Recorder    *rollout.Recorder
	Cache       *semantic.Cache
	Tiers       *tiered.Selector
	HTTPMetrics *metrics.HTTPServerMetrics

	wg       sync.WaitGroup
	closeFns []func()
}

// New wires the query pipeline. service labels metrics and NATS connections.
func New(ctx context.Context, cfg config.Config, service string) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	app.HTTPMetrics = metrics.NewHTTPServerMetrics(service)
	registry := app.HTTPMetrics.Registry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry, service)
	workerMetrics := metrics.NewWorkerMetrics(registry, service)

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.RetryMaxAttempts = cfg.RetryMaxAttempts
	resilienceCfg.RetryInitialBackoff = cfg.RetryInitialBackoff
	resilienceCfg.RetryMaxBackoff = cfg.RetryMaxBackoff
	executor := resilience.NewExecutor(resilienceCfg, resilience.WithStateObserver(pipelineMetrics.ObserveDependencyBreaker))

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.WithExecutor(executor))
	embedder := ollama.NewEmbedder(ollamaClient)

	searcher, err := app.openIndex(ctx, cfg, executor, embedder)
	if err != nil {
		return nil, err
	}

	store, err := app.openCacheStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cacheOpts := []semantic.Option{semantic.WithSweepObserver(workerMetrics)}
	if store != nil {
		cacheOpts = append(cacheOpts, semantic.WithStore(store))
	}
	app.Cache = semantic.New(semantic.Config{
		Threshold:     cfg.CacheSimilarityThreshold,
		TTL:           cfg.CacheTTL,
		Capacity:      cfg.CacheCapacity,
		SweepInterval: cfg.CacheSweepInterval,
		InFlightWait:  cfg.CacheInFlightWait,
		StaleAfter:    cfg.CacheInFlightStaleAfter,
	}, cacheOpts...)
	if store != nil {
		warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		app.Cache.Warm(warmCtx)
		cancel()
	}

	app.Tiers, err = newTierSelector(cfg, ollamaClient, pipelineMetrics)
	if err != nil {
		return nil, err
	}

	rolloutOpts := []rollout.Option{}
	if publisher := app.openEventBus(cfg, service, executor); publisher != nil {
		rolloutOpts = append(rolloutOpts, rollout.WithEventPublisher(publisher))
	}
	rolloutCfg := rollout.DefaultConfig()
	rolloutCfg.OptimizedPercent = cfg.RolloutOptimizedPercent
	rolloutCfg.WindowSize = cfg.RolloutWindowSize
	rolloutCfg.Thresholds = rollout.Thresholds{
		MaxErrorRate: cfg.RolloutMaxErrorRate,
		MaxP95:       cfg.RolloutMaxP95,
		MinQuality:   cfg.RolloutMinQuality,
		MinSamples:   cfg.RolloutMinSamples,
	}
	rolloutCfg.Baseline.TopK = cfg.QueryDefaultTopK
	rolloutCfg.Optimized.TopK = cfg.QueryDefaultTopK
	app.Rollout = rollout.NewController(rolloutCfg, rolloutOpts...)
	app.Recorder = rollout.NewRecorder(cfg.MetricsBuffer, app.Rollout, pipelineMetrics)

	pipelineMetrics.RegisterCache(app.Cache)
	pipelineMetrics.RegisterTiers(app.Tiers)
	pipelineMetrics.RegisterRollout(app.Rollout)
	workerMetrics.RegisterRecorderDrops(registry, app.Recorder.Dropped)

	lexicon, err := config.LoadGuardrailLexicon(cfg.GuardrailLexiconFile)
	if err != nil {
		return nil, err
	}
	compressor, err := usecase.NewCompressor(usecase.CompressorConfig{
		TargetRatio:       cfg.CompressionTargetRatio,
		Timeout:           cfg.CompressionTimeout,
		ProtectedPatterns: append(append([]string(nil), usecase.DefaultProtectedPatterns...), cfg.CompressionProtectedPatterns...),
	})
	if err != nil {
		return nil, fmt.Errorf("init compressor: %w", err)
	}

	var reranker ports.Reranker = usecase.HeuristicReranker{}
	if cfg.RerankURL != "" {
		reranker = crossencoder.New(cfg.RerankURL)
	}

	app.QueryUC = usecase.NewQueryUseCase(usecase.QueryConfig{
		MaxQueryLength: cfg.QueryMaxLength,
		Timeout:        cfg.QueryTimeout,
		DefaultTopK:    cfg.QueryDefaultTopK,
	}, usecase.QueryDeps{
		Guardrail: usecase.NewGuardrailEvaluator(lexicon),
		Rollout:   app.Rollout,
		Embedder:  embedder,
		Cache:     app.Cache,
		Retriever: usecase.NewHybridRetriever(searcher, usecase.HybridRetrieverConfig{
			CandidatePool: cfg.HybridCandidates,
			RRFK:          cfg.FusionRRFK,
		}),
		Rerank:     usecase.NewRerankStage(reranker, cfg.RerankTopN, cfg.RerankTimeout),
		Compressor: compressor,
		Generator:  app.Tiers,
		Recorder:   app.Recorder,
	})

	ok = true
	return app, nil
}

func (a *App) openIndex(ctx context.Context, cfg config.Config, executor *resilience.Executor, embedder ports.Embedder) (ports.ChunkSearcher, error) {
	switch cfg.IndexBackend {
	case "memory":
		index := memory.New()
		if cfg.IndexSeedFile != "" {
			n, err := index.LoadSeed(ctx, cfg.IndexSeedFile, embedder)
			if err != nil {
				return nil, fmt.Errorf("load index seed: %w", err)
			}
			slog.Info("index_seeded", "file", cfg.IndexSeedFile, "chunks", n)
		}
		return index, nil
	case "qdrant", "":
		return qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor), nil
	default:
		return nil, fmt.Errorf("unknown INDEX_BACKEND %q", cfg.IndexBackend)
	}
}

func (a *App) openCacheStore(ctx context.Context, cfg config.Config) (ports.CacheStore, error) {
	switch cfg.CacheStore {
	case "memory", "":
		return nil, nil
	case "sqlite":
		repo, err := sqlite.Open(cfg.CacheSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache store: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = repo.Close() })
		return repo, nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = db.Close() })
		repo := postgres.NewCacheRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown CACHE_STORE %q", cfg.CacheStore)
	}
}

// openEventBus returns nil when NATS is not configured or unreachable;
// rollback still happens, only the fan-out is lost.
func (a *App) openEventBus(cfg config.Config, service string, executor *resilience.Executor) ports.RolloutEventPublisher {
	if cfg.NATSURL == "" {
		return nil
	}
	bus, err := natsevents.NewWithOptions(cfg.NATSURL, cfg.NATSRolloutSubject, natsevents.Options{
		Name:               "docqa-" + service,
		ResilienceExecutor: executor,
	})
	if err != nil {
		slog.Warn("rollout_events_disabled", "nats_url", cfg.NATSURL, "error", err)
		return nil
	}
	a.closeFns = append(a.closeFns, bus.Close)
	return bus
}

func newTierSelector(cfg config.Config, ollamaClient *ollama.Client, pipelineMetrics *metrics.PipelineMetrics) (*tiered.Selector, error) {
	tiers := make([]tiered.Tier, 0, len(domain.TierOrder))
	hosted := []struct {
		id  domain.TierID
		cfg config.TierConfig
	}{
		{id: domain.TierPrimary, cfg: cfg.TierPrimary},
		{id: domain.TierSecondary, cfg: cfg.TierSecondary},
	}
	for _, h := range hosted {
		if !h.cfg.Enabled() {
			continue
		}
		gen, err := openaicompat.NewGenerator(openaicompat.Config{
			BaseURL: h.cfg.BaseURL,
			APIKey:  h.cfg.APIKey,
			Model:   h.cfg.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("init %s tier: %w", h.id, err)
		}
		tiers = append(tiers, tiered.Tier{
			ID:                h.id,
			Backend:           gen,
			Model:             gen.Model(),
			RequestsPerMinute: h.cfg.RequestsPerMinute,
		})
	}
	tiers = append(tiers, tiered.Tier{
		ID:      domain.TierLocal,
		Backend: ollama.NewGenerator(ollamaClient),
		Model:   ollamaClient.GenerationModel(),
	})

	selector, err := tiered.NewSelector(tiered.Config{
		FailureThreshold:  uint32(max(cfg.BreakerFailureThreshold, 1)),
		Cooldown:          cfg.BreakerCooldown,
		AttemptTimeout:    cfg.TierTimeout,
		QuotaLowWatermark: cfg.TierQuotaLowWatermark,
	}, tiers, pipelineMetrics.ObserveTierBreaker)
	if err != nil {
		return nil, fmt.Errorf("init tier selector: %w", err)
	}
	return selector, nil
}

// Start runs the cache sweeper/write-through loop and the outcome recorder
// until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Cache.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.Recorder.Run(ctx)
	}()
}

// Close waits for background loops started with Start; cancel their context first.
func (a *App) Close() {
	a.wg.Wait()
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
