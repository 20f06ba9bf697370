package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tenantiq/ragcore/internal/config"
	"github.com/tenantiq/ragcore/internal/core/domain"
	"github.com/tenantiq/ragcore/internal/core/ports"
	"github.com/tenantiq/ragcore/internal/core/usecase"
	rediscache "github.com/tenantiq/ragcore/internal/infrastructure/cache/redis"
	"github.com/tenantiq/ragcore/internal/infrastructure/limiter"
	"github.com/tenantiq/ragcore/internal/infrastructure/llm/ollama"
	"github.com/tenantiq/ragcore/internal/infrastructure/queue/nats"
	"github.com/tenantiq/ragcore/internal/infrastructure/repository/postgres"
	"github.com/tenantiq/ragcore/internal/infrastructure/resilience"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Cache  ports.ResponseCache
	Events ports.CorpusEvents

	AskUC       ports.QuestionService
	SummarizeUC ports.DocumentSummarizer

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	searchStore := postgres.NewSearchStore(db)
	if err := searchStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure search schema: %w", err)
	}
	interactionLog := postgres.NewInteractionLog(db)
	if err := interactionLog.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure interaction schema: %w", err)
	}
	tenantConfigs := postgres.NewTenantConfigRepo(db, defaultRAGConfig(cfg))
	if err := tenantConfigs.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure tenant config schema: %w", err)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	responseCache := rediscache.New(rdb, logger, rediscache.Options{
		TTL: time.Duration(cfg.CacheTTLSeconds) * time.Second,
	})

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	events, err := nats.New(cfg.NATSURL, cfg.NATSSubject)
	if err != nil {
		return nil, fmt.Errorf("init corpus events: %w", err)
	}

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	scorer := usecase.NewConfidenceScorer(usecase.ConfidenceThresholds{
		High:   cfg.ConfidenceHighThreshold,
		Medium: cfg.ConfidenceMediumThreshold,
	})
	retriever := usecase.NewHybridRetriever(embedder, searchStore, scorer, usecase.RetrieverOptions{
		RRFK:             cfg.RAGFusionRRFK,
		HybridCandidates: cfg.RAGHybridCandidates,
	})
	reranker := usecase.NewReranker(usecase.RerankerOptions{
		TermBoost:      cfg.RerankTermBoost,
		LeadChunkBoost: cfg.RerankLeadChunkBoost,
	})

	askUC := usecase.NewAskUseCase(
		retriever,
		reranker,
		generator,
		responseCache,
		interactionLog,
		tenantConfigs,
		scorer,
		logger,
		usecase.AskOptions{
			MaxAnswerTokens:  cfg.MaxAnswerTokens,
			Temperature:      cfg.GenerationTemperature,
			RetrievalTimeout: time.Duration(cfg.RetrievalTimeoutSeconds) * time.Second,
		},
	)

	summaryLimiter := limiter.New(cfg.SummaryMaxConcurrent, cfg.SummaryRatePerSecond)
	summarizeUC := usecase.NewSummarizeUseCase(generator, summaryLimiter)

	return &App{
		Config: cfg,
		Logger: logger,

		Cache:  responseCache,
		Events: events,

		AskUC:       askUC,
		SummarizeUC: summarizeUC,

		closeFn: func() {
			events.Close()
			_ = rdb.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func defaultRAGConfig(cfg config.Config) domain.RAGConfig {
	return domain.RAGConfig{
		TopK:                  cfg.RAGTopK,
		ConfidenceThreshold:   cfg.RAGConfidenceThreshold,
		TwoPass:               cfg.RAGTwoPass,
		CandidatePool:         cfg.RAGCandidatePool,
		MaxChunksPerDocument:  cfg.RAGMaxChunksPerDocument,
		MinDocumentsToInclude: cfg.RAGMinDocumentsToInclude,
	}
}
