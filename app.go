package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-query/pkg/adapters/vectorstore"
	"github.com/ekaya-inc/ekaya-query/pkg/adapters/vectorstore/pgvector"
	"github.com/ekaya-inc/ekaya-query/pkg/audit"
	"github.com/ekaya-inc/ekaya-query/pkg/cache"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/oracle"
	"github.com/ekaya-inc/ekaya-query/pkg/retry"
	"github.com/ekaya-inc/ekaya-query/pkg/services"
	"github.com/ekaya-inc/ekaya-query/pkg/snapshotstore"
)

// app is the wired resolution pipeline and everything it owns.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	resolver *services.Resolver
	index    vectorstore.Index
}

// loadApp reads configuration and builds the logger and pipeline.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Env)
	if err != nil {
		return nil, err
	}
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	vocab := services.DefaultVocabulary()
	if cfg.Annotator.VocabularyFile != "" {
		if vocab, err = services.LoadVocabulary(cfg.Annotator.VocabularyFile); err != nil {
			return nil, err
		}
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Retry.MaxRetries
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay

	connections, err := openConnections(ctx, cfg, logger)
	for _, conn := range connections {
		closers = append(closers, conn.Adapter.Close)
	}
	if err != nil {
		return nil, err
	}

	orc, err := newOracle(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewFromConfig(ctx, cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	closers = append(closers, store.Close)

	exporter, err := snapshotstore.New(ctx, cfg.SnapshotStore, logger)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	index, err := newIndex(ctx, cfg, retryCfg, logger)
	if err != nil {
		return nil, err
	}
	if index != nil {
		closers = append(closers, index.Close)
	}

	schemas := services.NewSchemaCache(
		services.SchemaCacheOptions{
			TTL:              cfg.Introspection.SnapshotTTL,
			DiscoveryTimeout: cfg.Introspection.DiscoveryTimeout,
		},
		connections,
		services.NewSchemaIntrospector(services.IntrospectionOptions{
			SampleRows:   cfg.Introspection.SampleRows,
			SampleValues: cfg.Introspection.SampleValues,
			MaxTables:    cfg.Introspection.MaxTables,
			Retry:        retryCfg,
		}, logger),
		services.NewSemanticAnnotator(services.AnnotatorOptions{
			OracleWeight:           cfg.Annotator.OracleWeight,
			HeuristicWeight:        cfg.Annotator.HeuristicWeight,
			HeuristicCeiling:       cfg.Annotator.HeuristicCeiling,
			InferredBaseConfidence: cfg.Annotator.InferredBaseConfidence,
			Concurrency:            cfg.Introspection.OracleConcurrency,
		}, vocab, orc, logger),
		store,
		exporter,
		logger,
	)

	resolver := services.NewResolver(services.ResolverOptions{
		DefaultConnectionID: cfg.DefaultConnectionID(),
		StructuredTimeout:   cfg.Resolver.StructuredTimeout,
		DocumentTimeout:     cfg.Resolver.DocumentTimeout,
		FallbackToDocuments: cfg.Resolver.FallbackToDocuments,
		MaxQueryLength:      cfg.Resolver.MaxQueryLength,
		MaxRows:             cfg.Generator.MaxRows,
		CacheTTL:            cfg.Cache.TTL,
		Retry:               retryCfg,
	}, services.ResolverDeps{
		Vocabulary: vocab,
		Schemas:    schemas,
		Mapper: services.NewEntityMapper(services.MapperOptions{
			MinScore:  cfg.Mapper.MinScore,
			TopK:      cfg.Mapper.TopK,
			UseOracle: cfg.Mapper.UseOracle,
		}, vocab, orc, logger),
		Classifier: services.NewQueryClassifier(services.ClassifierOptions{
			HighConfidence: cfg.Classifier.HighConfidence,
			MinConfidence:  cfg.Classifier.MinConfidence,
		}),
		Generator: services.NewQueryGenerator(logger),
		Search: services.NewDocumentSearchAdapter(index, services.SearchOptions{
			TopK:            cfg.Search.TopK,
			MaxTopK:         cfg.Search.MaxTopK,
			MinSimilarity:   cfg.Search.MinSimilarity,
			UseTypePriority: cfg.Search.UseTypePriority,
		}, vocab, logger),
		Combiner: services.NewResultCombiner(cfg.Combiner.StructuredWeight, cfg.Combiner.DocumentWeight),
		Cache:    store,
		Auditor:  audit.NewSecurityAuditor(logger),
	}, logger)

	return &app{cfg: cfg, logger: logger, resolver: resolver, index: index}, nil
}

// openConnections opens an adapter for every configured datasource. On error
// the adapters opened so far are still returned so the caller can close them.
func openConnections(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]*services.Connection, error) {
	factory := datasource.NewDatasourceAdapterFactory(logger)
	var out []*services.Connection
	for _, cc := range cfg.AllConnections() {
		adapter, err := factory.NewAdapter(ctx, cc.Type, cc.AdapterConfig())
		if err != nil {
			return out, fmt.Errorf("open connection %q: %s", cc.ID, logging.SanitizeError(err))
		}
		out = append(out, services.NewConnection(cc, adapter))
		logger.Info("Opened datasource",
			zap.String("connection_id", cc.ID),
			zap.String("type", cc.Type),
			zap.String("host", cc.Host),
			zap.String("database", cc.Database))
	}
	if len(out) == 0 {
		logger.Warn("No datasource configured; only document questions can be answered")
	}
	return out, nil
}

func newOracle(cfg *config.Config, logger *zap.Logger) (oracle.Oracle, error) {
	if !cfg.Oracle.Enabled() {
		logger.Info("Semantic oracle disabled; using heuristics only")
		return oracle.Disabled{}, nil
	}
	client, err := llm.NewClientFromConfig(cfg.Oracle, logger)
	if err != nil {
		return nil, err
	}
	breaker := llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
		Threshold:  cfg.Oracle.CircuitThreshold,
		ResetAfter: cfg.Oracle.CircuitResetAfter,
		OnStateChange: func(from, to llm.CircuitState) {
			logger.Warn("Oracle circuit changed state",
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			metrics.SetOracleCircuitOpen(to == llm.CircuitOpen)
		},
	})
	return oracle.NewLLMOracle(client, breaker, cfg.Oracle.Timeout, logger), nil
}

// newIndex returns nil when document search is not configured.
func newIndex(ctx context.Context, cfg *config.Config, retryCfg *retry.Config, logger *zap.Logger) (vectorstore.Index, error) {
	switch cfg.Search.Backend {
	case "", "none":
		logger.Info("Document search disabled")
		return nil, nil
	case "pgvector":
		if cfg.Search.DSN == "" {
			return nil, errors.New("search.backend is pgvector but SEARCH_DSN is empty")
		}
		embedder, err := llm.NewEmbedderFromConfig(cfg.Search, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Connecting document index", zap.String("backend", "pgvector"),
			zap.String("dsn", logging.SanitizeConnectionString(cfg.Search.DSN)))
		index, err := pgvector.New(ctx, cfg.Search.DSN, embedder, pgvector.Config{
			Table:          cfg.Search.Table,
			EmbeddingModel: cfg.Search.EmbeddingModel,
			Retry:          retryCfg,
		}, logger)
		if err != nil {
			return nil, err
		}
		return index, nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Search.Backend)
	}
}

// Close releases the pipeline, the vector index and flushes the logger.
func (a *app) Close() error {
	errs := []error{a.resolver.Close()}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
