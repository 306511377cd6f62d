// Package app assembles the compliance engine components from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/compliance"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/extract"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/pipeline"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/ranking"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/reasoning"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/storage"
)

// Services holds the wired components. Fields other than Config and Logger may be nil when
// the corresponding backend is unavailable.
type Services struct {
	Config        *config.Config
	Logger        *observability.Logger
	Cache         cache.Client
	Reasoning     reasoning.Service
	DB            *sql.DB
	SQL           *storage.SQLStore
	KnowledgeBase *storage.KnowledgeBase
	Store         storage.Store
	Extractor     *extract.Extractor
	Ranker        *ranking.Ranker
	Comparator    *compliance.Comparator
	Pipeline      *pipeline.Pipeline
}

// Options adjust how Build wires the components.
type Options struct {
	// Reasoning replaces the configured provider, e.g. with a scripted service.
	Reasoning reasoning.Service
	// SkipDatabase leaves the relational store unopened.
	SkipDatabase bool
}

// Build wires every component from cfg. A missing database or knowledge base is logged
// and skipped; the store chain uses whichever backends opened.
func Build(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts Options) (*Services, error) {
	logger = observability.OrNop(logger)
	s := &Services{Config: cfg, Logger: logger}

	// Step 1: Cache
	c, err := cache.Open(cfg.Cache)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Cache.Driver).Msg("cache unavailable, using memory cache")
		c = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	}
	s.Cache = c

	// Step 2: Reasoning service
	s.Reasoning = opts.Reasoning
	if s.Reasoning == nil {
		svc, err := reasoning.New(cfg.Reasoning, c, logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("create reasoning service: %w", err)
		}
		s.Reasoning = svc
	}

	// Step 3: Specification stores
	var stores []storage.Store
	if !opts.SkipDatabase {
		driver, dsn := cfg.DatabaseDSN()
		db, err := storage.OpenDB(ctx, driver, dsn)
		if err != nil {
			logger.Warn().Err(err).Str("driver", driver).Msg("database unavailable")
		} else {
			s.DB = db
			s.SQL = storage.NewSQLStore(db, logger)
			stores = append(stores, s.SQL)
		}
	}

	if cfg.KnowledgeBase.Path != "" {
		kb, err := storage.LoadKnowledgeBase(cfg.KnowledgeBase.Path, logger)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.KnowledgeBase.Path).Msg("knowledge base unavailable")
		} else {
			s.KnowledgeBase = kb
			stores = append(stores, kb)
		}
	}

	s.Store = storage.NewCachedStore(storage.NewChainStore(logger, stores...), c, cfg.Cache.TTL)

	// Step 4: Components
	s.Extractor = extract.NewExtractor(s.Reasoning, extract.Config{
		DedupeThreshold: cfg.Extraction.DedupeThreshold,
		Temperature:     cfg.Extraction.Temperature,
		Timeout:         cfg.Reasoning.Timeout,
	}, logger)

	rankCfg := ranking.ConfigFrom(cfg.Ranking, cfg.Reasoning.Timeout)
	var source ranking.CandidateSource
	if s.SQL != nil {
		source = s.SQL
	}
	var proposer ranking.Proposer
	if s.KnowledgeBase != nil {
		proposer = ranking.NewKnowledgeProposer(s.Reasoning, s.KnowledgeBase, reasoning.Options{
			Temperature: rankCfg.Temperature,
			Timeout:     rankCfg.Timeout,
		}, logger)
	}
	s.Ranker = ranking.NewRanker(s.Reasoning, source, proposer, rankCfg, logger)

	s.Comparator = compliance.NewComparator(s.Reasoning, compliance.ConfigFrom(cfg.Comparison), logger)
	s.Pipeline = pipeline.New(s.Extractor, s.Ranker, s.Store, s.Comparator, logger)

	logger.Info().
		Str("provider", cfg.Reasoning.Provider).
		Bool("database", s.SQL != nil).
		Bool("knowledge_base", s.KnowledgeBase != nil).
		Str("cache", cfg.Cache.Driver).
		Msg("services ready")

	return s, nil
}

// Close releases the database and cache.
func (s *Services) Close() error {
	var errs []error
	if s.DB != nil {
		errs = append(errs, s.DB.Close())
	}
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	return errors.Join(errs...)
}
