// Package storage resolves meter model numbers to normalized specification records.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
)

// Store resolves a model number to its specification. A miss returns domain.ErrSpecNotFound.
type Store interface {
	Find(ctx context.Context, modelNumber string) (*domain.MeterSpec, error)
}

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OpenDB opens a database handle for driver ("sqlite3" or "postgres") and verifies it.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// ChainStore tries stores in order and returns the first hit. Records are never merged.
type ChainStore struct {
	stores []Store
	logger *observability.Logger
}

// NewChainStore creates a chain over stores. Nil entries are skipped.
func NewChainStore(logger *observability.Logger, stores ...Store) *ChainStore {
	kept := make([]Store, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &ChainStore{stores: kept, logger: observability.OrNop(logger).WithComponent("store")}
}

func (c *ChainStore) Find(ctx context.Context, modelNumber string) (*domain.MeterSpec, error) {
	var lastErr error
	for _, s := range c.stores {
		spec, err := s.Find(ctx, modelNumber)
		if err == nil && !spec.IsEmpty() {
			return spec, nil
		}
		if err != nil && !errors.Is(err, domain.ErrSpecNotFound) {
			c.logger.Warn().Str("model", modelNumber).Err(err).Msg("store lookup failed, trying next")
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w for %s (last error: %v)", domain.ErrSpecNotFound, modelNumber, lastErr)
	}
	return nil, fmt.Errorf("%w for %s", domain.ErrSpecNotFound, modelNumber)
}

// CachedStore memoizes hits from an inner store. Misses are not cached.
type CachedStore struct {
	inner Store
	cache cache.Client
	ttl   time.Duration
}

// NewCachedStore wraps inner with a spec cache.
func NewCachedStore(inner Store, c cache.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedStore{inner: inner, cache: c, ttl: ttl}
}

func (s *CachedStore) Find(ctx context.Context, modelNumber string) (*domain.MeterSpec, error) {
	key := cache.CacheKey("spec", strings.ToUpper(strings.TrimSpace(modelNumber)))

	var spec domain.MeterSpec
	if err := cache.GetJSON(ctx, s.cache, key, &spec); err == nil {
		return &spec, nil
	}

	found, err := s.inner.Find(ctx, modelNumber)
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(ctx, s.cache, key, found, s.ttl)
	return found, nil
}
