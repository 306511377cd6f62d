package reasoning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/cache"
	"github.com/spherical-ai/spherical/libs/compliance-engine/internal/observability"
)

// CachedService memoizes successful responses keyed by model, temperature and prompt.
// Failures are never cached.
type CachedService struct {
	inner  Service
	cache  cache.Client
	model  string
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedService wraps inner with a response cache.
func NewCachedService(inner Service, c cache.Client, model string, ttl time.Duration, logger *observability.Logger) *CachedService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedService{
		inner:  inner,
		cache:  c,
		model:  model,
		ttl:    ttl,
		logger: observability.OrNop(logger),
	}
}

// Key returns the cache key for a prompt.
func (s *CachedService) Key(prompt string, opts Options) string {
	h := sha256.New()
	h.Write([]byte(s.model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(opts.Temperature, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return cache.CacheKey("reasoning", hex.EncodeToString(h.Sum(nil)))
}

func (s *CachedService) Invoke(ctx context.Context, prompt string, opts Options) (string, error) {
	key := s.Key(prompt, opts)

	if data, err := s.cache.Get(ctx, key); err == nil {
		s.logger.Debug().Str("key", key).Msg("reasoning cache hit")
		return string(data), nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Msg("reasoning cache read failed")
	}

	text, err := s.inner.Invoke(ctx, prompt, opts)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, key, []byte(text), s.ttl); err != nil {
		s.logger.Warn().Err(err).Msg("reasoning cache write failed")
	}
	return text, nil
}
