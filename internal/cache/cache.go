// Package cache provides namespaced, TTL-bound caching over a pluggable
// backend. Backend failures never propagate to callers; a failed get is a
// miss and a failed set is a no-op, logged for observability.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ErrMiss is returned by backends when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// ErrPatternUnsupported is returned by backends that cannot enumerate keys
// by pattern. The Cache wrapper degrades to clearing the whole backend,
// which is deliberately coarse but never a silent no-op.
var ErrPatternUnsupported = errors.New("cache: pattern deletion unsupported")

// Backend is the raw keyed byte store a Cache wraps. Implementations must
// be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	DelPattern(ctx context.Context, pattern string) error
	Clear(ctx context.Context) error
}

// truncatedKeyLen keeps derived keys compact; 20 hex chars of md5 is plenty
// for cache-key dispersion.
const truncatedKeyLen = 20

// Cache namespaces a Backend under a prefix and applies a role-specific
// default TTL.
type Cache struct {
	backend Backend
	prefix  string
	ttl     time.Duration
	log     zerolog.Logger
}

func New(backend Backend, prefix string, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		backend: backend,
		prefix:  prefix,
		ttl:     ttl,
		log:     log.With().Str("cache", prefix).Logger(),
	}
}

// Key derives a deterministic key from a structured parameter set. The
// params are canonicalized (sorted keys, stable JSON) and digested, so the
// result is independent of map iteration order and process identity. An
// optional suffix is prepended to the digest to aid debugging and
// pattern-based invalidation.
func (c *Cache) Key(params map[string]any, suffix string) string {
	canonical, err := canonicalize(params)
	if err != nil {
		// Fall back to a stable textual form; params are plain values so
		// this path should be unreachable in practice.
		canonical = []byte(fmt.Sprintf("%v", params))
	}
	sum := md5.Sum(canonical)
	digest := hex.EncodeToString(sum[:])[:truncatedKeyLen]
	if suffix != "" {
		return suffix + "_" + digest
	}
	return digest
}

// Get returns the cached value for key, or ok=false on a miss or any
// backend failure.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.backend.Get(ctx, c.prefixed(key))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key with the cache's default TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	c.SetTTL(ctx, key, value, c.ttl)
}

// SetTTL stores value under key with an explicit TTL.
func (c *Cache) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.backend.Set(ctx, c.prefixed(key), value, ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.backend.Del(ctx, c.prefixed(key)); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}

// DeletePattern removes every key in this namespace matching the glob
// pattern. When the backend cannot match patterns the whole backend is
// cleared instead.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	err := c.backend.DelPattern(ctx, c.prefixed(pattern))
	if err == nil {
		return
	}
	if errors.Is(err, ErrPatternUnsupported) {
		c.log.Warn().Str("pattern", pattern).Msg("backend cannot delete by pattern, clearing cache")
		if err := c.backend.Clear(ctx); err != nil {
			c.log.Warn().Err(err).Msg("cache clear failed")
		}
		return
	}
	c.log.Warn().Err(err).Str("pattern", pattern).Msg("cache pattern delete failed")
}

// Clear removes every key in this namespace.
func (c *Cache) Clear(ctx context.Context) {
	c.DeletePattern(ctx, "*")
}

func (c *Cache) prefixed(key string) string {
	return c.prefix + ":" + key
}

func canonicalize(params map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(params[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
