package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"XSlicer/logger"
	"XSlicer/model"

	"github.com/go-redis/redis/v8"
)

// DefaultResolveTTL is how long a URL resolution is remembered.
const DefaultResolveTTL = 6 * time.Hour

// Resolver is the resolution capability being memoised.
type Resolver interface {
	Resolve(ctx context.Context, link string) (*model.ContentRecord, error)
}

// ResolveCache memoises URL -> metadata-only record in Redis so repeated
// requests for a URL skip the yt-dlp metadata probe.
// Redis failures degrade to calling the wrapped resolver.
type ResolveCache struct {
	next   Resolver
	client *redis.Client
	ttl    time.Duration
}

// NewResolveCache wraps next with a Redis-backed memo.
func NewResolveCache(next Resolver, client *redis.Client, ttl time.Duration) *ResolveCache {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}
	return &ResolveCache{next: next, client: client, ttl: ttl}
}

func resolveKey(link string) string {
	sum := sha256.Sum256([]byte(link))
	return keyPrefix + "resolve:" + hex.EncodeToString(sum[:])
}

// Resolve returns the memoised record for link or resolves and stores it.
// Failed resolutions are never cached.
func (c *ResolveCache) Resolve(ctx context.Context, link string) (*model.ContentRecord, error) {
	key := resolveKey(link)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec model.ContentRecord
		if jerr := json.Unmarshal(data, &rec); jerr == nil && rec.ID != "" {
			logger.Debug("resolve cache hit", logger.SongID(rec.ID), logger.String("url", link))
			rec.SourceLink = link
			return &rec, nil
		}
		logger.Warn("discarding undecodable resolve cache entry", logger.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn("resolve cache unavailable", logger.String("key", key), logger.ErrorField(err))
	}

	rec, err := c.next.Resolve(ctx, link)
	if err != nil {
		return nil, err
	}

	meta := rec.Clone()
	meta.Rhythm = nil
	meta.AudioPath = ""
	meta.AnalyzedAt = nil
	payload, err := json.Marshal(meta)
	if err == nil {
		err = c.client.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		logger.Warn("failed to store resolve cache entry", logger.String("key", key), logger.ErrorField(err))
	}
	return rec, nil
}

// Invalidate drops the memoised resolution of link.
func (c *ResolveCache) Invalidate(ctx context.Context, link string) error {
	return c.client.Del(ctx, resolveKey(link)).Err()
}
