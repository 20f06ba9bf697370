package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"github.com/tenantiq/ragcore/internal/core/domain"
)

// SchemaVersion tags every cached payload. Bump it whenever the response
// shape changes: entries written under an older version are deleted on read
// instead of being served.
const SchemaVersion = "v2"

const (
	keyPrefix      = "rag:resp:"
	hashHexLength  = 16
	defaultTTL     = time.Hour
	defaultScanCnt = 100
	opTimeout      = 2 * time.Second
)

// Options tunes the response cache.
type Options struct {
	TTL       time.Duration
	ScanCount int64
}

// Client is the subset of redis commands the cache issues. *redis.Client and
// every redis.UniversalClient implementation satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// Cache is a tenant-scoped, content-addressed store of question/answer
// cycles. Every failure on the read or write path degrades to miss/no-op:
// answer availability never depends on cache availability.
type Cache struct {
	rdb    Client
	ttl    time.Duration
	scan   int64
	logger *slog.Logger
}

func New(rdb Client, logger *slog.Logger, opts Options) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	scan := opts.ScanCount
	if scan <= 0 {
		scan = defaultScanCnt
	}
	return &Cache{rdb: rdb, ttl: ttl, scan: scan, logger: logger}
}

// Get returns the cached response for (tenant, question), treating a
// schema-version mismatch as a miss and proactively deleting the stale entry.
func (c *Cache) Get(ctx context.Context, tenantID, question string) (*domain.CachedResponse, bool) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := Key(tenantID, question)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache_get_failed", "tenant_id", tenantID, "error", err)
		}
		return nil, false
	}

	var cached domain.CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("cache_payload_corrupt", "tenant_id", tenantID, "error", err)
		c.deleteQuietly(ctx, key)
		return nil, false
	}

	if cached.SchemaVersion != SchemaVersion {
		c.deleteQuietly(ctx, key)
		return nil, false
	}
	return &cached, true
}

// Set writes one question/answer cycle, stamping the current schema version
// and cache timestamp. A failed write is a no-op.
func (c *Cache) Set(ctx context.Context, tenantID, question string, response domain.CachedResponse) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	response.SchemaVersion = SchemaVersion
	response.CachedAt = time.Now().UTC()

	payload, err := json.Marshal(response)
	if err != nil {
		c.logger.Warn("cache_marshal_failed", "tenant_id", tenantID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, Key(tenantID, question), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("cache_set_failed", "tenant_id", tenantID, "error", err)
	}
}

// InvalidateTenant deletes every cached entry under the tenant's key prefix,
// scanning and deleting in bounded batches so invalidation never blocks
// other cache traffic behind one unbounded listing call. Must be called
// whenever the tenant's corpus changes.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	pattern := keyPrefix + tenantID + ":*"
	deleted := 0
	var cursor uint64

	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, c.scan).Result()
		if err != nil {
			return deleted, domain.WrapError(domain.ErrCache, "invalidate tenant scan", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, domain.WrapError(domain.ErrCache, "invalidate tenant delete", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (c *Cache) deleteQuietly(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache_delete_failed", "key", key, "error", err)
	}
}

// Key derives the cache key for one tenant/question pair: the normalized
// question is hashed so key length is bounded and free of special
// characters, and the tenant id sits in the key itself so tenants can never
// collide even for identical questions.
func Key(tenantID, question string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(question)))
	return keyPrefix + tenantID + ":" + hex.EncodeToString(sum[:])[:hashHexLength]
}

// NormalizeQuestion collapses trivially different phrasings of the same
// question onto one key: lowercase, trimmed, trailing '?', '!', '.' runs
// stripped, internal whitespace collapsed to single spaces.
func NormalizeQuestion(question string) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	normalized = strings.TrimRight(normalized, "?!.")
	normalized = strings.TrimRightFunc(normalized, unicode.IsSpace)
	return strings.Join(strings.Fields(normalized), " ")
}
