package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
)

const (
	// DefaultDocumentsTTL is how long SGD documents stay cached
	DefaultDocumentsTTL = 300 * time.Second
	// DefaultResultTTL is how long processing results stay cached
	DefaultResultTTL = time.Hour

	keyPrefix = "cache"
)

// despachoEntry is the JSON payload stored under cache:despacho:{id}
type despachoEntry struct {
	Documents []models.SGDDocument `json:"documents"`
	CachedAt  string               `json:"cached_at"`
	TTL       int                  `json:"ttl"`
}

// Cache stores SGD documents and processing results in Redis
type Cache struct {
	client       redis.UniversalClient
	documentsTTL time.Duration
	resultTTL    time.Duration
	logger       *logrus.Logger
	now          func() time.Time
}

// New creates a cache; zero TTLs fall back to the defaults
func New(client redis.UniversalClient, documentsTTL, resultTTL time.Duration, logger *logrus.Logger) *Cache {
	if documentsTTL <= 0 {
		documentsTTL = DefaultDocumentsTTL
	}
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &Cache{
		client:       client,
		documentsTTL: documentsTTL,
		resultTTL:    resultTTL,
		logger:       logger,
		now:          time.Now,
	}
}

func key(prefix, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, prefix, identifier)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes the SCAN MATCH special characters in s
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

func resultKey(despachoID, documentID string) string {
	if documentID != "" {
		return key("result", despachoID+":"+documentID)
	}
	return key("result", despachoID)
}

// GetDespachoDocuments returns the cached documents of a despacho.
// The boolean is false on a cache miss.
func (c *Cache) GetDespachoDocuments(ctx context.Context, despachoID string) ([]models.SGDDocument, bool, error) {
	data, err := c.client.Get(ctx, key("despacho", despachoID)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.WithField("despacho_id", despachoID).Info("Cache miss for despacho")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read despacho cache: %w", err)
	}

	var entry despachoEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode despacho cache: %w", err)
	}
	if entry.Documents == nil {
		entry.Documents = []models.SGDDocument{}
	}

	c.logger.WithField("despacho_id", despachoID).Info("Cache hit for despacho")
	return entry.Documents, true, nil
}

// SetDespachoDocuments caches the documents of a despacho. A zero ttl uses
// the configured documents TTL.
func (c *Cache) SetDespachoDocuments(ctx context.Context, despachoID string, docs []models.SGDDocument, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.documentsTTL
	}

	data, err := json.Marshal(despachoEntry{
		Documents: docs,
		CachedAt:  c.now().UTC().Format(time.RFC3339Nano),
		TTL:       int(ttl / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to encode despacho cache: %w", err)
	}

	if err := c.client.Set(ctx, key("despacho", despachoID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write despacho cache: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"despacho_id": despachoID,
		"ttl":         ttl.String(),
	}).Info("Despacho documents cached")
	return nil
}

// GetResult decodes a cached processing result into out. documentID may be
// empty for the despacho level result.
func (c *Cache) GetResult(ctx context.Context, despachoID, documentID string, out interface{}) (bool, error) {
	k := resultKey(despachoID, documentID)

	data, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read result cache: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode result cache %s: %w", k, err)
	}

	c.logger.WithField("key", k).Info("Result found in cache")
	return true, nil
}

// SetResult caches a processing result. A zero ttl uses the configured
// result TTL.
func (c *Cache) SetResult(ctx context.Context, despachoID, documentID string, result interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.resultTTL
	}
	k := resultKey(despachoID, documentID)

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if err := c.client.Set(ctx, k, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write result cache: %w", err)
	}

	c.logger.WithField("key", k).Info("Result cached")
	return nil
}

// InvalidateDespacho drops the cached documents and every cached result of
// a despacho. It returns the number of keys removed.
func (c *Cache) InvalidateDespacho(ctx context.Context, despachoID string) (int64, error) {
	removed, err := c.client.Del(ctx, key("despacho", despachoID), resultKey(despachoID, "")).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete despacho cache: %w", err)
	}

	// Per document results only, so despacho "1" never touches "10"
	pattern := resultKey(escapeGlob(despachoID), "*")
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan result cache: %w", err)
	}

	if len(keys) > 0 {
		n, err := c.client.Del(ctx, keys...).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to delete result cache: %w", err)
		}
		removed += n
	}

	c.logger.WithFields(logrus.Fields{
		"despacho_id": despachoID,
		"removed":     removed,
	}).Info("Cache invalidated for despacho")
	return removed, nil
}

// TTL returns the remaining lifetime of the cached despacho documents,
// zero when nothing is cached
func (c *Cache) TTL(ctx context.Context, despachoID string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key("despacho", despachoID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read cache ttl: %w", err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Ping reports whether Redis is reachable
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
