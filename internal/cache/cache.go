// Package cache provides an optional Redis-backed cache of query-string
// embeddings, so repeated retrieval queries skip the external model call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Conn opens and pings a Redis connection.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// QueryCache caches query embeddings keyed by model and query hash. A nil
// *QueryCache is a valid no-op cache.
type QueryCache struct {
	client *redis.Client
	model  string
	ttl    time.Duration
	logger *log.Logger
}

func New(client *redis.Client, model string, ttl time.Duration, logger *log.Logger) *QueryCache {
	return &QueryCache{client: client, model: model, ttl: ttl, logger: logger}
}

// Key derives the cache key for a query string.
func (c *QueryCache) Key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "docindex:qe:" + c.model + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector for a query, reporting whether it was found.
// Any Redis failure is treated as a miss.
func (c *QueryCache) Get(ctx context.Context, query string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.Key(query)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

// Put stores a query vector best-effort; failures are logged and ignored.
func (c *QueryCache) Put(ctx context.Context, query string, vec []float32) {
	if c == nil || c.client == nil || len(vec) == 0 {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.Key(query), raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Printf("query cache put failed: %v", err)
	}
}
