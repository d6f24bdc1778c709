package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AlPairo/temis-backend/internal/platform/logger"
)

// EmbeddingCache memoizes query embeddings. Misses and cache failures both
// fall through to the provider; only hits short-circuit.
type EmbeddingCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Put(ctx context.Context, model, text string, vector []float32)
	Close() error
}

type embeddingCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewEmbeddingCache(log *logger.Logger) (EmbeddingCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &embeddingCache{
		log: log.With("service", "EmbeddingCache"),
		rdb: rdb,
		ttl: 24 * time.Hour,
	}, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return "temis:emb:" + hex.EncodeToString(sum[:])
}

func (c *embeddingCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(model, text)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("embedding cache read failed", "error", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *embeddingCache) Put(ctx context.Context, model, text string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(model, text), raw, c.ttl).Err(); err != nil {
		c.log.Warn("embedding cache write failed", "error", err)
	}
}

func (c *embeddingCache) Close() error {
	return c.rdb.Close()
}
