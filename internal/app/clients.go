package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/AlPairo/temis-backend/internal/platform/logger"
	"github.com/AlPairo/temis-backend/internal/platform/openai"
	"github.com/AlPairo/temis-backend/internal/platform/qdrant"
	"github.com/AlPairo/temis-backend/internal/platform/rediscache"
)

type Clients struct {
	AI     openai.Client
	Vector qdrant.Client
	Cache  rediscache.EmbeddingCache
}

func NewClients(log *logger.Logger, cfg Config) (*Clients, error) {
	ai, err := openai.NewClient(log)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	qcfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("qdrant config: %w", err)
	}
	vector, err := qdrant.NewClient(log, qcfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	c := &Clients{AI: ai, Vector: vector}

	if cfg.RedisCacheEnabled {
		cache, err := rediscache.NewEmbeddingCache(log)
		if err != nil {
			// The cache is an optimization; a dead redis must not block boot.
			log.Warn("embedding cache disabled", "error", err)
		} else {
			c.Cache = cache
		}
	}
	return c, nil
}

func (c *Clients) Close() {
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
}

// EmbedCredentialSet reports whether the embedding provider credential is
// present, checked once at wiring time.
func EmbedCredentialSet() bool {
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != ""
}
