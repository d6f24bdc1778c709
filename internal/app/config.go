package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AlPairo/temis-backend/internal/platform/envutil"
)

// Config is resolved once at startup: environment variables first, then an
// optional YAML file (CONFIG_FILE) overlaying non-empty values on top.
type Config struct {
	Port        string `yaml:"port"`
	LogMode     string `yaml:"log_mode"`
	GinMode     string `yaml:"gin_mode"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`

	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`

	QdrantCollection string `yaml:"qdrant_collection"`

	RedisCacheEnabled bool `yaml:"redis_cache_enabled"`
}

func LoadConfig() (Config, error) {
	cfg := Config{
		Port:              envutil.Str("PORT", "8080"),
		LogMode:           envutil.Str("LOG_MODE", "development"),
		GinMode:           envutil.Str("GIN_MODE", ""),
		Environment:       envutil.Str("APP_ENV", "development"),
		Version:           envutil.Str("APP_VERSION", ""),
		Model:             envutil.Str("OPENAI_MODEL", "gpt-4o-mini"),
		EmbedModel:        envutil.Str("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		QdrantCollection:  envutil.Str("QDRANT_COLLECTION", "legal_chunks"),
		RedisCacheEnabled: envutil.Bool("REDIS_CACHE_ENABLED", false),
	}

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg.apply(overlay)
	return cfg, nil
}

func (c *Config) apply(o Config) {
	if o.Port != "" {
		c.Port = o.Port
	}
	if o.LogMode != "" {
		c.LogMode = o.LogMode
	}
	if o.GinMode != "" {
		c.GinMode = o.GinMode
	}
	if o.Environment != "" {
		c.Environment = o.Environment
	}
	if o.Version != "" {
		c.Version = o.Version
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.EmbedModel != "" {
		c.EmbedModel = o.EmbedModel
	}
	if o.QdrantCollection != "" {
		c.QdrantCollection = o.QdrantCollection
	}
	if o.RedisCacheEnabled {
		c.RedisCacheEnabled = true
	}
}
