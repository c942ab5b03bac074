// Package config provides unified configuration loading for the recommendation core.
// Supports YAML files, .env files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// Config holds all configuration. It is loaded once at process start and
// treated as immutable afterwards.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Vector        VectorConfig        `yaml:"vector"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Sentiment     SentimentConfig     `yaml:"sentiment"`
	Generation    GenerationConfig    `yaml:"generation"`
	Chunking      ChunkingConfig      `yaml:"chunking"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Ranking       RankingConfig       `yaml:"ranking"`
	Context       ContextConfig       `yaml:"context"`
	Categories    CategoryConfig      `yaml:"categories"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds profile store connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // memory, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Adapter         string       `yaml:"adapter"` // memory or qdrant
	IndexName       string       `yaml:"index_name"`
	Dimension       int          `yaml:"dimension"`
	UpsertBatchSize int          `yaml:"upsert_batch_size"`
	Qdrant          QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant REST settings.
type QdrantConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver       string        `yaml:"driver"` // memory or redis
	TTL          time.Duration `yaml:"ttl"`
	MaxEntries   int           `yaml:"max_entries"`
	AuditChannel string        `yaml:"audit_channel"`
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// EmbeddingConfig holds embedding model settings. Index build and query
// time must use the same model and dimension.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // openai or mock
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// SentimentConfig holds review sentiment scorer settings.
type SentimentConfig struct {
	Provider string        `yaml:"provider"` // lexicon or http
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// GenerationConfig holds LLM generation settings.
type GenerationConfig struct {
	Enabled           bool          `yaml:"enabled"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float32       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// ChunkingConfig holds per-type text bounds and the spec batching policy.
type ChunkingConfig struct {
	CoreInfoMaxChars    int `yaml:"core_info_max_chars"`
	DescriptionMaxChars int `yaml:"description_max_chars"`
	SpecMaxChars        int `yaml:"spec_max_chars"`
	ReviewMaxChars      int `yaml:"review_max_chars"`
	SpecBatchThreshold  int `yaml:"spec_batch_threshold"`
	SpecBatchSize       int `yaml:"spec_batch_size"`
}

// RetrievalConfig holds vector search settings.
type RetrievalConfig struct {
	TopK             int           `yaml:"top_k"`
	OversampleFactor int           `yaml:"oversample_factor"`
	MinDesired       int           `yaml:"min_desired"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	Concurrent       bool          `yaml:"concurrent"`
}

// Weights are the fixed fusion weights. Named fields, never string-keyed.
type Weights struct {
	Similarity  float64 `yaml:"similarity"`
	Sentiment   float64 `yaml:"sentiment"`
	Preference  float64 `yaml:"preference"`
	IntentBonus float64 `yaml:"intent_bonus"`
}

// RankingConfig holds fusion weights and diversity caps.
type RankingConfig struct {
	TopK                int     `yaml:"top_k"`
	Weights             Weights `yaml:"weights"`
	StrictBudget        bool    `yaml:"strict_budget"`
	BrandCapFraction    float64 `yaml:"brand_cap_fraction"`
	CategoryCapFraction float64 `yaml:"category_cap_fraction"`
}

// ContextConfig bounds the generation context payload.
type ContextConfig struct {
	MaxChunksPerProduct int `yaml:"max_chunks_per_product"`
	MaxTotalChars       int `yaml:"max_total_chars"`
	MaxProducts         int `yaml:"max_products"`
}

// CategoryConfig is the static category relation map.
type CategoryConfig struct {
	Related      map[string][]string `yaml:"related"`
	Aliases      map[string][]string `yaml:"aliases"`
	MaxExpansion int                 `yaml:"max_expansion"`
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel  string     `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	OTEL      OTELConfig `yaml:"otel"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file, then .env, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Missing .env files are fine.
	_ = godotenv.Load()
	if path != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   45 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/commerce-rag.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Vector: VectorConfig{
			Adapter:         "memory",
			IndexName:       "ecommerce-products",
			Dimension:       384,
			UpsertBatchSize: 100,
			Qdrant: QdrantConfig{
				URL:     "http://localhost:6333",
				Timeout: 15 * time.Second,
			},
		},
		Cache: CacheConfig{
			Driver:       "memory",
			TTL:          10 * time.Minute,
			MaxEntries:   10000,
			AuditChannel: "query.audit",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "crag:",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "mock",
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			Dimension: 384,
			BatchSize: 64,
			Timeout:   30 * time.Second,
			CacheTTL:  time.Hour,
		},
		Sentiment: SentimentConfig{
			Provider: "lexicon",
			Timeout:  5 * time.Second,
		},
		Generation: GenerationConfig{
			Enabled:           false,
			BaseURL:           "https://api.perplexity.ai",
			Model:             "sonar",
			MaxTokens:         900,
			Temperature:       0.1,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 60,
		},
		Chunking: ChunkingConfig{
			CoreInfoMaxChars:    400,
			DescriptionMaxChars: 200,
			SpecMaxChars:        400,
			ReviewMaxChars:      500,
			SpecBatchThreshold:  8,
			SpecBatchSize:       5,
		},
		Retrieval: RetrievalConfig{
			TopK:             12,
			OversampleFactor: 3,
			MinDesired:       5,
			Timeout:          5 * time.Second,
			MaxRetries:       3,
			InitialBackoff:   200 * time.Millisecond,
			Concurrent:       false,
		},
		Ranking: RankingConfig{
			TopK: 9,
			Weights: Weights{
				Similarity:  1.0,
				Sentiment:   0.15,
				Preference:  0.25,
				IntentBonus: 0.1,
			},
			StrictBudget:        false,
			BrandCapFraction:    1.0 / 3.0,
			CategoryCapFraction: 1.0,
		},
		Context: ContextConfig{
			MaxChunksPerProduct: 3,
			MaxTotalChars:       4000,
			MaxProducts:         5,
		},
		Categories: CategoryConfig{
			Related:      DefaultRelatedCategories(),
			Aliases:      DefaultCategoryAliases(),
			MaxExpansion: 3,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			OTEL: OTELConfig{
				Enabled:     false,
				Endpoint:    "localhost:4317",
				ServiceName: "commerce-rag",
			},
		},
	}
}

// DefaultRelatedCategories returns the built-in category relation map.
func DefaultRelatedCategories() map[string][]string {
	return map[string][]string{
		"Smartphones":  {"Smartwatches", "Headphones"},
		"Laptops":      {"Monitors", "Headphones"},
		"Headphones":   {"Smartphones", "Laptops"},
		"Smartwatches": {"Smartphones"},
		"Gaming":       {"Headphones", "Monitors"},
		"Tablets":      {"Keyboards", "Headphones"},
		"Smart Home":   {"Smartphones"},
		"Cameras":      {"Headphones", "Storage"},
	}
}

// DefaultCategoryAliases maps categories to query words that imply them.
func DefaultCategoryAliases() map[string][]string {
	return map[string][]string{
		"Smartphones":  {"phone", "phones", "smartphone", "iphone", "pixel", "galaxy"},
		"Laptops":      {"laptop", "laptops", "notebook", "macbook", "ultrabook", "chromebook"},
		"Headphones":   {"headphone", "headphones", "earbuds", "headset", "earphones"},
		"Smartwatches": {"smartwatch", "smartwatches", "watch", "watches"},
		"Gaming":       {"gaming", "console", "consoles", "controller"},
		"Tablets":      {"tablet", "tablets", "ipad"},
		"Smart Home":   {"smart home", "smart speaker", "thermostat", "doorbell"},
		"Cameras":      {"camera", "cameras", "dslr", "mirrorless"},
		"Monitors":     {"monitor", "monitors", "display"},
		"Keyboards":    {"keyboard", "keyboards"},
		"Storage":      {"ssd", "hard drive", "memory card"},
	}
}

// Validate checks the configuration for errors. Failures are ConfigErrors and
// are fatal at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return domain.ConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			return domain.ConfigError("postgres dsn is required", nil)
		}
	default:
		return domain.ConfigError(fmt.Sprintf("invalid database driver: %s", c.Database.Driver), nil)
	}

	if c.Vector.IndexName == "" {
		return domain.ConfigError("vector index name is required", nil)
	}
	switch c.Vector.Adapter {
	case "memory":
	case "qdrant":
		if c.Vector.Qdrant.URL == "" {
			return domain.ConfigError("qdrant url is required", nil)
		}
	default:
		return domain.ConfigError(fmt.Sprintf("invalid vector adapter: %s", c.Vector.Adapter), nil)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return domain.ConfigError(fmt.Sprintf("invalid cache driver: %s", c.Cache.Driver), nil)
	}

	switch c.Embedding.Provider {
	case "mock":
	case "openai":
		if c.Embedding.APIKey == "" {
			return domain.ConfigError("embedding api key is required", nil)
		}
	default:
		return domain.ConfigError(fmt.Sprintf("invalid embedding provider: %s", c.Embedding.Provider), nil)
	}
	if c.Embedding.Dimension <= 0 {
		return domain.ConfigError("embedding dimension must be positive", nil)
	}

	if c.Sentiment.Provider != "lexicon" && c.Sentiment.Provider != "http" {
		return domain.ConfigError(fmt.Sprintf("invalid sentiment provider: %s", c.Sentiment.Provider), nil)
	}
	if c.Sentiment.Provider == "http" && c.Sentiment.Endpoint == "" {
		return domain.ConfigError("sentiment endpoint is required", nil)
	}

	if c.Generation.Enabled && c.Generation.APIKey == "" {
		return domain.ConfigError("generation api key is required when generation is enabled", nil)
	}

	if c.Chunking.DescriptionMaxChars < 1 || c.Chunking.SpecBatchSize < 1 {
		return domain.ConfigError("chunking bounds must be positive", nil)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.OversampleFactor < 1 {
		return domain.ConfigError("retrieval top_k and oversample_factor must be positive", nil)
	}

	if c.Ranking.TopK < 1 {
		return domain.ConfigError("ranking top_k must be positive", nil)
	}
	if c.Ranking.BrandCapFraction <= 0 || c.Ranking.BrandCapFraction > 1 ||
		c.Ranking.CategoryCapFraction <= 0 || c.Ranking.CategoryCapFraction > 1 {
		return domain.ConfigError("diversity cap fractions must be in (0, 1]", nil)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("VECTOR_ADAPTER"); v != "" {
		cfg.Vector.Adapter = v
	}

	if v := os.Getenv("VECTOR_INDEX_NAME"); v != "" {
		cfg.Vector.IndexName = v
	}

	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.Vector.Adapter = "qdrant"
		cfg.Vector.Qdrant.URL = v
	}

	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Vector.Qdrant.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.Provider = "openai"
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.Generation.Enabled = true
		cfg.Generation.APIKey = v
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.Generation.BaseURL = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Generation.Model = v
	}

	if v := os.Getenv("SENTIMENT_ENDPOINT"); v != "" {
		cfg.Sentiment.Provider = "http"
		cfg.Sentiment.Endpoint = v
	}

	if v := os.Getenv("STRICT_BUDGET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Ranking.StrictBudget = b
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTEL.Endpoint = v
		cfg.Observability.OTEL.Enabled = true
	}

	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.Observability.OTEL.ServiceName = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	return filepath.Join(filepath.Dir(configPath), targetPath)
}
