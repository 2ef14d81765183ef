package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "graph-memory/backend/pkg/errors"
)

// DefaultOwnerID is the partition used when a caller omits owner_id
const DefaultOwnerID = "default"

// Store backends
const (
	StoreNeo4j  = "neo4j"
	StoreMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// StoreBackend selects the graph store: "neo4j" or "memory"
	StoreBackend string

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string
	StoreTimeout  time.Duration

	// Redis (job locks)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Embeddings
	EmbeddingURL        string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbedTimeout        time.Duration

	Memory     MemoryConfig
	Validation ValidationConfig
	Cache      CacheConfig
	Jobs       JobsConfig
}

// MemoryConfig holds search, linking and traversal defaults
type MemoryConfig struct {
	DefaultOwnerID string

	DefaultSearchLimit          int
	SemanticSimilarityThreshold float64

	AutoLinkThreshold float64
	AutoLinkMax       int

	SubgraphDefaultDepth    int
	SubgraphMaxDepth        int
	SubgraphDefaultMaxNodes int
	SubgraphMaxNodesLimit   int

	TraceMaxPaths int
	TraceMaxDepth int
}

// ValidationConfig holds input limits
type ValidationConfig struct {
	MaxTextLength   int
	MaxMetadataSize int
	MinTTLDays      float64
	MaxTTLDays      float64
}

// CacheConfig holds embedding and search cache settings
type CacheConfig struct {
	EmbeddingsEnabled bool
	EmbeddingsMaxSize int
	SearchEnabled     bool
	SearchMaxSize     int
	SearchTTL         time.Duration
}

// JobsConfig is handed to the scheduler at startup
type JobsConfig struct {
	Enabled          bool
	OwnerIDs         []string
	ProcessAllOwners bool
	LockTTL          time.Duration

	DedupEnabled             bool
	DedupCron                string
	DedupHoursThreshold      int
	DedupSimilarityThreshold float64

	ArchiveEnabled bool
	ArchiveCron    string

	RetryMaxAttempts int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", ""),
		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", StoreNeo4j)),
		Neo4jURI:      getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", ""),
		StoreTimeout:  getEnvDuration("STORE_TIMEOUT", 10*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		EmbeddingURL:        getEnv("EMBEDDING_URL", "http://localhost:4000"),
		EmbeddingAPIKey:     getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		EmbedTimeout:        getEnvDuration("EMBED_TIMEOUT", 15*time.Second),

		Memory:     loadMemory(),
		Validation: loadValidation(),
		Cache:      loadCache(),
		Jobs:       loadJobs(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadMemory() MemoryConfig {
	return MemoryConfig{
		DefaultOwnerID:              getEnv("DEFAULT_OWNER_ID", DefaultOwnerID),
		DefaultSearchLimit:          getEnvInt("DEFAULT_SEARCH_LIMIT", 10),
		SemanticSimilarityThreshold: getEnvFloat("SEMANTIC_SIMILARITY_THRESHOLD", 0.55),
		AutoLinkThreshold:           getEnvFloat("AUTO_LINK_THRESHOLD", 0.75),
		AutoLinkMax:                 getEnvInt("AUTO_LINK_MAX", 0),
		SubgraphDefaultDepth:        getEnvInt("SUBGRAPH_DEFAULT_DEPTH", 1),
		SubgraphMaxDepth:            getEnvInt("SUBGRAPH_MAX_DEPTH", 3),
		SubgraphDefaultMaxNodes:     getEnvInt("SUBGRAPH_DEFAULT_MAX_NODES", 20),
		SubgraphMaxNodesLimit:       getEnvInt("SUBGRAPH_MAX_NODES_LIMIT", 50),
		TraceMaxPaths:               getEnvInt("TRACE_MAX_PATHS", 5),
		TraceMaxDepth:               getEnvInt("TRACE_MAX_DEPTH", 5),
	}
}

func loadValidation() ValidationConfig {
	return ValidationConfig{
		MaxTextLength:   getEnvInt("MAX_TEXT_LENGTH", 10000),
		MaxMetadataSize: getEnvInt("MAX_METADATA_SIZE", 100000),
		MinTTLDays:      getEnvFloat("MIN_TTL_DAYS", 0),
		MaxTTLDays:      getEnvFloat("MAX_TTL_DAYS", 3650),
	}
}

func loadCache() CacheConfig {
	return CacheConfig{
		EmbeddingsEnabled: getEnvBool("CACHE_EMBEDDINGS_ENABLED", true),
		EmbeddingsMaxSize: getEnvInt("CACHE_EMBEDDINGS_MAXSIZE", 1000),
		SearchEnabled:     getEnvBool("CACHE_SEARCH_ENABLED", true),
		SearchMaxSize:     getEnvInt("CACHE_SEARCH_MAXSIZE", 100),
		SearchTTL:         getEnvDuration("CACHE_SEARCH_TTL", 60*time.Second),
	}
}

func loadJobs() JobsConfig {
	return JobsConfig{
		Enabled:                  getEnvBool("JOBS_ENABLED", false),
		OwnerIDs:                 getEnvList("JOBS_OWNER_IDS", []string{DefaultOwnerID}),
		ProcessAllOwners:         getEnvBool("JOBS_PROCESS_ALL_OWNERS", false),
		LockTTL:                  getEnvDuration("JOBS_LOCK_TTL", 10*time.Minute),
		DedupEnabled:             getEnvBool("JOB_DEDUP_ENABLED", false),
		DedupCron:                getEnv("JOB_DEDUP_CRON", "0 * * * *"),
		DedupHoursThreshold:      getEnvInt("JOB_DEDUP_HOURS_THRESHOLD", 24),
		DedupSimilarityThreshold: getEnvFloat("JOB_DEDUP_SIMILARITY_THRESHOLD", 0.95),
		ArchiveEnabled:           getEnvBool("JOB_ARCHIVE_ENABLED", false),
		ArchiveCron:              getEnv("JOB_ARCHIVE_CRON", "0 3 * * 0"),
		RetryMaxAttempts:         getEnvInt("JOB_RETRY_MAX_ATTEMPTS", 3),
		RetryBackoffBase:         getEnvDuration("JOB_RETRY_BACKOFF_BASE", 2*time.Second),
		RetryBackoffMax:          getEnvDuration("JOB_RETRY_BACKOFF_MAX", 30*time.Second),
	}
}

// Default returns the configuration used when no environment is present.
// Tests build on it instead of calling Load.
func Default() *Config {
	return &Config{
		Port:                "8080",
		Env:                 "development",
		StoreBackend:        StoreNeo4j,
		Neo4jURI:            "bolt://localhost:7687",
		Neo4jUser:           "neo4j",
		Neo4jPassword:       "password",
		StoreTimeout:        10 * time.Second,
		EmbeddingURL:        "http://localhost:4000",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		EmbedTimeout:        15 * time.Second,
		Memory: MemoryConfig{
			DefaultOwnerID:              DefaultOwnerID,
			DefaultSearchLimit:          10,
			SemanticSimilarityThreshold: 0.55,
			AutoLinkThreshold:           0.75,
			SubgraphDefaultDepth:        1,
			SubgraphMaxDepth:            3,
			SubgraphDefaultMaxNodes:     20,
			SubgraphMaxNodesLimit:       50,
			TraceMaxPaths:               5,
			TraceMaxDepth:               5,
		},
		Validation: ValidationConfig{
			MaxTextLength:   10000,
			MaxMetadataSize: 100000,
			MinTTLDays:      0,
			MaxTTLDays:      3650,
		},
		Cache: CacheConfig{
			EmbeddingsEnabled: true,
			EmbeddingsMaxSize: 1000,
			SearchEnabled:     true,
			SearchMaxSize:     100,
			SearchTTL:         60 * time.Second,
		},
		Jobs: JobsConfig{
			OwnerIDs:                 []string{DefaultOwnerID},
			LockTTL:                  10 * time.Minute,
			DedupCron:                "0 * * * *",
			DedupHoursThreshold:      24,
			DedupSimilarityThreshold: 0.95,
			ArchiveCron:              "0 3 * * 0",
			RetryMaxAttempts:         3,
			RetryBackoffBase:         2 * time.Second,
			RetryBackoffMax:          30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigValidationFailed("NEO4J_URI", "is required")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigValidationFailed("NEO4J_USER", "is required")
		}
		if c.Neo4jPassword == "" {
			return apperrors.NewConfigValidationFailed("NEO4J_PASSWORD", "is required")
		}
	case StoreMemory:
	default:
		return apperrors.NewConfigValidationFailed("STORE_BACKEND",
			fmt.Sprintf("must be %q or %q, got %q", StoreNeo4j, StoreMemory, c.StoreBackend))
	}
	if c.EmbeddingModel == "" {
		return apperrors.NewConfigValidationFailed("EMBEDDING_MODEL", "is required")
	}
	if c.Validation.MaxTextLength <= 0 {
		return apperrors.NewConfigValidationFailed("MAX_TEXT_LENGTH", "must be positive")
	}
	if c.Validation.MaxMetadataSize <= 0 {
		return apperrors.NewConfigValidationFailed("MAX_METADATA_SIZE", "must be positive")
	}
	if c.Validation.MaxTTLDays <= c.Validation.MinTTLDays {
		return apperrors.NewConfigValidationFailed("MAX_TTL_DAYS", "must exceed MIN_TTL_DAYS")
	}
	for name, v := range map[string]float64{
		"SEMANTIC_SIMILARITY_THRESHOLD":  c.Memory.SemanticSimilarityThreshold,
		"AUTO_LINK_THRESHOLD":            c.Memory.AutoLinkThreshold,
		"JOB_DEDUP_SIMILARITY_THRESHOLD": c.Jobs.DedupSimilarityThreshold,
	} {
		if v < 0 || v > 1 {
			return apperrors.NewConfigValidationFailed(name, "must be within [0, 1]")
		}
	}
	if c.Memory.SubgraphDefaultDepth > c.Memory.SubgraphMaxDepth {
		return apperrors.NewConfigValidationFailed("SUBGRAPH_DEFAULT_DEPTH", "exceeds SUBGRAPH_MAX_DEPTH")
	}
	if c.Memory.SubgraphDefaultMaxNodes > c.Memory.SubgraphMaxNodesLimit {
		return apperrors.NewConfigValidationFailed("SUBGRAPH_DEFAULT_MAX_NODES", "exceeds SUBGRAPH_MAX_NODES_LIMIT")
	}
	if c.Jobs.RetryMaxAttempts < 1 {
		return apperrors.NewConfigValidationFailed("JOB_RETRY_MAX_ATTEMPTS", "must be at least 1")
	}
	// Redis and embedding API key are optional for development
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
