package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the query engine.
// Values come from a YAML file with environment variable overrides.
// Secrets (passwords, API keys) only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"`

	Logging LoggingConfig `yaml:"logging"`

	// Datasource is the primary connection. Connections lists additional ones.
	Datasource  ConnectionConfig   `yaml:"datasource"`
	Connections []ConnectionConfig `yaml:"connections"`

	Introspection IntrospectionConfig `yaml:"introspection"`
	Oracle        OracleConfig        `yaml:"oracle"`
	Annotator     AnnotatorConfig     `yaml:"annotator"`
	Mapper        MapperConfig        `yaml:"mapper"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Generator     GeneratorConfig     `yaml:"generator"`
	Search        SearchConfig        `yaml:"search"`
	Combiner      CombinerConfig      `yaml:"combiner"`
	Resolver      ResolverConfig      `yaml:"resolver"`
	Cache         CacheConfig         `yaml:"cache"`
	Retry         RetryConfig         `yaml:"retry"`
	SnapshotStore SnapshotStoreConfig `yaml:"snapshot_store"`
}

// LoggingConfig selects zap level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // "json" or "console"
}

// ConnectionConfig describes one relational datasource.
type ConnectionConfig struct {
	ID       string `yaml:"id" env:"DATASOURCE_ID" env-default:"default"`
	Type     string `yaml:"type" env:"DATASOURCE_TYPE"` // postgres, mssql, mysql, sqlite
	Host     string `yaml:"host" env:"DATASOURCE_HOST"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT"`
	User     string `yaml:"user" env:"DATASOURCE_USER"`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"`
	// PasswordEnv names an environment variable holding the password for
	// entries in Connections, which cannot carry env tags of their own.
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database" env:"DATASOURCE_DATABASE"`
	Schema      string `yaml:"schema" env:"DATASOURCE_SCHEMA"`
	SSLMode     string `yaml:"ssl_mode" env:"DATASOURCE_SSL_MODE"`
	Path        string `yaml:"path" env:"DATASOURCE_PATH"` // sqlite file
}

// IntrospectionConfig bounds schema discovery cost.
type IntrospectionConfig struct {
	SampleRows        int           `yaml:"sample_rows" env:"INTROSPECTION_SAMPLE_ROWS" env-default:"5"`
	SampleValues      int           `yaml:"sample_values" env:"INTROSPECTION_SAMPLE_VALUES" env-default:"5"`
	MaxTables         int           `yaml:"max_tables" env:"INTROSPECTION_MAX_TABLES" env-default:"500"`
	SnapshotTTL       time.Duration `yaml:"snapshot_ttl" env:"INTROSPECTION_SNAPSHOT_TTL" env-default:"1h"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout" env:"INTROSPECTION_DISCOVERY_TIMEOUT" env-default:"2m"`
	OracleConcurrency int           `yaml:"oracle_concurrency" env:"INTROSPECTION_ORACLE_CONCURRENCY" env-default:"4"`
}

// OracleConfig selects the semantic classification oracle.
type OracleConfig struct {
	Provider          string        `yaml:"provider" env:"ORACLE_PROVIDER" env-default:"none"` // openai, anthropic, none
	BaseURL           string        `yaml:"base_url" env:"ORACLE_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model             string        `yaml:"model" env:"ORACLE_MODEL" env-default:"gpt-4o-mini"`
	APIKey            string        `yaml:"-" env:"ORACLE_API_KEY"`
	Timeout           time.Duration `yaml:"timeout" env:"ORACLE_TIMEOUT" env-default:"15s"`
	CircuitThreshold  int           `yaml:"circuit_threshold" env:"ORACLE_CIRCUIT_THRESHOLD" env-default:"5"`
	CircuitResetAfter time.Duration `yaml:"circuit_reset_after" env:"ORACLE_CIRCUIT_RESET_AFTER" env-default:"30s"`
}

// Enabled reports whether an oracle provider is configured.
func (c *OracleConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none"
}

// AnnotatorConfig holds the heuristic/oracle blend.
type AnnotatorConfig struct {
	OracleWeight           float64 `yaml:"oracle_weight" env:"ANNOTATOR_ORACLE_WEIGHT" env-default:"0.7"`
	HeuristicWeight        float64 `yaml:"heuristic_weight" env:"ANNOTATOR_HEURISTIC_WEIGHT" env-default:"0.3"`
	HeuristicCeiling       float64 `yaml:"heuristic_ceiling" env:"ANNOTATOR_HEURISTIC_CEILING" env-default:"0.6"`
	InferredBaseConfidence float64 `yaml:"inferred_base_confidence" env:"ANNOTATOR_INFERRED_BASE_CONFIDENCE" env-default:"0.7"`
	VocabularyFile         string  `yaml:"vocabulary_file" env:"ANNOTATOR_VOCABULARY_FILE"`
}

// MapperConfig tunes the entity mapper.
type MapperConfig struct {
	MinScore  float64 `yaml:"min_score" env:"MAPPER_MIN_SCORE" env-default:"0.6"`
	TopK      int     `yaml:"top_k" env:"MAPPER_TOP_K" env-default:"5"`
	UseOracle bool    `yaml:"use_oracle" env:"MAPPER_USE_ORACLE" env-default:"true"`
}

// ClassifierConfig holds classification thresholds.
type ClassifierConfig struct {
	HighConfidence float64 `yaml:"high_confidence" env:"CLASSIFIER_HIGH_CONFIDENCE" env-default:"0.75"`
	MinConfidence  float64 `yaml:"min_confidence" env:"CLASSIFIER_MIN_CONFIDENCE" env-default:"0.6"`
}

// GeneratorConfig bounds generated queries.
type GeneratorConfig struct {
	MaxRows int `yaml:"max_rows" env:"GENERATOR_MAX_ROWS" env-default:"1000"`
}

// SearchConfig configures the document vector index.
type SearchConfig struct {
	Backend          string  `yaml:"backend" env:"SEARCH_BACKEND" env-default:"none"` // pgvector, none
	DSN              string  `yaml:"-" env:"SEARCH_DSN"`
	Table            string  `yaml:"table" env:"SEARCH_TABLE" env-default:"document_chunks"`
	EmbeddingModel   string  `yaml:"embedding_model" env:"SEARCH_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingBaseURL string  `yaml:"embedding_base_url" env:"SEARCH_EMBEDDING_BASE_URL" env-default:"https://api.openai.com/v1"`
	EmbeddingAPIKey  string  `yaml:"-" env:"SEARCH_EMBEDDING_API_KEY"`
	TopK             int     `yaml:"top_k" env:"SEARCH_TOP_K" env-default:"10"`
	MaxTopK          int     `yaml:"max_top_k" env:"SEARCH_MAX_TOP_K" env-default:"100"`
	MinSimilarity    float64 `yaml:"min_similarity" env:"SEARCH_MIN_SIMILARITY" env-default:"0.3"`
	UseTypePriority  bool    `yaml:"use_type_priority" env:"SEARCH_USE_TYPE_PRIORITY" env-default:"true"`
}

// CombinerConfig weights the two result sources.
type CombinerConfig struct {
	StructuredWeight float64 `yaml:"structured_weight" env:"COMBINER_STRUCTURED_WEIGHT" env-default:"0.6"`
	DocumentWeight   float64 `yaml:"document_weight" env:"COMBINER_DOCUMENT_WEIGHT" env-default:"0.4"`
}

// ResolverConfig holds per-branch timeouts and fallback behaviour.
type ResolverConfig struct {
	StructuredTimeout   time.Duration `yaml:"structured_timeout" env:"RESOLVER_STRUCTURED_TIMEOUT" env-default:"10s"`
	DocumentTimeout     time.Duration `yaml:"document_timeout" env:"RESOLVER_DOCUMENT_TIMEOUT" env-default:"5s"`
	FallbackToDocuments bool          `yaml:"fallback_to_documents" env:"RESOLVER_FALLBACK_TO_DOCUMENTS" env-default:"true"`
	MaxQueryLength      int           `yaml:"max_query_length" env:"RESOLVER_MAX_QUERY_LENGTH" env-default:"1000"`
}

// CacheConfig selects the resolution cache store.
type CacheConfig struct {
	Backend   string        `yaml:"backend" env:"CACHE_BACKEND" env-default:"memory"` // memory, redis
	TTL       time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"1h"`
	KeyPrefix string        `yaml:"key_prefix" env:"CACHE_KEY_PREFIX" env-default:"ekaya:resolve"`
	Redis     RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// RetryConfig bounds backoff at adapter boundaries.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"RETRY_MAX_RETRIES" env-default:"3"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"RETRY_INITIAL_DELAY" env-default:"100ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY" env-default:"2s"`
}

// SnapshotStoreConfig configures optional export of schema snapshots to S3-compatible storage.
type SnapshotStoreConfig struct {
	Enabled   bool   `yaml:"enabled" env:"SNAPSHOT_STORE_ENABLED" env-default:"false"`
	Endpoint  string `yaml:"endpoint" env:"SNAPSHOT_STORE_ENDPOINT" env-default:"localhost:9000"`
	Bucket    string `yaml:"bucket" env:"SNAPSHOT_STORE_BUCKET" env-default:"ekaya-snapshots"`
	Prefix    string `yaml:"prefix" env:"SNAPSHOT_STORE_PREFIX" env-default:"snapshots"`
	UseSSL    bool   `yaml:"use_ssl" env:"SNAPSHOT_STORE_USE_SSL" env-default:"false"`
	AccessKey string `yaml:"-" env:"SNAPSHOT_STORE_ACCESS_KEY"`
	SecretKey string `yaml:"-" env:"SNAPSHOT_STORE_SECRET_KEY"`
}

// Load reads configuration from path with environment overrides. A missing
// file is not an error: environment variables and defaults are used alone.
func Load(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks weights and thresholds are within range.
func (c *Config) Validate() error {
	if err := inUnitRange("annotator.heuristic_ceiling", c.Annotator.HeuristicCeiling); err != nil {
		return err
	}
	if err := inUnitRange("annotator.inferred_base_confidence", c.Annotator.InferredBaseConfidence); err != nil {
		return err
	}
	if c.Annotator.InferredBaseConfidence > 0.9 {
		return fmt.Errorf("annotator.inferred_base_confidence must not exceed 0.9")
	}
	if c.Annotator.OracleWeight < 0 || c.Annotator.HeuristicWeight < 0 || c.Annotator.OracleWeight+c.Annotator.HeuristicWeight == 0 {
		return fmt.Errorf("annotator weights must be non-negative and not both zero")
	}
	if c.Combiner.StructuredWeight < 0 || c.Combiner.DocumentWeight < 0 || c.Combiner.StructuredWeight+c.Combiner.DocumentWeight == 0 {
		return fmt.Errorf("combiner weights must be non-negative and not both zero")
	}
	if err := inUnitRange("mapper.min_score", c.Mapper.MinScore); err != nil {
		return err
	}
	if err := inUnitRange("classifier.min_confidence", c.Classifier.MinConfidence); err != nil {
		return err
	}
	if err := inUnitRange("search.min_similarity", c.Search.MinSimilarity); err != nil {
		return err
	}
	if c.Search.MaxTopK > 0 && c.Search.TopK > c.Search.MaxTopK {
		return fmt.Errorf("search.top_k (%d) exceeds search.max_top_k (%d)", c.Search.TopK, c.Search.MaxTopK)
	}
	seen := map[string]bool{}
	for _, conn := range c.AllConnections() {
		if seen[conn.ID] {
			return fmt.Errorf("duplicate connection id %q", conn.ID)
		}
		seen[conn.ID] = true
	}
	return nil
}

func inUnitRange(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", name, v)
	}
	return nil
}

// AllConnections returns the primary datasource (when typed) followed by Connections,
// with passwords resolved from PasswordEnv where set.
func (c *Config) AllConnections() []ConnectionConfig {
	var out []ConnectionConfig
	if c.Datasource.Type != "" {
		out = append(out, c.Datasource)
	}
	for _, conn := range c.Connections {
		if conn.Password == "" && conn.PasswordEnv != "" {
			conn.Password = os.Getenv(conn.PasswordEnv)
		}
		out = append(out, conn)
	}
	return out
}

// DefaultConnectionID returns the id used by resolve when no connection is named.
func (c *Config) DefaultConnectionID() string {
	conns := c.AllConnections()
	if len(conns) == 0 {
		return ""
	}
	return conns[0].ID
}

// AdapterConfig converts a connection to the generic map consumed by datasource factories.
func (c ConnectionConfig) AdapterConfig() map[string]any {
	m := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("host", ResolveHostForDocker(c.Host))
	set("user", c.User)
	set("password", c.Password)
	set("database", c.Database)
	set("schema", c.Schema)
	set("ssl_mode", c.SSLMode)
	set("path", c.Path)
	if c.Port > 0 {
		m["port"] = c.Port
	}
	return m
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// ResolveHostForDocker maps localhost to host.docker.internal when running
// inside a container so datasources on the host stay reachable.
func ResolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
