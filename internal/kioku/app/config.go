package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Kioku/common/environment"
	"github.com/bdobrica/Kioku/internal/kioku/api"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
	"github.com/bdobrica/Kioku/internal/kioku/redisstore"
	"github.com/bdobrica/Kioku/internal/kioku/topiccache"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds application configuration. It is read from a YAML file and
// every field can be overridden with a KIOKU_* environment variable.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Storage StorageConfig `yaml:"storage"`

	// CharactersDir holds one sub-directory per character with a pack.yaml.
	CharactersDir string `yaml:"characters_dir"`

	// LexiconFile replaces the built-in topic lexicon when set.
	LexiconFile string `yaml:"lexicon_file"`

	Compression CompressionConfig   `yaml:"compression"`
	TopicCache  topiccache.Config   `yaml:"topic_cache"`
	Generator   GeneratorConfig     `yaml:"generator"`
	RateLimit   api.RateLimitConfig `yaml:"rate_limit"`
}

// StorageConfig selects and configures the session backend.
type StorageConfig struct {
	Backend      string            `yaml:"backend"`
	DatabasePath string            `yaml:"database_path"`
	Redis        redisstore.Config `yaml:"redis"`
}

// CompressionConfig tunes history compression.
type CompressionConfig struct {
	Threshold       int `yaml:"threshold"`
	KeepRecent      int `yaml:"keep_recent"`
	SummarySnippets int `yaml:"summary_snippets"`
}

// Engine returns the memory engine configuration.
func (c CompressionConfig) Engine() memory.Config {
	cfg := memory.DefaultConfig()
	if c.Threshold > 0 {
		cfg.Threshold = c.Threshold
	}
	if c.KeepRecent > 0 {
		cfg.KeepRecent = c.KeepRecent
	}
	if c.SummarySnippets > 0 {
		cfg.SummarySnippets = c.SummarySnippets
	}
	return cfg
}

// GeneratorConfig configures the OpenAI-compatible reply generator. The API
// key is never stored in the file; APIKeyEnv names the variable holding it.
type GeneratorConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Storage: StorageConfig{
			Backend:      BackendSQLite,
			DatabasePath: "./kioku.db",
			Redis:        redisstore.DefaultConfig(),
		},
		CharactersDir: "./characters",
		Compression: CompressionConfig{
			Threshold:       100,
			KeepRecent:      20,
			SummarySnippets: 5,
		},
		TopicCache: topiccache.DefaultConfig(),
		Generator: GeneratorConfig{
			APIKeyEnv: "KIOKU_GENERATOR_API_KEY",
			Timeout:   60 * time.Second,
			MaxTokens: 800,
		},
		RateLimit: api.RateLimitConfig{
			PerMinute: api.DefaultTurnsPerMinute,
			Burst:     api.DefaultTurnBurst,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	environment.String("HTTP_ADDR", &c.HTTPAddr)
	environment.StringSlice("ALLOWED_ORIGINS", &c.AllowedOrigins)
	environment.String("LOG_LEVEL", &c.LogLevel)
	environment.String("LOG_FORMAT", &c.LogFormat)

	environment.String("STORAGE_BACKEND", &c.Storage.Backend)
	environment.String("DATABASE_PATH", &c.Storage.DatabasePath)
	environment.String("REDIS_ADDR", &c.Storage.Redis.Addr)
	environment.String("REDIS_PASSWORD", &c.Storage.Redis.Password)
	environment.Int("REDIS_DB", &c.Storage.Redis.DB)
	environment.String("REDIS_NAMESPACE", &c.Storage.Redis.Namespace)

	environment.String("CHARACTERS_DIR", &c.CharactersDir)
	environment.String("LEXICON_FILE", &c.LexiconFile)

	environment.Int("COMPRESSION_THRESHOLD", &c.Compression.Threshold)
	environment.Int("COMPRESSION_KEEP_RECENT", &c.Compression.KeepRecent)
	environment.Int("COMPRESSION_SUMMARY_SNIPPETS", &c.Compression.SummarySnippets)

	environment.Int("TOPIC_CACHE_MAX_ITEMS", &c.TopicCache.MaxItems)
	environment.Int("TOPIC_CACHE_PER_TOPIC_RESULTS", &c.TopicCache.PerTopicResults)
	environment.Duration("TOPIC_CACHE_IDLE_TTL", &c.TopicCache.IdleTTL)

	environment.String("GENERATOR_BASE_URL", &c.Generator.BaseURL)
	environment.String("GENERATOR_MODEL", &c.Generator.Model)
	environment.String("GENERATOR_API_KEY_ENV", &c.Generator.APIKeyEnv)
	environment.Duration("GENERATOR_TIMEOUT", &c.Generator.Timeout)
	environment.Int("GENERATOR_MAX_TOKENS", &c.Generator.MaxTokens)
	environment.Float("GENERATOR_TEMPERATURE", &c.Generator.Temperature)

	environment.Int("RATE_LIMIT_PER_MINUTE", &c.RateLimit.PerMinute)
	environment.Int("RATE_LIMIT_BURST", &c.RateLimit.Burst)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.DatabasePath) == "" {
			errs = append(errs, errors.New("storage.database_path is required for the sqlite backend"))
		}
	case BackendRedis:
		if strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr is required for the redis backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of sqlite, redis, memory", c.Storage.Backend))
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.Compression.Threshold > 0 && c.Compression.KeepRecent >= c.Compression.Threshold {
		errs = append(errs, errors.New("compression.keep_recent must be below compression.threshold"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// APIKey resolves the generator API key from the environment.
func (g GeneratorConfig) APIKey() string {
	if g.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(g.APIKeyEnv))
}
