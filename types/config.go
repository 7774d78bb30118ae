package types

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr string `yaml:"server_addr" validate:"required"`
	Owner      string `yaml:"owner" validate:"required"`
	LogLevel   string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string `yaml:"log_format" validate:"oneof=text json"`

	Store     StoreConfig     `yaml:"store"`
	Loader    LoaderConfig    `yaml:"loader"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
}

type StoreConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres memory"`
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type LoaderConfig struct {
	TempDir        string        `yaml:"temp_dir"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" validate:"gt=0"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" validate:"gt=0"`
	MaxPageBytes   int64         `yaml:"max_page_bytes" validate:"gt=0"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" validate:"gte=0"`
}

type RetrievalConfig struct {
	TopK                int     `yaml:"top_k" validate:"gt=0"`
	FallbackLimit       int     `yaml:"fallback_limit" validate:"gt=0"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
}

type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=openai ollama"`
	URL               string        `yaml:"url"`
	Model             string        `yaml:"model" validate:"required"`
	APIKey            string        `yaml:"api_key"`
	Dimension         int           `yaml:"dimension" validate:"gt=0"`
	BatchSize         int           `yaml:"batch_size" validate:"gt=0"`
	Concurrency       int           `yaml:"concurrency" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
}

type LLMConfig struct {
	Provider         string        `yaml:"provider" validate:"oneof=openai ollama"`
	URL              string        `yaml:"url"`
	Model            string        `yaml:"model" validate:"required"`
	APIKey           string        `yaml:"api_key"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxContextTokens int           `yaml:"max_context_tokens" validate:"gt=0"`
	SummaryTokens    int           `yaml:"summary_tokens" validate:"gt=0"`
}

func DefaultConfig() *Config {
	return &Config{
		ServerAddr: ":3000",
		Owner:      "default-user",
		LogLevel:   "info",
		LogFormat:  "text",
		Store: StoreConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "rag",
		},
		Loader: LoaderConfig{
			MaxUploadBytes: 50 << 20,
			FetchTimeout:   20 * time.Second,
			MaxPageBytes:   5 << 20,
		},
		Chunking: ChunkingConfig{Size: 1000, Overlap: 200},
		Retrieval: RetrievalConfig{
			TopK:          5,
			FallbackLimit: 3,
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			Dimension:         1024,
			BatchSize:         64,
			Concurrency:       4,
			RequestsPerSecond: 5,
			Timeout:           30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			Timeout:          60 * time.Second,
			MaxContextTokens: 6000,
			SummaryTokens:    12000,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// a .env file and finally the process environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if errs := structErrors(c); len(errs) > 0 {
		return NewValidationError(errs)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return NewValidationError(map[string]string{"Overlap": "must be smaller than chunk size"})
	}
	return nil
}

// PostgresURL returns the connection string for pgxpool.
func (s StoreConfig) PostgresURL() string {
	if s.URL != "" {
		return s.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:     "/" + s.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func applyEnv(cfg *Config) {
	cfg.ServerAddr = getEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.Owner = getEnv("OWNER", cfg.Owner)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.Store.Driver = getEnv("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.URL = getEnv("DATABASE_URL", cfg.Store.URL)
	cfg.Store.Host = getEnv("PG_HOST", cfg.Store.Host)
	cfg.Store.Port = getEnvInt("PG_PORT", cfg.Store.Port)
	cfg.Store.User = getEnv("PG_USER", cfg.Store.User)
	cfg.Store.Password = getEnv("PG_PASS", cfg.Store.Password)
	cfg.Store.Database = getEnv("PG_DB_NAME", cfg.Store.Database)

	cfg.Loader.TempDir = getEnv("LOADER_TEMP_DIR", cfg.Loader.TempDir)
	cfg.Loader.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(cfg.Loader.MaxUploadBytes)))
	cfg.Loader.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", cfg.Loader.FetchTimeout)
	cfg.Loader.MaxPageBytes = int64(getEnvInt("MAX_PAGE_BYTES", int(cfg.Loader.MaxPageBytes)))

	cfg.Chunking.Size = getEnvInt("CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = getEnvInt("CHUNK_OVERLAP", cfg.Chunking.Overlap)

	cfg.Retrieval.TopK = getEnvInt("TOP_K", cfg.Retrieval.TopK)
	cfg.Retrieval.FallbackLimit = getEnvInt("FALLBACK_LIMIT", cfg.Retrieval.FallbackLimit)
	cfg.Retrieval.SimilarityThreshold = getEnvFloat("SIMILARITY_THRESHOLD", cfg.Retrieval.SimilarityThreshold)

	cfg.Embedding.Provider = getEnv("EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.URL = getEnv("EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Model = getEnv("EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.APIKey = getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", cfg.Embedding.APIKey))
	cfg.Embedding.Dimension = getEnvInt("EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.BatchSize = getEnvInt("EMBEDDING_BATCH_SIZE", cfg.Embedding.BatchSize)
	cfg.Embedding.Concurrency = getEnvInt("EMBEDDING_CONCURRENCY", cfg.Embedding.Concurrency)
	cfg.Embedding.RequestsPerSecond = getEnvFloat("EMBEDDING_RPS", cfg.Embedding.RequestsPerSecond)
	cfg.Embedding.Timeout = getEnvDuration("EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)

	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.URL = getEnv("LLM_URL", cfg.LLM.URL)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", cfg.LLM.APIKey))
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", cfg.LLM.Timeout)
	cfg.LLM.MaxContextTokens = getEnvInt("MAX_CONTEXT_TOKENS", cfg.LLM.MaxContextTokens)
	cfg.LLM.SummaryTokens = getEnvInt("SUMMARY_TOKENS", cfg.LLM.SummaryTokens)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
