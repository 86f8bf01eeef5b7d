package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// ErrConfiguration marks settings the pipeline cannot start with. It is fatal
// at startup.
var ErrConfiguration = errors.New("configuration error")

// DefaultPrimingTemplate wraps the raw question in directive language so the
// model tends to report per-fiscal-year figures the post-processor can detect.
const DefaultPrimingTemplate = "Details related to '{{.Query}}' in the budget documents. " +
	"Where budget figures apply, give them for each fiscal year the documents cover " +
	"(for example FY 2023, FY 2024, FY 2025)."

type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
}

type LLMConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	MaxRetries int    `yaml:"max_retries"`
}

type IndexConfig struct {
	ID           string `yaml:"id"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	RetrievalK   int    `yaml:"retrieval_k"`
}

type Config struct {
	DataDir  string `yaml:"data_dir"`
	DataGlob string `yaml:"data_glob"`

	Index       IndexConfig     `yaml:"index"`
	VectorStore string          `yaml:"vector_store"`
	Embeddings  EmbeddingConfig `yaml:"embeddings"`
	LLM         LLMConfig       `yaml:"llm"`

	PostgresDSN  string `yaml:"postgres_dsn"`
	GraphEnabled bool   `yaml:"graph_enabled"`
	Neo4jURI     string `yaml:"neo4j_uri"`
	Neo4jUser    string `yaml:"neo4j_username"`
	Neo4jPass    string `yaml:"-"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	CallTimeout     time.Duration `yaml:"call_timeout"`
	HTTPAddr        string        `yaml:"http_addr"`
	PrimingTemplate string        `yaml:"priming_template"`
	LogLevel        string        `yaml:"log_level"`

	// envErrs holds environment values that could not be parsed; Validate
	// reports them.
	envErrs []error
}

// Load reads an optional .env file from the working directory and builds the
// configuration from the environment.
func Load() Config {
	_ = godotenv.Load()
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile overlays a YAML file on the defaults; environment variables still
// take precedence over values from the file.
func LoadFile(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func Defaults() Config {
	return Config{
		DataDir:  "data",
		DataGlob: "**/*.pdf",
		Index: IndexConfig{
			ID:           "dod3",
			ChunkSize:    1000,
			ChunkOverlap: 100,
			RetrievalK:   4,
		},
		VectorStore: StorePostgres,
		Embeddings: EmbeddingConfig{
			Provider:          ProviderOpenAI,
			Model:             "text-embedding-ada-002",
			Dimension:         1536,
			BatchSize:         64,
			Concurrency:       4,
			RequestsPerSecond: 5,
			MaxRetries:        2,
		},
		LLM: LLMConfig{
			Provider:   ProviderOpenAI,
			Model:      "gpt-3.5-turbo",
			MaxRetries: 2,
		},
		PostgresDSN:     "postgres://localhost:5432/fiscal-qa?sslmode=disable",
		Neo4jURI:        "neo4j://localhost:7687",
		Neo4jUser:       "neo4j",
		Neo4jPass:       "password",
		OllamaHost:      "http://localhost:11434",
		CallTimeout:     60 * time.Second,
		HTTPAddr:        ":8080",
		PrimingTemplate: DefaultPrimingTemplate,
		LogLevel:        "info",
	}
}

// Validate reports configuration that cannot produce a working pipeline.
// Every reported problem wraps ErrConfiguration.
func (c Config) Validate() error {
	errs := append([]error(nil), c.envErrs...)

	if strings.TrimSpace(c.Index.ID) == "" {
		errs = append(errs, fmt.Errorf("%w: index id is required", ErrConfiguration))
	}
	if err := ValidateChunking(c.Index.ChunkSize, c.Index.ChunkOverlap); err != nil {
		errs = append(errs, err)
	}
	if c.Index.RetrievalK <= 0 {
		errs = append(errs, fmt.Errorf("%w: retrieval k must be positive, got %d", ErrConfiguration, c.Index.RetrievalK))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrConfiguration, c.Embeddings.Dimension))
	}
	if c.Embeddings.MaxRetries < 0 || c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: retry budgets must not be negative", ErrConfiguration))
	}
	if !knownProvider(c.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("%w: unknown embedding provider: %s", ErrConfiguration, c.Embeddings.Provider))
	}
	if !knownProvider(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("%w: unknown llm provider: %s", ErrConfiguration, c.LLM.Provider))
	}
	if c.VectorStore != StorePostgres && c.VectorStore != StoreMemory {
		errs = append(errs, fmt.Errorf("%w: unknown vector store: %s", ErrConfiguration, c.VectorStore))
	}
	if _, err := template.New("priming").Parse(c.PrimingTemplate); err != nil {
		errs = append(errs, fmt.Errorf("%w: parse priming template: %w", ErrConfiguration, err))
	}

	return errors.Join(errs...)
}

// ValidateChunking checks that 0 <= overlap < size. An index id is tied to one
// such pair.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrConfiguration, overlap, size)
	}
	return nil
}

func knownProvider(p string) bool {
	return p == ProviderOpenAI || p == ProviderOllama
}

func applyEnv(cfg *Config) {
	env := &envReader{}

	cfg.DataDir = env.str("DATA_DIR", cfg.DataDir)
	cfg.DataGlob = env.str("DATA_GLOB", cfg.DataGlob)

	cfg.Index.ID = env.str("INDEX_ID", cfg.Index.ID)
	cfg.Index.ChunkSize = env.integer("CHUNK_SIZE", cfg.Index.ChunkSize)
	cfg.Index.ChunkOverlap = env.integer("CHUNK_OVERLAP", cfg.Index.ChunkOverlap)
	cfg.Index.RetrievalK = env.integer("RETRIEVAL_K", cfg.Index.RetrievalK)

	cfg.VectorStore = strings.ToLower(env.str("VECTOR_STORE", cfg.VectorStore))

	cfg.Embeddings.Provider = strings.ToLower(env.str("EMBEDDING_PROVIDER", cfg.Embeddings.Provider))
	cfg.Embeddings.Model = env.str("EMBEDDING_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = env.integer("EMBEDDING_DIMENSION", cfg.Embeddings.Dimension)
	cfg.Embeddings.BatchSize = env.integer("EMBEDDING_BATCH_SIZE", cfg.Embeddings.BatchSize)
	cfg.Embeddings.Concurrency = env.integer("EMBEDDING_CONCURRENCY", cfg.Embeddings.Concurrency)
	cfg.Embeddings.RequestsPerSecond = env.number("EMBEDDING_REQUESTS_PER_SECOND", cfg.Embeddings.RequestsPerSecond)
	cfg.Embeddings.MaxRetries = env.integer("EMBEDDING_MAX_RETRIES", cfg.Embeddings.MaxRetries)

	cfg.LLM.Provider = strings.ToLower(env.str("LLM_PROVIDER", cfg.LLM.Provider))
	cfg.LLM.Model = env.str("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.MaxRetries = env.integer("LLM_MAX_RETRIES", cfg.LLM.MaxRetries)

	cfg.PostgresDSN = env.str("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.GraphEnabled = env.boolean("GRAPH_ENABLED", cfg.GraphEnabled)
	cfg.Neo4jURI = env.str("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = env.str("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = env.str("NEO4J_PASSWORD", cfg.Neo4jPass)

	cfg.OllamaHost = env.str("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = env.str("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = env.str("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.CallTimeout = env.duration("CALL_TIMEOUT", cfg.CallTimeout)
	cfg.HTTPAddr = env.str("HTTP_ADDR", cfg.HTTPAddr)
	cfg.PrimingTemplate = env.str("PRIMING_TEMPLATE", cfg.PrimingTemplate)
	cfg.LogLevel = env.str("LOG_LEVEL", cfg.LogLevel)

	cfg.envErrs = env.errs
}

// envReader reads typed environment values. A value that does not parse keeps
// the fallback and is recorded as a configuration error.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func (r *envReader) integer(key string, fallback int) int {
	return parseEnv(r, key, fallback, "an integer", strconv.Atoi)
}

func (r *envReader) number(key string, fallback float64) float64 {
	return parseEnv(r, key, fallback, "a number", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

func (r *envReader) boolean(key string, fallback bool) bool {
	return parseEnv(r, key, fallback, "a boolean", strconv.ParseBool)
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	return parseEnv(r, key, fallback, "a duration", time.ParseDuration)
}

func parseEnv[T any](r *envReader, key string, fallback T, kind string, parse func(string) (T, error)) T {
	value := r.str(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := parse(strings.TrimSpace(value))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q is not %s", ErrConfiguration, key, value, kind))
		return fallback
	}
	return parsed
}
