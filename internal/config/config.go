package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/phucgpt/ragchat/internal/core"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	StoreAstra    = "astra"
	StorePGVector = "pgvector"
	StoreSQLite   = "sqlite"
)

type Config struct {
	HTTPPort  string
	LogLevel  string
	LogFormat string

	LLMProvider          string
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	EmbeddingModel       string
	ChatModel            string
	EmbeddingDimension   int
	GeminiAPIKey         string
	GeminiEmbeddingModel string
	GeminiChatModel      string
	ProviderMaxRetries   int

	VectorStore     string
	AstraEndpoint   string
	AstraToken      string
	AstraKeyspace   string
	AstraCollection string
	AstraMetric     string
	DatabaseURL     string
	PGVectorTable   string
	SQLitePath      string

	RetrievalTopK         int
	MinChunkLength        int
	MinSimilarity         float64
	GenerationTemperature float64
	PersonaFile           string
	StepTimeout           time.Duration

	HistoryEnabled     bool
	JWTSecret          string
	NatsURL            string
	NatsToken          string
	CORSAllowedOrigins []string

	IngestSources          string
	IngestChunkSize        int
	IngestChunkOverlap     int
	IngestMinChunkLength   int
	IngestRatePerSecond    float64
	IngestFetchConcurrency int
}

// LoadConfig reads a .env file when present, then the environment, and validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load builds a Config from the environment without validating it.
func Load() *Config {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI))
	return &Config{
		HTTPPort:  getEnv("HTTP_PORT", "5000"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		LLMProvider:          provider,
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		EmbeddingModel:       getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		ChatModel:            getEnv("CHAT_MODEL", "gpt-4"),
		EmbeddingDimension:   getEnvAsInt("EMBEDDING_DIMENSION", defaultEmbeddingDimension(provider)),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiEmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", geminiTextEmbedding004),
		GeminiChatModel:      getEnv("GEMINI_CHAT_MODEL", "gemini-1.5-flash-latest"),
		ProviderMaxRetries:   getEnvAsInt("PROVIDER_MAX_RETRIES", 2),

		VectorStore:     strings.ToLower(getEnv("VECTOR_STORE", StoreAstra)),
		AstraEndpoint:   getEnv("ASTRA_DB_ENDPOINT", ""),
		AstraToken:      getEnv("ASTRA_DB_APPLICATION_TOKEN", ""),
		AstraKeyspace:   getEnv("ASTRA_DB_KEYSPACE", "default_keyspace"),
		AstraCollection: getEnv("ASTRA_DB_COLLECTION", "phucgpt"),
		AstraMetric:     getEnv("ASTRA_DB_METRIC", "dot_product"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		PGVectorTable:   getEnv("PGVECTOR_TABLE", "rag_chunks"),
		SQLitePath:      getEnv("SQLITE_PATH", "ragchat.db"),

		RetrievalTopK:         getEnvAsInt("RETRIEVAL_TOP_K", core.DefaultTopK),
		MinChunkLength:        getEnvAsInt("MIN_CHUNK_LENGTH", core.DefaultMinChunkLength),
		MinSimilarity:         getEnvAsFloat("MIN_SIMILARITY", core.DefaultMinSimilarity),
		GenerationTemperature: getEnvAsFloat("GENERATION_TEMPERATURE", core.DefaultTemperature),
		PersonaFile:           getEnv("PERSONA_FILE", ""),
		StepTimeout:           getEnvAsDuration("STEP_TIMEOUT", core.DefaultStepTimeout),

		HistoryEnabled:     getEnvAsBool("HISTORY_ENABLED", true),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		NatsURL:            getEnv("NATS_URL", ""),
		NatsToken:          getEnv("NATS_TOKEN", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		IngestSources:          getEnv("INGEST_SOURCES", "sources.yaml"),
		IngestChunkSize:        getEnvAsInt("INGEST_CHUNK_SIZE", 1000),
		IngestChunkOverlap:     getEnvAsInt("INGEST_CHUNK_OVERLAP", 200),
		IngestMinChunkLength:   getEnvAsInt("INGEST_MIN_CHUNK_LENGTH", 50),
		IngestRatePerSecond:    getEnvAsFloat("INGEST_RATE_PER_SECOND", 10),
		IngestFetchConcurrency: getEnvAsInt("INGEST_FETCH_CONCURRENCY", 4),
	}
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY environment variable is required")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY environment variable is required")
		}
		if c.GeminiEmbeddingModel == geminiTextEmbedding004 && c.EmbeddingDimension != geminiTextEmbedding004Dim {
			return errors.Newf("%s returns %d-dimensional vectors, got EMBEDDING_DIMENSION=%d",
				geminiTextEmbedding004, geminiTextEmbedding004Dim, c.EmbeddingDimension)
		}
	default:
		return errors.Newf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	switch c.VectorStore {
	case StoreAstra:
		if c.AstraEndpoint == "" || c.AstraToken == "" {
			return errors.New("ASTRA_DB_ENDPOINT and ASTRA_DB_APPLICATION_TOKEN are required for the astra vector store")
		}
	case StorePGVector:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the pgvector vector store")
		}
	case StoreSQLite:
	default:
		return errors.Newf("unknown VECTOR_STORE %q", c.VectorStore)
	}

	if c.EmbeddingDimension <= 0 {
		return errors.Newf("EMBEDDING_DIMENSION must be positive, got %d", c.EmbeddingDimension)
	}
	if c.RetrievalTopK < 1 {
		return errors.Newf("RETRIEVAL_TOP_K must be at least 1, got %d", c.RetrievalTopK)
	}
	if c.MinChunkLength < 1 {
		return errors.Newf("MIN_CHUNK_LENGTH must be at least 1, got %d", c.MinChunkLength)
	}
	if c.GenerationTemperature < 0 || c.GenerationTemperature > 2 {
		return errors.Newf("GENERATION_TEMPERATURE must be within [0, 2], got %g", c.GenerationTemperature)
	}
	if c.IngestChunkSize < 1 || c.IngestChunkOverlap < 0 || c.IngestChunkOverlap >= c.IngestChunkSize {
		return errors.Newf("INGEST_CHUNK_OVERLAP (%d) must be non-negative and smaller than INGEST_CHUNK_SIZE (%d)",
			c.IngestChunkOverlap, c.IngestChunkSize)
	}
	return nil
}

const (
	openAIEmbeddingDim        = 1536
	geminiTextEmbedding004    = "text-embedding-004"
	geminiTextEmbedding004Dim = 768
)

func defaultEmbeddingDimension(provider string) int {
	if provider == ProviderGemini {
		return geminiTextEmbedding004Dim
	}
	return openAIEmbeddingDim
}

// Persona returns the persona from PersonaFile, or the default persona when no file is set.
func (c *Config) Persona() (core.Persona, error) {
	if c.PersonaFile == "" {
		return core.DefaultPersona(), nil
	}
	data, err := os.ReadFile(c.PersonaFile)
	if err != nil {
		return core.Persona{}, errors.Wrapf(err, "read persona file %s", c.PersonaFile)
	}
	var persona core.Persona
	if err := yaml.Unmarshal(data, &persona); err != nil {
		return core.Persona{}, errors.Wrapf(err, "parse persona file %s", c.PersonaFile)
	}
	if strings.TrimSpace(persona.Instructions) == "" {
		return core.Persona{}, errors.Newf("persona file %s has no instructions", c.PersonaFile)
	}
	return persona, nil
}

// PipelineOptions maps the retrieval and generation settings onto core.Options.
func (c *Config) PipelineOptions(persona core.Persona) core.Options {
	return core.Options{
		TopK:           c.RetrievalTopK,
		MinChunkLength: c.MinChunkLength,
		MinSimilarity:  c.MinSimilarity,
		Temperature:    c.GenerationTemperature,
		Persona:        persona,
		StepTimeout:    c.StepTimeout,
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or a plain number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
