// Package config assembles the server's runtime configuration from the
// environment.
package config

import (
	"time"

	iconfig "github.com/vocagent/vocagent/shared/config"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	LLM      LLMConfig
	TTS      TTSConfig
	Agent    AgentConfig
	Otel     OtelConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	// MessageSecret signs per-user message tokens. The server refuses to start
	// without it.
	MessageSecret string
}

type DatabaseConfig struct {
	// Path is the SQLite database file for the durable log.
	Path string
	// VectorURL is the Postgres connection string for the pgvector index.
	VectorURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	VisionModel    string
	EmbeddingModel string
	EmbeddingDim   int
	MaxTokens      int
	Timeout        time.Duration
}

type TTSConfig struct {
	URL       string
	Character string
}

type AgentConfig struct {
	// ResourceRoot holds the song catalog.
	ResourceRoot string
	// DataRoot holds mutable data: the durable log and stored images.
	DataRoot string

	Expressions      []string
	Tones            []string
	RawContextLimit  int
	NotZipCount      int
	SimilarityCutoff float64
	SearchK          int
}

type OtelConfig struct {
	Endpoint    string
	Environment string
}

var defaultExpressions = []string{"普通", "微笑", "开心", "难过", "害羞", "生气", "惊讶"}

var defaultTones = []string{"normal", "happy", "sad", "angry", "surprised"}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           iconfig.GetEnv("VOCAGENT_HOST", "0.0.0.0"),
			Port:           iconfig.GetEnvInt("VOCAGENT_PORT", 8080),
			AllowedOrigins: iconfig.GetEnvSlice("VOCAGENT_ALLOWED_ORIGINS", []string{"*"}),
			MessageSecret:  iconfig.GetEnv("VOCAGENT_MESSAGE_SECRET", ""),
		},
		Database: DatabaseConfig{
			Path:      iconfig.GetEnv("VOCAGENT_SQLITE_PATH", "data/vocagent.db"),
			VectorURL: iconfig.GetEnv("VOCAGENT_VECTOR_URL", "postgres://localhost:5432/vocagent?sslmode=disable"),
		},
		Redis: RedisConfig{
			Addr:     iconfig.GetEnv("VOCAGENT_REDIS_ADDR", "localhost:6379"),
			Password: iconfig.GetEnv("VOCAGENT_REDIS_PASSWORD", ""),
			DB:       iconfig.GetEnvInt("VOCAGENT_REDIS_DB", 0),
		},
		LLM: LLMConfig{
			BaseURL:        iconfig.GetEnv("VOCAGENT_LLM_BASE_URL", ""),
			APIKey:         iconfig.GetEnv("VOCAGENT_LLM_API_KEY", ""),
			Model:          iconfig.GetEnv("VOCAGENT_LLM_MODEL", "gpt-4o-mini"),
			VisionModel:    iconfig.GetEnv("VOCAGENT_VISION_MODEL", ""),
			EmbeddingModel: iconfig.GetEnv("VOCAGENT_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDim:   iconfig.GetEnvInt("VOCAGENT_EMBEDDING_DIM", 1536),
			MaxTokens:      iconfig.GetEnvInt("VOCAGENT_LLM_MAX_TOKENS", 2048),
			Timeout:        iconfig.GetEnvDuration("VOCAGENT_LLM_TIMEOUT", 60*time.Second),
		},
		TTS: TTSConfig{
			URL:       iconfig.GetEnv("VOCAGENT_TTS_URL", ""),
			Character: iconfig.GetEnv("VOCAGENT_TTS_CHARACTER", "洛天依"),
		},
		Agent: AgentConfig{
			ResourceRoot:     iconfig.GetEnv("VOCAGENT_RESOURCE_ROOT", "resource"),
			DataRoot:         iconfig.GetEnv("VOCAGENT_DATA_ROOT", "data"),
			Expressions:      iconfig.GetEnvSlice("VOCAGENT_EXPRESSIONS", defaultExpressions),
			Tones:            iconfig.GetEnvSlice("VOCAGENT_TONES", defaultTones),
			RawContextLimit:  iconfig.GetEnvInt("VOCAGENT_RAW_CONTEXT_LIMIT", 100),
			NotZipCount:      iconfig.GetEnvInt("VOCAGENT_NOT_ZIP_COUNT", 20),
			SimilarityCutoff: iconfig.GetEnvFloat("VOCAGENT_SIMILARITY_CUTOFF", 0.50),
			SearchK:          iconfig.GetEnvInt("VOCAGENT_SEARCH_K", 5),
		},
		Otel: OtelConfig{
			Endpoint:    iconfig.GetEnv("VOCAGENT_OTEL_ENDPOINT", ""),
			Environment: iconfig.GetEnv("VOCAGENT_ENVIRONMENT", "development"),
		},
	}
}
