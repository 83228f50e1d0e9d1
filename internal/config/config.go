// Package config loads the immutable runtime configuration for a memfuse
// process from a YAML file plus environment variable overrides. Config is
// built once at startup and passed explicitly to every component; it is
// never read as an ambient global from inside algorithmic code.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EmbeddingConfig describes the external embedding HTTP endpoint.
type EmbeddingConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Path      string            `yaml:"path"`
	Model     string            `yaml:"model"`
	Dimension int               `yaml:"dimension"`
	Timeout   int               `yaml:"timeout_seconds"`
	APIHeader string            `yaml:"api_header"`
	APIKey    string            `yaml:"api_key"`
	Headers   map[string]string `yaml:"headers"`
}

// ObsConfig configures OpenTelemetry export.
type ObsConfig struct {
	OTLP           string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// LLMConfig selects and authenticates the chat completion provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" | "anthropic"
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// StoreConfig wires the durable and session-scoped storage backends.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	QdrantAddr  string `yaml:"qdrant_addr"`
}

// ShellConfig constrains the shell subagent's sandboxing policy.
type ShellConfig struct {
	AllowedCommands []string `yaml:"allowed_commands"`
	WorkDir         string   `yaml:"work_dir"`
	TimeoutSeconds  int      `yaml:"timeout_seconds"`
	MaxOutputBytes  int      `yaml:"max_output_bytes"`
}

// QueueConfig wires the extractor's durable background queue.
type QueueConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	JobsTopic    string   `yaml:"jobs_topic"`
	ResultsTopic string   `yaml:"results_topic"`
	RedisAddr    string   `yaml:"redis_addr"`
	WorkerCount  int      `yaml:"worker_count"`
}

// Config is the complete recognized configuration surface.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`
	// LogPayloads and OutputTruncateByte configure the LLM layer's
	// redacted prompt/response debug logging (internal/llm's
	// ConfigureLogging); off by default, truncated at 4096 bytes.
	LogPayloads        bool `yaml:"log_payloads"`
	OutputTruncateByte int  `yaml:"output_truncate_byte"`

	Embedding EmbeddingConfig `yaml:"embedding"`
	Obs       ObsConfig       `yaml:"observability"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Queue     QueueConfig     `yaml:"queue"`
	Shell     ShellConfig     `yaml:"shell"`

	// Context Controller budgets, all in tokens.
	UserInputMaxTokens    int `yaml:"user_input_max_tokens"`
	HistoryMaxTokens      int `yaml:"history_max_tokens"`
	TotalContextMaxTokens int `yaml:"total_context_max_tokens"`

	// Retrieval.
	RAGTopK             int     `yaml:"rag_top_k"`
	StructuredTopK      int     `yaml:"structured_top_k"`
	RetrievalPreferSession bool `yaml:"retrieval_prefer_session"`
	StructuredEnabled   bool    `yaml:"structured_enabled"`

	// Extractor.
	ExtractorEnabled             bool    `yaml:"extractor_enabled"`
	ExtractorTriggerTokensSingle int     `yaml:"extractor_trigger_tokens_single"`
	ExtractorTriggerTokensBatch  int     `yaml:"extractor_trigger_tokens_batch"`
	DedupSimThreshold            float64 `yaml:"dedup_sim_threshold"`
	ContradictionSimThreshold    float64 `yaml:"contradiction_sim_threshold"`
	ExtractorMaxAttempts         int     `yaml:"extractor_max_attempts"`
	ExtractorContextFacts        int     `yaml:"extractor_context_facts"`

	// Procedural memory (M3).
	M3Enabled                   bool    `yaml:"m3_enabled"`
	ProceduralTopK              int     `yaml:"procedural_top_k"`
	ProceduralReuseThreshold    float64 `yaml:"procedural_reuse_threshold"`
	WorkflowDistillSimThreshold float64 `yaml:"workflow_distill_sim_threshold"`

	// Orchestrator (M4).
	StepRetries int `yaml:"step_retries"`

	HistoryFetchRounds int `yaml:"history_fetch_rounds"`
	EmbeddingDim       int `yaml:"embedding_dim"`

	ClassifierRoutingEnabled bool `yaml:"classifier_routing_enabled"`
}

// EmbeddingDimension is fixed across the codebase: every vector column,
// every ivfflat index, and every Qdrant collection is created with this
// dimensionality, per the data model's embedding contract.
const EmbeddingDimension = 1024

// Defaults returns the recognized configuration with its documented
// defaults applied, before any file or environment overrides.
func Defaults() Config {
	return Config{
		LogLevel:           "info",
		LogPayloads:        false,
		OutputTruncateByte: 4096,
		Embedding: EmbeddingConfig{
			Path:      "/v1/embeddings",
			Dimension: EmbeddingDimension,
			Timeout:   30,
		},
		Obs: ObsConfig{
			ServiceName: "memfuse",
			Environment: "development",
		},
		LLM: LLMConfig{Provider: "openai"},
		Queue: QueueConfig{
			JobsTopic:    "memfuse.extractor.jobs",
			ResultsTopic: "memfuse.extractor.results",
			WorkerCount:  4,
		},
		Shell: ShellConfig{
			AllowedCommands: []string{"echo", "ls", "cat", "grep", "wc"},
			TimeoutSeconds:  10,
			MaxOutputBytes:  65536,
		},
		UserInputMaxTokens:           4_000,
		HistoryMaxTokens:             8_000,
		TotalContextMaxTokens:        16_000,
		RAGTopK:                      8,
		StructuredTopK:               8,
		RetrievalPreferSession:       true,
		StructuredEnabled:            true,
		ExtractorEnabled:             true,
		ExtractorTriggerTokensSingle: 2_000,
		ExtractorTriggerTokensBatch:  6_000,
		DedupSimThreshold:            0.95,
		ContradictionSimThreshold:    0.88,
		ExtractorMaxAttempts:         5,
		ExtractorContextFacts:        8,
		M3Enabled:                    true,
		ProceduralTopK:               5,
		ProceduralReuseThreshold:     0.9,
		WorkflowDistillSimThreshold:  0.97,
		StepRetries:                  2,
		HistoryFetchRounds:           20,
		EmbeddingDim:                 EmbeddingDimension,
		ClassifierRoutingEnabled:     false,
	}
}

// Load reads a YAML config file (if path is non-empty and exists), applies a
// .env file (if present) to the process environment, then applies MEMFUSE_*
// environment variable overrides on top.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load() // best-effort; absent .env is not an error

	applyEnvOverrides(&cfg)

	if cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = EmbeddingDimension
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = EmbeddingDimension
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	floating := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	str("MEMFUSE_LOG_LEVEL", &cfg.LogLevel)
	str("MEMFUSE_LOG_PATH", &cfg.LogPath)
	boolean("MEMFUSE_LOG_PAYLOADS", &cfg.LogPayloads)
	integer("MEMFUSE_OUTPUT_TRUNCATE_BYTE", &cfg.OutputTruncateByte)

	str("MEMFUSE_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)
	str("MEMFUSE_EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("MEMFUSE_EMBEDDING_API_KEY", &cfg.Embedding.APIKey)
	str("MEMFUSE_EMBEDDING_API_HEADER", &cfg.Embedding.APIHeader)

	str("MEMFUSE_OTLP_ENDPOINT", &cfg.Obs.OTLP)

	str("MEMFUSE_LLM_PROVIDER", &cfg.LLM.Provider)
	str("MEMFUSE_LLM_API_KEY", &cfg.LLM.APIKey)
	str("MEMFUSE_LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("MEMFUSE_LLM_MODEL", &cfg.LLM.Model)

	str("MEMFUSE_POSTGRES_DSN", &cfg.Store.PostgresDSN)
	str("MEMFUSE_QDRANT_ADDR", &cfg.Store.QdrantAddr)

	if v := os.Getenv("MEMFUSE_KAFKA_BROKERS"); v != "" {
		cfg.Queue.KafkaBrokers = strings.Split(v, ",")
	}
	str("MEMFUSE_REDIS_ADDR", &cfg.Queue.RedisAddr)
	integer("MEMFUSE_QUEUE_WORKERS", &cfg.Queue.WorkerCount)

	integer("MEMFUSE_USER_INPUT_MAX_TOKENS", &cfg.UserInputMaxTokens)
	integer("MEMFUSE_HISTORY_MAX_TOKENS", &cfg.HistoryMaxTokens)
	integer("MEMFUSE_TOTAL_CONTEXT_MAX_TOKENS", &cfg.TotalContextMaxTokens)
	integer("MEMFUSE_RAG_TOP_K", &cfg.RAGTopK)
	integer("MEMFUSE_STRUCTURED_TOP_K", &cfg.StructuredTopK)
	boolean("MEMFUSE_RETRIEVAL_PREFER_SESSION", &cfg.RetrievalPreferSession)
	boolean("MEMFUSE_STRUCTURED_ENABLED", &cfg.StructuredEnabled)

	boolean("MEMFUSE_EXTRACTOR_ENABLED", &cfg.ExtractorEnabled)
	integer("MEMFUSE_EXTRACTOR_TRIGGER_TOKENS_SINGLE", &cfg.ExtractorTriggerTokensSingle)
	integer("MEMFUSE_EXTRACTOR_TRIGGER_TOKENS_BATCH", &cfg.ExtractorTriggerTokensBatch)
	floating("MEMFUSE_DEDUP_SIM_THRESHOLD", &cfg.DedupSimThreshold)
	floating("MEMFUSE_CONTRADICTION_SIM_THRESHOLD", &cfg.ContradictionSimThreshold)
	integer("MEMFUSE_EXTRACTOR_MAX_ATTEMPTS", &cfg.ExtractorMaxAttempts)
	integer("MEMFUSE_EXTRACTOR_CONTEXT_FACTS", &cfg.ExtractorContextFacts)

	boolean("MEMFUSE_M3_ENABLED", &cfg.M3Enabled)
	integer("MEMFUSE_PROCEDURAL_TOP_K", &cfg.ProceduralTopK)
	floating("MEMFUSE_PROCEDURAL_REUSE_THRESHOLD", &cfg.ProceduralReuseThreshold)
	floating("MEMFUSE_WORKFLOW_DISTILL_SIM_THRESHOLD", &cfg.WorkflowDistillSimThreshold)
	integer("MEMFUSE_STEP_RETRIES", &cfg.StepRetries)

	integer("MEMFUSE_HISTORY_FETCH_ROUNDS", &cfg.HistoryFetchRounds)
	boolean("MEMFUSE_CLASSIFIER_ROUTING_ENABLED", &cfg.ClassifierRoutingEnabled)

	if v := os.Getenv("MEMFUSE_SHELL_ALLOWED_COMMANDS"); v != "" {
		cfg.Shell.AllowedCommands = strings.Split(v, ",")
	}
	str("MEMFUSE_SHELL_WORK_DIR", &cfg.Shell.WorkDir)
	integer("MEMFUSE_SHELL_TIMEOUT_SECONDS", &cfg.Shell.TimeoutSeconds)
	integer("MEMFUSE_SHELL_MAX_OUTPUT_BYTES", &cfg.Shell.MaxOutputBytes)

	if cfg.LLM.APIKey == "" {
		// Fall back to the provider-conventional variable names so the
		// common single-provider deployment needs no memfuse-specific env.
		switch cfg.LLM.Provider {
		case "anthropic":
			str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
		default:
			str("OPENAI_API_KEY", &cfg.LLM.APIKey)
		}
	}

	_ = time.Second // keep time imported for future duration-valued keys
}
