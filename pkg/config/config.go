package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Values come from an optional
// YAML file, PLANLOOP_* environment variables and the legacy variable names
// bound in bindLegacyEnv.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	RAG      RAGConfig      `mapstructure:"rag"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
	Prompts  PromptsConfig  `mapstructure:"prompts"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	Database  string `mapstructure:"database"`
	Catalog   string `mapstructure:"catalog"`
	Workspace string `mapstructure:"workspace"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	PlanningModel     string        `mapstructure:"planning_model"`
	EvaluationModel   string        `mapstructure:"evaluation_model"`
	SurfModel         string        `mapstructure:"surf_model"`
	HelperModel       string        `mapstructure:"helper_model"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
	JournalFile       string        `mapstructure:"journal_file"`
}

type AgentConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations"`
	SurfMaxIterations  int           `mapstructure:"surf_max_iterations"`
	EvalRetries        int           `mapstructure:"eval_retries"`
	EvalBackoff        time.Duration `mapstructure:"eval_backoff"`
	TranscriptWindow   int           `mapstructure:"transcript_window"`
	DeniedCapabilities []string      `mapstructure:"denied_capabilities"`
}

type BrowserConfig struct {
	Headless         bool          `mapstructure:"headless"`
	CommandTimeout   time.Duration `mapstructure:"command_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	ViewportWidth    int           `mapstructure:"viewport_width"`
	ViewportHeight   int           `mapstructure:"viewport_height"`
	UserAgent        string        `mapstructure:"user_agent"`
	TruncationLength int           `mapstructure:"truncation_length"`
	ScreenshotDir    string        `mapstructure:"screenshot_dir"`
	DeniedURLs       []string      `mapstructure:"denied_urls"`
}

type RAGConfig struct {
	Simple SimpleRAGConfig `mapstructure:"simple"`
	Hybrid HybridRAGConfig `mapstructure:"hybrid"`
}

type SimpleRAGConfig struct {
	ChunkSize  int    `mapstructure:"chunk_size"`
	Overlap    int    `mapstructure:"overlap"`
	Collection string `mapstructure:"collection"`
	TopK       int    `mapstructure:"top_k"`
}

type HybridRAGConfig struct {
	ChunkSize         int     `mapstructure:"chunk_size"`
	Overlap           int     `mapstructure:"overlap"`
	Collection        string  `mapstructure:"collection"`
	SummaryModel      string  `mapstructure:"summary_model"`
	SummaryLength     int     `mapstructure:"summary_length"`
	EdgeThreshold     float64 `mapstructure:"edge_threshold"`
	RetrieveThreshold float64 `mapstructure:"retrieve_threshold"`
	MaxDepth          int     `mapstructure:"max_depth"`
	TopK              int     `mapstructure:"top_k"`
	MaxContextLength  int     `mapstructure:"max_context_length"`
	CorpusDir         string  `mapstructure:"corpus_dir"`
	Concurrency       int     `mapstructure:"concurrency"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ConfigurationError reports a missing or invalid setting. It is fatal at
// startup.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "planloop")
	v.SetDefault("app.database", "data/planloop.db")
	v.SetDefault("app.workspace", "data/workspace")

	v.SetDefault("server.address", ":5000")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.planning_model", "gpt-4o")
	v.SetDefault("llm.evaluation_model", "gpt-4o")
	v.SetDefault("llm.surf_model", "gpt-4o")
	v.SetDefault("llm.helper_model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.journal_file", "logs/llm.jsonl")

	v.SetDefault("agent.max_iterations", 2)
	v.SetDefault("agent.surf_max_iterations", 10)
	v.SetDefault("agent.eval_retries", 2)
	v.SetDefault("agent.eval_backoff", time.Second)
	v.SetDefault("agent.transcript_window", 12000)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.command_timeout", 1500*time.Millisecond)
	v.SetDefault("browser.max_retries", 2)
	v.SetDefault("browser.retry_backoff", 2*time.Second)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 960)
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.truncation_length", 400000)
	v.SetDefault("browser.denied_urls", []string{`^file://`, `^chrome://`})

	v.SetDefault("rag.simple.chunk_size", 1000)
	v.SetDefault("rag.simple.overlap", 100)
	v.SetDefault("rag.simple.collection", "general")
	v.SetDefault("rag.simple.top_k", 5)

	v.SetDefault("rag.hybrid.chunk_size", 1200)
	v.SetDefault("rag.hybrid.overlap", 200)
	v.SetDefault("rag.hybrid.collection", "hybrid")
	v.SetDefault("rag.hybrid.summary_model", "gpt-4o-mini")
	v.SetDefault("rag.hybrid.summary_length", 300)
	v.SetDefault("rag.hybrid.edge_threshold", 0.8)
	v.SetDefault("rag.hybrid.retrieve_threshold", 0.75)
	v.SetDefault("rag.hybrid.max_depth", 2)
	v.SetDefault("rag.hybrid.top_k", 5)
	v.SetDefault("rag.hybrid.max_context_length", 12000)
	v.SetDefault("rag.hybrid.corpus_dir", "corpus")
	v.SetDefault("rag.hybrid.concurrency", 4)

	v.SetDefault("email.port", 587)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}

// bindLegacyEnv maps the environment variable names deployments already use.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string][]string{
		"llm.api_key":                   {"PLANLOOP_LLM_API_KEY", "OPENAI_API_KEY"},
		"llm.base_url":                  {"PLANLOOP_LLM_BASE_URL", "OPENAI_BASE_URL"},
		"llm.surf_model":                {"PLANLOOP_LLM_SURF_MODEL", "SURF_AI_JSON_TASK_MODEL"},
		"app.database":                  {"PLANLOOP_APP_DATABASE", "DB_PATH"},
		"server.address":                {"PLANLOOP_SERVER_ADDRESS"},
		"rag.simple.chunk_size":         {"PLANLOOP_RAG_SIMPLE_CHUNK_SIZE", "SIMPLE_RAG_CHUNK_SIZE"},
		"rag.simple.overlap":            {"PLANLOOP_RAG_SIMPLE_OVERLAP", "SIMPLE_RAG_OVERLAP"},
		"rag.hybrid.chunk_size":         {"PLANLOOP_RAG_HYBRID_CHUNK_SIZE", "HYBRID_VECTOR_GRAPH_RAG_CHUNK_SIZE"},
		"rag.hybrid.overlap":            {"PLANLOOP_RAG_HYBRID_OVERLAP", "HYBRID_VECTOR_GRAPH_RAG_OVERLAP"},
		"rag.hybrid.summary_model":      {"PLANLOOP_RAG_HYBRID_SUMMARY_MODEL", "HYBRID_VECTOR_GRAPH_RAG_SUMMARIZATION_MODEL"},
		"rag.hybrid.edge_threshold":     {"PLANLOOP_RAG_HYBRID_EDGE_THRESHOLD", "HYBRID_VECTOR_GRAPH_RAG_SIMILARITY_EDGE_THRESHOLD"},
		"rag.hybrid.retrieve_threshold": {"PLANLOOP_RAG_HYBRID_RETRIEVE_THRESHOLD", "HYBRID_VECTOR_GRAPH_RAG_SIMILARITY_RETRIEVE_THRESHOLD"},
		"rag.hybrid.max_depth":          {"PLANLOOP_RAG_HYBRID_MAX_DEPTH", "HYBRID_VECTOR_GRAPH_RAG_QUERY_MAX_DEPTH"},
		"rag.hybrid.top_k":              {"PLANLOOP_RAG_HYBRID_TOP_K", "HYBRID_VECTOR_GRAPH_RAG_QUERY_TOP_K"},
		"rag.hybrid.max_context_length": {"PLANLOOP_RAG_HYBRID_MAX_CONTEXT_LENGTH", "HYBRID_VECTOR_GRAPH_RAG_QUERY_MAX_CONTEXT_LENGTH"},
		"rag.hybrid.corpus_dir":         {"PLANLOOP_RAG_HYBRID_CORPUS_DIR", "HYBRID_VECTOR_GRAPH_RAG_CORPUS_DIR"},
		"telegram.token":                {"PLANLOOP_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"},
	}
	for key, names := range legacy {
		args := append([]string{key}, names...)
		_ = v.BindEnv(args...)
	}
}

// Load reads configuration from path (optional) and the environment, then
// validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("planloop")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PLANLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on settings no run can work without.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return &ConfigurationError{Key: "llm.provider", Reason: fmt.Sprintf("unsupported provider %q", c.LLM.Provider)}
	}
	if c.LLM.APIKey == "" {
		return &ConfigurationError{Key: "llm.api_key", Reason: "required (set OPENAI_API_KEY or PLANLOOP_LLM_API_KEY)"}
	}
	models := []struct{ key, val string }{
		{"llm.planning_model", c.LLM.PlanningModel},
		{"llm.evaluation_model", c.LLM.EvaluationModel},
		{"llm.surf_model", c.LLM.SurfModel},
	}
	for _, m := range models {
		if m.val == "" {
			return &ConfigurationError{Key: m.key, Reason: "required"}
		}
	}
	if c.Agent.MaxIterations < 1 {
		return &ConfigurationError{Key: "agent.max_iterations", Reason: "must be at least 1"}
	}
	if c.Agent.SurfMaxIterations < 1 {
		return &ConfigurationError{Key: "agent.surf_max_iterations", Reason: "must be at least 1"}
	}
	if c.Agent.EvalRetries < 0 {
		return &ConfigurationError{Key: "agent.eval_retries", Reason: "must not be negative"}
	}
	if c.Browser.MaxRetries < 0 {
		return &ConfigurationError{Key: "browser.max_retries", Reason: "must not be negative"}
	}
	if c.RAG.Simple.ChunkSize <= c.RAG.Simple.Overlap {
		return &ConfigurationError{Key: "rag.simple.chunk_size", Reason: "must be larger than rag.simple.overlap"}
	}
	if c.RAG.Hybrid.ChunkSize <= c.RAG.Hybrid.Overlap {
		return &ConfigurationError{Key: "rag.hybrid.chunk_size", Reason: "must be larger than rag.hybrid.overlap"}
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return &ConfigurationError{Key: "telegram.token", Reason: "required when telegram is enabled"}
	}
	return nil
}
