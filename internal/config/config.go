package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/corpus-cli/internal/predicate"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Filter     FilterConfig     `yaml:"filter" mapstructure:"filter"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Annotate   AnnotateConfig   `yaml:"annotate" mapstructure:"annotate"`
	Progress   ProgressConfig   `yaml:"progress" mapstructure:"progress"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SourceConfig selects the upstream corpus.
type SourceConfig struct {
	Kind string   `yaml:"kind" mapstructure:"kind"`
	Path string   `yaml:"path" mapstructure:"path"`
	HF   HFConfig `yaml:"hf" mapstructure:"hf"`
}

// HFConfig configures the Hugging Face datasets-server backend.
type HFConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Dataset           string  `yaml:"dataset" mapstructure:"dataset"`
	Config            string  `yaml:"config" mapstructure:"config"`
	Split             string  `yaml:"split" mapstructure:"split"`
	PageSize          int     `yaml:"page_size" mapstructure:"page_size"`
	Token             string  `yaml:"token" mapstructure:"token"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// FilterConfig configures the keyword filter stage.
type FilterConfig struct {
	BatchSize      int      `yaml:"batch_size" mapstructure:"batch_size"`
	Workers        int      `yaml:"workers" mapstructure:"workers"`
	MaxTextChars   int      `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	Keywords       []string `yaml:"keywords" mapstructure:"keywords"`
	KeywordsFile   string   `yaml:"keywords_file" mapstructure:"keywords_file"`
	CandidatesPath string   `yaml:"candidates_path" mapstructure:"candidates_path"`
}

// CheckpointConfig selects the cursor store.
type CheckpointConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Name        string `yaml:"name" mapstructure:"name"`
}

// AnnotateConfig configures the annotation stage.
type AnnotateConfig struct {
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	HaltAfterFailures int     `yaml:"halt_after_failures" mapstructure:"halt_after_failures"`
	RetryTransient    bool    `yaml:"retry_transient" mapstructure:"retry_transient"`
	MaxCostUSD        float64 `yaml:"max_cost_usd" mapstructure:"max_cost_usd"`
	SchemaPath        string  `yaml:"schema_path" mapstructure:"schema_path"`
	SystemPromptPath  string  `yaml:"system_prompt_path" mapstructure:"system_prompt_path"`
	UserPromptPath    string  `yaml:"user_prompt_path" mapstructure:"user_prompt_path"`
	OutputDir         string  `yaml:"output_dir" mapstructure:"output_dir"`
	SuccessFile       string  `yaml:"success_file" mapstructure:"success_file"`
	FailureFile       string  `yaml:"failure_file" mapstructure:"failure_file"`
}

// ProgressConfig configures periodic progress logging.
type ProgressConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// MetricsConfig configures the optional metrics listener.
type MetricsConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures post-run webhook alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinFinished          int64   `yaml:"min_finished" mapstructure:"min_finished"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CORPUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("anthropic.key", "CORPUS_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("source.kind", "jsonl")
	v.SetDefault("source.path", "")
	v.SetDefault("source.hf.token", "")
	v.SetDefault("source.hf.base_url", "https://datasets-server.huggingface.co")
	v.SetDefault("source.hf.dataset", "gabrielaltay/pmcoa")
	v.SetDefault("source.hf.config", "default")
	v.SetDefault("source.hf.split", "train")
	v.SetDefault("source.hf.page_size", 100)
	v.SetDefault("source.hf.requests_per_second", 5.0)
	v.SetDefault("filter.batch_size", 1000)
	v.SetDefault("filter.workers", 0)
	v.SetDefault("filter.max_text_chars", 25000)
	v.SetDefault("filter.keywords", predicate.DefaultKeywords)
	v.SetDefault("filter.keywords_file", "")
	v.SetDefault("filter.candidates_path", "data/candidates/pmcoa_candidates.jsonl")
	v.SetDefault("checkpoint.driver", "file")
	v.SetDefault("checkpoint.path", "data/candidates/state.json")
	v.SetDefault("checkpoint.database_url", "")
	v.SetDefault("checkpoint.name", "filter")
	v.SetDefault("annotate.concurrency", 15)
	v.SetDefault("annotate.timeout_secs", 120)
	v.SetDefault("annotate.requests_per_minute", 0)
	v.SetDefault("annotate.halt_after_failures", 0)
	v.SetDefault("annotate.retry_transient", false)
	v.SetDefault("annotate.max_cost_usd", 0.0)
	v.SetDefault("annotate.schema_path", "schema/protocol_extractor_v1.schema.json")
	v.SetDefault("annotate.system_prompt_path", "prompts/annotator_system.txt")
	v.SetDefault("annotate.user_prompt_path", "prompts/annotator_user.txt")
	v.SetDefault("annotate.output_dir", "data/labeled")
	v.SetDefault("annotate.success_file", "gold.jsonl")
	v.SetDefault("annotate.failure_file", "bad.jsonl")
	v.SetDefault("progress.interval_secs", 10)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.allowed_origins", []string{})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_finished", 5)
	v.SetDefault("monitoring.cost_threshold_usd", 0.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
