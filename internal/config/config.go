package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Claims     ClaimsConfig     `yaml:"claims" mapstructure:"claims"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	RunLog     RunLogConfig     `yaml:"runlog" mapstructure:"runlog"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string  `yaml:"key" mapstructure:"key"`
	Model           string  `yaml:"model" mapstructure:"model"`
	MaxOutputTokens int64   `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature"`
}

// NotionConfig holds Notion API credentials and the member-summary database ID.
// Sync to Notion is enabled only when both fields are set.
type NotionConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	SummaryDB string `yaml:"summary_db" mapstructure:"summary_db"`
}

// SalesforceConfig holds Salesforce JWT auth settings. Sync to Salesforce is
// enabled only when ClientID is set.
type SalesforceConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	Username     string `yaml:"username" mapstructure:"username"`
	KeyPath      string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL     string `yaml:"login_url" mapstructure:"login_url"`
	SummaryField string `yaml:"summary_field" mapstructure:"summary_field"`
}

// SourceRule defines one source type to process and the ordered named subtypes
// that follow its null-subtype batch.
type SourceRule struct {
	Type     string   `yaml:"type" mapstructure:"type"`
	Subtypes []string `yaml:"subtypes" mapstructure:"subtypes"`
}

// ProcessingConfig bounds prompt assembly and declares which batches run, in
// which order.
type ProcessingConfig struct {
	ContextWindowTokens      int    `yaml:"context_window_tokens" mapstructure:"context_window_tokens"`
	ReserveOutputTokens      int    `yaml:"reserve_output_tokens" mapstructure:"reserve_output_tokens"`
	MaxNewDataTokensPerBatch int    `yaml:"max_new_data_tokens_per_batch" mapstructure:"max_new_data_tokens_per_batch"`
	OverheadTokens           int    `yaml:"overhead_tokens" mapstructure:"overhead_tokens"`
	PromptTemplatePath       string `yaml:"prompt_template_path" mapstructure:"prompt_template_path"`
	GuidanceMappingPath      string `yaml:"guidance_mapping_path" mapstructure:"guidance_mapping_path"`

	Sources []SourceRule `yaml:"sources" mapstructure:"sources"`
}

// ClaimsConfig configures the filesystem claim manager.
type ClaimsConfig struct {
	Dir        string        `yaml:"dir" mapstructure:"dir"`
	TTLSeconds int           `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// TTL returns the claim time-to-live as a duration.
func (c ClaimsConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// BatchConfig configures the parallel runner.
type BatchConfig struct {
	MaxConcurrentContacts int `yaml:"max_concurrent_contacts" mapstructure:"max_concurrent_contacts"`
}

// RunLogConfig configures run summary artifacts.
type RunLogConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_output_tokens", 8000)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.summary_field", "Member_Summary__c")
	v.SetDefault("processing.context_window_tokens", 200000)
	v.SetDefault("processing.reserve_output_tokens", 8000)
	v.SetDefault("processing.max_new_data_tokens_per_batch", 12000)
	v.SetDefault("processing.overhead_tokens", 500)
	v.SetDefault("processing.prompt_template_path", "contexts/structured_insight.md")
	v.SetDefault("processing.guidance_mapping_path", "contexts/mappings.yaml")
	v.SetDefault("claims.dir", "var/claims")
	v.SetDefault("claims.ttl_seconds", 900)
	v.SetDefault("claims.enabled", true)
	v.SetDefault("claims.retry_delay", "2s")
	v.SetDefault("batch.max_concurrent_contacts", 4)
	v.SetDefault("runlog.dir", "var/runs")

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
