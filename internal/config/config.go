// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	LLM() LLMRouterConfig
	Engine() EngineConfig
	Layout() LayoutConfig
	Store() StoreConfig

	// Store Setters
	SetStoreType(string)
	SetStorePath(string)

	// Engine Setters
	SetEngineGenerationTimeout(d time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	LLMCfg    LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	EngineCfg EngineConfig    `mapstructure:"engine" yaml:"engine"`
	LayoutCfg LayoutConfig    `mapstructure:"layout" yaml:"layout"`
	StoreCfg  StoreConfig     `mapstructure:"store" yaml:"store"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig { return c.LoggerCfg }
func (c *Config) LLM() LLMRouterConfig { return c.LLMCfg }
func (c *Config) Engine() EngineConfig { return c.EngineCfg }
func (c *Config) Layout() LayoutConfig { return c.LayoutCfg }
func (c *Config) Store() StoreConfig   { return c.StoreCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetStoreType(t string) { c.StoreCfg.Type = t }
func (c *Config) SetStorePath(p string) { c.StoreCfg.Path = p }
func (c *Config) SetEngineGenerationTimeout(d time.Duration) {
	c.EngineCfg.GenerationTimeout = d
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMProvider defines the supported LLM providers. "gemini" calls the REST
// endpoint directly, "google" goes through the GenAI SDK.
type LLMProvider string

const (
	ProviderGemini     LLMProvider = "gemini"
	ProviderGoogle     LLMProvider = "google"
	ProviderOpenRouter LLMProvider = "openrouter"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// EngineConfig tunes the generation pipeline and structure analysis.
type EngineConfig struct {
	MaxChildren         int           `mapstructure:"max_children" yaml:"max_children"`
	GenerationTimeout   time.Duration `mapstructure:"generation_timeout" yaml:"generation_timeout"`
	AnalysisTimeout     time.Duration `mapstructure:"analysis_timeout" yaml:"analysis_timeout"`
	Temperature         float64       `mapstructure:"temperature" yaml:"temperature"`
	AnalysisTemperature float64       `mapstructure:"analysis_temperature" yaml:"analysis_temperature"`
}

// LayoutConfig holds the layout geometry.
type LayoutConfig struct {
	CanvasWidth        float64 `mapstructure:"canvas_width" yaml:"canvas_width"`
	CanvasHeight       float64 `mapstructure:"canvas_height" yaml:"canvas_height"`
	Margin             float64 `mapstructure:"margin" yaml:"margin"`
	OriginX            float64 `mapstructure:"origin_x" yaml:"origin_x"`
	OriginY            float64 `mapstructure:"origin_y" yaml:"origin_y"`
	VerticalOffset     float64 `mapstructure:"vertical_offset" yaml:"vertical_offset"`
	MainSpacing        float64 `mapstructure:"main_spacing" yaml:"main_spacing"`
	SubSpacing         float64 `mapstructure:"sub_spacing" yaml:"sub_spacing"`
	InsightSpacing     float64 `mapstructure:"insight_spacing" yaml:"insight_spacing"`
	OpportunitySpacing float64 `mapstructure:"opportunity_spacing" yaml:"opportunity_spacing"`
}

// Snapshot store backends.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// StoreConfig selects where session snapshots live.
type StoreConfig struct {
	Type           string `mapstructure:"type" yaml:"type"`
	Path           string `mapstructure:"path" yaml:"path"`
	SQLitePath     string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL    string `mapstructure:"postgres_url" yaml:"postgres_url"`
	DefaultSession string `mapstructure:"default_session" yaml:"default_session"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "ideagraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "gemini-flash")
	v.SetDefault("llm.default_powerful_model", "gemini-pro")
	v.SetDefault("llm.models", map[string]any{
		"gemini-flash": map[string]any{
			"provider":            string(ProviderGemini),
			"model":               "gemini-2.5-flash",
			"api_timeout":         "90s",
			"temperature":         0.8,
			"max_tokens":          2048,
			"requests_per_minute": 60,
		},
		"gemini-pro": map[string]any{
			"provider":            string(ProviderGemini),
			"model":               "gemini-2.5-pro",
			"api_timeout":         "3m",
			"temperature":         0.3,
			"max_tokens":          4096,
			"requests_per_minute": 30,
		},
	})

	// -- Engine --
	v.SetDefault("engine.max_children", 3)
	v.SetDefault("engine.generation_timeout", "2m")
	v.SetDefault("engine.analysis_timeout", "3m")
	v.SetDefault("engine.temperature", 0.8)
	v.SetDefault("engine.analysis_temperature", 0.3)

	// -- Layout --
	v.SetDefault("layout.canvas_width", 1200.0)
	v.SetDefault("layout.canvas_height", 800.0)
	v.SetDefault("layout.margin", 80.0)
	v.SetDefault("layout.origin_x", 600.0)
	v.SetDefault("layout.origin_y", 100.0)
	v.SetDefault("layout.vertical_offset", 150.0)
	v.SetDefault("layout.main_spacing", 300.0)
	v.SetDefault("layout.sub_spacing", 220.0)
	v.SetDefault("layout.insight_spacing", 180.0)
	v.SetDefault("layout.opportunity_spacing", 160.0)

	// -- Store --
	v.SetDefault("store.type", StoreFile)
	v.SetDefault("store.path", "~/.ideagraph/sessions")
	v.SetDefault("store.sqlite_path", "~/.ideagraph/ideagraph.db")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.default_session", "default")
}

// Environment variables that carry provider API keys.
const (
	EnvGeminiAPIKey     = "IDEAGRAPH_GEMINI_API_KEY"
	EnvOpenRouterAPIKey = "IDEAGRAPH_OPENROUTER_API_KEY"
	EnvPostgresURL      = "IDEAGRAPH_POSTGRES_URL"
)

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("store.postgres_url", EnvPostgresURL)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// API keys are kept out of config files; fill them from the environment.
	for name, m := range cfg.LLMCfg.Models {
		if m.APIKey != "" {
			continue
		}
		switch m.Provider {
		case ProviderGemini, ProviderGoogle:
			m.APIKey = os.Getenv(EnvGeminiAPIKey)
		case ProviderOpenRouter:
			m.APIKey = os.Getenv(EnvOpenRouterAPIKey)
		}
		cfg.LLMCfg.Models[name] = m
	}

	var err error
	if cfg.StoreCfg.Path, err = homedir.Expand(cfg.StoreCfg.Path); err != nil {
		return nil, fmt.Errorf("failed to expand store.path: %w", err)
	}
	if cfg.StoreCfg.SQLitePath, err = homedir.Expand(cfg.StoreCfg.SQLitePath); err != nil {
		return nil, fmt.Errorf("failed to expand store.sqlite_path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.LayoutCfg.Validate(); err != nil {
		return fmt.Errorf("layout configuration invalid: %w", err)
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the engine settings.
func (e *EngineConfig) Validate() error {
	if e.MaxChildren <= 0 {
		return fmt.Errorf("max_children must be a positive integer")
	}
	if e.GenerationTimeout <= 0 {
		return fmt.Errorf("generation_timeout must be a positive duration")
	}
	if e.AnalysisTimeout <= 0 {
		return fmt.Errorf("analysis_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the layout geometry.
func (l *LayoutConfig) Validate() error {
	if l.Margin < 0 {
		return fmt.Errorf("margin must not be negative")
	}
	if l.CanvasWidth <= 2*l.Margin || l.CanvasHeight <= 2*l.Margin {
		return fmt.Errorf("canvas must be larger than twice the margin")
	}
	if l.VerticalOffset <= 0 {
		return fmt.Errorf("vertical_offset must be positive")
	}
	return nil
}

// Validate checks the store selection.
func (s *StoreConfig) Validate() error {
	switch s.Type {
	case StoreFile:
		if s.Path == "" {
			return fmt.Errorf("path is required for the file store")
		}
	case StoreSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite store")
		}
	case StorePostgres:
		if s.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres store. Ensure %s is set", EnvPostgresURL)
		}
	default:
		return fmt.Errorf("unknown store type '%s'", s.Type)
	}
	if s.DefaultSession == "" {
		return fmt.Errorf("default_session must not be empty")
	}
	return nil
}

// Validate checks that the default models are defined.
func (r *LLMRouterConfig) Validate() error {
	if len(r.Models) == 0 {
		return nil
	}
	for _, name := range []string{r.DefaultFastModel, r.DefaultPowerfulModel} {
		if _, ok := r.Models[name]; !ok {
			return fmt.Errorf("default model '%s' is not defined under llm.models", name)
		}
	}
	return nil
}
