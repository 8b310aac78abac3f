package config

import (
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env              string          `mapstructure:"env"`
	LogLevel         string          `mapstructure:"log_level"`
	LogType          string          `mapstructure:"log_type"`
	ServiceName      string          `mapstructure:"service_name"`
	Port             string          `mapstructure:"port"`
	Version          string          `mapstructure:"version"`
	BaseURL          string          `mapstructure:"base_url"`
	PipelineSettings *PipelineConfig `mapstructure:"pipeline"`
	ProbeSettings    *ProbeConfig    `mapstructure:"probe"`
	CaptureSettings  *CaptureConfig  `mapstructure:"capture"`
	ImageSettings    *ImageConfig    `mapstructure:"image"`
	OpenAISettings   *OpenAIConfig   `mapstructure:"openai"`
	ScraperSettings  *ScraperConfig  `mapstructure:"scraper"`
	ComposerSettings *ComposerConfig `mapstructure:"composer"`
	CacheSettings    *CacheConfig    `mapstructure:"cache"`
}

type PipelineConfig struct {
	RequestCeiling time.Duration `mapstructure:"request_ceiling"`
}

type ProbeConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type CaptureConfig struct {
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	SettleTime     time.Duration `mapstructure:"settle_time"`
	JpegQuality    int           `mapstructure:"jpeg_quality"`
	BlockImages    bool          `mapstructure:"block_images"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type ImageConfig struct {
	MaxBytes    int `mapstructure:"max_bytes"`
	BaseQuality int `mapstructure:"base_quality"`
	BoundWidth  int `mapstructure:"bound_width"`
	BoundHeight int `mapstructure:"bound_height"`
}

type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	VisionModel    string        `mapstructure:"vision_model"`
	TextModel      string        `mapstructure:"text_model"`
	ImageDetail    string        `mapstructure:"image_detail"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type ScraperConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type ComposerConfig struct {
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type CacheConfig struct {
	TtlForAnalysis  time.Duration `mapstructure:"ttl_for_analysis"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

func MustLoad() *Config {
	viper.AddConfigPath(path.Join("."))
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		slog.Error("can't initialize config file.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("error unmarshalling viper config.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	// Secrets and deploy-specific values come from the environment, not the file.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAISettings.APIKey = key
	}
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	return &cfg
}
