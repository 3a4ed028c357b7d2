package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds all nodeflow configuration.
// Priority: flags > env vars > settings.yaml > defaults.
type Config struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
	DBPath     string `yaml:"db_path" validate:"required"`
	LogLevel   string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string `yaml:"log_format" validate:"oneof=json text"`

	Workers          int           `yaml:"workers" validate:"min=1,max=256"`
	QueueSize        int           `yaml:"queue_size" validate:"min=1"`
	MaxAttempts      int           `yaml:"max_attempts" validate:"min=1,max=20"`
	ScheduleInterval time.Duration `yaml:"schedule_interval" validate:"min=1s"`
	StepRetention    time.Duration `yaml:"step_retention" validate:"min=1h"`

	// EncryptionKey is the 32-byte credential key, hex or base64.
	EncryptionKey  string `yaml:"encryption_key"`
	RealtimeSecret string `yaml:"realtime_secret" validate:"omitempty,min=16"`
	RedisAddr      string `yaml:"redis_addr" validate:"omitempty,hostname_port"`

	HTTPRatePerHost float64 `yaml:"http_rate_per_host" validate:"gte=0"`
	TelegramAPIBase string  `yaml:"telegram_api_base" validate:"omitempty,url"`
	OpenAIBaseURL   string  `yaml:"openai_base_url" validate:"omitempty,url"`
	OllamaURL       string  `yaml:"ollama_url" validate:"omitempty,url"`
	OllamaModel     string  `yaml:"ollama_model"`

	// Tracing: none, stdout (to stderr) or otlp (gRPC collector).
	TraceExporter   string  `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	TraceEndpoint   string  `yaml:"trace_endpoint" validate:"required_if=TraceExporter otlp"`
	TraceInsecure   bool    `yaml:"trace_insecure"`
	TraceSampleRate float64 `yaml:"trace_sample_rate" validate:"gte=0,lte=1"`

	// Fallback provider keys for model nodes without a credential.
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:       ":4100",
		DBPath:           filepath.Join(nodeflowDir(), "nodeflow.db"),
		LogLevel:         "info",
		LogFormat:        "json",
		Workers:          10,
		QueueSize:        256,
		MaxAttempts:      3,
		ScheduleInterval: 30 * time.Second,
		StepRetention:    7 * 24 * time.Hour,
		TraceExporter:    "none",
		TraceSampleRate:  1,
	}
}

func nodeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	return filepath.Join(nodeflowDir(), "settings.yaml")
}

// loadConfig layers defaults, the settings file, NODEFLOW_* env vars and
// explicitly set flags, then validates the result. A missing settings
// file is not an error unless path was given explicitly.
func loadConfig(cmd *cobra.Command, path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist) || explicit:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if cmd != nil {
		if err := applyFlags(cmd, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, validateConfig(cfg)
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"NODEFLOW_LISTEN_ADDR":       &cfg.ListenAddr,
		"NODEFLOW_DB_PATH":           &cfg.DBPath,
		"NODEFLOW_LOG_LEVEL":         &cfg.LogLevel,
		"NODEFLOW_LOG_FORMAT":        &cfg.LogFormat,
		"NODEFLOW_ENCRYPTION_KEY":    &cfg.EncryptionKey,
		"NODEFLOW_REALTIME_SECRET":   &cfg.RealtimeSecret,
		"NODEFLOW_REDIS_ADDR":        &cfg.RedisAddr,
		"NODEFLOW_TELEGRAM_API_BASE": &cfg.TelegramAPIBase,
		"NODEFLOW_OPENAI_BASE_URL":   &cfg.OpenAIBaseURL,
		"NODEFLOW_OLLAMA_URL":        &cfg.OllamaURL,
		"NODEFLOW_OLLAMA_MODEL":      &cfg.OllamaModel,
		"NODEFLOW_TRACE_EXPORTER":    &cfg.TraceExporter,
		"NODEFLOW_TRACE_ENDPOINT":    &cfg.TraceEndpoint,
		"GEMINI_API_KEY":             &cfg.GeminiAPIKey,
		"OPENAI_API_KEY":             &cfg.OpenAIAPIKey,
		"ANTHROPIC_API_KEY":          &cfg.AnthropicAPIKey,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"NODEFLOW_WORKERS":      &cfg.Workers,
		"NODEFLOW_QUEUE_SIZE":   &cfg.QueueSize,
		"NODEFLOW_MAX_ATTEMPTS": &cfg.MaxAttempts,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("NODEFLOW_SCHEDULE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_SCHEDULE_INTERVAL: %w", err)
		}
		cfg.ScheduleInterval = d
	}
	if v, ok := lookup("NODEFLOW_STEP_RETENTION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_STEP_RETENTION: %w", err)
		}
		cfg.StepRetention = d
	}
	if v, ok := lookup("NODEFLOW_TRACE_SAMPLE_RATE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("NODEFLOW_TRACE_SAMPLE_RATE: %w", err)
		}
		cfg.TraceSampleRate = f
	}
	if v, ok := lookup("NODEFLOW_TRACE_INSECURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NODEFLOW_TRACE_INSECURE: %w", err)
		}
		cfg.TraceInsecure = b
	}
	if v, ok := lookup("NODEFLOW_HTTP_RATE_PER_HOST"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("NODEFLOW_HTTP_RATE_PER_HOST: %w", err)
		}
		cfg.HTTPRatePerHost = f
	}
	return nil
}

// applyFlags copies flags the user set on the command line. Flags that
// were left at their default never override lower layers.
func applyFlags(cmd *cobra.Command, cfg *Config) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("db-path") {
		cfg.DBPath, err = flags.GetString("db-path")
	}
	if err == nil && flags.Changed("log-level") {
		cfg.LogLevel, err = flags.GetString("log-level")
	}
	if err == nil && flags.Changed("log-format") {
		cfg.LogFormat, err = flags.GetString("log-format")
	}
	if err == nil && flags.Changed("listen-addr") {
		cfg.ListenAddr, err = flags.GetString("listen-addr")
	}
	if err == nil && flags.Changed("workers") {
		cfg.Workers, err = flags.GetInt("workers")
	}
	if err == nil && flags.Changed("redis-addr") {
		cfg.RedisAddr, err = flags.GetString("redis-addr")
	}
	return err
}

var configValidator = validator.New()

func validateConfig(cfg Config) error {
	err := configValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation error: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatValidationError(e))
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

func formatValidationError(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, e.Param(), e.Value())
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, strings.Replace(e.Param(), " ", " is ", 1))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, e.Param(), e.Value())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed %q validation (got: %v)", field, e.Tag(), e.Value())
	}
}
