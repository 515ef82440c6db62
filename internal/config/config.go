// Package config loads realty-bot settings from an optional YAML file and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration of both entrypoints.
type Config struct {
	Environment string         `yaml:"environment"`
	HTTP        HTTPConfig     `yaml:"http"`
	Database    DatabaseConfig `yaml:"database"`
	Sessions    SessionsConfig `yaml:"sessions"`
	Params      ParamsConfig   `yaml:"params"`
	OpenAI      OpenAIConfig   `yaml:"openai"`
	UAZAPI      UAZAPIConfig   `yaml:"uazapi"`
	Bot         BotConfig      `yaml:"bot"`
	Redis       RedisConfig    `yaml:"redis"`
	Auth        AuthConfig     `yaml:"auth"`
	Sentry      SentryConfig   `yaml:"sentry"`
	Log         LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type DatabaseConfig struct {
	// DSN is a postgres connection string, or "sqlite:<path>" for local runs.
	DSN         string `yaml:"dsn" validate:"required"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// SessionsConfig points at the DynamoDB table holding transcripts.
type SessionsConfig struct {
	Table    string `yaml:"table" validate:"required"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// ParamsConfig selects where secrets and prompt settings come from. The
// static source is meant for local development only.
type ParamsConfig struct {
	Prefix string            `yaml:"prefix" validate:"required,startswith=/"`
	Source string            `yaml:"source" validate:"oneof=ssm static"`
	Static map[string]string `yaml:"static"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

type UAZAPIConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

type BotConfig struct {
	PauseWindow  time.Duration `yaml:"pause_window" validate:"gt=0"`
	TurnBudget   time.Duration `yaml:"turn_budget" validate:"gt=0"`
	CallTimeout  time.Duration `yaml:"call_timeout" validate:"gt=0"`
	MaxRounds    int           `yaml:"max_rounds" validate:"gt=0,lte=20"`
	HistoryLimit int           `yaml:"history_limit" validate:"gt=1"`
}

// RedisConfig enables the shared per-lead lock when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"gte=0"`
	LockLease time.Duration `yaml:"lock_lease" validate:"gte=0"`
}

// AuthConfig enables the admin API when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" validate:"omitempty,min=32"`
}

type SentryConfig struct {
	DSN     string `yaml:"dsn" validate:"omitempty,url"`
	Release string `yaml:"release"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML file at path when path is not empty, applies
// environment overrides from lookup, fills defaults and validates.
func Load(path string, lookup LookupFunc) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return Parse(data, lookup)
}

// Parse unmarshals YAML bytes (possibly empty) into a validated Config.
func Parse(data []byte, lookup LookupFunc) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with any variable that is set.
func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not an integer", key))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not a duration", key))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: not a boolean", key))
				return
			}
			*dst = b
		}
	}

	str("ENVIRONMENT", &c.Environment)
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("DATABASE_URL", &c.Database.DSN)
	flag("DATABASE_AUTO_MIGRATE", &c.Database.AutoMigrate)
	str("STATE_TABLE", &c.Sessions.Table)
	str("DYNAMODB_ENDPOINT", &c.Sessions.Endpoint)
	str("PARAM_PREFIX", &c.Params.Prefix)
	str("PARAM_SOURCE", &c.Params.Source)
	str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	str("UAZAPI_BASE_URL", &c.UAZAPI.BaseURL)
	dur("BOT_PAUSE_WINDOW", &c.Bot.PauseWindow)
	dur("TURN_BUDGET", &c.Bot.TurnBudget)
	dur("OPENAI_CALL_TIMEOUT", &c.Bot.CallTimeout)
	num("MAX_TOOL_ROUNDS", &c.Bot.MaxRounds)
	num("HISTORY_LIMIT", &c.Bot.HistoryLimit)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	dur("REDIS_LOCK_LEASE", &c.Redis.LockLease)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("SENTRY_DSN", &c.Sentry.DSN)
	str("SENTRY_RELEASE", &c.Sentry.Release)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "production"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Params.Source == "" {
		c.Params.Source = "ssm"
	}
	c.Params.Prefix = strings.TrimRight(c.Params.Prefix, "/")
	if c.Bot.PauseWindow == 0 {
		c.Bot.PauseWindow = 10 * time.Minute
	}
	if c.Bot.TurnBudget == 0 {
		c.Bot.TurnBudget = 60 * time.Second
	}
	if c.Bot.CallTimeout == 0 {
		c.Bot.CallTimeout = 30 * time.Second
	}
	if c.Bot.MaxRounds == 0 {
		c.Bot.MaxRounds = 5
	}
	if c.Bot.HistoryLimit == 0 {
		c.Bot.HistoryLimit = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config: validation failed: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describe(fe))
		}
	}
	if c.Params.Source == "static" && c.Environment == "production" {
		errs = append(errs, "params.source=static is not allowed in production")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	// drop the leading "Config."
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of [" + fe.Param() + "]"
	case "url":
		return field + " must be a valid URL"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	default:
		return field + " is invalid"
	}
}

// RedisEnabled reports whether the shared lock should be used.
func (c *Config) RedisEnabled() bool { return c.Redis.Addr != "" }

// AdminEnabled reports whether the admin API should be mounted.
func (c *Config) AdminEnabled() bool { return c.Auth.JWTSecret != "" }
