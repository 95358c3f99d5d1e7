// Package config loads batchtran settings from defaults, an optional config
// file, a .env file and BATCHTRAN_* environment variables, in increasing
// order of precedence. Command-line flags bound to the same keys win over
// all of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/valpere/batchtran/internal/orchestrator"
	"github.com/valpere/batchtran/internal/ratelimit"
	"github.com/valpere/batchtran/internal/translator"
)

const EnvPrefix = "BATCHTRAN"

// Providers lists the translation providers that can be configured.
var Providers = []string{"niutrans", "google", "mymemory", "systran"}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type ServeConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Config struct {
	QPS                 int           `mapstructure:"qps"`
	Interval            time.Duration `mapstructure:"interval"`
	Limiter             string        `mapstructure:"limiter"`
	Provider            string        `mapstructure:"provider"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	ProtectPlaceholders bool          `mapstructure:"protect_placeholders"`
	TidyOutput          bool          `mapstructure:"tidy_output"`
	ValidateOutput      bool          `mapstructure:"validate_output"`
	DB                  string        `mapstructure:"db"`
	NoCache             bool          `mapstructure:"no_cache"`

	Log   LogConfig   `mapstructure:"log"`
	Serve ServeConfig `mapstructure:"serve"`
	Redis RedisConfig `mapstructure:"redis"`

	NiuTrans translator.ServiceConfig `mapstructure:"niutrans"`
	Google   translator.ServiceConfig `mapstructure:"google"`
	MyMemory translator.ServiceConfig `mapstructure:"mymemory"`
	Systran  translator.ServiceConfig `mapstructure:"systran"`

	// LangMap holds per-provider language code overrides.
	LangMap map[string]map[string]string `mapstructure:"lang_map"`
}

// SetDefaults registers every key so environment variables are seen by
// Unmarshal even when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("qps", 5)
	v.SetDefault("interval", time.Second)
	v.SetDefault("limiter", ratelimit.KindToken)
	v.SetDefault("provider", "niutrans")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("max_attempts", 1)
	v.SetDefault("retry_delay", 500*time.Millisecond)
	v.SetDefault("protect_placeholders", false)
	v.SetDefault("tidy_output", false)
	v.SetDefault("validate_output", false)
	v.SetDefault("db", "./data/batchtran.db")
	v.SetDefault("no_cache", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("serve.host", "127.0.0.1")
	v.SetDefault("serve.port", 8080)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "batchtran:gate")

	for _, p := range Providers {
		for _, k := range []string{"api_key", "url", "credentials", "email", "project_id"} {
			v.SetDefault(p+"."+k, "")
		}
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error unless required is set.
func LoadEnvFile(path string, required bool) (bool, error) {
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return false, nil
		}
		return false, fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Overload(path); err != nil {
		return false, fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return true, nil
}

// Load reads configuration into a validated Config. configFile may be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.QPS < 1 {
		return fmt.Errorf("qps must be at least 1, got %d", c.QPS)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative, got %s", c.RetryDelay)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative, got %s", c.RequestTimeout)
	}
	switch c.Limiter {
	case ratelimit.KindToken, ratelimit.KindWindow:
	case ratelimit.KindRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("limiter %s needs redis.addr", ratelimit.KindRedis)
		}
	default:
		return fmt.Errorf("unknown limiter %q (want %s, %s or %s)", c.Limiter, ratelimit.KindToken, ratelimit.KindWindow, ratelimit.KindRedis)
	}
	if _, err := c.Service(c.Provider); err != nil {
		return err
	}
	return nil
}

// Service returns the settings of the named provider.
func (c *Config) Service(provider string) (translator.ServiceConfig, error) {
	var sc translator.ServiceConfig
	switch provider {
	case "niutrans":
		sc = c.NiuTrans
	case "google":
		sc = c.Google
	case "mymemory":
		sc = c.MyMemory
	case "systran":
		sc = c.Systran
	default:
		return sc, fmt.Errorf("unknown provider %q (available: %s)", provider, strings.Join(Providers, ", "))
	}
	if sc.Timeout == 0 {
		sc.Timeout = c.RequestTimeout
	}
	return sc, nil
}

// GateKey is the shared counter prefix for the configured provider, so
// processes using the same provider draw from one budget.
func (c *Config) GateKey() string {
	return c.Redis.Prefix + ":" + c.Provider
}

// Engine returns the engine settings for the configured provider.
func (c *Config) Engine() orchestrator.Config {
	return orchestrator.Config{
		QPS:                 c.QPS,
		Interval:            c.Interval,
		Limiter:             c.Limiter,
		RequestTimeout:      c.RequestTimeout,
		MaxAttempts:         c.MaxAttempts,
		RetryDelay:          c.RetryDelay,
		ProtectPlaceholders: c.ProtectPlaceholders,
		TidyOutput:          c.TidyOutput,
		LangMap:             c.LangMap[c.Provider],
	}
}
