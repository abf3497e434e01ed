// Package config loads service configuration from defaults, an optional YAML
// file, a .env file, CONSULTANT_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "CONSULTANT"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Store      StoreConfig      `mapstructure:"store"`
	Email      EmailConfig      `mapstructure:"email"`
	Refinement RefinementConfig `mapstructure:"refinement"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// JobsConfig bounds background report generation.
type JobsConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MongoURI   string `mapstructure:"mongo_uri"`
	MongoDB    string `mapstructure:"mongo_db"`
}

type EmailConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
	SalesTo      string `mapstructure:"sales_to"`
	DashboardURL string `mapstructure:"dashboard_url"`
}

type RefinementConfig struct {
	Allowed int    `mapstructure:"allowed"`
	CTAURL  string `mapstructure:"cta_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.timeout", 10*time.Minute)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "consultant.db")
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_db", "multiagent_system")
	v.SetDefault("email.resend_api_key", "")
	v.SetDefault("email.from", "noreply@youragency.com")
	v.SetDefault("email.sales_to", "sales@youragency.com")
	v.SetDefault("email.dashboard_url", "http://localhost:3000/admin")
	v.SetDefault("refinement.allowed", 2)
	v.SetDefault("refinement.cta_url", "https://calendly.com/youragency/consultation")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load resolves the configuration held by v. Flags must already be bound to
// v; configFile may be empty.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Conventional provider variables are honoured as fallbacks.
	_ = v.BindEnv("email.resend_api_key", EnvPrefix+"_EMAIL_RESEND_API_KEY", "RESEND_API_KEY")
	_ = v.BindEnv("store.mongo_uri", EnvPrefix+"_STORE_MONGO_URI", "MONGO_URI")
	_ = v.BindEnv("email.from", EnvPrefix+"_EMAIL_FROM", "FROM_EMAIL")
	_ = v.BindEnv("email.sales_to", EnvPrefix+"_EMAIL_SALES_TO", "SALES_EMAIL")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderDefaults()
	return &cfg, nil
}

var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"groq":      "GROQ_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

var providerModel = map[string]string{
	"openai":    "gpt-4o-mini",
	"groq":      "llama-3.3-70b-versatile",
	"deepseek":  "deepseek-chat",
	"anthropic": "claude-sonnet-4-5",
	"gemini":    "gemini-2.5-flash",
}

func (c *Config) applyProviderDefaults() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.APIKey == "" {
		if env, ok := providerKeyEnv[c.LLM.Provider]; ok {
			c.LLM.APIKey = os.Getenv(env)
		}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = providerModel[c.LLM.Provider]
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri is required for the mongo driver"))
		}
		if c.Store.MongoDB == "" {
			errs = append(errs, errors.New("store.mongo_db is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.LLM.Provider {
	case "mock":
	case "openai", "groq", "deepseek", "anthropic", "gemini":
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.api_key is required for provider %s (or set %s)", c.LLM.Provider, providerKeyEnv[c.LLM.Provider]))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}

	if c.Jobs.Concurrency < 1 {
		errs = append(errs, errors.New("jobs.concurrency must be at least 1"))
	}
	if c.Jobs.Timeout <= 0 {
		errs = append(errs, errors.New("jobs.timeout must be positive"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Refinement.Allowed < 1 {
		errs = append(errs, errors.New("refinement.allowed must be at least 1"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
