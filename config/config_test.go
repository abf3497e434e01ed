package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 120*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 4, cfg.Jobs.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "multiagent_system", cfg.Store.MongoDB)
	assert.Equal(t, "noreply@youragency.com", cfg.Email.From)
	assert.Equal(t, "sales@youragency.com", cfg.Email.SalesTo)
	assert.Equal(t, 2, cfg.Refinement.Allowed)
	assert.Equal(t, "info", cfg.Log.Level)

	// the default provider needs a key
	assert.ErrorContains(t, cfg.Validate(), "llm.api_key is required")
}

func TestLoad_FileEnvAndProviderKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "consultant.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
  cors_origins: ["https://app.example.com"]
llm:
  provider: anthropic
store:
  driver: sqlite
  sqlite_path: /tmp/c.db
jobs:
  timeout: 2m
`), 0o600))

	t.Setenv("CONSULTANT_JOBS_CONCURRENCY", "8")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("RESEND_API_KEY", "re_test")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8, cfg.Jobs.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, "sk-ant-test", cfg.LLM.APIKey)
	assert.Equal(t, "re_test", cfg.Email.ResendAPIKey)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoad_BoundValueWins(t *testing.T) {
	t.Setenv("CONSULTANT_SERVER_ADDR", ":7000")
	v := viper.New()
	v.Set("server.addr", ":6000")

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Server.Addr)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:     ServerConfig{Addr: ":8000", RequestTimeout: time.Minute},
			Jobs:       JobsConfig{Concurrency: 1, Timeout: time.Minute},
			LLM:        LLMConfig{Provider: "mock"},
			Store:      StoreConfig{Driver: "memory"},
			Refinement: RefinementConfig{Allowed: 2},
			Log:        LogConfig{Level: "info"},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, `unknown store.driver "redis"`},
		{"mongo without uri", func(c *Config) { c.Store.Driver = "mongo"; c.Store.MongoDB = "db" }, "store.mongo_uri is required"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite" }, "store.sqlite_path is required"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "cohere" }, `unknown llm.provider "cohere"`},
		{"groq without key", func(c *Config) { c.LLM.Provider = "groq" }, "GROQ_API_KEY"},
		{"no workers", func(c *Config) { c.Jobs.Concurrency = 0 }, "jobs.concurrency"},
		{"no job timeout", func(c *Config) { c.Jobs.Timeout = 0 }, "jobs.timeout"},
		{"no refinements", func(c *Config) { c.Refinement.Allowed = 0 }, "refinement.allowed"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, `unknown log.level "trace"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("CONSULTANT_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("CONSULTANT_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CONSULTANT_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("CONSULTANT_TEST_DOTENV"))
}
