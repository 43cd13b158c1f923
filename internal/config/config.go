package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	OpenAI     ProviderConfig   `mapstructure:"openai"`
	Anthropic  ProviderConfig   `mapstructure:"anthropic"`
	Agents     []AgentConfig    `mapstructure:"agents"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Reaper     ReaperConfig     `mapstructure:"reaper"`
	Audit      AuditConfig      `mapstructure:"audit"`

	// Schedules maps a strategy id to a cron spec that triggers a pipeline run.
	Schedules map[string]string `mapstructure:"schedules"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	LogSQL          bool          `mapstructure:"log_sql"`
	SlowQuery       time.Duration `mapstructure:"slow_query"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	// Backend is "redis" or "memory".
	Backend    string        `mapstructure:"backend"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// MaxEntries bounds the memory backend; 0 means unbounded.
	MaxEntries int `mapstructure:"max_entries"`
}

type AggregatorConfig struct {
	BaseURL        string          `mapstructure:"base_url"`
	APIKey         string          `mapstructure:"api_key"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	CacheTTL       time.Duration   `mapstructure:"cache_ttl"`
	RatePerSecond  float64         `mapstructure:"rate_per_second"`
	MaxElapsedTime time.Duration   `mapstructure:"max_elapsed_time"`
	Sources        map[string]bool `mapstructure:"sources"`
}

type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type AgentConfig struct {
	Name        string        `mapstructure:"name"`
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WorkflowConfig struct {
	MaxRecommendations int  `mapstructure:"max_recommendations"`
	MaterializeTop     int  `mapstructure:"materialize_top"`
	EnforceBudget      bool `mapstructure:"enforce_budget"`
	DefaultHorizonDays int  `mapstructure:"default_horizon_days"`
	// FailureWriteTimeout bounds the best-effort write of a failed run status.
	FailureWriteTimeout time.Duration `mapstructure:"failure_write_timeout"`
}

type ReaperConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type AuditConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

// DefaultAgents is the fixed three-agent fan-out. Each pair of model and
// temperature differs so the merged list draws on diverse opinions.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{Name: "analyst-precise", Provider: "openai", Model: "gpt-4o", Temperature: 0.2, MaxTokens: 8000, Timeout: 120 * time.Second},
		{Name: "analyst-balanced", Provider: "anthropic", Model: "claude-sonnet-4-20250514", Temperature: 0.5, MaxTokens: 8000, Timeout: 120 * time.Second},
		{Name: "analyst-creative", Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.8, MaxTokens: 8000, Timeout: 120 * time.Second},
	}
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.log_sql", false)
	v.SetDefault("db.slow_query", "500ms")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.max_entries", 1024)

	v.SetDefault("aggregator.base_url", "")
	v.SetDefault("aggregator.api_key", "")
	v.SetDefault("aggregator.timeout", "20s")
	v.SetDefault("aggregator.cache_ttl", "10m")
	v.SetDefault("aggregator.rate_per_second", 5)
	v.SetDefault("aggregator.max_elapsed_time", "30s")
	v.SetDefault("aggregator.sources", map[string]bool{
		"news":         true,
		"reddit":       true,
		"twitter":      false,
		"technical":    true,
		"fundamentals": true,
	})

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "")

	v.SetDefault("workflow.max_recommendations", 10)
	v.SetDefault("workflow.materialize_top", 3)
	v.SetDefault("workflow.enforce_budget", false)
	v.SetDefault("workflow.default_horizon_days", 30)
	v.SetDefault("workflow.failure_write_timeout", "5s")

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", "5m")
	v.SetDefault("reaper.stale_after", "30m")

	v.SetDefault("audit.base_url", "")
	v.SetDefault("audit.api_key", "")
	v.SetDefault("audit.agent", "stockadvisor")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	return cfg, nil
}
