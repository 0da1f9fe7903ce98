package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type NotificationWebhook struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url" yaml:"url"`
	Type string `mapstructure:"type" yaml:"type"` // webhook, slack, discord
}

type Store struct {
	Driver       string        `mapstructure:"driver" yaml:"driver"` // json, sqlite, postgres
	Path         string        `mapstructure:"path" yaml:"path"`
	DSN          string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns     int32         `mapstructure:"max_conns" yaml:"max_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

type Redis struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type Docker struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

type Config struct {
	HTTPAddr             string                `mapstructure:"http_addr" yaml:"http_addr"`
	Env                  string                `mapstructure:"env" yaml:"env"`
	Store                Store                 `mapstructure:"store" yaml:"store"`
	Redis                Redis                 `mapstructure:"redis" yaml:"redis"`
	Kafka                Kafka                 `mapstructure:"kafka" yaml:"kafka"`
	Docker               Docker                `mapstructure:"docker" yaml:"docker"`
	Log                  Log                   `mapstructure:"log" yaml:"log"`
	Notifications        []NotificationWebhook `mapstructure:"notifications" yaml:"notifications"`
	TickInterval         time.Duration         `mapstructure:"tick_interval" yaml:"tick_interval"`
	HistoryRetentionDays int                   `mapstructure:"history_retention_days" yaml:"history_retention_days"`
	CacheTTL             time.Duration         `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	AllowedCORSOrigin    string                `mapstructure:"allowed_cors_origin" yaml:"allowed_cors_origin"`
}

// Load reads config.yaml from path (or ./ and ./config when path is empty),
// then overlays CRONGUARD_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("env", "dev")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/cronguard.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.query_timeout", "2s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "monitor-events")
	v.SetDefault("docker.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("tick_interval", "10s")
	v.SetDefault("history_retention_days", 90)
	v.SetDefault("cache_ttl", "1m")
	v.SetDefault("allowed_cors_origin", "")

	v.SetEnvPrefix("CRONGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "json", "sqlite":
		if c.Store.Path == "" {
			return ErrConfig("store.path is required for the " + c.Store.Driver + " driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return ErrConfig("store.dsn is required for the postgres driver")
		}
	default:
		return ErrConfig("unknown store.driver " + c.Store.Driver)
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	return nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
