// Package config assembles the full service configuration: YAML file,
// struct-tag defaults, environment overrides for secrets and endpoints,
// then validation. Component packages own their tunables; this package
// only composes them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/engine"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/feed"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/httpapi"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/market"
	"github.com/ninjahangover/signalcartel-alien-sub001/internal/weights"
)

var validate = validator.New()

// Config is the full service configuration.
type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`

	// ShutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s" validate:"gt=0"`

	Engine engine.Config  `yaml:"engine"`
	Server httpapi.Config `yaml:"server"`
	Market MarketConfig   `yaml:"market"`
	Feed   FeedConfig     `yaml:"feed"`
}

// MarketConfig wires the context provider and its warm cache.
type MarketConfig struct {
	Provider market.ProviderConfig `yaml:"provider"`
	Redis    RedisConfig           `yaml:"redis"`
}

// RedisConfig points the context cache at a Redis instance. A blank addr
// keeps the in-process cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" default:"0"`
}

// FeedConfig wires the live input paths.
type FeedConfig struct {
	Stream   feed.StreamConfig   `yaml:"stream"`
	Outcomes feed.ConsumerConfig `yaml:"outcomes"`
}

// Default returns the configuration with every tunable at its stock value.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.backfill()
	return &c, nil
}

// Load reads the YAML file at path, fills defaults for everything the file
// omits, applies environment overrides, and validates. A blank path skips
// the file and returns defaults plus overrides.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.backfill()
	applyEnv(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// backfill fills what struct tags cannot express: map-typed defaults.
func (c *Config) backfill() {
	if len(c.Engine.Weights.Priorities) == 0 {
		c.Engine.Weights.Priorities = weights.DefaultConfig().Priorities
	}
}

// applyEnv overrides secrets and endpoints that should not sit in files.
func applyEnv(c *Config) {
	if v := os.Getenv("FUSION_REDIS_ADDR"); v != "" {
		c.Market.Redis.Addr = v
	}
	if v := os.Getenv("FUSION_REDIS_PASSWORD"); v != "" {
		c.Market.Redis.Password = v
	}
	if v := os.Getenv("FUSION_MARKET_URL"); v != "" {
		c.Market.Provider.BaseURL = v
	}
	if v := os.Getenv("FUSION_STREAM_URL"); v != "" {
		c.Feed.Stream.URL = v
	}
	if v := os.Getenv("FUSION_KAFKA_BROKERS"); v != "" {
		c.Feed.Outcomes.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FUSION_HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// Validate checks every tagged constraint across the composed tree.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
