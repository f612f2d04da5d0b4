// Package config содержит логику чтения конфигурации витрины.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

const (
	defaultRunAddress  = "localhost:8080"
	defaultAPIBaseURL  = "localhost:4000"
	defaultProfile     = "default"
	defaultDeliveryFee = "10"
	defaultCurrency    = "$"
	defaultDebounce    = 500 * time.Millisecond
	defaultAPITimeout  = 10 * time.Second
)

// Config содержит параметры конфигурации витрины.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	APIBaseURL     string        `env:"API_BASE_URL"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	RedisAddress   string        `env:"REDIS_ADDRESS"`
	Profile        string        `env:"PROFILE"`
	DeliveryFee    string        `env:"DELIVERY_FEE"`
	Currency       string        `env:"CURRENCY"`
	SearchDebounce time.Duration `env:"SEARCH_DEBOUNCE"`
	APITimeout     time.Duration `env:"API_TIMEOUT"`
}

// Fee возвращает стоимость доставки.
func (c *Config) Fee() decimal.Decimal {
	fee, err := decimal.NewFromString(c.DeliveryFee)
	if err != nil {
		return decimal.Zero
	}
	return fee
}

// StorageBackend называет хранилище локального состояния: postgres, redis или memory.
func (c *Config) StorageBackend() string {
	switch {
	case c.DatabaseURI != "":
		return "postgres"
	case c.RedisAddress != "":
		return "redis"
	default:
		return "memory"
	}
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.APIBaseURL, "b", defaultAPIBaseURL, "storefront API base URL")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address")
	flag.StringVar(&cfg.Profile, "p", defaultProfile, "local state profile key")
	flag.StringVar(&cfg.DeliveryFee, "f", defaultDeliveryFee, "delivery fee")
	flag.StringVar(&cfg.Currency, "c", defaultCurrency, "currency symbol")
	flag.DurationVar(&cfg.SearchDebounce, "s", defaultDebounce, "search suggestions debounce")
	flag.DurationVar(&cfg.APITimeout, "t", defaultAPITimeout, "storefront API request timeout")

	flag.Parse()

	overrideString(&cfg.RunAddress, envCfg.RunAddress)
	overrideString(&cfg.APIBaseURL, envCfg.APIBaseURL)
	overrideString(&cfg.DatabaseURI, envCfg.DatabaseURI)
	overrideString(&cfg.RedisAddress, envCfg.RedisAddress)
	overrideString(&cfg.Profile, envCfg.Profile)
	overrideString(&cfg.DeliveryFee, envCfg.DeliveryFee)
	overrideString(&cfg.Currency, envCfg.Currency)
	if envCfg.SearchDebounce > 0 {
		cfg.SearchDebounce = envCfg.SearchDebounce
	}
	if envCfg.APITimeout > 0 {
		cfg.APITimeout = envCfg.APITimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.Profile == "" {
		cfg.Profile = defaultProfile
	}

	fee, err := decimal.NewFromString(cfg.DeliveryFee)
	if err != nil {
		return nil, fmt.Errorf("parse delivery fee %q: %w", cfg.DeliveryFee, err)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("delivery fee must not be negative: %s", cfg.DeliveryFee)
	}

	return cfg, nil
}

func overrideString(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}
