// Package config loads process configuration, following the viper-backed
// pattern in the teacher repository's internal/config/config.go: defaults
// set first, then a config file, then environment variables layered on top.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment/config knob enumerated in spec.md section 6.
type Config struct {
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Matching struct {
		PerSymbolQueueCapacity int     `mapstructure:"per_symbol_queue_capacity"`
		MarketSlippageCushion  float64 `mapstructure:"market_order_slippage_cushion"`
	} `mapstructure:"matching"`

	Scheduler struct {
		ExpirationTickSeconds int `mapstructure:"expiration_tick_seconds"`
	} `mapstructure:"scheduler"`

	Retry struct {
		DBMaxRetries  int `mapstructure:"db_max_retries"`
		DBRetryBaseMS int `mapstructure:"db_retry_base_ms"`
		DBRetryMaxMS  int `mapstructure:"db_retry_max_ms"`
	} `mapstructure:"retry"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Symbols []string `mapstructure:"symbols"`
}

// ExpirationTick returns the expiration scheduler's tick duration.
func (c *Config) ExpirationTick() time.Duration {
	return time.Duration(c.Scheduler.ExpirationTickSeconds) * time.Second
}

// RetryBaseDelay returns the base exponential-backoff delay for transient DB errors.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.DBRetryBaseMS) * time.Millisecond
}

// RetryMaxDelay returns the cap on exponential-backoff delay.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.DBRetryMaxMS) * time.Millisecond
}

// SlippageRatio converts MarketSlippageCushion (e.g. 1.10) into an exact
// integer numerator/denominator pair, so a MARKET buy reservation never
// depends on float rounding even though the knob itself is configured as a
// decimal (spec.md section 6, "MARKET_ORDER_SLIPPAGE_CUSHION").
func (c *Config) SlippageRatio() (numerator, denominator int64) {
	const scale = 10000
	return int64(c.Matching.MarketSlippageCushion*scale + 0.5), scale
}

var (
	loaded *Config
	once   sync.Once
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("matching.per_symbol_queue_capacity", 1024)
	v.SetDefault("matching.market_order_slippage_cushion", 1.10)
	v.SetDefault("scheduler.expiration_tick_seconds", 1)
	v.SetDefault("retry.db_max_retries", 5)
	v.SetDefault("retry.db_retry_base_ms", 50)
	v.SetDefault("retry.db_retry_max_ms", 1500)
	v.SetDefault("logging.level", "info")
	v.SetDefault("symbols", []string{})
}

// Load reads config.yaml from configPath (or, when configPath is empty,
// from ., ./config or /etc/exchange) and the EXCHANGE_-prefixed
// environment, layered over the defaults in that order of increasing
// precedence. Load is safe to call once per process; subsequent calls
// return the same *Config.
func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/exchange")
		}

		setDefaults(v)

		v.AutomaticEnv()
		v.SetEnvPrefix("EXCHANGE")

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("read config: %w", readErr)
				return
			}
		}

		cfg := &Config{}
		if unmarshalErr := v.Unmarshal(cfg); unmarshalErr != nil {
			err = fmt.Errorf("unmarshal config: %w", unmarshalErr)
			return
		}
		loaded = cfg
	})
	if err != nil {
		return nil, err
	}
	return loaded, nil
}
