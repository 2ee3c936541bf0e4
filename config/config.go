// Package config loads the matching core settings with viper.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MATCH_MAX_PROCESSORS.
const EnvPrefix = "MATCH"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	MaxProcessors int    `mapstructure:"max_processors"`
	QueueCapacity int64  `mapstructure:"queue_capacity"`
	Router        string `mapstructure:"router"`
	Rollback      string `mapstructure:"rollback"`

	Matchers               []string `mapstructure:"matchers"`
	Handlers               []string `mapstructure:"handlers"`
	AllowFullFillAllOrNone bool     `mapstructure:"allow_full_fill_all_or_none"`

	QuantityScale int32   `mapstructure:"quantity_scale"`
	PriceScale    int32   `mapstructure:"price_scale"`
	DepthLevels   []int32 `mapstructure:"depth_levels"`
	DepthLimit    int     `mapstructure:"depth_limit"`

	LogLevel string `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"max_processors":              4,
	"queue_capacity":              32768,
	"router":                      "instrument",
	"rollback":                    "cancel",
	"matchers":                    []string{"limit", "market", "stop"},
	"handlers":                    []string{"log", "publish"},
	"allow_full_fill_all_or_none": false,
	"quantity_scale":              8,
	"price_scale":                 8,
	"depth_levels":                []int32{0},
	"depth_limit":                 50,
	"log_level":                   "info",
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in settings with environment overrides applied.
func Default() (*Config, error) {
	return decode(newViper())
}

// Load reads a YAML file. Missing keys keep their defaults and environment
// variables override both.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. Unknown matcher and handler names are
// reported when the core is built.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxProcessors < 1 {
		errs = append(errs, fmt.Errorf("%w: max_processors must be at least 1", ErrInvalidConfig))
	}
	if c.QueueCapacity <= 0 || c.QueueCapacity&(c.QueueCapacity-1) != 0 {
		errs = append(errs, fmt.Errorf("%w: queue_capacity must be a power of 2", ErrInvalidConfig))
	}
	switch c.Router {
	case "instrument", "origin":
	default:
		errs = append(errs, fmt.Errorf("%w: router %q", ErrInvalidConfig, c.Router))
	}
	switch c.Rollback {
	case "cancel", "restore":
	default:
		errs = append(errs, fmt.Errorf("%w: rollback %q", ErrInvalidConfig, c.Rollback))
	}
	if len(c.Matchers) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one matcher is required", ErrInvalidConfig))
	}
	if c.QuantityScale < 0 || c.PriceScale < 0 {
		errs = append(errs, fmt.Errorf("%w: scales must not be negative", ErrInvalidConfig))
	}
	for _, level := range c.DepthLevels {
		if level < 0 || level > c.PriceScale {
			errs = append(errs, fmt.Errorf("%w: depth level %d outside [0, price_scale]", ErrInvalidConfig, level))
		}
	}
	if c.DepthLimit < 0 {
		errs = append(errs, fmt.Errorf("%w: depth_limit must not be negative", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}
