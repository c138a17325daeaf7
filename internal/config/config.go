// Package config defines all configuration for the arbitrage engine.
// Config is loaded primarily from environment variables, with viper doing
// the binding and type coercion.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// VenueConfig holds one venue's connection endpoints and credentials.
type VenueConfig struct {
	WSURL      string
	APIURL     string
	APIKey     string
	PrivateKey string
}

// Config is the top-level configuration, built from environment variables.
// Only AutoExecute may change after Load.
type Config struct {
	VenueA VenueConfig
	VenueB VenueConfig

	DatabaseURL string

	ArbThreshold        float64
	MinLiquidity        float64
	MaxPositionSize     float64
	AutoExecute         bool
	VenueAFeeRate       float64
	VenueBFeeRate       float64
	SimilarityThreshold float64

	Port     int
	LogLevel string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("ARB_THRESHOLD", 0.98)
	v.SetDefault("MIN_LIQUIDITY", 1000.0)
	v.SetDefault("AUTO_EXECUTE", false)
	v.SetDefault("MAX_POSITION_SIZE", 10000.0)
	v.SetDefault("PORT", 3001)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VENUE_A_FEE_RATE", 0.02)
	v.SetDefault("VENUE_B_FEE_RATE", 0.02)
	v.SetDefault("SIMILARITY_THRESHOLD", 0.85)

	for _, key := range []string{
		"VENUE_A_WS_URL", "VENUE_A_API_URL", "VENUE_A_API_KEY", "VENUE_A_PRIVATE_KEY",
		"VENUE_B_WS_URL", "VENUE_B_API_URL", "VENUE_B_API_KEY", "VENUE_B_PRIVATE_KEY",
		"DATABASE_URL",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{
		VenueA: VenueConfig{
			WSURL:      v.GetString("VENUE_A_WS_URL"),
			APIURL:     v.GetString("VENUE_A_API_URL"),
			APIKey:     v.GetString("VENUE_A_API_KEY"),
			PrivateKey: v.GetString("VENUE_A_PRIVATE_KEY"),
		},
		VenueB: VenueConfig{
			WSURL:      v.GetString("VENUE_B_WS_URL"),
			APIURL:     v.GetString("VENUE_B_API_URL"),
			APIKey:     v.GetString("VENUE_B_API_KEY"),
			PrivateKey: v.GetString("VENUE_B_PRIVATE_KEY"),
		},
		DatabaseURL:         v.GetString("DATABASE_URL"),
		ArbThreshold:        v.GetFloat64("ARB_THRESHOLD"),
		MinLiquidity:        v.GetFloat64("MIN_LIQUIDITY"),
		MaxPositionSize:     v.GetFloat64("MAX_POSITION_SIZE"),
		AutoExecute:         v.GetBool("AUTO_EXECUTE"),
		VenueAFeeRate:       v.GetFloat64("VENUE_A_FEE_RATE"),
		VenueBFeeRate:       v.GetFloat64("VENUE_B_FEE_RATE"),
		SimilarityThreshold: v.GetFloat64("SIMILARITY_THRESHOLD"),
		Port:                v.GetInt("PORT"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		ConnectTimeout:      2 * time.Second,
		RequestTimeout:      10 * time.Second,
	}

	return cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.VenueA.WSURL == "" {
		return fmt.Errorf("VENUE_A_WS_URL is required")
	}
	if c.VenueA.APIURL == "" {
		return fmt.Errorf("VENUE_A_API_URL is required")
	}
	if c.VenueA.APIKey == "" {
		return fmt.Errorf("VENUE_A_API_KEY is required")
	}
	if c.VenueA.PrivateKey == "" {
		return fmt.Errorf("VENUE_A_PRIVATE_KEY is required")
	}
	if c.VenueB.WSURL == "" {
		return fmt.Errorf("VENUE_B_WS_URL is required")
	}
	if c.VenueB.APIURL == "" {
		return fmt.Errorf("VENUE_B_API_URL is required")
	}
	if c.VenueB.APIKey == "" {
		return fmt.Errorf("VENUE_B_API_KEY is required")
	}
	if c.VenueB.PrivateKey == "" {
		return fmt.Errorf("VENUE_B_PRIVATE_KEY is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ArbThreshold <= 0 || c.ArbThreshold > 1 {
		return fmt.Errorf("ARB_THRESHOLD must be in (0,1]")
	}
	if c.MinLiquidity <= 0 {
		return fmt.Errorf("MIN_LIQUIDITY must be > 0")
	}
	if c.MaxPositionSize <= 0 {
		return fmt.Errorf("MAX_POSITION_SIZE must be > 0")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0,1]")
	}
	if c.Port <= 0 {
		return fmt.Errorf("PORT must be > 0")
	}
	return nil
}

// Snapshot is an immutable copy of the arbitrage-relevant parameters, safe
// to hand to components that must not observe later config mutation.
type Snapshot struct {
	ArbThreshold        float64
	MinLiquidity        float64
	MaxPositionSize     float64
	VenueAFeeRate       float64
	VenueBFeeRate       float64
	SimilarityThreshold float64
}

// ToSnapshot extracts the immutable arbitrage parameters.
func (c *Config) ToSnapshot() Snapshot {
	return Snapshot{
		ArbThreshold:        c.ArbThreshold,
		MinLiquidity:        c.MinLiquidity,
		MaxPositionSize:     c.MaxPositionSize,
		VenueAFeeRate:       c.VenueAFeeRate,
		VenueBFeeRate:       c.VenueBFeeRate,
		SimilarityThreshold: c.SimilarityThreshold,
	}
}

// AutoExecuteFlag is the one mutable-at-runtime configuration field.
// Backed by atomic.Bool so readers never need a mutex. The engine's
// auto-execute loop reads it once per opportunity event and the execute
// endpoint once per request; the Coordinator itself does not read it.
type AutoExecuteFlag struct {
	v atomic.Bool
}

// NewAutoExecuteFlag builds a flag initialized from AUTO_EXECUTE.
func NewAutoExecuteFlag(initial bool) *AutoExecuteFlag {
	f := &AutoExecuteFlag{}
	f.v.Store(initial)
	return f
}

// Get reports the current value.
func (f *AutoExecuteFlag) Get() bool { return f.v.Load() }

// Set updates the value. Safe for concurrent use with Get.
func (f *AutoExecuteFlag) Set(v bool) { f.v.Store(v) }
