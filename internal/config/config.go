// Package config holds operator-level configuration for a verity process.
//
// Values come from viper, which merges VERITY_* environment variables, an
// optional verity.config.yaml, and the defaults registered in init. Request
// data never flows through this package.
package config

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dativo-io/verity/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the VERITY_ prefix
// (e.g. "ledger_capacity" → VERITY_LEDGER_CAPACITY) and to a YAML field
// in verity.config.yaml.
const (
	KeyLedgerCapacity     = "ledger_capacity"
	KeyMaxFieldLength     = "max_field_length"
	KeySigningKey         = "signing_key"
	KeyPatternFile        = "pattern_file"
	KeyMinAnswerLength    = "min_answer_length"
	KeyLowConfidence      = "low_confidence"
	KeyRateLimitGlobalRPM = "rate_limit_global_rpm"
	KeyRateLimitCallerRPM = "rate_limit_caller_rpm"
	KeyAPIKeys            = "api_keys"
	KeyListenAddr         = "listen_addr"
	KeyTrustedProxyCIDRs  = "trusted_proxy_cidrs"
)

const (
	DefaultLedgerCapacity     = 10000
	DefaultMaxFieldLength     = 10000
	DefaultMinAnswerLength    = 20
	DefaultLowConfidence      = 0.3
	DefaultRateLimitGlobalRPM = 6000
	DefaultRateLimitCallerRPM = 600
	DefaultListenAddr         = ":8090"
)

// Config holds resolved operator-level configuration.
type Config struct {
	LedgerCapacity     int      `yaml:"ledger_capacity"`
	MaxFieldLength     int      `yaml:"max_field_length"`
	SigningKey         string   `yaml:"-"` // HMAC key for ledger seals; empty disables sealing
	PatternFile        string   `yaml:"pattern_file,omitempty"`
	MinAnswerLength    int      `yaml:"min_answer_length"`
	LowConfidence      float64  `yaml:"low_confidence"`
	RateLimitGlobalRPM int      `yaml:"rate_limit_global_rpm"`
	RateLimitCallerRPM int      `yaml:"rate_limit_caller_rpm"`
	APIKeys            []string `yaml:"-"`
	ListenAddr         string   `yaml:"listen_addr"`
	// TrustedProxyCIDRs lists reverse proxies whose X-Forwarded-For is
	// honored. Empty means forwarding headers are ignored.
	TrustedProxyCIDRs  []string `yaml:"trusted_proxy_cidrs,omitempty"`
}

func init() {
	viper.SetEnvPrefix("VERITY")
	viper.AutomaticEnv()
	SetDefaults()
}

// SetDefaults registers every default with viper. Tests call it after
// viper.Reset.
func SetDefaults() {
	viper.SetDefault(KeyLedgerCapacity, DefaultLedgerCapacity)
	viper.SetDefault(KeyMaxFieldLength, DefaultMaxFieldLength)
	viper.SetDefault(KeyMinAnswerLength, DefaultMinAnswerLength)
	viper.SetDefault(KeyLowConfidence, DefaultLowConfidence)
	viper.SetDefault(KeyRateLimitGlobalRPM, DefaultRateLimitGlobalRPM)
	viper.SetDefault(KeyRateLimitCallerRPM, DefaultRateLimitCallerRPM)
	viper.SetDefault(KeyListenAddr, DefaultListenAddr)
}

// Load reads configuration from viper and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		LedgerCapacity:     viper.GetInt(KeyLedgerCapacity),
		MaxFieldLength:     viper.GetInt(KeyMaxFieldLength),
		SigningKey:         viper.GetString(KeySigningKey),
		PatternFile:        viper.GetString(KeyPatternFile),
		MinAnswerLength:    viper.GetInt(KeyMinAnswerLength),
		LowConfidence:      viper.GetFloat64(KeyLowConfidence),
		RateLimitGlobalRPM: viper.GetInt(KeyRateLimitGlobalRPM),
		RateLimitCallerRPM: viper.GetInt(KeyRateLimitCallerRPM),
		APIKeys:            splitKeys(viper.GetString(KeyAPIKeys)),
		ListenAddr:         viper.GetString(KeyListenAddr),
		TrustedProxyCIDRs:  splitKeys(viper.GetString(KeyTrustedProxyCIDRs)),
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// splitKeys accepts a comma-separated list so VERITY_API_KEYS and
// VERITY_TRUSTED_PROXY_CIDRS work from env.
func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// WarnIfUnsealed logs a warning when no signing key is configured, so ledger
// records carry digests but no seal. Suppressed when VERITY_QUICKSTART is set.
func (c *Config) WarnIfUnsealed() {
	if c.SigningKey != "" || isQuickstart() {
		return
	}
	log.Warn().Msg("VERITY_SIGNING_KEY not set: ledger records will not be sealed")
}

// WarnIfOpen logs a warning when the HTTP API runs without API keys.
func (c *Config) WarnIfOpen() {
	if len(c.APIKeys) == 0 && !isQuickstart() {
		log.Warn().Msg("VERITY_API_KEYS not set: HTTP API accepts unauthenticated requests")
	}
}

func isQuickstart() bool {
	v := os.Getenv("VERITY_QUICKSTART")
	return v == "1" || v == "true" || v == "TRUE"
}

func (c *Config) validate() error {
	if c.LedgerCapacity <= 0 {
		return fmt.Errorf("ledger_capacity must be positive")
	}
	if c.MaxFieldLength <= 0 {
		return fmt.Errorf("max_field_length must be positive")
	}
	if c.MinAnswerLength < 0 {
		return fmt.Errorf("min_answer_length must not be negative")
	}
	if c.LowConfidence < 0 || c.LowConfidence > 1 {
		return fmt.Errorf("low_confidence must be within [0, 1] (got %v)", c.LowConfidence)
	}
	if c.RateLimitGlobalRPM < 0 || c.RateLimitCallerRPM < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	for _, cidr := range c.TrustedProxyCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("trusted_proxy_cidrs: %w", err)
		}
	}
	if c.SigningKey != "" {
		if err := validateSigningKey(c.SigningKey); err != nil {
			return err
		}
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters.
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set VERITY_SIGNING_KEY", n)
}
