package config

import (
	"bytes"
	_ "embed"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ErrMissingBaseURL is returned by Validate when no upstream base URL is set.
var ErrMissingBaseURL = errors.New("MVOLA_BASE_URL is not defined in environment variables")

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MVola      MVolaConfig      `mapstructure:"mvola"`
	TokenCache TokenCacheConfig `mapstructure:"token_cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Audit      AuditConfig      `mapstructure:"audit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MVolaConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	ConsumerKey    string         `mapstructure:"consumer_key"`
	ConsumerSecret string         `mapstructure:"consumer_secret"`
	MerchantNumber string         `mapstructure:"merchant_number"`
	UserLanguage   string         `mapstructure:"user_language"`
	PartnerName    string         `mapstructure:"partner_name"`
	CallbackURL    string         `mapstructure:"callback_url"`
	Timeout        time.Duration  `mapstructure:"timeout"`
	Metadata       MetadataConfig `mapstructure:"metadata"`
}

// MetadataConfig is the fixed metadata triplet injected into every merchant-pay envelope.
type MetadataConfig struct {
	PartnerName string `mapstructure:"partner_name"`
	FC          string `mapstructure:"fc"`
	AmountFC    string `mapstructure:"amount_fc"`
}

type TokenCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Key     string        `mapstructure:"key"`
	Skew    time.Duration `mapstructure:"skew"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type AuditConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// legacyEnv maps config keys to the plain environment names the gateway has always read.
var legacyEnv = map[string]string{
	"mvola.base_url":        "MVOLA_BASE_URL",
	"mvola.consumer_key":    "MVOLA_CONSUMER_KEY",
	"mvola.consumer_secret": "MVOLA_CONSUMER_SECRET",
	"mvola.user_language":   "USER_LANGUAGE",
	"mvola.merchant_number": "MERCHANT_NUMBER",
	"mvola.partner_name":    "PARTNER_NAME",
	"mvola.callback_url":    "CALLBACK_URL",
}

// Load reads embedded defaults, merges user YAML (if provided), loads .env (if present)
// and applies env overrides (MVOLAGW_* and the legacy variable names).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, err
			}
		}
	}

	// .env never overrides variables already present in the process
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	// env override (MVOLAGW_HTTP_ADDR, ...)
	v.SetEnvPrefix("MVOLAGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "MVOLAGW_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.MVola.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.MVola.BaseURL), "/")
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.MVola.BaseURL == "" {
		return ErrMissingBaseURL
	}
	return nil
}
