package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/polyglot-chat/polyglot/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultAIBaseURL         = "https://api.openai.com/v1"
	defaultAIModel           = "gpt-3.5-turbo"
	defaultToxicityThreshold = 0.7
	defaultLanguage          = "en"
	defaultCacheSize         = 1024
	defaultRateLimitMessages = 10
	defaultRateLimitWindow   = 60
	defaultHistoryLimit      = 50
)

// Config is the global configuration object which is filled via the configuration file.
type Config struct {
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	AIConfig          AIConfig          `mapstructure:"ai"`
	RateLimitConfig   RateLimitConfig   `mapstructure:"rate_limit"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	LogLevel          string            `mapstructure:"log_level"`
}

// HistoryConfig configures the default and maximum number of messages
// returned by the message history endpoint.
type HistoryConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
}

// PersistenceConfig configures the persistence backend. Type is one of
// "sqlite", "postgres" or "buntdb"; when no DSN is given the server degrades
// to a non-durable in-memory store.
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// AIConfig configures the external language detection / translation /
// moderation provider. Without an API key all AI features degrade to their
// safe defaults.
type AIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model"`
	ToxicityThreshold float64 `mapstructure:"toxicity_threshold"`
	DefaultLanguage   string  `mapstructure:"default_language"`
	CacheSize         int     `mapstructure:"cache_size"`
}

// RateLimitConfig configures the per-user sliding window message limit.
type RateLimitConfig struct {
	Messages      int `mapstructure:"messages"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// AuthConfig holds the secret used to sign session tokens and the shared
// token guarding the administrative endpoints.
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	AdminToken string `mapstructure:"admin_token"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("log-level", "l", "", "log level (trace, debug, info, warn, error)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("ai.base_url", defaultAIBaseURL)
	viper.SetDefault("ai.model", defaultAIModel)
	viper.SetDefault("ai.toxicity_threshold", defaultToxicityThreshold)
	viper.SetDefault("ai.default_language", defaultLanguage)
	viper.SetDefault("ai.cache_size", defaultCacheSize)
	viper.SetDefault("rate_limit.messages", defaultRateLimitMessages)
	viper.SetDefault("rate_limit.window_seconds", defaultRateLimitWindow)
	viper.SetDefault("history.history_limit", defaultHistoryLimit)
	viper.SetDefault("auth.jwt_secret", "dev-secret-change-in-production")
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("POLYGLOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}
