package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	StateFile    string
	Journal      string
	PGDSN        string
	PGMigrate    bool
	RPCURL       string
	Block        uint64
	MaxRetries   int
	RetryBackoff time.Duration
	Listen       string
	FeeBps       uint16
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state-file", "./data/amm_state.json")
	v.SetDefault("journal", "./data/amm_events.jsonl")
	v.SetDefault("pg-migrate", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("listen", ":8080")
	v.SetDefault("fee-bps", 30)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	fee := v.GetUint("fee-bps")
	if fee > 10_000 {
		return Config{}, fmt.Errorf("fee-bps must be at most 10000, got %d", fee)
	}

	cfg := Config{
		StateFile:    v.GetString("state-file"),
		Journal:      v.GetString("journal"),
		PGDSN:        v.GetString("pg-dsn"),
		PGMigrate:    v.GetBool("pg-migrate"),
		RPCURL:       v.GetString("rpc"),
		Block:        v.GetUint64("block"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		Listen:       v.GetString("listen"),
		FeeBps:       uint16(fee),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.StateFile == "" {
		return Config{}, fmt.Errorf("state-file is required")
	}

	return cfg, nil
}
