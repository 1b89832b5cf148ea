package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// QuoteConfig holds configuration for the quote command.
type QuoteConfig struct {
	RPCURL        string
	Pool          string
	TickLower     int32
	TickUpper     int32
	Amount0       string
	Amount1       string
	Block         uint64
	WrappedNative string
	InitCodeHash  string
	MaxRetries    int
	RetryBackoff  time.Duration
	LogLevel      string
}

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	In            string
	Out           string
	PGDSN         string
	ChainID       uint64
	Manager       string
	Factory       string
	WrappedNative string
	InitCodeHash  string
	BatchSize     int
	RunID         string
	LogLevel      string
}

// PoolAddressConfig holds configuration for the pool-address command.
type PoolAddressConfig struct {
	Factory      string
	TokenA       string
	TokenB       string
	Fee          uint32
	InitCodeHash string
	LogLevel     string
}

// LoadQuote merges config file, environment variables, and flags into QuoteConfig.
// RPC_URL is honored when neither --rpc nor LPMANAGER_RPC is set.
func LoadQuote(cfgFile string, flags *pflag.FlagSet) (QuoteConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"max-retries":   3,
		"retry-backoff": 500 * time.Millisecond,
	})
	if err != nil {
		return QuoteConfig{}, err
	}
	if err := v.BindEnv("rpc", "LPMANAGER_RPC", "RPC_URL"); err != nil {
		return QuoteConfig{}, fmt.Errorf("bind env: %w", err)
	}

	cfg := QuoteConfig{
		RPCURL:        v.GetString("rpc"),
		Pool:          v.GetString("pool"),
		TickLower:     v.GetInt32("low"),
		TickUpper:     v.GetInt32("high"),
		Amount0:       v.GetString("amount0"),
		Amount1:       v.GetString("amount1"),
		Block:         v.GetUint64("block"),
		WrappedNative: v.GetString("wrapped-native"),
		InitCodeHash:  v.GetString("init-code-hash"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		LogLevel:      v.GetString("log-level"),
	}
	return cfg, nil
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out":        "./data/operations.jsonl",
		"chain-id":   uint64(31337),
		"manager":    "0x00000000000000000000000000000000000c0de1",
		"factory":    "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		"batch-size": 100,
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	cfg := SimulateConfig{
		In:            v.GetString("in"),
		Out:           v.GetString("out"),
		PGDSN:         v.GetString("pg-dsn"),
		ChainID:       v.GetUint64("chain-id"),
		Manager:       v.GetString("manager"),
		Factory:       v.GetString("factory"),
		WrappedNative: v.GetString("wrapped-native"),
		InitCodeHash:  v.GetString("init-code-hash"),
		BatchSize:     v.GetInt("batch-size"),
		RunID:         v.GetString("run-id"),
		LogLevel:      v.GetString("log-level"),
	}
	return cfg, nil
}

// LoadPoolAddress merges config file, environment variables, and flags into PoolAddressConfig.
func LoadPoolAddress(cfgFile string, flags *pflag.FlagSet) (PoolAddressConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"factory": "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		"fee":     uint32(3000),
	})
	if err != nil {
		return PoolAddressConfig{}, err
	}

	cfg := PoolAddressConfig{
		Factory:      v.GetString("factory"),
		TokenA:       v.GetString("token0"),
		TokenB:       v.GetString("token1"),
		Fee:          v.GetUint32("fee"),
		InitCodeHash: v.GetString("init-code-hash"),
		LogLevel:     v.GetString("log-level"),
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("LPMANAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}
