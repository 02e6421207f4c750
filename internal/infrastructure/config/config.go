// Package config loads process configuration from the environment and an
// optional yaml file. Unrecognized or invalid values fall back to defaults.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultServerAddr   = ":8080"
	defaultLogLevel     = "info"
	defaultIdleSeconds  = 180
	defaultSweepSeconds = 15
)

// defaultPairs is the candidate universe when no pair list is configured.
var defaultPairs = []string{"BTC-USD", "ETH-USD", "SOL-USD"}

// FeedConfig tunes the pair lifecycle.
type FeedConfig struct {
	HotPairs      []string
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	PrewarmAll    bool
}

// Config is everything the process needs at start-up.
type Config struct {
	LogLevel    string
	ServerAddr  string
	DatabaseURL string
	Pairs       []string
	Feed        FeedConfig
}

// Load reads config.yaml (if present) and the environment. Environment
// keys: LOG_LEVEL, SERVER_ADDR, DATABASE_URL, PAIRS, FEED_HOT_PAIRS,
// FEED_IDLE_SECONDS, FEED_SWEEP_SECONDS, FEED_PREWARM_ALL.
func Load() *Config {
	v := viper.New()
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("server_addr", defaultServerAddr)
	v.SetDefault("database_url", "")
	v.SetDefault("pairs", "")
	v.SetDefault("feed_hot_pairs", "")
	v.SetDefault("feed_idle_seconds", defaultIdleSeconds)
	v.SetDefault("feed_sweep_seconds", defaultSweepSeconds)
	v.SetDefault("feed_prewarm_all", false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // the file is optional

	v.AutomaticEnv()

	idle := v.GetInt("feed_idle_seconds")
	if idle <= 0 {
		idle = defaultIdleSeconds
	}
	sweep := v.GetInt("feed_sweep_seconds")
	if sweep <= 0 {
		sweep = defaultSweepSeconds
	}

	pairs := splitPairs(v.GetString("pairs"))
	if len(pairs) == 0 {
		pairs = defaultPairs
	}

	return &Config{
		LogLevel:    v.GetString("log_level"),
		ServerAddr:  v.GetString("server_addr"),
		DatabaseURL: v.GetString("database_url"),
		Pairs:       pairs,
		Feed: FeedConfig{
			HotPairs:      splitPairs(v.GetString("feed_hot_pairs")),
			IdleTimeout:   time.Duration(idle) * time.Second,
			SweepInterval: time.Duration(sweep) * time.Second,
			PrewarmAll:    v.GetBool("feed_prewarm_all"),
		},
	}
}

// splitPairs parses a comma-separated pair list into canonical symbols.
func splitPairs(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		pair := strings.ToUpper(strings.TrimSpace(part))
		if pair != "" {
			out = append(out, pair)
		}
	}
	return out
}
