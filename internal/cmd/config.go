package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/auctionhouse/engine/internal/auction/session"
	"github.com/auctionhouse/engine/internal/gateway"
)

// Config is the optional YAML configuration. Every field has a default
// and can be overridden by environment variables, so the file is only
// needed when the defaults are wrong.
type Config struct {
	Auction struct {
		TimerSeconds         int `yaml:"timer_seconds"`
		BidRateLimit         int `yaml:"bid_rate_limit"`
		BidRateWindowSeconds int `yaml:"bid_rate_window_seconds"`
	} `yaml:"auction"`
	Gateway struct {
		PingIntervalSeconds int `yaml:"ping_interval_seconds"`
		CompressMinBytes    int `yaml:"compress_min_bytes"`
	} `yaml:"gateway"`
	NATS struct {
		URL        string `yaml:"url"`
		StreamName string `yaml:"stream_name"`
	} `yaml:"nats"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return &config, nil
}

func (c *Config) sessionConfig() session.Config {
	cfg := session.DefaultConfig()
	if c.Auction.TimerSeconds > 0 {
		cfg.TimerSeconds = c.Auction.TimerSeconds
	}
	if c.Auction.BidRateLimit > 0 {
		cfg.BidRateLimit = c.Auction.BidRateLimit
	}
	if c.Auction.BidRateWindowSeconds > 0 {
		cfg.BidRateWindow = time.Duration(c.Auction.BidRateWindowSeconds) * time.Second
	}
	cfg.TimerSeconds = getEnvAsInt("AUCTION_TIMER_SECONDS", cfg.TimerSeconds)
	cfg.BidRateLimit = getEnvAsInt("AUCTION_BID_RATE_LIMIT", cfg.BidRateLimit)
	return cfg
}

func (c *Config) gatewayConfig() gateway.ConnectionConfig {
	cfg := gateway.DefaultConnectionConfig()
	if c.Gateway.PingIntervalSeconds > 0 {
		cfg.PingInterval = time.Duration(c.Gateway.PingIntervalSeconds) * time.Second
	}
	if c.Gateway.CompressMinBytes > 0 {
		cfg.CompressMinBytes = c.Gateway.CompressMinBytes
	}
	return cfg
}
