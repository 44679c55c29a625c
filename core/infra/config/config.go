package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultRedisURL    = "redis://localhost:6379"
	defaultHTTPAddr    = ":7280"
	defaultGatewayAddr = ":4200"
	defaultMetricsAddr = ":9092"
	defaultAPIBaseURL  = "http://localhost:7280"
	defaultCDNBaseURL  = "https://cdn.kashima.app"
	defaultConfigPath  = "config/kashima.yaml"

	envEnvironment = "KASHIMA_ENV"
	envMasterKey   = "KASHIMA_MASTER_KEY"
	envSecret      = "KASHIMA_SECRET"
	envRedisURL    = "REDIS_URL"
	envNATSURL     = "NATS_URL"
	envHTTPAddr    = "KASHIMA_HTTP_ADDR"
	envGatewayAddr = "KASHIMA_GATEWAY_ADDR"
	envMetricsAddr = "KASHIMA_METRICS_ADDR"
	envAPIBaseURL  = "KASHIMA_API_URL"
	envCDNBaseURL  = "KASHIMA_CDN_URL"
	envConfigPath  = "KASHIMA_CONFIG"
)

// Config holds runtime configuration for the API and gateway processes.
type Config struct {
	Environment string `yaml:"environment"`
	MasterKey   string `yaml:"master_key"`
	Secret      string `yaml:"secret"`
	RedisURL    string `yaml:"redis_url"`
	NatsURL     string `yaml:"nats_url"`
	HTTPAddr    string `yaml:"http_addr"`
	GatewayAddr string `yaml:"gateway_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	APIBaseURL  string `yaml:"api_url"`
	CDNBaseURL  string `yaml:"cdn_url"`
}

// Development reports whether the process runs in the development environment.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// Load reads the optional YAML config file and applies environment overrides
// with sane defaults. A missing file is not an error; a malformed one is.
func Load() (*Config, error) {
	cfg := &Config{}

	path := os.Getenv(envConfigPath)
	if path == "" {
		path = defaultConfigPath
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	overlay(&cfg.Environment, envEnvironment, "development")
	overlay(&cfg.MasterKey, envMasterKey, "")
	overlay(&cfg.Secret, envSecret, "")
	overlay(&cfg.RedisURL, envRedisURL, defaultRedisURL)
	overlay(&cfg.NatsURL, envNATSURL, "")
	overlay(&cfg.HTTPAddr, envHTTPAddr, defaultHTTPAddr)
	overlay(&cfg.GatewayAddr, envGatewayAddr, defaultGatewayAddr)
	overlay(&cfg.MetricsAddr, envMetricsAddr, defaultMetricsAddr)
	overlay(&cfg.APIBaseURL, envAPIBaseURL, defaultAPIBaseURL)
	overlay(&cfg.CDNBaseURL, envCDNBaseURL, defaultCDNBaseURL)

	return cfg, nil
}

func overlay(field *string, env, fallback string) {
	if val := os.Getenv(env); val != "" {
		*field = val
		return
	}
	if *field == "" {
		*field = fallback
	}
}
