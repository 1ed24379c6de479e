package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

const (
	defaultFetchTimeout     = 2 * time.Minute
	defaultChunkStrategy    = "concurrent"
	defaultChunkConcurrency = 4
	defaultListen           = ":7000"
)

// RawConfig is used for JSON unmarshaling
type RawConfig struct {
	LogLevel  string            `json:"logLevel"`
	Providers []json.RawMessage `json:"providers"`
	Dispatch  DispatchConf      `json:"dispatch"`
	Server    ServerConf        `json:"server"`
	Publish   PublishConf       `json:"publish"`
}

// LoadConfig loads and parses the configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Default returns the configuration used when no file exists: TCP,
// Bluetooth and HTTP transports with default settings
func Default() *Config {
	cfg := &Config{
		Providers: []ProviderConf{
			TCPConf{Type: TypeTCP, Name: TypeTCP},
			BluetoothConf{Type: TypeBluetooth, Name: TypeBluetooth},
			HTTPConf{Type: TypeHTTP, Name: TypeHTTP},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// Parse decodes and validates a configuration document
func Parse(data []byte) (*Config, error) {
	var rawConfig RawConfig
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config := &Config{
		LogLevel:  rawConfig.LogLevel,
		Providers: make([]ProviderConf, 0, len(rawConfig.Providers)),
		Dispatch:  rawConfig.Dispatch,
		Server:    rawConfig.Server,
		Publish:   rawConfig.Publish,
	}

	// Parse each provider based on its type
	for i, rawProvider := range rawConfig.Providers {
		var typeCheck struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(rawProvider, &typeCheck); err != nil {
			return nil, fmt.Errorf("failed to determine type for provider %d: %w", i, err)
		}

		var provider ProviderConf
		var err error
		switch typeCheck.Type {
		case TypeTCP:
			provider, err = decode[TCPConf](rawProvider)
		case TypeBluetooth:
			provider, err = decode[BluetoothConf](rawProvider)
		case TypeHTTP:
			provider, err = decode[HTTPConf](rawProvider)
		case TypeFTP:
			provider, err = decode[FTPConf](rawProvider)
		default:
			return nil, fmt.Errorf("unknown provider type '%s' for provider %d", typeCheck.Type, i)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s provider %d: %w", typeCheck.Type, i, err)
		}

		config.Providers = append(config.Providers, provider)
	}

	if len(config.Providers) == 0 {
		config.Providers = Default().Providers
	}
	applyDefaults(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func decode[T ProviderConf](raw json.RawMessage) (ProviderConf, error) {
	var conf T
	if err := json.Unmarshal(raw, &conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyDefaults fills unset fields. Provider names default to their type.
func applyDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.Dispatch.FetchTimeout.Duration == 0 {
		config.Dispatch.FetchTimeout.Duration = defaultFetchTimeout
	}
	if config.Dispatch.ChunkStrategy == "" {
		config.Dispatch.ChunkStrategy = defaultChunkStrategy
	}
	if config.Dispatch.ChunkConcurrency == 0 {
		config.Dispatch.ChunkConcurrency = defaultChunkConcurrency
	}
	if config.Server.Listen == "" {
		config.Server.Listen = defaultListen
	}

	for i, p := range config.Providers {
		if p.GetName() != "" {
			continue
		}
		switch c := p.(type) {
		case TCPConf:
			c.Name = c.Type
			config.Providers[i] = c
		case BluetoothConf:
			c.Name = c.Type
			config.Providers[i] = c
		case HTTPConf:
			c.Name = c.Type
			config.Providers[i] = c
		case FTPConf:
			c.Name = c.Type
			config.Providers[i] = c
		}
	}
}

// validateConfig performs validation on the loaded configuration
func validateConfig(config *Config) error {
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", config.LogLevel)
	}

	names := make(map[string]bool)
	for _, provider := range config.Providers {
		name := provider.GetName()
		if names[name] {
			return fmt.Errorf("duplicate provider name: %s", name)
		}
		names[name] = true

		switch p := provider.(type) {
		case TCPConf:
			if p.Attempts < 0 {
				return fmt.Errorf("tcp provider %s: attempts cannot be negative", name)
			}
		case BluetoothConf:
			if p.Attempts < 0 {
				return fmt.Errorf("bluetooth provider %s: attempts cannot be negative", name)
			}
			if p.Channel > 30 {
				return fmt.Errorf("bluetooth provider %s: channel must be between 1 and 30", name)
			}
		case HTTPConf:
			if p.PublishURL != "" {
				u, err := url.Parse(p.PublishURL)
				if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
					return fmt.Errorf("http provider %s: invalid publishURL %q", name, p.PublishURL)
				}
			}
		case FTPConf:
			if p.Attempts < 0 {
				return fmt.Errorf("ftp provider %s: attempts cannot be negative", name)
			}
		default:
			return fmt.Errorf("unknown provider type for provider %s", name)
		}
	}

	d := config.Dispatch
	if d.ChunkStrategy != "sequential" && d.ChunkStrategy != "concurrent" {
		return fmt.Errorf("invalid chunk strategy '%s', must be one of: sequential, concurrent", d.ChunkStrategy)
	}
	if d.ChunkConcurrency < 0 {
		return fmt.Errorf("chunkConcurrency cannot be negative")
	}
	if d.CacheSize < 0 {
		return fmt.Errorf("cacheSize cannot be negative")
	}
	if d.FetchTimeout.Duration < 0 {
		return fmt.Errorf("fetchTimeout cannot be negative")
	}

	p := config.Publish
	if p.MinChunk < 0 || p.AvgChunk < 0 || p.MaxChunk < 0 {
		return fmt.Errorf("publish chunk sizes cannot be negative")
	}
	if p.Push && !config.HasPublisher() {
		return fmt.Errorf("publish.push requires an http provider with a publishURL")
	}

	return nil
}

// HasPublisher reports whether an HTTP provider can push to a cache
func (c *Config) HasPublisher() bool {
	for _, p := range c.Providers {
		if h, ok := p.(HTTPConf); ok && h.PublishURL != "" {
			return true
		}
	}
	return false
}
