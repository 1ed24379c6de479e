package node

import (
	"fmt"
	"sync"

	"github.com/imdevinc/netinf-node/internal/config"
	"github.com/imdevinc/netinf-node/internal/provider"
	"github.com/imdevinc/netinf-node/internal/util"
	"github.com/imdevinc/netinf-node/pkg/netinf"
)

// ProviderFactory creates a transport from its configuration
type ProviderFactory func(conf config.ProviderConf) (provider.Provider, error)

var (
	factoryMu         sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProviderFactory registers a factory for a provider type,
// replacing any earlier registration
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	providerFactories[providerType] = factory
}

func init() {
	RegisterProviderFactory(config.TypeTCP, func(conf config.ProviderConf) (provider.Provider, error) {
		c, ok := conf.(config.TCPConf)
		if !ok {
			return nil, fmt.Errorf("invalid tcp provider configuration")
		}
		return provider.NewTCP(c.Name, socketConfig(c.ConnectTimeout, c.IOTimeout, c.Attempts, c.MaxPayload)), nil
	})

	RegisterProviderFactory(config.TypeBluetooth, func(conf config.ProviderConf) (provider.Provider, error) {
		c, ok := conf.(config.BluetoothConf)
		if !ok {
			return nil, fmt.Errorf("invalid bluetooth provider configuration")
		}
		return provider.NewBluetooth(c.Name, c.Channel, socketConfig(c.ConnectTimeout, c.IOTimeout, c.Attempts, c.MaxPayload)), nil
	})

	RegisterProviderFactory(config.TypeHTTP, func(conf config.ProviderConf) (provider.Provider, error) {
		c, ok := conf.(config.HTTPConf)
		if !ok {
			return nil, fmt.Errorf("invalid http provider configuration")
		}
		return provider.NewHTTP(c.Name, provider.HTTPConfig{
			Client: netinf.Config{
				Timeout:     c.Timeout.Duration,
				GetPath:     c.GetPath,
				PublishPath: c.PublishPath,
				MaxBytes:    c.MaxBytes,
			},
			PublishURL: c.PublishURL,
		}), nil
	})

	RegisterProviderFactory(config.TypeFTP, func(conf config.ProviderConf) (provider.Provider, error) {
		c, ok := conf.(config.FTPConf)
		if !ok {
			return nil, fmt.Errorf("invalid ftp provider configuration")
		}
		return provider.NewFTP(c.Name, provider.FTPConfig{
			Username:       c.Username,
			Password:       c.Password,
			ConnectTimeout: c.ConnectTimeout.Duration,
			Retry:          retryConfig(c.Attempts),
			MaxPayload:     c.MaxPayload,
		}), nil
	})
}

// BuildProviders creates the configured transports in configuration order
func BuildProviders(cfg *config.Config) ([]provider.Provider, error) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	providers := make([]provider.Provider, 0, len(cfg.Providers))
	for i, conf := range cfg.Providers {
		factory, ok := providerFactories[conf.GetType()]
		if !ok {
			return nil, fmt.Errorf("no factory registered for provider type '%s' (provider %d: %s)",
				conf.GetType(), i, conf.GetName())
		}
		p, err := factory(conf)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", conf.GetName(), err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func socketConfig(connect, io config.Duration, attempts int, maxPayload int64) provider.SocketConfig {
	return provider.SocketConfig{
		ConnectTimeout: connect.Duration,
		IOTimeout:      io.Duration,
		Retry:          retryConfig(attempts),
		MaxPayload:     maxPayload,
	}
}

// retryConfig keeps the connect backoff and overrides the attempt budget
// when one is configured
func retryConfig(attempts int) util.RetryConfig {
	r := util.ConnectRetryConfig()
	if attempts > 0 {
		r.Attempts = attempts
	}
	return r
}
