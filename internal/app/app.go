// Package app assembles the conversion service from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/cache"
	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/convert"
	"github.com/spherical/doc-converter/internal/mineru"
)

// App owns the conversion service and the resources behind it.
type App struct {
	Service *convert.Service
	cache   cache.Client
}

// New wires the transport, cache and conversion service.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...convert.Option) (*App, error) {
	transport := mineru.NewClient(TransportConfig(cfg.MinerU), logger)

	store, err := NewCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, convert.WithCache(store))
	}

	if !transport.Available() {
		logger.Warn().Msg("Remote conversion service is not configured; conversions will fail")
	}

	svc := convert.NewService(transport, convert.Options{
		MaxWait:      cfg.Conversion.MaxWait,
		PollInterval: cfg.Conversion.PollInterval,
		CacheTTL:     cfg.Cache.TTL,
	}, logger, opts...)

	return &App{Service: svc, cache: store}, nil
}

// Close releases the cache connection, if any.
func (a *App) Close() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

// TransportConfig converts the file configuration into client options.
func TransportConfig(c config.MinerUConfig) mineru.Config {
	retry := mineru.DefaultRetryConfig()
	retry.MaxRetries = c.MaxRetries

	return mineru.Config{
		BaseURL:        c.BaseURL,
		APIToken:       c.APIToken,
		Enabled:        c.Enabled,
		ModelVersion:   c.ModelVersion,
		Language:       c.Language,
		EnableOCR:      c.EnableOCR,
		EnableFormula:  c.EnableFormula,
		EnableTable:    c.EnableTable,
		Timeout:        c.RequestTimeout,
		MaxResultBytes: c.MaxResultBytes,
		Retry:          retry,
	}
}

// NewCache builds the configured cache client. A nil client means caching is off.
func NewCache(ctx context.Context, c config.CacheConfig) (cache.Client, error) {
	switch c.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemoryClient(c.MaxEntries), nil
	case "redis":
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			PoolSize: c.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("invalid cache driver: %s", c.Driver)
	}
}
