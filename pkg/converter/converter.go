// Package converter is the public entry point for converting documents to
// markdown through the remote conversion service.
package converter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/app"
	"github.com/spherical/doc-converter/internal/config"
	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
)

// Re-export result types for the public API
type (
	Result    = domain.ConversionResult
	Image     = domain.ExtractedImage
	Metadata  = domain.ResultMetadata
	Error     = domain.ConversionError
	ErrorKind = domain.ErrorKind
)

// Error sentinels, usable with errors.Is
var (
	ErrServiceUnavailable     = domain.ErrServiceUnavailable
	ErrUploadRejected         = domain.ErrUploadRejected
	ErrTransferFailed         = domain.ErrTransferFailed
	ErrMissingLocator         = domain.ErrMissingLocator
	ErrRemoteProcessingFailed = domain.ErrRemoteProcessingFailed
	ErrTimeout                = domain.ErrTimeout
	ErrDownloadFailed         = domain.ErrDownloadFailed
	ErrTransportError         = domain.ErrTransportError
	ErrCanceled               = domain.ErrCanceled
)

// KindOf returns the failure kind carried by err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	return domain.KindOf(err)
}

// Config holds configuration options for the client
type Config struct {
	BaseURL      string        // Remote API base URL; defaults to the public service
	APIToken     string        // Bearer token (required)
	MaxWait      time.Duration // Optional: overall wait per conversion
	PollInterval time.Duration // Optional: delay between status queries
	Logger       *zerolog.Logger
}

// Client converts documents. It is safe for concurrent use.
type Client struct {
	app *app.App
}

// NewClient creates a client from the environment and an optional .env file.
func NewClient() (*Client, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if !cfg.ServiceConfigured() {
		return nil, domain.NewError(domain.KindServiceUnavailable, "new client", fmt.Errorf("MINERU_API_TOKEN not set: %w", domain.ErrServiceDisabled))
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	return newClient(cfg, logger)
}

// NewClientWithConfig creates a client with custom configuration
func NewClientWithConfig(c *Config) (*Client, error) {
	if c == nil || c.APIToken == "" {
		return nil, domain.NewError(domain.KindServiceUnavailable, "new client", fmt.Errorf("API token is required: %w", domain.ErrServiceDisabled))
	}

	cfg := config.DefaultConfig()
	cfg.MinerU.APIToken = c.APIToken
	if c.BaseURL != "" {
		cfg.MinerU.BaseURL = c.BaseURL
	}
	if c.MaxWait > 0 {
		cfg.Conversion.MaxWait = c.MaxWait
	}
	if c.PollInterval > 0 {
		cfg.Conversion.PollInterval = c.PollInterval
	}

	logger := zerolog.Nop()
	if c.Logger != nil {
		logger = *c.Logger
	}
	return newClient(cfg, logger)
}

func newClient(cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{app: a}, nil
}

// Convert converts a document held in memory.
func (c *Client) Convert(ctx context.Context, data []byte) (*Result, error) {
	return c.app.Service.Convert(ctx, data)
}

// ConvertFile reads and converts the document at path.
func (c *Client) ConvertFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return c.Convert(ctx, data)
}

// Close releases resources held by the client
func (c *Client) Close() error {
	return c.app.Close()
}
