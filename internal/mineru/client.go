// Package mineru implements domain.Transport against the MinerU batch
// extraction API.
package mineru

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
)

const (
	uploadURLsPath    = "/api/v4/file-urls/batch"
	batchResultsPath  = "/api/v4/extract-results/batch/"
	maxErrorBodyBytes = 512

	// DefaultMaxResultBytes caps a downloaded result container.
	DefaultMaxResultBytes int64 = 1 << 30
)

// Config holds the remote endpoint, credential and request options
type Config struct {
	BaseURL        string
	APIToken       string
	Enabled        bool
	ModelVersion   string
	Language       string
	EnableOCR      bool
	EnableFormula  bool
	EnableTable    bool
	Timeout        time.Duration
	MaxResultBytes int64
	Retry          RetryConfig
}

// Client talks to the MinerU API. It holds no per-job state and is safe for
// concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      RetryConfig
	logger     zerolog.Logger
}

var _ domain.Transport = (*Client)(nil)

// NewClient creates a new MinerU client
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxResultBytes <= 0 {
		cfg.MaxResultBytes = DefaultMaxResultBytes
	}
	retry := cfg.Retry
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaxBackoff <= 0 {
		retry.MaxBackoff = defaultMaxBackoff
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      retry,
		logger:     observability.Component(logger, "mineru"),
	}
}

// Available reports whether the client has an endpoint and credential and is enabled
func (c *Client) Available() bool {
	return c.cfg.Enabled && c.cfg.BaseURL != "" && c.cfg.APIToken != ""
}

// RequestUploadLocation registers fileName in a new batch. The request is not
// retried: a repeated POST would open a second batch.
func (c *Client) RequestUploadLocation(ctx context.Context, fileName string) (*domain.UploadLocation, error) {
	if !c.Available() {
		return nil, domain.ErrServiceDisabled
	}

	body, err := json.Marshal(batchUploadRequest{
		EnableFormula: c.cfg.EnableFormula,
		EnableTable:   c.cfg.EnableTable,
		Language:      c.cfg.Language,
		ModelVersion:  c.cfg.ModelVersion,
		Files:         []fileSpec{{Name: fileName, IsOCR: c.cfg.EnableOCR, DataID: fileName}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+uploadURLsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request upload location: %w", err)
	}
	defer resp.Body.Close()

	var env envelope[batchUploadData]
	if err := decodeEnvelope(resp, "request upload location", &env); err != nil {
		return nil, err
	}

	loc := &domain.UploadLocation{BatchID: env.Data.BatchID}
	if len(env.Data.FileURLs) > 0 {
		loc.UploadURL = env.Data.FileURLs[0]
	}

	c.logger.Debug().
		Str("batch_id", loc.BatchID).
		Str("trace_id", env.TraceID).
		Msg("Upload location issued")

	return loc, nil
}

// UploadBytes PUTs the document to a presigned upload URL
func (c *Client) UploadBytes(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload: %w", err)
	}
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload bytes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.RemoteError{
			Op:         "upload bytes",
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// QueryStatus fetches the batch and reports the state of its first file.
// A batch that lists no files yet is still waiting.
func (c *Client) QueryStatus(ctx context.Context, batchID string) (domain.JobStatus, error) {
	if !c.Available() {
		return domain.JobStatus{}, domain.ErrServiceDisabled
	}

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+batchResultsPath+batchID, nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return req, nil
	})
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("query status: %w", err)
	}
	defer resp.Body.Close()

	var env envelope[batchResultData]
	if err := decodeEnvelope(resp, "query status", &env); err != nil {
		return domain.JobStatus{}, err
	}

	if len(env.Data.ExtractResult) == 0 {
		return domain.StatusWaiting(), nil
	}

	result := env.Data.ExtractResult[0]
	if p := result.ExtractProgress; p != nil {
		c.logger.Debug().
			Str("batch_id", batchID).
			Int("extracted_pages", p.ExtractedPages).
			Int("total_pages", p.TotalPages).
			Msg("Extraction progress")
	}

	return mapState(result)
}

// DownloadResult fetches the result container. The locator points at a
// storage host, so no credential is attached. Containers larger than
// MaxResultBytes are rejected.
func (c *Client) DownloadResult(ctx context.Context, locator string) ([]byte, error) {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RemoteError{
			Op:         "download result",
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	limit := c.cfg.MaxResultBytes
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("download result: container is %d bytes, limit %d", resp.ContentLength, limit)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read result body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("download result: container exceeds %d bytes", limit)
	}
	return data, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Accept", "*/*")
}

// mapState converts a wire state into the domain variant
func mapState(r extractResult) (domain.JobStatus, error) {
	switch r.State {
	case stateWaitingFile:
		return domain.StatusWaiting(), nil
	case statePending:
		return domain.StatusPending(), nil
	case stateRunning:
		return domain.StatusRunning(), nil
	case stateConverting:
		return domain.StatusConverting(), nil
	case stateDone:
		return domain.StatusDone(r.FullZipURL), nil
	case stateFailed:
		return domain.StatusFailed(r.ErrMsg), nil
	default:
		return domain.JobStatus{}, fmt.Errorf("%w: unknown state %q", domain.ErrMalformedResponse, r.State)
	}
}

// decodeEnvelope checks the HTTP status, decodes the body and checks the
// application code.
func decodeEnvelope[T any](resp *http.Response, op string, env *envelope[T]) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrMalformedResponse, err)
	}

	if env.Code != 0 {
		return &domain.RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    env.Msg,
		}
	}
	return nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	return strings.TrimSpace(string(b))
}
