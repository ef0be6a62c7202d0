// Package convert turns raw document bytes into a ConversionResult by running
// a remote job to completion and unpacking its result container.
package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/cache"
	"github.com/spherical/doc-converter/internal/container"
	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/job"
	"github.com/spherical/doc-converter/internal/observability"
)

// Stage identifies a step of a conversion, reported to an optional hook.
type Stage string

const (
	StageSubmitting  Stage = "submitting"
	StageWaiting     Stage = "waiting"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
)

// Options controls the wait policy and result caching.
type Options struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	CacheTTL     time.Duration
}

// Service is the single entry point for a conversion.
type Service struct {
	transport domain.Transport
	jobs      *job.Controller
	extractor *container.Extractor
	cache     cache.Client
	opts      Options
	onStage   func(Stage)
	now       func() time.Time
	logger    zerolog.Logger
	jobOpts   []job.Option
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching. Only complete results are stored.
func WithCache(c cache.Client) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithStageHook registers a callback invoked as the conversion advances.
func WithStageHook(fn func(Stage)) Option {
	return func(s *Service) {
		s.onStage = fn
	}
}

// WithJobOptions passes options through to the job controller.
func WithJobOptions(opts ...job.Option) Option {
	return func(s *Service) {
		s.jobOpts = append(s.jobOpts, opts...)
	}
}

// NewService creates a conversion service over the given transport.
func NewService(transport domain.Transport, opts Options, logger zerolog.Logger, options ...Option) *Service {
	if opts.MaxWait <= 0 {
		opts.MaxWait = job.DefaultMaxWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = job.DefaultPollInterval
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}

	s := &Service{
		transport: transport,
		opts:      opts,
		now:       time.Now,
		logger:    observability.Component(logger, "convert"),
	}
	for _, opt := range options {
		opt(s)
	}
	s.jobs = job.NewController(transport, logger, s.jobOpts...)
	s.extractor = container.NewExtractor(logger)
	return s
}

// Available reports whether the remote service is configured.
func (s *Service) Available() bool {
	return s.transport.Available()
}

// Convert submits data, waits for the remote job and extracts the result.
// A malformed result container yields an error document rather than an error.
func (s *Service) Convert(ctx context.Context, data []byte) (*domain.ConversionResult, error) {
	start := s.now()

	key := cacheKey(data)
	if result, ok := s.cached(ctx, key); ok {
		s.restamp(result)
		return result, nil
	}

	fileName := syntheticFileName(data)
	log := s.logger.With().Str("file_name", fileName).Int("bytes", len(data)).Logger()

	s.stage(StageSubmitting)
	j, err := s.jobs.Submit(ctx, data, fileName)
	if err != nil {
		log.Error().Err(err).Msg("Submission failed")
		return nil, err
	}
	log = log.With().Str("batch_id", j.BatchID).Logger()

	s.stage(StageWaiting)
	locator, err := s.jobs.AwaitCompletion(ctx, j, s.opts.MaxWait, s.opts.PollInterval)
	if err != nil {
		log.Error().Err(err).Msg("Job did not complete")
		return nil, err
	}

	s.stage(StageDownloading)
	archive, err := s.transport.DownloadResult(ctx, locator)
	if err != nil {
		derr := downloadError(err).WithBatch(j.BatchID)
		log.Error().Err(derr).Msg("Result download failed")
		return nil, derr
	}

	s.stage(StageExtracting)
	result, err := s.extractor.Extract(archive)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedContainer) {
			log.Warn().Err(err).Msg("Result container unreadable, returning error document")
			return container.ErrorResult(err, s.now()), nil
		}
		return nil, err
	}

	log.Info().
		Int("images", len(result.Images)).
		Int("pages", result.Metadata.PageCount).
		Dur("elapsed", s.now().Sub(start)).
		Msg("Conversion complete")

	s.store(ctx, key, result)
	return result, nil
}

func (s *Service) stage(st Stage) {
	if s.onStage != nil {
		s.onStage(st)
	}
}

func (s *Service) cached(ctx context.Context, key string) (*domain.ConversionResult, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Msg("Cache lookup failed")
		}
		return nil, false
	}
	var result domain.ConversionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn().Err(err).Msg("Discarding undecodable cache entry")
		_ = s.cache.Delete(ctx, key)
		return nil, false
	}
	s.logger.Debug().Str("key", key).Msg("Cache hit")
	return &result, true
}

// restamp gives a cached result the identity of a fresh conversion: the
// timestamp of this call and new image IDs.
func (s *Service) restamp(result *domain.ConversionResult) {
	result.Metadata.ProcessingTimestamp = s.now()
	for i := range result.Images {
		result.Images[i].ID = uuid.NewString()
	}
}

func (s *Service) store(ctx context.Context, key string, result *domain.ConversionResult) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode result for cache")
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.opts.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Msg("Cache store failed")
	}
}

func cacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return cache.Key("result", hex.EncodeToString(sum[:]))
}

// downloadError classifies a failed download. Caller cancellation and
// deadlines keep their own kinds.
func downloadError(err error) *domain.ConversionError {
	const op = "download result"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewError(domain.KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return domain.NewError(domain.KindCanceled, op, err)
	}

	ce := domain.NewError(domain.KindDownloadFailed, op, err)
	var re *domain.RemoteError
	if errors.As(err, &re) {
		ce.StatusCode = re.StatusCode
		ce.RemoteMessage = re.Message
	}
	return ce
}
