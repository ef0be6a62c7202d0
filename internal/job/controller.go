// Package job drives a single remote conversion from submission to a
// terminal outcome.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/doc-converter/internal/domain"
	"github.com/spherical/doc-converter/internal/observability"
)

const (
	DefaultMaxWait      = 300 * time.Second
	DefaultPollInterval = 5 * time.Second
)

// Controller submits documents and waits for their batches to finish. It keeps
// no state between calls.
type Controller struct {
	transport domain.Transport
	clock     Clock
	logger    zerolog.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces the wall clock used by the poll loop
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// NewController creates a new job controller
func NewController(transport domain.Transport, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		clock:     realClock{},
		logger:    observability.Component(logger, "job"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit requests an upload location and uploads data to it.
func (c *Controller) Submit(ctx context.Context, data []byte, fileName string) (*domain.ConversionJob, error) {
	if !c.transport.Available() {
		return nil, domain.NewError(domain.KindServiceUnavailable, "submit", domain.ErrServiceDisabled)
	}

	loc, err := c.transport.RequestUploadLocation(ctx, fileName)
	if err != nil {
		return nil, classify("request upload location", domain.KindUploadRejected, err)
	}
	if loc == nil || loc.BatchID == "" || loc.UploadURL == "" {
		ce := domain.NewError(domain.KindUploadRejected, "request upload location",
			fmt.Errorf("%w: no upload location in response", domain.ErrMalformedResponse))
		if loc != nil {
			ce.WithBatch(loc.BatchID)
		}
		return nil, ce
	}

	logger := c.logger.With().Str("batch_id", loc.BatchID).Str("file_name", fileName).Logger()
	logger.Debug().Int("bytes", len(data)).Msg("Uploading document")

	if err := c.transport.UploadBytes(ctx, loc.UploadURL, data); err != nil {
		return nil, classify("upload bytes", domain.KindTransferFailed, err).WithBatch(loc.BatchID)
	}

	logger.Info().Msg("Document submitted")

	return &domain.ConversionJob{
		BatchID:     loc.BatchID,
		FileName:    fileName,
		SubmittedAt: c.clock.Now(),
	}, nil
}

// AwaitCompletion polls the job every pollInterval until it reaches a terminal
// state or maxWait elapses, and returns the result locator of a Done job.
// Non-positive durations fall back to the defaults. Cancelling ctx stops the
// loop before the next network call.
func (c *Controller) AwaitCompletion(ctx context.Context, job *domain.ConversionJob, maxWait, pollInterval time.Duration) (string, error) {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	logger := c.logger.With().Str("batch_id", job.BatchID).Logger()
	deadline := c.clock.Now().Add(maxWait)
	last := domain.JobState(0)

	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return "", contextError("await completion", err).WithBatch(job.BatchID)
		}

		status, err := c.queryStatus(ctx, job.BatchID, deadline.Sub(c.clock.Now()))
		if err != nil {
			if errors.Is(err, errBudgetExhausted) {
				return "", timeoutError(job, polls, last, maxWait)
			}
			return "", classify("query status", domain.KindTransportError, err).WithBatch(job.BatchID)
		}
		last = status.State

		switch status.State {
		case domain.StateDone:
			if status.ResultLocator == "" {
				return "", domain.NewError(domain.KindMissingLocator, "await completion",
					errors.New("job finished without a result locator")).WithBatch(job.BatchID)
			}
			logger.Info().Int("polls", polls).Msg("Conversion finished")
			return status.ResultLocator, nil

		case domain.StateFailed:
			logger.Warn().Str("remote_error", status.ErrorMessage).Msg("Conversion failed remotely")
			ce := domain.NewError(domain.KindRemoteProcessingFailed, "await completion", nil).WithBatch(job.BatchID)
			ce.RemoteMessage = status.ErrorMessage
			return "", ce

		case domain.StateWaiting, domain.StatePending, domain.StateRunning, domain.StateConverting:
			logger.Debug().Int("poll", polls).Stringer("state", status.State).Msg("Job in progress")

		default:
			return "", domain.NewError(domain.KindTransportError, "query status",
				fmt.Errorf("%w: unexpected state %s", domain.ErrMalformedResponse, status.State)).WithBatch(job.BatchID)
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return "", timeoutError(job, polls, last, maxWait)
		}

		select {
		case <-ctx.Done():
			return "", contextError("await completion", ctx.Err()).WithBatch(job.BatchID)
		case <-c.clock.After(min(pollInterval, remaining)):
		}

		if !c.clock.Now().Before(deadline) {
			return "", timeoutError(job, polls, last, maxWait)
		}
	}
}

var errBudgetExhausted = errors.New("wait budget exhausted during status query")

// queryStatus runs one status query bounded by the remaining wait budget, so a
// slow or retried request cannot outlast maxWait.
func (c *Controller) queryStatus(ctx context.Context, batchID string, remaining time.Duration) (domain.JobStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()

	status, err := c.transport.QueryStatus(pollCtx, batchID)
	if err != nil && ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return domain.JobStatus{}, errBudgetExhausted
	}
	return status, err
}

func timeoutError(job *domain.ConversionJob, polls int, last domain.JobState, maxWait time.Duration) *domain.ConversionError {
	return domain.NewError(domain.KindTimeout, "await completion",
		fmt.Errorf("no terminal state after %d polls in %v (last state %s)", polls, maxWait, last)).WithBatch(job.BatchID)
}

// classify maps a transport error onto the error taxonomy. Remote rejections
// and undecodable answers take rejectKind; everything else is a transport error.
func classify(op string, rejectKind domain.ErrorKind, err error) *domain.ConversionError {
	if errors.Is(err, domain.ErrServiceDisabled) {
		return domain.NewError(domain.KindServiceUnavailable, op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return contextError(op, err)
	}

	var re *domain.RemoteError
	if errors.As(err, &re) {
		ce := domain.NewError(rejectKind, op, err)
		ce.StatusCode = re.StatusCode
		ce.RemoteMessage = re.Message
		return ce
	}
	if errors.Is(err, domain.ErrMalformedResponse) {
		return domain.NewError(rejectKind, op, err)
	}

	return domain.NewError(domain.KindTransportError, op, err)
}

func contextError(op string, err error) *domain.ConversionError {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindTimeout, op, err)
	}
	return domain.NewError(domain.KindCanceled, op, err)
}
