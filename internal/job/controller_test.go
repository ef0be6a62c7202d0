package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/doc-converter/internal/domain"
)

// fakeClock advances instantly whenever the poll loop sleeps
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// fakeTransport replays a scripted status sequence. Once the script runs out
// the last entry repeats.
type fakeTransport struct {
	available bool
	location  *domain.UploadLocation
	uploadErr error
	locErr    error
	statuses  []domain.JobStatus
	statusErr error
	hang      bool

	mu         sync.Mutex
	polls      int
	uploaded   []byte
	onPoll     func(n int)
	locCalls   int
	uploadCall int
}

func (f *fakeTransport) Available() bool { return f.available }

func (f *fakeTransport) RequestUploadLocation(ctx context.Context, fileName string) (*domain.UploadLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locCalls++
	if f.locErr != nil {
		return nil, f.locErr
	}
	return f.location, nil
}

func (f *fakeTransport) UploadBytes(ctx context.Context, uploadURL string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCall++
	f.uploaded = data
	return f.uploadErr
}

func (f *fakeTransport) QueryStatus(ctx context.Context, batchID string) (domain.JobStatus, error) {
	f.mu.Lock()
	f.polls++
	n := f.polls
	hook := f.onPoll
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if f.hang {
		<-ctx.Done()
		return domain.JobStatus{}, fmt.Errorf("query status: %w", ctx.Err())
	}
	if f.statusErr != nil {
		return domain.JobStatus{}, f.statusErr
	}
	idx := n - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return f.statuses[idx], nil
}

func (f *fakeTransport) DownloadResult(ctx context.Context, locator string) ([]byte, error) {
	return nil, errors.New("not used")
}

func (f *fakeTransport) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func okTransport() *fakeTransport {
	return &fakeTransport{
		available: true,
		location:  &domain.UploadLocation{BatchID: "batch-1", UploadURL: "https://upload.example/1"},
	}
}

func testJob() *domain.ConversionJob {
	return &domain.ConversionJob{BatchID: "batch-1", FileName: "doc.pdf"}
}

func TestSubmit_Success(t *testing.T) {
	tr := okTransport()
	clock := newFakeClock()
	c := NewController(tr, zerolog.Nop(), WithClock(clock))

	job, err := c.Submit(context.Background(), []byte("%PDF"), "doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", job.BatchID)
	assert.Equal(t, "doc.pdf", job.FileName)
	assert.Equal(t, clock.Now(), job.SubmittedAt)
	assert.Equal(t, []byte("%PDF"), tr.uploaded)
}

func TestSubmit_LogsUnderJobComponent(t *testing.T) {
	var buf bytes.Buffer
	c := NewController(okTransport(), zerolog.New(&buf), WithClock(newFakeClock()))

	_, err := c.Submit(context.Background(), []byte("%PDF"), "doc.pdf")
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		assert.Equal(t, "job", entry["component"])
		assert.Equal(t, "batch-1", entry["batch_id"])
	}
}

func TestSubmit_ServiceUnavailableBeforeNetwork(t *testing.T) {
	tr := okTransport()
	tr.available = false
	c := NewController(tr, zerolog.Nop())

	_, err := c.Submit(context.Background(), []byte("x"), "doc.pdf")

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Zero(t, tr.locCalls)
	assert.Zero(t, tr.uploadCall)
}

func TestSubmit_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*fakeTransport)
		wantKind domain.ErrorKind
		wantCode int
	}{
		{
			name:     "non-2xx upload location",
			mutate:   func(f *fakeTransport) { f.locErr = &domain.RemoteError{Op: "x", StatusCode: 401, Message: "bad token"} },
			wantKind: domain.KindUploadRejected,
			wantCode: 401,
		},
		{
			name:     "application code",
			mutate:   func(f *fakeTransport) { f.locErr = &domain.RemoteError{Op: "x", StatusCode: 200, Code: -500, Message: "quota"} },
			wantKind: domain.KindUploadRejected,
			wantCode: 200,
		},
		{
			name:     "missing upload url",
			mutate:   func(f *fakeTransport) { f.location = &domain.UploadLocation{BatchID: "batch-1"} },
			wantKind: domain.KindUploadRejected,
		},
		{
			name:     "nil location",
			mutate:   func(f *fakeTransport) { f.location = nil },
			wantKind: domain.KindUploadRejected,
		},
		{
			name:     "malformed upload location body",
			mutate:   func(f *fakeTransport) { f.locErr = domain.ErrMalformedResponse },
			wantKind: domain.KindUploadRejected,
		},
		{
			name:     "disabled reported by transport",
			mutate:   func(f *fakeTransport) { f.locErr = domain.ErrServiceDisabled },
			wantKind: domain.KindServiceUnavailable,
		},
		{
			name:     "network failure on location",
			mutate:   func(f *fakeTransport) { f.locErr = &net.OpError{Op: "dial", Err: errors.New("refused")} },
			wantKind: domain.KindTransportError,
		},
		{
			name:     "upload rejected by storage",
			mutate:   func(f *fakeTransport) { f.uploadErr = &domain.RemoteError{Op: "upload bytes", StatusCode: 403} },
			wantKind: domain.KindTransferFailed,
			wantCode: 403,
		},
		{
			name:     "network failure on upload",
			mutate:   func(f *fakeTransport) { f.uploadErr = errors.New("connection reset") },
			wantKind: domain.KindTransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := okTransport()
			tt.mutate(tr)
			c := NewController(tr, zerolog.Nop())

			_, err := c.Submit(context.Background(), []byte("x"), "doc.pdf")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))

			var ce *domain.ConversionError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.wantCode, ce.StatusCode)
		})
	}
}

func TestAwaitCompletion_DoneReturnsLocatorAndStops(t *testing.T) {
	tr := okTransport()
	tr.statuses = []domain.JobStatus{
		domain.StatusWaiting(),
		domain.StatusPending(),
		domain.StatusRunning(),
		domain.StatusConverting(),
		domain.StatusDone("https://cdn.example/result.zip"),
		domain.StatusRunning(), // must never be observed
	}
	c := NewController(tr, zerolog.Nop(), WithClock(newFakeClock()))

	locator, err := c.AwaitCompletion(context.Background(), testJob(), time.Minute, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/result.zip", locator)
	assert.Equal(t, 5, tr.pollCount())
}

func TestAwaitCompletion_DoneWithoutLocator(t *testing.T) {
	tr := okTransport()
	tr.statuses = []domain.JobStatus{domain.StatusDone("")}
	c := NewController(tr, zerolog.Nop(), WithClock(newFakeClock()))

	_, err := c.AwaitCompletion(context.Background(), testJob(), time.Minute, time.Second)
	assert.ErrorIs(t, err, domain.ErrMissingLocator)
	assert.Equal(t, 1, tr.pollCount())
}

func TestAwaitCompletion_FailedStopsImmediately(t *testing.T) {
	tr := okTransport()
	tr.statuses = []domain.JobStatus{
		domain.StatusPending(),
		domain.StatusFailed("file is encrypted"),
		domain.StatusDone("https://cdn.example/never.zip"),
	}
	c := NewController(tr, zerolog.Nop(), WithClock(newFakeClock()))

	_, err := c.AwaitCompletion(context.Background(), testJob(), time.Minute, time.Second)
	require.ErrorIs(t, err, domain.ErrRemoteProcessingFailed)
	assert.Equal(t, 2, tr.pollCount())

	var ce *domain.ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "file is encrypted", ce.RemoteMessage)
	assert.Equal(t, "batch-1", ce.BatchID)
	assert.Contains(t, err.Error(), "file is encrypted")
}

func TestAwaitCompletion_TimeoutPollCount(t *testing.T) {
	tests := []struct {
		maxWait  time.Duration
		interval time.Duration
	}{
		{50 * time.Second, 10 * time.Second},
		{45 * time.Second, 10 * time.Second},
		{300 * time.Second, 5 * time.Second},
		{3 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.maxWait.String()+"/"+tt.interval.String(), func(t *testing.T) {
			tr := okTransport()
			tr.statuses = []domain.JobStatus{domain.StatusRunning()}
			c := NewController(tr, zerolog.Nop(), WithClock(newFakeClock()))

			_, err := c.AwaitCompletion(context.Background(), testJob(), tt.maxWait, tt.interval)
			require.ErrorIs(t, err, domain.ErrTimeout)

			expected := int((tt.maxWait + tt.interval - 1) / tt.interval)
			assert.InDelta(t, expected, tr.pollCount(), 1)
		})
	}
}

func TestAwaitCompletion_DefaultsApplied(t *testing.T) {
	tr := okTransport()
	tr.statuses = []domain.JobStatus{domain.StatusWaiting()}
	clock := newFakeClock()
	start := clock.Now()
	c := NewController(tr, zerolog.Nop(), WithClock(clock))

	_, err := c.AwaitCompletion(context.Background(), testJob(), 0, 0)
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 60, tr.pollCount())
	assert.Equal(t, DefaultMaxWait, clock.Now().Sub(start))
}

func TestAwaitCompletion_StatusQueryFailure(t *testing.T) {
	tr := okTransport()
	tr.statusErr = &domain.RemoteError{Op: "query status", StatusCode: 500, Message: "boom"}
	c := NewController(tr, zerolog.Nop(), WithClock(newFakeClock()))

	_, err := c.AwaitCompletion(context.Background(), testJob(), time.Minute, time.Second)
	assert.ErrorIs(t, err, domain.ErrTransportError)
	assert.Equal(t, 1, tr.pollCount())
}

func TestAwaitCompletion_CancellationStopsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := okTransport()
	tr.statuses = []domain.JobStatus{domain.StatusRunning()}
	tr.onPoll = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	c := NewController(tr, zerolog.Nop(), WithClock(newFakeClock()))

	_, err := c.AwaitCompletion(ctx, testJob(), time.Hour, time.Second)
	require.ErrorIs(t, err, domain.ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, tr.pollCount())
}

func TestAwaitCompletion_ContextDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	tr := okTransport()
	tr.statuses = []domain.JobStatus{domain.StatusPending()}
	c := NewController(tr, zerolog.Nop())

	start := time.Now()
	_, err := c.AwaitCompletion(ctx, testJob(), time.Hour, time.Hour)
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, tr.pollCount())
}

func TestAwaitCompletion_RealClockSleepsBetweenPolls(t *testing.T) {
	tr := okTransport()
	tr.statuses = []domain.JobStatus{domain.StatusPending(), domain.StatusDone("loc")}
	c := NewController(tr, zerolog.Nop())

	start := time.Now()
	locator, err := c.AwaitCompletion(context.Background(), testJob(), time.Second, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "loc", locator)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAwaitCompletion_HungStatusQueryBoundedByMaxWait(t *testing.T) {
	tr := okTransport()
	tr.hang = true
	c := NewController(tr, zerolog.Nop())

	maxWait := 200 * time.Millisecond
	start := time.Now()
	_, err := c.AwaitCompletion(context.Background(), testJob(), maxWait, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Less(t, elapsed, 2*time.Second, "a hung status query must not outlast maxWait")
	assert.Equal(t, 1, tr.pollCount())

	var ce *domain.ConversionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "batch-1", ce.BatchID)
}

func TestAwaitCompletion_CallerCancelDuringQueryIsCanceled(t *testing.T) {
	tr := okTransport()
	tr.hang = true
	c := NewController(tr, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.AwaitCompletion(ctx, testJob(), time.Minute, time.Second)
	assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
}
