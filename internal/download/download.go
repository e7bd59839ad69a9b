// Package download implements the bounded-queue worker pool that
// fetches tile URLs and classifies their outcome, grounded on
// original_source/downloadmanager.py's DownloadManager/DownloadWorker
// (queue-in, queue-out, N workers, per-worker connection reuse) and
// pkg/core/http.go's WithRetry exponential backoff, adapted from
// "retry a single request" to "N workers draining a bounded channel".
package download

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/synmap/tilecache/internal/connpool"
	"github.com/synmap/tilecache/internal/pipelineerr"
	"github.com/synmap/tilecache/internal/telemetry"
	"github.com/synmap/tilecache/internal/tracing"
)

// Job is a single download request keyed by an opaque caller key
// (typically a (layer,z,x,y) tuple encoded by the caller). Layer is
// carried alongside for metrics labeling only.
type Job struct {
	Key   any
	URL   string
	Layer string
}

// Result is the outcome of attempting a Job.
type Result struct {
	Key    any
	Status int // 0 if the request never got an HTTP response (IO error)
	Data   []byte
	Err    error
}

// Manager runs a fixed pool of workers draining a bounded input queue
// and producing results on a bounded output queue, per spec.md §4.6.
type Manager struct {
	in  chan Job
	out chan Result

	workers          int
	retries          int
	terminalStatuses map[int]bool
	backoffBase      time.Duration
	userAgent        string

	wg        sync.WaitGroup
	logger    *slog.Logger
	cancel    context.CancelFunc
	workerCtx context.Context
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetries overrides the default retry count R.
func WithRetries(r int) Option {
	return func(m *Manager) { m.retries = r }
}

// WithBackoffBase sets the base delay for exponential backoff between
// retries.
func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) { m.backoffBase = d }
}

// WithLogger sets the structured logger used for worker diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(m *Manager) { m.userAgent = ua }
}

// DefaultTerminalStatuses is the set of HTTP statuses spec.md §4.6
// calls "answered": the tile server gave a definitive response and no
// further retry is warranted.
func DefaultTerminalStatuses() map[int]bool {
	return map[int]bool{200: true, 404: true, 302: true, 403: true}
}

// New builds a Manager with workers workers and the given queue bound,
// ready to Start.
func New(workers, queueBound int, opts ...Option) *Manager {
	m := &Manager{
		in:               make(chan Job, queueBound),
		out:              make(chan Result, queueBound),
		workers:          workers,
		retries:          5,
		terminalStatuses: DefaultTerminalStatuses(),
		backoffBase:      100 * time.Millisecond,
		userAgent:        "tilecache/1.0",
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the worker pool. ctx cancellation stops all workers;
// on shutdown, any jobs still sitting in the input queue are dropped,
// with a warning, per spec.md §4.6.
func (m *Manager) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.workerCtx = workerCtx

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.runWorker(workerCtx)
	}
}

// Enqueue submits a job to the input queue, blocking if it is full
// (the backpressure spec.md §4.6 relies on to pace the producer).
func (m *Manager) Enqueue(ctx context.Context, job Job) error {
	select {
	case m.in <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the channel of completed job outcomes.
func (m *Manager) Results() <-chan Result {
	return m.out
}

// Shutdown cancels in-flight workers, waits for them to exit, and
// closes the results channel; the input channel is left open. If the input queue is non-empty at shutdown
// time, a warning is logged per spec.md §4.6 ("stop fetching even if
// input queue is non-empty").
func (m *Manager) Shutdown() {
	if len(m.in) > 0 {
		m.logger.Warn("shutting down download workers before input queue empty", "remaining", len(m.in))
	}
	m.cancel()
	m.wg.Wait()
	close(m.out)
}

func (m *Manager) runWorker(ctx context.Context) {
	defer m.wg.Done()
	pool := connpool.New(connpool.WithUserAgent(m.userAgent))
	defer pool.Retire()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-m.in:
			if !ok {
				return
			}
			result := m.attempt(ctx, pool, job)
			select {
			case m.out <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// attempt performs up to m.retries GET attempts for job, retrying IO
// failures and non-terminal statuses, with exponential backoff plus
// jitter between attempts.
func (m *Manager) attempt(ctx context.Context, pool *connpool.Pool, job Job) Result {
	ctx, span := tracing.StartSpan(ctx, "download.attempt")
	defer span.End()
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrLayer, job.Layer),
		attribute.String(tracing.AttrHTTPMethod, "GET"),
	)

	u, parseErr := url.Parse(job.URL)
	host := ""
	if parseErr == nil {
		host = u.Host
	}

	start := time.Now()
	var lastStatus int
	var lastData []byte
	var lastErr error

	for attempt := 0; attempt < m.retries; attempt++ {
		if attempt > 0 {
			backoff := m.backoffBase * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(m.backoffBase) + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return Result{Key: job.Key, Status: lastStatus, Err: ctx.Err()}
			}
		}

		resp, err := pool.Do(ctx, host, job.URL)
		if err != nil {
			lastStatus, lastErr = 0, err
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus = resp.StatusCode
		lastData = data
		lastErr = readErr

		if m.terminalStatuses[lastStatus] {
			break
		}
	}

	outcome := classifyOutcome(lastStatus)
	telemetry.RecordDownload(job.Layer, host, outcome, time.Since(start))

	tracing.SetAttributes(ctx, attribute.Int(tracing.AttrHTTPStatusCode, lastStatus))
	if lastErr != nil {
		tracing.RecordError(ctx, lastErr)
		tracing.SetStatus(ctx, codes.Error, outcome)
	} else {
		tracing.SetStatus(ctx, codes.Ok, outcome)
	}

	return Result{Key: job.Key, Status: lastStatus, Data: lastData, Err: lastErr}
}

func classifyOutcome(status int) string {
	switch {
	case status == 200:
		return "ok"
	case pipelineerr.IsMissing(status):
		return "missing"
	case status == 403:
		return "banned"
	case status == 0:
		return "io_error"
	default:
		return "unexpected_status"
	}
}
