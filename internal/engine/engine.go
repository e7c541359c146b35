// Package engine orchestrates a load run: it creates publisher and
// subscriber sessions, drives their traffic, watches for completion or
// shutdown and always hands back a summary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/logger"
	"github.com/wesleyorama2/surge/internal/metrics"
	"github.com/wesleyorama2/surge/internal/payload"
	"github.com/wesleyorama2/surge/internal/rate"
	"github.com/wesleyorama2/surge/internal/session"
	"github.com/wesleyorama2/surge/internal/shutdown"
)

// ErrAlreadyStarted is returned when a second run is started on an Engine.
var ErrAlreadyStarted = errors.New("engine has already been started")

// defaultRunDrain bounds how long a combined run waits for in-flight
// messages after the publishers finish when no drain timeout is configured.
const defaultRunDrain = 5 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithLogger replaces the engine's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRunID sets the run id instead of generating one.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// Engine runs one load test. It is single use: create a new Engine for each
// run.
//
// # Thread Safety
//
// Shutdown, IsRunning and the accessors may be called from any goroutine
// while a run is in progress.
type Engine struct {
	cfg     *config.Config
	factory session.Factory

	signal  *shutdown.Signal
	pool    *session.Pool
	agg     *metrics.Aggregator
	gate    *connectGate
	decoder payload.Decoder

	logger   zerolog.Logger
	progress ProgressFunc
	runID    string

	started atomic.Bool
	mu      sync.RWMutex
	running bool
}

// New creates an Engine for cfg. Sessions get their transports from factory.
func New(cfg *config.Config, factory session.Factory, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if factory == nil {
		return nil, errors.New("transport factory is required")
	}

	e := &Engine{
		cfg:     cfg,
		factory: factory,
		signal:  shutdown.New(),
		pool:    session.NewPool(),
		agg:     metrics.NewAggregator(),
		logger:  logger.Get("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.logger = e.logger.With().Str("run_id", e.runID).Logger()

	if cfg.Payload.Strict {
		dec, err := payload.NewStrictDecoder()
		if err != nil {
			return nil, fmt.Errorf("failed to build strict decoder: %w", err)
		}
		e.decoder = dec
	} else {
		e.decoder = payload.DecoderFunc(payload.Decode)
	}

	e.gate = newConnectGate(
		connectParams{
			address: cfg.Broker.Address,
			port:    cfg.Broker.Port,
			timeout: cfg.Broker.ConnectTimeout.Std(),
		},
		rate.NewConnectLimiter(cfg.Run.ConnectRate, cfg.Run.ConnectBurst),
		cfg.Run.BreakerThreshold,
		cfg.Run.BreakerTimeout.Std(),
		e.logger,
	)

	return e, nil
}

// RunID returns the id of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// Aggregator returns the run's metrics aggregator.
func (e *Engine) Aggregator() *metrics.Aggregator {
	return e.agg
}

// Pool returns the run's pool of live sessions.
func (e *Engine) Pool() *session.Pool {
	return e.pool
}

// Shutdown asks every task to stop. It returns true on the first call.
func (e *Engine) Shutdown(reason string) bool {
	if e.signal.Set(reason) {
		e.logger.Info().Str("reason", reason).Msg("Shutdown requested")
		return true
	}
	return false
}

// ShutdownOnInterrupt requests shutdown with reason "interrupt" on SIGINT
// or SIGTERM until stop is called.
func (e *Engine) ShutdownOnInterrupt() (stop func()) {
	return e.signal.NotifyOnInterrupt(e.logger)
}

// ShuttingDown reports whether shutdown has been requested.
func (e *Engine) ShuttingDown() bool {
	return e.signal.IsSet()
}

// IsRunning returns true while a run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) begin() error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	return nil
}

func (e *Engine) end() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) newResult(mode Mode) *Result {
	return &Result{
		RunID:     e.runID,
		Mode:      mode,
		StartTime: time.Now(),
	}
}

// RunPublishers connects every publisher and sends its messages. It returns
// once all publisher tasks are done, or the grace period after a shutdown
// has expired.
func (e *Engine) RunPublishers(ctx context.Context) (*Result, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	runCtx, cancel := e.signal.Context(ctx)
	defer cancel()

	res := e.newResult(ModePublish)
	res.Publishers.Requested = e.cfg.Publisher.Sessions
	e.logger.Info().
		Int("publishers", e.cfg.Publisher.Sessions).
		Int("messages", e.cfg.Publisher.Messages).
		Str("interval", e.cfg.Publisher.Interval.String()).
		Msg("Starting publishers")

	e.agg.Start()
	tasks := e.startPublishers(runCtx)

	stopProgress := e.reportProgress(ModePublish, e.cfg.TotalMessages())
	e.awaitTasks(tasks.done)
	stopProgress()

	e.collectTasks(res, tasks)
	e.finish(ctx, res)
	return res, nil
}

// RunSubscribers connects every subscriber, then records arrivals until the
// expected number of messages is reached, the drain timeout expires or the
// run is shut down.
func (e *Engine) RunSubscribers(ctx context.Context) (*Result, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	runCtx, cancel := e.signal.Context(ctx)
	defer cancel()

	res := e.newResult(ModeSubscribe)
	res.Expected = e.cfg.Subscriber.ExpectedMessages

	res.Subscribers = e.connectSubscribers(runCtx)
	if res.Subscribers.Connected == 0 {
		e.logger.Warn().Msg("No subscriber sessions connected")
		res.Monitor = OutcomeNoSessions
		e.finish(ctx, res)
		return res, nil
	}

	e.agg.Start()
	res.Monitor = e.monitor(runCtx, ModeSubscribe, res.Expected, nil)
	e.finish(ctx, res)
	return res, nil
}

// Run drives both sides in one process: subscribers connect first, then
// publishers start, and monitoring lasts until every published message has
// reached every connected subscriber.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	runCtx, cancel := e.signal.Context(ctx)
	defer cancel()

	res := e.newResult(ModeRun)
	res.Publishers.Requested = e.cfg.Publisher.Sessions

	res.Subscribers = e.connectSubscribers(runCtx)
	res.Expected = e.cfg.TotalMessages() * int64(res.Subscribers.Connected)

	e.agg.Start()
	tasks := e.startPublishers(runCtx)

	if res.Subscribers.Connected == 0 {
		e.logger.Warn().Msg("No subscriber sessions connected, publishing only")
		res.Monitor = OutcomeNoSessions
		stopProgress := e.reportProgress(ModeRun, 0)
		e.awaitTasks(tasks.done)
		stopProgress()
	} else {
		res.Monitor = e.monitor(runCtx, ModeRun, res.Expected, tasks.done)
		e.awaitTasks(tasks.done)
	}

	e.collectTasks(res, tasks)
	e.finish(ctx, res)
	return res, nil
}

// awaitTasks waits for done. Once shutdown is signalled the tasks get the
// grace period to finish before the caller moves on to the forced drain.
func (e *Engine) awaitTasks(done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-e.signal.Done():
	}

	grace := e.cfg.Run.GracePeriod.Std()
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn().
			Dur("grace_period", grace).
			Msg("Tasks still running after grace period, forcing drain")
	}
}

// finish computes the summary and then drains the pool. The drain runs on
// every path.
func (e *Engine) finish(ctx context.Context, res *Result) {
	if ctx.Err() != nil {
		e.signal.Set("context cancelled")
	}
	e.agg.Stop()
	res.Summary = e.agg.Summary()

	res.Drained = e.pool.Drain()
	res.PeakSessions = e.pool.Peak()
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	if e.signal.IsSet() {
		res.Interrupted = true
		res.Reason = e.signal.Reason()
	}

	e.logger.Info().
		Int64("published", res.Summary.Published).
		Int64("received", res.Summary.Received).
		Int64("malformed", res.Summary.Malformed).
		Int64("connect_failures", res.Summary.ConnectFailures).
		Int("drained", res.Drained).
		Bool("interrupted", res.Interrupted).
		Str("breaker", e.gate.breakerState()).
		Msg("Run finished")
}

// reportProgress calls the progress callback every monitor interval until
// the returned stop function is called.
func (e *Engine) reportProgress(mode Mode, expected int64) (stop func()) {
	if e.progress == nil {
		return func() {}
	}

	quit := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(e.monitorInterval())
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				e.emitProgress(mode, expected)
			}
		}
	}()

	return func() {
		close(quit)
		<-exited
		e.emitProgress(mode, expected)
	}
}

func (e *Engine) emitProgress(mode Mode, expected int64) {
	if e.progress == nil {
		return
	}
	e.progress(Progress{
		Mode:     mode,
		Live:     e.agg.Live(),
		Expected: expected,
		Sessions: e.pool.Len(),
	})
}

func (e *Engine) monitorInterval() time.Duration {
	return e.cfg.Subscriber.MonitorInterval.GetDuration(500 * time.Millisecond)
}
