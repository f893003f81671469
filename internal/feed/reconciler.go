// Package feed keeps the cached card feed fresh from the live change stream without moving
// content under the reader: new cards wait in a pending buffer until MergePending.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cafecursor/cafecursor/internal/api"
	"github.com/cafecursor/cafecursor/internal/changefeed"
	"github.com/cafecursor/cafecursor/internal/querycache"
	"github.com/cafecursor/cafecursor/internal/timers"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Status is the connection state shown to the reader.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusLive       Status = "live"
	StatusUpdating   Status = "updating"
	StatusOffline    Status = "offline"
)

const (
	defaultMaxAttempts     = 5
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2
	defaultRandomization   = 0.5
	defaultFlashDuration   = 800 * time.Millisecond
	defaultPageSize        = 20
)

// ChangeSource opens one change stream connection and blocks until it ends.
type ChangeSource interface {
	Stream(ctx context.Context, sink changefeed.Sink) error
}

// PageLoader fetches one page of the public feed.
type PageLoader interface {
	ListFeed(ctx context.Context, offset, limit int) (api.FeedPage, error)
}

// Config wires a Reconciler. Source, Pages and Cache are required.
type Config struct {
	Source    ChangeSource
	Pages     PageLoader
	Cache     *querycache.Cache
	Scheduler timers.Scheduler
	Logger    *zap.Logger

	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	FlashDuration       time.Duration
	PageSize            int
}

// Reconciler applies change events to the cached feed and maintains the subscription.
type Reconciler struct {
	source    ChangeSource
	pages     PageLoader
	cache     *querycache.Cache
	scheduler timers.Scheduler
	logger    *zap.Logger

	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	randomization   float64
	flashDuration   time.Duration
	pageSize        int

	// applyMu serializes event application and merges.
	applyMu sync.Mutex
	pending []api.Card

	mu           sync.Mutex
	status       Status
	attempts     int
	flashTimer   timers.Timer
	flashGen     uint64
	cancelStream context.CancelFunc
	observers    []func(Status)
	opens        int

	reconnect chan struct{}
}

var errMissingDependency = errors.New("feed: source, pages and cache are required")

func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Source == nil || cfg.Pages == nil || cfg.Cache == nil {
		return nil, errMissingDependency
	}
	r := &Reconciler{
		source:          cfg.Source,
		pages:           cfg.Pages,
		cache:           cfg.Cache,
		scheduler:       cfg.Scheduler,
		logger:          cfg.Logger,
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		multiplier:      cfg.Multiplier,
		randomization:   cfg.RandomizationFactor,
		flashDuration:   cfg.FlashDuration,
		pageSize:        cfg.PageSize,
		status:          StatusConnecting,
		reconnect:       make(chan struct{}, 1),
	}
	if r.scheduler == nil {
		r.scheduler = timers.System()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.initialInterval <= 0 {
		r.initialInterval = defaultInitialInterval
	}
	if r.maxInterval <= 0 {
		r.maxInterval = defaultMaxInterval
	}
	if r.multiplier <= 1 {
		r.multiplier = defaultMultiplier
	}
	if r.randomization <= 0 {
		r.randomization = defaultRandomization
	}
	if r.flashDuration <= 0 {
		r.flashDuration = defaultFlashDuration
	}
	if r.pageSize <= 0 {
		r.pageSize = defaultPageSize
	}
	return r, nil
}

// Run keeps the change subscription open until ctx ends. Failed connections are retried with
// exponential backoff; after MaxAttempts consecutive failures the status becomes offline and
// Run waits for Reconnect.
func (r *Reconciler) Run(ctx context.Context) error {
	policy := r.newBackOff()
	defer r.stopFlash()

	for {
		streamCtx, cancel := context.WithCancel(ctx)
		r.mu.Lock()
		r.cancelStream = cancel
		r.mu.Unlock()
		r.setStatus(StatusConnecting)

		opened := false
		err := r.source.Stream(streamCtx, changefeed.Sink{
			Opened: func() {
				opened = true
				if r.markOpened() {
					r.resync(streamCtx)
				}
			},
			Event: func(event changefeed.Event) {
				r.Apply(event)
			},
		})
		cancel()
		r.mu.Lock()
		r.cancelStream = nil
		r.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.takeReconnect() {
			policy.Reset()
			continue
		}
		if opened {
			policy.Reset()
		}

		attempts := r.recordFailure()
		r.logger.Info("change stream disconnected", zap.Int("attempt", attempts), zap.Error(err))
		if attempts >= r.maxAttempts {
			r.setStatus(StatusOffline)
			r.logger.Warn("change stream offline", zap.Int("attempts", attempts))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.reconnect:
				policy.Reset()
				continue
			}
		}

		woken, err := r.wait(ctx, policy.NextBackOff())
		if err != nil {
			return err
		}
		if woken {
			policy.Reset()
		}
	}
}

// Reconnect resets the attempt counter and resubscribes immediately, interrupting a live
// connection or a pending retry.
func (r *Reconciler) Reconnect() {
	r.mu.Lock()
	r.attempts = 0
	cancel := r.cancelStream
	r.mu.Unlock()

	select {
	case r.reconnect <- struct{}{}:
	default:
	}
	if cancel != nil {
		cancel()
	}
}

func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// OnStatus registers fn to observe status transitions.
func (r *Reconciler) OnStatus(fn func(Status)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Attempts reports the consecutive failed connection attempts.
func (r *Reconciler) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

func (r *Reconciler) newBackOff() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval
	policy.MaxInterval = r.maxInterval
	policy.Multiplier = r.multiplier
	policy.RandomizationFactor = r.randomization
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

// wait sleeps for delay on the scheduler. It reports true when Reconnect cut the wait short.
func (r *Reconciler) wait(ctx context.Context, delay time.Duration) (bool, error) {
	wake := make(chan struct{})
	timer := r.scheduler.AfterFunc(delay, func() { close(wake) })
	select {
	case <-wake:
		return false, nil
	case <-r.reconnect:
		timer.Stop()
		return true, nil
	case <-ctx.Done():
		timer.Stop()
		return false, ctx.Err()
	}
}

func (r *Reconciler) takeReconnect() bool {
	select {
	case <-r.reconnect:
		return true
	default:
		return false
	}
}

// markOpened reports whether the stream had been open before, in which case events may have
// been missed while it was down.
func (r *Reconciler) markOpened() bool {
	r.mu.Lock()
	r.attempts = 0
	r.opens++
	reopened := r.opens > 1
	r.mu.Unlock()
	r.setStatus(StatusLive)
	return reopened
}

// resync reloads a cached feed after a reconnect since the stream never replays missed events.
// Card details are only marked stale.
func (r *Reconciler) resync(ctx context.Context) {
	if _, cached := r.cache.Get(querycache.FeedKey); !cached {
		return
	}
	r.cache.Invalidate(querycache.CardKeyPrefix)
	r.cache.Invalidate(querycache.FeedKey)
	if _, err := r.LoadFirstPage(ctx); err != nil {
		r.logger.Warn("feed resync failed", zap.Error(err))
		return
	}
	r.logger.Debug("feed resynced after reconnect")
}

func (r *Reconciler) recordFailure() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	return r.attempts
}

func (r *Reconciler) setStatus(status Status) {
	r.mu.Lock()
	if r.status == status {
		r.mu.Unlock()
		return
	}
	r.status = status
	if status != StatusUpdating && r.flashTimer != nil {
		r.flashTimer.Stop()
		r.flashTimer = nil
	}
	observers := make([]func(Status), len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, observer := range observers {
		observer(status)
	}
}

// flash shows updating and schedules the revert to live. Each call restarts the window.
func (r *Reconciler) flash() {
	r.mu.Lock()
	if r.status == StatusOffline || r.status == StatusConnecting {
		r.mu.Unlock()
		return
	}
	if r.flashTimer != nil {
		r.flashTimer.Stop()
	}
	r.flashGen++
	generation := r.flashGen
	r.mu.Unlock()

	r.setStatus(StatusUpdating)

	timer := r.scheduler.AfterFunc(r.flashDuration, func() {
		r.mu.Lock()
		current := r.flashGen == generation && r.status == StatusUpdating
		if current {
			r.flashTimer = nil
		}
		r.mu.Unlock()
		if current {
			r.setStatus(StatusLive)
		}
	})
	r.mu.Lock()
	if r.flashGen == generation {
		r.flashTimer = timer
	} else {
		timer.Stop()
	}
	r.mu.Unlock()
}

func (r *Reconciler) stopFlash() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flashGen++
	if r.flashTimer != nil {
		r.flashTimer.Stop()
		r.flashTimer = nil
	}
}
