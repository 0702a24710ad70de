// Package scheduler runs the sync periodically and guards manual triggers.
//
// At most one sync is in flight per process, whichever way it was started.
// Manual triggers are additionally rate limited by a cooldown measured from
// the previous accepted trigger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/profitsync/internal/scheduler/config"
	"github.com/iurnickita/profitsync/internal/service"
)

var ErrInProgress = errors.New("sync already running")

// DefaultInterval replaces a non-positive configured interval.
const DefaultInterval = 6 * time.Hour

// CooldownError rejects a manual trigger that came too soon after the last one.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("wait %ds before triggering again", e.Seconds())
}

// Seconds is the remaining cooldown rounded up to whole seconds.
func (e *CooldownError) Seconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

type Scheduler struct {
	cfg    config.Config
	svc    service.Service
	zaplog *zap.Logger
	now    func() time.Time

	started atomic.Bool

	mu          sync.Mutex
	running     bool
	lastTrigger time.Time
	inflight    sync.WaitGroup
}

func New(cfg config.Config, svc service.Service, zaplog *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:    cfg,
		svc:    svc,
		zaplog: zaplog.Named("scheduler"),
		now:    time.Now,
	}
	if s.cfg.Interval <= 0 {
		s.zaplog.Warn("non-positive sync interval, using default",
			zap.Duration("interval", s.cfg.Interval),
			zap.Duration("default", DefaultInterval),
		)
		s.cfg.Interval = DefaultInterval
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic loop. Only the first call has an effect; it
// reports whether the loop was started.
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.started.CompareAndSwap(false, true) {
		s.zaplog.Debug("already started")
		return false
	}
	s.zaplog.Info("scheduler started",
		zap.Duration("start_delay", s.cfg.StartDelay),
		zap.Duration("interval", s.cfg.Interval),
	)
	go s.loop(ctx)
	return true
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(s.cfg.StartDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.tick(ctx)
		timer.Reset(s.cfg.Interval)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.zaplog.Info("sync in progress, skipping scheduled run")
		return
	}
	s.running = true
	s.inflight.Add(1)
	s.mu.Unlock()

	s.runSync(ctx, false)
}

// Trigger starts a manual sync in the background and returns immediately.
func (s *Scheduler) Trigger(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrInProgress
	}
	now := s.now()
	if !s.lastTrigger.IsZero() {
		if elapsed := now.Sub(s.lastTrigger); elapsed < s.cfg.Cooldown {
			s.mu.Unlock()
			return &CooldownError{Remaining: s.cfg.Cooldown - elapsed}
		}
	}
	s.running = true
	s.lastTrigger = now
	s.inflight.Add(1)
	s.mu.Unlock()

	// запуск переживает HTTP-запрос, который его инициировал
	go s.runSync(context.WithoutCancel(ctx), true)
	return nil
}

func (s *Scheduler) runSync(ctx context.Context, manual bool) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.inflight.Done()
	}()

	run, err := s.svc.Sync(ctx, manual)
	if err != nil {
		if errors.Is(err, service.ErrNoConnection) {
			return
		}
		s.zaplog.Warn("sync run failed", zap.String("run_id", run.ID), zap.Bool("manual", manual), zap.Error(err))
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until no sync is in flight.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}
