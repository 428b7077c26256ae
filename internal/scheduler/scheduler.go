// Package scheduler drives the automation loop: it walks the configured
// accounts on a single goroutine, runs due accounts through the processor
// and takes repeatedly failing accounts out of rotation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sdabot/internal/domain"
)

// AccountSource yields the current account list. It is consulted on every
// tick so edits to the backing file take effect without a restart.
type AccountSource interface {
	Accounts(ctx context.Context) ([]domain.AccountProfile, error)
}

// ProcessFunc runs one automation pass for one account.
type ProcessFunc func(ctx context.Context, profile domain.AccountProfile) error

// Notifier receives operator-facing alerts.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Scheduler struct {
	log      *zap.Logger
	source   AccountSource
	process  ProcessFunc
	tracker  *Tracker
	notifier Notifier
	idle     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	paused  bool
	lastRun map[string]time.Time
}

func New(log *zap.Logger, source AccountSource, process ProcessFunc, tracker *Tracker, notifier Notifier, idle time.Duration) *Scheduler {
	if idle <= 0 {
		idle = 10 * time.Second
	}
	return &Scheduler{
		log:      log,
		source:   source,
		process:  process,
		tracker:  tracker,
		notifier: notifier,
		idle:     idle,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}
}

// Tracker exposes the breaker for status reporting and manual resets.
func (s *Scheduler) Tracker() *Tracker { return s.tracker }

// Reset puts a disabled account back into rotation and makes it due on
// the next tick.
func (s *Scheduler) Reset(account string) {
	s.tracker.Reset(account)
	s.mu.Lock()
	delete(s.lastRun, account)
	s.mu.Unlock()
}

// SetPaused stops new account passes from starting. The pass in flight,
// if any, finishes.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
	s.log.Info("scheduler pause state changed", zap.Bool("paused", paused))
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Run ticks until the context is cancelled. The account being processed
// when cancellation arrives finishes; no further accounts start. The idle
// sleep only happens after a tick that ran nothing, so back-to-back due
// accounts are picked up immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", zap.Duration("idle", s.idle))
	for {
		ran := s.Tick(ctx)
		if ctx.Err() != nil {
			s.log.Info("scheduler stopped")
			return ctx.Err()
		}
		if ran > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-time.After(s.idle):
		}
	}
}

// Tick runs every due account once and reports how many ran. Exported for
// tests and for one-shot invocations.
func (s *Scheduler) Tick(ctx context.Context) int {
	if s.Paused() {
		return 0
	}
	profiles, err := s.source.Accounts(ctx)
	if err != nil {
		s.log.Warn("loading accounts", zap.Error(err))
		return 0
	}
	ran := 0
	for _, profile := range profiles {
		if ctx.Err() != nil {
			return ran
		}
		name := profile.Account.Name
		if s.tracker.Disabled(name) {
			continue
		}
		if !profile.Settings.Enabled() {
			continue
		}
		if !s.due(name, profile.Settings.Interval()) {
			continue
		}
		s.runOne(ctx, profile)
		ran++
	}
	return ran
}

func (s *Scheduler) due(account string, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastRun[account]
	if !ok {
		return true
	}
	return s.now().Sub(last) >= interval
}

func (s *Scheduler) runOne(ctx context.Context, profile domain.AccountProfile) {
	name := profile.Account.Name
	runID := uuid.NewString()
	s.mu.Lock()
	s.lastRun[name] = s.now()
	s.mu.Unlock()

	// The pass runs to completion even if shutdown arrives mid-flight;
	// cancellation is only honoured between accounts, at dispatch.
	passCtx := context.WithoutCancel(ctx)

	defer func() {
		if v := recover(); v != nil {
			s.log.Error("account pass panicked",
				zap.String("account", name),
				zap.String("run_id", runID),
				zap.Any("panic", v))
			s.recordFailure(passCtx, name, fmt.Errorf("panic: %v", v))
		}
	}()

	if err := s.process(passCtx, profile); err != nil {
		s.log.Warn("account pass failed",
			zap.String("account", name),
			zap.String("run_id", runID),
			zap.Error(err))
		if ctx.Err() != nil {
			return
		}
		s.recordFailure(passCtx, name, err)
		return
	}
	s.tracker.RecordSuccess(name)
}

func (s *Scheduler) recordFailure(ctx context.Context, account string, cause error) {
	if !s.tracker.RecordFailure(account) {
		return
	}
	eventID := uuid.NewString()
	s.log.Error("account disabled after repeated failures",
		zap.String("account", account),
		zap.String("event_id", eventID),
		zap.Error(cause))
	if s.notifier == nil {
		return
	}
	text := fmt.Sprintf("account %s disabled after repeated failures (event %s): %v", account, eventID, cause)
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.log.Warn("notify failed", zap.String("account", account), zap.Error(err))
	}
}
