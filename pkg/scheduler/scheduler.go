// Package scheduler drives the coordinator on a fixed interval and escalates
// repeated authentication failures to re-authentication.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andreweacott/jatekukko-exporter/pkg/coordinator"
	"github.com/andreweacott/jatekukko-exporter/pkg/logger"
)

const (
	// DefaultInterval is the refresh cadence of the portal data
	DefaultInterval = 6 * time.Hour

	// DefaultAuthFailureThreshold is how many AuthErrors in a row pause polling
	DefaultAuthFailureThreshold = 3
)

// ErrPaused is returned by Trigger while polling waits for re-authentication
var ErrPaused = errors.New("polling paused until re-authentication")

// Refresher is the part of the coordinator the scheduler drives
type Refresher interface {
	Refresh(ctx context.Context) (*coordinator.Snapshot, error)
	ConsecutiveAuthFailures() int
}

// ReauthHook is called once when polling pauses because of rejected credentials
type ReauthHook func(err error)

// Config holds the scheduler settings
type Config struct {
	Interval             time.Duration
	AuthFailureThreshold int
}

// Scheduler refreshes on a fixed interval. It never retries on its own: a
// failed refresh waits for the next tick.
type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	threshold int
	log       *logger.Logger
	onReauth  ReauthHook

	mu     sync.Mutex
	paused bool
}

// New creates a scheduler. Zero config values take the defaults.
func New(refresher Refresher, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.AuthFailureThreshold <= 0 {
		cfg.AuthFailureThreshold = DefaultAuthFailureThreshold
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		refresher: refresher,
		interval:  cfg.Interval,
		threshold: cfg.AuthFailureThreshold,
		log:       log,
	}
}

// WithReauthHook sets the hook invoked when polling pauses
func (s *Scheduler) WithReauthHook(hook ReauthHook) *Scheduler {
	s.onReauth = hook
	return s
}

// Start performs the first refresh. The daemon must not come up without data,
// so its error is returned as is.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.handleError(err)
	}
	return err
}

// Run refreshes on every tick until ctx is done. Ticks while paused are skipped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Scheduler started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if s.Paused() {
				s.log.Debug("Skipping refresh while waiting for re-authentication")
				continue
			}
			_, _ = s.Trigger(ctx)
		}
	}
}

// Trigger runs a refresh now. It joins a refresh already in flight.
func (s *Scheduler) Trigger(ctx context.Context) (*coordinator.Snapshot, error) {
	if s.Paused() {
		return nil, ErrPaused
	}

	snapshot, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.handleError(err)
		return nil, err
	}
	return snapshot, nil
}

// Paused reports whether polling waits for re-authentication
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Resume restarts polling after the credentials have been re-validated
func (s *Scheduler) Resume() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	s.mu.Unlock()

	if wasPaused {
		s.log.Info("Polling resumed")
	}
}

func (s *Scheduler) handleError(err error) {
	var authErr *coordinator.AuthError
	if !errors.As(err, &authErr) {
		return
	}

	failures := s.refresher.ConsecutiveAuthFailures()
	if failures < s.threshold {
		return
	}

	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = true
	s.mu.Unlock()

	s.log.Error("Credentials rejected repeatedly, pausing polling until re-authentication",
		"consecutive_auth_failures", failures,
		"error", err.Error())

	if s.onReauth != nil {
		s.onReauth(err)
	}
}
