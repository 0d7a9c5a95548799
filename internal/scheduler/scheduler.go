// Package scheduler runs the once-a-day reminder pass.
//
// One goroutine owns one timer: compute the next fire time, sleep, run the
// pass, recompute from the new wall clock (never by adding 24h, so clock
// adjustments are tolerated), re-arm. A failed or panicking pass is logged
// and the loop always re-arms; only Stop ends it.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "birthdaybot/pkg/logx"
)

type Config struct {
	Enabled bool

	// At is the daily fire time as local "HH:MM". Default "00:01".
	At string

	// Cron, when non-empty, overrides At with a 5-field cron expression.
	Cron string

	// Timezone is an IANA name; empty means the process-local timezone.
	Timezone string
}

// Pass is the reminder pass invoked on each fire.
type Pass func(ctx context.Context) error

type Service struct {
	log  logx.Logger
	pass Pass

	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	sched  cron.Schedule // non-nil iff cfg.Cron is set
	hour   int
	minute int

	cancel context.CancelFunc
	done   chan struct{}
	rearm  chan struct{}

	parser cron.Parser
}

func New(cfg Config, pass Pass, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		pass:   pass,
		rearm:  make(chan struct{}, 1),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if err := s.applyLocked(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the schedule at runtime. A pending wait is re-armed so the
// new fire time takes effect immediately.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	if err := s.applyLocked(cfg); err != nil {
		s.mu.Unlock()
		return err
	}
	running := s.done != nil
	s.mu.Unlock()

	if running {
		select {
		case s.rearm <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Service) applyLocked(cfg Config) error {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}

	var sched cron.Schedule
	hour, minute := 0, 1
	if spec := strings.TrimSpace(cfg.Cron); spec != "" {
		sc, err := s.parser.Parse(spec)
		if err != nil {
			return fmt.Errorf("schedule.cron: invalid %q: %w", spec, err)
		}
		sched = sc
	} else if at := strings.TrimSpace(cfg.At); at != "" {
		h, m, err := ParseHHMM(at)
		if err != nil {
			return fmt.Errorf("schedule.at: %w", err)
		}
		hour, minute = h, m
	}

	s.cfg = cfg
	s.loc = loc
	s.sched = sched
	s.hour, s.minute = hour, minute
	return nil
}

// ValidateConfig reports whether cfg would be accepted by New or Apply.
// Used by the config manager's pre-commit validation hook.
func ValidateConfig(cfg Config) error {
	s := &Service{parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}
	return s.applyLocked(cfg)
}

// ParseHHMM parses a "HH:MM" time of day.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	return h, m, nil
}

// NextFireTime returns today at hour:minute if that is still strictly in the
// future, otherwise tomorrow at hour:minute. The result is never at or
// before now, so the timer can never arm with a zero or negative sleep.
func NextFireTime(now time.Time, hour, minute int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

func (s *Service) nextFire(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now = now.In(s.loc)
	if s.sched != nil {
		return s.sched.Next(now) // cron's Next is strictly after now
	}
	return NextFireTime(now, s.hour, s.minute)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.loop(runCtx)
	}()
}

// Stop cancels a pending wait promptly. A pass already in flight runs to
// completion; Stop waits for it up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) loop(ctx context.Context) {
	s.log.Info("scheduler started")
	for {
		next := s.nextFire(time.Now())
		s.log.Debug("armed", logx.Time("next_fire", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return
		case <-s.rearm:
			timer.Stop()
			continue
		case <-timer.C:
			// The pass runs on a context detached from the loop's cancel:
			// Stop aborts a pending wait, never a pass already firing. Stop's
			// bounded wait on done covers the shutdown deadline.
			s.runPass(context.WithoutCancel(ctx))
			// Loop re-arms from the new current time after the pass returned;
			// at most one pass is ever in flight.
		}
	}
}

func (s *Service) runPass(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("reminder pass panicked", logx.Any("panic", r))
		}
	}()

	if err := s.pass(ctx); err != nil {
		s.log.Error("reminder pass failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Info("reminder pass completed", logx.Duration("took", time.Since(start)))
}
