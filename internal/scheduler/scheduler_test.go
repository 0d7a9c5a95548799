package scheduler

import (
	"context"
	"testing"
	"time"

	logx "birthdaybot/pkg/logx"
)

func TestNextFireTime(t *testing.T) {
	t.Parallel()
	day := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		now    time.Time
		hour   int
		minute int
		want   time.Time
	}{
		{
			name: "before target fires today",
			now:  day.Add(30 * time.Second), // 00:00:30
			hour: 0, minute: 1,
			want: day.Add(1 * time.Minute), // 00:01:00 same day
		},
		{
			name: "after target fires tomorrow",
			now:  day.Add(90 * time.Second), // 00:01:30
			hour: 0, minute: 1,
			want: day.AddDate(0, 0, 1).Add(1 * time.Minute),
		},
		{
			name: "exactly at target fires tomorrow",
			now:  day.Add(1 * time.Minute),
			hour: 0, minute: 1,
			want: day.AddDate(0, 0, 1).Add(1 * time.Minute),
		},
		{
			name: "midday target later today",
			now:  day.Add(9 * time.Hour),
			hour: 12, minute: 30,
			want: day.Add(12*time.Hour + 30*time.Minute),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := NextFireTime(tt.now, tt.hour, tt.minute)
			if !got.Equal(tt.want) {
				t.Fatalf("NextFireTime(%v, %d, %d) = %v, want %v", tt.now, tt.hour, tt.minute, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Fatalf("NextFireTime returned a non-future time %v for now=%v", got, tt.now)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("23:15")
	if err != nil {
		t.Fatalf("ParseHHMM: %v", err)
	}
	if h != 23 || m != 15 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	for _, bad := range []string{"24:00", "12:60", "1230", "ab:cd", ""} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Fatalf("ParseHHMM(%q) accepted invalid input", bad)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "defaults", cfg: Config{}, ok: true},
		{name: "hhmm", cfg: Config{At: "00:01"}, ok: true},
		{name: "cron", cfg: Config{Cron: "1 0 * * *"}, ok: true},
		{name: "timezone", cfg: Config{At: "09:00", Timezone: "Asia/Jakarta"}, ok: true},
		{name: "bad time", cfg: Config{At: "25:00"}, ok: false},
		{name: "bad cron", cfg: Config{Cron: "not a cron"}, ok: false},
		{name: "bad timezone", cfg: Config{Timezone: "Nowhere/Município"}, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.ok && err != nil {
				t.Fatalf("ValidateConfig(%+v) = %v, want nil", tt.cfg, err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("ValidateConfig(%+v) accepted invalid config", tt.cfg)
			}
		})
	}
}

func TestCronScheduleNextIsStrictlyFuture(t *testing.T) {
	t.Parallel()
	s, err := New(Config{Cron: "1 0 * * *", Timezone: "UTC"}, func(context.Context) error { return nil }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, time.March, 15, 0, 1, 0, 0, time.UTC)
	next := s.nextFire(now)
	if !next.After(now) {
		t.Fatalf("nextFire(%v) = %v, not strictly in the future", now, next)
	}
	want := time.Date(2024, time.March, 16, 0, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextFire = %v, want %v", next, want)
	}
}

func TestStopCancelsPendingWaitWithoutFiring(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 1)
	s, err := New(Config{Enabled: true, At: "00:01"}, func(context.Context) error {
		fired <- struct{}{}
		return nil
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond) // let the loop arm

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	s.Stop(stopCtx)
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Fatalf("Stop took %v, want prompt cancellation", took)
	}

	select {
	case <-fired:
		t.Fatal("pass fired during a canceled wait")
	default:
	}
}

func TestApplyRearmsAndRejectsInvalid(t *testing.T) {
	t.Parallel()
	s, err := New(Config{At: "00:01"}, func(context.Context) error { return nil }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Apply(Config{At: "26:00"}); err == nil {
		t.Fatal("Apply accepted an invalid time of day")
	}
	// Previous schedule must survive a rejected Apply.
	now := time.Date(2024, time.March, 15, 0, 0, 30, 0, time.Local)
	if got := s.nextFire(now); got.Hour() != 0 || got.Minute() != 1 {
		t.Fatalf("schedule changed by rejected Apply: %v", got)
	}

	if err := s.Apply(Config{At: "12:30"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := s.nextFire(now); got.Hour() != 12 || got.Minute() != 30 {
		t.Fatalf("Apply did not take effect: %v", got)
	}
}

func TestStopLetsFiringPassComplete(t *testing.T) {
	t.Parallel()
	passCtx := make(chan context.Context, 1)
	release := make(chan struct{})
	s, err := New(Config{Enabled: true, Cron: "@every 1s"}, func(ctx context.Context) error {
		passCtx <- ctx
		<-release
		return nil
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.Start(context.Background())
	var pctx context.Context
	select {
	case pctx = <-passCtx:
	case <-time.After(3 * time.Second):
		t.Fatal("pass did not fire")
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.Stop(stopCtx)
	}()

	// Stop is now waiting on the in-flight pass; the pass's own context
	// must stay live so sends already underway are not aborted.
	time.Sleep(100 * time.Millisecond)
	if err := pctx.Err(); err != nil {
		t.Fatalf("in-flight pass context canceled by Stop: %v", err)
	}
	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was still firing")
	default:
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the pass completed")
	}
}

func TestPassErrorDoesNotStopLoop(t *testing.T) {
	t.Parallel()
	s, err := New(Config{At: "00:01"}, func(context.Context) error { return context.DeadlineExceeded }, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// runPass must swallow errors and panics; the loop re-arms regardless.
	s.runPass(context.Background())

	s.pass = func(context.Context) error { panic("boom") }
	s.runPass(context.Background())
}
