package swarm

import (
	"context"
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:1h", kind: SpecInterval, source: "duration", duration: time.Hour},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "prefixed hhmm", raw: "interval:00:50", kind: SpecInterval, source: "hhmm", duration: 50 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "interval:", "cron:", "-5m", "12:99"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) = nil error, want error", raw)
		}
	}
}

func TestTriggerIntervalNext(t *testing.T) {
	t.Parallel()
	trig, err := NewTrigger("30s", "")
	if err != nil {
		t.Fatalf("NewTrigger error: %v", err)
	}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := trig.Next(now); !got.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("Next = %v, want %v", got, now.Add(30*time.Second))
	}
}

func TestTriggerCronNext(t *testing.T) {
	t.Parallel()
	trig, err := NewTrigger("cron:0 * * * *", "UTC")
	if err != nil {
		t.Fatalf("NewTrigger error: %v", err)
	}
	now := time.Date(2024, 3, 1, 12, 17, 3, 0, time.UTC)
	want := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	if got := trig.Next(now); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestTriggerRejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := NewTrigger("cron:not a real cron", ""); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if _, err := NewTrigger("5m", "Mars/Olympus"); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestTriggerWaitCancellation(t *testing.T) {
	t.Parallel()
	trig, err := NewTrigger("1h", "")
	if err != nil {
		t.Fatalf("NewTrigger error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- trig.Wait(ctx) }()
	cancel()
	select {
	case werr := <-done:
		if werr == nil {
			t.Fatal("Wait returned nil after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestTriggerWaitFires(t *testing.T) {
	t.Parallel()
	trig, err := NewTrigger("20ms", "")
	if err != nil {
		t.Fatalf("NewTrigger error: %v", err)
	}
	start := time.Now()
	if werr := trig.Wait(context.Background()); werr != nil {
		t.Fatalf("Wait error: %v", werr)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("Wait returned after %v, want >= 15ms", elapsed)
	}
}
