package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestStartRejectsInvalidExpression(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("not a cron spec", time.UTC, nil)
	if err := s.Start(context.Background(), func(time.Time) {}); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestSchedulerFiresAndStops(t *testing.T) {
	t.Parallel()

	fired := make(chan time.Time, 4)
	s := NewCronScheduler("@every 100ms", time.UTC, nil)

	ctx := context.Background()
	if err := s.Start(ctx, func(at time.Time) { fired <- at }); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewCronScheduler("@every 1h", time.UTC, nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop without start: %v", err)
	}
}
