package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"h2s_notifier/config"
	"h2s_notifier/models"
)

type countingRunner struct {
	calls   atomic.Int32
	release chan struct{}
}

func (r *countingRunner) RunAll(ctx context.Context) (*models.Run, error) {
	r.calls.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	return &models.Run{Status: models.RunStatusCompleted}, nil
}

func TestSchedulerInterval(t *testing.T) {
	runner := &countingRunner{}
	s := New(config.SchedulerConfig{Interval: 5 * time.Millisecond}, runner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for runner.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 runs, got %d", runner.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	after := runner.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if runner.calls.Load() != after {
		t.Fatalf("runs continued after Stop")
	}
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "every now and then"}, &countingRunner{})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected invalid cron error")
	}
}

func TestSchedulerRequiresSchedule(t *testing.T) {
	s := New(config.SchedulerConfig{}, &countingRunner{})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error without cron or interval")
	}
}

func TestTriggerNowSkipsOverlappingRun(t *testing.T) {
	runner := &countingRunner{release: make(chan struct{})}
	s := New(config.SchedulerConfig{}, runner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.TriggerNow(context.Background())
	}()

	for runner.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if _, err := s.TriggerNow(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(runner.release)
	<-done
	if runner.calls.Load() != 1 {
		t.Fatalf("expected a single run, got %d", runner.calls.Load())
	}
}
