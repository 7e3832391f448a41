package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRunTaskRecoversPanic(t *testing.T) {
	s := New(zap.NewNop(), time.Second)
	err := s.runTask(TaskFunc{TaskName: "boom", Fn: func(ctx context.Context) error {
		panic("unexpected")
	}})
	if err == nil {
		t.Fatalf("expected panic converted to error")
	}
}

func TestRunTaskBoundsContext(t *testing.T) {
	s := New(zap.NewNop(), 10*time.Millisecond)
	err := s.runTask(TaskFunc{TaskName: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSchedulerKeepsRunningAfterFailure(t *testing.T) {
	s := New(zap.NewNop(), time.Second)
	var ticks atomic.Int32
	s.Add(TaskFunc{TaskName: "flaky", Fn: func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("upstream down")
	}}, time.Second)
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for ticks.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if ticks.Load() < 2 {
		t.Fatalf("expected at least two ticks, got %d", ticks.Load())
	}
}

func TestStopCancelsRunningTick(t *testing.T) {
	s := New(zap.NewNop(), time.Minute)
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.runTask(TaskFunc{TaskName: "blocking", Fn: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("tick not cancelled")
	}
}
