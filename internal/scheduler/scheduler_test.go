package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextDelay(t *testing.T) {
	s := New(Options{Interval: 15 * time.Second}, zerolog.Nop())

	cases := []struct {
		elapsed time.Duration
		want    time.Duration
	}{
		{0, 15 * time.Second},
		{4 * time.Second, 11 * time.Second},
		{15 * time.Second, 0},
		{20 * time.Second, 0},
	}
	for _, tc := range cases {
		if got := s.NextDelay(tc.elapsed); got != tc.want {
			t.Fatalf("NextDelay(%s) = %s, want %s", tc.elapsed, got, tc.want)
		}
	}
}

func TestRunStopsAfterMaxIterations(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, MaxIterations: 3}, zerolog.Nop())

	var seen []uint64
	err := s.Run(context.Background(), func(_ context.Context, iteration uint64) error {
		seen = append(seen, iteration)
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Fatalf("iterations = %v", seen)
	}
}

func TestRunSurvivesErrorsAndPanics(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, MaxIterations: 3}, zerolog.Nop())

	var calls int32
	err := s.Run(context.Background(), func(_ context.Context, iteration uint64) error {
		atomic.AddInt32(&calls, 1)
		switch iteration {
		case 1:
			return errors.New("cycle failed")
		case 2:
			panic("unexpected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRunOverrunStartsNextImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour, MaxIterations: 2}, zerolog.Nop())

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), func(context.Context, uint64) error {
			clock = clock.Add(2 * time.Hour)
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("overrunning iteration should not wait for the interval")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, uint64) error {
			atomic.AddInt32(&calls, 1)
			cancel()
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
