package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func(context.Context, int) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	var seen []int
	err := Do(context.Background(), 3, time.Millisecond, func(_ context.Context, n int) error {
		seen = append(seen, n)
		return errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Fatalf("err = %v", err)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("attempts = %v", seen)
	}
}

func TestDoPermanent(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func(context.Context, int) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	err := Do(ctx, 5, time.Hour, func(context.Context, int) error {
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Do did not return promptly after cancel")
	}
}
