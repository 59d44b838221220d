package pacing

import (
	"context"
	"errors"
	"testing"
	"time"

	"chanmirror/internal/domain"
)

func TestSleep_Completes(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), NewStop(), 20*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("sleep returned too early")
	}
}

func TestSleep_StopInterrupts(t *testing.T) {
	stop := NewStop()
	go func() {
		time.Sleep(10 * time.Millisecond)
		stop.Trigger()
	}()

	start := time.Now()
	err := Sleep(context.Background(), stop, 5*time.Second)
	if !errors.Is(err, domain.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("stop did not interrupt the sleep")
	}
}

func TestSleep_AlreadyStopped(t *testing.T) {
	stop := NewStop()
	stop.Trigger()
	stop.Trigger() // idempotent

	if err := Sleep(context.Background(), stop, 0); !errors.Is(err, domain.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, nil, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStop_Nil(t *testing.T) {
	var s *Stop
	s.Trigger()
	if s.Stopped() {
		t.Fatal("nil stop token should never report stopped")
	}
}

func TestRateLimiter_DisabledIsNil(t *testing.T) {
	rl := NewRateLimiter(5, 0)
	if rl != nil {
		t.Fatal("expected nil limiter when rate is zero")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter should not block: %v", err)
	}
}

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10/sec refill

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context cancelled error")
	}
}
