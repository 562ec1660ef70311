package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransient(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("rate limited"), 429)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(3), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("overloaded"), 529)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(5), func(_ context.Context) error {
		calls++
		return errors.New("invalid model")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := fastRetry(10)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	cfg.OnRetry = func(int, error) { cancel() }

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("timeout"), 504)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_CustomShouldRetryAndOnRetry(t *testing.T) {
	var attempts []int
	cfg := fastRetry(4)
	cfg.ShouldRetry = func(err error) bool { return err.Error() == "again" }
	cfg.OnRetry = func(attempt int, _ error) { attempts = append(attempts, attempt) }

	var calls int
	v, err := DoVal(context.Background(), cfg, func(_ context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("again")
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d, %v", v, err)
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("unexpected retry attempts %v", attempts)
	}
}

func TestNewRetryConfig(t *testing.T) {
	cfg := NewRetryConfig(5, 100, 2000)
	if cfg.MaxAttempts != 5 || cfg.InitialBackoff != 100*time.Millisecond || cfg.MaxBackoff != 2*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}

	def := NewRetryConfig(0, -1, 0)
	if def.MaxAttempts != 3 || def.InitialBackoff != 500*time.Millisecond || def.MaxBackoff != 30*time.Second {
		t.Errorf("expected defaults, got %+v", def)
	}
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := computeBackoff(i, cfg); got != w {
			t.Errorf("attempt %d: expected %s, got %s", i, w, got)
		}
	}

	cfg.JitterFraction = 0.5
	for i := 0; i < 100; i++ {
		got := computeBackoff(0, cfg)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", got)
		}
	}
}

func TestRetryLogger(t *testing.T) {
	zap.ReplaceGlobals(zap.NewNop())
	RetryLogger("anthropic", "create_message")(1, errors.New("boom"))
}
