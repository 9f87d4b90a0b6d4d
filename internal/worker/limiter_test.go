package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiterSeparatesModels(t *testing.T) {
	l := NewLimiter(1, 1)

	if !l.Allow("gpt-4o-mini") {
		t.Error("first request for gpt-4o-mini should be allowed")
	}
	if l.Allow("gpt-4o-mini") {
		t.Error("second immediate request for gpt-4o-mini should be throttled")
	}
	// A different model has its own bucket
	if !l.Allow("llama3") {
		t.Error("first request for llama3 should be allowed")
	}
}

func TestLimiterDefaultModelKey(t *testing.T) {
	l := NewLimiter(1, 1)

	if !l.Allow("") {
		t.Error("empty model key should be a valid bucket")
	}
	if l.Allow("") {
		t.Error("empty model key should throttle like any other")
	}
}

func TestLimiterWait(t *testing.T) {
	l := NewLimiter(100, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "m"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	// Two refills at 100 rps is about 20ms
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Wait() took %v, expected well under 500ms", elapsed)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(0.001, 1)
	l.Allow("m") // drain the bucket

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "m"); err == nil {
		t.Error("Wait() should fail when the context expires before a token")
	}
}

func TestSetModelRate(t *testing.T) {
	l := NewLimiter(1, 1)
	l.SetModelRate("premium", 0.001, 2)

	if !l.Allow("premium") || !l.Allow("premium") {
		t.Error("custom burst of 2 should allow two immediate requests")
	}
	if l.Allow("premium") {
		t.Error("third request should exceed the custom burst")
	}
}

func TestLimiterZeroBurstDefaults(t *testing.T) {
	l := NewLimiter(10, 0)

	for i := 0; i < 5; i++ {
		if !l.Allow("m") {
			t.Fatalf("request %d should fit in the default burst of 5", i+1)
		}
	}
}
