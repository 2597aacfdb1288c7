package handlers

import (
	"testing"
	"time"
)

func TestWindowLimiter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newWindowLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("user-1"); !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	ok, retry := limiter.Allow("user-1")
	if ok {
		t.Fatalf("third attempt should be refused")
	}
	if retry != time.Minute {
		t.Fatalf("expected retry after one minute, got %s", retry)
	}
	if ok, _ := limiter.Allow("user-2"); !ok {
		t.Fatalf("other keys are counted separately")
	}

	now = now.Add(time.Minute)
	if ok, _ := limiter.Allow("user-1"); !ok {
		t.Fatalf("window reset should allow again")
	}
}

func TestWindowLimiterDisabled(t *testing.T) {
	if newWindowLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("zero limit should disable the limiter")
	}
	if newWindowLimiter(3, 0, nil) != nil {
		t.Fatalf("zero window should disable the limiter")
	}
}
