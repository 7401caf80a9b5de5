package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"throttle-gateway/middleware/ratelimit/domain"
)

func TestService_Decide_AllowsWhenNoLimiter(t *testing.T) {
	svc := Service{}
	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed")
	}
	if dec.RetryAfter != 0 {
		t.Fatalf("expected RetryAfter=0 when allowed, got %s", dec.RetryAfter)
	}
}

func TestService_Decide_AllowsUnderThreshold(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	mustConfigure(t, l, "api", domain.HandleConfig{Threshold: 2, Interval: time.Minute})
	svc := Service{Limiter: l, Handle: "api"}

	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed || dec.Counter.Value != 1 {
		t.Fatalf("expected allowed with counter=1, got %+v", dec)
	}
}

func TestService_Decide_BlocksWithRetryAfter(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	mustConfigure(t, l, "api", domain.HandleConfig{Threshold: 1, Interval: 10 * time.Second})
	clock.Advance(4 * time.Second)
	svc := Service{Limiter: l, Handle: "api"}

	svc.Decide(context.Background(), "k")
	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("expected rejection as decision, got error %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected blocked")
	}
	if dec.RetryAfter != 6*time.Second {
		t.Fatalf("expected RetryAfter=6s, got %s", dec.RetryAfter)
	}
	if dec.Limited == nil || dec.Limited.Handle != "api" {
		t.Fatalf("expected Limited error to be attached, got %+v", dec.Limited)
	}
}

func TestService_Decide_UsesOverrides(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	mustConfigure(t, l, "api", domain.HandleConfig{Threshold: 10, Interval: time.Minute})
	svc := Service{Limiter: l, Handle: "api", Overrides: &domain.Overrides{Threshold: domain.Int64(0)}}

	dec, err := svc.Decide(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected threshold override to block")
	}
}

func TestService_Decide_PropagatesBackendError(t *testing.T) {
	l, cache, _ := newTestLimiter(t)
	mustConfigure(t, l, "api", domain.HandleConfig{Threshold: 1, Interval: time.Minute})
	down := errors.New("down")
	cache.failWith = down

	if _, err := (Service{Limiter: l, Handle: "api"}).Decide(context.Background(), "k"); !errors.Is(err, down) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
