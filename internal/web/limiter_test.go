package web

import (
	"testing"
	"time"
)

func TestDenialLimiterCapsPerHost(t *testing.T) {
	l := newDenialLimiter(3, time.Minute, 10)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1", now) {
			t.Fatalf("denial %d should be within the limit", i+1)
		}
	}
	if l.allow("10.0.0.1", now) {
		t.Fatal("fourth denial in the window should be limited")
	}
	if !l.allow("10.0.0.2", now) {
		t.Fatal("a different host must not share the window")
	}
}

func TestDenialLimiterWindowReset(t *testing.T) {
	l := newDenialLimiter(1, time.Minute, 10)
	now := time.Now()

	if !l.allow("10.0.0.1", now) {
		t.Fatal("first denial should be allowed")
	}
	if l.allow("10.0.0.1", now.Add(30*time.Second)) {
		t.Fatal("second denial inside the window should be limited")
	}
	if !l.allow("10.0.0.1", now.Add(time.Minute)) {
		t.Fatal("a new window should reset the count")
	}
}

func TestDenialLimiterEvictsIdleHosts(t *testing.T) {
	l := newDenialLimiter(5, time.Minute, 2)
	now := time.Now()

	l.allow("10.0.0.1", now)
	l.allow("10.0.0.2", now)
	l.allow("10.0.0.3", now)

	// All three are idle past two windows by the time the next denial
	// triggers a sweep, so only the new host remains tracked.
	l.allow("10.0.0.4", now.Add(3*time.Minute))
	l.mu.Lock()
	size := len(l.sources)
	l.mu.Unlock()
	if size != 1 {
		t.Fatalf("expected 1 tracked host after sweep, got %d", size)
	}
}

func TestDenialLimiterNilAndEmptyHost(t *testing.T) {
	var l *denialLimiter
	if !l.allow("10.0.0.1", time.Now()) {
		t.Fatal("nil limiter must allow everything")
	}

	l = newDenialLimiter(1, time.Minute, 10)
	now := time.Now()
	if !l.allow("", now) {
		t.Fatal("empty host should be tracked under a shared key")
	}
	if l.allow("", now) {
		t.Fatal("empty hosts share one window")
	}
}
