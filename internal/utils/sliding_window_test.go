package utils

import (
	"testing"
	"time"
)

func TestSlidingWindowAllow(t *testing.T) {
	window := NewSlidingWindow(time.Minute)
	now := time.Now()
	if !window.Allow(now, 2) || !window.Allow(now.Add(time.Second), 2) {
		t.Fatalf("expected the first two hits to pass")
	}
	if window.Allow(now.Add(2*time.Second), 2) {
		t.Fatalf("expected third hit to be refused")
	}
	if !window.Allow(now.Add(61*time.Second), 2) {
		t.Fatalf("expected hit to pass once the window slid")
	}
}

func TestSlidingWindowIdle(t *testing.T) {
	window := NewSlidingWindow(2 * time.Second)
	now := time.Now()
	if !window.Idle(now) {
		t.Fatalf("expected a fresh window to be idle")
	}
	window.Allow(now, 5)
	if window.Idle(now.Add(time.Second)) {
		t.Fatalf("expected recent hit to keep the window busy")
	}
	if !window.Idle(now.Add(3 * time.Second)) {
		t.Fatalf("expected window to be idle after it slid")
	}
}
