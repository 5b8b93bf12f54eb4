package ratelimit

import (
	"testing"
	"time"
)

func TestAllowAndRecord(t *testing.T) {
	w := NewWindow(time.Minute, 2)
	if !w.AllowAndRecord("s1") {
		t.Fatal("expected first call allowed")
	}
	if !w.AllowAndRecord("s1") {
		t.Fatal("expected second call allowed")
	}
	if w.AllowAndRecord("s1") {
		t.Fatal("expected third call denied at cap 2")
	}
}

func TestIndependentKeys(t *testing.T) {
	w := NewWindow(time.Minute, 1)
	if !w.AllowAndRecord("global") {
		t.Fatal("expected allowed")
	}
	if !w.AllowAndRecord("server-a") {
		t.Fatal("expected independent key to have its own budget")
	}
}

func TestEviction(t *testing.T) {
	w := NewWindow(20*time.Millisecond, 1)
	if !w.AllowAndRecord("s1") {
		t.Fatal("expected allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if !w.AllowAndRecord("s1") {
		t.Fatal("expected old entry evicted, new call allowed")
	}
}
