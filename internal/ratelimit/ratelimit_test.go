package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New()
	base := time.Now()

	for i := 0; i < 3; i++ {
		if !l.allowAt("k", 3, time.Second, base) {
			t.Fatalf("hit %d: expected allow", i)
		}
	}

	if l.allowAt("k", 3, time.Second, base) {
		t.Fatalf("4th hit within window and limit=3: expected deny")
	}
}

func TestAllowAfterWindowElapses(t *testing.T) {
	l := New()
	base := time.Now()

	for i := 0; i < 2; i++ {
		if !l.allowAt("k", 2, time.Second, base) {
			t.Fatalf("hit %d: expected allow", i)
		}
	}
	if l.allowAt("k", 2, time.Second, base) {
		t.Fatalf("3rd hit: expected deny")
	}

	later := base.Add(2 * time.Second)
	if !l.allowAt("k", 2, time.Second, later) {
		t.Fatalf("hit after window elapsed: expected allow")
	}
}

func TestAllowIndependentKeys(t *testing.T) {
	l := New()
	base := time.Now()

	if !l.allowAt("a", 1, time.Second, base) {
		t.Fatalf("key a: expected allow")
	}
	if !l.allowAt("b", 1, time.Second, base) {
		t.Fatalf("key b: expected allow")
	}
	if l.allowAt("a", 1, time.Second, base) {
		t.Fatalf("key a second hit: expected deny")
	}
}
