package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("PORT", "8090")
	if p, err := Port("PORT", "1"); err != nil || p != "8090" {
		t.Fatalf("expected 8090, got %q (%v)", p, err)
	}
	t.Setenv("PORT", "99999")
	if _, err := Port("PORT", "1"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestIntAndDuration(t *testing.T) {
	t.Setenv("BATCH_SIZE", "")
	if n, err := Int("BATCH_SIZE", 100); err != nil || n != 100 {
		t.Fatalf("expected fallback 100, got %d (%v)", n, err)
	}
	t.Setenv("BATCH_SIZE", "-3")
	if _, err := Int("BATCH_SIZE", 100); err == nil {
		t.Fatal("expected error for negative int")
	}
	t.Setenv("BATCH_TIMEOUT", "45s")
	if d, err := Duration("BATCH_TIMEOUT", time.Second); err != nil || d != 45*time.Second {
		t.Fatalf("expected 45s, got %s (%v)", d, err)
	}
	t.Setenv("BATCH_TIMEOUT", "soon")
	if _, err := Duration("BATCH_TIMEOUT", time.Second); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("FLAG", "off")
	if Bool("FLAG", true) {
		t.Fatal("expected false")
	}
	t.Setenv("FLAG", "maybe")
	if !Bool("FLAG", true) {
		t.Fatal("expected fallback true")
	}
}
