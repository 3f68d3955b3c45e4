package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskaudit/internal/services"
)

func TestCountyLockTimesOutWhileHeld(t *testing.T) {
	locks, err := newCountyLocks(t.TempDir(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("newCountyLocks: %v", err)
	}
	release, err := locks.acquire(context.Background(), 3, 1, 3)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := locks.acquire(context.Background(), 1); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected busy county, got %v", err)
	}
	other, err := locks.acquire(context.Background(), 2)
	if err != nil {
		t.Fatalf("unrelated county should lock: %v", err)
	}
	other()

	release()
	again, err := locks.acquire(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestCountyLockExcludesSecondHandle(t *testing.T) {
	dir := t.TempDir()
	first, err := newCountyLocks(dir, time.Second)
	if err != nil {
		t.Fatalf("newCountyLocks: %v", err)
	}
	second, err := newCountyLocks(dir, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("newCountyLocks: %v", err)
	}
	release, err := first.acquire(context.Background(), 7)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if _, err := second.acquire(context.Background(), 7); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("file lock should exclude a second handle, got %v", err)
	}
}
