package services_test

import (
	"errors"
	"strings"
	"testing"

	"riskaudit/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrIntegrity, "locator", "resolve", "size mismatch", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrIntegrity) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"locator", "resolve", "size mismatch"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "integrity", err: services.Wrap(services.ErrIntegrity, "a", "b", "c", nil), want: "integrity"},
		{name: "invariant", err: services.Wrap(services.ErrInvariant, "a", "b", "c", nil), want: "invariant"},
		{name: "validation", err: services.Wrap(services.ErrValidation, "a", "b", "c", nil), want: "validation"},
		{name: "not found", err: services.Wrap(services.ErrNotFound, "a", "b", "c", nil), want: "not_found"},
		{name: "plain", err: errors.New("io"), want: "transient"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Kind(tc.err); got != tc.want {
				t.Fatalf("Kind() = %q, want %q", got, tc.want)
			}
		})
	}
}
