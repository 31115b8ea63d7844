package services_test

import (
	"errors"
	"strings"
	"testing"

	"spool/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "catalog", "children", "fetch failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"catalog", "children", "fetch failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransientMarker(t *testing.T) {
	err := services.Wrap(nil, "catalog", "children", "fetch failed", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected default transient marker, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	validationErr := services.Wrap(services.ErrValidation, "transfer", "admit", "bad key", nil)
	if services.IsTransient(validationErr) {
		t.Fatal("validation errors are not transient")
	}

	timeoutErr := services.Wrap(services.ErrTimeout, "catalog", "metadata", "deadline", nil)
	if !services.IsTransient(timeoutErr) {
		t.Fatal("timeouts are transient")
	}

	if !services.IsTransient(errors.New("untagged")) {
		t.Fatal("untagged errors default to transient")
	}
}
