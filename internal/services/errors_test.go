package services_test

import (
	"errors"
	"strings"
	"testing"

	"reel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "feed", "fetch_page", "status 502", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"feed", "fetch_page", "status 502"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestRetryableMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", services.Wrap(services.ErrValidation, "feed", "decode", "bad cursor", nil), false},
		{"not found", services.Wrap(services.ErrNotFound, "feed", "fetch_page", "404", nil), false},
		{"timeout", services.Wrap(services.ErrTimeout, "feed", "fetch_page", "", errors.New("deadline")), true},
		{"external", services.Wrap(services.ErrExternal, "prefetch", "get", "503", nil), true},
		{"plain", errors.New("io"), true},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Fatalf("%s: Retryable=%v want %v", tc.name, got, tc.want)
		}
	}
}
