package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"rmcloud/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "cloud", "download", "blob fetch failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"cloud", "download", "blob fetch failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutDetailOrMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker by default, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err)
	}
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		"none":          nil,
		"timeout":       services.Wrap(services.ErrTimeout, "cloud", "list", "", nil),
		"unauthorized":  fmt.Errorf("outer: %w", services.Wrap(services.ErrUnauthorized, "cloud", "token", "", nil)),
		"not_found":     services.ErrNotFound,
		"external_tool": services.Wrap(services.ErrExternalTool, "convert", "run", "", nil),
		"transient":     errors.New("plain"),
	}
	for want, err := range cases {
		if got := services.Kind(err); got != want {
			t.Errorf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
