package services_test

import (
	"errors"
	"fmt"
	"testing"

	"reel/internal/services"
)

type kindedError struct{ kind services.ErrorKind }

func (e kindedError) Error() string                 { return string(e.kind) }
func (e kindedError) ErrorKind() services.ErrorKind { return e.kind }

func TestKindOfWalksChain(t *testing.T) {
	base := kindedError{kind: services.KindMediaStalled}
	wrapped := fmt.Errorf("controller: %w", base)
	if got := services.KindOf(wrapped); got != services.KindMediaStalled {
		t.Fatalf("expected media_stalled, got %q", got)
	}
	if got := services.KindOf(errors.New("plain")); got != services.KindNone {
		t.Fatalf("expected no kind for plain error, got %q", got)
	}
	if got := services.KindOf(nil); got != services.KindNone {
		t.Fatalf("expected no kind for nil, got %q", got)
	}
}
