package playback

import (
	"errors"
	"fmt"

	"reel/internal/services"
)

// ErrStalled is wrapped by MediaError when the element never became ready.
var ErrStalled = errors.New("media element did not become ready")

// MediaError is the failure that moved an item to Error.
type MediaError struct {
	ItemID string
	Kind   services.ErrorKind
	Err    error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("playback %s: %s: %v", e.ItemID, e.Kind, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for the engine.
func (e *MediaError) ErrorKind() services.ErrorKind { return e.Kind }
