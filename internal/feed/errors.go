package feed

import (
	"fmt"

	"reel/internal/services"
)

// FetchError reports a failed page request for Cursor.
type FetchError struct {
	Cursor string
	Err    error
}

func (e *FetchError) Error() string {
	cursor := e.Cursor
	if cursor == "" {
		cursor = "<start>"
	}
	return fmt.Sprintf("feed: fetch page at cursor %s: %v", cursor, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for the engine.
func (e *FetchError) ErrorKind() services.ErrorKind { return services.KindFetchFailed }
