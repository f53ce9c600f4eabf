package services

import "errors"

// ErrorKind classifies a playback engine failure by its scope.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindFetchFailed      ErrorKind = "fetch_failed"
	KindMediaLoadFailed  ErrorKind = "media_load_failed"
	KindMediaStalled     ErrorKind = "media_stalled"
	KindCacheWriteFailed ErrorKind = "cache_write_failed"
)

// ErrorClassifier is implemented by typed errors that carry an ErrorKind.
type ErrorClassifier interface {
	ErrorKind() ErrorKind
}

// KindOf walks the error chain and returns the first classification found.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return KindNone
}
