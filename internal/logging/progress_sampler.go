package logging

import "strings"

// ProgressSampler suppresses repetitive playback progress logs, emitting only
// when the item changes or the percentage crosses a bucket boundary.
type ProgressSampler struct {
	bucketSize float64
	lastKey    string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent (default 25).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 25
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress sample for key should be logged.
// Negative percent means unknown and only emits on a key change.
func (s *ProgressSampler) ShouldLog(percent float64, key string) bool {
	if s == nil {
		return true
	}
	key = strings.TrimSpace(key)
	emit := false
	if key != s.lastKey {
		s.lastKey = key
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		if percent > 100 {
			percent = 100
		}
		bucket := int(percent / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastKey = ""
	s.lastBucket = -1
}
