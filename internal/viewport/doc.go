// Package viewport decides which mounted feed item is active from the
// visibility ratios reported by the host layout.
//
// Select is a pure function over one batch of samples; Activator keeps the
// latest ratio per mounted item and the current choice between batches.
// Neither has playback side effects.
package viewport
