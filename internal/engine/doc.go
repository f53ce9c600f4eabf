// Package engine composes the feed playback components into one session.
//
// An Engine owns the feed sequencer, the viewport activator, the audio
// unlock flag, one playback controller per mounted item, the content cache,
// and the prefetcher. Every input (visibility batches, gestures, taps, media
// callbacks, readiness timers, progress ticks, page merges) runs as a single
// turn under the engine lock, so activation changes, pauses, and unmutes that
// belong together are applied together. Events raised during a turn are
// delivered to subscribers after the lock is released, in the order they were
// raised, which lets a subscriber call back into the engine.
//
// Blocking work (page fetches, media downloads, progress persistence) runs
// outside the turn.
package engine
