// Package playback drives one feed item's media element through its
// lifecycle: load, muted autoplay, unmute on gesture unlock, pause, replay
// after completion, and terminal failure.
//
// The lifecycle is a tagged state machine. Transition is the pure table; a
// Controller applies it to a live Element and performs the side effects for
// each step. Controllers are not safe for concurrent use: the engine runs
// every input, timer callbacks included, inside its single turn.
package playback
