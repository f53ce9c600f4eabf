// Package progress persists watch progress in SQLite.
//
// The Store records, per item, the last reported playback position, the
// session that reported it, and whether the item was ever watched to the
// end. It implements engine.ProgressReporter so an engine can write to it
// directly, and backs the `reel progress` commands.
package progress
