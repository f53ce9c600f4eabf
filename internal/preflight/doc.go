// Package preflight provides readiness checks for the services and
// filesystem paths reel depends on.
//
// The CLI "reel doctor" command runs RunAll and renders one status line per
// check. "reel serve" runs the same checks before binding and logs failures
// as warnings; a failed check never blocks startup because the engine
// degrades on its own (fetch failures, cache disabled).
//
// Checks are gated by config: a disabled cache is reported as skipped.
package preflight
