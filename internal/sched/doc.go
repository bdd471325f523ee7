// Package sched implements the recurring-iteration core of pulsemon.
//
// # Overview
//
// A Scheduler repeatedly invokes a Processor ("run this check every N
// seconds, up to M times") and surrounds every phase with observer hooks.
// Each lifecycle event (start, pause, stop, iteration-start,
// iteration-completed, error) carries two ordered hook lists: a synchronous
// one (plain callbacks, no suspension) and an asynchronous one (callbacks
// that take a context and may block). For every event the synchronous list
// runs to completion, in registration order, before the asynchronous list
// begins; both short-circuit on the first failing callback.
//
// # Lifecycle
//
// Start sets the running flag, runs the start hooks (their errors propagate
// to the caller and the loop never begins), obtains a fresh Processor from
// the factory and drives the loop until the iteration budget is exhausted or
// the running flag is cleared. Pause clears the flag and preserves the
// iteration ordinal so a later Start resumes where it left off. Stop clears
// the flag and resets the ordinal to 1. Pause and stop are cooperative: the
// loop observes the flag at its next iteration boundary, so shutdown latency
// is bounded by one iteration plus one delay.
//
// # Error containment
//
// A failure anywhere inside a loop pass (a phase hook or the processor,
// including panics) never terminates the loop. The failure is handed to the
// error hooks; if those fail too, the secondary failure is discarded (or
// routed to Schedule.DroppedError when set) so a misbehaving error hook can
// never kill the loop. A failed pass does not advance the ordinal: the same
// iteration is retried after the configured delay, indefinitely, for as long
// as the scheduler stays running. Errors from start/pause/stop hooks are NOT
// contained; they propagate to the caller of the transition.
package sched
