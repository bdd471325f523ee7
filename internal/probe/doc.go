// Package probe provides the built-in iteration processors: the units of
// work a runner executes once per iteration. Each probe returns a
// sched.Result describing the observation, or an error when the check
// failed (which the scheduler contains and reports via the error hooks).
package probe
