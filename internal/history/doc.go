// Package history persists iteration outcomes to SQLite.
//
// The store is optional: with no driver configured Open returns a nil
// handle whose methods report ErrDisabled, and NewRecorder degrades to an
// empty hook set. Rows are pruned per runner to a configurable cap.
package history
