// Package sweep runs the periodic probe sweep over every account's targets.
//
// Ticks never overlap: Run executes them synchronously and Tick is serialized,
// so a slow tick delays the next one instead of racing it. A manual ping of
// one account shares a per-account lock with the scheduled sweep, which keeps
// check instants on every target non-decreasing.
package sweep
