// Package reaper removes accounts that have not authenticated within the
// retention window, then prunes sessions that pointed at them.
package reaper
