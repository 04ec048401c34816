// Package session keeps short-lived login sessions in memory. Sessions are
// not persisted and expire lazily: an expired entry is removed the next time
// it is looked up, or by Prune when its account disappears.
package session
