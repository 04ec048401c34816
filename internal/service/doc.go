// Package service implements the account-facing operations: registration,
// login and logout, target management, manual pings and session resolution.
// Every mutating operation flushes the account store.
package service
