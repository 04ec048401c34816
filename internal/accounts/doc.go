// Package accounts holds the authoritative in-memory account list.
//
// Locking is two-level: a store-wide RWMutex guards membership (the ordered
// list and the id/name indexes) and each account carries its own mutex for
// its fields and targets. Writers of target fields take the store read lock
// plus the account lock; removal takes the store write lock, so an account
// can never be removed while one of its targets is being written.
//
// Flush snapshots every account under these locks and hands the copy to the
// Storage collaborator. Flushes are serialized with each other.
package accounts
