// Package model defines the account, target and probe outcome types shared by
// the store, the sweep scheduler and the reaper.
package model
