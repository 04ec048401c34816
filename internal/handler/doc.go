// Package handler implements the JSON API over the service layer: account
// registration and login, target management and manual pings.
package handler
