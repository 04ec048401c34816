// Package prober performs single bounded HTTP health checks against target
// URLs. A probe never returns an error: transport failures and timeouts are
// folded into the returned outcome.
package prober
