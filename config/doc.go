// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including server settings, sweep and reaper schedules, session lifetime and
// the account storage location.
package config
