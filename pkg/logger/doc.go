// Package logger builds the application's slog logger: text output in
// development, JSON in production, with the level taken from configuration.
package logger
