// Package logger provides structured logging with configurable log levels.
// It wraps log/slog: JSON output in prod, text output elsewhere, and an
// environment attribute on every record. ForRequest derives a logger that
// tags records with the routing request id.
package logger
