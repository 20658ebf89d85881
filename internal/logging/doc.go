// Package logging sets up structured logging for attachview.
//
// Logs are JSON lines written through log/slog. Without a file path they go
// to stderr only; with --debug they are also written to
// ~/.attachview/logs/attachview.log with size-based rotation.
package logging
