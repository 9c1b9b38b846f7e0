// Package logging defines the structured logger the passkeeper server logs
// through. SlogLogger backs it with log/slog.
package logging

import "context"

// Logger takes a message plus alternating key/value args:
//
//	logger.Info(ctx, "code issued", "user_id", id, "purpose", purpose)
//
// Secrets and one-time codes are never passed as args.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying args on every record.
	With(args ...any) Logger
}
