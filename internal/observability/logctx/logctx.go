// Package logctx threads the request-scoped logger through the call stack so
// service code logs with the request id and trace id already attached.
package logctx

import (
	"context"

	"github.com/prontopos/pronto-core/internal/observability"
)

type ctxKey struct{}

// With returns a context carrying logger. A nil logger leaves ctx untouched.
func With(ctx context.Context, logger observability.Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromOr returns the logger stored on ctx, or fallback when none is set.
func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(observability.Logger); ok && logger != nil {
			return logger
		}
	}
	return fallback
}
