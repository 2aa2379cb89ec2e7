// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	jobIDKey     ctxKey = "job_id"
)

func withValue(ctx context.Context, key ctxKey, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, id)
}

func valueFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID tags ctx with the request correlation ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithJobID tags ctx with the executing job's ID.
func ContextWithJobID(ctx context.Context, id string) context.Context {
	return withValue(ctx, jobIDKey, id)
}

// RequestIDFromContext returns the request ID carried by ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, requestIDKey)
}

// JobIDFromContext returns the job ID carried by ctx, or "".
func JobIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, jobIDKey)
}

// WithContext copies the correlation IDs present in ctx onto logger, so
// entries from deep call sites still join up with their request or job.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	pairs := [...]struct{ field, value string }{
		{FieldRequestID, RequestIDFromContext(ctx)},
		{FieldJobID, JobIDFromContext(ctx)},
	}
	builder := logger.With()
	tagged := false
	for _, p := range pairs {
		if p.value != "" {
			builder = builder.Str(p.field, p.value)
			tagged = true
		}
	}
	if !tagged {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext is WithComponent plus the correlation fields
// from ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}

// FromContext returns the logger ctx carries via zerolog.Ctx, or the
// process logger when ctx carries none.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	l := Base()
	return &l
}
