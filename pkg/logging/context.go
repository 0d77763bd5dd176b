package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	jobIDKey
)

// ContextWithCorrelationID stores a correlation id, generating one when id is empty
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id stored in ctx, if any
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ContextWithJobID stores the publish job id
func ContextWithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobID returns the job id stored in ctx, if any
func JobID(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}

// Ctx returns the global logger enriched with the ids carried by ctx
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if ctx == nil {
		return &l
	}
	c := l.With()
	if id := CorrelationID(ctx); id != "" {
		c = c.Str("correlation_id", id)
	}
	if id := JobID(ctx); id != "" {
		c = c.Str("job_id", id)
	}
	l = c.Logger()
	return &l
}
