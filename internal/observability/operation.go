// Package observability tags engine operations with ids for structured logs
// and keeps per-operation counters.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldOperationID is the field name for the operation id.
	LogFieldOperationID = "op_id"
	// LogFieldOperation is the field name for the operation name.
	LogFieldOperation = "op"
	// LogFieldPersonaID is the field name for the active persona.
	LogFieldPersonaID = "persona_id"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
)

// OperationContext carries the identity of one engine operation.
type OperationContext struct {
	OperationID string
	Operation   string
	PersonaID   string
	StartTime   time.Time
	Logger      *slog.Logger
}

// NewOperationContext creates an operation context with a generated id.
func NewOperationContext(logger *slog.Logger, operation, personaID string) *OperationContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationContext{
		OperationID: uuid.NewString(),
		Operation:   operation,
		PersonaID:   personaID,
		StartTime:   time.Now(),
		Logger:      logger,
	}
}

// With returns a logger carrying the operation fields.
func (o *OperationContext) With(attrs ...slog.Attr) *slog.Logger {
	args := make([]any, 0, len(attrs)+3)
	for _, a := range o.baseAttrs(attrs...) {
		args = append(args, a)
	}
	return o.Logger.With(args...)
}

// Debug logs a debug message.
func (o *OperationContext) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	o.Logger.LogAttrs(ctx, slog.LevelDebug, msg, o.baseAttrs(attrs...)...)
}

// Info logs an info message.
func (o *OperationContext) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	o.Logger.LogAttrs(ctx, slog.LevelInfo, msg, o.baseAttrs(attrs...)...)
}

// Warn logs a warning message.
func (o *OperationContext) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	o.Logger.LogAttrs(ctx, slog.LevelWarn, msg, o.baseAttrs(attrs...)...)
}

// Error logs an error message with the error.
func (o *OperationContext) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("error", err.Error()))
	o.Logger.LogAttrs(ctx, slog.LevelError, msg, o.baseAttrs(attrs...)...)
}

// Duration returns the elapsed time since the operation started.
func (o *OperationContext) Duration() time.Duration {
	return time.Since(o.StartTime)
}

// Finish logs the outcome of the operation at debug level, or at warn level
// when err is non-nil, and records it in m when m is non-nil.
func (o *OperationContext) Finish(ctx context.Context, m *Counters, err error) {
	d := o.Duration()
	if m != nil {
		m.Record(o.Operation, d, err)
	}
	attrs := []slog.Attr{slog.Int64(LogFieldDuration, d.Milliseconds())}
	if err != nil {
		o.Warn(ctx, "operation failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	o.Debug(ctx, "operation completed", attrs...)
}

func (o *OperationContext) baseAttrs(attrs ...slog.Attr) []slog.Attr {
	base := []slog.Attr{
		slog.String(LogFieldOperationID, o.OperationID),
		slog.String(LogFieldOperation, o.Operation),
	}
	if o.PersonaID != "" {
		base = append(base, slog.String(LogFieldPersonaID, o.PersonaID))
	}
	return append(base, attrs...)
}

type ctxKey struct{}

// WithOperation adds the operation context to ctx.
func WithOperation(ctx context.Context, op *OperationContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, op)
}

// FromContext extracts the operation context from ctx.
func FromContext(ctx context.Context) (*OperationContext, bool) {
	op, ok := ctx.Value(ctxKey{}).(*OperationContext)
	return op, ok
}
