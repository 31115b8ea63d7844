package services

import "context"

type contextKey string

const (
	itemKeyKey   contextKey = "item_key"
	operationKey contextKey = "operation"
	requestIDKey contextKey = "request_id"
)

// WithItemKey annotates context with the media item's global key.
func WithItemKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, itemKeyKey, key)
}

// ItemKeyFromContext extracts the item key if present.
func ItemKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(itemKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithOperation annotates context with the orchestrator operation name.
func WithOperation(ctx context.Context, operation string) context.Context {
	if operation == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey, operation)
}

// OperationFromContext returns the operation name if present.
func OperationFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(operationKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
