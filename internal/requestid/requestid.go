// Package requestid carries the per-request identifier through contexts.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the header the identifier is echoed in
const Header = "X-Request-ID"

type contextKey string

const key contextKey = "request_id"

// New generates a fresh request identifier
func New() string {
	return uuid.New().String()
}

// WithID returns a copy of ctx carrying id
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key, id)
}

// FromContext returns the identifier stored in ctx.
// Returns an empty string if none is set.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(key).(string); ok {
		return id
	}
	return ""
}
