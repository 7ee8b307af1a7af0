package llm

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

type contextKey string

const llmContextKey contextKey = "llm_context"

// WithContext attaches logging fields (request id, operation) to ctx. Values
// merge with any already present.
func WithContext(ctx context.Context, values map[string]string) context.Context {
	merged := GetContext(ctx)
	if merged == nil {
		merged = make(map[string]string, len(values))
	}
	for k, v := range values {
		merged[k] = v
	}
	return context.WithValue(ctx, llmContextKey, merged)
}

// GetContext returns a copy of the attached values, or nil.
func GetContext(ctx context.Context) map[string]string {
	c, ok := ctx.Value(llmContextKey).(map[string]string)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ContextFields renders the attached values as zap fields in key order.
func ContextFields(ctx context.Context) []zap.Field {
	values := GetContext(ctx)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.String(k, values[k]))
	}
	return fields
}
