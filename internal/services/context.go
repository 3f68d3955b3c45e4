package services

import "context"

type contextKey string

const (
	countyIDKey  contextKey = "county_id"
	contestKey   contextKey = "contest"
	requestIDKey contextKey = "request_id"
)

// WithCountyID annotates context with the county identifier.
func WithCountyID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, countyIDKey, id)
}

// CountyIDFromContext extracts the county identifier if present.
func CountyIDFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(countyIDKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithContest annotates context with a contest name.
func WithContest(ctx context.Context, contest string) context.Context {
	if contest == "" {
		return ctx
	}
	return context.WithValue(ctx, contestKey, contest)
}

// ContestFromContext returns the contest name if present.
func ContestFromContext(ctx context.Context) (string, bool) {
	if str, ok := ctx.Value(contestKey).(string); ok && str != "" {
		return str, true
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
