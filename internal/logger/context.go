package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields added to every record logged with the
// enriched context.
type LogFields struct {
	PeerID         *string // active conversation peer
	ConnGeneration *uint64 // socket connection generation
	FrameType      *string
	Component      string // e.g. "chat.session", "websocket.manager"
}

// WithLogFields enriches context with structured log fields.
// Newer non-nil/non-empty values take precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.PeerID != nil {
		result.PeerID = new.PeerID
	}
	if new.ConnGeneration != nil {
		result.ConnGeneration = new.ConnGeneration
	}
	if new.FrameType != nil {
		result.FrameType = new.FrameType
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Used for logging raw frames.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
