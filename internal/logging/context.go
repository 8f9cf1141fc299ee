package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	for _, k := range correlationKeys {
		if v := idFromContext(ctx, k); v != "" {
			fields = append(fields, zap.String(string(k), v))
		}
	}
	return fields
}

// idKey is both the context key and the log field name.
type idKey string

const (
	ceremonyInstanceKey    idKey = "ceremony.instance"
	deliberationSessionKey idKey = "deliberation.session"
	channelKey             idKey = "channel.id"
	requestKey             idKey = "request.id"
)

var correlationKeys = []idKey{ceremonyInstanceKey, deliberationSessionKey, channelKey, requestKey}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && utf8.ValidString(id) && idPattern.MatchString(id)
}

// withID stores id under k. IDs arrive from chat traffic and HTTP headers,
// so an invalid one is dropped rather than logged.
func withID(ctx context.Context, k idKey, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, k, id)
}

func idFromContext(ctx context.Context, k idKey) string {
	if v, ok := ctx.Value(k).(string); ok {
		return v
	}
	return ""
}

// WithCeremonyInstance adds a ceremony instance ID to context.
func WithCeremonyInstance(ctx context.Context, instanceID string) context.Context {
	return withID(ctx, ceremonyInstanceKey, instanceID)
}

// CeremonyInstanceFromContext extracts the ceremony instance ID.
func CeremonyInstanceFromContext(ctx context.Context) string {
	return idFromContext(ctx, ceremonyInstanceKey)
}

// WithDeliberationSession adds a council deliberation session ID to context.
func WithDeliberationSession(ctx context.Context, sessionID string) context.Context {
	return withID(ctx, deliberationSessionKey, sessionID)
}

// DeliberationSessionFromContext extracts the deliberation session ID.
func DeliberationSessionFromContext(ctx context.Context) string {
	return idFromContext(ctx, deliberationSessionKey)
}

// WithChannelID adds a chat channel ID to context.
func WithChannelID(ctx context.Context, channelID string) context.Context {
	return withID(ctx, channelKey, channelID)
}

// ChannelIDFromContext extracts the chat channel ID.
func ChannelIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, channelKey)
}

// WithRequestID adds request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withID(ctx, requestKey, requestID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	return idFromContext(ctx, requestKey)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
