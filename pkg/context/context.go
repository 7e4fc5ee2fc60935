package context

import (
	"context"

	"go.uber.org/zap"
)

type ContextKey string

var (
	RequestIDKey      = ContextKey("X-Request-Id")
	MethodKey         = ContextKey("X-Method")
	RouteKey          = ContextKey("X-Route")
	RemoteIPKey       = ContextKey("X-Remote-Ip")
	UserIDKey         = ContextKey("X-User-Id")
	ConversationIDKey = ContextKey("X-Conversation-Id")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

func SetConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

func GetConversationID(ctx context.Context) string {
	return getString(ctx, ConversationIDKey)
}

// Fields returns the request-scoped values present on ctx as log fields.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, key := range []ContextKey{RequestIDKey, UserIDKey, ConversationIDKey} {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, zap.String(fieldName(key), v))
		}
	}
	return fields
}

// FieldMap returns the same values as Fields keyed by field name.
func FieldMap(ctx context.Context) map[string]any {
	fields := map[string]any{}
	for _, key := range []ContextKey{RequestIDKey, UserIDKey, ConversationIDKey} {
		if v := getString(ctx, key); v != "" {
			fields[fieldName(key)] = v
		}
	}
	return fields
}

// Logger decorates logger with the request-scoped fields of ctx.
func Logger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func fieldName(key ContextKey) string {
	switch key {
	case RequestIDKey:
		return "request_id"
	case UserIDKey:
		return "user_id"
	case ConversationIDKey:
		return "conversation_id"
	default:
		return string(key)
	}
}

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}
