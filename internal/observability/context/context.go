// Package context carries request-scoped correlation values.
package context

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey ctxKey = "obs.request_id"
	actorTypeKey ctxKey = "obs.actor_type"
	actorIDKey   ctxKey = "obs.actor_id"
	ipAddressKey ctxKey = "obs.ip_address"
	userAgentKey ctxKey = "obs.user_agent"
)

const (
	ActorTypeSystem   = "system"
	ActorTypeAccount  = "account"
	ActorTypeProvider = "provider"
	ActorTypeAnon     = "anonymous"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = withString(ctx, actorTypeKey, actorType)
	return withString(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) (string, string) {
	return stringFrom(ctx, actorTypeKey), stringFrom(ctx, actorIDKey)
}

func WithClient(ctx context.Context, ipAddress, userAgent string) context.Context {
	ctx = withString(ctx, ipAddressKey, ipAddress)
	return withString(ctx, userAgentKey, userAgent)
}

func ClientFromContext(ctx context.Context) (ipAddress string, userAgent string) {
	return stringFrom(ctx, ipAddressKey), stringFrom(ctx, userAgentKey)
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
