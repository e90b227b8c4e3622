package utils

import (
	"context"

	"bitbucket.org/mmdatafocus/premium_ledger/appctx"
	"github.com/google/uuid"
)

var (
	ContextKeyActorId       = appctx.ContextKeyActorId
	ContextKeyActorName     = appctx.ContextKeyActorName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyTrigger       = appctx.ContextKeyTrigger
)

// SystemActor is recorded when a scheduled trigger runs without a human actor.
const SystemActor = "system"

func GetActorIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorId)
}

func SetActorIdInContext(ctx context.Context, actorId string) context.Context {
	return appctx.Set(ctx, ContextKeyActorId, actorId)
}

func GetActorNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyActorName)
}

func SetActorNameInContext(ctx context.Context, name string) context.Context {
	return appctx.Set(ctx, ContextKeyActorName, name)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetTriggerFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTrigger)
}

func SetTriggerInContext(ctx context.Context, trigger string) context.Context {
	return appctx.Set(ctx, ContextKeyTrigger, trigger)
}

// EnsureCorrelationId attaches a fresh id when the caller did not provide one.
func EnsureCorrelationId(ctx context.Context) (context.Context, string) {
	if id, ok := GetCorrelationIdFromContext(ctx); ok && id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetCorrelationIdInContext(ctx, id), id
}

// ActorOrSystem prefers an explicit actor, then the context actor, then SystemActor.
func ActorOrSystem(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id, ok := GetActorIdFromContext(ctx); ok && id != "" {
		return id
	}
	return SystemActor
}
