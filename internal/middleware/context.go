package middleware

import (
	"context"

	"github.com/localhub/internal/model"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor кладёт вызывающего участника в контекст.
func WithActor(ctx context.Context, ref model.ParticipantRef) context.Context {
	return context.WithValue(ctx, actorKey, ref)
}

// Actor возвращает участника из контекста (устанавливается AuthServiceValidate или TrustedActorHeaders).
func Actor(ctx context.Context) (model.ParticipantRef, bool) {
	v, ok := ctx.Value(actorKey).(model.ParticipantRef)
	return v, ok && v.Valid()
}
