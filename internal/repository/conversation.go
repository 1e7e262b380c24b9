package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/room"
)

// ConversationRepository derives conversation summaries from the message log. Nothing is stored.
type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Latest row per (room_key, product_id) among the messages the participant sent or received.
// Ties on created_at resolve to the highest id. unread counts rows addressed to the participant.
const latestPerRoomSQL = `
WITH mine AS (
	SELECT id, room_key, sender_kind, sender_id, recipient_kind, recipient_id, text, created_at, read_at, product_id
	FROM messages
	WHERE ((sender_kind = $1 AND sender_id = $2) OR (recipient_kind = $1 AND recipient_id = $2))
	  AND %s
), latest AS (
	SELECT room_key, product_id, MAX(created_at) AS last_at,
	       COUNT(*) FILTER (WHERE recipient_kind = $1 AND recipient_id = $2 AND read_at IS NULL) AS unread
	FROM mine
	GROUP BY room_key, product_id
)
SELECT room_key, sender_kind, sender_id, recipient_kind, recipient_id, text, created_at, product_id, unread
FROM (
	SELECT DISTINCT ON (l.room_key, l.product_id)
	       m.room_key, m.sender_kind, m.sender_id, m.recipient_kind, m.recipient_id, m.text, m.created_at, m.product_id, l.unread
	FROM latest l
	JOIN mine m ON m.room_key = l.room_key
	           AND m.product_id IS NOT DISTINCT FROM l.product_id
	           AND m.created_at = l.last_at
	ORDER BY l.room_key, l.product_id, m.id DESC
) s
ORDER BY created_at DESC, room_key`

// Direct lists the participant's general (non-product) conversations, newest first.
func (r *ConversationRepository) Direct(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conv.Direct", time.Now())()
	return r.query(ctx, "conv.Direct", p, fmt.Sprintf(latestPerRoomSQL, "product_id IS NULL"))
}

// Product lists the participant's per-product conversations, one per (room, product), newest first.
func (r *ConversationRepository) Product(ctx context.Context, p model.ParticipantRef) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conv.Product", time.Now())()
	return r.query(ctx, "conv.Product", p, fmt.Sprintf(latestPerRoomSQL, "product_id IS NOT NULL"))
}

// Business lists the general conversations of a business. Rooms whose key carries a product
// segment are excluded even if a row lacks product_id.
func (r *ConversationRepository) Business(ctx context.Context, businessID int64) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conv.Business", time.Now())()
	sql := fmt.Sprintf(latestPerRoomSQL, "product_id IS NULL AND room_key NOT LIKE $3")
	return r.query(ctx, "conv.Business", model.Business(businessID), sql, room.ProductPattern)
}

func (r *ConversationRepository) query(ctx context.Context, op string, me model.ParticipantRef, sql string, extra ...any) ([]model.ConversationSummary, error) {
	args := append([]any{string(me.Kind), me.ID}, extra...)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	out := make([]model.ConversationSummary, 0, 16)
	for rows.Next() {
		var (
			c                     model.ConversationSummary
			senderKind, recipKind string
			senderID, recipID     int64
			unread                int64
		)
		if err := rows.Scan(&c.RoomKey, &senderKind, &senderID, &recipKind, &recipID, &c.LastMessagePreview,
			&c.LastMessageAt, &c.ProductID, &unread); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		sender := model.ParticipantRef{ID: senderID, Kind: model.ParticipantKind(senderKind)}
		recipient := model.ParticipantRef{ID: recipID, Kind: model.ParticipantKind(recipKind)}
		c.Counterpart = recipient
		if recipient == me {
			c.Counterpart = sender
		}
		c.UnreadCount = int(unread)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}
