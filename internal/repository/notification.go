package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

const notificationColumns = `id, recipient_kind, recipient_id, actor_kind, actor_id, action_type, target_type, target_id,
	parent_type, parent_id, metadata, is_read, created_at`

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func scanNotification(row pgx.Row, n *model.Notification) error {
	var recipientKind, actorKind, action string
	if err := row.Scan(&n.ID, &recipientKind, &n.Recipient.ID, &actorKind, &n.Actor.ID, &action, &n.TargetType, &n.TargetID,
		&n.ParentType, &n.ParentID, &n.Metadata, &n.IsRead, &n.CreatedAt); err != nil {
		return err
	}
	n.Recipient.Kind = model.ParticipantKind(recipientKind)
	n.Actor.Kind = model.ParticipantKind(actorKind)
	n.ActionType = model.ActionType(action)
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	return nil
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notif.Create", time.Now())()
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO notifications (recipient_kind, recipient_id, actor_kind, actor_id, action_type, target_type, target_id,
		                            parent_type, parent_id, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		string(n.Recipient.Kind), n.Recipient.ID, string(n.Actor.Kind), n.Actor.ID, string(n.ActionType), n.TargetType, n.TargetID,
		n.ParentType, n.ParentID, n.Metadata,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notifRepo.Create: %w", err)
	}
	return nil
}

// CreateBatch inserts all notifications with one multi-row statement and fills ID and CreatedAt in place.
func (r *NotificationRepository) CreateBatch(ctx context.Context, ns []*model.Notification) error {
	defer logger.DeferLogDuration("notif.CreateBatch", time.Now())()
	if len(ns) == 0 {
		return nil
	}
	var (
		recipientKinds = make([]string, len(ns))
		recipientIDs   = make([]int64, len(ns))
		actorKinds     = make([]string, len(ns))
		actorIDs       = make([]int64, len(ns))
		actions        = make([]string, len(ns))
		targetTypes    = make([]string, len(ns))
		targetIDs      = make([]int64, len(ns))
		parentTypes    = make([]*string, len(ns))
		parentIDs      = make([]*int64, len(ns))
		metas          = make([]string, len(ns))
	)
	for i, n := range ns {
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		meta, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("notifRepo.CreateBatch metadata: %w", err)
		}
		recipientKinds[i], recipientIDs[i] = string(n.Recipient.Kind), n.Recipient.ID
		actorKinds[i], actorIDs[i] = string(n.Actor.Kind), n.Actor.ID
		actions[i], targetTypes[i], targetIDs[i] = string(n.ActionType), n.TargetType, n.TargetID
		parentTypes[i], parentIDs[i] = n.ParentType, n.ParentID
		metas[i] = string(meta)
	}

	rows, err := r.pool.Query(ctx,
		`INSERT INTO notifications (recipient_kind, recipient_id, actor_kind, actor_id, action_type, target_type, target_id,
		                            parent_type, parent_id, metadata)
		 SELECT rk, rid, ak, aid, act, tt, tid, pt, pid, meta::jsonb
		 FROM unnest($1::text[], $2::bigint[], $3::text[], $4::bigint[], $5::text[], $6::text[], $7::bigint[],
		             $8::text[], $9::bigint[], $10::text[])
		      AS t(rk, rid, ak, aid, act, tt, tid, pt, pid, meta)
		 RETURNING id, recipient_kind, recipient_id, created_at`,
		recipientKinds, recipientIDs, actorKinds, actorIDs, actions, targetTypes, targetIDs, parentTypes, parentIDs, metas,
	)
	if err != nil {
		return fmt.Errorf("notifRepo.CreateBatch query: %w", err)
	}
	defer rows.Close()

	// RETURNING order is not guaranteed; match rows back by recipient, in input order for repeats.
	pending := make(map[string][]*model.Notification, len(ns))
	for _, n := range ns {
		pending[n.Recipient.Key()] = append(pending[n.Recipient.Key()], n)
	}
	for rows.Next() {
		var (
			id        int64
			kind      string
			recipient int64
			createdAt time.Time
		)
		if err := rows.Scan(&id, &kind, &recipient, &createdAt); err != nil {
			return fmt.Errorf("notifRepo.CreateBatch scan: %w", err)
		}
		key := model.ParticipantRef{ID: recipient, Kind: model.ParticipantKind(kind)}.Key()
		queue := pending[key]
		if len(queue) == 0 {
			continue
		}
		queue[0].ID, queue[0].CreatedAt = id, createdAt
		pending[key] = queue[1:]
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("notifRepo.CreateBatch rows: %w", err)
	}
	return nil
}

// List returns the recipient's notifications newest first.
func (r *NotificationRepository) List(ctx context.Context, recipient model.ParticipantRef, limit, offset int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notif.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE recipient_kind = $1 AND recipient_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		string(recipient.Kind), recipient.ID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.List query: %w", err)
	}
	defer rows.Close()

	out := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, fmt.Errorf("notifRepo.List scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.List rows: %w", err)
	}
	return out, nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, recipient model.ParticipantRef) (int64, error) {
	defer logger.DeferLogDuration("notif.UnreadCount", time.Now())()
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_kind = $1 AND recipient_id = $2 AND NOT is_read`,
		string(recipient.Kind), recipient.ID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.UnreadCount: %w", err)
	}
	return n, nil
}

// UnreadCounts returns the unread badge of every recipient in one grouped query. Recipients
// with nothing unread are absent from the map.
func (r *NotificationRepository) UnreadCounts(ctx context.Context, recipients []model.ParticipantRef) (map[string]int64, error) {
	defer logger.DeferLogDuration("notif.UnreadCounts", time.Now())()
	out := make(map[string]int64, len(recipients))
	if len(recipients) == 0 {
		return out, nil
	}
	kinds := make([]string, len(recipients))
	ids := make([]int64, len(recipients))
	for i, rc := range recipients {
		kinds[i], ids[i] = string(rc.Kind), rc.ID
	}
	rows, err := r.pool.Query(ctx,
		`SELECT n.recipient_kind, n.recipient_id, COUNT(*)
		 FROM notifications n
		 JOIN unnest($1::text[], $2::bigint[]) AS t(kind, id)
		   ON n.recipient_kind = t.kind AND n.recipient_id = t.id
		 WHERE NOT n.is_read
		 GROUP BY n.recipient_kind, n.recipient_id`,
		kinds, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("notifRepo.UnreadCounts query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind string
			id   int64
			n    int64
		)
		if err := rows.Scan(&kind, &id, &n); err != nil {
			return nil, fmt.Errorf("notifRepo.UnreadCounts scan: %w", err)
		}
		out[model.ParticipantRef{ID: id, Kind: model.ParticipantKind(kind)}.Key()] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notifRepo.UnreadCounts rows: %w", err)
	}
	return out, nil
}

// MarkRead flips one notification of the recipient to read. Marking a read notification again is a no-op.
func (r *NotificationRepository) MarkRead(ctx context.Context, recipient model.ParticipantRef, id int64) error {
	defer logger.DeferLogDuration("notif.MarkRead", time.Now())()
	var got int64
	err := r.pool.QueryRow(ctx,
		`UPDATE notifications SET is_read = true
		 WHERE id = $1 AND recipient_kind = $2 AND recipient_id = $3
		 RETURNING id`,
		id, string(recipient.Kind), recipient.ID,
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("notifRepo.MarkRead: %w", err)
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipient model.ParticipantRef) (int64, error) {
	defer logger.DeferLogDuration("notif.MarkAllRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET is_read = true WHERE recipient_kind = $1 AND recipient_id = $2 AND NOT is_read`,
		string(recipient.Kind), recipient.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("notifRepo.MarkAllRead: %w", err)
	}
	return tag.RowsAffected(), nil
}
