package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

const messageColumns = `id, room_key, sender_kind, sender_id, recipient_kind, recipient_id, text,
	created_at, edited_at, read_at, reply_to_id, product_id`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(row pgx.Row, m *model.Message) error {
	var senderKind, recipientKind string
	if err := row.Scan(&m.ID, &m.RoomKey, &senderKind, &m.Sender.ID, &recipientKind, &m.Recipient.ID, &m.Text,
		&m.CreatedAt, &m.EditedAt, &m.ReadAt, &m.ReplyToID, &m.ProductID); err != nil {
		return err
	}
	m.Sender.Kind = model.ParticipantKind(senderKind)
	m.Recipient.Kind = model.ParticipantKind(recipientKind)
	return nil
}

// Append stores the message and its media atomically. ID and CreatedAt are assigned by the database.
func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO messages (room_key, sender_kind, sender_id, recipient_kind, recipient_id, text, reply_to_id, product_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id, created_at`,
			m.RoomKey, string(m.Sender.Kind), m.Sender.ID, string(m.Recipient.Kind), m.Recipient.ID, m.Text, m.ReplyToID, m.ProductID,
		).Scan(&m.ID, &m.CreatedAt); err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return err
		}
		return insertMedia(ctx, tx, m.ID, m.Media)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("msgRepo.Append: %w", err)
	}
	if m.Media == nil {
		m.Media = []model.MediaRef{}
	}
	return nil
}

// insertMedia inserts media rows in one batch and fills their ids in place.
func insertMedia(ctx context.Context, tx pgx.Tx, messageID int64, media []model.MediaRef) error {
	if len(media) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, md := range media {
		batch.Queue(`INSERT INTO message_media (message_id, url, media_type) VALUES ($1, $2, $3) RETURNING id`,
			messageID, md.URL, string(md.Type))
	}
	br := tx.SendBatch(ctx, batch)
	for i := range media {
		if err := br.QueryRow().Scan(&media[i].ID); err != nil {
			br.Close()
			return fmt.Errorf("insert media: %w", err)
		}
	}
	return br.Close()
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	media, err := r.mediaFor(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	m.Media = media[id]
	if m.Media == nil {
		m.Media = []model.MediaRef{}
	}
	return m, nil
}

// ListByRoom returns the thread of a room ordered by creation time ascending, media attached.
// The filter selects the general thread (no product) or one product sub-thread.
func (r *MessageRepository) ListByRoom(ctx context.Context, roomKey string, filter model.ProductFilter) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByRoom", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE room_key = $1 AND product_id IS NOT DISTINCT FROM $2
		 ORDER BY created_at, id`, roomKey, filter.ProductID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 32)
	ids := make([]int64, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByRoom scan: %w", err)
		}
		messages = append(messages, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByRoom rows: %w", err)
	}
	rows.Close()

	media, err := r.mediaFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Media = media[messages[i].ID]
		if messages[i].Media == nil {
			messages[i].Media = []model.MediaRef{}
		}
	}
	return messages, nil
}

func (r *MessageRepository) mediaFor(ctx context.Context, ids []int64) (map[int64][]model.MediaRef, error) {
	out := make(map[int64][]model.MediaRef, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, id, url, media_type FROM message_media WHERE message_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.mediaFor query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageID int64
		var md model.MediaRef
		var mediaType string
		if err := rows.Scan(&messageID, &md.ID, &md.URL, &mediaType); err != nil {
			return nil, fmt.Errorf("msgRepo.mediaFor scan: %w", err)
		}
		md.Type = model.MediaType(mediaType)
		out[messageID] = append(out[messageID], md)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.mediaFor rows: %w", err)
	}
	return out, nil
}

// Previews returns the short form of the given messages keyed by id. Missing ids are skipped.
func (r *MessageRepository) Previews(ctx context.Context, ids []int64) (map[int64]model.ReplyPreview, error) {
	defer logger.DeferLogDuration("msg.Previews", time.Now())()
	out := make(map[int64]model.ReplyPreview, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, sender_kind, sender_id, text FROM messages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Previews query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.ReplyPreview
		var kind string
		if err := rows.Scan(&p.ID, &kind, &p.Sender.ID, &p.Text); err != nil {
			return nil, fmt.Errorf("msgRepo.Previews scan: %w", err)
		}
		p.Sender.Kind = model.ParticipantKind(kind)
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Previews rows: %w", err)
	}
	return out, nil
}

// Edit replaces the text, drops the listed media of the message and appends new media in one transaction.
// It returns the removed media so their blobs can be deleted after commit.
func (r *MessageRepository) Edit(ctx context.Context, id int64, text string, removeMediaIDs []int64, add []model.MediaRef, editedAt time.Time) ([]model.MediaRef, error) {
	defer logger.DeferLogDuration("msg.Edit", time.Now())()
	var removed []model.MediaRef
	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE messages SET text = $2, edited_at = $3 WHERE id = $1`, id, text, editedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if len(removeMediaIDs) > 0 {
			rows, err := tx.Query(ctx,
				`DELETE FROM message_media WHERE message_id = $1 AND id = ANY($2) RETURNING id, url, media_type`,
				id, removeMediaIDs)
			if err != nil {
				return err
			}
			removed, err = collectMedia(rows)
			if err != nil {
				return err
			}
		}
		return insertMedia(ctx, tx, id, add)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Edit: %w", err)
	}
	return removed, nil
}

// Delete removes the message with its reactions and media rows in one transaction, dependents first.
// The message row is locked up front so a concurrent reaction or media insert waits and then
// fails its foreign key instead of breaking the final delete.
// Replies keep existing; their reply_to_id is cleared by the foreign key.
func (r *MessageRepository) Delete(ctx context.Context, id int64) ([]model.MediaRef, error) {
	defer logger.DeferLogDuration("msg.Delete", time.Now())()
	var media []model.MediaRef
	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx, `SELECT id FROM messages WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM message_reactions WHERE message_id = $1`, id); err != nil {
			return fmt.Errorf("reactions: %w", err)
		}
		rows, err := tx.Query(ctx, `DELETE FROM message_media WHERE message_id = $1 RETURNING id, url, media_type`, id)
		if err != nil {
			return fmt.Errorf("media: %w", err)
		}
		if media, err = collectMedia(rows); err != nil {
			return fmt.Errorf("media: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Delete: %w", err)
	}
	return media, nil
}

func collectMedia(rows pgx.Rows) ([]model.MediaRef, error) {
	defer rows.Close()
	var out []model.MediaRef
	for rows.Next() {
		var md model.MediaRef
		var mediaType string
		if err := rows.Scan(&md.ID, &md.URL, &mediaType); err != nil {
			return nil, err
		}
		md.Type = model.MediaType(mediaType)
		out = append(out, md)
	}
	return out, rows.Err()
}

// MarkRead stamps every unread message addressed to recipient in the room and returns how many changed.
// Messages already read keep their original read_at.
func (r *MessageRepository) MarkRead(ctx context.Context, roomKey string, recipient model.ParticipantRef, at time.Time) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET read_at = $4
		 WHERE room_key = $1 AND recipient_kind = $2 AND recipient_id = $3 AND read_at IS NULL`,
		roomKey, string(recipient.Kind), recipient.ID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UnreadCount counts unread messages addressed to recipient; an empty roomKey counts across all rooms.
func (r *MessageRepository) UnreadCount(ctx context.Context, recipient model.ParticipantRef, roomKey string) (int64, error) {
	defer logger.DeferLogDuration("msg.UnreadCount", time.Now())()
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE recipient_kind = $1 AND recipient_id = $2 AND read_at IS NULL
		   AND ($3::text = '' OR room_key = $3)`,
		string(recipient.Kind), recipient.ID, roomKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.UnreadCount: %w", err)
	}
	return n, nil
}
