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

type CommentRepository struct {
	pool *pgxpool.Pool
}

func NewCommentRepository(pool *pgxpool.Pool) *CommentRepository {
	return &CommentRepository{pool: pool}
}

// Get returns the comment node and the post it belongs to.
func (r *CommentRepository) Get(ctx context.Context, id int64) (model.CommentNode, int64, error) {
	defer logger.DeferLogDuration("comment.Get", time.Now())()
	var (
		n      model.CommentNode
		postID int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, parent_id, author_id, post_id FROM comments WHERE id = $1`, id,
	).Scan(&n.ID, &n.ParentID, &n.AuthorID, &postID)
	if errors.Is(err, pgx.ErrNoRows) {
		return n, 0, ErrNotFound
	}
	if err != nil {
		return n, 0, fmt.Errorf("commentRepo.Get: %w", err)
	}
	return n, postID, nil
}

// Nodes returns the adjacency list of every comment on the post.
func (r *CommentRepository) Nodes(ctx context.Context, postID int64) ([]model.CommentNode, error) {
	defer logger.DeferLogDuration("comment.Nodes", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, parent_id, author_id FROM comments WHERE post_id = $1 ORDER BY id`, postID)
	if err != nil {
		return nil, fmt.Errorf("commentRepo.Nodes query: %w", err)
	}
	defer rows.Close()

	out := make([]model.CommentNode, 0, 32)
	for rows.Next() {
		var n model.CommentNode
		if err := rows.Scan(&n.ID, &n.ParentID, &n.AuthorID); err != nil {
			return nil, fmt.Errorf("commentRepo.Nodes scan: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commentRepo.Nodes rows: %w", err)
	}
	return out, nil
}

// DeleteTree deletes the media of all given comments, then the comments level by level,
// deepest level first, in one transaction. levels[0] holds the root.
func (r *CommentRepository) DeleteTree(ctx context.Context, levels [][]int64) ([]model.MediaRef, error) {
	defer logger.DeferLogDuration("comment.DeleteTree", time.Now())()
	var all []int64
	for _, lvl := range levels {
		all = append(all, lvl...)
	}
	if len(all) == 0 {
		return nil, nil
	}
	var media []model.MediaRef
	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`DELETE FROM comment_media WHERE comment_id = ANY($1) RETURNING id, url, media_type`, all)
		if err != nil {
			return fmt.Errorf("media: %w", err)
		}
		if media, err = collectMedia(rows); err != nil {
			return fmt.Errorf("media: %w", err)
		}
		for i := len(levels) - 1; i >= 0; i-- {
			if len(levels[i]) == 0 {
				continue
			}
			if _, err := tx.Exec(ctx, `DELETE FROM comments WHERE id = ANY($1)`, levels[i]); err != nil {
				return fmt.Errorf("comments level %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commentRepo.DeleteTree: %w", err)
	}
	return media, nil
}
