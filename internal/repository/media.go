package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/logger"
)

// MediaRepository answers reference questions about blob URLs across message and comment media.
type MediaRepository struct {
	pool *pgxpool.Pool
}

func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{pool: pool}
}

// InUse returns the subset of urls still attached to some message or comment.
func (r *MediaRepository) InUse(ctx context.Context, urls []string) (map[string]bool, error) {
	defer logger.DeferLogDuration("media.InUse", time.Now())()
	out := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT url FROM message_media WHERE url = ANY($1)
		 UNION
		 SELECT url FROM comment_media WHERE url = ANY($1)`, urls)
	if err != nil {
		return nil, fmt.Errorf("mediaRepo.InUse query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("mediaRepo.InUse scan: %w", err)
		}
		out[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mediaRepo.InUse rows: %w", err)
	}
	return out, nil
}
