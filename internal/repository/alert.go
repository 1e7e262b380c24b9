package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

func (r *AlertRepository) Create(ctx context.Context, a *model.Alert) error {
	defer logger.DeferLogDuration("alert.Create", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO alerts (author_id, title, body, latitude, longitude)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		a.AuthorID, a.Title, a.Body, a.Latitude, a.Longitude,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("alertRepo.Create: %w", err)
	}
	return nil
}
