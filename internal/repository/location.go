package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

type LocationRepository struct {
	pool *pgxpool.Pool
}

func NewLocationRepository(pool *pgxpool.Pool) *LocationRepository {
	return &LocationRepository{pool: pool}
}

func (r *LocationRepository) Upsert(ctx context.Context, userID int64, lat, lng float64) error {
	defer logger.DeferLogDuration("location.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_locations (user_id, latitude, longitude, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id) DO UPDATE SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, updated_at = now()`,
		userID, lat, lng,
	)
	if err != nil {
		return fmt.Errorf("locationRepo.Upsert: %w", err)
	}
	return nil
}

// Clear forgets the user's location; the user stops matching proximity alerts.
func (r *LocationRepository) Clear(ctx context.Context, userID int64) error {
	defer logger.DeferLogDuration("location.Clear", time.Now())()
	if _, err := r.pool.Exec(ctx, `DELETE FROM user_locations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("locationRepo.Clear: %w", err)
	}
	return nil
}

// All returns every registered location, including rows with missing coordinates.
func (r *LocationRepository) All(ctx context.Context) ([]model.UserLocation, error) {
	defer logger.DeferLogDuration("location.All", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT user_id, latitude, longitude FROM user_locations`)
	if err != nil {
		return nil, fmt.Errorf("locationRepo.All query: %w", err)
	}
	defer rows.Close()

	out := make([]model.UserLocation, 0, 256)
	for rows.Next() {
		var l model.UserLocation
		if err := rows.Scan(&l.UserID, &l.Latitude, &l.Longitude); err != nil {
			return nil, fmt.Errorf("locationRepo.All scan: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("locationRepo.All rows: %w", err)
	}
	return out, nil
}
