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

// ProfileRepository reads display fields owned by the user, business and product domains.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Profiles returns display profiles keyed by ParticipantRef.Key(). Unknown refs are absent from the map.
func (r *ProfileRepository) Profiles(ctx context.Context, refs []model.ParticipantRef) (map[string]model.Profile, error) {
	defer logger.DeferLogDuration("profile.Profiles", time.Now())()
	out := make(map[string]model.Profile, len(refs))
	var users, businesses []int64
	for _, ref := range refs {
		switch ref.Kind {
		case model.KindUser:
			users = append(users, ref.ID)
		case model.KindBusiness:
			businesses = append(businesses, ref.ID)
		}
	}
	load := func(sql string, ids []int64, kind model.ParticipantKind) error {
		if len(ids) == 0 {
			return nil
		}
		rows, err := r.pool.Query(ctx, sql, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p := model.Profile{Ref: model.ParticipantRef{Kind: kind}}
			if err := rows.Scan(&p.Ref.ID, &p.Name, &p.AvatarURL); err != nil {
				return err
			}
			out[p.Ref.Key()] = p
		}
		return rows.Err()
	}
	if err := load(`SELECT id, name, avatar_url FROM users WHERE id = ANY($1)`, users, model.KindUser); err != nil {
		return nil, fmt.Errorf("profileRepo.Profiles users: %w", err)
	}
	if err := load(`SELECT id, name, logo_url FROM businesses WHERE id = ANY($1)`, businesses, model.KindBusiness); err != nil {
		return nil, fmt.Errorf("profileRepo.Profiles businesses: %w", err)
	}
	return out, nil
}

func (r *ProfileRepository) Product(ctx context.Context, id int64) (*model.ProductInfo, error) {
	defer logger.DeferLogDuration("profile.Product", time.Now())()
	p := &model.ProductInfo{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, business_id, title, thumbnail_url FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.BusinessID, &p.Title, &p.ThumbnailURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profileRepo.Product: %w", err)
	}
	return p, nil
}

func (r *ProfileRepository) Products(ctx context.Context, ids []int64) (map[int64]model.ProductInfo, error) {
	defer logger.DeferLogDuration("profile.Products", time.Now())()
	out := make(map[int64]model.ProductInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, business_id, title, thumbnail_url FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.Products query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p model.ProductInfo
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.Title, &p.ThumbnailURL); err != nil {
			return nil, fmt.Errorf("profileRepo.Products scan: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profileRepo.Products rows: %w", err)
	}
	return out, nil
}
