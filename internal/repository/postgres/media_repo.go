package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/chatsync/internal/domain"
)

type MediaRepo struct {
	pool *pgxpool.Pool
}

func (r *MediaRepo) Put(ctx context.Context, obj *domain.MediaObject) error {
	query := `
		INSERT INTO media (key, content_type, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET content_type = EXCLUDED.content_type, data = EXCLUDED.data`
	_, err := r.pool.Exec(ctx, query, obj.Key, obj.ContentType, obj.Data, obj.CreatedAt)
	return err
}

func (r *MediaRepo) Get(ctx context.Context, key string) (*domain.MediaObject, error) {
	var obj domain.MediaObject
	err := r.pool.QueryRow(ctx,
		"SELECT key, content_type, data, created_at FROM media WHERE key = $1", key,
	).Scan(&obj.Key, &obj.ContentType, &obj.Data, &obj.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &obj, err
}
