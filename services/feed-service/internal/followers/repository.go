package followers

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/feedstream/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// FollowersOf returns the ids of users following userID.
func (r *Repository) FollowersOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT follower_id
		FROM follows
		WHERE followee_id = $1
		ORDER BY follower_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
