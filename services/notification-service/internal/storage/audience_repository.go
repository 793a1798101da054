package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/feedstream/libs/db"
)

// AudienceRepository resolves who hears about an action: content owners (a projection fed from
// fanout messages) and followers.
type AudienceRepository struct {
	pool *db.Pool
}

func NewAudienceRepository(pool *db.Pool) *AudienceRepository {
	return &AudienceRepository{pool: pool}
}

func (r *AudienceRepository) SetOwner(ctx context.Context, referenceID, referenceType, ownerID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO content_owners (reference_id, reference_type, owner_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (reference_id, reference_type) DO UPDATE SET owner_id = EXCLUDED.owner_id
	`, referenceID, referenceType, ownerID)
	return err
}

func (r *AudienceRepository) DeleteOwner(ctx context.Context, referenceID, referenceType string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM content_owners WHERE reference_id = $1 AND reference_type = $2
	`, referenceID, referenceType)
	return err
}

func (r *AudienceRepository) OwnerOf(ctx context.Context, referenceID, referenceType string) (string, bool, error) {
	var owner string
	err := r.pool.QueryRow(ctx, `
		SELECT owner_id FROM content_owners WHERE reference_id = $1 AND reference_type = $2
	`, referenceID, referenceType).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return owner, true, nil
}

// FollowersOf returns the ids of users following userID.
func (r *AudienceRepository) FollowersOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT follower_id FROM follows WHERE followee_id = $1 ORDER BY follower_id
	`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
