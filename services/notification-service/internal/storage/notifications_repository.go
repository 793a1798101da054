package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/feedstream/libs/db"
)

type Notification struct {
	EventID       string
	TargetUserID  string
	ActorUserID   string
	Type          string
	ReferenceID   string
	ReferenceType string
	Data          map[string]any
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores the notifications in one round trip. A redelivered (event, target) pair is skipped.
// It returns how many rows were new.
func (r *Repository) Insert(ctx context.Context, ns []Notification) (int, error) {
	if len(ns) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, n := range ns {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return 0, err
		}
		batch.Queue(`
			INSERT INTO notifications (id, event_id, target_user_id, actor_user_id, type, reference_id, reference_type, data, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (event_id, target_user_id) DO NOTHING
		`, uuid.New(), n.EventID, n.TargetUserID, n.ActorUserID, n.Type, n.ReferenceID, n.ReferenceType, data, n.CreatedAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	inserted := 0
	for range ns {
		tag, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
