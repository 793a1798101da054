package inbox

import (
	"context"

	"github.com/md-rashed-zaman/feedstream/libs/db"
)

// Repository records handled event ids per consumer. Two consumers may see the same event id
// (a fanout message and a notification request share their source event).
type Repository struct {
	pool     *db.Pool
	consumer string
}

func NewRepository(pool *db.Pool, consumer string) *Repository {
	return &Repository{pool: pool, consumer: consumer}
}

func (r *Repository) Seen(ctx context.Context, eventID string) (bool, error) {
	var seen bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM inbox_events WHERE consumer = $1 AND event_id = $2)
	`, r.consumer, eventID).Scan(&seen)
	return seen, err
}

// Record is called after the handler succeeded. A unique violation means another delivery got there first.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
	`, r.consumer, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}
