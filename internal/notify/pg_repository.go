package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGRepository struct{ DB *pgxpool.Pool }

func (r *PGRepository) Save(ctx context.Context, eventID string, n Notification) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO notifications(id, event_id, user_id, title, message, type, order_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (event_id) DO NOTHING`,
		uuid.NewString(), eventID, n.UserID, n.Title, n.Message, string(n.Type), n.OrderID, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
