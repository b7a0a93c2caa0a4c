package sqlite

import (
	"context"
	"time"
)

type consentsRepo struct {
	db dbtx
}

func (r *consentsRepo) HasConsent(ctx context.Context, userID, appID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consents WHERE user_id = ? AND app_id = ?`,
		userID, appID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *consentsRepo) GrantConsent(ctx context.Context, userID, appID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO consents (user_id, app_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, app_id) DO NOTHING`,
		userID, appID, time.Now().UTC())
	return err
}

func (r *consentsRepo) RevokeConsent(ctx context.Context, userID, appID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM consents WHERE user_id = ? AND app_id = ?`, userID, appID)
	return err
}
