package sqlite

import (
	"context"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
)

type rememberedDevicesRepo struct {
	db dbtx
}

func (r *rememberedDevicesRepo) CreateRememberedDevice(ctx context.Context, d domain.RememberedDevice) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO remembered_devices (id, user_id, factor, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, string(d.Factor), d.TokenHash, d.ExpiresAt, d.CreatedAt)
	return err
}

func (r *rememberedDevicesRepo) GetRememberedDevice(ctx context.Context, userID string, factor domain.MFAType, tokenHash string) (domain.RememberedDevice, error) {
	var (
		d      domain.RememberedDevice
		factorS string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, factor, token_hash, expires_at, created_at
		FROM remembered_devices
		WHERE user_id = ? AND factor = ? AND token_hash = ? AND expires_at > ?`,
		userID, string(factor), tokenHash, time.Now().UTC()).
		Scan(&d.ID, &d.UserID, &factorS, &d.TokenHash, &d.ExpiresAt, &d.CreatedAt)
	if err != nil {
		return domain.RememberedDevice{}, mapNotFound(err)
	}
	d.Factor = domain.MFAType(factorS)
	return d, nil
}

func (r *rememberedDevicesRepo) DeleteUserRememberedDevices(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM remembered_devices WHERE user_id = ?`, userID)
	return err
}

func (r *rememberedDevicesRepo) DeleteExpiredRememberedDevices(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM remembered_devices WHERE expires_at <= ?`, time.Now().UTC())
	return err
}
