package sqlite

import (
	"context"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
)

type passkeysRepo struct {
	db dbtx
}

const passkeyColumns = `id, user_id, credential_id, public_key, counter, transports, created_at, updated_at`

func scanPasskey(row interface{ Scan(...any) error }) (domain.Passkey, error) {
	var (
		p          domain.Passkey
		transports string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.CredentialID, &p.PublicKey, &p.Counter,
		&transports, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Passkey{}, mapNotFound(err)
	}
	p.Transports = splitFields(transports)
	return p, nil
}

func (r *passkeysRepo) CreatePasskey(ctx context.Context, p domain.Passkey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO passkeys (`+passkeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CredentialID, p.PublicKey, p.Counter,
		joinFields(p.Transports), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *passkeysRepo) GetPasskeyByCredentialID(ctx context.Context, credentialID string) (domain.Passkey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkeys WHERE credential_id = ?`, credentialID)
	return scanPasskey(row)
}

func (r *passkeysRepo) ListUserPasskeys(ctx context.Context, userID string) ([]domain.Passkey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkeys WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.Passkey
	for rows.Next() {
		p, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, p)
	}
	return keys, rows.Err()
}

func (r *passkeysRepo) CountUserPasskeys(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passkeys WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

func (r *passkeysRepo) UpdatePasskeyCounter(ctx context.Context, credentialID string, counter uint32) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE passkeys SET counter = ?, updated_at = ? WHERE credential_id = ?`,
		counter, time.Now().UTC(), credentialID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *passkeysRepo) DeletePasskey(ctx context.Context, credentialID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM passkeys WHERE credential_id = ?`, credentialID)
	return err
}
