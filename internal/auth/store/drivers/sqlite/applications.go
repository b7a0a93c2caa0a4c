package sqlite

import (
	"context"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
)

type applicationsRepo struct {
	db dbtx
}

const applicationColumns = `id, client_id, name, redirect_uris, scopes, active,
	require_consent, require_email_mfa, require_sms_mfa, require_otp_mfa,
	allow_email_mfa_fallback, require_passkey_enroll, created_at, updated_at`

func scanApplication(row interface{ Scan(...any) error }) (domain.Application, error) {
	var (
		a            domain.Application
		redirectURIs string
		scopes       string
	)
	err := row.Scan(
		&a.ID, &a.ClientID, &a.Name, &redirectURIs, &scopes, &a.Active,
		&a.RequireConsent, &a.RequireEmailMFA, &a.RequireSMSMFA, &a.RequireOTPMFA,
		&a.AllowEmailMFAFallback, &a.RequirePasskeyEnroll, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Application{}, mapNotFound(err)
	}
	a.RedirectURIs = splitFields(redirectURIs)
	a.Scopes = splitFields(scopes)
	return a, nil
}

func (r *applicationsRepo) GetApplicationByClientID(ctx context.Context, clientID string) (domain.Application, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE client_id = ?`, clientID)
	return scanApplication(row)
}

func (r *applicationsRepo) CreateApplication(ctx context.Context, a domain.Application) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO applications (`+applicationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClientID, a.Name, joinFields(a.RedirectURIs), joinFields(a.Scopes), a.Active,
		a.RequireConsent, a.RequireEmailMFA, a.RequireSMSMFA, a.RequireOTPMFA,
		a.AllowEmailMFAFallback, a.RequirePasskeyEnroll, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *applicationsRepo) ListApplications(ctx context.Context) ([]domain.Application, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func (r *applicationsRepo) SetApplicationActive(ctx context.Context, clientID string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE applications SET active = ?, updated_at = ? WHERE client_id = ?`,
		active, time.Now().UTC(), clientID)
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
