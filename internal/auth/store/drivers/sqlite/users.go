package sqlite

import (
	"context"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, email_verified, password_hash, first_name, last_name,
	locale, org, mfa_types, otp_secret, otp_verified, sms_phone_number, sms_verified,
	recovery_code_hash, skip_passkey_enroll, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u        domain.User
		mfaTypes string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.EmailVerified, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Locale, &u.Org, &mfaTypes, &u.OTPSecret, &u.OTPVerified, &u.SMSPhoneNumber,
		&u.SMSVerified, &u.RecoveryCodeHash, &u.SkipPasskeyEnroll, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.MFATypes = splitMFATypes(mfaTypes)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.EmailVerified, u.PasswordHash, u.FirstName, u.LastName,
		u.Locale, u.Org, joinMFATypes(u.MFATypes), u.OTPSecret, u.OTPVerified,
		u.SMSPhoneNumber, u.SMSVerified, u.RecoveryCodeHash, u.SkipPasskeyEnroll,
		u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID string, newHash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		newHash, time.Now().UTC(), userID)
}

func (r *usersRepo) EnrollMFAType(ctx context.Context, userID string, t domain.MFAType) error {
	u, err := r.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.EnrolledIn(t) {
		return nil
	}
	u.MFATypes = append(u.MFATypes, t)
	return r.exec(ctx, `UPDATE users SET mfa_types = ?, updated_at = ? WHERE id = ?`,
		joinMFATypes(u.MFATypes), time.Now().UTC(), userID)
}

func (r *usersRepo) UpdateOTPSecret(ctx context.Context, userID string, secret string) error {
	return r.exec(ctx, `UPDATE users SET otp_secret = ?, otp_verified = 1, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), userID)
}

func (r *usersRepo) UpdateSMSPhoneNumber(ctx context.Context, userID string, phoneNumber string) error {
	return r.exec(ctx, `UPDATE users SET sms_phone_number = ?, sms_verified = 1, updated_at = ? WHERE id = ?`,
		phoneNumber, time.Now().UTC(), userID)
}

func (r *usersRepo) UpdateRecoveryCodeHash(ctx context.Context, userID string, hash string) error {
	return r.exec(ctx, `UPDATE users SET recovery_code_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), userID)
}

func (r *usersRepo) UpdateSkipPasskeyEnroll(ctx context.Context, userID string, skip bool) error {
	return r.exec(ctx, `UPDATE users SET skip_passkey_enroll = ?, updated_at = ? WHERE id = ?`,
		skip, time.Now().UTC(), userID)
}

func (r *usersRepo) MarkEmailVerified(ctx context.Context, userID string) error {
	return r.exec(ctx, `UPDATE users SET email_verified = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), userID)
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return err
}

// exec runs an update that must touch exactly one row, mapping a miss to
// store.ErrNotFound.
func (r *usersRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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
