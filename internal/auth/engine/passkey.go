package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
	"github.com/CrazyForks/melody-auth/pkg/idx"
)

const passkeyChallengeTTL = 5 * time.Minute

// PasskeyService implements WebAuthn credential enrollment and assertion.
// Challenges are single-use and KV-bound: enrollment challenges key off the
// session id, sign-in challenges key off the email so they can be issued
// before any session credential is proven.
type PasskeyService struct {
	Store    store.Store
	KV       kv.Store
	WebAuthn *webauthn.WebAuthn
}

// webauthnUser adapts a user record and its stored credentials to the
// webauthn library's user contract.
type webauthnUser struct {
	user     *domain.User
	passkeys []domain.Passkey
}

func (u *webauthnUser) WebAuthnID() []byte          { return []byte(u.user.ID) }
func (u *webauthnUser) WebAuthnName() string        { return u.user.Email }
func (u *webauthnUser) WebAuthnDisplayName() string { return u.user.Email }
func (u *webauthnUser) WebAuthnIcon() string        { return "" }

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.passkeys))
	for _, p := range u.passkeys {
		rawID, err := base64.RawURLEncoding.DecodeString(p.CredentialID)
		if err != nil {
			continue
		}
		transports := make([]protocol.AuthenticatorTransport, 0, len(p.Transports))
		for _, t := range p.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		creds = append(creds, webauthn.Credential{
			ID:        rawID,
			PublicKey: p.PublicKey,
			Transport: transports,
			Authenticator: webauthn.Authenticator{
				SignCount: p.Counter,
			},
		})
	}
	return creds
}

// BeginEnroll starts credential registration for the session's user and
// returns the creation options for the browser.
func (s *PasskeyService) BeginEnroll(ctx context.Context, sessionID string, user *domain.User) (*protocol.CredentialCreation, error) {
	passkeys, err := s.Store.Passkeys().ListUserPasskeys(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}

	options, sessionData, err := s.WebAuthn.BeginRegistration(&webauthnUser{user: user, passkeys: passkeys})
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	if err := s.storeChallenge(ctx, kv.PasskeyEnrollChallengeKey(sessionID), sessionData); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishEnroll validates the browser's attestation response and stores the
// new credential. The challenge is consumed regardless of outcome.
func (s *PasskeyService) FinishEnroll(ctx context.Context, sessionID string, user *domain.User, response io.Reader) error {
	sessionData, err := s.loadChallenge(ctx, kv.PasskeyEnrollChallengeKey(sessionID))
	if err != nil {
		return err
	}
	defer func() { _ = s.KV.Delete(ctx, kv.PasskeyEnrollChallengeKey(sessionID)) }()

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPasskeyChallengeMismatch, err)
	}

	cred, err := s.WebAuthn.CreateCredential(&webauthnUser{user: user}, sessionData, parsed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPasskeyChallengeMismatch, err)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	now := time.Now().UTC()
	err = s.Store.Passkeys().CreatePasskey(ctx, domain.Passkey{
		ID:           idx.New().String(),
		UserID:       user.ID,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:    cred.PublicKey,
		Counter:      cred.Authenticator.SignCount,
		Transports:   transports,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("store passkey: %w", err)
	}
	return nil
}

// DeclineEnroll records the user's choice to skip enrollment. With
// remember set, the prompt never reappears for this user.
func (s *PasskeyService) DeclineEnroll(ctx context.Context, user *domain.User, remember bool) error {
	if !remember {
		return nil
	}
	if err := s.Store.Users().UpdateSkipPasskeyEnroll(ctx, user.ID, true); err != nil {
		return fmt.Errorf("record decline: %w", err)
	}
	user.SkipPasskeyEnroll = true
	return nil
}

// BeginVerify starts a passkey assertion for the given email. The email is
// only a credential locator here; nothing is revealed that the browser
// could not learn by attempting a sign-in.
func (s *PasskeyService) BeginVerify(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoPasskey
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	passkeys, err := s.Store.Passkeys().ListUserPasskeys(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	if len(passkeys) == 0 {
		return nil, ErrNoPasskey
	}

	options, sessionData, err := s.WebAuthn.BeginLogin(&webauthnUser{user: &user, passkeys: passkeys})
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}

	if err := s.storeChallenge(ctx, kv.PasskeyVerifyChallengeKey(email), sessionData); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishVerify validates the browser's assertion, enforces a strictly
// increasing signature counter and returns the authenticated user. The
// counter read and update happen in one transaction so two concurrent
// assertions with the same counter cannot both pass.
func (s *PasskeyService) FinishVerify(ctx context.Context, email string, response io.Reader) (domain.User, error) {
	sessionData, err := s.loadChallenge(ctx, kv.PasskeyVerifyChallengeKey(email))
	if err != nil {
		return domain.User{}, err
	}
	defer func() { _ = s.KV.Delete(ctx, kv.PasskeyVerifyChallengeKey(email)) }()

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrNoPasskey
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrPasskeyChallengeMismatch, err)
	}

	passkeys, err := s.Store.Passkeys().ListUserPasskeys(ctx, user.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("list passkeys: %w", err)
	}

	if _, err := s.WebAuthn.ValidateLogin(&webauthnUser{user: &user, passkeys: passkeys}, sessionData, parsed); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrPasskeyChallengeMismatch, err)
	}

	credentialID := base64.RawURLEncoding.EncodeToString(parsed.RawID)
	if err := s.enforceCounter(ctx, credentialID, parsed.Response.AuthenticatorData.Counter); err != nil {
		return domain.User{}, err
	}

	return user, nil
}

// enforceCounter requires the assertion's signature counter to strictly
// exceed the stored one, persisting the new value in the same transaction
// so concurrent assertions with an equal counter cannot both pass.
func (s *PasskeyService) enforceCounter(ctx context.Context, credentialID string, newCounter uint32) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		stored, err := tx.Passkeys().GetPasskeyByCredentialID(ctx, credentialID)
		if err != nil {
			return fmt.Errorf("load passkey: %w", err)
		}

		// Authenticators without a counter report zero forever; only
		// enforce monotonicity once either side has counted.
		if stored.Counter == 0 && newCounter == 0 {
			return nil
		}
		if newCounter <= stored.Counter {
			return ErrPasskeyCounterReplay
		}
		return tx.Passkeys().UpdatePasskeyCounter(ctx, credentialID, newCounter)
	})
}

func (s *PasskeyService) storeChallenge(ctx context.Context, key string, data *webauthn.SessionData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	if err := s.KV.Set(ctx, key, string(raw), passkeyChallengeTTL); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (s *PasskeyService) loadChallenge(ctx context.Context, key string) (webauthn.SessionData, error) {
	raw, err := s.KV.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return webauthn.SessionData{}, ErrPasskeyChallengeMismatch
	}
	if err != nil {
		return webauthn.SessionData{}, fmt.Errorf("load challenge: %w", err)
	}

	var data webauthn.SessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode challenge: %w", err)
	}
	return data, nil
}
