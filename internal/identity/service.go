package identity

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/pulsedesk/pulsedesk/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenManager
	resets *ResetTokenStore
}

// NewService constructs a new Service. The reset store may be nil when the
// password-reset flow is not wired (e.g. in tests).
func NewService(repo Repository, tokens *TokenManager, resets *ResetTokenStore) *Service {
	return &Service{repo: repo, tokens: tokens, resets: resets}
}

// Login validates email/password credentials and issues an access token.
// Failures are uniform to avoid account enumeration.
func (s *Service) Login(ctx context.Context, email, password string) (*Principal, string, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, "", shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", shared.ErrInvalidCredentials
	}
	token, err := s.tokens.Mint(user.ID, user.TokenVersion)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Authenticate resolves a bearer credential to an active principal. Each
// failure mode yields a distinct sentinel error. For inactive and revoked
// rejections the resolved principal is returned alongside the error so the
// caller can include its id in the audit trail; it must not be treated as
// authenticated.
func (s *Service) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrTokenType
	}
	id, err := claims.PrincipalID()
	if err != nil {
		return nil, err
	}
	p, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return p, ErrUserInactive
	}
	if claims.TokenVersion != p.TokenVersion {
		return p, ErrTokenRevoked
	}
	return p, nil
}

// RevokeSessions bumps the principal's token version, invalidating every
// previously issued credential at once.
func (s *Service) RevokeSessions(ctx context.Context, principalID int64) (int64, error) {
	return s.repo.BumpTokenVersion(ctx, principalID)
}

// RequestPasswordReset issues a one-time reset credential for the account
// behind email. Callers respond identically whether or not the account
// exists; shared.ErrNotFound signals "do not send anything".
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if s.resets == nil {
		return "", errors.New("identity: reset store not configured")
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		return "", shared.ErrNotFound
	}
	jti, err := s.resets.Issue(ctx, user.ID)
	if err != nil {
		return "", err
	}
	return s.tokens.MintReset(user.ID, jti, s.resets.TTL())
}

// ConfirmPasswordReset redeems a one-time reset credential, replaces the
// password and revokes all outstanding sessions.
func (s *Service) ConfirmPasswordReset(ctx context.Context, raw, newPassword string) error {
	if s.resets == nil {
		return errors.New("identity: reset store not configured")
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return err
	}
	if claims.Type != TokenTypeReset || claims.ID == "" {
		return ErrTokenType
	}
	subject, err := claims.PrincipalID()
	if err != nil {
		return err
	}
	owner, err := s.resets.Redeem(ctx, claims.ID)
	if err != nil {
		return err
	}
	if owner != subject {
		return ErrResetTokenSpent
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, owner, string(hash)); err != nil {
		return err
	}
	_, err = s.repo.BumpTokenVersion(ctx, owner)
	return err
}
