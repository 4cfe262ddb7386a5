package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pulsedesk/pulsedesk/internal/shared"
)

type stubRepo struct {
	byID    map[int64]*Principal
	byEmail map[string]*Principal
}

func newStubRepo(seed ...*Principal) *stubRepo {
	repo := &stubRepo{byID: map[int64]*Principal{}, byEmail: map[string]*Principal{}}
	for _, p := range seed {
		repo.byID[p.ID] = p
		repo.byEmail[p.Email] = p
	}
	return repo
}

func (r *stubRepo) FindByID(ctx context.Context, id int64) (*Principal, error) {
	p, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

func (r *stubRepo) FindByEmail(ctx context.Context, email string) (*Principal, error) {
	p, ok := r.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return p, nil
}

func (r *stubRepo) BumpTokenVersion(ctx context.Context, id int64) (int64, error) {
	p, ok := r.byID[id]
	if !ok {
		return 0, shared.ErrNotFound
	}
	p.TokenVersion++
	return p.TokenVersion, nil
}

func (r *stubRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	p, ok := r.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestService(t *testing.T, seed ...*Principal) (*Service, *stubRepo) {
	t.Helper()
	repo := newStubRepo(seed...)
	return NewService(repo, NewTokenManager(testSecret, time.Hour), nil), repo
}

func TestLoginSuccess(t *testing.T) {
	user := &Principal{ID: 1, Email: "a@b.c", IsActive: true, PasswordHash: hashOf(t, "hunter22!")}
	svc, _ := newTestService(t, user)

	got, token, err := svc.Login(context.Background(), "a@b.c", "hunter22!")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.NotEmpty(t, token)

	// The minted credential authenticates straight back.
	p, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
}

// Unknown account, wrong password and inactive account all yield the same
// error so callers cannot enumerate accounts.
func TestLoginFailuresAreUniform(t *testing.T) {
	active := &Principal{ID: 1, Email: "a@b.c", IsActive: true, PasswordHash: hashOf(t, "hunter22!")}
	inactive := &Principal{ID: 2, Email: "x@b.c", IsActive: false, PasswordHash: hashOf(t, "hunter22!")}
	svc, _ := newTestService(t, active, inactive)

	for _, tc := range []struct{ email, password string }{
		{"missing@b.c", "hunter22!"},
		{"a@b.c", "wrong-password"},
		{"x@b.c", "hunter22!"},
	} {
		_, _, err := svc.Login(context.Background(), tc.email, tc.password)
		assert.ErrorIs(t, err, shared.ErrInvalidCredentials, tc.email)
	}
}

func TestAuthenticateRejectsEmptyAndMalformed(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenMissing)

	_, err = svc.Authenticate(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestAuthenticateRejectsResetTokenAsBearer(t *testing.T) {
	user := &Principal{ID: 1, Email: "a@b.c", IsActive: true}
	svc, _ := newTestService(t, user)

	raw, err := NewTokenManager(testSecret, time.Hour).MintReset(1, "jti", time.Hour)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrTokenType)
}

func TestAuthenticateUserNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	raw, err := NewTokenManager(testSecret, time.Hour).Mint(99, 0)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	user := &Principal{ID: 1, Email: "a@b.c", IsActive: false}
	svc, _ := newTestService(t, user)

	raw, err := NewTokenManager(testSecret, time.Hour).Mint(1, 0)
	require.NoError(t, err)

	p, err := svc.Authenticate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUserInactive)
	require.NotNil(t, p, "principal returned for audit purposes")
	assert.Equal(t, int64(1), p.ID)
}

// A credential minted at version N fails after the bump; one minted at N+1
// succeeds.
func TestTokenRevocationOnVersionBump(t *testing.T) {
	user := &Principal{ID: 1, Email: "a@b.c", IsActive: true, TokenVersion: 0}
	svc, _ := newTestService(t, user)

	old, err := NewTokenManager(testSecret, time.Hour).Mint(1, 0)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), old)
	require.NoError(t, err)

	newVersion, err := svc.RevokeSessions(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), newVersion)

	_, err = svc.Authenticate(context.Background(), old)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	fresh, err := NewTokenManager(testSecret, time.Hour).Mint(1, newVersion)
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), fresh)
	assert.NoError(t, err)
}
