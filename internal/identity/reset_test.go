package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedesk/pulsedesk/internal/shared"
)

func newResetFixture(t *testing.T) (*ResetTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewResetTokenStore(client, 30*time.Minute), mr
}

func TestResetTokenSingleRedemption(t *testing.T) {
	store, _ := newResetFixture(t)

	jti, err := store.Issue(context.Background(), 42)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	owner, err := store.Redeem(context.Background(), jti)
	require.NoError(t, err)
	assert.Equal(t, int64(42), owner)

	_, err = store.Redeem(context.Background(), jti)
	assert.ErrorIs(t, err, ErrResetTokenSpent)
}

func TestResetTokenUnknownJTI(t *testing.T) {
	store, _ := newResetFixture(t)

	_, err := store.Redeem(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrResetTokenSpent)
}

func TestResetTokenExpiry(t *testing.T) {
	store, mr := newResetFixture(t)

	jti, err := store.Issue(context.Background(), 7)
	require.NoError(t, err)

	mr.FastForward(31 * time.Minute)

	_, err = store.Redeem(context.Background(), jti)
	assert.ErrorIs(t, err, ErrResetTokenSpent)
}

func TestPasswordResetFlow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	user := &Principal{ID: 1, Email: "a@b.c", IsActive: true, PasswordHash: hashOf(t, "old-password")}
	repo := newStubRepo(user)
	svc := NewService(repo, NewTokenManager(testSecret, time.Hour),
		NewResetTokenStore(client, 30*time.Minute))

	raw, err := svc.RequestPasswordReset(context.Background(), "a@b.c")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	require.NoError(t, svc.ConfirmPasswordReset(context.Background(), raw, "brand-new-password"))

	// The credential is single use.
	err = svc.ConfirmPasswordReset(context.Background(), raw, "again")
	assert.ErrorIs(t, err, ErrResetTokenSpent)

	// Password changed and all sessions were revoked.
	_, _, err = svc.Login(context.Background(), "a@b.c", "old-password")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	got, _, err := svc.Login(context.Background(), "a@b.c", "brand-new-password")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TokenVersion, "reset bumps the token version")
}

func TestPasswordResetUnknownOrInactiveAccount(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inactive := &Principal{ID: 2, Email: "x@b.c", IsActive: false}
	svc := NewService(newStubRepo(inactive), NewTokenManager(testSecret, time.Hour),
		NewResetTokenStore(client, time.Minute))

	_, err := svc.RequestPasswordReset(context.Background(), "missing@b.c")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.RequestPasswordReset(context.Background(), "x@b.c")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
