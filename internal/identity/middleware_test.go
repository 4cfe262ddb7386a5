package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsedesk/pulsedesk/internal/platform/httpx"
)

type recordedMetrics struct {
	rejected []string
	denied   []string
	legacy   []string
}

func (m *recordedMetrics) AuthRejected(code string) { m.rejected = append(m.rejected, code) }
func (m *recordedMetrics) AuthzDenied(code string)  { m.denied = append(m.denied, code) }
func (m *recordedMetrics) LegacyFallback(tier string) {
	m.legacy = append(m.legacy, tier)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) httpx.ErrorResponse {
	t.Helper()
	var envelope httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	return envelope
}

func TestAuthenticateRejectionCodes(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Hour)
	active := &Principal{ID: 1, Email: "a@b.c", IsActive: true, TokenVersion: 5}
	inactive := &Principal{ID: 2, Email: "x@b.c", IsActive: false}
	svc := NewService(newStubRepo(active, inactive), tm, nil)

	mint := func(id, version int64) string {
		raw, err := tm.Mint(id, version)
		require.NoError(t, err)
		return raw
	}
	expired, err := NewTokenManager(testSecret, -time.Minute).Mint(1, 5)
	require.NoError(t, err)
	reset, err := tm.MintReset(1, "jti", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", httpx.CodeTokenMissing},
		{"not bearer", "Basic abc", httpx.CodeTokenMissing},
		{"malformed", "Bearer garbage", httpx.CodeTokenInvalid},
		{"expired", "Bearer " + expired, httpx.CodeTokenExpired},
		{"wrong type", "Bearer " + reset, httpx.CodeInvalidTokenType},
		{"unknown user", "Bearer " + mint(99, 0), httpx.CodeUserNotFound},
		{"inactive account", "Bearer " + mint(2, 0), httpx.CodeAccountInactive},
		{"revoked", "Bearer " + mint(1, 4), httpx.CodeTokenRevoked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordedMetrics{}
			mw := Middleware{Service: svc, Metrics: metrics}

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			mw.Authenticate(okHandler()).ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			envelope := decodeEnvelope(t, rr)
			assert.False(t, envelope.Success)
			assert.Equal(t, tc.code, envelope.Error.Code)
			assert.NotEmpty(t, envelope.Error.Message)
			assert.Equal(t, []string{tc.code}, metrics.rejected)
		})
	}
}

func TestAuthenticateStoresPrincipal(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Hour)
	active := &Principal{ID: 1, Email: "a@b.c", IsActive: true, TokenVersion: 0}
	svc := NewService(newStubRepo(active), tm, nil)
	mw := Middleware{Service: svc}

	raw, err := tm.Mint(1, 0)
	require.NoError(t, err)

	var got *Principal
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = PrincipalFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
}

func requestWithPrincipal(p *Principal) *http.Request {
	req := httptest.NewRequest(http.MethodDelete, "/guarded", nil)
	if p == nil {
		return req
	}
	return req.WithContext(ContextWithPrincipal(context.Background(), p))
}

func TestRequireFullAccess(t *testing.T) {
	mw := Middleware{}

	rr := httptest.NewRecorder()
	mw.RequireFullAccess(okHandler()).ServeHTTP(rr, requestWithPrincipal(activeFullAccess()))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	employee := &Principal{ID: 2, IsActive: true, LegacyRole: LegacyEmployee}
	mw.RequireFullAccess(okHandler()).ServeHTTP(rr, requestWithPrincipal(employee))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, httpx.CodeInsufficientPermissions, decodeEnvelope(t, rr).Error.Code)

	// No principal at all is a 401, not a 403.
	rr = httptest.NewRecorder()
	mw.RequireFullAccess(okHandler()).ServeHTTP(rr, requestWithPrincipal(nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, httpx.CodeAuthRequired, decodeEnvelope(t, rr).Error.Code)
}

func TestRequirePermissionDeniedMessageNamesCapability(t *testing.T) {
	metrics := &recordedMetrics{}
	mw := Middleware{Metrics: metrics}
	p := &Principal{
		ID: 3, IsActive: true,
		Role: &Role{ID: 4, IsActive: true, Permissions: PermissionDoc{ModuleUsers: {"Read": true}}},
	}

	rr := httptest.NewRecorder()
	mw.RequirePermission(ModuleClients, ActionUpdate)(okHandler()).
		ServeHTTP(rr, requestWithPrincipal(p))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	envelope := decodeEnvelope(t, rr)
	assert.Equal(t, httpx.CodeInsufficientPermissions, envelope.Error.Code)
	assert.Equal(t, "You do not have permission to update clients", envelope.Error.Message)
	assert.Equal(t, []string{httpx.CodeInsufficientPermissions}, metrics.denied)
}

// Scenario: a legacy manager without any Role passes a Clients-Delete guard
// through the fallback, and the fallback hit is recorded.
func TestRequirePermissionLegacyManagerClientsDelete(t *testing.T) {
	metrics := &recordedMetrics{}
	mw := Middleware{Metrics: metrics}
	manager := &Principal{ID: 5, IsActive: true, LegacyRole: LegacyManager}

	rr := httptest.NewRecorder()
	mw.RequirePermission(ModuleClients, ActionDelete)(okHandler()).
		ServeHTTP(rr, requestWithPrincipal(manager))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"manager"}, metrics.legacy)

	// The same tier still cannot delete users.
	rr = httptest.NewRecorder()
	mw.RequirePermission(ModuleUsers, ActionDelete)(okHandler()).
		ServeHTTP(rr, requestWithPrincipal(manager))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRequirePageAccess(t *testing.T) {
	mw := Middleware{}
	employee := &Principal{ID: 6, IsActive: true, LegacyRole: LegacyTelecaller}

	rr := httptest.NewRecorder()
	mw.RequirePageAccess(PageDashboard)(okHandler()).ServeHTTP(rr, requestWithPrincipal(employee))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mw.RequirePageAccess(PageSettings)(okHandler()).ServeHTTP(rr, requestWithPrincipal(employee))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, httpx.CodePageAccessDenied, decodeEnvelope(t, rr).Error.Code)
}

func TestAuthorizeLegacyTags(t *testing.T) {
	mw := Middleware{}
	manager := &Principal{ID: 7, IsActive: true, LegacyRole: LegacyManager}
	telecaller := &Principal{ID: 8, IsActive: true, LegacyRole: LegacyTelecaller}

	rr := httptest.NewRecorder()
	mw.Authorize(LegacyManager)(okHandler()).ServeHTTP(rr, requestWithPrincipal(manager))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mw.Authorize(LegacyManager)(okHandler()).ServeHTTP(rr, requestWithPrincipal(telecaller))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Full access passes any tag filter.
	rr = httptest.NewRecorder()
	mw.Authorize(LegacyManager)(okHandler()).ServeHTTP(rr, requestWithPrincipal(activeFullAccess()))
	assert.Equal(t, http.StatusOK, rr.Code)
}
