package identity

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators embedded in every credential.
const (
	TokenTypeAccess = "access"
	TokenTypeReset  = "reset"
)

// Credential rejection reasons. Each maps to a distinct wire code because each
// calls for a different client remediation.
var (
	ErrTokenMissing   = errors.New("identity: token missing")
	ErrTokenExpired   = errors.New("identity: token expired")
	ErrTokenMalformed = errors.New("identity: token malformed")
	ErrTokenType      = errors.New("identity: unexpected token type")
	ErrUserNotFound   = errors.New("identity: user not found")
	ErrUserInactive   = errors.New("identity: account inactive")
	ErrTokenRevoked   = errors.New("identity: token revoked")
)

// Claims is the JWT payload for both access and reset credentials.
type Claims struct {
	Type         string `json:"type"`
	TokenVersion int64  `json:"tv,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID parses the subject claim.
func (c *Claims) PrincipalID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrTokenMalformed
	}
	return id, nil
}

// TokenManager mints and verifies signed credentials with a single fixed
// algorithm (HS256). No algorithm negotiation takes place.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager constructs a TokenManager with the access-token validity
// window (design default 7 days).
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Mint issues an access credential bound to the principal's current token
// version. Bumping that version invalidates every credential minted before.
func (m *TokenManager) Mint(principalID, tokenVersion int64) (string, error) {
	now := time.Now()
	claims := Claims{
		Type:         TokenTypeAccess,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(principalID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// MintReset issues a one-time reset credential carrying the store's jti.
func (m *TokenManager) MintReset(principalID int64, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Type: TokenTypeReset,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.FormatInt(principalID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse validates the signature and standard claims. Expired credentials are
// distinguished from malformed ones; the token type is left to the caller.
func (m *TokenManager) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
