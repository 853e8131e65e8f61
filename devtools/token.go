package devtools

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeRestart is the only scope the control endpoints accept.
const ScopeRestart = "restart"

// ErrInvalidToken is returned when a control token fails verification.
var ErrInvalidToken = errors.New("invalid control token")

// ControlClaims are the claims carried by a devtools control token.
type ControlClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// TokenIssuer mints and verifies HS256 control tokens with a secret that lives only
// as long as the process, so tokens die with the dev server.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer generates a random secret. A zero ttl means tokens never expire.
func NewTokenIssuer(ttl time.Duration) (*TokenIssuer, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate devtools secret: %w", err)
	}
	return &TokenIssuer{secret: b, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for the given scope.
func (ti *TokenIssuer) Issue(scope string) (string, error) {
	now := ti.now()
	claims := ControlClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "devhost",
			IssuedAt: jwt.NewNumericDate(now),
		},
		Scope: scope,
	}
	if ti.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ti.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign control token: %w", err)
	}
	return signed, nil
}

// Verify parses the token and checks its signature, expiry and scope.
func (ti *TokenIssuer) Verify(tokenString, scope string) (*ControlClaims, error) {
	claims := &ControlClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("devhost"),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope != scope {
		return nil, fmt.Errorf("%w: scope %q not allowed", ErrInvalidToken, claims.Scope)
	}
	return claims, nil
}
