// Package auth authenticates the owner-facing API with HMAC-signed bearer
// tokens and carries the resulting principal through request contexts.
// Signer-facing routes authenticate with share tokens and bypass this layer.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/quill/pkg/model"
)

// Claims are the JWT claims the API expects.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	TenantID string
	Role     model.Role
}

// IsAdmin reports whether the principal may act on documents it does not own.
func (p Principal) IsAdmin() bool {
	return p.Role == model.RoleAdmin || p.Role == model.RoleSuperAdmin
}

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the principal placed by the middleware.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, errors.New("no principal in context")
	}
	return p, nil
}

// Verifier validates bearer tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret []byte) *Verifier {
	if len(secret) == 0 {
		return nil
	}
	return &Verifier{secret: secret}
}

// Validate parses and verifies a token string.
func (v *Verifier) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Mint signs a token for the given user. Used by tests and the dev token
// subcommand; production deployments mint sessions in their identity layer.
func Mint(secret []byte, userID, tenantID string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "quill",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Role:     string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
