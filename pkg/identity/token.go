package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is set on every token the registry issues.
	Issuer = "registry.lecsachurch.org"
	// Audience is the API the tokens are good for.
	Audience = "registry-api"
)

// Subject is the account a token is issued to.
type Subject struct {
	ID       string
	Username string
	Role     string
}

// Claims are the registry's JWT claims. The role travels in the token so the
// permission gate does not need a database round trip per request.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// TokenManager issues and validates tokens against a KeySet.
type TokenManager struct {
	keySet KeySet
	now    func() time.Time
}

func NewTokenManager(ks KeySet) *TokenManager {
	return &TokenManager{
		keySet: ks,
		now:    time.Now,
	}
}

// Issue creates a signed JWT for s valid for ttl.
func (tm *TokenManager) Issue(ctx context.Context, s Subject, ttl time.Duration) (string, time.Time, error) {
	now := tm.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
		},
		Username: s.Username,
		Role:     s.Role,
	}
	token, err := tm.keySet.Sign(ctx, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Validate parses and validates a JWT string.
func (tm *TokenManager) Validate(tokenString string) (*Claims, error) {
	return ParseClaims(tm.keySet, tokenString)
}

// ParseClaims validates tokenString against ks, including issuer and audience.
func ParseClaims(ks KeySet, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, ks.KeyFunc(),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
