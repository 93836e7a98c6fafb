package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is what a verified token resolves to.
type Identity struct {
	UserID int
	Role   string
}

// Claims carried by storefront access tokens.
type Claims struct {
	UserID int    `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Provider resolves bearer tokens to identities.
type Provider interface {
	Resolve(token string) (Identity, error)
}

// JWTProvider verifies HS256 tokens signed with a shared secret.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider constructs a JWTProvider.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Resolve validates the token and returns its identity.
func (p *JWTProvider) Resolve(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == 0 && claims.Subject != "" {
		if parsed, convErr := strconv.Atoi(claims.Subject); convErr == nil {
			userID = parsed
		}
	}
	if userID <= 0 {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

// Issue signs a token for userID; used by tooling and tests.
func (p *JWTProvider) Issue(userID int, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
