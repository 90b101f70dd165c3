package auth

import (
	"context"
	"time"
)

// JWTService issues and validates the bearer tokens that protect the task
// and operations endpoints. Tokens identify an actor, the operator or
// automation name that ends up in audit entries.
type JWTService interface {
	// GenerateToken creates a signed JWT access token for the actor.
	GenerateToken(ctx context.Context, actor string) (string, error)

	// ValidateToken validates the token string and extracts the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken on
	// failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the validated content of an accepted token.
type Claims struct {
	// Actor is the operator or automation identity the token was issued for.
	Actor string `json:"actor,omitempty"`

	// Standard registered JWT claims
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
