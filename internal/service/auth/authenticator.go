package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/config"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
)

// Authenticator validates operator credentials from configuration and issues
// tokens for them. Credential records are static (actor name plus bcrypt
// hash); there is no user storage behind this.
type Authenticator struct {
	credentials map[string]string // actor -> bcrypt hash
	verifier    PasswordVerifier
	jwtService  JWTService
}

// NewAuthenticator creates an Authenticator over the configured credentials.
func NewAuthenticator(
	cfg config.AuthConfig,
	verifier PasswordVerifier,
	jwtService JWTService,
) (*Authenticator, error) {
	if verifier == nil {
		return nil, errors.New("password verifier cannot be nil")
	}
	if jwtService == nil {
		return nil, errors.New("jwt service cannot be nil")
	}

	credentials := make(map[string]string, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		if c.Actor == "" || c.PasswordHash == "" {
			return nil, fmt.Errorf("credential entries require both actor and password hash")
		}
		credentials[c.Actor] = c.PasswordHash
	}

	return &Authenticator{
		credentials: credentials,
		verifier:    verifier,
		jwtService:  jwtService,
	}, nil
}

// Login verifies the actor's password and returns a fresh token.
// Returns ErrInvalidCredentials for unknown actors and wrong passwords alike.
func (a *Authenticator) Login(ctx context.Context, actor, password string) (string, error) {
	log := logger.FromContext(ctx)

	hash, ok := a.credentials[actor]
	if !ok {
		log.Debug("login rejected: unknown actor", "actor", actor)
		return "", ErrInvalidCredentials
	}

	if err := a.verifier.Compare(hash, password); err != nil {
		log.Debug("login rejected: password mismatch", "actor", actor)
		return "", ErrInvalidCredentials
	}

	token, err := a.jwtService.GenerateToken(ctx, actor)
	if err != nil {
		return "", fmt.Errorf("failed to issue token: %w", err)
	}

	log.Info("actor logged in", "actor", actor)
	return token, nil
}
