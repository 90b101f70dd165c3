package auth

import "errors"

// Authentication errors returned by the JWT service and the authenticator.
var (
	// ErrInvalidToken indicates the token is malformed, has a bad signature,
	// or otherwise failed validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token's expiry has passed.
	ErrExpiredToken = errors.New("token expired")

	// ErrTokenNotYetValid indicates the token's not-before time is in the future.
	ErrTokenNotYetValid = errors.New("token not yet valid")

	// ErrInvalidCredentials indicates an unknown actor or a wrong password.
	// Deliberately indistinguishable between the two cases.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
