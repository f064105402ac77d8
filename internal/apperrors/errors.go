package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("password not correct")

	// No access token presented with the request
	ErrUnauthenticated = errors.New("you need to login")

	// Token failed verification: bad signature, wrong key, malformed or empty
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")

	// Refresh token is valid but not the one stored for the user (rotated out or revoked)
	ErrRefreshTokenMismatch = errors.New("refresh token does not match")
)
