package auth

import (
	"context"
	"errors"
)

var (
	// ErrMissingSession indicates no session token was presented.
	ErrMissingSession = errors.New("auth: session token required")
	// ErrInvalidSession indicates the token failed signature, issuer or format checks.
	ErrInvalidSession = errors.New("auth: invalid session token")
	// ErrExpiredSession indicates the token was well formed but expired.
	ErrExpiredSession = errors.New("auth: session token expired")
	// ErrMissingSessionSubject indicates the token carried no subject.
	ErrMissingSessionSubject = errors.New("auth: session subject required")
	// ErrProfileNotFound indicates the profile source does not know the user.
	ErrProfileNotFound = errors.New("auth: profile not found")
)

// Profile is the user record served by the identity provider or the local profile table.
type Profile struct {
	ID        string
	Username  string
	AvatarURL string
	IsAdmin   bool
}

// SessionVerifier turns a session token into the user id it was issued for.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (string, error)
}

// ProfileSource looks up the profile of a verified user.
type ProfileSource interface {
	LookupProfile(ctx context.Context, userID string) (Profile, error)
}
