package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider hands out usable access tokens for external integrations.
type Provider interface {
	GetValidAccessToken(ctx context.Context, userID, provider string) (string, error)
}

type StoreRequest struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// Token is the result of a refresh_token grant.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type TokenRefresher interface {
	Refresh(ctx context.Context, provider, refreshToken string) (Token, error)
}

type Service interface {
	Provider
	Store(ctx context.Context, req StoreRequest) (IntegrationCredential, error)
	Revoke(ctx context.Context, userID, provider string) error
}

var (
	ErrCredentialMissing    = errors.New("credential_missing")
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidToken         = errors.New("invalid_token")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
)

// MissingError wraps ErrCredentialMissing with the reason the credential is
// unusable.
func MissingError(reason string) error {
	return fmt.Errorf("%w: %s", ErrCredentialMissing, reason)
}
