package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/dealcadence/internal/config"
	"github.com/smallbiznis/dealcadence/internal/credential/domain"
	"golang.org/x/oauth2"
)

// OAuthRefresher exchanges refresh tokens at the configured token endpoint.
type OAuthRefresher struct {
	cfg    oauth2.Config
	client *http.Client
}

func NewOAuthRefresher(cfg config.Config) domain.TokenRefresher {
	return &OAuthRefresher{
		cfg: oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimSpace(cfg.OAuthTokenURL),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, provider, refreshToken string) (domain.Token, error) {
	if provider != domain.ProviderGoogleTasks {
		return domain.Token{}, domain.ErrInvalidProvider
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	// An already expired token forces the source to hit the endpoint.
	source := r.cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	token, err := source.Token()
	if err != nil {
		return domain.Token{}, err
	}

	out := domain.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}
