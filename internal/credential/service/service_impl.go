package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/clock"
	"github.com/smallbiznis/dealcadence/internal/config"
	"github.com/smallbiznis/dealcadence/internal/credential/domain"
	"github.com/smallbiznis/dealcadence/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tokens this close to expiry are refreshed before use.
const expirySkew = time.Minute

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Cfg       config.Config
	Repo      domain.Repository
	Refresher domain.TokenRefresher `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	refresher domain.TokenRefresher
	cipher    *tokenCipher
}

func New(p Params) (domain.Service, error) {
	c, err := newTokenCipher(p.Cfg.CredentialSecret)
	if err != nil {
		return nil, err
	}
	log := p.Log.Named("credential.service")
	if len(c.key) == 0 {
		log.Warn("CREDENTIAL_SECRET is empty, integration credentials are unusable")
	}

	return &Service{
		db:        p.DB,
		log:       log,
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		refresher: p.Refresher,
		cipher:    c,
	}, nil
}

func (s *Service) GetValidAccessToken(ctx context.Context, userID, provider string) (string, error) {
	userID = strings.TrimSpace(userID)
	provider = strings.TrimSpace(provider)
	if userID == "" {
		return "", domain.MissingError("opportunity has no owner")
	}

	cred, err := s.repo.Find(ctx, s.db, userID, provider)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", domain.MissingError(provider + " is not connected")
	}
	if cred.RevokedAt != nil {
		return "", domain.MissingError(provider + " access was revoked")
	}

	accessToken, err := s.cipher.decrypt(cred.AccessToken)
	if err != nil {
		s.log.Warn("decrypt access token failed",
			zap.String("user_id", userID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return "", domain.MissingError("stored token is unreadable")
	}

	now := s.clock.Now().UTC()
	if cred.ExpiresAt == nil || now.Add(expirySkew).Before(*cred.ExpiresAt) {
		return accessToken, nil
	}

	return s.refresh(ctx, cred, now)
}

func (s *Service) refresh(ctx context.Context, cred *domain.IntegrationCredential, now time.Time) (string, error) {
	if strings.TrimSpace(cred.RefreshToken) == "" || s.refresher == nil {
		return "", domain.MissingError("token expired")
	}
	refreshToken, err := s.cipher.decrypt(cred.RefreshToken)
	if err != nil {
		return "", domain.MissingError("stored token is unreadable")
	}

	token, err := s.refresher.Refresh(ctx, cred.Provider, refreshToken)
	if err != nil {
		s.log.Warn("token refresh failed",
			zap.String("user_id", cred.UserID),
			zap.String("provider", cred.Provider),
			zap.Error(err),
		)
		return "", domain.MissingError("token refresh failed")
	}

	encAccess, err := s.cipher.encrypt(token.AccessToken)
	if err != nil {
		return "", err
	}
	encRefresh, err := s.cipher.encrypt(token.RefreshToken)
	if err != nil {
		return "", err
	}

	var expiresAt *time.Time
	if !token.ExpiresAt.IsZero() {
		at := token.ExpiresAt.UTC()
		expiresAt = &at
	}
	if err := s.repo.UpdateTokens(ctx, s.db, cred.ID, domain.TokenUpdate{
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		ExpiresAt:    expiresAt,
		UpdatedAt:    now,
	}); err != nil {
		return "", err
	}

	s.log.Info("access token refreshed",
		zap.String("user_id", cred.UserID),
		zap.String("provider", cred.Provider),
	)
	return token.AccessToken, nil
}

func (s *Service) Store(ctx context.Context, req domain.StoreRequest) (domain.IntegrationCredential, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return domain.IntegrationCredential{}, domain.ErrInvalidOrganization
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.IntegrationCredential{}, domain.ErrInvalidUser
	}
	provider := strings.TrimSpace(req.Provider)
	if provider != domain.ProviderGoogleTasks {
		return domain.IntegrationCredential{}, domain.ErrInvalidProvider
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		return domain.IntegrationCredential{}, domain.ErrInvalidToken
	}

	encAccess, err := s.cipher.encrypt(req.AccessToken)
	if err != nil {
		return domain.IntegrationCredential{}, err
	}
	var encRefresh string
	if strings.TrimSpace(req.RefreshToken) != "" {
		if encRefresh, err = s.cipher.encrypt(req.RefreshToken); err != nil {
			return domain.IntegrationCredential{}, err
		}
	}

	now := s.clock.Now().UTC()
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		at := req.ExpiresAt.UTC()
		expiresAt = &at
	}

	cred := domain.IntegrationCredential{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		UserID:       userID,
		Provider:     provider,
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		ExpiresAt:    expiresAt,
		Scopes:       datatypes.JSONSlice[string](req.Scopes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Upsert(ctx, s.db, &cred); err != nil {
		return domain.IntegrationCredential{}, err
	}

	stored, err := s.repo.Find(ctx, s.db, userID, provider)
	if err != nil {
		return domain.IntegrationCredential{}, err
	}
	if stored == nil {
		return cred, nil
	}
	return *stored, nil
}

func (s *Service) Revoke(ctx context.Context, userID, provider string) error {
	cred, err := s.repo.Find(ctx, s.db, strings.TrimSpace(userID), strings.TrimSpace(provider))
	if err != nil {
		return err
	}
	if cred == nil {
		return domain.ErrCredentialMissing
	}
	if orgID, ok := orgcontext.OrgIDFromContext(ctx); ok && cred.OrgID != orgID {
		return domain.ErrCredentialMissing
	}
	_, err = s.repo.Revoke(ctx, s.db, cred.ID, s.clock.Now().UTC())
	return err
}
