package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/credential/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, credential *domain.IntegrationCredential) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"org_id", "access_token", "refresh_token", "expires_at", "scopes", "revoked_at", "updated_at",
		}),
	}).Create(credential).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, userID, provider string) (*domain.IntegrationCredential, error) {
	var credential domain.IntegrationCredential
	err := db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (r *repo) UpdateTokens(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.TokenUpdate) error {
	return db.WithContext(ctx).
		Model(&domain.IntegrationCredential{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_token":  update.AccessToken,
			"refresh_token": update.RefreshToken,
			"expires_at":    update.ExpiresAt,
			"updated_at":    update.UpdatedAt,
		}).Error
}

func (r *repo) Revoke(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.IntegrationCredential{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"revoked_at": at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
