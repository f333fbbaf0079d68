package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TokenUpdate struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	UpdatedAt    time.Time
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, credential *IntegrationCredential) error
	Find(ctx context.Context, db *gorm.DB, userID, provider string) (*IntegrationCredential, error)
	UpdateTokens(ctx context.Context, db *gorm.DB, id snowflake.ID, update TokenUpdate) error
	Revoke(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
}
