package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ProviderGoogleTasks = "google_tasks"

// IntegrationCredential stores a user's OAuth tokens for one provider. Both
// tokens hold the encrypted JSON payload, never the plaintext.
type IntegrationCredential struct {
	ID           snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID                `gorm:"not null;index" json:"organization_id"`
	UserID       string                      `gorm:"not null;uniqueIndex:ux_integration_credentials_user_provider" json:"user_id"`
	Provider     string                      `gorm:"not null;uniqueIndex:ux_integration_credentials_user_provider" json:"provider"`
	AccessToken  string                      `gorm:"type:text;not null" json:"-"`
	RefreshToken string                      `gorm:"type:text" json:"-"`
	ExpiresAt    *time.Time                  `json:"expires_at"`
	Scopes       datatypes.JSONSlice[string] `json:"scopes"`
	RevokedAt    *time.Time                  `json:"revoked_at,omitempty"`
	CreatedAt    time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time                   `gorm:"not null" json:"updated_at"`
}

func (IntegrationCredential) TableName() string { return "integration_credentials" }
