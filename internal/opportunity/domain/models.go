package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Stage string

const (
	StageProspecting   Stage = "prospecting"
	StageQualification Stage = "qualification"
	StageDiscovery     Stage = "discovery"
	StageProposal      Stage = "proposal"
	StageNegotiation   Stage = "negotiation"
	StageClosedWon     Stage = "closed_won"
	StageClosedLost    Stage = "closed_lost"
)

func (s Stage) Valid() bool {
	switch s {
	case StageProspecting, StageQualification, StageDiscovery, StageProposal,
		StageNegotiation, StageClosedWon, StageClosedLost:
		return true
	}
	return false
}

func (s Stage) IsClosed() bool {
	return s == StageClosedWon || s == StageClosedLost
}

// NextCallSourceManual marks a next-call date entered by a person.
const NextCallSourceManual = "manual"

// Opportunity carries the persisted schedule projection. Date fields are nil
// when there is no qualifying meeting; the paired source and event id are
// empty in that case.
type Opportunity struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"organization_id"`
	OwnerUserID string       `gorm:"not null;index" json:"owner_user_id"`
	Name        string       `gorm:"not null" json:"name"`
	Stage       Stage        `gorm:"type:text;not null" json:"stage"`

	LastCallDate        *time.Time `json:"last_call_date"`
	LastCallDateSource  string     `json:"last_call_date_source,omitempty"`
	LastCallDateEventID string     `json:"last_call_date_event_id,omitempty"`

	NextCallDate               *time.Time `gorm:"index" json:"next_call_date"`
	NextCallDateSource         string     `json:"next_call_date_source,omitempty"`
	NextCallDateEventID        string     `json:"next_call_date_event_id,omitempty"`
	NextCallDateManuallySet    bool       `gorm:"not null;default:false" json:"next_call_date_manually_set"`
	NextCallDateLastCalculated *time.Time `gorm:"index" json:"next_call_date_last_calculated"`

	CBC                    *time.Time `gorm:"column:cbc" json:"cbc"`
	CBCLastCalculated      *time.Time `gorm:"column:cbc_last_calculated" json:"cbc_last_calculated"`
	NeedsNextCallScheduled bool       `gorm:"not null;default:false" json:"needs_next_call_scheduled"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Opportunity) TableName() string { return "opportunities" }
