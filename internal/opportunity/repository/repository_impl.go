package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/opportunity/domain"
	"gorm.io/gorm"
)

var closedStages = []domain.Stage{domain.StageClosedWon, domain.StageClosedLost}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, opportunity *domain.Opportunity) error {
	return db.WithContext(ctx).Create(opportunity).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Opportunity, error) {
	var opportunity domain.Opportunity
	err := db.WithContext(ctx).Where("id = ?", id).First(&opportunity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &opportunity, nil
}

func (r *repo) UpdateSchedule(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.ScheduleUpdate) (bool, error) {
	calculatedAt := update.CalculatedAt
	res := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_call_date":                 update.LastCallDate,
			"last_call_date_source":          update.LastCallDateSource,
			"last_call_date_event_id":        update.LastCallDateEventID,
			"next_call_date":                 update.NextCallDate,
			"next_call_date_source":          update.NextCallDateSource,
			"next_call_date_event_id":        update.NextCallDateEventID,
			"next_call_date_last_calculated": &calculatedAt,
			"cbc":                            update.CBC,
			"cbc_last_calculated":            &calculatedAt,
			"needs_next_call_scheduled":      update.NeedsNextCallScheduled,
			"updated_at":                     calculatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateManualNextCall(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.ManualNextCallUpdate) (bool, error) {
	source := ""
	if update.NextCallDate != nil {
		source = domain.NextCallSourceManual
	}
	updatedAt := update.UpdatedAt
	res := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"next_call_date":              update.NextCallDate,
			"next_call_date_source":       source,
			"next_call_date_event_id":     "",
			"next_call_date_manually_set": update.NextCallDate != nil,
			"cbc":                         update.CBC,
			"cbc_last_calculated":         &updatedAt,
			"needs_next_call_scheduled":   update.NeedsNextCallScheduled,
			"updated_at":                  updatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateStage(ctx context.Context, db *gorm.DB, id snowflake.ID, stage domain.Stage, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stage":      stage,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListStaleIDs(ctx context.Context, db *gorm.DB, query domain.StaleQuery) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("stage NOT IN ?", closedStages).
		Where("id > ?", query.AfterID).
		Where(
			db.Where("next_call_date_last_calculated IS NULL").
				Or("next_call_date_last_calculated < ?", query.CalculatedBefore).
				Or("next_call_date IS NOT NULL AND next_call_date <= ?", query.Now),
		).
		Order("id asc").
		Limit(query.Limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListOpenIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.Opportunity{}).
		Where("stage NOT IN ?", closedStages).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
