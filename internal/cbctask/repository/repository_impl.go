package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealcadence/internal/cbctask/domain"
	"github.com/smallbiznis/dealcadence/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, task *domain.Task) error {
	err := conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "external_task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"list_id", "title", "notes", "due", "position", "updated_at",
		}),
	}).Create(task).Error
	if err == nil {
		return nil
	}
	if db.DuplicateKeyOn(err, "task_source") {
		return domain.ErrTaskExists
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Task, error) {
	var task domain.Task
	err := conn.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repo) FindByTaskSource(ctx context.Context, conn *gorm.DB, taskSource string) (*domain.Task, error) {
	var task domain.Task
	err := conn.WithContext(ctx).Where("task_source = ?", taskSource).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, id snowflake.ID, update domain.TaskUpdate) error {
	return conn.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":      update.Title,
			"notes":      update.Notes,
			"due":        update.Due,
			"position":   update.Position,
			"updated_at": update.UpdatedAt,
		}).Error
}

func (r *repo) MarkCompleted(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.StatusCompleted,
			"completed_at": at,
			"updated_at":   at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Where("id = ?", id).Delete(&domain.Task{}).Error
}
