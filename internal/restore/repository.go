package restore

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	"github.com/stockloghq/stocklog-backend/pkg/enums"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

// Repository owns restore job rows. The engine is their only writer.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert persists a new job row.
func (r *Repository) Insert(ctx context.Context, job *models.RestoreJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Find loads the job.
func (r *Repository) Find(ctx context.Context, id uuid.UUID) (*models.RestoreJob, error) {
	var job models.RestoreJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns jobs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]models.RestoreJob, error) {
	var jobs []models.RestoreJob
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&jobs).
		Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Status re-reads only the job's status; the running slice polls this to
// observe an operator pause or cancel.
func (r *Repository) Status(ctx context.Context, id uuid.UUID) (enums.RestoreStatus, error) {
	var status enums.RestoreStatus
	err := r.db.WithContext(ctx).
		Model(&models.RestoreJob{}).
		Where("id = ?", id).
		Pluck("status", &status).
		Error
	return status, err
}

// Update writes the given fields on the job row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.RestoreJob{}).
		Where("id = ?", id).
		Updates(fields).
		Error
}

// MarkRunning flips a resumable job to RUNNING. Returns false when the job
// is terminal or missing.
func (r *Repository) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RestoreJob{}).
		Where("id = ? AND status IN ?", id, []enums.RestoreStatus{
			enums.RestoreStatusQueued,
			enums.RestoreStatusPaused,
			enums.RestoreStatusRunning,
		}).
		Update("status", enums.RestoreStatusRunning)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Pause flips a non-terminal job to PAUSED. Returns false when the job is
// already terminal or missing.
func (r *Repository) Pause(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RestoreJob{}).
		Where("id = ? AND status IN ?", id, []enums.RestoreStatus{
			enums.RestoreStatusQueued,
			enums.RestoreStatusPaused,
			enums.RestoreStatusRunning,
		}).
		Update("status", enums.RestoreStatusPaused)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
