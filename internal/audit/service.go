package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/stockloghq/stocklog-backend/pkg/db/models"
	pkgerrors "github.com/stockloghq/stocklog-backend/pkg/errors"
	"github.com/stockloghq/stocklog-backend/pkg/logger"
	"github.com/stockloghq/stocklog-backend/pkg/pagination"
)

// Entry describes one auditable action.
type Entry struct {
	Actor    string
	Role     string
	Action   string
	Entity   string
	EntityID string
	Detail   any
	IP       string
}

// Filter narrows the audit listing.
type Filter struct {
	Action string
	Actor  string
	Limit  int
}

// Service records and lists audit entries. Recording is fire-and-forget:
// a failed insert is logged and swallowed so it can never fail the
// operation being audited.
type Service interface {
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, filter Filter) ([]models.AuditLog, error)
}

type service struct {
	db   *gorm.DB
	logg *logger.Logger
}

// NewService constructs an audit service instance.
func NewService(db *gorm.DB, logg *logger.Logger) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection required")
	}
	return &service{db: db, logg: logg}, nil
}

func (s *service) Record(ctx context.Context, entry Entry) {
	row := models.AuditLog{
		Actor:  entry.Actor,
		Role:   entry.Role,
		Action: entry.Action,
	}
	if entry.Entity != "" {
		row.Entity = &entry.Entity
	}
	if entry.EntityID != "" {
		row.EntityID = &entry.EntityID
	}
	if entry.IP != "" {
		row.IP = &entry.IP
	}
	if entry.Detail != nil {
		if detail, err := json.Marshal(entry.Detail); err == nil {
			row.Detail = detail
		}
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "action", entry.Action), "audit record dropped")
	}
}

func (s *service) List(ctx context.Context, filter Filter) ([]models.AuditLog, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Actor != "" {
		query = query.Where("actor = ?", filter.Actor)
	}

	var rows []models.AuditLog
	err := query.
		Order("id DESC").
		Limit(pagination.NormalizeLimit(filter.Limit)).
		Find(&rows).
		Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing audit logs")
	}
	return rows, nil
}
