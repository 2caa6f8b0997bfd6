package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/stockloghq/stocklog-backend/pkg/enums"
)

// RestoreJob is the persisted state of one resumable bulk restore. The
// engine is the only writer; the cursor only ever moves forward across
// successful slices, and the replace-mode delete runs at most once.
type RestoreJob struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Status    enums.RestoreStatus `gorm:"column:status;size:16;not null;default:QUEUED" json:"status"`
	Stage     enums.RestoreStage  `gorm:"column:stage;size:16;not null;default:SCAN" json:"stage"`
	Mode      enums.RestoreMode   `gorm:"column:mode;size:16;not null;default:merge" json:"mode"`
	FileKey   string              `gorm:"column:file_key;size:512;not null" json:"file_key"`
	Filename  *string             `gorm:"column:filename;size:256" json:"filename,omitempty"`
	CreatedBy string              `gorm:"column:created_by;size:64;not null" json:"created_by"`
	// CursorJSON serializes {table, row}; TablesJSON serializes the
	// per-table counts and the first-seen processing order from SCAN.
	CursorJSON    string     `gorm:"column:cursor_json;not null;default:'{}'" json:"cursor_json"`
	TablesJSON    string     `gorm:"column:tables_json;not null;default:'{}'" json:"tables_json"`
	ReplaceDone   bool       `gorm:"column:replace_done;not null;default:false" json:"replace_done"`
	CurrentTable  *string    `gorm:"column:current_table;size:64" json:"current_table,omitempty"`
	TotalRows     int64      `gorm:"column:total_rows;not null;default:0" json:"total_rows"`
	ProcessedRows int64      `gorm:"column:processed_rows;not null;default:0" json:"processed_rows"`
	ErrorCount    int        `gorm:"column:error_count;not null;default:0" json:"error_count"`
	LastError     *string    `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	FinishedAt    *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

// TableName overrides the default pluralization.
func (RestoreJob) TableName() string { return "restore_jobs" }
