package models

import (
	"encoding/json"
	"time"
)

// AuditLog records who did what. Writes are best-effort and must never fail
// the primary operation.
type AuditLog struct {
	ID       int64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Actor    string          `gorm:"column:actor;size:64;not null;index" json:"actor"`
	Role     string          `gorm:"column:role;size:16" json:"role"`
	Action   string          `gorm:"column:action;size:64;not null;index" json:"action"`
	Entity   *string         `gorm:"column:entity;size:64" json:"entity,omitempty"`
	EntityID *string         `gorm:"column:entity_id;size:64" json:"entity_id,omitempty"`
	Detail   json.RawMessage `gorm:"column:detail" json:"detail,omitempty"`
	IP       *string         `gorm:"column:ip;size:64" json:"ip,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

// TableName overrides the default pluralization.
func (AuditLog) TableName() string { return "audit_logs" }
