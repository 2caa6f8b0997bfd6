package models

import "time"

// Warehouse is a physical stock location.
type Warehouse struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:128;not null;uniqueIndex" json:"name"`
	Remark    *string   `gorm:"column:remark;size:512" json:"remark,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName overrides the default pluralization.
func (Warehouse) TableName() string { return "warehouses" }
