package models

import "time"

// Item is a catalog entry. Items are never hard-deleted, only disabled, so
// the SKU stays unique across enabled and disabled rows alike.
type Item struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SKU        string    `gorm:"column:sku;size:64;not null;uniqueIndex" json:"sku"`
	Name       string    `gorm:"column:name;size:256;not null" json:"name"`
	Brand      *string   `gorm:"column:brand;size:128" json:"brand,omitempty"`
	Model      *string   `gorm:"column:model;size:128" json:"model,omitempty"`
	Category   *string   `gorm:"column:category;size:128" json:"category,omitempty"`
	Unit       string    `gorm:"column:unit;size:32;not null;default:ea" json:"unit"`
	WarningQty int64     `gorm:"column:warning_qty;not null;default:0" json:"warning_qty"`
	Enabled    bool      `gorm:"column:enabled;not null;default:true" json:"enabled"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default pluralization.
func (Item) TableName() string { return "items" }
