package models

import "time"

// Stock is the on-hand balance of one item in one warehouse. Rows are
// created lazily on the first credit posting. Qty is only ever mutated
// through conditional statements owned by the ledger engine; it must never
// be observably negative.
type Stock struct {
	ItemID      int64     `gorm:"column:item_id;primaryKey;autoIncrement:false" json:"item_id"`
	WarehouseID int64     `gorm:"column:warehouse_id;primaryKey;autoIncrement:false" json:"warehouse_id"`
	Qty         int64     `gorm:"column:qty;not null;default:0" json:"qty"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName matches the journal naming used by backups.
func (Stock) TableName() string { return "stock" }
