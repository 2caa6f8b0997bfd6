package models

import (
	"time"

	"github.com/stockloghq/stocklog-backend/pkg/enums"
)

// Stocktake is a physical-count reconciliation document for one warehouse.
type Stocktake struct {
	ID          int64                 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StNo        string                `gorm:"column:st_no;size:32;not null;uniqueIndex" json:"st_no"`
	WarehouseID int64                 `gorm:"column:warehouse_id;not null" json:"warehouse_id"`
	Status      enums.StocktakeStatus `gorm:"column:status;size:16;not null;default:DRAFT" json:"status"`
	CreatedBy   string                `gorm:"column:created_by;size:64;not null" json:"created_by"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	AppliedAt   *time.Time            `gorm:"column:applied_at" json:"applied_at,omitempty"`
}

// TableName overrides the default pluralization.
func (Stocktake) TableName() string { return "stocktakes" }

// StocktakeLine snapshots one item's system quantity at creation time and
// records the counted quantity once entered. Lines are editable only while
// the header is DRAFT; afterwards they are read-only history.
type StocktakeLine struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	StocktakeID int64  `gorm:"column:stocktake_id;not null;uniqueIndex:ux_stocktake_line,priority:1" json:"stocktake_id"`
	ItemID      int64  `gorm:"column:item_id;not null;uniqueIndex:ux_stocktake_line,priority:2" json:"item_id"`
	SystemQty   int64  `gorm:"column:system_qty;not null" json:"system_qty"`
	CountedQty  *int64 `gorm:"column:counted_qty" json:"counted_qty,omitempty"`
	// DiffQty = CountedQty - SystemQty; null until a count is entered.
	DiffQty   *int64    `gorm:"column:diff_qty" json:"diff_qty,omitempty"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName overrides the default pluralization.
func (StocktakeLine) TableName() string { return "stocktake_lines" }
