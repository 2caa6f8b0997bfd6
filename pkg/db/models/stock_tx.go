package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockloghq/stocklog-backend/pkg/enums"
)

// StockTx is one immutable journal entry: what moved, by how much, and why.
// Rows are append-only; corrections are expressed as new REVERSAL entries.
type StockTx struct {
	ID          int64        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TxNo        string       `gorm:"column:tx_no;size:32;not null;uniqueIndex" json:"tx_no"`
	Type        enums.TxType `gorm:"column:type;size:16;not null;index" json:"type"`
	ItemID      int64        `gorm:"column:item_id;not null;index" json:"item_id"`
	WarehouseID int64        `gorm:"column:warehouse_id;not null" json:"warehouse_id"`
	// Qty is the absolute quantity moved; DeltaQty is the signed delta
	// actually applied to the balance.
	Qty       int64               `gorm:"column:qty;not null" json:"qty"`
	DeltaQty  int64               `gorm:"column:delta_qty;not null" json:"delta_qty"`
	UnitPrice decimal.NullDecimal `gorm:"column:unit_price;type:numeric(12,2)" json:"unit_price,omitempty"`
	Source    *string             `gorm:"column:source;size:256" json:"source,omitempty"`
	Target    *string             `gorm:"column:target;size:256" json:"target,omitempty"`
	// RefType/RefID/RefNo classify the business action that caused the
	// posting (for example STOCKTAKE_APPLY + stocktake id + stocktake no).
	RefType *enums.TxRefType `gorm:"column:ref_type;size:32;index" json:"ref_type,omitempty"`
	RefID   *int64           `gorm:"column:ref_id" json:"ref_id,omitempty"`
	RefNo   *string          `gorm:"column:ref_no;size:64" json:"ref_no,omitempty"`
	// IdempotencyKey de-duplicates postings; unique among non-null values.
	IdempotencyKey *string   `gorm:"column:idempotency_key;size:80;uniqueIndex" json:"idempotency_key,omitempty"`
	Remark         *string   `gorm:"column:remark;size:512" json:"remark,omitempty"`
	CreatedBy      string    `gorm:"column:created_by;size:64;not null" json:"created_by"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

// TableName matches the journal naming used by backups.
func (StockTx) TableName() string { return "stock_tx" }
